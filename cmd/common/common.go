// Package common provides shared utilities for the privacyrelay commands.
//
// It contains the configuration file model and the helpers every role needs:
//
//   - Loading the configuration from YAML or TOML
//   - Loading or generating the SSP's certificate and private key
//   - Building the logger and the SSP's reading sink
package common

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Sebastian-Fischer/PrivIoT-sub000/crypto"
	"github.com/Sebastian-Fischer/PrivIoT-sub000/services"
	"gopkg.in/yaml.v3"
)

// Config is the configuration file of every role. Only the section of the
// role being run is read.
type Config struct {
	Log    LogConfig    `yaml:"log" toml:"log"`
	Proxy  ProxyConfig  `yaml:"proxy" toml:"proxy"`
	Origin OriginConfig `yaml:"origin" toml:"origin"`
	SSP    SSPConfig    `yaml:"ssp" toml:"ssp"`
}

// LogConfig selects the log output.
type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
	JSON  bool   `yaml:"json" toml:"json"`
}

// ProxyConfig configures the privacy proxy. The proxy listens twice: once
// for data origins and once for SSPs.
type ProxyConfig struct {
	OriginListenAddr     string `yaml:"origin_listen_addr" toml:"origin_listen_addr"`
	OriginAdvertisedAddr string `yaml:"origin_advertised_addr" toml:"origin_advertised_addr"`
	SSPListenAddr        string `yaml:"ssp_listen_addr" toml:"ssp_listen_addr"`
	SSPAdvertisedAddr    string `yaml:"ssp_advertised_addr" toml:"ssp_advertised_addr"`
	MetricsAddr          string `yaml:"metrics_addr" toml:"metrics_addr"`

	MaxConcurrentRequests int64         `yaml:"max_concurrent_requests" toml:"max_concurrent_requests"`
	RequestTimeout        time.Duration `yaml:"request_timeout" toml:"request_timeout"`
	IdleTimeout           time.Duration `yaml:"idle_timeout" toml:"idle_timeout"`
	NotifyRetries         uint64        `yaml:"notify_retries" toml:"notify_retries"`
	RenotifyInterval      time.Duration `yaml:"renotify_interval" toml:"renotify_interval"`
}

// SensorConfig declares one sensor of a data origin.
type SensorConfig struct {
	Name          string `yaml:"name" toml:"name"`
	Serialization string `yaml:"serialization" toml:"serialization"`
}

// OriginConfig configures a data origin.
type OriginConfig struct {
	ListenAddr     string `yaml:"listen_addr" toml:"listen_addr"`
	AdvertisedAddr string `yaml:"advertised_addr" toml:"advertised_addr"`
	MetricsAddr    string `yaml:"metrics_addr" toml:"metrics_addr"`

	ProxyAddr string `yaml:"proxy_addr" toml:"proxy_addr"`
	SSPAddr   string `yaml:"ssp_addr" toml:"ssp_addr"`

	Sensors []SensorConfig `yaml:"sensors" toml:"sensors"`

	// SecretsFile persists pseudonym secrets. Empty keeps them in memory.
	SecretsFile     string        `yaml:"secrets_file" toml:"secrets_file"`
	PseudonymWindow time.Duration `yaml:"pseudonym_window" toml:"pseudonym_window"`

	SymmetricAlgorithm       string        `yaml:"symmetric_algorithm" toml:"symmetric_algorithm"`
	Legacy                   bool          `yaml:"legacy" toml:"legacy"`
	ContentLifetime          time.Duration `yaml:"content_lifetime" toml:"content_lifetime"`
	AllowInvalidCertificates bool          `yaml:"allow_invalid_certificates" toml:"allow_invalid_certificates"`
	StartTimeout             time.Duration `yaml:"start_timeout" toml:"start_timeout"`
}

// SSPConfig configures a smart service proxy.
type SSPConfig struct {
	ListenAddr     string `yaml:"listen_addr" toml:"listen_addr"`
	AdvertisedAddr string `yaml:"advertised_addr" toml:"advertised_addr"`
	MetricsAddr    string `yaml:"metrics_addr" toml:"metrics_addr"`

	// CertFile and KeyFile hold the PEM identity. Missing files are
	// generated with Algorithm and KeyBits and written back.
	CertFile     string        `yaml:"cert_file" toml:"cert_file"`
	KeyFile      string        `yaml:"key_file" toml:"key_file"`
	Algorithm    string        `yaml:"algorithm" toml:"algorithm"`
	KeyBits      int           `yaml:"key_bits" toml:"key_bits"`
	CertValidity time.Duration `yaml:"cert_validity" toml:"cert_validity"`

	MaxConcurrentRequests int64         `yaml:"max_concurrent_requests" toml:"max_concurrent_requests"`
	IdleTimeout           time.Duration `yaml:"idle_timeout" toml:"idle_timeout"`

	// SinkSize bounds the in-memory sink. Ignored when Postgres is set.
	SinkSize int                      `yaml:"sink_size" toml:"sink_size"`
	Postgres *services.PostgresConfig `yaml:"postgres" toml:"postgres"`
	// PurgeInterval applies to sinks that keep expired rows.
	PurgeInterval time.Duration `yaml:"purge_interval" toml:"purge_interval"`
}

// DefaultConfig returns a configuration running all roles on localhost.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Proxy: ProxyConfig{
			OriginListenAddr: "127.0.0.1:5683",
			SSPListenAddr:    "127.0.0.1:5684",
			RequestTimeout:   10 * time.Second,
			IdleTimeout:      2 * time.Minute,
			NotifyRetries:    3,
			RenotifyInterval: 30 * time.Second,
		},
		Origin: OriginConfig{
			ListenAddr:         "127.0.0.1:5685",
			ProxyAddr:          "127.0.0.1:5683",
			SSPAddr:            "127.0.0.1:5686",
			Sensors:            []SensorConfig{{Name: "sensor1", Serialization: "RDF/XML"}},
			PseudonymWindow:    time.Hour,
			SymmetricAlgorithm: crypto.DefaultParameters.AlgorithmCode(),
			ContentLifetime:    time.Minute,
			StartTimeout:       time.Minute,
		},
		SSP: SSPConfig{
			ListenAddr:    "127.0.0.1:5686",
			Algorithm:     string(crypto.DefaultParameters.AsymmetricAlgorithm),
			KeyBits:       crypto.DefaultParameters.AsymmetricKeyBits,
			CertValidity:  365 * 24 * time.Hour,
			IdleTimeout:   2 * time.Minute,
			SinkSize:      services.DefaultMemorySinkSize,
			PurgeInterval: 5 * time.Minute,
		},
	}
}

// LoadConfig reads path over the defaults. Files ending in .toml are TOML,
// .yaml and .yml are YAML.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %q: %w", path, err)
	}
	return ParseConfig(data, filepath.Ext(path))
}

// ParseConfig decodes data in the format named by ext over the defaults.
func ParseConfig(data []byte, ext string) (*Config, error) {
	cfg := DefaultConfig()
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("parse TOML config: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) != 0 {
			return nil, fmt.Errorf("config: undecoded keys %v", undecoded)
		}
	case "yaml", "yml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse YAML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	return cfg, nil
}

// NewLogger builds the process logger and installs it as the default.
func NewLogger(cfg LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	log := slog.New(handler)
	slog.SetDefault(log)
	return log, nil
}

// LoadOrGenerateIdentity reads the SSP identity from its PEM files. When
// neither file exists a new identity is generated and, if paths are set,
// written to them.
func LoadOrGenerateIdentity(cfg *SSPConfig, commonName string) (*services.NodeIdentity, error) {
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		certPEM, certErr := os.ReadFile(cfg.CertFile)
		keyPEM, keyErr := os.ReadFile(cfg.KeyFile)
		switch {
		case certErr == nil && keyErr == nil:
			return services.ParseNodeIdentity(certPEM, keyPEM)
		case !errors.Is(certErr, fs.ErrNotExist) && certErr != nil:
			return nil, fmt.Errorf("read certificate: %w", certErr)
		case !errors.Is(keyErr, fs.ErrNotExist) && keyErr != nil:
			return nil, fmt.Errorf("read private key: %w", keyErr)
		case (certErr == nil) != (keyErr == nil):
			return nil, fmt.Errorf("only one of %s and %s exists", cfg.CertFile, cfg.KeyFile)
		}
	}

	alg := crypto.ParseAlgorithm(cfg.Algorithm)
	identity, err := services.NewNodeIdentity(commonName, alg, cfg.KeyBits, cfg.CertValidity)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return identity, nil
	}

	certPEM, keyPEM, err := identity.MarshalPEM()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(cfg.CertFile, certPEM, 0o644); err != nil {
		return nil, fmt.Errorf("write certificate: %w", err)
	}
	if err := os.WriteFile(cfg.KeyFile, keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	return identity, nil
}

// NewSink returns the SSP's reading sink.
func NewSink(cfg *SSPConfig) (services.Sink, error) {
	if cfg.Postgres != nil {
		return services.NewPostgresSink(cfg.Postgres)
	}
	return services.NewMemorySink(cfg.SinkSize), nil
}
