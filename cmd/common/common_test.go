package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/crypto"
	"github.com/Sebastian-Fischer/PrivIoT-sub000/services"
	"github.com/stretchr/testify/require"
)

func TestParseConfigYAML(t *testing.T) {
	data := []byte(`
log:
  level: debug
origin:
  proxy_addr: "10.0.0.1:5683"
  pseudonym_window: 30m
  sensors:
    - name: temperature
      serialization: TURTLE
ssp:
  algorithm: ECIES
  key_bits: 256
  postgres:
    host: db
    port: 5432
`)
	cfg, err := ParseConfig(data, ".yaml")
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "10.0.0.1:5683", cfg.Origin.ProxyAddr)
	require.Equal(t, 30*time.Minute, cfg.Origin.PseudonymWindow)
	require.Equal(t, []SensorConfig{{Name: "temperature", Serialization: "TURTLE"}}, cfg.Origin.Sensors)
	require.Equal(t, "ECIES", cfg.SSP.Algorithm)
	require.NotNil(t, cfg.SSP.Postgres)
	require.Equal(t, "db", cfg.SSP.Postgres.Host)

	// Untouched fields keep their defaults.
	require.Equal(t, DefaultConfig().Proxy, cfg.Proxy)
	require.Equal(t, time.Minute, cfg.Origin.ContentLifetime)
}

func TestParseConfigTOML(t *testing.T) {
	data := []byte(`
[proxy]
origin_listen_addr = "0.0.0.0:5683"
notify_retries = 5
idle_timeout = "90s"
renotify_interval = "1m"

[[origin.sensors]]
name = "humidity"
serialization = "N3"
`)
	cfg, err := ParseConfig(data, ".toml")
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:5683", cfg.Proxy.OriginListenAddr)
	require.Equal(t, uint64(5), cfg.Proxy.NotifyRetries)
	require.Equal(t, 90*time.Second, cfg.Proxy.IdleTimeout)
	require.Equal(t, time.Minute, cfg.Proxy.RenotifyInterval)
	require.Equal(t, []SensorConfig{{Name: "humidity", Serialization: "N3"}}, cfg.Origin.Sensors)
}

func TestParseConfigErrors(t *testing.T) {
	_, err := ParseConfig([]byte(`[proxy]
unknown_key = 1
`), ".toml")
	require.ErrorContains(t, err, "undecoded")

	_, err = ParseConfig([]byte("{}"), ".json")
	require.ErrorContains(t, err, "unsupported config format")

	_, err = ParseConfig([]byte("proxy: [unterminated"), ".yml")
	require.Error(t, err)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yml")
	require.NoError(t, os.WriteFile(path, []byte("ssp:\n  listen_addr: \"127.0.0.1:9999\"\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", cfg.SSP.ListenAddr)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "failed to load config file")
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: "warn", JSON: true})
	require.NoError(t, err)

	_, err = NewLogger(LogConfig{Level: "loud"})
	require.Error(t, err)
}

func TestLoadOrGenerateIdentity(t *testing.T) {
	dir := t.TempDir()
	cfg := &SSPConfig{
		CertFile:     filepath.Join(dir, "ssp.crt"),
		KeyFile:      filepath.Join(dir, "ssp.key"),
		Algorithm:    "rsa",
		KeyBits:      1024,
		CertValidity: time.Hour,
	}

	generated, err := LoadOrGenerateIdentity(cfg, "ssp")
	require.NoError(t, err)
	require.FileExists(t, cfg.CertFile)
	require.FileExists(t, cfg.KeyFile)

	loaded, err := LoadOrGenerateIdentity(cfg, "ssp")
	require.NoError(t, err)
	require.Equal(t, generated.Certificate.Raw, loaded.Certificate.Raw)

	alg, bits, err := crypto.AlgorithmFromKey(loaded.PrivateKey)
	require.NoError(t, err)
	require.Equal(t, crypto.RSA, alg)
	require.Equal(t, 1024, bits)
}

func TestLoadOrGenerateIdentityHalfPresent(t *testing.T) {
	dir := t.TempDir()
	cfg := &SSPConfig{
		CertFile:  filepath.Join(dir, "ssp.crt"),
		KeyFile:   filepath.Join(dir, "ssp.key"),
		Algorithm: "RSA",
		KeyBits:   1024,
	}
	require.NoError(t, os.WriteFile(cfg.CertFile, []byte("stale"), 0o600))

	_, err := LoadOrGenerateIdentity(cfg, "ssp")
	require.ErrorContains(t, err, "only one of")
}

func TestLoadOrGenerateIdentityInMemory(t *testing.T) {
	identity, err := LoadOrGenerateIdentity(&SSPConfig{Algorithm: "ECIES", KeyBits: 256, CertValidity: time.Hour}, "ssp")
	require.NoError(t, err)
	require.Equal(t, "ssp", identity.Certificate.Subject.CommonName)

	_, err = LoadOrGenerateIdentity(&SSPConfig{Algorithm: "Blowfish", KeyBits: 128}, "ssp")
	require.ErrorIs(t, err, crypto.ErrUnsupportedAlgorithm)
}

func TestNewSinkDefaultsToMemory(t *testing.T) {
	sink, err := NewSink(&SSPConfig{SinkSize: 8})
	require.NoError(t, err)
	require.IsType(t, &services.MemorySink{}, sink)
	require.NoError(t, sink.Close())
}
