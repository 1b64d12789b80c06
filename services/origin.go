package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/crypto"
	"github.com/Sebastian-Fischer/PrivIoT-sub000/envelope"
	"github.com/Sebastian-Fischer/PrivIoT-sub000/protocol"
	"github.com/Sebastian-Fischer/PrivIoT-sub000/pseudonym"
	"github.com/cenkalti/backoff/v4"
)

// OriginConfig configures a data origin.
type OriginConfig struct {
	Mux    protocol.Mux
	Client protocol.Client

	// ProxyAddr is the origin-side endpoint of the privacy proxy.
	ProxyAddr string
	// SSPAddr is the SSP readings are encrypted for. It is sent to the
	// proxy as the registration body.
	SSPAddr string

	// Secrets holds the per-sensor pseudonym secrets. Defaults to an
	// in-memory store.
	Secrets *pseudonym.SecretStore
	// Pseudonyms defaults to pseudonym.Default.
	Pseudonyms *pseudonym.Generator
	// PseudonymWindow is the rotation period of pseudonyms. Defaults to 1h.
	PseudonymWindow time.Duration

	// SymmetricAlgorithm is the content cipher code. Defaults to "AES-128".
	SymmetricAlgorithm string
	// Legacy publishes the legacy envelope schema.
	Legacy bool
	// ContentLifetime is announced with every reading. Defaults to 60s.
	ContentLifetime time.Duration

	AllowInvalidCertificates bool

	// StartTimeout bounds the retries of Start. Defaults to one minute.
	StartTimeout time.Duration

	Log *slog.Logger
}

type sensor struct {
	path     string
	uri      string
	format   protocol.ContentFormat
	resource *Resource
}

// DataOrigin publishes encrypted, pseudonymised sensor readings as
// observable resources.
type DataOrigin struct {
	cfg   OriginConfig
	keys  *KeyStore
	trust *TrustBootstrap
	dir   *Directory
	log   *slog.Logger

	mu      sync.RWMutex
	sensors map[string]*sensor
}

// NewDataOrigin creates an origin and serves its directory on cfg.Mux.
func NewDataOrigin(cfg *OriginConfig) *DataOrigin {
	c := *cfg
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.Secrets == nil {
		c.Secrets = pseudonym.NewMemorySecretStore()
	}
	if c.Pseudonyms == nil {
		c.Pseudonyms = pseudonym.Default
	}
	if c.PseudonymWindow <= 0 {
		c.PseudonymWindow = time.Hour
	}
	if c.SymmetricAlgorithm == "" {
		c.SymmetricAlgorithm = crypto.DefaultParameters.AlgorithmCode()
	}
	if c.ContentLifetime <= 0 {
		c.ContentLifetime = protocol.DefaultMaxAge * time.Second
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = time.Minute
	}

	keys := NewKeyStore()
	o := &DataOrigin{
		cfg:  c,
		keys: keys,
		trust: &TrustBootstrap{
			Client:                   c.Client,
			KeyStore:                 keys,
			AllowInvalidCertificates: c.AllowInvalidCertificates,
			Log:                      c.Log,
		},
		dir:     NewDirectory(),
		log:     c.Log.With("role", "origin"),
		sensors: make(map[string]*sensor),
	}
	c.Mux.Handle(protocol.WellKnownCore, o.dir)
	return o
}

// Keys returns the origin's recipient key store.
func (o *DataOrigin) Keys() *KeyStore {
	return o.keys
}

// AddSensor serves a sensor resource at /name publishing readings in the
// encrypted format of the given serialization language.
func (o *DataOrigin) AddSensor(name, serialization string) error {
	name = strings.Trim(name, "/")
	if name == "" {
		return fmt.Errorf("empty sensor name")
	}
	format, err := protocol.FormatForSerialization(serialization)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.sensors[name]; ok {
		return fmt.Errorf("sensor %q already exists", name)
	}
	s := &sensor{
		path:     "/" + name,
		format:   format,
		resource: NewResource(),
	}
	s.uri = ServiceURI{Endpoint: o.cfg.Mux.Addr(), Path: s.path}.String()
	o.sensors[name] = s

	o.cfg.Mux.HandleObservable(s.path, s.resource)
	o.dir.Add(s.path, observableAttrs(format))
	o.log.Info("Added sensor", "uri", s.uri, "format", format.String())
	return nil
}

// Start fetches the SSP's certificate and then registers with the proxy.
// Both steps are retried with exponential backoff.
func (o *DataOrigin) Start(ctx context.Context) error {
	bootstrap := func() error {
		_, err := o.trust.BootstrapRecipient(ctx, o.cfg.SSPAddr)
		if err != nil {
			o.log.Warn("Certificate bootstrap failed", "ssp", o.cfg.SSPAddr, "err", err)
		}
		return err
	}
	if err := backoff.Retry(bootstrap, o.newBackOff(ctx)); err != nil {
		return fmt.Errorf("bootstrap recipient %s: %w", o.cfg.SSPAddr, err)
	}

	if err := backoff.Retry(func() error { return o.register(ctx) }, o.newBackOff(ctx)); err != nil {
		return fmt.Errorf("register with proxy %s: %w", o.cfg.ProxyAddr, err)
	}
	o.log.Info("Registered with proxy", "proxy", o.cfg.ProxyAddr, "ssp", o.cfg.SSPAddr)
	return nil
}

func (o *DataOrigin) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = o.cfg.StartTimeout
	return backoff.WithContext(b, ctx)
}

func (o *DataOrigin) register(ctx context.Context) error {
	resp, err := o.cfg.Client.Do(ctx, o.cfg.ProxyAddr, &protocol.Request{
		Method:        protocol.POST,
		Path:          RegistryPath,
		ContentFormat: protocol.TextPlain,
		Payload:       []byte(o.cfg.SSPAddr),
	})
	if err != nil {
		o.log.Warn("Registration failed", "proxy", o.cfg.ProxyAddr, "err", err)
		return err
	}
	if !resp.Code.Success() {
		return backoff.Permanent(fmt.Errorf("proxy answered %s: %s", resp.Code, resp.Payload))
	}
	return nil
}

// Publish encrypts reading for the single known recipient under the
// sensor's current pseudonym and makes it the sensor's new state. A failed
// publish loses the reading.
func (o *DataOrigin) Publish(_ context.Context, name string, reading []byte) error {
	o.mu.RLock()
	s, ok := o.sensors[strings.Trim(name, "/")]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown sensor %q", name)
	}

	rec, err := o.keys.Single()
	if err != nil {
		return err
	}

	secret, err := o.cfg.Secrets.Get(s.uri)
	if err != nil {
		return fmt.Errorf("pseudonym secret: %w", err)
	}
	pseudo, err := o.cfg.Pseudonyms.Generate(s.uri, o.cfg.PseudonymWindow, secret)
	if err != nil {
		return err
	}

	params, err := crypto.ParametersForRecipient(o.cfg.SymmetricAlgorithm, rec.PublicKey)
	if err != nil {
		return err
	}

	lifetime := int(o.cfg.ContentLifetime / time.Second)
	encrypt := crypto.EncryptForRecipient
	if o.cfg.Legacy {
		encrypt = crypto.EncryptLegacyForRecipient
	}
	env, err := encrypt(reading, pseudo, lifetime, rec.PublicKey, params)
	if err != nil {
		return err
	}
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}

	s.resource.Update(s.format, data, uint32(lifetime))
	readingsPublished.Inc()
	o.log.Debug("Published reading", "sensor", s.uri, "bytes", len(data))
	return nil
}
