package services

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/crypto"
	"github.com/Sebastian-Fischer/PrivIoT-sub000/envelope"
	"github.com/Sebastian-Fischer/PrivIoT-sub000/protocol"
)

// SSPConfig configures a smart service proxy.
type SSPConfig struct {
	Mux      protocol.Mux
	Client   protocol.Client
	Identity *NodeIdentity

	// Sink receives decrypted readings. Defaults to a MemorySink.
	Sink Sink

	MaxConcurrentRequests int64
	IdleTimeout           time.Duration

	// PurgeInterval is how often expired readings are deleted from an
	// ExpiringSink. Defaults to 5m.
	PurgeInterval time.Duration

	// Now defaults to time.Now.
	Now func() time.Time

	Log *slog.Logger
}

// SSP is the recipient of relayed envelopes. It hands out its certificate,
// observes the forwarding channels announced to it and stores every
// decrypted reading in its sink.
type SSP struct {
	identity *NodeIdentity
	sink     Sink
	engine   *Engine
	events   chan Event
	dir      *Directory
	now      func() time.Time
	purge    time.Duration
	log      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewSSP creates an SSP and serves its resources on cfg.Mux. Start begins
// consuming relayed updates.
func NewSSP(cfg *SSPConfig) *SSP {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("role", "ssp")

	sink := cfg.Sink
	if sink == nil {
		sink = NewMemorySink(0)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	purge := cfg.PurgeInterval
	if purge <= 0 {
		purge = 5 * time.Minute
	}

	events := make(chan Event, 64)
	s := &SSP{
		identity: cfg.Identity,
		sink:     sink,
		events:   events,
		dir:      NewDirectory(),
		now:      now,
		purge:    purge,
		log:      log,
		done:     make(chan struct{}),
		engine: NewEngine(&EngineConfig{
			Client:                cfg.Client,
			Events:                events,
			MaxConcurrentRequests: cfg.MaxConcurrentRequests,
			IdleTimeout:           cfg.IdleTimeout,
			Log:                   log,
		}),
	}

	cfg.Mux.Handle(CertificatePath, &CertificateHandler{Identity: cfg.Identity})
	cfg.Mux.Handle(RegistryPath, protocol.HandlerFunc(s.handleRegistry))
	cfg.Mux.Handle(protocol.WellKnownCore, s.dir)
	s.dir.Add(CertificatePath, map[string]string{"ct": strconv.Itoa(int(protocol.Certificate))})
	s.dir.Add(RegistryPath, nil)
	return s
}

// Sink returns the sink readings are stored in.
func (s *SSP) Sink() Sink {
	return s.sink
}

// Observed lists the forwarding channels currently observed.
func (s *SSP) Observed() []ServiceURI {
	return s.engine.Subscriptions()
}

// handleRegistry accepts the announcement of a forwarding channel. The body
// is the channel path on the announcing peer.
func (s *SSP) handleRegistry(_ context.Context, req *protocol.Request) *protocol.Response {
	if req.Method != protocol.POST {
		return protocol.Errorf(protocol.MethodNotAllowed, "method %s not allowed, register a forwarding channel with POST", req.Method)
	}
	path := strings.TrimSpace(string(req.Payload))
	if !strings.HasPrefix(path, "/") {
		return protocol.Errorf(protocol.BadRequest, "registration body must be an absolute resource path")
	}
	if req.Peer == "" {
		return protocol.Errorf(protocol.BadRequest, "sender endpoint unknown")
	}

	uri := ServiceURI{Endpoint: req.Peer, Path: path}
	if !s.engine.Observe(uri) {
		s.log.Debug("Channel already observed", "uri", uri.String())
		return protocol.NewResponse(protocol.Changed)
	}
	s.log.Info("Observing forwarding channel", "uri", uri.String())
	return protocol.NewResponse(protocol.Created)
}

// Start consumes updates until Close.
func (s *SSP) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		defer close(s.done)

		// A nil channel never fires, so sinks without expiry skip the purge.
		var purgeTick <-chan time.Time
		expiring, ok := s.sink.(ExpiringSink)
		if ok {
			ticker := time.NewTicker(s.purge)
			defer ticker.Stop()
			purgeTick = ticker.C
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-purgeTick:
				s.purgeExpired(ctx, expiring)
			case ev := <-s.events:
				switch ev := ev.(type) {
				case UpdateReceived:
					s.consume(ctx, ev)
				case SubscriptionEnded:
					if !isStopped(ev.Err) {
						s.log.Warn("Forwarding channel subscription ended", "uri", ev.URI.String(), "err", ev.Err)
					}
				}
			}
		}
	}()
}

func (s *SSP) purgeExpired(ctx context.Context, sink ExpiringSink) {
	n, err := sink.PurgeExpired(ctx)
	if err != nil {
		s.log.Warn("Purging expired readings failed", "err", err)
		return
	}
	if n > 0 {
		s.log.Debug("Purged expired readings", "count", n)
	}
}

// consume decrypts one relayed envelope and stores the reading. Failures
// drop only this update.
func (s *SSP) consume(ctx context.Context, ev UpdateReceived) {
	env, err := envelope.Decode(ev.Payload)
	if err != nil {
		updatesDropped.WithLabelValues(dropEnvelopeParse).Inc()
		s.log.Warn("Dropping undecodable envelope", "uri", ev.URI.String(), "err", err)
		return
	}

	plaintext, err := crypto.DecryptWithPrivateKey(env, s.identity.PrivateKey)
	if err != nil {
		updatesDropped.WithLabelValues(dropDecryption).Inc()
		s.log.Warn("Dropping undecryptable envelope", "uri", ev.URI.String(), "err", err)
		return
	}
	readingsDecrypted.Inc()

	reading := &Reading{
		Pseudonym: env.PseudonymOrOriginURI,
		Format:    ev.ContentFormat,
		Payload:   plaintext,
		Received:  s.now(),
		Lifetime:  time.Duration(env.ContentLifetime) * time.Second,
	}
	if err := s.sink.Store(ctx, reading); err != nil {
		updatesDropped.WithLabelValues(dropSink).Inc()
		s.log.Error("Could not store reading", "pseudonym", reading.Pseudonym, "err", err)
		return
	}
	s.log.Debug("Stored reading", "pseudonym", reading.Pseudonym, "bytes", len(plaintext))
}

// Close stops observing and waits for the consumer.
func (s *SSP) Close() {
	s.once.Do(func() {
		s.engine.Close()
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
	})
}
