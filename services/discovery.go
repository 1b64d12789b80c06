package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/protocol"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// EngineConfig configures a discovery and observation engine.
type EngineConfig struct {
	Client protocol.Client

	// Events receives every event the engine raises. Sends block, so the
	// consumer sets the pace.
	Events chan<- Event

	// MaxConcurrentRequests bounds outstanding directory requests and
	// subscription handshakes. Defaults to 8.
	MaxConcurrentRequests int64

	// RequestTimeout bounds a directory request and an observe handshake.
	// Defaults to 10s.
	RequestTimeout time.Duration

	// IdleTimeout ends a subscription that delivered nothing for this long.
	// Zero disables the check.
	IdleTimeout time.Duration

	Log *slog.Logger
}

type subscription struct {
	id     uuid.UUID
	uri    ServiceURI
	cancel context.CancelFunc
}

// Engine discovers resources in peer directories and keeps observe
// subscriptions on them, one goroutine per subscription.
type Engine struct {
	client      protocol.Client
	events      chan<- Event
	sem         *semaphore.Weighted
	timeout     time.Duration
	idleTimeout time.Duration
	log         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	subs map[ServiceURI]*subscription
}

// NewEngine creates an engine. Close releases every subscription.
func NewEngine(cfg *EngineConfig) *Engine {
	maxRequests := cfg.MaxConcurrentRequests
	if maxRequests <= 0 {
		maxRequests = 8
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		client:      cfg.Client,
		events:      cfg.Events,
		sem:         semaphore.NewWeighted(maxRequests),
		timeout:     timeout,
		idleTimeout: cfg.IdleTimeout,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
		subs:        make(map[ServiceURI]*subscription),
	}
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	case <-e.ctx.Done():
	}
}

// Discover fetches the directory of peer and resolves every listed resource
// against it. Malformed entries are skipped.
func (e *Engine) Discover(ctx context.Context, peer string) ([]ServiceURI, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDiscoveryFailed, peer, err)
	}
	defer e.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Do(ctx, peer, &protocol.Request{
		Method: protocol.GET,
		Path:   protocol.WellKnownCore,
		Accept: []protocol.ContentFormat{protocol.LinkFormat},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDiscoveryFailed, peer, err)
	}
	if !resp.Code.Success() {
		return nil, fmt.Errorf("%w: %s answered %s: %s", ErrDiscoveryFailed, peer, resp.Code, resp.Payload)
	}

	links, skipped := protocol.ParseLinkFormat(string(resp.Payload))
	for _, entry := range skipped {
		e.log.Warn("Skipping malformed directory entry", "peer", peer, "entry", entry)
	}

	seen := make(map[string]bool, len(links))
	var uris []ServiceURI
	for _, l := range links {
		if l.Path == protocol.WellKnownCore || seen[l.Path] {
			continue
		}
		seen[l.Path] = true
		uris = append(uris, ServiceURI{Endpoint: peer, Path: l.Path})
	}
	return uris, nil
}

// StartDiscovery runs Discover in the background and raises one
// ServiceDiscovered per resource, or DiscoveryFailed.
func (e *Engine) StartDiscovery(origin string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		uris, err := e.Discover(e.ctx, origin)
		if err != nil {
			e.log.Warn("Discovery failed", "origin", origin, "err", err)
			e.emit(DiscoveryFailed{Origin: origin, Err: err})
			return
		}
		e.log.Info("Discovered services", "origin", origin, "count", len(uris))
		for _, uri := range uris {
			e.emit(ServiceDiscovered{Origin: origin, URI: uri})
		}
	}()
}

// Observe starts a subscription on uri. It returns false if one is
// already running.
func (e *Engine) Observe(uri ServiceURI) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx.Err() != nil {
		return false
	}
	if _, ok := e.subs[uri]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(e.ctx)
	sub := &subscription{id: uuid.New(), uri: uri, cancel: cancel}
	e.subs[uri] = sub
	activeSubscriptions.Inc()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := e.run(ctx, sub)
		cancel()

		e.mu.Lock()
		if e.subs[uri] == sub {
			delete(e.subs, uri)
		}
		e.mu.Unlock()
		activeSubscriptions.Dec()

		e.emit(SubscriptionEnded{URI: uri, Err: err})
	}()
	return true
}

func (e *Engine) run(ctx context.Context, sub *subscription) error {
	log := e.log.With("subscription", sub.id.String(), "uri", sub.uri.String())

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	// The stream lives as long as the subscription, but the handshake must
	// finish within the request timeout so the pool slot is released.
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()
	handshake := time.AfterFunc(e.timeout, cancelStream)
	stream, err := e.client.Observe(streamCtx, sub.uri.Endpoint, &protocol.Request{
		Method:  protocol.GET,
		Path:    sub.uri.Path,
		Accept:  protocol.EncryptedFormats,
		Observe: true,
	})
	timedOut := !handshake.Stop()
	e.sem.Release(1)
	if timedOut && ctx.Err() == nil {
		err = fmt.Errorf("%w: observe handshake with %s exceeded %s", ErrSubscriptionTimeout, sub.uri, e.timeout)
	}
	if err != nil {
		log.Warn("Observe request failed", "err", err)
		return err
	}
	log.Info("Observing")

	var idle <-chan time.Time
	var timer *time.Timer
	if e.idleTimeout > 0 {
		timer = time.NewTimer(e.idleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("Subscription stopped")
			return ctx.Err()

		case <-idle:
			log.Warn("Subscription idle", "err", ErrSubscriptionTimeout)
			return ErrSubscriptionTimeout

		case resp, ok := <-stream:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn("Subscription ended by peer", "err", ErrSubscriptionTimeout)
				return ErrSubscriptionTimeout
			}
			if timer != nil {
				timer.Reset(e.idleTimeout)
			}

			if !resp.Code.Success() {
				log.Warn("Subscription ended with error code", "code", resp.Code.String(), "body", string(resp.Payload))
				return fmt.Errorf("%s answered %s", sub.uri, resp.Code)
			}
			if len(resp.Payload) == 0 {
				// No data yet.
				continue
			}
			if !resp.ContentFormat.Encrypted() {
				log.Warn("Dropping notification with unexpected content format", "format", resp.ContentFormat.String())
				updatesDropped.WithLabelValues(dropUnsupported).Inc()
				continue
			}

			e.emit(UpdateReceived{
				URI:           sub.uri,
				ContentFormat: resp.ContentFormat,
				Payload:       bytes.Clone(resp.Payload),
				MaxAge:        resp.MaxAge,
			})
		}
	}
}

// Stop cancels the subscription on uri, if any.
func (e *Engine) Stop(uri ServiceURI) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub, ok := e.subs[uri]
	if !ok {
		return false
	}
	delete(e.subs, uri)
	sub.cancel()
	return true
}

// Subscriptions lists the running subscriptions.
func (e *Engine) Subscriptions() []ServiceURI {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]ServiceURI, 0, len(e.subs))
	for uri := range e.subs {
		out = append(out, uri)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Close stops all subscriptions and waits for their goroutines.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// isStopped reports whether err marks a deliberately ended subscription.
func isStopped(err error) bool {
	return errors.Is(err, context.Canceled)
}
