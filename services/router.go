package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/protocol"
	"github.com/cenkalti/backoff/v4"
)

// OriginState is the relay progress of one data origin. States only move
// forward.
type OriginState int

const (
	StateUnregistered OriginState = iota
	StateRegistered
	StateSSPNotified
	StateServicesDiscovered
	StateObserving
	StateRelaying
)

func (s OriginState) String() string {
	switch s {
	case StateUnregistered:
		return "UNREGISTERED"
	case StateRegistered:
		return "REGISTERED"
	case StateSSPNotified:
		return "SSP_NOTIFIED"
	case StateServicesDiscovered:
		return "SERVICES_DISCOVERED"
	case StateObserving:
		return "OBSERVING"
	case StateRelaying:
		return "RELAYING"
	}
	return fmt.Sprintf("OriginState(%d)", int(s))
}

// RouterConfig wires a router to the proxy's stores and collaborators.
type RouterConfig struct {
	Registry *Registry
	Channels *ChannelSet
	Engine   *Engine

	// SSPClient sends registration notices to SSPs. It must originate from
	// the SSP-side listener so the SSP observes the right endpoint.
	SSPClient protocol.Client

	// Events is consumed by Run and fed by the engine, the origin-side
	// registry handler and the router's own notices.
	Events chan Event

	// NotifyTimeout bounds one registration notice. Defaults to 10s.
	NotifyTimeout time.Duration

	// NotifyRetries is the number of immediate retries of a notice that
	// failed with a transport error or a 5.xx answer. 4.xx answers are not
	// retried immediately.
	NotifyRetries uint64

	// NotifyRetryInterval is the first pause between immediate retries.
	// Defaults to 500ms.
	NotifyRetryInterval time.Duration

	// RenotifyInterval is the first delay before a failed notice is sent
	// again. Later delays grow up to 32 times this value. Defaults to 30s.
	RenotifyInterval time.Duration

	Log *slog.Logger
}

// Router is the single consumer of relay events. It owns the registration
// state machine and republishes every update, unchanged, on the forwarding
// channel of the origin's SSP.
type Router struct {
	registry  *Registry
	channels  *ChannelSet
	engine    *Engine
	sspClient protocol.Client
	events    chan Event
	timeout   time.Duration
	retries   uint64
	retryWait time.Duration
	renotify  time.Duration
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// pending maps a channel path to the origins waiting for its notice
	// and rearm to the delays of failed notices. Only touched from the
	// consuming goroutine.
	pending map[string][]string
	rearm   map[string]*backoff.ExponentialBackOff

	mu     sync.RWMutex
	states map[string]OriginState
}

// NewRouter creates a router. Run starts consuming.
func NewRouter(cfg *RouterConfig) *Router {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.NotifyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retryWait := cfg.NotifyRetryInterval
	if retryWait <= 0 {
		retryWait = 500 * time.Millisecond
	}
	renotify := cfg.RenotifyInterval
	if renotify <= 0 {
		renotify = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		registry:  cfg.Registry,
		channels:  cfg.Channels,
		engine:    cfg.Engine,
		sspClient: cfg.SSPClient,
		events:    cfg.Events,
		timeout:   timeout,
		retries:   cfg.NotifyRetries,
		retryWait: retryWait,
		renotify:  renotify,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[string][]string),
		rearm:     make(map[string]*backoff.ExponentialBackOff),
		states:    make(map[string]OriginState),
	}
}

// Run consumes events until ctx is done, Close is called or the event
// channel is closed.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.ctx.Done():
			return
		case ev, ok := <-r.events:
			if !ok {
				return
			}
			r.handle(ev)
		}
	}
}

// Close aborts outstanding notices and waits for them.
func (r *Router) Close() {
	r.cancel()
	r.wg.Wait()
}

// State returns the relay progress of origin.
func (r *Router) State(origin string) OriginState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.states[origin]
}

func (r *Router) advance(origin string, s OriginState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states[origin] < s {
		r.states[origin] = s
	}
}

func (r *Router) handle(ev Event) {
	switch ev := ev.(type) {
	case RegistrationReceived:
		r.onRegistration(ev)
	case SSPNotified:
		r.onSSPNotified(ev)
	case ServiceDiscovered:
		r.onServiceDiscovered(ev)
	case DiscoveryFailed:
		r.log.Warn("Origin registered without services", "origin", ev.Origin, "err", ev.Err)
	case UpdateReceived:
		if err := r.relay(ev); err != nil {
			r.log.Warn("Dropping update", "uri", ev.URI.String(), "err", err)
		}
	case SubscriptionEnded:
		if isStopped(ev.Err) {
			r.log.Debug("Subscription stopped", "uri", ev.URI.String())
		} else {
			r.log.Warn("Subscription ended", "uri", ev.URI.String(), "err", ev.Err)
		}
	default:
		r.log.Error("Unexpected event", "type", fmt.Sprintf("%T", ev))
	}
}

func (r *Router) onRegistration(ev RegistrationReceived) {
	registrationsReceived.Inc()

	entry, err := r.registry.Merge(ev.Origin, ev.SSP)
	if err != nil {
		r.log.Warn("Rejecting registration", "origin", ev.Origin, "ssp", ev.SSP, "err", err)
		return
	}
	r.advance(entry.OriginAddress, StateRegistered)

	ch, created, err := r.channels.Ensure(entry.SSPAddress)
	if err != nil {
		r.log.Warn("No forwarding channel for registration", "origin", ev.Origin, "ssp", ev.SSP, "err", err)
		return
	}
	if created {
		r.log.Info("Created forwarding channel", "path", ch.Path, "ssp", ch.SSPAddress)
	}

	if waiting, inFlight := r.pending[ch.Path]; inFlight {
		if !slices.Contains(waiting, entry.OriginAddress) {
			r.pending[ch.Path] = append(waiting, entry.OriginAddress)
		}
		return
	}
	if !ch.claimNotification() {
		// The SSP already observes this channel.
		r.advance(entry.OriginAddress, StateSSPNotified)
		r.engine.StartDiscovery(entry.OriginAddress)
		return
	}

	r.pending[ch.Path] = []string{entry.OriginAddress}
	r.sendNotice(ch, entry.OriginAddress, 0)
}

// sendNotice announces ch to its SSP after delay and reports the outcome
// as SSPNotified.
func (r *Router) sendNotice(ch *ForwardingChannel, origin string, delay time.Duration) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-r.ctx.Done():
				return
			}
		}
		err := r.notifySSP(ch)
		select {
		case r.events <- SSPNotified{Origin: origin, Channel: ch.Path, Err: err}:
		case <-r.ctx.Done():
		}
	}()
}

// notifySSP announces ch to its SSP with a registration request whose body
// is the channel path. Transport errors and 5.xx answers are retried.
func (r *Router) notifySSP(ch *ForwardingChannel) error {
	op := func() error {
		ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
		defer cancel()

		resp, err := r.sspClient.Do(ctx, ch.SSPAddress, &protocol.Request{
			Method:        protocol.POST,
			Path:          RegistryPath,
			ContentFormat: protocol.TextPlain,
			Payload:       []byte(ch.Path),
		})
		if err != nil {
			return err
		}
		if !resp.Code.Success() {
			err := fmt.Errorf("SSP %s answered %s: %s", ch.SSPAddress, resp.Code, resp.Payload)
			if resp.Code.Class() == 4 {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.retryWait
	b := backoff.WithContext(backoff.WithMaxRetries(eb, r.retries), r.ctx)
	return backoff.Retry(op, b)
}

func (r *Router) onSSPNotified(ev SSPNotified) {
	ch := r.channelByPath(ev.Channel)
	if ch == nil {
		delete(r.pending, ev.Channel)
		return
	}

	if ev.Err != nil {
		b, ok := r.rearm[ev.Channel]
		if !ok {
			b = backoff.NewExponentialBackOff()
			b.InitialInterval = r.renotify
			b.MaxInterval = 32 * r.renotify
			b.MaxElapsedTime = 0
			b.Reset()
			r.rearm[ev.Channel] = b
		}
		delay := b.NextBackOff()
		r.log.Warn("Could not notify SSP, origins stay registered until the notice succeeds",
			"channel", ev.Channel, "origins", r.pending[ev.Channel], "retry_in", delay, "err", ev.Err)
		r.sendNotice(ch, ev.Origin, delay)
		return
	}

	origins := r.pending[ev.Channel]
	delete(r.pending, ev.Channel)
	delete(r.rearm, ev.Channel)
	ch.markRegistered()

	r.log.Info("Notified SSP", "channel", ev.Channel, "origins", origins)
	for _, origin := range origins {
		r.advance(origin, StateSSPNotified)
		r.engine.StartDiscovery(origin)
	}
}

func (r *Router) channelByPath(path string) *ForwardingChannel {
	for _, ch := range r.channels.Channels() {
		if ch.Path == path {
			return ch
		}
	}
	return nil
}

func (r *Router) onServiceDiscovered(ev ServiceDiscovered) {
	if err := r.registry.AddWebservice(ev.Origin, ev.URI.Path); err != nil {
		r.log.Warn("Discarding discovered service", "origin", ev.Origin, "uri", ev.URI.String(), "err", err)
		return
	}
	r.advance(ev.Origin, StateServicesDiscovered)

	if r.engine.Observe(ev.URI) {
		r.advance(ev.Origin, StateObserving)
	}
}

// relay republishes the payload of ev on the forwarding channel of the
// owning origin's SSP. The payload is never inspected.
func (r *Router) relay(ev UpdateReceived) error {
	entry, ok := r.registry.FindByWebservice(ev.URI)
	if !ok {
		updatesDropped.WithLabelValues(dropUnknownPeer).Inc()
		return fmt.Errorf("%w: no origin serves %s", ErrUnknownPeer, ev.URI)
	}
	ch, ok := r.channels.ForSSP(entry.SSPAddress)
	if !ok {
		updatesDropped.WithLabelValues(dropNoChannel).Inc()
		return fmt.Errorf("no forwarding channel for SSP %s", entry.SSPAddress)
	}

	ch.Update(ev.ContentFormat, ev.Payload, ev.MaxAge)
	updatesRelayed.Inc()
	r.advance(entry.OriginAddress, StateRelaying)
	return nil
}
