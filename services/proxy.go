package services

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/protocol"
)

// ProxyConfig configures a privacy proxy. The proxy listens twice: once
// for data origins and once for SSPs, so an SSP only ever learns the
// proxy's SSP-side endpoint.
type ProxyConfig struct {
	OriginMux protocol.Mux
	SSPMux    protocol.Mux

	// OriginClient discovers and observes data origins.
	OriginClient protocol.Client
	// SSPClient announces forwarding channels to SSPs.
	SSPClient protocol.Client

	MaxConcurrentRequests int64
	RequestTimeout        time.Duration
	IdleTimeout           time.Duration
	NotifyRetries         uint64
	RenotifyInterval      time.Duration

	Log *slog.Logger
}

// Proxy relays encrypted sensor data from data origins to SSPs without
// being able to read it.
type Proxy struct {
	registry *Registry
	channels *ChannelSet
	engine   *Engine
	router   *Router
	events   chan Event
	log      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewProxy creates a proxy and serves its resources on both muxes. Start
// begins routing.
func NewProxy(cfg *ProxyConfig) *Proxy {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("role", "proxy")

	events := make(chan Event, 256)
	registry := NewRegistry()
	channels := NewChannelSet(cfg.SSPMux)
	engine := NewEngine(&EngineConfig{
		Client:                cfg.OriginClient,
		Events:                events,
		MaxConcurrentRequests: cfg.MaxConcurrentRequests,
		RequestTimeout:        cfg.RequestTimeout,
		IdleTimeout:           cfg.IdleTimeout,
		Log:                   log,
	})

	p := &Proxy{
		registry: registry,
		channels: channels,
		engine:   engine,
		events:   events,
		log:      log,
		done:     make(chan struct{}),
		router: NewRouter(&RouterConfig{
			Registry:         registry,
			Channels:         channels,
			Engine:           engine,
			SSPClient:        cfg.SSPClient,
			Events:           events,
			NotifyTimeout:    cfg.RequestTimeout,
			NotifyRetries:    cfg.NotifyRetries,
			RenotifyInterval: cfg.RenotifyInterval,
			Log:              log,
		}),
	}

	originDir := NewDirectory()
	originDir.Add(RegistryPath, nil)
	cfg.OriginMux.Handle(RegistryPath, protocol.HandlerFunc(p.handleRegistration))
	cfg.OriginMux.Handle(protocol.WellKnownCore, originDir)

	cfg.SSPMux.Handle(protocol.WellKnownCore, protocol.HandlerFunc(p.serveChannelDirectory))
	return p
}

func (p *Proxy) Registry() *Registry         { return p.registry }
func (p *Proxy) Channels() *ChannelSet       { return p.channels }
func (p *Proxy) Router() *Router             { return p.router }
func (p *Proxy) Subscriptions() []ServiceURI { return p.engine.Subscriptions() }

// handleRegistration turns a data origin's registration request into a
// RegistrationReceived event. The body names the SSP; an empty body names
// the sender itself.
func (p *Proxy) handleRegistration(ctx context.Context, req *protocol.Request) *protocol.Response {
	if req.Method != protocol.POST {
		return protocol.Errorf(protocol.MethodNotAllowed, "method %s not allowed, register with POST and the SSP address as body", req.Method)
	}
	if req.Peer == "" {
		return protocol.Errorf(protocol.BadRequest, "sender endpoint unknown")
	}
	ssp := strings.TrimSpace(string(req.Payload))
	if ssp == "" {
		ssp = req.Peer
	}
	if _, err := normalizeEndpoint(ssp); err != nil {
		return protocol.Errorf(protocol.BadRequest, "invalid SSP address: %v", err)
	}

	select {
	case p.events <- RegistrationReceived{Origin: req.Peer, SSP: ssp}:
	case <-ctx.Done():
		return protocol.Errorf(protocol.ServiceUnavailable, "registration not accepted: %v", ctx.Err())
	case <-p.done:
		return protocol.Errorf(protocol.ServiceUnavailable, "proxy is shutting down")
	}
	p.log.Info("Registration received", "origin", req.Peer, "ssp", ssp)
	return protocol.NewResponse(protocol.Created)
}

// serveChannelDirectory lists the forwarding channels on the SSP side.
func (p *Proxy) serveChannelDirectory(_ context.Context, req *protocol.Request) *protocol.Response {
	dir := NewDirectory()
	for _, ch := range p.channels.Channels() {
		format, _, _ := ch.Snapshot()
		dir.Add(ch.Path, observableAttrs(format))
	}
	return dir.ServeRequest(context.Background(), req)
}

// Start runs the router until Close.
func (p *Proxy) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go func() {
		defer close(p.done)
		p.router.Run(ctx)
	}()
}

// Close stops every subscription and outstanding notice, then the router.
func (p *Proxy) Close() {
	p.once.Do(func() {
		p.engine.Close()
		p.router.Close()
		if p.cancel != nil {
			p.cancel()
			<-p.done
		}
	})
}
