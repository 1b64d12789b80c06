package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/protocol"
	"github.com/flashbots/go-utils/httplogger"
	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
	"nhooyr.io/websocket"
)

// MaxPayloadSize bounds request bodies and notification frames.
const MaxPayloadSize = 1 << 20

// ServerConfig contains all configuration parameters for a transport server.
type ServerConfig struct {
	// ListenAddr is the address and port the server listens on. Port 0
	// picks a free port.
	ListenAddr string

	// AdvertisedAddr is the endpoint peers should use to reach this server.
	// Defaults to the bound listener address.
	AdvertisedAddr string

	// MetricsAddr is the address of the Prometheus metrics listener.
	// If empty, no metrics listener is started.
	MetricsAddr string

	// Gatherer is scraped by the metrics listener. Defaults to the
	// Prometheus default registry.
	Gatherer prometheus.Gatherer

	// EnablePprof mounts the pprof debugging API when true.
	EnablePprof bool

	// Log is the structured logger for server operations.
	Log *slog.Logger

	// DrainDuration is the time to wait after marking the server not ready.
	DrainDuration time.Duration

	// GracefulShutdownDuration bounds the wait for in-flight requests.
	GracefulShutdownDuration time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type resource struct {
	handler    protocol.Handler
	observable protocol.Observable
}

// Server serves protocol resources over HTTP and websocket observe streams.
// It implements protocol.Mux.
type Server struct {
	cfg     *ServerConfig
	isReady atomic.Bool
	log     *slog.Logger

	mu        sync.RWMutex
	resources map[string]resource

	listener   net.Listener
	addr       string
	srv        *http.Server
	metricsSrv *http.Server

	closing   chan struct{}
	closeOnce sync.Once
	observers sync.WaitGroup
}

var _ protocol.Mux = (*Server)(nil)

// New binds the listener and builds the router. Nothing is served until
// RunInBackground.
func New(cfg *ServerConfig) (*Server, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}

	addr := cfg.AdvertisedAddr
	if addr == "" {
		addr = listener.Addr().String()
	}

	srv := &Server{
		cfg:       cfg,
		log:       log.With("endpoint", addr),
		resources: make(map[string]resource),
		listener:  listener,
		addr:      addr,
		closing:   make(chan struct{}),
	}

	srv.srv = &http.Server{
		Handler:      srv.createRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if cfg.MetricsAddr != "" {
		gatherer := cfg.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		mux := chi.NewRouter()
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		srv.metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	}

	// Server is ready by default
	srv.isReady.Store(true)

	return srv, nil
}

// createRouter creates and configures the HTTP router with middleware and standard endpoints.
func (srv *Server) createRouter() http.Handler {
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)

	// Health and diagnostic endpoints
	mux.With(srv.httpLogger).Get("/livez", srv.handleLivenessCheck)
	mux.With(srv.httpLogger).Get("/readyz", srv.handleReadinessCheck)
	mux.With(srv.httpLogger).Get("/drain", srv.handleDrain)
	mux.With(srv.httpLogger).Get("/undrain", srv.handleUndrain)

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}

	// Resources come and go at runtime, so they are dispatched from our own
	// table rather than registered as chi routes.
	mux.HandleFunc("/*", srv.serveResource)

	return mux
}

// httpLogger is a middleware that logs HTTP requests using structured logging.
func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

// Handle serves path with h.
func (srv *Server) Handle(path string, h protocol.Handler) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.resources[path] = resource{handler: h}
}

// HandleObservable serves path with o and accepts observe streams on it.
func (srv *Server) HandleObservable(path string, o protocol.Observable) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.resources[path] = resource{handler: o, observable: o}
}

// Addr returns the advertised endpoint.
func (srv *Server) Addr() string {
	return srv.addr
}

func (srv *Server) lookup(path string) (resource, bool) {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	res, ok := srv.resources[path]
	return res, ok
}

func (srv *Server) serveResource(w http.ResponseWriter, r *http.Request) {
	upgrade := strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
	res, found := srv.lookup(r.URL.Path)

	if upgrade && found && res.observable != nil && r.Method == http.MethodGet {
		srv.serveObserve(w, r, res.observable)
		return
	}

	srv.httpLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !found {
			writeResponse(w, protocol.Errorf(protocol.NotFound, "no resource at %s", r.URL.Path))
			return
		}
		req, err := requestFromHTTP(r)
		if err != nil {
			writeResponse(w, protocol.Errorf(protocol.BadRequest, "%v", err))
			return
		}
		writeResponse(w, res.handler.ServeRequest(r.Context(), req))
	})).ServeHTTP(w, r)
}

func (srv *Server) serveObserve(w http.ResponseWriter, r *http.Request, obs protocol.Observable) {
	req, err := requestFromHTTP(r)
	if err != nil {
		writeResponse(w, protocol.Errorf(protocol.BadRequest, "%v", err))
		return
	}
	req.Observe = true

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		srv.log.Warn("Observe handshake failed", "path", req.Path, "peer", req.Peer, "err", err)
		return
	}

	srv.observers.Add(1)
	defer srv.observers.Done()

	changed, cancel := obs.Watch()
	defer cancel()

	// Reading is only needed to notice the peer going away.
	ctx := conn.CloseRead(r.Context())

	srv.log.Debug("Observer registered", "path", req.Path, "peer", req.Peer)
	for {
		resp := obs.ServeRequest(ctx, req)
		if err := writeFrame(ctx, conn, resp); err != nil {
			srv.log.Debug("Observer gone", "path", req.Path, "peer", req.Peer, "err", err)
			return
		}
		if !resp.Code.Success() {
			conn.Close(websocket.StatusNormalClosure, resp.Code.String())
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-srv.closing:
			conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		case _, ok := <-changed:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "resource removed")
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, resp *protocol.Response) error {
	data, err := cbor.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return conn.Write(ctx, websocket.MessageBinary, data)
}

func requestFromHTTP(r *http.Request) (*protocol.Request, error) {
	method, ok := methodFromHTTP(r.Method)
	if !ok {
		return nil, fmt.Errorf("unsupported method %s", r.Method)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > MaxPayloadSize {
		return nil, errors.New("request body too large")
	}

	peer := r.Header.Get(HeaderOriginEndpoint)
	if peer == "" {
		peer = r.RemoteAddr
	}

	return &protocol.Request{
		Method:        method,
		Path:          r.URL.Path,
		Accept:        accept(r.Header),
		ContentFormat: contentFormat(r.Header),
		Payload:       body,
		Peer:          peer,
	}, nil
}

func writeResponse(w http.ResponseWriter, resp *protocol.Response) {
	if resp == nil {
		resp = protocol.Errorf(protocol.InternalServerError, "handler returned no response")
	}
	responseHeaders(w.Header(), resp)
	w.WriteHeader(statusForCode(resp.Code))
	w.Write(resp.Payload)
}

// handleLivenessCheck provides a simple health check to verify the server is running.
func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"alive"}`))
}

// handleReadinessCheck verifies if the server is ready to accept requests.
func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not ready"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !srv.isReady.Swap(false) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"already draining"}`))
		return
	}

	srv.log.Info("Server marked as not ready")
	go func() {
		time.Sleep(srv.cfg.DrainDuration)
		srv.log.Info("Drain period completed")
	}()

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"draining"}`))
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if srv.isReady.Swap(true) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"already ready"}`))
		return
	}

	srv.log.Info("Server marked as ready")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// RunInBackground starts the transport and metrics servers in separate goroutines.
func (srv *Server) RunInBackground() {
	if srv.metricsSrv != nil {
		go func() {
			srv.log.Info("Starting metrics server", "metricsAddress", srv.cfg.MetricsAddr)
			if err := srv.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srv.log.Error("Metrics server failed", "err", err)
			}
		}()
	}

	go func() {
		srv.log.Info("Starting transport server", "listenAddress", srv.listener.Addr().String())
		if err := srv.srv.Serve(srv.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.log.Error("Transport server failed", "err", err)
		}
	}()
}

// Shutdown ends every observe stream and gracefully stops the servers.
func (srv *Server) Shutdown() {
	srv.closeOnce.Do(func() { close(srv.closing) })

	timeout := srv.cfg.GracefulShutdownDuration
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.srv.Shutdown(ctx); err != nil {
		srv.log.Error("Graceful transport server shutdown failed", "err", err)
	} else {
		srv.log.Info("Transport server gracefully stopped")
	}
	// Serve may never have run, in which case Shutdown left the listener open.
	srv.listener.Close()
	srv.observers.Wait()

	if srv.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.metricsSrv.Shutdown(ctx); err != nil {
			srv.log.Error("Graceful metrics server shutdown failed", "err", err)
		} else {
			srv.log.Info("Metrics server gracefully stopped")
		}
	}
}
