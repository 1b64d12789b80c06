package transport

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/protocol"
	"github.com/stretchr/testify/require"
)

// counter is an observable resource holding a single value.
type counter struct {
	mu       sync.Mutex
	value    string
	watchers map[chan struct{}]struct{}
}

func newCounter() *counter {
	return &counter{watchers: make(map[chan struct{}]struct{})}
}

func (c *counter) set(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	for ch := range c.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (c *counter) ServeRequest(_ context.Context, req *protocol.Request) *protocol.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == "gone" {
		return protocol.Errorf(protocol.NotFound, "gone")
	}
	resp := protocol.NewResponse(protocol.Content)
	resp.ContentFormat = protocol.TextPlain
	resp.MaxAge = 30
	resp.Payload = []byte(c.value)
	return resp
}

func (c *counter) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.watchers[ch] = struct{}{}
	c.mu.Unlock()
	return ch, func() {
		c.mu.Lock()
		delete(c.watchers, ch)
		c.mu.Unlock()
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(&ServerConfig{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	srv.RunInBackground()
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestDo_Exchange(t *testing.T) {
	srv := newTestServer(t)

	var got *protocol.Request
	srv.Handle("/registry", protocol.HandlerFunc(func(_ context.Context, req *protocol.Request) *protocol.Response {
		got = req
		return protocol.NewResponse(protocol.Created)
	}))

	client := NewClient("origin.example:5683", nil)
	resp, err := client.Do(context.Background(), srv.Addr(), &protocol.Request{
		Method:        protocol.POST,
		Path:          "/registry",
		ContentFormat: protocol.TextPlain,
		Accept:        []protocol.ContentFormat{protocol.TextPlain},
		Payload:       []byte("ssp.example:5683"),
	})
	require.NoError(t, err)
	require.Equal(t, protocol.Created, resp.Code)

	require.NotNil(t, got)
	require.Equal(t, protocol.POST, got.Method)
	require.Equal(t, "origin.example:5683", got.Peer)
	require.Equal(t, protocol.TextPlain, got.ContentFormat)
	require.Equal(t, []protocol.ContentFormat{protocol.TextPlain}, got.Accept)
	require.Equal(t, []byte("ssp.example:5683"), got.Payload)
}

func TestDo_HeadersRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	srv.Handle("/certificate", protocol.HandlerFunc(func(_ context.Context, req *protocol.Request) *protocol.Response {
		resp := protocol.NewResponse(protocol.Content)
		resp.ContentFormat = protocol.Certificate
		resp.MaxAge = 7
		resp.Payload = []byte("Y2VydA==")
		return resp
	}))

	resp, err := NewClient("", nil).Do(context.Background(), srv.Addr(), &protocol.Request{Method: protocol.GET, Path: "/certificate"})
	require.NoError(t, err)
	require.Equal(t, protocol.Content, resp.Code)
	require.Equal(t, protocol.Certificate, resp.ContentFormat)
	require.EqualValues(t, 7, resp.MaxAge)
	require.Equal(t, []byte("Y2VydA=="), resp.Payload)
}

func TestDo_NotFoundAndPeerFallback(t *testing.T) {
	srv := newTestServer(t)

	var peer string
	srv.Handle("/whoami", protocol.HandlerFunc(func(_ context.Context, req *protocol.Request) *protocol.Response {
		peer = req.Peer
		return protocol.NewResponse(protocol.Valid)
	}))

	client := NewClient("", nil)
	resp, err := client.Do(context.Background(), srv.Addr(), &protocol.Request{Method: protocol.GET, Path: "/missing"})
	require.NoError(t, err)
	require.Equal(t, protocol.NotFound, resp.Code)

	resp, err = client.Do(context.Background(), srv.Addr(), &protocol.Request{Method: protocol.GET, Path: "/whoami"})
	require.NoError(t, err)
	require.Equal(t, protocol.Valid, resp.Code)
	require.Contains(t, peer, "127.0.0.1:")
}

func TestDo_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := NewClient("", nil).Do(ctx, "127.0.0.1:1", &protocol.Request{Method: protocol.GET, Path: "/"})
	require.Error(t, err)
}

func TestObserve_Notifications(t *testing.T) {
	srv := newTestServer(t)
	res := newCounter()
	res.set("1")
	srv.HandleObservable("/forwarding/0", res)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := NewClient("proxy.example:1", nil).Observe(ctx, srv.Addr(), &protocol.Request{
		Method: protocol.GET,
		Path:   "/forwarding/0",
		Accept: []protocol.ContentFormat{protocol.TextPlain},
	})
	require.NoError(t, err)

	first := <-stream
	require.Equal(t, protocol.Content, first.Code)
	require.Equal(t, protocol.TextPlain, first.ContentFormat)
	require.EqualValues(t, 30, first.MaxAge)
	require.Equal(t, []byte("1"), first.Payload)

	res.set("2")
	second := <-stream
	require.Equal(t, []byte("2"), second.Payload)

	// An error notification ends the stream.
	res.set("gone")
	last := <-stream
	require.Equal(t, protocol.NotFound, last.Code)
	_, open := <-stream
	require.False(t, open)
}

func TestObserve_NotObservable(t *testing.T) {
	srv := newTestServer(t)
	srv.Handle("/.well-known/core", protocol.HandlerFunc(func(_ context.Context, req *protocol.Request) *protocol.Response {
		resp := protocol.NewResponse(protocol.Content)
		resp.ContentFormat = protocol.LinkFormat
		resp.Payload = []byte("</temperature>")
		return resp
	}))

	stream, err := NewClient("", nil).Observe(context.Background(), srv.Addr(), &protocol.Request{Method: protocol.GET, Path: "/.well-known/core"})
	require.NoError(t, err)

	only := <-stream
	require.Equal(t, protocol.Content, only.Code)
	require.Equal(t, []byte("</temperature>"), only.Payload)
	_, open := <-stream
	require.False(t, open)
}

func TestObserve_CancelReleasesWatcher(t *testing.T) {
	srv := newTestServer(t)
	res := newCounter()
	srv.HandleObservable("/sensor", res)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := NewClient("", nil).Observe(ctx, srv.Addr(), &protocol.Request{Method: protocol.GET, Path: "/sensor"})
	require.NoError(t, err)
	<-stream
	cancel()

	for range stream {
	}
	require.Eventually(t, func() bool {
		res.mu.Lock()
		defer res.mu.Unlock()
		return len(res.watchers) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	get := func(path string) (int, string) {
		resp, err := http.Get("http://" + srv.Addr() + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	code, _ := get("/livez")
	require.Equal(t, http.StatusOK, code)

	code, _ = get("/readyz")
	require.Equal(t, http.StatusOK, code)

	_, body := get("/drain")
	require.Contains(t, body, "draining")
	code, _ = get("/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)

	_, body = get("/undrain")
	require.Contains(t, body, "ready")
	code, _ = get("/readyz")
	require.Equal(t, http.StatusOK, code)
}

func TestHeaderMapping(t *testing.T) {
	code, err := parseCode("4.06")
	require.NoError(t, err)
	require.Equal(t, protocol.NotAcceptable, code)

	_, err = parseCode("x")
	require.Error(t, err)

	require.Equal(t, protocol.NotAcceptable, codeForStatus(http.StatusNotAcceptable))
	require.Equal(t, protocol.Content, codeForStatus(http.StatusOK))
	require.Equal(t, http.StatusGatewayTimeout, statusForCode(protocol.GatewayTimeout))

	h := make(http.Header)
	h.Set("Accept", "application/x-privacy-package+xml, */*;q=0.1, application/x-encrypted-n3")
	require.Equal(t, []protocol.ContentFormat{protocol.PrivacyPackageXML, protocol.EncryptedN3}, accept(h))

	h.Set("Cache-Control", "no-cache, max-age=12")
	require.EqualValues(t, 12, maxAge(h))
	h.Del("Cache-Control")
	require.EqualValues(t, protocol.DefaultMaxAge, maxAge(h))
}
