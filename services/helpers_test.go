package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/protocol"
	"github.com/Sebastian-Fischer/PrivIoT-sub000/transport"
	"github.com/stretchr/testify/require"
)

// fakeClient answers from canned responses and hands out test controlled
// observe streams, both keyed by dest+path.
type fakeClient struct {
	mu        sync.Mutex
	responses map[string]*protocol.Response
	streams   map[string]chan *protocol.Response
	hanging   map[string]bool
	queued    map[string][]*protocol.Response
	requests  []recordedRequest
}

type recordedRequest struct {
	dest string
	req  *protocol.Request
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		responses: make(map[string]*protocol.Response),
		streams:   make(map[string]chan *protocol.Response),
		hanging:   make(map[string]bool),
		queued:    make(map[string][]*protocol.Response),
	}
}

func (c *fakeClient) respond(dest, path string, resp *protocol.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[dest+path] = resp
}

func (c *fakeClient) stream(dest, path string) chan *protocol.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan *protocol.Response, 16)
	c.streams[dest+path] = ch
	return ch
}

// respondOnce queues answers for dest+path that are used, in order, before
// the canned response.
func (c *fakeClient) respondOnce(dest, path string, resps ...*protocol.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queued[dest+path] = append(c.queued[dest+path], resps...)
}

// hang makes observe handshakes on dest+path block until their context ends.
func (c *fakeClient) hang(dest, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hanging[dest+path] = true
}

func (c *fakeClient) recorded(path string) []recordedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []recordedRequest
	for _, r := range c.requests {
		if r.req.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (c *fakeClient) Do(_ context.Context, dest string, req *protocol.Request) (*protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, recordedRequest{dest: dest, req: req})
	if q := c.queued[dest+req.Path]; len(q) > 0 {
		c.queued[dest+req.Path] = q[1:]
		return q[0], nil
	}
	resp, ok := c.responses[dest+req.Path]
	if !ok {
		return nil, fmt.Errorf("dial %s: connection refused", dest)
	}
	return resp, nil
}

func (c *fakeClient) Observe(ctx context.Context, dest string, req *protocol.Request) (<-chan *protocol.Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, recordedRequest{dest: dest, req: req})
	in, ok := c.streams[dest+req.Path]
	hanging := c.hanging[dest+req.Path]
	c.mu.Unlock()
	if hanging {
		<-ctx.Done()
		return nil, fmt.Errorf("observe %s%s: %w", dest, req.Path, ctx.Err())
	}
	if !ok {
		return nil, fmt.Errorf("observe %s%s: connection refused", dest, req.Path)
	}

	out := make(chan *protocol.Response)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- resp:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// fakeMux records registered handlers.
type fakeMux struct {
	mu       sync.Mutex
	addr     string
	handlers map[string]protocol.Handler
}

func newFakeMux(addr string) *fakeMux {
	return &fakeMux{addr: addr, handlers: make(map[string]protocol.Handler)}
}

func (m *fakeMux) Handle(path string, h protocol.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = h
}

func (m *fakeMux) HandleObservable(path string, o protocol.Observable) {
	m.Handle(path, o)
}

func (m *fakeMux) Addr() string { return m.addr }

func (m *fakeMux) handler(path string) (protocol.Handler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handlers[path]
	return h, ok
}

func content(format protocol.ContentFormat, payload string) *protocol.Response {
	resp := protocol.NewResponse(protocol.Content)
	resp.ContentFormat = format
	resp.Payload = []byte(payload)
	return resp
}

// newNode starts a transport server on a free local port and returns it
// with a client that advertises the server's endpoint.
func newNode(t *testing.T) (*transport.Server, *transport.Client) {
	t.Helper()
	srv, err := transport.New(&transport.ServerConfig{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	srv.RunInBackground()
	t.Cleanup(srv.Shutdown)
	return srv, transport.NewClient(srv.Addr(), nil)
}
