package protocol

import (
	"context"
)

// Handler answers a single request for a resource.
type Handler interface {
	// ServeRequest returns the response for req. It must not return nil.
	ServeRequest(ctx context.Context, req *Request) *Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *Request) *Response

// ServeRequest calls f(ctx, req).
func (f HandlerFunc) ServeRequest(ctx context.Context, req *Request) *Response {
	return f(ctx, req)
}

// Observable is a resource that notifies observers when its state changes.
// A transport serving an observe request sends the current representation,
// then a fresh ServeRequest result every time the watch channel fires.
type Observable interface {
	Handler

	// Watch registers an observer. The returned channel receives a value
	// whenever the resource changes; cancel releases the registration.
	Watch() (changed <-chan struct{}, cancel func())
}

// Client issues requests to remote peers. Destinations are host:port
// endpoints as advertised by the peer.
type Client interface {
	// Do performs a single request/response exchange.
	Do(ctx context.Context, dest string, req *Request) (*Response, error)

	// Observe starts an observe subscription on dest. The returned channel
	// yields every notification in transport order and is closed when the
	// subscription ends, either because ctx is cancelled or the peer goes away.
	Observe(ctx context.Context, dest string, req *Request) (<-chan *Response, error)
}

// Mux registers handlers on a listening endpoint.
type Mux interface {
	// Handle serves path with h.
	Handle(path string, h Handler)

	// HandleObservable serves path with o, accepting observe requests.
	HandleObservable(path string, o Observable)

	// Addr returns the advertised endpoint of this listener.
	Addr() string
}
