package services

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/protocol"
	"go.uber.org/atomic"
)

// Resource is an observable resource holding the latest opaque payload.
// Every Update overwrites the previous payload and wakes all observers.
type Resource struct {
	mu       sync.Mutex
	payload  []byte
	format   protocol.ContentFormat
	lifetime uint32
	hasData  bool
	watchers map[chan struct{}]struct{}
}

var _ protocol.Observable = (*Resource)(nil)

// NewResource creates an empty resource.
func NewResource() *Resource {
	return &Resource{
		format:   protocol.NoFormat,
		watchers: make(map[chan struct{}]struct{}),
	}
}

// Update stores payload, tagged with format and valid for lifetime seconds.
func (r *Resource) Update(format protocol.ContentFormat, payload []byte, lifetime uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.payload = bytes.Clone(payload)
	r.format = format
	r.lifetime = lifetime
	r.hasData = true

	for ch := range r.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Snapshot returns the stored payload and whether any was set.
func (r *Resource) Snapshot() (protocol.ContentFormat, []byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.format, bytes.Clone(r.payload), r.hasData
}

// ServeRequest answers GET with the latest payload. Before the first update
// the answer is Content with an empty body.
func (r *Resource) ServeRequest(_ context.Context, req *protocol.Request) *protocol.Response {
	if req.Method != protocol.GET {
		return protocol.Errorf(protocol.MethodNotAllowed, "method %s not allowed, use GET", req.Method)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasData {
		return protocol.NewResponse(protocol.Content)
	}
	if !req.Accepts(r.format) {
		return protocol.Errorf(protocol.NotAcceptable, "representation is %s", r.format)
	}

	resp := protocol.NewResponse(protocol.Content)
	resp.ContentFormat = r.format
	resp.MaxAge = r.lifetime
	resp.Payload = bytes.Clone(r.payload)
	return resp
}

// Watch registers an observer.
func (r *Resource) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	r.mu.Lock()
	r.watchers[ch] = struct{}{}
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		delete(r.watchers, ch)
		r.mu.Unlock()
	}
}

// Observers returns the number of registered observers.
func (r *Resource) Observers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}

// ForwardingChannel republishes relayed envelopes for one SSP.
type ForwardingChannel struct {
	*Resource

	Path       string
	SSPAddress string

	noticeClaimed   atomic.Bool
	registeredAtSSP atomic.Bool
}

// RegisteredAtSSP reports whether the SSP accepted the channel.
func (c *ForwardingChannel) RegisteredAtSSP() bool {
	return c.registeredAtSSP.Load()
}

// claimNotification returns true for exactly one caller. The claim covers
// the notice in flight, its re-arms and its success.
func (c *ForwardingChannel) claimNotification() bool {
	return c.noticeClaimed.CompareAndSwap(false, true)
}

func (c *ForwardingChannel) markRegistered() {
	c.registeredAtSSP.Store(true)
}

// ChannelSet holds one forwarding channel per SSP. Paths are assigned from
// creation order: /forwarding/1, /forwarding/2 and so on.
type ChannelSet struct {
	mu       sync.RWMutex
	channels []*ForwardingChannel
	bySSP    map[string]*ForwardingChannel
	mux      protocol.Mux
}

// NewChannelSet creates an empty set publishing new channels on mux.
func NewChannelSet(mux protocol.Mux) *ChannelSet {
	return &ChannelSet{bySSP: make(map[string]*ForwardingChannel), mux: mux}
}

// Ensure returns the channel for sspAddr, creating it if needed. created is
// true only for the call that created it.
func (s *ChannelSet) Ensure(sspAddr string) (ch *ForwardingChannel, created bool, err error) {
	key, err := normalizeEndpoint(sspAddr)
	if err != nil {
		return nil, false, fmt.Errorf("forwarding channel: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.bySSP[key]; ok {
		return ch, false, nil
	}

	ch = &ForwardingChannel{
		Resource:   NewResource(),
		Path:       fmt.Sprintf("%s/%d", ForwardingPath, len(s.channels)+1),
		SSPAddress: key,
	}
	s.channels = append(s.channels, ch)
	s.bySSP[key] = ch
	if s.mux != nil {
		s.mux.HandleObservable(ch.Path, ch)
	}
	return ch, true, nil
}

// ForSSP returns the channel of sspAddr.
func (s *ChannelSet) ForSSP(sspAddr string) (*ForwardingChannel, bool) {
	key, err := normalizeEndpoint(sspAddr)
	if err != nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.bySSP[key]
	return ch, ok
}

// Channels returns all channels in creation order.
func (s *ChannelSet) Channels() []*ForwardingChannel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*ForwardingChannel(nil), s.channels...)
}
