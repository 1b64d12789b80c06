package services

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

type registryEntry struct {
	*RegistrationEntry
	// endpoint is the normalised host:port used for webservice matching.
	endpoint string
}

// Registry is the proxy's directory of data origins, the SSP each one
// publishes for and the webservices discovered on it. Entries are keyed by
// normalised origin endpoint, so "host" and "host:5683" are one origin, and
// kept in registration order; there is no deletion.
type Registry struct {
	mu      sync.RWMutex
	entries []registryEntry
	byAddr  map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byAddr: make(map[string]int)}
}

func prepareEntry(entry *RegistrationEntry) (registryEntry, error) {
	addr := strings.TrimSpace(entry.OriginAddress)
	if addr == "" {
		return registryEntry{}, errors.New("registry: empty origin address")
	}
	endpoint, err := normalizeEndpoint(addr)
	if err != nil {
		return registryEntry{}, fmt.Errorf("registry: %w", err)
	}
	stored := entry.clone()
	stored.OriginAddress = addr
	return registryEntry{RegistrationEntry: stored, endpoint: endpoint}, nil
}

// Put inserts entry or replaces the entry with the same origin address. A
// replaced entry keeps its position in registration order.
func (r *Registry) Put(entry *RegistrationEntry) error {
	stored, err := prepareEntry(entry)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.byAddr[stored.endpoint]; ok {
		r.entries[i] = stored
		return nil
	}
	r.byAddr[stored.endpoint] = len(r.entries)
	r.entries = append(r.entries, stored)
	return nil
}

// Merge records a (re)registration. The SSP address is updated and already
// discovered webservices are kept.
func (r *Registry) Merge(originAddr, sspAddr string) (*RegistrationEntry, error) {
	stored, err := prepareEntry(&RegistrationEntry{OriginAddress: originAddr, SSPAddress: sspAddr})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.byAddr[stored.endpoint]; ok {
		r.entries[i].SSPAddress = sspAddr
		return r.entries[i].clone(), nil
	}
	r.byAddr[stored.endpoint] = len(r.entries)
	r.entries = append(r.entries, stored)
	return stored.clone(), nil
}

// FindByOrigin returns a copy of the entry registered under addr.
func (r *Registry) FindByOrigin(addr string) (*RegistrationEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index(addr)
	if !ok {
		return nil, false
	}
	return r.entries[i].clone(), true
}

func (r *Registry) index(addr string) (int, bool) {
	endpoint, err := normalizeEndpoint(addr)
	if err != nil {
		return 0, false
	}
	i, ok := r.byAddr[endpoint]
	return i, ok
}

// FindByWebservice scans entries in registration order and returns the
// first whose origin host and port match uri and that lists uri's path.
// Overlapping registrations resolve to the earliest one.
func (r *Registry) FindByWebservice(uri ServiceURI) (*RegistrationEntry, bool) {
	endpoint, err := normalizeEndpoint(uri.Endpoint)
	if err != nil {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.endpoint == endpoint && e.HasPath(uri.Path) {
			return e.clone(), true
		}
	}
	return nil, false
}

// AddWebservice records a discovered path on the entry registered under
// originAddr.
func (r *Registry) AddWebservice(originAddr, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index(originAddr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, originAddr)
	}
	if !r.entries[i].HasPath(path) {
		r.entries[i].WebservicePaths = append(r.entries[i].WebservicePaths, path)
	}
	return nil
}

// Entries returns copies of all entries in registration order.
func (r *Registry) Entries() []*RegistrationEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*RegistrationEntry, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.clone()
	}
	return out
}
