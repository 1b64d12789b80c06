package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/protocol"
	"github.com/bluele/gcache"
)

// Reading is one decrypted sensor reading as handed to the downstream cache.
type Reading struct {
	Pseudonym string
	// Format is the encrypted content format the reading arrived in.
	Format   protocol.ContentFormat
	Payload  []byte
	Received time.Time
	// Lifetime is the content lifetime announced by the origin. Zero means
	// the reading does not expire.
	Lifetime time.Duration
}

// Expired reports whether the reading's lifetime has passed at now.
func (r *Reading) Expired(now time.Time) bool {
	return r.Lifetime > 0 && now.After(r.Received.Add(r.Lifetime))
}

// Sink receives the SSP's decrypted readings, keyed by pseudonym.
type Sink interface {
	// Store replaces the latest reading of r.Pseudonym.
	Store(ctx context.Context, r *Reading) error

	// Latest returns the unexpired reading of pseudonym.
	Latest(ctx context.Context, pseudonym string) (*Reading, bool, error)

	Close() error
}

// ExpiringSink is a Sink that keeps expired readings until purged.
type ExpiringSink interface {
	Sink
	PurgeExpired(ctx context.Context) (int64, error)
}

// MemorySink keeps the latest reading per pseudonym in an LRU cache and
// expires it after its content lifetime.
type MemorySink struct {
	cache gcache.Cache
}

var _ Sink = (*MemorySink)(nil)

// DefaultMemorySinkSize bounds the number of pseudonyms a MemorySink holds.
const DefaultMemorySinkSize = 4096

// NewMemorySink creates a sink holding at most size pseudonyms.
func NewMemorySink(size int) *MemorySink {
	if size <= 0 {
		size = DefaultMemorySinkSize
	}
	return &MemorySink{cache: gcache.New(size).LRU().Build()}
}

func (s *MemorySink) Store(_ context.Context, r *Reading) error {
	stored := *r
	stored.Payload = bytes.Clone(r.Payload)

	if r.Lifetime > 0 {
		return s.cache.SetWithExpire(r.Pseudonym, &stored, r.Lifetime)
	}
	return s.cache.Set(r.Pseudonym, &stored)
}

func (s *MemorySink) Latest(_ context.Context, pseudonym string) (*Reading, bool, error) {
	v, err := s.cache.Get(pseudonym)
	if errors.Is(err, gcache.KeyNotFoundError) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("memory sink: %w", err)
	}
	r := *v.(*Reading)
	r.Payload = bytes.Clone(r.Payload)
	return &r, true, nil
}

func (s *MemorySink) Close() error {
	s.cache.Purge()
	return nil
}
