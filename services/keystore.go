package services

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

// KeyStore holds the public keys learned from peers, keyed by peer address.
type KeyStore struct {
	mu      sync.RWMutex
	records map[string]PublicKeyRecord
}

// NewKeyStore creates an empty key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{records: make(map[string]PublicKeyRecord)}
}

// Put stores rec, replacing any record of the same peer.
func (k *KeyStore) Put(rec PublicKeyRecord) {
	rec.PublicKey = bytes.Clone(rec.PublicKey)

	k.mu.Lock()
	defer k.mu.Unlock()
	k.records[rec.PeerAddress] = rec
}

// Get returns the record of peer.
func (k *KeyStore) Get(peer string) (PublicKeyRecord, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	rec, ok := k.records[peer]
	return rec, ok
}

// Len returns the number of stored records.
func (k *KeyStore) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.records)
}

// Single returns the only stored record. A data origin encrypts for exactly
// one recipient, so zero or several records are errors.
func (k *KeyStore) Single() (PublicKeyRecord, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	switch len(k.records) {
	case 0:
		return PublicKeyRecord{}, ErrNoRecipient
	case 1:
		for _, rec := range k.records {
			return rec, nil
		}
	}

	peers := make([]string, 0, len(k.records))
	for p := range k.records {
		peers = append(peers, p)
	}
	sort.Strings(peers)
	return PublicKeyRecord{}, fmt.Errorf("%w: %v", ErrAmbiguousRecipient, peers)
}
