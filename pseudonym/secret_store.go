package pseudonym

import (
	"bytes"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
)

const (
	secretsBucket  = "secrets"
	metadataBucket = "metadata"
	versionKey     = "version"
)

// SecretStore keeps one secret per sensor identifier. Without a backing file
// secrets live in memory only.
type SecretStore struct {
	mu      sync.Mutex
	db      *bolt.DB
	secrets map[string][]byte
}

// NewMemorySecretStore returns a store that forgets its secrets on exit.
func NewMemorySecretStore() *SecretStore {
	return &SecretStore{secrets: make(map[string][]byte)}
}

// OpenSecretStore creates or loads the bbolt database at path.
func OpenSecretStore(path string) (*SecretStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open secret store: %w", err)
	}

	s := &SecretStore{db: db, secrets: make(map[string][]byte)}
	if err := db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		bkt, err := tx.CreateBucketIfNotExists([]byte(secretsBucket))
		if err != nil {
			return err
		}

		if v := meta.Get([]byte(versionKey)); v != nil {
			if !bytes.Equal(v, []byte{0}) {
				return fmt.Errorf("secret store: incompatible version %x", v)
			}
			return bkt.ForEach(func(k, v []byte) error {
				s.secrets[string(k)] = bytes.Clone(v)
				return nil
			})
		}
		return meta.Put([]byte(versionKey), []byte{0})
	}); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Get returns the secret of id, creating and persisting one on first use.
func (s *SecretStore) Get(id string) ([]byte, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if secret, ok := s.secrets[id]; ok {
		return bytes.Clone(secret), nil
	}
	secret, err := NewSecret()
	if err != nil {
		return nil, err
	}
	if err := s.put(id, secret); err != nil {
		return nil, err
	}
	return bytes.Clone(secret), nil
}

// Set replaces the secret of id, e.g. with one shared out of band.
func (s *SecretStore) Set(id string, secret []byte) error {
	if id == "" || len(secret) == 0 {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(id, bytes.Clone(secret))
}

func (s *SecretStore) put(id string, secret []byte) error {
	if s.db != nil {
		if err := s.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket([]byte(secretsBucket)).Put([]byte(id), secret)
		}); err != nil {
			return fmt.Errorf("persist secret: %w", err)
		}
	}
	s.secrets[id] = secret
	return nil
}

// Close flushes and closes the backing database, if any.
func (s *SecretStore) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Sync(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}
