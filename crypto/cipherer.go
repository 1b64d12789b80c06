package crypto

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedAlgorithm is returned for algorithm names or key sizes
	// that no registered cipherer implements.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrInvalidKey is returned when key material cannot be parsed for the
	// target algorithm.
	ErrInvalidKey = errors.New("invalid key")

	// ErrUnknownAlgorithmCode is returned when a compact algorithm code such
	// as "AES-128" does not name a registered symmetric cipher.
	ErrUnknownAlgorithmCode = errors.New("unknown algorithm code")

	// ErrNoKey is returned when a cipherer is used before a key is set.
	ErrNoKey = errors.New("no key set")
)

// EnvelopeDecryptionError wraps whatever step of envelope decryption failed.
type EnvelopeDecryptionError struct {
	Err error
}

func (e *EnvelopeDecryptionError) Error() string {
	return fmt.Sprintf("envelope decryption failed: %v", e.Err)
}

func (e *EnvelopeDecryptionError) Unwrap() error {
	return e.Err
}

// Algorithm names a cipher. Only the constants below are registered.
type Algorithm string

const (
	AES     Algorithm = "AES"
	RSA     Algorithm = "RSA"
	ElGamal Algorithm = "ElGamal"
	ECIES   Algorithm = "ECIES"
)

// ParseAlgorithm resolves a case-insensitive algorithm name. Unknown names are
// returned verbatim so callers can surface them in ErrUnsupportedAlgorithm.
func ParseAlgorithm(name string) Algorithm {
	for _, a := range []Algorithm{AES, RSA, ElGamal, ECIES} {
		if strings.EqualFold(string(a), strings.TrimSpace(name)) {
			return a
		}
	}
	return Algorithm(name)
}

// Cipherer is the contract shared by all registered ciphers.
type Cipherer interface {
	Algorithm() Algorithm
	// KeyBits returns the configured key size.
	KeyBits() int
	// Initialize selects the key size. It fails with ErrUnsupportedAlgorithm
	// for sizes the algorithm does not support.
	Initialize(keyBits int) error
	// GenerateKey creates fresh key material for the configured size.
	GenerateKey() error
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// SymmetricCipherer is a block cipher with raw key and IV import/export.
type SymmetricCipherer interface {
	Cipherer
	Key() []byte
	SetKey(key []byte) error
	IV() []byte
	SetIV(iv []byte) error
}

// AsymmetricCipherer is a public key cipher with key import/export.
type AsymmetricCipherer interface {
	Cipherer
	PublicKey() ([]byte, error)
	SetPublicKey(der []byte) error
	PrivateKey() ([]byte, error)
	SetPrivateKey(der []byte) error
}

var symmetricCipherers = map[Algorithm]func() SymmetricCipherer{
	AES: func() SymmetricCipherer { return &aesCipherer{} },
}

var asymmetricCipherers = map[Algorithm]func() AsymmetricCipherer{
	RSA:     func() AsymmetricCipherer { return &rsaCipherer{} },
	ElGamal: func() AsymmetricCipherer { return &elgamalCipherer{} },
	ECIES:   func() AsymmetricCipherer { return &eciesCipherer{} },
}

// NewSymmetric returns a fresh cipherer for a, or false if a is not a
// registered symmetric algorithm.
func NewSymmetric(a Algorithm) (SymmetricCipherer, bool) {
	ctor, ok := symmetricCipherers[a]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// NewAsymmetric returns a fresh cipherer for a, or false if a is not a
// registered asymmetric algorithm.
func NewAsymmetric(a Algorithm) (AsymmetricCipherer, bool) {
	ctor, ok := asymmetricCipherers[a]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

func unsupportedSize(a Algorithm, bits int) error {
	return fmt.Errorf("%w: %s with %d bit keys", ErrUnsupportedAlgorithm, a, bits)
}
