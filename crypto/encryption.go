package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// EncryptedMessage contains ECIES-encrypted data.
// Format: ephemeral pubkey (65 bytes) || nonce (12 bytes) || ciphertext+tag
type EncryptedMessage struct {
	EphemeralPubKey []byte // P-256 uncompressed public key
	Nonce           []byte // AES-GCM nonce
	Ciphertext      []byte // Encrypted data with auth tag
}

// Encrypt encrypts plaintext to a recipient's ECDH public key using ECIES.
// Uses ephemeral ECDH key agreement and AES-256-GCM for authenticated encryption.
func Encrypt(recipientPubKey *ecdh.PublicKey, plaintext []byte) (*EncryptedMessage, error) {
	ephemeralPriv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	sharedSecret, err := ephemeralPriv.ECDH(recipientPubKey)
	if err != nil {
		return nil, fmt.Errorf("ECDH: %w", err)
	}

	gcm, err := newGCM(deriveAESKey(sharedSecret))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	// Bind the ciphertext to the ephemeral key
	ciphertext := gcm.Seal(nil, nonce, plaintext, ephemeralPriv.PublicKey().Bytes())

	return &EncryptedMessage{
		EphemeralPubKey: ephemeralPriv.PublicKey().Bytes(),
		Nonce:           nonce,
		Ciphertext:      ciphertext,
	}, nil
}

// Decrypt decrypts an ECIES-encrypted message using the recipient's private key.
func Decrypt(recipientPrivKey *ecdh.PrivateKey, msg *EncryptedMessage) ([]byte, error) {
	ephemeralPub, err := ecdh.P256().NewPublicKey(msg.EphemeralPubKey)
	if err != nil {
		return nil, fmt.Errorf("parse ephemeral key: %w", err)
	}

	sharedSecret, err := recipientPrivKey.ECDH(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("ECDH: %w", err)
	}

	gcm, err := newGCM(deriveAESKey(sharedSecret))
	if err != nil {
		return nil, err
	}

	if len(msg.Nonce) != gcm.NonceSize() {
		return nil, errors.New("invalid nonce size")
	}

	plaintext, err := gcm.Open(nil, msg.Nonce, msg.Ciphertext, msg.EphemeralPubKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	return plaintext, nil
}

// Bytes serializes an encrypted message.
func (m *EncryptedMessage) Bytes() []byte {
	result := make([]byte, 0, len(m.EphemeralPubKey)+len(m.Nonce)+len(m.Ciphertext))
	result = append(result, m.EphemeralPubKey...)
	result = append(result, m.Nonce...)
	result = append(result, m.Ciphertext...)
	return result
}

// ParseEncryptedMessage deserializes an encrypted message.
func ParseEncryptedMessage(data []byte) (*EncryptedMessage, error) {
	// P-256 uncompressed pubkey is 65 bytes, nonce is 12 bytes
	const pubKeyLen = 65
	const nonceLen = 12
	minLen := pubKeyLen + nonceLen + 16 // 16 is minimum ciphertext (just auth tag)

	if len(data) < minLen {
		return nil, errors.New("encrypted message too short")
	}

	return &EncryptedMessage{
		EphemeralPubKey: data[:pubKeyLen],
		Nonce:           data[pubKeyLen : pubKeyLen+nonceLen],
		Ciphertext:      data[pubKeyLen+nonceLen:],
	}, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

func deriveAESKey(sharedSecret []byte) []byte {
	hash := make([]byte, 32)
	h := sha3.New256()
	h.Write([]byte("privacy-relay-ecies-v1"))
	h.Write(sharedSecret)
	return h.Sum(hash[:0])
}

// eciesCipherer exposes ECIES over P-256 through the cipherer contract. Keys
// are held as ECDSA keys so they share the PKIX/PKCS#8 encodings of X.509.
type eciesCipherer struct {
	pub  *ecdsa.PublicKey
	priv *ecdsa.PrivateKey
}

func (c *eciesCipherer) Algorithm() Algorithm { return ECIES }

func (c *eciesCipherer) KeyBits() int { return 256 }

func (c *eciesCipherer) Initialize(keyBits int) error {
	if keyBits != 256 {
		return unsupportedSize(ECIES, keyBits)
	}
	return nil
}

func (c *eciesCipherer) GenerateKey() error {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate P-256 key: %w", err)
	}
	c.priv, c.pub = priv, &priv.PublicKey
	return nil
}

func (c *eciesCipherer) PublicKey() ([]byte, error) {
	if c.pub == nil {
		return nil, ErrNoKey
	}
	return x509.MarshalPKIXPublicKey(c.pub)
}

func (c *eciesCipherer) SetPublicKey(der []byte) error {
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return fmt.Errorf("%w: expected P-256 public key, got %T", ErrInvalidKey, parsed)
	}
	c.pub = pub
	return nil
}

func (c *eciesCipherer) PrivateKey() ([]byte, error) {
	if c.priv == nil {
		return nil, ErrNoKey
	}
	return x509.MarshalPKCS8PrivateKey(c.priv)
}

func (c *eciesCipherer) SetPrivateKey(der []byte) error {
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	priv, ok := parsed.(*ecdsa.PrivateKey)
	if !ok || priv.Curve != elliptic.P256() {
		return fmt.Errorf("%w: expected P-256 private key, got %T", ErrInvalidKey, parsed)
	}
	c.priv, c.pub = priv, &priv.PublicKey
	return nil
}

func (c *eciesCipherer) Encrypt(plaintext []byte) ([]byte, error) {
	if c.pub == nil {
		return nil, ErrNoKey
	}
	pub, err := c.pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	msg, err := Encrypt(pub, plaintext)
	if err != nil {
		return nil, err
	}
	return msg.Bytes(), nil
}

func (c *eciesCipherer) Decrypt(ciphertext []byte) ([]byte, error) {
	if c.priv == nil {
		return nil, ErrNoKey
	}
	priv, err := c.priv.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	msg, err := ParseEncryptedMessage(ciphertext)
	if err != nil {
		return nil, err
	}
	return Decrypt(priv, msg)
}
