package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
)

// rsaCipherer is RSA with OAEP/SHA-256 padding. Keys travel as PKIX (public)
// and PKCS#8 (private) DER.
type rsaCipherer struct {
	bits int
	pub  *rsa.PublicKey
	priv *rsa.PrivateKey
}

func (c *rsaCipherer) Algorithm() Algorithm { return RSA }

func (c *rsaCipherer) KeyBits() int { return c.bits }

func (c *rsaCipherer) Initialize(keyBits int) error {
	switch keyBits {
	case 1024, 2048, 4096:
		c.bits = keyBits
		return nil
	}
	return unsupportedSize(RSA, keyBits)
}

func (c *rsaCipherer) GenerateKey() error {
	if c.bits == 0 {
		return unsupportedSize(RSA, 0)
	}
	priv, err := rsa.GenerateKey(rand.Reader, c.bits)
	if err != nil {
		return fmt.Errorf("generate RSA key: %w", err)
	}
	c.priv, c.pub = priv, &priv.PublicKey
	return nil
}

func (c *rsaCipherer) PublicKey() ([]byte, error) {
	if c.pub == nil {
		return nil, ErrNoKey
	}
	return x509.MarshalPKIXPublicKey(c.pub)
}

func (c *rsaCipherer) SetPublicKey(der []byte) error {
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: expected RSA public key, got %T", ErrInvalidKey, parsed)
	}
	c.pub, c.bits = pub, pub.N.BitLen()
	return nil
}

func (c *rsaCipherer) PrivateKey() ([]byte, error) {
	if c.priv == nil {
		return nil, ErrNoKey
	}
	return x509.MarshalPKCS8PrivateKey(c.priv)
}

func (c *rsaCipherer) SetPrivateKey(der []byte) error {
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("%w: expected RSA private key, got %T", ErrInvalidKey, parsed)
	}
	c.priv, c.pub, c.bits = priv, &priv.PublicKey, priv.N.BitLen()
	return nil
}

func (c *rsaCipherer) Encrypt(plaintext []byte) ([]byte, error) {
	if c.pub == nil {
		return nil, ErrNoKey
	}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, c.pub, plaintext, nil)
}

func (c *rsaCipherer) Decrypt(ciphertext []byte) ([]byte, error) {
	if c.priv == nil {
		return nil, ErrNoKey
	}
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, c.priv, ciphertext, nil)
}
