package pseudonym

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// SecretSize is the size of secrets created by NewSecret.
const SecretSize = 32

// ErrInvalidInput is returned for an empty identifier, a zero window or an
// empty secret.
var ErrInvalidInput = errors.New("invalid pseudonym input")

// Generator computes pseudonyms against an injectable clock.
type Generator struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

// Default uses the wall clock.
var Default = &Generator{}

// Generate returns the pseudonym of id for the window containing the current
// time. Two calls in the same window yield identical strings.
func (g *Generator) Generate(id string, window time.Duration, secret []byte) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty identifier", ErrInvalidInput)
	}
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		return "", fmt.Errorf("%w: window must be positive", ErrInvalidInput)
	}
	if len(secret) == 0 {
		return "", fmt.Errorf("%w: empty secret", ErrInvalidInput)
	}

	now := time.Now
	if g != nil && g.Now != nil {
		now = g.Now
	}
	nowMs := now().UnixMilli()
	t := nowMs - nowMs%windowMs

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(id))
	mac.Write([]byte(strconv.FormatInt(t, 10)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Generate uses the wall clock.
func Generate(id string, window time.Duration, secret []byte) (string, error) {
	return Default.Generate(id, window, secret)
}

// NewSecret returns SecretSize random bytes.
func NewSecret() ([]byte, error) {
	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("read random secret: %w", err)
	}
	return secret, nil
}
