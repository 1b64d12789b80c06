// Package envelope defines the hybrid-encrypted payload carried from Data
// Origins to Smart Service Proxies and its XML wire encodings.
//
// Two schemas exist. The canonical "privacyPackage" schema carries a compact
// symmetric algorithm code and a clear IV. The legacy "encryptedSensorData"
// schema names both algorithms with bit strengths and encrypts the IV with the
// recipient's public key. Decode accepts either; Encode writes the schema
// matching the envelope's Scheme.
package envelope

import (
	"bytes"
)

// Scheme selects the wire schema and IV handling of an Envelope.
type Scheme uint8

const (
	// SchemeCanonical carries the IV in the clear.
	SchemeCanonical Scheme = iota
	// SchemeLegacy carries the IV encrypted with the recipient's public key.
	SchemeLegacy
)

func (s Scheme) String() string {
	if s == SchemeLegacy {
		return "legacy"
	}
	return "canonical"
}

// Envelope is one encrypted sensor reading. Treat it as immutable: fields are
// exported for codecs but nothing in this module mutates a constructed value.
type Envelope struct {
	Scheme Scheme

	// PseudonymOrOriginURI is the only identity exposed downstream.
	PseudonymOrOriginURI string
	// SymmetricAlgorithmCode is e.g. "AES-128".
	SymmetricAlgorithmCode string
	// AsymmetricAlgorithmCode is only carried by the legacy schema, e.g. "RSA-1024".
	AsymmetricAlgorithmCode string

	EncryptedContent      []byte
	InitializationVector  []byte
	EncryptedSymmetricKey []byte

	// ContentLifetime is in seconds.
	ContentLifetime int
}

// New builds a canonical envelope, copying every byte slice.
func New(pseudonymOrURI, symmetricCode string, content, iv, encryptedKey []byte, lifetime int) *Envelope {
	return &Envelope{
		Scheme:                 SchemeCanonical,
		PseudonymOrOriginURI:   pseudonymOrURI,
		SymmetricAlgorithmCode: symmetricCode,
		EncryptedContent:       clone(content),
		InitializationVector:   clone(iv),
		EncryptedSymmetricKey:  clone(encryptedKey),
		ContentLifetime:        lifetime,
	}
}

// NewLegacy builds a legacy envelope. iv must already be encrypted.
func NewLegacy(pseudonymOrURI, symmetricCode, asymmetricCode string, content, encryptedIV, encryptedKey []byte, lifetime int) *Envelope {
	e := New(pseudonymOrURI, symmetricCode, content, encryptedIV, encryptedKey, lifetime)
	e.Scheme = SchemeLegacy
	e.AsymmetricAlgorithmCode = asymmetricCode
	return e
}

// Equal reports whether two envelopes carry identical fields.
func (e *Envelope) Equal(o *Envelope) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.Scheme == o.Scheme &&
		e.PseudonymOrOriginURI == o.PseudonymOrOriginURI &&
		e.SymmetricAlgorithmCode == o.SymmetricAlgorithmCode &&
		e.AsymmetricAlgorithmCode == o.AsymmetricAlgorithmCode &&
		bytes.Equal(e.EncryptedContent, o.EncryptedContent) &&
		bytes.Equal(e.InitializationVector, o.InitializationVector) &&
		bytes.Equal(e.EncryptedSymmetricKey, o.EncryptedSymmetricKey) &&
		e.ContentLifetime == o.ContentLifetime
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return bytes.Clone(b)
}
