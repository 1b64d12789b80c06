// Package crypto provides the ciphers and the hybrid encryption pipeline used
// to protect sensor readings between a data origin and its consumer.
//
// Ciphers are looked up by name in a closed registry:
//
//   - AES (128, 192, 256 bits) in CBC mode with PKCS#7 padding
//   - RSA (1024 to 4096 bits) with OAEP over SHA-256
//   - ElGamal (1024 bits) over the RFC 2409 Oakley group 2
//   - ECIES over P-256 with an AES-GCM payload
//
// Unknown names are reported as absent, never as a nil cipherer.
//
// # Hybrid encryption
//
// EncryptForRecipient generates a fresh symmetric key and IV per call,
// encrypts the payload symmetrically, wraps the symmetric key with the
// recipient's public key and returns an envelope.Envelope.
// DecryptWithPrivateKey reverses the process. Every decryption failure is
// reported as an *EnvelopeDecryptionError wrapping the failing step.
//
// # Key encodings
//
// RSA and P-256 keys use PKIX (public) and PKCS#8 (private) DER. ElGamal keys
// use a compact CBOR structure since X.509 has no ElGamal encoding.
package crypto
