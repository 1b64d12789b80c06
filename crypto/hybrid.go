package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/envelope"
	"golang.org/x/crypto/openpgp/elgamal" //nolint:staticcheck
)

// EncryptionParameters selects the ciphers of one hybrid encryption.
type EncryptionParameters struct {
	SymmetricAlgorithm  Algorithm
	SymmetricKeyBits    int
	AsymmetricAlgorithm Algorithm
	AsymmetricKeyBits   int
}

// DefaultParameters is AES-128 under RSA-1024.
var DefaultParameters = EncryptionParameters{
	SymmetricAlgorithm:  AES,
	SymmetricKeyBits:    128,
	AsymmetricAlgorithm: RSA,
	AsymmetricKeyBits:   1024,
}

// AlgorithmCode returns the compact code of the symmetric half, e.g. "AES-128".
func (p EncryptionParameters) AlgorithmCode() string {
	return envelope.JoinCode(string(p.SymmetricAlgorithm), p.SymmetricKeyBits)
}

// ParseAlgorithmCode resolves a symmetric algorithm code. It fails with
// ErrUnknownAlgorithmCode unless the code names a registered cipher and size.
func ParseAlgorithmCode(code string) (Algorithm, int, error) {
	method, bits, err := envelope.SplitCode(code)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrUnknownAlgorithmCode, code)
	}
	alg := ParseAlgorithm(method)
	c, ok := NewSymmetric(alg)
	if !ok || c.Initialize(bits) != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrUnknownAlgorithmCode, code)
	}
	return alg, bits, nil
}

// ParametersForRecipient combines a symmetric algorithm code with the
// asymmetric algorithm and size implied by the recipient's key material.
func ParametersForRecipient(symmetricCode string, recipientPublicKey []byte) (EncryptionParameters, error) {
	symAlg, symBits, err := ParseAlgorithmCode(symmetricCode)
	if err != nil {
		return EncryptionParameters{}, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, err)
	}
	pub, err := ParsePublicKey(recipientPublicKey)
	if err != nil {
		return EncryptionParameters{}, err
	}
	asymAlg, asymBits, err := AlgorithmFromKey(pub)
	if err != nil {
		return EncryptionParameters{}, err
	}
	return EncryptionParameters{
		SymmetricAlgorithm:  symAlg,
		SymmetricKeyBits:    symBits,
		AsymmetricAlgorithm: asymAlg,
		AsymmetricKeyBits:   asymBits,
	}, nil
}

// AlgorithmFromKey derives algorithm and key size from a key's type.
func AlgorithmFromKey(key any) (Algorithm, int, error) {
	switch k := key.(type) {
	case *rsa.PublicKey:
		return RSA, k.N.BitLen(), nil
	case *rsa.PrivateKey:
		return RSA, k.N.BitLen(), nil
	case *ecdsa.PublicKey:
		if k.Curve == elliptic.P256() {
			return ECIES, 256, nil
		}
	case *ecdsa.PrivateKey:
		if k.Curve == elliptic.P256() {
			return ECIES, 256, nil
		}
	case *ecdh.PublicKey:
		if k.Curve() == ecdh.P256() {
			return ECIES, 256, nil
		}
	case *elgamal.PublicKey:
		return ElGamal, k.P.BitLen(), nil
	case *elgamal.PrivateKey:
		return ElGamal, k.P.BitLen(), nil
	}
	return "", 0, fmt.Errorf("%w: unsupported key type %T", ErrInvalidKey, key)
}

// ParsePublicKey parses PKIX DER (RSA, P-256) or an encoded ElGamal key.
func ParsePublicKey(data []byte) (any, error) {
	if pub, err := x509.ParsePKIXPublicKey(data); err == nil {
		return pub, nil
	}
	if pub, err := ParseElGamalPublicKey(data); err == nil {
		return pub, nil
	}
	return nil, fmt.Errorf("%w: unrecognised public key encoding", ErrInvalidKey)
}

// MarshalPublicKey encodes a public key the way ParsePublicKey expects.
func MarshalPublicKey(pub any) ([]byte, error) {
	if k, ok := pub.(*elgamal.PublicKey); ok {
		return MarshalElGamalPublicKey(k)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return der, nil
}

// ParsePrivateKey parses PKCS#8 DER (RSA, P-256) or an encoded ElGamal key.
func ParsePrivateKey(data []byte) (any, error) {
	if priv, err := x509.ParsePKCS8PrivateKey(data); err == nil {
		return priv, nil
	}
	if priv, err := ParseElGamalPrivateKey(data); err == nil {
		return priv, nil
	}
	return nil, fmt.Errorf("%w: unrecognised private key encoding", ErrInvalidKey)
}

// MarshalPrivateKey encodes a private key the way ParsePrivateKey expects.
func MarshalPrivateKey(priv any) ([]byte, error) {
	if k, ok := priv.(*elgamal.PrivateKey); ok {
		return MarshalElGamalPrivateKey(k)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return der, nil
}

// EncryptForRecipient encrypts plaintext under a fresh symmetric key and IV,
// wraps the key (not the IV) with recipientPublicKey and returns the
// canonical envelope. No envelope is returned on any error.
func EncryptForRecipient(plaintext []byte, pseudonymOrName string, lifetime int, recipientPublicKey []byte, params EncryptionParameters) (*envelope.Envelope, error) {
	sym, asym, err := prepareCipherers(recipientPublicKey, params)
	if err != nil {
		return nil, err
	}

	content, err := sym.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("symmetric encryption: %w", err)
	}
	encryptedKey, err := asym.Encrypt(sym.Key())
	if err != nil {
		return nil, fmt.Errorf("asymmetric encryption: %w", err)
	}

	return envelope.New(pseudonymOrName, params.AlgorithmCode(), content, sym.IV(), encryptedKey, lifetime), nil
}

// EncryptLegacyForRecipient produces the legacy envelope schema, where the IV
// is encrypted with the recipient's key in a second asymmetric operation.
func EncryptLegacyForRecipient(plaintext []byte, pseudonymOrName string, lifetime int, recipientPublicKey []byte, params EncryptionParameters) (*envelope.Envelope, error) {
	sym, asym, err := prepareCipherers(recipientPublicKey, params)
	if err != nil {
		return nil, err
	}

	content, err := sym.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("symmetric encryption: %w", err)
	}
	encryptedKey, err := asym.Encrypt(sym.Key())
	if err != nil {
		return nil, fmt.Errorf("asymmetric encryption: %w", err)
	}
	encryptedIV, err := asym.Encrypt(sym.IV())
	if err != nil {
		return nil, fmt.Errorf("asymmetric encryption: %w", err)
	}

	asymCode := envelope.JoinCode(string(asym.Algorithm()), asym.KeyBits())
	return envelope.NewLegacy(pseudonymOrName, params.AlgorithmCode(), asymCode, content, encryptedIV, encryptedKey, lifetime), nil
}

func prepareCipherers(recipientPublicKey []byte, params EncryptionParameters) (SymmetricCipherer, AsymmetricCipherer, error) {
	sym, ok := NewSymmetric(params.SymmetricAlgorithm)
	if !ok {
		return nil, nil, fmt.Errorf("%w: symmetric %q", ErrUnsupportedAlgorithm, params.SymmetricAlgorithm)
	}
	if err := sym.Initialize(params.SymmetricKeyBits); err != nil {
		return nil, nil, err
	}
	asym, ok := NewAsymmetric(params.AsymmetricAlgorithm)
	if !ok {
		return nil, nil, fmt.Errorf("%w: asymmetric %q", ErrUnsupportedAlgorithm, params.AsymmetricAlgorithm)
	}
	if params.AsymmetricKeyBits != 0 {
		if err := asym.Initialize(params.AsymmetricKeyBits); err != nil {
			return nil, nil, err
		}
	}
	if err := asym.SetPublicKey(recipientPublicKey); err != nil {
		return nil, nil, err
	}
	if params.AsymmetricKeyBits != 0 && asym.KeyBits() != params.AsymmetricKeyBits {
		return nil, nil, fmt.Errorf("%w: recipient key has %d bits, parameters ask for %d",
			ErrInvalidKey, asym.KeyBits(), params.AsymmetricKeyBits)
	}
	if err := sym.GenerateKey(); err != nil {
		return nil, nil, err
	}
	return sym, asym, nil
}

// DecryptWithPrivateKey recovers the plaintext of env. The asymmetric
// algorithm is implied by the type of recipientPrivateKey. Every failure is
// reported as an *EnvelopeDecryptionError.
func DecryptWithPrivateKey(env *envelope.Envelope, recipientPrivateKey any) ([]byte, error) {
	plaintext, err := decrypt(env, recipientPrivateKey)
	if err != nil {
		return nil, &EnvelopeDecryptionError{Err: err}
	}
	return plaintext, nil
}

func decrypt(env *envelope.Envelope, recipientPrivateKey any) ([]byte, error) {
	asymAlg, _, err := AlgorithmFromKey(recipientPrivateKey)
	if err != nil {
		return nil, err
	}
	asym, ok := NewAsymmetric(asymAlg)
	if !ok {
		return nil, fmt.Errorf("%w: asymmetric %q", ErrUnsupportedAlgorithm, asymAlg)
	}
	der, err := MarshalPrivateKey(recipientPrivateKey)
	if err != nil {
		return nil, err
	}
	if err := asym.SetPrivateKey(der); err != nil {
		return nil, err
	}

	symAlg, symBits, err := ParseAlgorithmCode(env.SymmetricAlgorithmCode)
	if err != nil {
		return nil, err
	}
	sym, _ := NewSymmetric(symAlg)
	if err := sym.Initialize(symBits); err != nil {
		return nil, err
	}

	key, err := asym.Decrypt(env.EncryptedSymmetricKey)
	if err != nil {
		return nil, fmt.Errorf("unwrap symmetric key: %w", err)
	}
	if err := sym.SetKey(key); err != nil {
		return nil, err
	}

	iv := env.InitializationVector
	if env.Scheme == envelope.SchemeLegacy {
		if iv, err = asym.Decrypt(iv); err != nil {
			return nil, fmt.Errorf("unwrap IV: %w", err)
		}
	}
	if err := sym.SetIV(iv); err != nil {
		return nil, err
	}

	plaintext, err := sym.Decrypt(env.EncryptedContent)
	if err != nil {
		return nil, fmt.Errorf("symmetric decryption: %w", err)
	}
	return plaintext, nil
}
