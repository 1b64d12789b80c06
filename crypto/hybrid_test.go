package crypto

import (
	"errors"
	"testing"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/envelope"
	"github.com/stretchr/testify/require"
)

// generateKeyPair returns encoded public key bytes and the parsed private key.
func generateKeyPair(t *testing.T, alg Algorithm, bits int) ([]byte, any) {
	t.Helper()
	c, ok := NewAsymmetric(alg)
	require.True(t, ok)
	require.NoError(t, c.Initialize(bits))
	require.NoError(t, c.GenerateKey())

	pub, err := c.PublicKey()
	require.NoError(t, err)
	privBytes, err := c.PrivateKey()
	require.NoError(t, err)
	priv, err := ParsePrivateKey(privBytes)
	require.NoError(t, err)
	return pub, priv
}

func TestHybrid_RoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		params EncryptionParameters
	}{
		{"AES-128/RSA-1024", DefaultParameters},
		{"AES-256/RSA-2048", EncryptionParameters{AES, 256, RSA, 2048}},
		{"AES-192/ElGamal-1024", EncryptionParameters{AES, 192, ElGamal, 1024}},
		{"AES-128/ECIES-256", EncryptionParameters{AES, 128, ECIES, 256}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pub, priv := generateKeyPair(t, tc.params.AsymmetricAlgorithm, tc.params.AsymmetricKeyBits)

			env, err := EncryptForRecipient([]byte("23"), "pseudonym", 60, pub, tc.params)
			require.NoError(t, err)
			require.Equal(t, envelope.SchemeCanonical, env.Scheme)
			require.Equal(t, tc.params.AlgorithmCode(), env.SymmetricAlgorithmCode)
			require.Equal(t, "pseudonym", env.PseudonymOrOriginURI)
			require.Equal(t, 60, env.ContentLifetime)
			require.Len(t, env.InitializationVector, 16)
			require.NotContains(t, string(env.EncryptedContent), "23")

			// Survives the wire encoding.
			data, err := envelope.Encode(env)
			require.NoError(t, err)
			decoded, err := envelope.Decode(data)
			require.NoError(t, err)

			plaintext, err := DecryptWithPrivateKey(decoded, priv)
			require.NoError(t, err)
			require.Equal(t, []byte("23"), plaintext)
		})
	}
}

func TestHybrid_FreshKeyPerCall(t *testing.T) {
	pub, _ := generateKeyPair(t, RSA, 1024)

	a, err := EncryptForRecipient([]byte("23"), "p", 60, pub, DefaultParameters)
	require.NoError(t, err)
	b, err := EncryptForRecipient([]byte("23"), "p", 60, pub, DefaultParameters)
	require.NoError(t, err)

	require.NotEqual(t, a.InitializationVector, b.InitializationVector)
	require.NotEqual(t, a.EncryptedContent, b.EncryptedContent)
}

func TestHybrid_LegacyRoundTrip(t *testing.T) {
	pub, priv := generateKeyPair(t, RSA, 1024)

	env, err := EncryptLegacyForRecipient([]byte("<rdf:RDF/>"), "coap://[::1]/temp", 30, pub, DefaultParameters)
	require.NoError(t, err)
	require.Equal(t, envelope.SchemeLegacy, env.Scheme)
	require.Equal(t, "RSA-1024", env.AsymmetricAlgorithmCode)
	// The IV travels encrypted.
	require.Len(t, env.InitializationVector, 128)

	data, err := envelope.Encode(env)
	require.NoError(t, err)
	decoded, err := envelope.Decode(data)
	require.NoError(t, err)

	plaintext, err := DecryptWithPrivateKey(decoded, priv)
	require.NoError(t, err)
	require.Equal(t, []byte("<rdf:RDF/>"), plaintext)
}

func TestHybrid_UnsupportedAlgorithm(t *testing.T) {
	pub, _ := generateKeyPair(t, RSA, 1024)

	env, err := EncryptForRecipient([]byte("23"), "p", 60, pub, EncryptionParameters{"DES", 56, RSA, 1024})
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)
	require.Nil(t, env)

	env, err = EncryptForRecipient([]byte("23"), "p", 60, pub, EncryptionParameters{AES, 128, "DSA", 1024})
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)
	require.Nil(t, env)

	env, err = EncryptForRecipient([]byte("23"), "p", 60, pub, EncryptionParameters{AES, 100, RSA, 1024})
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)
	require.Nil(t, env)
}

func TestHybrid_InvalidKey(t *testing.T) {
	env, err := EncryptForRecipient([]byte("23"), "p", 60, []byte("not a key"), DefaultParameters)
	require.ErrorIs(t, err, ErrInvalidKey)
	require.Nil(t, env)

	// Key size disagrees with the parameters.
	pub, _ := generateKeyPair(t, RSA, 2048)
	env, err = EncryptForRecipient([]byte("23"), "p", 60, pub, DefaultParameters)
	require.ErrorIs(t, err, ErrInvalidKey)
	require.Nil(t, env)
}

func TestDecrypt_UnknownAlgorithmCode(t *testing.T) {
	pub, priv := generateKeyPair(t, RSA, 1024)
	env, err := EncryptForRecipient([]byte("23"), "p", 60, pub, DefaultParameters)
	require.NoError(t, err)

	env.SymmetricAlgorithmCode = "DES-56"
	_, err = DecryptWithPrivateKey(env, priv)

	var decErr *EnvelopeDecryptionError
	require.True(t, errors.As(err, &decErr))
	require.ErrorIs(t, err, ErrUnknownAlgorithmCode)
}

func TestDecrypt_WrongKey(t *testing.T) {
	pub, _ := generateKeyPair(t, RSA, 1024)
	_, otherPriv := generateKeyPair(t, RSA, 1024)

	env, err := EncryptForRecipient([]byte("23"), "p", 60, pub, DefaultParameters)
	require.NoError(t, err)

	_, err = DecryptWithPrivateKey(env, otherPriv)
	var decErr *EnvelopeDecryptionError
	require.ErrorAs(t, err, &decErr)
}

func TestDecrypt_UnsupportedKeyType(t *testing.T) {
	env := envelope.New("p", "AES-128", nil, nil, nil, 1)
	_, err := DecryptWithPrivateKey(env, "not a key")
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestParseAlgorithmCode(t *testing.T) {
	alg, bits, err := ParseAlgorithmCode("AES-256")
	require.NoError(t, err)
	require.Equal(t, AES, alg)
	require.Equal(t, 256, bits)

	for _, code := range []string{"", "AES", "AES-100", "DES-56", "RSA-1024"} {
		_, _, err := ParseAlgorithmCode(code)
		require.ErrorIs(t, err, ErrUnknownAlgorithmCode, code)
	}
}

func TestParametersForRecipient(t *testing.T) {
	pub, _ := generateKeyPair(t, ElGamal, 1024)
	params, err := ParametersForRecipient("AES-192", pub)
	require.NoError(t, err)
	require.Equal(t, EncryptionParameters{AES, 192, ElGamal, 1024}, params)

	pub, _ = generateKeyPair(t, ECIES, 256)
	params, err = ParametersForRecipient("AES-128", pub)
	require.NoError(t, err)
	require.Equal(t, ECIES, params.AsymmetricAlgorithm)

	_, err = ParametersForRecipient("DES-56", pub)
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestKeyEncodingRoundTrip(t *testing.T) {
	for alg, bits := range map[Algorithm]int{RSA: 1024, ElGamal: 1024, ECIES: 256} {
		pubBytes, priv := generateKeyPair(t, alg, bits)

		pub, err := ParsePublicKey(pubBytes)
		require.NoError(t, err)
		gotAlg, gotBits, err := AlgorithmFromKey(pub)
		require.NoError(t, err)
		require.Equal(t, alg, gotAlg)
		require.Equal(t, bits, gotBits)

		again, err := MarshalPublicKey(pub)
		require.NoError(t, err)
		require.Equal(t, pubBytes, again)

		privBytes, err := MarshalPrivateKey(priv)
		require.NoError(t, err)
		parsed, err := ParsePrivateKey(privBytes)
		require.NoError(t, err)
		gotAlg, _, err = AlgorithmFromKey(parsed)
		require.NoError(t, err)
		require.Equal(t, alg, gotAlg)
	}
}
