package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_UnknownNames(t *testing.T) {
	_, ok := NewSymmetric("DES")
	require.False(t, ok)
	_, ok = NewAsymmetric("DSA")
	require.False(t, ok)

	// Registered under the other kind only.
	_, ok = NewSymmetric(RSA)
	require.False(t, ok)
	_, ok = NewAsymmetric(AES)
	require.False(t, ok)
}

func TestParseAlgorithm(t *testing.T) {
	require.Equal(t, AES, ParseAlgorithm("aes"))
	require.Equal(t, ElGamal, ParseAlgorithm(" ELGAMAL "))
	require.Equal(t, Algorithm("DES"), ParseAlgorithm("DES"))
}

func TestAES_RoundTrip(t *testing.T) {
	for _, bits := range []int{128, 192, 256} {
		c, ok := NewSymmetric(AES)
		require.True(t, ok)
		require.NoError(t, c.Initialize(bits))
		require.NoError(t, c.GenerateKey())
		require.Len(t, c.Key(), bits/8)
		require.Len(t, c.IV(), 16)

		for _, size := range []int{0, 1, 15, 16, 17, 100} {
			plaintext := bytes.Repeat([]byte{0xab}, size)
			ct, err := c.Encrypt(plaintext)
			require.NoError(t, err)
			require.Zero(t, len(ct)%16)
			require.Greater(t, len(ct), size)

			// A second cipherer fed the exported key and IV decrypts.
			d, _ := NewSymmetric(AES)
			require.NoError(t, d.SetKey(c.Key()))
			require.NoError(t, d.SetIV(c.IV()))
			pt, err := d.Decrypt(ct)
			require.NoError(t, err)
			require.Equal(t, plaintext, append([]byte{}, pt...)[:size])
			require.Len(t, pt, size)
		}
	}
}

func TestAES_Errors(t *testing.T) {
	c, _ := NewSymmetric(AES)
	require.ErrorIs(t, c.Initialize(64), ErrUnsupportedAlgorithm)

	_, err := c.Encrypt([]byte("x"))
	require.ErrorIs(t, err, ErrNoKey)

	require.ErrorIs(t, c.SetKey([]byte("short")), ErrInvalidKey)
	require.Error(t, c.SetIV([]byte("short")))

	require.NoError(t, c.Initialize(128))
	require.ErrorIs(t, c.SetKey(make([]byte, 32)), ErrInvalidKey)

	require.NoError(t, c.GenerateKey())
	_, err = c.Decrypt([]byte("not a block multiple"))
	require.Error(t, err)

	ct, err := c.Encrypt([]byte("23"))
	require.NoError(t, err)

	other, _ := NewSymmetric(AES)
	require.NoError(t, other.Initialize(128))
	require.NoError(t, other.GenerateKey())
	require.NoError(t, other.SetIV(c.IV()))
	pt, err := other.Decrypt(ct)
	if err == nil {
		// Padding may accidentally validate; the content must still differ.
		require.NotEqual(t, []byte("23"), pt)
	}
}

func TestPKCS7(t *testing.T) {
	padded := pkcs7Pad([]byte("abc"), 8)
	require.Equal(t, []byte{'a', 'b', 'c', 5, 5, 5, 5, 5}, padded)

	out, err := pkcs7Unpad(padded, 8)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), out)

	full := pkcs7Pad(make([]byte, 8), 8)
	require.Len(t, full, 16)

	for _, bad := range [][]byte{
		{},
		{1, 2, 3, 0},
		{1, 2, 3, 9},
		{1, 2, 2, 3},
	} {
		_, err := pkcs7Unpad(bad, 8)
		require.Error(t, err)
	}
}

func testAsymmetricRoundTrip(t *testing.T, alg Algorithm, bits int) {
	t.Helper()

	c, ok := NewAsymmetric(alg)
	require.True(t, ok)
	require.Equal(t, alg, c.Algorithm())
	require.NoError(t, c.Initialize(bits))
	require.NoError(t, c.GenerateKey())
	require.Equal(t, bits, c.KeyBits())

	pub, err := c.PublicKey()
	require.NoError(t, err)
	priv, err := c.PrivateKey()
	require.NoError(t, err)

	sender, _ := NewAsymmetric(alg)
	require.NoError(t, sender.SetPublicKey(pub))
	require.Equal(t, bits, sender.KeyBits())

	key := []byte("0123456789abcdef")
	ct, err := sender.Encrypt(key)
	require.NoError(t, err)

	// Public key only: no decryption possible.
	_, err = sender.Decrypt(ct)
	require.ErrorIs(t, err, ErrNoKey)

	receiver, _ := NewAsymmetric(alg)
	require.NoError(t, receiver.SetPrivateKey(priv))
	pt, err := receiver.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, key, pt)
}

func TestRSA_RoundTrip(t *testing.T) {
	testAsymmetricRoundTrip(t, RSA, 1024)
}

func TestElGamal_RoundTrip(t *testing.T) {
	testAsymmetricRoundTrip(t, ElGamal, 1024)
}

func TestECIES_RoundTrip(t *testing.T) {
	testAsymmetricRoundTrip(t, ECIES, 256)
}

func TestAsymmetric_UnsupportedSizes(t *testing.T) {
	for alg, bits := range map[Algorithm]int{RSA: 512, ElGamal: 2048, ECIES: 384} {
		c, ok := NewAsymmetric(alg)
		require.True(t, ok)
		require.ErrorIs(t, c.Initialize(bits), ErrUnsupportedAlgorithm, alg)
	}

	rsaC, _ := NewAsymmetric(RSA)
	for _, bits := range []int{1024, 2048, 4096} {
		require.NoError(t, rsaC.Initialize(bits))
	}
	require.ErrorIs(t, rsaC.Initialize(3072), ErrUnsupportedAlgorithm)
}

func TestAsymmetric_InvalidKeys(t *testing.T) {
	for _, alg := range []Algorithm{RSA, ElGamal, ECIES} {
		c, _ := NewAsymmetric(alg)
		require.ErrorIs(t, c.SetPublicKey([]byte("garbage")), ErrInvalidKey, alg)
		require.ErrorIs(t, c.SetPrivateKey([]byte("garbage")), ErrInvalidKey, alg)

		_, err := c.Encrypt([]byte("x"))
		require.ErrorIs(t, err, ErrNoKey)
	}

	// An RSA key is not an ECIES key.
	rsaC, _ := NewAsymmetric(RSA)
	require.NoError(t, rsaC.Initialize(1024))
	require.NoError(t, rsaC.GenerateKey())
	der, err := rsaC.PublicKey()
	require.NoError(t, err)

	ecC, _ := NewAsymmetric(ECIES)
	require.ErrorIs(t, ecC.SetPublicKey(der), ErrInvalidKey)
}

func TestElGamal_DecryptWrongLength(t *testing.T) {
	c, _ := NewAsymmetric(ElGamal)
	require.NoError(t, c.Initialize(1024))
	require.NoError(t, c.GenerateKey())

	_, err := c.Decrypt(make([]byte, 10))
	require.Error(t, err)
}

func FuzzAES(f *testing.F) {
	f.Add([]byte("23"), 0)
	f.Add([]byte{}, 1)
	f.Add(bytes.Repeat([]byte{1}, 64), 2)

	f.Fuzz(func(t *testing.T, plaintext []byte, sizeIdx int) {
		sizes := []int{128, 192, 256}
		idx := sizeIdx % len(sizes)
		if idx < 0 {
			idx = -idx
		}
		c, _ := NewSymmetric(AES)
		require.NoError(t, c.Initialize(sizes[idx]))
		require.NoError(t, c.GenerateKey())

		ct, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		pt, err := c.Decrypt(ct)
		require.NoError(t, err)
		require.True(t, bytes.Equal(plaintext, pt))
	})
}
