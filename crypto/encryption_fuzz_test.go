package crypto

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func FuzzECIESWrapKey(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte("0123456789abcdef"))
	f.Add(make([]byte, 32))
	f.Add(make([]byte, 1000))

	f.Fuzz(func(t *testing.T, key []byte) {
		recipient, _ := NewAsymmetric(ECIES)
		require.NoError(t, recipient.GenerateKey())
		pub, err := recipient.PublicKey()
		require.NoError(t, err)

		sender, _ := NewAsymmetric(ECIES)
		require.NoError(t, sender.SetPublicKey(pub))

		wrapped, err := sender.Encrypt(key)
		require.NoError(t, err)
		// ephemeral point, nonce, ciphertext and tag
		require.Len(t, wrapped, 65+12+len(key)+16)

		unwrapped, err := recipient.Decrypt(wrapped)
		require.NoError(t, err)
		require.True(t, bytes.Equal(key, unwrapped))

		other, _ := NewAsymmetric(ECIES)
		require.NoError(t, other.GenerateKey())
		_, err = other.Decrypt(wrapped)
		require.Error(t, err)
	})
}

func FuzzParseEncryptedMessage(f *testing.F) {
	f.Add(make([]byte, 0))
	f.Add(make([]byte, 92))
	f.Add(make([]byte, 93))
	f.Add(make([]byte, 500))

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := ParseEncryptedMessage(data)
		if len(data) < 65+12+16 {
			require.Error(t, err)
			return
		}
		require.NoError(t, err)
		require.Len(t, msg.EphemeralPubKey, 65)
		require.Len(t, msg.Nonce, 12)
		require.Equal(t, data, msg.Bytes())
	})
}

func FuzzEncryptedMessageTampering(f *testing.F) {
	f.Add([]byte("23"), 0)
	f.Add([]byte("<rdf:RDF/>"), 70)

	f.Fuzz(func(t *testing.T, plaintext []byte, tamperIndex int) {
		if len(plaintext) == 0 {
			t.Skip()
		}

		privKey, err := ecdh.P256().GenerateKey(rand.Reader)
		require.NoError(t, err)

		encrypted, err := Encrypt(privKey.PublicKey(), plaintext)
		require.NoError(t, err)

		tampered := encrypted.Bytes()
		idx := tamperIndex % len(tampered)
		if idx < 0 {
			idx = -idx
		}
		tampered[idx] ^= 0xFF

		msg, err := ParseEncryptedMessage(tampered)
		if err != nil {
			return
		}
		_, err = Decrypt(privKey, msg)
		require.Error(t, err)
	})
}
