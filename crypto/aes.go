package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

var errBadPadding = errors.New("invalid PKCS#7 padding")

// aesCipherer is AES in CBC mode with PKCS#7 padding.
type aesCipherer struct {
	bits int
	key  []byte
	iv   []byte
}

func (c *aesCipherer) Algorithm() Algorithm { return AES }

func (c *aesCipherer) KeyBits() int { return c.bits }

func (c *aesCipherer) Initialize(keyBits int) error {
	switch keyBits {
	case 128, 192, 256:
		c.bits = keyBits
		return nil
	}
	return unsupportedSize(AES, keyBits)
}

func (c *aesCipherer) GenerateKey() error {
	if c.bits == 0 {
		return unsupportedSize(AES, 0)
	}
	key := make([]byte, c.bits/8)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return fmt.Errorf("generate iv: %w", err)
	}
	c.key, c.iv = key, iv
	return nil
}

func (c *aesCipherer) Key() []byte { return bytes.Clone(c.key) }

func (c *aesCipherer) SetKey(key []byte) error {
	switch len(key) * 8 {
	case 128, 192, 256:
	default:
		return fmt.Errorf("%w: AES key of %d bytes", ErrInvalidKey, len(key))
	}
	if c.bits != 0 && c.bits != len(key)*8 {
		return fmt.Errorf("%w: AES key of %d bits, configured for %d", ErrInvalidKey, len(key)*8, c.bits)
	}
	c.bits = len(key) * 8
	c.key = bytes.Clone(key)
	return nil
}

func (c *aesCipherer) IV() []byte { return bytes.Clone(c.iv) }

func (c *aesCipherer) SetIV(iv []byte) error {
	if len(iv) != aes.BlockSize {
		return fmt.Errorf("invalid IV length %d", len(iv))
	}
	c.iv = bytes.Clone(iv)
	return nil
}

func (c *aesCipherer) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := c.block()
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(out, padded)
	return out, nil
}

func (c *aesCipherer) Decrypt(ciphertext []byte) ([]byte, error) {
	block, err := c.block()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(ciphertext))
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, aes.BlockSize)
}

func (c *aesCipherer) block() (cipher.Block, error) {
	if c.key == nil || c.iv == nil {
		return nil, ErrNoKey
	}
	return aes.NewCipher(c.key)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data), len(data)+n)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errBadPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errBadPadding
		}
	}
	return data[:len(data)-n], nil
}
