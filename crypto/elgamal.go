package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/openpgp/elgamal" //nolint:staticcheck // only the group arithmetic is used
)

// oakleyGroup2 is the 1024-bit MODP group of RFC 2409 section 6.2, generator 2.
var oakleyGroup2, _ = new(big.Int).SetString(
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74"+
		"020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F1437"+
		"4FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED"+
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE65381FFFFFFFFFFFFFFFF", 16)

var elgamalGroups = map[int]*big.Int{
	1024: oakleyGroup2,
}

// elgamalKey is the CBOR key encoding. X is only present for private keys.
type elgamalKey struct {
	P []byte `cbor:"1,keyasint"`
	G []byte `cbor:"2,keyasint"`
	Y []byte `cbor:"3,keyasint"`
	X []byte `cbor:"4,keyasint,omitempty"`
}

// GenerateElGamalKey creates a key pair in the fixed group for bits.
func GenerateElGamalKey(bits int) (*elgamal.PrivateKey, error) {
	p, ok := elgamalGroups[bits]
	if !ok {
		return nil, unsupportedSize(ElGamal, bits)
	}
	// x in [2, p-2]
	limit := new(big.Int).Sub(p, big.NewInt(3))
	x, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, err
	}
	x.Add(x, big.NewInt(2))
	g := big.NewInt(2)
	return &elgamal.PrivateKey{
		PublicKey: elgamal.PublicKey{G: g, P: p, Y: new(big.Int).Exp(g, x, p)},
		X:         x,
	}, nil
}

// MarshalElGamalPublicKey encodes pub for transport.
func MarshalElGamalPublicKey(pub *elgamal.PublicKey) ([]byte, error) {
	return cbor.Marshal(&elgamalKey{P: pub.P.Bytes(), G: pub.G.Bytes(), Y: pub.Y.Bytes()})
}

// MarshalElGamalPrivateKey encodes priv including the secret exponent.
func MarshalElGamalPrivateKey(priv *elgamal.PrivateKey) ([]byte, error) {
	return cbor.Marshal(&elgamalKey{
		P: priv.P.Bytes(), G: priv.G.Bytes(), Y: priv.Y.Bytes(), X: priv.X.Bytes(),
	})
}

// ParseElGamalPublicKey decodes a key produced by MarshalElGamalPublicKey.
func ParseElGamalPublicKey(data []byte) (*elgamal.PublicKey, error) {
	k, err := decodeElGamalKey(data)
	if err != nil {
		return nil, err
	}
	return &elgamal.PublicKey{
		P: new(big.Int).SetBytes(k.P),
		G: new(big.Int).SetBytes(k.G),
		Y: new(big.Int).SetBytes(k.Y),
	}, nil
}

// ParseElGamalPrivateKey decodes a key produced by MarshalElGamalPrivateKey.
func ParseElGamalPrivateKey(data []byte) (*elgamal.PrivateKey, error) {
	k, err := decodeElGamalKey(data)
	if err != nil {
		return nil, err
	}
	if len(k.X) == 0 {
		return nil, fmt.Errorf("%w: ElGamal key has no private exponent", ErrInvalidKey)
	}
	return &elgamal.PrivateKey{
		PublicKey: elgamal.PublicKey{
			P: new(big.Int).SetBytes(k.P),
			G: new(big.Int).SetBytes(k.G),
			Y: new(big.Int).SetBytes(k.Y),
		},
		X: new(big.Int).SetBytes(k.X),
	}, nil
}

func decodeElGamalKey(data []byte) (*elgamalKey, error) {
	var k elgamalKey
	if err := cbor.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(k.P) == 0 || len(k.G) == 0 || len(k.Y) == 0 {
		return nil, fmt.Errorf("%w: incomplete ElGamal key", ErrInvalidKey)
	}
	return &k, nil
}

// elgamalCipherer encrypts with ElGamal over a fixed MODP group. Ciphertexts
// are c1 || c2, each left padded to the modulus length.
type elgamalCipherer struct {
	bits int
	pub  *elgamal.PublicKey
	priv *elgamal.PrivateKey
}

func (c *elgamalCipherer) Algorithm() Algorithm { return ElGamal }

func (c *elgamalCipherer) KeyBits() int { return c.bits }

func (c *elgamalCipherer) Initialize(keyBits int) error {
	if _, ok := elgamalGroups[keyBits]; !ok {
		return unsupportedSize(ElGamal, keyBits)
	}
	c.bits = keyBits
	return nil
}

func (c *elgamalCipherer) GenerateKey() error {
	priv, err := GenerateElGamalKey(c.bits)
	if err != nil {
		return err
	}
	c.priv, c.pub = priv, &priv.PublicKey
	return nil
}

func (c *elgamalCipherer) PublicKey() ([]byte, error) {
	if c.pub == nil {
		return nil, ErrNoKey
	}
	return MarshalElGamalPublicKey(c.pub)
}

func (c *elgamalCipherer) SetPublicKey(der []byte) error {
	pub, err := ParseElGamalPublicKey(der)
	if err != nil {
		return err
	}
	c.pub, c.bits = pub, pub.P.BitLen()
	return nil
}

func (c *elgamalCipherer) PrivateKey() ([]byte, error) {
	if c.priv == nil {
		return nil, ErrNoKey
	}
	return MarshalElGamalPrivateKey(c.priv)
}

func (c *elgamalCipherer) SetPrivateKey(der []byte) error {
	priv, err := ParseElGamalPrivateKey(der)
	if err != nil {
		return err
	}
	c.priv, c.pub, c.bits = priv, &priv.PublicKey, priv.P.BitLen()
	return nil
}

func (c *elgamalCipherer) Encrypt(plaintext []byte) ([]byte, error) {
	if c.pub == nil {
		return nil, ErrNoKey
	}
	c1, c2, err := elgamal.Encrypt(rand.Reader, c.pub, plaintext)
	if err != nil {
		return nil, err
	}
	size := (c.pub.P.BitLen() + 7) / 8
	out := make([]byte, 2*size)
	c1.FillBytes(out[:size])
	c2.FillBytes(out[size:])
	return out, nil
}

func (c *elgamalCipherer) Decrypt(ciphertext []byte) ([]byte, error) {
	if c.priv == nil {
		return nil, ErrNoKey
	}
	size := (c.priv.P.BitLen() + 7) / 8
	if len(ciphertext) != 2*size {
		return nil, errors.New("ElGamal ciphertext has wrong length")
	}
	c1 := new(big.Int).SetBytes(ciphertext[:size])
	c2 := new(big.Int).SetBytes(ciphertext[size:])
	return elgamal.Decrypt(c.priv, c1, c2)
}
