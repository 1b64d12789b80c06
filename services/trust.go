package services

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/crypto"
	"github.com/Sebastian-Fischer/PrivIoT-sub000/protocol"
)

// NodeIdentity is a node's certificate and the matching private key.
type NodeIdentity struct {
	Certificate *x509.Certificate
	PrivateKey  any
}

// NewNodeIdentity generates a key pair and a self-signed certificate for
// commonName. RSA and ECIES (P-256) keys are supported; ElGamal keys have
// no certificate encoding.
func NewNodeIdentity(commonName string, alg crypto.Algorithm, bits int, validity time.Duration) (*NodeIdentity, error) {
	var (
		priv any
		pub  any
		err  error
	)
	switch alg {
	case crypto.RSA:
		var k *rsa.PrivateKey
		if k, err = rsa.GenerateKey(rand.Reader, bits); err == nil {
			priv, pub = k, &k.PublicKey
		}
	case crypto.ECIES:
		if bits != 256 {
			return nil, fmt.Errorf("%w: ECIES with %d bit keys", crypto.ErrUnsupportedAlgorithm, bits)
		}
		var k *ecdsa.PrivateKey
		if k, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader); err == nil {
			priv, pub = k, &k.PublicKey
		}
	default:
		return nil, fmt.Errorf("%w: no certificate encoding for %s", crypto.ErrUnsupportedAlgorithm, alg)
	}
	if err != nil {
		return nil, fmt.Errorf("generate %s key: %w", alg, err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, err
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &NodeIdentity{Certificate: cert, PrivateKey: priv}, nil
}

// ParseNodeIdentity reads a PEM certificate and a PEM PKCS#8 private key.
func ParseNodeIdentity(certPEM, keyPEM []byte) (*NodeIdentity, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil || certBlock.Type != "CERTIFICATE" {
		return nil, errors.New("no PEM certificate found")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, errors.New("no PEM private key found")
	}
	priv, err := crypto.ParsePrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, err
	}
	return &NodeIdentity{Certificate: cert, PrivateKey: priv}, nil
}

// MarshalPEM encodes the certificate and the PKCS#8 private key.
func (id *NodeIdentity) MarshalPEM() (certPEM, keyPEM []byte, err error) {
	keyDER, err := crypto.MarshalPrivateKey(id.PrivateKey)
	if err != nil {
		return nil, nil, err
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: id.Certificate.Raw})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

// CertificateHandler serves a node's certificate as base64 DER.
type CertificateHandler struct {
	Identity *NodeIdentity
}

func (h *CertificateHandler) ServeRequest(_ context.Context, req *protocol.Request) *protocol.Response {
	if req.Method != protocol.GET {
		return protocol.Errorf(protocol.MethodNotAllowed, "method %s not allowed, the certificate can only be fetched with GET", req.Method)
	}
	if !req.Accepts(protocol.Certificate) {
		return protocol.Errorf(protocol.NotAcceptable, "certificate is only available as %s", protocol.Certificate)
	}
	resp := protocol.NewResponse(protocol.Content)
	resp.ContentFormat = protocol.Certificate
	resp.Payload = []byte(base64.StdEncoding.EncodeToString(h.Identity.Certificate.Raw))
	return resp
}

// TrustBootstrap fetches peer certificates and records their keys.
type TrustBootstrap struct {
	Client   protocol.Client
	KeyStore *KeyStore

	// AllowInvalidCertificates accepts certificates outside their validity
	// window with a warning instead of failing.
	AllowInvalidCertificates bool

	// Now defaults to time.Now.
	Now func() time.Time

	Log *slog.Logger
}

func (t *TrustBootstrap) logger() *slog.Logger {
	if t.Log == nil {
		return slog.Default()
	}
	return t.Log
}

// RequestCertificate fetches and validates the certificate of peer.
func (t *TrustBootstrap) RequestCertificate(ctx context.Context, peer string) (*x509.Certificate, error) {
	resp, err := t.Client.Do(ctx, peer, &protocol.Request{
		Method: protocol.GET,
		Path:   CertificatePath,
		Accept: []protocol.ContentFormat{protocol.Certificate},
	})
	if err != nil {
		return nil, fmt.Errorf("request certificate from %s: %w", peer, err)
	}
	if !resp.Code.Success() {
		return nil, fmt.Errorf("request certificate from %s: answered %s: %s", peer, resp.Code, resp.Payload)
	}

	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(resp.Payload)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCertificateInvalid, peer, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCertificateInvalid, peer, err)
	}

	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	if at := now(); at.Before(cert.NotBefore) || at.After(cert.NotAfter) {
		err := fmt.Errorf("%w: %s: valid from %s to %s", ErrCertificateInvalid, peer,
			cert.NotBefore.Format(time.RFC3339), cert.NotAfter.Format(time.RFC3339))
		if !t.AllowInvalidCertificates {
			return nil, err
		}
		t.logger().Warn("Accepting certificate outside its validity window", "peer", peer, "err", err)
	}
	return cert, nil
}

// BootstrapRecipient fetches the certificate of peer and stores its public
// key. It returns only after the key is stored.
func (t *TrustBootstrap) BootstrapRecipient(ctx context.Context, peer string) (PublicKeyRecord, error) {
	cert, err := t.RequestCertificate(ctx, peer)
	if err != nil {
		return PublicKeyRecord{}, err
	}

	alg, bits, err := crypto.AlgorithmFromKey(cert.PublicKey)
	if err != nil {
		return PublicKeyRecord{}, fmt.Errorf("%w: %s: %v", ErrCertificateInvalid, peer, err)
	}
	pub, err := crypto.MarshalPublicKey(cert.PublicKey)
	if err != nil {
		return PublicKeyRecord{}, err
	}

	rec := PublicKeyRecord{PeerAddress: peer, PublicKey: pub, AlgorithmHint: string(alg)}
	t.KeyStore.Put(rec)
	t.logger().Info("Stored recipient key", "peer", peer, "algorithm", alg, "bits", bits)
	return rec, nil
}
