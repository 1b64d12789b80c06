package services

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/protocol"
)

var (
	// ErrUnknownPeer is returned when an update cannot be attributed to any
	// registered data origin.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrDiscoveryFailed is returned when a peer's resource directory cannot
	// be fetched.
	ErrDiscoveryFailed = errors.New("discovery failed")

	// ErrSubscriptionTimeout ends an observe subscription whose peer went away.
	ErrSubscriptionTimeout = errors.New("subscription timed out")

	// ErrCertificateInvalid is returned for certificates that cannot be
	// decoded or are outside their validity window.
	ErrCertificateInvalid = errors.New("certificate invalid")

	// ErrNoRecipient is returned when encrypting without any known recipient key.
	ErrNoRecipient = errors.New("no recipient public key known")

	// ErrAmbiguousRecipient is returned when more than one recipient key is known.
	ErrAmbiguousRecipient = errors.New("more than one recipient public key known")
)

// Well-known resource paths.
const (
	RegistryPath    = "/registry"
	CertificatePath = "/certificate"
	ForwardingPath  = "/forwarding"
)

// ServiceURI identifies a resource on a peer.
type ServiceURI struct {
	// Endpoint is the peer's host:port.
	Endpoint string
	// Path is the absolute resource path.
	Path string
}

// String renders the URI as endpoint followed by path.
func (u ServiceURI) String() string {
	return u.Endpoint + u.Path
}

// ParseServiceURI splits "host:port/path" into its parts.
func ParseServiceURI(s string) (ServiceURI, error) {
	s = strings.TrimPrefix(s, "//")
	i := strings.IndexByte(s, '/')
	if i <= 0 {
		return ServiceURI{}, fmt.Errorf("malformed service URI %q", s)
	}
	endpoint, err := normalizeEndpoint(s[:i])
	if err != nil {
		return ServiceURI{}, err
	}
	return ServiceURI{Endpoint: endpoint, Path: s[i:]}, nil
}

// DefaultPort is assumed for endpoints given without a port.
const DefaultPort = "5683"

// normalizeEndpoint canonicalises host:port so that equal endpoints compare
// equal as strings.
func normalizeEndpoint(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", errors.New("empty endpoint")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// No port, possibly a bare IPv6 literal.
		host, port = strings.Trim(addr, "[]"), DefaultPort
	}
	if host == "" {
		return "", fmt.Errorf("endpoint %q has no host", addr)
	}
	return net.JoinHostPort(strings.ToLower(host), port), nil
}

// RegistrationEntry ties a data origin to the SSP it publishes for.
type RegistrationEntry struct {
	OriginAddress   string
	SSPAddress      string
	WebservicePaths []string
}

// HasPath reports whether path was discovered on the origin.
func (e *RegistrationEntry) HasPath(path string) bool {
	for _, p := range e.WebservicePaths {
		if p == path {
			return true
		}
	}
	return false
}

func (e *RegistrationEntry) clone() *RegistrationEntry {
	c := *e
	c.WebservicePaths = append([]string(nil), e.WebservicePaths...)
	return &c
}

// PublicKeyRecord is a peer's public key learned through certificate exchange.
type PublicKeyRecord struct {
	PeerAddress string
	// PublicKey is PKIX DER, or the compact ElGamal encoding.
	PublicKey []byte
	// AlgorithmHint names the asymmetric algorithm implied by the key.
	AlgorithmHint string
}

// Event flows from the transport facing components to a single consumer.
type Event interface {
	isEvent()
}

// RegistrationReceived is raised when a data origin registers with the proxy.
type RegistrationReceived struct {
	Origin string
	SSP    string
}

// SSPNotified reports the outcome of announcing a forwarding channel to an SSP.
type SSPNotified struct {
	Origin  string
	Channel string
	Err     error
}

// ServiceDiscovered is raised once per resource found in a peer's directory.
type ServiceDiscovered struct {
	Origin string
	URI    ServiceURI
}

// DiscoveryFailed reports that a peer's directory could not be fetched.
type DiscoveryFailed struct {
	Origin string
	Err    error
}

// UpdateReceived carries one notification of an observed resource. Payload is
// opaque and must be passed on unchanged.
type UpdateReceived struct {
	URI           ServiceURI
	ContentFormat protocol.ContentFormat
	Payload       []byte
	MaxAge        uint32
}

// SubscriptionEnded is raised when an observe subscription terminates.
type SubscriptionEnded struct {
	URI ServiceURI
	Err error
}

func (RegistrationReceived) isEvent() {}
func (SSPNotified) isEvent()          {}
func (ServiceDiscovered) isEvent()    {}
func (DiscoveryFailed) isEvent()      {}
func (UpdateReceived) isEvent()       {}
func (SubscriptionEnded) isEvent()    {}
