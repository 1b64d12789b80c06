package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

// ErrEnvelopeParse is returned for payloads that are not a well formed envelope.
var ErrEnvelopeParse = errors.New("envelope parse error")

// Codec encodes and decodes one envelope schema.
type Codec interface {
	// Root is the XML root element name of the schema.
	Root() string
	Encode(e *Envelope) ([]byte, error)
	Decode(data []byte) (*Envelope, error)
}

var (
	// Canonical is the clear-IV "privacyPackage" schema.
	Canonical Codec = canonicalCodec{}
	// Legacy is the encrypted-IV "encryptedSensorData" schema.
	Legacy Codec = legacyCodec{}
)

var codecs = []Codec{Canonical, Legacy}

// Encode serializes e with the codec matching its scheme.
func Encode(e *Envelope) ([]byte, error) {
	if e.Scheme == SchemeLegacy {
		return Legacy.Encode(e)
	}
	return Canonical.Encode(e)
}

// Decode sniffs the root element of data and dispatches to the matching codec.
func Decode(data []byte) (*Envelope, error) {
	root, err := rootElement(data)
	if err != nil {
		return nil, err
	}
	for _, c := range codecs {
		if c.Root() == root {
			return c.Decode(data)
		}
	}
	return nil, fmt.Errorf("%w: unknown root element %q", ErrEnvelopeParse, root)
}

func rootElement(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", fmt.Errorf("%w: no root element", ErrEnvelopeParse)
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrEnvelopeParse, err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}

type canonicalXML struct {
	XMLName               xml.Name `xml:"privacyPackage"`
	SensorURI             string   `xml:"sensorUri"`
	SymmetricAlgorithm    string   `xml:"symmetricAlgorithm"`
	ContentLifetime       int      `xml:"contentLifetime"`
	EncryptedContent      string   `xml:"encryptedContent"`
	InitializationVector  string   `xml:"initializationVector"`
	EncryptedSymmetricKey string   `xml:"encryptedSymmetricKey"`
}

type canonicalCodec struct{}

func (canonicalCodec) Root() string { return "privacyPackage" }

func (canonicalCodec) Encode(e *Envelope) ([]byte, error) {
	doc := canonicalXML{
		SensorURI:             e.PseudonymOrOriginURI,
		SymmetricAlgorithm:    e.SymmetricAlgorithmCode,
		ContentLifetime:       e.ContentLifetime,
		EncryptedContent:      base64.StdEncoding.EncodeToString(e.EncryptedContent),
		InitializationVector:  base64.StdEncoding.EncodeToString(e.InitializationVector),
		EncryptedSymmetricKey: base64.StdEncoding.EncodeToString(e.EncryptedSymmetricKey),
	}
	return marshalDocument(&doc)
}

func (canonicalCodec) Decode(data []byte) (*Envelope, error) {
	var doc canonicalXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnvelopeParse, err)
	}
	if doc.SymmetricAlgorithm == "" {
		return nil, fmt.Errorf("%w: missing symmetricAlgorithm", ErrEnvelopeParse)
	}

	content, err := decodeField("encryptedContent", doc.EncryptedContent)
	if err != nil {
		return nil, err
	}
	iv, err := decodeField("initializationVector", doc.InitializationVector)
	if err != nil {
		return nil, err
	}
	key, err := decodeField("encryptedSymmetricKey", doc.EncryptedSymmetricKey)
	if err != nil {
		return nil, err
	}
	return New(doc.SensorURI, doc.SymmetricAlgorithm, content, iv, key, doc.ContentLifetime), nil
}

func marshalDocument(v any) ([]byte, error) {
	body, err := xml.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

func decodeField(name, value string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEnvelopeParse, name, err)
	}
	return b, nil
}
