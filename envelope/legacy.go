package envelope

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

type encryptionMethod struct {
	Method      string `xml:"method"`
	BitStrength int    `xml:"bitStrength"`
}

type legacyXML struct {
	XMLName              xml.Name         `xml:"encryptedSensorData"`
	SensorURI            string           `xml:"sensorUri"`
	Asymmetric           encryptionMethod `xml:"asymmetricEncryption"`
	Symmetric            encryptionMethod `xml:"symmetricEncryption"`
	ContentLifetime      int              `xml:"contentLifetime"`
	EncryptedContent     string           `xml:"encryptedContent"`
	InitializationVector string           `xml:"initializationVector"`
	EncryptedKey         string           `xml:"encryptedKey"`
}

type legacyCodec struct{}

func (legacyCodec) Root() string { return "encryptedSensorData" }

func (legacyCodec) Encode(e *Envelope) ([]byte, error) {
	symMethod, symBits, err := SplitCode(e.SymmetricAlgorithmCode)
	if err != nil {
		return nil, err
	}
	asymMethod, asymBits, err := SplitCode(e.AsymmetricAlgorithmCode)
	if err != nil {
		return nil, err
	}
	doc := legacyXML{
		SensorURI:            e.PseudonymOrOriginURI,
		Asymmetric:           encryptionMethod{Method: asymMethod, BitStrength: asymBits},
		Symmetric:            encryptionMethod{Method: symMethod, BitStrength: symBits},
		ContentLifetime:      e.ContentLifetime,
		EncryptedContent:     base64.StdEncoding.EncodeToString(e.EncryptedContent),
		InitializationVector: base64.StdEncoding.EncodeToString(e.InitializationVector),
		EncryptedKey:         base64.StdEncoding.EncodeToString(e.EncryptedSymmetricKey),
	}
	return marshalDocument(&doc)
}

func (legacyCodec) Decode(data []byte) (*Envelope, error) {
	var doc legacyXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnvelopeParse, err)
	}
	if doc.Symmetric.Method == "" || doc.Asymmetric.Method == "" {
		return nil, fmt.Errorf("%w: missing encryption method", ErrEnvelopeParse)
	}

	content, err := decodeField("encryptedContent", doc.EncryptedContent)
	if err != nil {
		return nil, err
	}
	iv, err := decodeField("initializationVector", doc.InitializationVector)
	if err != nil {
		return nil, err
	}
	key, err := decodeField("encryptedKey", doc.EncryptedKey)
	if err != nil {
		return nil, err
	}
	return NewLegacy(
		doc.SensorURI,
		JoinCode(doc.Symmetric.Method, doc.Symmetric.BitStrength),
		JoinCode(doc.Asymmetric.Method, doc.Asymmetric.BitStrength),
		content, iv, key, doc.ContentLifetime,
	), nil
}

// JoinCode builds a compact algorithm code such as "AES-128".
func JoinCode(method string, bits int) string {
	return method + "-" + strconv.Itoa(bits)
}

// SplitCode parses a compact algorithm code into method and bit length.
func SplitCode(code string) (string, int, error) {
	i := strings.LastIndexByte(code, '-')
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed algorithm code %q", code)
	}
	bits, err := strconv.Atoi(code[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed algorithm code %q", code)
	}
	return code[:i], bits, nil
}
