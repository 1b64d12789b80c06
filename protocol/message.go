package protocol

import (
	"fmt"
	"strings"
)

// Method is the request method of an exchange.
type Method string

const (
	GET  Method = "GET"
	POST Method = "POST"
	PUT  Method = "PUT"
)

// Code is a CoAP-style response code, class*32 + detail.
type Code uint8

const (
	Created             Code = 2<<5 | 1
	Deleted             Code = 2<<5 | 2
	Valid               Code = 2<<5 | 3
	Changed             Code = 2<<5 | 4
	Content             Code = 2<<5 | 5
	BadRequest          Code = 4<<5 | 0
	Forbidden           Code = 4<<5 | 3
	NotFound            Code = 4<<5 | 4
	MethodNotAllowed    Code = 4<<5 | 5
	NotAcceptable       Code = 4<<5 | 6
	InternalServerError Code = 5<<5 | 0
	ServiceUnavailable  Code = 5<<5 | 3
	GatewayTimeout      Code = 5<<5 | 4
)

// Class returns the code class (2, 4 or 5).
func (c Code) Class() uint8 { return uint8(c) >> 5 }

// Detail returns the code detail.
func (c Code) Detail() uint8 { return uint8(c) & 0x1f }

// Success reports whether c is a 2.xx code.
func (c Code) Success() bool { return c.Class() == 2 }

// String renders the code in dotted form, e.g. "2.05".
func (c Code) String() string {
	return fmt.Sprintf("%d.%02d", c.Class(), c.Detail())
}

// ContentFormat tags a payload with its representation.
type ContentFormat uint16

// NoFormat marks a response without a content-format option.
const NoFormat ContentFormat = 0xffff

const (
	TextPlain         ContentFormat = 0
	LinkFormat        ContentFormat = 40
	Certificate       ContentFormat = 65100
	EncryptedRDFXML   ContentFormat = 65101
	EncryptedN3       ContentFormat = 65102
	EncryptedTurtle   ContentFormat = 65103
	PrivacyPackageXML ContentFormat = 65104
)

var formatMIME = map[ContentFormat]string{
	TextPlain:         "text/plain",
	LinkFormat:        "application/link-format",
	Certificate:       "application/x-privacy-certificate",
	EncryptedRDFXML:   "application/x-encrypted-rdf+xml",
	EncryptedN3:       "application/x-encrypted-n3",
	EncryptedTurtle:   "application/x-encrypted-turtle",
	PrivacyPackageXML: "application/x-privacy-package+xml",
}

// EncryptedFormats lists the formats an observer accepts for relayed sensor data.
var EncryptedFormats = []ContentFormat{
	EncryptedRDFXML,
	EncryptedN3,
	EncryptedTurtle,
	PrivacyPackageXML,
}

// MIME returns the media type of the format, or "" if unknown.
func (f ContentFormat) MIME() string {
	return formatMIME[f]
}

// String returns the media type or the numeric code when unknown.
func (f ContentFormat) String() string {
	if m, ok := formatMIME[f]; ok {
		return m
	}
	return fmt.Sprintf("content-format(%d)", uint16(f))
}

// Encrypted reports whether f is one of the encrypted sensor data formats.
func (f ContentFormat) Encrypted() bool {
	for _, e := range EncryptedFormats {
		if e == f {
			return true
		}
	}
	return false
}

// ParseMIME resolves a media type to a content-format.
func ParseMIME(mime string) (ContentFormat, bool) {
	mime = strings.TrimSpace(mime)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	for f, m := range formatMIME {
		if m == mime {
			return f, true
		}
	}
	return NoFormat, false
}

// FormatForSerialization maps a declared RDF serialization language to the
// encrypted content-format carrying it.
func FormatForSerialization(lang string) (ContentFormat, error) {
	switch strings.ToUpper(strings.TrimSpace(lang)) {
	case "RDF/XML", "RDF_XML", "XML":
		return EncryptedRDFXML, nil
	case "N3", "N-TRIPLES":
		return EncryptedN3, nil
	case "TURTLE", "TTL":
		return EncryptedTurtle, nil
	}
	return NoFormat, fmt.Errorf("unsupported serialization language %q", lang)
}

// Request is a single transport request.
type Request struct {
	Method        Method
	Path          string
	Accept        []ContentFormat
	Observe       bool
	ContentFormat ContentFormat
	Payload       []byte

	// Peer is the advertised endpoint (host:port) of the sender, filled in by
	// the transport on the receiving side.
	Peer string
}

// Accepts reports whether f is acceptable for the request. An empty Accept
// list accepts anything.
func (r *Request) Accepts(f ContentFormat) bool {
	if len(r.Accept) == 0 {
		return true
	}
	for _, a := range r.Accept {
		if a == f {
			return true
		}
	}
	return false
}

// Response is a single response or observe notification.
type Response struct {
	Code          Code          `cbor:"1,keyasint"`
	ContentFormat ContentFormat `cbor:"2,keyasint"`
	MaxAge        uint32        `cbor:"3,keyasint"`
	Payload       []byte        `cbor:"4,keyasint"`
}

// DefaultMaxAge is the max-age assumed when a response does not carry one.
const DefaultMaxAge = 60

// NewResponse builds a response with the given code and no payload.
func NewResponse(code Code) *Response {
	return &Response{Code: code, ContentFormat: NoFormat, MaxAge: DefaultMaxAge}
}

// Errorf builds an error response with a human readable text body.
func Errorf(code Code, format string, args ...any) *Response {
	return &Response{
		Code:          code,
		ContentFormat: TextPlain,
		Payload:       []byte(fmt.Sprintf(format, args...)),
	}
}
