// Package protocol defines the observe-capable request/response model the
// privacy relay is built on.
//
// The model follows CoAP semantics without tying the rest of the module to a
// particular wire transport:
//
//   - Requests carry a method, a path, an Accept list of content-formats and an
//     optional observe flag.
//   - Responses carry a dotted response code (2.05 Content, 4.05 Method Not
//     Allowed, ...), a content-format, a max-age in seconds and an opaque body.
//   - An observe request yields an unbounded sequence of responses, one per
//     change of the observed resource.
//
// # Content formats
//
// The relay moves only a handful of representations:
//
//   - LinkFormat for /.well-known/core directory listings
//   - Certificate for base64 DER X.509 certificates
//   - EncryptedRDFXML, EncryptedN3, EncryptedTurtle and PrivacyPackageXML for
//     sensor envelopes, tagged by the serialization language of the plaintext
//
// # Link format
//
// ParseLinkFormat and FormatLinks implement the subset of RFC 6690 used for
// service discovery: comma separated "</path>;attr=value" entries.
//
// Concrete transports live in the transport package.
package protocol
