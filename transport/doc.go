// Package transport carries protocol requests over HTTP.
//
// Single exchanges are plain HTTP requests routed with chi. The request path
// is the resource path, the Accept header lists acceptable media types and
// the response carries its code, content-format and max-age in headers.
//
// Observe subscriptions are websocket streams opened on the resource path.
// The server sends the current representation immediately and a fresh one
// every time the resource changes. Every notification is one binary frame
// holding a CBOR encoded protocol.Response. An error notification ends the
// stream.
//
// Requests carry the sender's advertised endpoint in the Origin-Endpoint
// header. Receivers use it as protocol.Request.Peer and fall back to the
// remote address of the connection.
//
// # Server lifecycle
//
// The Server binds its listener in New so that Addr is known before
// RunInBackground starts serving. It exposes /livez, /readyz, /drain and
// /undrain beside the protocol resources, and optionally a Prometheus
// metrics listener on a separate address. Resources may be added while the
// server is running.
package transport
