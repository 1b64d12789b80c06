// Package pseudonym derives time-windowed pseudonyms for sensor identifiers.
//
// A pseudonym is base64(HMAC-SHA256(secret, identifier || t)) where t is the
// current wall clock in milliseconds truncated to the start of the window.
// No state is kept between calls, so any party that knows the identifier, the
// window and the secret can recompute the current pseudonym independently.
//
// SecretStore persists per-sensor secrets so pseudonyms stay stable across
// restarts of a data origin.
package pseudonym
