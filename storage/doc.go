// Package storage provides the durable storage backends behind the
// ephemeral store, selected by URI.
//
// # Storage URI Format
//
// Backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - memory:// - In-process map, for testing and single-node use
//   - redis://host:port/db, rediss:// - Redis with native key expiry
//   - vault://host:port/mount/path?token=... - HashiCorp Vault KV v2
//
// # Expiry Contract
//
// Every backend enforces expiry at or before the TTL it was given on
// Set. Redis does this natively; the memory and Vault backends record an
// expiry timestamp and enforce it lazily on Exists and TTL. Get
// deliberately returns a value that has expired but not yet been reaped:
// the ephemeral store uses that window to run its destruction-on-read
// path, which shreds the encryption key and issues a certificate.
//
// An absent key is interfaces.ErrKeyNotFound regardless of whether it
// never existed or was already reaped; connectivity failures are
// reported as interfaces.BackendError and never conflated with expiry.
package storage
