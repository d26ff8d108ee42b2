// Package interfaces defines the contracts shared across the framework:
// the pluggable storage backend, the injectable time source, and the
// error taxonomy surfaced to callers.
//
// # Storage Backend
//
// StorageBackend is a capability-set abstraction over durable key/value
// stores with TTL support:
//
//	type StorageBackend interface {
//	    Set(ctx, key, value, ttl) error
//	    Get(ctx, key) ([]byte, error)
//	    Delete(ctx, key) (bool, error)
//	    Exists(ctx, key) (bool, error)
//	    TTL(ctx, key) (time.Duration, error)
//	    Name() string
//	    Close() error
//	}
//
// The backend is the authoritative source of record liveness. It enforces
// its own expiry at or before the requested TTL. An absent key conflates
// "never existed" with "already reaped"; the ephemeral store disambiguates
// for users through its certificate bookkeeping.
//
// # Error Taxonomy
//
// Callers distinguish outcomes with errors.As against the typed errors in
// this package:
//
//   - RecordNotFoundError: no record and no certificate
//   - RecordExpiredError: TTL honored, data gone by design
//   - CryptoError: key lifecycle or authentication failure
//   - AttestationError: verification of a structurally unsigned certificate
//   - BackendError: storage connectivity or I/O failure
//   - ValidationError: TTL out of bounds, bad TTL string, bad backend URI
//
// RecordExpiredError reports a success of the system's core guarantee; it
// is surfaced as an error only because the requested data can no longer be
// produced.
package interfaces
