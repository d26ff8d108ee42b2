// Package store implements the ephemeral lifecycle engine: encrypted
// put/get with TTL enforcement, crypto-shredding on expiry or explicit
// destruction, and signed destruction certificates.
//
// # Record Lifecycle
//
// A record moves through three conceptual states:
//
//	ACTIVE -> EXPIRED (TTL elapsed, not yet reaped) -> DESTROYED
//
// DESTROYED is terminal: the record's encryption key is shredded, the
// backend entry is removed, and a certificate is issued. The storage
// backend is the authoritative source of liveness; the store's own maps
// are local, best-effort audit state and are not shared across store
// instances.
//
// # Concurrency
//
// Operations on distinct record ids are independent. Operations on the
// same id are serialized through striped per-id locks so a reader can
// never observe a record mid-destruction: shredding the key, deleting
// the backend entry, and registering the certificate form one critical
// section per record id.
//
// # Expiry Handling
//
// Expiry discovered on read runs the full destruction routine, including
// certificate issuance, synchronously inline with the read before
// RecordExpiredError is returned. That read therefore pays the
// certificate-issuance cost. The optional reaper started by StartReaper
// only bounds how long an expired record's key sits un-shredded; it is a
// liveness aid, not required for correctness.
package store
