// Package attestation produces tamper-evident proof of destruction:
// hash-chained chains of custody, signed destruction certificates, and
// the authority that issues and verifies them.
//
// # Chain of Custody
//
// Access events are linked by a SHA-256 hash chain:
//
//	hash[0] = H(event[0])
//	hash[n] = H(hash[n-1] || H(event[n]))
//
// Any mutation of a historical event changes every subsequent hash, so
// replaying the chain detects tampering in O(1) work per event. This is a
// deliberate trade-off against a Merkle tree: cheap appends and cheap
// whole-chain verification, without provability of individual historical
// entries in isolation.
//
// # Destruction Certificates
//
// Certificates are signed with Ed25519 over a deterministic canonical
// byte serialization that excludes the signature itself. Ed25519 keeps
// signatures small and verification fast under high destruction-event
// volume. Certificates embed only the last five custody hashes to bound
// size; the true total access count is retained.
//
// The authority's private key never leaves it. Construct one authority
// per process and inject it into every signer and verifier; it is not an
// ambient singleton.
package attestation
