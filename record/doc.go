// Package record defines the ephemeral record metadata entity, the data
// classification policy table, and the human-readable TTL grammar.
//
// Every record carries a TTL bound by its classification's [min, max]
// range. The classification table is static configuration: a closed enum,
// not runtime-extensible. Expiry decisions always go through an injected
// Clock so they are deterministic under test.
package record
