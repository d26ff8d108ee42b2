// Package cryptoutils provides the framework's cryptographic layer:
// single-use data encryption keys (DEKs) bound to a TTL, AES-256-GCM
// authenticated encryption, and HKDF-based domain-separated key
// derivation from a provider-held master key.
//
// # Key Lifecycle Binding
//
// A DEK's lifetime must equal, never exceed, the TTL of the record it
// protects. Destroying a DEK overwrites its material (one random pass,
// then zeros) and permanently fails any later use: this is the
// crypto-shredding primitive the rest of the framework is built on.
//
// # Nonce Discipline
//
// Every encryption draws a fresh 96-bit random nonce. Nonce reuse under a
// fixed key breaks GCM entirely; no API in this package accepts a
// caller-supplied nonce.
package cryptoutils
