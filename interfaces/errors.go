package interfaces

import (
	"fmt"
	"time"
)

// RecordNotFoundError indicates a record for which neither backend data
// nor a destruction certificate exists: it never existed, or was lost
// outside this system's knowledge.
type RecordNotFoundError struct {
	ID string
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("record not found: %s", e.ID)
}

// RecordExpiredError indicates that a record's TTL was honored and its
// data is permanently unrecoverable by design. This is the system working
// as intended, surfaced as an error only because the data cannot be
// produced.
type RecordExpiredError struct {
	ID        string
	ExpiredAt time.Time
}

func (e *RecordExpiredError) Error() string {
	if e.ExpiredAt.IsZero() {
		return fmt.Sprintf("record expired and destroyed: %s", e.ID)
	}
	return fmt.Sprintf("record expired and destroyed: %s (expired at %s)", e.ID, e.ExpiredAt.UTC().Format(time.RFC3339))
}

// CryptoReason classifies a CryptoError so callers can distinguish
// "data permanently unrecoverable" from "data tampered".
type CryptoReason string

const (
	// ReasonKeyDestroyed: the DEK was crypto-shredded.
	ReasonKeyDestroyed CryptoReason = "key destroyed"
	// ReasonKeyExpired: the DEK's lifetime elapsed.
	ReasonKeyExpired CryptoReason = "key expired"
	// ReasonKeyNotFound: no such DEK is registered.
	ReasonKeyNotFound CryptoReason = "key not found"
	// ReasonTampered: AEAD authentication tag verification failed.
	ReasonTampered CryptoReason = "authentication failed"
)

// CryptoError reports a key-lifecycle or authenticated-encryption failure.
type CryptoError struct {
	Op     string
	KeyID  string
	Reason CryptoReason
	Err    error
}

func (e *CryptoError) Error() string {
	if e.KeyID != "" {
		return fmt.Sprintf("crypto %s: %s (key %s)", e.Op, e.Reason, e.KeyID)
	}
	return fmt.Sprintf("crypto %s: %s", e.Op, e.Reason)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// Unrecoverable reports whether the failure means the protected data can
// never be decrypted again, as opposed to having been tampered with.
func (e *CryptoError) Unrecoverable() bool {
	switch e.Reason {
	case ReasonKeyDestroyed, ReasonKeyExpired, ReasonKeyNotFound:
		return true
	}
	return false
}

// AttestationError reports a structurally invalid verification attempt,
// such as verifying a certificate that was never signed. A signature that
// simply fails to verify is not an AttestationError.
type AttestationError struct {
	Msg string
}

func (e *AttestationError) Error() string {
	return "attestation: " + e.Msg
}

// BackendError reports a storage connectivity or I/O failure. It is never
// used for expiry: an expired entry is an absence, not a failure.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// ValidationError reports invalid caller input: a TTL outside its
// classification's bounds, an unparseable TTL string, or an unsupported
// backend scheme.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
	}
	return "invalid input: " + e.Msg
}
