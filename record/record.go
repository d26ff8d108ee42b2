package record

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/efsf/efsf-go/interfaces"
)

// EphemeralRecord is the metadata entity for one stored datum. The
// invariant ExpiresAt = CreatedAt + TTL holds whenever TTL is non-zero;
// a zero TTL (Persistent only) means no expiry. KeyID stays non-empty
// for as long as the record has not been destroyed.
type EphemeralRecord struct {
	ID             string
	Classification DataClassification
	CreatedAt      time.Time
	ExpiresAt      time.Time
	TTL            time.Duration
	KeyID          string
	AccessCount    uint64
	Metadata       map[string]string
}

// New creates a record with a validated TTL. A zero ttl resolves to the
// classification's default; classifications without a default reject it.
func New(ttl time.Duration, classification DataClassification, metadata map[string]string, clock interfaces.Clock) (*EphemeralRecord, error) {
	if clock == nil {
		clock = interfaces.SystemClock
	}

	resolved, err := classification.ResolveTTL(ttl)
	if err != nil {
		return nil, err
	}

	now := clock.Now().UTC()
	r := &EphemeralRecord{
		ID:             uuid.NewString(),
		Classification: classification,
		CreatedAt:      now,
		TTL:            resolved,
		Metadata:       metadata,
	}
	if resolved > 0 {
		r.ExpiresAt = now.Add(resolved)
	}
	return r, nil
}

// IsExpired reports whether the record's TTL has elapsed according to the
// given clock. Records without expiry never expire.
func (r *EphemeralRecord) IsExpired(clock interfaces.Clock) bool {
	if clock == nil {
		clock = interfaces.SystemClock
	}
	if r.ExpiresAt.IsZero() {
		return false
	}
	return !clock.Now().Before(r.ExpiresAt)
}

// Remaining returns the time left before expiry, clamped at zero, or 0
// for records without expiry.
func (r *EphemeralRecord) Remaining(clock interfaces.Clock) time.Duration {
	if clock == nil {
		clock = interfaces.SystemClock
	}
	if r.ExpiresAt.IsZero() {
		return 0
	}
	remaining := r.ExpiresAt.Sub(clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// recordJSON is the wire form of a record. TTL travels as integer
// milliseconds.
type recordJSON struct {
	ID             string             `json:"id"`
	Classification DataClassification `json:"classification"`
	CreatedAt      time.Time          `json:"created_at"`
	ExpiresAt      *time.Time         `json:"expires_at,omitempty"`
	TTLMillis      int64              `json:"ttl,omitempty"`
	KeyID          string             `json:"key_id"`
	AccessCount    uint64             `json:"access_count"`
	Metadata       map[string]string  `json:"metadata,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r *EphemeralRecord) MarshalJSON() ([]byte, error) {
	wire := recordJSON{
		ID:             r.ID,
		Classification: r.Classification,
		CreatedAt:      r.CreatedAt,
		TTLMillis:      r.TTL.Milliseconds(),
		KeyID:          r.KeyID,
		AccessCount:    r.AccessCount,
		Metadata:       r.Metadata,
	}
	if !r.ExpiresAt.IsZero() {
		expires := r.ExpiresAt
		wire.ExpiresAt = &expires
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *EphemeralRecord) UnmarshalJSON(data []byte) error {
	var wire recordJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	r.ID = wire.ID
	r.Classification = wire.Classification
	r.CreatedAt = wire.CreatedAt
	r.TTL = time.Duration(wire.TTLMillis) * time.Millisecond
	r.KeyID = wire.KeyID
	r.AccessCount = wire.AccessCount
	r.Metadata = wire.Metadata
	if wire.ExpiresAt != nil {
		r.ExpiresAt = *wire.ExpiresAt
	} else {
		r.ExpiresAt = time.Time{}
	}
	return nil
}
