package record

import (
	"fmt"
	"time"

	"github.com/efsf/efsf-go/interfaces"
)

// DataClassification assigns a record to a TTL policy band.
type DataClassification int

const (
	// Transient data lives seconds to hours: session tokens, OTPs,
	// temporary caches.
	Transient DataClassification = iota
	// ShortLived data lives hours to days: shopping carts, temporary
	// uploads, pending transactions.
	ShortLived
	// RetentionBound data carries a mandated retention period of days to
	// years: invoices, audit logs, compliance records.
	RetentionBound
	// Persistent data is kept indefinitely and destroyed only explicitly:
	// legal holds, archival records.
	Persistent
)

type ttlPolicy struct {
	min        time.Duration
	max        time.Duration // 0 = unbounded
	defaultTTL time.Duration // 0 = none
}

// The policy table is immutable configuration keyed by the closed enum.
var ttlPolicies = map[DataClassification]ttlPolicy{
	Transient:      {min: time.Second, max: 24 * time.Hour, defaultTTL: 15 * time.Minute},
	ShortLived:     {min: time.Hour, max: 30 * 24 * time.Hour, defaultTTL: 24 * time.Hour},
	RetentionBound: {min: 24 * time.Hour, max: 7 * 365 * 24 * time.Hour, defaultTTL: 30 * 24 * time.Hour},
	Persistent:     {min: 365 * 24 * time.Hour, max: 0, defaultTTL: 0},
}

var classificationNames = map[DataClassification]string{
	Transient:      "TRANSIENT",
	ShortLived:     "SHORT_LIVED",
	RetentionBound: "RETENTION_BOUND",
	Persistent:     "PERSISTENT",
}

// ParseClassification resolves a classification name. The empty string
// resolves to Transient, the most restrictive band.
func ParseClassification(name string) (DataClassification, error) {
	if name == "" {
		return Transient, nil
	}
	for c, n := range classificationNames {
		if n == name {
			return c, nil
		}
	}
	return 0, &interfaces.ValidationError{Field: "classification", Msg: fmt.Sprintf("unknown classification %q", name)}
}

// String returns the canonical wire name.
func (c DataClassification) String() string {
	if n, ok := classificationNames[c]; ok {
		return n
	}
	return "UNKNOWN"
}

// MarshalText implements encoding.TextMarshaler for JSON wire use.
func (c DataClassification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *DataClassification) UnmarshalText(text []byte) error {
	parsed, err := ParseClassification(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MinTTL returns the lower TTL bound for this classification.
func (c DataClassification) MinTTL() time.Duration { return ttlPolicies[c].min }

// MaxTTL returns the upper TTL bound, or 0 if unbounded.
func (c DataClassification) MaxTTL() time.Duration { return ttlPolicies[c].max }

// DefaultTTL returns the TTL applied when the caller supplies none, or 0
// if the classification has no default (Persistent).
func (c DataClassification) DefaultTTL() time.Duration { return ttlPolicies[c].defaultTTL }

// AllowsNoTTL reports whether records of this classification may omit a
// TTL entirely. Only Persistent does.
func (c DataClassification) AllowsNoTTL() bool { return c == Persistent }

// ValidateTTL checks a TTL against the classification's bounds. The error
// names the exceeded bound.
func (c DataClassification) ValidateTTL(ttl time.Duration) error {
	p, ok := ttlPolicies[c]
	if !ok {
		return &interfaces.ValidationError{Field: "classification", Msg: fmt.Sprintf("unknown classification %d", int(c))}
	}
	if ttl <= 0 {
		if c.AllowsNoTTL() {
			return nil
		}
		return &interfaces.ValidationError{Field: "ttl", Msg: fmt.Sprintf("%s requires a ttl", c)}
	}
	if ttl < p.min {
		return &interfaces.ValidationError{
			Field: "ttl",
			Msg:   fmt.Sprintf("%s is below the %s minimum of %s", ttl, c, p.min),
		}
	}
	if p.max != 0 && ttl > p.max {
		return &interfaces.ValidationError{
			Field: "ttl",
			Msg:   fmt.Sprintf("%s exceeds the %s maximum of %s", ttl, c, p.max),
		}
	}
	return nil
}

// ResolveTTL applies the classification default when the caller provided
// no TTL, then validates the result. The returned TTL is 0 only for
// Persistent records with no expiry.
func (c DataClassification) ResolveTTL(ttl time.Duration) (time.Duration, error) {
	if ttl <= 0 {
		ttl = c.DefaultTTL()
	}
	if err := c.ValidateTTL(ttl); err != nil {
		return 0, err
	}
	return ttl, nil
}
