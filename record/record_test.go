package record

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efsf/efsf-go/interfaces"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestParseTTL(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"2h", 2 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"90 seconds", 90 * time.Second},
		{"10 MIN", 10 * time.Minute},
		{"1 Hr", time.Hour},
		{" 3 days ", 3 * 24 * time.Hour},
		{"45sec", 45 * time.Second},
		{"2hours", 2 * time.Hour},
	}

	for _, tc := range cases {
		got, err := ParseTTL(tc.in)
		require.NoError(t, err, "ParseTTL(%q) should succeed", tc.in)
		assert.Equal(t, tc.want, got, "ParseTTL(%q)", tc.in)
	}
}

func TestParseTTL_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "10", "m5", "5 moons", "-5m", "5ms", "1w"} {
		_, err := ParseTTL(in)
		require.Error(t, err, "ParseTTL(%q) should fail", in)

		var verr *interfaces.ValidationError
		assert.ErrorAs(t, err, &verr, "ParseTTL(%q) should return a ValidationError", in)
	}
}

func TestFormatTTL(t *testing.T) {
	assert.Equal(t, "5m", FormatTTL(5*time.Minute))
	assert.Equal(t, "2h", FormatTTL(2*time.Hour))
	assert.Equal(t, "3d", FormatTTL(72*time.Hour))
	assert.Equal(t, "90s", FormatTTL(90*time.Second))
}

func TestClassificationBounds(t *testing.T) {
	// Transient accepts its exact maximum.
	assert.NoError(t, Transient.ValidateTTL(24*time.Hour))
	assert.NoError(t, Transient.ValidateTTL(time.Second))

	// One second past the maximum is rejected, naming the bound.
	err := Transient.ValidateTTL(24*time.Hour + time.Second)
	require.Error(t, err)
	var verr *interfaces.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Msg, "TRANSIENT")
	assert.Contains(t, verr.Msg, "maximum")
	assert.Contains(t, verr.Msg, "24h0m0s")

	// Below the minimum is also rejected with the bound named.
	err = ShortLived.ValidateTTL(30 * time.Minute)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Msg, "minimum")

	// Persistent has no upper bound.
	assert.NoError(t, Persistent.ValidateTTL(20*365*24*time.Hour))
}

func TestResolveTTL_Defaults(t *testing.T) {
	got, err := Transient.ResolveTTL(0)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, got, "Transient should fall back to its default TTL")

	got, err = Persistent.ResolveTTL(0)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), got, "Persistent permits an absent TTL")

	_, err = RetentionBound.ResolveTTL(time.Minute)
	assert.Error(t, err, "explicit TTL below the band minimum must not be silently widened")
}

func TestNewRecord_Invariants(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	r, err := New(5*time.Minute, Transient, map[string]string{"purpose": "otp"}, clock)
	require.NoError(t, err)

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, r.CreatedAt.Add(r.TTL), r.ExpiresAt, "expiresAt must equal createdAt + ttl")
	assert.Equal(t, 5*time.Minute, r.TTL)
	assert.False(t, r.IsExpired(clock))

	clock.Advance(5*time.Minute - time.Second)
	assert.False(t, r.IsExpired(clock))

	clock.Advance(time.Second)
	assert.True(t, r.IsExpired(clock), "record must expire exactly at createdAt + ttl")
	assert.Equal(t, time.Duration(0), r.Remaining(clock))
}

func TestNewRecord_PersistentNeverExpires(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	r, err := New(0, Persistent, nil, clock)
	require.NoError(t, err)
	assert.True(t, r.ExpiresAt.IsZero())

	clock.Advance(100 * 365 * 24 * time.Hour)
	assert.False(t, r.IsExpired(clock))
}

func TestRecordJSON_TTLInMilliseconds(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	r, err := New(5*time.Minute, Transient, nil, clock)
	require.NoError(t, err)
	r.KeyID = "dek-1"

	raw, err := json.Marshal(r)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, float64(300000), wire["ttl"], "ttl travels as milliseconds")
	assert.Equal(t, "TRANSIENT", wire["classification"])

	var back EphemeralRecord
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, r.ID, back.ID)
	assert.Equal(t, r.TTL, back.TTL)
	assert.Equal(t, "dek-1", back.KeyID)
	assert.True(t, r.ExpiresAt.Equal(back.ExpiresAt))
}
