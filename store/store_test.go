package store

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efsf/efsf-go/attestation"
	"github.com/efsf/efsf-go/cryptoutils"
	"github.com/efsf/efsf-go/interfaces"
	"github.com/efsf/efsf-go/record"
	"github.com/efsf/efsf-go/storage"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore(t *testing.T, clock interfaces.Clock) *EphemeralStore {
	t.Helper()

	master := bytes.Repeat([]byte{0x42}, cryptoutils.KeySize)
	crypto, err := cryptoutils.NewCryptoProvider(master, clock)
	require.NoError(t, err)

	authority, err := attestation.NewAttestationAuthority("test-authority", clock)
	require.NoError(t, err)

	s, err := New(Config{
		Backend:               storage.NewMemoryBackend(clock, nil),
		Crypto:                crypto,
		Authority:             authority,
		DefaultClassification: record.Transient,
		Actor:                 "test-store",
		Clock:                 clock,
	})
	require.NoError(t, err)
	return s
}

func TestStore_PutGetRoundtrip(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(t, clock)
	defer s.Close()

	plaintext := []byte(`{"session":"abc123"}`)
	rec, err := s.Put(ctx, plaintext, 2*time.Hour, record.ShortLived, map[string]string{"purpose": "session"})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	require.NotEmpty(t, rec.KeyID)
	assert.Equal(t, 2*time.Hour, rec.TTL)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got, "decrypted data is byte-identical to what was stored")

	exists, err := s.Exists(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	ttl, err := s.TTL(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, ttl)
}

func TestStore_BackendHoldsOnlyCiphertext(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	backend := storage.NewMemoryBackend(clock, nil)

	s, err := New(Config{Backend: backend, Clock: clock})
	require.NoError(t, err)
	defer s.Close()

	plaintext := []byte("very secret payload")
	rec, err := s.Put(ctx, plaintext, time.Hour, record.ShortLived, nil)
	require.NoError(t, err)

	raw, err := backend.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "very secret payload", "backend envelope never carries plaintext")
	assert.Contains(t, string(raw), `"key_id"`, "envelope references the key by id only")
}

func TestStore_GetUnknownID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	defer s.Close()

	var nferr *interfaces.RecordNotFoundError
	_, err := s.Get(ctx, "no-such-record")
	require.ErrorAs(t, err, &nferr)
	assert.Equal(t, "no-such-record", nferr.ID)
}

func TestStore_DestroyIssuesManualCertificate(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(t, clock)
	defer s.Close()

	rec, err := s.Put(ctx, []byte("payload"), time.Hour, record.ShortLived, nil)
	require.NoError(t, err)

	_, err = s.Get(ctx, rec.ID)
	require.NoError(t, err)

	cert, err := s.Destroy(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, cert)
	assert.Equal(t, attestation.MethodManual, cert.Method)
	assert.Equal(t, ResourceTypeRecord, cert.Resource.Type)
	assert.Equal(t, rec.ID, cert.Resource.ID)
	assert.Equal(t, "SHORT_LIVED", cert.Resource.Classification)
	assert.Equal(t, "1h", cert.Resource.Metadata["ttl"])
	assert.Equal(t, "1", cert.Resource.Metadata["access_count"])

	// The embedded custody covers create, read, and destroy.
	require.NotNil(t, cert.Custody)
	assert.Equal(t, 3, cert.Custody.AccessCount)
	assert.NotEmpty(t, cert.Custody.HashChain)

	// Signature checks out against the bare public key.
	assert.True(t, ed25519.Verify(s.authority.PublicKey(), cert.CanonicalBytes(), cert.Signature))

	// The record is gone and its key is unresolvable.
	exists, err := s.Exists(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	var experr *interfaces.RecordExpiredError
	_, err = s.Get(ctx, rec.ID)
	require.ErrorAs(t, err, &experr, "a destroyed record reads as expired, not unknown")
}

func TestStore_DestroyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	defer s.Close()

	rec, err := s.Put(ctx, []byte("payload"), time.Hour, record.ShortLived, nil)
	require.NoError(t, err)

	first, err := s.Destroy(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := s.Destroy(ctx, rec.ID)
	require.NoError(t, err)
	assert.Same(t, first, second, "repeat destroy returns the original certificate")
}

func TestStore_DestroyUnknownIDIsNoop(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	defer s.Close()

	cert, err := s.Destroy(ctx, "never-existed")
	require.NoError(t, err)
	assert.Nil(t, cert, "no certificate is fabricated for a record that never existed")
}

// flakyDeleteBackend fails the first n deletes, leaving stale entries
// behind the way a backend outage would.
type flakyDeleteBackend struct {
	*storage.MemoryBackend
	failures int
}

func (b *flakyDeleteBackend) Delete(ctx context.Context, key string) (bool, error) {
	if b.failures > 0 {
		b.failures--
		return false, &interfaces.BackendError{Backend: b.Name(), Op: "delete", Err: errors.New("connection reset")}
	}
	return b.MemoryBackend.Delete(ctx, key)
}

func TestStore_GetAfterDestroyWithFailedDelete(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	backend := &flakyDeleteBackend{MemoryBackend: storage.NewMemoryBackend(clock, nil), failures: 1}

	master := bytes.Repeat([]byte{0x42}, cryptoutils.KeySize)
	crypto, err := cryptoutils.NewCryptoProvider(master, clock)
	require.NoError(t, err)
	authority, err := attestation.NewAttestationAuthority("test-authority", clock)
	require.NoError(t, err)

	s, err := New(Config{Backend: backend, Crypto: crypto, Authority: authority, Actor: "test-store", Clock: clock})
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Put(ctx, []byte("payload"), time.Hour, record.ShortLived, nil)
	require.NoError(t, err)

	// The key still dies and the certificate is still issued; the delete
	// failure is reported alongside.
	cert, err := s.Destroy(ctx, rec.ID)
	var berr *interfaces.BackendError
	require.ErrorAs(t, err, &berr)
	require.NotNil(t, cert)

	// The stale backend entry reads as destroyed, never as a decrypt
	// failure against the shredded key.
	var experr *interfaces.RecordExpiredError
	_, err = s.Get(ctx, rec.ID)
	require.ErrorAs(t, err, &experr)
	assert.Equal(t, rec.ID, experr.ID)

	// The read retried the delete and cleared the stale entry.
	exists, err := s.Exists(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_ReaperConcurrentStartAndClose(t *testing.T) {
	s := newTestStore(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.StartReaper(10 * time.Millisecond)
		}()
	}
	wg.Wait()

	require.NoError(t, s.Close(), "close waits for the reaper to drain")
}

func TestStore_ExpiryOnReadShredsAndCertifies(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(t, clock)
	defer s.Close()

	rec, err := s.Put(ctx, []byte(`{"otp":"123456"}`), 5*time.Minute, record.Transient, nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, rec.TTL)
	assert.Equal(t, int64(5*60*1000), rec.TTL.Milliseconds())

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"otp":"123456"}`), got)

	clock.Advance(5*time.Minute + time.Second)

	var experr *interfaces.RecordExpiredError
	_, err = s.Get(ctx, rec.ID)
	require.ErrorAs(t, err, &experr)
	assert.Equal(t, rec.ID, experr.ID)

	cert, ok := s.Certificate(rec.ID)
	require.True(t, ok, "expiry-on-read issues a certificate")
	assert.Equal(t, attestation.MethodCryptoShred, cert.Method)

	verified, err := s.authority.VerifyCertificate(cert)
	require.NoError(t, err)
	assert.True(t, verified)

	// Repeat reads stay expired and do not issue another certificate.
	_, err = s.Get(ctx, rec.ID)
	require.ErrorAs(t, err, &experr)
	again, ok := s.Certificate(rec.ID)
	require.True(t, ok)
	assert.Same(t, cert, again)
}

func TestStore_DefaultTTLFromClassification(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	defer s.Close()

	rec, err := s.Put(ctx, []byte("x"), 0, record.Transient, nil)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, rec.TTL)

	_, err = s.PutTTLString(ctx, []byte("x"), "2 days", record.Transient, nil)
	require.Error(t, err, "48h exceeds the TRANSIENT ceiling")
}

func TestStore_PutTTLString(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	defer s.Close()

	rec, err := s.PutTTLString(ctx, []byte("x"), "2h", record.ShortLived, nil)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, rec.TTL)

	_, err = s.PutTTLString(ctx, []byte("x"), "1w", record.ShortLived, nil)
	require.Error(t, err, "weeks are not a valid TTL unit")
}

func TestStore_CustodyTracksReads(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	defer s.Close()

	rec, err := s.Put(ctx, []byte("x"), time.Hour, record.ShortLived, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = s.Get(ctx, rec.ID)
		require.NoError(t, err)
	}

	chain, ok := s.Custody(rec.ID)
	require.True(t, ok)
	assert.Equal(t, 4, chain.AccessCount(), "one create plus three reads")
	assert.True(t, chain.Verify())

	events := chain.Events()
	assert.Equal(t, "create", events[0].Action)
	assert.Equal(t, "read", events[1].Action)
}

func TestStore_SweepReapsExpired(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(t, clock)
	defer s.Close()

	short, err := s.Put(ctx, []byte("short"), time.Minute, record.Transient, nil)
	require.NoError(t, err)
	long, err := s.Put(ctx, []byte("long"), time.Hour, record.ShortLived, nil)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, s.Sweep(ctx))

	cert, ok := s.Certificate(short.ID)
	require.True(t, ok)
	assert.Equal(t, attestation.MethodCryptoShred, cert.Method)

	_, ok = s.Certificate(long.ID)
	assert.False(t, ok, "live records are untouched by the sweep")

	got, err := s.Get(ctx, long.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("long"), got)

	// A second sweep finds nothing.
	assert.Equal(t, 0, s.Sweep(ctx))
}

func TestStore_Stats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	defer s.Close()

	rec, err := s.Put(ctx, []byte("x"), time.Hour, record.ShortLived, nil)
	require.NoError(t, err)
	_, err = s.Get(ctx, rec.ID)
	require.NoError(t, err)
	_, err = s.Destroy(ctx, rec.ID)
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, "memory", stats.Backend)
	assert.Equal(t, int64(1), stats.Puts)
	assert.Equal(t, int64(1), stats.Gets)
	assert.Equal(t, int64(1), stats.Destroys)
	assert.Equal(t, int64(1), stats.Shreds)
	assert.Equal(t, 0, stats.ActiveKeys)
}

func TestStore_CloseShredsAllKeys(t *testing.T) {
	ctx := context.Background()

	master := bytes.Repeat([]byte{0x42}, cryptoutils.KeySize)
	crypto, err := cryptoutils.NewCryptoProvider(master, nil)
	require.NoError(t, err)

	s, err := New(Config{Backend: storage.NewMemoryBackend(nil, nil), Crypto: crypto})
	require.NoError(t, err)

	_, err = s.Put(ctx, []byte("x"), time.Hour, record.ShortLived, nil)
	require.NoError(t, err)
	require.Equal(t, 1, crypto.KeyCount())

	require.NoError(t, s.Close())
	assert.Equal(t, 0, crypto.KeyCount())
}
