package cryptoutils

import (
	"bytes"
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

func newTestProvider(t *testing.T, clock interfaces.Clock) *CryptoProvider {
	t.Helper()
	master := bytes.Repeat([]byte{0x42}, 32)
	p, err := NewCryptoProvider(master, clock)
	require.NoError(t, err)
	return p
}

func TestNewCryptoProvider_RejectsShortMasterKey(t *testing.T) {
	_, err := NewCryptoProvider(make([]byte, 16), nil)
	assert.Error(t, err)
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	p := newTestProvider(t, nil)

	dek, err := p.GenerateDEK(time.Hour)
	require.NoError(t, err)

	plaintext := []byte(`{"otp":"123456"}`)
	payload, err := p.Encrypt(plaintext, dek, nil)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmAES256GCM, payload.Algorithm)
	assert.Equal(t, dek.ID, payload.KeyID)
	assert.Len(t, payload.Nonce, 12)

	got, err := p.Decrypt(payload, nil)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	p := newTestProvider(t, nil)

	dek, err := p.GenerateDEK(time.Hour)
	require.NoError(t, err)

	plaintext := []byte("same plaintext")
	first, err := p.Encrypt(plaintext, dek, nil)
	require.NoError(t, err)
	second, err := p.Encrypt(plaintext, dek, nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.Nonce, second.Nonce, "nonces must never repeat under a fixed key")
	assert.NotEqual(t, first.Ciphertext, second.Ciphertext)

	for _, payload := range []*EncryptedPayload{first, second} {
		got, err := p.Decrypt(payload, nil)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestEncrypt_AADBinding(t *testing.T) {
	p := newTestProvider(t, nil)

	dek, err := p.GenerateDEK(time.Hour)
	require.NoError(t, err)

	payload, err := p.Encrypt([]byte("bound"), dek, []byte("record-1"))
	require.NoError(t, err)

	_, err = p.Decrypt(payload, []byte("record-2"))
	var cerr *interfaces.CryptoError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, interfaces.ReasonTampered, cerr.Reason)
	assert.False(t, cerr.Unrecoverable(), "tag mismatch means tampered, not unrecoverable")

	got, err := p.Decrypt(payload, []byte("record-1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("bound"), got)
}

func TestDestroyDEK_CryptoShred(t *testing.T) {
	p := newTestProvider(t, nil)

	dek, err := p.GenerateDEK(time.Hour)
	require.NoError(t, err)

	payload, err := p.Encrypt([]byte("secret"), dek, nil)
	require.NoError(t, err)

	assert.True(t, p.DestroyDEK(dek.ID))
	assert.True(t, dek.Destroyed())
	assert.False(t, dek.DestroyedAt().IsZero())
	assert.Equal(t, bytes.Repeat([]byte{0}, KeySize), dek.material, "key material must be zeroed")

	// Repeat destruction is a no-op, still reports the key as found.
	assert.True(t, p.DestroyDEK(dek.ID))
	assert.False(t, p.DestroyDEK("no-such-key"))

	// Ciphertext is now permanently unrecoverable.
	_, err = p.Decrypt(payload, nil)
	var cerr *interfaces.CryptoError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, interfaces.ReasonKeyDestroyed, cerr.Reason)
	assert.True(t, cerr.Unrecoverable())

	// And the destroyed key cannot encrypt either.
	_, err = p.Encrypt([]byte("more"), dek, nil)
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, interfaces.ReasonKeyDestroyed, cerr.Reason)
}

func TestGetDEK_Lifecycle(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	p := newTestProvider(t, clock)

	dek, err := p.GenerateDEK(time.Minute)
	require.NoError(t, err)

	got, err := p.GetDEK(dek.ID)
	require.NoError(t, err)
	assert.Equal(t, dek.ID, got.ID)

	var cerr *interfaces.CryptoError
	_, err = p.GetDEK("missing")
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, interfaces.ReasonKeyNotFound, cerr.Reason)

	clock.now = clock.now.Add(2 * time.Minute)
	_, err = p.GetDEK(dek.ID)
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, interfaces.ReasonKeyExpired, cerr.Reason)

	// Key lifecycle binding: an expired key refuses to encrypt.
	_, err = p.Encrypt([]byte("late"), dek, nil)
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, interfaces.ReasonKeyExpired, cerr.Reason)
}

func TestDeriveKey_DeterministicAndDomainSeparated(t *testing.T) {
	p := newTestProvider(t, nil)

	first, err := p.DeriveKey("efsf/storage-index", 32)
	require.NoError(t, err)
	second, err := p.DeriveKey("efsf/storage-index", 32)
	require.NoError(t, err)
	assert.Equal(t, first, second, "derivation must be deterministic")

	other, err := p.DeriveKey("efsf/another-context", 32)
	require.NoError(t, err)
	assert.NotEqual(t, first, other, "contexts must be domain separated")

	_, err = p.DeriveKey("ctx", 0)
	assert.Error(t, err)
}

func TestDestroyAll(t *testing.T) {
	p := newTestProvider(t, nil)

	for i := 0; i < 3; i++ {
		_, err := p.GenerateDEK(time.Hour)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, p.KeyCount())

	p.DestroyAll()
	assert.Equal(t, 0, p.KeyCount())
}
