package cryptoutils

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/google/uuid"
)

// KeySize is the DEK length in bytes (AES-256).
const KeySize = 32

// DataEncryptionKey is a single-use symmetric key protecting exactly one
// record. Key material is private to this package; once destroyed it is
// unrecoverable.
type DataEncryptionKey struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time

	material    []byte
	destroyed   bool
	destroyedAt time.Time
}

func newDEK(now time.Time, ttl time.Duration) (*DataEncryptionKey, error) {
	material := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, material); err != nil {
		return nil, err
	}

	dek := &DataEncryptionKey{
		ID:        uuid.NewString(),
		CreatedAt: now,
		material:  material,
	}
	if ttl > 0 {
		dek.ExpiresAt = now.Add(ttl)
	}
	return dek, nil
}

// Destroyed reports whether the key material has been shredded.
func (k *DataEncryptionKey) Destroyed() bool { return k.destroyed }

// DestroyedAt returns when the key was shredded, zero if it wasn't.
func (k *DataEncryptionKey) DestroyedAt() time.Time { return k.destroyedAt }

// isExpired is evaluated against the provider's clock.
func (k *DataEncryptionKey) isExpired(now time.Time) bool {
	return !k.ExpiresAt.IsZero() && !now.Before(k.ExpiresAt)
}

// destroy shreds the key material: one random overwrite pass, then zeros.
// Idempotent.
func (k *DataEncryptionKey) destroy(now time.Time) {
	if k.destroyed {
		return
	}
	Wipe(k.material)
	k.destroyed = true
	k.destroyedAt = now
}

// Wipe overwrites a buffer with random bytes and then zeros it. The
// random pass guards against the zero pattern being optimized away or
// trivially recognizable in a memory dump.
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}
	// Best effort: if the random read fails we still zero.
	_, _ = io.ReadFull(rand.Reader, b)
	for i := range b {
		b[i] = 0
	}
}
