package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by storage backends when a key is absent,
// whether it never existed or has already been reaped by the backend's
// own expiry enforcement.
var ErrKeyNotFound = errors.New("key not found")

// StorageBackend provides durable key/value storage with TTL enforcement.
// Implementations must surface connectivity failures as BackendError and
// absence as ErrKeyNotFound, never conflating the two.
type StorageBackend interface {
	// Set stores a value under key. A ttl <= 0 means no expiry; otherwise
	// the backend enforces expiry at or before ttl from now.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves the value for key, or ErrKeyNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the key, reporting whether an entry was removed.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether the key currently holds a live entry.
	Exists(ctx context.Context, key string) (bool, error)

	// TTL returns the remaining lifetime of key, or ErrKeyNotFound if
	// absent. A zero duration with a nil error means no expiry is set.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Name returns a backend identifier for logging and certificates.
	Name() string

	// Close releases backend resources.
	Close() error
}

// Clock is the single injectable time source used for all TTL decisions.
// Production code uses SystemClock; tests substitute a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the host wall clock.
var SystemClock Clock = systemClock{}
