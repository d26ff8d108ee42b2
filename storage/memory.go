package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/efsf/efsf-go/interfaces"
)

// MemoryBackend is an in-process storage backend with lazy expiration.
// Suitable for testing and single-node deployments.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	clock   interfaces.Clock
	log     *slog.Logger
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero = no expiry
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend(clock interfaces.Clock, log *slog.Logger) *MemoryBackend {
	if clock == nil {
		clock = interfaces.SystemClock
	}
	if log == nil {
		log = slog.Default()
	}
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		clock:   clock,
		log:     log,
	}
}

// Set stores a copy of value under key.
func (b *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	entry := memoryEntry{value: stored}
	if ttl > 0 {
		entry.expiresAt = b.clock.Now().Add(ttl)
	}

	b.mu.Lock()
	b.entries[key] = entry
	b.mu.Unlock()
	return nil
}

// Get returns the stored value. An expired-but-unreaped entry is still
// returned so the caller can run its destruction-on-read path; see the
// package documentation.
func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	entry, ok := b.entries[key]
	b.mu.RUnlock()

	if !ok {
		return nil, interfaces.ErrKeyNotFound
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Delete removes the key, reporting whether an entry existed.
func (b *MemoryBackend) Delete(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.entries[key]
	delete(b.entries, key)
	return ok, nil
}

// Exists reports whether key holds a live entry, reaping it if expired.
func (b *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[key]
	if !ok {
		return false, nil
	}
	if b.expired(entry) {
		delete(b.entries, key)
		return false, nil
	}
	return true, nil
}

// TTL returns the remaining lifetime of key, reaping it if expired.
func (b *MemoryBackend) TTL(ctx context.Context, key string) (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[key]
	if !ok {
		return 0, interfaces.ErrKeyNotFound
	}
	if b.expired(entry) {
		delete(b.entries, key)
		return 0, interfaces.ErrKeyNotFound
	}
	if entry.expiresAt.IsZero() {
		return 0, nil
	}
	return entry.expiresAt.Sub(b.clock.Now()), nil
}

// Name returns the backend identifier.
func (b *MemoryBackend) Name() string { return "memory" }

// Close drops all entries.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, entry := range b.entries {
		for i := range entry.value {
			entry.value[i] = 0
		}
		delete(b.entries, k)
	}
	return nil
}

// Cleanup removes all expired entries and returns how many were reaped.
func (b *MemoryBackend) Cleanup() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for k, entry := range b.entries {
		if b.expired(entry) {
			delete(b.entries, k)
			removed++
		}
	}
	if removed > 0 {
		b.log.Debug("Reaped expired entries", slog.Int("count", removed))
	}
	return removed
}

// Len returns the entry count, including not-yet-reaped expired entries.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

func (b *MemoryBackend) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && !b.clock.Now().Before(entry.expiresAt)
}
