package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/efsf/efsf-go/interfaces"
)

// Factory creates storage backends from URI strings.
type Factory struct {
	log   *slog.Logger
	clock interfaces.Clock
}

// NewFactory creates a backend factory. The clock is handed to backends
// that enforce expiry themselves.
func NewFactory(log *slog.Logger, clock interfaces.Clock) *Factory {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = interfaces.SystemClock
	}
	return &Factory{log: log, clock: clock}
}

// BackendFor creates a storage backend from a location URI.
//
// Supported schemes:
//   - memory:// - in-process map
//   - redis://, rediss:// - Redis
//   - vault://host:port/mount/path?token=...&tls=true - Vault KV v2
//
// An unsupported scheme is a ValidationError.
func (f *Factory) BackendFor(locationURI string) (interfaces.StorageBackend, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, &interfaces.ValidationError{Field: "backend", Msg: fmt.Sprintf("invalid backend URI %q: %v", locationURI, err)}
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		f.log.Debug("Creating memory backend")
		return NewMemoryBackend(f.clock, f.log), nil
	case "redis", "rediss":
		return f.createRedisBackend(locationURI, u)
	case "vault":
		return f.createVaultBackend(u)
	default:
		return nil, &interfaces.ValidationError{Field: "backend", Msg: fmt.Sprintf("unsupported backend scheme: %s", u.Scheme)}
	}
}

// createRedisBackend parses a standard Redis URI.
// URI format: redis://[user:pass@]host:port/db?prefix=efsf:
func (f *Factory) createRedisBackend(raw string, u *url.URL) (interfaces.StorageBackend, error) {
	prefix := u.Query().Get("prefix")

	// The prefix parameter is ours, not go-redis's.
	q := u.Query()
	q.Del("prefix")
	u.RawQuery = q.Encode()

	opts, err := redis.ParseURL(u.String())
	if err != nil {
		return nil, &interfaces.ValidationError{Field: "backend", Msg: fmt.Sprintf("invalid Redis URI %q: %v", raw, err)}
	}

	f.log.Debug("Creating Redis backend", slog.String("addr", opts.Addr))
	return NewRedisBackend(redis.NewClient(opts), prefix, f.log), nil
}

// createVaultBackend parses a Vault URI.
// URI format: vault://host:port/mount/path?token=...&tls=true
func (f *Factory) createVaultBackend(u *url.URL) (interfaces.StorageBackend, error) {
	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, &interfaces.ValidationError{Field: "backend", Msg: "vault URI must include mount and path: vault://host:port/mount/path"}
	}

	scheme := "http"
	if u.Query().Get("tls") == "true" {
		scheme = "https"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	f.log.Debug("Creating Vault backend",
		slog.String("address", address),
		slog.String("mount", parts[0]),
		slog.String("path", parts[1]))

	return NewVaultBackend(address, u.Query().Get("token"), parts[0], parts[1], f.clock, f.log)
}
