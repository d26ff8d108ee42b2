package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"

	"github.com/efsf/efsf-go/interfaces"
)

// VaultBackend stores entries in HashiCorp Vault's KV v2 engine. Vault
// has no native per-key TTL, so the backend stores the expiry timestamp
// alongside the value and enforces it itself on Exists and TTL.
type VaultBackend struct {
	client    *vault.Client
	mountPath string
	dataPath  string
	clock     interfaces.Clock
	log       *slog.Logger
}

// NewVaultBackend creates a Vault KV v2 storage backend.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token; empty falls back to the client's environment
//   - mountPath: KV v2 mount (e.g. "secret")
//   - dataPath: path within the mount (e.g. "efsf")
func NewVaultBackend(address, token, mountPath, dataPath string, clock interfaces.Clock, log *slog.Logger) (*VaultBackend, error) {
	config := vault.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := vault.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	if clock == nil {
		clock = interfaces.SystemClock
	}
	if log == nil {
		log = slog.Default()
	}

	return &VaultBackend{
		client:    client,
		mountPath: strings.TrimSuffix(mountPath, "/"),
		dataPath:  strings.Trim(dataPath, "/"),
		clock:     clock,
		log:       log,
	}, nil
}

// Set writes the value and its expiry to the KV v2 data path.
func (b *VaultBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expiresAt := ""
	if ttl > 0 {
		expiresAt = b.clock.Now().Add(ceilSeconds(ttl)).UTC().Format(time.RFC3339)
	}

	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"value":      base64.StdEncoding.EncodeToString(value),
			"expires_at": expiresAt,
		},
	}

	if _, err := b.client.Logical().WriteWithContext(ctx, b.keyPath(key), payload); err != nil {
		return &interfaces.BackendError{Backend: b.Name(), Op: "set", Err: err}
	}
	return nil
}

// Get retrieves the value. As with the memory backend, an expired entry
// that has not been reaped is still returned for destruction-on-read.
func (b *VaultBackend) Get(ctx context.Context, key string) ([]byte, error) {
	entry, _, err := b.read(ctx, key)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Delete removes the key, including its KV v2 version metadata.
func (b *VaultBackend) Delete(ctx context.Context, key string) (bool, error) {
	_, _, err := b.read(ctx, key)
	if err != nil && !errors.Is(err, interfaces.ErrKeyNotFound) {
		return false, err
	}
	existed := err == nil

	if _, err := b.client.Logical().DeleteWithContext(ctx, b.metadataPath(key)); err != nil {
		return false, &interfaces.BackendError{Backend: b.Name(), Op: "delete", Err: err}
	}
	return existed, nil
}

// Exists reports whether the key holds a live entry, reaping expired
// ones.
func (b *VaultBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, expiresAt, err := b.read(ctx, key)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if b.expired(expiresAt) {
		_, _ = b.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

// TTL returns the remaining lifetime of key, reaping it if expired.
func (b *VaultBackend) TTL(ctx context.Context, key string) (time.Duration, error) {
	_, expiresAt, err := b.read(ctx, key)
	if err != nil {
		return 0, err
	}
	if expiresAt.IsZero() {
		return 0, nil
	}
	if b.expired(expiresAt) {
		_, _ = b.Delete(ctx, key)
		return 0, interfaces.ErrKeyNotFound
	}
	return expiresAt.Sub(b.clock.Now()), nil
}

// Name returns the backend identifier.
func (b *VaultBackend) Name() string { return "vault" }

// Close is a no-op; the Vault client holds no persistent connection.
func (b *VaultBackend) Close() error { return nil }

func (b *VaultBackend) keyPath(key string) string {
	return fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.dataPath, key)
}

func (b *VaultBackend) metadataPath(key string) string {
	return fmt.Sprintf("%s/metadata/%s/%s", b.mountPath, b.dataPath, key)
}

func (b *VaultBackend) expired(expiresAt time.Time) bool {
	return !expiresAt.IsZero() && !b.clock.Now().Before(expiresAt)
}

// read fetches and decodes an entry, returning its value and expiry.
func (b *VaultBackend) read(ctx context.Context, key string) ([]byte, time.Time, error) {
	secret, err := b.client.Logical().ReadWithContext(ctx, b.keyPath(key))
	if err != nil {
		return nil, time.Time{}, &interfaces.BackendError{Backend: b.Name(), Op: "get", Err: err}
	}
	if secret == nil || secret.Data == nil {
		return nil, time.Time{}, interfaces.ErrKeyNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, time.Time{}, interfaces.ErrKeyNotFound
	}

	encoded, _ := data["value"].(string)
	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, time.Time{}, &interfaces.BackendError{Backend: b.Name(), Op: "get", Err: fmt.Errorf("corrupt entry for key %s: %w", key, err)}
	}

	var expiresAt time.Time
	if raw, _ := data["expires_at"].(string); raw != "" {
		expiresAt, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, time.Time{}, &interfaces.BackendError{Backend: b.Name(), Op: "get", Err: fmt.Errorf("corrupt expiry for key %s: %w", key, err)}
		}
	}
	return value, expiresAt, nil
}
