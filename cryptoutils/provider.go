package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/efsf/efsf-go/interfaces"
)

const nonceSize = 12 // 96-bit GCM nonce

// CryptoProvider performs authenticated encryption and key derivation.
// It owns the registry of live DEKs; destroyed keys stay registered with
// shredded material so later lookups can report "destroyed" rather than
// "never existed".
type CryptoProvider struct {
	mu        sync.RWMutex
	keys      map[string]*DataEncryptionKey
	masterKey []byte
	clock     interfaces.Clock
}

// NewCryptoProvider creates a provider. The master key feeds DeriveKey
// only and must be at least 32 bytes.
func NewCryptoProvider(masterKey []byte, clock interfaces.Clock) (*CryptoProvider, error) {
	if len(masterKey) < KeySize {
		return nil, errors.New("master key must be at least 32 bytes")
	}
	if clock == nil {
		clock = interfaces.SystemClock
	}

	mk := make([]byte, len(masterKey))
	copy(mk, masterKey)

	return &CryptoProvider{
		keys:      make(map[string]*DataEncryptionKey),
		masterKey: mk,
		clock:     clock,
	}, nil
}

// GenerateDEK creates and registers a fresh random DEK whose lifetime
// equals ttl. A ttl <= 0 produces a key with no expiry.
func (p *CryptoProvider) GenerateDEK(ttl time.Duration) (*DataEncryptionKey, error) {
	dek, err := newDEK(p.clock.Now().UTC(), ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to generate DEK: %w", err)
	}

	p.mu.Lock()
	p.keys[dek.ID] = dek
	p.mu.Unlock()

	return dek, nil
}

// GetDEK returns a registered key that is neither destroyed nor expired.
func (p *CryptoProvider) GetDEK(id string) (*DataEncryptionKey, error) {
	p.mu.RLock()
	dek, ok := p.keys[id]
	p.mu.RUnlock()

	if !ok {
		return nil, &interfaces.CryptoError{Op: "get", KeyID: id, Reason: interfaces.ReasonKeyNotFound}
	}
	if dek.Destroyed() {
		return nil, &interfaces.CryptoError{Op: "get", KeyID: id, Reason: interfaces.ReasonKeyDestroyed}
	}
	if dek.isExpired(p.clock.Now()) {
		return nil, &interfaces.CryptoError{Op: "get", KeyID: id, Reason: interfaces.ReasonKeyExpired}
	}
	return dek, nil
}

// DestroyDEK shreds a key's material and reports whether the key was
// found. Idempotent: shredding an already-destroyed key is a no-op.
func (p *CryptoProvider) DestroyDEK(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	dek, ok := p.keys[id]
	if !ok {
		return false
	}
	dek.destroy(p.clock.Now().UTC())
	return true
}

// Encrypt performs AES-256-GCM over plaintext with a fresh random nonce.
// aad, if non-nil, is bound into the authentication tag.
func (p *CryptoProvider) Encrypt(plaintext []byte, dek *DataEncryptionKey, aad []byte) (*EncryptedPayload, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if dek.Destroyed() {
		return nil, &interfaces.CryptoError{Op: "encrypt", KeyID: dek.ID, Reason: interfaces.ReasonKeyDestroyed}
	}
	if dek.isExpired(p.clock.Now()) {
		return nil, &interfaces.CryptoError{Op: "encrypt", KeyID: dek.ID, Reason: interfaces.ReasonKeyExpired}
	}

	aead, err := newGCM(dek.material)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, aad)

	return &EncryptedPayload{
		Ciphertext: ciphertext,
		Nonce:      nonce,
		KeyID:      dek.ID,
		Algorithm:  AlgorithmAES256GCM,
	}, nil
}

// Decrypt resolves the payload's DEK and opens the ciphertext. The error
// distinguishes a shredded or missing key, where the data is permanently
// unrecoverable, from a failed authentication tag, where the data was
// tampered with. CryptoError.Unrecoverable tells the two apart.
func (p *CryptoProvider) Decrypt(payload *EncryptedPayload, aad []byte) ([]byte, error) {
	dek, err := p.GetDEK(payload.KeyID)
	if err != nil {
		var cerr *interfaces.CryptoError
		if errors.As(err, &cerr) {
			return nil, &interfaces.CryptoError{Op: "decrypt", KeyID: payload.KeyID, Reason: cerr.Reason}
		}
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	aead, err := newGCM(dek.material)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, payload.Nonce, payload.Ciphertext, aad)
	if err != nil {
		return nil, &interfaces.CryptoError{Op: "decrypt", KeyID: payload.KeyID, Reason: interfaces.ReasonTampered, Err: err}
	}
	return plaintext, nil
}

// DeriveKey performs deterministic, domain-separated derivation from the
// provider's master key using HKDF-SHA256. The same context and length
// always produce the same key.
func (p *CryptoProvider) DeriveKey(context string, length int) ([]byte, error) {
	if length <= 0 || length > 255*sha256.Size {
		return nil, &interfaces.ValidationError{Field: "length", Msg: fmt.Sprintf("derived key length %d out of range", length)}
	}

	reader := hkdf.New(sha256.New, p.masterKey, nil, []byte(context))
	derived := make([]byte, length)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return derived, nil
}

// KeyCount returns the number of registered, not-yet-destroyed keys.
func (p *CryptoProvider) KeyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, dek := range p.keys {
		if !dek.Destroyed() {
			n++
		}
	}
	return n
}

// DestroyAll shreds every registered key. Used on store shutdown.
func (p *CryptoProvider) DestroyAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now().UTC()
	for _, dek := range p.keys {
		dek.destroy(now)
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
