package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/efsf/efsf-go/attestation"
	"github.com/efsf/efsf-go/cryptoutils"
	"github.com/efsf/efsf-go/interfaces"
	"github.com/efsf/efsf-go/record"
)

// ResourceTypeRecord is the resource type carried in record certificates.
const ResourceTypeRecord = "ephemeral_record"

const lockStripes = 64

// Config configures an EphemeralStore.
type Config struct {
	// Backend is the durable storage backend. Required.
	Backend interfaces.StorageBackend

	// Crypto performs encryption and DEK management. If nil, a provider
	// with a random master key is created.
	Crypto *cryptoutils.CryptoProvider

	// Authority signs destruction certificates. If nil, attestation is
	// disabled and destruction issues no certificates.
	Authority *attestation.AttestationAuthority

	// DefaultClassification applies when a put does not specify one.
	DefaultClassification record.DataClassification

	// Actor names this store in chain-of-custody events.
	Actor string

	Clock interfaces.Clock
	Log   *slog.Logger
}

// EphemeralStore orchestrates crypto, attestation, custody, and the
// storage backend to implement the ephemeral record lifecycle.
type EphemeralStore struct {
	backend   interfaces.StorageBackend
	crypto    *cryptoutils.CryptoProvider
	authority *attestation.AttestationAuthority

	defaultClassification record.DataClassification
	actor                 string
	clock                 interfaces.Clock
	log                   *slog.Logger

	locks [lockStripes]sync.Mutex

	mu      sync.RWMutex
	records map[string]*record.EphemeralRecord
	custody map[string]*attestation.ChainOfCustody
	certs   map[string]*attestation.DestructionCertificate

	puts     atomic.Int64
	gets     atomic.Int64
	destroys atomic.Int64
	shreds   atomic.Int64

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// storedEnvelope is the backend payload: record metadata plus the
// encrypted data. The DEK is deliberately not part of it; keys live only
// in the crypto provider so that destroying one is a true crypto-shred.
type storedEnvelope struct {
	Record    *record.EphemeralRecord       `json:"record"`
	Encrypted *cryptoutils.EncryptedPayload `json:"encrypted"`
}

// New creates a store over the given backend.
func New(cfg Config) (*EphemeralStore, error) {
	if cfg.Backend == nil {
		return nil, errors.New("storage backend is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = interfaces.SystemClock
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Actor == "" {
		cfg.Actor = "efsf-store"
	}

	crypto := cfg.Crypto
	if crypto == nil {
		master := make([]byte, cryptoutils.KeySize)
		if _, err := rand.Read(master); err != nil {
			return nil, fmt.Errorf("failed to generate master key: %w", err)
		}
		var err error
		crypto, err = cryptoutils.NewCryptoProvider(master, cfg.Clock)
		if err != nil {
			return nil, err
		}
	}

	return &EphemeralStore{
		backend:               cfg.Backend,
		crypto:                crypto,
		authority:             cfg.Authority,
		defaultClassification: cfg.DefaultClassification,
		actor:                 cfg.Actor,
		clock:                 cfg.Clock,
		log:                   cfg.Log,
		records:               make(map[string]*record.EphemeralRecord),
		custody:               make(map[string]*attestation.ChainOfCustody),
		certs:                 make(map[string]*attestation.DestructionCertificate),
	}, nil
}

// Put encrypts data under a fresh single-use DEK and stores it with the
// given TTL. A zero ttl resolves to the classification's default; the
// DEK's lifetime equals the record's TTL, never exceeds it.
func (s *EphemeralStore) Put(ctx context.Context, data []byte, ttl time.Duration, classification record.DataClassification, metadata map[string]string) (*record.EphemeralRecord, error) {
	rec, err := record.New(ttl, classification, metadata, s.clock)
	if err != nil {
		return nil, err
	}

	dek, err := s.crypto.GenerateDEK(rec.TTL)
	if err != nil {
		return nil, err
	}
	rec.KeyID = dek.ID

	payload, err := s.crypto.Encrypt(data, dek, []byte(rec.ID))
	if err != nil {
		return nil, err
	}

	envelope, err := json.Marshal(&storedEnvelope{Record: rec, Encrypted: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize record envelope: %w", err)
	}

	if err := s.backend.Set(ctx, rec.ID, envelope, ceilSeconds(rec.TTL)); err != nil {
		// The backend never held the data; shred the orphaned key.
		s.crypto.DestroyDEK(dek.ID)
		return nil, err
	}

	chain := attestation.NewChainOfCustody(s.actor, s.clock)
	chain.AddAccess(s.actor, "create")

	s.mu.Lock()
	s.records[rec.ID] = rec
	s.custody[rec.ID] = chain
	s.mu.Unlock()

	s.puts.Inc()
	s.log.Debug("Stored ephemeral record",
		slog.String("id", rec.ID),
		slog.String("classification", rec.Classification.String()),
		slog.Duration("ttl", rec.TTL))
	return rec, nil
}

// PutTTLString is Put with a human-readable TTL such as "30m" or "2h".
func (s *EphemeralStore) PutTTLString(ctx context.Context, data []byte, ttl string, classification record.DataClassification, metadata map[string]string) (*record.EphemeralRecord, error) {
	parsed, err := record.ParseTTL(ttl)
	if err != nil {
		return nil, err
	}
	return s.Put(ctx, data, parsed, classification, metadata)
}

// Get decrypts and returns a record's plaintext.
//
// A backend miss with an issued certificate is RecordExpiredError; a
// miss with no certificate is RecordNotFoundError. A hit whose record
// has expired (covering backend TTL-drift races) triggers
// destruction-on-read with method CRYPTO_SHRED and then returns
// RecordExpiredError.
func (s *EphemeralStore) Get(ctx context.Context, id string) ([]byte, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	envelope, err := s.backend.Get(ctx, id)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, s.missError(id)
	}
	if err != nil {
		return nil, err
	}

	var stored storedEnvelope
	if err := json.Unmarshal(envelope, &stored); err != nil {
		return nil, &interfaces.BackendError{Backend: s.backend.Name(), Op: "decode", Err: err}
	}
	if stored.Record == nil || stored.Encrypted == nil {
		return nil, &interfaces.BackendError{Backend: s.backend.Name(), Op: "decode", Err: errors.New("malformed record envelope")}
	}

	s.mu.RLock()
	_, destroyed := s.certs[id]
	s.mu.RUnlock()
	if destroyed {
		// A certified destruction whose backend delete failed left a stale
		// entry behind. The key is already shredded; retry the delete and
		// report the record as gone, never as a decrypt failure.
		if _, derr := s.backend.Delete(ctx, id); derr != nil {
			s.log.Error("Failed to clear stale entry for destroyed record", slog.String("id", id), "err", derr)
		}
		return nil, &interfaces.RecordExpiredError{ID: id, ExpiredAt: stored.Record.ExpiresAt}
	}

	if stored.Record.IsExpired(s.clock) {
		// The backend's own expiry lagged; honor the TTL now.
		if _, derr := s.destroyLocked(ctx, id, attestation.MethodCryptoShred); derr != nil {
			s.log.Error("Destruction-on-read failed to delete backend entry", slog.String("id", id), "err", derr)
		}
		return nil, &interfaces.RecordExpiredError{ID: id, ExpiredAt: stored.Record.ExpiresAt}
	}

	plaintext, err := s.crypto.Decrypt(stored.Encrypted, []byte(id))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if rec, ok := s.records[id]; ok {
		rec.AccessCount++
	}
	chain := s.custody[id]
	s.mu.Unlock()
	if chain != nil {
		chain.AddAccess(s.actor, "read")
	}

	s.gets.Inc()
	return plaintext, nil
}

// Destroy explicitly destroys a record: backend entry deleted, DEK
// shredded, certificate issued with method MANUAL. Idempotent: repeat
// calls return the already-issued certificate, and destroying an id this
// store never held is a no-op returning (nil, nil). Key destruction
// proceeds even if the backend delete fails; that failure is still
// reported alongside the certificate.
func (s *EphemeralStore) Destroy(ctx context.Context, id string) (*attestation.DestructionCertificate, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	return s.destroyLocked(ctx, id, attestation.MethodManual)
}

// TTL returns the remaining lifetime of a record. The backend is
// authoritative.
func (s *EphemeralStore) TTL(ctx context.Context, id string) (time.Duration, error) {
	ttl, err := s.backend.TTL(ctx, id)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return 0, s.missError(id)
	}
	return ttl, err
}

// Exists reports whether a record is live. The backend is authoritative.
func (s *EphemeralStore) Exists(ctx context.Context, id string) (bool, error) {
	return s.backend.Exists(ctx, id)
}

// Authority returns the attestation authority, or nil when attestation
// is disabled.
func (s *EphemeralStore) Authority() *attestation.AttestationAuthority {
	return s.authority
}

// DefaultClassification returns the classification applied when a caller
// does not name one.
func (s *EphemeralStore) DefaultClassification() record.DataClassification {
	return s.defaultClassification
}

// Record returns the locally tracked metadata for a record id, if any.
// Only records stored through this instance are tracked.
func (s *EphemeralStore) Record(id string) (*record.EphemeralRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Certificate returns the destruction certificate issued for a record
// id, if any.
func (s *EphemeralStore) Certificate(id string) (*attestation.DestructionCertificate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.certs[id]
	return cert, ok
}

// Custody returns the chain of custody tracked for a record id, if any.
func (s *EphemeralStore) Custody(id string) (*attestation.ChainOfCustody, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain, ok := s.custody[id]
	return chain, ok
}

// Stats reports operation counters for this store instance.
type Stats struct {
	Backend    string `json:"backend"`
	Puts       int64  `json:"puts"`
	Gets       int64  `json:"gets"`
	Destroys   int64  `json:"destroys"`
	Shreds     int64  `json:"shreds"`
	ActiveKeys int    `json:"active_keys"`
}

// Stats returns a snapshot of this store's counters.
func (s *EphemeralStore) Stats() Stats {
	return Stats{
		Backend:    s.backend.Name(),
		Puts:       s.puts.Load(),
		Gets:       s.gets.Load(),
		Destroys:   s.destroys.Load(),
		Shreds:     s.shreds.Load(),
		ActiveKeys: s.crypto.KeyCount(),
	}
}

// StartReaper begins periodic sweeping of expired records, shredding
// their DEKs with method CRYPTO_SHRED. Sweeping bounds the window during
// which a backend-expired record's key sits un-zeroed; the lazy check on
// read is already sufficient for correctness.
func (s *EphemeralStore) StartReaper(interval time.Duration) {
	s.mu.Lock()
	if s.reaperStop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.reaperStop = stop
	s.reaperDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.Sweep(context.Background())
			}
		}
	}()
}

// Sweep destroys every tracked record whose TTL has elapsed, returning
// how many were shredded.
func (s *EphemeralStore) Sweep(ctx context.Context) int {
	s.mu.RLock()
	expired := make([]string, 0)
	for id, rec := range s.records {
		if _, destroyed := s.certs[id]; destroyed {
			continue
		}
		if rec.IsExpired(s.clock) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range expired {
		lock := s.lockFor(id)
		lock.Lock()
		if _, err := s.destroyLocked(ctx, id, attestation.MethodCryptoShred); err != nil {
			s.log.Error("Reaper failed to delete backend entry", slog.String("id", id), "err", err)
		}
		lock.Unlock()
	}

	if len(expired) > 0 {
		s.log.Info("Reaped expired records", slog.Int("count", len(expired)))
	}
	return len(expired)
}

// Close stops the reaper, shreds every live DEK, and closes the backend.
func (s *EphemeralStore) Close() error {
	s.mu.Lock()
	stop, done := s.reaperStop, s.reaperDone
	s.reaperStop, s.reaperDone = nil, nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
	s.crypto.DestroyAll()
	return s.backend.Close()
}

// destroyLocked is the single destruction routine shared by explicit
// destroys, expiry-on-read, and the reaper. Callers hold the per-id
// lock.
func (s *EphemeralStore) destroyLocked(ctx context.Context, id string, method attestation.DestructionMethod) (*attestation.DestructionCertificate, error) {
	s.mu.RLock()
	if cert, ok := s.certs[id]; ok {
		s.mu.RUnlock()
		return cert, nil
	}
	rec := s.records[id]
	chain := s.custody[id]
	s.mu.RUnlock()

	deleted, backendErr := s.backend.Delete(ctx, id)

	if rec == nil && !deleted {
		// Nothing tracked and nothing stored: never existed here. No
		// certificate is fabricated for a resource this store never held.
		return nil, backendErr
	}

	// Irrecoverability first: the key dies regardless of backend health.
	if rec != nil && rec.KeyID != "" {
		s.crypto.DestroyDEK(rec.KeyID)
		s.shreds.Inc()
	}

	if chain == nil {
		chain = attestation.NewChainOfCustody(s.actor, s.clock)
	}
	chain.AddAccess(s.actor, "destroy")

	var cert *attestation.DestructionCertificate
	if s.authority != nil {
		cert = s.issueCertificate(id, rec, method, chain)
	}

	s.mu.Lock()
	if cert != nil {
		s.certs[id] = cert
	}
	if rec != nil {
		rec.KeyID = ""
	}
	s.custody[id] = chain
	s.mu.Unlock()

	s.destroys.Inc()
	s.log.Info("Destroyed record",
		slog.String("id", id),
		slog.String("method", string(method)),
		slog.Bool("backend_deleted", deleted))
	return cert, backendErr
}

func (s *EphemeralStore) issueCertificate(id string, rec *record.EphemeralRecord, method attestation.DestructionMethod, chain *attestation.ChainOfCustody) *attestation.DestructionCertificate {
	classification := ""
	metadata := map[string]string{}
	if rec != nil {
		classification = rec.Classification.String()
		if rec.TTL > 0 {
			metadata["ttl"] = record.FormatTTL(rec.TTL)
		}
		metadata["access_count"] = fmt.Sprintf("%d", rec.AccessCount)
		for k, v := range rec.Metadata {
			metadata[k] = v
		}
	}

	cert, err := s.authority.IssueCertificate(ResourceTypeRecord, id, classification, method, chain.Snapshot(attestation.MaxEmbeddedHashes), metadata)
	if err != nil {
		// Issuance failures must not resurrect the record; the shred
		// already happened. Log and move on without a certificate.
		s.log.Error("Failed to issue destruction certificate", slog.String("id", id), "err", err)
		return nil
	}
	return cert
}

// missError disambiguates a backend miss: destroyed-with-certificate
// versus never-known.
func (s *EphemeralStore) missError(id string) error {
	s.mu.RLock()
	_, hasCert := s.certs[id]
	rec := s.records[id]
	s.mu.RUnlock()

	if hasCert {
		var expiredAt time.Time
		if rec != nil {
			expiredAt = rec.ExpiresAt
		}
		return &interfaces.RecordExpiredError{ID: id, ExpiredAt: expiredAt}
	}
	return &interfaces.RecordNotFoundError{ID: id}
}

func (s *EphemeralStore) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockStripes]
}

// ceilSeconds rounds a TTL up to whole seconds for the backend, so the
// backend never expires an entry before the record itself does.
func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return d
}
