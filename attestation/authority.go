package attestation

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/efsf/efsf-go/interfaces"
)

// AttestationAuthority signs and verifies destruction certificates with
// an Ed25519 keypair. The private key never leaves the authority; the
// public key is freely distributable. One authority is constructed per
// process and passed by reference to every signer and verifier.
type AttestationAuthority struct {
	AuthorityID string

	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	clock interfaces.Clock

	mu     sync.RWMutex
	issued map[string]*DestructionCertificate
}

// NewAttestationAuthority creates an authority with a fresh keypair.
func NewAttestationAuthority(authorityID string, clock interfaces.Clock) (*AttestationAuthority, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return newAuthority(authorityID, pub, priv, clock), nil
}

// NewAttestationAuthorityFromSeed creates an authority with a keypair
// derived deterministically from a 32-byte seed. Useful for restoring an
// authority identity across restarts and for testing.
func NewAttestationAuthorityFromSeed(authorityID string, seed []byte, clock interfaces.Clock) (*AttestationAuthority, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.New("authority seed must be exactly 32 bytes")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return newAuthority(authorityID, priv.Public().(ed25519.PublicKey), priv, clock), nil
}

func newAuthority(authorityID string, pub ed25519.PublicKey, priv ed25519.PrivateKey, clock interfaces.Clock) *AttestationAuthority {
	if authorityID == "" {
		authorityID = "efsf-authority-" + uuid.NewString()
	}
	if clock == nil {
		clock = interfaces.SystemClock
	}
	return &AttestationAuthority{
		AuthorityID: authorityID,
		priv:        priv,
		pub:         pub,
		clock:       clock,
		issued:      make(map[string]*DestructionCertificate),
	}
}

// PublicKey returns the authority's Ed25519 public key.
func (a *AttestationAuthority) PublicKey() ed25519.PublicKey {
	return a.pub
}

// IssueCertificate builds, signs, and registers a destruction
// certificate for the given resource.
func (a *AttestationAuthority) IssueCertificate(resourceType, resourceID, classification string, method DestructionMethod, custody *CustodySnapshot, metadata map[string]string) (*DestructionCertificate, error) {
	cert := &DestructionCertificate{
		Version:       CertificateVersion,
		CertificateID: uuid.NewString(),
		Resource: ResourceInfo{
			Type:           resourceType,
			ID:             resourceID,
			Classification: classification,
			Metadata:       metadata,
		},
		Method:    method,
		Timestamp: a.clock.Now().UTC(),
		Custody:   custody,
	}

	if err := a.SignCertificate(cert); err != nil {
		return nil, err
	}
	return cert, nil
}

// SignCertificate signs the certificate's canonical bytes, sets the
// signature and verifier identity, and registers the certificate.
func (a *AttestationAuthority) SignCertificate(cert *DestructionCertificate) error {
	if cert.Signed() {
		return &interfaces.AttestationError{Msg: "certificate already signed"}
	}

	cert.VerifiedBy = a.AuthorityID
	cert.Signature = ed25519.Sign(a.priv, cert.CanonicalBytes())

	a.mu.Lock()
	a.issued[cert.CertificateID] = cert
	a.mu.Unlock()
	return nil
}

// VerifyCertificate checks a certificate's signature against the
// authority's public key. A structurally unsigned certificate is an
// AttestationError; a signature that merely fails to match is reported
// as false with a nil error.
func (a *AttestationAuthority) VerifyCertificate(cert *DestructionCertificate) (bool, error) {
	if cert == nil || !cert.Signed() {
		return false, &interfaces.AttestationError{Msg: "cannot verify an unsigned certificate"}
	}
	return ed25519.Verify(a.pub, cert.CanonicalBytes(), cert.Signature), nil
}

// Certificate returns an issued certificate by its certificate id.
func (a *AttestationAuthority) Certificate(certificateID string) (*DestructionCertificate, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cert, ok := a.issued[certificateID]
	return cert, ok
}

// IssuedCount returns how many certificates this authority has signed.
func (a *AttestationAuthority) IssuedCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.issued)
}
