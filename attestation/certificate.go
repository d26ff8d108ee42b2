package attestation

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CertificateVersion is the current certificate wire format version.
const CertificateVersion = "1.0"

// MaxEmbeddedHashes bounds how many custody hashes a certificate carries.
const MaxEmbeddedHashes = 5

// DestructionMethod records how a resource was destroyed.
type DestructionMethod string

const (
	// MethodManual: explicit caller-initiated destruction.
	MethodManual DestructionMethod = "MANUAL"
	// MethodCryptoShred: TTL-driven key destruction.
	MethodCryptoShred DestructionMethod = "CRYPTO_SHRED"
	// MethodMemoryZero: sealed-execution in-memory cleanup.
	MethodMemoryZero DestructionMethod = "MEMORY_ZERO"
)

// ResourceInfo identifies the destroyed resource inside a certificate.
type ResourceInfo struct {
	Type           string            `json:"type"`
	ID             string            `json:"id"`
	Classification string            `json:"classification,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// DestructionCertificate is a signed, immutable attestation that a
// specific resource was destroyed by a specific method at a specific
// time. Once signed it must not be mutated.
type DestructionCertificate struct {
	Version       string
	CertificateID string
	Resource      ResourceInfo
	Method        DestructionMethod
	Timestamp     time.Time
	VerifiedBy    string
	Custody       *CustodySnapshot
	Signature     []byte
}

// Signed reports whether a signature is present.
func (c *DestructionCertificate) Signed() bool {
	return len(c.Signature) > 0
}

// CanonicalBytes produces the deterministic byte serialization that is
// signed. Field order is fixed, metadata keys are sorted, and the
// signature itself is excluded. Repeated calls on an unmutated
// certificate yield identical bytes.
func (c *DestructionCertificate) CanonicalBytes() []byte {
	var b bytes.Buffer
	b.WriteString("EFSF-DESTRUCTION-CERTIFICATE")
	sep := func() { b.WriteByte('|') }

	sep()
	b.WriteString(c.Version)
	sep()
	b.WriteString(c.CertificateID)
	sep()
	b.WriteString(c.Resource.Type)
	sep()
	b.WriteString(c.Resource.ID)
	sep()
	b.WriteString(c.Resource.Classification)
	sep()
	b.WriteString(canonicalMetadata(c.Resource.Metadata))
	sep()
	b.WriteString(string(c.Method))
	sep()
	b.WriteString(c.Timestamp.UTC().Format(time.RFC3339Nano))
	sep()
	b.WriteString(c.VerifiedBy)
	sep()
	if c.Custody != nil {
		b.WriteString(c.Custody.CreatedAt.UTC().Format(time.RFC3339Nano))
		b.WriteByte('/')
		b.WriteString(c.Custody.CreatedBy)
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(c.Custody.AccessCount))
		b.WriteByte('/')
		b.WriteString(strings.Join(c.Custody.HashChain, ","))
	}
	return b.Bytes()
}

func canonicalMetadata(md map[string]string) string {
	if len(md) == 0 {
		return ""
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+md[k])
	}
	return strings.Join(parts, ",")
}

// certificateJSON is the certificate wire format.
type certificateJSON struct {
	Version       string           `json:"version"`
	CertificateID string           `json:"certificate_id"`
	Resource      ResourceInfo     `json:"resource"`
	Destruction   destructionJSON  `json:"destruction"`
	Custody       *CustodySnapshot `json:"chain_of_custody,omitempty"`
	Signature     string           `json:"signature,omitempty"`
}

type destructionJSON struct {
	Method     DestructionMethod `json:"method"`
	Timestamp  time.Time         `json:"timestamp"`
	VerifiedBy string            `json:"verified_by,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c *DestructionCertificate) MarshalJSON() ([]byte, error) {
	wire := certificateJSON{
		Version:       c.Version,
		CertificateID: c.CertificateID,
		Resource:      c.Resource,
		Destruction: destructionJSON{
			Method:     c.Method,
			Timestamp:  c.Timestamp,
			VerifiedBy: c.VerifiedBy,
		},
		Custody: c.Custody,
	}
	if c.Signed() {
		wire.Signature = base64.StdEncoding.EncodeToString(c.Signature)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *DestructionCertificate) UnmarshalJSON(data []byte) error {
	var wire certificateJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	c.Version = wire.Version
	c.CertificateID = wire.CertificateID
	c.Resource = wire.Resource
	c.Method = wire.Destruction.Method
	c.Timestamp = wire.Destruction.Timestamp
	c.VerifiedBy = wire.Destruction.VerifiedBy
	c.Custody = wire.Custody
	c.Signature = nil

	if wire.Signature != "" {
		sig, err := base64.StdEncoding.DecodeString(wire.Signature)
		if err != nil {
			return fmt.Errorf("invalid certificate signature encoding: %w", err)
		}
		c.Signature = sig
	}
	return nil
}
