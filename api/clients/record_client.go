package clients

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/efsf/efsf-go/attestation"
	"github.com/efsf/efsf-go/interfaces"
	"github.com/efsf/efsf-go/record"
)

// RecordClient talks to an efsf-server record API.
type RecordClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRecordClient creates a client for the given base URL
// (e.g. "http://localhost:8080"). An optional timeout overrides the
// 30 second default.
func NewRecordClient(baseURL string, timeout ...time.Duration) *RecordClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &RecordClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

type putRequest struct {
	Data           string            `json:"data"`
	TTL            string            `json:"ttl,omitempty"`
	Classification string            `json:"classification,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type getResponse struct {
	Record *record.EphemeralRecord `json:"record"`
	Data   string                  `json:"data"`
}

// AuthorityInfo is the server's published verification identity.
type AuthorityInfo struct {
	AuthorityID string `json:"authority_id"`
	PublicKey   string `json:"public_key"`
	Algorithm   string `json:"algorithm"`
}

// Put stores data with the given TTL string and classification name,
// returning the created record's metadata.
func (c *RecordClient) Put(ctx context.Context, data []byte, ttl, classification string, metadata map[string]string) (*record.EphemeralRecord, error) {
	body, err := json.Marshal(putRequest{
		Data:           base64.StdEncoding.EncodeToString(data),
		TTL:            ttl,
		Classification: classification,
		Metadata:       metadata,
	})
	if err != nil {
		return nil, err
	}

	var rec record.EphemeralRecord
	if err := c.do(ctx, http.MethodPost, "/api/records", "", body, http.StatusCreated, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Get retrieves and decodes a record's plaintext.
func (c *RecordClient) Get(ctx context.Context, id string) ([]byte, error) {
	var resp getResponse
	if err := c.do(ctx, http.MethodGet, "/api/records/"+id, id, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid data encoding in response: %w", err)
	}
	return data, nil
}

// Destroy destroys a record and returns its destruction certificate.
func (c *RecordClient) Destroy(ctx context.Context, id string) (*attestation.DestructionCertificate, error) {
	var cert attestation.DestructionCertificate
	if err := c.do(ctx, http.MethodDelete, "/api/records/"+id, id, nil, http.StatusOK, &cert); err != nil {
		return nil, err
	}
	return &cert, nil
}

// TTL returns a record's remaining lifetime.
func (c *RecordClient) TTL(ctx context.Context, id string) (time.Duration, error) {
	var resp struct {
		TTL int64 `json:"ttl"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/records/"+id+"/ttl", id, nil, http.StatusOK, &resp); err != nil {
		return 0, err
	}
	return time.Duration(resp.TTL) * time.Millisecond, nil
}

// Exists reports whether a record is live.
func (c *RecordClient) Exists(ctx context.Context, id string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/api/records/"+id, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

// Certificate fetches the destruction certificate issued for a record.
func (c *RecordClient) Certificate(ctx context.Context, id string) (*attestation.DestructionCertificate, error) {
	var cert attestation.DestructionCertificate
	if err := c.do(ctx, http.MethodGet, "/api/certificates/"+id, id, nil, http.StatusOK, &cert); err != nil {
		return nil, err
	}
	return &cert, nil
}

// Authority fetches the server's attestation authority identity.
func (c *RecordClient) Authority(ctx context.Context) (*AuthorityInfo, error) {
	var info AuthorityInfo
	if err := c.do(ctx, http.MethodGet, "/api/authority", "", nil, http.StatusOK, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// VerifyCertificate checks a certificate's signature against the
// server's published public key, without trusting the server for the
// verification itself.
func (c *RecordClient) VerifyCertificate(ctx context.Context, cert *attestation.DestructionCertificate) (bool, error) {
	if cert == nil || !cert.Signed() {
		return false, &interfaces.AttestationError{Msg: "cannot verify an unsigned certificate"}
	}

	info, err := c.Authority(ctx)
	if err != nil {
		return false, err
	}

	pub, err := base64.StdEncoding.DecodeString(info.PublicKey)
	if err != nil {
		return false, fmt.Errorf("invalid authority public key encoding: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid authority public key length %d", len(pub))
	}

	return ed25519.Verify(ed25519.PublicKey(pub), cert.CanonicalBytes(), cert.Signature), nil
}

// do performs one API call and maps error statuses back onto the error
// taxonomy the server encodes them from. id is the record the call is
// about, empty for calls not scoped to one.
func (c *RecordClient) do(ctx context.Context, method, path, id string, body []byte, wantStatus int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != wantStatus {
		return c.statusError(resp.StatusCode, respBody, path, id)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *RecordClient) statusError(status int, body []byte, path, id string) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		msg = apiErr.Error
	}

	switch status {
	case http.StatusNotFound:
		return &interfaces.RecordNotFoundError{ID: id}
	case http.StatusGone:
		return &interfaces.RecordExpiredError{ID: id}
	case http.StatusBadRequest:
		return &interfaces.ValidationError{Msg: msg}
	case http.StatusBadGateway:
		return &interfaces.BackendError{Backend: "remote", Op: path, Err: fmt.Errorf("%s", msg)}
	default:
		return fmt.Errorf("unexpected status %d: %s", status, msg)
	}
}
