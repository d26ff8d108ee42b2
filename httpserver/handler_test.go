package httpserver

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efsf/efsf-go/attestation"
	"github.com/efsf/efsf-go/cryptoutils"
	"github.com/efsf/efsf-go/interfaces"
	"github.com/efsf/efsf-go/record"
	"github.com/efsf/efsf-go/storage"
	"github.com/efsf/efsf-go/store"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestServer(t *testing.T, clock interfaces.Clock) (*Server, *store.EphemeralStore) {
	t.Helper()

	master := bytes.Repeat([]byte{0x42}, cryptoutils.KeySize)
	crypto, err := cryptoutils.NewCryptoProvider(master, clock)
	require.NoError(t, err)

	authority, err := attestation.NewAttestationAuthority("test-authority", clock)
	require.NoError(t, err)

	s, err := store.New(store.Config{
		Backend:               storage.NewMemoryBackend(clock, nil),
		Crypto:                crypto,
		Authority:             authority,
		DefaultClassification: record.Transient,
		Clock:                 clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      slog.Default(),
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
		ReadTimeout:              time.Second,
		WriteTimeout:             time.Second,
	}, s)
	require.NoError(t, err)
	return srv, s
}

func doRequest(t *testing.T, router http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func putRecord(t *testing.T, router http.Handler, data []byte, ttl, classification string) record.EphemeralRecord {
	t.Helper()
	body, err := json.Marshal(putRequest{
		Data:           base64.StdEncoding.EncodeToString(data),
		TTL:            ttl,
		Classification: classification,
	})
	require.NoError(t, err)

	rr := doRequest(t, router, http.MethodPost, "/api/records", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var rec record.EphemeralRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	return rec
}

func TestHandler_PutAndGet(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	router := srv.getRouter()

	rec := putRecord(t, router, []byte(`{"otp":"123456"}`), "5m", "TRANSIENT")
	assert.Equal(t, 5*time.Minute, rec.TTL)
	assert.Equal(t, record.Transient, rec.Classification)

	rr := doRequest(t, router, http.MethodGet, "/api/records/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp getResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	data, err := base64.StdEncoding.DecodeString(resp.Data)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"otp":"123456"}`), data)
}

func TestHandler_PutValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	router := srv.getRouter()

	rr := doRequest(t, router, http.MethodPost, "/api/records", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	body, _ := json.Marshal(putRequest{Data: base64.StdEncoding.EncodeToString([]byte("x")), TTL: "2 days", Classification: "TRANSIENT"})
	rr = doRequest(t, router, http.MethodPost, "/api/records", body)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "TTL above the TRANSIENT ceiling is rejected")

	body, _ = json.Marshal(putRequest{Data: base64.StdEncoding.EncodeToString([]byte("x")), Classification: "SECRET"})
	rr = doRequest(t, router, http.MethodPost, "/api/records", body)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "unknown classification is rejected")
}

func TestHandler_GetUnknownIs404(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	router := srv.getRouter()

	rr := doRequest(t, router, http.MethodGet, "/api/records/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandler_DestroyReturnsCertificate(t *testing.T) {
	srv, s := newTestServer(t, nil)
	router := srv.getRouter()

	rec := putRecord(t, router, []byte("payload"), "1h", "SHORT_LIVED")

	rr := doRequest(t, router, http.MethodDelete, "/api/records/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var cert attestation.DestructionCertificate
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cert))
	assert.Equal(t, attestation.MethodManual, cert.Method)
	assert.Equal(t, rec.ID, cert.Resource.ID)

	verified, err := s.Authority().VerifyCertificate(&cert)
	require.NoError(t, err)
	assert.True(t, verified, "the wire roundtrip preserves the signature")

	// Destroyed records read as gone, not unknown.
	rr = doRequest(t, router, http.MethodGet, "/api/records/"+rec.ID, nil)
	assert.Equal(t, http.StatusGone, rr.Code)

	// The certificate stays retrievable by record id.
	rr = doRequest(t, router, http.MethodGet, "/api/certificates/"+rec.ID, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandler_DestroyUnknownIs404(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	router := srv.getRouter()

	rr := doRequest(t, router, http.MethodDelete, "/api/records/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandler_ExpiredRecordIs410(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	srv, _ := newTestServer(t, clock)
	router := srv.getRouter()

	rec := putRecord(t, router, []byte("short lived"), "5m", "TRANSIENT")
	clock.Advance(6 * time.Minute)

	rr := doRequest(t, router, http.MethodGet, "/api/records/"+rec.ID, nil)
	assert.Equal(t, http.StatusGone, rr.Code)

	// Expiry-on-read left a CRYPTO_SHRED certificate behind.
	rr = doRequest(t, router, http.MethodGet, "/api/certificates/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var cert attestation.DestructionCertificate
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cert))
	assert.Equal(t, attestation.MethodCryptoShred, cert.Method)
}

func TestHandler_TTLAndExists(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	srv, _ := newTestServer(t, clock)
	router := srv.getRouter()

	rec := putRecord(t, router, []byte("x"), "2h", "SHORT_LIVED")

	rr := doRequest(t, router, http.MethodGet, "/api/records/"+rec.ID+"/ttl", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var ttlResp struct {
		ID  string `json:"id"`
		TTL int64  `json:"ttl"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ttlResp))
	assert.Equal(t, int64(2*60*60*1000), ttlResp.TTL)

	rr = doRequest(t, router, http.MethodHead, "/api/records/"+rec.ID, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, router, http.MethodHead, "/api/records/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandler_Custody(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	router := srv.getRouter()

	rec := putRecord(t, router, []byte("x"), "1h", "SHORT_LIVED")
	rr := doRequest(t, router, http.MethodGet, "/api/records/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, router, http.MethodGet, "/api/records/"+rec.ID+"/custody", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var custody struct {
		AccessCount int      `json:"access_count"`
		Verified    bool     `json:"verified"`
		HashChain   []string `json:"hash_chain"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &custody))
	assert.Equal(t, 2, custody.AccessCount, "create plus one read")
	assert.True(t, custody.Verified)
	assert.Len(t, custody.HashChain, 2)
}

func TestHandler_Authority(t *testing.T) {
	srv, s := newTestServer(t, nil)
	router := srv.getRouter()

	rr := doRequest(t, router, http.MethodGet, "/api/authority", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		AuthorityID string `json:"authority_id"`
		PublicKey   string `json:"public_key"`
		Algorithm   string `json:"algorithm"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "test-authority", resp.AuthorityID)
	assert.Equal(t, "Ed25519", resp.Algorithm)

	pub, err := base64.StdEncoding.DecodeString(resp.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, []byte(s.Authority().PublicKey()), pub)
	assert.Len(t, pub, ed25519.PublicKeySize)
}

func TestServer_HealthAndDrain(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	router := srv.getRouter()

	rr := doRequest(t, router, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, router, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, router, http.MethodGet, "/drain", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, router, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = doRequest(t, router, http.MethodGet, "/undrain", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, router, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandler_PayloadNeverLeaksThroughBody(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	router := srv.getRouter()

	rec := putRecord(t, router, []byte("plaintext-secret"), "1h", "SHORT_LIVED")

	// Neither the record metadata nor the certificate carries plaintext.
	rr := doRequest(t, router, http.MethodDelete, "/api/records/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	assert.NotContains(t, string(body), "plaintext-secret")
}
