package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/efsf/efsf-go/attestation"
	"github.com/efsf/efsf-go/interfaces"
	"github.com/efsf/efsf-go/metrics"
	"github.com/efsf/efsf-go/record"
	"github.com/efsf/efsf-go/store"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// Handler processes HTTP requests against one EphemeralStore.
type Handler struct {
	store     *store.EphemeralStore
	authority *attestation.AttestationAuthority
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// NewHandler creates a request handler. metrics may be nil.
func NewHandler(s *store.EphemeralStore, authority *attestation.AttestationAuthority, m *metrics.Metrics, log *slog.Logger) *Handler {
	return &Handler{
		store:     s,
		authority: authority,
		metrics:   m,
		log:       log,
	}
}

// putRequest is the POST /api/records body. Data travels base64-encoded
// so arbitrary bytes survive the JSON transport.
type putRequest struct {
	Data           string            `json:"data"`
	TTL            string            `json:"ttl,omitempty"`
	Classification string            `json:"classification,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// getResponse is the GET /api/records/{id} body.
type getResponse struct {
	Record *record.EphemeralRecord `json:"record"`
	Data   string                  `json:"data"`
}

// HandlePut stores a new record.
//
// URL format: POST /api/records
//
// Request body: {data(base64), ttl?, classification?, metadata?}
// Response: 201 with the record's metadata JSON.
func (h *Handler) HandlePut(w http.ResponseWriter, r *http.Request) {
	var req putRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		http.Error(w, "Invalid base64 data", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "Empty data", http.StatusBadRequest)
		return
	}

	classification := h.store.DefaultClassification()
	if req.Classification != "" {
		classification, err = record.ParseClassification(req.Classification)
		if err != nil {
			h.writeError(w, err)
			return
		}
	}

	var rec *record.EphemeralRecord
	if req.TTL != "" {
		rec, err = h.store.PutTTLString(r.Context(), data, req.TTL, classification, req.Metadata)
	} else {
		rec, err = h.store.Put(r.Context(), data, 0, classification, req.Metadata)
	}
	if err != nil {
		h.log.Error("Failed to store record", "err", err)
		h.writeError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordsStored.Inc()
	}
	h.writeJSON(w, http.StatusCreated, rec)
}

// HandleGet returns a record's plaintext.
//
// URL format: GET /api/records/{id}
//
// Response: {record, data(base64)}. A destroyed or expired record is 410;
// an unknown one is 404.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	data, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	rec, _ := h.store.Record(id)
	if h.metrics != nil {
		h.metrics.RecordsRead.Inc()
	}
	h.writeJSON(w, http.StatusOK, getResponse{
		Record: rec,
		Data:   base64.StdEncoding.EncodeToString(data),
	})
}

// HandleDestroy explicitly destroys a record.
//
// URL format: DELETE /api/records/{id}
//
// Response: the signed destruction certificate. Destroying an unknown
// record is 404; repeating a destroy returns the original certificate.
func (h *Handler) HandleDestroy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cert, err := h.store.Destroy(r.Context(), id)
	if err != nil {
		h.log.Error("Destroy failed", "err", err, slog.String("id", id))
		h.writeError(w, err)
		return
	}
	if cert == nil {
		h.writeError(w, &interfaces.RecordNotFoundError{ID: id})
		return
	}

	if h.metrics != nil {
		h.metrics.RecordsDestroyed.WithLabelValues(string(cert.Method)).Inc()
		h.metrics.KeysShredded.Inc()
	}
	h.writeJSON(w, http.StatusOK, cert)
}

// HandleTTL reports a record's remaining lifetime in milliseconds.
//
// URL format: GET /api/records/{id}/ttl
func (h *Handler) HandleTTL(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ttl, err := h.store.TTL(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":  id,
		"ttl": ttl.Milliseconds(),
	})
}

// HandleExists reports record liveness without touching the payload.
//
// URL format: HEAD /api/records/{id}
func (h *Handler) HandleExists(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	exists, err := h.store.Exists(r.Context(), id)
	if err != nil {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleCustody returns the chain of custody tracked for a record.
//
// URL format: GET /api/records/{id}/custody
//
// Response: {created_at, created_by, access_count, events, hash_chain,
// verified} with the full chain, unlike the bounded certificate snapshot.
func (h *Handler) HandleCustody(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	chain, ok := h.store.Custody(id)
	if !ok {
		h.writeError(w, &interfaces.RecordNotFoundError{ID: id})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"created_at":   chain.CreatedAt,
		"created_by":   chain.CreatedBy,
		"access_count": chain.AccessCount(),
		"events":       chain.Events(),
		"hash_chain":   chain.HashChain(),
		"verified":     chain.Verify(),
	})
}

// HandleCertificate returns the destruction certificate for a record id.
//
// URL format: GET /api/certificates/{id}
func (h *Handler) HandleCertificate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cert, ok := h.store.Certificate(id)
	if !ok {
		http.Error(w, fmt.Sprintf("no certificate issued for %s", id), http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, cert)
}

// HandleAuthority returns the attestation authority's identity and
// public key so external parties can verify certificates offline.
//
// URL format: GET /api/authority
func (h *Handler) HandleAuthority(w http.ResponseWriter, r *http.Request) {
	if h.authority == nil {
		http.Error(w, "attestation is disabled", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"authority_id": h.authority.AuthorityID,
		"public_key":   base64.StdEncoding.EncodeToString(h.authority.PublicKey()),
		"algorithm":    "Ed25519",
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// writeError maps the error taxonomy onto HTTP statuses: validation 400,
// not found 404, expired or unrecoverable 410, backend 502.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		verr   *interfaces.ValidationError
		nferr  *interfaces.RecordNotFoundError
		experr *interfaces.RecordExpiredError
		cerr   *interfaces.CryptoError
		berr   *interfaces.BackendError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.As(err, &nferr):
		status = http.StatusNotFound
	case errors.As(err, &experr):
		status = http.StatusGone
	case errors.As(err, &cerr):
		if cerr.Unrecoverable() {
			status = http.StatusGone
		}
	case errors.As(err, &berr):
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
