package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/metergate/metergate/app"
	"github.com/metergate/metergate/domain/signature"
	"github.com/metergate/metergate/domain/usage"
)

// maxIngestBody bounds the raw body read for signature verification.
const maxIngestBody = 1 << 20

// ingestRequest is the wire shape of a usage event. Decoding is strict:
// unknown fields are rejected as malformed rather than coerced.
type ingestRequest struct {
	SourceKey string            `json:"sourceKey"`
	Delta     *int64            `json:"delta"`
	Endpoint  string            `json:"endpoint,omitempty"`
	TS        int64             `json:"ts,omitempty"` // epoch millis
	RequestID string            `json:"requestId,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// handleIngest accepts signed usage reports from external producers.
// Delivery is at least once; the idempotency key header makes redelivery
// safe, so producers must retry with the same key after a 500.
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	// The signature covers the raw bytes, so the body is read before any
	// parsing can normalize it.
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid body"})
		return
	}

	if !signature.Verify(raw, r.Header.Get(HeaderSignature), h.ingestSecret) {
		h.countIngestReject("unsigned")
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid signature"})
		return
	}

	idempotencyKey := r.Header.Get(HeaderIdempotencyKey)

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var req ingestRequest
	if err := dec.Decode(&req); err != nil {
		h.countIngestReject("malformed")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON"})
		return
	}

	if req.SourceKey == "" || req.Delta == nil || idempotencyKey == "" {
		h.countIngestReject("malformed")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing fields"})
		return
	}

	ev := usage.Event{
		IdempotencyKey: idempotencyKey,
		SourceKey:      req.SourceKey,
		Delta:          *req.Delta,
		Endpoint:       req.Endpoint,
		RequestID:      req.RequestID,
		Metadata:       req.Meta,
	}
	if req.TS > 0 {
		ev.Timestamp = time.UnixMilli(req.TS).UTC()
	}

	if _, err := h.meter.Ingest(r.Context(), ev); err != nil {
		if errors.Is(err, app.ErrMalformedPayload) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing fields"})
			return
		}
		h.logger.Error().Err(err).Str("idempotency_key", idempotencyKey).Msg("usage ingest failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Server error"})
		return
	}

	// Duplicates are a success: the event was already applied.
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) countIngestReject(result string) {
	if h.metrics != nil {
		h.metrics.IngestTotal.WithLabelValues(result).Inc()
	}
}
