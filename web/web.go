// Package web provides the HTTP surface of the metering core: the signed
// ingestion endpoint, the quota status read, and the admission middleware
// that protects metered operations.
package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/metergate/metergate/adapters/auth"
	"github.com/metergate/metergate/adapters/metrics"
	"github.com/metergate/metergate/app"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Header names for the ingestion endpoint.
const (
	HeaderSignature      = "X-Signature"
	HeaderIdempotencyKey = "X-Idempotency-Key"
)

// Handler provides the HTTP endpoints.
type Handler struct {
	meter           *app.MeterService
	resolver        *auth.KeyResolver
	logger          zerolog.Logger
	metrics         *metrics.Collector
	ingestSecret    string
	contactSalesURL string
	metricsPath     string
}

// Deps contains dependencies for the web handler.
type Deps struct {
	Meter    *app.MeterService
	Resolver *auth.KeyResolver
	Logger   zerolog.Logger
	Metrics  *metrics.Collector // nil disables /metrics
}

// Config contains configuration for the web handler.
type Config struct {
	IngestSecret    string
	ContactSalesURL string
	MetricsPath     string
}

// New creates a new web handler.
func New(deps Deps, cfg Config) *Handler {
	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	return &Handler{
		meter:           deps.Meter,
		resolver:        deps.Resolver,
		logger:          deps.Logger.With().Str("component", "web").Logger(),
		metrics:         deps.Metrics,
		ingestSecret:    cfg.IngestSecret,
		contactSalesURL: cfg.ContactSalesURL,
		metricsPath:     metricsPath,
	}
}

// Router builds the HTTP router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/v1/usage", h.handleIngest)
	r.Get("/v1/usage/status", h.handleStatus)

	// Minimal metered operation: the integration smoke target for
	// admission control. Every credit-metered operation composes through
	// Guard the same way.
	r.With(h.Guard(1)).Get("/v1/ping", h.handlePing)

	r.Get("/healthz", h.handleHealth)

	if h.metrics != nil {
		r.Method(http.MethodGet, h.metricsPath, promhttp.Handler())
	}

	return r
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ident, err := h.resolver.Resolve(r.Context(), r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
		return
	}

	st, err := h.meter.Status(r.Context(), ident.User.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", ident.User.ID).Msg("status read failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Server error"})
		return
	}

	var blocked *string
	if st.Blocked() {
		reason := string(st.BlockedReason)
		blocked = &reason
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan": map[string]any{
			"slug":                  st.Plan.Slug,
			"label":                 st.Plan.Label,
			"monthlyQuota":          st.Plan.MonthlyQuota,
			"allowOverage":          st.Plan.AllowOverage,
			"overageUnitPriceCents": st.Plan.OverageUnitPriceCents,
		},
		"usage": map[string]any{
			"periodStart":  st.PeriodStart.Format("2006-01-02"),
			"used":         st.Used,
			"overage_used": st.OverageUsed,
			"remaining":    st.Remaining,
		},
		"blockedReason": blocked,
	})
}

func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	st, _ := StatusFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"remaining": st.Remaining,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
