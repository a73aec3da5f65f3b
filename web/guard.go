package web

import (
	"context"
	"net/http"

	"github.com/metergate/metergate/adapters/auth"
	"github.com/metergate/metergate/domain/quota"
)

type contextKey int

const (
	identityKey contextKey = iota
	statusKey
)

// IdentityFrom returns the resolved caller stored by Guard.
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	ident, ok := ctx.Value(identityKey).(auth.Identity)
	return ident, ok
}

// StatusFrom returns the post-debit quota status stored by Guard.
func StatusFrom(ctx context.Context) (quota.Status, bool) {
	st, ok := ctx.Value(statusKey).(quota.Status)
	return st, ok
}

// Guard wraps a metered operation with admission control: it resolves the
// caller, debits cost units, and either denies with a structured payload
// or invokes the wrapped handler with identity and status in context.
// Every credit-metered operation composes through this wrapper rather than
// calling the debit engine directly.
func (h *Handler) Guard(cost int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, err := h.resolver.Resolve(r.Context(), r)
			if err != nil {
				h.countDenial("unauthorized")
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
				return
			}

			st, err := h.meter.Debit(r.Context(), ident.User.ID, cost)
			if err != nil {
				h.logger.Error().Err(err).Str("user_id", ident.User.ID).Msg("debit failed")
				writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Server error"})
				return
			}

			switch st.BlockedReason {
			case quota.ReasonPlanSunset:
				h.countDenial(string(st.BlockedReason))
				writeJSON(w, http.StatusPaymentRequired, map[string]any{
					"error":           "Plan limit reached",
					"reason":          "Your free Community plan has reached the 3-month limit. Please contact sales to continue.",
					"plan":            st.Plan.Slug,
					"quota":           st.Quota,
					"used":            st.Used,
					"contactSalesUrl": h.contactSalesURL,
				})
				return
			case quota.ReasonQuotaExceeded:
				h.countDenial(string(st.BlockedReason))
				writeJSON(w, http.StatusPaymentRequired, map[string]any{
					"error":  "Quota exceeded",
					"reason": "Monthly quota exceeded. Please upgrade.",
					"plan":   st.Plan.Slug,
					"quota":  st.Quota,
					"used":   st.Used,
				})
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, ident)
			ctx = context.WithValue(ctx, statusKey, st)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (h *Handler) countDenial(reason string) {
	if h.metrics != nil {
		h.metrics.AdmissionDenials.WithLabelValues(reason).Inc()
	}
}
