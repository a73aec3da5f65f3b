// Package metrics provides Prometheus metrics collection for Metergate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for the metering core.
type Collector struct {
	// Ingestion metrics
	IngestTotal      *prometheus.CounterVec
	IngestDuplicates prometheus.Counter

	// Debit metrics
	DebitsTotal   *prometheus.CounterVec
	DebitDuration prometheus.Histogram

	// Admission metrics
	AdmissionDenials *prometheus.CounterVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
}

// New creates a metrics collector with all metrics registered on reg.
// Pass prometheus.DefaultRegisterer outside of tests.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		IngestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "ingest_events_total",
				Help:      "Usage events received, by result",
			},
			[]string{"result"}, // applied, duplicate, malformed, unsigned, error
		),
		IngestDuplicates: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "ingest_duplicates_total",
				Help:      "Events ignored because their idempotency key was already seen",
			},
		),
		DebitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "debits_total",
				Help:      "Debit decisions, by outcome and plan",
			},
			[]string{"outcome", "plan"}, // allowed, quota_exceeded, plan_sunset, error
		),
		DebitDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "metergate",
				Name:      "debit_duration_seconds",
				Help:      "Debit transaction duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		AdmissionDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "admission_denials_total",
				Help:      "Requests denied by the admission middleware",
			},
			[]string{"reason"}, // unauthorized, quota_exceeded, plan_sunset
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "config_reloads_total",
				Help:      "Successful configuration reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "metergate",
				Name:      "config_reload_errors_total",
				Help:      "Configuration reloads that failed validation",
			},
		),
	}
}
