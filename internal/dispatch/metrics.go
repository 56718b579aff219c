package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Webhook outcomes recorded in enricher_webhook_requests_total.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics holds the gateway's Prometheus collectors.
//
// Metrics:
//   - enricher_webhook_requests_total{outcome}
//   - enricher_worker_duration_seconds
//   - enricher_workers_active
type Metrics struct {
	RequestsTotal  *prometheus.CounterVec
	WorkerDuration prometheus.Histogram
	WorkersActive  prometheus.Gauge
}

// NewMetrics registers the gateway collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enricher_webhook_requests_total",
				Help: "Webhook requests by outcome",
			},
			[]string{"outcome"},
		),
		WorkerDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "enricher_worker_duration_seconds",
			Help:    "Wall time of enrichment workers",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		WorkersActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "enricher_workers_active",
			Help: "Enrichment workers currently running",
		}),
	}
}
