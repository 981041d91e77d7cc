package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	certificateRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certify_certificate_requests_total",
		Help: "Total certificate requests by outcome",
	}, []string{"outcome"})

	certificateRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "certify_certificate_request_duration_seconds",
		Help:    "Duration of certificate requests",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	renewalRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certify_renewal_runs_total",
		Help: "Total batch renewal runs by trigger",
	}, []string{"trigger"})
)

// ObserveCertificateRequest records the outcome and duration of one request
func ObserveCertificateRequest(success bool, duration time.Duration) {
	outcome := OutcomeError
	if success {
		outcome = OutcomeSuccess
	}
	certificateRequests.WithLabelValues(outcome).Inc()
	certificateRequestDuration.Observe(duration.Seconds())
}

// ObserveRenewalRun counts a batch renewal run started by trigger (scheduled, manual)
func ObserveRenewalRun(trigger string) {
	renewalRuns.WithLabelValues(trigger).Inc()
}

// RegisterEngineMetrics exposes live engine state as gauges
func RegisterEngineMetrics(activeRequests, managedSites func() int) {
	prometheus.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "certify_active_requests",
			Help: "Number of tracked certificate requests not yet finished",
		}, func() float64 {
			return float64(activeRequests())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "certify_managed_sites",
			Help: "Number of managed sites",
		}, func() float64 {
			return float64(managedSites())
		}),
	)
}

// Handler serves the Prometheus exposition format
func Handler() http.Handler {
	return promhttp.Handler()
}
