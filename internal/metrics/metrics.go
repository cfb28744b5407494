package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	RunsActive          *prometheus.GaugeVec
	RunsTotal           *prometheus.CounterVec
	ResourceTransitions *prometheus.CounterVec
	RetriesTotal        *prometheus.CounterVec
	DriftReportsTotal   *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
)

func Init(subsystem string) {
	RunsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "converge",
			Subsystem: subsystem,
			Name:      "runs_active",
			Help:      "Reconciliation runs currently in progress",
		},
		[]string{"deployment"},
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "converge",
			Subsystem: subsystem,
			Name:      "runs_total",
			Help:      "Completed reconciliation runs by outcome",
		},
		[]string{"deployment", "outcome"},
	)

	ResourceTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "converge",
			Subsystem: subsystem,
			Name:      "resource_transitions_total",
			Help:      "Resource record status transitions",
		},
		[]string{"kind", "status"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "converge",
			Subsystem: subsystem,
			Name:      "provider_retries_total",
			Help:      "Provider calls retried after transient failures",
		},
		[]string{"kind"},
	)

	DriftReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "converge",
			Subsystem: subsystem,
			Name:      "drift_reports_total",
			Help:      "Drift reports emitted with at least one changed field",
		},
		[]string{"deployment"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "converge",
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	prometheus.MustRegister(RunsActive, RunsTotal, ResourceTransitions,
		RetriesTotal, DriftReportsTotal, RequestDuration)
}

// StartServer serves /metrics in the background. A listen failure is logged,
// not fatal: the controller keeps reconciling without the metrics endpoint.
func StartServer(port string, logger *zap.Logger) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(":"+port, nil); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}
