package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus holds the operational (ops-side) metrics for the service. The
// aggregator pipeline is the product feature; these are for dashboards and
// alerting on the service itself.
type Prometheus struct {
	EvaluationsTotal   *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	ResultCacheHits    prometheus.Counter
	ResultCacheMisses  prometheus.Counter
	RateLimitRejects   prometheus.Counter
	WSConnections      prometheus.Gauge
	SamplesDropped     prometheus.Counter
	FlushFailures      prometheus.Counter
}

// NewPrometheus creates and registers the service metrics on the default
// registry.
func NewPrometheus() *Prometheus {
	return &Prometheus{
		EvaluationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flagcore_evaluations_total",
				Help: "Flag evaluations by result source",
			},
			[]string{"source"},
		),
		EvaluationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flagcore_evaluation_duration_seconds",
				Help:    "Wall-clock duration of flag evaluations",
				Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
			},
		),
		ResultCacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "flagcore_result_cache_hits_total",
				Help: "Result cache hits",
			},
		),
		ResultCacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "flagcore_result_cache_misses_total",
				Help: "Result cache misses",
			},
		),
		RateLimitRejects: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "flagcore_rate_limit_rejections_total",
				Help: "Evaluation requests rejected by the per-tenant rate limiter",
			},
		),
		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "flagcore_websocket_connections",
				Help: "Currently connected WebSocket subscribers",
			},
		),
		SamplesDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "flagcore_metric_samples_dropped_total",
				Help: "Evaluation metric samples dropped due to backpressure",
			},
		),
		FlushFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "flagcore_metric_flush_failures_total",
				Help: "Failed metrics bucket upserts (retried next tick)",
			},
		),
	}
}
