// Package metrics provides internal Prometheus metrics collection for the
// request-coordination core. This package is internal and should not be
// imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds every Prometheus metric the coordination core exports:
// one family per component (scheduler admission, cache, breaker, batcher,
// provider calls) rather than the generic HTTP/DB metrics a web service
// would carry, since this core fronts no database and serves no HTTP
// traffic of its own.
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec

	batchSize       *prometheus.HistogramVec
	batchesFlushed  *prometheus.CounterVec
	limiterRejected *prometheus.CounterVec
	retryAttempts   *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers every metric under namespace and returns a ready
// Collector. Call it once per process; a second registration attempt in
// the same process would panic on duplicate registration, same as the
// underlying Prometheus client.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of provider requests dispatched by the scheduler",
		},
		[]string{"adapter", "endpoint", "status"},
	)

	c.requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider request latency in seconds, from admission to outcome",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"adapter", "endpoint"},
	)

	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of scheduler cache hits",
		},
		[]string{"endpoint"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of scheduler cache misses",
		},
		[]string{"endpoint"},
	)

	c.breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per adapter (0=closed, 1=half-open, 2=open)",
		},
		[]string{"adapter"},
	)

	c.breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"adapter", "to"},
	)

	c.batchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of requests coalesced into a closed batch",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		},
		[]string{"adapter"},
	)

	c.batchesFlushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_flushed_total",
			Help:      "Total number of batches closed, labeled by close reason",
		},
		[]string{"adapter", "reason"},
	)

	c.limiterRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "limiter_rejected_total",
			Help:      "Total number of admissions that had to wait for a future grant",
		},
		[]string{"endpoint"},
	)

	c.retryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Total number of retry attempts scheduled after a retryable failure",
		},
		[]string{"adapter", "endpoint"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordRequest records one provider call outcome and its latency.
func (c *Collector) RecordRequest(adapter, endpoint string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.requestsTotal.WithLabelValues(adapter, endpoint, status).Inc()
	c.requestDuration.WithLabelValues(adapter, endpoint).Observe(duration.Seconds())
}

// RecordCacheHit records a scheduler cache hit for endpoint.
func (c *Collector) RecordCacheHit(endpoint string) {
	c.cacheHits.WithLabelValues(endpoint).Inc()
}

// RecordCacheMiss records a scheduler cache miss for endpoint.
func (c *Collector) RecordCacheMiss(endpoint string) {
	c.cacheMisses.WithLabelValues(endpoint).Inc()
}

// RecordBreakerState reports the current numeric state (0/1/2) for adapter.
func (c *Collector) RecordBreakerState(adapter string, state int) {
	c.breakerState.WithLabelValues(adapter).Set(float64(state))
}

// RecordBreakerTransition records a breaker moving to state `to` (e.g. "open", "half_open", "closed").
func (c *Collector) RecordBreakerTransition(adapter, to string) {
	c.breakerTransitions.WithLabelValues(adapter, to).Inc()
}

// RecordBatch records the size of a closed batch and why it closed ("size" or "deadline").
func (c *Collector) RecordBatch(adapter, reason string, size int) {
	c.batchSize.WithLabelValues(adapter).Observe(float64(size))
	c.batchesFlushed.WithLabelValues(adapter, reason).Inc()
}

// RecordLimiterWait records that an admission had to wait for a future grant.
func (c *Collector) RecordLimiterWait(endpoint string) {
	c.limiterRejected.WithLabelValues(endpoint).Inc()
}

// RecordRetry records one retry attempt scheduled after a retryable failure.
func (c *Collector) RecordRetry(adapter, endpoint string) {
	c.retryAttempts.WithLabelValues(adapter, endpoint).Inc()
}
