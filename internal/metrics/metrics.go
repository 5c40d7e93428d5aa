// Package metrics exposes Prometheus collectors for the crawler pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal            *prometheus.CounterVec
	fetchLatencySeconds     *prometheus.HistogramVec
	throttleDelaySeconds    *prometheus.HistogramVec
	circuitTransitionsTotal *prometheus.CounterVec
	identityRotationsTotal  *prometheus.CounterVec
	selectorCacheTotal      *prometheus.CounterVec
	extractionCallsTotal    *prometheus.CounterVec
	postingsClassifiedTotal *prometheus.CounterVec
	activeWorkers           prometheus.Gauge
	batchTasksTotal         *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetches_total",
				Help: "Total fetch attempts, labeled by domain and outcome.",
			},
			[]string{"domain", "outcome"},
		)

		fetchLatencySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_latency_seconds",
				Help:    "Histogram of fetch latencies, labeled by domain.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		throttleDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_throttle_delay_seconds",
				Help:    "Histogram of pacing delays imposed before fetches.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 90},
			},
			[]string{"domain"},
		)

		circuitTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_circuit_transitions_total",
				Help: "Circuit breaker state transitions, labeled by domain and new state.",
			},
			[]string{"domain", "state"},
		)

		identityRotationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_identity_rotations_total",
				Help: "Identity rotations, labeled by domain and trigger.",
			},
			[]string{"domain", "trigger"},
		)

		selectorCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_selector_cache_total",
				Help: "Selector cache lookups, labeled by result (hit, miss, stale, fallback).",
			},
			[]string{"result"},
		)

		extractionCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_extraction_calls_total",
				Help: "Calls to the external extraction service, labeled by status.",
			},
			[]string{"status"},
		)

		postingsClassifiedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_postings_classified_total",
				Help: "Postings processed by the dedup engine, labeled by classification.",
			},
			[]string{"class"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a crawl task.",
			},
		)

		batchTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_batch_tasks_total",
				Help: "Crawl tasks completed, labeled by status.",
			},
			[]string{"status"},
		)
	})
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(domain, outcome string, latency time.Duration) {
	Init()
	fetchesTotal.WithLabelValues(domain, outcome).Inc()
	fetchLatencySeconds.WithLabelValues(domain).Observe(latency.Seconds())
}

// ObserveThrottleDelay records a pacing delay imposed before a fetch.
func ObserveThrottleDelay(domain string, delay time.Duration) {
	Init()
	throttleDelaySeconds.WithLabelValues(domain).Observe(delay.Seconds())
}

// CircuitTransition records a breaker state change.
func CircuitTransition(domain, state string) {
	Init()
	circuitTransitionsTotal.WithLabelValues(domain, state).Inc()
}

// IdentityRotated records an identity rotation and what triggered it.
func IdentityRotated(domain, trigger string) {
	Init()
	identityRotationsTotal.WithLabelValues(domain, trigger).Inc()
}

// SelectorCacheResult records the result of a selector cache consultation.
func SelectorCacheResult(result string) {
	Init()
	selectorCacheTotal.WithLabelValues(result).Inc()
}

// ExtractionCall records one call to the external extraction service.
func ExtractionCall(status string) {
	Init()
	extractionCallsTotal.WithLabelValues(status).Inc()
}

// PostingClassified records one dedup verdict.
func PostingClassified(class string) {
	Init()
	postingsClassifiedTotal.WithLabelValues(class).Inc()
}

// WorkerStarted increments the active worker gauge.
func WorkerStarted() {
	Init()
	activeWorkers.Inc()
}

// WorkerFinished decrements the active worker gauge.
func WorkerFinished() {
	Init()
	activeWorkers.Dec()
}

// TaskCompleted records a finished crawl task.
func TaskCompleted(status string) {
	Init()
	batchTasksTotal.WithLabelValues(status).Inc()
}
