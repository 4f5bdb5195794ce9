package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type txMetrics struct {
	executed *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	commits  prometheus.Counter
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	txMetricsOnce sync.Once
	txRegistry    *txMetrics
)

// ModuleMetrics returns the lazily-initialised registry recording JSON-RPC
// module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mortgage",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mortgage",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method and error code.",
			}, []string{"module", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "mortgage",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mortgage",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Requests rejected by rate limiting or auth.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of one JSON-RPC call. code is zero on success.
func (m *moduleMetrics) Observe(module, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle counts a rejected request. Reasons should be stable strings
// such as "rate_limit" or "unauthenticated".
func (m *moduleMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// Transactions returns the registry recording executed node transactions.
func Transactions() *txMetrics {
	txMetricsOnce.Do(func() {
		txRegistry = &txMetrics{
			executed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mortgage",
				Subsystem: "node",
				Name:      "transactions_total",
				Help:      "Executed transactions segmented by name and outcome.",
			}, []string{"tx", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "mortgage",
				Subsystem: "node",
				Name:      "transaction_duration_seconds",
				Help:      "Time spent executing and committing a transaction.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"tx"}),
			commits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "mortgage",
				Subsystem: "node",
				Name:      "commits_total",
				Help:      "State batches written to storage.",
			}),
		}
		prometheus.MustRegister(txRegistry.executed, txRegistry.latency, txRegistry.commits)
	})
	return txRegistry
}

// Observe records one executed transaction.
func (m *txMetrics) Observe(tx string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "applied"
	if err != nil {
		outcome = "reverted"
	}
	m.executed.WithLabelValues(tx, outcome).Inc()
	m.latency.WithLabelValues(tx).Observe(duration.Seconds())
}

// RecordCommit counts a state commit.
func (m *txMetrics) RecordCommit() {
	if m == nil {
		return
	}
	m.commits.Inc()
}
