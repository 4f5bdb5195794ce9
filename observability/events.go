package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"mortgagechain/core/events"
)

type eventMetrics struct {
	emitted   *prometheus.CounterVec
	mortgages *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed events. It
// implements events.Emitter so the node can fan events into it.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mortgage",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Committed events segmented by type.",
			}, []string{"type"}),
			mortgages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mortgage",
				Subsystem: "events",
				Name:      "mortgage_transitions_total",
				Help:      "Mortgage lifecycle transitions segmented by resulting status.",
			}, []string{"status"}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.mortgages)
	})
	return eventRegistry
}

// Emit implements events.Emitter.
func (m *eventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		eventType = "unknown"
	}
	m.emitted.WithLabelValues(eventType).Inc()
	if status, ok := strings.CutPrefix(eventType, "mortgage."); ok && !strings.Contains(status, ".") {
		m.mortgages.WithLabelValues(status).Inc()
	}
}
