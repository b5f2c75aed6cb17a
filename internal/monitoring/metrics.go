package monitoring

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vietddude/deadletter/internal/core/domain"
)

var (
	// MessagesIngested tracks dead-letter messages added per provider and operation
	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deadletter_messages_ingested_total",
			Help: "Total number of dead-letter messages ingested",
		},
		[]string{"provider", "operation", "category"},
	)

	// RecoveryAttempts tracks finished recovery attempts by outcome
	RecoveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deadletter_recovery_attempts_total",
			Help: "Total number of recovery attempts",
		},
		[]string{"strategy", "outcome"},
	)

	// RecoveryLatency tracks strategy run time
	RecoveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deadletter_recovery_latency_seconds",
			Help:    "Recovery strategy latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	// MessagesClosed tracks messages leaving the engine
	MessagesClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deadletter_messages_closed_total",
			Help: "Total number of messages abandoned, reclaimed or deleted",
		},
		[]string{"event"},
	)

	// AlertsRaised tracks alerts by type and severity
	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deadletter_alerts_raised_total",
			Help: "Total number of alerts raised",
		},
		[]string{"type", "severity"},
	)

	// MessagesByStatus tracks the stored message count per status
	MessagesByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deadletter_messages",
			Help: "Number of stored dead-letter messages by status",
		},
		[]string{"status"},
	)
)

// MetricsObserver records engine events as Prometheus metrics.
type MetricsObserver struct{}

// Notify implements the engine observer.
func (MetricsObserver) Notify(_ context.Context, ev domain.Event) {
	switch ev.EventType {
	case domain.EventTypeIngested:
		if m := ev.Message; m != nil {
			MessagesIngested.WithLabelValues(m.Provider, string(m.OperationType), string(m.Classification.Category)).Inc()
		}
	case domain.EventTypeRecovered, domain.EventTypeRetryScheduled,
		domain.EventTypeManualIntervention, domain.EventTypeFault:
		if ev.Strategy == "" {
			return
		}
		RecoveryAttempts.WithLabelValues(ev.Strategy, string(ev.EventType)).Inc()
		RecoveryLatency.WithLabelValues(ev.Strategy).Observe(ev.Duration.Seconds())
	case domain.EventTypeAbandoned, domain.EventTypeReclaimed, domain.EventTypeDeleted:
		MessagesClosed.WithLabelValues(string(ev.EventType)).Inc()
	}
}

// RecordStats publishes the per-status gauges from a rollup.
func RecordStats(st domain.Stats) {
	for _, s := range domain.Statuses {
		MessagesByStatus.WithLabelValues(string(s)).Set(float64(st.ByStatus[s]))
	}
}
