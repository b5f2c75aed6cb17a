package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/deadletter/internal/core/domain"
	"github.com/vietddude/deadletter/internal/infra/storage"
)

// AlertConfig holds the alert thresholds. A zero threshold disables its alert.
type AlertConfig struct {
	HighThreshold     int
	CriticalThreshold int
	SpikeThreshold    int
	SpikeWindow       time.Duration
}

// PendingCounter counts messages by status.
type PendingCounter interface {
	CountByStatus(ctx context.Context, status domain.Status) (int, error)
}

// AlertEngine turns engine events into operator alerts.
type AlertEngine struct {
	cfg     AlertConfig
	counter PendingCounter
	sink    storage.AlertLog
	now     func() time.Time
	log     *slog.Logger

	mu      sync.Mutex
	level   domain.Severity // highest volume level already reported
	arrived map[string][]time.Time
	spiking map[string]bool
}

// NewAlertEngine creates an alert engine writing to sink.
func NewAlertEngine(cfg AlertConfig, counter PendingCounter, sink storage.AlertLog, now func() time.Time) *AlertEngine {
	if now == nil {
		now = time.Now
	}
	if cfg.SpikeWindow <= 0 {
		cfg.SpikeWindow = 5 * time.Minute
	}
	return &AlertEngine{
		cfg:     cfg,
		counter: counter,
		sink:    sink,
		now:     now,
		log:     slog.Default().With("component", "alerts"),
		arrived: make(map[string][]time.Time),
		spiking: make(map[string]bool),
	}
}

// Notify implements the engine observer.
func (a *AlertEngine) Notify(ctx context.Context, ev domain.Event) {
	switch ev.EventType {
	case domain.EventTypeIngested:
		a.checkVolume(ctx)
		if ev.Message != nil {
			a.checkSpike(ctx, ev.Message)
		}
	case domain.EventTypeManualIntervention:
		if ev.Message == nil {
			return
		}
		m := ev.Message
		a.raise(ctx, domain.Alert{
			Type:       domain.AlertManualIntervention,
			Severity:   manualSeverity(m),
			Message:    fmt.Sprintf("%s %s message needs manual intervention", m.Provider, m.OperationType),
			MessageIDs: []string{m.ID},
			Metadata: map[string]any{
				"provider":    m.Provider,
				"operation":   string(m.OperationType),
				"retry_count": m.Recovery.CurrentRetryCount,
				"strategy":    ev.Strategy,
			},
		})
	case domain.EventTypeFault:
		if ev.Message == nil {
			return
		}
		m := ev.Message
		meta := map[string]any{"provider": m.Provider, "strategy": ev.Strategy}
		if ev.Err != nil {
			meta["error"] = ev.Err.Error()
		}
		a.raise(ctx, domain.Alert{
			Type:       domain.AlertRecoveryFailure,
			Severity:   domain.SeverityHigh,
			Message:    fmt.Sprintf("strategy %s faulted while recovering %s", ev.Strategy, m.ID),
			MessageIDs: []string{m.ID},
			Metadata:   meta,
		})
	}
}

// checkVolume raises high_volume when the pending count crosses a threshold.
// The level re-arms once the count falls back below it.
func (a *AlertEngine) checkVolume(ctx context.Context) {
	if a.cfg.HighThreshold <= 0 && a.cfg.CriticalThreshold <= 0 {
		return
	}
	pending, err := a.counter.CountByStatus(ctx, domain.StatusPending)
	if err != nil {
		a.log.Warn("Failed to count pending messages", "error", err)
		return
	}

	var level domain.Severity
	switch {
	case a.cfg.CriticalThreshold > 0 && pending >= a.cfg.CriticalThreshold:
		level = domain.SeverityCritical
	case a.cfg.HighThreshold > 0 && pending >= a.cfg.HighThreshold:
		level = domain.SeverityHigh
	}

	a.mu.Lock()
	prev := a.level
	a.level = level
	a.mu.Unlock()

	if level == "" || level.Rank() <= prev.Rank() {
		return
	}
	threshold := a.cfg.HighThreshold
	if level == domain.SeverityCritical {
		threshold = a.cfg.CriticalThreshold
	}
	a.raise(ctx, domain.Alert{
		Type:     domain.AlertHighVolume,
		Severity: level,
		Message:  fmt.Sprintf("%d pending dead-letter messages (threshold %d)", pending, threshold),
		Metadata: map[string]any{"pending": pending, "threshold": threshold},
	})
}

// checkSpike raises error_spike when one provider's ingestions inside the
// window reach the spike threshold.
func (a *AlertEngine) checkSpike(ctx context.Context, m *domain.Message) {
	if a.cfg.SpikeThreshold <= 0 {
		return
	}
	now := a.now()
	cutoff := now.Add(-a.cfg.SpikeWindow)

	a.mu.Lock()
	times := a.arrived[m.Provider]
	keep := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	keep = append(keep, now)
	a.arrived[m.Provider] = keep

	count := len(keep)
	fire := count >= a.cfg.SpikeThreshold && !a.spiking[m.Provider]
	a.spiking[m.Provider] = count >= a.cfg.SpikeThreshold
	a.mu.Unlock()

	if !fire {
		return
	}
	a.raise(ctx, domain.Alert{
		Type:       domain.AlertErrorSpike,
		Severity:   domain.SeverityHigh,
		Message:    fmt.Sprintf("%d failures from %s within %s", count, m.Provider, a.cfg.SpikeWindow),
		MessageIDs: []string{m.ID},
		Metadata: map[string]any{
			"provider": m.Provider,
			"count":    count,
			"window":   a.cfg.SpikeWindow.String(),
		},
	})
}

func (a *AlertEngine) raise(ctx context.Context, alert domain.Alert) {
	alert.ID = uuid.NewString()
	alert.Timestamp = a.now().UTC()
	if err := a.sink.Append(ctx, alert); err != nil {
		a.log.Error("Failed to record alert", "type", alert.Type, "error", err)
		return
	}
	AlertsRaised.WithLabelValues(string(alert.Type), string(alert.Severity)).Inc()
	a.log.Warn("Alert raised", "type", alert.Type, "severity", alert.Severity, "message", alert.Message)
}

func manualSeverity(m *domain.Message) domain.Severity {
	if m.Classification.Severity.Rank() > domain.SeverityMedium.Rank() {
		return m.Classification.Severity
	}
	return domain.SeverityMedium
}
