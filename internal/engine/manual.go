package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vietddude/deadletter/internal/core/domain"
	"github.com/vietddude/deadletter/internal/recovery"
)

// ManualRetry runs a strategy against a message right away. An empty
// strategyName picks the first applicable strategy, a named one is used even
// when its predicate does not match. The automatic retry budget is untouched.
//
// A failed attempt leaves the message in manual and returns false. The error is
// non-nil only when the strategy faulted or the message could not be claimed.
func (e *Engine) ManualRetry(ctx context.Context, id, strategyName string) (bool, error) {
	var strategy recovery.Strategy
	if strategyName != "" {
		s, ok := e.registry.Lookup(strategyName)
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrStrategyNotFound, strategyName)
		}
		strategy = s
	}

	now := e.now().UTC()
	token := e.leaseToken()
	m, err := e.store.Update(ctx, id, func(m *domain.Message) error {
		if err := checkOperable(m); err != nil {
			return err
		}
		s := strategy
		if s == nil {
			var ok bool
			if s, ok = e.registry.Select(m); !ok {
				return ErrNoApplicableStrategy
			}
		}
		strategy = s
		e.claim(m, s, token, now)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return false, err
		}
		return false, fmt.Errorf("manual retry of %s: %w", id, err)
	}
	e.scheduler.Cancel(id)

	a := e.run(ctx, m, strategy, token)
	return e.finishManual(context.WithoutCancel(ctx), a)
}

func (e *Engine) finishManual(ctx context.Context, a *attempt) (bool, error) {
	id := a.msg.ID
	now := e.now().UTC()
	name := a.strategy.Name()

	m, err := e.finalize(ctx, id, a.token, func(m *domain.Message) {
		if a.ok {
			m.Resolution.Status = domain.StatusResolved
			m.Resolution.ResolvedAt = domain.TimePtr(now)
			m.Resolution.ResolvedBy = domain.ResolvedByOperator
			m.Resolution.ResolutionMethod = name
			m.Recovery.NextRetryAt = nil
			m.AddNote("manually recovered via " + name)
			return
		}
		m.Resolution.Status = domain.StatusManual
		m.Classification.RequiresManualIntervention = true
		m.Recovery.NextRetryAt = nil
		m.AddNote(fmt.Sprintf("manual attempt via %s failed: %s", name, a.reason()))
	})
	if errors.Is(err, errLeaseLost) {
		// abandoned while the attempt was running
		e.log.Info("Discarded manual attempt result", "message_id", id, "strategy", name, "recovered", a.ok)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record manual attempt for %s: %w", id, err)
	}

	ev := domain.Event{Message: m, Strategy: name, Err: a.err, Duration: a.took}
	if a.ok {
		ev.EventType = domain.EventTypeRecovered
		e.log.Info("Message manually recovered", "message_id", id, "strategy", name)
		e.notify(ctx, ev)
		return true, nil
	}

	ev.EventType = domain.EventTypeManualIntervention
	if a.fault() {
		ev.EventType = domain.EventTypeFault
	}
	e.log.Warn("Manual retry failed", "message_id", id, "strategy", name, "error", a.err)
	e.notify(ctx, ev)

	if a.fault() {
		return false, fmt.Errorf("manual retry of %s via %s: %w", id, name, a.err)
	}
	return false, nil
}

// AbandonMessage gives up on a message from any non-terminal state. An attempt
// already running is not interrupted, its result is discarded.
func (e *Engine) AbandonMessage(ctx context.Context, id, reason string) error {
	now := e.now().UTC()
	m, err := e.store.Update(ctx, id, func(m *domain.Message) error {
		if m.IsTerminal() {
			return ErrTerminal
		}
		m.Resolution.Status = domain.StatusAbandoned
		m.Resolution.ResolvedAt = domain.TimePtr(now)
		m.Resolution.ResolvedBy = domain.ResolvedByOperator
		m.Resolution.ResolutionMethod = string(domain.StatusAbandoned)
		m.Recovery.NextRetryAt = nil
		clearLease(m)

		note := "abandoned"
		if r := strings.TrimSpace(reason); r != "" {
			note += ": " + r
		}
		m.AddNote(note)
		m.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return err
		}
		return fmt.Errorf("abandon %s: %w", id, err)
	}

	e.scheduler.Cancel(id)
	e.log.Info("Message abandoned", "message_id", id, "reason", reason)
	e.notify(ctx, domain.Event{EventType: domain.EventTypeAbandoned, Message: m})
	return nil
}

// checkOperable rejects manual actions on messages that cannot be claimed.
func checkOperable(m *domain.Message) error {
	switch {
	case m.IsTerminal():
		return ErrTerminal
	case m.Resolution.Status == domain.StatusRetrying:
		return ErrAttemptInFlight
	}
	return nil
}
