package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/deadletter/internal/core/domain"
	"github.com/vietddude/deadletter/internal/recovery"
)

// attempt is one claimed run of a strategy against a message.
type attempt struct {
	msg      *domain.Message
	strategy recovery.Strategy
	token    string
	ok       bool
	err      error
	took     time.Duration
}

// fault reports whether the attempt failed for infrastructure reasons.
func (a *attempt) fault() bool {
	return !a.ok && recovery.IsFault(a.err)
}

// reason describes a failed attempt for the message notes.
func (a *attempt) reason() string {
	if a.err != nil {
		return a.err.Error()
	}
	return "strategy reported failure"
}

// ProcessRetry runs one automatic recovery attempt. It is the worker pool
// handler: a message that is not pending, not due or already claimed is
// skipped without error, so duplicate submissions are harmless. Infrastructure
// faults are returned so the pool can back off.
func (e *Engine) ProcessRetry(ctx context.Context, id string) error {
	now := e.now().UTC()
	token := e.leaseToken()

	var strategy recovery.Strategy
	m, err := e.store.Update(ctx, id, func(m *domain.Message) error {
		if m.Resolution.Status != domain.StatusPending || !m.Recovery.AutoRetryEnabled {
			return errNotClaimable
		}
		if !m.IsDue(now) {
			return errNotDue
		}
		s, ok := e.strategyFor(m)
		if !ok {
			return ErrNoApplicableStrategy
		}
		strategy = s
		e.claim(m, s, token, now)
		return nil
	})
	switch {
	case errors.Is(err, ErrMessageNotFound), errors.Is(err, errNotClaimable):
		return nil
	case errors.Is(err, errNotDue):
		e.rearm(ctx, id)
		return nil
	case errors.Is(err, ErrNoApplicableStrategy):
		return e.flagManual(ctx, id, "no applicable recovery strategy")
	case err != nil:
		return fmt.Errorf("failed to claim message %s: %w", id, err)
	}

	e.scheduler.Cancel(id)

	a := e.run(ctx, m, strategy, token)
	return e.finishAuto(context.WithoutCancel(ctx), a)
}

// finishAuto records the outcome of an automatic attempt.
func (e *Engine) finishAuto(ctx context.Context, a *attempt) error {
	id := a.msg.ID
	now := e.now().UTC()
	name := a.strategy.Name()

	var ev domain.Event
	m, err := e.finalize(ctx, id, a.token, func(m *domain.Message) {
		switch {
		case a.ok:
			m.Resolution.Status = domain.StatusResolved
			m.Resolution.ResolvedAt = domain.TimePtr(now)
			m.Resolution.ResolvedBy = domain.ResolvedBySystem
			m.Resolution.ResolutionMethod = name
			m.Recovery.NextRetryAt = nil
			ev.EventType = domain.EventTypeRecovered

		case a.fault():
			m.Resolution.Status = domain.StatusPending
			m.Recovery.NextRetryAt = domain.TimePtr(now.Add(e.cfg.RetryIntervals.Delay(m.Recovery.CurrentRetryCount)))
			m.AddNote(fmt.Sprintf("attempt via %s interrupted: %s", name, a.reason()))
			ev.EventType = domain.EventTypeFault

		default:
			m.Recovery.CurrentRetryCount++
			count := m.Recovery.CurrentRetryCount
			m.AddNote(fmt.Sprintf("attempt %d via %s failed: %s", count, name, a.reason()))
			if count >= m.Recovery.MaxAutoRetries {
				m.Resolution.Status = domain.StatusManual
				m.Classification.RequiresManualIntervention = true
				m.Recovery.NextRetryAt = nil
				ev.EventType = domain.EventTypeManualIntervention
				return
			}
			delay := max(e.cfg.RetryIntervals.Delay(count), a.strategy.RetryDelay())
			m.Resolution.Status = domain.StatusPending
			m.Recovery.NextRetryAt = domain.TimePtr(now.Add(delay))
			ev.EventType = domain.EventTypeRetryScheduled
		}
	})
	if errors.Is(err, errLeaseLost) || errors.Is(err, ErrMessageNotFound) {
		e.log.Info("Discarded attempt result", "message_id", id, "strategy", name, "recovered", a.ok)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record attempt for %s: %w", id, err)
	}

	ev.Message = m
	ev.Strategy = name
	ev.Err = a.err
	ev.Duration = a.took

	switch ev.EventType {
	case domain.EventTypeRecovered:
		e.scheduler.Cancel(id)
		e.log.Info("Message recovered", "message_id", id, "strategy", name, "duration", a.took)
	case domain.EventTypeFault:
		e.scheduler.Schedule(id, *m.Recovery.NextRetryAt)
		e.log.Error("Recovery attempt faulted", "message_id", id, "strategy", name, "error", a.err)
	case domain.EventTypeManualIntervention:
		e.scheduler.Cancel(id)
		e.log.Warn("Retries exhausted, manual intervention needed",
			"message_id", id,
			"strategy", name,
			"retries", m.Recovery.CurrentRetryCount,
		)
	case domain.EventTypeRetryScheduled:
		e.scheduler.Schedule(id, *m.Recovery.NextRetryAt)
		e.log.Info("Recovery attempt failed, retry scheduled",
			"message_id", id,
			"strategy", name,
			"retry", m.Recovery.CurrentRetryCount,
			"next_retry_at", m.Recovery.NextRetryAt,
		)
	}
	e.notify(ctx, ev)

	if ev.EventType == domain.EventTypeFault {
		return fmt.Errorf("recovery of %s via %s: %w", id, name, a.err)
	}
	return nil
}

// run executes the strategy on a copy of the claimed message under the
// handler timeout. Panics are turned into faults.
func (e *Engine) run(ctx context.Context, m *domain.Message, s recovery.Strategy, token string) (a *attempt) {
	a = &attempt{msg: m, strategy: s, token: token}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.HandlerTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		a.took = time.Since(start)
		if r := recover(); r != nil {
			a.ok = false
			a.err = recovery.Fault(fmt.Errorf("strategy %s panicked: %v", s.Name(), r))
		}
	}()

	a.ok, a.err = s.Recover(ctx, m.Clone())
	if a.ok {
		a.err = nil
	}
	return a
}

// claim moves m to retrying under a fresh lease.
func (e *Engine) claim(m *domain.Message, s recovery.Strategy, token string, now time.Time) {
	m.Resolution.Status = domain.StatusRetrying
	m.Recovery.SelectedStrategy = s.Name()
	m.Recovery.LastAttemptAt = domain.TimePtr(now)
	m.Recovery.LeaseOwner = token
	m.Recovery.LeaseExpiresAt = domain.TimePtr(now.Add(e.cfg.LeaseTTL))
	m.UpdatedAt = now
}

// finalize applies fn only while the attempt still owns the lease.
func (e *Engine) finalize(ctx context.Context, id, token string, fn func(m *domain.Message)) (*domain.Message, error) {
	return e.store.Update(ctx, id, func(m *domain.Message) error {
		if m.Resolution.Status != domain.StatusRetrying || m.Recovery.LeaseOwner != token {
			return errLeaseLost
		}
		clearLease(m)
		fn(m)
		m.UpdatedAt = e.now().UTC()
		return nil
	})
}

// strategyFor returns the strategy chosen at ingestion, or the first match when
// that one is no longer registered.
func (e *Engine) strategyFor(m *domain.Message) (recovery.Strategy, bool) {
	if m.Recovery.SelectedStrategy != "" {
		if s, ok := e.registry.Lookup(m.Recovery.SelectedStrategy); ok {
			return s, true
		}
	}
	return e.registry.Select(m)
}

// rearm restores the timer of a pending message submitted ahead of time.
func (e *Engine) rearm(ctx context.Context, id string) {
	m, err := e.store.Get(ctx, id)
	if err != nil {
		return
	}
	if m.Resolution.Status == domain.StatusPending && m.Recovery.NextRetryAt != nil {
		e.scheduler.Schedule(id, *m.Recovery.NextRetryAt)
	}
}

// flagManual stops automatic handling of a pending message.
func (e *Engine) flagManual(ctx context.Context, id, note string) error {
	m, err := e.store.Update(ctx, id, func(m *domain.Message) error {
		if m.Resolution.Status != domain.StatusPending {
			return errNotClaimable
		}
		m.Classification.RequiresManualIntervention = true
		m.Recovery.NextRetryAt = nil
		m.AddNote(note)
		m.UpdatedAt = e.now().UTC()
		return nil
	})
	if errors.Is(err, errNotClaimable) || errors.Is(err, ErrMessageNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	e.scheduler.Cancel(id)
	e.log.Warn("Message needs manual intervention", "message_id", id, "reason", note)
	e.notify(ctx, domain.Event{EventType: domain.EventTypeManualIntervention, Message: m})
	return nil
}

func (e *Engine) leaseToken() string {
	return e.instanceID + "/" + uuid.NewString()
}
