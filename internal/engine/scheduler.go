package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vietddude/deadletter/internal/core/domain"
)

const sweepLockName = "sweep"

// scheduler keeps at most one timer per message, always the earliest.
type scheduler struct {
	now  func() time.Time
	fire func(id string)

	mu      sync.Mutex
	timers  map[string]*entry
	stopped bool
}

type entry struct {
	at    time.Time
	timer *time.Timer
}

func newScheduler(now func() time.Time, fire func(id string)) *scheduler {
	return &scheduler{
		now:    now,
		fire:   fire,
		timers: make(map[string]*entry),
	}
}

// Schedule arms a timer for id at at. A later request for an id that already
// has an earlier timer is ignored.
func (s *scheduler) Schedule(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if cur, ok := s.timers[id]; ok {
		if !at.Before(cur.at) {
			return
		}
		cur.timer.Stop()
	}

	delay := max(at.Sub(s.now()), 0)
	e := &entry{at: at}
	e.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.timers[id] != e || s.stopped {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		s.mu.Unlock()
		s.fire(id)
	})
	s.timers[id] = e
}

// Cancel drops the timer for id.
func (s *scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.timers[id]; ok {
		cur.timer.Stop()
		delete(s.timers, id)
	}
}

// Next returns the armed time for id.
func (s *scheduler) Next(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.timers[id]
	if !ok {
		return time.Time{}, false
	}
	return cur.at, true
}

// Len returns the number of armed timers.
func (s *scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop disarms every timer. Further Schedule calls are ignored.
func (s *scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, cur := range s.timers {
		cur.timer.Stop()
		delete(s.timers, id)
	}
}

// SweepResult reports one sweep pass.
type SweepResult struct {
	Skipped   bool // another instance holds the sweep lock
	Enqueued  int
	Reclaimed int
}

func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := e.Sweep(ctx)
			if err != nil {
				e.log.Error("Sweep failed", "error", err)
				continue
			}
			if res.Enqueued > 0 || res.Reclaimed > 0 {
				e.log.Debug("Sweep done", "enqueued", res.Enqueued, "reclaimed", res.Reclaimed)
			}
		}
	}
}

// Sweep re-enqueues due pending messages and reclaims retrying messages whose
// lease expired. It is a safety net for lost timers and crashed workers, and
// only one instance sweeps at a time.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	if e.locker != nil {
		ok, err := e.locker.TryLock(ctx, sweepLockName, e.cfg.SweepInterval)
		if err != nil {
			return res, err
		}
		if !ok {
			res.Skipped = true
			return res, nil
		}
		defer func() {
			if err := e.locker.Unlock(context.WithoutCancel(ctx), sweepLockName); err != nil {
				e.log.Warn("Failed to release sweep lock", "error", err)
			}
		}()
	}

	now := e.now()

	retrying, err := e.store.List(ctx, domain.Filter{Status: domain.StatusRetrying})
	if err != nil {
		return res, err
	}
	for _, m := range retrying {
		if !m.LeaseExpired(now) {
			continue
		}
		reclaimed, err := e.reclaim(ctx, m.ID, now)
		if err != nil {
			e.log.Warn("Failed to reclaim expired lease", "message_id", m.ID, "error", err)
			continue
		}
		if reclaimed {
			res.Reclaimed++
		}
	}

	pending, err := e.store.List(ctx, domain.Filter{Status: domain.StatusPending})
	if err != nil {
		return res, err
	}
	for _, m := range pending {
		if !m.Recovery.AutoRetryEnabled || !m.IsDue(now) {
			continue
		}
		if e.dispatcher.Submit(m.ID) {
			res.Enqueued++
		}
	}

	return res, nil
}

// reclaim moves an expired retrying message back to pending, due immediately.
// Messages without automatic budget left go to manual instead.
func (e *Engine) reclaim(ctx context.Context, id string, now time.Time) (bool, error) {
	var toManual bool
	m, err := e.store.Update(ctx, id, func(m *domain.Message) error {
		if !m.LeaseExpired(now) {
			return errNotClaimable
		}
		m.AddNote("lease of " + m.Recovery.LeaseOwner + " expired, attempt reclaimed")
		toManual = false
		if m.Recovery.AutoRetryEnabled && m.Recovery.CurrentRetryCount < m.Recovery.MaxAutoRetries {
			m.Resolution.Status = domain.StatusPending
			m.Recovery.NextRetryAt = domain.TimePtr(now.UTC())
		} else {
			m.Resolution.Status = domain.StatusManual
			m.Classification.RequiresManualIntervention = true
			m.Recovery.NextRetryAt = nil
			toManual = true
		}
		clearLease(m)
		m.UpdatedAt = now.UTC()
		return nil
	})
	if errors.Is(err, errNotClaimable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	e.log.Warn("Reclaimed message with expired lease", "message_id", id)
	e.notify(ctx, domain.Event{EventType: domain.EventTypeReclaimed, Message: m})
	if toManual {
		e.notify(ctx, domain.Event{EventType: domain.EventTypeManualIntervention, Message: m})
	}
	return true, nil
}

func clearLease(m *domain.Message) {
	m.Recovery.LeaseOwner = ""
	m.Recovery.LeaseExpiresAt = nil
}
