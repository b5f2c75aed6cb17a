package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietddude/deadletter/internal/core/domain"
)

// Cleanup deletes messages created before the retention cutoff. Resolved
// messages are archived first when archiving is enabled, and a message whose
// archive write fails is kept for the next pass.
func (e *Engine) Cleanup(ctx context.Context) (domain.CleanupResult, error) {
	var res domain.CleanupResult
	if e.cfg.Retention <= 0 {
		return res, nil
	}
	cutoff := e.now().Add(-e.cfg.Retention)

	msgs, _, err := e.store.LoadAll(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to load messages: %w", err)
	}

	for _, m := range msgs {
		if !m.CreatedAt.Before(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if e.cfg.ArchiveResolved && e.archive != nil && m.Resolution.Status == domain.StatusResolved {
			if err := e.archive.Archive(ctx, m); err != nil {
				e.log.Error("Failed to archive message", "message_id", m.ID, "error", err)
				res.Failed++
				continue
			}
			res.Archived++
		}

		if err := e.store.Delete(ctx, m.ID); err != nil {
			if errors.Is(err, ErrMessageNotFound) {
				continue
			}
			e.log.Error("Failed to delete expired message", "message_id", m.ID, "error", err)
			res.Failed++
			continue
		}
		e.scheduler.Cancel(m.ID)
		res.Deleted++
		e.notify(ctx, domain.Event{EventType: domain.EventTypeDeleted, Message: m})
	}

	if res.Deleted > 0 || res.Failed > 0 {
		e.log.Info("Retention cleanup done",
			"deleted", res.Deleted,
			"archived", res.Archived,
			"failed", res.Failed,
			"cutoff", cutoff,
		)
	}
	return res, nil
}
