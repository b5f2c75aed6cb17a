package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/deadletter/internal/core/domain"
)

// Cleaner applies the retention policy once.
type Cleaner interface {
	Cleanup(ctx context.Context) (domain.CleanupResult, error)
}

// Pruner runs retention cleanup on a ticker.
type Pruner struct {
	retention time.Duration
	cleaner   Cleaner
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(retention time.Duration, cleaner Cleaner) *Pruner {
	return &Pruner{
		retention: retention,
		cleaner:   cleaner,
		log:       slog.Default().With("component", "pruner"),
	}
}

// Interval is 10% of the retention period, clamped to [1m, 1h].
func (p *Pruner) Interval() time.Duration {
	interval := min(p.retention/10, 1*time.Hour)
	return max(interval, 1*time.Minute)
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	// Initial prune
	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	res, err := p.cleaner.Cleanup(ctx)
	if err != nil {
		p.log.Error("Retention cleanup failed", "error", err)
		return
	}
	if res.Deleted > 0 || res.Failed > 0 {
		p.log.Info("Retention cleanup done",
			"deleted", res.Deleted,
			"archived", res.Archived,
			"failed", res.Failed,
		)
	}
}
