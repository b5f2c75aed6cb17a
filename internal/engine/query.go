package engine

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/vietddude/deadletter/internal/core/domain"
	"github.com/vietddude/deadletter/internal/monitoring"
)

const defaultPageSize = 50

// GetMessages returns one page of messages matching filter. The default order
// is newest first. Total counts every match before pagination.
func (e *Engine) GetMessages(ctx context.Context, filter domain.Filter, page domain.Page, sort domain.Sort) (domain.QueryResult, error) {
	if sort.Field == "" {
		sort.Field = domain.SortByCreatedAt
	}
	if sort.Order == "" {
		sort.Order = domain.SortDesc
	}
	cmpFn, ok := comparators[sort.Field]
	if !ok {
		return domain.QueryResult{}, fmt.Errorf("%w: unknown sort field %q", ErrInvalidMessage, sort.Field)
	}
	if page.Limit <= 0 {
		page.Limit = defaultPageSize
	}
	page.Offset = max(page.Offset, 0)

	msgs, err := e.store.List(ctx, domain.Filter{
		Status:        filter.Status,
		Provider:      filter.Provider,
		OperationType: filter.OperationType,
	})
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("failed to list messages: %w", err)
	}
	if filter.Severity != "" {
		msgs = slices.DeleteFunc(msgs, func(m *domain.Message) bool {
			return m.Classification.Severity != filter.Severity
		})
	}

	slices.SortStableFunc(msgs, func(a, b *domain.Message) int {
		c := cmpFn(a, b)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if sort.Order == domain.SortDesc {
			return -c
		}
		return c
	})

	res := domain.QueryResult{Total: len(msgs), Messages: []*domain.Message{}}
	if page.Offset >= len(msgs) {
		return res, nil
	}
	end := min(page.Offset+page.Limit, len(msgs))
	res.Messages = msgs[page.Offset:end]
	return res, nil
}

// GetMessage returns a single message.
func (e *Engine) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	return e.store.Get(ctx, id)
}

// GetArchivedMessage returns a message removed by cleanup from the archive.
func (e *Engine) GetArchivedMessage(ctx context.Context, id string) (*domain.Message, error) {
	if e.archive == nil {
		return nil, ErrMessageNotFound
	}
	return e.archive.Get(ctx, id)
}

// GetStats recomputes the rollup from every stored message.
func (e *Engine) GetStats(ctx context.Context) (domain.Stats, error) {
	msgs, skipped, err := e.store.LoadAll(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("failed to load messages: %w", err)
	}
	st := monitoring.Compute(msgs, skipped, e.now())
	if e.archive != nil {
		if st.Archived, err = e.archive.Count(ctx); err != nil {
			return domain.Stats{}, fmt.Errorf("failed to count archive: %w", err)
		}
	}
	return st, nil
}

// GetAlerts returns up to limit alerts, newest first.
func (e *Engine) GetAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	if e.alerts == nil {
		return []domain.Alert{}, nil
	}
	return e.alerts.Recent(ctx, limit)
}

var comparators = map[domain.SortField]func(a, b *domain.Message) int{
	domain.SortByCreatedAt: func(a, b *domain.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	},
	domain.SortByUpdatedAt: func(a, b *domain.Message) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	},
	domain.SortByNextRetryAt: func(a, b *domain.Message) int {
		return compareTimePtr(a.Recovery.NextRetryAt, b.Recovery.NextRetryAt)
	},
	domain.SortByRetryCount: func(a, b *domain.Message) int {
		return cmp.Compare(a.Recovery.CurrentRetryCount, b.Recovery.CurrentRetryCount)
	},
	domain.SortBySeverity: func(a, b *domain.Message) int {
		return cmp.Compare(a.Classification.Severity.Rank(), b.Classification.Severity.Rank())
	},
	domain.SortByPriority: func(a, b *domain.Message) int {
		return cmp.Compare(a.Metadata.Priority.Rank(), b.Metadata.Priority.Rank())
	},
}

// compareTimePtr orders unset times after every set time.
func compareTimePtr(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}
