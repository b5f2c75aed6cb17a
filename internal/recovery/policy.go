package recovery

import (
	"time"

	"github.com/vietddude/deadletter/internal/core/domain"
)

// Policy holds the global defaults that ResolveSettings adjusts per message.
type Policy struct {
	EnableAutoRecovery bool
	MaxAutoRetries     int
}

// ResolveSettings derives the retry policy of a new message from its classification.
// Rules apply in order; each one adjusts the result of the previous.
func ResolveSettings(cls domain.Classification, op domain.OperationType, p Policy) domain.Recovery {
	rec := domain.Recovery{
		AutoRetryEnabled: p.EnableAutoRecovery,
		MaxAutoRetries:   p.MaxAutoRetries,
		RetryStrategy:    domain.RetryExponential,
	}

	if cls.Category == domain.CategoryValidation {
		rec.AutoRetryEnabled = false
	}
	if cls.Category == domain.CategoryClient {
		rec.MaxAutoRetries = min(2, rec.MaxAutoRetries)
	}
	if cls.Category == domain.CategoryNetwork {
		rec.MaxAutoRetries = max(5, rec.MaxAutoRetries)
	}
	if cls.BusinessImpact == domain.ImpactCritical {
		rec.MaxAutoRetries = max(7, rec.MaxAutoRetries)
	}

	if !rec.AutoRetryEnabled {
		rec.RetryStrategy = domain.RetryManual
	}
	return rec
}

// Intervals is the escalating delay table between automatic attempts.
type Intervals []time.Duration

// Delay returns the table entry for a retry count, clamped to the last entry.
func (iv Intervals) Delay(count int) time.Duration {
	if len(iv) == 0 {
		return 0
	}
	idx := min(max(count, 0), len(iv)-1)
	return iv[idx]
}
