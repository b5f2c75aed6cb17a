// Package monitoring computes rollups, raises alerts and exposes the ops endpoints.
package monitoring

import (
	"time"

	"github.com/vietddude/deadletter/internal/core/domain"
)

// Compute builds the rollup over the full message set. skipped is the number
// of records the store could not decode.
func Compute(msgs []*domain.Message, skipped int, now time.Time) domain.Stats {
	st := domain.Stats{
		Total:           len(msgs),
		ByStatus:        make(map[domain.Status]int),
		ByProvider:      make(map[string]int),
		ByCategory:      make(map[domain.Category]int),
		ByOperationType: make(map[domain.OperationType]int),
		Skipped:         skipped,
		ComputedAt:      now.UTC(),
	}

	var (
		resolved      int
		resolvedTotal time.Duration
		bySystem      int
		manual        int
	)
	for _, m := range msgs {
		st.ByStatus[m.Resolution.Status]++
		st.ByProvider[m.Provider]++
		st.ByCategory[m.Classification.Category]++
		st.ByOperationType[m.OperationType]++

		if m.Resolution.Status == domain.StatusResolved {
			if m.Resolution.ResolvedAt != nil {
				resolved++
				resolvedTotal += m.Resolution.ResolvedAt.Sub(m.CreatedAt)
			}
			if m.Resolution.ResolvedBy == domain.ResolvedBySystem {
				bySystem++
			}
		}
		if m.Resolution.Status == domain.StatusManual || m.Classification.RequiresManualIntervention {
			manual++
		}
	}

	if resolved > 0 {
		st.AverageResolutionTime = resolvedTotal / time.Duration(resolved)
	}
	if st.Total > 0 {
		st.AutoRecoveryRate = float64(bySystem) / float64(st.Total)
		st.ManualInterventionRate = float64(manual) / float64(st.Total)
	}
	return st
}
