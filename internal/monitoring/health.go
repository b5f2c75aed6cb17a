package monitoring

import (
	"github.com/vietddude/deadletter/internal/core/domain"
)

// SystemStatus represents the overall health state of the engine.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// HealthReport contains the health verdict and the figures behind it.
type HealthReport struct {
	Status  SystemStatus `json:"status"`
	Pending int          `json:"pending"`
	Manual  int          `json:"manual"`
	Skipped int          `json:"skipped"`

	Checks map[string]string `json:"checks,omitempty"`
}

// Evaluate derives the health of the engine from a rollup. The pending backlog
// drives the verdict, corrupt records and manual backlog only degrade it.
func Evaluate(st domain.Stats, cfg AlertConfig) HealthReport {
	r := HealthReport{
		Status:  StatusHealthy,
		Pending: st.ByStatus[domain.StatusPending],
		Manual:  st.ByStatus[domain.StatusManual],
		Skipped: st.Skipped,
	}

	switch {
	case cfg.CriticalThreshold > 0 && r.Pending >= cfg.CriticalThreshold:
		r.Status = StatusCritical
	case cfg.HighThreshold > 0 && r.Pending >= cfg.HighThreshold:
		r.Status = StatusDegraded
	case r.Skipped > 0 || r.Manual > 0:
		r.Status = StatusDegraded
	}
	return r
}
