package domain

import "time"

// Alert is an operator-facing notification raised by the alert engine.
type Alert struct {
	ID           string         `json:"id"`
	Type         AlertType      `json:"type"`
	Severity     Severity       `json:"severity"`
	Message      string         `json:"message"`
	MessageIDs   []string       `json:"message_ids,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Acknowledged bool           `json:"acknowledged"`
}

type AlertType string

const (
	AlertHighVolume         AlertType = "high_volume"
	AlertErrorSpike         AlertType = "error_spike"
	AlertRecoveryFailure    AlertType = "recovery_failure"
	AlertManualIntervention AlertType = "manual_intervention_needed"
)
