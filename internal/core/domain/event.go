package domain

import "time"

// Event represents a state change of a dead-letter message
type Event struct {
	EventType EventType
	Message   *Message // snapshot after the change
	Strategy  string
	Err       error
	Duration  time.Duration // strategy run time, attempts only
	EmittedAt time.Time
}

type EventType string

const (
	EventTypeIngested           EventType = "ingested"
	EventTypeRecovered          EventType = "recovered"
	EventTypeRetryScheduled     EventType = "retry_scheduled"
	EventTypeManualIntervention EventType = "manual_intervention_needed"
	EventTypeAbandoned          EventType = "abandoned"
	EventTypeFault              EventType = "fault"
	EventTypeReclaimed          EventType = "reclaimed"
	EventTypeDeleted            EventType = "deleted"
)
