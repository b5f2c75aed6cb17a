package domain

import (
	"encoding/json"
	"slices"
	"time"
)

// Message is a failed integration operation waiting for automatic or manual recovery.
type Message struct {
	ID             string          `json:"id"`
	OriginalQueue  string          `json:"original_queue"`
	OperationType  OperationType   `json:"operation_type"`
	Provider       string          `json:"provider"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Error          ErrorInfo       `json:"error"`
	Metadata       Metadata        `json:"metadata"`
	Classification Classification  `json:"classification"`
	Recovery       Recovery        `json:"recovery"`
	Resolution     Resolution      `json:"resolution"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type OperationType string

const (
	OperationWebhook         OperationType = "webhook"
	OperationOAuth           OperationType = "oauth"
	OperationEmail           OperationType = "email"
	OperationSMS             OperationType = "sms"
	OperationCalendar        OperationType = "calendar"
	OperationStorage         OperationType = "storage"
	OperationVideoConference OperationType = "video_conference"
)

// OperationTypes lists every supported operation type.
var OperationTypes = []OperationType{
	OperationWebhook,
	OperationOAuth,
	OperationEmail,
	OperationSMS,
	OperationCalendar,
	OperationStorage,
	OperationVideoConference,
}

// Valid reports whether t is a known operation type.
func (t OperationType) Valid() bool {
	return slices.Contains(OperationTypes, t)
}

// ErrorInfo describes the failure that produced the message.
type ErrorInfo struct {
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	StatusCode int    `json:"status_code,omitempty"` // 0 when no HTTP response was received
	Retryable  bool   `json:"retryable"`
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities for sorting.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return 1
	}
}

type Metadata struct {
	CorrelationID string    `json:"correlation_id,omitempty"`
	JobID         string    `json:"job_id,omitempty"`
	AttemptCount  int       `json:"attempt_count"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	LastFailedAt  time.Time `json:"last_failed_at"`
	Priority      Priority  `json:"priority"`
	Tags          []string  `json:"tags,omitempty"`
}

type Category string

const (
	CategoryNetwork    Category = "network"
	CategoryAuth       Category = "auth"
	CategoryValidation Category = "validation"
	CategoryServer     Category = "server"
	CategoryClient     Category = "client"
	CategoryUnknown    Category = "unknown"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (0) to critical (3).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

type Impact string

const (
	ImpactNone     Impact = "none"
	ImpactLow      Impact = "low"
	ImpactMedium   Impact = "medium"
	ImpactHigh     Impact = "high"
	ImpactCritical Impact = "critical"
)

// Rank orders business impact from none (0) to critical (4).
func (i Impact) Rank() int {
	switch i {
	case ImpactNone:
		return 0
	case ImpactLow:
		return 1
	case ImpactMedium:
		return 2
	case ImpactHigh:
		return 3
	case ImpactCritical:
		return 4
	default:
		return -1
	}
}

// Classification is assigned once at ingestion and never recomputed.
type Classification struct {
	Category                   Category `json:"category"`
	Severity                   Severity `json:"severity"`
	BusinessImpact             Impact   `json:"business_impact"`
	RequiresManualIntervention bool     `json:"requires_manual_intervention"`
}

type RetryStrategy string

const (
	RetryExponential RetryStrategy = "exponential"
	RetryManual      RetryStrategy = "manual"
)

type Recovery struct {
	AutoRetryEnabled  bool          `json:"auto_retry_enabled"`
	MaxAutoRetries    int           `json:"max_auto_retries"`
	RetryStrategy     RetryStrategy `json:"retry_strategy"`
	CurrentRetryCount int           `json:"current_retry_count"`
	SelectedStrategy  string        `json:"selected_strategy,omitempty"`
	NextRetryAt       *time.Time    `json:"next_retry_at,omitempty"`
	LastAttemptAt     *time.Time    `json:"last_attempt_at,omitempty"`
	LeaseOwner        string        `json:"lease_owner,omitempty"`
	LeaseExpiresAt    *time.Time    `json:"lease_expires_at,omitempty"`
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusRetrying  Status = "retrying"
	StatusResolved  Status = "resolved"
	StatusAbandoned Status = "abandoned"
	StatusManual    Status = "manual"
)

// Statuses lists every resolution status.
var Statuses = []Status{StatusPending, StatusRetrying, StatusResolved, StatusAbandoned, StatusManual}

const (
	ResolvedBySystem   = "system"
	ResolvedByOperator = "operator"
)

type Resolution struct {
	Status           Status     `json:"status"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy       string     `json:"resolved_by,omitempty"`
	ResolutionMethod string     `json:"resolution_method,omitempty"`
	Notes            []string   `json:"notes,omitempty"`
}

// transitions is the resolution state machine. Terminal states have no exits.
var transitions = map[Status][]Status{
	StatusPending:  {StatusRetrying, StatusAbandoned},
	StatusRetrying: {StatusResolved, StatusPending, StatusManual, StatusAbandoned},
	StatusManual:   {StatusRetrying, StatusAbandoned},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// IsTerminal reports whether the message reached resolved or abandoned.
func (m *Message) IsTerminal() bool {
	s := m.Resolution.Status
	return s == StatusResolved || s == StatusAbandoned
}

// IsDue reports whether a pending message's scheduled retry time has passed.
func (m *Message) IsDue(now time.Time) bool {
	if m.Resolution.Status != StatusPending || m.Recovery.NextRetryAt == nil {
		return false
	}
	return !m.Recovery.NextRetryAt.After(now)
}

// LeaseExpired reports whether a retrying message's execution lease has lapsed.
func (m *Message) LeaseExpired(now time.Time) bool {
	if m.Resolution.Status != StatusRetrying {
		return false
	}
	if m.Recovery.LeaseExpiresAt == nil {
		return true
	}
	return now.After(*m.Recovery.LeaseExpiresAt)
}

// AddNote appends an operator or diagnostic note.
func (m *Message) AddNote(note string) {
	if note == "" {
		return
	}
	m.Resolution.Notes = append(m.Resolution.Notes, note)
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Payload = slices.Clone(m.Payload)
	c.Metadata.Tags = slices.Clone(m.Metadata.Tags)
	c.Recovery.NextRetryAt = cloneTime(m.Recovery.NextRetryAt)
	c.Recovery.LastAttemptAt = cloneTime(m.Recovery.LastAttemptAt)
	c.Recovery.LeaseExpiresAt = cloneTime(m.Recovery.LeaseExpiresAt)
	c.Resolution.ResolvedAt = cloneTime(m.Resolution.ResolvedAt)
	c.Resolution.Notes = slices.Clone(m.Resolution.Notes)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
