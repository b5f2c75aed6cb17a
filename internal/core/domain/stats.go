package domain

import "time"

// Stats is a rollup recomputed from the full message set.
type Stats struct {
	Total                  int                   `json:"total"`
	ByStatus               map[Status]int        `json:"by_status"`
	ByProvider             map[string]int        `json:"by_provider"`
	ByCategory             map[Category]int      `json:"by_category"`
	ByOperationType        map[OperationType]int `json:"by_operation_type"`
	AverageResolutionTime  time.Duration         `json:"average_resolution_time"`
	AutoRecoveryRate       float64               `json:"auto_recovery_rate"`
	ManualInterventionRate float64               `json:"manual_intervention_rate"`
	Skipped                int                   `json:"skipped"`
	Archived               int                   `json:"archived"`
	ComputedAt             time.Time             `json:"computed_at"`
}

// Filter narrows a message query. Empty fields match everything.
type Filter struct {
	Status        Status
	Provider      string
	OperationType OperationType
	Severity      Severity
}

type Page struct {
	Limit  int
	Offset int
}

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

type SortField string

const (
	SortByCreatedAt   SortField = "created_at"
	SortByUpdatedAt   SortField = "updated_at"
	SortByNextRetryAt SortField = "next_retry_at"
	SortByRetryCount  SortField = "retry_count"
	SortBySeverity    SortField = "severity"
	SortByPriority    SortField = "priority"
)

type Sort struct {
	Field SortField
	Order SortOrder
}

// QueryResult is one page of messages plus the unpaginated match count.
type QueryResult struct {
	Messages []*Message `json:"messages"`
	Total    int        `json:"total"`
}

// CleanupResult reports one retention pass.
type CleanupResult struct {
	Deleted  int `json:"deleted"`
	Archived int `json:"archived"`
	Failed   int `json:"failed"`
}
