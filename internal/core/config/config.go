package config

import (
	"time"

	redisclient "github.com/vietddude/deadletter/internal/infra/redis"
	"github.com/vietddude/deadletter/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server        ServerConfig        `yaml:"server"`
	Redis         redisclient.Config  `yaml:"redis"`
	Database      postgres.Config     `yaml:"database"`
	Logging       LoggingConfig       `yaml:"logging"`
	Recovery      RecoveryConfig      `yaml:"recovery"`
	Alerts        AlertsConfig        `yaml:"alerts"`
	Retention     RetentionConfig     `yaml:"retention"`
	Collaborators CollaboratorsConfig `yaml:"collaborators"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RecoveryConfig controls classification policy, scheduling and the worker pool.
type RecoveryConfig struct {
	EnableAutoRecovery *bool           `yaml:"enable_auto_recovery"` // nil = enabled
	MaxAutoRetries     int             `yaml:"max_auto_retries"`
	RetryIntervals     []time.Duration `yaml:"retry_intervals"`
	SweepInterval      time.Duration   `yaml:"sweep_interval"`
	LeaseTTL           time.Duration   `yaml:"lease_ttl"`
	Workers            int             `yaml:"workers"`
	QueueSize          int             `yaml:"queue_size"`
	HandlerTimeout     time.Duration   `yaml:"handler_timeout"`
	JobMaxAttempts     int             `yaml:"job_max_attempts"`
	CriticalProviders  []string        `yaml:"critical_providers"`
}

// AutoRecoveryEnabled reports the effective enable_auto_recovery value.
func (c RecoveryConfig) AutoRecoveryEnabled() bool {
	return c.EnableAutoRecovery == nil || *c.EnableAutoRecovery
}

// AlertsConfig holds alert thresholds.
type AlertsConfig struct {
	HighThreshold     int           `yaml:"high_threshold"`
	CriticalThreshold int           `yaml:"critical_threshold"`
	MaxAlerts         int           `yaml:"max_alerts"`
	SpikeThreshold    int           `yaml:"spike_threshold"` // 0 = disabled
	SpikeWindow       time.Duration `yaml:"spike_window"`
}

// RetentionConfig holds cleanup settings.
type RetentionConfig struct {
	Period          time.Duration `yaml:"period"` // 0 = keep forever
	ArchiveResolved bool          `yaml:"archive_resolved"`
}

// CollaboratorsConfig describes the external systems recovery strategies talk to.
// A strategy is registered only when its collaborator is configured.
type CollaboratorsConfig struct {
	WebhookTimeout     time.Duration     `yaml:"webhook_timeout"`
	HealthCheckTimeout time.Duration     `yaml:"health_check_timeout"`
	WebhookRedelivery  bool              `yaml:"webhook_redelivery"`
	QueueReplay        bool              `yaml:"queue_replay"`
	HealthChecks       map[string]string `yaml:"health_checks"`  // provider -> http(s):// or grpc:// endpoint
	TokenEndpoints     map[string]string `yaml:"token_endpoints"` // provider -> refresh URL
	FallbackQueues     map[string]string `yaml:"fallback_queues"` // email/sms -> queue name
}
