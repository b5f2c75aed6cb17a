package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultRetryIntervals is the escalating delay table used between automatic attempts.
var DefaultRetryIntervals = []time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	1 * time.Hour,
	2 * time.Hour,
}

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, expanding environment variables first.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *AppConfig {
	var cfg AppConfig
	applyDefaults(&cfg)
	return &cfg
}

// Validate rejects settings the engine cannot run with.
func (c *AppConfig) Validate() error {
	if c.Recovery.MaxAutoRetries < 0 {
		return fmt.Errorf("recovery.max_auto_retries must not be negative")
	}
	for i, d := range c.Recovery.RetryIntervals {
		if d <= 0 {
			return fmt.Errorf("recovery.retry_intervals[%d] must be positive", i)
		}
	}
	if c.Alerts.CriticalThreshold < c.Alerts.HighThreshold {
		return fmt.Errorf("alerts.critical_threshold (%d) is below alerts.high_threshold (%d)",
			c.Alerts.CriticalThreshold, c.Alerts.HighThreshold)
	}
	if c.Retention.Period < 0 {
		return fmt.Errorf("retention.period must not be negative")
	}
	return nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	r := &cfg.Recovery
	if r.MaxAutoRetries == 0 {
		r.MaxAutoRetries = 3
	}
	if len(r.RetryIntervals) == 0 {
		r.RetryIntervals = append([]time.Duration(nil), DefaultRetryIntervals...)
	}
	if r.SweepInterval == 0 {
		r.SweepInterval = time.Minute
	}
	if r.HandlerTimeout == 0 {
		r.HandlerTimeout = 30 * time.Second
	}
	if r.LeaseTTL == 0 {
		r.LeaseTTL = 5 * time.Minute
	}
	// A lease shorter than a handler call would let the sweep reclaim live attempts
	r.LeaseTTL = max(r.LeaseTTL, 2*r.HandlerTimeout)
	if r.Workers == 0 {
		r.Workers = 4
	}
	if r.QueueSize == 0 {
		r.QueueSize = 256
	}
	if r.JobMaxAttempts == 0 {
		r.JobMaxAttempts = 3
	}
	if r.CriticalProviders == nil {
		r.CriticalProviders = []string{"stripe", "paypal", "zoom", "google_meet"}
	}

	a := &cfg.Alerts
	if a.HighThreshold == 0 {
		a.HighThreshold = 50
	}
	if a.CriticalThreshold == 0 {
		a.CriticalThreshold = max(100, a.HighThreshold)
	}
	if a.MaxAlerts == 0 {
		a.MaxAlerts = 100
	}
	if a.SpikeWindow == 0 {
		a.SpikeWindow = 5 * time.Minute
	}

	if cfg.Retention.Period == 0 {
		cfg.Retention.Period = 30 * 24 * time.Hour
	}

	c := &cfg.Collaborators
	if c.WebhookTimeout == 0 {
		c.WebhookTimeout = 10 * time.Second
	}
	if c.HealthCheckTimeout == 0 {
		c.HealthCheckTimeout = 5 * time.Second
	}
}
