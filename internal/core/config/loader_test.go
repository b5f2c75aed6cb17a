package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_EnvSubstitution(t *testing.T) {
	// Setup env var
	os.Setenv("TEST_REDIS_URL", "redis://localhost:6380/2")
	defer os.Unsetenv("TEST_REDIS_URL")

	// Create temp config file
	configContent := `
redis:
  url: ${TEST_REDIS_URL}
  key_prefix: dlq-test
`
	tmpFile, err := os.CreateTemp("", "config_*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write([]byte(configContent)); err != nil {
		t.Fatalf("Failed to write to temp file: %v", err)
	}
	tmpFile.Close()

	// Load config
	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Redis.URL != "redis://localhost:6380/2" {
		t.Errorf("Expected URL redis://localhost:6380/2, got %s", cfg.Redis.URL)
	}
	if cfg.Redis.KeyPrefix != "dlq-test" {
		t.Errorf("Expected key prefix dlq-test, got %s", cfg.Redis.KeyPrefix)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  port: 9090\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Recovery.AutoRecoveryEnabled() {
		t.Error("Expected auto recovery to default to enabled")
	}
	if len(cfg.Recovery.RetryIntervals) != 5 || cfg.Recovery.RetryIntervals[0] != 5*time.Minute {
		t.Errorf("Unexpected retry intervals: %v", cfg.Recovery.RetryIntervals)
	}
	if cfg.Retention.Period != 30*24*time.Hour {
		t.Errorf("Expected 30 day retention, got %v", cfg.Retention.Period)
	}
	if cfg.Recovery.LeaseTTL < 2*cfg.Recovery.HandlerTimeout {
		t.Errorf("Lease TTL %v shorter than twice the handler timeout", cfg.Recovery.LeaseTTL)
	}
}

func TestParse_Durations(t *testing.T) {
	content := `
recovery:
  enable_auto_recovery: false
  max_auto_retries: 6
  retry_intervals: [1m, 10m]
  handler_timeout: 5s
alerts:
  high_threshold: 10
  critical_threshold: 20
  spike_window: 30s
retention:
  period: 48h
  archive_resolved: true
`
	cfg, err := Parse([]byte(content))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Recovery.AutoRecoveryEnabled() {
		t.Error("Expected auto recovery disabled")
	}
	if cfg.Recovery.MaxAutoRetries != 6 {
		t.Errorf("Expected 6 retries, got %d", cfg.Recovery.MaxAutoRetries)
	}
	if got := cfg.Recovery.RetryIntervals; len(got) != 2 || got[1] != 10*time.Minute {
		t.Errorf("Unexpected retry intervals: %v", got)
	}
	if cfg.Recovery.HandlerTimeout != 5*time.Second {
		t.Errorf("Expected 5s handler timeout, got %v", cfg.Recovery.HandlerTimeout)
	}
	if cfg.Alerts.SpikeWindow != 30*time.Second {
		t.Errorf("Expected 30s spike window, got %v", cfg.Alerts.SpikeWindow)
	}
	if cfg.Retention.Period != 48*time.Hour || !cfg.Retention.ArchiveResolved {
		t.Errorf("Unexpected retention: %+v", cfg.Retention)
	}
}

func TestParse_InvalidThresholds(t *testing.T) {
	content := `
alerts:
  high_threshold: 50
  critical_threshold: 10
`
	if _, err := Parse([]byte(content)); err == nil {
		t.Fatal("Expected error for critical threshold below high threshold")
	}
}
