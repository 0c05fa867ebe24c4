package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	content := `responder:
  input:
    redis:
      addr: "localhost:6379"
      key: "security_events"
      block_timeout: 5s
  pipeline:
    workers: 4
    batch_size: 50
    flush_interval: 1s
  correlation:
    window: 5m
  escalation:
    high: 30m
    medium: 2h
    teams:
      critical: soc-oncall@example.com
  archive:
    mode: postgres
    postgres:
      dsn: "postgres://responder@localhost/incidents?sslmode=disable"
      table: incidents
  metrics:
    enabled: true
    addr: ":9215"
  logging:
    enabled: true
    level: debug
    console: true
`
	path := filepath.Join(t.TempDir(), "responder.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	r := cfg.Responder
	if r.Input.Redis.Addr != "localhost:6379" || r.Input.Redis.Key != "security_events" {
		t.Fatalf("redis config: %+v", r.Input.Redis)
	}
	if r.Input.Redis.BlockTimeout != 5*time.Second {
		t.Fatalf("block timeout: %s", r.Input.Redis.BlockTimeout)
	}
	if r.Pipeline.Workers != 4 || r.Pipeline.BatchSize != 50 {
		t.Fatalf("pipeline config: %+v", r.Pipeline)
	}
	if r.Correlation.Window != 5*time.Minute {
		t.Fatalf("correlation window: %s", r.Correlation.Window)
	}
	if r.Escalation.High != 30*time.Minute || r.Escalation.Medium != 2*time.Hour {
		t.Fatalf("escalation config: %+v", r.Escalation)
	}
	if r.Escalation.Teams["critical"] != "soc-oncall@example.com" {
		t.Fatalf("teams: %+v", r.Escalation.Teams)
	}
	if r.Archive.Mode != "postgres" || r.Archive.Postgres.Table != "incidents" {
		t.Fatalf("archive config: %+v", r.Archive)
	}
	if !r.Metrics.Enabled || r.Metrics.Addr != ":9215" {
		t.Fatalf("metrics config: %+v", r.Metrics)
	}
	if !r.Logging.Enabled || r.Logging.Level != "debug" {
		t.Fatalf("logging config: %+v", r.Logging)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatalf("missing file must fail")
	}
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	os.WriteFile(path, []byte("responder: [not a map"), 0o644)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("malformed yaml must fail")
	}
}
