package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Responder ResponderConfig `yaml:"responder"`
}

// ResponderConfig is the project configuration.
type ResponderConfig struct {
	Input       InputConfig       `yaml:"input"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Rules       RulesConfig       `yaml:"rules"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Playbooks   PlaybooksConfig   `yaml:"playbooks"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Escalation  EscalationConfig  `yaml:"escalation"`
	Actuator    HTTPTargetConfig  `yaml:"actuator"`
	Notify      HTTPTargetConfig  `yaml:"notify"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// InputConfig controls the input reader.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls Redis input.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// PipelineConfig controls pipeline behavior.
type PipelineConfig struct {
	Workers       int           `yaml:"workers"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// RulesConfig controls optional Sigma indicator tagging.
type RulesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ClassifierConfig points at an optional classification table override.
type ClassifierConfig struct {
	Path string `yaml:"path"`
}

// PlaybooksConfig points at an optional playbook override.
type PlaybooksConfig struct {
	Path string `yaml:"path"`
}

// CorrelationConfig controls event deduplication.
type CorrelationConfig struct {
	Window time.Duration `yaml:"window"`
}

// EscalationConfig controls severity-derived escalation deadlines and the
// response team contact per severity tier.
type EscalationConfig struct {
	Critical time.Duration     `yaml:"critical"`
	High     time.Duration     `yaml:"high"`
	Medium   time.Duration     `yaml:"medium"`
	Low      time.Duration     `yaml:"low"`
	Teams    map[string]string `yaml:"teams"`
}

// HTTPTargetConfig configures an outbound HTTP collaborator.
type HTTPTargetConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// ArchiveConfig controls the durable incident archive sink.
type ArchiveConfig struct {
	Mode       string                 `yaml:"mode"` // file|clickhouse|postgres
	File       FileOutputConfig       `yaml:"file"`
	ClickHouse ClickHouseOutputConfig `yaml:"clickhouse"`
	Postgres   PostgresOutputConfig   `yaml:"postgres"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// ClickHouseOutputConfig config for ClickHouse HTTP JSONEachRow writes.
type ClickHouseOutputConfig struct {
	URL      string            `yaml:"url"`
	Database string            `yaml:"database"`
	Table    string            `yaml:"table"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
}

// PostgresOutputConfig config for the Postgres archive.
type PostgresOutputConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
