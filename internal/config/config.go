// Package config loads the process-wide runtime configuration: a root
// struct with nested section structs, and a Load(path) that applies
// defaults and validates, generalized from Gox's support/broker/pool/
// cells sections to the fabric's queue/retry/breaker/state sections.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root runtime configuration (its enumerated
// options, one field per recognized option).
type Config struct {
	AppName string `yaml:"app_name"`
	Debug   bool   `yaml:"debug"`

	Queue      QueueConfig      `yaml:"queue"`
	Retry      RetryConfig      `yaml:"retry"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Registry   RegistryConfig   `yaml:"registry"`
	State      StateConfig      `yaml:"state"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	HTTP       HTTPConfig       `yaml:"http"`
	TemplatesDir string         `yaml:"templates_dir"`
}

// QueueConfig tunes the per-recipient priority queue ("Resource
// caps").
type QueueConfig struct {
	Capacity       int           `yaml:"capacity"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// RetryConfig tunes the default retry policy a request falls back to
// when its envelope carries none of its own.
type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Strategy    string `yaml:"strategy"`
	BaseMs      int64  `yaml:"base_ms"`
	Factor      float64 `yaml:"factor"`
	CapMs       int64  `yaml:"cap_ms"`
}

// BreakerConfig tunes the per-destination circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	CooldownMs       time.Duration `yaml:"cooldown_ms"`
	// CooldownCapMs bounds the exponential growth of CooldownMs applied
	// after each consecutive failed half-open probe.
	CooldownCapMs time.Duration `yaml:"cooldown_cap_ms"`
}

// RegistryConfig tunes agent liveness tracking.
type RegistryConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
}

// StateConfig selects and tunes the KV backend.
type StateConfig struct {
	// Backend is one of "memory", "badger", "redis".
	Backend          string        `yaml:"backend"`
	Path             string        `yaml:"path"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	RedisAddr        string        `yaml:"redis_addr"`
	BlobRoot         string        `yaml:"blob_root"`
}

// WorkflowConfig tunes the workflow engine's defaults.
type WorkflowConfig struct {
	DefaultStageTimeout   time.Duration `yaml:"default_stage_timeout"`
	ApprovalDefaultTimeout time.Duration `yaml:"approval_default_timeout"`
	OnApprovalTimeout     string        `yaml:"on_approval_timeout"`
}

// HTTPConfig tunes the health/metrics surface.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Defaults returns a Config with every recognized option set to its
// documented default.
func Defaults() Config {
	return Config{
		AppName: "rfpflow",
		Queue: QueueConfig{
			Capacity:       10000,
			RequestTimeout: 30 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Strategy:    "exponential",
			BaseMs:      100,
			Factor:      2,
			CapMs:       5000,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			CooldownMs:       5000 * time.Millisecond,
			CooldownCapMs:    60 * time.Second,
		},
		Registry: RegistryConfig{
			HeartbeatInterval: 5 * time.Second,
			StaleAfter:        15 * time.Second,
		},
		State: StateConfig{
			Backend:          "memory",
			Path:             "data/state.ndjson",
			SnapshotInterval: 10 * time.Second,
			BlobRoot:         "data/blobs",
		},
		Workflow: WorkflowConfig{
			DefaultStageTimeout:    30 * time.Second,
			ApprovalDefaultTimeout: 24 * time.Hour,
			OnApprovalTimeout:      "reject",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		TemplatesDir: "config/templates",
	}
}

// Load reads filename as YAML over Defaults(), so an operator only needs
// to override the options they care about.
func Load(filename string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configuration values the fabric cannot operate under.
func (c *Config) Validate() error {
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("config: queue.capacity must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("config: retry.max_attempts must be positive")
	}
	switch c.State.Backend {
	case "memory", "badger", "redis":
	default:
		return fmt.Errorf("config: unknown state.backend %q", c.State.Backend)
	}
	return nil
}
