// Package config loads the service configuration from config/carecred.yaml
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Privacy    PrivacyConfig    `yaml:"privacy"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Signatures SignaturesConfig `yaml:"signatures"`
	Settlement SettlementConfig `yaml:"settlement"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr" env:"CARECRED_SERVER_ADDR"`
}

// DatabaseConfig configures the PostgreSQL connection. When DSN is empty the
// service runs on the in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"CARECRED_DATABASE_DSN"`
}

// LedgerConfig configures the ledger node client.
type LedgerConfig struct {
	Endpoint  string        `yaml:"endpoint" env:"CARECRED_LEDGER_ENDPOINT"`
	Timeout   time.Duration `yaml:"timeout" env:"CARECRED_LEDGER_TIMEOUT"`
	RateLimit int           `yaml:"rate_limit" env:"CARECRED_LEDGER_RATE_LIMIT"`
}

// PrivacyConfig holds the hashing master salt. The salt is required and only
// settable through the environment.
type PrivacyConfig struct {
	Salt              string `yaml:"-" env:"CARECRED_PRIVACY_SALT"`
	LocationPrecision int    `yaml:"location_precision" env:"CARECRED_LOCATION_PRECISION"`
}

// SessionsConfig tunes session validation and credit computation.
type SessionsConfig struct {
	HourlyRate       float64 `yaml:"hourly_rate" env:"CARECRED_HOURLY_RATE"`
	MaxDurationHours float64 `yaml:"max_duration_hours" env:"CARECRED_MAX_DURATION_HOURS"`
	GeofenceRadiusM  float64 `yaml:"geofence_radius_m" env:"CARECRED_GEOFENCE_RADIUS_M"`
	MaxAccuracyM     float64 `yaml:"max_accuracy_m" env:"CARECRED_MAX_ACCURACY_M"`
}

// SignaturesConfig tunes the signature collection window.
type SignaturesConfig struct {
	Window        time.Duration `yaml:"window" env:"CARECRED_SIGNATURE_WINDOW"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"CARECRED_SIGNATURE_SWEEP_INTERVAL"`
}

// SettlementConfig tunes blockchain submission and confirmation tracking.
type SettlementConfig struct {
	MaxRetries            int           `yaml:"max_retries" env:"CARECRED_SETTLEMENT_MAX_RETRIES"`
	RetryBackoff          time.Duration `yaml:"retry_backoff" env:"CARECRED_SETTLEMENT_RETRY_BACKOFF"`
	ConfirmationThreshold int           `yaml:"confirmation_threshold" env:"CARECRED_CONFIRMATION_THRESHOLD"`
	PollInterval          time.Duration `yaml:"poll_interval" env:"CARECRED_SETTLEMENT_POLL_INTERVAL"`
	QueueSize             int           `yaml:"queue_size" env:"CARECRED_SETTLEMENT_QUEUE_SIZE"`
}

// MonitorConfig tunes the anomaly sweep.
type MonitorConfig struct {
	SweepSchedule   string        `yaml:"sweep_schedule" env:"CARECRED_MONITOR_SCHEDULE"`
	OvertimeAfter   time.Duration `yaml:"overtime_after" env:"CARECRED_MONITOR_OVERTIME_AFTER"`
	DriftThresholdM float64       `yaml:"drift_threshold_m" env:"CARECRED_MONITOR_DRIFT_THRESHOLD_M"`
	CheckInGrace    time.Duration `yaml:"check_in_grace" env:"CARECRED_MONITOR_CHECKIN_GRACE"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" env:"CARECRED_LOG_LEVEL"`
	JSON  bool   `yaml:"json" env:"CARECRED_LOG_JSON"`
}

// Load reads config/carecred.yaml, applies environment overrides and
// validates the result.
func Load() (*Config, error) {
	return LoadFromPath(filepath.Join("config", "carecred.yaml"))
}

// LoadFromPath loads configuration from a specific file. A missing file is
// not an error; defaults plus environment overrides apply.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to defaults
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Privacy.Salt) < 16 {
		return fmt.Errorf("CARECRED_PRIVACY_SALT must be at least 16 bytes")
	}
	if c.Sessions.HourlyRate <= 0 {
		return fmt.Errorf("sessions.hourly_rate must be positive")
	}
	if c.Settlement.ConfirmationThreshold < 1 {
		return fmt.Errorf("settlement.confirmation_threshold must be at least 1")
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Ledger: LedgerConfig{
			Endpoint:  "http://localhost:8545",
			Timeout:   10 * time.Second,
			RateLimit: 20,
		},
		Privacy: PrivacyConfig{
			LocationPrecision: 3,
		},
		Sessions: SessionsConfig{
			HourlyRate:       15.00,
			MaxDurationHours: 8,
			GeofenceRadiusM:  50,
			MaxAccuracyM:     100,
		},
		Signatures: SignaturesConfig{
			Window:        24 * time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Settlement: SettlementConfig{
			MaxRetries:            5,
			RetryBackoff:          2 * time.Second,
			ConfirmationThreshold: 3,
			PollInterval:          15 * time.Second,
			QueueSize:             256,
		},
		Monitor: MonitorConfig{
			SweepSchedule:   "*/5 * * * *",
			OvertimeAfter:   30 * time.Minute,
			DriftThresholdM: 100,
			CheckInGrace:    15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
