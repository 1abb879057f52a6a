package models

// Config holds the application configuration
type Config struct {
	LogLevel   string           `json:"log_level"`
	Database   DatabaseConfig   `json:"database"`
	Queue      QueueConfig      `json:"queue"`
	Delivery   DeliveryConfig   `json:"delivery"`
	Settings   SettingsConfig   `json:"settings"`
	Audit      AuditConfig      `json:"audit"`
	Network    NetworkConfig    `json:"network"`
	Server     ServerConfig     `json:"server"`
	Tracing    TracingConfig    `json:"tracing"`
	Encryption EncryptionConfig `json:"encryption"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// QueueConfig configures the durable work queue and its workers
type QueueConfig struct {
	Backend              string      `json:"backend"` // "sqlite" or "pebble"
	PebbleDir            string      `json:"pebble_dir"`
	Workers              int         `json:"workers"`
	MaxAttempts          int         `json:"max_attempts"`
	Retry                RetryConfig `json:"retry"`
	ScanIntervalSec      int         `json:"scan_interval_sec"`
	RetentionDays        int         `json:"retention_days"`
	CleanupIntervalHours int         `json:"cleanup_interval_hours"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffSec int     `json:"initial_backoff_sec"`
	MaxBackoffSec     int     `json:"max_backoff_sec"`
	Multiplier        float64 `json:"multiplier"`
	Jitter            bool    `json:"jitter"`
}

// DeliveryConfig configures outbound HTTP deliveries
type DeliveryConfig struct {
	TimeoutSec       int   `json:"timeout_sec"`
	MaxParallel      int   `json:"max_parallel"`
	MaxResponseBytes int64 `json:"max_response_bytes"`
	// BreakerThreshold consecutive retryable failures open an endpoint's
	// circuit for BreakerCooldownSec. Negative disables the breaker.
	BreakerThreshold   int `json:"breaker_threshold"`
	BreakerCooldownSec int `json:"breaker_cooldown_sec"`
}

// SettingsConfig points at the forwarding settings blob
type SettingsConfig struct {
	Path            string `json:"path"`
	PollIntervalSec int    `json:"poll_interval_sec"`
}

// AuditConfig configures the audit trail
type AuditConfig struct {
	Capacity int `json:"capacity"`
}

// NetworkConfig configures connectivity probing
type NetworkConfig struct {
	Enabled          bool   `json:"enabled"`
	ProbeAddress     string `json:"probe_address"`
	CheckIntervalSec int    `json:"check_interval_sec"`
	ProbeTimeoutSec  int    `json:"probe_timeout_sec"`
}

// ServerConfig configures the local admin/intake HTTP surface
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

// EncryptionConfig toggles at-rest encryption of queued payloads
type EncryptionConfig struct {
	Enabled bool   `json:"enabled"`
	Secret  string `json:"-"` // SMSRELAY_ENCRYPTION_SECRET
	Salt    string `json:"-"` // SMSRELAY_ENCRYPTION_SALT
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
