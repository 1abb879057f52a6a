package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"smsrelay/internal/constants"
	"smsrelay/internal/models"
	"smsrelay/internal/security"
)

var (
	ErrMissingSettingsPath = models.ConfigError{Message: "missing forwarding settings path"}
	ErrUnknownBackend      = models.ConfigError{Message: "queue backend must be sqlite or pebble"}
	ErrMissingSecret       = models.ConfigError{Message: "encryption enabled but SMSRELAY_ENCRYPTION_SECRET is not set"}
)

// LoadConfig reads the JSON config at path, applies defaults and then
// SMSRELAY_* environment overrides. A .env file next to the config, or in the
// working directory, is loaded first without overriding the real environment.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	loadDotEnv(filepath.Dir(path))

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}
	if err := resolvePaths(&config, filepath.Dir(path)); err != nil {
		return nil, err
	}
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func loadDotEnv(configDir string) {
	for _, candidate := range []string{filepath.Join(configDir, ".env"), ".env"} {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		// Load never overrides variables that are already set.
		if err := godotenv.Load(candidate); err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: failed to load %s: %v\n", candidate, err)
		}
		return
	}
}

func validate(c *models.Config) error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Database.Path == "" {
		c.Database.Path = constants.DefaultDatabasePath
	}
	if c.Settings.Path == "" {
		c.Settings.Path = constants.DefaultSettingsPath
	}
	if c.Settings.PollIntervalSec <= 0 {
		c.Settings.PollIntervalSec = constants.DefaultSettingsPollIntervalSec
	}

	q := &c.Queue
	switch strings.ToLower(q.Backend) {
	case "":
		q.Backend = constants.DefaultQueueBackend
	case "sqlite", "pebble":
		q.Backend = strings.ToLower(q.Backend)
	default:
		return ErrUnknownBackend
	}
	if q.Backend == "pebble" && q.PebbleDir == "" {
		q.PebbleDir = constants.DefaultPebbleDir
	}
	if q.Workers <= 0 {
		q.Workers = constants.DefaultQueueWorkers
	}
	if q.Workers > constants.MaxQueueWorkers {
		return models.ConfigError{Message: fmt.Sprintf("queue.workers must be between 1 and %d", constants.MaxQueueWorkers)}
	}
	if q.MaxAttempts <= 0 {
		q.MaxAttempts = constants.DefaultMaxAttempts
	}
	if q.Retry.InitialBackoffSec <= 0 {
		q.Retry.InitialBackoffSec = constants.DefaultRetryInitialBackoffSec
	}
	if q.Retry.MaxBackoffSec <= 0 {
		q.Retry.MaxBackoffSec = constants.DefaultRetryMaxBackoffSec
	}
	if q.Retry.MaxBackoffSec < q.Retry.InitialBackoffSec {
		return models.ConfigError{Message: "queue.retry.max_backoff_sec must not be below initial_backoff_sec"}
	}
	if q.Retry.Multiplier <= 1 {
		q.Retry.Multiplier = constants.DefaultRetryMultiplier
	}
	if q.ScanIntervalSec <= 0 {
		q.ScanIntervalSec = constants.DefaultQueueScanIntervalSec
	}
	if q.RetentionDays <= 0 {
		q.RetentionDays = constants.DefaultQueueRetentionDays
	}
	if q.CleanupIntervalHours <= 0 {
		q.CleanupIntervalHours = constants.CleanupSchedulerIntervalHours
	}

	d := &c.Delivery
	if d.TimeoutSec <= 0 {
		d.TimeoutSec = constants.DefaultDeliveryTimeoutSec
	}
	if d.MaxParallel <= 0 {
		d.MaxParallel = constants.DefaultDeliveryMaxParallel
	}
	if d.MaxResponseBytes <= 0 {
		d.MaxResponseBytes = constants.DefaultMaxResponseBytes
	}
	if d.BreakerThreshold == 0 {
		d.BreakerThreshold = constants.DefaultBreakerThreshold
	}
	if d.BreakerCooldownSec <= 0 {
		d.BreakerCooldownSec = constants.DefaultBreakerCooldownSec
	}

	if c.Audit.Capacity <= 0 {
		c.Audit.Capacity = constants.DefaultAuditCapacity
	}
	if c.Audit.Capacity > constants.MaxAuditCapacity {
		c.Audit.Capacity = constants.MaxAuditCapacity
	}

	n := &c.Network
	if n.ProbeAddress == "" {
		n.ProbeAddress = constants.DefaultNetworkProbeAddress
	}
	if n.CheckIntervalSec <= 0 {
		n.CheckIntervalSec = constants.DefaultNetworkCheckIntervalSec
	}
	if n.ProbeTimeoutSec <= 0 {
		n.ProbeTimeoutSec = constants.DefaultNetworkProbeTimeoutSec
	}

	if c.Server.Address == "" {
		c.Server.Address = constants.DefaultServerAddress
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "smsrelay"
	}
	if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
		c.Tracing.SampleRate = 1.0
	}
	return nil
}

// resolvePaths anchors relative state paths at the config directory.
func resolvePaths(c *models.Config, baseDir string) error {
	targets := []*string{&c.Database.Path, &c.Settings.Path}
	if c.Queue.Backend == "pebble" {
		targets = append(targets, &c.Queue.PebbleDir)
	}
	for _, p := range targets {
		if filepath.IsAbs(*p) {
			if err := security.ValidateFilePath(*p); err != nil {
				return models.ConfigError{Message: err.Error()}
			}
			continue
		}
		if err := security.ValidateFilePathWithBase(*p, baseDir); err != nil {
			return models.ConfigError{Message: err.Error()}
		}
		*p = filepath.Join(baseDir, *p)
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if level := os.Getenv("SMSRELAY_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if path := os.Getenv("SMSRELAY_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if path := os.Getenv("SMSRELAY_SETTINGS_PATH"); path != "" {
		c.Settings.Path = path
	}
	if backend := os.Getenv("SMSRELAY_QUEUE_BACKEND"); backend != "" {
		c.Queue.Backend = backend
	}
	if workers, ok := envInt("SMSRELAY_QUEUE_WORKERS"); ok {
		c.Queue.Workers = workers
	}
	if attempts, ok := envInt("SMSRELAY_MAX_ATTEMPTS"); ok {
		c.Queue.MaxAttempts = attempts
	}
	if addr := os.Getenv("SMSRELAY_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if endpoint := os.Getenv("SMSRELAY_OTLP_ENDPOINT"); endpoint != "" {
		c.Tracing.OTLPEndpoint = endpoint
	}

	// SECURITY: the encryption secret is never read from the config file
	if secret := os.Getenv("SMSRELAY_ENCRYPTION_SECRET"); secret != "" {
		c.Encryption.Secret = secret
	}
	if salt := os.Getenv("SMSRELAY_ENCRYPTION_SALT"); salt != "" {
		c.Encryption.Salt = salt
	}
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: ignoring %s=%q: not an integer\n", key, raw)
		return 0, false
	}
	return v, true
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	if c.Encryption.Enabled {
		if c.Encryption.Secret == "" {
			return ErrMissingSecret
		}
		if len(c.Encryption.Secret) < 32 {
			return models.ConfigError{Message: "encryption secret must be at least 32 characters long"}
		}
	}

	if os.Getenv("SMSRELAY_ENV") == "production" {
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (sender numbers are logged unmasked)"}
		}
		if !c.Encryption.Enabled {
			fmt.Fprintf(os.Stderr, "WARNING: queued payloads are stored unencrypted. Set encryption.enabled and SMSRELAY_ENCRYPTION_SECRET.\n")
		}
	}

	return nil
}
