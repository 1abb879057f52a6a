package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsrelay/internal/constants"
	"smsrelay/internal/models"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()

	validConfig := `{
		"log_level": "debug",
		"database": {"path": "/var/lib/smsrelay/queue.db"},
		"queue": {
			"backend": "sqlite",
			"workers": 3,
			"max_attempts": 5,
			"retry": {"initial_backoff_sec": 30, "max_backoff_sec": 600, "multiplier": 3, "jitter": true}
		},
		"delivery": {"timeout_sec": 20},
		"settings": {"path": "forwarding.json"},
		"server": {"enabled": true}
	}`
	validConfigPath := writeConfig(t, tmpDir, validConfig)

	badDir := t.TempDir()
	invalidConfigPath := writeConfig(t, badDir, `{"queue": {"backend": "redis"}}`)

	tests := []struct {
		name      string
		path      string
		setEnv    map[string]string
		wantError bool
		validate  func(*testing.T, *models.Config)
	}{
		{
			name: "valid config",
			path: validConfigPath,
			validate: func(t *testing.T, config *models.Config) {
				assert.Equal(t, "debug", config.LogLevel)
				assert.Equal(t, "/var/lib/smsrelay/queue.db", config.Database.Path)
				assert.Equal(t, 3, config.Queue.Workers)
				assert.Equal(t, 5, config.Queue.MaxAttempts)
				assert.Equal(t, 30, config.Queue.Retry.InitialBackoffSec)
				assert.Equal(t, 600, config.Queue.Retry.MaxBackoffSec)
				assert.Equal(t, 3.0, config.Queue.Retry.Multiplier)
				assert.True(t, config.Queue.Retry.Jitter)
				assert.Equal(t, 20, config.Delivery.TimeoutSec)
				assert.Equal(t, filepath.Join(tmpDir, "forwarding.json"), config.Settings.Path)
				assert.Equal(t, constants.DefaultServerAddress, config.Server.Address)
			},
		},
		{
			name: "environment overrides",
			path: validConfigPath,
			setEnv: map[string]string{
				"SMSRELAY_LOG_LEVEL":      "warn",
				"SMSRELAY_DB_PATH":        "/override/queue.db",
				"SMSRELAY_QUEUE_WORKERS":  "1",
				"SMSRELAY_MAX_ATTEMPTS":   "7",
				"SMSRELAY_SERVER_ADDRESS": "127.0.0.1:9999",
			},
			validate: func(t *testing.T, config *models.Config) {
				assert.Equal(t, "warn", config.LogLevel)
				assert.Equal(t, "/override/queue.db", config.Database.Path)
				assert.Equal(t, 1, config.Queue.Workers)
				assert.Equal(t, 7, config.Queue.MaxAttempts)
				assert.Equal(t, "127.0.0.1:9999", config.Server.Address)
			},
		},
		{
			name:   "non-integer override is ignored",
			path:   validConfigPath,
			setEnv: map[string]string{"SMSRELAY_QUEUE_WORKERS": "many"},
			validate: func(t *testing.T, config *models.Config) {
				assert.Equal(t, 3, config.Queue.Workers)
			},
		},
		{
			name:      "unknown backend",
			path:      invalidConfigPath,
			wantError: true,
		},
		{
			name:      "nonexistent file",
			path:      "/nonexistent/config.json",
			wantError: true,
		},
		{
			name:      "traversal in config path",
			path:      "../../etc/config.json",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.setEnv {
				t.Setenv(k, v)
			}

			config, err := LoadConfig(tt.path)
			if tt.wantError {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, config)
			if tt.validate != nil {
				tt.validate(t, config)
			}
		})
	}
}

func TestLoadConfig_MalformedJSON(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `{"queue": `)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestValidateDefaults(t *testing.T) {
	config := &models.Config{}
	require.NoError(t, validate(config))

	assert.Equal(t, "info", config.LogLevel)
	assert.Equal(t, constants.DefaultDatabasePath, config.Database.Path)
	assert.Equal(t, constants.DefaultSettingsPath, config.Settings.Path)
	assert.Equal(t, "sqlite", config.Queue.Backend)
	assert.Equal(t, 2, config.Queue.Workers)
	assert.Equal(t, 3, config.Queue.MaxAttempts)
	assert.Equal(t, 60, config.Queue.Retry.InitialBackoffSec)
	assert.Equal(t, 3600, config.Queue.Retry.MaxBackoffSec)
	assert.Equal(t, 2.0, config.Queue.Retry.Multiplier)
	assert.Equal(t, 60, config.Queue.ScanIntervalSec)
	assert.Equal(t, 7, config.Queue.RetentionDays)
	assert.Equal(t, 24, config.Queue.CleanupIntervalHours)
	assert.Equal(t, 10, config.Delivery.TimeoutSec)
	assert.Equal(t, 4, config.Delivery.MaxParallel)
	assert.Equal(t, int64(1024), config.Delivery.MaxResponseBytes)
	assert.Equal(t, 5, config.Settings.PollIntervalSec)
	assert.Equal(t, 300, config.Audit.Capacity)
	assert.Equal(t, "127.0.0.1:8082", config.Server.Address)
	assert.Equal(t, "smsrelay", config.Tracing.ServiceName)
	assert.Equal(t, 1.0, config.Tracing.SampleRate)
	assert.Empty(t, config.Queue.PebbleDir)
}

func TestValidate_Bounds(t *testing.T) {
	tests := []struct {
		name    string
		config  models.Config
		wantErr bool
		check   func(*testing.T, *models.Config)
	}{
		{
			name:    "too many workers",
			config:  models.Config{Queue: models.QueueConfig{Workers: 5}},
			wantErr: true,
		},
		{
			name:    "max backoff below initial",
			config:  models.Config{Queue: models.QueueConfig{Retry: models.RetryConfig{InitialBackoffSec: 120, MaxBackoffSec: 60}}},
			wantErr: true,
		},
		{
			name:   "pebble gets a default dir",
			config: models.Config{Queue: models.QueueConfig{Backend: "PEBBLE"}},
			check: func(t *testing.T, c *models.Config) {
				assert.Equal(t, "pebble", c.Queue.Backend)
				assert.Equal(t, constants.DefaultPebbleDir, c.Queue.PebbleDir)
			},
		},
		{
			name:   "audit capacity is capped",
			config: models.Config{Audit: models.AuditConfig{Capacity: 1_000_000}},
			check: func(t *testing.T, c *models.Config) {
				assert.Equal(t, constants.MaxAuditCapacity, c.Audit.Capacity)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config
			err := validate(&cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, &cfg)
		})
	}
}

func TestResolvePaths(t *testing.T) {
	base := t.TempDir()

	config := &models.Config{
		Database: models.DatabaseConfig{Path: "state/queue.db"},
		Settings: models.SettingsConfig{Path: "/etc/smsrelay/settings.json"},
		Queue:    models.QueueConfig{Backend: "pebble", PebbleDir: "journal"},
	}
	require.NoError(t, resolvePaths(config, base))

	assert.Equal(t, filepath.Join(base, "state/queue.db"), config.Database.Path)
	assert.Equal(t, "/etc/smsrelay/settings.json", config.Settings.Path)
	assert.Equal(t, filepath.Join(base, "journal"), config.Queue.PebbleDir)

	escaping := &models.Config{
		Database: models.DatabaseConfig{Path: "../outside.db"},
		Settings: models.SettingsConfig{Path: "settings.json"},
	}
	assert.Error(t, resolvePaths(escaping, base))
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("SMSRELAY_SETTINGS_PATH=/from/dotenv/settings.json\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("SMSRELAY_SETTINGS_PATH") })

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/dotenv/settings.json", config.Settings.Path)
}

func TestLoadConfig_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("SMSRELAY_LOG_LEVEL=debug\n"), 0600))
	t.Setenv("SMSRELAY_LOG_LEVEL", "error")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "error", config.LogLevel)
}

func TestValidateSecurity(t *testing.T) {
	tests := []struct {
		name        string
		env         string
		config      models.Config
		wantErr     bool
		errContains string
	}{
		{
			name:   "encryption disabled",
			config: models.Config{},
		},
		{
			name:        "encryption without secret",
			config:      models.Config{Encryption: models.EncryptionConfig{Enabled: true}},
			wantErr:     true,
			errContains: "SMSRELAY_ENCRYPTION_SECRET",
		},
		{
			name:        "short secret",
			config:      models.Config{Encryption: models.EncryptionConfig{Enabled: true, Secret: "short"}},
			wantErr:     true,
			errContains: "at least 32 characters",
		},
		{
			name:   "strong secret",
			config: models.Config{Encryption: models.EncryptionConfig{Enabled: true, Secret: strings.Repeat("k", 32)}},
		},
		{
			name:        "debug logging in production",
			env:         "production",
			config:      models.Config{LogLevel: "debug"},
			wantErr:     true,
			errContains: "production",
		},
		{
			name:   "info logging in production",
			env:    "production",
			config: models.Config{LogLevel: "info"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SMSRELAY_ENV", tt.env)

			cfg := tt.config
			err := validateSecurity(&cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoadConfig_EncryptionSecretFromEnvironment(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `{"encryption": {"enabled": true}}`)
	t.Setenv("SMSRELAY_ENCRYPTION_SECRET", strings.Repeat("s", 40))
	t.Setenv("SMSRELAY_ENCRYPTION_SALT", "device-salt")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, config.Encryption.Enabled)
	assert.Equal(t, strings.Repeat("s", 40), config.Encryption.Secret)
	assert.Equal(t, "device-salt", config.Encryption.Salt)
}
