package config

import (
	"context"
	"crypto/sha256"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"smsrelay/internal/models"
)

const defaultWatchInterval = 5 * time.Second

// ConfigWatcher polls the application config file and reloads it when its
// content changes. Only the log level is applied at runtime; changes to
// anything listed by restartRequired are reported and otherwise ignored.
type ConfigWatcher struct {
	configPath string
	interval   time.Duration
	logger     *logrus.Logger

	mu        sync.RWMutex
	config    *models.Config
	digest    [sha256.Size]byte
	callbacks []func(*models.Config)
}

func NewConfigWatcher(configPath string, initial *models.Config, logger *logrus.Logger) *ConfigWatcher {
	cw := &ConfigWatcher{
		configPath: configPath,
		interval:   defaultWatchInterval,
		logger:     logger,
		config:     initial,
	}
	if raw, err := os.ReadFile(configPath); err == nil {
		cw.digest = sha256.Sum256(raw)
	}
	return cw
}

// Start polls until ctx is cancelled.
func (cw *ConfigWatcher) Start(ctx context.Context) {
	cw.logger.WithField("path", cw.configPath).Info("Configuration watcher started")

	ticker := time.NewTicker(cw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cw.logger.Debug("Configuration watcher stopping")
			return
		case <-ticker.C:
			cw.poll()
		}
	}
}

func (cw *ConfigWatcher) poll() {
	raw, err := os.ReadFile(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Failed to read configuration file")
		return
	}
	digest := sha256.Sum256(raw)
	if digest == cw.digest {
		return
	}
	cw.digest = digest
	cw.reloadConfig()
}

// GetConfig returns the current configuration.
func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

// OnConfigChange registers a callback run after every successful reload.
func (cw *ConfigWatcher) OnConfigChange(callback func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

func (cw *ConfigWatcher) reloadConfig() {
	updated, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Failed to reload configuration, keeping previous")
		return
	}

	cw.mu.Lock()
	previous := cw.config
	cw.config = updated
	callbacks := append(([]func(*models.Config))(nil), cw.callbacks...)
	cw.mu.Unlock()

	if previous != nil && previous.LogLevel != updated.LogLevel {
		cw.logger.WithFields(logrus.Fields{"old": previous.LogLevel, "new": updated.LogLevel}).Info("Log level changed")
	}
	if fields := restartRequired(previous, updated); len(fields) > 0 {
		cw.logger.WithField("fields", fields).Warn("Configuration changes need a restart to take effect")
	}
	cw.logger.Info("Configuration reloaded")

	for _, callback := range callbacks {
		go func(cb func(*models.Config)) {
			defer func() {
				if r := recover(); r != nil {
					cw.logger.WithField("panic", r).Error("Config change callback panicked")
				}
			}()
			cb(updated)
		}(callback)
	}
}

// restartRequired lists the changed settings that are only read at startup.
func restartRequired(old, updated *models.Config) []string {
	if old == nil || updated == nil {
		return nil
	}
	var fields []string
	check := func(name string, changed bool) {
		if changed {
			fields = append(fields, name)
		}
	}
	check("database.path", old.Database.Path != updated.Database.Path)
	check("queue.backend", old.Queue.Backend != updated.Queue.Backend)
	check("queue.pebble_dir", old.Queue.PebbleDir != updated.Queue.PebbleDir)
	check("queue.workers", old.Queue.Workers != updated.Queue.Workers)
	check("queue.max_attempts", old.Queue.MaxAttempts != updated.Queue.MaxAttempts)
	check("queue.retry", old.Queue.Retry != updated.Queue.Retry)
	check("delivery", old.Delivery != updated.Delivery)
	check("settings.path", old.Settings.Path != updated.Settings.Path)
	check("audit.capacity", old.Audit.Capacity != updated.Audit.Capacity)
	check("network", old.Network != updated.Network)
	check("server", old.Server != updated.Server)
	check("encryption.enabled", old.Encryption.Enabled != updated.Encryption.Enabled)
	return fields
}
