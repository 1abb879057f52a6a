package settings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"smsrelay/internal/audit"
	"smsrelay/internal/constants"
	"smsrelay/internal/models"

	"github.com/sirupsen/logrus"
)

// Snapshot is an immutable view of the settings at one point in time.
// Callers must not modify its slices.
type Snapshot struct {
	Settings       Settings
	Filter         models.FilterConfig
	Endpoints      []models.Endpoint
	AuthHeaderName string
	Version        int
	LoadedAt       time.Time
	Hash           string
}

// Watcher keeps the current settings snapshot in memory, so message intake
// never reads the provider, and reloads it when the stored blob changes.
type Watcher struct {
	provider Provider
	logger   *logrus.Logger
	audit    audit.Recorder
	interval time.Duration

	mu        sync.RWMutex
	snapshot  *Snapshot
	callbacks []func(*Snapshot)
	writeMu   sync.Mutex
}

func NewWatcher(provider Provider, logger *logrus.Logger, recorder audit.Recorder, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = time.Duration(constants.DefaultSettingsPollIntervalSec) * time.Second
	}
	w := &Watcher{
		provider: provider,
		logger:   logger,
		audit:    recorder,
		interval: interval,
	}
	w.snapshot = w.build(Empty(), "").Snapshot
	return w
}

// Load reads the provider once and installs the result.
func (w *Watcher) Load(ctx context.Context) error {
	_, err := w.reload(ctx, true)
	return err
}

// Start polls the provider until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.WithField("interval", w.interval).Info("Settings watcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Settings watcher stopping")
			return
		case <-ticker.C:
			if _, err := w.reload(ctx, false); err != nil {
				w.logger.WithError(err).Error("Failed to reload settings")
			}
		}
	}
}

// Snapshot returns the current settings (thread-safe)
func (w *Watcher) Snapshot() *Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot
}

// OnChange registers a callback invoked after each reload that changed content.
func (w *Watcher) OnChange(callback func(*Snapshot)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Update validates s, writes it through the provider and installs it.
// Credentials sent back as redacted keep their stored value.
func (w *Watcher) Update(ctx context.Context, s Settings) (*Snapshot, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	s = RestoreCredentials(s, w.Snapshot().Settings)
	if !s.Filter.Mode.Valid() {
		return nil, fmt.Errorf("unknown filter mode %q", s.Filter.Mode)
	}
	if s.Filter.Match == "" {
		s.Filter.Match = models.MatchExact
	}
	if !s.Filter.Match.Valid() {
		return nil, fmt.Errorf("unknown match policy %q", s.Filter.Match)
	}

	raw, err := Encode(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := w.provider.Write(ctx, raw); err != nil {
		return nil, err
	}

	w.audit.Log(models.LevelInfo, models.CategorySettings, "Forwarding settings updated", map[string]interface{}{
		"endpoints": len(s.Endpoints),
		"mode":      string(s.Filter.Mode),
	})
	if _, err := w.reload(ctx, false); err != nil {
		return nil, err
	}
	return w.Snapshot(), nil
}

func (w *Watcher) reload(ctx context.Context, force bool) (bool, error) {
	raw, err := w.provider.Read(ctx)
	if err != nil {
		return false, err
	}

	hash := contentHash(raw)
	if !force && hash == w.Snapshot().Hash {
		return false, nil
	}

	s, warnings := Parse(raw)
	for _, msg := range warnings {
		w.audit.Log(models.LevelWarn, models.CategorySettings, msg, nil)
	}
	snap := w.build(s, hash)
	for _, msg := range snap.warnings {
		w.audit.Log(models.LevelWarn, models.CategorySettings, msg, nil)
	}

	w.mu.Lock()
	w.snapshot = snap.Snapshot
	callbacks := make([]func(*Snapshot), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.WithFields(logrus.Fields{
		"endpoints": len(snap.Endpoints),
		"mode":      snap.Filter.Mode,
		"match":     snap.Filter.Match,
	}).Info("Settings loaded")

	for _, callback := range callbacks {
		go func(cb func(*Snapshot)) {
			defer func() {
				if r := recover(); r != nil {
					w.logger.WithField("panic", r).Error("Settings change callback panicked")
				}
			}()
			cb(snap.Snapshot)
		}(callback)
	}
	return true, nil
}

type builtSnapshot struct {
	*Snapshot
	warnings []string
}

func (w *Watcher) build(s Settings, hash string) builtSnapshot {
	endpoints, warnings := Resolve(s)
	header := s.AuthHeaderName
	if header == "" {
		header = models.DefaultAuthHeaderName
	}
	return builtSnapshot{
		Snapshot: &Snapshot{
			Settings:       s,
			Filter:         s.Filter,
			Endpoints:      endpoints,
			AuthHeaderName: header,
			Version:        s.Version,
			LoadedAt:       time.Now(),
			Hash:           hash,
		},
		warnings: warnings,
	}
}

func contentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
