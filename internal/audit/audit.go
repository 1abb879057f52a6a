// Package audit keeps the user-facing trail of what the engine did: a bounded
// ring of recent entries, persisted and pushed to notification sinks.
package audit

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"smsrelay/internal/constants"
	"smsrelay/internal/models"
	"smsrelay/internal/privacy"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Recorder is the write side of the trail, accepted by components that
// report user-visible events.
type Recorder interface {
	Log(level models.LogLevel, category models.LogCategory, message string, data map[string]interface{})
}

// Store persists entries across restarts.
type Store interface {
	SaveLogEntry(ctx context.Context, entry models.LogEntry, keep int) error
	ListLogEntries(ctx context.Context, limit int) ([]models.LogEntry, error)
	ClearLogEntries(ctx context.Context) error
}

// Sink receives SUCCESS, WARN and ERROR entries as they are recorded.
// Publish must not block.
type Sink interface {
	Publish(entry models.LogEntry)
}

const persistBacklog = 256

type Options struct {
	Capacity int
	Store    Store
	Logger   *logrus.Logger
}

// storeOp is one ordered store write: an entry to save, or a clear.
type storeOp struct {
	entry models.LogEntry
	clear bool
	done  chan error
}

// Trail is the audit log. It is safe for concurrent use.
type Trail struct {
	capacity int
	store    Store
	logger   *logrus.Logger

	mu      sync.RWMutex
	entries []models.LogEntry // circular, len == capacity once full
	start   int
	sinks   []Sink

	writes chan storeOp
	wg     sync.WaitGroup
	closed bool
	now    func() time.Time
}

func New(opts Options) *Trail {
	if opts.Capacity <= 0 {
		opts.Capacity = constants.DefaultAuditCapacity
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	t := &Trail{
		capacity: opts.Capacity,
		store:    opts.Store,
		logger:   opts.Logger,
		entries:  make([]models.LogEntry, 0, opts.Capacity),
		now:      time.Now,
	}

	if t.store != nil {
		t.writes = make(chan storeOp, max(opts.Capacity, persistBacklog))
		t.wg.Add(1)
		go t.persistLoop()
	}
	return t
}

// Load fills the ring from the store, oldest first.
func (t *Trail) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	entries, err := t.store.ListLogEntries(ctx, t.capacity)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = t.entries[:0]
	t.start = 0
	for _, e := range entries {
		t.appendLocked(e)
	}
	return nil
}

// AddSink registers a sink for user-visible entries.
func (t *Trail) AddSink(s Sink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sinks = append(t.sinks, s)
}

// Log records an entry. Secrets are redacted before anything is kept. DEBUG
// entries only reach the operational log.
func (t *Trail) Log(level models.LogLevel, category models.LogCategory, message string, data map[string]interface{}) {
	t.record(level, category, message, data, "")
}

// LogError records an ERROR entry for err, with the current stack attached.
func (t *Trail) LogError(category models.LogCategory, message string, err error, data map[string]interface{}) {
	if err != nil {
		merged := make(map[string]interface{}, len(data)+1)
		for k, v := range data {
			merged[k] = v
		}
		merged["error"] = err.Error()
		data = merged
	}
	t.record(models.LevelError, category, message, data, string(debug.Stack()))
}

func (t *Trail) record(level models.LogLevel, category models.LogCategory, message string, data map[string]interface{}, stack string) {
	entry := models.LogEntry{
		ID:         uuid.NewString(),
		Timestamp:  t.now(),
		Level:      level,
		Category:   category,
		Message:    privacy.RedactSecrets(message),
		Data:       privacy.RedactData(data),
		StackTrace: privacy.RedactSecrets(stack),
	}

	t.mirror(entry)
	if !level.Durable() {
		return
	}

	t.mu.Lock()
	t.appendLocked(entry)
	sinks := make([]Sink, len(t.sinks))
	copy(sinks, t.sinks)
	if t.writes != nil && !t.closed {
		select {
		case t.writes <- storeOp{entry: entry}:
		default:
			t.logger.WithField("entry_id", entry.ID).Warn("Audit persistence backlog full, entry kept in memory only")
		}
	}
	t.mu.Unlock()

	if level == models.LevelSuccess || level == models.LevelWarn || level == models.LevelError {
		for _, s := range sinks {
			s.Publish(entry)
		}
	}
}

func (t *Trail) appendLocked(entry models.LogEntry) {
	if len(t.entries) < t.capacity {
		t.entries = append(t.entries, entry)
		return
	}
	t.entries[t.start] = entry
	t.start = (t.start + 1) % t.capacity
}

func (t *Trail) mirror(entry models.LogEntry) {
	fields := logrus.Fields{"category": entry.Category}
	for k, v := range privacy.MaskSensitiveFields(entry.Data) {
		fields[k] = v
	}
	log := t.logger.WithFields(fields)

	switch entry.Level {
	case models.LevelDebug:
		log.Debug(entry.Message)
	case models.LevelWarn:
		log.Warn(entry.Message)
	case models.LevelError:
		log.Error(entry.Message)
	case models.LevelSuccess:
		log.WithField("audit_level", entry.Level).Info(entry.Message)
	default:
		log.Info(entry.Message)
	}
}

func (t *Trail) persistLoop() {
	defer t.wg.Done()
	for op := range t.writes {
		if op.clear {
			op.done <- t.store.ClearLogEntries(context.Background())
			continue
		}
		if err := t.store.SaveLogEntry(context.Background(), op.entry, t.capacity); err != nil {
			t.logger.WithError(err).Warn("Failed to persist audit entry")
		}
	}
}

// Close flushes pending writes to the store.
func (t *Trail) Close() {
	t.mu.Lock()
	if t.closed || t.writes == nil {
		t.closed = true
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.writes)
	t.mu.Unlock()
	t.wg.Wait()
}
