package audit

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"smsrelay/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

type memStore struct {
	mu      sync.Mutex
	entries []models.LogEntry
}

func (m *memStore) SaveLogEntry(_ context.Context, entry models.LogEntry, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	if keep > 0 && len(m.entries) > keep {
		m.entries = m.entries[len(m.entries)-keep:]
	}
	return nil
}

func (m *memStore) ListLogEntries(_ context.Context, limit int) ([]models.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.entries
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]models.LogEntry(nil), out...), nil
}

func (m *memStore) ClearLogEntries(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	return nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Publish(entry models.LogEntry) {
	m.Called(entry.Level, entry.Message)
}

func TestTrail_RingEvictsOldestFirst(t *testing.T) {
	const capacity = 20
	trail := New(Options{Capacity: capacity, Logger: quietLogger()})

	for i := 0; i < capacity+50; i++ {
		trail.Log(models.LevelInfo, models.CategorySMS, fmt.Sprintf("message %d", i), nil)
	}

	entries := trail.GetAll()
	require.Len(t, entries, capacity)
	assert.Equal(t, "message 50", entries[0].Message)
	assert.Equal(t, fmt.Sprintf("message %d", capacity+49), entries[capacity-1].Message)
}

func TestTrail_RedactsSecrets(t *testing.T) {
	trail := New(Options{Logger: quietLogger()})

	trail.Log(models.LevelWarn, models.CategoryAPI, "request with apiKey=abc123 and Authorization: Bearer tok",
		map[string]interface{}{"apiKey": "abc123", "detail": "Bearer tok"})

	entry := trail.GetAll()[0]
	assert.NotContains(t, entry.Message, "abc123")
	assert.NotContains(t, entry.Message, "tok")
	assert.Equal(t, "***", entry.Data["apiKey"])
	assert.Equal(t, "Bearer ***", entry.Data["detail"])
	assert.NotEmpty(t, entry.ID)
}

func TestTrail_DebugIsNotRetained(t *testing.T) {
	store := &memStore{}
	trail := New(Options{Store: store, Logger: quietLogger()})

	trail.Log(models.LevelDebug, models.CategoryFilters, "sender filtered", nil)
	trail.Log(models.LevelInfo, models.CategoryFilters, "kept", nil)
	trail.Close()

	assert.Len(t, trail.GetAll(), 1)
	assert.Equal(t, 1, store.len())
}

func TestTrail_SinksReceiveUserVisibleLevels(t *testing.T) {
	sink := &mockSink{}
	sink.On("Publish", models.LevelSuccess, "delivered").Once()
	sink.On("Publish", models.LevelWarn, "retrying").Once()
	sink.On("Publish", models.LevelError, "gave up").Once()

	trail := New(Options{Logger: quietLogger()})
	trail.AddSink(sink)

	trail.Log(models.LevelInfo, models.CategoryQueue, "queued", nil)
	trail.Log(models.LevelSuccess, models.CategoryAPI, "delivered", nil)
	trail.Log(models.LevelWarn, models.CategoryAPI, "retrying", nil)
	trail.LogError(models.CategoryQueue, "gave up", fmt.Errorf("503"), nil)

	sink.AssertExpectations(t)
}

func TestTrail_LogErrorAttachesErrorAndStack(t *testing.T) {
	trail := New(Options{Logger: quietLogger()})
	trail.LogError(models.CategoryQueue, "permanent failure", fmt.Errorf("status 503"), map[string]interface{}{"work_id": "sms_1"})

	entry := trail.GetAll()[0]
	assert.Equal(t, models.LevelError, entry.Level)
	assert.Equal(t, "status 503", entry.Data["error"])
	assert.Equal(t, "sms_1", entry.Data["work_id"])
	assert.Contains(t, entry.StackTrace, "goroutine")
}

func TestTrail_PersistLoadAndClear(t *testing.T) {
	store := &memStore{}
	trail := New(Options{Capacity: 5, Store: store, Logger: quietLogger()})
	for i := 0; i < 8; i++ {
		trail.Log(models.LevelInfo, models.CategorySystem, fmt.Sprintf("m%d", i), nil)
	}
	trail.Close()
	assert.Equal(t, 5, store.len())

	reloaded := New(Options{Capacity: 5, Store: store, Logger: quietLogger()})
	defer reloaded.Close()
	require.NoError(t, reloaded.Load(context.Background()))
	entries := reloaded.GetAll()
	require.Len(t, entries, 5)
	assert.Equal(t, "m3", entries[0].Message)

	require.NoError(t, reloaded.Clear(context.Background()))
	assert.Empty(t, reloaded.GetAll())
	assert.Equal(t, 0, store.len())
}

func TestTrail_SummaryAndQueries(t *testing.T) {
	trail := New(Options{Logger: quietLogger()})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	trail.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	trail.Log(models.LevelInfo, models.CategorySMS, "received", nil)
	trail.Log(models.LevelSuccess, models.CategoryAPI, "delivered", nil)
	trail.Log(models.LevelWarn, models.CategoryAPI, "retrying", nil)
	trail.Log(models.LevelError, models.CategoryQueue, "failed", nil)

	summary := trail.Summary()
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 1, summary.ByLevel[models.LevelSuccess])
	assert.Equal(t, 2, summary.ByCategory[models.CategoryAPI])
	require.NotNil(t, summary.Oldest)
	assert.Equal(t, base.Add(time.Minute), *summary.Oldest)
	assert.Equal(t, base.Add(4*time.Minute), *summary.Newest)

	assert.Len(t, trail.ByLevel(models.LevelWarn), 1)
	assert.Len(t, trail.ByCategory(models.CategoryAPI), 2)
	assert.Len(t, trail.Since(base.Add(2*time.Minute)), 2)

	empty := New(Options{Logger: quietLogger()}).Summary()
	assert.Equal(t, 0, empty.Total)
	assert.Nil(t, empty.Oldest)
}
