package audit

import (
	"context"
	"time"

	"smsrelay/internal/models"
)

// GetAll returns every retained entry, oldest first.
func (t *Trail) GetAll() []models.LogEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.orderedLocked()
}

func (t *Trail) orderedLocked() []models.LogEntry {
	out := make([]models.LogEntry, 0, len(t.entries))
	out = append(out, t.entries[t.start:]...)
	out = append(out, t.entries[:t.start]...)
	return out
}

// Clear empties the ring and the store.
func (t *Trail) Clear(ctx context.Context) error {
	t.mu.Lock()
	t.entries = t.entries[:0]
	t.start = 0
	if t.writes == nil || t.closed {
		t.mu.Unlock()
		if t.store != nil {
			return t.store.ClearLogEntries(ctx)
		}
		return nil
	}
	// Queue behind pending saves so cleared entries are not written back.
	done := make(chan error, 1)
	t.writes <- storeOp{clear: true, done: done}
	t.mu.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Summary counts retained entries by level and category.
func (t *Trail) Summary() models.LogSummary {
	entries := t.GetAll()

	summary := models.LogSummary{
		Total:      len(entries),
		ByLevel:    make(map[models.LogLevel]int),
		ByCategory: make(map[models.LogCategory]int),
	}
	for _, e := range entries {
		summary.ByLevel[e.Level]++
		summary.ByCategory[e.Category]++
	}
	if len(entries) > 0 {
		oldest := entries[0].Timestamp
		newest := entries[len(entries)-1].Timestamp
		summary.Oldest = &oldest
		summary.Newest = &newest
	}
	return summary
}

// ByLevel returns retained entries of one level, oldest first.
func (t *Trail) ByLevel(level models.LogLevel) []models.LogEntry {
	return t.filter(func(e models.LogEntry) bool { return e.Level == level })
}

// ByCategory returns retained entries of one category, oldest first.
func (t *Trail) ByCategory(category models.LogCategory) []models.LogEntry {
	return t.filter(func(e models.LogEntry) bool { return e.Category == category })
}

// Since returns retained entries recorded after ts.
func (t *Trail) Since(ts time.Time) []models.LogEntry {
	return t.filter(func(e models.LogEntry) bool { return e.Timestamp.After(ts) })
}

func (t *Trail) filter(keep func(models.LogEntry) bool) []models.LogEntry {
	var out []models.LogEntry
	for _, e := range t.GetAll() {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
