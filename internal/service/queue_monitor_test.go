package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"smsrelay/internal/metrics"
	"smsrelay/internal/models"
)

type mockStatsReader struct {
	mock.Mock
}

func (m *mockStatsReader) Stats(ctx context.Context) (map[models.WorkStatus]int, error) {
	args := m.Called(ctx)
	counts, _ := args.Get(0).(map[models.WorkStatus]int)
	return counts, args.Error(1)
}

func TestQueueMonitor_PublishesGauges(t *testing.T) {
	reader := &mockStatsReader{}
	reader.On("Stats", mock.Anything).Return(map[models.WorkStatus]int{
		models.WorkStatusPending:         4,
		models.WorkStatusFailedPermanent: 2,
		models.WorkStatusDelivered:       9,
	}, nil)

	m := NewQueueMonitor(reader, time.Minute, 3, quietLogger())
	m.check(context.Background())

	gauges := metrics.GetAllMetrics().Gauges
	assert.Equal(t, 2.0, gauges["queue_failed_permanent"].Value)
	assert.Equal(t, 9.0, gauges["queue_delivered"].Value)
	assert.Equal(t, 4, m.lastPending)
	reader.AssertExpectations(t)
}

type inFlightStatsReader struct {
	mockStatsReader
	inFlight int
}

func (r *inFlightStatsReader) InFlight() int { return r.inFlight }

func TestQueueMonitor_PublishesInFlight(t *testing.T) {
	reader := &inFlightStatsReader{inFlight: 2}
	reader.On("Stats", mock.Anything).Return(map[models.WorkStatus]int{models.WorkStatusPending: 2}, nil)

	m := NewQueueMonitor(reader, time.Minute, 0, quietLogger())
	m.check(context.Background())

	assert.Equal(t, 2.0, metrics.GetAllMetrics().Gauges["queue_in_flight"].Value)
}

func TestQueueMonitor_StatsError(t *testing.T) {
	reader := &mockStatsReader{}
	reader.On("Stats", mock.Anything).Return(nil, assert.AnError)

	m := NewQueueMonitor(reader, time.Minute, 3, quietLogger())
	m.lastPending = 7
	m.check(context.Background())

	assert.Equal(t, 7, m.lastPending)
}

func TestQueueMonitor_StartStop(t *testing.T) {
	reader := &mockStatsReader{}
	reader.On("Stats", mock.Anything).Return(map[models.WorkStatus]int{}, nil)

	m := NewQueueMonitor(reader, time.Hour, 0, quietLogger())
	done := make(chan struct{})
	go func() {
		m.Start(context.Background())
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	m.Stop()
	m.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
}
