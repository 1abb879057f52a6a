package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"smsrelay/internal/metrics"
	"smsrelay/internal/models"
)

type QueueStatsReader interface {
	Stats(ctx context.Context) (map[models.WorkStatus]int, error)
}

// inFlightReader is implemented by queues that track claimed items.
type inFlightReader interface {
	InFlight() int
}

// QueueMonitor publishes queue depth gauges and warns when the backlog of
// pending work keeps growing.
type QueueMonitor struct {
	queue         QueueStatsReader
	checkInterval time.Duration
	backlogWarn   int
	logger        *logrus.Logger
	stopCh        chan struct{}
	stopOnce      sync.Once
	lastPending   int
}

func NewQueueMonitor(queue QueueStatsReader, checkInterval time.Duration, backlogWarn int, logger *logrus.Logger) *QueueMonitor {
	return &QueueMonitor{
		queue:         queue,
		checkInterval: checkInterval,
		backlogWarn:   backlogWarn,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

func (m *QueueMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	m.logger.WithFields(logrus.Fields{
		"check_interval": m.checkInterval,
		"backlog_warn":   m.backlogWarn,
	}).Info("Starting queue monitor")

	m.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *QueueMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *QueueMonitor) check(ctx context.Context) {
	counts, err := m.queue.Stats(ctx)
	if err != nil {
		m.logger.WithError(err).Error("Failed to read queue stats")
		return
	}
	pending := counts[models.WorkStatusPending]
	metrics.SetGauge("queue_failed_permanent", float64(counts[models.WorkStatusFailedPermanent]), nil, "Work items that exhausted their retries")
	metrics.SetGauge("queue_delivered", float64(counts[models.WorkStatusDelivered]), nil, "Delivered work items still retained")
	if r, ok := m.queue.(inFlightReader); ok {
		metrics.SetGauge("queue_in_flight", float64(r.InFlight()), nil, "Work items currently being attempted")
	}

	if m.backlogWarn > 0 && pending >= m.backlogWarn && pending > m.lastPending {
		m.logger.WithFields(logrus.Fields{
			"pending":   pending,
			"threshold": m.backlogWarn,
		}).Warn("Pending work backlog is growing")
	}
	m.lastPending = pending
}
