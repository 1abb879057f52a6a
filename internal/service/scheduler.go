package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"smsrelay/internal/constants"
)

// RetryQueue is the part of the queue the scheduler drives.
type RetryQueue interface {
	Wake()
	PurgeTerminal(ctx context.Context, olderThan time.Duration) (int, error)
}

// Scheduler re-presents pending work on a fixed cadence and purges finished
// work items past their retention.
type Scheduler struct {
	queue           RetryQueue
	scanInterval    time.Duration
	cleanupInterval time.Duration
	retention       time.Duration
	logger          *logrus.Logger
	stopCh          chan struct{}
	stopOnce        sync.Once
}

func NewScheduler(queue RetryQueue, scanInterval, cleanupInterval time.Duration, retentionDays int, logger *logrus.Logger) *Scheduler {
	if scanInterval <= 0 {
		scanInterval = time.Duration(constants.DefaultQueueScanIntervalSec) * time.Second
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Duration(constants.CleanupSchedulerIntervalHours) * time.Hour
	}
	if retentionDays <= 0 {
		retentionDays = constants.DefaultQueueRetentionDays
	}
	return &Scheduler{
		queue:           queue,
		scanInterval:    scanInterval,
		cleanupInterval: cleanupInterval,
		retention:       time.Duration(retentionDays) * 24 * time.Hour,
		logger:          logger,
		stopCh:          make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	scan := time.NewTicker(s.scanInterval)
	defer scan.Stop()
	cleanup := time.NewTicker(s.cleanupInterval)
	defer cleanup.Stop()

	s.logger.WithFields(logrus.Fields{
		"scan_interval":    s.scanInterval,
		"cleanup_interval": s.cleanupInterval,
	}).Info("Starting queue scheduler")

	s.queue.Wake()
	s.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-scan.C:
			s.queue.Wake()
		case <-cleanup.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	s.logger.WithField("retention", s.retention).Debug("Running scheduled cleanup")

	n, err := s.queue.PurgeTerminal(ctx, s.retention)
	if err != nil {
		s.logger.WithError(err).Error("Failed to purge finished work items")
		return
	}
	s.logger.WithField(LogFieldCount, n).Debug("Completed scheduled cleanup")
}
