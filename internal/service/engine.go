package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"smsrelay/internal/audit"
	"smsrelay/internal/constants"
	apperrors "smsrelay/internal/errors"
	"smsrelay/internal/intake"
	"smsrelay/internal/metrics"
	"smsrelay/internal/models"
	"smsrelay/internal/planner"
	"smsrelay/internal/privacy"
	"smsrelay/internal/queue"
	"smsrelay/internal/settings"
	"smsrelay/internal/tracing"
)

// ErrEngineStopped is returned for receptions after Stop.
var ErrEngineStopped = errors.New("engine is stopped")

// Outcome describes what happened to one reception.
type Outcome struct {
	Reason models.PlanReason `json:"outcome"`
	WorkID string            `json:"workId,omitempty"`
}

// EngineDeps are the collaborators of the engine. Monitor is optional.
type EngineDeps struct {
	Config     models.QueueConfig
	Queue      queue.DurableQueue
	Dispatcher Dispatcher
	Settings   *settings.Watcher
	Audit      audit.Recorder
	Monitor    *NetworkMonitor
	Logger     *logrus.Logger
	Clock      func() time.Time
}

// Engine wires intake, planning, the durable queue and its workers.
type Engine struct {
	queue      queue.DurableQueue
	dispatcher Dispatcher
	settings   *settings.Watcher
	audit      audit.Recorder
	monitor    *NetworkMonitor
	logger     *logrus.Logger
	now        func() time.Time

	pool      *WorkerPool
	scheduler *Scheduler
	qmonitor  *QueueMonitor

	mu      sync.RWMutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewEngine(deps EngineDeps) (*Engine, error) {
	if deps.Queue == nil {
		return nil, apperrors.NewConfigError("queue", "engine requires a queue")
	}
	if deps.Dispatcher == nil {
		return nil, apperrors.NewConfigError("dispatcher", "engine requires a dispatcher")
	}
	if deps.Settings == nil {
		return nil, apperrors.NewConfigError("settings", "engine requires a settings watcher")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	workers := deps.Config.Workers
	if workers <= 0 {
		workers = constants.DefaultQueueWorkers
	}
	if workers > constants.MaxQueueWorkers {
		workers = constants.MaxQueueWorkers
	}
	scan := time.Duration(deps.Config.ScanIntervalSec) * time.Second
	cleanup := time.Duration(deps.Config.CleanupIntervalHours) * time.Hour

	e := &Engine{
		queue:      deps.Queue,
		dispatcher: deps.Dispatcher,
		settings:   deps.Settings,
		audit:      deps.Audit,
		monitor:    deps.Monitor,
		logger:     deps.Logger,
		now:        deps.Clock,
		pool:       NewWorkerPool(workers, deps.Queue, deps.Dispatcher, deps.Logger),
		scheduler:  NewScheduler(deps.Queue, scan, cleanup, deps.Config.RetentionDays, deps.Logger),
		qmonitor:   NewQueueMonitor(deps.Queue, scanOrDefault(scan), 0, deps.Logger),
	}
	return e, nil
}

func scanOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Duration(constants.DefaultQueueScanIntervalSec) * time.Second
	}
	return d
}

// Start loads settings and launches the background components. Work left
// pending by a previous run is picked up immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("engine already started")
	}
	if e.stopped {
		return ErrEngineStopped
	}

	if err := e.settings.Load(ctx); err != nil {
		e.logger.WithError(err).Warn("Failed to load forwarding settings, starting with defaults")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		e.settings.Start(runCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.scheduler.Start(runCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.qmonitor.Start(runCtx)
	}()

	if e.monitor != nil {
		e.monitor.OnChange(func(online bool) {
			if online {
				e.record(models.LevelInfo, models.CategorySystem, "Network restored, resuming deliveries", nil)
				e.queue.Wake()
				return
			}
			e.record(models.LevelWarn, models.CategorySystem, "Network unavailable, deliveries on hold", nil)
		})
		e.monitor.Start(runCtx)
	}

	e.pool.Start(runCtx)
	e.started = true

	snap := e.settings.Snapshot()
	e.record(models.LevelInfo, models.CategorySystem, "Forwarding engine started", map[string]interface{}{
		"endpoints":   len(snap.Endpoints),
		"filter_mode": string(snap.Filter.Mode),
	})
	return nil
}

// HandleReception runs one reception event through normalization and
// planning and queues the resulting plan. It performs no network I/O.
// Receptions that need no delivery return an Outcome without error.
func (e *Engine) HandleReception(ctx context.Context, fragments []models.Fragment, receivedAt time.Time) (Outcome, error) {
	e.mu.RLock()
	stopped := e.stopped
	e.mu.RUnlock()
	if stopped {
		return Outcome{}, ErrEngineStopped
	}

	ctx, span := tracing.StartSpan(ctx, "engine.reception", attribute.Int("fragments", len(fragments)))
	defer span.End()

	metrics.IncrementCounter("sms_received_total", nil, "Reception events handled")
	if receivedAt.IsZero() {
		receivedAt = e.now()
	}

	msg, err := intake.Normalize(fragments, receivedAt)
	if err != nil {
		e.logger.WithError(err).Debug("Skipping reception: no sender")
		e.countPlan(models.ReasonInvalidMessage)
		return Outcome{Reason: models.ReasonInvalidMessage}, nil
	}

	snap := e.settings.Snapshot()
	plan, reason := planner.Plan(msg, snap.Filter, snap.Endpoints, snap.AuthHeaderName)
	e.countPlan(reason)
	span.SetAttributes(attribute.String("reason", string(reason)))
	LogMessageProcessing(ctx, e.logger, msg, reason)

	switch reason {
	case models.ReasonInvalidMessage:
		e.record(models.LevelDebug, models.CategorySMS, "Skipping message with empty sender or body", map[string]interface{}{
			"sender": msg.Sender,
		})
		return Outcome{Reason: reason}, nil
	case models.ReasonNoEndpoints:
		e.record(models.LevelInfo, models.CategorySMS, "No active endpoints configured, message not forwarded", map[string]interface{}{
			"sender": msg.Sender,
		})
		return Outcome{Reason: reason}, nil
	case models.ReasonFiltered:
		e.record(models.LevelInfo, models.CategoryFilters, fmt.Sprintf("Message from %s blocked by %s filter", msg.Sender, snap.Filter.Mode), map[string]interface{}{
			"sender": msg.Sender,
			"mode":   string(snap.Filter.Mode),
		})
		return Outcome{Reason: reason}, nil
	}

	workID, err := e.queue.Enqueue(ctx, *plan)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue failed")
		e.record(models.LevelError, models.CategoryQueue, "Failed to queue message for forwarding", map[string]interface{}{
			"sender": msg.Sender,
			"error":  err.Error(),
		})
		return Outcome{}, fmt.Errorf("failed to enqueue plan: %w", err)
	}

	e.record(models.LevelInfo, models.CategorySMS, fmt.Sprintf("SMS received from %s", msg.Sender), map[string]interface{}{
		"work_id":   workID,
		"parts":     msg.PartCount,
		"endpoints": len(plan.Endpoints),
		"preview":   Preview(msg.Body),
	})
	return Outcome{Reason: reason, WorkID: workID}, nil
}

// TestDelivery sends a synthetic message straight to every active endpoint,
// bypassing the filter and the queue.
func (e *Engine) TestDelivery(ctx context.Context) ([]models.DeliveryResult, error) {
	snap := e.settings.Snapshot()
	msg := models.IncomingMessage{
		Sender:     constants.DefaultTestSender,
		Body:       constants.DefaultTestBody,
		PartCount:  1,
		ReceivedAt: e.now(),
	}
	plan, reason := planner.Plan(msg, models.FilterConfig{Mode: models.FilterModeAll}, snap.Endpoints, snap.AuthHeaderName)
	if plan == nil {
		return nil, apperrors.NewInvalidInputError("endpoints", fmt.Sprintf("test delivery not possible: %s", reason))
	}

	e.record(models.LevelInfo, models.CategoryAPI, fmt.Sprintf("Testing %d endpoints", len(plan.Endpoints)), nil)
	results := e.dispatcher.Execute(ctx, *plan)
	for _, r := range results {
		data := map[string]interface{}{
			"endpoint":    r.EndpointName,
			"status_code": r.StatusCode,
			"duration_ms": r.Duration.Milliseconds(),
		}
		if r.Outcome == models.OutcomeSuccess {
			e.record(models.LevelSuccess, models.CategoryAPI, fmt.Sprintf("Test delivery to %s succeeded", r.EndpointName), data)
			continue
		}
		if r.Err != nil {
			data["error"] = r.Err.Error()
		}
		e.record(models.LevelWarn, models.CategoryAPI, fmt.Sprintf("Test delivery to %s failed", r.EndpointName), data)
	}
	return results, nil
}

// Stats reports stored work items by status.
func (e *Engine) Stats(ctx context.Context) (map[models.WorkStatus]int, error) {
	return e.queue.Stats(ctx)
}

// Stop refuses further receptions, stops handing out work and waits for
// in-flight attempts until ctx ends. Stored work is kept for the next start.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	started := e.started
	e.mu.Unlock()

	if !started {
		e.queue.Close()
		return nil
	}

	err := e.pool.Stop(ctx)
	e.scheduler.Stop()
	e.qmonitor.Stop()
	if e.monitor != nil {
		e.monitor.Stop()
	}
	e.cancel()
	e.wg.Wait()
	e.queue.Close()

	e.record(models.LevelInfo, models.CategorySystem, "Forwarding engine stopped", nil)
	return err
}

func (e *Engine) countPlan(reason models.PlanReason) {
	metrics.IncrementCounter("plans_total", map[string]string{"reason": string(reason)}, "Forwarding plans by reason")
}

func (e *Engine) record(level models.LogLevel, category models.LogCategory, message string, data map[string]interface{}) {
	if e.audit != nil {
		e.audit.Log(level, category, message, data)
		return
	}
	if s, ok := data["sender"].(string); ok {
		data["sender"] = privacy.MaskSender(s)
	}
	e.logger.WithFields(logrus.Fields(data)).Info(message)
}
