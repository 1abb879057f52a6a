package service

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"smsrelay/internal/models"
	"smsrelay/internal/queue"
	"smsrelay/internal/tracing"
)

// Dispatcher executes one delivery attempt of a plan.
type Dispatcher interface {
	Execute(ctx context.Context, plan models.ForwardingPlan) []models.DeliveryResult
}

// WorkerPool runs a fixed number of workers that take claimed items from
// the queue's drain stream, dispatch their pending endpoints and settle the
// outcome. Attempts run under their own context so that stopping the
// stream lets in-flight deliveries finish.
type WorkerPool struct {
	numWorkers int
	queue      queue.DurableQueue
	dispatcher Dispatcher
	logger     *logrus.Logger

	wg            sync.WaitGroup
	stopDrain     context.CancelFunc
	abortAttempts context.CancelFunc
}

func NewWorkerPool(numWorkers int, q queue.DurableQueue, dispatcher Dispatcher, logger *logrus.Logger) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &WorkerPool{
		numWorkers: numWorkers,
		queue:      q,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Start launches all workers.
func (p *WorkerPool) Start(ctx context.Context) {
	drainCtx, stopDrain := context.WithCancel(ctx)
	attemptCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	p.stopDrain = stopDrain
	p.abortAttempts = abort

	items := p.queue.Drain(drainCtx)
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(attemptCtx, i, items)
	}
	p.logger.WithField(LogFieldCount, p.numWorkers).Info("Worker pool started")
}

// Stop stops handing out work and waits for in-flight attempts. If ctx
// ends first the remaining attempts are cancelled and their items released,
// and ctx's error is returned.
func (p *WorkerPool) Stop(ctx context.Context) error {
	if p.stopDrain == nil {
		return nil
	}
	p.stopDrain()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.abortAttempts()
		p.logger.Info("Worker pool stopped")
		return nil
	case <-ctx.Done():
		p.abortAttempts()
		<-done
		p.logger.Warn("Worker pool stop timed out, in-flight attempts were cancelled")
		return ctx.Err()
	}
}

func (p *WorkerPool) worker(ctx context.Context, id int, items <-chan *models.WorkItem) {
	defer p.wg.Done()
	for item := range items {
		p.attempt(ctx, id, item)
	}
}

func (p *WorkerPool) attempt(ctx context.Context, worker int, item *models.WorkItem) {
	ctx, span := tracing.StartSpan(ctx, "queue.attempt",
		attribute.String("work_id", item.WorkID),
		attribute.Int("attempt", item.Attempt+1),
	)
	defer span.End()
	ctx = tracing.WithWorkID(ctx, item.WorkID)

	log := p.logger.WithFields(logrus.Fields{
		LogFieldWorkID:  item.WorkID,
		LogFieldWorker:  worker,
		LogFieldAttempt: item.Attempt + 1,
	})

	pending := item.PendingEndpoints()
	if len(pending) == 0 {
		if err := p.queue.Complete(ctx, item.WorkID); err != nil {
			log.WithError(err).Error("Failed to complete work item")
		}
		return
	}

	log.WithField(LogFieldCount, len(pending)).Debug("Dispatching work item")
	results := p.dispatcher.Execute(ctx, item.Payload.WithEndpoints(pending))

	// Outcomes of an aborted attempt say nothing about the endpoints.
	if ctx.Err() != nil {
		p.queue.Release(item.WorkID)
		log.Info("Attempt aborted by shutdown, work item released")
		return
	}

	if _, err := p.queue.Settle(ctx, item.WorkID, results); err != nil {
		if errors.Is(err, queue.ErrStaleRevision) {
			log.Debug("Work item replaced during attempt")
			return
		}
		// The item stays pending and is redrawn on the next scan.
		span.RecordError(err)
		log.WithError(err).Error("Failed to settle work item")
	}
}
