package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"smsrelay/internal/audit"
	"smsrelay/internal/constants"
	"smsrelay/internal/metrics"
	"smsrelay/internal/models"
	"smsrelay/internal/privacy"
	"smsrelay/internal/retry"
)

// maxEnqueueRaces bounds how often Enqueue re-reads after losing a
// compare-and-swap against a concurrent writer.
const maxEnqueueRaces = 5

// DurableQueue is the contract the engine relies on.
type DurableQueue interface {
	Enqueue(ctx context.Context, plan models.ForwardingPlan) (string, error)
	Drain(ctx context.Context) <-chan *models.WorkItem
	Settle(ctx context.Context, workID string, results []models.DeliveryResult) (*models.WorkItem, error)
	Complete(ctx context.Context, workID string) error
	Fail(ctx context.Context, workID string, cause error) error
	Release(workID string)
	Wake()
	Stats(ctx context.Context) (map[models.WorkStatus]int, error)
	PurgeTerminal(ctx context.Context, olderThan time.Duration) (int, error)
	Close()
}

// Notifier surfaces a permanently failed work item to the user.
type Notifier interface {
	NotifyPermanentFailure(ctx context.Context, item *models.WorkItem)
}

// Connectivity reports whether the network is currently usable.
type Connectivity interface {
	Online() bool
}

type Options struct {
	MaxAttempts  int
	Backoff      *retry.Backoff
	Notifier     Notifier
	Audit        audit.Recorder
	Logger       *logrus.Logger
	Clock        func() time.Time
	Connectivity Connectivity
	BatchSize    int
}

// Queue is the durable work queue. Every mutation of a work item goes
// through the store's compare-and-swap, and an item handed out by Drain is
// owned by exactly one consumer until it is settled or released.
type Queue struct {
	store       Store
	maxAttempts int
	backoff     *retry.Backoff
	notifier    Notifier
	audit       audit.Recorder
	logger      *logrus.Logger
	now         func() time.Time
	conn        Connectivity
	batchSize   int

	mu       sync.Mutex
	inFlight map[string]int64 // work id -> revision at claim time
	closed   bool

	wake chan struct{}
	done chan struct{}
}

var _ DurableQueue = (*Queue)(nil)

// New creates a queue over the given store.
func New(store Store, opts Options) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = constants.DefaultMaxAttempts
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: time.Duration(constants.DefaultRetryInitialBackoffSec) * time.Second,
			MaxDelay:     time.Duration(constants.DefaultRetryMaxBackoffSec) * time.Second,
			Multiplier:   constants.DefaultRetryMultiplier,
			MaxAttempts:  opts.MaxAttempts,
			Jitter:       true,
		})
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = constants.DefaultDrainBatchSize
	}

	return &Queue{
		store:       store,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		notifier:    opts.Notifier,
		audit:       opts.Audit,
		logger:      opts.Logger,
		now:         opts.Clock,
		conn:        opts.Connectivity,
		batchSize:   opts.BatchSize,
		inFlight:    make(map[string]int64),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Enqueue persists a work item for the plan and returns its work id.
// A pending item for the same logical message is replaced; a finished one
// means this is a duplicate reception and nothing is queued.
func (q *Queue) Enqueue(ctx context.Context, plan models.ForwardingPlan) (string, error) {
	if q.isClosed() {
		return "", ErrClosed
	}
	if len(plan.Endpoints) == 0 {
		return "", fmt.Errorf("cannot enqueue plan without endpoints")
	}

	workID := WorkID(plan.Sender, plan.ReceivedAt)
	for race := 0; race < maxEnqueueRaces; race++ {
		existing, err := q.store.GetWorkItem(ctx, workID)
		switch {
		case errors.Is(err, ErrNotFound):
			item := q.newItem(workID, plan)
			err = q.store.CreateWorkItem(ctx, item)
			if errors.Is(err, ErrExists) {
				continue
			}
			if err != nil {
				return "", fmt.Errorf("failed to create work item: %w", err)
			}
			q.enqueued(item, false)
			return workID, nil

		case err != nil:
			return "", fmt.Errorf("failed to load work item: %w", err)

		case existing.Status.Terminal():
			q.logger.WithFields(logrus.Fields{
				"work_id": workID,
				"status":  existing.Status,
			}).Info("Duplicate reception ignored")
			q.record(models.LevelInfo, "Duplicate reception ignored", map[string]interface{}{
				"work_id": workID,
				"status":  string(existing.Status),
			})
			metrics.IncrementCounter("queue_duplicates_total", nil, "Receptions collapsed onto a finished work item")
			return workID, nil
		}

		item := q.newItem(workID, plan)
		item.CreatedAt = existing.CreatedAt
		item.Revision = existing.Revision + 1
		err = q.store.UpdateWorkItem(ctx, item, existing.Revision)
		if errors.Is(err, ErrStaleRevision) || errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to replace work item: %w", err)
		}
		q.enqueued(item, true)
		return workID, nil
	}
	return "", fmt.Errorf("enqueue %s: %w", workID, ErrStaleRevision)
}

func (q *Queue) newItem(workID string, plan models.ForwardingPlan) *models.WorkItem {
	now := q.now()
	states := make(map[string]models.EndpointState, len(plan.Endpoints))
	for _, ep := range plan.Endpoints {
		states[ep.ID] = models.EndpointState{Status: models.EndpointPending}
	}
	return &models.WorkItem{
		WorkID:          workID,
		Payload:         plan,
		Status:          models.WorkStatusPending,
		RequiresNetwork: true,
		Endpoints:       states,
		Revision:        1,
		NextAttemptAt:   now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (q *Queue) enqueued(item *models.WorkItem, replaced bool) {
	q.logger.WithFields(logrus.Fields{
		"work_id":   item.WorkID,
		"sender":    privacy.MaskSender(item.Payload.Sender),
		"endpoints": len(item.Payload.Endpoints),
		"replaced":  replaced,
	}).Debug("Work item queued")

	msg := "Message queued for forwarding"
	if replaced {
		msg = "Queued message replaced by newer reception"
	}
	q.record(models.LevelInfo, msg, map[string]interface{}{
		"work_id":   item.WorkID,
		"sender":    item.Payload.Sender,
		"endpoints": len(item.Payload.Endpoints),
	})
	metrics.IncrementCounter("queue_enqueued_total", nil, "Work items queued")
	q.Wake()
}

// Wake asks the drain loop to look for due work now.
func (q *Queue) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Drain streams due work items until ctx is cancelled or the queue is
// closed. Each item received is claimed: it must be passed back to Settle,
// Complete, Fail or Release. Only one Drain should run per queue; fan the
// channel out to workers instead.
func (q *Queue) Drain(ctx context.Context) <-chan *models.WorkItem {
	out := make(chan *models.WorkItem)
	go func() {
		defer close(out)
		for {
			if !q.drainOnce(ctx, out) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case <-q.wake:
			}
		}
	}()
	return out
}

// drainOnce hands out every currently due item. It returns false when the
// loop should stop.
func (q *Queue) drainOnce(ctx context.Context, out chan<- *models.WorkItem) bool {
	for {
		if ctx.Err() != nil || q.isClosed() {
			return false
		}

		due, err := q.store.ListDueWorkItems(ctx, q.now(), q.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			q.logger.WithError(err).Error("Failed to list due work items")
			return true
		}

		claimed := 0
		for _, listed := range due {
			if listed.Status == models.WorkStatusFailedPermanent {
				q.unreadable(ctx, listed)
				claimed++
				continue
			}
			if listed.RequiresNetwork && q.conn != nil && !q.conn.Online() {
				q.logger.WithField("work_id", listed.WorkID).Debug("Holding work item until network is available")
				continue
			}
			item, ok := q.claim(ctx, listed.WorkID)
			if !ok {
				continue
			}
			claimed++

			select {
			case out <- item:
			case <-ctx.Done():
				q.Release(item.WorkID)
				return false
			case <-q.done:
				q.Release(item.WorkID)
				return false
			}
		}

		// A full batch may hide more due items behind it.
		if len(due) < q.batchSize || claimed == 0 {
			return true
		}
	}
}

// claim marks the work id as in flight and returns the freshest copy of
// the item, or false if it is already claimed or no longer due.
func (q *Queue) claim(ctx context.Context, workID string) (*models.WorkItem, bool) {
	q.mu.Lock()
	if _, busy := q.inFlight[workID]; busy {
		q.mu.Unlock()
		return nil, false
	}
	q.inFlight[workID] = 0
	q.mu.Unlock()

	item, err := q.store.GetWorkItem(ctx, workID)
	if err != nil || item.Status != models.WorkStatusPending || item.NextAttemptAt.After(q.now()) {
		q.unclaim(workID)
		return nil, false
	}

	q.mu.Lock()
	q.inFlight[workID] = item.Revision
	q.mu.Unlock()
	return item, true
}

func (q *Queue) unclaim(workID string) {
	q.mu.Lock()
	delete(q.inFlight, workID)
	q.mu.Unlock()
}

func (q *Queue) claimedRevision(workID string) (int64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rev, ok := q.inFlight[workID]
	return rev, ok
}

// Release gives a claimed item back untouched, so it is drawn again.
func (q *Queue) Release(workID string) {
	q.unclaim(workID)
	q.Wake()
}

// InFlight returns the number of claimed items.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// Settle records the outcome of one delivery attempt of a claimed item.
// Delivered endpoints are never attempted again and rejected ones are
// dropped. While retryable endpoints remain the attempt counter advances,
// and once it reaches the attempt budget the item fails permanently.
// If the item was replaced while in flight ErrStaleRevision is returned and
// the replacement is drawn again.
func (q *Queue) Settle(ctx context.Context, workID string, results []models.DeliveryResult) (*models.WorkItem, error) {
	var rejected []models.DeliveryResult
	item, err := q.transition(ctx, workID, func(item *models.WorkItem) {
		var retryErrs []string
		for _, r := range results {
			state, ok := item.Endpoints[r.EndpointID]
			if !ok || state.Status != models.EndpointPending {
				continue
			}
			state.LastStatusCode = r.StatusCode
			state.LastError = ""
			if r.Err != nil {
				state.LastError = r.Err.Error()
			}
			switch r.Outcome {
			case models.OutcomeSuccess:
				state.Status = models.EndpointDelivered
			case models.OutcomeClientError:
				state.Status = models.EndpointRejected
				rejected = append(rejected, r)
			default:
				retryErrs = append(retryErrs, fmt.Sprintf("%s: %s", r.EndpointName, state.LastError))
			}
			item.Endpoints[r.EndpointID] = state
		}
		item.LastError = strings.Join(retryErrs, "; ")
		q.advance(item)
	})
	if err != nil {
		return nil, err
	}

	for _, r := range rejected {
		data := map[string]interface{}{
			"work_id":     workID,
			"endpoint":    r.EndpointName,
			"status_code": r.StatusCode,
		}
		if r.Err != nil {
			data["error"] = r.Err.Error()
		}
		q.record(models.LevelWarn, fmt.Sprintf("Endpoint %s rejected the message, not retrying", r.EndpointName), data)
	}
	q.settled(ctx, item)
	return item, nil
}

// Complete marks every pending endpoint of a claimed item delivered.
func (q *Queue) Complete(ctx context.Context, workID string) error {
	item, err := q.transition(ctx, workID, func(item *models.WorkItem) {
		for id, state := range item.Endpoints {
			if state.Status == models.EndpointPending {
				state.Status = models.EndpointDelivered
				item.Endpoints[id] = state
			}
		}
		item.LastError = ""
		q.advance(item)
	})
	if err != nil {
		return err
	}
	q.settled(ctx, item)
	return nil
}

// Fail counts a failed attempt of a claimed item as a whole.
func (q *Queue) Fail(ctx context.Context, workID string, cause error) error {
	item, err := q.transition(ctx, workID, func(item *models.WorkItem) {
		if cause != nil {
			item.LastError = cause.Error()
		}
		q.advance(item)
	})
	if err != nil {
		return err
	}
	q.settled(ctx, item)
	return nil
}

// advance moves the item to its next state after its endpoint states were
// updated for one attempt.
func (q *Queue) advance(item *models.WorkItem) {
	now := q.now()
	item.UpdatedAt = now

	if item.CountEndpoints(models.EndpointPending) == 0 {
		if item.CountEndpoints(models.EndpointDelivered) > 0 {
			item.Status = models.WorkStatusDelivered
		} else {
			item.Status = models.WorkStatusFailedPermanent
			if item.LastError == "" {
				item.LastError = "all endpoints rejected the message"
			}
		}
		return
	}

	item.Attempt++
	if item.Attempt >= q.maxAttempts {
		item.Status = models.WorkStatusFailedPermanent
		return
	}
	item.NextAttemptAt = now.Add(q.backoff.Delay(item.Attempt))
}

// transition applies mutate to the stored copy of a claimed item and writes
// it back with compare-and-swap. The claim is dropped either way.
func (q *Queue) transition(ctx context.Context, workID string, mutate func(*models.WorkItem)) (*models.WorkItem, error) {
	rev, ok := q.claimedRevision(workID)
	if !ok {
		return nil, ErrNotClaimed
	}

	item, err := q.apply(ctx, workID, rev, mutate)
	q.unclaim(workID)
	if errors.Is(err, ErrStaleRevision) {
		q.staleAttempt(workID)
	}
	return item, err
}

func (q *Queue) apply(ctx context.Context, workID string, rev int64, mutate func(*models.WorkItem)) (*models.WorkItem, error) {
	item, err := q.store.GetWorkItem(ctx, workID)
	if err != nil {
		return nil, err
	}
	if item.Revision != rev {
		return nil, ErrStaleRevision
	}

	mutate(item)
	item.Revision = rev + 1
	if err := q.store.UpdateWorkItem(ctx, item, rev); err != nil {
		return nil, err
	}
	return item, nil
}

func (q *Queue) staleAttempt(workID string) {
	q.logger.WithField("work_id", workID).Info("Work item replaced during delivery, outcome discarded")
	metrics.IncrementCounter("queue_stale_attempts_total", nil, "Attempts discarded because the item was replaced")
	q.Wake()
}

func (q *Queue) settled(ctx context.Context, item *models.WorkItem) {
	delivered := item.CountEndpoints(models.EndpointDelivered)
	total := len(item.Payload.Endpoints)
	fields := logrus.Fields{
		"work_id":   item.WorkID,
		"status":    item.Status,
		"attempt":   item.Attempt,
		"delivered": delivered,
		"endpoints": total,
	}

	switch item.Status {
	case models.WorkStatusDelivered:
		q.logger.WithFields(fields).Info("Work item delivered")
		q.record(models.LevelSuccess, fmt.Sprintf("Message forwarded to %d of %d endpoints", delivered, total), map[string]interface{}{
			"work_id": item.WorkID,
			"sender":  item.Payload.Sender,
		})
		metrics.IncrementCounter("work_items_total", map[string]string{"status": string(item.Status)}, "Work items reaching a final state")

	case models.WorkStatusFailedPermanent:
		q.logger.WithFields(fields).WithField("error", item.LastError).Error("Work item failed permanently")
		q.record(models.LevelError, fmt.Sprintf("Forwarding failed permanently after %d attempts", item.Attempt), map[string]interface{}{
			"work_id":    item.WorkID,
			"sender":     item.Payload.Sender,
			"attempts":   item.Attempt,
			"last_error": item.LastError,
		})
		metrics.IncrementCounter("work_items_total", map[string]string{"status": string(item.Status)}, "Work items reaching a final state")
		if q.notifier != nil {
			q.notifier.NotifyPermanentFailure(ctx, item)
		}

	default:
		q.logger.WithFields(fields).WithField("next_attempt_at", item.NextAttemptAt).Warn("Delivery attempt failed, retry scheduled")
		q.record(models.LevelWarn, fmt.Sprintf("Delivery attempt %d of %d failed, retrying", item.Attempt, q.maxAttempts), map[string]interface{}{
			"work_id":         item.WorkID,
			"next_attempt_at": item.NextAttemptAt.Format(time.RFC3339),
			"last_error":      item.LastError,
		})
		metrics.IncrementCounter("queue_retries_total", nil, "Delivery attempts scheduled for retry")
	}
}

// unreadable reports a due item the store could not decode and has already
// failed.
func (q *Queue) unreadable(ctx context.Context, item *models.WorkItem) {
	q.logger.WithFields(logrus.Fields{
		"work_id": item.WorkID,
		"attempt": item.Attempt,
		"error":   item.LastError,
	}).Error("Work item could not be read, dropping it")
	q.record(models.LevelError, "A queued message could not be read and was dropped", map[string]interface{}{
		"work_id":    item.WorkID,
		"last_error": item.LastError,
	})
	metrics.IncrementCounter("work_items_total", map[string]string{"status": string(item.Status)}, "Work items reaching a final state")
	if q.notifier != nil {
		q.notifier.NotifyPermanentFailure(ctx, item)
	}
}

// Stats counts stored work items by status.
func (q *Queue) Stats(ctx context.Context) (map[models.WorkStatus]int, error) {
	counts, err := q.store.CountWorkItems(ctx)
	if err != nil {
		return nil, err
	}
	metrics.SetGauge("queue_pending", float64(counts[models.WorkStatusPending]), nil, "Work items awaiting delivery")
	return counts, nil
}

// PurgeTerminal deletes finished items last updated more than olderThan ago.
func (q *Queue) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := q.store.PurgeTerminalWorkItems(ctx, q.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.WithField("count", n).Info("Purged finished work items")
	}
	return n, nil
}

// Close stops the drain loop. Stored items are left untouched.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) record(level models.LogLevel, message string, data map[string]interface{}) {
	if q.audit != nil {
		q.audit.Log(level, models.CategoryQueue, message, data)
	}
}
