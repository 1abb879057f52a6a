package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smsrelay/internal/models"
)

var (
	// ErrNotFound is returned when no work item exists for a work id.
	ErrNotFound = errors.New("work item not found")
	// ErrExists is returned by CreateWorkItem when the work id is taken.
	ErrExists = errors.New("work item already exists")
	// ErrStaleRevision is returned when an update was based on an outdated revision.
	ErrStaleRevision = errors.New("work item revision is stale")
	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("queue is closed")
	// ErrNotClaimed is returned when settling a work item that was not handed out by Drain.
	ErrNotClaimed = errors.New("work item is not claimed")
)

// Store persists work items. Implementations must make UpdateWorkItem a
// compare-and-swap on Revision.
type Store interface {
	GetWorkItem(ctx context.Context, workID string) (*models.WorkItem, error)
	CreateWorkItem(ctx context.Context, item *models.WorkItem) error
	// UpdateWorkItem replaces the stored item if its revision still equals
	// expectedRevision; item.Revision carries the new revision.
	UpdateWorkItem(ctx context.Context, item *models.WorkItem, expectedRevision int64) error
	// ListDueWorkItems returns pending items whose NextAttemptAt is not after
	// now, earliest first. A due row that cannot be decoded is stored as
	// failed-permanent and listed as returned by MarkUnreadable.
	ListDueWorkItems(ctx context.Context, now time.Time, limit int) ([]*models.WorkItem, error)
	PurgeTerminalWorkItems(ctx context.Context, olderThan time.Time) (int, error)
	CountWorkItems(ctx context.Context) (map[models.WorkStatus]int, error)
}

// MarkUnreadable turns item, which carries only what a store could read of a
// broken row, into its failed-permanent replacement.
func MarkUnreadable(item *models.WorkItem, cause error, now time.Time) {
	item.Status = models.WorkStatusFailedPermanent
	item.RequiresNetwork = false
	item.LastError = fmt.Sprintf("unreadable work item: %v", cause)
	item.Endpoints = make(map[string]models.EndpointState)
	item.UpdatedAt = now
}
