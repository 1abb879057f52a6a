package models

import (
	"time"
)

// WorkStatus is the lifecycle state of a queued forwarding job.
type WorkStatus string

const (
	WorkStatusPending         WorkStatus = "pending"
	WorkStatusDelivered       WorkStatus = "delivered"
	WorkStatusFailedPermanent WorkStatus = "failed-permanent"
)

// Terminal reports whether no further attempts will be made.
func (s WorkStatus) Terminal() bool {
	return s == WorkStatusDelivered || s == WorkStatusFailedPermanent
}

// EndpointStatus tracks delivery progress of one endpoint inside a work item.
type EndpointStatus string

const (
	EndpointPending   EndpointStatus = "pending"
	EndpointDelivered EndpointStatus = "delivered"
	EndpointRejected  EndpointStatus = "rejected"
)

// EndpointState is the per-endpoint bookkeeping of a work item.
type EndpointState struct {
	Status         EndpointStatus `json:"status"`
	LastStatusCode int            `json:"lastStatusCode,omitempty"`
	LastError      string         `json:"lastError,omitempty"`
}

// WorkItem is a durable, retryable unit of delivery work derived from a plan.
type WorkItem struct {
	WorkID          string                   `json:"workId"`
	Payload         ForwardingPlan           `json:"payload"`
	Attempt         int                      `json:"attempt"`
	Status          WorkStatus               `json:"status"`
	RequiresNetwork bool                     `json:"requiresNetwork"`
	Endpoints       map[string]EndpointState `json:"endpoints"`
	Revision        int64                    `json:"revision"`
	NextAttemptAt   time.Time                `json:"nextAttemptAt"`
	LastError       string                   `json:"lastError,omitempty"`
	CreatedAt       time.Time                `json:"createdAt"`
	UpdatedAt       time.Time                `json:"updatedAt"`
}

// PendingEndpoints returns the payload endpoints that still need delivery, in plan order.
func (w *WorkItem) PendingEndpoints() []Endpoint {
	var pending []Endpoint
	for _, ep := range w.Payload.Endpoints {
		state, ok := w.Endpoints[ep.ID]
		if !ok || state.Status == EndpointPending {
			pending = append(pending, ep)
		}
	}
	return pending
}

// CountEndpoints returns how many endpoints are in the given state.
func (w *WorkItem) CountEndpoints(status EndpointStatus) int {
	n := 0
	for _, ep := range w.Payload.Endpoints {
		state, ok := w.Endpoints[ep.ID]
		if !ok {
			if status == EndpointPending {
				n++
			}
			continue
		}
		if state.Status == status {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so callers never share mutable maps.
func (w *WorkItem) Clone() *WorkItem {
	if w == nil {
		return nil
	}
	c := *w
	c.Payload.Endpoints = append([]Endpoint(nil), w.Payload.Endpoints...)
	c.Endpoints = make(map[string]EndpointState, len(w.Endpoints))
	for k, v := range w.Endpoints {
		c.Endpoints[k] = v
	}
	return &c
}
