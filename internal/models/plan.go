package models

import "time"

// PlanReason explains why a plan was or was not produced.
type PlanReason string

const (
	ReasonAccepted       PlanReason = "accepted"
	ReasonInvalidMessage PlanReason = "invalid-message"
	ReasonNoEndpoints    PlanReason = "no-endpoints"
	ReasonFiltered       PlanReason = "filtered"
)

// ForwardingPlan is the fully resolved "what to send, where" for one logical message.
type ForwardingPlan struct {
	Sender         string     `json:"sender"`
	Body           string     `json:"body"`
	PartCount      int        `json:"partCount"`
	ReceivedAt     time.Time  `json:"receivedAt"`
	AuthHeaderName string     `json:"authHeaderName"`
	Endpoints      []Endpoint `json:"endpoints"`
}

// WithEndpoints returns a copy of the plan restricted to the given endpoints.
func (p ForwardingPlan) WithEndpoints(endpoints []Endpoint) ForwardingPlan {
	p.Endpoints = endpoints
	return p
}

// DeliveryOutcome classifies a single endpoint attempt.
type DeliveryOutcome string

const (
	OutcomeSuccess        DeliveryOutcome = "success"
	OutcomeClientError    DeliveryOutcome = "client-error"
	OutcomeRetryableError DeliveryOutcome = "retryable-error"
)

// DeliveryResult is the outcome of one HTTP delivery to one endpoint.
type DeliveryResult struct {
	EndpointID   string
	EndpointName string
	Outcome      DeliveryOutcome
	StatusCode   int
	Err          error
	Duration     time.Duration
}
