// Package planner turns an incoming message into a forwarding plan. It is
// pure: no I/O, no clocks, no globals.
package planner

import (
	"strings"

	"smsrelay/internal/filter"
	"smsrelay/internal/models"
)

// Plan decides whether msg should be forwarded and to which endpoints.
// Checks run in a fixed order and the first failing one names the reason.
// authHeaderName is the settings-wide header default recorded on the plan;
// each endpoint still carries its own effective header.
func Plan(msg models.IncomingMessage, filterCfg models.FilterConfig, endpoints []models.Endpoint, authHeaderName string) (*models.ForwardingPlan, models.PlanReason) {
	if strings.TrimSpace(msg.Sender) == "" || strings.TrimSpace(msg.Body) == "" {
		return nil, models.ReasonInvalidMessage
	}

	active := make([]models.Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep.Deliverable() {
			active = append(active, ep)
		}
	}
	if len(active) == 0 {
		return nil, models.ReasonNoEndpoints
	}

	if !filter.ShouldForward(msg.Sender, filterCfg) {
		return nil, models.ReasonFiltered
	}

	if authHeaderName == "" {
		authHeaderName = models.DefaultAuthHeaderName
	}
	partCount := msg.PartCount
	if partCount < 1 {
		partCount = 1
	}

	return &models.ForwardingPlan{
		Sender:         msg.Sender,
		Body:           msg.Body,
		PartCount:      partCount,
		ReceivedAt:     msg.ReceivedAt,
		AuthHeaderName: authHeaderName,
		Endpoints:      active,
	}, models.ReasonAccepted
}
