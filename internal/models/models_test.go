package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigError_Error(t *testing.T) {
	err := ConfigError{Message: "test error"}
	assert.Equal(t, "test error", err.Error())
}

func TestEndpoint_HeaderNameAndDeliverable(t *testing.T) {
	ep := Endpoint{ID: "1", URL: "https://example.com/hook", Credential: "k", Active: true}
	assert.Equal(t, DefaultAuthHeaderName, ep.HeaderName())
	assert.True(t, ep.Deliverable())

	ep.AuthHeaderName = "X-Api-Key"
	assert.Equal(t, "X-Api-Key", ep.HeaderName())

	ep.Credential = ""
	assert.False(t, ep.Deliverable())

	ep.Credential = "k"
	ep.Active = false
	assert.False(t, ep.Deliverable())
}

func TestIncomingMessage_IsMultipart(t *testing.T) {
	assert.False(t, IncomingMessage{PartCount: 1}.IsMultipart())
	assert.True(t, IncomingMessage{PartCount: 3}.IsMultipart())
}

func TestFilterModeAndMatchPolicy_Valid(t *testing.T) {
	assert.True(t, FilterModeWhitelist.Valid())
	assert.False(t, FilterMode("disabled").Valid())
	assert.True(t, MatchContains.Valid())
	assert.False(t, MatchPolicy("prefix").Valid())
}

func TestWorkStatus_Terminal(t *testing.T) {
	assert.False(t, WorkStatusPending.Terminal())
	assert.True(t, WorkStatusDelivered.Terminal())
	assert.True(t, WorkStatusFailedPermanent.Terminal())
}

func TestWorkItem_PendingEndpointsAndCounts(t *testing.T) {
	item := &WorkItem{
		Payload: ForwardingPlan{Endpoints: []Endpoint{{ID: "a"}, {ID: "b"}, {ID: "c"}}},
		Endpoints: map[string]EndpointState{
			"a": {Status: EndpointDelivered},
			"b": {Status: EndpointRejected, LastStatusCode: 400},
		},
	}

	pending := item.PendingEndpoints()
	assert.Len(t, pending, 1)
	assert.Equal(t, "c", pending[0].ID)
	assert.Equal(t, 1, item.CountEndpoints(EndpointDelivered))
	assert.Equal(t, 1, item.CountEndpoints(EndpointRejected))
	assert.Equal(t, 1, item.CountEndpoints(EndpointPending))
}

func TestWorkItem_CloneIsDeep(t *testing.T) {
	item := &WorkItem{
		WorkID:    "sms_1",
		Payload:   ForwardingPlan{Sender: "+1", Endpoints: []Endpoint{{ID: "a"}}, ReceivedAt: time.Now()},
		Endpoints: map[string]EndpointState{"a": {Status: EndpointPending}},
	}
	c := item.Clone()
	c.Endpoints["a"] = EndpointState{Status: EndpointDelivered}
	c.Payload.Endpoints[0].ID = "z"

	assert.Equal(t, EndpointPending, item.Endpoints["a"].Status)
	assert.Equal(t, "a", item.Payload.Endpoints[0].ID)
	assert.Nil(t, (*WorkItem)(nil).Clone())
}

func TestLogLevel_Durable(t *testing.T) {
	assert.False(t, LevelDebug.Durable())
	for _, l := range []LogLevel{LevelInfo, LevelWarn, LevelError, LevelSuccess} {
		assert.True(t, l.Durable())
	}
}
