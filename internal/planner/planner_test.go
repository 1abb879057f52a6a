package planner

import (
	"testing"
	"time"

	"smsrelay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	primary = models.Endpoint{ID: "1", Name: "Primary", URL: "https://a.example.com", Credential: "k1", Active: true}
	backup  = models.Endpoint{ID: "2", Name: "Backup", URL: "https://b.example.com", Credential: "k2", Active: true}
	paused  = models.Endpoint{ID: "3", Name: "Paused", URL: "https://c.example.com", Credential: "k3", Active: false}
)

func otp() models.IncomingMessage {
	return models.IncomingMessage{Sender: "+15551234567", Body: "OTP: 123456", PartCount: 1, ReceivedAt: time.Unix(1700000000, 0)}
}

func TestPlan_WhitelistAccepted(t *testing.T) {
	cfg := models.FilterConfig{Mode: models.FilterModeWhitelist, Numbers: []string{"+15551234567"}}

	plan, reason := Plan(otp(), cfg, []models.Endpoint{primary, paused}, "")
	require.NotNil(t, plan)
	assert.Equal(t, models.ReasonAccepted, reason)
	assert.Equal(t, "+15551234567", plan.Sender)
	assert.Equal(t, "OTP: 123456", plan.Body)
	assert.Equal(t, models.DefaultAuthHeaderName, plan.AuthHeaderName)
	require.Len(t, plan.Endpoints, 1)
	assert.Equal(t, "1", plan.Endpoints[0].ID)
}

func TestPlan_BlacklistFiltered(t *testing.T) {
	cfg := models.FilterConfig{Mode: models.FilterModeBlacklist, Numbers: []string{"+15551234567"}}

	plan, reason := Plan(otp(), cfg, []models.Endpoint{primary}, "")
	assert.Nil(t, plan)
	assert.Equal(t, models.ReasonFiltered, reason)
}

func TestPlan_InvalidMessage(t *testing.T) {
	all := models.FilterConfig{Mode: models.FilterModeAll}
	for _, msg := range []models.IncomingMessage{
		{Sender: "", Body: "hi"},
		{Sender: "+15551234567", Body: ""},
		{Sender: "  ", Body: "  "},
	} {
		plan, reason := Plan(msg, all, []models.Endpoint{primary}, "")
		assert.Nil(t, plan)
		assert.Equal(t, models.ReasonInvalidMessage, reason)
	}
}

func TestPlan_NoEndpoints(t *testing.T) {
	all := models.FilterConfig{Mode: models.FilterModeAll}

	plan, reason := Plan(otp(), all, nil, "")
	assert.Nil(t, plan)
	assert.Equal(t, models.ReasonNoEndpoints, reason)

	missingKey := primary
	missingKey.Credential = ""
	_, reason = Plan(otp(), all, []models.Endpoint{paused, missingKey}, "")
	assert.Equal(t, models.ReasonNoEndpoints, reason)
}

func TestPlan_ReasonPrecedence(t *testing.T) {
	blocked := models.FilterConfig{Mode: models.FilterModeBlacklist, Numbers: []string{"+15551234567"}}

	// Invalid message wins over missing endpoints and filtering.
	_, reason := Plan(models.IncomingMessage{Sender: "+15551234567"}, blocked, nil, "")
	assert.Equal(t, models.ReasonInvalidMessage, reason)

	// Missing endpoints wins over filtering.
	_, reason = Plan(otp(), blocked, nil, "")
	assert.Equal(t, models.ReasonNoEndpoints, reason)
}

func TestPlan_FanOutKeepsOrderAndHeader(t *testing.T) {
	plan, reason := Plan(otp(), models.FilterConfig{Mode: models.FilterModeAll}, []models.Endpoint{backup, primary}, "X-Api-Key")
	require.Equal(t, models.ReasonAccepted, reason)
	assert.Equal(t, "X-Api-Key", plan.AuthHeaderName)
	assert.Equal(t, []string{"2", "1"}, []string{plan.Endpoints[0].ID, plan.Endpoints[1].ID})
}
