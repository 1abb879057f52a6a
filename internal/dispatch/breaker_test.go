package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "smsrelay/internal/errors"
	"smsrelay/internal/models"
)

func TestBreakers_OpensAfterThreshold(t *testing.T) {
	b := newBreakers(3, time.Minute, quietLogger())
	ep := models.Endpoint{ID: "1", Name: "Primary", URL: "https://a.example.com"}

	for i := 0; i < 2; i++ {
		require.NoError(t, b.allow(ep))
		b.record(ep, models.OutcomeRetryableError)
	}
	assert.Equal(t, BreakerClosed, b.state(ep))

	require.NoError(t, b.allow(ep))
	b.record(ep, models.OutcomeRetryableError)
	assert.Equal(t, BreakerOpen, b.state(ep))

	var openErr *CircuitOpenError
	require.ErrorAs(t, b.allow(ep), &openErr)
	assert.Equal(t, "Primary", openErr.Endpoint)
	assert.Equal(t, BreakerOpen, openErr.State)
}

func TestBreakers_SuccessResetsFailures(t *testing.T) {
	b := newBreakers(2, time.Minute, quietLogger())
	ep := models.Endpoint{ID: "1", Name: "Primary", URL: "https://a.example.com"}

	b.record(ep, models.OutcomeRetryableError)
	b.record(ep, models.OutcomeSuccess)
	b.record(ep, models.OutcomeRetryableError)

	assert.Equal(t, BreakerClosed, b.state(ep))
}

func TestBreakers_ClientErrorCountsAsReachable(t *testing.T) {
	b := newBreakers(2, time.Minute, quietLogger())
	ep := models.Endpoint{ID: "1", Name: "Primary", URL: "https://a.example.com"}

	b.record(ep, models.OutcomeRetryableError)
	b.record(ep, models.OutcomeClientError)
	b.record(ep, models.OutcomeRetryableError)

	assert.Equal(t, BreakerClosed, b.state(ep))
}

func TestBreakers_HalfOpenProbe(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := newBreakers(1, 30*time.Second, quietLogger())
	b.now = func() time.Time { return now }
	ep := models.Endpoint{ID: "1", Name: "Primary", URL: "https://a.example.com"}

	b.record(ep, models.OutcomeRetryableError)
	require.Error(t, b.allow(ep))

	now = now.Add(31 * time.Second)
	require.NoError(t, b.allow(ep), "first request after cooldown is the probe")
	assert.Equal(t, BreakerHalfOpen, b.state(ep))
	assert.Error(t, b.allow(ep), "only one probe at a time")

	t.Run("failed probe reopens", func(t *testing.T) {
		b.record(ep, models.OutcomeRetryableError)
		assert.Equal(t, BreakerOpen, b.state(ep))
		assert.Error(t, b.allow(ep))
	})

	t.Run("successful probe closes", func(t *testing.T) {
		now = now.Add(31 * time.Second)
		require.NoError(t, b.allow(ep))
		b.record(ep, models.OutcomeSuccess)
		assert.Equal(t, BreakerClosed, b.state(ep))
		assert.NoError(t, b.allow(ep))
	})
}

func TestBreakers_URLChangeStartsClosed(t *testing.T) {
	b := newBreakers(1, time.Minute, quietLogger())
	ep := models.Endpoint{ID: "1", Name: "Primary", URL: "https://a.example.com"}

	b.record(ep, models.OutcomeRetryableError)
	require.Error(t, b.allow(ep))

	ep.URL = "https://b.example.com"
	assert.NoError(t, b.allow(ep))
}

func TestBreakers_Disabled(t *testing.T) {
	b := newBreakers(-1, time.Minute, quietLogger())
	ep := models.Endpoint{ID: "1", Name: "Primary", URL: "https://a.example.com"}

	for i := 0; i < 10; i++ {
		b.record(ep, models.OutcomeRetryableError)
	}
	assert.NoError(t, b.allow(ep))
	assert.Equal(t, BreakerClosed, b.state(ep))
}

func TestExecute_OpenCircuitSkipsRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDispatcher(models.DeliveryConfig{TimeoutSec: 2, BreakerThreshold: 2, BreakerCooldownSec: 60}, nil, quietLogger())
	ep := models.Endpoint{ID: "1", Name: "Flaky", URL: srv.URL, Credential: "k", Active: true}

	for i := 0; i < 2; i++ {
		results := d.Execute(context.Background(), testPlan(ep))
		assert.Equal(t, http.StatusBadGateway, results[0].StatusCode)
	}

	results := d.Execute(context.Background(), testPlan(ep))
	require.Len(t, results, 1)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, models.OutcomeRetryableError, results[0].Outcome)
	assert.Zero(t, results[0].StatusCode)
	assert.True(t, apperrors.IsRetryable(results[0].Err))

	var openErr *CircuitOpenError
	assert.True(t, errors.As(results[0].Err, &openErr))
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", BreakerClosed.String())
	assert.Equal(t, "OPEN", BreakerOpen.String())
	assert.Equal(t, "HALF_OPEN", BreakerHalfOpen.String())
	assert.Equal(t, "UNKNOWN", BreakerState(9).String())
}
