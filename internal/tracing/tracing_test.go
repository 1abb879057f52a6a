package tracing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRequestID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewRequestID()
		assert.True(t, strings.HasPrefix(id, "req_"))
		assert.Len(t, id, 20)
		assert.False(t, seen[id], "duplicate request id %s", id)
		seen[id] = true
	}
}

func TestContextRoundTrip(t *testing.T) {
	start := time.Now().Add(-50 * time.Millisecond)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req_1")
	ctx = WithTraceID(ctx, "trace_1")
	ctx = WithStartTime(ctx, start)

	info := GetRequestInfo(ctx)
	assert.Equal(t, "req_1", info.RequestID)
	assert.Equal(t, "trace_1", info.TraceID)
	assert.Empty(t, info.WorkID)
	assert.Equal(t, start, info.StartTime)
	assert.GreaterOrEqual(t, Duration(ctx), 50*time.Millisecond)
}

func TestWithWorkID_DoesNotLeakIntoParent(t *testing.T) {
	parent := WithRequestID(context.Background(), "req_1")
	child := WithWorkID(parent, "sms_abc")

	assert.Equal(t, "sms_abc", GetWorkID(child))
	assert.Equal(t, "req_1", GetRequestID(child))
	assert.Empty(t, GetWorkID(parent))
}

func TestEmptyContext(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetWorkID(ctx))
	assert.True(t, GetStartTime(ctx).IsZero())
	assert.Zero(t, Duration(ctx))
}
