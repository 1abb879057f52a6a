package tracing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type infoKey struct{}

// RequestInfo is the correlation data carried through a request or a queue
// attempt. WorkID is only set inside queue attempts.
type RequestInfo struct {
	RequestID string    `json:"request_id,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	WorkID    string    `json:"work_id,omitempty"`
	StartTime time.Time `json:"start_time"`
}

// NewRequestID returns a short random id of the form req_<16 hex>.
func NewRequestID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "req_" + id[:16]
}

// with stores a modified copy so contexts derived earlier keep their values.
func with(ctx context.Context, set func(*RequestInfo)) context.Context {
	info := GetRequestInfo(ctx)
	set(&info)
	return context.WithValue(ctx, infoKey{}, info)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return with(ctx, func(i *RequestInfo) { i.RequestID = requestID })
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return with(ctx, func(i *RequestInfo) { i.TraceID = traceID })
}

func WithWorkID(ctx context.Context, workID string) context.Context {
	return with(ctx, func(i *RequestInfo) { i.WorkID = workID })
}

func WithStartTime(ctx context.Context, startTime time.Time) context.Context {
	return with(ctx, func(i *RequestInfo) { i.StartTime = startTime })
}

// GetRequestInfo returns the correlation data of ctx; the zero value when none is set.
func GetRequestInfo(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(infoKey{}).(RequestInfo)
	return info
}

func GetRequestID(ctx context.Context) string {
	return GetRequestInfo(ctx).RequestID
}

func GetTraceID(ctx context.Context) string {
	return GetRequestInfo(ctx).TraceID
}

func GetWorkID(ctx context.Context) string {
	return GetRequestInfo(ctx).WorkID
}

func GetStartTime(ctx context.Context) time.Time {
	return GetRequestInfo(ctx).StartTime
}

// Duration is the time elapsed since the start time in ctx, zero when unset.
func Duration(ctx context.Context) time.Duration {
	startTime := GetStartTime(ctx)
	if startTime.IsZero() {
		return 0
	}
	return time.Since(startTime)
}
