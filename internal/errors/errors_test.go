package errors

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := New(ErrCodeNotFound, "work item not found")
	assert.Equal(t, "NOT_FOUND: work item not found", err.Error())

	wrapped := Wrap(fmt.Errorf("disk full"), ErrCodeDatabaseQuery, "insert failed")
	assert.Equal(t, "DATABASE_QUERY: insert failed: disk full", wrapped.Error())
	assert.EqualError(t, stderrors.Unwrap(wrapped), "disk full")
}

func TestIsRetryableAndGetCode_ThroughWrapping(t *testing.T) {
	base := WrapRetryable(fmt.Errorf("boom"), ErrCodeRetryableError, "delivery failed")
	wrapped := fmt.Errorf("attempt 2: %w", base)

	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, ErrCodeRetryableError, GetCode(wrapped))

	assert.False(t, IsRetryable(fmt.Errorf("plain")))
	assert.Equal(t, ErrCodeInternalError, GetCode(fmt.Errorf("plain")))
}

func TestNewDeliveryError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		err       error
		code      ErrorCode
		retryable bool
	}{
		{"transport failure", 0, fmt.Errorf("connection refused"), ErrCodeRetryableError, true},
		{"server error", 503, nil, ErrCodeRetryableError, true},
		{"bad request", 400, nil, ErrCodeClientError, false},
		{"unauthorized", 401, nil, ErrCodeClientError, false},
		{"not found", 404, nil, ErrCodeClientError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewDeliveryError("Primary", tt.status, tt.err)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, "Primary", err.Context["endpoint"])
			if tt.status != 0 {
				assert.Equal(t, tt.status, err.Context["status_code"])
			}
			require.NotNil(t, err.Cause)
		})
	}
}

func TestHTTPStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatusCode(NewInvalidInputError("fragments", "required")))
	assert.Equal(t, http.StatusNotFound, HTTPStatusCode(NewNotFoundError("work item", "sms_1")))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatusCode(NewDatabaseError("select", fmt.Errorf("x"))))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusCode(fmt.Errorf("plain")))
}

func TestToHTTPResponse(t *testing.T) {
	resp := ToHTTPResponse(NewConfigError("settings.path", "settings path is required"), "req-1")
	assert.Equal(t, ErrCodeInvalidConfig, resp.Error.Code)
	assert.Equal(t, "settings path is required", resp.Error.Message)
	assert.Equal(t, "req-1", resp.RequestID)

	resp = ToHTTPResponse(fmt.Errorf("secret detail"), "")
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
	assert.Equal(t, "An internal error occurred", resp.Error.Message)
}

func TestLogRetryableError_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	LogRetryableError(logger, NewDeliveryError("Primary", 503, nil), "delivery failed")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "RETRYABLE_ERROR", entry["error_code"])
	assert.Equal(t, "Primary", entry["endpoint"])

	buf.Reset()
	LogRetryableError(logger, NewDeliveryError("Primary", 400, nil), "delivery rejected", logrus.Fields{"work_id": "sms_1"})
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "sms_1", entry["work_id"])
}

func TestAsAndHasCode_WalkWrappedChain(t *testing.T) {
	inner := NewDeliveryError("Primary", 0, fmt.Errorf("connection refused"))
	wrapped := fmt.Errorf("attempt 2: %w", inner)

	appErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, appErr)
	assert.True(t, HasCode(wrapped, ErrCodeRetryableError))
	assert.False(t, HasCode(wrapped, ErrCodeClientError))
	assert.False(t, HasCode(nil, ErrCodeInternalError))

	resp := ToHTTPResponse(wrapped, "")
	assert.Equal(t, "endpoint delivery failed", resp.Error.Message)
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatusCode(New(ErrCodeUnavailable, "stopped")))
}
