package service

// Logging Standards for smsrelay
//
// This file defines standard field names, log levels, and patterns
// to ensure consistent operational logging across the engine. The audit
// trail is separate: it is the user-facing record and is written through
// audit.Recorder, which mirrors every entry here as well.

// Standard Field Names
// Use these exact field names for consistency across all logging calls
const (
	// Core identifiers
	LogFieldWorkID    = "work_id"
	LogFieldSender    = "sender"
	LogFieldEndpoint  = "endpoint"
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"

	// Service and operation fields
	LogFieldComponent = "component"
	LogFieldOperation = "operation"
	LogFieldWorker    = "worker"

	// Message fields
	LogFieldParts   = "parts"
	LogFieldReason  = "reason"
	LogFieldPreview = "preview"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"

	// Network and external services
	LogFieldURL        = "url"
	LogFieldMethod     = "method"
	LogFieldRoute      = "route"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldStatusCode = "status_code"
	LogFieldSize       = "size"
	LogFieldOnline     = "online"

	// Error and debugging
	LogFieldErrorCode = "error_code"
	LogFieldAttempt   = "attempt"
)

// Log Level Usage Guidelines
//
// DEBUG: Detailed flow information. Only use in verbose mode.
//   - Plans that were not produced (invalid message)
//   - Queue claims and releases
//   - Raw request/response data (sanitized)
//
// INFO: Key events in the forwarding flow.
//   - Engine startup/shutdown
//   - Messages accepted or filtered
//   - Work items delivered
//   - Settings reloaded
//
// WARN: Something went wrong but will be retried or was skipped.
//   - Retryable delivery failures
//   - Endpoints rejecting a message (4xx)
//   - Malformed settings falling back to defaults
//   - Network unavailable
//
// ERROR: Work that will not happen.
//   - Work items failed permanently
//   - Store failures

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"

// Example Usage:
//
// logger.WithFields(logrus.Fields{
//     LogFieldWorkID:  item.WorkID,
//     LogFieldSender:  privacy.MaskSender(sender),
//     LogFieldAttempt: item.Attempt,
// }).Warn("Delivery attempt failed, retry scheduled")
