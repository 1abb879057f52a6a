package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"smsrelay/internal/constants"
	"smsrelay/internal/models"
	"smsrelay/internal/privacy"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose marks the context for verbose logging.
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// SanitizeContent hides message content outside verbose mode.
func SanitizeContent(content string) string {
	if content == "" {
		return ""
	}
	return "[hidden]"
}

// Preview shortens a message body for the audit trail.
func Preview(body string) string {
	runes := []rune(body)
	if len(runes) <= constants.DefaultPreviewLength {
		return body
	}
	return string(runes[:constants.DefaultPreviewLength]) + "..."
}

// LogMessageProcessing logs an incoming message with privacy controls
func LogMessageProcessing(ctx context.Context, logger *logrus.Logger, msg models.IncomingMessage, reason models.PlanReason) {
	if IsVerboseLogging(ctx) {
		logger.WithFields(logrus.Fields{
			LogFieldSender:  msg.Sender,
			LogFieldParts:   msg.PartCount,
			LogFieldReason:  reason,
			LogFieldPreview: Preview(msg.Body),
		}).Info("Processing message")
		return
	}
	logger.WithFields(logrus.Fields{
		LogFieldSender:  privacy.MaskSender(msg.Sender),
		LogFieldParts:   msg.PartCount,
		LogFieldReason:  reason,
		LogFieldPreview: SanitizeContent(msg.Body),
	}).Info("Processing message")
}
