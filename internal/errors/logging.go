package errors

import (
	"github.com/sirupsen/logrus"
)

// Fields returns the structured log fields carried by an AppError.
func Fields(err error) logrus.Fields {
	fields := logrus.Fields{}
	appErr, ok := As(err)
	if !ok {
		return fields
	}
	fields["error_code"] = appErr.Code
	fields["retryable"] = appErr.Retryable
	for k, v := range appErr.Context {
		fields[k] = v
	}
	return fields
}

// LogError logs an error with its structured context
func LogError(logger *logrus.Logger, err error, message string, fields ...logrus.Fields) {
	entry := logger.WithError(err).WithFields(Fields(err))
	for _, f := range fields {
		entry = entry.WithFields(f)
	}
	entry.Error(message)
}

// LogWarn logs a warning with structured context
func LogWarn(logger *logrus.Logger, err error, message string, fields ...logrus.Fields) {
	entry := logger.WithError(err).WithFields(Fields(err))
	for _, f := range fields {
		entry = entry.WithFields(f)
	}
	entry.Warn(message)
}

// LogRetryableError logs a retryable error at warn level, non-retryable at error level
func LogRetryableError(logger *logrus.Logger, err error, message string, fields ...logrus.Fields) {
	if IsRetryable(err) {
		LogWarn(logger, err, message, fields...)
	} else {
		LogError(logger, err, message, fields...)
	}
}
