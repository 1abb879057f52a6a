package models

import "time"

// LogLevel is the severity of an audit entry.
type LogLevel string

const (
	LevelDebug   LogLevel = "DEBUG"
	LevelInfo    LogLevel = "INFO"
	LevelWarn    LogLevel = "WARN"
	LevelError   LogLevel = "ERROR"
	LevelSuccess LogLevel = "SUCCESS"
)

// AllLogLevels lists levels in display order.
var AllLogLevels = []LogLevel{LevelDebug, LevelInfo, LevelWarn, LevelError, LevelSuccess}

// Durable reports whether entries of this level are retained beyond the console.
func (l LogLevel) Durable() bool {
	return l != LevelDebug
}

// LogCategory groups audit entries by subsystem.
type LogCategory string

const (
	CategorySMS      LogCategory = "SMS"
	CategoryAPI      LogCategory = "API"
	CategoryFilters  LogCategory = "FILTERS"
	CategoryQueue    LogCategory = "QUEUE"
	CategorySettings LogCategory = "SETTINGS"
	CategorySystem   LogCategory = "SYSTEM"
)

// LogEntry is one audit trail record.
type LogEntry struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Category   LogCategory            `json:"category"`
	Message    string                 `json:"message"`
	Data       map[string]interface{} `json:"data,omitempty"`
	StackTrace string                 `json:"stackTrace,omitempty"`
}

// LogSummary aggregates the audit trail for display.
type LogSummary struct {
	Total      int                 `json:"total"`
	ByLevel    map[LogLevel]int    `json:"byLevel"`
	ByCategory map[LogCategory]int `json:"byCategory"`
	Oldest     *time.Time          `json:"oldest,omitempty"`
	Newest     *time.Time          `json:"newest,omitempty"`
}
