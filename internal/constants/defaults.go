package constants

// Default queue and retry values
const (
	DefaultQueueBackend              = "sqlite"
	DefaultQueueWorkers              = 2
	MaxQueueWorkers                  = 4
	DefaultMaxAttempts               = 3
	DefaultRetryInitialBackoffSec    = 60
	DefaultRetryMaxBackoffSec        = 3600
	DefaultRetryMultiplier           = 2.0
	DefaultQueueScanIntervalSec      = 60
	DefaultQueueRetentionDays        = 7
	CleanupSchedulerIntervalHours    = 24
	DefaultDrainBatchSize            = 32
	DefaultDatabaseRetryAttempts     = 3
	DefaultRetryBackoffMs            = 200
	DefaultMaxBackoffMs              = 2000
	DefaultDatabaseOpenBackoffMs     = 500
	DefaultDatabaseOpenMaxBackoffMs  = 5000
	DefaultGracefulShutdownSec       = 30
	DefaultSettingsPollIntervalSec   = 5
	DefaultSettingsReloadSettleDelay = 100 // milliseconds
)

// Default delivery values
const (
	DefaultDeliveryTimeoutSec      = 10
	DefaultDeliveryMaxParallel     = 4
	DefaultMaxResponseBytes        = 1024
	DefaultBreakerThreshold        = 5
	DefaultBreakerCooldownSec      = 30
	DefaultTestSender              = "TEST_SENDER"
	DefaultTestBody                = "This is a test message for API verification - triggered manually"
	DefaultPreviewLength           = 160
	DefaultNotificationTitleFailed = "SMS forwarding failed"
)

// Default audit values
const (
	DefaultAuditCapacity = 300
	MaxAuditCapacity     = 5000
)

// Default network probe values
const (
	DefaultNetworkProbeAddress     = "1.1.1.1:443"
	DefaultNetworkCheckIntervalSec = 30
	DefaultNetworkProbeTimeoutSec  = 5
)

// Default server values
const (
	DefaultServerAddress         = "127.0.0.1:8082"
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	MaxReceptionBodyBytes        = 1 << 20
	MaxSettingsBodyBytes         = 1 << 20
)

// Default file locations
const (
	DefaultDatabasePath  = "smsrelay.db"
	DefaultSettingsPath  = "settings.json"
	DefaultPebbleDir     = "smsrelay-queue"
	DefaultFilePerm      = 0600
	DefaultDirectoryPerm = 0750
)

// Encryption constants
const (
	EncryptionSalt = "smsrelay-payload-v1"
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
)
