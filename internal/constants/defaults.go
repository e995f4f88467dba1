package constants

// Default ingest and resync configuration values
const (
	DefaultPollIntervalSec      = 15
	DefaultPollWindowSize       = 100
	DefaultResyncOverlapSec     = 30
	DefaultFingerprintWindowSec = 5
	DefaultRecencyCacheSize     = 200
)

// Default live channel configuration values
const (
	DefaultReconnectBaseDelayMs = 1000
	DefaultReconnectMaxDelayMs  = 30000
	DefaultHeartbeatIntervalSec = 20
	DefaultHeartbeatGraceSec    = 10
)

// Default send pipeline values
const (
	DefaultSendAttemptsPerTransport = 3
	DefaultSendBackoffInitialMs     = 500
	DefaultSendBackoffMaxMs         = 10000
	DefaultConfirmTimeoutSec        = 45
	DefaultSendTimeoutSec           = 15
	// Per-megabyte allowance added to the send timeout for attachment sends.
	DefaultSendTimeoutPerMBSec = 5
)

// Default presence values
const (
	DefaultTypingTTLSec     = 3
	DefaultTypingThrottleMs = 1500
	DefaultPresenceSweepSec = 1
)

// Default persistence values
const (
	DefaultSnapshotIntervalSec    = 60
	DefaultConversationIdleMin    = 30
	DefaultDatabaseRetryAttempts  = 3
	DefaultDatabaseBackoffMs      = 200
	DefaultDatabaseMaxBackoffMs   = 2000
)

// Default upload values
const (
	DefaultUploadTimeoutSec = 60
	DefaultMaxAttachmentMB  = 100
)

// Default debug server values
const (
	DefaultDebugServerPort       = 8471
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 10
)

// Circuit breaker defaults for the HTTP API
const (
	DefaultBreakerMaxFailures = 5
	DefaultBreakerResetSec    = 30
)

// Encryption parameters for at-rest snapshot encryption
const (
	PBKDF2Iterations = 100000
	EncryptionKeyLen = 32
	NonceSize        = 12
)
