package models

// ConfigError indicates invalid or missing configuration.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return "config error: " + e.Message
}

// LiveChannelConfig configures the websocket push channel.
type LiveChannelConfig struct {
	URL                  string `json:"url"`
	ReconnectBaseDelayMs int    `json:"reconnectBaseDelayMs"`
	ReconnectMaxDelayMs  int    `json:"reconnectMaxDelayMs"`
	HeartbeatIntervalSec int    `json:"heartbeatIntervalSec"`
	HeartbeatGraceSec    int    `json:"heartbeatGraceSec"`
}

// APIConfig configures the HTTP poll/send fallback.
type APIConfig struct {
	BaseURL         string `json:"baseUrl"`
	PollIntervalSec int    `json:"pollIntervalSec"`
	PollWindowSize  int    `json:"pollWindowSize"`
	TimeoutSec      int    `json:"timeoutSec"`
}

// MediaConfig configures the Media Upload Service client.
type MediaConfig struct {
	UploadURL       string `json:"uploadUrl"`
	TimeoutSec      int    `json:"timeoutSec"`
	MaxAttachmentMB int    `json:"maxAttachmentMB"`
}

// SendConfig configures the outbound send pipeline.
type SendConfig struct {
	AttemptsPerTransport int `json:"attemptsPerTransport"`
	BackoffInitialMs     int `json:"backoffInitialMs"`
	BackoffMaxMs         int `json:"backoffMaxMs"`
	ConfirmTimeoutSec    int `json:"confirmTimeoutSec"`
	TimeoutSec           int `json:"timeoutSec"`
	TimeoutPerMBSec      int `json:"timeoutPerMBSec"`
}

// SyncConfig configures reconciliation and resync behaviour.
type SyncConfig struct {
	FingerprintWindowSec int `json:"fingerprintWindowSec"`
	ResyncOverlapSec     int `json:"resyncOverlapSec"`
	RecencyCacheSize     int `json:"recencyCacheSize"`
	TypingTTLSec         int `json:"typingTTLSec"`
	SnapshotIntervalSec  int `json:"snapshotIntervalSec"`
	ConversationIdleMin  int `json:"conversationIdleMin"`
}

// DatabaseConfig configures local persistence.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// ServerConfig configures the local debug/status HTTP server.
type ServerConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `json:"enabled"`
	UseStdout    bool    `json:"useStdout"`
	OTLPEndpoint string  `json:"otlpEndpoint"`
	SampleRate   float64 `json:"sampleRate"`
}

// Config is the root configuration document.
type Config struct {
	UserID      string            `json:"userId"`
	AuthToken   string            `json:"authToken"`
	LiveChannel LiveChannelConfig `json:"liveChannel"`
	API         APIConfig         `json:"api"`
	Media       MediaConfig       `json:"media"`
	Send        SendConfig        `json:"send"`
	Sync        SyncConfig        `json:"sync"`
	Database    DatabaseConfig    `json:"database"`
	Server      ServerConfig      `json:"server"`
	Tracing     TracingConfig     `json:"tracing"`
	LogLevel    string            `json:"logLevel"`
}
