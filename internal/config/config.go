package config

import (
	"encoding/json"
	"fmt"
	"os"

	"chatsync/internal/constants"
	"chatsync/internal/models"
	"chatsync/internal/security"
)

var (
	ErrMissingUserID  = models.ConfigError{Message: "missing user id"}
	ErrMissingLiveURL = models.ConfigError{Message: "missing live channel URL"}
	ErrMissingAPIURL  = models.ConfigError{Message: "missing API base URL"}
	ErrMissingDBPath  = models.ConfigError{Message: "missing database path"}
)

// LoadConfig reads, validates and defaults a configuration file, then
// applies environment overrides.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.UserID == "" {
		return ErrMissingUserID
	}
	if c.LiveChannel.URL == "" {
		return ErrMissingLiveURL
	}
	if c.API.BaseURL == "" {
		return ErrMissingAPIURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.LiveChannel.ReconnectBaseDelayMs <= 0 {
		c.LiveChannel.ReconnectBaseDelayMs = constants.DefaultReconnectBaseDelayMs
	}
	if c.LiveChannel.ReconnectMaxDelayMs <= 0 {
		c.LiveChannel.ReconnectMaxDelayMs = constants.DefaultReconnectMaxDelayMs
	}
	if c.LiveChannel.ReconnectMaxDelayMs < c.LiveChannel.ReconnectBaseDelayMs {
		return models.ConfigError{Message: "reconnect max delay is below the base delay"}
	}
	if c.LiveChannel.HeartbeatIntervalSec <= 0 {
		c.LiveChannel.HeartbeatIntervalSec = constants.DefaultHeartbeatIntervalSec
	}
	if c.LiveChannel.HeartbeatGraceSec <= 0 {
		c.LiveChannel.HeartbeatGraceSec = constants.DefaultHeartbeatGraceSec
	}

	if c.API.PollIntervalSec <= 0 {
		c.API.PollIntervalSec = constants.DefaultPollIntervalSec
	}
	if c.API.PollWindowSize <= 0 {
		c.API.PollWindowSize = constants.DefaultPollWindowSize
	}
	if c.API.TimeoutSec <= 0 {
		c.API.TimeoutSec = constants.DefaultSendTimeoutSec
	}

	if c.Media.TimeoutSec <= 0 {
		c.Media.TimeoutSec = constants.DefaultUploadTimeoutSec
	}
	if c.Media.MaxAttachmentMB <= 0 {
		c.Media.MaxAttachmentMB = constants.DefaultMaxAttachmentMB
	}

	if c.Send.AttemptsPerTransport <= 0 {
		c.Send.AttemptsPerTransport = constants.DefaultSendAttemptsPerTransport
	}
	if c.Send.BackoffInitialMs <= 0 {
		c.Send.BackoffInitialMs = constants.DefaultSendBackoffInitialMs
	}
	if c.Send.BackoffMaxMs <= 0 {
		c.Send.BackoffMaxMs = constants.DefaultSendBackoffMaxMs
	}
	if c.Send.ConfirmTimeoutSec <= 0 {
		c.Send.ConfirmTimeoutSec = constants.DefaultConfirmTimeoutSec
	}
	if c.Send.TimeoutSec <= 0 {
		c.Send.TimeoutSec = constants.DefaultSendTimeoutSec
	}
	if c.Send.TimeoutPerMBSec <= 0 {
		c.Send.TimeoutPerMBSec = constants.DefaultSendTimeoutPerMBSec
	}

	if c.Sync.FingerprintWindowSec <= 0 {
		c.Sync.FingerprintWindowSec = constants.DefaultFingerprintWindowSec
	}
	if c.Sync.ResyncOverlapSec <= 0 {
		c.Sync.ResyncOverlapSec = constants.DefaultResyncOverlapSec
	}
	if c.Sync.RecencyCacheSize <= 0 {
		c.Sync.RecencyCacheSize = constants.DefaultRecencyCacheSize
	}
	if c.Sync.TypingTTLSec <= 0 {
		c.Sync.TypingTTLSec = constants.DefaultTypingTTLSec
	}
	if c.Sync.SnapshotIntervalSec <= 0 {
		c.Sync.SnapshotIntervalSec = constants.DefaultSnapshotIntervalSec
	}
	if c.Sync.ConversationIdleMin <= 0 {
		c.Sync.ConversationIdleMin = constants.DefaultConversationIdleMin
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultDebugServerPort
	}

	if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
		c.Tracing.SampleRate = 0.1
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if v := os.Getenv("CHATSYNC_USER_ID"); v != "" {
		c.UserID = v
	}
	// Credentials should come from the environment rather than the
	// config file.
	if v := os.Getenv("CHATSYNC_AUTH_TOKEN"); v != "" {
		c.AuthToken = v
	}
	if v := os.Getenv("CHATSYNC_LIVE_URL"); v != "" {
		c.LiveChannel.URL = v
	}
	if v := os.Getenv("CHATSYNC_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("CHATSYNC_MEDIA_URL"); v != "" {
		c.Media.UploadURL = v
	}
	if v := os.Getenv("CHATSYNC_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("CHATSYNC_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}
