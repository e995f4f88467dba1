package config

import (
	"os"
	"path/filepath"
	"testing"

	"chatsync/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const validConfig = `{
	"userId": "user-1",
	"liveChannel": {"url": "wss://live.example.com/ws"},
	"api": {"baseUrl": "https://api.example.com"},
	"database": {"path": "/tmp/chatsync-test.db"}
}`

func TestLoadConfigValid(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "user-1", cfg.UserID)
	assert.Equal(t, "wss://live.example.com/ws", cfg.LiveChannel.URL)
	assert.Equal(t, "https://api.example.com", cfg.API.BaseURL)
	assert.Equal(t, "/tmp/chatsync-test.db", cfg.Database.Path)
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultPollIntervalSec, cfg.API.PollIntervalSec)
	assert.Equal(t, constants.DefaultPollWindowSize, cfg.API.PollWindowSize)
	assert.Equal(t, constants.DefaultFingerprintWindowSec, cfg.Sync.FingerprintWindowSec)
	assert.Equal(t, constants.DefaultResyncOverlapSec, cfg.Sync.ResyncOverlapSec)
	assert.Equal(t, constants.DefaultRecencyCacheSize, cfg.Sync.RecencyCacheSize)
	assert.Equal(t, constants.DefaultSendAttemptsPerTransport, cfg.Send.AttemptsPerTransport)
	assert.Equal(t, constants.DefaultConfirmTimeoutSec, cfg.Send.ConfirmTimeoutSec)
	assert.Equal(t, constants.DefaultReconnectBaseDelayMs, cfg.LiveChannel.ReconnectBaseDelayMs)
	assert.Equal(t, constants.DefaultHeartbeatIntervalSec, cfg.LiveChannel.HeartbeatIntervalSec)
	assert.Equal(t, constants.DefaultDebugServerPort, cfg.Server.Port)
	assert.InDelta(t, 0.1, cfg.Tracing.SampleRate, 0.0001)
}

func TestLoadConfigExplicitValuesSurviveDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"userId": "user-1",
		"liveChannel": {"url": "wss://live.example.com/ws", "heartbeatIntervalSec": 15},
		"api": {"baseUrl": "https://api.example.com", "pollIntervalSec": 120},
		"database": {"path": "/tmp/chatsync-test.db"},
		"sync": {"fingerprintWindowSec": 10}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.LiveChannel.HeartbeatIntervalSec)
	assert.Equal(t, 120, cfg.API.PollIntervalSec)
	assert.Equal(t, 10, cfg.Sync.FingerprintWindowSec)
}

func TestLoadConfigMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name: "missing user id",
			content: `{
				"liveChannel": {"url": "wss://live.example.com/ws"},
				"api": {"baseUrl": "https://api.example.com"},
				"database": {"path": "/tmp/test.db"}
			}`,
			wantErr: ErrMissingUserID,
		},
		{
			name: "missing live URL",
			content: `{
				"userId": "user-1",
				"api": {"baseUrl": "https://api.example.com"},
				"database": {"path": "/tmp/test.db"}
			}`,
			wantErr: ErrMissingLiveURL,
		},
		{
			name: "missing API URL",
			content: `{
				"userId": "user-1",
				"liveChannel": {"url": "wss://live.example.com/ws"},
				"database": {"path": "/tmp/test.db"}
			}`,
			wantErr: ErrMissingAPIURL,
		},
		{
			name: "missing database path",
			content: `{
				"userId": "user-1",
				"liveChannel": {"url": "wss://live.example.com/ws"},
				"api": {"baseUrl": "https://api.example.com"}
			}`,
			wantErr: ErrMissingDBPath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := LoadConfig(path)
			assert.Equal(t, tt.wantErr, err)
		})
	}
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadConfigRejectsPathTraversal(t *testing.T) {
	_, err := LoadConfig("../../etc/passwd")
	assert.Error(t, err)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, validConfig)

	t.Setenv("CHATSYNC_USER_ID", "env-user")
	t.Setenv("CHATSYNC_AUTH_TOKEN", "env-token")
	t.Setenv("CHATSYNC_LIVE_URL", "wss://env.example.com/ws")
	t.Setenv("CHATSYNC_API_URL", "https://env.example.com")
	t.Setenv("CHATSYNC_MEDIA_URL", "https://env.example.com/upload")
	t.Setenv("CHATSYNC_DB_PATH", "/tmp/env.db")
	t.Setenv("CHATSYNC_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "env-user", cfg.UserID)
	assert.Equal(t, "env-token", cfg.AuthToken)
	assert.Equal(t, "wss://env.example.com/ws", cfg.LiveChannel.URL)
	assert.Equal(t, "https://env.example.com", cfg.API.BaseURL)
	assert.Equal(t, "https://env.example.com/upload", cfg.Media.UploadURL)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigRejectsInvertedReconnectDelays(t *testing.T) {
	path := writeConfig(t, `{
		"userId": "user-1",
		"liveChannel": {
			"url": "wss://live.example.com/ws",
			"reconnectBaseDelayMs": 5000,
			"reconnectMaxDelayMs": 1000
		},
		"api": {"baseUrl": "https://api.example.com"},
		"database": {"path": "/tmp/test.db"}
	}`)

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
