package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/respondr-uk/respondr/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsWithMemoryStorage(t *testing.T) {
	t.Setenv("RESPONDR_STORAGE__DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, StorageDriverMemory, cfg.Storage.Driver)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "INC", cfg.Incidents.IDPrefix)
	assert.True(t, cfg.Incidents.LogNoOpTransitions)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9000"
database:
  url: postgres://file/respondr
  max_open_conns: 10
incidents:
  id_prefix: OPS
  log_noop_transitions: false
  transitions:
    investigating: [identified, resolved]
notifications:
  enabled: true
  channels:
    - type: mattermost
      target: https://mm.example.com/hooks/x
  worker:
    poll_interval: 2s
`)
	t.Setenv("RESPONDR_DATABASE__URL", "postgres://env/respondr")
	t.Setenv("RESPONDR_LOG__LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "postgres://env/respondr", cfg.Database.URL)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "OPS", cfg.Incidents.IDPrefix)
	assert.False(t, cfg.Incidents.LogNoOpTransitions)
	assert.Equal(t, []string{"identified", "resolved"}, cfg.Incidents.Transitions["investigating"])
	assert.Equal(t, 2*time.Second, cfg.Notifications.Worker.PollInterval)
	assert.Equal(t, 3, cfg.Notifications.Retry.MaxAttempts)
	require.Len(t, cfg.Notifications.Channels, 1)
	assert.Equal(t, domain.ChannelTypeMattermost, cfg.Notifications.Channels[0].Type)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "postgres without url",
			mutate:  func(c *Config) {},
			wantErr: "database.url",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Storage.Driver = "sqlite" },
			wantErr: "storage.driver",
		},
		{
			name: "unknown log format",
			mutate: func(c *Config) {
				c.Storage.Driver = StorageDriverMemory
				c.Log.Format = "xml"
			},
			wantErr: "log.format",
		},
		{
			name: "unknown transition status",
			mutate: func(c *Config) {
				c.Storage.Driver = StorageDriverMemory
				c.Incidents.Transitions = map[string][]string{"open": {"resolved"}}
			},
			wantErr: "incidents.transitions",
		},
		{
			name: "channel without target",
			mutate: func(c *Config) {
				c.Storage.Driver = StorageDriverMemory
				c.Notifications.Enabled = true
				c.Notifications.Channels = []domain.NotificationChannel{{Type: domain.ChannelTypeEmail}}
			},
			wantErr: "target is required",
		},
		{
			name: "telegram without token",
			mutate: func(c *Config) {
				c.Database.URL = "postgres://x"
				c.Notifications.Enabled = true
				c.Notifications.Telegram.Enabled = true
			},
			wantErr: "bot_token",
		},
		{
			name: "valid memory config",
			mutate: func(c *Config) {
				c.Storage.Driver = StorageDriverMemory
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "notifications.email.smtp_host", envKey("RESPONDR_NOTIFICATIONS__EMAIL__SMTP_HOST"))
	assert.Equal(t, "storage.driver", envKey("RESPONDR_STORAGE__DRIVER"))
}
