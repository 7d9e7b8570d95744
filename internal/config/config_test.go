package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.DefaultIntervalDays)
	assert.Equal(t, 8, cfg.Reminder.Hour)
	assert.True(t, cfg.Reminder.Enabled)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("listen: \"0.0.0.0:9000\"\ndefault_interval_days: 0\nlog_level: loud\nreminder:\n  hour: 42\n  webhook_url: http://example.invalid/hook\nbasic_auth:\n  username: me\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, 30, cfg.DefaultIntervalDays)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Reminder.Hour)
	assert.Equal(t, "*/10 * * * *", cfg.Reminder.Schedule)
	assert.Equal(t, "http://example.invalid/hook", cfg.Reminder.WebhookURL)
	assert.Nil(t, cfg.BasicAuth, "password missing disables auth")
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Timezone = "Asia/Shanghai"
	cfg.ForecastCount = 6
	cfg.BasicAuth = &BasicAuthConfig{Username: "u", Password: "p"}

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Shanghai", loaded.Timezone)
	assert.Equal(t, 6, loaded.ForecastCount)
	require.NotNil(t, loaded.BasicAuth)
	assert.Equal(t, "u", loaded.BasicAuth.Username)
}

func TestSaveRejectsEmptyInputs(t *testing.T) {
	assert.Error(t, Save("", DefaultConfig()))
	assert.Error(t, Save(filepath.Join(t.TempDir(), "c.yaml"), nil))
}

func TestLocation(t *testing.T) {
	cfg := DefaultConfig()
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	cfg.Timezone = "Not/AZone"
	loc, err = cfg.Location()
	assert.Error(t, err)
	assert.Equal(t, time.Local, loc)
}
