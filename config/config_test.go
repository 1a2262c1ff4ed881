package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	for _, key := range []string{
		"TIMEZONE", "CHECK_INTERVAL", "MIN_CHECK_INTERVAL", "DISPATCH_SCHEDULE",
		"NOTIFICATION_BACKEND", "DEFAULT_REMINDER_DAYS", "DEFAULT_REMINDER_TIME", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("OWNER_TELEGRAM_ID", "42")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(42), cfg.OwnerTelegramID)
	assert.Equal(t, "Europe/Moscow", cfg.Timezone.String())
	assert.Equal(t, 60*time.Second, cfg.CheckInterval)
	assert.Equal(t, 30*time.Second, cfg.MinCheckInterval)
	assert.Equal(t, "* * * * *", cfg.DispatchSchedule)
	assert.Equal(t, BackendTelegram, cfg.NotificationBackend)
	assert.Equal(t, 1, cfg.DefaultReminderDays)
	assert.Equal(t, "09:00", cfg.DefaultReminderTime)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.True(t, cfg.IsAllowedUser(42))
	assert.False(t, cfg.IsAllowedUser(7))
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("CHECK_INTERVAL", "2m")
	t.Setenv("MIN_CHECK_INTERVAL", "10s")
	t.Setenv("NOTIFICATION_BACKEND", "CalDAV")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.CheckInterval)
	assert.Equal(t, 10*time.Second, cfg.MinCheckInterval)
	assert.Equal(t, BackendCalDAV, cfg.NotificationBackend)
	assert.Equal(t, time.UTC, cfg.Timezone)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing token", map[string]string{"TELEGRAM_BOT_TOKEN": "", "OWNER_TELEGRAM_ID": "1"}},
		{"bad owner", map[string]string{"OWNER_TELEGRAM_ID": "abc"}},
		{"bad interval", map[string]string{"CHECK_INTERVAL": "soon"}},
		{"zero interval", map[string]string{"CHECK_INTERVAL": "0s"}},
		{"negative days", map[string]string{"DEFAULT_REMINDER_DAYS": "-1"}},
		{"unknown backend", map[string]string{"NOTIFICATION_BACKEND": "pigeon"}},
		{"bad timezone", map[string]string{"TIMEZONE": "Mars/Olympus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
