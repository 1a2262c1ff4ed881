package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	BackendTelegram = "telegram"
	BackendCalDAV   = "caldav"
	BackendMemory   = "memory"
)

type Config struct {
	TelegramToken   string
	OwnerTelegramID int64
	DatabasePath    string
	Timezone        *time.Location
	WebhookURL      string
	ServerPort      string
	APIUsername     string
	APIPassword     string

	// Reminder engine
	CheckInterval       time.Duration
	MinCheckInterval    time.Duration
	DispatchSchedule    string
	NotificationBackend string
	DefaultReminderDays int
	DefaultReminderTime string

	// CalDAV backend
	CalDAVURL      string
	CalDAVUsername string
	CalDAVPassword string
	CalDAVCalendar string

	LogLevel  logrus.Level
	LogFormat string
}

// Load reads the environment, after loading .env if there is one.
func Load() (*Config, error) {
	_ = godotenv.Load()

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	ownerID, err := strconv.ParseInt(os.Getenv("OWNER_TELEGRAM_ID"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("OWNER_TELEGRAM_ID is required and must be a number")
	}

	tz, err := time.LoadLocation(envOr("TIMEZONE", "Europe/Moscow"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	checkInterval, err := durationEnv("CHECK_INTERVAL", 60*time.Second)
	if err != nil {
		return nil, err
	}
	if checkInterval <= 0 {
		return nil, fmt.Errorf("CHECK_INTERVAL must be positive")
	}

	minCheckInterval, err := durationEnv("MIN_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	reminderDays, err := strconv.Atoi(envOr("DEFAULT_REMINDER_DAYS", "1"))
	if err != nil || reminderDays < 0 {
		return nil, fmt.Errorf("DEFAULT_REMINDER_DAYS must be a non-negative number")
	}

	backend := strings.ToLower(envOr("NOTIFICATION_BACKEND", BackendTelegram))
	switch backend {
	case BackendTelegram, BackendCalDAV, BackendMemory:
	default:
		return nil, fmt.Errorf("unknown NOTIFICATION_BACKEND: %s", backend)
	}

	level, err := logrus.ParseLevel(envOr("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return &Config{
		TelegramToken:       token,
		OwnerTelegramID:     ownerID,
		DatabasePath:        envOr("DATABASE_PATH", "./data/examtracker.db"),
		Timezone:            tz,
		WebhookURL:          os.Getenv("WEBHOOK_URL"),
		ServerPort:          envOr("SERVER_PORT", "8080"),
		APIUsername:         os.Getenv("API_USERNAME"),
		APIPassword:         os.Getenv("API_PASSWORD"),
		CheckInterval:       checkInterval,
		MinCheckInterval:    minCheckInterval,
		DispatchSchedule:    envOr("DISPATCH_SCHEDULE", "* * * * *"),
		NotificationBackend: backend,
		DefaultReminderDays: reminderDays,
		DefaultReminderTime: envOr("DEFAULT_REMINDER_TIME", "09:00"),
		CalDAVURL:           os.Getenv("CALDAV_URL"),
		CalDAVUsername:      os.Getenv("CALDAV_USERNAME"),
		CalDAVPassword:      os.Getenv("CALDAV_PASSWORD"),
		CalDAVCalendar:      os.Getenv("CALDAV_CALENDAR"),
		LogLevel:            level,
		LogFormat:           envOr("LOG_FORMAT", "text"),
	}, nil
}

func (c *Config) IsAllowedUser(telegramID int64) bool {
	return telegramID == c.OwnerTelegramID
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetLevel(c.LogLevel)
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
