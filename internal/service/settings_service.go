package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tazhate/examtracker/internal/domain"
	"github.com/tazhate/examtracker/internal/storage"
)

// SettingsObserver is told when notification settings were saved.
type SettingsObserver interface {
	OnSettingsChanged(ctx context.Context) error
}

type SettingsService struct {
	storage  *storage.Storage
	observer SettingsObserver
	log      logrus.FieldLogger
}

func NewSettingsService(s *storage.Storage, log logrus.FieldLogger) *SettingsService {
	return &SettingsService{storage: s, log: log}
}

func (s *SettingsService) SetObserver(o SettingsObserver) {
	s.observer = o
}

func (s *SettingsService) Get(ctx context.Context) (*domain.NotificationSettings, error) {
	return s.storage.GetNotificationSettings(ctx)
}

// Save validates and persists settings, then lets the observer reschedule.
// A failing observer is logged; the settings stay saved.
func (s *SettingsService) Save(ctx context.Context, settings domain.NotificationSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := s.storage.SaveNotificationSettings(ctx, settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	if s.observer != nil {
		if err := s.observer.OnSettingsChanged(ctx); err != nil {
			s.log.WithError(err).Warn("Rescheduling after settings change failed")
		}
	}
	return nil
}

// Update applies fn to the current settings and saves the result.
func (s *SettingsService) Update(ctx context.Context, fn func(*domain.NotificationSettings)) (*domain.NotificationSettings, error) {
	current, err := s.storage.GetNotificationSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	fn(current)
	if err := s.Save(ctx, *current); err != nil {
		return nil, err
	}
	return current, nil
}

func (s *SettingsService) Format(settings *domain.NotificationSettings) string {
	onOff := func(b bool) string {
		if b {
			return "вкл"
		}
		return "выкл"
	}
	return fmt.Sprintf("<b>Напоминания</b>: %s\n<b>За сколько дней</b>: %d\n<b>Время</b>: %s\n<b>Автопланирование</b>: %s",
		onOff(settings.Enabled), settings.ReminderDays, settings.ReminderTime, onOff(settings.AutoSchedulingEnabled))
}
