package domain

import (
	"errors"
	"fmt"
)

var ErrInvalidSettings = errors.New("invalid notification settings")

// ClockTime is a time of day in the user's timezone.
type ClockTime struct {
	Hour   int
	Minute int
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

type NotificationSettings struct {
	Enabled               bool
	ReminderDays          int
	ReminderTime          ClockTime
	AutoSchedulingEnabled bool
}

func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		Enabled:               true,
		ReminderDays:          1,
		ReminderTime:          ClockTime{Hour: 9, Minute: 0},
		AutoSchedulingEnabled: true,
	}
}

func (s NotificationSettings) Validate() error {
	if s.ReminderDays < 0 {
		return fmt.Errorf("%w: reminder days must not be negative", ErrInvalidSettings)
	}
	if s.ReminderTime.Hour < 0 || s.ReminderTime.Hour > 23 {
		return fmt.Errorf("%w: hour must be 0-23", ErrInvalidSettings)
	}
	if s.ReminderTime.Minute < 0 || s.ReminderTime.Minute > 59 {
		return fmt.Errorf("%w: minute must be 0-59", ErrInvalidSettings)
	}
	return nil
}
