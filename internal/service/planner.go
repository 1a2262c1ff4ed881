package service

import (
	"fmt"
	"time"
	"unicode/utf16"

	"github.com/tazhate/examtracker/internal/domain"
)

// notificationIDSpace bounds derived ids to what notification backends accept.
const notificationIDSpace = 1_000_000

// PlanReminders returns the reminders that should exist at now.
// It has no side effects; an empty result with settings disabled means
// every exam reminder has to be cleared by the caller.
func PlanReminders(exams []*domain.Exam, settings domain.NotificationSettings, now time.Time) []domain.RequiredNotification {
	if !settings.Enabled {
		return nil
	}

	var required []domain.RequiredNotification
	for _, exam := range exams {
		if exam == nil || !exam.IsUpcoming(now) {
			continue
		}

		reminderDate := reminderDateFor(exam.Date, settings, now.Location())
		if !reminderDate.After(now) {
			// Reminder window already elapsed
			continue
		}

		required = append(required, domain.RequiredNotification{
			ID:           DeriveNotificationID(exam.ID, exam.Date),
			ExamID:       exam.ID,
			ExamName:     exam.Name,
			ExamDate:     exam.Date,
			ReminderDate: reminderDate,
			ReminderDays: settings.ReminderDays,
		})
	}
	return required
}

func reminderDateFor(examDate time.Time, settings domain.NotificationSettings, loc *time.Location) time.Time {
	d := examDate.In(loc).AddDate(0, 0, -settings.ReminderDays)
	return time.Date(d.Year(), d.Month(), d.Day(), settings.ReminderTime.Hour, settings.ReminderTime.Minute, 0, 0, loc)
}

// DeriveNotificationID maps an exam and its date to a stable id in [0, 999999].
// The same pair always yields the same id, across passes and processes.
func DeriveNotificationID(examID string, examDate time.Time) int {
	key := fmt.Sprintf("%s_%d", examID, examDate.Unix())

	var h int32
	for _, unit := range utf16.Encode([]rune(key)) {
		h = h*31 + int32(unit)
	}

	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return int(abs % notificationIDSpace)
}
