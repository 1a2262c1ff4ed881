package domain

import "time"

// TagExamReminder marks notifications owned by the exam reminder engine.
const TagExamReminder = "exam_reminder"

// NotificationTag is the payload attached to every scheduled notification.
type NotificationTag struct {
	Type     string `json:"type"`
	ExamID   string `json:"examId,omitempty"`
	ExamName string `json:"examName,omitempty"`
}

// RequiredNotification is one reminder the current exams and settings call for.
// It is recomputed on every pass and never stored.
type RequiredNotification struct {
	ID           int
	ExamID       string
	ExamName     string
	ExamDate     time.Time
	ReminderDate time.Time
	ReminderDays int
}

// ScheduledNotification is what gets handed to a notification backend.
type ScheduledNotification struct {
	ID     int
	FireAt time.Time
	Title  string
	Body   string
	Tag    NotificationTag
}

// PendingNotification is a notification the backend has not fired yet.
// Tag is nil when the payload could not be read as a NotificationTag.
type PendingNotification struct {
	ID     int
	FireAt time.Time
	Tag    *NotificationTag
}

func (p PendingNotification) IsExamReminder() bool {
	return p.Tag != nil && p.Tag.Type == TagExamReminder
}
