package domain

import (
	"errors"
	"time"
)

var ErrExamNotFound = errors.New("exam not found")

type Exam struct {
	ID          string
	Name        string
	Subject     string
	Date        time.Time
	IsCompleted bool
	Grade       *float64
	Notes       string
	CreatedAt   time.Time
}

// IsUpcoming reports whether the exam is still ahead and not yet completed.
func (e *Exam) IsUpcoming(now time.Time) bool {
	return !e.IsCompleted && e.Date.After(now)
}

// DaysUntil returns whole days until the exam (negative if it is in the past)
func (e *Exam) DaysUntil(now time.Time) int {
	return int(e.Date.Sub(now).Hours() / 24)
}

func (e *Exam) StatusEmoji(now time.Time) string {
	switch {
	case e.IsCompleted:
		return "✅"
	case !e.Date.After(now):
		return "⌛"
	case e.DaysUntil(now) <= 3:
		return "🔴"
	case e.DaysUntil(now) <= 14:
		return "🟡"
	default:
		return "🟢"
	}
}
