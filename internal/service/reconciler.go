package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tazhate/examtracker/internal/domain"
)

// NotificationBackend is the local notification system reminders are scheduled on.
type NotificationBackend interface {
	// CanDeliver reports whether the platform can show notifications at all.
	CanDeliver(ctx context.Context) bool
	Schedule(ctx context.Context, n domain.ScheduledNotification) error
	Cancel(ctx context.Context, ids []int) error
	ListPending(ctx context.Context) ([]domain.PendingNotification, error)
}

// ReconcilePlan is the set of backend operations that converge pending onto required.
type ReconcilePlan struct {
	ToCancel   []int
	ToSchedule []domain.RequiredNotification
}

func (p ReconcilePlan) IsEmpty() bool {
	return len(p.ToCancel) == 0 && len(p.ToSchedule) == 0
}

// Diff compares the desired reminders with what the backend holds.
// Pending notifications without the exam reminder tag are never cancelled.
func Diff(required []domain.RequiredNotification, pending []domain.PendingNotification) ReconcilePlan {
	requiredIDs := make(map[int]bool, len(required))
	for _, r := range required {
		requiredIDs[r.ID] = true
	}

	pendingIDs := make(map[int]bool, len(pending))
	var plan ReconcilePlan
	for _, p := range pending {
		pendingIDs[p.ID] = true
		if p.IsExamReminder() && !requiredIDs[p.ID] {
			plan.ToCancel = append(plan.ToCancel, p.ID)
		}
	}

	for _, r := range required {
		if !pendingIDs[r.ID] {
			plan.ToSchedule = append(plan.ToSchedule, r)
		}
	}
	return plan
}

// ApplyResult counts what Apply did.
type ApplyResult struct {
	Cancelled int
	Scheduled int
	Failed    int
}

type Reconciler struct {
	backend NotificationBackend
	log     logrus.FieldLogger
}

func NewReconciler(backend NotificationBackend, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{backend: backend, log: log}
}

// Apply cancels first, in one call, then schedules each missing reminder.
// A failed cancel aborts; a failed schedule only skips that reminder.
func (r *Reconciler) Apply(ctx context.Context, plan ReconcilePlan) (ApplyResult, error) {
	var result ApplyResult

	if len(plan.ToCancel) > 0 {
		if err := r.backend.Cancel(ctx, plan.ToCancel); err != nil {
			return result, fmt.Errorf("cancel notifications: %w", err)
		}
		result.Cancelled = len(plan.ToCancel)
	}

	for _, req := range plan.ToSchedule {
		if err := r.backend.Schedule(ctx, BuildNotification(req)); err != nil {
			r.log.WithFields(logrus.Fields{
				"notification_id": req.ID,
				"exam_id":         req.ExamID,
			}).WithError(err).Warn("Failed to schedule exam reminder")
			result.Failed++
			continue
		}
		result.Scheduled++
	}

	return result, nil
}

// ClearAll cancels every pending exam reminder and returns how many there were.
func (r *Reconciler) ClearAll(ctx context.Context) (int, error) {
	pending, err := r.backend.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending notifications: %w", err)
	}

	var ids []int
	for _, p := range pending {
		if p.IsExamReminder() {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := r.backend.Cancel(ctx, ids); err != nil {
		return 0, fmt.Errorf("cancel notifications: %w", err)
	}
	return len(ids), nil
}

// CountScheduled returns the number of pending exam reminders.
func (r *Reconciler) CountScheduled(ctx context.Context) (int, error) {
	pending, err := r.backend.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending notifications: %w", err)
	}

	count := 0
	for _, p := range pending {
		if p.IsExamReminder() {
			count++
		}
	}
	return count, nil
}

// BuildNotification renders the title, body and tag for a reminder.
func BuildNotification(req domain.RequiredNotification) domain.ScheduledNotification {
	return domain.ScheduledNotification{
		ID:     req.ID,
		FireAt: req.ReminderDate,
		Title:  "📚 Exam reminder",
		Body:   fmt.Sprintf("%s is %s", req.ExamName, whenText(req.ReminderDays)),
		Tag: domain.NotificationTag{
			Type:     domain.TagExamReminder,
			ExamID:   req.ExamID,
			ExamName: req.ExamName,
		},
	}
}

func whenText(days int) string {
	switch days {
	case 0:
		return "today"
	case 1:
		return "tomorrow"
	default:
		return fmt.Sprintf("in %d days", days)
	}
}
