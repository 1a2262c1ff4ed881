package notifier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tazhate/examtracker/internal/clients/caldav"
	"github.com/tazhate/examtracker/internal/domain"
)

// X- properties that carry the notification tag on calendar events.
const (
	propKind     = "X-EXAMTRACKER-KIND"
	propID       = "X-EXAMTRACKER-NOTIFICATION-ID"
	propExamID   = "X-EXAMTRACKER-EXAM-ID"
	propExamName = "X-EXAMTRACKER-EXAM-NAME"

	uidPrefix = "exam-reminder-"
	uidSuffix = "@examtracker"

	// How far ahead ListPending looks for reminder events
	lookahead = 2 * 365 * 24 * time.Hour
)

// CalendarClient is the part of the CalDAV client the backend needs.
type CalendarClient interface {
	IsConfigured() bool
	GetEvents(ctx context.Context, from, to time.Time) ([]caldav.Event, error)
	PutEvent(ctx context.Context, event *caldav.Event) error
	DeleteEvent(ctx context.Context, eventUID string) error
}

// CalDAVBackend turns reminders into calendar events with a display alarm,
// so the phone's calendar app delivers them. An event counts as pending
// until its start time has passed.
type CalDAVBackend struct {
	client CalendarClient
	now    func() time.Time
}

func NewCalDAVBackend(client CalendarClient) *CalDAVBackend {
	return &CalDAVBackend{client: client, now: time.Now}
}

func (b *CalDAVBackend) CanDeliver(_ context.Context) bool {
	return b.client != nil && b.client.IsConfigured()
}

func (b *CalDAVBackend) Schedule(ctx context.Context, n domain.ScheduledNotification) error {
	return b.client.PutEvent(ctx, reminderEvent(n))
}

// Cancel deletes every event it can and reports all failures together.
func (b *CalDAVBackend) Cancel(ctx context.Context, ids []int) error {
	var errs []error
	for _, id := range ids {
		if err := b.client.DeleteEvent(ctx, reminderUID(id)); err != nil {
			errs = append(errs, fmt.Errorf("notification %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (b *CalDAVBackend) ListPending(ctx context.Context) ([]domain.PendingNotification, error) {
	now := b.now()
	events, err := b.client.GetEvents(ctx, now, now.Add(lookahead))
	if err != nil {
		return nil, err
	}

	var result []domain.PendingNotification
	for _, e := range events {
		if !e.StartTime.After(now) {
			continue
		}
		if p, ok := pendingFromEvent(e); ok {
			result = append(result, p)
		}
	}
	return result, nil
}

func reminderUID(id int) string {
	return fmt.Sprintf("%s%d%s", uidPrefix, id, uidSuffix)
}

func reminderEvent(n domain.ScheduledNotification) *caldav.Event {
	return &caldav.Event{
		UID:         reminderUID(n.ID),
		Summary:     n.Title + ": " + n.Tag.ExamName,
		Description: n.Body,
		StartTime:   n.FireAt,
		EndTime:     n.FireAt.Add(15 * time.Minute),
		Reminders:   []caldav.Reminder{{MinutesBefore: 0}},
		Extra: map[string]string{
			propKind:     n.Tag.Type,
			propID:       strconv.Itoa(n.ID),
			propExamID:   n.Tag.ExamID,
			propExamName: n.Tag.ExamName,
		},
	}
}

// pendingFromEvent recovers the id from the notification id property, or
// from the UID for events created by us. Other events are untagged.
func pendingFromEvent(e caldav.Event) (domain.PendingNotification, bool) {
	idStr, ok := e.Extra[propID]
	if !ok {
		if !strings.HasPrefix(e.UID, uidPrefix) || !strings.HasSuffix(e.UID, uidSuffix) {
			return domain.PendingNotification{}, false
		}
		idStr = strings.TrimSuffix(strings.TrimPrefix(e.UID, uidPrefix), uidSuffix)
	}

	id, err := strconv.Atoi(idStr)
	if err != nil {
		return domain.PendingNotification{}, false
	}

	p := domain.PendingNotification{ID: id, FireAt: e.StartTime}
	if kind := e.Extra[propKind]; kind != "" {
		p.Tag = &domain.NotificationTag{
			Type:     kind,
			ExamID:   e.Extra[propExamID],
			ExamName: e.Extra[propExamName],
		}
	}
	return p, true
}
