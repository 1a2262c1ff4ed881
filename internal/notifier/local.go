package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/tazhate/examtracker/internal/domain"
	"github.com/tazhate/examtracker/internal/metrics"
	"github.com/tazhate/examtracker/internal/storage"
)

type MessageSender interface {
	SendMessage(chatID int64, text string) error
}

// LocalBackend stores pending notifications in SQLite. A Dispatcher
// delivers them through Telegram once they are due.
type LocalBackend struct {
	storage *storage.Storage
	sender  MessageSender
	chatID  int64
	now     func() time.Time
}

func NewLocalBackend(s *storage.Storage, chatID int64) *LocalBackend {
	return &LocalBackend{storage: s, chatID: chatID, now: time.Now}
}

func (b *LocalBackend) SetClock(now func() time.Time) {
	b.now = now
}

func (b *LocalBackend) SetSender(sender MessageSender) {
	b.sender = sender
}

// CanDeliver is false until there is a sender and a chat to send to.
func (b *LocalBackend) CanDeliver(_ context.Context) bool {
	return b.sender != nil && b.chatID != 0
}

func (b *LocalBackend) Schedule(ctx context.Context, n domain.ScheduledNotification) error {
	payload, err := json.Marshal(n.Tag)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	return b.storage.UpsertPendingNotification(ctx, storage.PendingNotificationRow{
		ID:      n.ID,
		FireAt:  n.FireAt,
		Title:   n.Title,
		Body:    n.Body,
		Payload: string(payload),
	})
}

func (b *LocalBackend) Cancel(ctx context.Context, ids []int) error {
	return b.storage.DeletePendingNotifications(ctx, ids)
}

// ListPending reports notifications that have not fired yet. Due rows are
// left out so a pass never cancels one the dispatcher still has to send.
func (b *LocalBackend) ListPending(ctx context.Context) ([]domain.PendingNotification, error) {
	rows, err := b.storage.ListUpcomingPendingNotifications(ctx, b.now())
	if err != nil {
		return nil, err
	}

	result := make([]domain.PendingNotification, 0, len(rows))
	for _, r := range rows {
		result = append(result, domain.PendingNotification{
			ID:     r.ID,
			FireAt: r.FireAt,
			Tag:    decodeTag(r.Payload),
		})
	}
	return result, nil
}

// decodeTag returns nil for payloads written by anything other than the reminder engine.
func decodeTag(payload string) *domain.NotificationTag {
	if payload == "" {
		return nil
	}
	var tag domain.NotificationTag
	if err := json.Unmarshal([]byte(payload), &tag); err != nil || tag.Type == "" {
		return nil
	}
	return &tag
}

// Dispatcher fires due local notifications on a cron schedule.
type Dispatcher struct {
	cron    *cron.Cron
	spec    string
	storage *storage.Storage
	sender  MessageSender
	chatID  int64
	now     func() time.Time
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

func NewDispatcher(s *storage.Storage, sender MessageSender, chatID int64, spec string, tz *time.Location, log logrus.FieldLogger) *Dispatcher {
	if tz == nil {
		tz = time.UTC
	}
	return &Dispatcher{
		cron:    cron.New(cron.WithLocation(tz)),
		spec:    spec,
		storage: s,
		sender:  sender,
		chatID:  chatID,
		now:     time.Now,
		log:     log.WithField("component", "dispatcher"),
	}
}

func (d *Dispatcher) SetMetrics(m *metrics.Metrics) {
	d.metrics = m
}

func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

func (d *Dispatcher) Start(ctx context.Context) error {
	if _, err := d.cron.AddFunc(d.spec, func() { d.DispatchDue(ctx) }); err != nil {
		return fmt.Errorf("add dispatch job: %w", err)
	}
	d.cron.Start()
	d.log.WithField("spec", d.spec).Info("Dispatcher started")
	return nil
}

func (d *Dispatcher) Stop() {
	ctx := d.cron.Stop()
	<-ctx.Done()
	d.log.Info("Dispatcher stopped")
}

// DispatchDue sends every due notification and removes the ones that went out.
// Failed sends stay pending and are retried on the next run.
func (d *Dispatcher) DispatchDue(ctx context.Context) int {
	due, err := d.storage.ListDuePendingNotifications(ctx, d.now())
	if err != nil {
		d.log.WithError(err).Error("Error getting due notifications")
		return 0
	}

	var sent []int
	for _, n := range due {
		text := fmt.Sprintf("🔔 <b>%s</b>\n\n%s", html.EscapeString(n.Title), html.EscapeString(n.Body))
		if err := d.sender.SendMessage(d.chatID, text); err != nil {
			d.log.WithField("notification_id", n.ID).WithError(err).Warn("Error sending notification")
			d.metrics.ObserveDelivery(false)
			continue
		}
		d.metrics.ObserveDelivery(true)
		sent = append(sent, n.ID)
	}

	if err := d.storage.DeletePendingNotifications(ctx, sent); err != nil {
		d.log.WithError(err).Error("Error removing delivered notifications")
	}
	return len(sent)
}
