package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazhate/examtracker/internal/domain"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExamRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	date := time.Date(2026, 12, 1, 10, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	exam := &domain.Exam{Name: "Algebra", Subject: "Math", Date: date, Notes: "bring calculator"}
	require.NoError(t, s.CreateExam(ctx, exam))
	require.NotEmpty(t, exam.ID)

	got, err := s.GetExam(ctx, exam.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Algebra", got.Name)
	assert.Equal(t, "bring calculator", got.Notes)
	assert.True(t, got.Date.Equal(date))
	assert.Equal(t, date.Unix(), got.Date.Unix())

	missing, err := s.GetExam(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestExamMutations(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	exam := &domain.Exam{Name: "Physics", Date: time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)}
	require.NoError(t, s.CreateExam(ctx, exam))

	require.NoError(t, s.SetExamCompleted(ctx, exam.ID, true))
	got, err := s.GetExam(ctx, exam.ID)
	require.NoError(t, err)
	assert.True(t, got.IsCompleted)

	require.NoError(t, s.SetExamCompleted(ctx, exam.ID, false))
	require.NoError(t, s.SetExamGrade(ctx, exam.ID, 4.5))
	got, err = s.GetExam(ctx, exam.ID)
	require.NoError(t, err)
	assert.True(t, got.IsCompleted)
	require.NotNil(t, got.Grade)
	assert.Equal(t, 4.5, *got.Grade)

	require.NoError(t, s.DeleteExam(ctx, exam.ID))
	assert.ErrorIs(t, s.DeleteExam(ctx, exam.ID), domain.ErrExamNotFound)
	assert.ErrorIs(t, s.SetExamCompleted(ctx, exam.ID, true), domain.ErrExamNotFound)
	assert.ErrorIs(t, s.SetExamGrade(ctx, exam.ID, 3), domain.ErrExamNotFound)
}

func TestFetchAllExamsOrderedByDate(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	base := time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)
	for _, e := range []*domain.Exam{
		{Name: "third", Date: base.AddDate(0, 0, 10)},
		{Name: "first", Date: base},
		{Name: "second", Date: base.AddDate(0, 0, 1)},
	} {
		require.NoError(t, s.CreateExam(ctx, e))
	}

	exams, err := s.FetchAllExams(ctx)
	require.NoError(t, err)
	require.Len(t, exams, 3)
	assert.Equal(t, "first", exams[0].Name)
	assert.Equal(t, "second", exams[1].Name)
	assert.Equal(t, "third", exams[2].Name)
}

func TestNotificationSettings(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	got, err := s.GetNotificationSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultNotificationSettings(), *got)

	custom := domain.NotificationSettings{ReminderDays: 3, ReminderTime: domain.ClockTime{Hour: 20, Minute: 15}}
	s.SetDefaultSettings(custom)
	got, err = s.GetNotificationSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, custom, *got)

	saved := domain.NotificationSettings{Enabled: true, ReminderDays: 2, ReminderTime: domain.ClockTime{Hour: 7}, AutoSchedulingEnabled: false}
	require.NoError(t, s.SaveNotificationSettings(ctx, saved))
	saved.ReminderDays = 4
	require.NoError(t, s.SaveNotificationSettings(ctx, saved))

	got, err = s.GetNotificationSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved, *got)
}

func TestPendingNotifications(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	msk := time.FixedZone("MSK", 3*3600)

	require.NoError(t, s.UpsertPendingNotification(ctx, PendingNotificationRow{ID: 1, FireAt: now.Add(-time.Minute), Title: "past"}))
	// 14:30 MSK is 11:30 UTC, due even though its wall clock reads later than now
	require.NoError(t, s.UpsertPendingNotification(ctx, PendingNotificationRow{ID: 2, FireAt: time.Date(2026, 10, 15, 14, 30, 0, 0, msk), Title: "zoned"}))
	require.NoError(t, s.UpsertPendingNotification(ctx, PendingNotificationRow{ID: 3, FireAt: now.Add(time.Hour), Title: "future", Payload: `{"type":"exam_reminder"}`}))

	all, err := s.ListUpcomingPendingNotifications(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int{2, 1, 3}, []int{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, `{"type":"exam_reminder"}`, all[2].Payload)

	due, err := s.ListDuePendingNotifications(ctx, now.In(msk))
	require.NoError(t, err)
	require.Len(t, due, 2)

	upcoming, err := s.ListUpcomingPendingNotifications(ctx, now.In(msk))
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, 3, upcoming[0].ID)

	// Upsert replaces by id
	require.NoError(t, s.UpsertPendingNotification(ctx, PendingNotificationRow{ID: 3, FireAt: now.Add(2 * time.Hour), Title: "moved"}))
	all, err = s.ListUpcomingPendingNotifications(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "moved", all[2].Title)

	require.NoError(t, s.DeletePendingNotifications(ctx, []int{1, 2, 99}))
	require.NoError(t, s.DeletePendingNotifications(ctx, nil))
	all, err = s.ListUpcomingPendingNotifications(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 3, all[0].ID)
}
