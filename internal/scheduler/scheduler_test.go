package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazhate/examtracker/config"
	"github.com/tazhate/examtracker/internal/domain"
	"github.com/tazhate/examtracker/internal/lifecycle"
	"github.com/tazhate/examtracker/internal/metrics"
	"github.com/tazhate/examtracker/internal/notifier"
	"github.com/tazhate/examtracker/internal/service"
	"github.com/tazhate/examtracker/internal/storage"
)

var t0 = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeSettings struct {
	mu       sync.Mutex
	settings domain.NotificationSettings
	err      error
	reads    atomic.Int32
}

func (f *fakeSettings) GetNotificationSettings(_ context.Context) (*domain.NotificationSettings, error) {
	f.reads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := f.settings
	return &s, nil
}

func (f *fakeSettings) Set(fn func(*domain.NotificationSettings)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.settings)
}

func (f *fakeSettings) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeExams struct {
	mu    sync.Mutex
	exams []*domain.Exam
}

func (f *fakeExams) FetchAllExams(_ context.Context) ([]*domain.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.Exam(nil), f.exams...), nil
}

func (f *fakeExams) Add(e *domain.Exam) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exams = append(f.exams, e)
}

type fixture struct {
	sched    *Scheduler
	clock    *fakeClock
	settings *fakeSettings
	exams    *fakeExams
	backend  *notifier.MemoryBackend
}

func newFixture(t *testing.T, exams ...*domain.Exam) *fixture {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	f := &fixture{
		clock:    &fakeClock{now: t0},
		settings: &fakeSettings{settings: domain.DefaultNotificationSettings()},
		exams:    &fakeExams{exams: exams},
		backend:  notifier.NewMemoryBackend(),
	}
	cfg := &config.Config{Timezone: time.UTC, CheckInterval: time.Hour, MinCheckInterval: 30 * time.Second}
	f.sched = New(cfg, f.settings, f.exams, f.backend, log)
	f.sched.SetClock(f.clock.Now)
	f.sched.SetMetrics(metrics.New())
	t.Cleanup(f.sched.Stop)
	return f
}

func (f *fixture) pendingIDs(t *testing.T) []int {
	t.Helper()
	pending, err := f.backend.ListPending(context.Background())
	require.NoError(t, err)
	var ids []int
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	return ids
}

func exam(id string, in time.Duration) *domain.Exam {
	return &domain.Exam{ID: id, Name: "Exam " + id, Date: t0.Add(in)}
}

func idOf(e *domain.Exam) int {
	return service.DeriveNotificationID(e.ID, e.Date)
}

func TestStartRunsImmediatePass(t *testing.T) {
	a := exam("A", 48*time.Hour)
	f := newFixture(t, a)

	require.NoError(t, f.sched.Start(context.Background()))
	assert.True(t, f.sched.IsRunning())

	n, ok := f.backend.Get(idOf(a))
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC), n.FireAt)
	assert.Equal(t, domain.TagExamReminder, n.Tag.Type)

	// Second Start is a no-op
	require.NoError(t, f.sched.Start(context.Background()))
	assert.Equal(t, int32(1), f.settings.reads.Load())
}

func TestStopKeepsNotifications(t *testing.T) {
	a := exam("A", 48*time.Hour)
	f := newFixture(t, a)

	require.NoError(t, f.sched.Start(context.Background()))
	f.sched.Stop()
	f.sched.Stop()

	assert.False(t, f.sched.IsRunning())
	assert.Equal(t, []int{idOf(a)}, f.pendingIDs(t))
}

func TestStartRejectsNonPositiveInterval(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	s := New(&config.Config{MinCheckInterval: time.Second}, &fakeSettings{}, &fakeExams{}, notifier.NewMemoryBackend(), log)

	assert.Error(t, s.Start(context.Background()))
	assert.False(t, s.IsRunning())
}

func TestRateGate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, exam("A", 48*time.Hour))

	res, err := f.sched.ManualSync(ctx)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.Scheduled)

	f.clock.Advance(10 * time.Second)
	res, err = f.sched.ManualSync(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	f.clock.Advance(21 * time.Second)
	res, err = f.sched.ManualSync(ctx)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Zero(t, res.Scheduled)

	assert.Equal(t, int32(2), f.settings.reads.Load())
}

func TestConcurrentTriggersRunOnce(t *testing.T) {
	f := newFixture(t, exam("A", 48*time.Hour), exam("B", 72*time.Hour))

	var wg sync.WaitGroup
	var ran atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.sched.ManualSync(context.Background())
			if assert.NoError(t, err) && !res.Skipped {
				ran.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ran.Load())
	assert.Equal(t, int32(1), f.settings.reads.Load())
	assert.Len(t, f.pendingIDs(t), 2)
}

func TestResetBypassesGate(t *testing.T) {
	ctx := context.Background()
	a := exam("A", 48*time.Hour)
	f := newFixture(t, a)

	_, err := f.sched.ManualSync(ctx)
	require.NoError(t, err)

	res, err := f.sched.ResetAndRescheduleAll(ctx)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.Cancelled)
	assert.Equal(t, 1, res.Scheduled)
	assert.Equal(t, []int{idOf(a)}, f.pendingIDs(t))
}

func TestStaleReminderReplaced(t *testing.T) {
	ctx := context.Background()
	a := exam("A", 48*time.Hour)
	b := exam("B", 96*time.Hour)
	f := newFixture(t, a)
	f.backend.AddForeign(domain.PendingNotification{ID: 1_000_001, Tag: &domain.NotificationTag{Type: "habit"}})
	require.NoError(t, f.backend.Schedule(ctx, service.BuildNotification(domain.RequiredNotification{
		ID: idOf(b), ExamID: "B", ReminderDate: t0.Add(72 * time.Hour),
	})))

	res, err := f.sched.ManualSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Required)
	assert.Equal(t, 1, res.Scheduled)
	assert.Equal(t, 1, res.Cancelled)

	ids := f.pendingIDs(t)
	assert.Contains(t, ids, idOf(a))
	assert.Contains(t, ids, 1_000_001)
	assert.NotContains(t, ids, idOf(b))
}

func TestDisabledSettingsClearReminders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, exam("A", 48*time.Hour), exam("B", 72*time.Hour))
	f.backend.AddForeign(domain.PendingNotification{ID: 1_000_001})

	_, err := f.sched.ManualSync(ctx)
	require.NoError(t, err)
	require.Len(t, f.pendingIDs(t), 3)

	f.settings.Set(func(s *domain.NotificationSettings) { s.Enabled = false })
	f.clock.Advance(time.Minute)

	res, err := f.sched.ManualSync(ctx)
	require.NoError(t, err)
	assert.True(t, res.Disabled)
	assert.Equal(t, 2, res.Cancelled)
	assert.Equal(t, []int{1_000_001}, f.pendingIDs(t))

	count, err := f.sched.ScheduledNotificationCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUndeliverableBackendClearsReminders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, exam("A", 48*time.Hour))

	_, err := f.sched.ManualSync(ctx)
	require.NoError(t, err)

	f.backend.SetDeliverable(false)
	f.clock.Advance(time.Minute)

	res, err := f.sched.ManualSync(ctx)
	require.NoError(t, err)
	assert.True(t, res.Disabled)
	assert.Empty(t, f.pendingIDs(t))
}

func TestSettingsErrorLeavesBackendAlone(t *testing.T) {
	ctx := context.Background()
	a := exam("A", 48*time.Hour)
	f := newFixture(t, a)

	_, err := f.sched.ManualSync(ctx)
	require.NoError(t, err)

	f.settings.Fail(errors.New("db locked"))
	f.clock.Advance(time.Minute)

	_, err = f.sched.ManualSync(ctx)
	assert.Error(t, err)
	_, err = f.sched.ResetAndRescheduleAll(ctx)
	assert.Error(t, err)
	assert.Error(t, f.sched.OnSettingsChanged(ctx))

	assert.Equal(t, []int{idOf(a)}, f.pendingIDs(t))
}

func TestAutoSchedulingOffSkipsAutomaticTriggers(t *testing.T) {
	ctx := context.Background()
	a := exam("A", 48*time.Hour)
	f := newFixture(t, a)
	f.settings.Set(func(s *domain.NotificationSettings) { s.AutoSchedulingEnabled = false })

	require.NoError(t, f.sched.Start(ctx))
	assert.Empty(t, f.pendingIDs(t))

	f.clock.Advance(time.Minute)
	res, err := f.sched.ManualSync(ctx)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, []int{idOf(a)}, f.pendingIDs(t))
}

func TestForegroundTriggersPass(t *testing.T) {
	ctx := context.Background()
	a := exam("A", 48*time.Hour)
	f := newFixture(t, a)
	hub := lifecycle.NewHub()
	f.sched.SetLifecycle(hub)

	require.NoError(t, f.sched.Start(ctx))
	require.Equal(t, 1, hub.Subscribers())

	b := exam("B", 72*time.Hour)
	f.exams.Add(b)
	f.clock.Advance(time.Minute)

	hub.Publish(lifecycle.Foreground)

	assert.Eventually(t, func() bool {
		_, ok := f.backend.Get(idOf(b))
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	f.sched.Stop()
	assert.Equal(t, 0, hub.Subscribers())
}

func TestForegroundWithinGateIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, exam("A", 48*time.Hour))
	hub := lifecycle.NewHub()
	f.sched.SetLifecycle(hub)

	require.NoError(t, f.sched.Start(ctx))
	f.exams.Add(exam("B", 72*time.Hour))

	hub.Publish(lifecycle.Foreground)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(1), f.settings.reads.Load())
	assert.Len(t, f.pendingIDs(t), 1)
}

func TestOnSettingsChangedReschedulesAtNewTime(t *testing.T) {
	ctx := context.Background()
	a := exam("A", 72*time.Hour)
	f := newFixture(t, a)

	_, err := f.sched.ManualSync(ctx)
	require.NoError(t, err)

	f.settings.Set(func(s *domain.NotificationSettings) { s.ReminderTime = domain.ClockTime{Hour: 18, Minute: 45} })
	require.NoError(t, f.sched.OnSettingsChanged(ctx))

	n, ok := f.backend.Get(idOf(a))
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 10, 17, 18, 45, 0, 0, time.UTC), n.FireAt)
}

func TestCounts(t *testing.T) {
	ctx := context.Background()
	done := exam("C", 72*time.Hour)
	done.IsCompleted = true
	f := newFixture(t, exam("A", 48*time.Hour), exam("B", 12*time.Hour), done, exam("D", -time.Hour))
	f.backend.AddForeign(domain.PendingNotification{ID: 1_000_001})

	upcoming, err := f.sched.UpcomingExamCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, upcoming)

	_, err = f.sched.ManualSync(ctx)
	require.NoError(t, err)

	// B's reminder (this morning) has already passed
	scheduled, err := f.sched.ScheduledNotificationCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, scheduled)
}

func TestOnExamsChangedIsGated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, exam("A", 48*time.Hour))

	_, err := f.sched.ManualSync(ctx)
	require.NoError(t, err)

	b := exam("B", 72*time.Hour)
	f.exams.Add(b)
	f.sched.OnExamsChanged(ctx)
	_, ok := f.backend.Get(idOf(b))
	assert.False(t, ok)

	f.clock.Advance(31 * time.Second)
	f.sched.OnExamsChanged(ctx)
	_, ok = f.backend.Get(idOf(b))
	assert.True(t, ok)
}

func TestAutoSchedulingOffLeavesGateForManualSync(t *testing.T) {
	ctx := context.Background()
	a := exam("A", 48*time.Hour)
	f := newFixture(t, a)
	f.settings.Set(func(s *domain.NotificationSettings) { s.AutoSchedulingEnabled = false })

	require.NoError(t, f.sched.Start(ctx))
	f.clock.Advance(5 * time.Second)
	f.sched.OnExamsChanged(ctx)
	assert.Empty(t, f.pendingIDs(t))

	res, err := f.sched.ManualSync(ctx)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, []int{idOf(a)}, f.pendingIDs(t))

	// A pass that actually ran keeps its slot
	f.clock.Advance(5 * time.Second)
	res, err = f.sched.ManualSync(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

type blockingBackend struct {
	*notifier.MemoryBackend
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *blockingBackend) CanDeliver(ctx context.Context) bool {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.MemoryBackend.CanDeliver(ctx)
}

func TestStartDoesNotBlockStateDuringFirstPass(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	a := exam("A", 48*time.Hour)
	backend := &blockingBackend{
		MemoryBackend: notifier.NewMemoryBackend(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	cfg := &config.Config{Timezone: time.UTC, CheckInterval: time.Hour, MinCheckInterval: 30 * time.Second}
	sched := New(cfg, &fakeSettings{settings: domain.DefaultNotificationSettings()}, &fakeExams{exams: []*domain.Exam{a}}, backend, log)
	sched.SetClock((&fakeClock{now: t0}).Now)
	t.Cleanup(sched.Stop)

	started := make(chan error, 1)
	go func() { started <- sched.Start(context.Background()) }()
	<-backend.entered

	polled := make(chan bool, 1)
	go func() { polled <- sched.IsRunning() }()
	select {
	case running := <-polled:
		assert.False(t, running)
	case <-time.After(time.Second):
		close(backend.release)
		t.Fatal("IsRunning waited for the first pass")
	}

	// A second Start while the first is still in its pass does nothing
	require.NoError(t, sched.Start(context.Background()))

	close(backend.release)
	require.NoError(t, <-started)
	assert.True(t, sched.IsRunning())
	_, ok := backend.Get(idOf(a))
	assert.True(t, ok)
}

type flakySender struct {
	mu   sync.Mutex
	fail bool
	sent int
}

func (s *flakySender) SendMessage(_ int64, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("telegram unavailable")
	}
	s.sent++
	return nil
}

func (s *flakySender) SetFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func TestOverdueLocalReminderSurvivesTick(t *testing.T) {
	ctx := context.Background()
	log, _ := logtest.NewNullLogger()

	store, err := storage.New(filepath.Join(t.TempDir(), "scheduler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := &fakeClock{now: t0}
	sender := &flakySender{fail: true}

	backend := notifier.NewLocalBackend(store, 42)
	backend.SetSender(sender)
	backend.SetClock(clock.Now)
	dispatcher := notifier.NewDispatcher(store, sender, 42, "* * * * *", time.UTC, log)
	dispatcher.SetClock(clock.Now)

	a := exam("A", 48*time.Hour)
	cfg := &config.Config{Timezone: time.UTC, CheckInterval: time.Hour, MinCheckInterval: 30 * time.Second}
	sched := New(cfg, &fakeSettings{settings: domain.DefaultNotificationSettings()}, &fakeExams{exams: []*domain.Exam{a}}, backend, log)
	sched.SetClock(clock.Now)

	res, err := sched.ManualSync(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Scheduled)

	// Reminder fires 2026-10-16 09:00, the first delivery attempt fails
	clock.Advance(21*time.Hour + 30*time.Second)
	assert.Zero(t, dispatcher.DispatchDue(ctx))

	clock.Advance(40 * time.Second)
	res, err = sched.performSchedulingCheck(ctx, TriggerTick)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Zero(t, res.Cancelled)
	assert.Zero(t, res.Scheduled)

	sender.SetFail(false)
	assert.Equal(t, 1, dispatcher.DispatchDue(ctx))
	assert.Equal(t, 1, sender.sent)

	due, err := store.ListDuePendingNotifications(ctx, clock.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
}
