package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tazhate/examtracker/config"
	"github.com/tazhate/examtracker/internal/domain"
	"github.com/tazhate/examtracker/internal/lifecycle"
	"github.com/tazhate/examtracker/internal/metrics"
	"github.com/tazhate/examtracker/internal/service"
)

type SettingsProvider interface {
	GetNotificationSettings(ctx context.Context) (*domain.NotificationSettings, error)
}

type ExamProvider interface {
	FetchAllExams(ctx context.Context) ([]*domain.Exam, error)
}

// LifecycleSource reports when the application comes to the foreground.
type LifecycleSource interface {
	Subscribe() (<-chan lifecycle.Event, func())
}

type Trigger string

const (
	TriggerStart    Trigger = "start"
	TriggerTick     Trigger = "tick"
	TriggerResume   Trigger = "resume"
	TriggerManual   Trigger = "manual"
	TriggerReset    Trigger = "reset"
	TriggerSettings Trigger = "settings"
	TriggerExams    Trigger = "exams"
)

// automatic triggers only run while auto scheduling is enabled.
func (t Trigger) automatic() bool {
	switch t {
	case TriggerStart, TriggerTick, TriggerResume, TriggerExams:
		return true
	}
	return false
}

// SyncResult describes one scheduling check.
type SyncResult struct {
	Trigger   Trigger
	Skipped   bool // suppressed by the rate gate or auto scheduling being off
	Disabled  bool // reminders off or backend unable to deliver; pending reminders cleared
	Required  int
	Scheduled int
	Cancelled int
	Failed    int
}

// Scheduler keeps the notification backend converged on the reminders
// that current exams and settings call for. Every trigger ends up in
// performSchedulingCheck; passes never overlap.
type Scheduler struct {
	settings   SettingsProvider
	exams      ExamProvider
	backend    service.NotificationBackend
	reconciler *service.Reconciler
	lifecycle  LifecycleSource

	interval time.Duration
	limiter  *rate.Limiter
	now      func() time.Time
	location *time.Location
	log      logrus.FieldLogger
	metrics  *metrics.Metrics

	gateMu sync.Mutex
	passMu sync.Mutex

	mu       sync.Mutex
	running  bool
	starting bool
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(cfg *config.Config, settings SettingsProvider, exams ExamProvider, backend service.NotificationBackend, log logrus.FieldLogger) *Scheduler {
	location := cfg.Timezone
	if location == nil {
		location = time.UTC
	}

	return &Scheduler{
		settings:   settings,
		exams:      exams,
		backend:    backend,
		reconciler: service.NewReconciler(backend, log),
		interval:   cfg.CheckInterval,
		limiter:    rate.NewLimiter(rate.Every(cfg.MinCheckInterval), 1),
		now:        time.Now,
		location:   location,
		log:        log.WithField("component", "scheduler"),
	}
}

func (s *Scheduler) SetLifecycle(source LifecycleSource) {
	s.lifecycle = source
}

func (s *Scheduler) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetClock replaces the time source used for the rate gate and planning.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Start runs one pass right away, then keeps reacting to the ticker and
// lifecycle events until Stop or ctx is done. Calling Start on a running
// scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running || s.starting {
		s.mu.Unlock()
		return nil
	}
	if s.interval <= 0 {
		s.mu.Unlock()
		return fmt.Errorf("check interval must be positive, got %s", s.interval)
	}
	s.starting = true
	s.mu.Unlock()

	// The first pass does backend I/O, so it runs without holding mu
	s.trigger(ctx, TriggerStart)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false

	loopCtx, cancel := context.WithCancel(ctx)
	var events <-chan lifecycle.Event
	unsubscribe := func() {}
	if s.lifecycle != nil {
		events, unsubscribe = s.lifecycle.Subscribe()
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(loopCtx, events, unsubscribe, s.done)

	s.log.WithFields(logrus.Fields{
		"interval": s.interval,
		"tz":       s.location.String(),
	}).Info("Scheduler started")
	return nil
}

// Stop ends the loop. Scheduled reminders stay where they are.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.log.Info("Scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, events <-chan lifecycle.Event, unsubscribe func(), done chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		unsubscribe()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.trigger(ctx, TriggerTick)
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if e == lifecycle.Foreground {
				s.trigger(ctx, TriggerResume)
			}
		}
	}
}

// trigger runs a check for a source nobody waits on, so errors end here.
func (s *Scheduler) trigger(ctx context.Context, t Trigger) {
	if _, err := s.performSchedulingCheck(ctx, t); err != nil {
		s.log.WithField("trigger", t).WithError(err).Error("Scheduling check failed")
	}
}

// ManualSync runs a check on behalf of the user and reports failures.
func (s *Scheduler) ManualSync(ctx context.Context) (*SyncResult, error) {
	return s.performSchedulingCheck(ctx, TriggerManual)
}

// ResetAndRescheduleAll ignores the rate gate, clears every pending exam
// reminder and schedules the current set from scratch.
func (s *Scheduler) ResetAndRescheduleAll(ctx context.Context) (*SyncResult, error) {
	return s.reset(ctx, TriggerReset)
}

// OnSettingsChanged reschedules everything: ids do not depend on the
// reminder time, so a plain diff would keep reminders at the old time.
func (s *Scheduler) OnSettingsChanged(ctx context.Context) error {
	_, err := s.reset(ctx, TriggerSettings)
	return err
}

// OnExamsChanged runs a gated check after exams were added, edited or removed.
// A skipped check is caught up by the next tick.
func (s *Scheduler) OnExamsChanged(ctx context.Context) {
	s.trigger(ctx, TriggerExams)
}

func (s *Scheduler) reset(ctx context.Context, t Trigger) (*SyncResult, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	started := time.Now()
	settings, err := s.readSettings(ctx)
	if err != nil {
		s.observe(t, "error", started)
		return nil, err
	}

	cleared, err := s.reconciler.ClearAll(ctx)
	if err != nil {
		s.observe(t, "error", started)
		return nil, fmt.Errorf("clear notifications: %w", err)
	}
	s.metrics.AddApplied(0, cleared, 0)
	s.log.WithFields(logrus.Fields{"trigger": t, "cleared": cleared}).Info("Cleared exam reminders")

	result, err := s.runPassLocked(ctx, t, settings)
	if err != nil {
		s.observe(t, "error", started)
		return nil, err
	}
	result.Cancelled += cleared
	s.observe(t, outcomeOf(result), started)
	return result, nil
}

func (s *Scheduler) performSchedulingCheck(ctx context.Context, t Trigger) (*SyncResult, error) {
	now := s.now()
	reservation, ok := s.reserve(now)
	if !ok {
		s.log.WithField("trigger", t).Debug("Scheduling check skipped, ran too recently")
		s.metrics.ObservePass(string(t), "skipped", 0)
		return &SyncResult{Trigger: t, Skipped: true}, nil
	}

	s.passMu.Lock()
	defer s.passMu.Unlock()

	started := time.Now()
	settings, err := s.readSettings(ctx)
	if err != nil {
		s.observe(t, "error", started)
		return nil, err
	}

	if t.automatic() && !settings.AutoSchedulingEnabled {
		// Nothing ran, so the slot goes back to the next trigger
		reservation.CancelAt(now)
		s.log.WithField("trigger", t).Debug("Auto scheduling disabled, skipping")
		s.observe(t, "skipped", started)
		return &SyncResult{Trigger: t, Skipped: true}, nil
	}

	result, err := s.runPassLocked(ctx, t, settings)
	if err != nil {
		s.observe(t, "error", started)
		return nil, err
	}
	s.observe(t, outcomeOf(result), started)
	return result, nil
}

// reserve takes the rate gate slot if one is free. Reservations are only
// made when a token is available, so they never carry a delay.
func (s *Scheduler) reserve(now time.Time) (*rate.Reservation, bool) {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()

	if s.limiter.TokensAt(now) < 1 {
		return nil, false
	}
	return s.limiter.ReserveN(now, 1), true
}

// readSettings runs before anything touches the backend, so a failed read
// leaves pending reminders as they are.
func (s *Scheduler) readSettings(ctx context.Context) (*domain.NotificationSettings, error) {
	settings, err := s.settings.GetNotificationSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("get notification settings: %w", err)
	}
	return settings, nil
}

// runPassLocked does one plan, diff and apply cycle. Callers hold passMu.
func (s *Scheduler) runPassLocked(ctx context.Context, t Trigger, settings *domain.NotificationSettings) (*SyncResult, error) {
	log := s.log.WithField("trigger", t)
	result := &SyncResult{Trigger: t}

	if !settings.Enabled || !s.backend.CanDeliver(ctx) {
		cleared, err := s.reconciler.ClearAll(ctx)
		if err != nil {
			return nil, err
		}
		s.metrics.AddApplied(0, cleared, 0)
		result.Disabled = true
		result.Cancelled = cleared
		log.WithFields(logrus.Fields{
			"enabled": settings.Enabled,
			"cleared": cleared,
		}).Info("Exam reminders disabled or undeliverable, cleared pending")
		return result, nil
	}

	exams, err := s.exams.FetchAllExams(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch exams: %w", err)
	}

	required := service.PlanReminders(exams, *settings, s.now().In(s.location))
	result.Required = len(required)

	pending, err := s.backend.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}

	plan := service.Diff(required, pending)
	if plan.IsEmpty() {
		log.WithField("required", len(required)).Debug("Exam reminders up to date")
		return result, nil
	}

	applied, err := s.reconciler.Apply(ctx, plan)
	result.Scheduled = applied.Scheduled
	result.Cancelled = applied.Cancelled
	result.Failed = applied.Failed
	s.metrics.AddApplied(applied.Scheduled, applied.Cancelled, applied.Failed)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"required":  result.Required,
		"scheduled": result.Scheduled,
		"cancelled": result.Cancelled,
		"failed":    result.Failed,
	}).Info("Exam reminders reconciled")
	return result, nil
}

// UpcomingExamCount counts incomplete exams that are still ahead.
func (s *Scheduler) UpcomingExamCount(ctx context.Context) (int, error) {
	exams, err := s.exams.FetchAllExams(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch exams: %w", err)
	}

	now := s.now()
	count := 0
	for _, e := range exams {
		if e.IsUpcoming(now) {
			count++
		}
	}
	return count, nil
}

// ScheduledNotificationCount counts pending exam reminders only.
func (s *Scheduler) ScheduledNotificationCount(ctx context.Context) (int, error) {
	return s.reconciler.CountScheduled(ctx)
}

func (s *Scheduler) observe(t Trigger, outcome string, started time.Time) {
	s.metrics.ObservePass(string(t), outcome, time.Since(started).Seconds())
}

func outcomeOf(r *SyncResult) string {
	switch {
	case r.Skipped:
		return "skipped"
	case r.Disabled:
		return "disabled"
	case r.Failed > 0:
		return "partial"
	default:
		return "ok"
	}
}
