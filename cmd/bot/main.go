package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tazhate/examtracker/config"
	"github.com/tazhate/examtracker/internal/api"
	"github.com/tazhate/examtracker/internal/bot"
	caldavclient "github.com/tazhate/examtracker/internal/clients/caldav"
	"github.com/tazhate/examtracker/internal/domain"
	"github.com/tazhate/examtracker/internal/lifecycle"
	"github.com/tazhate/examtracker/internal/metrics"
	"github.com/tazhate/examtracker/internal/notifier"
	"github.com/tazhate/examtracker/internal/scheduler"
	"github.com/tazhate/examtracker/internal/service"
	"github.com/tazhate/examtracker/internal/storage"
)

func main() {
	// Загрузка конфига
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log := cfg.NewLogger()

	// Инициализация storage
	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to init storage: %v", err)
	}
	defer store.Close()

	defaults := domain.DefaultNotificationSettings()
	defaults.ReminderDays = cfg.DefaultReminderDays
	if clock, err := service.ParseClockTime(cfg.DefaultReminderTime); err == nil {
		defaults.ReminderTime = clock
	} else {
		log.WithError(err).Warn("Invalid DEFAULT_REMINDER_TIME, using 09:00")
	}
	store.SetDefaultSettings(defaults)

	// Инициализация сервисов
	examSvc := service.NewExamService(store, cfg.Timezone)
	settingsSvc := service.NewSettingsService(store, log)

	// Инициализация бота
	tgBot, err := bot.New(cfg, examSvc, settingsSvc, log)
	if err != nil {
		log.Fatalf("Failed to init bot: %v", err)
	}

	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Бэкенд напоминаний
	var backend service.NotificationBackend
	var dispatcher *notifier.Dispatcher
	switch cfg.NotificationBackend {
	case config.BackendCalDAV:
		client := caldavclient.NewClient(cfg.CalDAVURL, cfg.CalDAVUsername, cfg.CalDAVPassword, cfg.CalDAVCalendar)
		if !client.IsConfigured() {
			log.Warn("CalDAV backend selected but not configured, reminders will be cleared")
		}
		backend = notifier.NewCalDAVBackend(client)
	case config.BackendMemory:
		backend = notifier.NewMemoryBackend()
	default:
		local := notifier.NewLocalBackend(store, cfg.OwnerTelegramID)
		local.SetSender(tgBot)
		backend = local

		dispatcher = notifier.NewDispatcher(store, tgBot, cfg.OwnerTelegramID, cfg.DispatchSchedule, cfg.Timezone, log)
		dispatcher.SetMetrics(m)
		if err := dispatcher.Start(ctx); err != nil {
			log.Fatalf("Failed to start dispatcher: %v", err)
		}
	}
	log.WithField("backend", cfg.NotificationBackend).Info("Notification backend ready")

	// Инициализация scheduler
	hub := lifecycle.NewHub()
	sched := scheduler.New(cfg, store, store, backend, log)
	sched.SetLifecycle(hub)
	sched.SetMetrics(m)

	settingsSvc.SetObserver(sched)
	tgBot.SetScheduler(sched)
	tgBot.SetLifecycle(hub)

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	// HTTP: health, metrics, REST API, webhook
	apiServer := api.New(cfg, examSvc, settingsSvc, sched, hub, log)
	apiServer.SetMetrics(m)
	if cfg.WebhookURL != "" {
		apiServer.SetWebhook(tgBot.WebhookHandler())
	}

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("HTTP server listening on :%s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server error")
			stop()
		}
	}()

	if cfg.WebhookURL != "" {
		if err := tgBot.SetupWebhook(); err != nil {
			log.Fatalf("Failed to setup webhook: %v", err)
		}
	} else {
		go tgBot.Poll(ctx)
	}

	log.Info("ExamTracker started")

	<-ctx.Done()
	log.Info("Shutting down...")

	// Graceful shutdown
	sched.Stop()
	if dispatcher != nil {
		dispatcher.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Error stopping HTTP server")
	}

	log.Info("ExamTracker stopped")
}
