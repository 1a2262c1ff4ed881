package bot

import (
	"context"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/tazhate/examtracker/config"
	"github.com/tazhate/examtracker/internal/lifecycle"
	"github.com/tazhate/examtracker/internal/scheduler"
	"github.com/tazhate/examtracker/internal/service"
)

type Bot struct {
	api             *tgbotapi.BotAPI
	cfg             *config.Config
	examService     *service.ExamService
	settingsService *service.SettingsService
	scheduler       *scheduler.Scheduler
	hub             *lifecycle.Hub
	log             logrus.FieldLogger
}

func New(cfg *config.Config, examSvc *service.ExamService, settingsSvc *service.SettingsService, log logrus.FieldLogger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log = log.WithField("component", "bot")
	log.Infof("Authorized as @%s", api.Self.UserName)

	bot := &Bot{
		api:             api,
		cfg:             cfg,
		examService:     examSvc,
		settingsService: settingsSvc,
		log:             log,
	}

	// Set bot commands (menu button)
	bot.setCommands()

	return bot, nil
}

// SetScheduler is separate from New because the scheduler's backend
// sends through the bot.
func (b *Bot) SetScheduler(s *scheduler.Scheduler) {
	b.scheduler = s
}

// SetLifecycle makes owner messages count as the app coming to the foreground.
func (b *Bot) SetLifecycle(h *lifecycle.Hub) {
	b.hub = h
}

func (b *Bot) setCommands() {
	commands := []tgbotapi.BotCommand{
		{Command: "exams", Description: "📚 Список экзаменов"},
		{Command: "add", Description: "➕ Добавить экзамен"},
		{Command: "settings", Description: "⚙️ Настройки напоминаний"},
		{Command: "status", Description: "🔔 Статус напоминаний"},
		{Command: "sync", Description: "🔄 Синхронизировать напоминания"},
		{Command: "help", Description: "❓ Справка по командам"},
	}

	cfg := tgbotapi.NewSetMyCommands(commands...)
	if _, err := b.api.Request(cfg); err != nil {
		b.log.WithError(err).Warn("Failed to set commands")
	}
}

func (b *Bot) SetupWebhook() error {
	webhookURL := b.cfg.WebhookURL + "/bot"

	wh, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}

	_, err = b.api.Request(wh)
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}

	info, err := b.api.GetWebhookInfo()
	if err != nil {
		return fmt.Errorf("get webhook info: %w", err)
	}

	if info.LastErrorDate != 0 {
		b.log.Warnf("Webhook last error: %s", info.LastErrorMessage)
	}

	b.log.Infof("Webhook set to: %s", webhookURL)
	return nil
}

// WebhookHandler accepts updates posted by Telegram to /bot.
func (b *Bot) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		update, err := b.api.HandleUpdate(r)
		if err != nil {
			b.log.WithError(err).Warn("Error reading webhook update")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		go b.handleUpdate(*update)
	})
}

// Poll reads updates with long polling until ctx is done. It is used
// when no WEBHOOK_URL is configured.
func (b *Bot) Poll(ctx context.Context) {
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		b.log.WithError(err).Warn("Failed to delete webhook")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)
	b.log.Info("Polling for updates")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			go b.handleUpdate(update)
		}
	}
}

func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "HTML"
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) SendMessageWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "HTML"
	msg.ReplyMarkup = keyboard
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) editMessage(chatID int64, msgID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageText(chatID, msgID, text)
	edit.ParseMode = "HTML"
	edit.ReplyMarkup = keyboard
	if _, err := b.api.Send(edit); err != nil {
		b.log.WithError(err).Debug("Error editing message")
	}
}
