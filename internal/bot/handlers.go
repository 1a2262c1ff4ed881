package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/examtracker/internal/domain"
	"github.com/tazhate/examtracker/internal/lifecycle"
)

func (b *Bot) handleUpdate(update tgbotapi.Update) {
	if update.Message != nil {
		b.handleMessage(update.Message)
	} else if update.CallbackQuery != nil {
		b.handleCallback(update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !b.cfg.IsAllowedUser(userID) {
		b.SendMessage(chatID, "⛔ Доступ запрещён")
		return
	}

	// The owner writing to the bot is the app being opened
	b.foreground()

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if msg.IsCommand() {
		b.handleCommand(msg)
		return
	}

	// Plain text in the /add format adds an exam
	b.cmdAdd(chatID, text)
}

func (b *Bot) foreground() {
	if b.hub != nil {
		b.hub.Publish(lifecycle.Foreground)
	}
}

func (b *Bot) handleCallback(callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil {
		return
	}
	userID := callback.From.ID
	chatID := callback.Message.Chat.ID
	msgID := callback.Message.MessageID

	if !b.cfg.IsAllowedUser(userID) {
		b.api.Request(tgbotapi.NewCallback(callback.ID, "⛔ Доступ запрещён"))
		return
	}

	b.foreground()
	ctx := context.Background()

	action, arg, _ := strings.Cut(callback.Data, ":")

	switch action {
	case "done":
		if err := b.examService.Complete(ctx, arg); err != nil {
			b.api.Request(tgbotapi.NewCallback(callback.ID, "❌ "+err.Error()))
			return
		}
		b.examsChanged(ctx)
		b.api.Request(tgbotapi.NewCallback(callback.ID, "✅ Сдан!"))
		b.refreshExamList(chatID, msgID)

	case "del":
		exam, err := b.examService.Get(ctx, arg)
		if err != nil {
			b.api.Request(tgbotapi.NewCallback(callback.ID, "❌ "+err.Error()))
			return
		}
		b.api.Request(tgbotapi.NewCallback(callback.ID, ""))
		kb := confirmDeleteKeyboard(exam.ID)
		b.editMessage(chatID, msgID, fmt.Sprintf("Удалить экзамен <b>%s</b>?", exam.Name), &kb)

	case "confirm_del":
		if err := b.examService.Delete(ctx, arg); err != nil {
			b.api.Request(tgbotapi.NewCallback(callback.ID, "❌ "+err.Error()))
			return
		}
		b.examsChanged(ctx)
		b.api.Request(tgbotapi.NewCallback(callback.ID, "🗑 Удалён"))
		b.refreshExamList(chatID, msgID)

	case "refresh", "back":
		b.api.Request(tgbotapi.NewCallback(callback.ID, ""))
		b.refreshExamList(chatID, msgID)

	case "sync":
		b.api.Request(tgbotapi.NewCallback(callback.ID, "🔄"))
		b.cmdSync(chatID)

	case "toggle":
		b.toggleSetting(ctx, callback, arg)

	default:
		b.api.Request(tgbotapi.NewCallback(callback.ID, ""))
	}
}

func (b *Bot) refreshExamList(chatID int64, msgID int) {
	text, kb, err := b.examListMessage(context.Background())
	if err != nil {
		b.log.WithError(err).Error("Error getting exams")
		return
	}
	b.editMessage(chatID, msgID, text, kb)
}

func (b *Bot) toggleSetting(ctx context.Context, callback *tgbotapi.CallbackQuery, which string) {
	updated, err := b.settingsService.Update(ctx, func(s *domain.NotificationSettings) {
		switch which {
		case "remind":
			s.Enabled = !s.Enabled
		case "auto":
			s.AutoSchedulingEnabled = !s.AutoSchedulingEnabled
		}
	})
	if err != nil {
		b.api.Request(tgbotapi.NewCallback(callback.ID, "❌ "+err.Error()))
		return
	}

	b.api.Request(tgbotapi.NewCallback(callback.ID, "✅ Сохранено"))
	kb := settingsKeyboard(updated)
	b.editMessage(callback.Message.Chat.ID, callback.Message.MessageID, b.settingsService.Format(updated), &kb)
}

// examsChanged lets the scheduler pick up an exam edit right away.
func (b *Bot) examsChanged(ctx context.Context) {
	if b.scheduler != nil {
		b.scheduler.OnExamsChanged(ctx)
	}
}
