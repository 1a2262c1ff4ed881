package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/examtracker/internal/domain"
)

// Exam action keyboard (for a single exam)
func examKeyboard(examID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Сдан", "done:"+examID),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Удалить", "del:"+examID),
		),
	)
}

// Exam list keyboard: one row per upcoming exam, at most maxRows
func examListKeyboard(exams []*domain.Exam, isUpcoming func(*domain.Exam) bool) *tgbotapi.InlineKeyboardMarkup {
	const maxRows = 8

	var rows [][]tgbotapi.InlineKeyboardButton
	for i, e := range exams {
		if !isUpcoming(e) {
			continue
		}
		if len(rows) == maxRows {
			break
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("✅ %d. %s", i+1, truncate(e.Name, 25)),
				"done:"+e.ID,
			),
			tgbotapi.NewInlineKeyboardButtonData("🗑", "del:"+e.ID),
		))
	}

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🔄 Обновить", "refresh:list"),
		tgbotapi.NewInlineKeyboardButtonData("🔔 Синхронизировать", "sync"),
	))

	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

func confirmDeleteKeyboard(examID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Да, удалить", "confirm_del:"+examID),
			tgbotapi.NewInlineKeyboardButtonData("❌ Отмена", "back:list"),
		),
	)
}

// Settings keyboard, toggles show the state they switch to
func settingsKeyboard(s *domain.NotificationSettings) tgbotapi.InlineKeyboardMarkup {
	remind := "🔕 Выключить напоминания"
	if !s.Enabled {
		remind = "🔔 Включить напоминания"
	}
	auto := "⏸ Выключить автопланирование"
	if !s.AutoSchedulingEnabled {
		auto = "▶️ Включить автопланирование"
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(remind, "toggle:remind")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(auto, "toggle:auto")),
	)
}
