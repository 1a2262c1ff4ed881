package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/examtracker/internal/domain"
	"github.com/tazhate/examtracker/internal/scheduler"
	"github.com/tazhate/examtracker/internal/service"
)

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())

	switch cmd {
	case "start":
		b.cmdStart(msg)
	case "help":
		b.cmdHelp(chatID)
	case "exams", "list":
		b.cmdExams(chatID)
	case "add":
		b.cmdAdd(chatID, args)
	case "done":
		b.cmdDone(chatID, args)
	case "grade":
		b.cmdGrade(chatID, args)
	case "del":
		b.cmdDelete(chatID, args)
	case "settings":
		b.cmdSettings(chatID)
	case "remind":
		b.cmdToggle(chatID, args, func(s *domain.NotificationSettings, on bool) { s.Enabled = on })
	case "auto":
		b.cmdToggle(chatID, args, func(s *domain.NotificationSettings, on bool) { s.AutoSchedulingEnabled = on })
	case "days":
		b.cmdDays(chatID, args)
	case "time":
		b.cmdTime(chatID, args)
	case "sync":
		b.cmdSync(chatID)
	case "reset":
		b.cmdReset(chatID)
	case "status":
		b.cmdStatus(chatID)
	default:
		b.SendMessage(chatID, "Неизвестная команда. /help для списка команд")
	}
}

func (b *Bot) cmdStart(msg *tgbotapi.Message) {
	name := msg.From.FirstName
	if name == "" {
		name = msg.From.UserName
	}
	b.SendMessage(msg.Chat.ID, fmt.Sprintf("👋 Привет, %s!\n\nЯ напомню о каждом экзамене заранее.\n/help для списка команд", name))
}

func (b *Bot) cmdHelp(chatID int64) {
	help := `<b>📚 Экзамены</b>
/exams — список экзаменов
/add Название ДД.ММ.ГГГГ [ЧЧ:ММ] — добавить
/add [Предмет] Название ДД.ММ — с предметом
/done N — экзамен сдан
/grade N оценка — поставить оценку
/del N — удалить

<b>🔔 Напоминания</b>
/settings — текущие настройки
/remind on|off — включить или выключить
/days N — за сколько дней напоминать
/time ЧЧ:ММ — во сколько напоминать
/auto on|off — автопланирование
/sync — синхронизировать сейчас
/reset — пересоздать все напоминания
/status — статус

Можно просто написать «Матанализ 20.06.2027 10:00»`
	b.SendMessage(chatID, help)
}

func (b *Bot) cmdExams(chatID int64) {
	text, kb, err := b.examListMessage(context.Background())
	if err != nil {
		b.log.WithError(err).Error("Error getting exams")
		b.SendMessage(chatID, "❌ Ошибка получения экзаменов")
		return
	}
	if kb == nil {
		b.SendMessage(chatID, text)
		return
	}
	b.SendMessageWithKeyboard(chatID, text, *kb)
}

func (b *Bot) examListMessage(ctx context.Context) (string, *tgbotapi.InlineKeyboardMarkup, error) {
	exams, err := b.examService.List(ctx)
	if err != nil {
		return "", nil, err
	}

	text := "📚 <b>Экзамены</b>\n\n" + b.examService.FormatExamList(exams)
	if avg, n, err := b.examService.GradeAverage(ctx); err == nil && n > 0 {
		text += fmt.Sprintf("\n📊 Средний балл: <b>%.2f</b> (%d)", avg, n)
	}
	if len(exams) == 0 {
		return text, nil, nil
	}

	now := time.Now()
	kb := examListKeyboard(exams, func(e *domain.Exam) bool { return e.IsUpcoming(now) })
	return text, kb, nil
}

func (b *Bot) cmdAdd(chatID int64, args string) {
	if args == "" {
		b.SendMessage(chatID, "Использование: /add Название ДД.ММ.ГГГГ [ЧЧ:ММ]")
		return
	}

	name, subject, date, err := b.examService.ParseAddArgs(args)
	if err != nil {
		b.SendMessage(chatID, "❌ "+err.Error())
		return
	}

	ctx := context.Background()
	exam, err := b.examService.Create(ctx, name, subject, date)
	if err != nil {
		b.log.WithError(err).Error("Error creating exam")
		b.SendMessage(chatID, "❌ Ошибка создания экзамена")
		return
	}
	b.examsChanged(ctx)

	text := fmt.Sprintf("✅ Добавлен: <b>%s</b>\n📅 %s", exam.Name, exam.Date.In(b.cfg.Timezone).Format("02.01.2006 15:04"))
	if exam.Subject != "" {
		text += "\n📖 " + exam.Subject
	}
	b.SendMessageWithKeyboard(chatID, text, examKeyboard(exam.ID))
}

// examByIndex resolves the 1-based number shown by /exams.
func (b *Bot) examByIndex(ctx context.Context, arg string) (*domain.Exam, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return nil, fmt.Errorf("укажи номер экзамена из /exams")
	}
	exams, err := b.examService.List(ctx)
	if err != nil {
		return nil, err
	}
	if n > len(exams) {
		return nil, fmt.Errorf("экзамен #%d не найден", n)
	}
	return exams[n-1], nil
}

func (b *Bot) cmdDone(chatID int64, args string) {
	ctx := context.Background()
	exam, err := b.examByIndex(ctx, args)
	if err != nil {
		b.SendMessage(chatID, "❌ "+err.Error())
		return
	}

	if err := b.examService.Complete(ctx, exam.ID); err != nil {
		b.SendMessage(chatID, "❌ "+err.Error())
		return
	}
	b.examsChanged(ctx)

	b.SendMessage(chatID, fmt.Sprintf("✅ Сдан: <b>%s</b>\nОценку можно поставить через /grade", exam.Name))
}

func (b *Bot) cmdGrade(chatID int64, args string) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		b.SendMessage(chatID, "Использование: /grade N оценка")
		return
	}

	grade, err := strconv.ParseFloat(strings.Replace(parts[1], ",", ".", 1), 64)
	if err != nil {
		b.SendMessage(chatID, "❌ Оценка должна быть числом")
		return
	}

	ctx := context.Background()
	exam, err := b.examByIndex(ctx, parts[0])
	if err != nil {
		b.SendMessage(chatID, "❌ "+err.Error())
		return
	}

	if err := b.examService.SetGrade(ctx, exam.ID, grade); err != nil {
		b.SendMessage(chatID, "❌ "+err.Error())
		return
	}
	b.examsChanged(ctx)

	b.SendMessage(chatID, fmt.Sprintf("📝 <b>%s</b>: %s", exam.Name, strconv.FormatFloat(grade, 'f', -1, 64)))
}

func (b *Bot) cmdDelete(chatID int64, args string) {
	exam, err := b.examByIndex(context.Background(), args)
	if err != nil {
		b.SendMessage(chatID, "❌ "+err.Error())
		return
	}
	b.SendMessageWithKeyboard(chatID, fmt.Sprintf("Удалить экзамен <b>%s</b>?", exam.Name), confirmDeleteKeyboard(exam.ID))
}

func (b *Bot) cmdSettings(chatID int64) {
	settings, err := b.settingsService.Get(context.Background())
	if err != nil {
		b.log.WithError(err).Error("Error getting settings")
		b.SendMessage(chatID, "❌ Ошибка получения настроек")
		return
	}
	b.SendMessageWithKeyboard(chatID, b.settingsService.Format(settings), settingsKeyboard(settings))
}

func (b *Bot) cmdToggle(chatID int64, args string, set func(*domain.NotificationSettings, bool)) {
	var on bool
	switch strings.ToLower(args) {
	case "on", "вкл":
		on = true
	case "off", "выкл":
		on = false
	default:
		b.SendMessage(chatID, "Использование: on или off")
		return
	}
	b.updateSettings(chatID, func(s *domain.NotificationSettings) { set(s, on) })
}

func (b *Bot) cmdDays(chatID int64, args string) {
	days, err := strconv.Atoi(args)
	if err != nil {
		b.SendMessage(chatID, "Использование: /days N")
		return
	}
	b.updateSettings(chatID, func(s *domain.NotificationSettings) { s.ReminderDays = days })
}

func (b *Bot) cmdTime(chatID int64, args string) {
	clock, err := service.ParseClockTime(args)
	if err != nil {
		b.SendMessage(chatID, "Использование: /time ЧЧ:ММ")
		return
	}
	b.updateSettings(chatID, func(s *domain.NotificationSettings) { s.ReminderTime = clock })
}

// updateSettings saves the change; the settings observer reschedules.
func (b *Bot) updateSettings(chatID int64, fn func(*domain.NotificationSettings)) {
	updated, err := b.settingsService.Update(context.Background(), fn)
	if errors.Is(err, domain.ErrInvalidSettings) {
		b.SendMessage(chatID, "❌ "+err.Error())
		return
	}
	if err != nil {
		b.log.WithError(err).Error("Error saving settings")
		b.SendMessage(chatID, "❌ Ошибка сохранения настроек")
		return
	}
	b.SendMessage(chatID, "✅ Сохранено\n\n"+b.settingsService.Format(updated))
}

func (b *Bot) cmdSync(chatID int64) {
	if b.scheduler == nil {
		b.SendMessage(chatID, "❌ Планировщик не запущен")
		return
	}
	result, err := b.scheduler.ManualSync(context.Background())
	if err != nil {
		b.log.WithError(err).Error("Manual sync failed")
		b.SendMessage(chatID, "❌ Ошибка синхронизации")
		return
	}
	b.SendMessage(chatID, formatSyncResult("🔄 Синхронизация", result))
}

func (b *Bot) cmdReset(chatID int64) {
	if b.scheduler == nil {
		b.SendMessage(chatID, "❌ Планировщик не запущен")
		return
	}
	result, err := b.scheduler.ResetAndRescheduleAll(context.Background())
	if err != nil {
		b.log.WithError(err).Error("Reset failed")
		b.SendMessage(chatID, "❌ Ошибка сброса напоминаний")
		return
	}
	b.SendMessage(chatID, formatSyncResult("♻️ Сброс", result))
}

func (b *Bot) cmdStatus(chatID int64) {
	if b.scheduler == nil {
		b.SendMessage(chatID, "❌ Планировщик не запущен")
		return
	}
	ctx := context.Background()

	upcoming, err := b.scheduler.UpcomingExamCount(ctx)
	if err != nil {
		b.SendMessage(chatID, "❌ "+err.Error())
		return
	}
	scheduled, err := b.scheduler.ScheduledNotificationCount(ctx)
	if err != nil {
		b.SendMessage(chatID, "❌ "+err.Error())
		return
	}

	state := "работает"
	if !b.scheduler.IsRunning() {
		state = "остановлен"
	}
	b.SendMessage(chatID, fmt.Sprintf("🔔 <b>Статус</b>\n\nПланировщик: %s\nПредстоящих экзаменов: %d\nЗапланировано напоминаний: %d",
		state, upcoming, scheduled))
}

func formatSyncResult(title string, r *scheduler.SyncResult) string {
	switch {
	case r.Skipped:
		return title + ": пропущено, слишком часто или автопланирование выключено"
	case r.Disabled:
		return title + ": напоминания выключены, все удалены"
	}
	text := fmt.Sprintf("%s\n\nНужно: %d\nДобавлено: %d\nУдалено: %d", title, r.Required, r.Scheduled, r.Cancelled)
	if r.Failed > 0 {
		text += fmt.Sprintf("\n⚠️ Ошибок: %d", r.Failed)
	}
	return text
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + "…"
}
