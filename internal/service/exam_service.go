package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tazhate/examtracker/internal/domain"
	"github.com/tazhate/examtracker/internal/storage"
)

// Exams without an explicit time are placed at this hour.
const defaultExamHour = 9

type ExamService struct {
	storage  *storage.Storage
	timezone *time.Location
	now      func() time.Time
}

func NewExamService(s *storage.Storage, tz *time.Location) *ExamService {
	if tz == nil {
		tz = time.UTC
	}
	return &ExamService{
		storage:  s,
		timezone: tz,
		now:      time.Now,
	}
}

func (s *ExamService) Create(ctx context.Context, name, subject string, date time.Time) (*domain.Exam, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("exam name cannot be empty")
	}
	if date.IsZero() {
		return nil, fmt.Errorf("exam date is required")
	}

	exam := &domain.Exam{
		Name:    name,
		Subject: strings.TrimSpace(subject),
		Date:    date,
	}

	if err := s.storage.CreateExam(ctx, exam); err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}

	return exam, nil
}

func (s *ExamService) Get(ctx context.Context, id string) (*domain.Exam, error) {
	exam, err := s.storage.GetExam(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam == nil {
		return nil, domain.ErrExamNotFound
	}
	return exam, nil
}

func (s *ExamService) List(ctx context.Context) ([]*domain.Exam, error) {
	return s.storage.FetchAllExams(ctx)
}

// ListUpcoming returns incomplete exams that have not happened yet
func (s *ExamService) ListUpcoming(ctx context.Context) ([]*domain.Exam, error) {
	exams, err := s.storage.FetchAllExams(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var upcoming []*domain.Exam
	for _, e := range exams {
		if e.IsUpcoming(now) {
			upcoming = append(upcoming, e)
		}
	}
	return upcoming, nil
}

func (s *ExamService) Complete(ctx context.Context, id string) error {
	return s.storage.SetExamCompleted(ctx, id, true)
}

// SetGrade records a grade and marks the exam completed.
func (s *ExamService) SetGrade(ctx context.Context, id string, grade float64) error {
	if grade < 0 {
		return fmt.Errorf("grade cannot be negative")
	}
	return s.storage.SetExamGrade(ctx, id, grade)
}

func (s *ExamService) Delete(ctx context.Context, id string) error {
	return s.storage.DeleteExam(ctx, id)
}

// GradeAverage returns the mean grade over graded exams and how many were graded.
func (s *ExamService) GradeAverage(ctx context.Context) (float64, int, error) {
	exams, err := s.storage.FetchAllExams(ctx)
	if err != nil {
		return 0, 0, err
	}

	var sum float64
	var n int
	for _, e := range exams {
		if e.Grade != nil {
			sum += *e.Grade
			n++
		}
	}
	if n == 0 {
		return 0, 0, nil
	}
	return sum / float64(n), n, nil
}

// ParseAddArgs parses "Name ДД.ММ.ГГГГ [ЧЧ:ММ]" or "Name YYYY-MM-DD [HH:MM]".
// Text in square brackets inside the name is taken as the subject: "[Math] Final 20.06.2026".
func (s *ExamService) ParseAddArgs(args string) (name, subject string, date time.Time, err error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return "", "", time.Time{}, fmt.Errorf("укажи название и дату экзамена")
	}

	if m := subjectRe.FindStringSubmatch(args); m != nil {
		subject = strings.TrimSpace(m[1])
		args = strings.TrimSpace(subjectRe.ReplaceAllString(args, ""))
	}

	m := dateTailRe.FindStringSubmatch(args)
	if m == nil {
		return "", "", time.Time{}, fmt.Errorf("не нашёл дату, используй ДД.ММ.ГГГГ")
	}

	dateStr := m[1]
	if m[2] != "" {
		dateStr += " " + m[2]
	}
	date, err = s.ParseDate(dateStr)
	if err != nil {
		return "", "", time.Time{}, err
	}

	name = strings.TrimSpace(args[:len(args)-len(m[0])])
	if name == "" {
		return "", "", time.Time{}, fmt.Errorf("укажи название экзамена")
	}
	return name, subject, date, nil
}

var (
	subjectRe  = regexp.MustCompile(`^\[([^\]]+)\]`)
	dateTailRe = regexp.MustCompile(`\s*(\d{2}\.\d{2}(?:\.\d{4})?|\d{4}-\d{2}-\d{2})(?:\s+(\d{1,2}:\d{2}))?$`)
)

// ParseDate parses "ДД.ММ.ГГГГ", "ДД.ММ" or "YYYY-MM-DD", each with an optional " ЧЧ:ММ"
func (s *ExamService) ParseDate(dateStr string) (time.Time, error) {
	dateStr = strings.TrimSpace(dateStr)

	datePart, timePart, _ := strings.Cut(dateStr, " ")
	hour, minute := defaultExamHour, 0
	if timePart != "" {
		clock, err := ParseClockTime(timePart)
		if err != nil {
			return time.Time{}, err
		}
		hour, minute = clock.Hour, clock.Minute
	}

	for _, layout := range []string{"02.01.2006", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, datePart, s.timezone); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, s.timezone), nil
		}
	}

	// Short date: current year, or next year if already past
	if t, err := time.ParseInLocation("02.01", datePart, s.timezone); err == nil {
		now := s.now().In(s.timezone)
		t = time.Date(now.Year(), t.Month(), t.Day(), hour, minute, 0, 0, s.timezone)
		if t.Before(now) {
			t = t.AddDate(1, 0, 0)
		}
		return t, nil
	}

	return time.Time{}, fmt.Errorf("неверный формат даты, используй ДД.ММ.ГГГГ")
}

// ParseClockTime parses "HH:MM".
func ParseClockTime(s string) (domain.ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return domain.ClockTime{}, fmt.Errorf("invalid time format: %s", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return domain.ClockTime{}, fmt.Errorf("invalid hour: %s", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return domain.ClockTime{}, fmt.Errorf("invalid minute: %s", s)
	}
	return domain.ClockTime{Hour: hour, Minute: minute}, nil
}

// FormatExamList formats exams for display. Index numbers start at 1 and
// are what the bot commands accept.
func (s *ExamService) FormatExamList(exams []*domain.Exam) string {
	if len(exams) == 0 {
		return "Нет экзаменов"
	}

	now := s.now()
	var sb strings.Builder
	for i, e := range exams {
		sb.WriteString(fmt.Sprintf("%s <b>%d.</b> %s", e.StatusEmoji(now), i+1, e.Name))
		if e.Subject != "" {
			sb.WriteString(fmt.Sprintf(" [%s]", e.Subject))
		}
		sb.WriteString(fmt.Sprintf(" — %s", e.Date.In(s.timezone).Format("02.01.2006 15:04")))
		if e.Grade != nil {
			sb.WriteString(fmt.Sprintf(" · оценка %s", strconv.FormatFloat(*e.Grade, 'f', -1, 64)))
		} else if e.IsUpcoming(now) {
			sb.WriteString(fmt.Sprintf(" (%d дн.)", e.DaysUntil(now)))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
