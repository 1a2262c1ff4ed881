package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tazhate/examtracker/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

type Storage struct {
	db       *sql.DB
	defaults domain.NotificationSettings
}

func New(dbPath string) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db, defaults: domain.DefaultNotificationSettings()}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// SetDefaultSettings sets what GetNotificationSettings returns before anything was saved.
func (s *Storage) SetDefaultSettings(settings domain.NotificationSettings) {
	s.defaults = settings
}

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS exams (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			subject TEXT DEFAULT '',
			exam_date DATETIME NOT NULL,
			is_completed INTEGER DEFAULT 0,
			grade REAL,
			notes TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exams_date ON exams(exam_date)`,
		`CREATE TABLE IF NOT EXISTS notification_settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			enabled INTEGER NOT NULL DEFAULT 1,
			reminder_days INTEGER NOT NULL DEFAULT 1,
			reminder_hour INTEGER NOT NULL DEFAULT 9,
			reminder_minute INTEGER NOT NULL DEFAULT 0,
			auto_scheduling INTEGER NOT NULL DEFAULT 1,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		// Local notification backend: rows disappear once delivered or cancelled
		`CREATE TABLE IF NOT EXISTS pending_notifications (
			id INTEGER PRIMARY KEY,
			fire_at DATETIME NOT NULL,
			title TEXT NOT NULL,
			body TEXT DEFAULT '',
			payload TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_notifications_fire_at ON pending_notifications(fire_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Ignore "duplicate column" errors for ALTER TABLE
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf("exec migration: %w", err)
			}
		}
	}
	return nil
}

// === Exams ===

const examColumns = `id, name, subject, exam_date, is_completed, grade, notes, created_at`

func scanExam(row interface{ Scan(...any) error }) (*domain.Exam, error) {
	e := &domain.Exam{}
	var grade sql.NullFloat64
	if err := row.Scan(&e.ID, &e.Name, &e.Subject, &e.Date, &e.IsCompleted, &grade, &e.Notes, &e.CreatedAt); err != nil {
		return nil, err
	}
	if grade.Valid {
		g := grade.Float64
		e.Grade = &g
	}
	return e, nil
}

func (s *Storage) CreateExam(ctx context.Context, e *domain.Exam) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exams (id, name, subject, exam_date, is_completed, grade, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Subject, e.Date.UTC(), e.IsCompleted, e.Grade, e.Notes, e.CreatedAt,
	)
	return err
}

func (s *Storage) GetExam(ctx context.Context, id string) (*domain.Exam, error) {
	e, err := scanExam(s.db.QueryRowContext(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// FetchAllExams returns every exam ordered by date. Filtering is left to callers.
func (s *Storage) FetchAllExams(ctx context.Context) ([]*domain.Exam, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+examColumns+` FROM exams ORDER BY exam_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []*domain.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

func (s *Storage) SetExamCompleted(ctx context.Context, id string, completed bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE exams SET is_completed = ? WHERE id = ?`, completed, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Storage) SetExamGrade(ctx context.Context, id string, grade float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE exams SET grade = ?, is_completed = 1 WHERE id = ?`, grade, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Storage) DeleteExam(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM exams WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrExamNotFound
	}
	return nil
}

// === Notification settings ===

func (s *Storage) GetNotificationSettings(ctx context.Context) (*domain.NotificationSettings, error) {
	settings := &domain.NotificationSettings{}
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled, reminder_days, reminder_hour, reminder_minute, auto_scheduling
		 FROM notification_settings WHERE id = 1`,
	).Scan(&settings.Enabled, &settings.ReminderDays, &settings.ReminderTime.Hour, &settings.ReminderTime.Minute, &settings.AutoSchedulingEnabled)
	if err == sql.ErrNoRows {
		d := s.defaults
		return &d, nil
	}
	if err != nil {
		return nil, err
	}
	return settings, nil
}

func (s *Storage) SaveNotificationSettings(ctx context.Context, settings domain.NotificationSettings) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_settings (id, enabled, reminder_days, reminder_hour, reminder_minute, auto_scheduling, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled,
			reminder_days = excluded.reminder_days,
			reminder_hour = excluded.reminder_hour,
			reminder_minute = excluded.reminder_minute,
			auto_scheduling = excluded.auto_scheduling,
			updated_at = excluded.updated_at`,
		settings.Enabled, settings.ReminderDays, settings.ReminderTime.Hour, settings.ReminderTime.Minute, settings.AutoSchedulingEnabled, time.Now(),
	)
	return err
}

// === Pending notifications ===
// Times are stored in UTC so that text comparison in SQLite matches time order.

type PendingNotificationRow struct {
	ID      int
	FireAt  time.Time
	Title   string
	Body    string
	Payload string
}

// UpsertPendingNotification stores a notification, replacing any row with the same id.
func (s *Storage) UpsertPendingNotification(ctx context.Context, n PendingNotificationRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO pending_notifications (id, fire_at, title, body, payload) VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.FireAt.UTC(), n.Title, n.Body, n.Payload,
	)
	return err
}

func (s *Storage) DeletePendingNotifications(ctx context.Context, ids []int) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_notifications WHERE id IN (`+strings.Join(placeholders, ",")+`)`,
		args...,
	)
	return err
}

// ListUpcomingPendingNotifications returns notifications that fire after now.
// Overdue rows belong to the dispatcher until they are delivered.
func (s *Storage) ListUpcomingPendingNotifications(ctx context.Context, now time.Time) ([]PendingNotificationRow, error) {
	return s.queryPending(ctx, `SELECT id, fire_at, title, body, payload FROM pending_notifications WHERE fire_at > ? ORDER BY fire_at`, now.UTC())
}

// ListDuePendingNotifications returns notifications whose fire time is at or before now
func (s *Storage) ListDuePendingNotifications(ctx context.Context, now time.Time) ([]PendingNotificationRow, error) {
	return s.queryPending(ctx, `SELECT id, fire_at, title, body, payload FROM pending_notifications WHERE fire_at <= ? ORDER BY fire_at`, now.UTC())
}

func (s *Storage) queryPending(ctx context.Context, query string, args ...any) ([]PendingNotificationRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []PendingNotificationRow
	for rows.Next() {
		var n PendingNotificationRow
		if err := rows.Scan(&n.ID, &n.FireAt, &n.Title, &n.Body, &n.Payload); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}
