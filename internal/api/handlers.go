package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tazhate/examtracker/internal/domain"
	"github.com/tazhate/examtracker/internal/lifecycle"
	"github.com/tazhate/examtracker/internal/scheduler"
	"github.com/tazhate/examtracker/internal/service"
)

type ExamResponse struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Subject        string   `json:"subject,omitempty"`
	Date           string   `json:"date"`
	IsCompleted    bool     `json:"is_completed"`
	Grade          *float64 `json:"grade,omitempty"`
	Notes          string   `json:"notes,omitempty"`
	DaysUntil      *int     `json:"days_until,omitempty"`
	NotificationID int      `json:"notification_id"`
}

type SettingsResponse struct {
	Enabled               bool   `json:"enabled"`
	ReminderDays          int    `json:"reminder_days"`
	ReminderTime          string `json:"reminder_time"`
	AutoSchedulingEnabled bool   `json:"auto_scheduling_enabled"`
}

type SyncResponse struct {
	Trigger   string `json:"trigger"`
	Skipped   bool   `json:"skipped"`
	Disabled  bool   `json:"disabled"`
	Required  int    `json:"required"`
	Scheduled int    `json:"scheduled"`
	Cancelled int    `json:"cancelled"`
	Failed    int    `json:"failed"`
}

type StatusResponse struct {
	Running                bool             `json:"running"`
	UpcomingExams          int              `json:"upcoming_exams"`
	ScheduledNotifications int              `json:"scheduled_notifications"`
	Settings               SettingsResponse `json:"settings"`
}

// GET /api/exams
func (s *Server) listExams(w http.ResponseWriter, r *http.Request) {
	exams, err := s.exams.List(r.Context())
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, s.examsToResponse(exams))
}

// GET /api/exams/upcoming
func (s *Server) listUpcomingExams(w http.ResponseWriter, r *http.Request) {
	exams, err := s.exams.ListUpcoming(r.Context())
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, s.examsToResponse(exams))
}

// POST /api/exams
// date is RFC 3339 or "YYYY-MM-DD [HH:MM]" in the configured timezone
func (s *Server) createExam(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Subject string `json:"subject"`
		Date    string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		s.jsonError(w, "Name is required", http.StatusBadRequest)
		return
	}

	date, err := time.Parse(time.RFC3339, req.Date)
	if err != nil {
		date, err = s.exams.ParseDate(req.Date)
		if err != nil {
			s.jsonError(w, "Invalid date format (use YYYY-MM-DD or RFC 3339)", http.StatusBadRequest)
			return
		}
	}

	exam, err := s.exams.Create(r.Context(), req.Name, req.Subject, date)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.sched.OnExamsChanged(r.Context())

	s.jsonStatus(w, s.examToResponse(exam), http.StatusCreated)
}

// POST /api/exams/{id}/done
func (s *Server) completeExam(w http.ResponseWriter, r *http.Request) {
	if err := s.exams.Complete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.examError(w, err)
		return
	}
	s.sched.OnExamsChanged(r.Context())
	s.jsonResponse(w, map[string]bool{"done": true})
}

// PUT /api/exams/{id}/grade
func (s *Server) gradeExam(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Grade *float64 `json:"grade"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Grade == nil {
		s.jsonError(w, "Grade is required", http.StatusBadRequest)
		return
	}

	if err := s.exams.SetGrade(r.Context(), chi.URLParam(r, "id"), *req.Grade); err != nil {
		s.examError(w, err)
		return
	}
	s.sched.OnExamsChanged(r.Context())
	s.jsonResponse(w, map[string]float64{"grade": *req.Grade})
}

// DELETE /api/exams/{id}
func (s *Server) deleteExam(w http.ResponseWriter, r *http.Request) {
	if err := s.exams.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.examError(w, err)
		return
	}
	s.sched.OnExamsChanged(r.Context())
	s.jsonResponse(w, map[string]bool{"deleted": true})
}

func (s *Server) examError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrExamNotFound) {
		s.jsonError(w, "Exam not found", http.StatusNotFound)
		return
	}
	s.jsonError(w, err.Error(), http.StatusBadRequest)
}

// GET /api/settings
func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.Get(r.Context())
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, settingsToResponse(settings))
}

// PUT /api/settings
// Missing fields keep their current value.
func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled               *bool   `json:"enabled"`
		ReminderDays          *int    `json:"reminder_days"`
		ReminderTime          *string `json:"reminder_time"`
		AutoSchedulingEnabled *bool   `json:"auto_scheduling_enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	var clock *domain.ClockTime
	if req.ReminderTime != nil {
		c, err := service.ParseClockTime(*req.ReminderTime)
		if err != nil {
			s.jsonError(w, "Invalid reminder_time (use HH:MM)", http.StatusBadRequest)
			return
		}
		clock = &c
	}

	updated, err := s.settings.Update(r.Context(), func(settings *domain.NotificationSettings) {
		if req.Enabled != nil {
			settings.Enabled = *req.Enabled
		}
		if req.ReminderDays != nil {
			settings.ReminderDays = *req.ReminderDays
		}
		if clock != nil {
			settings.ReminderTime = *clock
		}
		if req.AutoSchedulingEnabled != nil {
			settings.AutoSchedulingEnabled = *req.AutoSchedulingEnabled
		}
	})
	if errors.Is(err, domain.ErrInvalidSettings) {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, settingsToResponse(updated))
}

// POST /api/notifications/sync
func (s *Server) syncNotifications(w http.ResponseWriter, r *http.Request) {
	result, err := s.sched.ManualSync(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Manual sync failed")
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, syncToResponse(result))
}

// POST /api/notifications/reset
func (s *Server) resetNotifications(w http.ResponseWriter, r *http.Request) {
	result, err := s.sched.ResetAndRescheduleAll(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Reset failed")
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, syncToResponse(result))
}

// GET /api/notifications/status
func (s *Server) notificationStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	upcoming, err := s.sched.UpcomingExamCount(ctx)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	scheduled, err := s.sched.ScheduledNotificationCount(ctx)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, StatusResponse{
		Running:                s.sched.IsRunning(),
		UpcomingExams:          upcoming,
		ScheduledNotifications: scheduled,
		Settings:               settingsToResponse(settings),
	})
}

// POST /api/lifecycle {"state": "active"}
func (s *Server) publishLifecycle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	event, ok := lifecycle.ParseEvent(req.State)
	if !ok {
		s.jsonError(w, "Unknown state", http.StatusBadRequest)
		return
	}

	s.hub.Publish(event)
	s.jsonStatus(w, map[string]string{"event": event.String()}, http.StatusAccepted)
}

func (s *Server) examsToResponse(exams []*domain.Exam) []ExamResponse {
	result := make([]ExamResponse, 0, len(exams))
	for _, e := range exams {
		result = append(result, s.examToResponse(e))
	}
	return result
}

func (s *Server) examToResponse(e *domain.Exam) ExamResponse {
	resp := ExamResponse{
		ID:             e.ID,
		Name:           e.Name,
		Subject:        e.Subject,
		Date:           e.Date.In(s.location).Format(time.RFC3339),
		IsCompleted:    e.IsCompleted,
		Grade:          e.Grade,
		Notes:          e.Notes,
		NotificationID: service.DeriveNotificationID(e.ID, e.Date),
	}
	if now := time.Now(); e.IsUpcoming(now) {
		days := e.DaysUntil(now)
		resp.DaysUntil = &days
	}
	return resp
}

func settingsToResponse(s *domain.NotificationSettings) SettingsResponse {
	return SettingsResponse{
		Enabled:               s.Enabled,
		ReminderDays:          s.ReminderDays,
		ReminderTime:          s.ReminderTime.String(),
		AutoSchedulingEnabled: s.AutoSchedulingEnabled,
	}
}

func syncToResponse(r *scheduler.SyncResult) SyncResponse {
	return SyncResponse{
		Trigger:   string(r.Trigger),
		Skipped:   r.Skipped,
		Disabled:  r.Disabled,
		Required:  r.Required,
		Scheduled: r.Scheduled,
		Cancelled: r.Cancelled,
		Failed:    r.Failed,
	}
}
