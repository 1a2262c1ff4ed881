package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/tazhate/examtracker/config"
	"github.com/tazhate/examtracker/internal/lifecycle"
	"github.com/tazhate/examtracker/internal/metrics"
	"github.com/tazhate/examtracker/internal/scheduler"
	"github.com/tazhate/examtracker/internal/service"
)

// APIResponse wraps every JSON reply
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type Server struct {
	cfg      *config.Config
	exams    *service.ExamService
	settings *service.SettingsService
	sched    *scheduler.Scheduler
	hub      *lifecycle.Hub
	metrics  *metrics.Metrics
	location *time.Location
	webhook  http.Handler
	log      logrus.FieldLogger
}

func New(cfg *config.Config, exams *service.ExamService, settings *service.SettingsService, sched *scheduler.Scheduler, hub *lifecycle.Hub, log logrus.FieldLogger) *Server {
	location := cfg.Timezone
	if location == nil {
		location = time.UTC
	}
	return &Server{
		cfg:      cfg,
		exams:    exams,
		settings: settings,
		sched:    sched,
		hub:      hub,
		location: location,
		log:      log.WithField("component", "api"),
	}
}

func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetWebhook mounts the Telegram update handler at POST /bot.
func (s *Server) SetWebhook(h http.Handler) {
	s.webhook = h
}

// Router builds the HTTP handler. /api is only mounted when API
// credentials are configured.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	if s.webhook != nil {
		r.Post("/bot", s.webhook.ServeHTTP)
	}

	if s.cfg.APIUsername == "" || s.cfg.APIPassword == "" {
		return r
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.basicAuth)

		r.Get("/exams", s.listExams)
		r.Post("/exams", s.createExam)
		r.Get("/exams/upcoming", s.listUpcomingExams)
		r.Post("/exams/{id}/done", s.completeExam)
		r.Put("/exams/{id}/grade", s.gradeExam)
		r.Delete("/exams/{id}", s.deleteExam)

		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.updateSettings)

		r.Post("/notifications/sync", s.syncNotifications)
		r.Post("/notifications/reset", s.resetNotifications)
		r.Get("/notifications/status", s.notificationStatus)

		r.Post("/lifecycle", s.publishLifecycle)
	})

	return r
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || username != s.cfg.APIUsername || password != s.cfg.APIPassword {
			w.Header().Set("WWW-Authenticate", `Basic realm="ExamTracker API"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	s.jsonStatus(w, data, http.StatusOK)
}

func (s *Server) jsonStatus(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func (s *Server) jsonError(w http.ResponseWriter, err string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: err})
}
