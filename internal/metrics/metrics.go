package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry       *prometheus.Registry
	passesTotal    *prometheus.CounterVec
	passDuration   prometheus.Histogram
	scheduledTotal prometheus.Counter
	cancelledTotal prometheus.Counter
	failedTotal    prometheus.Counter
	deliveredTotal *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		passesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "examtracker_scheduling_passes_total",
				Help: "Scheduling checks by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
		passDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "examtracker_scheduling_pass_duration_seconds",
				Help:    "Duration of reconciliation passes in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		scheduledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "examtracker_notifications_scheduled_total",
				Help: "Exam reminders handed to the notification backend",
			},
		),
		cancelledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "examtracker_notifications_cancelled_total",
				Help: "Exam reminders cancelled on the notification backend",
			},
		),
		failedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "examtracker_notification_schedule_failures_total",
				Help: "Exam reminders the backend refused to schedule",
			},
		),
		deliveredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "examtracker_notifications_delivered_total",
				Help: "Local notifications dispatched, by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.passesTotal,
		m.passDuration,
		m.scheduledTotal,
		m.cancelledTotal,
		m.failedTotal,
		m.deliveredTotal,
	)

	return m
}

// The methods below are nil-safe so components can run without metrics.

func (m *Metrics) ObservePass(trigger, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.passesTotal.WithLabelValues(trigger, outcome).Inc()
	if outcome != "skipped" {
		m.passDuration.Observe(seconds)
	}
}

func (m *Metrics) AddApplied(scheduled, cancelled, failed int) {
	if m == nil {
		return
	}
	m.scheduledTotal.Add(float64(scheduled))
	m.cancelledTotal.Add(float64(cancelled))
	m.failedTotal.Add(float64(failed))
}

func (m *Metrics) ObserveDelivery(ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.deliveredTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
