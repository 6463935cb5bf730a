// Package metrics exposes engine counters and gauges for Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the appblock collectors.
type Metrics struct {
	SessionsStarted   *prometheus.CounterVec
	SessionsEnded     *prometheus.CounterVec
	SessionDuration   *prometheus.HistogramVec
	SessionsActive    *prometheus.GaugeVec
	Restrictions      prometheus.Gauge
	SchedulesBlocking prometheus.Gauge
	FocusPhases       *prometheus.CounterVec
	Interruptions     prometheus.Counter
	MonitorCallbacks  *prometheus.CounterVec
	ProcessesKilled   prometheus.Counter
	EnforceDuration   prometheus.Histogram
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appblock_sessions_started_total",
				Help: "Blocking sessions started, by session type",
			},
			[]string{"type"},
		),
		SessionsEnded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appblock_sessions_ended_total",
				Help: "Blocking sessions ended, by session type and outcome",
			},
			[]string{"type", "outcome"},
		),
		SessionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appblock_session_duration_minutes",
				Help:    "Actual duration of ended blocking sessions",
				Buckets: []float64{5, 15, 25, 30, 60, 120, 240, 480},
			},
			[]string{"type"},
		),
		SessionsActive: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "appblock_sessions_active",
				Help: "Active blocking sessions, by session type",
			},
			[]string{"type"},
		),
		Restrictions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "appblock_restrictions_applied",
				Help: "Restriction stores currently applied",
			},
		),
		SchedulesBlocking: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "appblock_schedules_blocking",
				Help: "Schedules whose window is currently blocking",
			},
		),
		FocusPhases: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appblock_focus_phases_total",
				Help: "Focus cycle phases finished, by phase",
			},
			[]string{"phase"},
		),
		Interruptions: f.NewCounter(
			prometheus.CounterOpts{
				Name: "appblock_interruptions_total",
				Help: "Threshold-triggered interruption blocks",
			},
		),
		MonitorCallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appblock_monitor_callbacks_total",
				Help: "Activity monitor callbacks fired, by kind",
			},
			[]string{"kind"},
		),
		ProcessesKilled: f.NewCounter(
			prometheus.CounterOpts{
				Name: "appblock_processes_killed_total",
				Help: "Processes of restricted apps terminated",
			},
		),
		EnforceDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "appblock_enforce_duration_seconds",
				Help:    "Duration of one enforcement pass",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// RecordSessionStarted counts a started session.
func (m *Metrics) RecordSessionStarted(sessionType string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(sessionType).Inc()
	m.SessionsActive.WithLabelValues(sessionType).Inc()
}

// RecordSessionEnded counts an ended session and observes its duration.
func (m *Metrics) RecordSessionEnded(sessionType string, completed bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "interrupted"
	if completed {
		outcome = "completed"
	}
	m.SessionsEnded.WithLabelValues(sessionType, outcome).Inc()
	m.SessionDuration.WithLabelValues(sessionType).Observe(d.Minutes())
	m.SessionsActive.WithLabelValues(sessionType).Dec()
}

// SetActiveSessions overwrites the active gauge of one type. The monitor
// uses it to resync with sessions started by the other process.
func (m *Metrics) SetActiveSessions(sessionType string, n int) {
	if m == nil {
		return
	}
	m.SessionsActive.WithLabelValues(sessionType).Set(float64(n))
}

// SetRestrictions sets the number of applied restriction stores.
func (m *Metrics) SetRestrictions(n int) {
	if m == nil {
		return
	}
	m.Restrictions.Set(float64(n))
}

// SetSchedulesBlocking sets the number of blocking schedules.
func (m *Metrics) SetSchedulesBlocking(n int) {
	if m == nil {
		return
	}
	m.SchedulesBlocking.Set(float64(n))
}

// RecordPhaseEnded counts a finished focus or break phase.
func (m *Metrics) RecordPhaseEnded(phase string) {
	if m == nil {
		return
	}
	m.FocusPhases.WithLabelValues(phase).Inc()
}

// IncInterruptions counts a triggered interruption.
func (m *Metrics) IncInterruptions() {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
}

// RecordCallback counts a monitor callback ("interval_start", "interval_end", "threshold").
func (m *Metrics) RecordCallback(kind string) {
	if m == nil {
		return
	}
	m.MonitorCallbacks.WithLabelValues(kind).Inc()
}

// RecordEnforcement observes one enforcement pass.
func (m *Metrics) RecordEnforcement(killed int, d time.Duration) {
	if m == nil {
		return
	}
	m.ProcessesKilled.Add(float64(killed))
	m.EnforceDuration.Observe(d.Seconds())
}
