// Package metrics groups the Prometheus instruments the bot exports.
// Every method is safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	ConnectAttempts *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	Corrections     *prometheus.CounterVec
	Playbacks       *prometheus.CounterVec
	MuteEvents      *prometheus.CounterVec
	Unmutes         *prometheus.CounterVec
	PendingUnmutes  prometheus.Gauge
	Greetings       *prometheus.CounterVec
	Transcodes      *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ConnectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_connect_attempts_total",
			Help:      "Voice connect attempts by outcome.",
		}, []string{"outcome"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voice_active_sessions",
			Help:      "Guilds with a live voice connection.",
		}),
		Corrections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_home_corrections_total",
			Help:      "Corrective actions taken to return to the home channel.",
		}, []string{"action", "trigger"}),
		Playbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_playbacks_total",
			Help:      "Playback requests by result.",
		}, []string{"result"}),
		MuteEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutewatch_events_total",
			Help:      "Server mute detections by the stage they ended in.",
		}, []string{"stage"}),
		Unmutes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutewatch_unmutes_total",
			Help:      "Scheduled unmute tasks by terminal outcome.",
		}, []string{"outcome"}),
		PendingUnmutes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mutewatch_pending_unmutes",
			Help:      "Unmute tasks waiting for their delay.",
		}),
		Greetings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "greetings_total",
			Help:      "Join greetings by outcome.",
		}, []string{"outcome"}),
		Transcodes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_transcodes_total",
			Help:      "Catalogue files processed by the transcoder, by result.",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectAttempt(outcome string) {
	if m != nil {
		m.ConnectAttempts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SetActiveSessions(n int) {
	if m != nil {
		m.ActiveSessions.Set(float64(n))
	}
}

func (m *Metrics) Correction(action, trigger string) {
	if m != nil {
		m.Corrections.WithLabelValues(action, trigger).Inc()
	}
}

func (m *Metrics) Playback(result string) {
	if m != nil {
		m.Playbacks.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) MuteEvent(stage string) {
	if m != nil {
		m.MuteEvents.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) Unmute(outcome string) {
	if m != nil {
		m.Unmutes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) PendingUnmute(delta float64) {
	if m != nil {
		m.PendingUnmutes.Add(delta)
	}
}

func (m *Metrics) Greeting(outcome string) {
	if m != nil {
		m.Greetings.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Transcode(result string) {
	if m != nil {
		m.Transcodes.WithLabelValues(result).Inc()
	}
}
