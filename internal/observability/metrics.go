package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ActiveWidgets   prometheus.Gauge
	WidgetEvents    *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec
	Submissions     *prometheus.CounterVec
	Failures        *prometheus.CounterVec
	RecordingEvents *prometheus.CounterVec
	PlaybackEvents  *prometheus.CounterVec
	SubmitLatency   prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveWidgets: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_widgets",
			Help:      "Number of open chat widget instances.",
		}),
		WidgetEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "widget_events_total",
			Help:      "Widget lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Agent submissions by request kind and result.",
		}, []string{"kind", "result"}),
		Failures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Interaction failures by classified kind.",
		}, []string{"kind"}),
		RecordingEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_events_total",
			Help:      "Recording session transitions by event.",
		}, []string{"event"}),
		PlaybackEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_events_total",
			Help:      "Playback arbiter events by type.",
		}, []string{"event"}),
		SubmitLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submit_latency_ms",
			Help:      "Latency of agent submissions in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) IncWidgetEvent(event string) {
	if m == nil {
		return
	}
	m.WidgetEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) IncWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) IncSubmission(kind, result string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) IncFailure(kind string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncRecordingEvent(event string) {
	if m == nil {
		return
	}
	m.RecordingEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) IncPlaybackEvent(event string) {
	if m == nil {
		return
	}
	m.PlaybackEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) WidgetOpened() {
	if m == nil {
		return
	}
	m.ActiveWidgets.Inc()
	m.IncWidgetEvent("opened")
}

func (m *Metrics) WidgetClosed(reason string) {
	if m == nil {
		return
	}
	m.ActiveWidgets.Dec()
	m.IncWidgetEvent("closed_" + reason)
}

// ObserveStage records d under stage in the rolling latency window. The "submit"
// stage also feeds the Prometheus histogram.
func (m *Metrics) ObserveStage(stage Stage, d time.Duration) {
	if m == nil {
		return
	}
	if stage == StageSubmit {
		m.SubmitLatency.Observe(float64(d.Microseconds()) / 1000)
	}
	m.stages.observe(stage, d)
}

func (m *Metrics) StageSnapshot() StageSnapshot {
	if m == nil {
		return newStageWindow(0).snapshot()
	}
	return m.stages.snapshot()
}

func (m *Metrics) ResetStages() {
	if m == nil {
		return
	}
	m.stages.clear()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
