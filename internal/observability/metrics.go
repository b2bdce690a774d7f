package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions      prometheus.Gauge
	SessionEvents       *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	StageErrors         *prometheus.CounterVec
	ExecutionDuration   *prometheus.HistogramVec
	FirstAudioLatency   prometheus.Histogram
	UtterancesSegmented prometheus.Counter

	// Latency keeps a rolling window of per-interaction stage latencies.
	Latency *LatencyWindow
}

// NewMetrics registers the instruments with reg. A nil reg means the default
// Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of loaded conversation sessions.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		StageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Pipeline stage failures by graph and node.",
		}, []string{"graph", "node"}),
		ExecutionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of a pipeline execution from start to interaction end.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"graph", "outcome"}),
		FirstAudioLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency to first assistant audio chunk in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000},
		}),
		UtterancesSegmented: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_segmented_total",
			Help:      "Utterances finalized by the speech segmenter.",
		}),
		Latency: NewLatencyWindow(0),
	}
}

func (m *Metrics) ObserveFirstAudioLatency(graph string, d time.Duration) {
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
	m.Latency.Observe(graph, StageFirstAudio, d)
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
