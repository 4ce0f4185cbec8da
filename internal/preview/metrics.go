package preview

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the preview engine. A nil
// *Metrics records nothing.
type Metrics struct {
	Mounts          *prometheus.CounterVec
	Events          *prometheus.CounterVec
	CompileDuration prometheus.Histogram
	MountDuration   prometheus.Histogram
	DroppedReports  prometheus.Counter
}

// NewMetrics registers the collectors with reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Mounts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "previewkit_mounts_total",
				Help: "Total number of surface mounts by outcome",
			},
			[]string{"outcome"},
		),
		Events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "previewkit_render_events_total",
				Help: "Total number of render events by kind",
			},
			[]string{"kind"},
		),
		CompileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "previewkit_compile_duration_seconds",
			Help:    "JSX compile duration in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		MountDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "previewkit_mount_duration_seconds",
			Help:    "Surface reconstruction duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		DroppedReports: factory.NewCounter(prometheus.CounterOpts{
			Name: "previewkit_reports_dropped_total",
			Help: "Reporter calls dropped by throttling",
		}),
	}
}

func (m *Metrics) observeMount(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Mounts.WithLabelValues(outcome).Inc()
	m.MountDuration.Observe(d.Seconds())
}

func (m *Metrics) observeCompile(d time.Duration) {
	if m == nil {
		return
	}
	m.CompileDuration.Observe(d.Seconds())
}

func (m *Metrics) recordEvent(kind EventKind) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) recordDropped() {
	if m == nil {
		return
	}
	m.DroppedReports.Inc()
}
