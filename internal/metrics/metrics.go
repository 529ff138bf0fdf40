// Package metrics exposes Prometheus collectors for repository loads and
// widget activity. All methods are safe on a nil receiver.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "volcal"

// RepositoryMetrics implements repository.Observer.
type RepositoryMetrics struct {
	loadsTotal   *prometheus.CounterVec
	loadDuration *prometheus.HistogramVec
	sessions     prometheus.Gauge
}

func NewRepositoryMetrics(reg prometheus.Registerer) *RepositoryMetrics {
	m := &RepositoryMetrics{
		loadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repository",
			Name:      "loads_total",
			Help:      "Completed repository loads by source and origin",
		}, []string{"source", "origin"}),
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "repository",
			Name:      "load_duration_seconds",
			Help:      "Time spent building the session index",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "repository",
			Name:      "sessions",
			Help:      "Sessions in the current index",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.loadsTotal, m.loadDuration, m.sessions)
	return m
}

func (m *RepositoryMetrics) ObserveLoad(source, origin string, sessions int, d time.Duration) {
	if m == nil {
		return
	}
	m.loadsTotal.WithLabelValues(source, origin).Inc()
	m.loadDuration.WithLabelValues(source).Observe(d.Seconds())
	m.sessions.Set(float64(sessions))
}

// WidgetMetrics implements widget.Observer and tracks live widgets.
type WidgetMetrics struct {
	eventsTotal *prometheus.CounterVec
	active      prometheus.Gauge
}

func NewWidgetMetrics(reg prometheus.Registerer) *WidgetMetrics {
	m := &WidgetMetrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "widget",
			Name:      "events_total",
			Help:      "Widget events by type and outcome",
		}, []string{"event", "accepted"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "widget",
			Name:      "active",
			Help:      "Widgets currently held by the web host",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.eventsTotal, m.active)
	return m
}

func (m *WidgetMetrics) ObserveEvent(event string, accepted bool) {
	if m == nil {
		return
	}
	label := "false"
	if accepted {
		label = "true"
	}
	m.eventsTotal.WithLabelValues(event, label).Inc()
}

func (m *WidgetMetrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.active.Set(float64(n))
}
