package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "clearance"

// Metrics holds the service's collectors. A nil *Metrics records nothing.
type Metrics struct {
	requestsCreated     prometheus.Counter
	resolutions         *prometheus.CounterVec
	terminalTransitions *prometheus.CounterVec
	statusTransitions   *prometheus.CounterVec
	resolveDuration     *prometheus.HistogramVec
	eventsPublished     *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requestsCreated: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_created_total",
				Help:      "Total number of clearance requests created",
			},
		),
		resolutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_resolutions_total",
				Help:      "Step resolution attempts by outcome and result",
			},
			[]string{"outcome", "result"},
		),
		terminalTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terminal_transitions_total",
				Help:      "Requests reaching a terminal status",
			},
			[]string{"status"},
		),
		statusTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_transitions_total",
				Help:      "Macro status transitions by target status",
			},
			[]string{"status"},
		),
		resolveDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolution_duration_seconds",
				Help:      "Time spent inside the per-request critical section",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		eventsPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Notification events by type and result",
			},
			[]string{"type", "result"},
		),
	}
}

func (m *Metrics) RequestCreated() {
	if m == nil {
		return
	}
	m.requestsCreated.Inc()
}

// Resolution records one resolution attempt. result is "ok" or an error kind.
func (m *Metrics) Resolution(outcome, result string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome, result).Inc()
}

func (m *Metrics) StatusTransition(status string, terminal bool) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(status).Inc()
	if terminal {
		m.terminalTransitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) ObserveDuration(operation string, started time.Time) {
	if m == nil {
		return
	}
	m.resolveDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) EventPublished(eventType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.eventsPublished.WithLabelValues(eventType, result).Inc()
}
