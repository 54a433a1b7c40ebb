package board

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the board server. A nil
// *Metrics records nothing.
type Metrics struct {
	events      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	framesSent  *prometheus.CounterVec
	framesDrop  *prometheus.CounterVec
	connections prometheus.Gauge
	evicted     prometheus.Counter
}

// NewMetrics registers the board collectors with reg. sessions, when not
// nil, backs a gauge of live sessions.
func NewMetrics(reg prometheus.Registerer, sessions func() int) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "board",
			Name:      "events_total",
			Help:      "Inbound events handled, by event and outcome.",
		}, []string{"event", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "board",
			Name:      "event_duration_seconds",
			Help:      "Time from dispatch to fan-out queued.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"event"}),
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "board",
			Name:      "frames_sent_total",
			Help:      "Outbound frames queued to connections.",
		}, []string{"event"}),
		framesDrop: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "board",
			Name:      "frames_dropped_total",
			Help:      "Outbound frames dropped because a connection could not keep up.",
		}, []string{"event"}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "board",
			Name:      "connections",
			Help:      "Open participant connections.",
		}),
		evicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "board",
			Name:      "sessions_evicted_total",
			Help:      "Empty sessions evicted by the registry sweep.",
		}),
	}
	if sessions != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "board",
			Name:      "sessions",
			Help:      "Live sessions in the registry.",
		}, func() float64 { return float64(sessions()) })
	}
	return m
}

func (m *Metrics) observeEvent(event, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event, outcome).Inc()
	m.duration.WithLabelValues(event).Observe(seconds)
}

func (m *Metrics) observeFanout(event string, sent, dropped int) {
	if m == nil {
		return
	}
	if sent > 0 {
		m.framesSent.WithLabelValues(event).Add(float64(sent))
	}
	if dropped > 0 {
		m.framesDrop.WithLabelValues(event).Add(float64(dropped))
	}
}

// ConnectionOpened and ConnectionClosed track the open connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

// SessionEvicted counts one session removed by the registry sweep. It fits
// state.RegistryOptions.OnEvict.
func (m *Metrics) SessionEvicted(string) {
	if m != nil {
		m.evicted.Inc()
	}
}
