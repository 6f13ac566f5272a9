package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/example/helpdesk-realtime/domain/presence"
)

// Metrics are the core's prometheus collectors.
type Metrics struct {
	connections prometheus.Gauge
	messages    *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// NewMetrics registers the core's collectors with reg. rooms reports the
// current number of rooms.
func NewMetrics(reg prometheus.Registerer, rooms func() int) *Metrics {
	factory := promauto.With(reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "helpdesk",
		Name:      "rooms",
		Help:      "Number of non-empty rooms.",
	}, func() float64 { return float64(rooms()) })

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "helpdesk",
			Name:      "connections",
			Help:      "Number of live client connections.",
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Name:      "messages_total",
			Help:      "Chat messages handled, by result.",
		}, []string{"result"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Name:      "deliveries_dropped_total",
			Help:      "Outbound events dropped because the target connection could not accept them.",
		}, []string{"event"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Name:      "presence_transitions_total",
			Help:      "Presence transitions, by new status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) connected()    { m.connections.Inc() }
func (m *Metrics) disconnected() { m.connections.Dec() }

func (m *Metrics) message(result string) {
	m.messages.WithLabelValues(result).Inc()
}

func (m *Metrics) drop(event string) {
	m.dropped.WithLabelValues(event).Inc()
}

func (m *Metrics) transition(status presence.Status) {
	m.transitions.WithLabelValues(string(status)).Inc()
}
