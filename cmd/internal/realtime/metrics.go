package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the gateway's prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	connections prometheus.Gauge
	rooms       prometheus.Gauge
	inbound     *prometheus.CounterVec
	outbound    *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	dropped     prometheus.Counter
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "coop",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open participant websocket connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "coop",
			Name:      "rooms",
			Help:      "Live co-op sessions.",
		}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coop",
			Subsystem: "ws",
			Name:      "envelopes_in_total",
			Help:      "Envelopes received from participants, by type.",
		}, []string{"type"}),
		outbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coop",
			Subsystem: "ws",
			Name:      "envelopes_out_total",
			Help:      "Envelopes queued to participants, by type.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coop",
			Subsystem: "ws",
			Name:      "rejected_total",
			Help:      "Envelopes answered with an error, by code.",
		}, []string{"code"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coop",
			Subsystem: "ws",
			Name:      "dropped_total",
			Help:      "Envelopes dropped because a participant queue was full.",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.connections, m.rooms, m.inbound, m.outbound, m.rejected, m.dropped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) setRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

func (m *Metrics) in(typ string) {
	if m != nil {
		m.inbound.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) out(typ string) {
	if m != nil {
		m.outbound.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) reject(code string) {
	if m != nil {
		m.rejected.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) drop() {
	if m != nil {
		m.dropped.Inc()
	}
}
