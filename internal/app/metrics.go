package app

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the directory's Prometheus collectors. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	rooms    prometheus.Gauge
	users    prometheus.Gauge
	joins    *prometheus.CounterVec
	rejected *prometheus.CounterVec
	kicks    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lobby",
			Name:      "rooms_active",
			Help:      "Rooms currently held by the directory.",
		}),
		users: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lobby",
			Name:      "users_active",
			Help:      "Users currently registered in any room.",
		}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lobby",
			Name:      "joins_total",
			Help:      "Successful joins by kind.",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lobby",
			Name:      "joins_rejected_total",
			Help:      "Rejected joins by reason.",
		}, []string{"reason"}),
		kicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lobby",
			Name:      "vote_kicks_total",
			Help:      "Members removed by vote-kick.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.rooms, m.users, m.joins, m.rejected, m.kicks)
	}
	return m
}

func (m *Metrics) setGauges(rooms, users int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(rooms))
	m.users.Set(float64(users))
}

func (m *Metrics) joined(kind string) {
	if m == nil {
		return
	}
	m.joins.WithLabelValues(kind).Inc()
}

func (m *Metrics) rejectedJoin(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) kicked(n int) {
	if m == nil || n == 0 {
		return
	}
	m.kicks.Add(float64(n))
}
