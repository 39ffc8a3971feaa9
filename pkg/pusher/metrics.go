package pusher

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus meters the client reports into. Pass one
// via WithMetrics to enable instrumentation; a nil Metrics disables it.
type Metrics struct {
	ConnectionState *prometheus.GaugeVec
	EventsReceived  *prometheus.CounterVec
	Reconnects      prometheus.Counter
	TriggerDuration *prometheus.HistogramVec
	FramesDropped   prometheus.Counter
}

// NewMetrics creates the client meters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pusherkit_connection_state",
			Help: "Current connection state (1 for the active state, 0 otherwise).",
		}, []string{"state"}),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pusherkit_events_received_total",
			Help: "Total decoded events received, by event class.",
		}, []string{"class"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pusherkit_reconnects_total",
			Help: "Total reconnection attempts.",
		}),
		TriggerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pusherkit_trigger_duration_seconds",
			Help:    "Duration of signed REST trigger calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pusherkit_frames_dropped_total",
			Help: "Total inbound frames dropped as unparseable.",
		}),
	}
	reg.MustRegister(m.ConnectionState, m.EventsReceived, m.Reconnects, m.TriggerDuration, m.FramesDropped)
	return m
}

func (m *Metrics) setState(s ConnectionState) {
	if m == nil {
		return
	}
	for _, st := range []ConnectionState{Disconnected, Connecting, Connected, Reconnecting, Failed} {
		v := 0.0
		if st == s {
			v = 1.0
		}
		m.ConnectionState.WithLabelValues(st.String()).Set(v)
	}
}

func (m *Metrics) eventReceived(ev Event) {
	if m == nil {
		return
	}
	class := "channel"
	if ev.IsSystem() {
		class = "system"
	}
	m.EventsReceived.WithLabelValues(class).Inc()
}

func (m *Metrics) reconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) frameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

func (m *Metrics) observeTrigger(operation, status string, seconds float64) {
	if m == nil {
		return
	}
	m.TriggerDuration.WithLabelValues(operation, status).Observe(seconds)
}
