package telemetry

import "github.com/prometheus/client_golang/prometheus"

// SignalingMetrics records relay activity. Its method set satisfies the
// telehealth.Metrics interface.
type SignalingMetrics struct {
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsEnded   prometheus.Counter
	SessionsExpired prometheus.Counter
	Descriptions    *prometheus.CounterVec
	Candidates      *prometheus.CounterVec
	Unauthorized    *prometheus.CounterVec
}

func newSignalingMetrics(constLabels prometheus.Labels) *SignalingMetrics {
	return &SignalingMetrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "signaling_active_sessions",
			Help:        "Signaling sessions currently held in the registry.",
			ConstLabels: constLabels,
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "signaling_sessions_created_total",
			Help:        "Signaling sessions created.",
			ConstLabels: constLabels,
		}),
		SessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "signaling_sessions_ended_total",
			Help:        "Signaling sessions ended by a participant.",
			ConstLabels: constLabels,
		}),
		SessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "signaling_sessions_expired_total",
			Help:        "Signaling sessions removed after sitting idle.",
			ConstLabels: constLabels,
		}),
		Descriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "signaling_descriptions_total",
			Help:        "Session descriptions posted, by kind (offer or answer).",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		Candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "signaling_candidates_total",
			Help:        "ICE candidates posted, by outcome (stored or dropped).",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		Unauthorized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "signaling_unauthorized_total",
			Help:        "Relay calls rejected because the caller is not a participant.",
			ConstLabels: constLabels,
		}, []string{"operation"}),
	}
}

func (m *SignalingMetrics) register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.ActiveSessions,
		m.SessionsCreated,
		m.SessionsEnded,
		m.SessionsExpired,
		m.Descriptions,
		m.Candidates,
		m.Unauthorized,
	)
}

func (m *SignalingMetrics) SessionCreated() {
	m.SessionsCreated.Inc()
	m.ActiveSessions.Inc()
}

func (m *SignalingMetrics) SessionEnded() {
	m.SessionsEnded.Inc()
	m.ActiveSessions.Dec()
}

func (m *SignalingMetrics) SessionExpired() {
	m.SessionsExpired.Inc()
	m.ActiveSessions.Dec()
}

func (m *SignalingMetrics) DescriptionPosted(kind string) {
	m.Descriptions.WithLabelValues(kind).Inc()
}

func (m *SignalingMetrics) CandidatePosted(stored bool) {
	outcome := "dropped"
	if stored {
		outcome = "stored"
	}
	m.Candidates.WithLabelValues(outcome).Inc()
}

func (m *SignalingMetrics) Rejected(operation string) {
	m.Unauthorized.WithLabelValues(operation).Inc()
}
