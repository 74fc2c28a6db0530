package authapi

import "github.com/prometheus/client_golang/prometheus"

// Metric label values.
const (
	resultOK       = "ok"
	resultInvalid  = "invalid"
	resultRevoked  = "revoked"
	resultLimited  = "rate_limited"
	resultConflict = "conflict"
	resultError    = "error"
)

// Metrics holds the auth API counters. A nil *Metrics records nothing.
type Metrics struct {
	LoginAttempts *prometheus.CounterVec
	Registrations *prometheus.CounterVec
	SessionChecks *prometheus.CounterVec
	LinkChanges   *prometheus.CounterVec
}

// NewMetrics creates the auth counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eduplay",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eduplay",
			Subsystem: "auth",
			Name:      "registrations_total",
			Help:      "Account registrations by role and result.",
		}, []string{"role", "result"}),
		SessionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eduplay",
			Subsystem: "auth",
			Name:      "session_checks_total",
			Help:      "Session token validations by result.",
		}, []string{"result"}),
		LinkChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eduplay",
			Subsystem: "auth",
			Name:      "account_link_changes_total",
			Help:      "Supervisor-child operations (link, unlink, create_child, play_as_child) by result.",
		}, []string{"op", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.LoginAttempts, m.Registrations, m.SessionChecks, m.LinkChanges)
	}
	return m
}

func (m *Metrics) login(result string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) register(role, result string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(role, result).Inc()
}

func (m *Metrics) session(result string) {
	if m == nil {
		return
	}
	m.SessionChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) link(op, result string) {
	if m == nil {
		return
	}
	m.LinkChanges.WithLabelValues(op, result).Inc()
}
