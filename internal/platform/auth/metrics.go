package auth

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts authentication outcomes. A nil *Metrics records nothing.
type Metrics struct {
	logins         *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	apiAuth        *prometheus.CounterVec
	invitationsUse *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Browser login callbacks by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_session_refreshes_total",
			Help: "Access token refresh attempts by result.",
		}, []string{"result"}),
		apiAuth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_api_requests_total",
			Help: "Bearer-token authentication attempts by result.",
		}, []string{"result"}),
		invitationsUse: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_invitations_accepted_total",
			Help: "Invitations applied at login, by how they were found.",
		}, []string{"source"}),
	}
	reg.MustRegister(m.logins, m.refreshes, m.apiAuth, m.invitationsUse)
	return m
}

func (m *Metrics) login(result string) {
	if m != nil {
		m.logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) refresh(result string) {
	if m != nil {
		m.refreshes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) api(result string) {
	if m != nil {
		m.apiAuth.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) invitation(source string) {
	if m != nil {
		m.invitationsUse.WithLabelValues(source).Inc()
	}
}
