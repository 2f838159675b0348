package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "tailormp"

// OrderMetrics counts accepted order state transitions.
type OrderMetrics struct {
	transitions *prometheus.CounterVec
}

// NewOrderMetrics registers the order metrics on the provided registerer.
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_transitions_total",
		Help:      "Accepted order status transitions.",
	}, []string{"from", "to", "trigger"})
	reg.MustRegister(transitions)
	return &OrderMetrics{transitions: transitions}
}

// ObserveTransition records an applied transition. An empty from means creation.
func (m *OrderMetrics) ObserveTransition(from, to, trigger string) {
	if m == nil || m.transitions == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.transitions.WithLabelValues(from, normalizeLabel(to), normalizeLabel(trigger)).Inc()
}

// CheckoutMetrics counts checkout session attempts by outcome.
type CheckoutMetrics struct {
	sessions *prometheus.CounterVec
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	sessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkout_sessions_total",
		Help:      "Checkout session creation attempts.",
	}, []string{"outcome"})
	reg.MustRegister(sessions)
	return &CheckoutMetrics{sessions: sessions}
}

// IncSession records a checkout session attempt.
func (m *CheckoutMetrics) IncSession(outcome string) {
	if m == nil || m.sessions == nil {
		return
	}
	m.sessions.WithLabelValues(normalizeLabel(outcome)).Inc()
}
