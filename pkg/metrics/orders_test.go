package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestOrderMetricsCountsTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetrics(reg)
	m.ObserveTransition("pending", "paid", "webhook")
	m.ObserveTransition("pending", "paid", "webhook")
	m.ObserveTransition("", "pending", "checkout")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got := counterWithLabels(mfs, "tailormp_orders_transitions_total", map[string]string{"from": "pending", "to": "paid", "trigger": "webhook"}); got != 2 {
		t.Fatalf("expected 2 paid transitions, got %f", got)
	}
	if got := counterWithLabels(mfs, "tailormp_orders_transitions_total", map[string]string{"from": "none", "to": "pending"}); got != 1 {
		t.Fatalf("expected creation transition recorded, got %f", got)
	}
}

func TestWebhookMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWebhookMetrics(reg)
	m.ObserveEvent("checkout.session.completed", WebhookOutcomeApplied)
	m.ObserveEvent("", WebhookOutcomeRejected)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got := counterWithLabels(mfs, "tailormp_webhook_events_total", map[string]string{"type": "checkout.session.completed", "outcome": "applied"}); got != 1 {
		t.Fatalf("expected applied=1, got %f", got)
	}
	if got := counterWithLabels(mfs, "tailormp_webhook_events_total", map[string]string{"type": "unknown", "outcome": "rejected"}); got != 1 {
		t.Fatalf("expected rejected=1, got %f", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var orders *OrderMetrics
	orders.ObserveTransition("a", "b", "c")
	NewCheckoutMetrics(nil).IncSession("created")
	NewWebhookMetrics(nil).ObserveEvent("x", "y")
}

func counterWithLabels(mfs []*dto.MetricFamily, name string, labels map[string]string) float64 {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0
	}
	for _, metric := range mf.GetMetric() {
		matched := true
		for k, v := range labels {
			if !matchesLabel(metric.GetLabel(), k, v) {
				matched = false
				break
			}
		}
		if matched {
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}
