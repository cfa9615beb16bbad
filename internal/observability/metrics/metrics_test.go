package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewWebhookMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWebhookMetrics(reg)

	m.ObserveInbound("call", "ok")
	m.ObserveDispatch("sent")
	m.ObserveLatency("message", 0.05)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if len(families) != 3 {
		t.Fatalf("expected 3 metric families, got %d", len(families))
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *WebhookMetrics
	m.ObserveInbound("call", "ok")
	m.ObserveDispatch("sent")
	m.ObserveLatency("call", 1)
}
