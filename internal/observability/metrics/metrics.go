package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics exposes counters/histograms for the relay's webhook and
// dispatch flows.
type WebhookMetrics struct {
	inboundTotal   *prometheus.CounterVec
	dispatchTotal  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "webhook",
			Name:      "inbound_total",
			Help:      "Total inbound webhook deliveries",
		}, []string{"kind", "status"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "whatsapp",
			Name:      "dispatch_total",
			Help:      "Total outbound WhatsApp dispatch attempts",
		}, []string{"status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.dispatchTotal, m.webhookLatency)
	return m
}

func (m *WebhookMetrics) ObserveInbound(kind, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(kind, status).Inc()
}

func (m *WebhookMetrics) ObserveDispatch(status string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(status).Inc()
}

func (m *WebhookMetrics) ObserveLatency(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(kind).Observe(seconds)
}
