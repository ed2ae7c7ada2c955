// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the counters the handlers and workers feed. A nil *Metrics
// is valid and records nothing, so tests can pass nil.
type Metrics struct {
	registry *prometheus.Registry

	webhookInbound   *prometheus.CounterVec
	outboundSends    *prometheus.CounterVec
	remindersSent    *prometheus.CounterVec
	bookingConflicts prometheus.Counter
	httpDuration     *prometheus.HistogramVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		webhookInbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_inbound_total",
			Help: "Inbound webhook payloads by outcome (processed, ignored, duplicate, error).",
		}, []string{"outcome"}),
		outboundSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whatsapp_sends_total",
			Help: "Outbound WhatsApp deliveries by result (delivered, failed).",
		}, []string{"result"}),
		remindersSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminders_sent_total",
			Help: "Appointment reminders sent by kind (d1, 2h).",
		}, []string{"kind"}),
		bookingConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_conflicts_total",
			Help: "Booking attempts rejected because the slot was already taken.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}

	registry.MustRegister(m.webhookInbound, m.outboundSends, m.remindersSent, m.bookingConflicts, m.httpDuration)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveWebhook(outcome string) {
	if m == nil {
		return
	}
	m.webhookInbound.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSend(delivered bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	m.outboundSends.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveReminder(kind string) {
	if m == nil {
		return
	}
	m.remindersSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveBookingConflict() {
	if m == nil {
		return
	}
	m.bookingConflicts.Inc()
}

func (m *Metrics) ObserveHTTP(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(route, status).Observe(seconds)
}
