// ABOUTME: Prometheus metrics for commands, webhooks, and notifications
// ABOUTME: Registered on a private registry exposed at /v1/metrics when enabled

package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's instrument set.
type Metrics struct {
	registry *prometheus.Registry

	commandsTotal      *prometheus.CounterVec
	webhooksTotal      *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
}

// New creates the metric set on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visor_commands_total",
			Help: "Commands handled, by intent and outcome.",
		}, []string{"intent", "outcome"}),
		webhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visor_webhook_deliveries_total",
			Help: "Webhook deliveries received, by event type and reply status.",
		}, []string{"event_type", "status"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visor_notifications_created_total",
			Help: "Notifications persisted, by event type.",
		}, []string{"event_type"}),
	}

	registry.MustRegister(m.commandsTotal, m.webhooksTotal, m.notificationsTotal)
	return m
}

// Registry exposes the private registry for the metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CommandHandled records one handled command.
func (m *Metrics) CommandHandled(intentName string, isError bool) {
	outcome := "ok"
	if isError {
		outcome = "error"
	}
	m.commandsTotal.WithLabelValues(intentName, outcome).Inc()
}

// WebhookReceived records one webhook delivery.
func (m *Metrics) WebhookReceived(eventType string, status int) {
	m.webhooksTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
}

// NotificationCreated records one persisted notification.
func (m *Metrics) NotificationCreated(eventType string) {
	m.notificationsTotal.WithLabelValues(eventType).Inc()
}
