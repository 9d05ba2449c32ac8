package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "assistant_bot"

// Metrics groups the bot counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	meteredActions  *prometheus.CounterVec
	paymentWebhooks *prometheus.CounterVec
	activations     *prometheus.CounterVec
	broadcastSends  *prometheus.CounterVec
	updates         *prometheus.CounterVec
	sweepExpired    prometheus.Counter
	reminders       prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		meteredActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metered_actions_total",
			Help:      "Metered actions by kind and outcome (ok, denied, failed).",
		}, []string{"kind", "outcome"}),
		paymentWebhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhooks_total",
			Help:      "Payment webhook deliveries by result.",
		}, []string{"result"}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_activations_total",
			Help:      "Subscription activations by source (payment, admin).",
		}, []string{"source"}),
		broadcastSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_sends_total",
			Help:      "Broadcast deliveries by result.",
		}, []string{"result"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegram_updates_total",
			Help:      "Telegram updates received by type.",
		}, []string{"type"}),
		sweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_expired_total",
			Help:      "Subscriptions cleared by the expiry sweep.",
		}),
		reminders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiry_reminders_total",
			Help:      "Expiry reminders delivered.",
		}),
	}
	m.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.meteredActions,
		m.paymentWebhooks,
		m.activations,
		m.broadcastSends,
		m.updates,
		m.sweepExpired,
		m.reminders,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) MeteredAction(kind, outcome string) {
	if m == nil {
		return
	}
	m.meteredActions.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) PaymentWebhook(result string) {
	if m == nil {
		return
	}
	m.paymentWebhooks.WithLabelValues(result).Inc()
}

func (m *Metrics) Activation(source string) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(source).Inc()
}

func (m *Metrics) BroadcastSend(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.broadcastSends.WithLabelValues(result).Inc()
}

func (m *Metrics) Update(kind string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(kind).Inc()
}

func (m *Metrics) Expired(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepExpired.Add(float64(n))
}

func (m *Metrics) Reminded() {
	if m == nil {
		return
	}
	m.reminders.Inc()
}
