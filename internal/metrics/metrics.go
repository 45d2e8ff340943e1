// Package metrics holds the Prometheus collectors of the settlement service.
// All methods are safe on a nil *Metrics so tests can skip them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	settlements      *prometheus.CounterVec
	credited         *prometheus.CounterVec
	webhookEvents    *prometheus.CounterVec
	withdrawals      *prometheus.CounterVec
	statusListeners  prometheus.Gauge
	settlementTiming prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_purchases_total",
			Help: "Purchase settlements by outcome.",
		}, []string{"outcome"}),
		credited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_credited_minor_units_total",
			Help: "Amount credited to wallets by ledger type.",
		}, []string{"type"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Webhook deliveries by provider, event and outcome.",
		}, []string{"provider", "event", "outcome"}),
		withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "withdrawal_transitions_total",
			Help: "Withdrawal status transitions by target status.",
		}, []string{"status"}),
		statusListeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "payment_status_listeners",
			Help: "Clients currently waiting on a payment status.",
		}),
		settlementTiming: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_purchase_duration_seconds",
			Help:    "Time spent completing a purchase, gateway verification included.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.settlements,
		m.credited,
		m.webhookEvents,
		m.withdrawals,
		m.statusListeners,
		m.settlementTiming,
	)
	return m
}

func (m *Metrics) Settlement(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
	m.settlementTiming.Observe(seconds)
}

func (m *Metrics) Credited(txType string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.credited.WithLabelValues(txType).Add(float64(amount))
}

func (m *Metrics) WebhookEvent(provider, event, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(provider, event, outcome).Inc()
}

func (m *Metrics) WithdrawalTransition(status string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(status).Inc()
}

// ListenerGauge is handed to the notification bus.
func (m *Metrics) ListenerGauge() prometheus.Gauge {
	if m == nil {
		return nil
	}
	return m.statusListeners
}
