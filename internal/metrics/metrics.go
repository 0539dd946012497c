package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics коллекторы Prometheus, общие для сервиса.
type Metrics struct {
	StatusTransitions  *prometheus.CounterVec
	PaymentTransitions *prometheus.CounterVec
	RefundsSettled     *prometheus.CounterVec
	NotifyFailures     *prometheus.CounterVec
	GatewayRequests    *prometheus.CounterVec
	GatewayLatency     *prometheus.HistogramVec
	StaleRefunds       prometheus.Gauge
	SnapshotsApplied   *prometheus.CounterVec
	SnapshotsDiscarded *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry создаёт и регистрирует синглтон метрик с заданным namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = New(namespace)
		metricsInstance.MustRegister(prometheus.DefaultRegisterer)
	})
	return metricsInstance
}

// New создаёт незарегистрированный набор коллекторов.
func New(namespace string) *Metrics {
	return &Metrics{
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_transitions_total",
			Help:      "Order status changes by target status.",
		}, []string{"to"}),
		PaymentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_status_transitions_total",
			Help:      "Payment status changes by target status.",
		}, []string{"to"}),
		RefundsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_settled_total",
			Help:      "Refund settlements by method.",
		}, []string{"method"}),
		NotifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be delivered, by event.",
		}, []string{"event"}),
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_gateway_requests_total",
			Help:      "Payment gateway requests by outcome.",
		}, []string{"status"}),
		GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_gateway_request_duration_seconds",
			Help:      "Latency distribution for payment gateway calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		StaleRefunds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stale_refunds",
			Help:      "Refunds waiting for external confirmation longer than the threshold.",
		}),
		SnapshotsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_snapshots_applied_total",
			Help:      "Poll snapshots applied by the client reconciler, by stream.",
		}, []string{"stream"}),
		SnapshotsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_snapshots_discarded_total",
			Help:      "Out-of-order poll snapshots dropped by the client reconciler, by stream.",
		}, []string{"stream"}),
	}
}

// MustRegister регистрирует все коллекторы в реестре.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.StatusTransitions,
		m.PaymentTransitions,
		m.RefundsSettled,
		m.NotifyFailures,
		m.GatewayRequests,
		m.GatewayLatency,
		m.StaleRefunds,
		m.SnapshotsApplied,
		m.SnapshotsDiscarded,
	)
}
