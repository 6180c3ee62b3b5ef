package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики движка заказов и сверки отгрузок.
type OrderMetrics struct {
	ordersCreated   prometheus.Counter
	ordersCancelled prometheus.Counter
	ordersDelivered prometheus.Counter

	// Отказы оформления по причинам (stock, voucher, variant, invalid).
	checkoutRejected *prometheus.CounterVec

	operationDuration *prometheus.HistogramVec

	webhookEvents          *prometheus.CounterVec
	shippingLogFailures    prometheus.Counter
	statusTransitions      *prometheus.CounterVec
	reservedUnits          prometheus.Counter
	cacheInvalidationFails prometheus.Counter
}

// NewOrderMetrics регистрирует метрики в глобальном registry.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном registry (удобно в тестах).
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	return &OrderMetrics{
		ordersCreated: Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_orders_created_total",
			Help: "Total number of orders placed",
		})),
		ordersCancelled: Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_orders_cancelled_total",
			Help: "Total number of orders cancelled",
		})),
		ordersDelivered: Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_orders_delivered_total",
			Help: "Total number of orders finalized as delivered",
		})),
		checkoutRejected: Register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_checkout_rejected_total",
			Help: "Checkout attempts rejected before commit, by reason",
		}, []string{"reason"})),
		operationDuration: Register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_order_operation_duration_seconds",
			Help:    "Duration of order lifecycle operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation", "result"})),
		webhookEvents: Register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_carrier_webhook_events_total",
			Help: "Carrier webhook events by outcome",
		}, []string{"outcome"})),
		shippingLogFailures: Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_shipping_event_log_failures_total",
			Help: "Failed appends to the shipping event log",
		})),
		statusTransitions: Register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_order_status_transitions_total",
			Help: "Order status transitions by target status",
		}, []string{"status"})),
		reservedUnits: Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_stock_reserved_units_total",
			Help: "Units reserved by placed orders",
		})),
		cacheInvalidationFails: Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_order_cache_invalidation_failures_total",
			Help: "Failed order cache invalidations after commit",
		})),
	}
}

// Все методы безопасно вызывать на nil-получателе: метрики необязательны.

// RecordOrderCreated учитывает оформленный заказ и зарезервированные единицы.
func (m *OrderMetrics) RecordOrderCreated(units int) {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
	m.reservedUnits.Add(float64(units))
}

func (m *OrderMetrics) RecordOrderCancelled() {
	if m == nil {
		return
	}
	m.ordersCancelled.Inc()
}

func (m *OrderMetrics) RecordOrderDelivered() {
	if m == nil {
		return
	}
	m.ordersDelivered.Inc()
}

// RecordCheckoutRejected учитывает отказ оформления с причиной.
func (m *OrderMetrics) RecordCheckoutRejected(reason string) {
	if m == nil {
		return
	}
	m.checkoutRejected.WithLabelValues(reason).Inc()
}

// RecordOperation записывает длительность операции и её исход.
func (m *OrderMetrics) RecordOperation(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operationDuration.WithLabelValues(operation, result).Observe(time.Since(started).Seconds())
}

// RecordWebhookEvent учитывает событие перевозчика с исходом обработки.
func (m *OrderMetrics) RecordWebhookEvent(outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(outcome).Inc()
}

func (m *OrderMetrics) RecordShippingLogFailure() {
	if m == nil {
		return
	}
	m.shippingLogFailures.Inc()
}

func (m *OrderMetrics) RecordStatusTransition(status string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(status).Inc()
}

func (m *OrderMetrics) RecordCacheInvalidationFailure() {
	if m == nil {
		return
	}
	m.cacheInvalidationFails.Inc()
}
