package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Типы событий заказа, публикуемых через outbox.
const (
	EventOrderCreated       = "order.created"
	EventOrderCancelled     = "order.cancelled"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderDelivered     = "order.delivered"
)

// AggregateOrder: тип агрегата для outbox-сообщений заказа.
const AggregateOrder = "order"

// OrderEventPayload: тело события заказа.
type OrderEventPayload struct {
	OrderID       int64           `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	CustomerID    uuid.UUID       `json:"customer_id"`
	Status        OrderStatus     `json:"status"`
	PreviousState OrderStatus     `json:"previous_status,omitempty"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	ActorID       uuid.UUID       `json:"actor_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
