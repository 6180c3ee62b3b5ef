package domain

import "time"

// Типы событий истории заказа.
const (
	TimelineCreated      = "created"
	TimelineCancelled    = "cancelled"
	TimelineConfirmed    = "confirmed"
	TimelineShipped      = "shipped"
	TimelineDelivered    = "delivered"
	TimelineCarrierEvent = "carrier_event"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  int64
	Type     string
	Reason   string
	Occurred time.Time
}
