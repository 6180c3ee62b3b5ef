package order

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// recordChange пишет событие в историю заказа и ставит событие в outbox
// в той же транзакции.
func recordChange(
	ctx context.Context,
	tx domain.Tx,
	eventType string,
	timelineType string,
	reason string,
	order domain.Order,
	previous domain.OrderStatus,
	actor domain.Actor,
	at time.Time,
) error {
	if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     timelineType,
		Reason:   reason,
		Occurred: at,
	}); err != nil {
		return fmt.Errorf("append timeline %s: %w", timelineType, err)
	}

	payload, err := json.Marshal(domain.OrderEventPayload{
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		CustomerID:    order.CustomerID,
		Status:        order.Status,
		PreviousState: previous,
		PaymentStatus: order.PaymentStatus,
		GrandTotal:    order.Totals.GrandTotal,
		ActorID:       actor.ID,
		OccurredAt:    at,
	})
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	if _, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   strconv.FormatInt(order.ID, 10),
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}

// timelineTypeFor сопоставляет статус с типом записи истории.
func timelineTypeFor(status domain.OrderStatus) string {
	switch status {
	case domain.OrderStatusConfirmed:
		return domain.TimelineConfirmed
	case domain.OrderStatusShipped:
		return domain.TimelineShipped
	case domain.OrderStatusDelivered:
		return domain.TimelineDelivered
	case domain.OrderStatusCancelled:
		return domain.TimelineCancelled
	default:
		return domain.TimelineCreated
	}
}
