package order

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/stock"
)

// FinalizeDelivery переводит резерв в окончательное списание и отмечает заказ доставленным.
// Работает внутри транзакции вызывающего кода; уже доставленный заказ не трогает.
// Заказ сохраняется, изменения видны вызывающему через order.
func (e *Engine) FinalizeDelivery(ctx context.Context, tx domain.Tx, order *domain.Order, deliveredAt time.Time, actor domain.Actor) error {
	if order.IsDelivered() {
		return nil
	}
	if order.Status == domain.OrderStatusCancelled {
		return domain.ErrStatusTransitionNotAllowed
	}

	previous := order.Status
	deliveredAt = deliveredAt.UTC()

	ledger := stock.NewLedger(tx.Stock(), e.warehouseID)
	for _, line := range linesByVariant(order.Lines) {
		if err := ledger.Commit(ctx, line.VariantID, line.Quantity); err != nil {
			return err
		}
	}

	if err := order.AdvanceTo(domain.OrderStatusDelivered, deliveredAt); err != nil {
		return err
	}
	if order.PaymentStatus == domain.PaymentStatusPending {
		order.PaymentStatus = domain.PaymentStatusPaid
	}

	if err := tx.Orders().Update(ctx, *order); err != nil {
		return fmt.Errorf("update order %d: %w", order.ID, err)
	}
	return recordChange(ctx, tx, domain.EventOrderDelivered, domain.TimelineDelivered, "", *order, previous, actor, deliveredAt)
}

// DeliveryCommitted учитывает доставку после коммита транзакции.
func (e *Engine) DeliveryCommitted(ctx context.Context, orderID int64) {
	e.invalidate(ctx, orderID)
	e.metrics.RecordOrderDelivered()
	e.metrics.RecordStatusTransition(string(domain.OrderStatusDelivered))
}

// MarkShipped отмечает передачу заказа перевозчику, если это движение вперёд.
// Для отменённого и уже отгруженного заказа ничего не делает и возвращает false.
func (e *Engine) MarkShipped(ctx context.Context, tx domain.Tx, order *domain.Order, shippedAt time.Time, actor domain.Actor) (bool, error) {
	if order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusConfirmed {
		return false, nil
	}

	previous := order.Status
	shippedAt = shippedAt.UTC()
	if err := order.AdvanceTo(domain.OrderStatusShipped, shippedAt); err != nil {
		return false, err
	}
	if err := tx.Orders().Update(ctx, *order); err != nil {
		return false, fmt.Errorf("update order %d: %w", order.ID, err)
	}
	if err := recordChange(ctx, tx, domain.EventOrderStatusChanged, domain.TimelineShipped, "carrier "+order.CarrierCode, *order, previous, actor, shippedAt); err != nil {
		return false, err
	}
	return true, nil
}

// OrderChanged сбрасывает кэш заказа после коммита чужой транзакции.
func (e *Engine) OrderChanged(ctx context.Context, orderID int64) {
	e.invalidate(ctx, orderID)
}
