package order

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/stock"
)

// CancelResult: итог отмены. AlreadyCancelled означает повторный вызов без изменений.
type CancelResult struct {
	OrderID          int64
	Status           domain.OrderStatus
	AlreadyCancelled bool
}

// CancelOrder отменяет pending-заказ и снимает резерв по всем позициям.
// Для отсутствующего или чужого заказа возвращается ErrOrderNotFound; повторная отмена успешна.
func (e *Engine) CancelOrder(ctx context.Context, actor domain.Actor, orderID int64) (res CancelResult, err error) {
	started := time.Now()
	defer func() { e.metrics.RecordOperation("cancel_order", started, err) }()

	err = e.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.CanAccess(order.CustomerID) {
			return domain.ErrOrderNotFound
		}
		if order.Status == domain.OrderStatusCancelled {
			res = CancelResult{OrderID: order.ID, Status: order.Status, AlreadyCancelled: true}
			return nil
		}

		previous := order.Status
		now := e.now().UTC()
		if err := order.Cancel(now); err != nil {
			return err
		}

		ledger := stock.NewLedger(tx.Stock(), e.warehouseID)
		for _, line := range linesByVariant(order.Lines) {
			if err := ledger.Release(ctx, line.VariantID, line.Quantity); err != nil {
				return err
			}
		}
		if err := tx.Orders().Update(ctx, order); err != nil {
			return fmt.Errorf("update order %d: %w", order.ID, err)
		}
		if err := recordChange(ctx, tx, domain.EventOrderCancelled, domain.TimelineCancelled, "cancelled by "+string(actor.Role), order, previous, actor, now); err != nil {
			return err
		}

		res = CancelResult{OrderID: order.ID, Status: order.Status}
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}

	if !res.AlreadyCancelled {
		e.invalidate(ctx, res.OrderID)
		e.metrics.RecordOrderCancelled()
		e.logger.WithFields(log.Fields{"order_id": res.OrderID, "actor_id": actor.ID}).Info("order cancelled")
	}
	return res, nil
}
