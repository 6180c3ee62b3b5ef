package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// GetOrder возвращает заказ с позициями и историей. Чужой заказ для клиента не существует.
func (e *Engine) GetOrder(ctx context.Context, actor domain.Actor, orderID int64) (detail domain.OrderDetail, err error) {
	started := time.Now()
	defer func() { e.metrics.RecordOperation("get_order", started, err) }()

	if e.cache != nil {
		cached, ok, cacheErr := e.cache.Get(ctx, orderID)
		if cacheErr != nil {
			e.logger.WithError(cacheErr).WithField("order_id", orderID).Warn("order cache read failed")
		}
		if ok {
			if !actor.CanAccess(cached.Order.CustomerID) {
				return domain.OrderDetail{}, domain.ErrOrderNotFound
			}
			return cached, nil
		}
	}

	err = e.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		detail, err = loadDetail(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return domain.OrderDetail{}, err
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, detail); err != nil {
			e.logger.WithError(err).WithField("order_id", orderID).Warn("order cache write failed")
		}
	}
	if !actor.CanAccess(detail.Order.CustomerID) {
		return domain.OrderDetail{}, domain.ErrOrderNotFound
	}
	return detail, nil
}

// ListOrdersForCustomer возвращает заказы клиента, новые первыми.
func (e *Engine) ListOrdersForCustomer(ctx context.Context, actor domain.Actor, customerID uuid.UUID, limit int) ([]domain.OrderSummary, error) {
	if !actor.CanAccess(customerID) {
		return nil, domain.ErrForbidden
	}

	var result []domain.OrderSummary
	err := e.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		result, err = tx.Orders().ListByCustomer(ctx, customerID, clampLimit(limit))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list orders for customer: %w", err)
	}
	return result, nil
}

func loadDetail(ctx context.Context, tx domain.Tx, orderID int64) (domain.OrderDetail, error) {
	order, err := tx.Orders().Get(ctx, orderID)
	if err != nil {
		return domain.OrderDetail{}, err
	}
	timeline, err := tx.Timeline().List(ctx, orderID)
	if err != nil {
		return domain.OrderDetail{}, fmt.Errorf("load timeline for order %d: %w", orderID, err)
	}
	return domain.OrderDetail{Order: order, Timeline: timeline}, nil
}
