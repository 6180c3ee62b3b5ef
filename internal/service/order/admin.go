package order

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ListOrders: список заказов для администратора с опциональным фильтром по статусу.
func (e *Engine) ListOrders(ctx context.Context, actor domain.Actor, status *domain.OrderStatus, limit int) ([]domain.OrderSummary, error) {
	if !actor.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	if status != nil && !status.Valid() {
		problems := &domain.ValidationError{}
		problems.Add("status", "unknown order status")
		return nil, problems
	}

	var result []domain.OrderSummary
	err := e.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		result, err = tx.Orders().List(ctx, status, clampLimit(limit))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return result, nil
}

type statusChangeDetail struct {
	From domain.OrderStatus `json:"from"`
	To   domain.OrderStatus `json:"to"`
}

// UpdateStatus продвигает заказ вперёд по цепочке confirmed -> shipped -> delivered.
// Доставка идёт через FinalizeDelivery, чтобы остаток списывался ровно один раз.
// Действие пишется в журнал администраторов в той же транзакции.
func (e *Engine) UpdateStatus(ctx context.Context, actor domain.Actor, orderID int64, target domain.OrderStatus) (detail domain.OrderDetail, err error) {
	started := time.Now()
	defer func() { e.metrics.RecordOperation("update_status", started, err) }()

	if !actor.IsAdmin() {
		return domain.OrderDetail{}, domain.ErrForbidden
	}
	switch target {
	case domain.OrderStatusConfirmed, domain.OrderStatusShipped, domain.OrderStatusDelivered:
	default:
		problems := &domain.ValidationError{}
		problems.Add("status", "must be one of confirmed, shipped, delivered")
		return domain.OrderDetail{}, problems
	}

	var (
		previous  domain.OrderStatus
		delivered bool
	)
	err = e.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		previous = order.Status
		now := e.now().UTC()

		if target == domain.OrderStatusDelivered {
			if !order.IsDelivered() {
				if err := e.FinalizeDelivery(ctx, tx, &order, now, actor); err != nil {
					return err
				}
				delivered = true
			}
		} else {
			if err := order.AdvanceTo(target, now); err != nil {
				return err
			}
			if err := tx.Orders().Update(ctx, order); err != nil {
				return fmt.Errorf("update order %d: %w", order.ID, err)
			}
			if previous != target {
				if err := recordChange(ctx, tx, domain.EventOrderStatusChanged, timelineTypeFor(target), "updated by admin", order, previous, actor, now); err != nil {
					return err
				}
			}
		}

		body, err := json.Marshal(statusChangeDetail{From: previous, To: target})
		if err != nil {
			return fmt.Errorf("marshal audit detail: %w", err)
		}
		if err := tx.Audit().Append(ctx, domain.AdminAuditEntry{
			ID:        uuid.New(),
			ActorID:   actor.ID,
			Action:    domain.AuditActionUpdateOrderStatus,
			Entity:    domain.AuditEntityOrder,
			EntityID:  strconv.FormatInt(order.ID, 10),
			Detail:    body,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("append admin audit: %w", err)
		}

		detail, err = loadDetail(ctx, tx, order.ID)
		return err
	})
	if err != nil {
		return domain.OrderDetail{}, err
	}

	if delivered {
		e.DeliveryCommitted(ctx, orderID)
	} else {
		e.invalidate(ctx, orderID)
		if previous != target {
			e.metrics.RecordStatusTransition(string(target))
		}
	}
	e.logger.WithFields(log.Fields{
		"order_id": orderID,
		"actor_id": actor.ID,
		"from":     previous,
		"to":       detail.Order.Status,
	}).Info("order status updated by admin")
	return detail, nil
}
