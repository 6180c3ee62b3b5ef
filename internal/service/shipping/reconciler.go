// Package shipping сверяет события перевозчиков с отгрузками и заказами.
package shipping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Исходы обработки события для метрик.
const (
	outcomeApplied   = "applied"
	outcomeStale     = "stale"
	outcomeDelivered = "delivered"
	outcomeDuplicate = "duplicate"
	outcomeRejected  = "rejected"
	outcomeNotFound  = "not_found"
	outcomeFailed    = "failed"
)

// Finalizer: часть движка заказов, которой пользуется сверка.
type Finalizer interface {
	FinalizeDelivery(ctx context.Context, tx domain.Tx, order *domain.Order, deliveredAt time.Time, actor domain.Actor) error
	MarkShipped(ctx context.Context, tx domain.Tx, order *domain.Order, shippedAt time.Time, actor domain.Actor) (bool, error)
	DeliveryCommitted(ctx context.Context, orderID int64)
	OrderChanged(ctx context.Context, orderID int64)
}

// Reconciler обрабатывает webhook перевозчиков идемпотентно: повторы,
// перестановки и дубли событий не меняют итог.
type Reconciler struct {
	txm       domain.TxManager
	finalizer Finalizer
	eventLog  domain.ShippingEventLog
	metrics   *metrics.OrderMetrics
	logger    *log.Entry
	now       func() time.Time
}

// Option настраивает Reconciler.
type Option func(*Reconciler)

func WithLogger(logger *log.Entry) Option {
	return func(r *Reconciler) { r.logger = logger }
}

func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithEventLog задаёт журнал сырых событий. По умолчанию события пишутся в лог.
func WithEventLog(eventLog domain.ShippingEventLog) Option {
	return func(r *Reconciler) { r.eventLog = eventLog }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler создаёт сверку поверх менеджера транзакций и движка заказов.
func NewReconciler(txm domain.TxManager, finalizer Finalizer, opts ...Option) *Reconciler {
	r := &Reconciler{
		txm:       txm,
		finalizer: finalizer,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.WithField("component", "shipment-reconciler")
	}
	if r.eventLog == nil {
		r.eventLog = NewLogEventLog(r.logger)
	}
	return r
}

// HandleCarrierWebhook применяет событие перевозчика в одной транзакции,
// затем пишет его в журнал событий. Ошибка журнала не откатывает изменения.
func (r *Reconciler) HandleCarrierWebhook(ctx context.Context, event domain.CarrierEvent) (result domain.WebhookResult, err error) {
	started := time.Now()
	outcome := outcomeFailed
	defer func() {
		r.metrics.RecordOperation("carrier_webhook", started, err)
		r.metrics.RecordWebhookEvent(outcome)
	}()

	event = normalize(event)
	if err := validate(event); err != nil {
		outcome = outcomeRejected
		return domain.WebhookResult{}, err
	}
	if event.EventTime.IsZero() {
		event.EventTime = r.now()
	}
	event.EventTime = event.EventTime.UTC()

	logger := r.logger.WithFields(log.Fields{
		"carrier":         event.CarrierCode,
		"tracking_number": event.TrackingNumber,
		"order_number":    event.OrderNumber,
		"status":          event.Status,
	})

	var delivered bool
	err = r.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		delivered = false

		order, err := tx.Orders().GetByNumberForUpdate(ctx, event.OrderNumber)
		if err != nil {
			return err
		}

		shipment, applied, err := upsertShipment(ctx, tx, order.ID, event)
		if err != nil {
			return err
		}
		outcome = outcomeApplied
		if !applied {
			outcome = outcomeStale
		}

		order.CarrierCode = event.CarrierCode
		order.TrackingNumber = event.TrackingNumber
		if event.EventTime.After(order.UpdatedAt) {
			order.UpdatedAt = event.EventTime
		}
		if err := tx.Orders().Update(ctx, order); err != nil {
			return fmt.Errorf("stamp carrier on order %d: %w", order.ID, err)
		}
		if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     domain.TimelineCarrierEvent,
			Reason:   event.CarrierCode + ": " + event.Status,
			Occurred: event.EventTime,
		}); err != nil {
			return fmt.Errorf("append carrier timeline: %w", err)
		}

		switch {
		case event.IsStatus(domain.CarrierStatusShipped):
			if order.Status == domain.OrderStatusCancelled {
				logger.Warn("shipped event for cancelled order, status left unchanged")
				break
			}
			if _, err := r.finalizer.MarkShipped(ctx, tx, &order, event.EventTime, domain.SystemActor()); err != nil {
				return err
			}
		case event.IsStatus(domain.CarrierStatusDelivered):
			if order.IsDelivered() {
				outcome = outcomeDuplicate
				break
			}
			if order.Status == domain.OrderStatusCancelled {
				logger.Warn("delivered event for cancelled order, delivery not finalized")
				break
			}
			if err := r.finalizer.FinalizeDelivery(ctx, tx, &order, event.EventTime, domain.SystemActor()); err != nil {
				return err
			}
			delivered = true
			outcome = outcomeDelivered
		}

		result = domain.WebhookResult{
			OrderID:        order.ID,
			OrderNumber:    order.Number,
			ShipmentStatus: shipment.Status,
			OrderStatus:    order.Status,
			DeliveredAt:    order.DeliveredAt,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			outcome = outcomeNotFound
		} else {
			outcome = outcomeFailed
		}
		return domain.WebhookResult{}, err
	}

	if delivered {
		r.finalizer.DeliveryCommitted(ctx, result.OrderID)
		logger.WithField("order_id", result.OrderID).Info("order delivered")
	} else {
		r.finalizer.OrderChanged(ctx, result.OrderID)
	}

	r.appendEventLog(ctx, event, logger)
	return result, nil
}

// upsertShipment создаёт отгрузку или обновляет её, если событие не старше сохранённого.
func upsertShipment(ctx context.Context, tx domain.Tx, orderID int64, event domain.CarrierEvent) (domain.Shipment, bool, error) {
	shipment, err := tx.Shipments().GetForUpdate(ctx, event.CarrierCode, event.TrackingNumber)
	switch {
	case errors.Is(err, domain.ErrShipmentNotFound):
		shipment = domain.Shipment{
			OrderID:        orderID,
			CarrierCode:    event.CarrierCode,
			TrackingNumber: event.TrackingNumber,
			Status:         event.Status,
			LastUpdate:     event.EventTime,
		}
		if err := tx.Shipments().Create(ctx, &shipment); err != nil {
			return domain.Shipment{}, false, fmt.Errorf("create shipment: %w", err)
		}
		return shipment, true, nil
	case err != nil:
		return domain.Shipment{}, false, fmt.Errorf("load shipment: %w", err)
	}

	if shipment.OrderID != orderID {
		problems := &domain.ValidationError{}
		problems.Add("tracking_number", "belongs to another order")
		return domain.Shipment{}, false, problems
	}
	if !shipment.ApplyEvent(event.Status, event.EventTime) {
		return shipment, false, nil
	}
	if err := tx.Shipments().Update(ctx, shipment); err != nil {
		return domain.Shipment{}, false, fmt.Errorf("update shipment: %w", err)
	}
	return shipment, true, nil
}

func (r *Reconciler) appendEventLog(ctx context.Context, event domain.CarrierEvent, logger *log.Entry) {
	entry := domain.ShippingEvent{
		CarrierCode:    event.CarrierCode,
		TrackingNumber: event.TrackingNumber,
		OrderNumber:    event.OrderNumber,
		Status:         event.Status,
		EventTime:      event.EventTime,
		Note:           event.Note,
		RecordedAt:     r.now().UTC(),
	}
	if err := r.eventLog.Record(ctx, entry); err != nil {
		r.metrics.RecordShippingLogFailure()
		logger.WithError(err).Warn("failed to append shipping event log")
	}
}

func normalize(event domain.CarrierEvent) domain.CarrierEvent {
	event.CarrierCode = strings.TrimSpace(event.CarrierCode)
	event.OrderNumber = strings.TrimSpace(event.OrderNumber)
	event.TrackingNumber = strings.TrimSpace(event.TrackingNumber)
	event.Status = strings.TrimSpace(event.Status)
	event.Note = strings.TrimSpace(event.Note)
	return event
}

func validate(event domain.CarrierEvent) error {
	problems := &domain.ValidationError{}
	if event.CarrierCode == "" {
		problems.Add("carrier_code", "is required")
	}
	if event.OrderNumber == "" {
		problems.Add("order_number", "is required")
	}
	if event.TrackingNumber == "" {
		problems.Add("tracking_number", "is required")
	}
	if event.Status == "" {
		problems.Add("status", "is required")
	}
	return problems.OrNil()
}
