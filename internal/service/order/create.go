package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/stock"
	"github.com/vladislavdragonenkov/storefront/internal/service/voucher"
)

// Item: запрошенная позиция корзины. Цена из корзины не принимается.
type Item struct {
	VariantID int64
	Quantity  int
}

// CreateOrderRequest: данные оформления. Клиент берётся из актора.
type CreateOrderRequest struct {
	Email       string
	Phone       string
	ShipTo      domain.ShippingAddress
	Notes       string
	VoucherCode string
	Items       []Item
}

// OrderConfirmation: результат успешного оформления.
type OrderConfirmation struct {
	OrderID       int64
	Number        string
	Status        domain.OrderStatus
	PaymentStatus domain.PaymentStatus
	Totals        domain.Totals
	PlacedAt      time.Time
}

// CreateOrder оформляет заказ: проверяет варианты и остатки, применяет ваучер,
// сохраняет заказ с позициями и резервирует товар одной транзакцией.
func (e *Engine) CreateOrder(ctx context.Context, actor domain.Actor, req CreateOrderRequest) (conf OrderConfirmation, err error) {
	started := time.Now()
	defer func() {
		e.metrics.RecordOperation("create_order", started, err)
		if err != nil {
			e.metrics.RecordCheckoutRejected(rejectionReason(err))
		}
	}()

	if err := validateCreate(actor, req); err != nil {
		return OrderConfirmation{}, err
	}
	items := mergeItems(req.Items)
	code := domain.NormalizeVoucherCode(req.VoucherCode)

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		conf, err = e.createOnce(ctx, actor, req, items, code)
		if !errors.Is(err, domain.ErrOrderNumberConflict) {
			break
		}
		e.logger.WithField("attempt", attempt).Warn("order number conflict, retrying checkout")
	}
	if err != nil {
		return OrderConfirmation{}, err
	}

	units := lo.SumBy(items, func(it Item) int { return it.Quantity })
	e.metrics.RecordOrderCreated(units)
	e.logger.WithFields(log.Fields{
		"order_id":     conf.OrderID,
		"order_number": conf.Number,
		"actor_id":     actor.ID,
		"grand_total":  conf.Totals.GrandTotal.String(),
	}).Info("order created")
	return conf, nil
}

func (e *Engine) createOnce(ctx context.Context, actor domain.Actor, req CreateOrderRequest, items []Item, code string) (OrderConfirmation, error) {
	var conf OrderConfirmation

	err := e.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		now := e.now().UTC()

		ids := lo.Map(items, func(it Item, _ int) int64 { return it.VariantID })
		variants, err := e.catalog.GetVariants(ctx, ids)
		if err != nil {
			return fmt.Errorf("resolve variants: %w", err)
		}
		if missing := lo.Filter(ids, func(id int64, _ int) bool {
			v, ok := variants[id]
			return !ok || !v.Sellable()
		}); len(missing) > 0 {
			return &domain.VariantUnavailableError{VariantIDs: missing}
		}

		// Строки склада блокируются по возрастанию id, чтобы параллельные
		// оформления не взаимоблокировались.
		ledger := stock.NewLedger(tx.Stock(), e.warehouseID)
		locked := append([]Item(nil), items...)
		sort.Slice(locked, func(i, j int) bool { return locked[i].VariantID < locked[j].VariantID })
		for _, it := range locked {
			available, err := ledger.GetAvailable(ctx, it.VariantID)
			if err != nil {
				return err
			}
			if available < it.Quantity {
				return &domain.InsufficientStockError{VariantID: it.VariantID, Requested: it.Quantity, Available: available}
			}
		}

		lines := make([]domain.OrderLine, 0, len(items))
		subtotal := decimal.Zero
		for _, it := range items {
			v := variants[it.VariantID]
			total := v.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
			lines = append(lines, domain.OrderLine{
				ProductID: v.ProductID,
				VariantID: v.VariantID,
				Title:     v.Title,
				SKU:       v.SKU,
				Size:      v.Size,
				Color:     v.Color,
				UnitPrice: v.UnitPrice,
				Quantity:  it.Quantity,
				LineTotal: total,
			})
			subtotal = subtotal.Add(total)
		}

		var quote *voucher.Quote
		if code != "" {
			q, err := voucher.NewValidator(tx.Vouchers()).Validate(ctx, code, subtotal, now)
			if err != nil {
				return err
			}
			quote = &q
		}

		discount := decimal.Zero
		if quote != nil {
			discount = quote.Discount
		}

		number, err := e.allocateNumber(ctx, tx, now)
		if err != nil {
			return err
		}

		order := &domain.Order{
			Number:        number,
			CustomerID:    actor.ID,
			Email:         strings.TrimSpace(req.Email),
			Phone:         strings.TrimSpace(req.Phone),
			ShipTo:        trimAddress(req.ShipTo),
			Notes:         strings.TrimSpace(req.Notes),
			Status:        domain.OrderStatusPending,
			PaymentStatus: domain.PaymentStatusPending,
			PaymentMethod: domain.PaymentMethodCOD,
			Totals:        domain.ComputeTotals(subtotal, discount, decimal.Zero, decimal.Zero),
			Lines:         lines,
			PlacedAt:      now,
			UpdatedAt:     now,
		}
		if quote != nil {
			order.VoucherCode = quote.Voucher.Code
		}
		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return errors.Join(errs...)
		}

		if err := tx.Orders().Create(ctx, order); err != nil {
			if errors.Is(err, domain.ErrOrderNumberConflict) {
				return err
			}
			return fmt.Errorf("insert order: %w", err)
		}

		if quote != nil {
			if err := tx.Vouchers().AddRedemption(ctx, domain.VoucherRedemption{
				ID:         uuid.New(),
				Code:       quote.Voucher.Code,
				CustomerID: actor.ID,
				OrderID:    order.ID,
				RedeemedAt: now,
			}); err != nil {
				return fmt.Errorf("record voucher redemption: %w", err)
			}
		}

		for _, it := range locked {
			if err := ledger.Reserve(ctx, it.VariantID, it.Quantity); err != nil {
				return err
			}
		}

		if err := recordChange(ctx, tx, domain.EventOrderCreated, domain.TimelineCreated, "", *order, "", actor, now); err != nil {
			return err
		}

		conf = OrderConfirmation{
			OrderID:       order.ID,
			Number:        order.Number,
			Status:        order.Status,
			PaymentStatus: order.PaymentStatus,
			Totals:        order.Totals,
			PlacedAt:      order.PlacedAt,
		}
		return nil
	})
	return conf, err
}

// allocateNumber подбирает свободный номер; конфликт между процессами
// всё равно ловится уникальным индексом при вставке.
func (e *Engine) allocateNumber(ctx context.Context, tx domain.Tx, now time.Time) (string, error) {
	for i := 0; i < maxNumberAllocAttempt; i++ {
		number := e.numbers.Next(now)
		exists, err := tx.Orders().NumberExists(ctx, number)
		if err != nil {
			return "", fmt.Errorf("check order number: %w", err)
		}
		if !exists {
			return number, nil
		}
	}
	return "", domain.ErrOrderNumberConflict
}

func validateCreate(actor domain.Actor, req CreateOrderRequest) error {
	problems := &domain.ValidationError{}

	if actor.ID == uuid.Nil {
		problems.Add("customer_id", "is required")
	}
	if strings.TrimSpace(req.Email) == "" {
		problems.Add("email", "is required")
	}
	if strings.TrimSpace(req.ShipTo.Name) == "" {
		problems.Add("ship_to.name", "is required")
	}
	if strings.TrimSpace(req.ShipTo.Phone) == "" {
		problems.Add("ship_to.phone", "is required")
	}
	if strings.TrimSpace(req.ShipTo.Address) == "" {
		problems.Add("ship_to.address", "is required")
	}
	if len(req.Items) == 0 {
		problems.Add("items", "must not be empty")
	}
	for i, it := range req.Items {
		if it.VariantID <= 0 {
			problems.Add(fmt.Sprintf("items[%d].variant_id", i), "must be positive")
		}
		if it.Quantity <= 0 {
			problems.Add(fmt.Sprintf("items[%d].quantity", i), "must be positive")
		}
	}

	return problems.OrNil()
}

// mergeItems складывает количества повторяющихся вариантов, сохраняя порядок первого появления.
func mergeItems(items []Item) []Item {
	qty := make(map[int64]int, len(items))
	for _, it := range items {
		qty[it.VariantID] += it.Quantity
	}
	ids := lo.Uniq(lo.Map(items, func(it Item, _ int) int64 { return it.VariantID }))
	return lo.Map(ids, func(id int64, _ int) Item { return Item{VariantID: id, Quantity: qty[id]} })
}

func trimAddress(a domain.ShippingAddress) domain.ShippingAddress {
	return domain.ShippingAddress{
		Name:     strings.TrimSpace(a.Name),
		Phone:    strings.TrimSpace(a.Phone),
		Address:  strings.TrimSpace(a.Address),
		Province: strings.TrimSpace(a.Province),
		District: strings.TrimSpace(a.District),
		Ward:     strings.TrimSpace(a.Ward),
	}
}
