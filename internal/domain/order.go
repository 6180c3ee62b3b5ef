package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending: заказ оформлен, товар зарезервирован.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed: заказ подтверждён магазином.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusShipped: заказ передан перевозчику.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered: заказ доставлен, резерв списан со склада.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled: заказ отменён, резерв снят.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// rank задаёт порядок прямой цепочки pending -> confirmed -> shipped -> delivered.
func (s OrderStatus) rank() int {
	switch s {
	case OrderStatusPending:
		return 0
	case OrderStatusConfirmed:
		return 1
	case OrderStatusShipped:
		return 2
	case OrderStatusDelivered:
		return 3
	default:
		return -1
	}
}

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// PaymentMethod: способ оплаты. Пока поддерживается только наложенный платёж.
type PaymentMethod string

const PaymentMethodCOD PaymentMethod = "cod"

// ShippingAddress: адрес доставки заказа.
type ShippingAddress struct {
	Name     string
	Phone    string
	Address  string
	Province string
	District string
	Ward     string
}

// Totals: денежные итоги заказа.
type Totals struct {
	Subtotal      decimal.Decimal
	DiscountTotal decimal.Decimal
	ShippingFee   decimal.Decimal
	TaxTotal      decimal.Decimal
	GrandTotal    decimal.Decimal
}

// ComputeTotals считает итог: max(0, subtotal - discount) + shipping + tax.
func ComputeTotals(subtotal, discount, shippingFee, tax decimal.Decimal) Totals {
	net := subtotal.Sub(discount)
	if net.IsNegative() {
		net = decimal.Zero
	}
	return Totals{
		Subtotal:      subtotal,
		DiscountTotal: discount,
		ShippingFee:   shippingFee,
		TaxTotal:      tax,
		GrandTotal:    net.Add(shippingFee).Add(tax),
	}
}

// OrderLine: неизменяемый снимок позиции на момент покупки.
type OrderLine struct {
	ID        int64
	OrderID   int64
	ProductID int64
	VariantID int64
	Title     string
	SKU       string
	Size      string
	Color     string
	UnitPrice decimal.Decimal
	Quantity  int
	LineTotal decimal.Decimal
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID             int64
	Number         string
	CustomerID     uuid.UUID
	Email          string
	Phone          string
	ShipTo         ShippingAddress
	Notes          string
	Status         OrderStatus
	PaymentStatus  PaymentStatus
	PaymentMethod  PaymentMethod
	VoucherCode    string
	CarrierCode    string
	TrackingNumber string
	Totals         Totals
	Lines          []OrderLine

	PlacedAt    time.Time
	ConfirmedAt *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time
	UpdatedAt   time.Time
}

// Clone возвращает копию без общих указателей и слайсов.
func (o Order) Clone() Order {
	dst := o
	dst.Lines = append([]OrderLine(nil), o.Lines...)
	dst.ConfirmedAt = cloneTime(o.ConfirmedAt)
	dst.ShippedAt = cloneTime(o.ShippedAt)
	dst.DeliveredAt = cloneTime(o.DeliveredAt)
	dst.CancelledAt = cloneTime(o.CancelledAt)
	return dst
}

// AdvanceTo продвигает заказ вперёд по цепочке статусов, проставляя
// пропущенные вехи тем же временем. Повторный переход в текущий статус: no-op.
// UpdatedAt не уменьшается.
func (o *Order) AdvanceTo(target OrderStatus, at time.Time) error {
	if target.rank() < 0 {
		return ErrStatusTransitionNotAllowed
	}
	if o.Status == OrderStatusCancelled {
		return ErrStatusTransitionNotAllowed
	}
	if target.rank() < o.Status.rank() {
		return ErrStatusTransitionNotAllowed
	}

	at = at.UTC()
	if target.rank() >= OrderStatusConfirmed.rank() && o.ConfirmedAt == nil {
		o.ConfirmedAt = timePtr(at)
	}
	if target.rank() >= OrderStatusShipped.rank() && o.ShippedAt == nil {
		o.ShippedAt = timePtr(at)
	}
	if target.rank() >= OrderStatusDelivered.rank() && o.DeliveredAt == nil {
		o.DeliveredAt = timePtr(at)
	}
	o.Status = target
	o.touch(at)
	return nil
}

// Cancel переводит pending-заказ в cancelled.
func (o *Order) Cancel(at time.Time) error {
	if o.Status != OrderStatusPending {
		return ErrCancelNotAllowed
	}
	at = at.UTC()
	o.Status = OrderStatusCancelled
	o.CancelledAt = timePtr(at)
	o.touch(at)
	return nil
}

// touch сдвигает UpdatedAt только вперёд: события перевозчика приходят с
// собственным временем и могут опаздывать.
func (o *Order) touch(at time.Time) {
	if at.After(o.UpdatedAt) {
		o.UpdatedAt = at
	}
}

// IsDelivered: заказ уже финализирован доставкой.
func (o *Order) IsDelivered() bool {
	return o.Status == OrderStatusDelivered && o.DeliveredAt != nil
}

// OwnedBy сообщает, принадлежит ли заказ клиенту.
func (o *Order) OwnedBy(customerID uuid.UUID) bool {
	return o.CustomerID == customerID
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if !o.Status.Valid() {
		errs = append(errs, NewIntegrityError("order %d has unknown status %q", o.ID, o.Status))
	}
	if len(o.Lines) == 0 {
		errs = append(errs, NewIntegrityError("order %d has no lines", o.ID))
	}

	subtotal := decimal.Zero
	for _, line := range o.Lines {
		if line.Quantity <= 0 {
			errs = append(errs, NewIntegrityError("order %d line for variant %d has quantity %d", o.ID, line.VariantID, line.Quantity))
		}
		if !line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))).Equal(line.LineTotal) {
			errs = append(errs, NewIntegrityError("order %d line for variant %d total mismatch", o.ID, line.VariantID))
		}
		subtotal = subtotal.Add(line.LineTotal)
	}
	if !subtotal.Equal(o.Totals.Subtotal) {
		errs = append(errs, NewIntegrityError("order %d subtotal mismatch", o.ID))
	}

	expected := ComputeTotals(o.Totals.Subtotal, o.Totals.DiscountTotal, o.Totals.ShippingFee, o.Totals.TaxTotal)
	if !expected.GrandTotal.Equal(o.Totals.GrandTotal) {
		errs = append(errs, NewIntegrityError("order %d grand total mismatch", o.ID))
	}
	for _, v := range []decimal.Decimal{o.Totals.Subtotal, o.Totals.DiscountTotal, o.Totals.ShippingFee, o.Totals.TaxTotal, o.Totals.GrandTotal} {
		if v.IsNegative() {
			errs = append(errs, NewIntegrityError("order %d has negative totals", o.ID))
			break
		}
	}

	return errs
}

// OrderSummary: строка списка заказов.
type OrderSummary struct {
	OrderID       int64
	Number        string
	CustomerID    uuid.UUID
	Email         string
	Phone         string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	GrandTotal    decimal.Decimal
	PlacedAt      time.Time
}

// Summary строит OrderSummary из заказа.
func (o Order) Summary() OrderSummary {
	return OrderSummary{
		OrderID:       o.ID,
		Number:        o.Number,
		CustomerID:    o.CustomerID,
		Email:         o.Email,
		Phone:         o.Phone,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		GrandTotal:    o.Totals.GrandTotal,
		PlacedAt:      o.PlacedAt,
	}
}

// OrderDetail: проекция заказа с позициями и историей.
type OrderDetail struct {
	Order    Order
	Timeline []TimelineEvent
}

func timePtr(t time.Time) *time.Time { return &t }

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
