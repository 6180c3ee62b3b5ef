package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Discount: закрытый набор видов скидки. Реализации есть только в этом пакете.
type Discount interface {
	// Raw возвращает скидку до применения ограничений.
	Raw(subtotal decimal.Decimal) decimal.Decimal
	// Kind возвращает код вида скидки для хранения.
	Kind() DiscountKind
	// Value возвращает числовой параметр скидки.
	Value() decimal.Decimal
	sealed()
}

// DiscountKind: код вида скидки в хранилище.
type DiscountKind string

const (
	DiscountKindPercentage  DiscountKind = "PERCENT"
	DiscountKindFixedAmount DiscountKind = "AMOUNT"
)

// PercentageDiscount: скидка в процентах от суммы заказа.
type PercentageDiscount struct {
	Percent decimal.Decimal
}

func (d PercentageDiscount) Raw(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(d.Percent).Div(hundred)
}

func (d PercentageDiscount) Kind() DiscountKind     { return DiscountKindPercentage }
func (d PercentageDiscount) Value() decimal.Decimal { return d.Percent }
func (PercentageDiscount) sealed()                  {}

// FixedAmountDiscount: фиксированная скидка.
type FixedAmountDiscount struct {
	Amount decimal.Decimal
}

func (d FixedAmountDiscount) Raw(decimal.Decimal) decimal.Decimal { return d.Amount }
func (d FixedAmountDiscount) Kind() DiscountKind                  { return DiscountKindFixedAmount }
func (d FixedAmountDiscount) Value() decimal.Decimal              { return d.Amount }
func (FixedAmountDiscount) sealed()                               {}

// ParseDiscount собирает Discount из сохранённых kind/value.
// Неизвестный вид: ошибка целостности данных.
func ParseDiscount(kind string, value decimal.Decimal) (Discount, error) {
	switch DiscountKind(strings.ToUpper(strings.TrimSpace(kind))) {
	case DiscountKindPercentage:
		return PercentageDiscount{Percent: value}, nil
	case DiscountKindFixedAmount:
		return FixedAmountDiscount{Amount: value}, nil
	default:
		return nil, NewIntegrityError("unsupported voucher discount type %q", kind)
	}
}

// Voucher: код скидки. Движок заказов его только читает.
type Voucher struct {
	Code          string
	Name          string
	Discount      Discount
	MaxDiscount   *decimal.Decimal
	MinOrderValue *decimal.Decimal
	UsageLimit    *int
	// PerUserLimit хранится, но при оформлении заказа не проверяется.
	PerUserLimit *int
	StartsAt     time.Time
	EndsAt       *time.Time
	Active       bool
}

// ActiveAt сообщает, попадает ли момент в окно [StartsAt, EndsAt).
func (v Voucher) ActiveAt(now time.Time) bool {
	if now.Before(v.StartsAt) {
		return false
	}
	if v.EndsAt != nil && !now.Before(*v.EndsAt) {
		return false
	}
	return true
}

// VoucherRedemption: запись об использовании ваучера в заказе.
type VoucherRedemption struct {
	ID         uuid.UUID
	Code       string
	CustomerID uuid.UUID
	OrderID    int64
	RedeemedAt time.Time
}

// NormalizeVoucherCode обрезает пробелы и приводит код к верхнему регистру.
func NormalizeVoucherCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// String нужен для логов.
func (v Voucher) String() string {
	if v.Discount == nil {
		return v.Code
	}
	return fmt.Sprintf("%s(%s %s)", v.Code, v.Discount.Kind(), v.Discount.Value())
}
