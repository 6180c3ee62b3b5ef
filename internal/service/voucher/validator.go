// Package voucher проверяет коды скидок и считает ограниченную сумму скидки.
package voucher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Quote содержит результат проверки: скидку и сам ваучер для учёта использования.
type Quote struct {
	Voucher  domain.Voucher
	Discount decimal.Decimal
}

// Validator проверяет ваучер по правилам магазина. Состояния не хранит,
// репозиторий передаётся из текущей транзакции.
type Validator struct {
	repo domain.VoucherRepository
}

// NewValidator создаёт валидатор поверх транзакционного репозитория.
func NewValidator(repo domain.VoucherRepository) *Validator {
	return &Validator{repo: repo}
}

// Validate проверяет уже нормализованный код против суммы заказа и текущего времени.
func (v *Validator) Validate(ctx context.Context, code string, subtotal decimal.Decimal, now time.Time) (Quote, error) {
	voucher, err := v.repo.GetForUpdate(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrVoucherInvalid) {
			return Quote{}, err
		}
		return Quote{}, fmt.Errorf("load voucher %s: %w", code, err)
	}

	if !voucher.Active {
		return Quote{}, domain.ErrVoucherInactive
	}
	if !voucher.ActiveAt(now) {
		return Quote{}, domain.ErrVoucherNotActiveNow
	}
	if voucher.MinOrderValue != nil && subtotal.LessThan(*voucher.MinOrderValue) {
		return Quote{}, domain.ErrVoucherMinimumNotMet
	}
	if voucher.UsageLimit != nil {
		used, err := v.repo.CountRedemptions(ctx, voucher.Code)
		if err != nil {
			return Quote{}, fmt.Errorf("count redemptions for %s: %w", voucher.Code, err)
		}
		if used >= *voucher.UsageLimit {
			return Quote{}, domain.ErrVoucherExhausted
		}
	}
	if voucher.Discount == nil {
		return Quote{}, domain.NewIntegrityError("voucher %s has no discount", voucher.Code)
	}

	return Quote{Voucher: voucher, Discount: Bound(voucher, subtotal)}, nil
}

// Bound считает скидку: сначала потолок max_discount, затем не больше суммы заказа, затем не меньше нуля.
func Bound(voucher domain.Voucher, subtotal decimal.Decimal) decimal.Decimal {
	discount := voucher.Discount.Raw(subtotal)
	if voucher.MaxDiscount != nil && discount.GreaterThan(*voucher.MaxDiscount) {
		discount = *voucher.MaxDiscount
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	return discount
}
