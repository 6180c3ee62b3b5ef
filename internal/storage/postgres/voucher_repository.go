package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type voucherRepository struct {
	q queryer
}

const selectVoucher = `
	SELECT code, name, discount_type, discount_value, max_discount, min_order_value,
	       usage_limit, per_user_limit, starts_at, ends_at, active
	FROM vouchers
	WHERE code = $1`

// GetForUpdate читает ваучер. Строка с лимитом использований блокируется,
// чтобы подсчёт использований и новая запись не разошлись между транзакциями;
// безлимитный ваучер читается без блокировки.
func (r voucherRepository) GetForUpdate(ctx context.Context, code string) (domain.Voucher, error) {
	code = domain.NormalizeVoucherCode(code)
	v, err := r.get(ctx, selectVoucher, code)
	if err != nil || v.UsageLimit == nil {
		return v, err
	}
	// Лимит могли изменить между чтениями, поэтому данные берутся из блокирующего запроса.
	return r.get(ctx, selectVoucher+"\n\tFOR UPDATE", code)
}

func (r voucherRepository) get(ctx context.Context, query, code string) (domain.Voucher, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		v             domain.Voucher
		kind          string
		value         decimal.Decimal
		maxDiscount   decimal.NullDecimal
		minOrderValue decimal.NullDecimal
		usageLimit    sql.NullInt64
		perUserLimit  sql.NullInt64
		endsAt        sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, query, code).Scan(
		&v.Code, &v.Name, &kind, &value, &maxDiscount, &minOrderValue,
		&usageLimit, &perUserLimit, &v.StartsAt, &endsAt, &v.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Voucher{}, domain.ErrVoucherInvalid
		}
		return domain.Voucher{}, fmt.Errorf("select voucher: %w", err)
	}

	discount, err := domain.ParseDiscount(kind, value)
	if err != nil {
		return domain.Voucher{}, err
	}
	v.Discount = discount
	v.StartsAt = v.StartsAt.UTC()
	v.EndsAt = timePtr(endsAt)
	if maxDiscount.Valid {
		v.MaxDiscount = &maxDiscount.Decimal
	}
	if minOrderValue.Valid {
		v.MinOrderValue = &minOrderValue.Decimal
	}
	v.UsageLimit = intPtr(usageLimit)
	v.PerUserLimit = intPtr(perUserLimit)
	return v, nil
}

func (r voucherRepository) CountRedemptions(ctx context.Context, code string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int
	if err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM voucher_redemptions WHERE code = $1
	`, domain.NormalizeVoucherCode(code)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count voucher redemptions: %w", err)
	}
	return count, nil
}

func (r voucherRepository) AddRedemption(ctx context.Context, redemption domain.VoucherRedemption) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO voucher_redemptions (id, code, customer_id, order_id, redeemed_at)
		VALUES ($1,$2,$3,$4,$5)
	`,
		redemption.ID, domain.NormalizeVoucherCode(redemption.Code),
		redemption.CustomerID, redemption.OrderID, redemption.RedeemedAt,
	); err != nil {
		return fmt.Errorf("insert voucher redemption: %w", err)
	}
	return nil
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

var _ domain.VoucherRepository = voucherRepository{}
