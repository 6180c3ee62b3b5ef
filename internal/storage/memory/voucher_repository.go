package memory

import (
	"context"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type voucherRepository struct {
	st *state
}

func (r voucherRepository) GetForUpdate(_ context.Context, code string) (domain.Voucher, error) {
	v, ok := r.st.vouchers[domain.NormalizeVoucherCode(code)]
	if !ok {
		return domain.Voucher{}, domain.ErrVoucherInvalid
	}
	return v, nil
}

func (r voucherRepository) CountRedemptions(_ context.Context, code string) (int, error) {
	code = domain.NormalizeVoucherCode(code)
	count := 0
	for _, red := range r.st.redemptions {
		if red.Code == code {
			count++
		}
	}
	return count, nil
}

func (r voucherRepository) AddRedemption(_ context.Context, redemption domain.VoucherRedemption) error {
	redemption.Code = domain.NormalizeVoucherCode(redemption.Code)
	r.st.redemptions = append(r.st.redemptions, redemption)
	return nil
}

var _ domain.VoucherRepository = voucherRepository{}
