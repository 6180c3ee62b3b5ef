package memory

import (
	"context"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type stockRepository struct {
	st *state
}

func (r stockRepository) GetForUpdate(_ context.Context, warehouseID int, variantID int64) (domain.StockLedgerEntry, error) {
	entry, ok := r.st.stock[stockKey{warehouseID: warehouseID, variantID: variantID}]
	if !ok {
		return domain.StockLedgerEntry{}, domain.NewIntegrityError("no stock row for warehouse %d variant %d", warehouseID, variantID)
	}
	return entry, nil
}

func (r stockRepository) Save(_ context.Context, entry domain.StockLedgerEntry) error {
	key := stockKey{warehouseID: entry.WarehouseID, variantID: entry.VariantID}
	if _, ok := r.st.stock[key]; !ok {
		return domain.NewIntegrityError("no stock row for warehouse %d variant %d", entry.WarehouseID, entry.VariantID)
	}
	if entry.OnHand < 0 || entry.Reserved < 0 {
		return domain.NewIntegrityError("negative stock for variant %d", entry.VariantID)
	}
	r.st.stock[key] = entry
	return nil
}

var _ domain.StockRepository = stockRepository{}
