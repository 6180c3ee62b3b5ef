package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type stockRepository struct {
	q queryer
}

// GetForUpdate блокирует строку склада до конца транзакции.
func (r stockRepository) GetForUpdate(ctx context.Context, warehouseID int, variantID int64) (domain.StockLedgerEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	entry := domain.StockLedgerEntry{WarehouseID: warehouseID, VariantID: variantID}
	err := r.q.QueryRowContext(ctx, `
		SELECT on_hand, reserved, updated_at
		FROM inventory
		WHERE warehouse_id = $1 AND variant_id = $2
		FOR UPDATE
	`, warehouseID, variantID).Scan(&entry.OnHand, &entry.Reserved, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockLedgerEntry{}, domain.NewIntegrityError("inventory row missing for warehouse %d variant %d", warehouseID, variantID)
		}
		return domain.StockLedgerEntry{}, fmt.Errorf("select inventory: %w", err)
	}
	return entry, nil
}

func (r stockRepository) Save(ctx context.Context, entry domain.StockLedgerEntry) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE inventory
		SET on_hand = $1, reserved = $2, updated_at = $3
		WHERE warehouse_id = $4 AND variant_id = $5
	`, entry.OnHand, entry.Reserved, time.Now().UTC(), entry.WarehouseID, entry.VariantID)
	if err != nil {
		if pgErrorCode(err) == pgCheckViolation {
			return domain.NewIntegrityError("inventory check violated for variant %d: %v", entry.VariantID, err)
		}
		return fmt.Errorf("update inventory: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.NewIntegrityError("inventory row missing for warehouse %d variant %d", entry.WarehouseID, entry.VariantID)
	}
	return nil
}

var _ domain.StockRepository = stockRepository{}
