// Package stock применяет операции складского учёта внутри чужой транзакции.
package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Ledger работает со строками одного склада. Собственной транзакции не открывает:
// репозиторий должен быть привязан к транзакции вызывающего кода.
type Ledger struct {
	repo        domain.StockRepository
	warehouseID int
	now         func() time.Time
}

// NewLedger создаёт Ledger поверх транзакционного репозитория.
func NewLedger(repo domain.StockRepository, warehouseID int) *Ledger {
	if warehouseID <= 0 {
		warehouseID = domain.DefaultWarehouseID
	}
	return &Ledger{
		repo:        repo,
		warehouseID: warehouseID,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// GetAvailable возвращает on_hand - reserved, но не меньше нуля.
// Строка блокируется до конца транзакции, поэтому последующий Reserve не гоняется
// с параллельными оформлениями.
func (l *Ledger) GetAvailable(ctx context.Context, variantID int64) (int, error) {
	entry, err := l.load(ctx, variantID)
	if err != nil {
		return 0, err
	}
	return entry.Available(), nil
}

// Reserve увеличивает резерв без повторной проверки доступности.
func (l *Ledger) Reserve(ctx context.Context, variantID int64, qty int) error {
	return l.apply(ctx, variantID, func(e domain.StockLedgerEntry) domain.StockLedgerEntry {
		return e.Reserve(qty)
	})
}

// Release снимает резерв, не опускаясь ниже нуля.
func (l *Ledger) Release(ctx context.Context, variantID int64, qty int) error {
	return l.apply(ctx, variantID, func(e domain.StockLedgerEntry) domain.StockLedgerEntry {
		return e.Release(qty)
	})
}

// Commit окончательно списывает товар при доставке.
func (l *Ledger) Commit(ctx context.Context, variantID int64, qty int) error {
	return l.apply(ctx, variantID, func(e domain.StockLedgerEntry) domain.StockLedgerEntry {
		return e.Commit(qty)
	})
}

func (l *Ledger) apply(ctx context.Context, variantID int64, op func(domain.StockLedgerEntry) domain.StockLedgerEntry) error {
	entry, err := l.load(ctx, variantID)
	if err != nil {
		return err
	}
	next := op(entry)
	next.UpdatedAt = l.now()
	if err := l.repo.Save(ctx, next); err != nil {
		return fmt.Errorf("save stock for variant %d: %w", variantID, err)
	}
	return nil
}

func (l *Ledger) load(ctx context.Context, variantID int64) (domain.StockLedgerEntry, error) {
	entry, err := l.repo.GetForUpdate(ctx, l.warehouseID, variantID)
	if err != nil {
		return domain.StockLedgerEntry{}, fmt.Errorf("load stock for variant %d: %w", variantID, err)
	}
	return entry, nil
}
