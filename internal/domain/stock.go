package domain

import "time"

// DefaultWarehouseID: единственный склад, с которым работает магазин.
const DefaultWarehouseID = 1

// StockLedgerEntry: остатки варианта на складе.
type StockLedgerEntry struct {
	WarehouseID int
	VariantID   int64
	OnHand      int
	Reserved    int
	UpdatedAt   time.Time
}

// Available возвращает доступный к продаже остаток: max(on_hand - reserved, 0).
func (e StockLedgerEntry) Available() int {
	if avail := e.OnHand - e.Reserved; avail > 0 {
		return avail
	}
	return 0
}

// Reserve увеличивает резерв. Доступность проверяет вызывающий код.
func (e StockLedgerEntry) Reserve(qty int) StockLedgerEntry {
	if qty > 0 {
		e.Reserved += qty
	}
	return e
}

// Release снимает резерв, не опускаясь ниже нуля (повторный release безопасен).
func (e StockLedgerEntry) Release(qty int) StockLedgerEntry {
	if qty > 0 {
		e.Reserved = floorZero(e.Reserved - qty)
	}
	return e
}

// Commit списывает товар окончательно: уменьшает и резерв, и остаток.
func (e StockLedgerEntry) Commit(qty int) StockLedgerEntry {
	if qty > 0 {
		e.Reserved = floorZero(e.Reserved - qty)
		e.OnHand = floorZero(e.OnHand - qty)
	}
	return e
}

func floorZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
