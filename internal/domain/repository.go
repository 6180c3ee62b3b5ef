package domain

import (
	"context"

	"github.com/google/uuid"
)

// OrderRepository: заказы и их позиции в рамках транзакции.
type OrderRepository interface {
	// Create сохраняет заказ с позициями и проставляет ID. Занятый номер: ErrOrderNumberConflict.
	Create(ctx context.Context, order *Order) error
	// NumberExists проверяет, занят ли номер заказа.
	NumberExists(ctx context.Context, number string) (bool, error)
	// Get возвращает заказ с позициями или ErrOrderNotFound.
	Get(ctx context.Context, id int64) (Order, error)
	// GetForUpdate как Get, но блокирует заказ до конца транзакции.
	GetForUpdate(ctx context.Context, id int64) (Order, error)
	// GetByNumberForUpdate ищет заказ по номеру и блокирует его.
	GetByNumberForUpdate(ctx context.Context, number string) (Order, error)
	// Update сохраняет изменяемые поля заказа (статусы, вехи, перевозчик). Позиции не меняются.
	Update(ctx context.Context, order Order) error
	// ListByCustomer возвращает заказы клиента, новые первыми.
	ListByCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]OrderSummary, error)
	// List возвращает заказы, новые первыми, с опциональным фильтром по статусу.
	List(ctx context.Context, status *OrderStatus, limit int) ([]OrderSummary, error)
}

// StockRepository: строки складского учёта в рамках транзакции.
type StockRepository interface {
	// GetForUpdate читает и блокирует строку. Отсутствие строки: *IntegrityError.
	GetForUpdate(ctx context.Context, warehouseID int, variantID int64) (StockLedgerEntry, error)
	// Save записывает остатки существующей строки.
	Save(ctx context.Context, entry StockLedgerEntry) error
}

// VoucherRepository: ваучеры и их использования.
type VoucherRepository interface {
	// GetForUpdate возвращает ваучер; строка с лимитом использований блокируется.
	// ErrVoucherInvalid, если кода нет.
	GetForUpdate(ctx context.Context, code string) (Voucher, error)
	CountRedemptions(ctx context.Context, code string) (int, error)
	AddRedemption(ctx context.Context, redemption VoucherRedemption) error
}

// ShipmentRepository: отгрузки в рамках транзакции.
type ShipmentRepository interface {
	// GetForUpdate ищет отгрузку по паре перевозчик/трек-номер; ErrShipmentNotFound, если нет.
	GetForUpdate(ctx context.Context, carrierCode, trackingNumber string) (Shipment, error)
	Create(ctx context.Context, shipment *Shipment) error
	Update(ctx context.Context, shipment Shipment) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID int64) ([]TimelineEvent, error)
}
