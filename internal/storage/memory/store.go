package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Store: in-memory хранилище с транзакциями для локальной разработки и тестов.
// Транзакции выполняются строго последовательно: WithinTx берёт эксклюзивную
// блокировку, работает с копией состояния и подменяет его только при успехе.
type Store struct {
	mu    sync.Mutex
	state *state

	catalogMu sync.RWMutex
	variants  map[int64]domain.Variant
}

type stockKey struct {
	warehouseID int
	variantID   int64
}

type shipmentKey struct {
	carrierCode    string
	trackingNumber string
}

// state: всё изменяемое транзакциями состояние.
type state struct {
	orders       map[int64]domain.Order
	numbers      map[string]int64
	stock        map[stockKey]domain.StockLedgerEntry
	vouchers     map[string]domain.Voucher
	redemptions  []domain.VoucherRedemption
	shipments    map[shipmentKey]domain.Shipment
	timeline     map[int64][]domain.TimelineEvent
	outbox       map[string]outboxRecord
	outboxOrder  []string
	audit        []domain.AdminAuditEntry
	nextOrderID  int64
	nextLineID   int64
	nextShipment int64
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		state: &state{
			orders:    make(map[int64]domain.Order),
			numbers:   make(map[string]int64),
			stock:     make(map[stockKey]domain.StockLedgerEntry),
			vouchers:  make(map[string]domain.Voucher),
			shipments: make(map[shipmentKey]domain.Shipment),
			timeline:  make(map[int64][]domain.TimelineEvent),
			outbox:    make(map[string]outboxRecord),
		},
		variants: make(map[int64]domain.Variant),
	}
}

func (s *state) clone() *state {
	dst := &state{
		orders:       make(map[int64]domain.Order, len(s.orders)),
		numbers:      make(map[string]int64, len(s.numbers)),
		stock:        make(map[stockKey]domain.StockLedgerEntry, len(s.stock)),
		vouchers:     make(map[string]domain.Voucher, len(s.vouchers)),
		redemptions:  append([]domain.VoucherRedemption(nil), s.redemptions...),
		shipments:    make(map[shipmentKey]domain.Shipment, len(s.shipments)),
		timeline:     make(map[int64][]domain.TimelineEvent, len(s.timeline)),
		outbox:       make(map[string]outboxRecord, len(s.outbox)),
		outboxOrder:  append([]string(nil), s.outboxOrder...),
		audit:        append([]domain.AdminAuditEntry(nil), s.audit...),
		nextOrderID:  s.nextOrderID,
		nextLineID:   s.nextLineID,
		nextShipment: s.nextShipment,
	}
	for id, order := range s.orders {
		dst.orders[id] = order.Clone()
	}
	for number, id := range s.numbers {
		dst.numbers[number] = id
	}
	for key, entry := range s.stock {
		dst.stock[key] = entry
	}
	for code, v := range s.vouchers {
		dst.vouchers[code] = v
	}
	for key, sh := range s.shipments {
		dst.shipments[key] = sh
	}
	for id, events := range s.timeline {
		dst.timeline[id] = append([]domain.TimelineEvent(nil), events...)
	}
	for id, rec := range s.outbox {
		dst.outbox[id] = rec.clone()
	}
	return dst
}

// WithinTx выполняет fn над копией состояния; ошибка или паника fn оставляют состояние нетронутым.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(ctx, &memTx{st: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = working
	return nil
}

// memTx связывает репозитории с рабочей копией состояния.
type memTx struct {
	st *state
}

func (t *memTx) Orders() domain.OrderRepository       { return orderRepository{st: t.st} }
func (t *memTx) Stock() domain.StockRepository        { return stockRepository{st: t.st} }
func (t *memTx) Vouchers() domain.VoucherRepository   { return voucherRepository{st: t.st} }
func (t *memTx) Shipments() domain.ShipmentRepository { return shipmentRepository{st: t.st} }
func (t *memTx) Timeline() domain.TimelineRepository  { return timelineRepository{st: t.st} }
func (t *memTx) Outbox() domain.OutboxWriter          { return outboxWriter{st: t.st} }
func (t *memTx) Audit() domain.AuditSink              { return auditSink{st: t.st} }

// GetVariants реализует CatalogReader. Каталог не участвует в транзакциях.
func (s *Store) GetVariants(_ context.Context, variantIDs []int64) (map[int64]domain.Variant, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()

	result := make(map[int64]domain.Variant, len(variantIDs))
	for _, id := range variantIDs {
		if v, ok := s.variants[id]; ok {
			result[id] = v
		}
	}
	return result, nil
}

// SeedVariant добавляет или заменяет вариант в каталоге.
func (s *Store) SeedVariant(v domain.Variant) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	s.variants[v.VariantID] = v
}

// SeedStock задаёт складскую строку варианта.
func (s *Store) SeedStock(warehouseID int, variantID int64, onHand, reserved int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.stock[stockKey{warehouseID: warehouseID, variantID: variantID}] = domain.StockLedgerEntry{
		WarehouseID: warehouseID,
		VariantID:   variantID,
		OnHand:      onHand,
		Reserved:    reserved,
		UpdatedAt:   time.Now().UTC(),
	}
}

// SeedVoucher сохраняет ваучер под нормализованным кодом.
func (s *Store) SeedVoucher(v domain.Voucher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.Code = domain.NormalizeVoucherCode(v.Code)
	s.state.vouchers[v.Code] = v
}

// SeedProduct: упрощённое заведение активного варианта вместе с остатком.
func (s *Store) SeedProduct(variantID int64, title string, price decimal.Decimal, onHand int) {
	s.SeedVariant(domain.Variant{
		VariantID:    variantID,
		ProductID:    variantID,
		Title:        title,
		SKU:          title,
		UnitPrice:    price,
		Active:       true,
		ProductState: domain.ProductStateActive,
	})
	s.SeedStock(domain.DefaultWarehouseID, variantID, onHand, 0)
}

// StockEntry возвращает складскую строку вне транзакции.
func (s *Store) StockEntry(warehouseID int, variantID int64) (domain.StockLedgerEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.state.stock[stockKey{warehouseID: warehouseID, variantID: variantID}]
	return entry, ok
}

// Redemptions возвращает использования ваучера.
func (s *Store) Redemptions(code string) []domain.VoucherRedemption {
	s.mu.Lock()
	defer s.mu.Unlock()
	code = domain.NormalizeVoucherCode(code)
	var result []domain.VoucherRedemption
	for _, r := range s.state.redemptions {
		if r.Code == code {
			result = append(result, r)
		}
	}
	return result
}

// AuditEntries возвращает копию журнала администраторов.
func (s *Store) AuditEntries() []domain.AdminAuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AdminAuditEntry(nil), s.state.audit...)
}

var (
	_ domain.TxManager     = (*Store)(nil)
	_ domain.CatalogReader = (*Store)(nil)
)
