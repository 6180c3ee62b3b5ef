// Package order реализует жизненный цикл заказа: оформление с резервированием
// остатка, отмену, финализацию доставки и административные переходы статусов.
package order

import (
	"context"
	"errors"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultListLimit      = 100
	maxListLimit          = 500
	maxCreateAttempts     = 3
	maxNumberAllocAttempt = 3
)

// Engine оркестрирует операции над заказами. Каждая публичная операция
// выполняется в одной транзакции хранилища.
type Engine struct {
	txm         domain.TxManager
	catalog     domain.CatalogReader
	cache       domain.OrderCache
	metrics     *metrics.OrderMetrics
	logger      *log.Entry
	now         func() time.Time
	numbers     *NumberGenerator
	warehouseID int
}

// Option настраивает Engine.
type Option func(*Engine)

// WithLogger задаёт logger движка.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics подключает prometheus-метрики.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock подменяет источник времени (используется в тестах).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithCache подключает кэш проекций заказа.
func WithCache(cache domain.OrderCache) Option {
	return func(e *Engine) {
		e.cache = cache
	}
}

// WithWarehouse задаёт склад, с которого резервируется товар.
func WithWarehouse(warehouseID int) Option {
	return func(e *Engine) {
		e.warehouseID = warehouseID
	}
}

// WithNumberGenerator подменяет генератор номеров заказов.
func WithNumberGenerator(gen *NumberGenerator) Option {
	return func(e *Engine) {
		e.numbers = gen
	}
}

// NewEngine создаёт движок поверх менеджера транзакций и каталога.
func NewEngine(txm domain.TxManager, catalog domain.CatalogReader, opts ...Option) *Engine {
	e := &Engine{
		txm:         txm,
		catalog:     catalog,
		now:         func() time.Time { return time.Now().UTC() },
		warehouseID: domain.DefaultWarehouseID,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.WithField("component", "order-engine")
	}
	if e.numbers == nil {
		e.numbers = NewNumberGenerator()
	}
	if e.warehouseID <= 0 {
		e.warehouseID = domain.DefaultWarehouseID
	}
	return e
}

// invalidate сбрасывает кэш после коммита. Ошибка кэша не влияет на результат операции.
func (e *Engine) invalidate(ctx context.Context, orderID int64) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, orderID); err != nil {
		e.metrics.RecordCacheInvalidationFailure()
		e.logger.WithError(err).WithField("order_id", orderID).Warn("failed to invalidate order cache")
	}
}

// linesByVariant возвращает копию позиций по возрастанию variant id: в этом
// порядке блокируются строки склада во всех операциях.
func linesByVariant(lines []domain.OrderLine) []domain.OrderLine {
	sorted := append([]domain.OrderLine(nil), lines...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].VariantID < sorted[j].VariantID })
	return sorted
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// rejectionReason раскладывает ошибку оформления по меткам метрики.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, domain.ErrVariantUnavailable):
		return "variant_unavailable"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case domain.IsVoucherError(err):
		return "voucher"
	case errors.Is(err, domain.ErrOrderNumberConflict):
		return "number_conflict"
	default:
		return "internal"
	}
}
