package domain

import (
	"context"
	"time"
)

// TxManager выполняет fn в одной транзакции хранилища.
// Ошибка fn откатывает все изменения, сделанные через tx.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx: набор репозиториев, привязанных к одной транзакции.
type Tx interface {
	Orders() OrderRepository
	Stock() StockRepository
	Vouchers() VoucherRepository
	Shipments() ShipmentRepository
	Timeline() TimelineRepository
	Outbox() OutboxWriter
	Audit() AuditSink
}

// CatalogReader разрешает варианты товаров. Отсутствующие id в ответе не возвращаются.
type CatalogReader interface {
	GetVariants(ctx context.Context, variantIDs []int64) (map[int64]Variant, error)
}

// AuditSink: журнал действий администраторов, пишется в той же транзакции.
type AuditSink interface {
	Append(ctx context.Context, entry AdminAuditEntry) error
}

// ShippingEventLog: журнал сырых событий перевозчиков вне транзакции.
type ShippingEventLog interface {
	Record(ctx context.Context, event ShippingEvent) error
}

// OrderCache: кэш проекций заказа.
type OrderCache interface {
	Get(ctx context.Context, orderID int64) (OrderDetail, bool, error)
	Set(ctx context.Context, detail OrderDetail) error
	Invalidate(ctx context.Context, orderID int64) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxWriter ставит событие в outbox внутри бизнес-транзакции.
type OutboxWriter interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// OutboxRepository: сторона outbox, с которой работает воркер публикации.
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит ключи повторного оформления заказа.
//
// Claim занимает ключ в статусе processing. Живой ключ возвращается вместе
// с ErrIdempotencyKeyAlreadyExists или ErrIdempotencyHashMismatch, истёкший
// занимается заново. Complete сохраняет ответ только для ключа в processing.
// Release снимает ключ, чтобы запрос можно было повторить.
type IdempotencyRepository interface {
	Claim(ctx context.Context, key IdempotencyKey, requestHash string, expiresAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key IdempotencyKey) (IdempotencyRecord, error)
	Complete(ctx context.Context, key IdempotencyKey, status IdempotencyStatus, responseBody []byte, httpStatus int) error
	Release(ctx context.Context, key IdempotencyKey) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	FailedCount     int
	OldestPendingAt time.Time
}
