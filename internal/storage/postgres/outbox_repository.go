package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"

	defaultOutboxPullLimit = 100
)

// outboxWriter пишет событие в той же транзакции, что и изменение заказа.
type outboxWriter struct {
	q queryer
}

func (w outboxWriter) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if len(msg.Payload) == 0 {
		msg.Payload = []byte("{}")
	}

	// clock_timestamp() упорядочивает события одной транзакции по времени записи.
	const query = `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', clock_timestamp(), clock_timestamp())`
	if _, err := w.q.ExecContext(ctx, query, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message %s: %w", msg.EventType, err)
	}
	return msg, nil
}

// OutboxRepository: сторона outbox, которую читает relay.
type OutboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт репозиторий outbox поверх пула хранилища.
func NewOutboxRepository(store *Store) *OutboxRepository {
	return &OutboxRepository{db: store.DB()}
}

// PullPending возвращает не больше limit ожидающих событий в порядке записи.
func (r *OutboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultOutboxPullLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox_messages
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox messages: %w", err)
	}
	defer rows.Close()

	var pending []domain.OutboxMessage
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		pending = append(pending, msg)
	}
	return pending, rows.Err()
}

// Stats считает backlog и события, ушедшие в failed, одним проходом.
func (r *OutboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			MIN(created_at) FILTER (WHERE status = 'pending')
		FROM outbox_messages`).Scan(&stats.PendingCount, &stats.FailedCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.finish(ctx, id, outboxStatusSent)
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.finish(ctx, id, outboxStatusFailed)
}

// finish переводит pending-событие в конечный статус. Повторная отметка
// уже обработанного события считается ошибкой.
func (r *OutboxRepository) finish(ctx context.Context, id, status string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		updated bool
		current string
	)
	err := r.db.QueryRowContext(ctx, `
		WITH target AS (
			SELECT id, status FROM outbox_messages WHERE id = $1
		), updated AS (
			UPDATE outbox_messages o
			SET status = $2, attempt_count = o.attempt_count + 1, updated_at = now()
			FROM target
			WHERE o.id = target.id AND target.status = 'pending'
			RETURNING o.id
		)
		SELECT EXISTS (SELECT 1 FROM updated), target.status
		FROM target`, id, status).Scan(&updated, &current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: outbox message %s not found", domain.ErrOutboxPublish, id)
	case err != nil:
		return fmt.Errorf("mark outbox message %s as %s: %w", id, status, err)
	case !updated:
		return fmt.Errorf("%w: outbox message %s is already %s", domain.ErrOutboxPublish, id, current)
	}
	return nil
}

var (
	_ domain.OutboxRepository = (*OutboxRepository)(nil)
	_ domain.OutboxWriter     = outboxWriter{}
)
