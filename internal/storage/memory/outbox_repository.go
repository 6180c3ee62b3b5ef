package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

func (r outboxRecord) clone() outboxRecord {
	r.msg.Payload = append([]byte(nil), r.msg.Payload...)
	return r
}

// outboxWriter ставит события в outbox внутри транзакции.
type outboxWriter struct {
	st *state
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его с идентификатором.
func (w outboxWriter) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	w.st.outbox[msg.ID] = outboxRecord{
		msg:       msg,
		status:    outboxStatusPending,
		createdAt: now,
		updatedAt: now,
	}.clone()
	w.st.outboxOrder = append(w.st.outboxOrder, msg.ID)
	return msg, nil
}

// Outbox возвращает сторону outbox для воркера публикации.
func (s *Store) Outbox() domain.OutboxRepository {
	return storeOutbox{s: s}
}

type storeOutbox struct {
	s *Store
}

// PullPending возвращает до limit сообщений со статусом `pending` в порядке постановки.
func (o storeOutbox) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.OutboxMessage, 0, limit)
	for _, id := range o.s.state.outboxOrder {
		rec := o.s.state.outbox[id]
		if rec.status != outboxStatusPending {
			continue
		}
		result = append(result, rec.clone().msg)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (o storeOutbox) Stats(_ context.Context) (domain.OutboxStats, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	var stats domain.OutboxStats
	for _, rec := range o.s.state.outbox {
		if rec.status == outboxStatusFailed {
			stats.FailedCount++
		}
		if rec.status != outboxStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.createdAt
		}
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (o storeOutbox) MarkSent(_ context.Context, id string) error {
	return o.mark(id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (o storeOutbox) MarkFailed(_ context.Context, id string) error {
	return o.mark(id, outboxStatusFailed)
}

func (o storeOutbox) mark(id, status string) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	rec, ok := o.s.state.outbox[id]
	if !ok {
		return fmt.Errorf("%w: outbox message %s not found", domain.ErrOutboxPublish, id)
	}
	if rec.status != outboxStatusPending {
		return fmt.Errorf("%w: outbox message %s is already %s", domain.ErrOutboxPublish, id, rec.status)
	}
	rec.status = status
	rec.attemptCnt++
	rec.updatedAt = time.Now().UTC()
	o.s.state.outbox[id] = rec
	return nil
}

// PendingOutbox возвращает все pending-сообщения (используется в тестах).
func (s *Store) PendingOutbox() []domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []domain.OutboxMessage
	for _, id := range s.state.outboxOrder {
		if rec := s.state.outbox[id]; rec.status == outboxStatusPending {
			result = append(result, rec.clone().msg)
		}
	}
	return result
}

var (
	_ domain.OutboxWriter     = outboxWriter{}
	_ domain.OutboxRepository = storeOutbox{}
)
