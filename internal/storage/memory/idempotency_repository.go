package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

// IdempotencyRepository держит ключи оформления заказов в памяти процесса.
type IdempotencyRepository struct {
	mu      sync.Mutex
	records map[domain.IdempotencyKey]domain.IdempotencyRecord
	now     func() time.Time
}

// IdempotencyOption настраивает IdempotencyRepository.
type IdempotencyOption func(*IdempotencyRepository)

// WithIdempotencyClock подменяет источник времени.
func WithIdempotencyClock(now func() time.Time) IdempotencyOption {
	return func(r *IdempotencyRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewIdempotencyRepository создаёт пустое хранилище ключей.
func NewIdempotencyRepository(opts ...IdempotencyOption) *IdempotencyRepository {
	r := &IdempotencyRepository{
		records: make(map[domain.IdempotencyKey]domain.IdempotencyRecord),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *IdempotencyRepository) Claim(_ context.Context, key domain.IdempotencyKey, requestHash string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
	key, err := key.Normalize()
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	requestHash = strings.TrimSpace(requestHash)
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now().UTC()
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultIdempotencyTTL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Истёкший ключ занимается заново, даже если очистка до него ещё не дошла.
	if existing, ok := r.records[key]; ok && !existing.Expired(now) {
		if existing.RequestHash != requestHash {
			return cloneRecord(existing), domain.ErrIdempotencyHashMismatch
		}
		return cloneRecord(existing), domain.ErrIdempotencyKeyAlreadyExists
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		ExpiresAt:   expiresAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.records[key] = record
	return cloneRecord(record), nil
}

// Get не отдаёт истёкшие ключи.
func (r *IdempotencyRepository) Get(_ context.Context, key domain.IdempotencyKey) (domain.IdempotencyRecord, error) {
	key, err := key.Normalize()
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok || record.Expired(r.now().UTC()) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return cloneRecord(record), nil
}

func (r *IdempotencyRepository) Complete(_ context.Context, key domain.IdempotencyKey, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key, err := key.Normalize()
	if err != nil {
		return err
	}
	if !status.Terminal() {
		return fmt.Errorf("%w: idempotency status %q is not terminal", domain.ErrInvalidRequest, status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	if record.Completed() {
		return domain.ErrIdempotencyAlreadyCompleted
	}

	record.Status = status
	record.ResponseBody = append([]byte(nil), responseBody...)
	record.HTTPStatus = httpStatus
	record.UpdatedAt = r.now().UTC()
	r.records[key] = record
	return nil
}

// Release удаляет ключ; отсутствующий ключ не считается ошибкой.
func (r *IdempotencyRepository) Release(_ context.Context, key domain.IdempotencyKey) error {
	key, err := key.Normalize()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, key)
	return nil
}

// DeleteExpired удаляет истёкшие ключи начиная с самых старых.
func (r *IdempotencyRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if before.IsZero() {
		before = r.now().UTC()
	}

	expired := lo.Filter(lo.Values(r.records), func(rec domain.IdempotencyRecord, _ int) bool {
		return rec.Expired(before)
	})
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, rec := range expired {
		delete(r.records, rec.Key)
	}
	return len(expired), nil
}

// Len возвращает число хранимых ключей, включая истёкшие.
func (r *IdempotencyRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func cloneRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.ResponseBody = append([]byte(nil), src.ResponseBody...)
	return dst
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
