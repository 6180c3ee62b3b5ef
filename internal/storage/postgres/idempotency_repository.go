package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

const idempotencyColumns = `customer_id, key, request_hash, response_body, http_status, status, expires_at, created_at, updated_at`

// IdempotencyRepository хранит ключи оформления заказов в таблице idempotency_keys.
type IdempotencyRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewIdempotencyRepository создаёт хранилище ключей поверх подключения Store.
func NewIdempotencyRepository(store *Store) *IdempotencyRepository {
	return &IdempotencyRepository{db: store.DB(), now: time.Now}
}

// WithClock подменяет источник времени для создания и обновления записей.
func (r *IdempotencyRepository) WithClock(now func() time.Time) *IdempotencyRepository {
	if now != nil {
		r.now = now
	}
	return r
}

func (r *IdempotencyRepository) Claim(ctx context.Context, key domain.IdempotencyKey, requestHash string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
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

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Истёкший ключ, до которого ещё не дошла очистка, занимается заново.
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO idempotency_keys (`+idempotencyColumns+`)
		VALUES ($1, $2, $3, NULL, NULL, $4, $5, $6, $6)
		ON CONFLICT (customer_id, key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    response_body = NULL,
		    http_status = NULL,
		    status = EXCLUDED.status,
		    expires_at = EXCLUDED.expires_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE idempotency_keys.expires_at <= EXCLUDED.created_at
		RETURNING `+idempotencyColumns,
		key.CustomerID, key.Value, requestHash, string(domain.IdempotencyStatusProcessing), expiresAt.UTC(), now,
	)
	record, err := scanIdempotencyRecord(row)
	switch {
	case err == nil:
		return record, nil
	case !errors.Is(err, domain.ErrIdempotencyKeyNotFound):
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key: %w", err)
	}

	// Ключ жив: строка не вставлена и не обновлена.
	existing, err := r.get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
		}
		return domain.IdempotencyRecord{}, err
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

// Get не отдаёт истёкшие ключи.
func (r *IdempotencyRepository) Get(ctx context.Context, key domain.IdempotencyKey) (domain.IdempotencyRecord, error) {
	key, err := key.Normalize()
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	record, err := r.get(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if record.Expired(r.now().UTC()) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return record, nil
}

func (r *IdempotencyRepository) Complete(ctx context.Context, key domain.IdempotencyKey, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key, err := key.Normalize()
	if err != nil {
		return err
	}
	if !status.Terminal() {
		return fmt.Errorf("%w: idempotency status %q is not terminal", domain.ErrInvalidRequest, status)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET response_body = $3,
		    http_status = $4,
		    status = $5,
		    updated_at = $6
		WHERE customer_id = $1 AND key = $2 AND status = $7
	`,
		key.CustomerID, key.Value, responseBody, httpStatus, string(status), r.now().UTC(),
		string(domain.IdempotencyStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("idempotency rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := r.get(ctx, key); err != nil {
		return err
	}
	return domain.ErrIdempotencyAlreadyCompleted
}

// Release удаляет ключ; отсутствующий ключ не считается ошибкой.
func (r *IdempotencyRepository) Release(ctx context.Context, key domain.IdempotencyKey) error {
	key, err := key.Normalize()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE customer_id = $1 AND key = $2`, key.CustomerID, key.Value); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// DeleteExpired удаляет истёкшие ключи начиная с самых старых, не больше limit за вызов.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		res sql.Result
		err error
	)
	if limit > 0 {
		res, err = r.db.ExecContext(ctx, `
			DELETE FROM idempotency_keys
			WHERE (customer_id, key) IN (
				SELECT customer_id, key
				FROM idempotency_keys
				WHERE expires_at <= $1
				ORDER BY expires_at
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
		`, before, limit)
	} else {
		res, err = r.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= $1`, before)
	}
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idempotency rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *IdempotencyRepository) get(ctx context.Context, key domain.IdempotencyKey) (domain.IdempotencyRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+idempotencyColumns+`
		FROM idempotency_keys
		WHERE customer_id = $1 AND key = $2
	`, key.CustomerID, key.Value)

	record, err := scanIdempotencyRecord(row)
	if err != nil && !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key %s: %w", key, err)
	}
	return record, err
}

func scanIdempotencyRecord(row *sql.Row) (domain.IdempotencyRecord, error) {
	var (
		record     domain.IdempotencyRecord
		status     string
		httpStatus sql.NullInt64
	)
	err := row.Scan(
		&record.Key.CustomerID,
		&record.Key.Value,
		&record.RequestHash,
		&record.ResponseBody,
		&httpStatus,
		&status,
		&record.ExpiresAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, &domain.IntegrityError{Reason: fmt.Sprintf("unknown idempotency status %q", status)}
	}
	if httpStatus.Valid {
		record.HTTPStatus = int(httpStatus.Int64)
	}
	record.ExpiresAt = record.ExpiresAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
