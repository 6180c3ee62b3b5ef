package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxIdempotencyKeyLength ограничивает длину ключа из заголовка запроса.
const MaxIdempotencyKeyLength = 128

var (
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyKeyTooLong          = errors.New("idempotency key is too long")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with a different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	ErrIdempotencyAlreadyCompleted    = errors.New("idempotency key already has a stored response")
)

// IdempotencyKey: ключ оформления заказа в области одного клиента.
// Одинаковые значения у разных клиентов не пересекаются.
type IdempotencyKey struct {
	CustomerID uuid.UUID
	Value      string
}

// NewIdempotencyKey строит ключ для актора из сырого заголовка.
func NewIdempotencyKey(actor Actor, raw string) IdempotencyKey {
	return IdempotencyKey{CustomerID: actor.ID, Value: raw}
}

// Normalize обрезает пробелы и проверяет длину ключа.
func (k IdempotencyKey) Normalize() (IdempotencyKey, error) {
	k.Value = strings.TrimSpace(k.Value)
	switch {
	case k.Value == "":
		return k, ErrIdempotencyKeyRequired
	case len(k.Value) > MaxIdempotencyKeyLength:
		return k, ErrIdempotencyKeyTooLong
	}
	return k, nil
}

func (k IdempotencyKey) String() string {
	return fmt.Sprintf("%s/%s", k.CustomerID, k.Value)
}

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что оформление ещё выполняется.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone означает, что заказ создан и ответ сохранён.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed означает отказ в оформлении по вине запроса;
	// ответ тоже сохраняется, повтор получает тот же результат.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal: статус, с которым ключ закрывается и ответ сохраняется.
func (s IdempotencyStatus) Terminal() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyRecord хранит состояние обработки запроса оформления заказа.
type IdempotencyRecord struct {
	Key          IdempotencyKey
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Completed: ответ сохранён и его можно отдать повторно.
func (r IdempotencyRecord) Completed() bool {
	return r.Status.Terminal()
}

// Expired: ключ истёк к моменту now и может быть занят заново.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
