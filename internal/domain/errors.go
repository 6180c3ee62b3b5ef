package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRequest: запрос не прошёл валидацию до любых обращений к хранилищу.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrVariantUnavailable: вариант товара отсутствует или снят с продажи.
	ErrVariantUnavailable = errors.New("variant unavailable")
	// ErrInsufficientStock: доступного остатка не хватает на запрошенное количество.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrVoucherInvalid: ваучер с таким кодом не найден.
	ErrVoucherInvalid = errors.New("voucher invalid")
	// ErrVoucherInactive: ваучер выключен.
	ErrVoucherInactive = errors.New("voucher inactive")
	// ErrVoucherNotActiveNow: текущее время вне окна действия ваучера.
	ErrVoucherNotActiveNow = errors.New("voucher not yet or no longer active")
	// ErrVoucherMinimumNotMet: сумма заказа ниже минимальной для ваучера.
	ErrVoucherMinimumNotMet = errors.New("voucher minimum order value not met")
	// ErrVoucherExhausted: лимит использований ваучера исчерпан.
	ErrVoucherExhausted = errors.New("voucher usage limit exhausted")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrCancelNotAllowed: отменять можно только заказы в статусе pending.
	ErrCancelNotAllowed = errors.New("only pending orders can be cancelled")
	// ErrStatusTransitionNotAllowed: переход статуса назад или из терминального состояния.
	ErrStatusTransitionNotAllowed = errors.New("order status transition not allowed")
	// ErrForbidden: у актора нет прав на операцию.
	ErrForbidden = errors.New("forbidden")
	// ErrOrderNumberConflict: номер заказа уже занят (гонка генераторов между процессами).
	ErrOrderNumberConflict = errors.New("order number conflict")
	// ErrShipmentNotFound возвращается репозиторием, если отгрузки ещё нет.
	ErrShipmentNotFound = errors.New("shipment not found")
	// ErrDataIntegrity: нарушена целостность данных (баг в заведении данных, не ошибка пользователя).
	ErrDataIntegrity = errors.New("data integrity violation")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ValidationError перечисляет проблемы входного запроса.
type ValidationError struct {
	Problems []FieldProblem
}

// FieldProblem описывает одну проблему конкретного поля.
type FieldProblem struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+": "+p.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidRequest, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

// Add регистрирует проблему поля.
func (e *ValidationError) Add(field, reason string) {
	e.Problems = append(e.Problems, FieldProblem{Field: field, Reason: reason})
}

// OrNil возвращает nil, если проблем нет.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Problems) == 0 {
		return nil
	}
	return e
}

// InsufficientStockError указывает вариант, по которому не хватило остатка.
type InsufficientStockError struct {
	VariantID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: variant %d requested %d available %d", ErrInsufficientStock, e.VariantID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// VariantUnavailableError перечисляет недоступные варианты.
type VariantUnavailableError struct {
	VariantIDs []int64
}

func (e *VariantUnavailableError) Error() string {
	return fmt.Sprintf("%s: %v", ErrVariantUnavailable, e.VariantIDs)
}

func (e *VariantUnavailableError) Unwrap() error { return ErrVariantUnavailable }

// IntegrityError: фатальная ошибка данных, транзакция должна быть откатена.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDataIntegrity, e.Reason)
}

func (e *IntegrityError) Unwrap() error { return ErrDataIntegrity }

// NewIntegrityError создаёт IntegrityError с форматированной причиной.
func NewIntegrityError(format string, args ...any) error {
	return &IntegrityError{Reason: fmt.Sprintf(format, args...)}
}

// IsVoucherError сообщает, относится ли ошибка к отказу валидатора ваучеров.
func IsVoucherError(err error) bool {
	return errors.Is(err, ErrVoucherInvalid) ||
		errors.Is(err, ErrVoucherInactive) ||
		errors.Is(err, ErrVoucherNotActiveNow) ||
		errors.Is(err, ErrVoucherMinimumNotMet) ||
		errors.Is(err, ErrVoucherExhausted)
}
