package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type errorCode string

const (
	codeValidation           errorCode = "VALIDATION_ERROR"
	codeUnauthorized         errorCode = "UNAUTHORIZED"
	codeForbidden            errorCode = "FORBIDDEN"
	codeNotFound             errorCode = "NOT_FOUND"
	codeMethodNotAllowed     errorCode = "METHOD_NOT_ALLOWED"
	codeVariantUnavailable   errorCode = "VARIANT_UNAVAILABLE"
	codeInsufficientStock    errorCode = "INSUFFICIENT_STOCK"
	codeVoucherInvalid       errorCode = "VOUCHER_INVALID"
	codeVoucherInactive      errorCode = "VOUCHER_INACTIVE"
	codeVoucherNotActiveNow  errorCode = "VOUCHER_NOT_ACTIVE_NOW"
	codeVoucherMinimumNotMet errorCode = "VOUCHER_MINIMUM_NOT_MET"
	codeVoucherExhausted     errorCode = "VOUCHER_EXHAUSTED"
	codeCancelNotAllowed     errorCode = "CANCEL_NOT_ALLOWED"
	codeTransitionNotAllowed errorCode = "STATUS_TRANSITION_NOT_ALLOWED"
	codeIdempotencyReused    errorCode = "IDEMPOTENCY_KEY_REUSED"
	codeIdempotencyInFlight  errorCode = "IDEMPOTENCY_REQUEST_IN_PROGRESS"
	codeInternal             errorCode = "INTERNAL_ERROR"
)

// errorMapping связывает доменную ошибку с кодом и HTTP-статусом.
// Порядок важен: первая совпавшая строка побеждает.
var errorMappings = []struct {
	target error
	code   errorCode
	status int
}{
	{domain.ErrInvalidRequest, codeValidation, http.StatusBadRequest},
	{domain.ErrForbidden, codeForbidden, http.StatusForbidden},
	{domain.ErrOrderNotFound, codeNotFound, http.StatusNotFound},
	{domain.ErrInsufficientStock, codeInsufficientStock, http.StatusConflict},
	{domain.ErrCancelNotAllowed, codeCancelNotAllowed, http.StatusConflict},
	{domain.ErrStatusTransitionNotAllowed, codeTransitionNotAllowed, http.StatusConflict},
	{domain.ErrIdempotencyHashMismatch, codeIdempotencyReused, http.StatusConflict},
	{domain.ErrIdempotencyKeyAlreadyExists, codeIdempotencyInFlight, http.StatusConflict},
	{domain.ErrVariantUnavailable, codeVariantUnavailable, http.StatusUnprocessableEntity},
	{domain.ErrVoucherInvalid, codeVoucherInvalid, http.StatusUnprocessableEntity},
	{domain.ErrVoucherInactive, codeVoucherInactive, http.StatusUnprocessableEntity},
	{domain.ErrVoucherNotActiveNow, codeVoucherNotActiveNow, http.StatusUnprocessableEntity},
	{domain.ErrVoucherMinimumNotMet, codeVoucherMinimumNotMet, http.StatusUnprocessableEntity},
	{domain.ErrVoucherExhausted, codeVoucherExhausted, http.StatusUnprocessableEntity},
}

// apiError: ошибка транспортного уровня с готовым кодом и статусом.
type apiError struct {
	code    errorCode
	status  int
	message string
	details any
	cause   error
}

func (e *apiError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *apiError) Unwrap() error { return e.cause }

func newAPIError(code errorCode, status int, message string) *apiError {
	return &apiError{code: code, status: status, message: message}
}

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

// classify переводит ошибку в тело ответа и статус. Неизвестные ошибки
// и нарушения целостности данных отдаются как 500 без подробностей.
func classify(err error) (int, errorPayload) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.status, errorPayload{Code: apiErr.code, Message: apiErr.message, Details: apiErr.details}
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, errorPayload{Code: m.code, Message: m.target.Error(), Details: errorDetails(err)}
		}
	}
	return http.StatusInternalServerError, errorPayload{Code: codeInternal, Message: "internal server error"}
}

func errorDetails(err error) any {
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		details := make(map[string]string, len(validation.Problems))
		for _, p := range validation.Problems {
			details[p.Field] = p.Reason
		}
		return details
	}

	var stock *domain.InsufficientStockError
	if errors.As(err, &stock) {
		return map[string]any{
			"variant_id": stock.VariantID,
			"requested":  stock.Requested,
			"available":  stock.Available,
		}
	}

	var unavailable *domain.VariantUnavailableError
	if errors.As(err, &unavailable) {
		return map[string]any{"variant_ids": unavailable.VariantIDs}
	}
	return nil
}

func writeError(w http.ResponseWriter, logger *log.Entry, err error) {
	status, payload := classify(err)
	if status >= http.StatusInternalServerError {
		logger.WithError(err).Error("request failed")
	} else {
		logger.WithError(err).WithField("code", payload.Code).Debug("request rejected")
	}
	writeJSON(w, status, errorBody{Error: payload})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
