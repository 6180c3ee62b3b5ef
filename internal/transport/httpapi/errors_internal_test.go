package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   errorCode
	}{
		{"wrapped not found", fmt.Errorf("get order: %w", domain.ErrOrderNotFound), http.StatusNotFound, codeNotFound},
		{"voucher minimum", domain.ErrVoucherMinimumNotMet, http.StatusUnprocessableEntity, codeVoucherMinimumNotMet},
		{"variant unavailable", &domain.VariantUnavailableError{VariantIDs: []int64{7}}, http.StatusUnprocessableEntity, codeVariantUnavailable},
		{"cancel not allowed", domain.ErrCancelNotAllowed, http.StatusConflict, codeCancelNotAllowed},
		{"integrity", domain.NewIntegrityError("missing stock row"), http.StatusInternalServerError, codeInternal},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, codeInternal},
		{"api error", newAPIError(codeUnauthorized, http.StatusUnauthorized, "missing bearer token"), http.StatusUnauthorized, codeUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, payload := classify(tt.err)
			if status != tt.wantStatus || payload.Code != tt.wantCode {
				t.Fatalf("classify(%v) = %d %s, want %d %s", tt.err, status, payload.Code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}

func TestClassifyHidesInternalMessage(t *testing.T) {
	_, payload := classify(domain.NewIntegrityError("stock row for variant %d missing", 42))
	if payload.Message != "internal server error" || payload.Details != nil {
		t.Fatalf("internal details leaked: %+v", payload)
	}
}

func TestClassifyValidationDetails(t *testing.T) {
	problems := &domain.ValidationError{}
	problems.Add("items", "must not be empty")

	status, payload := classify(problems)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	details, ok := payload.Details.(map[string]string)
	if !ok || details["items"] != "must not be empty" {
		t.Fatalf("unexpected details: %#v", payload.Details)
	}
}
