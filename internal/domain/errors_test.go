package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "validation", err: &ValidationError{Problems: []FieldProblem{{Field: "email", Reason: "is required"}}}, want: ErrInvalidRequest},
		{name: "insufficient stock", err: &InsufficientStockError{VariantID: 42, Requested: 8, Available: 7}, want: ErrInsufficientStock},
		{name: "variant unavailable", err: &VariantUnavailableError{VariantIDs: []int64{7}}, want: ErrVariantUnavailable},
		{name: "integrity", err: NewIntegrityError("no stock row for variant %d", 9), want: ErrDataIntegrity},
		{name: "wrapped integrity", err: fmt.Errorf("reserve: %w", NewIntegrityError("x")), want: ErrDataIntegrity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Fatalf("errors.Is(%v, %v) = false", tt.err, tt.want)
			}
		})
	}
}

func TestInsufficientStockErrorCarriesVariant(t *testing.T) {
	err := fmt.Errorf("create order: %w", &InsufficientStockError{VariantID: 42, Requested: 8, Available: 7})

	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError in chain, got %v", err)
	}
	if stockErr.VariantID != 42 || stockErr.Available != 7 {
		t.Fatalf("unexpected payload: %+v", stockErr)
	}
	if !strings.Contains(err.Error(), "variant 42") {
		t.Fatalf("message should name the variant: %s", err)
	}
}

func TestValidationErrorOrNil(t *testing.T) {
	var v ValidationError
	if v.OrNil() != nil {
		t.Fatal("empty validation error should be nil")
	}
	v.Add("items", "must not be empty")
	v.Add("email", "is required")
	err := v.OrNil()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "items: must not be empty; email: is required") {
		t.Fatalf("unexpected message: %s", err)
	}
}

func TestIsVoucherError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "invalid", err: ErrVoucherInvalid, want: true},
		{name: "inactive", err: ErrVoucherInactive, want: true},
		{name: "window", err: fmt.Errorf("validate: %w", ErrVoucherNotActiveNow), want: true},
		{name: "minimum", err: ErrVoucherMinimumNotMet, want: true},
		{name: "exhausted", err: ErrVoucherExhausted, want: true},
		{name: "stock", err: ErrInsufficientStock, want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVoucherError(tt.err); got != tt.want {
				t.Errorf("IsVoucherError() = %v, want %v", got, tt.want)
			}
		})
	}
}
