package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIdempotencyStatus(t *testing.T) {
	tests := []struct {
		status   IdempotencyStatus
		valid    bool
		terminal bool
	}{
		{status: IdempotencyStatusProcessing, valid: true, terminal: false},
		{status: IdempotencyStatusDone, valid: true, terminal: true},
		{status: IdempotencyStatusFailed, valid: true, terminal: true},
		{status: IdempotencyStatus("broken"), valid: false, terminal: false},
	}

	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			if got := tc.status.Valid(); got != tc.valid {
				t.Fatalf("Valid()=%v, want %v", got, tc.valid)
			}
			if got := tc.status.Terminal(); got != tc.terminal {
				t.Fatalf("Terminal()=%v, want %v", got, tc.terminal)
			}
		})
	}
}

func TestIdempotencyKeyNormalize(t *testing.T) {
	customer := Actor{ID: uuid.New(), Role: RoleCustomer}

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "trimmed", raw: "  checkout-1 ", want: "checkout-1"},
		{name: "blank", raw: "   ", wantErr: ErrIdempotencyKeyRequired},
		{name: "max length", raw: strings.Repeat("k", MaxIdempotencyKeyLength), want: strings.Repeat("k", MaxIdempotencyKeyLength)},
		{name: "too long", raw: strings.Repeat("k", MaxIdempotencyKeyLength+1), wantErr: ErrIdempotencyKeyTooLong},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			key, err := NewIdempotencyKey(customer, tc.raw).Normalize()
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("error=%v, want %v", err, tc.wantErr)
			}
			if tc.wantErr == nil && (key.Value != tc.want || key.CustomerID != customer.ID) {
				t.Fatalf("unexpected key %+v", key)
			}
		})
	}
}

func TestIdempotencyKeysOfDifferentCustomersDiffer(t *testing.T) {
	a := NewIdempotencyKey(Actor{ID: uuid.New()}, "k1")
	b := NewIdempotencyKey(Actor{ID: uuid.New()}, "k1")

	if a == b || a.String() == b.String() {
		t.Fatal("same key from different customers must not collide")
	}
}

func TestIdempotencyRecordState(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	if (IdempotencyRecord{Status: IdempotencyStatusProcessing}).Completed() {
		t.Fatal("processing record must not be completed")
	}
	if !(IdempotencyRecord{Status: IdempotencyStatusFailed}).Completed() {
		t.Fatal("failed record stores a response and counts as completed")
	}
	if !(IdempotencyRecord{ExpiresAt: now}).Expired(now) {
		t.Fatal("record expiring exactly now is expired")
	}
	if (IdempotencyRecord{ExpiresAt: now.Add(time.Second)}).Expired(now) {
		t.Fatal("record expiring later is alive")
	}
}
