package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder() domain.Order {
	now := time.Date(2025, 10, 25, 9, 22, 19, 0, time.UTC)
	price := decimal.NewFromInt(100000)
	return domain.Order{
		ID:            1,
		Number:        "ORD-20251025092219000",
		CustomerID:    uuid.New(),
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		PaymentMethod: domain.PaymentMethodCOD,
		Totals:        domain.ComputeTotals(decimal.NewFromInt(300000), decimal.Zero, decimal.Zero, decimal.Zero),
		Lines: []domain.OrderLine{{
			VariantID: 42,
			UnitPrice: price,
			Quantity:  3,
			LineTotal: price.Mul(decimal.NewFromInt(3)),
		}},
		PlacedAt:  now,
		UpdatedAt: now,
	}
}

func TestComputeTotals(t *testing.T) {
	cases := []struct {
		name     string
		subtotal int64
		discount int64
		shipping int64
		tax      int64
		want     int64
	}{
		{name: "no discount", subtotal: 300000, want: 300000},
		{name: "percent discount", subtotal: 200000, discount: 20000, want: 180000},
		{name: "discount equals subtotal", subtotal: 1000000, discount: 1000000, want: 0},
		{name: "discount above subtotal floors at zero", subtotal: 1000, discount: 5000, shipping: 300, want: 300},
		{name: "fees added after floor", subtotal: 500, discount: 100, shipping: 50, tax: 25, want: 475},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := domain.ComputeTotals(
				decimal.NewFromInt(tc.subtotal),
				decimal.NewFromInt(tc.discount),
				decimal.NewFromInt(tc.shipping),
				decimal.NewFromInt(tc.tax),
			)
			if !got.GrandTotal.Equal(decimal.NewFromInt(tc.want)) {
				t.Fatalf("grand total = %s, want %d", got.GrandTotal, tc.want)
			}
		})
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
	}{
		{name: "no lines", mut: func(o *domain.Order) { o.Lines = nil }},
		{name: "unknown status", mut: func(o *domain.Order) { o.Status = "lost" }},
		{name: "zero quantity", mut: func(o *domain.Order) { o.Lines[0].Quantity = 0 }},
		{name: "line total mismatch", mut: func(o *domain.Order) { o.Lines[0].LineTotal = decimal.NewFromInt(1) }},
		{name: "grand total mismatch", mut: func(o *domain.Order) { o.Totals.GrandTotal = decimal.NewFromInt(1) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			errs := order.ValidateInvariants()
			if len(errs) == 0 {
				t.Fatal("expected validation errors")
			}
			for _, err := range errs {
				if !errors.Is(err, domain.ErrDataIntegrity) {
					t.Fatalf("expected integrity error, got %v", err)
				}
			}
		})
	}
}

func TestAdvanceToBackfillsMilestones(t *testing.T) {
	order := makeOrder()
	at := order.PlacedAt.Add(48 * time.Hour)

	if err := order.AdvanceTo(domain.OrderStatusDelivered, at); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if order.Status != domain.OrderStatusDelivered {
		t.Fatalf("status = %s", order.Status)
	}
	for name, ts := range map[string]*time.Time{
		"confirmed": order.ConfirmedAt,
		"shipped":   order.ShippedAt,
		"delivered": order.DeliveredAt,
	} {
		if ts == nil || !ts.Equal(at) {
			t.Fatalf("%s milestone = %v, want %v", name, ts, at)
		}
	}
}

func TestAdvanceToKeepsEarlierMilestones(t *testing.T) {
	order := makeOrder()
	confirmedAt := order.PlacedAt.Add(time.Hour)
	if err := order.AdvanceTo(domain.OrderStatusConfirmed, confirmedAt); err != nil {
		t.Fatal(err)
	}
	if err := order.AdvanceTo(domain.OrderStatusShipped, confirmedAt.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if !order.ConfirmedAt.Equal(confirmedAt) {
		t.Fatalf("confirmed milestone was overwritten: %v", order.ConfirmedAt)
	}
}

func TestAdvanceToNeverMovesUpdatedAtBackwards(t *testing.T) {
	order := makeOrder()
	updated := order.PlacedAt.Add(2 * time.Hour)
	order.UpdatedAt = updated

	lateEvent := order.PlacedAt.Add(-time.Hour)
	if err := order.AdvanceTo(domain.OrderStatusShipped, lateEvent); err != nil {
		t.Fatal(err)
	}
	if !order.UpdatedAt.Equal(updated) {
		t.Fatalf("updated_at = %v, want %v", order.UpdatedAt, updated)
	}
	if order.ShippedAt == nil || !order.ShippedAt.Equal(lateEvent) {
		t.Fatalf("shipped milestone = %v, want carrier time %v", order.ShippedAt, lateEvent)
	}

	later := updated.Add(time.Hour)
	if err := order.AdvanceTo(domain.OrderStatusDelivered, later); err != nil {
		t.Fatal(err)
	}
	if !order.UpdatedAt.Equal(later) {
		t.Fatalf("updated_at = %v, want %v", order.UpdatedAt, later)
	}
}

func TestAdvanceToRejectsBackwardsAndCancelled(t *testing.T) {
	order := makeOrder()
	if err := order.AdvanceTo(domain.OrderStatusShipped, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := order.AdvanceTo(domain.OrderStatusConfirmed, time.Now()); !errors.Is(err, domain.ErrStatusTransitionNotAllowed) {
		t.Fatalf("expected transition error, got %v", err)
	}

	cancelled := makeOrder()
	if err := cancelled.Cancel(time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := cancelled.AdvanceTo(domain.OrderStatusConfirmed, time.Now()); !errors.Is(err, domain.ErrStatusTransitionNotAllowed) {
		t.Fatalf("expected transition error for cancelled order, got %v", err)
	}
	if err := cancelled.AdvanceTo(domain.OrderStatusCancelled, time.Now()); !errors.Is(err, domain.ErrStatusTransitionNotAllowed) {
		t.Fatalf("cancel is not a forward transition, got %v", err)
	}
}

func TestCancelOnlyFromPending(t *testing.T) {
	order := makeOrder()
	if err := order.AdvanceTo(domain.OrderStatusShipped, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := order.Cancel(time.Now()); !errors.Is(err, domain.ErrCancelNotAllowed) {
		t.Fatalf("expected ErrCancelNotAllowed, got %v", err)
	}
	if order.CancelledAt != nil {
		t.Fatal("cancelled milestone must not be stamped")
	}
}

func TestCloneDoesNotShareState(t *testing.T) {
	order := makeOrder()
	at := time.Now()
	order.ConfirmedAt = &at

	clone := order.Clone()
	clone.Lines[0].Quantity = 99
	*clone.ConfirmedAt = at.Add(time.Hour)

	if order.Lines[0].Quantity == 99 {
		t.Fatal("lines are shared")
	}
	if !order.ConfirmedAt.Equal(at) {
		t.Fatal("milestones are shared")
	}
}
