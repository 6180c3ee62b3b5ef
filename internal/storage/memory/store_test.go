package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func newOrder(number string, customerID uuid.UUID, placedAt time.Time) *domain.Order {
	price := decimal.NewFromInt(100)
	return &domain.Order{
		Number:     number,
		CustomerID: customerID,
		Email:      "buyer@example.com",
		Status:     domain.OrderStatusPending,
		Totals:     domain.ComputeTotals(price, decimal.Zero, decimal.Zero, decimal.Zero),
		Lines: []domain.OrderLine{
			{VariantID: 42, ProductID: 4, Title: "Tee", UnitPrice: price, Quantity: 1, LineTotal: price},
		},
		PlacedAt:  placedAt,
		UpdatedAt: placedAt,
	}
}

func TestStore_CommitPersistsChanges(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	customer := uuid.New()

	var created *domain.Order
	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		created = newOrder("ORD-1", customer, time.Now().UTC())
		return tx.Orders().Create(ctx, created)
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}
	if created.ID == 0 || created.Lines[0].ID == 0 || created.Lines[0].OrderID != created.ID {
		t.Fatalf("expected generated ids, got order=%d line=%+v", created.ID, created.Lines[0])
	}

	err = store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		got, err := tx.Orders().Get(ctx, created.ID)
		if err != nil {
			return err
		}
		if got.Number != "ORD-1" {
			t.Fatalf("expected ORD-1, got %s", got.Number)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read tx failed: %v", err)
	}
}

func TestStore_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedStock(domain.DefaultWarehouseID, 42, 10, 0)

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		entry, err := tx.Stock().GetForUpdate(ctx, domain.DefaultWarehouseID, 42)
		if err != nil {
			return err
		}
		if err := tx.Stock().Save(ctx, entry.Reserve(3)); err != nil {
			return err
		}
		if err := tx.Orders().Create(ctx, newOrder("ORD-2", uuid.New(), time.Now())); err != nil {
			return err
		}
		if _, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{EventType: domain.EventOrderCreated}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	entry, ok := store.StockEntry(domain.DefaultWarehouseID, 42)
	if !ok || entry.Reserved != 0 {
		t.Fatalf("expected reservation rolled back, got %+v", entry)
	}
	if pending := store.PendingOutbox(); len(pending) != 0 {
		t.Fatalf("expected empty outbox, got %d", len(pending))
	}
}

func TestStore_RollbackOnPanic(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedStock(domain.DefaultWarehouseID, 7, 5, 0)

	func() {
		defer func() { _ = recover() }()
		_ = store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			entry, _ := tx.Stock().GetForUpdate(ctx, domain.DefaultWarehouseID, 7)
			_ = tx.Stock().Save(ctx, entry.Reserve(5))
			panic("unexpected")
		})
	}()

	entry, _ := store.StockEntry(domain.DefaultWarehouseID, 7)
	if entry.Reserved != 0 {
		t.Fatalf("expected reserved=0 after panic, got %d", entry.Reserved)
	}
}

func TestStore_OrderNumberConflict(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Orders().Create(ctx, newOrder("ORD-DUP", uuid.New(), time.Now())); err != nil {
			return err
		}
		return tx.Orders().Create(ctx, newOrder("ORD-DUP", uuid.New(), time.Now()))
	})
	if !errors.Is(err, domain.ErrOrderNumberConflict) {
		t.Fatalf("expected ErrOrderNumberConflict, got %v", err)
	}
}

func TestStore_MissingStockRowIsIntegrityError(t *testing.T) {
	store := memory.NewStore()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Stock().GetForUpdate(ctx, domain.DefaultWarehouseID, 404)
		return err
	})
	var integrity *domain.IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	customer := uuid.New()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		for i, number := range []string{"ORD-A", "ORD-B", "ORD-C"} {
			if err := tx.Orders().Create(ctx, newOrder(number, customer, base.Add(time.Duration(i)*time.Minute))); err != nil {
				return err
			}
		}
		return tx.Orders().Create(ctx, newOrder("ORD-OTHER", uuid.New(), base))
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	_ = store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		list, err := tx.Orders().ListByCustomer(ctx, customer, 0)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(list) != 3 || list[0].Number != "ORD-C" || list[2].Number != "ORD-A" {
			t.Fatalf("unexpected order: %+v", list)
		}

		limited, _ := tx.Orders().List(ctx, nil, 2)
		if len(limited) != 2 {
			t.Fatalf("expected limit 2, got %d", len(limited))
		}
		return nil
	})
}

func TestStore_ShipmentUniqueness(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Shipments().GetForUpdate(ctx, "GHN", "T1"); !errors.Is(err, domain.ErrShipmentNotFound) {
			t.Fatalf("expected ErrShipmentNotFound, got %v", err)
		}
		sh := &domain.Shipment{OrderID: 1, CarrierCode: "GHN", TrackingNumber: "T1", Status: "Shipped"}
		if err := tx.Shipments().Create(ctx, sh); err != nil {
			return err
		}
		return tx.Shipments().Create(ctx, &domain.Shipment{CarrierCode: "GHN", TrackingNumber: "T1"})
	})
	if !errors.Is(err, domain.ErrDataIntegrity) {
		t.Fatalf("expected duplicate shipment to fail, got %v", err)
	}
}

func TestStore_OutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	var saved domain.OutboxMessage
	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		saved, err = tx.Outbox().Enqueue(ctx, domain.OutboxMessage{
			AggregateType: domain.AggregateOrder,
			AggregateID:   "1",
			EventType:     domain.EventOrderCreated,
			Payload:       []byte(`{"status":"pending"}`),
		})
		return err
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("expected generated id")
	}

	repo := store.Outbox()
	pending, err := repo.PullPending(ctx, 10)
	if err != nil || len(pending) != 1 || pending[0].ID != saved.ID {
		t.Fatalf("unexpected pending: %+v err=%v", pending, err)
	}
	stats, _ := repo.Stats(ctx)
	if stats.PendingCount != 1 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if err := repo.MarkSent(ctx, saved.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	if err := repo.MarkFailed(ctx, "missing"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish, got %v", err)
	}
	if err := repo.MarkFailed(ctx, saved.ID); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("sent message must not be marked again, got %v", err)
	}
	if stats, _ := repo.Stats(ctx); stats.PendingCount != 0 {
		t.Fatalf("expected empty backlog, got %d", stats.PendingCount)
	}
}

func TestStore_CatalogAndVouchers(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedProduct(42, "Tee", decimal.NewFromInt(100000), 10)
	store.SeedVoucher(domain.Voucher{Code: " sale10 ", Active: true, Discount: domain.PercentageDiscount{Percent: decimal.NewFromInt(10)}})

	variants, err := store.GetVariants(ctx, []int64{42, 43})
	if err != nil {
		t.Fatalf("get variants failed: %v", err)
	}
	if len(variants) != 1 || !variants[42].Sellable() {
		t.Fatalf("unexpected variants: %+v", variants)
	}

	err = store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		v, err := tx.Vouchers().GetForUpdate(ctx, "SALE10")
		if err != nil {
			return err
		}
		if err := tx.Vouchers().AddRedemption(ctx, domain.VoucherRedemption{Code: v.Code, OrderID: 1}); err != nil {
			return err
		}
		n, err := tx.Vouchers().CountRedemptions(ctx, "sale10")
		if err != nil {
			return err
		}
		if n != 1 {
			t.Fatalf("expected 1 redemption, got %d", n)
		}
		_, err = tx.Vouchers().GetForUpdate(ctx, "NOPE")
		if !errors.Is(err, domain.ErrVoucherInvalid) {
			t.Fatalf("expected ErrVoucherInvalid, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}
	if got := store.Redemptions("SALE10"); len(got) != 1 {
		t.Fatalf("expected 1 stored redemption, got %d", len(got))
	}
}

func TestStore_CancelledContext(t *testing.T) {
	store := memory.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.WithinTx(ctx, func(context.Context, domain.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected context.Canceled without running fn, got %v called=%v", err, called)
	}
}
