package order_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/order"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type EngineSuite struct {
	suite.Suite

	ctx      context.Context
	store    *memory.Store
	engine   *order.Engine
	cache    *fakeCache
	now      time.Time
	customer domain.Actor
	admin    domain.Actor
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.cache = newFakeCache()
	s.now = time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	s.customer = domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}
	s.admin = domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}

	s.store.SeedProduct(42, "Linen shirt", decimal.NewFromInt(100000), 10)
	s.store.SeedProduct(43, "Canvas tote", decimal.NewFromInt(50000), 5)

	s.engine = order.NewEngine(s.store, s.store,
		order.WithClock(func() time.Time { return s.now }),
		order.WithCache(s.cache),
		order.WithMetrics(metrics.NewOrderMetricsWithRegisterer(prometheus.NewRegistry())),
	)
}

func (s *EngineSuite) request(items ...order.Item) order.CreateOrderRequest {
	return order.CreateOrderRequest{
		Email: "buyer@example.com",
		Phone: "+84 90 000 0000",
		ShipTo: domain.ShippingAddress{
			Name:    "Nguyen Van A",
			Phone:   "+84 90 000 0000",
			Address: "12 Ly Thuong Kiet",
		},
		Items: items,
	}
}

func (s *EngineSuite) stock(variantID int64) domain.StockLedgerEntry {
	entry, ok := s.store.StockEntry(domain.DefaultWarehouseID, variantID)
	s.Require().True(ok, "stock row for %d", variantID)
	return entry
}

func (s *EngineSuite) TestCreateReservesStockAndPricesFromCatalog() {
	conf, err := s.engine.CreateOrder(s.ctx, s.customer, s.request(order.Item{VariantID: 42, Quantity: 3}))
	s.Require().NoError(err)

	s.Equal(domain.OrderStatusPending, conf.Status)
	s.Equal(domain.PaymentStatusPending, conf.PaymentStatus)
	s.True(conf.Totals.Subtotal.Equal(decimal.NewFromInt(300000)))
	s.True(conf.Totals.GrandTotal.Equal(decimal.NewFromInt(300000)))
	s.Equal("ORD-20260314092653589", conf.Number)

	entry := s.stock(42)
	s.Equal(10, entry.OnHand)
	s.Equal(3, entry.Reserved)

	_, err = s.engine.CreateOrder(s.ctx, s.customer, s.request(order.Item{VariantID: 42, Quantity: 8}))
	var short *domain.InsufficientStockError
	s.Require().ErrorAs(err, &short)
	s.Equal(int64(42), short.VariantID)
	s.Equal(7, short.Available)
	s.Equal(3, s.stock(42).Reserved)
}

func (s *EngineSuite) TestCancelRestoresReservations() {
	conf, err := s.engine.CreateOrder(s.ctx, s.customer, s.request(
		order.Item{VariantID: 42, Quantity: 2},
		order.Item{VariantID: 43, Quantity: 4},
	))
	s.Require().NoError(err)
	s.Equal(2, s.stock(42).Reserved)
	s.Equal(4, s.stock(43).Reserved)

	res, err := s.engine.CancelOrder(s.ctx, s.customer, conf.OrderID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCancelled, res.Status)
	s.False(res.AlreadyCancelled)
	s.Equal(0, s.stock(42).Reserved)
	s.Equal(0, s.stock(43).Reserved)
	s.Contains(s.cache.invalidated, conf.OrderID)

	again, err := s.engine.CancelOrder(s.ctx, s.customer, conf.OrderID)
	s.Require().NoError(err)
	s.True(again.AlreadyCancelled)
	s.Equal(0, s.stock(42).Reserved)
}

func (s *EngineSuite) TestCancelNotAllowedAfterShipping() {
	conf, err := s.engine.CreateOrder(s.ctx, s.customer, s.request(order.Item{VariantID: 42, Quantity: 1}))
	s.Require().NoError(err)

	_, err = s.engine.UpdateStatus(s.ctx, s.admin, conf.OrderID, domain.OrderStatusShipped)
	s.Require().NoError(err)
	before := s.stock(42)

	_, err = s.engine.CancelOrder(s.ctx, s.customer, conf.OrderID)
	s.Require().ErrorIs(err, domain.ErrCancelNotAllowed)
	s.Equal(before, s.stock(42))
}

func (s *EngineSuite) TestCancelUnknownOrForeignOrder() {
	_, err := s.engine.CancelOrder(s.ctx, s.customer, 999)
	s.Require().ErrorIs(err, domain.ErrOrderNotFound)

	conf, err := s.engine.CreateOrder(s.ctx, s.customer, s.request(order.Item{VariantID: 42, Quantity: 1}))
	s.Require().NoError(err)

	stranger := domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}
	_, err = s.engine.CancelOrder(s.ctx, stranger, conf.OrderID)
	s.Require().ErrorIs(err, domain.ErrOrderNotFound)
	s.Equal(1, s.stock(42).Reserved)
}

func (s *EngineSuite) TestVoucherAppliedAndRedeemedOnce() {
	s.store.SeedVoucher(domain.Voucher{
		Code:     "SALE10",
		Active:   true,
		StartsAt: s.now.Add(-time.Hour),
		Discount: domain.PercentageDiscount{Percent: decimal.NewFromInt(10)},
	})

	req := s.request(order.Item{VariantID: 42, Quantity: 2})
	req.VoucherCode = "  sale10 "
	conf, err := s.engine.CreateOrder(s.ctx, s.customer, req)
	s.Require().NoError(err)

	s.True(conf.Totals.DiscountTotal.Equal(decimal.NewFromInt(20000)))
	s.True(conf.Totals.GrandTotal.Equal(decimal.NewFromInt(180000)))

	redemptions := s.store.Redemptions("SALE10")
	s.Require().Len(redemptions, 1)
	s.Equal(conf.OrderID, redemptions[0].OrderID)
	s.Equal(s.customer.ID, redemptions[0].CustomerID)
}

func (s *EngineSuite) TestVoucherFailureLeavesNoPartialWrites() {
	limit := 0
	s.store.SeedVoucher(domain.Voucher{
		Code:       "GONE",
		Active:     true,
		UsageLimit: &limit,
		Discount:   domain.FixedAmountDiscount{Amount: decimal.NewFromInt(1000)},
	})

	req := s.request(order.Item{VariantID: 42, Quantity: 2})
	req.VoucherCode = "GONE"
	_, err := s.engine.CreateOrder(s.ctx, s.customer, req)
	s.Require().ErrorIs(err, domain.ErrVoucherExhausted)

	s.Equal(0, s.stock(42).Reserved)
	s.Empty(s.store.Redemptions("GONE"))
	list, err := s.engine.ListOrdersForCustomer(s.ctx, s.customer, s.customer.ID, 0)
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *EngineSuite) TestUnknownVoucher() {
	req := s.request(order.Item{VariantID: 42, Quantity: 1})
	req.VoucherCode = "NOPE"
	_, err := s.engine.CreateOrder(s.ctx, s.customer, req)
	s.Require().ErrorIs(err, domain.ErrVoucherInvalid)
}

func (s *EngineSuite) TestVariantUnavailable() {
	s.store.SeedVariant(domain.Variant{VariantID: 50, UnitPrice: decimal.NewFromInt(1), Active: false, ProductState: domain.ProductStateActive})
	s.store.SeedStock(domain.DefaultWarehouseID, 50, 10, 0)

	_, err := s.engine.CreateOrder(s.ctx, s.customer, s.request(
		order.Item{VariantID: 42, Quantity: 1},
		order.Item{VariantID: 50, Quantity: 1},
		order.Item{VariantID: 77, Quantity: 1},
	))
	var unavailable *domain.VariantUnavailableError
	s.Require().ErrorAs(err, &unavailable)
	s.ElementsMatch([]int64{50, 77}, unavailable.VariantIDs)
	s.Equal(0, s.stock(42).Reserved)
}

func (s *EngineSuite) TestMissingStockRowIsIntegrityFault() {
	s.store.SeedVariant(domain.Variant{VariantID: 60, UnitPrice: decimal.NewFromInt(1), Active: true, ProductState: domain.ProductStateActive})

	_, err := s.engine.CreateOrder(s.ctx, s.customer, s.request(order.Item{VariantID: 60, Quantity: 1}))
	s.Require().ErrorIs(err, domain.ErrDataIntegrity)
}

func (s *EngineSuite) TestValidationBeforeAnyIO() {
	_, err := s.engine.CreateOrder(s.ctx, s.customer, order.CreateOrderRequest{
		Items: []order.Item{{VariantID: 0, Quantity: -1}},
	})
	var invalid *domain.ValidationError
	s.Require().ErrorAs(err, &invalid)
	s.Require().ErrorIs(err, domain.ErrInvalidRequest)

	fields := make([]string, 0, len(invalid.Problems))
	for _, p := range invalid.Problems {
		fields = append(fields, p.Field)
	}
	s.ElementsMatch([]string{
		"email", "ship_to.name", "ship_to.phone", "ship_to.address",
		"items[0].variant_id", "items[0].quantity",
	}, fields)

	_, err = s.engine.CreateOrder(s.ctx, domain.SystemActor(), s.request(order.Item{VariantID: 42, Quantity: 1}))
	s.Require().ErrorIs(err, domain.ErrInvalidRequest)
}

func (s *EngineSuite) TestDuplicateVariantsMerged() {
	conf, err := s.engine.CreateOrder(s.ctx, s.customer, s.request(
		order.Item{VariantID: 42, Quantity: 1},
		order.Item{VariantID: 42, Quantity: 2},
	))
	s.Require().NoError(err)
	s.Equal(3, s.stock(42).Reserved)

	detail, err := s.engine.GetOrder(s.ctx, s.customer, conf.OrderID)
	s.Require().NoError(err)
	s.Require().Len(detail.Order.Lines, 1)
	s.Equal(3, detail.Order.Lines[0].Quantity)
}

func (s *EngineSuite) TestGetOrderProjectionAndOwnership() {
	conf, err := s.engine.CreateOrder(s.ctx, s.customer, s.request(order.Item{VariantID: 43, Quantity: 1}))
	s.Require().NoError(err)

	detail, err := s.engine.GetOrder(s.ctx, s.customer, conf.OrderID)
	s.Require().NoError(err)

	want := domain.OrderLine{
		ID:        detail.Order.Lines[0].ID,
		OrderID:   conf.OrderID,
		ProductID: 43,
		VariantID: 43,
		Title:     "Canvas tote",
		SKU:       "Canvas tote",
		UnitPrice: decimal.NewFromInt(50000),
		Quantity:  1,
		LineTotal: decimal.NewFromInt(50000),
	}
	if diff := cmp.Diff(want, detail.Order.Lines[0]); diff != "" {
		s.T().Fatalf("line mismatch (-want +got):\n%s", diff)
	}
	s.Require().Len(detail.Timeline, 1)
	s.Equal(domain.TimelineCreated, detail.Timeline[0].Type)

	// второй запрос обслуживается из кэша
	_, err = s.engine.GetOrder(s.ctx, s.customer, conf.OrderID)
	s.Require().NoError(err)
	s.Equal(1, s.cache.hits)

	stranger := domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}
	_, err = s.engine.GetOrder(s.ctx, stranger, conf.OrderID)
	s.Require().ErrorIs(err, domain.ErrOrderNotFound)

	_, err = s.engine.GetOrder(s.ctx, s.admin, conf.OrderID)
	s.Require().NoError(err)

	_, err = s.engine.GetOrder(s.ctx, s.customer, 12345)
	s.Require().ErrorIs(err, domain.ErrOrderNotFound)
}

func (s *EngineSuite) TestListOrdersForCustomerNewestFirst() {
	first, err := s.engine.CreateOrder(s.ctx, s.customer, s.request(order.Item{VariantID: 42, Quantity: 1}))
	s.Require().NoError(err)
	s.now = s.now.Add(time.Minute)
	second, err := s.engine.CreateOrder(s.ctx, s.customer, s.request(order.Item{VariantID: 43, Quantity: 1}))
	s.Require().NoError(err)

	list, err := s.engine.ListOrdersForCustomer(s.ctx, s.customer, s.customer.ID, 10)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(second.OrderID, list[0].OrderID)
	s.Equal(first.OrderID, list[1].OrderID)

	stranger := domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}
	_, err = s.engine.ListOrdersForCustomer(s.ctx, stranger, s.customer.ID, 10)
	s.Require().ErrorIs(err, domain.ErrForbidden)
}

func (s *EngineSuite) TestAdminUpdateStatusBackfillsAndAudits() {
	conf, err := s.engine.CreateOrder(s.ctx, s.customer, s.request(order.Item{VariantID: 42, Quantity: 2}))
	s.Require().NoError(err)

	_, err = s.engine.UpdateStatus(s.ctx, s.customer, conf.OrderID, domain.OrderStatusShipped)
	s.Require().ErrorIs(err, domain.ErrForbidden)

	_, err = s.engine.UpdateStatus(s.ctx, s.admin, conf.OrderID, domain.OrderStatusPending)
	s.Require().ErrorIs(err, domain.ErrInvalidRequest)

	detail, err := s.engine.UpdateStatus(s.ctx, s.admin, conf.OrderID, domain.OrderStatusShipped)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusShipped, detail.Order.Status)
	s.NotNil(detail.Order.ConfirmedAt)
	s.NotNil(detail.Order.ShippedAt)
	s.Nil(detail.Order.DeliveredAt)

	_, err = s.engine.UpdateStatus(s.ctx, s.admin, conf.OrderID, domain.OrderStatusConfirmed)
	s.Require().ErrorIs(err, domain.ErrStatusTransitionNotAllowed)

	audit := s.store.AuditEntries()
	s.Require().Len(audit, 1)
	s.Equal(domain.AuditActionUpdateOrderStatus, audit[0].Action)
	s.Equal(s.admin.ID, audit[0].ActorID)
	s.JSONEq(`{"from":"pending","to":"shipped"}`, string(audit[0].Detail))
}

func (s *EngineSuite) TestAdminDeliveryCommitsStockOnce() {
	conf, err := s.engine.CreateOrder(s.ctx, s.customer, s.request(order.Item{VariantID: 42, Quantity: 3}))
	s.Require().NoError(err)

	detail, err := s.engine.UpdateStatus(s.ctx, s.admin, conf.OrderID, domain.OrderStatusDelivered)
	s.Require().NoError(err)
	s.True(detail.Order.IsDelivered())
	s.Equal(domain.PaymentStatusPaid, detail.Order.PaymentStatus)

	_, err = s.engine.UpdateStatus(s.ctx, s.admin, conf.OrderID, domain.OrderStatusDelivered)
	s.Require().NoError(err)

	entry := s.stock(42)
	s.Equal(7, entry.OnHand)
	s.Equal(0, entry.Reserved)
}

func (s *EngineSuite) TestAdminCannotAdvanceCancelledOrder() {
	conf, err := s.engine.CreateOrder(s.ctx, s.customer, s.request(order.Item{VariantID: 42, Quantity: 1}))
	s.Require().NoError(err)
	_, err = s.engine.CancelOrder(s.ctx, s.customer, conf.OrderID)
	s.Require().NoError(err)

	_, err = s.engine.UpdateStatus(s.ctx, s.admin, conf.OrderID, domain.OrderStatusDelivered)
	s.Require().ErrorIs(err, domain.ErrStatusTransitionNotAllowed)
	s.Equal(10, s.stock(42).OnHand)
}

func (s *EngineSuite) TestListOrdersAdminOnly() {
	_, err := s.engine.CreateOrder(s.ctx, s.customer, s.request(order.Item{VariantID: 42, Quantity: 1}))
	s.Require().NoError(err)

	_, err = s.engine.ListOrders(s.ctx, s.customer, nil, 10)
	s.Require().ErrorIs(err, domain.ErrForbidden)

	pending := domain.OrderStatusPending
	list, err := s.engine.ListOrders(s.ctx, s.admin, &pending, 10)
	s.Require().NoError(err)
	s.Len(list, 1)
	s.Equal("buyer@example.com", list[0].Email)

	cancelled := domain.OrderStatusCancelled
	list, err = s.engine.ListOrders(s.ctx, s.admin, &cancelled, 10)
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *EngineSuite) TestEventsEnqueuedInOutbox() {
	conf, err := s.engine.CreateOrder(s.ctx, s.customer, s.request(order.Item{VariantID: 42, Quantity: 1}))
	s.Require().NoError(err)
	_, err = s.engine.CancelOrder(s.ctx, s.customer, conf.OrderID)
	s.Require().NoError(err)

	pending := s.store.PendingOutbox()
	s.Require().Len(pending, 2)
	s.Equal(domain.EventOrderCreated, pending[0].EventType)
	s.Equal(domain.EventOrderCancelled, pending[1].EventType)
	s.Contains(string(pending[1].Payload), `"previous_status":"pending"`)
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedProduct(1, "Last units", decimal.NewFromInt(1000), 5)
	engine := order.NewEngine(store, store)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		short     int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			actor := domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}
			_, err := engine.CreateOrder(ctx, actor, order.CreateOrderRequest{
				Email:  "c@example.com",
				ShipTo: domain.ShippingAddress{Name: "C", Phone: "1", Address: "A"},
				Items:  []order.Item{{VariantID: 1, Quantity: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientStock):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 5, succeeded)
	require.Equal(t, 7, short)
	entry, _ := store.StockEntry(domain.DefaultWarehouseID, 1)
	require.Equal(t, 5, entry.Reserved)
	require.Equal(t, 5, entry.OnHand)
}

// lockRecorder запоминает порядок блокировки строк склада во всех транзакциях.
type lockRecorder struct {
	store *memory.Store
	mu    sync.Mutex
	locks []int64
}

func (r *lockRecorder) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return r.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return fn(ctx, recordingTx{Tx: tx, recorder: r})
	})
}

func (r *lockRecorder) take() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	locks := r.locks
	r.locks = nil
	return locks
}

type recordingTx struct {
	domain.Tx
	recorder *lockRecorder
}

func (t recordingTx) Stock() domain.StockRepository {
	return recordingStock{StockRepository: t.Tx.Stock(), recorder: t.recorder}
}

type recordingStock struct {
	domain.StockRepository
	recorder *lockRecorder
}

func (s recordingStock) GetForUpdate(ctx context.Context, warehouseID int, variantID int64) (domain.StockLedgerEntry, error) {
	s.recorder.mu.Lock()
	s.recorder.locks = append(s.recorder.locks, variantID)
	s.recorder.mu.Unlock()
	return s.StockRepository.GetForUpdate(ctx, warehouseID, variantID)
}

func TestStockRowsLockedInVariantOrder(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedProduct(42, "Linen shirt", decimal.NewFromInt(100000), 10)
	store.SeedProduct(43, "Canvas tote", decimal.NewFromInt(50000), 10)
	recorder := &lockRecorder{store: store}
	engine := order.NewEngine(recorder, store)

	customer := domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}
	admin := domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}
	request := order.CreateOrderRequest{
		Email:  "c@example.com",
		ShipTo: domain.ShippingAddress{Name: "C", Phone: "1", Address: "A"},
		Items:  []order.Item{{VariantID: 43, Quantity: 1}, {VariantID: 42, Quantity: 2}},
	}

	cancelled, err := engine.CreateOrder(ctx, customer, request)
	require.NoError(t, err)
	require.Equal(t, []int64{42, 43, 42, 43}, recorder.take(), "checkout")

	_, err = engine.CancelOrder(ctx, customer, cancelled.OrderID)
	require.NoError(t, err)
	require.Equal(t, []int64{42, 43}, recorder.take(), "cancel")

	delivered, err := engine.CreateOrder(ctx, customer, request)
	require.NoError(t, err)
	recorder.take()

	_, err = engine.UpdateStatus(ctx, admin, delivered.OrderID, domain.OrderStatusDelivered)
	require.NoError(t, err)
	require.Equal(t, []int64{42, 43}, recorder.take(), "delivery")
}

type fakeCache struct {
	mu          sync.Mutex
	items       map[int64]domain.OrderDetail
	invalidated []int64
	hits        int
}

func newFakeCache() *fakeCache {
	return &fakeCache{items: make(map[int64]domain.OrderDetail)}
}

func (c *fakeCache) Get(_ context.Context, orderID int64) (domain.OrderDetail, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.items[orderID]
	if ok {
		c.hits++
	}
	return d, ok, nil
}

func (c *fakeCache) Set(_ context.Context, detail domain.OrderDetail) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[detail.Order.ID] = detail
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, orderID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, orderID)
	c.invalidated = append(c.invalidated, orderID)
	return nil
}
