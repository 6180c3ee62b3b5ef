package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/order"
)

func checkoutRequest(variantID int64, qty int, voucherCode string) order.CreateOrderRequest {
	return order.CreateOrderRequest{
		Email:       "buyer@example.com",
		ShipTo:      domain.ShippingAddress{Name: "Buyer", Phone: "0900000000", Address: "1 Main St"},
		VoucherCode: voucherCode,
		Items:       []order.Item{{VariantID: variantID, Quantity: qty}},
	}
}

func TestCheckout_PostgresConcurrentOrdersNeverOversell(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	variantID := seedVariant(t, store, "Limited tee", decimal.NewFromInt(100000), 5)
	engine := order.NewEngine(store, store)

	const buyers = 12
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
		unexpected   []error
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			actor := domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}
			_, err := engine.CreateOrder(context.Background(), actor, checkoutRequest(variantID, 1, ""))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientStock):
				insufficient++
			default:
				unexpected = append(unexpected, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, unexpected)
	require.Equal(t, 5, succeeded)
	require.Equal(t, buyers-5, insufficient)

	onHand, reserved := inventoryRow(t, store, variantID)
	require.Equal(t, 5, onHand)
	require.Equal(t, 5, reserved)
}

func TestCheckout_PostgresVoucherCancelAndDeliver(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	variantID := seedVariant(t, store, "Linen shirt", decimal.NewFromInt(100000), 10)
	limit := 1
	seedVoucher(t, store, "ONCE", string(domain.DiscountKindFixedAmount), decimal.NewFromInt(30000), &limit)
	engine := order.NewEngine(store, store)
	ctx := context.Background()
	customer := domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}

	conf, err := engine.CreateOrder(ctx, customer, checkoutRequest(variantID, 2, "once"))
	require.NoError(t, err)
	require.True(t, conf.Totals.GrandTotal.Equal(decimal.NewFromInt(170000)))

	_, err = engine.CreateOrder(ctx, customer, checkoutRequest(variantID, 1, "ONCE"))
	require.ErrorIs(t, err, domain.ErrVoucherExhausted)

	second, err := engine.CreateOrder(ctx, customer, checkoutRequest(variantID, 3, ""))
	require.NoError(t, err)
	_, err = engine.CancelOrder(ctx, customer, second.OrderID)
	require.NoError(t, err)

	admin := domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}
	detail, err := engine.UpdateStatus(ctx, admin, conf.OrderID, domain.OrderStatusDelivered)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusDelivered, detail.Order.Status)
	require.Equal(t, domain.PaymentStatusPaid, detail.Order.PaymentStatus)

	onHand, reserved := inventoryRow(t, store, variantID)
	require.Equal(t, 8, onHand)
	require.Equal(t, 0, reserved)

	var outboxCount int
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox_messages`).Scan(&outboxCount))
	require.GreaterOrEqual(t, outboxCount, 4)
}
