package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/order"
)

// OrderService: операции движка заказов, доступные через HTTP.
type OrderService interface {
	CreateOrder(ctx context.Context, actor domain.Actor, req order.CreateOrderRequest) (order.OrderConfirmation, error)
	GetOrder(ctx context.Context, actor domain.Actor, orderID int64) (domain.OrderDetail, error)
	ListOrdersForCustomer(ctx context.Context, actor domain.Actor, customerID uuid.UUID, limit int) ([]domain.OrderSummary, error)
	CancelOrder(ctx context.Context, actor domain.Actor, orderID int64) (order.CancelResult, error)
	ListOrders(ctx context.Context, actor domain.Actor, status *domain.OrderStatus, limit int) ([]domain.OrderSummary, error)
	UpdateStatus(ctx context.Context, actor domain.Actor, orderID int64, target domain.OrderStatus) (domain.OrderDetail, error)
}

// CarrierWebhookHandler обрабатывает нормализованные события перевозчиков.
type CarrierWebhookHandler interface {
	HandleCarrierWebhook(ctx context.Context, event domain.CarrierEvent) (domain.WebhookResult, error)
}

// Deps: зависимости HTTP API.
type Deps struct {
	Orders   OrderService
	Webhooks CarrierWebhookHandler
	Tokens   *TokenVerifier
	// Idempotency может быть nil: тогда заголовок Idempotency-Key игнорируется.
	Idempotency    domain.IdempotencyRepository
	IdempotencyTTL time.Duration
	WebhookToken   string
	RequestTimeout time.Duration
	Logger         *log.Entry
	Clock          func() time.Time
}

// NewRouter собирает chi-роутер /api/v1.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	h := &handlers{orders: deps.Orders, webhooks: deps.Webhooks, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, accessLog(logger), middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, logger, newAPIError(codeNotFound, http.StatusNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, logger, newAPIError(codeMethodNotAllowed, http.StatusMethodNotAllowed, "method not allowed"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authenticate(deps.Tokens, logger))

			r.With(idempotency(deps.Idempotency, deps.IdempotencyTTL, clock, logger)).Post("/orders", h.createOrder)
			r.Get("/orders", h.listOrders)
			r.Get("/orders/{orderID}", h.getOrder)
			r.Post("/orders/{orderID}/cancel", h.cancelOrder)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireAdmin(logger))
				r.Get("/orders", h.adminListOrders)
				r.Patch("/orders/{orderID}/status", h.adminUpdateStatus)
			})
		})

		r.With(webhookToken(deps.WebhookToken, logger)).Post("/webhooks/carriers/{carrier}", h.carrierWebhook)
	})

	return r
}
