package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultListLimit = 50

type handlers struct {
	orders   OrderService
	webhooks CarrierWebhookHandler
	logger   *log.Entry
}

func (h *handlers) createOrder(w http.ResponseWriter, r *http.Request) {
	actor := mustActor(r)

	var req createOrderRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	conf, err := h.orders.CreateOrder(r.Context(), actor, req.toCommand())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+strconv.FormatInt(conf.OrderID, 10))
	writeJSON(w, http.StatusCreated, newOrderConfirmationResponse(conf))
}

func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	actor := mustActor(r)
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	summaries, err := h.orders.ListOrdersForCustomer(r.Context(), actor, actor.ID, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp := make([]orderSummaryResponse, 0, len(summaries))
	for _, s := range summaries {
		resp = append(resp, newOrderSummaryResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	detail, err := h.orders.GetOrder(r.Context(), mustActor(r), orderID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderDetailResponse(detail))
}

func (h *handlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.orders.CancelOrder(r.Context(), mustActor(r), orderID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelOrderResponse{
		OrderID:          res.OrderID,
		Status:           string(res.Status),
		AlreadyCancelled: res.AlreadyCancelled,
	})
}

func (h *handlers) adminListOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var status *domain.OrderStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		s := domain.OrderStatus(strings.ToLower(raw))
		status = &s
	}

	summaries, err := h.orders.ListOrders(r.Context(), mustActor(r), status, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp := make([]adminOrderSummaryResponse, 0, len(summaries))
	for _, s := range summaries {
		resp = append(resp, newAdminOrderSummaryResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) adminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req updateStatusRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	detail, err := h.orders.UpdateStatus(r.Context(), mustActor(r), orderID, domain.OrderStatus(req.Status))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderDetailResponse(detail))
}

func (h *handlers) carrierWebhook(w http.ResponseWriter, r *http.Request) {
	carrier := strings.TrimSpace(chi.URLParam(r, "carrier"))

	var req carrierWebhookRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.webhooks.HandleCarrierWebhook(r.Context(), req.toEvent(carrier))
	if err != nil {
		writeError(w, h.logger.WithField("carrier", carrier), err)
		return
	}
	writeJSON(w, http.StatusOK, newWebhookResultResponse(result))
}

// mustActor достаёт актора из контекста. Все вызывающие маршруты стоят за authenticate.
func mustActor(r *http.Request) domain.Actor {
	actor, _ := ActorFromContext(r.Context())
	return actor
}

func orderIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "orderID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		apiErr := newAPIError(codeValidation, http.StatusBadRequest, "invalid order id")
		apiErr.details = map[string]string{"order_id": "must be a positive integer"}
		return 0, apiErr
	}
	return id, nil
}

func limitParam(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		apiErr := newAPIError(codeValidation, http.StatusBadRequest, "invalid limit")
		apiErr.details = map[string]string{"limit": "must be a positive integer"}
		return 0, apiErr
	}
	return limit, nil
}
