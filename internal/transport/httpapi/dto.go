package httpapi

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/order"
)

type shippingAddressDTO struct {
	Name     string `json:"name" validate:"required,max=200"`
	Phone    string `json:"phone" validate:"required,max=32"`
	Address  string `json:"address" validate:"required,max=500"`
	Province string `json:"province" validate:"max=100"`
	District string `json:"district" validate:"max=100"`
	Ward     string `json:"ward" validate:"max=100"`
}

type orderItemDTO struct {
	VariantID int64 `json:"variant_id" validate:"gt=0"`
	Quantity  int   `json:"quantity" validate:"gt=0,max=1000"`
}

type createOrderRequest struct {
	Email       string             `json:"email" validate:"required,email,max=320"`
	Phone       string             `json:"phone" validate:"max=32"`
	ShipTo      shippingAddressDTO `json:"ship_to"`
	Notes       string             `json:"notes" validate:"max=1000"`
	VoucherCode string             `json:"voucher_code" validate:"max=64"`
	Items       []orderItemDTO     `json:"items" validate:"required,min=1,max=100,dive"`
}

func (r createOrderRequest) toCommand() order.CreateOrderRequest {
	return order.CreateOrderRequest{
		Email: r.Email,
		Phone: r.Phone,
		ShipTo: domain.ShippingAddress{
			Name:     r.ShipTo.Name,
			Phone:    r.ShipTo.Phone,
			Address:  r.ShipTo.Address,
			Province: r.ShipTo.Province,
			District: r.ShipTo.District,
			Ward:     r.ShipTo.Ward,
		},
		Notes:       r.Notes,
		VoucherCode: r.VoucherCode,
		Items: lo.Map(r.Items, func(it orderItemDTO, _ int) order.Item {
			return order.Item{VariantID: it.VariantID, Quantity: it.Quantity}
		}),
	}
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=confirmed shipped delivered"`
}

type carrierWebhookRequest struct {
	OrderNumber    string     `json:"order_number" validate:"required,max=64"`
	TrackingNumber string     `json:"tracking_number" validate:"required,max=128"`
	Status         string     `json:"status" validate:"required,max=64"`
	EventTime      *time.Time `json:"event_time"`
	Note           string     `json:"note" validate:"max=1000"`
}

func (r carrierWebhookRequest) toEvent(carrier string) domain.CarrierEvent {
	event := domain.CarrierEvent{
		CarrierCode:    carrier,
		OrderNumber:    r.OrderNumber,
		TrackingNumber: r.TrackingNumber,
		Status:         r.Status,
		Note:           r.Note,
	}
	if r.EventTime != nil {
		event.EventTime = *r.EventTime
	}
	return event
}

type totalsResponse struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	ShippingFee   decimal.Decimal `json:"shipping_fee"`
	TaxTotal      decimal.Decimal `json:"tax_total"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
}

func newTotalsResponse(t domain.Totals) totalsResponse {
	return totalsResponse{
		Subtotal:      t.Subtotal,
		DiscountTotal: t.DiscountTotal,
		ShippingFee:   t.ShippingFee,
		TaxTotal:      t.TaxTotal,
		GrandTotal:    t.GrandTotal,
	}
}

type orderConfirmationResponse struct {
	OrderID       int64          `json:"order_id"`
	OrderNumber   string         `json:"order_number"`
	Status        string         `json:"status"`
	PaymentStatus string         `json:"payment_status"`
	Totals        totalsResponse `json:"totals"`
	PlacedAt      time.Time      `json:"placed_at"`
}

func newOrderConfirmationResponse(c order.OrderConfirmation) orderConfirmationResponse {
	return orderConfirmationResponse{
		OrderID:       c.OrderID,
		OrderNumber:   c.Number,
		Status:        string(c.Status),
		PaymentStatus: string(c.PaymentStatus),
		Totals:        newTotalsResponse(c.Totals),
		PlacedAt:      c.PlacedAt,
	}
}

type orderSummaryResponse struct {
	OrderID       int64           `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	PlacedAt      time.Time       `json:"placed_at"`
}

// adminOrderSummaryResponse дополняет сводку контактами клиента.
type adminOrderSummaryResponse struct {
	orderSummaryResponse
	CustomerID uuid.UUID `json:"customer_id"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone,omitempty"`
}

func newOrderSummaryResponse(s domain.OrderSummary) orderSummaryResponse {
	return orderSummaryResponse{
		OrderID:       s.OrderID,
		OrderNumber:   s.Number,
		Status:        string(s.Status),
		PaymentStatus: string(s.PaymentStatus),
		GrandTotal:    s.GrandTotal,
		PlacedAt:      s.PlacedAt,
	}
}

func newAdminOrderSummaryResponse(s domain.OrderSummary) adminOrderSummaryResponse {
	return adminOrderSummaryResponse{
		orderSummaryResponse: newOrderSummaryResponse(s),
		CustomerID:           s.CustomerID,
		Email:                s.Email,
		Phone:                s.Phone,
	}
}

type shippingAddressResponse struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Province string `json:"province,omitempty"`
	District string `json:"district,omitempty"`
	Ward     string `json:"ward,omitempty"`
}

type orderLineResponse struct {
	VariantID int64           `json:"variant_id"`
	ProductID int64           `json:"product_id"`
	Title     string          `json:"title"`
	SKU       string          `json:"sku,omitempty"`
	Size      string          `json:"size,omitempty"`
	Color     string          `json:"color,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred_at"`
}

type orderDetailResponse struct {
	OrderID        int64                   `json:"order_id"`
	OrderNumber    string                  `json:"order_number"`
	CustomerID     uuid.UUID               `json:"customer_id"`
	Email          string                  `json:"email"`
	Phone          string                  `json:"phone,omitempty"`
	ShipTo         shippingAddressResponse `json:"ship_to"`
	Notes          string                  `json:"notes,omitempty"`
	Status         string                  `json:"status"`
	PaymentStatus  string                  `json:"payment_status"`
	PaymentMethod  string                  `json:"payment_method"`
	VoucherCode    string                  `json:"voucher_code,omitempty"`
	CarrierCode    string                  `json:"carrier_code,omitempty"`
	TrackingNumber string                  `json:"tracking_number,omitempty"`
	Totals         totalsResponse          `json:"totals"`
	Lines          []orderLineResponse     `json:"lines"`
	Timeline       []timelineEventResponse `json:"timeline"`
	PlacedAt       time.Time               `json:"placed_at"`
	ConfirmedAt    *time.Time              `json:"confirmed_at,omitempty"`
	ShippedAt      *time.Time              `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time              `json:"delivered_at,omitempty"`
	CancelledAt    *time.Time              `json:"cancelled_at,omitempty"`
}

func newOrderDetailResponse(d domain.OrderDetail) orderDetailResponse {
	o := d.Order
	return orderDetailResponse{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		CustomerID:  o.CustomerID,
		Email:       o.Email,
		Phone:       o.Phone,
		ShipTo: shippingAddressResponse{
			Name:     o.ShipTo.Name,
			Phone:    o.ShipTo.Phone,
			Address:  o.ShipTo.Address,
			Province: o.ShipTo.Province,
			District: o.ShipTo.District,
			Ward:     o.ShipTo.Ward,
		},
		Notes:          o.Notes,
		Status:         string(o.Status),
		PaymentStatus:  string(o.PaymentStatus),
		PaymentMethod:  string(o.PaymentMethod),
		VoucherCode:    o.VoucherCode,
		CarrierCode:    o.CarrierCode,
		TrackingNumber: o.TrackingNumber,
		Totals:         newTotalsResponse(o.Totals),
		Lines: lo.Map(o.Lines, func(l domain.OrderLine, _ int) orderLineResponse {
			return orderLineResponse{
				VariantID: l.VariantID,
				ProductID: l.ProductID,
				Title:     l.Title,
				SKU:       l.SKU,
				Size:      l.Size,
				Color:     l.Color,
				UnitPrice: l.UnitPrice,
				Quantity:  l.Quantity,
				LineTotal: l.LineTotal,
			}
		}),
		Timeline: lo.Map(d.Timeline, func(ev domain.TimelineEvent, _ int) timelineEventResponse {
			return timelineEventResponse{Type: ev.Type, Reason: ev.Reason, Occurred: ev.Occurred}
		}),
		PlacedAt:    o.PlacedAt,
		ConfirmedAt: o.ConfirmedAt,
		ShippedAt:   o.ShippedAt,
		DeliveredAt: o.DeliveredAt,
		CancelledAt: o.CancelledAt,
	}
}

type cancelOrderResponse struct {
	OrderID          int64  `json:"order_id"`
	Status           string `json:"status"`
	AlreadyCancelled bool   `json:"already_cancelled"`
}

type webhookResultResponse struct {
	OrderID        int64      `json:"order_id"`
	OrderNumber    string     `json:"order_number"`
	ShipmentStatus string     `json:"shipment_status"`
	OrderStatus    string     `json:"order_status"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
}

func newWebhookResultResponse(r domain.WebhookResult) webhookResultResponse {
	return webhookResultResponse{
		OrderID:        r.OrderID,
		OrderNumber:    r.OrderNumber,
		ShipmentStatus: r.ShipmentStatus,
		OrderStatus:    string(r.OrderStatus),
		DeliveredAt:    r.DeliveredAt,
	}
}
