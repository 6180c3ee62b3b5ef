package domain

import (
	"strings"
	"time"
)

// Статусы перевозчика, на которые реагирует сверка отгрузок.
const (
	CarrierStatusShipped   = "Shipped"
	CarrierStatusDelivered = "Delivered"
)

// Shipment: отгрузка, уникальная по паре (перевозчик, трек-номер).
type Shipment struct {
	ID             int64
	OrderID        int64
	CarrierCode    string
	TrackingNumber string
	Status         string
	LastUpdate     time.Time
}

// ApplyEvent применяет событие перевозчика, если оно не старше сохранённого.
// Возвращает true, если статус был перезаписан.
func (s *Shipment) ApplyEvent(status string, eventTime time.Time) bool {
	if eventTime.Before(s.LastUpdate) {
		return false
	}
	s.Status = status
	s.LastUpdate = eventTime
	return true
}

// CarrierEvent: нормализованное событие из webhook перевозчика.
type CarrierEvent struct {
	CarrierCode    string
	OrderNumber    string
	TrackingNumber string
	Status         string
	EventTime      time.Time
	Note           string
}

// IsStatus сравнивает статус без учёта регистра.
func (e CarrierEvent) IsStatus(status string) bool {
	return strings.EqualFold(e.Status, status)
}

// WebhookResult: результат обработки события перевозчика.
type WebhookResult struct {
	OrderID        int64
	OrderNumber    string
	ShipmentStatus string
	OrderStatus    OrderStatus
	DeliveredAt    *time.Time
}

// ShippingEvent: запись в журнал событий перевозчиков.
type ShippingEvent struct {
	CarrierCode    string    `json:"carrier_code"`
	TrackingNumber string    `json:"tracking_number"`
	OrderNumber    string    `json:"order_number"`
	Status         string    `json:"status"`
	EventTime      time.Time `json:"event_time"`
	Note           string    `json:"note,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}
