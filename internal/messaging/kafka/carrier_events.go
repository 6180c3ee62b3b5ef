package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CarrierEventHandler: сверка отгрузок, которой передаются события из топика.
type CarrierEventHandler interface {
	HandleCarrierWebhook(ctx context.Context, event domain.CarrierEvent) (domain.WebhookResult, error)
}

// CarrierMessage: формат события перевозчика во входящем топике.
type CarrierMessage struct {
	CarrierCode    string    `json:"carrier_code"`
	OrderNumber    string    `json:"order_number"`
	TrackingNumber string    `json:"tracking_number"`
	Status         string    `json:"status"`
	EventTime      time.Time `json:"event_time"`
	Note           string    `json:"note,omitempty"`
}

// ParseCarrierMessage разбирает сообщение в событие перевозчика.
func ParseCarrierMessage(message *sarama.ConsumerMessage) (domain.CarrierEvent, error) {
	var msg CarrierMessage
	if err := json.Unmarshal(message.Value, &msg); err != nil {
		return domain.CarrierEvent{}, fmt.Errorf("failed to unmarshal carrier event: %w", err)
	}
	return domain.CarrierEvent{
		CarrierCode:    msg.CarrierCode,
		OrderNumber:    msg.OrderNumber,
		TrackingNumber: msg.TrackingNumber,
		Status:         msg.Status,
		EventTime:      msg.EventTime,
		Note:           msg.Note,
	}, nil
}

// NewCarrierEventHandler превращает сверку в обработчик сообщений.
// Битый JSON, невалидное событие и неизвестный заказ повтором не лечатся.
func NewCarrierEventHandler(h CarrierEventHandler) MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParseCarrierMessage(message)
		if err != nil {
			return Permanent(err)
		}
		if _, err := h.HandleCarrierWebhook(ctx, event); err != nil {
			if errors.Is(err, domain.ErrInvalidRequest) || errors.Is(err, domain.ErrOrderNotFound) {
				return Permanent(err)
			}
			return err
		}
		return nil
	}
}
