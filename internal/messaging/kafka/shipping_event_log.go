package kafka

import (
	"context"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ShippingEventLog пишет сырые события перевозчиков в топик журнала,
// ключ: трек-номер.
type ShippingEventLog struct {
	producer *Producer
	topic    string
}

func NewShippingEventLog(producer *Producer, topic string) *ShippingEventLog {
	if topic == "" {
		topic = TopicShippingEvents
	}
	return &ShippingEventLog{producer: producer, topic: topic}
}

func (l *ShippingEventLog) Record(ctx context.Context, event domain.ShippingEvent) error {
	if l == nil || l.producer == nil {
		return errPublisherNotInitialized
	}
	return l.producer.PublishEvent(ctx, l.topic, event.TrackingNumber, event, map[string]string{
		HeaderEventType: "shipping." + event.Status,
	})
}

var _ domain.ShippingEventLog = (*ShippingEventLog)(nil)
