package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// HeaderAggregateType: тип агрегата, к которому относится событие outbox.
const HeaderAggregateType = "x-aggregate-type"

var errPublisherNotInitialized = errors.New("kafka outbox publisher is not initialized")

// OutboxPublisher публикует события outbox в один топик.
type OutboxPublisher struct {
	producer *Producer
	topic    string
	raw      bool
	now      func() time.Time
}

// OutboxPublisherOption настраивает OutboxPublisher.
type OutboxPublisherOption func(*OutboxPublisher)

// WithRawPayload отправляет payload события как есть, без конверта.
// Так пишется DLQ: payload там уже содержит описание сбоя.
func WithRawPayload() OutboxPublisherOption {
	return func(p *OutboxPublisher) { p.raw = true }
}

// WithPublisherClock задаёт источник времени для published_at.
func WithPublisherClock(now func() time.Time) OutboxPublisherOption {
	return func(p *OutboxPublisher) {
		if now != nil {
			p.now = now
		}
	}
}

// NewOutboxPublisher создаёт publisher; пустой topic означает топик событий заказов.
func NewOutboxPublisher(producer *Producer, topic string, opts ...OutboxPublisherOption) *OutboxPublisher {
	p := &OutboxPublisher{producer: producer, topic: topic, now: time.Now}
	if p.topic == "" {
		p.topic = TopicOrderEvents
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// outboxEnvelope: формат сообщения в топике событий заказа.
type outboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// Publish отправляет событие с ключом по агрегату: события одного заказа
// попадают в одну партицию.
func (p *OutboxPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}
	headers := map[string]string{
		HeaderContentType:   contentTypeJSON,
		HeaderEventType:     event.EventType,
		HeaderOutboxID:      event.ID,
		HeaderAggregateType: event.AggregateType,
	}

	body := json.RawMessage(event.Payload)
	if len(body) == 0 {
		body = json.RawMessage("null")
	}
	if !p.raw {
		var err error
		body, err = json.Marshal(outboxEnvelope{
			ID:            event.ID,
			AggregateType: event.AggregateType,
			AggregateID:   event.AggregateID,
			EventType:     event.EventType,
			Payload:       body,
			PublishedAt:   p.now().UTC(),
		})
		if err != nil {
			return err
		}
	}

	_, err := p.producer.Send(ctx, Message{Topic: p.topic, Key: key, Value: body, Headers: headers})
	return err
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
