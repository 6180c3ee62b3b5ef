// Package kafka публикует события магазина в Kafka и принимает события перевозчиков.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// HeaderContentType выставляется для всех JSON-сообщений.
const (
	HeaderContentType = "content-type"
	contentTypeJSON   = "application/json"
)

// Message описывает одно сообщение для отправки. Key задаёт партицию: события
// одного заказа или одной посылки попадают в одну партицию и сохраняют порядок.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Delivery: куда брокер записал сообщение.
type Delivery struct {
	Partition int32
	Offset    int64
}

// Producer: синхронный producer с подтверждением от всех in-sync реплик.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
	now      func() time.Time
}

// ProducerOption настраивает Producer.
type ProducerOption func(*Producer)

// WithProducerClock задаёт источник времени для отметки сообщений.
func WithProducerClock(now func() time.Time) ProducerOption {
	return func(p *Producer) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProducer создаёт idempotent producer с hash-партиционированием по ключу.
func NewProducer(brokers []string, clientID string, opts ...ProducerOption) (*Producer, error) {
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return NewProducerFromSync(producer, nil, opts...), nil
}

// NewProducerFromSync оборачивает готовый sarama.SyncProducer.
func NewProducerFromSync(producer sarama.SyncProducer, logger *log.Entry, opts ...ProducerOption) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	p := &Producer{producer: producer, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishEvent сериализует событие в JSON и отправляет его с заголовками.
func (p *Producer) PublishEvent(ctx context.Context, topic, key string, event any, headers map[string]string) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	all := lo.Assign(map[string]string{HeaderContentType: contentTypeJSON}, headers)
	_, err = p.Send(ctx, Message{Topic: topic, Key: key, Value: data, Headers: all})
	return err
}

// Send отправляет готовое сообщение и ждёт подтверждения брокера.
func (p *Producer) Send(ctx context.Context, msg Message) (Delivery, error) {
	if err := ctx.Err(); err != nil {
		return Delivery{}, err
	}

	entry := p.logger.WithFields(log.Fields{"topic": msg.Topic, "key": msg.Key})
	partition, offset, err := p.producer.SendMessage(p.toSarama(msg))
	if err != nil {
		entry.WithError(err).Error("failed to send message to kafka")
		return Delivery{}, fmt.Errorf("failed to send message to %s: %w", msg.Topic, err)
	}

	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("message sent to kafka")
	return Delivery{Partition: partition, Offset: offset}, nil
}

// toSarama раскладывает заголовки в отсортированном порядке, чтобы запись была воспроизводимой.
func (p *Producer) toSarama(msg Message) *sarama.ProducerMessage {
	out := &sarama.ProducerMessage{
		Topic:     msg.Topic,
		Value:     sarama.ByteEncoder(msg.Value),
		Timestamp: p.now().UTC(),
	}
	if msg.Key != "" {
		out.Key = sarama.StringEncoder(msg.Key)
	}

	keys := lo.Keys(msg.Headers)
	sort.Strings(keys)
	for _, k := range keys {
		out.Headers = append(out.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(msg.Headers[k])})
	}
	return out
}

// Close закрывает producer.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}
