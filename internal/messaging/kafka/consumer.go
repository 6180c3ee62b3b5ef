package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// MessageHandler обрабатывает сообщение из Kafka.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как неустранимую повтором: сообщение сразу уходит в DLQ.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent сообщает, помечена ли ошибка через Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Consumer читает топики consumer group с повторами и Dead Letter Queue.
type Consumer struct {
	consumer     sarama.ConsumerGroup
	topics       []string
	handler      MessageHandler
	logger       *log.Entry
	wg           sync.WaitGroup
	dlqProducer  *Producer
	dlqTopic     string
	maxRetries   int
	retryBackoff time.Duration
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithDLQ включает отправку необработанных сообщений в DLQ.
func WithDLQ(producer *Producer, topic string) ConsumerOption {
	return func(c *Consumer) {
		c.dlqProducer = producer
		if topic != "" {
			c.dlqTopic = topic
		}
	}
}

// WithMaxRetries задаёт число повторов после первой неудачной попытки.
func WithMaxRetries(n int) ConsumerOption {
	return func(c *Consumer) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryBackoff задаёт первую паузу между повторами; 0 отключает паузы.
func WithRetryBackoff(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.retryBackoff = d }
}

func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) { c.logger = logger }
}

// NewConsumer создаёт consumer group на брокерах.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return NewConsumerFromGroup(group, topics, handler, opts...), nil
}

// NewConsumerFromGroup оборачивает готовую consumer group.
func NewConsumerFromGroup(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		consumer:     group,
		topics:       topics,
		handler:      handler,
		dlqTopic:     TopicDeadLetterQueue,
		maxRetries:   3,
		retryBackoff: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.WithField("component", "kafka-consumer")
	}
	return c
}

// Start запускает чтение в фоне до отмены контекста.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// При rebalance Consume завершается, поэтому вызывается в цикле.
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения партиции по порядку. Необработанное
// сообщение завершает сессию: offset партиции остаётся на нём, и после
// повторного входа в группу чтение продолжается с этого сообщения.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.process(session.Context(), message); err != nil {
				if session.Context().Err() != nil {
					return nil
				}
				c.logger.WithError(err).WithFields(fields).Error("message processing failed after all retries")
				return fmt.Errorf("process %s/%d at offset %d: %w", message.Topic, message.Partition, message.Offset, err)
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// process повторяет обработку до maxRetries раз с экспоненциальной паузой.
// Исчерпанные и неустранимые ошибки уходят в DLQ; без DLQ неустранимая
// ошибка только логируется, а временная возвращается и offset не фиксируется.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := c.handler(ctx, message)
		if IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, c.retryPolicy(ctx), func(err error, next time.Duration) {
		c.logger.WithError(err).WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": attempts,
			"max_retries": c.maxRetries,
			"next_delay":  next.String(),
		}).Warn("message processing failed, will retry")
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	retries := attempts - 1
	if c.dlqProducer != nil {
		if dlqErr := c.sendToDLQ(ctx, message, err, retries); dlqErr != nil {
			return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
		}
		c.logger.WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": retries,
		}).Info("message sent to DLQ")
		return nil
	}
	if IsPermanent(err) {
		c.logger.WithError(err).WithField("topic", message.Topic).Warn("dropping message with permanent error")
		return nil
	}
	return err
}

// retryPolicy удваивает паузу после каждой неудачи, начиная с retryBackoff.
func (c *Consumer) retryPolicy(ctx context.Context) backoff.BackOff {
	var policy backoff.BackOff = &backoff.ZeroBackOff{}
	if c.retryBackoff > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = c.retryBackoff
		exp.RandomizationFactor = 0.2
		exp.MaxInterval = 10 * time.Second
		exp.MaxElapsedTime = 0
		policy = exp
	}
	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx)
}

type deadLetter struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

func (c *Consumer) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, processingErr error, retries int) error {
	return c.dlqProducer.PublishEvent(ctx, c.dlqTopic, string(message.Key), deadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      processingErr.Error(),
		FailedAt:          time.Now().UTC().Format(time.RFC3339),
		RetryCount:        retries,
	}, map[string]string{
		HeaderOriginalTopic: message.Topic,
		HeaderErrorMessage:  processingErr.Error(),
		HeaderRetryCount:    strconv.Itoa(retries),
	})
}
