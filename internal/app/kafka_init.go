package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если брокеры заданы. Пустой список: nil, nil.
func initKafkaProducer(brokers []string, clientID string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, clientID)
	if err != nil {
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// initCarrierConsumer подписывается на входящие события перевозчиков.
// Сообщения, не обработанные после повторов, уходят в DLQ через producer.
func initCarrierConsumer(cfg Config, handler kafka.CarrierEventHandler, producer *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	brokers := cfg.KafkaBrokerList()
	if len(brokers) == 0 || cfg.KafkaCarrierTopic == "" {
		return nil, nil
	}

	opts := []kafka.ConsumerOption{kafka.WithConsumerLogger(logger.WithField("component", "carrier-consumer"))}
	if producer != nil && cfg.KafkaDLQTopic != "" {
		opts = append(opts, kafka.WithDLQ(producer, cfg.KafkaDLQTopic))
	}

	consumer, err := kafka.NewConsumer(brokers, cfg.KafkaConsumerGroup, []string{cfg.KafkaCarrierTopic}, kafka.NewCarrierEventHandler(handler), opts...)
	if err != nil {
		return nil, err
	}
	logger.WithFields(log.Fields{
		"topic": cfg.KafkaCarrierTopic,
		"group": cfg.KafkaConsumerGroup,
	}).Info("carrier event consumer initialized")
	return consumer, nil
}
