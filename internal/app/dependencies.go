package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	cacheredis "github.com/vladislavdragonenkov/storefront/internal/cache/redis"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/shipping"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// runtimeDependencies: всё, что Run собирает до запуска серверов.
type runtimeDependencies struct {
	txm             domain.TxManager
	catalog         domain.CatalogReader
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker

	producer        *kafka.Producer
	outboxPublisher domain.OutboxPublisher
	dlqPublisher    domain.OutboxPublisher
	shippingLog     domain.ShippingEventLog
	kafkaChecker    healthcheck.Checker

	orderCache   domain.OrderCache
	cacheChecker healthcheck.Checker

	closers []func() error
}

// closeFn закрывает ресурсы в обратном порядке и собирает все ошибки.
func (d *runtimeDependencies) closeFn() error {
	var err error
	for i := len(d.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, d.closers[i]())
	}
	d.closers = nil
	return err
}

// initRuntimeDependencies поднимает хранилище, Kafka и Redis по настройкам.
// При ошибке уже открытые ресурсы закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{}
	fail := func(err error) (*runtimeDependencies, error) {
		return nil, multierr.Append(err, deps.closeFn())
	}

	if err := initStorage(ctx, cfg, logger, deps); err != nil {
		return fail(err)
	}
	if err := initMessaging(cfg, logger, deps); err != nil {
		return fail(err)
	}
	initCache(cfg, logger, deps)
	return deps, nil
}

func initStorage(ctx context.Context, cfg Config, logger *log.Entry, deps *runtimeDependencies) error {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		deps.txm = store
		deps.catalog = store
		deps.outboxRepo = store.Outbox()
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		logger.Info("using in-memory storage")
		return nil

	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return errors.New("postgres storage requires POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		deps.closers = append(deps.closers, store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				return fmt.Errorf("migrate postgres: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		deps.txm = store
		deps.catalog = store
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		deps.storageChecker = healthcheck.NewPingChecker("postgres", store.Ping)
		logger.Info("using postgres storage")
		return nil

	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initMessaging(cfg Config, logger *log.Entry, deps *runtimeDependencies) error {
	brokers := cfg.KafkaBrokerList()
	producer, err := initKafkaProducer(brokers, cfg.KafkaClientID, logger)
	if err != nil {
		return fmt.Errorf("init kafka producer: %w", err)
	}
	if producer == nil {
		deps.shippingLog = shipping.NewLogEventLog(logger.WithField("component", "shipping-event-log"))
		return nil
	}

	deps.producer = producer
	deps.closers = append(deps.closers, producer.Close)
	deps.outboxPublisher = kafka.NewOutboxPublisher(producer, cfg.KafkaOrderTopic)
	if cfg.KafkaDLQTopic != "" {
		deps.dlqPublisher = kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic, kafka.WithRawPayload())
	}
	deps.shippingLog = kafka.NewShippingEventLog(producer, cfg.KafkaShippingTopic)
	deps.kafkaChecker = healthcheck.NewOptionalChecker("kafka", func(context.Context) error {
		return pingKafka(brokers)
	})
	return nil
}

// pingKafka проверяет, что хотя бы один брокер отдаёт метаданные.
func pingKafka(brokers []string) error {
	config := sarama.NewConfig()
	config.Metadata.Retry.Max = 0
	client, err := sarama.NewClient(brokers, config)
	if err != nil {
		return err
	}
	return client.Close()
}

func initCache(cfg Config, logger *log.Entry, deps *runtimeDependencies) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return
	}
	client := cacheredis.NewClient(addr)
	deps.closers = append(deps.closers, client.Close)
	deps.orderCache = cacheredis.NewOrderCache(client, cfg.OrderCacheTTL)
	deps.cacheChecker = healthcheck.NewOptionalChecker("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	logger.WithField("addr", addr).Info("order cache enabled")
}

// registerCheckers подключает доступные проверки к health-обработчику.
func (d *runtimeDependencies) registerCheckers(h *healthcheck.Handler) {
	if d.storageChecker != nil {
		h.RegisterChecker("storage", d.storageChecker)
	}
	if d.kafkaChecker != nil {
		h.RegisterChecker("kafka", d.kafkaChecker)
	}
	if d.cacheChecker != nil {
		h.RegisterChecker("redis", d.cacheChecker)
	}
}
