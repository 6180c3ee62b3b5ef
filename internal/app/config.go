package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "STOREFRONT"

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска. Переменные окружения читаются с префиксом
// STOREFRONT_, например STOREFRONT_HTTP_ADDR.
type Config struct {
	HTTPAddr       string        `envconfig:"HTTP_ADDR" default:":8080"`
	GRPCAddr       string        `envconfig:"GRPC_ADDR" default:":50051"`
	MetricsAddr    string        `envconfig:"METRICS_ADDR" default:":9090"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`

	StorageDriver       string `envconfig:"STORAGE_DRIVER" default:"memory"`
	PostgresDSN         string `envconfig:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `envconfig:"POSTGRES_AUTO_MIGRATE" default:"true"`

	KafkaBrokers       string `envconfig:"KAFKA_BROKERS"`
	KafkaClientID      string `envconfig:"KAFKA_CLIENT_ID" default:"storefront"`
	KafkaOrderTopic    string `envconfig:"KAFKA_ORDER_TOPIC" default:"storefront.order.events"`
	KafkaShippingTopic string `envconfig:"KAFKA_SHIPPING_TOPIC" default:"storefront.shipping.events"`
	KafkaCarrierTopic  string `envconfig:"KAFKA_CARRIER_TOPIC" default:"storefront.carrier.inbound"`
	KafkaDLQTopic      string `envconfig:"KAFKA_DLQ_TOPIC" default:"storefront.dlq"`
	KafkaConsumerGroup string `envconfig:"KAFKA_CONSUMER_GROUP" default:"storefront-carrier-events"`

	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	OrderCacheTTL time.Duration `envconfig:"ORDER_CACHE_TTL" default:"5m"`

	JWTSecret    string `envconfig:"JWT_SECRET"`
	JWTIssuer    string `envconfig:"JWT_ISSUER" default:"storefront"`
	WebhookToken string `envconfig:"WEBHOOK_TOKEN"`
	WarehouseID  int    `envconfig:"WAREHOUSE_ID" default:"1"`

	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"1s"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	OutboxMaxAttempts  int           `envconfig:"OUTBOX_MAX_ATTEMPTS" default:"3"`
	OutboxRetryDelay   time.Duration `envconfig:"OUTBOX_RETRY_DELAY" default:"100ms"`

	IdempotencyTTL              time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	IdempotencyCleanupInterval  time.Duration `envconfig:"IDEMPOTENCY_CLEANUP_INTERVAL" default:"10m"`
	IdempotencyCleanupBatchSize int           `envconfig:"IDEMPOTENCY_CLEANUP_BATCH_SIZE" default:"500"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// DefaultConfig возвращает значения по умолчанию, совпадающие с тегами default.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:       ":8080",
		GRPCAddr:       ":50051",
		MetricsAddr:    ":9090",
		RequestTimeout: 15 * time.Second,

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		KafkaClientID:      "storefront",
		KafkaOrderTopic:    "storefront.order.events",
		KafkaShippingTopic: "storefront.shipping.events",
		KafkaCarrierTopic:  "storefront.carrier.inbound",
		KafkaDLQTopic:      "storefront.dlq",
		KafkaConsumerGroup: "storefront-carrier-events",

		OrderCacheTTL: 5 * time.Minute,
		JWTIssuer:     "storefront",
		WarehouseID:   1,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadConfig подгружает .env (если файлы есть) и читает окружение.
func LoadConfig(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	return cfg, nil
}

// Validate проверяет настройки, без которых сервис запускать нельзя.
func (c Config) Validate() error {
	var problems []string

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			problems = append(problems, "POSTGRES_DSN is required for postgres storage")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.HTTPAddr == "" {
		problems = append(problems, "HTTP_ADDR is required")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		problems = append(problems, "JWT_SECRET is required")
	}
	if c.WarehouseID <= 0 {
		problems = append(problems, "WAREHOUSE_ID must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// KafkaBrokerList разбирает список брокеров через запятую.
func (c Config) KafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
