package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/service/shipping"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverMemory

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "memory-init"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = deps.closeFn() }()

	if deps.txm == nil || deps.catalog == nil || deps.outboxRepo == nil || deps.idempotencyRepo == nil {
		t.Fatalf("memory dependencies must be initialized: %+v", deps)
	}
	if deps.storageChecker != nil {
		t.Fatal("memory storage has no health checker")
	}
	if deps.producer != nil || deps.outboxPublisher != nil || deps.kafkaChecker != nil {
		t.Fatal("kafka must stay disabled without brokers")
	}
	if _, ok := deps.shippingLog.(*shipping.LogEventLog); !ok {
		t.Fatalf("expected log-backed shipping event log, got %T", deps.shippingLog)
	}
	if deps.orderCache != nil || deps.cacheChecker != nil {
		t.Fatal("cache must stay disabled without REDIS_ADDR")
	}
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = ""

	_, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "postgres-no-dsn"))
	if err == nil || !strings.Contains(err.Error(), "POSTGRES_DSN") {
		t.Fatalf("expected missing dsn error, got %v", err)
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "sqlite"

	_, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "unsupported"))
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestInitRuntimeDependencies_RedisCacheIsOptional(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisAddr = "127.0.0.1:1"

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "redis-init"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = deps.closeFn() }()

	if deps.orderCache == nil || deps.cacheChecker == nil {
		t.Fatal("expected cache and checker when REDIS_ADDR is set")
	}
	check := deps.cacheChecker.Check(context.Background())
	if check.Status != healthcheck.StatusUnhealthy || check.Critical {
		t.Fatalf("expected non-critical failing redis check, got %+v", check)
	}

	h := healthcheck.NewHandler("test")
	deps.registerCheckers(h)
}

func TestRuntimeDependencies_CloseFnJoinsErrorsInReverseOrder(t *testing.T) {
	var order []string
	deps := &runtimeDependencies{}
	deps.closers = append(deps.closers,
		func() error { order = append(order, "storage"); return errors.New("storage close failed") },
		func() error { order = append(order, "kafka"); return nil },
		func() error { order = append(order, "redis"); return errors.New("redis close failed") },
	)

	err := deps.closeFn()
	if err == nil || !strings.Contains(err.Error(), "storage close failed") || !strings.Contains(err.Error(), "redis close failed") {
		t.Fatalf("expected both close errors, got %v", err)
	}
	if strings.Join(order, ",") != "redis,kafka,storage" {
		t.Fatalf("unexpected close order: %v", order)
	}
	if err := deps.closeFn(); err != nil {
		t.Fatalf("second close must be a no-op, got %v", err)
	}
}
