package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"HTTPAddr", cfg.HTTPAddr, ":8080"},
		{"GRPCAddr", cfg.GRPCAddr, ":50051"},
		{"MetricsAddr", cfg.MetricsAddr, ":9090"},
		{"StorageDriver", cfg.StorageDriver, StorageDriverMemory},
		{"PostgresAutoMigrate", cfg.PostgresAutoMigrate, true},
		{"KafkaOrderTopic", cfg.KafkaOrderTopic, "storefront.order.events"},
		{"KafkaCarrierTopic", cfg.KafkaCarrierTopic, "storefront.carrier.inbound"},
		{"OrderCacheTTL", cfg.OrderCacheTTL, 5 * time.Minute},
		{"WarehouseID", cfg.WarehouseID, 1},
		{"IdempotencyTTL", cfg.IdempotencyTTL, 24 * time.Hour},
		{"OutboxMaxAttempts", cfg.OutboxMaxAttempts, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, tt.got)
			}
		})
	}
}

// Пустое окружение должно давать ровно DefaultConfig: теги default и литералы не расходятся.
func TestLoadConfig_DefaultsMatchDefaultConfig(t *testing.T) {
	clearStorefrontEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("defaults mismatch:\n got  %+v\n want %+v", cfg, DefaultConfig())
	}
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	clearStorefrontEnv(t)
	t.Setenv("STOREFRONT_HTTP_ADDR", "127.0.0.1:8181")
	t.Setenv("STOREFRONT_STORAGE_DRIVER", "postgres")
	t.Setenv("STOREFRONT_POSTGRES_DSN", "postgres://localhost/storefront")
	t.Setenv("STOREFRONT_ORDER_CACHE_TTL", "30s")
	t.Setenv("STOREFRONT_WAREHOUSE_ID", "7")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:8181" || cfg.StorageDriver != StorageDriverPostgres {
		t.Fatalf("unexpected addr/driver: %+v", cfg)
	}
	if cfg.OrderCacheTTL != 30*time.Second || cfg.WarehouseID != 7 {
		t.Fatalf("unexpected ttl/warehouse: %v %d", cfg.OrderCacheTTL, cfg.WarehouseID)
	}
}

func TestLoadConfig_DotEnvFile(t *testing.T) {
	clearStorefrontEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	content := "STOREFRONT_JWT_SECRET=from-file\nSTOREFRONT_KAFKA_BROKERS=k1:9092, k2:9092\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Unsetenv("STOREFRONT_JWT_SECRET")
		_ = os.Unsetenv("STOREFRONT_KAFKA_BROKERS")
	})

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.JWTSecret != "from-file" {
		t.Fatalf("expected secret from file, got %q", cfg.JWTSecret)
	}
	brokers := cfg.KafkaBrokerList()
	if len(brokers) != 2 || brokers[0] != "k1:9092" || brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers: %v", brokers)
	}
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	clearStorefrontEnv(t)
	t.Setenv("STOREFRONT_ORDER_CACHE_TTL", "soon")

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()
	valid.JWTSecret = "secret"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid memory", func(*Config) {}, ""},
		{"missing secret", func(c *Config) { c.JWTSecret = " " }, "JWT_SECRET"},
		{"postgres without dsn", func(c *Config) { c.StorageDriver = StorageDriverPostgres }, "POSTGRES_DSN"},
		{"postgres with dsn", func(c *Config) {
			c.StorageDriver = StorageDriverPostgres
			c.PostgresDSN = "postgres://localhost/db"
		}, ""},
		{"unknown driver", func(c *Config) { c.StorageDriver = "mysql" }, "unsupported storage driver"},
		{"bad warehouse", func(c *Config) { c.WarehouseID = 0 }, "WAREHOUSE_ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_Comparison(t *testing.T) {
	cfg1 := DefaultConfig()
	cfg2 := DefaultConfig()
	if cfg1 != cfg2 {
		t.Error("identical configs should be equal")
	}

	cfg2.KafkaBrokers = "localhost:9092"
	if cfg1 == cfg2 {
		t.Error("different configs should not be equal")
	}
}

func TestKafkaBrokerList_Empty(t *testing.T) {
	cfg := Config{KafkaBrokers: " , ,"}
	if brokers := cfg.KafkaBrokerList(); len(brokers) != 0 {
		t.Fatalf("expected no brokers, got %v", brokers)
	}
}

func clearStorefrontEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, envPrefix+"_") {
			t.Setenv(key, "")
			_ = os.Unsetenv(key)
		}
	}
}
