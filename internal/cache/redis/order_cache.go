// Package redis кэширует проекции заказов в Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	keyPrefix  = "storefront:order:"
	defaultTTL = 5 * time.Minute
)

// Client: подмножество команд Redis, которое нужно кэшу.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// NewClient создаёт клиента Redis с короткими таймаутами.
func NewClient(addr string) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// OrderCache хранит OrderDetail в JSON с TTL.
type OrderCache struct {
	client Client
	ttl    time.Duration
}

func NewOrderCache(client Client, ttl time.Duration) *OrderCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &OrderCache{client: client, ttl: ttl}
}

func orderKey(orderID int64) string {
	return keyPrefix + strconv.FormatInt(orderID, 10)
}

// Get возвращает проекцию; промах: (_, false, nil).
func (c *OrderCache) Get(ctx context.Context, orderID int64) (domain.OrderDetail, bool, error) {
	raw, err := c.client.Get(ctx, orderKey(orderID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.OrderDetail{}, false, nil
	}
	if err != nil {
		return domain.OrderDetail{}, false, fmt.Errorf("redis get order %d: %w", orderID, err)
	}

	var detail domain.OrderDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return domain.OrderDetail{}, false, fmt.Errorf("decode cached order %d: %w", orderID, err)
	}
	return detail, true, nil
}

func (c *OrderCache) Set(ctx context.Context, detail domain.OrderDetail) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("encode order %d: %w", detail.Order.ID, err)
	}
	if err := c.client.Set(ctx, orderKey(detail.Order.ID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set order %d: %w", detail.Order.ID, err)
	}
	return nil
}

func (c *OrderCache) Invalidate(ctx context.Context, orderID int64) error {
	if err := c.client.Del(ctx, orderKey(orderID)).Err(); err != nil {
		return fmt.Errorf("redis del order %d: %w", orderID, err)
	}
	return nil
}

var _ domain.OrderCache = (*OrderCache)(nil)
