package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"guild-rewards-bot/internal/domain"
	"guild-rewards-bot/internal/infra/metrics"
)

// DefaultDedupeTTL — сколько хранится отметка о принятой доставке.
const DefaultDedupeTTL = 72 * time.Hour

// RedisDeduper реализует domain.DeliveryDeduper через SETNX с TTL.
type RedisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ domain.DeliveryDeduper = (*RedisDeduper)(nil)

// NewRedisDeduper создаёт дедупликатор.
func NewRedisDeduper(client *redis.Client, prefix string, ttl time.Duration) *RedisDeduper {
	if prefix == "" {
		prefix = "delivery:"
	}
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &RedisDeduper{client: client, prefix: prefix, ttl: ttl}
}

// Claim возвращает true, если ключ ещё не встречался.
func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := d.client.SetNX(ctx, d.prefix+key, "1", d.ttl).Result()
	metrics.ObserveNetworkRequest("redis", "setnx", "dedupe", start, err)
	return ok, err
}

// Release удаляет отметку, чтобы повтор источника был принят.
func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	start := time.Now()
	err := d.client.Del(ctx, d.prefix+key).Err()
	metrics.ObserveNetworkRequest("redis", "del", "dedupe", start, err)
	return err
}
