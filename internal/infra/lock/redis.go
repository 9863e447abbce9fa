package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"guild-rewards-bot/internal/infra/metrics"
)

const (
	defaultTTL   = 15 * time.Second
	retryBackoff = 25 * time.Millisecond
	maxBackoff   = 250 * time.Millisecond
)

// releaseScript удаляет ключ, только если он всё ещё принадлежит владельцу токена.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis — блокировка по ключу между процессами через SET NX PX.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis создаёт распределённую блокировку. ttl ограничивает время удержания,
// если процесс-владелец упал, не освободив ключ.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if prefix == "" {
		prefix = "lock:"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Lock пытается захватить ключ до успеха или отмены ctx.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := r.prefix + key
	token := uuid.NewString()
	backoff := retryBackoff
	for {
		start := time.Now()
		ok, err := r.client.SetNX(ctx, fullKey, token, r.ttl).Result()
		metrics.ObserveNetworkRequest("redis", "lock", "setnx", start, err)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return func() { r.release(fullKey, token) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (r *Redis) release(fullKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	err := releaseScript.Run(ctx, r.client, []string{fullKey}, token).Err()
	if errors.Is(err, redis.Nil) {
		err = nil
	}
	metrics.ObserveNetworkRequest("redis", "unlock", "eval", start, err)
}
