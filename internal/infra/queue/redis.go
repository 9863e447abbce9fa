package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"guild-rewards-bot/internal/domain"
	"guild-rewards-bot/internal/infra/metrics"
)

// DefaultReplayKey — список Redis с идентификаторами отложенных событий.
const DefaultReplayKey = "replay_wakeups"

// RedisReplayQueue будит процесс повторной доставки через Redis lists.
// Сами события хранятся в БД; в очереди только их идентификаторы.
type RedisReplayQueue struct {
	client *redis.Client
	key    string
}

var _ domain.ReplaySignal = (*RedisReplayQueue)(nil)

// NewRedisReplayQueue создаёт очередь по указанному ключу.
func NewRedisReplayQueue(client *redis.Client, key string) *RedisReplayQueue {
	if key == "" {
		key = DefaultReplayKey
	}
	return &RedisReplayQueue{client: client, key: key}
}

// Notify публикует идентификатор события.
func (q *RedisReplayQueue) Notify(ctx context.Context, eventID string) error {
	start := time.Now()
	err := q.client.LPush(ctx, q.key, eventID).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push wakeup: %w", err)
	}
	return nil
}

// Pop блокирующе читает идентификатор из очереди.
func (q *RedisReplayQueue) Pop(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return "", err
		}
		if len(res) != 2 {
			return "", errors.New("redis queue: unexpected response")
		}
		return res[1], nil
	}
}
