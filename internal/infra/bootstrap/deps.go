// Package bootstrap собирает общие для процессов зависимости: хранилище,
// Redis, блокировки, дедупликацию и очередь пробуждений.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"guild-rewards-bot/internal/adapters/memory"
	"guild-rewards-bot/internal/adapters/repo"
	"guild-rewards-bot/internal/domain"
	"guild-rewards-bot/internal/infra/cache"
	"guild-rewards-bot/internal/infra/config"
	"guild-rewards-bot/internal/infra/db"
	"guild-rewards-bot/internal/infra/lock"
	"guild-rewards-bot/internal/infra/queue"
)

// Deps — инфраструктура, общая для api, bot-gateway и replayer.
type Deps struct {
	Store   domain.Store
	Locker  domain.Locker
	Deduper domain.DeliveryDeduper
	// Signal и Wakeups равны nil без Redis: повтор идёт только по таймеру.
	Signal  domain.ReplaySignal
	Wakeups *queue.RedisReplayQueue

	closers []func()
}

// Open подключает Postgres и Redis согласно конфигурации.
// В dev без PG_DSN используется хранилище в памяти.
func Open(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*Deps, error) {
	d := &Deps{}
	if cfg.InMemory() {
		logger.Warn().Msg("bootstrap: PG_DSN не задан, используется хранилище в памяти")
		d.Store = memory.NewStore()
	} else {
		pool, err := db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("подключение к БД: %w", err)
		}
		d.closers = append(d.closers, pool.Close)
		pg := repo.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			d.Close()
			return nil, fmt.Errorf("миграции: %w", err)
		}
		d.Store = pg
	}

	if cfg.RedisAddr == "" {
		d.Locker = lock.NewKeyed()
		d.Deduper = d.Store
		return d, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		d.Close()
		return nil, fmt.Errorf("подключение к redis: %w", err)
	}
	d.closers = append(d.closers, func() { _ = client.Close() })
	d.Locker = lock.NewRedis(client, "lock:", cfg.Delivery.LockTTL)
	d.Deduper = cache.NewRedisDeduper(client, "delivery:", cfg.Delivery.DedupeTTL)
	wakeups := queue.NewRedisReplayQueue(client, cfg.Replay.QueueKey)
	d.Signal = wakeups
	d.Wakeups = wakeups
	return d, nil
}

// Close освобождает подключения в обратном порядке.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}
