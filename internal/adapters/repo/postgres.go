package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"guild-rewards-bot/internal/domain"
	"guild-rewards-bot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.Store = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func observe(operation, table string, start time.Time, err error) {
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	metrics.ObserveNetworkRequest("postgres", operation, table, start, err)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// Migrate создаёт таблицы и индексы, если их ещё нет.
func (p *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for i, stmt := range schema {
		start := time.Now()
		_, err := p.pool.Exec(ctx, stmt)
		observe("migrate", "schema", start, err)
		if err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS voice_sessions (
	id BIGSERIAL PRIMARY KEY,
	guild_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	joined_at TIMESTAMPTZ NOT NULL,
	left_at TIMESTAMPTZ,
	duration_seconds BIGINT,
	reward_granted BOOLEAN NOT NULL DEFAULT false
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS voice_sessions_open_key ON voice_sessions (guild_id, user_id) WHERE left_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS voice_sessions_subject_idx ON voice_sessions (guild_id, user_id)`,
	`CREATE TABLE IF NOT EXISTS balances (
	guild_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	points BIGINT NOT NULL DEFAULT 0 CHECK (points >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (guild_id, user_id)
)`,
	`CREATE TABLE IF NOT EXISTS reward_configs (
	guild_id TEXT PRIMARY KEY,
	voice_enabled BOOLEAN NOT NULL DEFAULT true,
	voice_per_minute BIGINT NOT NULL DEFAULT 1 CHECK (voice_per_minute >= 0),
	media_enabled BOOLEAN NOT NULL DEFAULT true,
	media_amount BIGINT NOT NULL DEFAULT 5 CHECK (media_amount >= 0),
	media_cooldown_seconds BIGINT NOT NULL DEFAULT 3600 CHECK (media_cooldown_seconds >= 0),
	media_channels TEXT[] NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS media_submissions (
	id BIGSERIAL PRIMARY KEY,
	guild_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	source_message_id TEXT NOT NULL,
	category TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	reward_granted BOOLEAN NOT NULL DEFAULT false,
	reward_amount BIGINT NOT NULL DEFAULT 0 CHECK (reward_amount >= 0)
)`,
	`CREATE INDEX IF NOT EXISTS media_submissions_subject_idx ON media_submissions (guild_id, user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS cooldowns (
	guild_id TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	action TEXT NOT NULL,
	fired_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (guild_id, subject_id, action)
)`,
	`CREATE TABLE IF NOT EXISTS starboard_configs (
	guild_id TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL,
	threshold INT NOT NULL DEFAULT 3 CHECK (threshold >= 1),
	emoji TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT true,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS promoted_messages (
	id BIGSERIAL PRIMARY KEY,
	guild_id TEXT NOT NULL,
	source_channel_id TEXT NOT NULL,
	source_message_id TEXT NOT NULL,
	emoji_key TEXT NOT NULL,
	target_channel_id TEXT NOT NULL,
	target_message_id TEXT NOT NULL DEFAULT '',
	current_reaction_count INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (guild_id, source_message_id, emoji_key)
)`,
	`CREATE TABLE IF NOT EXISTS repo_subscriptions (
	repository TEXT PRIMARY KEY,
	guild_id TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	events TEXT NOT NULL DEFAULT 'all',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS repo_subscriptions_guild_idx ON repo_subscriptions (guild_id)`,
	`CREATE TABLE IF NOT EXISTS pending_external_events (
	id UUID PRIMARY KEY,
	source_kind TEXT NOT NULL,
	routing_key TEXT NOT NULL,
	event_kind TEXT NOT NULL,
	delivery_id TEXT NOT NULL DEFAULT '',
	payload BYTEA NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	processed BOOLEAN NOT NULL DEFAULT false,
	processed_at TIMESTAMPTZ,
	attempts INT NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS pending_external_events_open_idx ON pending_external_events (received_at) WHERE NOT processed`,
	`CREATE TABLE IF NOT EXISTS delivery_claims (
	claim_key TEXT PRIMARY KEY,
	claimed_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
}
