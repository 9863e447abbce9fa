package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"guild-rewards-bot/internal/domain"
)

// FindSubscription реализует domain.SubscriptionRepo.
func (p *Postgres) FindSubscription(ctx context.Context, repository string) (domain.RepoSubscription, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var sub domain.RepoSubscription
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT guild_id, repository, channel_id, events, created_at
FROM repo_subscriptions WHERE repository=$1
`, strings.ToLower(repository)).Scan(&sub.GuildID, &sub.Repository, &sub.ChannelID, &sub.Events, &sub.CreatedAt)
	observe("subscription_select", "repo_subscriptions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RepoSubscription{}, domain.ErrNotFound
	}
	return sub, err
}

// UpsertSubscription реализует domain.SubscriptionRepo.
func (p *Postgres) UpsertSubscription(ctx context.Context, sub domain.RepoSubscription) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO repo_subscriptions (repository, guild_id, channel_id, events, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (repository) DO UPDATE SET guild_id = EXCLUDED.guild_id, channel_id = EXCLUDED.channel_id, events = EXCLUDED.events
`, strings.ToLower(sub.Repository), sub.GuildID, sub.ChannelID, sub.Events, sub.CreatedAt)
	observe("subscription_upsert", "repo_subscriptions", start, err)
	return err
}

// ListSubscriptions реализует domain.SubscriptionRepo.
func (p *Postgres) ListSubscriptions(ctx context.Context, guildID string) ([]domain.RepoSubscription, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT guild_id, repository, channel_id, events, created_at
FROM repo_subscriptions WHERE guild_id=$1 ORDER BY repository
`, guildID)
	observe("subscription_list", "repo_subscriptions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RepoSubscription
	for rows.Next() {
		var sub domain.RepoSubscription
		if err := rows.Scan(&sub.GuildID, &sub.Repository, &sub.ChannelID, &sub.Events, &sub.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// DeleteSubscription реализует domain.SubscriptionRepo.
func (p *Postgres) DeleteSubscription(ctx context.Context, guildID, repository string) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM repo_subscriptions WHERE guild_id=$1 AND repository=$2`, guildID, strings.ToLower(repository))
	observe("subscription_delete", "repo_subscriptions", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// EnqueuePendingEvent реализует domain.PendingEventRepo.
func (p *Postgres) EnqueuePendingEvent(ctx context.Context, ev domain.PendingExternalEvent) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO pending_external_events (id, source_kind, routing_key, event_kind, delivery_id, payload, received_at, processed, attempts, last_error)
VALUES ($1::text::uuid, $2, $3, $4, $5, $6, $7, false, $8, $9)
`, ev.ID, ev.SourceKind, ev.RoutingKey, ev.EventKind, ev.DeliveryID, ev.Payload, ev.ReceivedAt, ev.Attempts, ev.LastError)
	observe("pending_insert", "pending_external_events", start, err)
	return err
}

const pendingColumns = `id::text, source_kind, routing_key, event_kind, delivery_id, payload, received_at, processed, processed_at, attempts, last_error`

func scanPending(row pgx.Row) (domain.PendingExternalEvent, error) {
	var ev domain.PendingExternalEvent
	err := row.Scan(&ev.ID, &ev.SourceKind, &ev.RoutingKey, &ev.EventKind, &ev.DeliveryID, &ev.Payload,
		&ev.ReceivedAt, &ev.Processed, &ev.ProcessedAt, &ev.Attempts, &ev.LastError)
	return ev, err
}

// ListPendingEvents реализует domain.PendingEventRepo.
func (p *Postgres) ListPendingEvents(ctx context.Context, maxAttempts, limit int) ([]domain.PendingExternalEvent, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+pendingColumns+`
FROM pending_external_events
WHERE NOT processed AND attempts < $1
ORDER BY received_at
LIMIT $2
`, maxAttempts, limit)
	observe("pending_list", "pending_external_events", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PendingExternalEvent
	for rows.Next() {
		ev, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// GetPendingEvent реализует domain.PendingEventRepo.
func (p *Postgres) GetPendingEvent(ctx context.Context, id string) (domain.PendingExternalEvent, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	ev, err := scanPending(p.pool.QueryRow(ctx, `SELECT `+pendingColumns+` FROM pending_external_events WHERE id=$1::text::uuid`, id))
	observe("pending_select", "pending_external_events", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PendingExternalEvent{}, domain.ErrNotFound
	}
	return ev, err
}

// IncrementPendingAttempts реализует domain.PendingEventRepo.
func (p *Postgres) IncrementPendingAttempts(ctx context.Context, id string) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var attempts int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
UPDATE pending_external_events SET attempts = attempts + 1
WHERE id=$1::text::uuid
RETURNING attempts
`, id).Scan(&attempts)
	observe("pending_attempt", "pending_external_events", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	return attempts, err
}

// MarkPendingProcessed реализует domain.PendingEventRepo.
func (p *Postgres) MarkPendingProcessed(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE pending_external_events SET processed=true, processed_at=$2, last_error=''
WHERE id=$1::text::uuid
`, id, at)
	observe("pending_processed", "pending_external_events", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RecordPendingError реализует domain.PendingEventRepo.
func (p *Postgres) RecordPendingError(ctx context.Context, id, message string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE pending_external_events SET last_error=$2 WHERE id=$1::text::uuid`, id, message)
	observe("pending_error", "pending_external_events", start, err)
	return err
}

// Claim реализует domain.DeliveryDeduper. Используется, когда Redis не настроен.
func (p *Postgres) Claim(ctx context.Context, key string) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `INSERT INTO delivery_claims (claim_key) VALUES ($1) ON CONFLICT DO NOTHING`, key)
	observe("claim_insert", "delivery_claims", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Release реализует domain.DeliveryDeduper.
func (p *Postgres) Release(ctx context.Context, key string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM delivery_claims WHERE claim_key=$1`, key)
	observe("claim_delete", "delivery_claims", start, err)
	return err
}
