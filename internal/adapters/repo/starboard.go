package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"guild-rewards-bot/internal/domain"
)

// GetStarboardConfig реализует domain.StarboardRepo.
func (p *Postgres) GetStarboardConfig(ctx context.Context, guildID string) (domain.StarboardConfig, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var cfg domain.StarboardConfig
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT guild_id, channel_id, threshold, emoji, enabled, updated_at
FROM starboard_configs WHERE guild_id=$1
`, guildID).Scan(&cfg.GuildID, &cfg.ChannelID, &cfg.Threshold, &cfg.Emoji, &cfg.Enabled, &cfg.UpdatedAt)
	observe("starboard_config_select", "starboard_configs", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StarboardConfig{}, domain.ErrNotFound
	}
	return cfg, err
}

// SaveStarboardConfig реализует domain.StarboardRepo.
func (p *Postgres) SaveStarboardConfig(ctx context.Context, cfg domain.StarboardConfig) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO starboard_configs (guild_id, channel_id, threshold, emoji, enabled, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (guild_id) DO UPDATE SET
	channel_id = EXCLUDED.channel_id,
	threshold = EXCLUDED.threshold,
	emoji = EXCLUDED.emoji,
	enabled = EXCLUDED.enabled,
	updated_at = now()
`, cfg.GuildID, cfg.ChannelID, cfg.Threshold, cfg.Emoji, cfg.Enabled)
	observe("starboard_config_upsert", "starboard_configs", start, err)
	return err
}

const promotedColumns = `id, guild_id, source_channel_id, source_message_id, emoji_key, target_channel_id, target_message_id, current_reaction_count, created_at, updated_at`

func scanPromoted(row pgx.Row) (domain.PromotedMessage, error) {
	var pm domain.PromotedMessage
	err := row.Scan(&pm.ID, &pm.GuildID, &pm.SourceChannelID, &pm.SourceMessageID, &pm.EmojiKey,
		&pm.TargetChannelID, &pm.TargetMessageID, &pm.CurrentReactionCount, &pm.CreatedAt, &pm.UpdatedAt)
	return pm, err
}

// GetPromotedMessage реализует domain.StarboardRepo.
func (p *Postgres) GetPromotedMessage(ctx context.Context, guildID, messageID, emoji string) (domain.PromotedMessage, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	pm, err := scanPromoted(p.pool.QueryRow(ctx, `
SELECT `+promotedColumns+`
FROM promoted_messages
WHERE guild_id=$1 AND source_message_id=$2 AND emoji_key=$3
`, guildID, messageID, emoji))
	observe("promoted_select", "promoted_messages", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PromotedMessage{}, domain.ErrNotFound
	}
	return pm, err
}

// InsertPromotedMessageIfAbsent реализует domain.StarboardRepo через
// ON CONFLICT DO NOTHING по ключу (guild_id, source_message_id, emoji_key).
func (p *Postgres) InsertPromotedMessageIfAbsent(ctx context.Context, pm domain.PromotedMessage) (domain.PromotedMessage, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if pm.CreatedAt.IsZero() {
		pm.CreatedAt = time.Now().UTC()
	}
	start := time.Now()
	inserted, err := scanPromoted(p.pool.QueryRow(ctx, `
INSERT INTO promoted_messages (guild_id, source_channel_id, source_message_id, emoji_key, target_channel_id, target_message_id, current_reaction_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
ON CONFLICT (guild_id, source_message_id, emoji_key) DO NOTHING
RETURNING `+promotedColumns,
		pm.GuildID, pm.SourceChannelID, pm.SourceMessageID, pm.EmojiKey, pm.TargetChannelID, pm.TargetMessageID, pm.CurrentReactionCount, pm.CreatedAt))
	observe("promoted_insert", "promoted_messages", start, err)
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.PromotedMessage{}, false, err
	}
	existing, err := p.GetPromotedMessage(ctx, pm.GuildID, pm.SourceMessageID, pm.EmojiKey)
	if err != nil {
		return domain.PromotedMessage{}, false, err
	}
	return existing, false, nil
}

// UpdatePromotedMessage реализует domain.StarboardRepo.
func (p *Postgres) UpdatePromotedMessage(ctx context.Context, id int64, count int, targetMessageID string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE promoted_messages
SET current_reaction_count=$2,
	target_message_id = CASE WHEN $3 = '' THEN target_message_id ELSE $3 END,
	updated_at = now()
WHERE id=$1
`, id, count, targetMessageID)
	observe("promoted_update", "promoted_messages", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
