package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"guild-rewards-bot/internal/domain"
)

// AddPoints реализует domain.BalanceRepo. Изменение и отсечка по нулю выполняются
// одним оператором, поэтому параллельные начисления не теряются.
func (p *Postgres) AddPoints(ctx context.Context, guildID, userID string, delta int64) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var points int64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO balances (guild_id, user_id, points, updated_at)
VALUES ($1, $2, GREATEST($3::bigint, 0), now())
ON CONFLICT (guild_id, user_id) DO UPDATE
SET points = GREATEST(balances.points + $3::bigint, 0), updated_at = now()
RETURNING points
`, guildID, userID, delta).Scan(&points)
	observe("balance_add", "balances", start, err)
	return points, err
}

// SetPoints реализует domain.BalanceRepo.
func (p *Postgres) SetPoints(ctx context.Context, guildID, userID string, value int64) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var points int64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO balances (guild_id, user_id, points, updated_at)
VALUES ($1, $2, GREATEST($3::bigint, 0), now())
ON CONFLICT (guild_id, user_id) DO UPDATE SET points = EXCLUDED.points, updated_at = now()
RETURNING points
`, guildID, userID, value).Scan(&points)
	observe("balance_set", "balances", start, err)
	return points, err
}

// GetPoints реализует domain.BalanceRepo.
func (p *Postgres) GetPoints(ctx context.Context, guildID, userID string) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var points int64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT points FROM balances WHERE guild_id=$1 AND user_id=$2`, guildID, userID).Scan(&points)
	observe("balance_get", "balances", start, err)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	return points, err
}

// ResetGuildPoints реализует domain.BalanceRepo.
func (p *Postgres) ResetGuildPoints(ctx context.Context, guildID string) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE balances SET points=0, updated_at=now() WHERE guild_id=$1`, guildID)
	observe("balance_reset", "balances", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// TopBalances реализует domain.BalanceRepo.
func (p *Postgres) TopBalances(ctx context.Context, guildID string, limit int) ([]domain.Balance, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT guild_id, user_id, points, updated_at
FROM balances
WHERE guild_id=$1 AND points > 0
ORDER BY points DESC, user_id
LIMIT $2
`, guildID, limit)
	observe("balance_top", "balances", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Balance
	for rows.Next() {
		var b domain.Balance
		if err := rows.Scan(&b.GuildID, &b.UserID, &b.Points, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

const rewardConfigColumns = `guild_id, voice_enabled, voice_per_minute, media_enabled, media_amount, media_cooldown_seconds, media_channels, updated_at`

// GetOrCreateRewardConfig реализует domain.RewardConfigRepo.
func (p *Postgres) GetOrCreateRewardConfig(ctx context.Context, guildID string) (domain.RewardConfig, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	def := domain.DefaultRewardConfig(guildID)
	var cfg domain.RewardConfig
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO reward_configs (guild_id, voice_enabled, voice_per_minute, media_enabled, media_amount, media_cooldown_seconds, media_channels)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (guild_id) DO UPDATE SET guild_id = EXCLUDED.guild_id
RETURNING `+rewardConfigColumns,
		def.GuildID, def.VoiceEnabled, def.VoicePerMinute, def.MediaEnabled, def.MediaAmount, def.MediaCooldownSeconds, def.MediaChannels,
	).Scan(&cfg.GuildID, &cfg.VoiceEnabled, &cfg.VoicePerMinute, &cfg.MediaEnabled, &cfg.MediaAmount, &cfg.MediaCooldownSeconds, &cfg.MediaChannels, &cfg.UpdatedAt)
	observe("reward_config_get_or_create", "reward_configs", start, err)
	if err != nil {
		return domain.RewardConfig{}, err
	}
	if cfg.MediaChannels == nil {
		cfg.MediaChannels = []string{}
	}
	return cfg, nil
}

// SaveRewardConfig реализует domain.RewardConfigRepo.
func (p *Postgres) SaveRewardConfig(ctx context.Context, cfg domain.RewardConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.MediaChannels == nil {
		cfg.MediaChannels = []string{}
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO reward_configs (guild_id, voice_enabled, voice_per_minute, media_enabled, media_amount, media_cooldown_seconds, media_channels, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (guild_id) DO UPDATE SET
	voice_enabled = EXCLUDED.voice_enabled,
	voice_per_minute = EXCLUDED.voice_per_minute,
	media_enabled = EXCLUDED.media_enabled,
	media_amount = EXCLUDED.media_amount,
	media_cooldown_seconds = EXCLUDED.media_cooldown_seconds,
	media_channels = EXCLUDED.media_channels,
	updated_at = now()
`, cfg.GuildID, cfg.VoiceEnabled, cfg.VoicePerMinute, cfg.MediaEnabled, cfg.MediaAmount, cfg.MediaCooldownSeconds, cfg.MediaChannels)
	observe("reward_config_upsert", "reward_configs", start, err)
	if err != nil {
		return fmt.Errorf("upsert reward config: %w", err)
	}
	return nil
}

// CreateMediaSubmission реализует domain.MediaSubmissionRepo.
func (p *Postgres) CreateMediaSubmission(ctx context.Context, s domain.MediaSubmission) (domain.MediaSubmission, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO media_submissions (guild_id, user_id, channel_id, source_message_id, category, created_at, reward_granted, reward_amount)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id
`, s.GuildID, s.UserID, s.ChannelID, s.SourceMessageID, string(s.Category), s.CreatedAt, s.RewardGranted, s.RewardAmount).Scan(&s.ID)
	observe("media_insert", "media_submissions", start, err)
	if err != nil {
		return domain.MediaSubmission{}, err
	}
	return s, nil
}

// MediaTotals реализует domain.MediaSubmissionRepo.
func (p *Postgres) MediaTotals(ctx context.Context, guildID, userID string) (int, int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		count  int
		reward int64
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT count(*), COALESCE(sum(reward_amount), 0)
FROM media_submissions
WHERE guild_id=$1 AND user_id=$2
`, guildID, userID).Scan(&count, &reward)
	observe("media_totals", "media_submissions", start, err)
	return count, reward, err
}

// AcquireCooldown реализует domain.CooldownRepo. Запись обновляется только если
// предыдущее срабатывание старше окна; число затронутых строк и есть ответ.
func (p *Postgres) AcquireCooldown(ctx context.Context, guildID, subjectID, action string, now time.Time, window time.Duration) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
INSERT INTO cooldowns (guild_id, subject_id, action, fired_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (guild_id, subject_id, action) DO UPDATE SET fired_at = EXCLUDED.fired_at
WHERE cooldowns.fired_at < $5
`, guildID, subjectID, action, now, now.Add(-window))
	observe("cooldown_acquire", "cooldowns", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseCooldown реализует domain.CooldownRepo.
func (p *Postgres) ReleaseCooldown(ctx context.Context, guildID, subjectID, action string, firedAt time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
DELETE FROM cooldowns WHERE guild_id = $1 AND subject_id = $2 AND action = $3 AND fired_at = $4
`, guildID, subjectID, action, firedAt)
	observe("cooldown_release", "cooldowns", start, err)
	return err
}
