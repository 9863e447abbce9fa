package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"guild-rewards-bot/internal/domain"
)

const voiceColumns = `id, guild_id, user_id, channel_id, joined_at, left_at, duration_seconds, reward_granted`

func scanVoiceSession(row pgx.Row) (domain.VoiceSession, error) {
	var s domain.VoiceSession
	err := row.Scan(&s.ID, &s.GuildID, &s.UserID, &s.ChannelID, &s.JoinedAt, &s.LeftAt, &s.DurationSeconds, &s.RewardGranted)
	return s, err
}

// OpenVoiceSession реализует domain.VoiceSessionRepo.
func (p *Postgres) OpenVoiceSession(ctx context.Context, guildID, userID string) (domain.VoiceSession, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	s, err := scanVoiceSession(p.pool.QueryRow(ctx, `
SELECT `+voiceColumns+`
FROM voice_sessions
WHERE guild_id=$1 AND user_id=$2 AND left_at IS NULL
`, guildID, userID))
	observe("voice_open_select", "voice_sessions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.VoiceSession{}, domain.ErrNotFound
	}
	return s, err
}

// CreateVoiceSession реализует domain.VoiceSessionRepo. Частичный уникальный индекс
// voice_sessions_open_key не даёт открыть вторую сессию пары.
func (p *Postgres) CreateVoiceSession(ctx context.Context, s domain.VoiceSession) (domain.VoiceSession, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO voice_sessions (guild_id, user_id, channel_id, joined_at)
VALUES ($1, $2, $3, $4)
RETURNING id
`, s.GuildID, s.UserID, s.ChannelID, s.JoinedAt).Scan(&s.ID)
	observe("voice_insert", "voice_sessions", start, err)
	if isUniqueViolation(err, "voice_sessions_open_key") {
		return domain.VoiceSession{}, domain.ErrConflict
	}
	if err != nil {
		return domain.VoiceSession{}, fmt.Errorf("insert voice session: %w", err)
	}
	s.LeftAt = nil
	s.DurationSeconds = nil
	s.RewardGranted = false
	return s, nil
}

// CloseVoiceSession реализует domain.VoiceSessionRepo.
func (p *Postgres) CloseVoiceSession(ctx context.Context, id int64, leftAt time.Time, durationSeconds int64) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE voice_sessions SET left_at=$2, duration_seconds=$3
WHERE id=$1 AND left_at IS NULL
`, id, leftAt, durationSeconds)
	observe("voice_close", "voice_sessions", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkVoiceRewardGranted реализует domain.VoiceSessionRepo.
func (p *Postgres) MarkVoiceRewardGranted(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE voice_sessions SET reward_granted=true WHERE id=$1 AND NOT reward_granted`, id)
	observe("voice_mark_reward", "voice_sessions", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// VoiceTotals реализует domain.VoiceSessionRepo.
func (p *Postgres) VoiceTotals(ctx context.Context, guildID, userID string) (int, int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		count   int
		seconds int64
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT count(*), COALESCE(sum(duration_seconds), 0)
FROM voice_sessions
WHERE guild_id=$1 AND user_id=$2 AND left_at IS NOT NULL
`, guildID, userID).Scan(&count, &seconds)
	observe("voice_totals", "voice_sessions", start, err)
	return count, seconds, err
}
