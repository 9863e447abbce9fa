// Package voice отслеживает присутствие участников в голосовых каналах и начисляет
// награду за целые минуты закрытой сессии.
package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"guild-rewards-bot/internal/domain"
	"guild-rewards-bot/internal/infra/metrics"
)

// MinRewardedSeconds — минимальная длительность сессии, за которую начисляется награда.
const MinRewardedSeconds = 60

// Crediter начисляет очки.
type Crediter interface {
	Credit(ctx context.Context, guildID, userID string, amount int64) (int64, error)
}

// Closed описывает результат закрытия сессии.
type Closed struct {
	Session domain.VoiceSession
	Reward  int64
}

// Stats — статистика участника по голосовым каналам.
type Stats struct {
	Sessions     int
	TotalSeconds int64
	Current      *domain.VoiceSession
}

// Tracker реализует конечный автомат Absent / Present(channel) для пары (guild, user).
// Состояние хранится в репозитории, сигналы одной пары сериализуются через Locker.
type Tracker struct {
	sessions domain.VoiceSessionRepo
	configs  domain.RewardConfigRepo
	ledger   Crediter
	locker   domain.Locker
	clock    domain.Clock
	log      zerolog.Logger
}

// NewTracker создаёт трекер.
func NewTracker(sessions domain.VoiceSessionRepo, configs domain.RewardConfigRepo, ledger Crediter, locker domain.Locker, clock domain.Clock, logger zerolog.Logger) *Tracker {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Tracker{
		sessions: sessions,
		configs:  configs,
		ledger:   ledger,
		locker:   locker,
		clock:    clock,
		log:      logger.With().Str("component", "voice").Logger(),
	}
}

func lockKey(guildID, userID string) string {
	return "voice:" + guildID + ":" + userID
}

// OnVoiceJoin открывает сессию. Повторный join в тот же канал возвращает уже открытую
// сессию; join в другой канал при открытой сессии обрабатывается как переключение.
func (t *Tracker) OnVoiceJoin(ctx context.Context, guildID, userID, channelID string) (domain.VoiceSession, error) {
	return t.moveTo(ctx, guildID, userID, channelID)
}

// OnVoiceSwitch закрывает текущую сессию и открывает новую в channelID.
func (t *Tracker) OnVoiceSwitch(ctx context.Context, guildID, userID, channelID string) (domain.VoiceSession, error) {
	return t.moveTo(ctx, guildID, userID, channelID)
}

// OnVoiceLeave закрывает открытую сессию. Leave без открытой сессии игнорируется.
func (t *Tracker) OnVoiceLeave(ctx context.Context, guildID, userID string) (Closed, error) {
	unlock, err := t.locker.Lock(ctx, lockKey(guildID, userID))
	if err != nil {
		return Closed{}, fmt.Errorf("блокировка %s/%s: %w", guildID, userID, err)
	}
	defer unlock()

	open, err := t.sessions.OpenVoiceSession(ctx, guildID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		t.log.Info().Str("guild", guildID).Str("user", userID).Msg("voice: leave without open session, ignored")
		return Closed{}, nil
	}
	if err != nil {
		return Closed{}, fmt.Errorf("поиск открытой сессии: %w", err)
	}
	return t.close(ctx, open)
}

func (t *Tracker) moveTo(ctx context.Context, guildID, userID, channelID string) (domain.VoiceSession, error) {
	unlock, err := t.locker.Lock(ctx, lockKey(guildID, userID))
	if err != nil {
		return domain.VoiceSession{}, fmt.Errorf("блокировка %s/%s: %w", guildID, userID, err)
	}
	defer unlock()

	open, err := t.sessions.OpenVoiceSession(ctx, guildID, userID)
	switch {
	case err == nil && open.ChannelID == channelID:
		t.log.Debug().Str("guild", guildID).Str("user", userID).Str("channel", channelID).Msg("voice: duplicate join")
		return open, nil
	case err == nil:
		if _, err := t.close(ctx, open); err != nil {
			return domain.VoiceSession{}, err
		}
	case !errors.Is(err, domain.ErrNotFound):
		return domain.VoiceSession{}, fmt.Errorf("поиск открытой сессии: %w", err)
	}

	created, err := t.sessions.CreateVoiceSession(ctx, domain.VoiceSession{
		GuildID:   guildID,
		UserID:    userID,
		ChannelID: channelID,
		JoinedAt:  t.clock.Now(),
	})
	if errors.Is(err, domain.ErrConflict) {
		// Сессию открыл другой процесс в обход блокировки; оставляем его запись.
		t.log.Warn().Str("guild", guildID).Str("user", userID).Msg("voice: open session already exists")
		return t.sessions.OpenVoiceSession(ctx, guildID, userID)
	}
	if err != nil {
		return domain.VoiceSession{}, fmt.Errorf("создание сессии: %w", err)
	}
	return created, nil
}

// close фиксирует длительность и начисляет награду. Начисляет только тот вызов,
// который действительно закрыл открытую запись.
func (t *Tracker) close(ctx context.Context, s domain.VoiceSession) (Closed, error) {
	now := t.clock.Now()
	duration := int64(now.Sub(s.JoinedAt) / time.Second)
	if duration < 0 {
		duration = 0
	}
	closed, err := t.sessions.CloseVoiceSession(ctx, s.ID, now, duration)
	if err != nil {
		return Closed{}, fmt.Errorf("закрытие сессии %d: %w", s.ID, err)
	}
	if !closed {
		t.log.Warn().Int64("session", s.ID).Msg("voice: session already closed")
		return Closed{}, nil
	}
	s.LeftAt = &now
	s.DurationSeconds = &duration
	result := Closed{Session: s}

	// Сессия уже закрыта: ошибки начисления только логируются, запись остаётся
	// без отметки о награде, а вызывающий продолжает переход состояния.
	cfg, err := t.configs.GetOrCreateRewardConfig(ctx, s.GuildID)
	if err != nil {
		t.log.Error().Err(err).Int64("session", s.ID).Str("guild", s.GuildID).Msg("voice: reward config unavailable")
		return result, nil
	}
	reward := Reward(duration, cfg)
	if reward == 0 {
		return result, nil
	}
	if _, err := t.ledger.Credit(ctx, s.GuildID, s.UserID, reward); err != nil {
		t.log.Error().Err(err).Int64("session", s.ID).Str("guild", s.GuildID).Str("user", s.UserID).Msg("voice: reward credit failed")
		return result, nil
	}
	if _, err := t.sessions.MarkVoiceRewardGranted(ctx, s.ID); err != nil {
		t.log.Error().Err(err).Int64("session", s.ID).Msg("voice: mark reward granted failed")
	}
	metrics.ObserveReward("voice", reward)
	result.Session.RewardGranted = true
	result.Reward = reward
	t.log.Info().Int64("session", s.ID).Str("guild", s.GuildID).Str("user", s.UserID).Int64("seconds", duration).Int64("reward", reward).Msg("voice: session rewarded")
	return result, nil
}

// Reward считает награду за сессию: целые минуты, умноженные на ставку.
// Сессии короче минуты не награждаются.
func Reward(durationSeconds int64, cfg domain.RewardConfig) int64 {
	if !cfg.VoiceEnabled || durationSeconds < MinRewardedSeconds || cfg.VoicePerMinute <= 0 {
		return 0
	}
	return (durationSeconds / 60) * cfg.VoicePerMinute
}

// Stats возвращает статистику участника.
func (t *Tracker) Stats(ctx context.Context, guildID, userID string) (Stats, error) {
	count, seconds, err := t.sessions.VoiceTotals(ctx, guildID, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("статистика голоса: %w", err)
	}
	st := Stats{Sessions: count, TotalSeconds: seconds}
	open, err := t.sessions.OpenVoiceSession(ctx, guildID, userID)
	switch {
	case err == nil:
		st.Current = &open
	case !errors.Is(err, domain.ErrNotFound):
		return Stats{}, fmt.Errorf("поиск открытой сессии: %w", err)
	}
	return st, nil
}
