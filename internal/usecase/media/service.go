// Package media начисляет награды за публикацию медиа с учётом кулдауна.
package media

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"guild-rewards-bot/internal/domain"
	"guild-rewards-bot/internal/infra/metrics"
	"guild-rewards-bot/internal/usecase/cooldown"
)

// Crediter начисляет очки.
type Crediter interface {
	Credit(ctx context.Context, guildID, userID string, amount int64) (int64, error)
}

// CooldownGate отвечает на вопрос, можно ли сработать сейчас.
type CooldownGate interface {
	TryFire(ctx context.Context, guildID, subjectID, action string, window time.Duration, now time.Time) (bool, error)
	Release(ctx context.Context, guildID, subjectID, action string, firedAt time.Time) error
}

// Signal — сообщение с медиа-вложением.
type Signal struct {
	GuildID   string
	UserID    string
	ChannelID string
	MessageID string
	Category  domain.MediaCategory
}

// Stats — статистика медиа-публикаций участника.
type Stats struct {
	Submissions int
	TotalReward int64
}

// Gate обрабатывает медиа-сигналы. Каждый сигнал даёт ровно одну запись журнала.
type Gate struct {
	configs     domain.RewardConfigRepo
	submissions domain.MediaSubmissionRepo
	cooldowns   CooldownGate
	ledger      Crediter
	clock       domain.Clock
	log         zerolog.Logger
}

// NewGate создаёт гейт.
func NewGate(configs domain.RewardConfigRepo, submissions domain.MediaSubmissionRepo, cooldowns CooldownGate, ledger Crediter, clock domain.Clock, logger zerolog.Logger) *Gate {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Gate{
		configs:     configs,
		submissions: submissions,
		cooldowns:   cooldowns,
		ledger:      ledger,
		clock:       clock,
		log:         logger.With().Str("component", "media").Logger(),
	}
}

// OnMediaSignal проверяет настройки сервера и кулдаун, начисляет награду и
// записывает публикацию в журнал.
func (g *Gate) OnMediaSignal(ctx context.Context, sig Signal) (domain.MediaSubmission, error) {
	now := g.clock.Now()
	sub := domain.MediaSubmission{
		GuildID:         sig.GuildID,
		UserID:          sig.UserID,
		ChannelID:       sig.ChannelID,
		SourceMessageID: sig.MessageID,
		Category:        sig.Category,
		CreatedAt:       now,
	}
	if sub.Category == "" {
		sub.Category = domain.MediaUnknown
	}

	cfg, err := g.configs.GetOrCreateRewardConfig(ctx, sig.GuildID)
	if err != nil {
		return domain.MediaSubmission{}, fmt.Errorf("настройки наград: %w", err)
	}

	if cfg.MediaEnabled && cfg.MediaAmount > 0 && cfg.MediaChannelAllowed(sig.ChannelID) {
		fired, err := g.cooldowns.TryFire(ctx, sig.GuildID, sig.UserID, cooldown.ActionMedia, cfg.MediaCooldown(), now)
		if err != nil {
			return domain.MediaSubmission{}, err
		}
		if fired {
			if _, err := g.ledger.Credit(ctx, sig.GuildID, sig.UserID, cfg.MediaAmount); err != nil {
				g.log.Error().Err(err).Str("guild", sig.GuildID).Str("user", sig.UserID).Msg("media: reward credit failed")
				// Окно не должно сгореть без награды.
				if err := g.cooldowns.Release(ctx, sig.GuildID, sig.UserID, cooldown.ActionMedia, now); err != nil {
					g.log.Error().Err(err).Str("guild", sig.GuildID).Str("user", sig.UserID).Msg("media: cooldown release failed")
				}
			} else {
				sub.RewardGranted = true
				sub.RewardAmount = cfg.MediaAmount
				metrics.ObserveReward("media", cfg.MediaAmount)
			}
		}
	}

	saved, err := g.submissions.CreateMediaSubmission(ctx, sub)
	if err != nil {
		return domain.MediaSubmission{}, fmt.Errorf("сохранение публикации: %w", err)
	}
	g.log.Debug().Str("guild", sig.GuildID).Str("user", sig.UserID).Str("message", sig.MessageID).Bool("granted", saved.RewardGranted).Msg("media: submission recorded")
	return saved, nil
}

// Stats возвращает статистику участника.
func (g *Gate) Stats(ctx context.Context, guildID, userID string) (Stats, error) {
	count, reward, err := g.submissions.MediaTotals(ctx, guildID, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("статистика медиа: %w", err)
	}
	return Stats{Submissions: count, TotalReward: reward}, nil
}
