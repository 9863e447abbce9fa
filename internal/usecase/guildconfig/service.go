// Package guildconfig управляет настройками сервера: подписками на репозитории,
// наградами и старбордом.
package guildconfig

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"guild-rewards-bot/internal/domain"
)

// ErrNotTextChannel возвращается, если канал ленты не текстовый или с другого сервера.
var ErrNotTextChannel = fmt.Errorf("%w: starboard channel must be a text channel of this guild", domain.ErrInvalidConfig)

// Repo — хранилище, которое нужно сервису настроек.
type Repo interface {
	domain.SubscriptionRepo
	domain.RewardConfigRepo
	domain.StarboardRepo
}

// Service управляет настройками сервера.
type Service struct {
	repo  Repo
	sink  domain.MessagingSink
	clock domain.Clock
	log   zerolog.Logger
}

// NewService создаёт сервис настроек.
func NewService(repo Repo, sink domain.MessagingSink, clock domain.Clock, logger zerolog.Logger) *Service {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Service{repo: repo, sink: sink, clock: clock, log: logger.With().Str("component", "guildconfig").Logger()}
}

// SetSubscription создаёт или перенастраивает подписку репозитория на канал сервера.
// У репозитория одна подписка: повторная настройка заменяет канал и список событий.
func (s *Service) SetSubscription(ctx context.Context, guildID, repository, channelID, events string) (domain.RepoSubscription, error) {
	repo, err := domain.NormalizeRepository(repository)
	if err != nil {
		return domain.RepoSubscription{}, err
	}
	normalized, err := domain.NormalizeEvents(events)
	if err != nil {
		return domain.RepoSubscription{}, err
	}
	if strings.TrimSpace(channelID) == "" {
		return domain.RepoSubscription{}, fmt.Errorf("%w: channel is required", domain.ErrInvalidConfig)
	}
	sub := domain.RepoSubscription{
		GuildID:    guildID,
		Repository: repo,
		ChannelID:  channelID,
		Events:     normalized,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.repo.UpsertSubscription(ctx, sub); err != nil {
		return domain.RepoSubscription{}, fmt.Errorf("сохранение подписки: %w", err)
	}
	s.log.Info().Str("guild", guildID).Str("repository", repo).Str("events", normalized).Msg("guildconfig: subscription saved")
	return sub, nil
}

// ListSubscriptions возвращает подписки сервера.
func (s *Service) ListSubscriptions(ctx context.Context, guildID string) ([]domain.RepoSubscription, error) {
	subs, err := s.repo.ListSubscriptions(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("получение подписок: %w", err)
	}
	return subs, nil
}

// RemoveSubscription удаляет подписку сервера на репозиторий.
func (s *Service) RemoveSubscription(ctx context.Context, guildID, repository string) (bool, error) {
	repo, err := domain.NormalizeRepository(repository)
	if err != nil {
		return false, err
	}
	removed, err := s.repo.DeleteSubscription(ctx, guildID, repo)
	if err != nil {
		return false, fmt.Errorf("удаление подписки: %w", err)
	}
	return removed, nil
}

// RewardConfig возвращает настройки наград, создавая значения по умолчанию.
func (s *Service) RewardConfig(ctx context.Context, guildID string) (domain.RewardConfig, error) {
	cfg, err := s.repo.GetOrCreateRewardConfig(ctx, guildID)
	if err != nil {
		return domain.RewardConfig{}, fmt.Errorf("настройки наград: %w", err)
	}
	return cfg, nil
}

// UpdateRewardConfig применяет только переданные поля.
func (s *Service) UpdateRewardConfig(ctx context.Context, guildID string, patch domain.RewardConfigPatch) (domain.RewardConfig, error) {
	cfg, err := s.RewardConfig(ctx, guildID)
	if err != nil {
		return domain.RewardConfig{}, err
	}
	if patch.Empty() {
		return cfg, nil
	}
	updated := cfg.Apply(patch)
	if err := updated.Validate(); err != nil {
		return domain.RewardConfig{}, err
	}
	if err := s.repo.SaveRewardConfig(ctx, updated); err != nil {
		return domain.RewardConfig{}, fmt.Errorf("сохранение настроек наград: %w", err)
	}
	return updated, nil
}

// SetMediaChannel добавляет канал в allow-list медиа-наград или убирает его оттуда.
func (s *Service) SetMediaChannel(ctx context.Context, guildID, channelID string, enabled bool) (domain.RewardConfig, error) {
	cfg, err := s.RewardConfig(ctx, guildID)
	if err != nil {
		return domain.RewardConfig{}, err
	}
	idx := slices.Index(cfg.MediaChannels, channelID)
	switch {
	case enabled && idx < 0:
		cfg.MediaChannels = append(cfg.MediaChannels, channelID)
	case !enabled && idx >= 0:
		cfg.MediaChannels = slices.Delete(cfg.MediaChannels, idx, idx+1)
	default:
		return cfg, nil
	}
	if err := s.repo.SaveRewardConfig(ctx, cfg); err != nil {
		return domain.RewardConfig{}, fmt.Errorf("сохранение настроек наград: %w", err)
	}
	return cfg, nil
}

// SetupStarboard включает старборд в текстовом канале сервера.
// Нулевой threshold и пустой emoji заменяются значениями по умолчанию.
func (s *Service) SetupStarboard(ctx context.Context, guildID, channelID string, threshold int, emoji string) (domain.StarboardConfig, error) {
	if threshold < 0 {
		return domain.StarboardConfig{}, fmt.Errorf("%w: threshold must be positive", domain.ErrInvalidConfig)
	}
	if threshold == 0 {
		threshold = domain.DefaultStarThreshold
	}
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		emoji = domain.DefaultStarEmoji
	}
	ch, err := s.sink.FetchChannel(ctx, channelID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.StarboardConfig{}, ErrNotTextChannel
	}
	if err != nil {
		return domain.StarboardConfig{}, fmt.Errorf("проверка канала: %w", err)
	}
	if !ch.Text || (ch.GuildID != "" && ch.GuildID != guildID) {
		return domain.StarboardConfig{}, ErrNotTextChannel
	}
	cfg := domain.StarboardConfig{
		GuildID:   guildID,
		ChannelID: channelID,
		Threshold: threshold,
		Emoji:     emoji,
		Enabled:   true,
	}
	if err := s.repo.SaveStarboardConfig(ctx, cfg); err != nil {
		return domain.StarboardConfig{}, fmt.Errorf("сохранение старборда: %w", err)
	}
	s.log.Info().Str("guild", guildID).Str("channel", channelID).Int("threshold", threshold).Msg("guildconfig: starboard enabled")
	return cfg, nil
}

// DisableStarboard выключает старборд и сообщает, был ли он включён.
func (s *Service) DisableStarboard(ctx context.Context, guildID string) (bool, error) {
	cfg, err := s.repo.GetStarboardConfig(ctx, guildID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("настройки старборда: %w", err)
	}
	if !cfg.Enabled {
		return false, nil
	}
	cfg.Enabled = false
	if err := s.repo.SaveStarboardConfig(ctx, cfg); err != nil {
		return false, fmt.Errorf("сохранение старборда: %w", err)
	}
	return true, nil
}

// StarboardStatus возвращает настройки старборда; ErrNotFound, если он не настраивался.
func (s *Service) StarboardStatus(ctx context.Context, guildID string) (domain.StarboardConfig, error) {
	return s.repo.GetStarboardConfig(ctx, guildID)
}
