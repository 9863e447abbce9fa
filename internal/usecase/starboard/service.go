// Package starboard продвигает сообщения, набравшие порог реакций, в ленту сервера.
package starboard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"guild-rewards-bot/internal/domain"
	"guild-rewards-bot/internal/infra/metrics"
)

// Action — решение по изменению числа реакций.
type Action string

const (
	ActionIgnored  Action = "ignored"
	ActionPromoted Action = "promoted"
	ActionUpdated  Action = "updated"
)

// Change — новое число реакций emoji на сообщении.
type Change struct {
	GuildID   string
	ChannelID string
	MessageID string
	Emoji     string
	Count     int
}

// Aggregator обрабатывает изменения реакций. Изменения одного ключа
// (guild, message, emoji) сериализуются, создание записи атомарно в хранилище.
type Aggregator struct {
	repo   domain.StarboardRepo
	sink   domain.MessagingSink
	locker domain.Locker
	clock  domain.Clock
	log    zerolog.Logger
}

// NewAggregator создаёт агрегатор.
func NewAggregator(repo domain.StarboardRepo, sink domain.MessagingSink, locker domain.Locker, clock domain.Clock, logger zerolog.Logger) *Aggregator {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Aggregator{
		repo:   repo,
		sink:   sink,
		locker: locker,
		clock:  clock,
		log:    logger.With().Str("component", "starboard").Logger(),
	}
}

// NormalizeEmoji убирает селектор варианта, чтобы "⭐" и "⭐️" совпадали.
func NormalizeEmoji(emoji string) string {
	return strings.ReplaceAll(strings.TrimSpace(emoji), "\ufe0f", "")
}

// OnReactionChange применяет новое число реакций. Продвижение монотонно:
// падение ниже порога не удаляет копию, а только обновляет счётчик.
func (a *Aggregator) OnReactionChange(ctx context.Context, ch Change) (Action, error) {
	action, err := a.apply(ctx, ch)
	if err == nil {
		metrics.IncStarboardAction(string(action))
	}
	return action, err
}

func (a *Aggregator) apply(ctx context.Context, ch Change) (Action, error) {
	cfg, err := a.repo.GetStarboardConfig(ctx, ch.GuildID)
	if errors.Is(err, domain.ErrNotFound) {
		return ActionIgnored, nil
	}
	if err != nil {
		return ActionIgnored, fmt.Errorf("настройки старборда: %w", err)
	}
	if !cfg.Enabled || cfg.ChannelID == "" || ch.ChannelID == cfg.ChannelID {
		return ActionIgnored, nil
	}
	emoji := NormalizeEmoji(ch.Emoji)
	if emoji != NormalizeEmoji(cfg.Emoji) {
		return ActionIgnored, nil
	}
	if ch.Count < 0 {
		ch.Count = 0
	}

	unlock, err := a.locker.Lock(ctx, "starboard:"+ch.GuildID+":"+ch.MessageID+":"+emoji)
	if err != nil {
		return ActionIgnored, fmt.Errorf("блокировка старборда: %w", err)
	}
	defer unlock()

	existing, err := a.repo.GetPromotedMessage(ctx, ch.GuildID, ch.MessageID, emoji)
	switch {
	case err == nil:
		return ActionUpdated, a.refresh(ctx, existing, ch.Count)
	case !errors.Is(err, domain.ErrNotFound):
		return ActionIgnored, fmt.Errorf("поиск продвинутого сообщения: %w", err)
	}

	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = domain.DefaultStarThreshold
	}
	if ch.Count < threshold {
		return ActionIgnored, nil
	}

	pm, inserted, err := a.repo.InsertPromotedMessageIfAbsent(ctx, domain.PromotedMessage{
		GuildID:              ch.GuildID,
		SourceChannelID:      ch.ChannelID,
		SourceMessageID:      ch.MessageID,
		EmojiKey:             emoji,
		TargetChannelID:      cfg.ChannelID,
		CurrentReactionCount: ch.Count,
		CreatedAt:            a.clock.Now(),
	})
	if err != nil {
		return ActionIgnored, fmt.Errorf("создание продвинутого сообщения: %w", err)
	}
	if !inserted {
		// Запись успел создать другой процесс.
		return ActionUpdated, a.refresh(ctx, pm, ch.Count)
	}
	a.post(ctx, pm, ch.Count)
	a.log.Info().Str("guild", ch.GuildID).Str("message", ch.MessageID).Int("count", ch.Count).Msg("starboard: message promoted")
	return ActionPromoted, nil
}

// refresh обновляет счётчик и копию. Если копия ещё не опубликована, публикует её.
func (a *Aggregator) refresh(ctx context.Context, pm domain.PromotedMessage, count int) error {
	if err := a.repo.UpdatePromotedMessage(ctx, pm.ID, count, ""); err != nil {
		return fmt.Errorf("обновление продвинутого сообщения: %w", err)
	}
	if !pm.Posted() {
		a.post(ctx, pm, count)
		return nil
	}
	source := a.source(ctx, pm)
	err := a.sink.Edit(ctx, pm.TargetChannelID, pm.TargetMessageID, Render(pm, source, count))
	if err != nil {
		a.log.Warn().Err(err).Str("guild", pm.GuildID).Str("target", pm.TargetMessageID).Msg("starboard: edit promoted copy failed")
	}
	return nil
}

// post публикует копию и сохраняет её идентификатор. Ошибка публикации не фатальна:
// запись остаётся без копии и следующий сигнал повторит публикацию.
func (a *Aggregator) post(ctx context.Context, pm domain.PromotedMessage, count int) {
	msgID, err := a.sink.Send(ctx, pm.TargetChannelID, Render(pm, a.source(ctx, pm), count))
	if err != nil {
		metrics.SinkSendErrors.Inc()
		a.log.Warn().Err(err).Str("guild", pm.GuildID).Str("message", pm.SourceMessageID).Msg("starboard: post promoted copy failed")
		return
	}
	if err := a.repo.UpdatePromotedMessage(ctx, pm.ID, count, msgID); err != nil {
		a.log.Error().Err(err).Int64("promoted", pm.ID).Str("target", msgID).Msg("starboard: save promoted copy id failed")
	}
}

func (a *Aggregator) source(ctx context.Context, pm domain.PromotedMessage) domain.SourceMessage {
	msg, err := a.sink.FetchMessage(ctx, pm.SourceChannelID, pm.SourceMessageID)
	if err != nil {
		a.log.Debug().Err(err).Str("message", pm.SourceMessageID).Msg("starboard: source message unavailable")
		return domain.SourceMessage{ID: pm.SourceMessageID, ChannelID: pm.SourceChannelID, GuildID: pm.GuildID}
	}
	return msg
}
