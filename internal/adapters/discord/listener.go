package discord

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"guild-rewards-bot/internal/domain"
	"guild-rewards-bot/internal/usecase/media"
	"guild-rewards-bot/internal/usecase/starboard"
	"guild-rewards-bot/internal/usecase/voice"
)

const handlerTimeout = 15 * time.Second

// VoiceTracker принимает сигналы присутствия в голосовых каналах.
type VoiceTracker interface {
	OnVoiceJoin(ctx context.Context, guildID, userID, channelID string) (domain.VoiceSession, error)
	OnVoiceSwitch(ctx context.Context, guildID, userID, channelID string) (domain.VoiceSession, error)
	OnVoiceLeave(ctx context.Context, guildID, userID string) (voice.Closed, error)
}

// MediaGate принимает сигналы о публикации медиа.
type MediaGate interface {
	OnMediaSignal(ctx context.Context, sig media.Signal) (domain.MediaSubmission, error)
}

// ReactionAggregator принимает изменения счётчика реакций.
type ReactionAggregator interface {
	OnReactionChange(ctx context.Context, ch starboard.Change) (starboard.Action, error)
}

// ReactionCounter пересчитывает реакции на сообщении.
type ReactionCounter interface {
	CountReactions(ctx context.Context, channelID, messageID, emoji string) (int, error)
}

// Listener переводит события gateway в вызовы доменных компонентов.
// discordgo вызывает обработчики в отдельных горутинах, поэтому события
// для разных ключей обрабатываются параллельно.
type Listener struct {
	voice     VoiceTracker
	media     MediaGate
	reactions ReactionAggregator
	counter   ReactionCounter
	log       zerolog.Logger
}

// NewListener создаёт обработчик событий.
func NewListener(tracker VoiceTracker, gate MediaGate, aggregator ReactionAggregator, counter ReactionCounter, logger zerolog.Logger) *Listener {
	return &Listener{
		voice:     tracker,
		media:     gate,
		reactions: aggregator,
		counter:   counter,
		log:       logger.With().Str("component", "gateway").Logger(),
	}
}

// Register подписывает обработчики на события сессии.
func (l *Listener) Register(s *discordgo.Session) {
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		l.HandleVoiceState(ctx, e.BeforeUpdate, e.VoiceState)
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageCreate) {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		l.HandleMessage(ctx, e.Message)
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageReactionAdd) {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		l.HandleReaction(ctx, e.MessageReaction)
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageReactionRemove) {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		l.HandleReaction(ctx, e.MessageReaction)
	})
}

// HandleVoiceState сравнивает канал до и после обновления.
// Смена mute/deaf без смены канала игнорируется.
func (l *Listener) HandleVoiceState(ctx context.Context, before, after *discordgo.VoiceState) {
	if after == nil || after.GuildID == "" || after.UserID == "" {
		return
	}
	if after.Member != nil && after.Member.User != nil && after.Member.User.Bot {
		return
	}
	prev := ""
	if before != nil {
		prev = before.ChannelID
	}
	log := l.log.With().Str("guild", after.GuildID).Str("user", after.UserID).Logger()

	var err error
	switch {
	case after.ChannelID == "":
		// Без закэшированного состояния сессия могла остаться с прошлого запуска.
		_, err = l.voice.OnVoiceLeave(ctx, after.GuildID, after.UserID)
	case prev == "":
		// Повторный join в тот же канал трекер считает no-op.
		_, err = l.voice.OnVoiceJoin(ctx, after.GuildID, after.UserID, after.ChannelID)
	case prev != after.ChannelID:
		_, err = l.voice.OnVoiceSwitch(ctx, after.GuildID, after.UserID, after.ChannelID)
	default:
		return
	}
	if err != nil {
		log.Error().Err(err).Str("channel", after.ChannelID).Msg("gateway: voice update failed")
	}
}

// HandleMessage регистрирует сообщение с медиа-вложением. Одно сообщение даёт
// один сигнал независимо от числа вложений.
func (l *Listener) HandleMessage(ctx context.Context, m *discordgo.Message) {
	if m == nil || m.GuildID == "" || m.Author == nil || m.Author.Bot {
		return
	}
	category := attachmentCategory(m.Attachments)
	if category == domain.MediaUnknown {
		return
	}
	_, err := l.media.OnMediaSignal(ctx, media.Signal{
		GuildID:   m.GuildID,
		UserID:    m.Author.ID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Category:  category,
	})
	if err != nil {
		l.log.Error().Err(err).Str("guild", m.GuildID).Str("user", m.Author.ID).Str("message", m.ID).Msg("gateway: media signal failed")
	}
}

// HandleReaction пересчитывает реакцию и передаёт итоговое число агрегатору.
// Добавление и снятие обрабатываются одинаково, поэтому счётчик идёт и вниз.
func (l *Listener) HandleReaction(ctx context.Context, r *discordgo.MessageReaction) {
	if r == nil || r.GuildID == "" {
		return
	}
	emoji := EmojiKey(r.Emoji)
	log := l.log.With().Str("guild", r.GuildID).Str("message", r.MessageID).Str("emoji", emoji).Logger()

	count, err := l.counter.CountReactions(ctx, r.ChannelID, r.MessageID, emoji)
	if err != nil {
		log.Warn().Err(err).Msg("gateway: reaction recount failed")
		return
	}
	action, err := l.reactions.OnReactionChange(ctx, starboard.Change{
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		Emoji:     emoji,
		Count:     count,
	})
	if err != nil {
		log.Error().Err(err).Msg("gateway: reaction change failed")
		return
	}
	log.Debug().Str("action", string(action)).Int("count", count).Msg("gateway: reaction processed")
}

func attachmentCategory(attachments []*discordgo.MessageAttachment) domain.MediaCategory {
	for _, a := range attachments {
		if a == nil {
			continue
		}
		if c := domain.MediaCategoryFromContentType(a.ContentType); c != domain.MediaUnknown {
			return c
		}
	}
	return domain.MediaUnknown
}
