// Package discord связывает доменные компоненты с Discord через discordgo:
// REST-вызовы для отправки сообщений и обработчики событий gateway.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"guild-rewards-bot/internal/domain"
	"guild-rewards-bot/internal/infra/metrics"
	"guild-rewards-bot/internal/usecase/starboard"
)

// Sink реализует domain.MessagingSink поверх REST API Discord.
type Sink struct {
	session *discordgo.Session
}

var _ domain.MessagingSink = (*Sink)(nil)

// NewSink создаёт sink. Сессии не нужно открытое gateway-соединение.
func NewSink(session *discordgo.Session) *Sink {
	return &Sink{session: session}
}

// NewSession создаёт сессию бота по токену.
func NewSession(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent
	return s, nil
}

// Send реализует domain.MessagingSink.
func (s *Sink) Send(ctx context.Context, channelID string, msg domain.OutboundMessage) (string, error) {
	start := time.Now()
	sent, err := s.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: FitContent(msg.Content),
		Embeds:  toEmbeds(msg.Embeds),
	}, discordgo.WithContext(ctx))
	metrics.ObserveNetworkRequest("discord", "message_send", "channels", start, err)
	if err != nil {
		return "", mapError(err)
	}
	return sent.ID, nil
}

// Edit реализует domain.MessagingSink.
func (s *Sink) Edit(ctx context.Context, channelID, messageID string, msg domain.OutboundMessage) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).
		SetContent(FitContent(msg.Content)).
		SetEmbeds(toEmbeds(msg.Embeds))
	start := time.Now()
	_, err := s.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	metrics.ObserveNetworkRequest("discord", "message_edit", "channels", start, err)
	return mapError(err)
}

// FetchMessage реализует domain.MessagingSink.
func (s *Sink) FetchMessage(ctx context.Context, channelID, messageID string) (domain.SourceMessage, error) {
	m, err := s.message(ctx, channelID, messageID)
	if err != nil {
		return domain.SourceMessage{}, err
	}
	return toSourceMessage(m), nil
}

// FetchChannel реализует domain.MessagingSink.
func (s *Sink) FetchChannel(ctx context.Context, channelID string) (domain.ChannelInfo, error) {
	start := time.Now()
	ch, err := s.session.Channel(channelID, discordgo.WithContext(ctx))
	metrics.ObserveNetworkRequest("discord", "channel_get", "channels", start, err)
	if err != nil {
		return domain.ChannelInfo{}, mapError(err)
	}
	return domain.ChannelInfo{
		ID:      ch.ID,
		GuildID: ch.GuildID,
		Name:    ch.Name,
		Text:    ch.Type == discordgo.ChannelTypeGuildText || ch.Type == discordgo.ChannelTypeGuildNews,
	}, nil
}

// CountReactions возвращает текущее число реакций emoji на сообщении.
func (s *Sink) CountReactions(ctx context.Context, channelID, messageID, emoji string) (int, error) {
	m, err := s.message(ctx, channelID, messageID)
	if err != nil {
		return 0, err
	}
	return ReactionCount(m, emoji), nil
}

func (s *Sink) message(ctx context.Context, channelID, messageID string) (*discordgo.Message, error) {
	start := time.Now()
	m, err := s.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	metrics.ObserveNetworkRequest("discord", "message_get", "channels", start, err)
	if err != nil {
		return nil, mapError(err)
	}
	return m, nil
}

// ReactionCount ищет реакцию по ключу эмодзи без учёта variation selector.
func ReactionCount(m *discordgo.Message, emoji string) int {
	want := starboard.NormalizeEmoji(emoji)
	for _, r := range m.Reactions {
		if r == nil || r.Emoji == nil {
			continue
		}
		if starboard.NormalizeEmoji(EmojiKey(*r.Emoji)) == want {
			return r.Count
		}
	}
	return 0
}

// EmojiKey возвращает ключ эмодзи в том виде, в котором его вводят в настройках:
// сам символ для unicode и <:name:id> для эмодзи сервера.
func EmojiKey(e discordgo.Emoji) string {
	return e.MessageFormat()
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
	return err
}

func toEmbeds(embeds []domain.Embed) []*discordgo.MessageEmbed {
	if len(embeds) == 0 {
		return nil
	}
	out := make([]*discordgo.MessageEmbed, 0, len(embeds))
	for _, e := range embeds {
		me := &discordgo.MessageEmbed{
			Title:       e.Title,
			Description: e.Description,
			URL:         e.URL,
			Color:       e.Color,
		}
		if e.AuthorName != "" {
			me.Author = &discordgo.MessageEmbedAuthor{Name: e.AuthorName, URL: e.AuthorURL, IconURL: e.AuthorIconURL}
		}
		for _, f := range e.Fields {
			me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		if e.ImageURL != "" {
			me.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
		}
		if e.Footer != "" {
			me.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
		}
		if !e.Timestamp.IsZero() {
			me.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
		}
		out = append(out, me)
	}
	return out
}

func toSourceMessage(m *discordgo.Message) domain.SourceMessage {
	src := domain.SourceMessage{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		CreatedAt: m.Timestamp,
	}
	if m.Author != nil {
		src.AuthorID = m.Author.ID
		src.AuthorName = m.Author.Username
		if m.Author.GlobalName != "" {
			src.AuthorName = m.Author.GlobalName
		}
		src.AuthorAvatarURL = m.Author.AvatarURL("128")
	}
	for _, a := range m.Attachments {
		if a != nil && domain.MediaCategoryFromContentType(a.ContentType) == domain.MediaImage {
			src.ImageURL = a.URL
			break
		}
	}
	return src
}
