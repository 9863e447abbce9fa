package domain

import (
	"slices"
	"strings"
	"time"
)

// VoiceSession описывает одно непрерывное пребывание пользователя в голосовом канале.
type VoiceSession struct {
	ID              int64
	GuildID         string
	UserID          string
	ChannelID       string
	JoinedAt        time.Time
	LeftAt          *time.Time
	DurationSeconds *int64
	RewardGranted   bool
}

// Open сообщает, что сессия ещё не закрыта.
func (s VoiceSession) Open() bool {
	return s.LeftAt == nil
}

// MediaCategory классифицирует вложение по content type.
type MediaCategory string

const (
	MediaImage   MediaCategory = "image"
	MediaVideo   MediaCategory = "video"
	MediaAudio   MediaCategory = "audio"
	MediaUnknown MediaCategory = "unknown"
)

// MediaCategoryFromContentType определяет категорию по MIME-типу вложения.
func MediaCategoryFromContentType(contentType string) MediaCategory {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return MediaImage
	case strings.HasPrefix(ct, "video/"):
		return MediaVideo
	case strings.HasPrefix(ct, "audio/"):
		return MediaAudio
	default:
		return MediaUnknown
	}
}

// MediaSubmission фиксирует одну публикацию медиа, проверенную на кулдаун.
type MediaSubmission struct {
	ID              int64
	GuildID         string
	UserID          string
	ChannelID       string
	SourceMessageID string
	Category        MediaCategory
	CreatedAt       time.Time
	RewardGranted   bool
	RewardAmount    int64
}

// RewardConfig хранит настройки наград сервера.
type RewardConfig struct {
	GuildID              string
	VoiceEnabled         bool
	VoicePerMinute       int64
	MediaEnabled         bool
	MediaAmount          int64
	MediaCooldownSeconds int64
	MediaChannels        []string
	UpdatedAt            time.Time
}

// DefaultRewardConfig возвращает настройки, создаваемые при первом обращении.
func DefaultRewardConfig(guildID string) RewardConfig {
	return RewardConfig{
		GuildID:              guildID,
		VoiceEnabled:         true,
		VoicePerMinute:       1,
		MediaEnabled:         true,
		MediaAmount:          5,
		MediaCooldownSeconds: 3600,
		MediaChannels:        []string{},
	}
}

// Validate проверяет, что суммы и окна неотрицательны.
func (c RewardConfig) Validate() error {
	if c.VoicePerMinute < 0 || c.MediaAmount < 0 || c.MediaCooldownSeconds < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// MediaCooldown возвращает окно кулдауна медиа-наград.
func (c RewardConfig) MediaCooldown() time.Duration {
	return time.Duration(c.MediaCooldownSeconds) * time.Second
}

// MediaChannelAllowed проверяет канал по allow-list; пустой список разрешает всё.
func (c RewardConfig) MediaChannelAllowed(channelID string) bool {
	if len(c.MediaChannels) == 0 {
		return true
	}
	return slices.Contains(c.MediaChannels, channelID)
}

// RewardConfigPatch содержит только изменяемые поля конфигурации.
type RewardConfigPatch struct {
	VoiceEnabled         *bool
	VoicePerMinute       *int64
	MediaEnabled         *bool
	MediaAmount          *int64
	MediaCooldownSeconds *int64
}

// Empty сообщает, что патч ничего не меняет.
func (p RewardConfigPatch) Empty() bool {
	return p.VoiceEnabled == nil && p.VoicePerMinute == nil && p.MediaEnabled == nil &&
		p.MediaAmount == nil && p.MediaCooldownSeconds == nil
}

// Apply возвращает копию конфигурации с применённым патчем.
func (c RewardConfig) Apply(p RewardConfigPatch) RewardConfig {
	out := c
	out.MediaChannels = slices.Clone(c.MediaChannels)
	if p.VoiceEnabled != nil {
		out.VoiceEnabled = *p.VoiceEnabled
	}
	if p.VoicePerMinute != nil {
		out.VoicePerMinute = *p.VoicePerMinute
	}
	if p.MediaEnabled != nil {
		out.MediaEnabled = *p.MediaEnabled
	}
	if p.MediaAmount != nil {
		out.MediaAmount = *p.MediaAmount
	}
	if p.MediaCooldownSeconds != nil {
		out.MediaCooldownSeconds = *p.MediaCooldownSeconds
	}
	return out
}

// Balance — очки пользователя на сервере.
type Balance struct {
	GuildID   string
	UserID    string
	Points    int64
	UpdatedAt time.Time
}

const (
	// DefaultStarThreshold — порог реакций по умолчанию.
	DefaultStarThreshold = 3
	// DefaultStarEmoji — эмодзи старборда по умолчанию.
	DefaultStarEmoji = "⭐"
)

// StarboardConfig хранит настройки старборда сервера.
type StarboardConfig struct {
	GuildID   string
	ChannelID string
	Threshold int
	Emoji     string
	Enabled   bool
	UpdatedAt time.Time
}

// PromotedMessage описывает сообщение, попавшее на старборд.
type PromotedMessage struct {
	ID                   int64
	GuildID              string
	SourceChannelID      string
	SourceMessageID      string
	EmojiKey             string
	TargetChannelID      string
	TargetMessageID      string
	CurrentReactionCount int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Posted сообщает, что копия уже опубликована в ленте.
func (p PromotedMessage) Posted() bool {
	return p.TargetMessageID != ""
}

// RepoSubscription связывает репозиторий с каналом уведомлений сервера.
type RepoSubscription struct {
	GuildID    string
	Repository string
	ChannelID  string
	Events     string
	CreatedAt  time.Time
}
