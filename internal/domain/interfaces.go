package domain

import (
	"context"
	"time"
)

// Clock возвращает текущее время; подменяется в тестах.
type Clock interface {
	Now() time.Time
}

// SystemClock — часы реального времени в UTC.
type SystemClock struct{}

// Now реализует Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Locker сериализует обработку сигналов с одинаковым ключом.
type Locker interface {
	// Lock блокирует ключ и возвращает функцию освобождения.
	Lock(ctx context.Context, key string) (func(), error)
}

// EmbedField — поле карточки сообщения.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed — карточка сообщения, не зависящая от SDK платформы.
type Embed struct {
	Title         string
	Description   string
	URL           string
	Color         int
	AuthorName    string
	AuthorURL     string
	AuthorIconURL string
	Fields        []EmbedField
	ImageURL      string
	Footer        string
	Timestamp     time.Time
}

// OutboundMessage — сообщение для отправки в канал.
type OutboundMessage struct {
	Content string
	Embeds  []Embed
}

// SourceMessage — сообщение платформы, полученное через fetchEntity.
type SourceMessage struct {
	ID              string
	ChannelID       string
	GuildID         string
	AuthorID        string
	AuthorName      string
	AuthorAvatarURL string
	Content         string
	ImageURL        string
	CreatedAt       time.Time
}

// ChannelInfo — описание канала платформы.
type ChannelInfo struct {
	ID      string
	GuildID string
	Name    string
	Text    bool
}

// MessagingSink отправляет и читает сообщения платформы.
// Все методы возвращают ErrNotFound, если сущность не существует.
type MessagingSink interface {
	Send(ctx context.Context, channelID string, msg OutboundMessage) (string, error)
	Edit(ctx context.Context, channelID, messageID string, msg OutboundMessage) error
	FetchMessage(ctx context.Context, channelID, messageID string) (SourceMessage, error)
	FetchChannel(ctx context.Context, channelID string) (ChannelInfo, error)
}

// VoiceSessionRepo хранит голосовые сессии.
type VoiceSessionRepo interface {
	// OpenVoiceSession возвращает открытую сессию пары (guild, user) или ErrNotFound.
	OpenVoiceSession(ctx context.Context, guildID, userID string) (VoiceSession, error)
	// CreateVoiceSession создаёт открытую сессию; ErrConflict, если открытая уже есть.
	CreateVoiceSession(ctx context.Context, s VoiceSession) (VoiceSession, error)
	// CloseVoiceSession закрывает сессию, только если она ещё открыта.
	CloseVoiceSession(ctx context.Context, id int64, leftAt time.Time, durationSeconds int64) (bool, error)
	// MarkVoiceRewardGranted выставляет флаг награды, только если он ещё не выставлен.
	MarkVoiceRewardGranted(ctx context.Context, id int64) (bool, error)
	VoiceTotals(ctx context.Context, guildID, userID string) (sessions int, seconds int64, err error)
}

// BalanceRepo хранит очки. Все изменения атомарны по ключу (guild, user).
type BalanceRepo interface {
	// AddPoints прибавляет delta (может быть отрицательной) с отсечкой по нулю.
	AddPoints(ctx context.Context, guildID, userID string, delta int64) (int64, error)
	SetPoints(ctx context.Context, guildID, userID string, value int64) (int64, error)
	GetPoints(ctx context.Context, guildID, userID string) (int64, error)
	ResetGuildPoints(ctx context.Context, guildID string) (int64, error)
	TopBalances(ctx context.Context, guildID string, limit int) ([]Balance, error)
}

// RewardConfigRepo хранит настройки наград.
type RewardConfigRepo interface {
	// GetOrCreateRewardConfig возвращает настройки, создавая значения по умолчанию.
	GetOrCreateRewardConfig(ctx context.Context, guildID string) (RewardConfig, error)
	SaveRewardConfig(ctx context.Context, cfg RewardConfig) error
}

// MediaSubmissionRepo хранит журнал медиа-публикаций.
type MediaSubmissionRepo interface {
	CreateMediaSubmission(ctx context.Context, s MediaSubmission) (MediaSubmission, error)
	MediaTotals(ctx context.Context, guildID, userID string) (count int, reward int64, err error)
}

// CooldownRepo хранит последние срабатывания действий.
type CooldownRepo interface {
	// AcquireCooldown атомарно фиксирует срабатывание, если предыдущее было раньше now-window.
	AcquireCooldown(ctx context.Context, guildID, subjectID, action string, now time.Time, window time.Duration) (bool, error)
	// ReleaseCooldown снимает срабатывание firedAt, если его ещё не перезаписали.
	ReleaseCooldown(ctx context.Context, guildID, subjectID, action string, firedAt time.Time) error
}

// StarboardRepo хранит настройки старборда и продвинутые сообщения.
type StarboardRepo interface {
	GetStarboardConfig(ctx context.Context, guildID string) (StarboardConfig, error)
	SaveStarboardConfig(ctx context.Context, cfg StarboardConfig) error
	GetPromotedMessage(ctx context.Context, guildID, messageID, emoji string) (PromotedMessage, error)
	// InsertPromotedMessageIfAbsent вставляет запись, если её ещё нет;
	// иначе возвращает существующую и false.
	InsertPromotedMessageIfAbsent(ctx context.Context, pm PromotedMessage) (PromotedMessage, bool, error)
	// UpdatePromotedMessage обновляет счётчик; пустой targetMessageID не меняет ссылку на копию.
	UpdatePromotedMessage(ctx context.Context, id int64, count int, targetMessageID string) error
}

// SubscriptionRepo хранит подписки на события репозиториев.
type SubscriptionRepo interface {
	FindSubscription(ctx context.Context, repository string) (RepoSubscription, error)
	UpsertSubscription(ctx context.Context, sub RepoSubscription) error
	ListSubscriptions(ctx context.Context, guildID string) ([]RepoSubscription, error)
	DeleteSubscription(ctx context.Context, guildID, repository string) (bool, error)
}

// Store объединяет все репозитории.
type Store interface {
	VoiceSessionRepo
	BalanceRepo
	RewardConfigRepo
	MediaSubmissionRepo
	CooldownRepo
	StarboardRepo
	SubscriptionRepo
	PendingEventRepo
	DeliveryDeduper
}
