// Package memory содержит реализацию хранилища в памяти процесса.
// Используется в dev-режиме без Postgres и в тестах.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"guild-rewards-bot/internal/domain"
)

// Store реализует domain.Store. Все операции сериализованы одним мьютексом.
type Store struct {
	mu sync.Mutex

	seq int64

	sessions    []domain.VoiceSession
	balances    map[string]domain.Balance
	configs     map[string]domain.RewardConfig
	submissions []domain.MediaSubmission
	cooldowns   map[string]time.Time
	starboards  map[string]domain.StarboardConfig
	promoted    map[string]domain.PromotedMessage
	subs        map[string]domain.RepoSubscription
	pending     []domain.PendingExternalEvent
	claims      map[string]struct{}
}

var _ domain.Store = (*Store)(nil)

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		balances:   map[string]domain.Balance{},
		configs:    map[string]domain.RewardConfig{},
		cooldowns:  map[string]time.Time{},
		starboards: map[string]domain.StarboardConfig{},
		promoted:   map[string]domain.PromotedMessage{},
		subs:       map[string]domain.RepoSubscription{},
		claims:     map[string]struct{}{},
	}
}

func key(parts ...string) string {
	return strings.Join(parts, "\x00")
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// OpenVoiceSession реализует domain.VoiceSessionRepo.
func (s *Store) OpenVoiceSession(_ context.Context, guildID, userID string) (domain.VoiceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, vs := range s.sessions {
		if vs.GuildID == guildID && vs.UserID == userID && vs.Open() {
			return vs, nil
		}
	}
	return domain.VoiceSession{}, domain.ErrNotFound
}

// CreateVoiceSession реализует domain.VoiceSessionRepo.
func (s *Store) CreateVoiceSession(_ context.Context, vs domain.VoiceSession) (domain.VoiceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.GuildID == vs.GuildID && existing.UserID == vs.UserID && existing.Open() {
			return domain.VoiceSession{}, domain.ErrConflict
		}
	}
	vs.ID = s.nextID()
	vs.LeftAt = nil
	vs.DurationSeconds = nil
	s.sessions = append(s.sessions, vs)
	return vs, nil
}

// CloseVoiceSession реализует domain.VoiceSessionRepo.
func (s *Store) CloseVoiceSession(_ context.Context, id int64, leftAt time.Time, durationSeconds int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		if s.sessions[i].ID != id {
			continue
		}
		if !s.sessions[i].Open() {
			return false, nil
		}
		left := leftAt
		dur := durationSeconds
		s.sessions[i].LeftAt = &left
		s.sessions[i].DurationSeconds = &dur
		return true, nil
	}
	return false, nil
}

// MarkVoiceRewardGranted реализует domain.VoiceSessionRepo.
func (s *Store) MarkVoiceRewardGranted(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		if s.sessions[i].ID == id && !s.sessions[i].RewardGranted {
			s.sessions[i].RewardGranted = true
			return true, nil
		}
	}
	return false, nil
}

// VoiceTotals реализует domain.VoiceSessionRepo.
func (s *Store) VoiceTotals(_ context.Context, guildID, userID string) (int, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		count   int
		seconds int64
	)
	for _, vs := range s.sessions {
		if vs.GuildID != guildID || vs.UserID != userID || vs.Open() {
			continue
		}
		count++
		if vs.DurationSeconds != nil {
			seconds += *vs.DurationSeconds
		}
	}
	return count, seconds, nil
}

// VoiceSessions возвращает копию всех сессий пары (guild, user). Нужна тестам.
func (s *Store) VoiceSessions(guildID, userID string) []domain.VoiceSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.VoiceSession
	for _, vs := range s.sessions {
		if vs.GuildID == guildID && vs.UserID == userID {
			out = append(out, vs)
		}
	}
	return out
}

// AddPoints реализует domain.BalanceRepo.
func (s *Store) AddPoints(_ context.Context, guildID, userID string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(guildID, userID)
	b := s.balances[k]
	b.GuildID, b.UserID = guildID, userID
	b.Points = max(b.Points+delta, 0)
	b.UpdatedAt = time.Now().UTC()
	s.balances[k] = b
	return b.Points, nil
}

// SetPoints реализует domain.BalanceRepo.
func (s *Store) SetPoints(_ context.Context, guildID, userID string, value int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value = max(value, 0)
	s.balances[key(guildID, userID)] = domain.Balance{GuildID: guildID, UserID: userID, Points: value, UpdatedAt: time.Now().UTC()}
	return value, nil
}

// GetPoints реализует domain.BalanceRepo.
func (s *Store) GetPoints(_ context.Context, guildID, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[key(guildID, userID)].Points, nil
}

// ResetGuildPoints реализует domain.BalanceRepo.
func (s *Store) ResetGuildPoints(_ context.Context, guildID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, b := range s.balances {
		if b.GuildID == guildID {
			b.Points = 0
			s.balances[k] = b
			n++
		}
	}
	return n, nil
}

// TopBalances реализует domain.BalanceRepo.
func (s *Store) TopBalances(_ context.Context, guildID string, limit int) ([]domain.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Balance
	for _, b := range s.balances {
		if b.GuildID == guildID && b.Points > 0 {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points == out[j].Points {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Points > out[j].Points
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetOrCreateRewardConfig реализует domain.RewardConfigRepo.
func (s *Store) GetOrCreateRewardConfig(_ context.Context, guildID string) (domain.RewardConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[guildID]
	if !ok {
		cfg = domain.DefaultRewardConfig(guildID)
		cfg.UpdatedAt = time.Now().UTC()
		s.configs[guildID] = cfg
	}
	cfg.MediaChannels = slices.Clone(cfg.MediaChannels)
	return cfg, nil
}

// SaveRewardConfig реализует domain.RewardConfigRepo.
func (s *Store) SaveRewardConfig(_ context.Context, cfg domain.RewardConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.MediaChannels = slices.Clone(cfg.MediaChannels)
	cfg.UpdatedAt = time.Now().UTC()
	s.configs[cfg.GuildID] = cfg
	return nil
}

// CreateMediaSubmission реализует domain.MediaSubmissionRepo.
func (s *Store) CreateMediaSubmission(_ context.Context, sub domain.MediaSubmission) (domain.MediaSubmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.ID = s.nextID()
	s.submissions = append(s.submissions, sub)
	return sub, nil
}

// MediaTotals реализует domain.MediaSubmissionRepo.
func (s *Store) MediaTotals(_ context.Context, guildID, userID string) (int, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		count  int
		reward int64
	)
	for _, sub := range s.submissions {
		if sub.GuildID == guildID && sub.UserID == userID {
			count++
			reward += sub.RewardAmount
		}
	}
	return count, reward, nil
}

// MediaSubmissions возвращает копию журнала публикаций пары (guild, user). Нужна тестам.
func (s *Store) MediaSubmissions(guildID, userID string) []domain.MediaSubmission {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MediaSubmission
	for _, sub := range s.submissions {
		if sub.GuildID == guildID && sub.UserID == userID {
			out = append(out, sub)
		}
	}
	return out
}

// AcquireCooldown реализует domain.CooldownRepo.
func (s *Store) AcquireCooldown(_ context.Context, guildID, subjectID, action string, now time.Time, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(guildID, subjectID, action)
	if last, ok := s.cooldowns[k]; ok && !last.Before(now.Add(-window)) {
		return false, nil
	}
	s.cooldowns[k] = now
	return true, nil
}

// ReleaseCooldown реализует domain.CooldownRepo.
func (s *Store) ReleaseCooldown(_ context.Context, guildID, subjectID, action string, firedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(guildID, subjectID, action)
	if last, ok := s.cooldowns[k]; ok && last.Equal(firedAt) {
		delete(s.cooldowns, k)
	}
	return nil
}

// GetStarboardConfig реализует domain.StarboardRepo.
func (s *Store) GetStarboardConfig(_ context.Context, guildID string) (domain.StarboardConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.starboards[guildID]
	if !ok {
		return domain.StarboardConfig{}, domain.ErrNotFound
	}
	return cfg, nil
}

// SaveStarboardConfig реализует domain.StarboardRepo.
func (s *Store) SaveStarboardConfig(_ context.Context, cfg domain.StarboardConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.UpdatedAt = time.Now().UTC()
	s.starboards[cfg.GuildID] = cfg
	return nil
}

// GetPromotedMessage реализует domain.StarboardRepo.
func (s *Store) GetPromotedMessage(_ context.Context, guildID, messageID, emoji string) (domain.PromotedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pm, ok := s.promoted[key(guildID, messageID, emoji)]
	if !ok {
		return domain.PromotedMessage{}, domain.ErrNotFound
	}
	return pm, nil
}

// InsertPromotedMessageIfAbsent реализует domain.StarboardRepo.
func (s *Store) InsertPromotedMessageIfAbsent(_ context.Context, pm domain.PromotedMessage) (domain.PromotedMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(pm.GuildID, pm.SourceMessageID, pm.EmojiKey)
	if existing, ok := s.promoted[k]; ok {
		return existing, false, nil
	}
	pm.ID = s.nextID()
	if pm.CreatedAt.IsZero() {
		pm.CreatedAt = time.Now().UTC()
	}
	pm.UpdatedAt = pm.CreatedAt
	s.promoted[k] = pm
	return pm, true, nil
}

// UpdatePromotedMessage реализует domain.StarboardRepo.
func (s *Store) UpdatePromotedMessage(_ context.Context, id int64, count int, targetMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, pm := range s.promoted {
		if pm.ID != id {
			continue
		}
		pm.CurrentReactionCount = count
		if targetMessageID != "" {
			pm.TargetMessageID = targetMessageID
		}
		pm.UpdatedAt = time.Now().UTC()
		s.promoted[k] = pm
		return nil
	}
	return domain.ErrNotFound
}

// PromotedCount возвращает число записей старборда сервера. Нужна тестам.
func (s *Store) PromotedCount(guildID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, pm := range s.promoted {
		if pm.GuildID == guildID {
			n++
		}
	}
	return n
}

// FindSubscription реализует domain.SubscriptionRepo.
func (s *Store) FindSubscription(_ context.Context, repository string) (domain.RepoSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[strings.ToLower(repository)]
	if !ok {
		return domain.RepoSubscription{}, domain.ErrNotFound
	}
	return sub, nil
}

// UpsertSubscription реализует domain.SubscriptionRepo.
func (s *Store) UpsertSubscription(_ context.Context, sub domain.RepoSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := strings.ToLower(sub.Repository)
	if existing, ok := s.subs[k]; ok {
		sub.CreatedAt = existing.CreatedAt
	} else if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	s.subs[k] = sub
	return nil
}

// ListSubscriptions реализует domain.SubscriptionRepo.
func (s *Store) ListSubscriptions(_ context.Context, guildID string) ([]domain.RepoSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RepoSubscription
	for _, sub := range s.subs {
		if sub.GuildID == guildID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Repository < out[j].Repository })
	return out, nil
}

// DeleteSubscription реализует domain.SubscriptionRepo.
func (s *Store) DeleteSubscription(_ context.Context, guildID, repository string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := strings.ToLower(repository)
	sub, ok := s.subs[k]
	if !ok || sub.GuildID != guildID {
		return false, nil
	}
	delete(s.subs, k)
	return true, nil
}

// EnqueuePendingEvent реализует domain.PendingEventRepo.
func (s *Store) EnqueuePendingEvent(_ context.Context, ev domain.PendingExternalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.Payload = slices.Clone(ev.Payload)
	s.pending = append(s.pending, ev)
	return nil
}

// ListPendingEvents реализует domain.PendingEventRepo.
func (s *Store) ListPendingEvents(_ context.Context, maxAttempts, limit int) ([]domain.PendingExternalEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PendingExternalEvent
	for _, ev := range s.pending {
		if ev.Processed || ev.Attempts >= maxAttempts {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetPendingEvent реализует domain.PendingEventRepo.
func (s *Store) GetPendingEvent(_ context.Context, id string) (domain.PendingExternalEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.pending {
		if ev.ID == id {
			return ev, nil
		}
	}
	return domain.PendingExternalEvent{}, domain.ErrNotFound
}

// IncrementPendingAttempts реализует domain.PendingEventRepo.
func (s *Store) IncrementPendingAttempts(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pending {
		if s.pending[i].ID == id {
			s.pending[i].Attempts++
			return s.pending[i].Attempts, nil
		}
	}
	return 0, domain.ErrNotFound
}

// MarkPendingProcessed реализует domain.PendingEventRepo.
func (s *Store) MarkPendingProcessed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pending {
		if s.pending[i].ID == id {
			processedAt := at
			s.pending[i].Processed = true
			s.pending[i].ProcessedAt = &processedAt
			s.pending[i].LastError = ""
			return nil
		}
	}
	return domain.ErrNotFound
}

// RecordPendingError реализует domain.PendingEventRepo.
func (s *Store) RecordPendingError(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pending {
		if s.pending[i].ID == id {
			s.pending[i].LastError = message
			return nil
		}
	}
	return domain.ErrNotFound
}

// PendingEvents возвращает копию очереди. Нужна тестам.
func (s *Store) PendingEvents() []domain.PendingExternalEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pending)
}

// Claim реализует domain.DeliveryDeduper.
func (s *Store) Claim(_ context.Context, k string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claims[k]; ok {
		return false, nil
	}
	s.claims[k] = struct{}{}
	return true, nil
}

// Release реализует domain.DeliveryDeduper.
func (s *Store) Release(_ context.Context, k string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, k)
	return nil
}
