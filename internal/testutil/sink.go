package testutil

import (
	"context"
	"fmt"
	"sync"

	"guild-rewards-bot/internal/domain"
)

// SentMessage — запись об отправленном или отредактированном сообщении.
type SentMessage struct {
	ChannelID string
	MessageID string
	Message   domain.OutboundMessage
}

// Sink записывает все обращения к платформе. Ошибку можно включить через Fail.
type Sink struct {
	mu       sync.Mutex
	seq      int
	fail     error
	hang     bool
	Sent     []SentMessage
	Edited   []SentMessage
	Messages map[string]domain.SourceMessage
	Channels map[string]domain.ChannelInfo
}

// NewSink создаёт пустой sink.
func NewSink() *Sink {
	return &Sink{
		Messages: map[string]domain.SourceMessage{},
		Channels: map[string]domain.ChannelInfo{},
	}
}

// Fail заставляет Send и Edit возвращать err; nil снимает ошибку.
func (s *Sink) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// Hang заставляет Send ждать отмены ctx, как недоступная платформа.
func (s *Sink) Hang(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hang = on
}

// Send реализует domain.MessagingSink.
func (s *Sink) Send(ctx context.Context, channelID string, msg domain.OutboundMessage) (string, error) {
	s.mu.Lock()
	hang := s.hang
	s.mu.Unlock()
	if hang {
		<-ctx.Done()
		return "", ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", s.fail
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.seq++
	id := fmt.Sprintf("sent-%d", s.seq)
	s.Sent = append(s.Sent, SentMessage{ChannelID: channelID, MessageID: id, Message: msg})
	return id, nil
}

// Edit реализует domain.MessagingSink.
func (s *Sink) Edit(ctx context.Context, channelID, messageID string, msg domain.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.Edited = append(s.Edited, SentMessage{ChannelID: channelID, MessageID: messageID, Message: msg})
	return nil
}

// FetchMessage реализует domain.MessagingSink.
func (s *Sink) FetchMessage(_ context.Context, channelID, messageID string) (domain.SourceMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.Messages[channelID+"/"+messageID]
	if !ok {
		return domain.SourceMessage{}, domain.ErrNotFound
	}
	return msg, nil
}

// FetchChannel реализует domain.MessagingSink.
func (s *Sink) FetchChannel(_ context.Context, channelID string) (domain.ChannelInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.Channels[channelID]
	if !ok {
		return domain.ChannelInfo{}, domain.ErrNotFound
	}
	return ch, nil
}

// AddMessage регистрирует исходное сообщение для FetchMessage.
func (s *Sink) AddMessage(msg domain.SourceMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages[msg.ChannelID+"/"+msg.ID] = msg
}

// SentCount возвращает число успешных Send.
func (s *Sink) SentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Sent)
}

// EditCount возвращает число успешных Edit.
func (s *Sink) EditCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Edited)
}
