// Package points реализует журнал очков участников сервера.
package points

import (
	"context"
	"fmt"

	"guild-rewards-bot/internal/domain"
)

const (
	// DefaultLeaderboardLimit — размер таблицы лидеров по умолчанию.
	DefaultLeaderboardLimit = 10
	// MaxLeaderboardLimit — максимальный размер таблицы лидеров.
	MaxLeaderboardLimit = 25
)

// Ledger изменяет балансы. Атомарность каждой операции обеспечивает репозиторий.
type Ledger struct {
	repo domain.BalanceRepo
}

// NewLedger создаёт журнал.
func NewLedger(repo domain.BalanceRepo) *Ledger {
	return &Ledger{repo: repo}
}

// Credit начисляет amount > 0 очков и возвращает новый баланс.
func (l *Ledger) Credit(ctx context.Context, guildID, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	balance, err := l.repo.AddPoints(ctx, guildID, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("начисление очков: %w", err)
	}
	return balance, nil
}

// Debit списывает amount > 0 очков; баланс не опускается ниже нуля.
func (l *Ledger) Debit(ctx context.Context, guildID, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	balance, err := l.repo.AddPoints(ctx, guildID, userID, -amount)
	if err != nil {
		return 0, fmt.Errorf("списание очков: %w", err)
	}
	return balance, nil
}

// Set устанавливает баланс value >= 0.
func (l *Ledger) Set(ctx context.Context, guildID, userID string, value int64) (int64, error) {
	if value < 0 {
		return 0, domain.ErrInvalidAmount
	}
	balance, err := l.repo.SetPoints(ctx, guildID, userID, value)
	if err != nil {
		return 0, fmt.Errorf("установка очков: %w", err)
	}
	return balance, nil
}

// Read возвращает баланс; отсутствующий баланс равен нулю.
func (l *Ledger) Read(ctx context.Context, guildID, userID string) (int64, error) {
	balance, err := l.repo.GetPoints(ctx, guildID, userID)
	if err != nil {
		return 0, fmt.Errorf("чтение очков: %w", err)
	}
	return balance, nil
}

// ResetAll обнуляет балансы всех участников сервера и возвращает число затронутых.
func (l *Ledger) ResetAll(ctx context.Context, guildID string) (int64, error) {
	n, err := l.repo.ResetGuildPoints(ctx, guildID)
	if err != nil {
		return 0, fmt.Errorf("сброс очков: %w", err)
	}
	return n, nil
}

// Leaderboard возвращает участников с наибольшим балансом.
func (l *Ledger) Leaderboard(ctx context.Context, guildID string, limit int) ([]domain.Balance, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	limit = min(limit, MaxLeaderboardLimit)
	top, err := l.repo.TopBalances(ctx, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("таблица лидеров: %w", err)
	}
	return top, nil
}
