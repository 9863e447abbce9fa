// Package cooldown ограничивает частоту наградных действий.
package cooldown

import (
	"context"
	"fmt"
	"time"

	"guild-rewards-bot/internal/domain"
)

// ActionMedia — действие «публикация медиа».
const ActionMedia = "media"

// Gate отвечает, срабатывало ли действие субъекта в пределах окна, и фиксирует срабатывание.
// Состояние хранится только в репозитории, поэтому Gate можно делить между горутинами.
type Gate struct {
	repo domain.CooldownRepo
}

// NewGate создаёт гейт.
func NewGate(repo domain.CooldownRepo) *Gate {
	return &Gate{repo: repo}
}

// TryFire возвращает true, если предыдущего срабатывания в окне [now-window, now] нет,
// и атомарно записывает новое срабатывание.
func (g *Gate) TryFire(ctx context.Context, guildID, subjectID, action string, window time.Duration, now time.Time) (bool, error) {
	if window < 0 {
		window = 0
	}
	ok, err := g.repo.AcquireCooldown(ctx, guildID, subjectID, action, now, window)
	if err != nil {
		return false, fmt.Errorf("cooldown %s/%s/%s: %w", guildID, subjectID, action, err)
	}
	return ok, nil
}

// Release отменяет срабатывание в момент firedAt, например если награда не начислилась.
// Более позднее срабатывание не трогается.
func (g *Gate) Release(ctx context.Context, guildID, subjectID, action string, firedAt time.Time) error {
	if err := g.repo.ReleaseCooldown(ctx, guildID, subjectID, action, firedAt); err != nil {
		return fmt.Errorf("cooldown release %s/%s/%s: %w", guildID, subjectID, action, err)
	}
	return nil
}
