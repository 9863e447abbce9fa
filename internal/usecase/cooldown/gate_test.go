package cooldown

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guild-rewards-bot/internal/adapters/memory"
)

func TestTryFireWindow(t *testing.T) {
	ctx := context.Background()
	g := NewGate(memory.NewStore())
	t0 := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)
	window := time.Hour

	ok, err := g.TryFire(ctx, "g", "u", ActionMedia, window, t0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = g.TryFire(ctx, "g", "u", ActionMedia, window, t0.Add(59*time.Minute))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = g.TryFire(ctx, "g", "other", ActionMedia, window, t0.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok, "cooldown is per subject")

	ok, err = g.TryFire(ctx, "g", "u", ActionMedia, window, t0.Add(61*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTryFireConcurrentSingleWinner(t *testing.T) {
	g := NewGate(memory.NewStore())
	now := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := g.TryFire(context.Background(), "g", "u", ActionMedia, time.Minute, now)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, wins.Load())
}

func TestReleaseOnlyUndoesOwnFiring(t *testing.T) {
	ctx := context.Background()
	g := NewGate(memory.NewStore())
	t0 := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)
	window := time.Hour

	ok, err := g.TryFire(ctx, "g", "u", ActionMedia, window, t0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, g.Release(ctx, "g", "u", ActionMedia, t0))

	t1 := t0.Add(time.Minute)
	ok, err = g.TryFire(ctx, "g", "u", ActionMedia, window, t1)
	require.NoError(t, err)
	require.True(t, ok, "released firing does not block the window")

	require.NoError(t, g.Release(ctx, "g", "u", ActionMedia, t0))
	ok, err = g.TryFire(ctx, "g", "u", ActionMedia, window, t1.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, ok, "stale release keeps the newer firing")
}
