package points

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"guild-rewards-bot/internal/adapters/memory"
	"guild-rewards-bot/internal/domain"
)

func TestLedgerOperations(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(memory.NewStore())

	got, err := l.Read(ctx, "g", "u")
	require.NoError(t, err)
	require.Zero(t, got)

	got, err = l.Credit(ctx, "g", "u", 10)
	require.NoError(t, err)
	require.EqualValues(t, 10, got)

	got, err = l.Debit(ctx, "g", "u", 25)
	require.NoError(t, err)
	require.Zero(t, got, "debit is clamped at zero")

	got, err = l.Set(ctx, "g", "u", 42)
	require.NoError(t, err)
	require.EqualValues(t, 42, got)

	_, err = l.Credit(ctx, "g", "u", 0)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = l.Debit(ctx, "g", "u", -1)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = l.Set(ctx, "g", "u", -1)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = l.Credit(ctx, "g", "v", 7)
	require.NoError(t, err)
	_, err = l.Credit(ctx, "other", "u", 7)
	require.NoError(t, err)

	n, err := l.ResetAll(ctx, "g")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	got, err = l.Read(ctx, "g", "u")
	require.NoError(t, err)
	require.Zero(t, got)
	got, err = l.Read(ctx, "other", "u")
	require.NoError(t, err)
	require.EqualValues(t, 7, got)
}

func TestLedgerConcurrentCredits(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(memory.NewStore())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Credit(ctx, "g", "u", 1)
		}()
	}
	wg.Wait()

	got, err := l.Read(ctx, "g", "u")
	require.NoError(t, err)
	require.EqualValues(t, 100, got)
}

func TestLeaderboard(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(memory.NewStore())
	for i := 1; i <= 30; i++ {
		_, err := l.Credit(ctx, "g", "u"+strconv.Itoa(i), int64(i))
		require.NoError(t, err)
	}

	top, err := l.Leaderboard(ctx, "g", 0)
	require.NoError(t, err)
	require.Len(t, top, DefaultLeaderboardLimit)
	require.Equal(t, "u30", top[0].UserID)

	top, err = l.Leaderboard(ctx, "g", 100)
	require.NoError(t, err)
	require.Len(t, top, MaxLeaderboardLimit)
}
