package starboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"guild-rewards-bot/internal/adapters/memory"
	"guild-rewards-bot/internal/domain"
	"guild-rewards-bot/internal/infra/lock"
	"guild-rewards-bot/internal/testutil"
)

func newAggregator(t *testing.T) (*Aggregator, *memory.Store, *testutil.Sink) {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.SaveStarboardConfig(context.Background(), domain.StarboardConfig{
		GuildID:   "g",
		ChannelID: "board",
		Threshold: 3,
		Emoji:     domain.DefaultStarEmoji,
		Enabled:   true,
	}))
	sink := testutil.NewSink()
	sink.AddMessage(domain.SourceMessage{ID: "m", ChannelID: "c", GuildID: "g", AuthorName: "alice", Content: "hello"})
	clock := testutil.NewClock(time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC))
	return NewAggregator(store, sink, lock.NewKeyed(), clock, zerolog.Nop()), store, sink
}

func change(count int) Change {
	return Change{GuildID: "g", ChannelID: "c", MessageID: "m", Emoji: domain.DefaultStarEmoji, Count: count}
}

func TestPromotionIsMonotonic(t *testing.T) {
	ctx := context.Background()
	a, store, sink := newAggregator(t)

	for _, tc := range []struct {
		count int
		want  Action
	}{
		{1, ActionIgnored},
		{2, ActionIgnored},
		{3, ActionPromoted},
		{4, ActionUpdated},
		{1, ActionUpdated},
		{0, ActionUpdated},
		{5, ActionUpdated},
	} {
		got, err := a.OnReactionChange(ctx, change(tc.count))
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "count %d", tc.count)
	}

	require.Equal(t, 1, store.PromotedCount("g"))
	require.Equal(t, 1, sink.SentCount())
	require.Equal(t, 4, sink.EditCount())

	pm, err := store.GetPromotedMessage(ctx, "g", "m", domain.DefaultStarEmoji)
	require.NoError(t, err)
	require.Equal(t, 5, pm.CurrentReactionCount)
	require.Equal(t, "sent-1", pm.TargetMessageID)
	require.Contains(t, sink.Sent[0].Message.Content, "**3**")
	require.Equal(t, "hello", sink.Sent[0].Message.Embeds[0].Description)
}

func TestIgnoredReactions(t *testing.T) {
	ctx := context.Background()
	a, store, _ := newAggregator(t)

	other := change(10)
	other.Emoji = "🔥"
	got, err := a.OnReactionChange(ctx, other)
	require.NoError(t, err)
	require.Equal(t, ActionIgnored, got)

	inBoard := change(10)
	inBoard.ChannelID = "board"
	got, err = a.OnReactionChange(ctx, inBoard)
	require.NoError(t, err)
	require.Equal(t, ActionIgnored, got)

	unconfigured := change(10)
	unconfigured.GuildID = "nope"
	got, err = a.OnReactionChange(ctx, unconfigured)
	require.NoError(t, err)
	require.Equal(t, ActionIgnored, got)

	require.Zero(t, store.PromotedCount("g"))
}

func TestVariationSelectorMatches(t *testing.T) {
	a, _, _ := newAggregator(t)
	ch := change(3)
	ch.Emoji = "⭐\ufe0f"
	got, err := a.OnReactionChange(context.Background(), ch)
	require.NoError(t, err)
	require.Equal(t, ActionPromoted, got)
}

func TestConcurrentCrossingsPromoteOnce(t *testing.T) {
	a, store, sink := newAggregator(t)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		promoted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			got, err := a.OnReactionChange(context.Background(), change(3+n%2))
			if err != nil {
				return
			}
			if got == ActionPromoted {
				mu.Lock()
				promoted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, promoted)
	require.Equal(t, 1, store.PromotedCount("g"))
	require.Equal(t, 1, sink.SentCount())
}

func TestFailedPostIsRetriedOnNextChange(t *testing.T) {
	ctx := context.Background()
	a, store, sink := newAggregator(t)

	sink.Fail(errors.New("discord unavailable"))
	got, err := a.OnReactionChange(ctx, change(3))
	require.NoError(t, err)
	require.Equal(t, ActionPromoted, got)
	pm, err := store.GetPromotedMessage(ctx, "g", "m", domain.DefaultStarEmoji)
	require.NoError(t, err)
	require.False(t, pm.Posted())

	sink.Fail(nil)
	got, err = a.OnReactionChange(ctx, change(4))
	require.NoError(t, err)
	require.Equal(t, ActionUpdated, got)
	require.Equal(t, 1, sink.SentCount())
	require.Equal(t, 1, store.PromotedCount("g"))

	pm, err = store.GetPromotedMessage(ctx, "g", "m", domain.DefaultStarEmoji)
	require.NoError(t, err)
	require.True(t, pm.Posted())
	require.Equal(t, 4, pm.CurrentReactionCount)
}
