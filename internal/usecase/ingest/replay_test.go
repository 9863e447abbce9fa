package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"guild-rewards-bot/internal/adapters/memory"
	"guild-rewards-bot/internal/domain"
	"guild-rewards-bot/internal/testutil"
)

func seedPending(t *testing.T, store *memory.Store, id, repo string, attempts int) {
	t.Helper()
	require.NoError(t, store.EnqueuePendingEvent(context.Background(), domain.PendingExternalEvent{
		ID:         id,
		SourceKind: domain.SourceGitHub,
		RoutingKey: repo,
		EventKind:  "push",
		Payload:    []byte(pushBody),
		ReceivedAt: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		Attempts:   attempts,
	}))
}

func newReplayStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.UpsertSubscription(context.Background(), domain.RepoSubscription{
		GuildID: "g", Repository: "owner/repo", ChannelID: "updates", Events: "all",
	}))
	return store
}

func TestSweepFailureIncrementsAttempts(t *testing.T) {
	ctx := context.Background()
	store := newReplayStore(t)
	seedPending(t, store, "p1", "owner/repo", 0)
	sink := testutil.NewSink()
	sink.Fail(errors.New("unavailable"))
	r := NewReplayer(store, store, sink, ReplayOptions{MaxAttempts: 2, Logger: zerolog.Nop()})

	res, err := r.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)
	res, err = r.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)

	res, err = r.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, SweepResult{}, res, "exhausted rows are left alone")

	ev, err := store.GetPendingEvent(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 2, ev.Attempts)
	require.False(t, ev.Processed)
	require.Equal(t, "unavailable", ev.LastError)
}

func TestSweepLeavesExhaustedRows(t *testing.T) {
	ctx := context.Background()
	store := newReplayStore(t)
	seedPending(t, store, "old", "owner/repo", 10)
	seedPending(t, store, "new", "owner/repo", 0)
	sink := testutil.NewSink()
	r := NewReplayer(store, store, sink, ReplayOptions{MaxAttempts: 10, Logger: zerolog.Nop()})

	res, err := r.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Delivered)

	old, err := store.GetPendingEvent(ctx, "old")
	require.NoError(t, err)
	require.Equal(t, 10, old.Attempts)
	require.False(t, old.Processed)
}

func TestSweepSubscriptionRemoved(t *testing.T) {
	ctx := context.Background()
	store := newReplayStore(t)
	seedPending(t, store, "p1", "owner/gone", 0)
	sink := testutil.NewSink()
	r := NewReplayer(store, store, sink, ReplayOptions{Logger: zerolog.Nop()})

	res, err := r.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped)
	require.Zero(t, sink.SentCount())

	ev, err := store.GetPendingEvent(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ev.Processed)
	require.Equal(t, 1, ev.Attempts)
}

type chanWakeups chan string

func (c chanWakeups) Pop(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case id := <-c:
		return id, nil
	}
}

func TestRunStopsOnCancelAndWakesUp(t *testing.T) {
	store := newReplayStore(t)
	sink := testutil.NewSink()
	wake := make(chanWakeups, 1)
	r := NewReplayer(store, store, sink, ReplayOptions{Interval: time.Hour, Logger: zerolog.Nop(), Wakeups: wake})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	seedPending(t, store, "p1", "owner/repo", 0)
	wake <- "p1"
	require.Eventually(t, func() bool { return sink.SentCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("replayer did not stop")
	}
}
