package ingest

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"guild-rewards-bot/internal/adapters/memory"
	"guild-rewards-bot/internal/adapters/signature"
	"guild-rewards-bot/internal/domain"
	"guild-rewards-bot/internal/testutil"
)

const secret = "webhook-secret"

type signalRecorder struct {
	ids []string
}

func (s *signalRecorder) Notify(_ context.Context, id string) error {
	s.ids = append(s.ids, id)
	return nil
}

type failingEnqueue struct {
	*memory.Store
	err error
}

func (f *failingEnqueue) EnqueuePendingEvent(ctx context.Context, ev domain.PendingExternalEvent) error {
	if f.err != nil {
		return f.err
	}
	return f.Store.EnqueuePendingEvent(ctx, ev)
}

type pipelineFixture struct {
	store    *memory.Store
	sink     *testutil.Sink
	signal   *signalRecorder
	pipeline *Pipeline
}

func newPipeline(t *testing.T) pipelineFixture {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.UpsertSubscription(context.Background(), domain.RepoSubscription{
		GuildID: "g", Repository: "owner/repo", ChannelID: "updates", Events: "push,pr",
	}))
	sink := testutil.NewSink()
	sig := &signalRecorder{}
	p := NewPipeline(signature.NewVerifier(signature.WithHMACSecret(secret)), store, store, store, sink, Options{
		DeliveryTimeout: 20 * time.Millisecond,
		Clock:           testutil.NewClock(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)),
		Logger:          zerolog.Nop(),
		Signal:          sig,
	})
	return pipelineFixture{store: store, sink: sink, signal: sig, pipeline: p}
}

func signed(body, event, delivery string) ([]byte, http.Header) {
	raw := []byte(body)
	h := http.Header{}
	h.Set(signature.HeaderHubSignature, signature.SignHMAC(raw, []byte(secret)))
	if event != "" {
		h.Set(signature.HeaderGitHubEvent, event)
	}
	if delivery != "" {
		h.Set(signature.HeaderGitHubDelivery, delivery)
	}
	return raw, h
}

const pushBody = `{"ref":"refs/heads/main","repository":{"full_name":"Owner/Repo"},"commits":[]}`

func TestIngestDelivered(t *testing.T) {
	f := newPipeline(t)
	raw, h := signed(pushBody, "push", "d-1")

	outcome, err := f.pipeline.IngestGitHub(context.Background(), raw, h)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeDelivered, outcome)
	require.Equal(t, 1, f.sink.SentCount())
	require.Equal(t, "updates", f.sink.Sent[0].ChannelID)
	require.Empty(t, f.store.PendingEvents())
}

func TestIngestUnconfiguredRepositoryIgnored(t *testing.T) {
	f := newPipeline(t)
	raw, h := signed(`{"repository":{"full_name":"owner/unknown"}}`, "push", "d-1")

	outcome, err := f.pipeline.IngestGitHub(context.Background(), raw, h)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeIgnored, outcome)
	require.Zero(t, f.sink.SentCount())
	require.Empty(t, f.store.PendingEvents())
}

func TestIngestEventNotSubscribed(t *testing.T) {
	f := newPipeline(t)
	raw, h := signed(`{"action":"published","repository":{"full_name":"owner/repo"}}`, "release", "d-1")

	outcome, err := f.pipeline.IngestGitHub(context.Background(), raw, h)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeIgnored, outcome)
	require.Zero(t, f.sink.SentCount())
}

func TestIngestRejects(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()

	raw, h := signed(pushBody, "push", "d-1")
	h.Set(signature.HeaderHubSignature, signature.SignHMAC(raw, []byte("wrong")))
	_, err := f.pipeline.IngestGitHub(ctx, raw, h)
	require.ErrorIs(t, err, domain.ErrAuth)

	raw, h = signed(pushBody, "", "d-1")
	_, err = f.pipeline.IngestGitHub(ctx, raw, h)
	require.ErrorIs(t, err, domain.ErrMissingRouting)

	raw, h = signed(`{"ref":"main"}`, "push", "d-1")
	_, err = f.pipeline.IngestGitHub(ctx, raw, h)
	require.ErrorIs(t, err, domain.ErrMissingRouting)

	require.Zero(t, f.sink.SentCount())
}

func TestIngestDuplicateDelivery(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()
	raw, h := signed(pushBody, "push", "d-42")

	outcome, err := f.pipeline.IngestGitHub(ctx, raw, h)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeDelivered, outcome)

	outcome, err = f.pipeline.IngestGitHub(ctx, raw, h)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeDuplicate, outcome)
	require.Equal(t, 1, f.sink.SentCount())
	require.Empty(t, f.store.PendingEvents())
}

func TestIngestTimeoutQueuesAndReplaySucceeds(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()
	f.sink.Hang(true)

	raw, h := signed(pushBody, "push", "d-7")
	start := time.Now()
	outcome, err := f.pipeline.IngestGitHub(ctx, raw, h)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeQueued, outcome)
	require.Less(t, time.Since(start), 2*time.Second)

	pending := f.store.PendingEvents()
	require.Len(t, pending, 1)
	require.False(t, pending[0].Processed)
	require.Zero(t, pending[0].Attempts)
	require.Equal(t, "owner/repo", pending[0].RoutingKey)
	require.Equal(t, "push", pending[0].EventKind)
	require.Equal(t, raw, pending[0].Payload)
	require.Equal(t, []string{pending[0].ID}, f.signal.ids)

	f.sink.Hang(false)
	r := NewReplayer(f.store, f.store, f.sink, ReplayOptions{Logger: zerolog.Nop()})
	res, err := r.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Delivered)

	pending = f.store.PendingEvents()
	require.True(t, pending[0].Processed)
	require.Equal(t, 1, pending[0].Attempts)
	require.NotNil(t, pending[0].ProcessedAt)
	require.Equal(t, 1, f.sink.SentCount())
}

func TestIngestEnqueueFailureReleasesDedupe(t *testing.T) {
	f := newPipeline(t)
	store := &failingEnqueue{Store: f.store, err: errors.New("db down")}
	f = newPipelineWith(t, f, store)
	ctx := context.Background()
	f.sink.Fail(errors.New("discord down"))

	raw, h := signed(pushBody, "push", "d-9")
	_, err := f.pipeline.IngestGitHub(ctx, raw, h)
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrAuth)

	store.err = nil
	outcome, err := f.pipeline.IngestGitHub(ctx, raw, h)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeQueued, outcome)
	require.Len(t, f.store.PendingEvents(), 1)
}

func newPipelineWith(t *testing.T, f pipelineFixture, pending domain.PendingEventRepo) pipelineFixture {
	t.Helper()
	f.pipeline = NewPipeline(signature.NewVerifier(signature.WithHMACSecret(secret)), f.store, pending, f.store, f.sink, Options{
		DeliveryTimeout: 20 * time.Millisecond,
		Logger:          zerolog.Nop(),
		Signal:          f.signal,
	})
	return f
}

type brokenSubscriptions struct {
	*memory.Store
}

func (brokenSubscriptions) FindSubscription(context.Context, string) (domain.RepoSubscription, error) {
	return domain.RepoSubscription{}, errors.New("db down")
}

func TestIngestLookupFailureQueuesOncePerDelivery(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()
	p := NewPipeline(signature.NewVerifier(signature.WithHMACSecret(secret)), brokenSubscriptions{f.store}, f.store, f.store, f.sink, Options{
		DeliveryTimeout: 20 * time.Millisecond,
		Logger:          zerolog.Nop(),
	})
	raw, h := signed(pushBody, "push", "d-11")

	outcome, err := p.IngestGitHub(ctx, raw, h)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeQueued, outcome)

	outcome, err = p.IngestGitHub(ctx, raw, h)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeDuplicate, outcome)
	require.Len(t, f.store.PendingEvents(), 1)
	require.Zero(t, f.sink.SentCount())
}
