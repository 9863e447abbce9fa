package guildconfig

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"guild-rewards-bot/internal/adapters/memory"
	"guild-rewards-bot/internal/domain"
	"guild-rewards-bot/internal/testutil"
)

func newService() (*Service, *testutil.Sink) {
	sink := testutil.NewSink()
	sink.Channels["board"] = domain.ChannelInfo{ID: "board", GuildID: "g", Name: "starboard", Text: true}
	sink.Channels["voice"] = domain.ChannelInfo{ID: "voice", GuildID: "g", Name: "General"}
	return NewService(memory.NewStore(), sink, nil, zerolog.Nop()), sink
}

func TestSubscriptions(t *testing.T) {
	ctx := context.Background()
	s, _ := newService()

	sub, err := s.SetSubscription(ctx, "g", "Owner/Repo", "c1", "push, pr")
	require.NoError(t, err)
	require.Equal(t, "owner/repo", sub.Repository)
	require.Equal(t, "pr,push", sub.Events)

	_, err = s.SetSubscription(ctx, "g", "owner/repo", "c2", "all")
	require.NoError(t, err)

	subs, err := s.ListSubscriptions(ctx, "g")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "c2", subs[0].ChannelID)

	_, err = s.SetSubscription(ctx, "g", "not-a-repo", "c1", "all")
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, err = s.SetSubscription(ctx, "g", "owner/repo", "c1", "stars")
	require.ErrorIs(t, err, domain.ErrInvalidConfig)

	removed, err := s.RemoveSubscription(ctx, "other", "owner/repo")
	require.NoError(t, err)
	require.False(t, removed)
	removed, err = s.RemoveSubscription(ctx, "g", "OWNER/repo")
	require.NoError(t, err)
	require.True(t, removed)
}

func TestRewardConfigDefaultsAndPatch(t *testing.T) {
	ctx := context.Background()
	s, _ := newService()

	cfg, err := s.RewardConfig(ctx, "g")
	require.NoError(t, err)
	require.True(t, cfg.VoiceEnabled)
	require.EqualValues(t, 1, cfg.VoicePerMinute)
	require.True(t, cfg.MediaEnabled)
	require.EqualValues(t, 5, cfg.MediaAmount)
	require.EqualValues(t, 3600, cfg.MediaCooldownSeconds)
	require.Empty(t, cfg.MediaChannels)

	rate := int64(4)
	off := false
	cfg, err = s.UpdateRewardConfig(ctx, "g", domain.RewardConfigPatch{VoicePerMinute: &rate, MediaEnabled: &off})
	require.NoError(t, err)
	require.EqualValues(t, 4, cfg.VoicePerMinute)
	require.False(t, cfg.MediaEnabled)
	require.EqualValues(t, 5, cfg.MediaAmount)

	negative := int64(-1)
	_, err = s.UpdateRewardConfig(ctx, "g", domain.RewardConfigPatch{MediaAmount: &negative})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)

	cfg, err = s.RewardConfig(ctx, "g")
	require.NoError(t, err)
	require.EqualValues(t, 5, cfg.MediaAmount)
}

func TestSetMediaChannel(t *testing.T) {
	ctx := context.Background()
	s, _ := newService()

	cfg, err := s.SetMediaChannel(ctx, "g", "memes", true)
	require.NoError(t, err)
	require.Equal(t, []string{"memes"}, cfg.MediaChannels)

	cfg, err = s.SetMediaChannel(ctx, "g", "memes", true)
	require.NoError(t, err)
	require.Len(t, cfg.MediaChannels, 1)

	cfg, err = s.SetMediaChannel(ctx, "g", "memes", false)
	require.NoError(t, err)
	require.Empty(t, cfg.MediaChannels)
}

func TestStarboardLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := newService()

	_, err := s.StarboardStatus(ctx, "g")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.SetupStarboard(ctx, "g", "voice", 0, "")
	require.ErrorIs(t, err, ErrNotTextChannel)
	_, err = s.SetupStarboard(ctx, "g", "missing", 0, "")
	require.ErrorIs(t, err, ErrNotTextChannel)

	cfg, err := s.SetupStarboard(ctx, "g", "board", 0, "")
	require.NoError(t, err)
	require.Equal(t, domain.DefaultStarThreshold, cfg.Threshold)
	require.Equal(t, domain.DefaultStarEmoji, cfg.Emoji)

	was, err := s.DisableStarboard(ctx, "g")
	require.NoError(t, err)
	require.True(t, was)
	was, err = s.DisableStarboard(ctx, "g")
	require.NoError(t, err)
	require.False(t, was)

	status, err := s.StarboardStatus(ctx, "g")
	require.NoError(t, err)
	require.False(t, status.Enabled)
}
