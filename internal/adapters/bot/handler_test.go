package bot

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"guild-rewards-bot/internal/adapters/memory"
	"guild-rewards-bot/internal/adapters/signature"
	"guild-rewards-bot/internal/domain"
	"guild-rewards-bot/internal/infra/lock"
	"guild-rewards-bot/internal/testutil"
	"guild-rewards-bot/internal/usecase/cooldown"
	"guild-rewards-bot/internal/usecase/guildconfig"
	"guild-rewards-bot/internal/usecase/media"
	"guild-rewards-bot/internal/usecase/points"
	"guild-rewards-bot/internal/usecase/voice"
)

const adminPerms = "32"

type handlerFixture struct {
	handler *Handler
	store   *memory.Store
	sink    *testutil.Sink
	clock   *testutil.Clock
	key     ed25519.PrivateKey
}

func newHandlerFixture(t *testing.T) handlerFixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	clock := testutil.NewClock(time.Date(2026, 10, 3, 10, 0, 0, 0, time.UTC))
	store := memory.NewStore()
	sink := testutil.NewSink()
	sink.Channels["board"] = domain.ChannelInfo{ID: "board", GuildID: "g", Name: "board", Text: true}
	sink.Channels["voice"] = domain.ChannelInfo{ID: "voice", GuildID: "g", Name: "voice"}

	ledger := points.NewLedger(store)
	svc := Services{
		Config: guildconfig.NewService(store, sink, clock, zerolog.Nop()),
		Ledger: ledger,
		Voice:  voice.NewTracker(store, store, ledger, lock.NewKeyed(), clock, zerolog.Nop()),
		Media:  media.NewGate(store, store, cooldown.NewGate(store), ledger, clock, zerolog.Nop()),
	}
	verifier := signature.NewVerifier(signature.WithPublicKey(pub), signature.WithClock(clock))
	return handlerFixture{
		handler: NewHandler(verifier, svc, zerolog.Nop()),
		store:   store,
		sink:    sink,
		clock:   clock,
		key:     priv,
	}
}

func (f handlerFixture) signed(body []byte, at time.Time) http.Header {
	ts := strconv.FormatInt(at.Unix(), 10)
	sig := ed25519.Sign(f.key, append([]byte(ts), body...))
	h := http.Header{}
	h.Set(signature.HeaderEd25519Signature, hex.EncodeToString(sig))
	h.Set(signature.HeaderEd25519Timestamp, ts)
	return h
}

func commandBody(t *testing.T, perms, name string, options ...map[string]any) []byte {
	t.Helper()
	body := map[string]any{
		"id":             "i1",
		"application_id": "app",
		"type":           int(discordgo.InteractionApplicationCommand),
		"guild_id":       "g",
		"channel_id":     "c",
		"token":          "tok",
		"version":        1,
		"member": map[string]any{
			"user":        map[string]any{"id": "u", "username": "alice"},
			"permissions": perms,
		},
		"data": map[string]any{"id": "cmd", "name": name, "type": 1, "options": options},
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return raw
}

func sub(name string, options ...map[string]any) map[string]any {
	return map[string]any{"type": int(discordgo.ApplicationCommandOptionSubCommand), "name": name, "options": options}
}

func opt(name string, typ discordgo.ApplicationCommandOptionType, value any) map[string]any {
	return map[string]any{"name": name, "type": int(typ), "value": value}
}

func (f handlerFixture) run(t *testing.T, body []byte) *discordgo.InteractionResponse {
	t.Helper()
	resp, err := f.handler.HandleInteraction(context.Background(), body, f.signed(body, f.clock.Now()))
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func TestPingGetsPong(t *testing.T) {
	f := newHandlerFixture(t)
	resp := f.run(t, []byte(`{"id":"1","type":1,"application_id":"app","token":"t","version":1}`))
	require.Equal(t, discordgo.InteractionResponsePong, resp.Type)
}

func TestRejectsBadAndStaleSignatures(t *testing.T) {
	f := newHandlerFixture(t)
	body := []byte(`{"type":1}`)

	_, err := f.handler.HandleInteraction(context.Background(), body, http.Header{})
	require.ErrorIs(t, err, domain.ErrAuth)

	headers := f.signed(body, f.clock.Now())
	_, err = f.handler.HandleInteraction(context.Background(), []byte(`{"type":2}`), headers)
	require.ErrorIs(t, err, domain.ErrAuth)

	stale := f.signed(body, f.clock.Now().Add(-10*time.Minute))
	_, err = f.handler.HandleInteraction(context.Background(), body, stale)
	require.True(t, errors.Is(err, signature.ErrStaleTimestamp))
}

func TestUnknownCommandAndType(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.run(t, commandBody(t, adminPerms, "dance"))
	require.Equal(t, msgNotRecognized, resp.Data.Content)
	require.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)

	resp = f.run(t, []byte(`{"id":"1","type":3,"guild_id":"g","data":{"custom_id":"x","component_type":2}}`))
	require.Equal(t, msgNotRecognized, resp.Data.Content)
}

func TestStarboardCommands(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.run(t, commandBody(t, adminPerms, cmdStarboard, sub("status")))
	require.Contains(t, resp.Data.Content, "not configured")

	resp = f.run(t, commandBody(t, adminPerms, cmdStarboard, sub("setup",
		opt("channel", discordgo.ApplicationCommandOptionChannel, "voice"))))
	require.Contains(t, resp.Data.Content, "text channel")

	resp = f.run(t, commandBody(t, adminPerms, cmdStarboard, sub("setup",
		opt("channel", discordgo.ApplicationCommandOptionChannel, "board"),
		opt("threshold", discordgo.ApplicationCommandOptionInteger, 5))))
	require.Contains(t, resp.Data.Content, "<#board>")
	require.Contains(t, resp.Data.Content, "5")

	cfg, err := f.store.GetStarboardConfig(context.Background(), "g")
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Threshold)
	require.Equal(t, domain.DefaultStarEmoji, cfg.Emoji)

	resp = f.run(t, commandBody(t, adminPerms, cmdStarboard, sub("disable")))
	require.Equal(t, "Starboard disabled.", resp.Data.Content)
	resp = f.run(t, commandBody(t, adminPerms, cmdStarboard, sub("disable")))
	require.Equal(t, "Starboard was not enabled.", resp.Data.Content)
}

func TestConfigCommandsNeedManageGuild(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.run(t, commandBody(t, "0", cmdStarboard, sub("disable")))
	require.Equal(t, msgForbidden, resp.Data.Content)

	resp = f.run(t, commandBody(t, "0", cmdPoints, sub("add",
		opt("user", discordgo.ApplicationCommandOptionUser, "v"),
		opt("amount", discordgo.ApplicationCommandOptionInteger, 10))))
	require.Equal(t, msgForbidden, resp.Data.Content)

	balance, err := f.store.GetPoints(context.Background(), "g", "v")
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestGitHubWebhookCommands(t *testing.T) {
	f := newHandlerFixture(t)

	resp := f.run(t, commandBody(t, adminPerms, cmdGitHub, sub("setup",
		opt("repository", discordgo.ApplicationCommandOptionString, "not a repo"),
		opt("channel", discordgo.ApplicationCommandOptionChannel, "board"))))
	require.Contains(t, resp.Data.Content, "owner/repo")

	resp = f.run(t, commandBody(t, adminPerms, cmdGitHub, sub("setup",
		opt("repository", discordgo.ApplicationCommandOptionString, "Acme/Widget"),
		opt("channel", discordgo.ApplicationCommandOptionChannel, "board"),
		opt("events", discordgo.ApplicationCommandOptionString, "push, pr"))))
	require.Contains(t, resp.Data.Content, "acme/widget")

	resp = f.run(t, commandBody(t, adminPerms, cmdGitHub, sub("list")))
	require.Contains(t, resp.Data.Content, "acme/widget → <#board> (pr,push)")

	resp = f.run(t, commandBody(t, adminPerms, cmdGitHub, sub("remove",
		opt("repository", discordgo.ApplicationCommandOptionString, "acme/widget"))))
	require.Contains(t, resp.Data.Content, "removed")

	resp = f.run(t, commandBody(t, adminPerms, cmdGitHub, sub("list")))
	require.Equal(t, "No repositories are subscribed.", resp.Data.Content)
}

func TestPointsAndLeaderboard(t *testing.T) {
	f := newHandlerFixture(t)
	user := func(id string) map[string]any { return opt("user", discordgo.ApplicationCommandOptionUser, id) }
	amount := func(n int) map[string]any { return opt("amount", discordgo.ApplicationCommandOptionInteger, n) }

	resp := f.run(t, commandBody(t, adminPerms, cmdPoints, sub("add", user("a"), amount(10))))
	require.Equal(t, "<@a> now has 10 points.", resp.Data.Content)
	f.run(t, commandBody(t, adminPerms, cmdPoints, sub("set", user("b"), amount(20))))
	resp = f.run(t, commandBody(t, adminPerms, cmdPoints, sub("remove", user("a"), amount(15))))
	require.Equal(t, "<@a> now has 0 points.", resp.Data.Content)
	resp = f.run(t, commandBody(t, adminPerms, cmdPoints, sub("add", user("a"), amount(0))))
	require.Contains(t, resp.Data.Content, "positive")

	resp = f.run(t, commandBody(t, "0", cmdPoints, sub("view", user("b"))))
	require.Equal(t, "<@b> has 20 points.", resp.Data.Content)
	require.Zero(t, resp.Data.Flags)

	resp = f.run(t, commandBody(t, "0", cmdLeaderboard))
	require.Equal(t, "🏆 Leaderboard\n1. <@b>: 20 points", resp.Data.Content)

	resp = f.run(t, commandBody(t, adminPerms, cmdPoints, sub("reset")))
	require.Equal(t, "Points reset for 2 members.", resp.Data.Content)
	resp = f.run(t, commandBody(t, "0", cmdLeaderboard, opt("limit", discordgo.ApplicationCommandOptionInteger, 3)))
	require.Equal(t, "Nobody has points yet.", resp.Data.Content)
}

func TestXPCommands(t *testing.T) {
	ctx := context.Background()
	f := newHandlerFixture(t)

	resp := f.run(t, commandBody(t, adminPerms, cmdXP, sub("config",
		opt("voice_per_minute", discordgo.ApplicationCommandOptionInteger, 4),
		opt("media_cooldown_minutes", discordgo.ApplicationCommandOptionInteger, 30))))
	require.Contains(t, resp.Data.Content, "4 points per minute")

	cfg, err := f.store.GetOrCreateRewardConfig(ctx, "g")
	require.NoError(t, err)
	require.EqualValues(t, 4, cfg.VoicePerMinute)
	require.EqualValues(t, 1800, cfg.MediaCooldownSeconds)
	require.True(t, cfg.MediaEnabled)

	resp = f.run(t, commandBody(t, adminPerms, cmdXP, sub("config",
		opt("media_amount", discordgo.ApplicationCommandOptionInteger, -1))))
	require.Contains(t, resp.Data.Content, "negative")

	resp = f.run(t, commandBody(t, adminPerms, cmdXP, sub("media_channel",
		opt("channel", discordgo.ApplicationCommandOptionChannel, "art"),
		opt("enabled", discordgo.ApplicationCommandOptionBoolean, true))))
	require.Contains(t, resp.Data.Content, "now earn points")

	resp = f.run(t, commandBody(t, "0", cmdXP, sub("status")))
	require.Contains(t, resp.Data.Content, "Media channels: <#art>")

	_, err = f.handler.svc.Voice.OnVoiceJoin(ctx, "g", "u", "vc")
	require.NoError(t, err)
	f.clock.Advance(3 * time.Minute)
	_, err = f.handler.svc.Voice.OnVoiceLeave(ctx, "g", "u")
	require.NoError(t, err)

	resp = f.run(t, commandBody(t, "0", cmdXP, sub("stats")))
	lines := strings.Split(resp.Data.Content, "\n")
	require.Equal(t, "Stats for <@u>", lines[0])
	require.Equal(t, "Voice: 1 sessions, 3m0s total", lines[1])
	require.Equal(t, "Media: 0 posts, 0 points earned", lines[2])
	require.Equal(t, "Points: 12", lines[3])
}

func TestCommandOutsideGuild(t *testing.T) {
	f := newHandlerFixture(t)
	body := []byte(`{"id":"1","type":2,"user":{"id":"u"},"data":{"id":"c","name":"points","type":1}}`)
	resp := f.run(t, body)
	require.Equal(t, msgGuildOnly, resp.Data.Content)
}

func TestCommandsDefinitions(t *testing.T) {
	names := map[string]bool{}
	for _, c := range Commands() {
		names[c.Name] = true
	}
	for _, n := range []string{cmdStarboard, cmdGitHub, cmdPoints, cmdLeaderboard, cmdXP} {
		require.True(t, names[n], n)
	}
}
