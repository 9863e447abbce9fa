package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"guild-rewards-bot/internal/adapters/discord"
	"guild-rewards-bot/internal/adapters/signature"
	"guild-rewards-bot/internal/domain"
	"guild-rewards-bot/internal/infra/metrics"
	"guild-rewards-bot/internal/usecase/guildconfig"
	"guild-rewards-bot/internal/usecase/media"
	"guild-rewards-bot/internal/usecase/points"
	"guild-rewards-bot/internal/usecase/voice"
)

const (
	cmdStarboard   = "starboard"
	cmdGitHub      = "github-webhook"
	cmdPoints      = "points"
	cmdLeaderboard = "leaderboard"
	cmdXP          = "xp"
)

const (
	msgNotRecognized = "This interaction is not recognized."
	msgGuildOnly     = "❌ This command can only be used in a server."
	msgForbidden     = "❌ You need the Manage Server permission to do that."
	msgInternal      = "❌ Something went wrong. Please try again later."
)

// Verifier проверяет подпись тела запроса.
type Verifier interface {
	Verify(rawBody []byte, headers http.Header, scheme signature.Scheme) (signature.ParsedEvent, error)
}

// Services — сценарии, которые вызывают команды.
type Services struct {
	Config *guildconfig.Service
	Ledger *points.Ledger
	Voice  *voice.Tracker
	Media  *media.Gate
}

// Handler обслуживает подписанные interaction-запросы Discord.
type Handler struct {
	verifier Verifier
	svc      Services
	log      zerolog.Logger
}

// NewHandler создаёт обработчик.
func NewHandler(verifier Verifier, svc Services, logger zerolog.Logger) *Handler {
	return &Handler{verifier: verifier, svc: svc, log: logger.With().Str("component", "interactions").Logger()}
}

// HandleInteraction проверяет подпись и строит ответ на interaction.
// Ошибка возвращается только при неудачной проверке подписи (domain.ErrAuth).
func (h *Handler) HandleInteraction(ctx context.Context, rawBody []byte, headers http.Header) (*discordgo.InteractionResponse, error) {
	if _, err := h.verifier.Verify(rawBody, headers, signature.SchemeEd25519); err != nil {
		metrics.IncIngestOutcome("interaction", "rejected")
		return nil, err
	}
	var in discordgo.Interaction
	if err := json.Unmarshal(rawBody, &in); err != nil {
		h.log.Warn().Err(err).Msg("interactions: decode failed")
		metrics.IncIngestOutcome("interaction", "unknown")
		return reply(msgNotRecognized, true), nil
	}
	switch in.Type {
	case discordgo.InteractionPing:
		metrics.IncIngestOutcome("interaction", "ping")
		return &discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong}, nil
	case discordgo.InteractionApplicationCommand:
		metrics.IncIngestOutcome("interaction", "command")
		return h.handleCommand(ctx, &in), nil
	default:
		metrics.IncIngestOutcome("interaction", "unknown")
		return reply(msgNotRecognized, true), nil
	}
}

// invocation — разобранный вызов команды.
type invocation struct {
	guildID string
	userID  string
	admin   bool
	sub     string
	opts    options
}

func (h *Handler) handleCommand(ctx context.Context, in *discordgo.Interaction) *discordgo.InteractionResponse {
	data := in.ApplicationCommandData()
	if in.GuildID == "" || in.Member == nil {
		return reply(msgGuildOnly, true)
	}
	inv := invocation{guildID: in.GuildID, admin: isAdmin(in.Member.Permissions)}
	if in.Member.User != nil {
		inv.userID = in.Member.User.ID
	}
	inv.sub, inv.opts = splitSubcommand(data.Options)

	log := h.log.With().Str("guild", inv.guildID).Str("user", inv.userID).Str("command", data.Name).Str("sub", inv.sub).Logger()
	log.Debug().Msg("interactions: command received")

	var (
		resp *discordgo.InteractionResponse
		err  error
	)
	switch data.Name {
	case cmdStarboard:
		resp, err = h.starboard(ctx, inv)
	case cmdGitHub:
		resp, err = h.github(ctx, inv)
	case cmdPoints:
		resp, err = h.points(ctx, inv)
	case cmdLeaderboard:
		resp, err = h.leaderboard(ctx, inv)
	case cmdXP:
		resp, err = h.xp(ctx, inv)
	default:
		return reply(msgNotRecognized, true)
	}
	if err != nil {
		log.Error().Err(err).Msg("interactions: command failed")
		return reply(msgInternal, true)
	}
	return resp
}

func (h *Handler) starboard(ctx context.Context, inv invocation) (*discordgo.InteractionResponse, error) {
	if !inv.admin {
		return reply(msgForbidden, true), nil
	}
	switch inv.sub {
	case "setup":
		threshold, _ := inv.opts.integer("threshold")
		cfg, err := h.svc.Config.SetupStarboard(ctx, inv.guildID, inv.opts.str("channel"), int(threshold), inv.opts.str("emoji"))
		switch {
		case errors.Is(err, guildconfig.ErrNotTextChannel):
			return reply("❌ The starboard channel must be a text channel on this server.", true), nil
		case errors.Is(err, domain.ErrInvalidConfig):
			return reply("❌ The threshold must be at least 1.", true), nil
		case err != nil:
			return nil, err
		}
		return reply(fmt.Sprintf("⭐ Starboard enabled in <#%s>. Messages with %d %s reactions will be promoted.", cfg.ChannelID, cfg.Threshold, cfg.Emoji), true), nil
	case "disable":
		was, err := h.svc.Config.DisableStarboard(ctx, inv.guildID)
		if err != nil {
			return nil, err
		}
		if !was {
			return reply("Starboard was not enabled.", true), nil
		}
		return reply("Starboard disabled.", true), nil
	case "status":
		cfg, err := h.svc.Config.StarboardStatus(ctx, inv.guildID)
		if errors.Is(err, domain.ErrNotFound) {
			return reply("Starboard is not configured. Use /starboard setup.", true), nil
		}
		if err != nil {
			return nil, err
		}
		return reply(fmt.Sprintf("Starboard: %s\nChannel: <#%s>\nThreshold: %d\nEmoji: %s", enabledText(cfg.Enabled), cfg.ChannelID, cfg.Threshold, cfg.Emoji), true), nil
	}
	return reply(msgNotRecognized, true), nil
}

func (h *Handler) github(ctx context.Context, inv invocation) (*discordgo.InteractionResponse, error) {
	if !inv.admin {
		return reply(msgForbidden, true), nil
	}
	switch inv.sub {
	case "setup":
		sub, err := h.svc.Config.SetSubscription(ctx, inv.guildID, inv.opts.str("repository"), inv.opts.str("channel"), inv.opts.str("events"))
		if errors.Is(err, domain.ErrInvalidConfig) {
			return reply("❌ Repository must look like owner/repo, events must be all or a comma list of push, pr, issue, release.", true), nil
		}
		if err != nil {
			return nil, err
		}
		return reply(fmt.Sprintf("✅ Events (%s) of %s will be posted to <#%s>.\nSet the repository webhook to /api/v1/github/webhook with content type application/json.", sub.Events, sub.Repository, sub.ChannelID), true), nil
	case "list":
		subs, err := h.svc.Config.ListSubscriptions(ctx, inv.guildID)
		if err != nil {
			return nil, err
		}
		if len(subs) == 0 {
			return reply("No repositories are subscribed.", true), nil
		}
		var b strings.Builder
		b.WriteString("Repository subscriptions:")
		for _, s := range subs {
			fmt.Fprintf(&b, "\n• %s → <#%s> (%s)", s.Repository, s.ChannelID, s.Events)
		}
		return reply(b.String(), true), nil
	case "remove":
		repo := inv.opts.str("repository")
		removed, err := h.svc.Config.RemoveSubscription(ctx, inv.guildID, repo)
		if errors.Is(err, domain.ErrInvalidConfig) {
			return reply("❌ Repository must look like owner/repo.", true), nil
		}
		if err != nil {
			return nil, err
		}
		if !removed {
			return reply(fmt.Sprintf("No subscription for %s.", repo), true), nil
		}
		return reply(fmt.Sprintf("Subscription for %s removed.", repo), true), nil
	}
	return reply(msgNotRecognized, true), nil
}

func (h *Handler) points(ctx context.Context, inv invocation) (*discordgo.InteractionResponse, error) {
	target := inv.opts.str("user")
	if target == "" {
		target = inv.userID
	}
	if inv.sub == "view" {
		balance, err := h.svc.Ledger.Read(ctx, inv.guildID, target)
		if err != nil {
			return nil, err
		}
		return reply(fmt.Sprintf("<@%s> has %d points.", target, balance), false), nil
	}
	if !inv.admin {
		return reply(msgForbidden, true), nil
	}

	amount, _ := inv.opts.integer("amount")
	var (
		balance int64
		err     error
	)
	switch inv.sub {
	case "set":
		balance, err = h.svc.Ledger.Set(ctx, inv.guildID, target, amount)
	case "add":
		balance, err = h.svc.Ledger.Credit(ctx, inv.guildID, target, amount)
	case "remove":
		balance, err = h.svc.Ledger.Debit(ctx, inv.guildID, target, amount)
	case "reset":
		n, err := h.svc.Ledger.ResetAll(ctx, inv.guildID)
		if err != nil {
			return nil, err
		}
		return reply(fmt.Sprintf("Points reset for %d members.", n), true), nil
	default:
		return reply(msgNotRecognized, true), nil
	}
	if errors.Is(err, domain.ErrInvalidAmount) {
		return reply("❌ Amount must be a positive number.", true), nil
	}
	if err != nil {
		return nil, err
	}
	return reply(fmt.Sprintf("<@%s> now has %d points.", target, balance), true), nil
}

func (h *Handler) leaderboard(ctx context.Context, inv invocation) (*discordgo.InteractionResponse, error) {
	limit, _ := inv.opts.integer("limit")
	top, err := h.svc.Ledger.Leaderboard(ctx, inv.guildID, int(limit))
	if err != nil {
		return nil, err
	}
	if len(top) == 0 {
		return reply("Nobody has points yet.", false), nil
	}
	var b strings.Builder
	b.WriteString("🏆 Leaderboard")
	for i, row := range top {
		fmt.Fprintf(&b, "\n%d. <@%s>: %d points", i+1, row.UserID, row.Points)
	}
	return reply(b.String(), false), nil
}

func (h *Handler) xp(ctx context.Context, inv invocation) (*discordgo.InteractionResponse, error) {
	switch inv.sub {
	case "stats":
		return h.stats(ctx, inv)
	case "status":
		cfg, err := h.svc.Config.RewardConfig(ctx, inv.guildID)
		if err != nil {
			return nil, err
		}
		return reply(describeRewards(cfg), true), nil
	}
	if !inv.admin {
		return reply(msgForbidden, true), nil
	}
	switch inv.sub {
	case "config":
		cfg, err := h.svc.Config.UpdateRewardConfig(ctx, inv.guildID, rewardPatch(inv.opts))
		if errors.Is(err, domain.ErrInvalidConfig) {
			return reply("❌ Amounts and cooldown must not be negative.", true), nil
		}
		if err != nil {
			return nil, err
		}
		return reply(describeRewards(cfg), true), nil
	case "media_channel":
		channelID := inv.opts.str("channel")
		enabled, _ := inv.opts.boolean("enabled")
		cfg, err := h.svc.Config.SetMediaChannel(ctx, inv.guildID, channelID, enabled)
		if err != nil {
			return nil, err
		}
		verb := "now"
		if !enabled {
			verb = "no longer"
		}
		msg := fmt.Sprintf("Media posts in <#%s> %s earn points.", channelID, verb)
		if len(cfg.MediaChannels) == 0 {
			msg += " No channels are listed, so every channel is eligible."
		}
		return reply(msg, true), nil
	}
	return reply(msgNotRecognized, true), nil
}

func (h *Handler) stats(ctx context.Context, inv invocation) (*discordgo.InteractionResponse, error) {
	target := inv.opts.str("user")
	if target == "" {
		target = inv.userID
	}
	vs, err := h.svc.Voice.Stats(ctx, inv.guildID, target)
	if err != nil {
		return nil, err
	}
	ms, err := h.svc.Media.Stats(ctx, inv.guildID, target)
	if err != nil {
		return nil, err
	}
	balance, err := h.svc.Ledger.Read(ctx, inv.guildID, target)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Stats for <@%s>", target)
	fmt.Fprintf(&b, "\nVoice: %d sessions, %s total", vs.Sessions, formatDuration(vs.TotalSeconds))
	if vs.Current != nil {
		fmt.Fprintf(&b, " (in <#%s> since <t:%d:R>)", vs.Current.ChannelID, vs.Current.JoinedAt.Unix())
	}
	fmt.Fprintf(&b, "\nMedia: %d posts, %d points earned", ms.Submissions, ms.TotalReward)
	fmt.Fprintf(&b, "\nPoints: %d", balance)
	return reply(b.String(), false), nil
}

func rewardPatch(o options) domain.RewardConfigPatch {
	var p domain.RewardConfigPatch
	if v, ok := o.boolean("voice_enabled"); ok {
		p.VoiceEnabled = &v
	}
	if v, ok := o.integer("voice_per_minute"); ok {
		p.VoicePerMinute = &v
	}
	if v, ok := o.boolean("media_enabled"); ok {
		p.MediaEnabled = &v
	}
	if v, ok := o.integer("media_amount"); ok {
		p.MediaAmount = &v
	}
	if v, ok := o.integer("media_cooldown_minutes"); ok {
		seconds := v * 60
		p.MediaCooldownSeconds = &seconds
	}
	return p
}

func describeRewards(cfg domain.RewardConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Voice rewards: %s, %d points per minute", enabledText(cfg.VoiceEnabled), cfg.VoicePerMinute)
	fmt.Fprintf(&b, "\nMedia rewards: %s, %d points per post, cooldown %s", enabledText(cfg.MediaEnabled), cfg.MediaAmount, formatDuration(cfg.MediaCooldownSeconds))
	if len(cfg.MediaChannels) == 0 {
		b.WriteString("\nMedia channels: all")
	} else {
		b.WriteString("\nMedia channels:")
		for _, ch := range cfg.MediaChannels {
			fmt.Fprintf(&b, " <#%s>", ch)
		}
	}
	return b.String()
}

func enabledText(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

func formatDuration(seconds int64) string {
	return (time.Duration(seconds) * time.Second).String()
}

func isAdmin(perms int64) bool {
	return perms&(discordgo.PermissionAdministrator|discordgo.PermissionManageGuild) != 0
}

func reply(content string, ephemeral bool) *discordgo.InteractionResponse {
	data := &discordgo.InteractionResponseData{Content: discord.FitContent(content)}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return &discordgo.InteractionResponse{Type: discordgo.InteractionResponseChannelMessageWithSource, Data: data}
}

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func splitSubcommand(list []*discordgo.ApplicationCommandInteractionDataOption) (string, options) {
	if len(list) == 1 && list[0] != nil && list[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return list[0].Name, toOptions(list[0].Options)
	}
	return "", toOptions(list)
}

func toOptions(list []*discordgo.ApplicationCommandInteractionDataOption) options {
	out := make(options, len(list))
	for _, o := range list {
		if o != nil {
			out[o.Name] = o
		}
	}
	return out
}

func (o options) str(name string) string {
	if v, ok := o[name]; ok {
		if s, ok := v.Value.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func (o options) integer(name string) (int64, bool) {
	if v, ok := o[name]; ok {
		if f, ok := v.Value.(float64); ok {
			return int64(f), true
		}
	}
	return 0, false
}

func (o options) boolean(name string) (bool, bool) {
	if v, ok := o[name]; ok {
		if b, ok := v.Value.(bool); ok {
			return b, true
		}
	}
	return false, false
}
