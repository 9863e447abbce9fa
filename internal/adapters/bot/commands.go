package bot

import "github.com/bwmarrin/discordgo"

var (
	manageGuild    int64 = discordgo.PermissionManageGuild
	textChannels         = []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews}
	minThreshold         = 1.0
	minLimit             = 1.0
	maxLimit             = 25.0
	minAmount            = 1.0
	minZero              = 0.0
)

func subcommand(name, description string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options:     options,
	}
}

func userOption(required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Target user", Required: required,
	}
}

func channelOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: description,
		Required: true, ChannelTypes: textChannels,
	}
}

func amountOption(min *float64) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type: discordgo.ApplicationCommandOptionInteger, Name: "amount", Description: "Number of points",
		Required: true, MinValue: min,
	}
}

// Commands возвращает определения slash-команд для регистрации в приложении.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:                     cmdStarboard,
			Description:              "Configure the starboard",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("setup", "Set the starboard channel",
					channelOption("Channel for promoted messages"),
					&discordgo.ApplicationCommandOption{
						Type: discordgo.ApplicationCommandOptionInteger, Name: "threshold",
						Description: "Reactions needed (default 3)", MinValue: &minThreshold,
					},
					&discordgo.ApplicationCommandOption{
						Type: discordgo.ApplicationCommandOptionString, Name: "emoji", Description: "Emoji to count (default ⭐)",
					},
				),
				subcommand("disable", "Disable the starboard"),
				subcommand("status", "Show starboard settings"),
			},
		},
		{
			Name:                     cmdGitHub,
			Description:              "Route repository events to a channel",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("setup", "Subscribe a channel to a repository",
					&discordgo.ApplicationCommandOption{
						Type: discordgo.ApplicationCommandOptionString, Name: "repository",
						Description: "owner/repo", Required: true,
					},
					channelOption("Channel for notifications"),
					&discordgo.ApplicationCommandOption{
						Type: discordgo.ApplicationCommandOptionString, Name: "events",
						Description: "all or comma list of push, pr, issue, release",
					},
				),
				subcommand("list", "List repository subscriptions"),
				subcommand("remove", "Remove a repository subscription",
					&discordgo.ApplicationCommandOption{
						Type: discordgo.ApplicationCommandOptionString, Name: "repository",
						Description: "owner/repo", Required: true,
					},
				),
			},
		},
		{
			Name:        cmdPoints,
			Description: "View or manage points",
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("view", "Show points", userOption(false)),
				subcommand("set", "Set points", userOption(true), amountOption(&minZero)),
				subcommand("add", "Add points", userOption(true), amountOption(&minAmount)),
				subcommand("remove", "Remove points", userOption(true), amountOption(&minAmount)),
				subcommand("reset", "Reset all points on this server"),
			},
		},
		{
			Name:        cmdLeaderboard,
			Description: "Top members by points",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionInteger, Name: "limit",
					Description: "Number of entries (1-25)", MinValue: &minLimit, MaxValue: maxLimit,
				},
			},
		},
		{
			Name:        cmdXP,
			Description: "Activity rewards",
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("config", "Change reward settings",
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionBoolean, Name: "voice_enabled", Description: "Reward voice time"},
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionInteger, Name: "voice_per_minute", Description: "Points per voice minute", MinValue: &minZero},
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionBoolean, Name: "media_enabled", Description: "Reward media posts"},
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionInteger, Name: "media_amount", Description: "Points per media post", MinValue: &minZero},
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionInteger, Name: "media_cooldown_minutes", Description: "Minutes between rewarded posts", MinValue: &minZero},
				),
				subcommand("media_channel", "Allow or disallow a channel for media rewards",
					channelOption("Channel"),
					&discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionBoolean, Name: "enabled", Description: "Allow the channel", Required: true},
				),
				subcommand("stats", "Show activity statistics", userOption(false)),
				subcommand("status", "Show reward settings"),
			},
		},
	}
}
