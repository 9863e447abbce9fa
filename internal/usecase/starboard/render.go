package starboard

import (
	"fmt"

	"guild-rewards-bot/internal/domain"
)

const embedColor = 0xFFAC33

// JumpURL возвращает ссылку на исходное сообщение.
func JumpURL(guildID, channelID, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

// Render собирает копию сообщения для ленты.
func Render(pm domain.PromotedMessage, src domain.SourceMessage, count int) domain.OutboundMessage {
	emoji := pm.EmojiKey
	if emoji == "" {
		emoji = domain.DefaultStarEmoji
	}
	link := JumpURL(pm.GuildID, pm.SourceChannelID, pm.SourceMessageID)
	embed := domain.Embed{
		Description:   src.Content,
		Color:         embedColor,
		AuthorName:    src.AuthorName,
		AuthorIconURL: src.AuthorAvatarURL,
		ImageURL:      src.ImageURL,
		Fields: []domain.EmbedField{
			{Name: "Source", Value: fmt.Sprintf("[Jump to message](%s)", link)},
		},
		Footer:    pm.SourceMessageID,
		Timestamp: src.CreatedAt,
	}
	return domain.OutboundMessage{
		Content: fmt.Sprintf("%s **%d** | <#%s>", emoji, count, pm.SourceChannelID),
		Embeds:  []domain.Embed{embed},
	}
}
