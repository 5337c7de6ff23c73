package moderation

import (
	"context"
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
	"github.com/ellavondegurechaff/warden/warden"
	"github.com/ellavondegurechaff/warden/warden/database/models"
	"github.com/ellavondegurechaff/warden/warden/utils"
)

const historyLimit = 15

var MuteHistory = discord.SlashCommandCreate{
	Name:        "mutehistory",
	Description: "Show a user's mute history in this server",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionUser{
			Name:        "user",
			Description: "The user to look up",
			Required:    true,
		},
	},
}

func MuteHistoryHandler(b *warden.Bot) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		if err := requireModerator(e); err != nil {
			return err
		}
		data := e.SlashCommandInteractionData()
		target := data.User("user")

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		entries, err := b.ModLogRepository.ForUser(ctx, *e.GuildID(), target.ID, historyLimit)
		if err != nil {
			return utils.EH.Error(e, "Failed to load the mute history.")
		}
		if len(entries) == 0 {
			return utils.EH.Success(e, "📋 Mute history",
				fmt.Sprintf("%s has no recorded mute cases.", utils.Mention(target.ID)))
		}

		var sb strings.Builder
		for _, entry := range entries {
			sb.WriteString(historyLine(entry))
			sb.WriteByte('\n')
		}
		return utils.EH.Success(e,
			fmt.Sprintf("📋 Mute history (last %d)", len(entries)),
			sb.String())
	}
}

func historyLine(entry models.ModLogEntry) string {
	line := fmt.Sprintf("<t:%d:d> **%s**", entry.CreatedAt.Unix(), entry.Kind)
	if entry.ModeratorID != "" {
		line += fmt.Sprintf(" by <@%s>", entry.ModeratorID)
	}
	if entry.ChannelID != "" {
		line += fmt.Sprintf(" in <#%s>", entry.ChannelID)
	}
	if entry.Reason != "" {
		line += " — " + entry.Reason
	}
	return line
}
