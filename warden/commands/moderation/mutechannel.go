package moderation

import (
	"context"
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
	"github.com/disgoorg/snowflake/v2"
	"github.com/ellavondegurechaff/warden/warden"
	"github.com/ellavondegurechaff/warden/warden/utils"
)

var MuteChannel = discord.SlashCommandCreate{
	Name:        "mutechannel",
	Description: "Mute a user in one channel",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionUser{
			Name:        "user",
			Description: "The user to mute",
			Required:    true,
		},
		discord.ApplicationCommandOptionChannel{
			Name:        "channel",
			Description: "The channel to mute in (this channel if omitted)",
		},
		discord.ApplicationCommandOptionString{
			Name:        "duration",
			Description: "How long to mute for, like 10m or 1d2h (indefinite if omitted)",
		},
		discord.ApplicationCommandOptionString{
			Name:        "reason",
			Description: "Why the user is being muted",
		},
	},
}

var UnmuteChannel = discord.SlashCommandCreate{
	Name:        "unmutechannel",
	Description: "Unmute a user in one channel",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionUser{
			Name:        "user",
			Description: "The user to unmute",
			Required:    true,
		},
		discord.ApplicationCommandOptionChannel{
			Name:        "channel",
			Description: "The channel to unmute in (this channel if omitted)",
		},
		discord.ApplicationCommandOptionString{
			Name:        "reason",
			Description: "Why the user is being unmuted",
		},
	},
}

func MuteChannelHandler(b *warden.Bot) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		if err := requireModerator(e); err != nil {
			return err
		}
		data := e.SlashCommandInteractionData()
		target := data.User("user")
		reason, _ := data.OptString("reason")
		channelID := optionChannelID(e, data)

		until, err := resolveDeadline(b, e, data)
		if err != nil {
			return utils.EH.Error(e, err.Error())
		}

		if err := e.DeferCreateMessage(false); err != nil {
			return fmt.Errorf("failed to defer message: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		res, err := b.MuteService.ChannelMuteUser(ctx, *e.GuildID(), channelID, target.ID, e.User().ID, until, reason)
		if err != nil {
			return utils.EH.UpdateError(e, friendlyError(err))
		}
		headline := fmt.Sprintf("%s has been muted in <#%s>", utils.Mention(target.ID), channelID)
		return reportResult(e, res, headline, until)
	}
}

func UnmuteChannelHandler(b *warden.Bot) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		if err := requireModerator(e); err != nil {
			return err
		}
		data := e.SlashCommandInteractionData()
		target := data.User("user")
		reason, _ := data.OptString("reason")
		channelID := optionChannelID(e, data)

		if err := e.DeferCreateMessage(false); err != nil {
			return fmt.Errorf("failed to defer message: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		res, err := b.MuteService.ChannelUnmuteUser(ctx, *e.GuildID(), channelID, target.ID, e.User().ID, reason)
		if err != nil {
			return utils.EH.UpdateError(e, friendlyError(err))
		}
		headline := fmt.Sprintf("%s has been unmuted in <#%s>", utils.Mention(target.ID), channelID)
		return reportResult(e, res, headline, nil)
	}
}

func optionChannelID(e *handler.CommandEvent, data discord.SlashCommandInteractionData) snowflake.ID {
	if ch, ok := data.OptChannel("channel"); ok {
		return ch.ID
	}
	return e.ChannelID()
}
