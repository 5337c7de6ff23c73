package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
	"github.com/ellavondegurechaff/warden/warden"
	"github.com/ellavondegurechaff/warden/warden/utils"
)

var MuteSet = discord.SlashCommandCreate{
	Name:        "muteset",
	Description: "Configure how mutes work in this server",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionSubCommand{
			Name:        "role",
			Description: "Set or clear the mute role",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionRole{
					Name:        "role",
					Description: "The role to use for mutes (omit to clear and use channel overwrites)",
				},
			},
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "setuprole",
			Description: "Write the mute role's deny overwrites to every channel",
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "notifications",
			Description: "Set the channel for unmute failure reports",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionChannel{
					Name:        "channel",
					Description: "The channel to report to (omit to clear)",
				},
			},
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "modlog",
			Description: "Set the channel where moderation cases are posted",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionChannel{
					Name:        "channel",
					Description: "The channel to post cases to (omit to clear)",
				},
			},
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "dm",
			Description: "Toggle DM notifications for muted users",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionBool{
					Name:        "enabled",
					Description: "Whether to DM users when they are muted or unmuted",
					Required:    true,
				},
			},
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "showmoderator",
			Description: "Toggle showing the moderator's name in mute DMs",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionBool{
					Name:        "enabled",
					Description: "Whether DMs name the acting moderator",
					Required:    true,
				},
			},
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "settings",
			Description: "Show the current mute settings",
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "defaultduration",
			Description: "Set the duration used when /mute is called without one",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:        "duration",
					Description: "Duration like 10m or 1d (omit to clear)",
				},
			},
		},
	},
}

func MuteSetHandler(b *warden.Bot) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		member := e.Member()
		if member == nil {
			return utils.EH.Error(e, "This command can only be used in a server.")
		}
		if !member.Permissions.Has(discord.PermissionManageGuild) {
			return utils.EH.Error(e, "You need the Manage Server permission to use this command.")
		}

		data := e.SlashCommandInteractionData()
		guildID := *e.GuildID()
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		sub := ""
		if data.SubCommandName != nil {
			sub = *data.SubCommandName
		}
		switch sub {
		case "role":
			if role, ok := data.OptRole("role"); ok {
				if err := b.SettingsRepository.SetMuteRole(ctx, guildID, role.ID); err != nil {
					return utils.EH.Error(e, "Failed to save the mute role.")
				}
				b.MuteService.SetMuteRole(guildID, role.ID)
				return utils.EH.Success(e, "✅ Mute role set",
					fmt.Sprintf("New mutes will assign <@&%s>. Run `/muteset setuprole` to write its channel overwrites.", role.ID))
			}
			if err := b.SettingsRepository.SetMuteRole(ctx, guildID, 0); err != nil {
				return utils.EH.Error(e, "Failed to clear the mute role.")
			}
			b.MuteService.SetMuteRole(guildID, 0)
			return utils.EH.Success(e, "✅ Mute role cleared",
				"New mutes will use per-channel overwrites.")

		case "setuprole":
			roleID, ok := b.MuteService.Registry().MuteRole(guildID)
			if !ok {
				return utils.EH.Error(e, "No mute role is configured. Set one with `/muteset role` first.")
			}
			if err := e.DeferCreateMessage(false); err != nil {
				return fmt.Errorf("failed to defer message: %w", err)
			}
			skipped, err := b.MuteService.SetupMuteRole(ctx, guildID, roleID)
			if err != nil {
				return utils.EH.UpdateError(e, "Failed to set up the mute role overwrites.")
			}
			if len(skipped) == 0 {
				return utils.EH.UpdateSuccess(e, "✅ Mute role set up",
					"The mute role's deny overwrites were written to every channel.")
			}
			names := make([]string, len(skipped))
			for i, ch := range skipped {
				names[i] = ch.Name
			}
			return utils.EH.UpdateWarning(e, "⚠️ Mute role partially set up",
				"Could not edit these channels: "+strings.Join(names, ", "))

		case "notifications":
			if ch, ok := data.OptChannel("channel"); ok {
				if err := b.SettingsRepository.SetNotificationChannel(ctx, guildID, ch.ID); err != nil {
					return utils.EH.Error(e, "Failed to save the notification channel.")
				}
				return utils.EH.Success(e, "✅ Notification channel set",
					fmt.Sprintf("Unmute failures will be reported to <#%s>.", ch.ID))
			}
			if err := b.SettingsRepository.SetNotificationChannel(ctx, guildID, 0); err != nil {
				return utils.EH.Error(e, "Failed to clear the notification channel.")
			}
			return utils.EH.Success(e, "✅ Notification channel cleared",
				"Unmute failures will only be logged.")

		case "modlog":
			if ch, ok := data.OptChannel("channel"); ok {
				if err := b.SettingsRepository.SetModLogChannel(ctx, guildID, ch.ID); err != nil {
					return utils.EH.Error(e, "Failed to save the modlog channel.")
				}
				return utils.EH.Success(e, "✅ Modlog channel set",
					fmt.Sprintf("Moderation cases will be posted to <#%s>.", ch.ID))
			}
			if err := b.SettingsRepository.SetModLogChannel(ctx, guildID, 0); err != nil {
				return utils.EH.Error(e, "Failed to clear the modlog channel.")
			}
			return utils.EH.Success(e, "✅ Modlog channel cleared",
				"Moderation cases will only be stored.")

		case "dm":
			enabled := data.Bool("enabled")
			if err := b.SettingsRepository.SetDMNotifications(ctx, guildID, enabled); err != nil {
				return utils.EH.Error(e, "Failed to save the DM setting.")
			}
			state := "disabled"
			if enabled {
				state = "enabled"
			}
			return utils.EH.Success(e, "✅ DM notifications "+state,
				fmt.Sprintf("Users will %sbe sent a DM when muted or unmuted.", map[bool]string{true: "", false: "no longer "}[enabled]))

		case "showmoderator":
			enabled := data.Bool("enabled")
			if err := b.SettingsRepository.SetShowModerator(ctx, guildID, enabled); err != nil {
				return utils.EH.Error(e, "Failed to save the moderator visibility setting.")
			}
			state := "hidden from"
			if enabled {
				state = "shown in"
			}
			return utils.EH.Success(e, "✅ Setting saved",
				"The acting moderator will be "+state+" mute DMs.")

		case "settings":
			s, err := b.SettingsRepository.Get(ctx, guildID)
			if err != nil {
				return utils.EH.Error(e, "Failed to load the mute settings.")
			}
			var sb strings.Builder
			sb.WriteString("Mute role: " + channelOrRole("<@&%s>", s.MuteRoleID, "none (channel overwrites)") + "\n")
			sb.WriteString("Notification channel: " + channelOrRole("<#%s>", s.NotificationChannelID, "none") + "\n")
			sb.WriteString("Modlog channel: " + channelOrRole("<#%s>", s.ModLogChannelID, "none") + "\n")
			sb.WriteString(fmt.Sprintf("DM notifications: %t\n", s.DMNotifications))
			sb.WriteString(fmt.Sprintf("Show moderator in DMs: %t\n", s.ShowModerator))
			if s.DefaultMuteSeconds > 0 {
				sb.WriteString("Default duration: " + utils.HumanizeDuration(time.Duration(s.DefaultMuteSeconds)*time.Second) + "\n")
			} else {
				sb.WriteString("Default duration: indefinite\n")
			}
			return utils.EH.Success(e, "🔧 Mute settings", sb.String())

		case "defaultduration":
			if durStr, ok := data.OptString("duration"); ok {
				d, err := utils.ParseDuration(durStr)
				if err != nil {
					return utils.EH.Error(e, "Could not parse that duration.")
				}
				if err := b.SettingsRepository.SetDefaultMuteDuration(ctx, guildID, d); err != nil {
					return utils.EH.Error(e, "Failed to save the default duration.")
				}
				return utils.EH.Success(e, "✅ Default duration set",
					fmt.Sprintf("Mutes without a duration will last %s.", utils.HumanizeDuration(d)))
			}
			if err := b.SettingsRepository.SetDefaultMuteDuration(ctx, guildID, 0); err != nil {
				return utils.EH.Error(e, "Failed to clear the default duration.")
			}
			return utils.EH.Success(e, "✅ Default duration cleared",
				"Mutes without a duration will be indefinite.")

		default:
			return utils.EH.Error(e, "Unknown subcommand.")
		}
	}
}

// channelOrRole formats a stored snowflake as a mention, or falls back when
// the setting is empty.
func channelOrRole(format, id, fallback string) string {
	if id == "" {
		return fallback
	}
	return fmt.Sprintf(format, id)
}
