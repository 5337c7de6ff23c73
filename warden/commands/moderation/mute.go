package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
	"github.com/ellavondegurechaff/warden/warden"
	"github.com/ellavondegurechaff/warden/warden/mutes"
	"github.com/ellavondegurechaff/warden/warden/utils"
)

const commandTimeout = 2 * time.Minute

var Mute = discord.SlashCommandCreate{
	Name:        "mute",
	Description: "Mute a user across the whole server",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionUser{
			Name:        "user",
			Description: "The user to mute",
			Required:    true,
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

var Unmute = discord.SlashCommandCreate{
	Name:        "unmute",
	Description: "Unmute a user across the whole server",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionUser{
			Name:        "user",
			Description: "The user to unmute",
			Required:    true,
		},
		discord.ApplicationCommandOptionString{
			Name:        "reason",
			Description: "Why the user is being unmuted",
		},
	},
}

func MuteHandler(b *warden.Bot) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		if err := requireModerator(e); err != nil {
			return err
		}
		data := e.SlashCommandInteractionData()
		target := data.User("user")
		reason, _ := data.OptString("reason")

		until, err := resolveDeadline(b, e, data)
		if err != nil {
			return utils.EH.Error(e, err.Error())
		}

		if err := e.DeferCreateMessage(false); err != nil {
			return fmt.Errorf("failed to defer message: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		res, err := b.MuteService.MuteUser(ctx, *e.GuildID(), target.ID, e.User().ID, until, reason)
		if err != nil {
			return utils.EH.UpdateError(e, friendlyError(err))
		}
		return reportResult(e, res, fmt.Sprintf("%s has been muted", utils.Mention(target.ID)), until)
	}
}

func UnmuteHandler(b *warden.Bot) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		if err := requireModerator(e); err != nil {
			return err
		}
		data := e.SlashCommandInteractionData()
		target := data.User("user")
		reason, _ := data.OptString("reason")

		if err := e.DeferCreateMessage(false); err != nil {
			return fmt.Errorf("failed to defer message: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		res, err := b.MuteService.UnmuteUser(ctx, *e.GuildID(), target.ID, e.User().ID, reason)
		if err != nil {
			return utils.EH.UpdateError(e, friendlyError(err))
		}
		return reportResult(e, res, fmt.Sprintf("%s has been unmuted", utils.Mention(target.ID)), nil)
	}
}

// requireModerator rejects callers without moderation permissions before any
// engine checks run.
func requireModerator(e *handler.CommandEvent) error {
	member := e.Member()
	if member == nil {
		return utils.EH.Error(e, "This command can only be used in a server.")
	}
	if !member.Permissions.Has(discord.PermissionModerateMembers) &&
		!member.Permissions.Has(discord.PermissionManageRoles) {
		return utils.EH.Error(e, "You need the Moderate Members permission to use this command.")
	}
	return nil
}

// resolveDeadline turns the duration option into an absolute deadline,
// falling back to the guild's default mute duration when the option is
// omitted.
func resolveDeadline(b *warden.Bot, e *handler.CommandEvent, data discord.SlashCommandInteractionData) (*time.Time, error) {
	if durStr, ok := data.OptString("duration"); ok {
		d, err := utils.ParseDuration(durStr)
		if err != nil {
			return nil, fmt.Errorf("could not parse duration: %w", err)
		}
		t := time.Now().Add(d)
		return &t, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if d, err := b.SettingsRepository.DefaultMuteDuration(ctx, *e.GuildID()); err == nil && d > 0 {
		t := time.Now().Add(d)
		return &t, nil
	}
	return nil, nil
}

// reportResult renders the outcome of a mute or unmute, listing channels the
// fan-out could not change.
func reportResult(e *handler.CommandEvent, res mutes.Result, headline string, until *time.Time) error {
	description := headline
	if until != nil {
		description += fmt.Sprintf(" until <t:%d:F>", until.Unix())
	}
	description += "."
	if res.Reason != "" {
		description += "\n" + res.Reason
	}

	if len(res.ChannelFailures) == 0 {
		return utils.EH.UpdateSuccess(e, "✅ Done", description)
	}

	var sb strings.Builder
	sb.WriteString(description)
	sb.WriteString("\n\nSome channels could not be changed:\n")
	for _, f := range res.ChannelFailures {
		fmt.Fprintf(&sb, "• <#%s>: %s\n", f.ChannelID, f.Err)
	}
	return utils.EH.UpdateWarning(e, "⚠️ Partially done", sb.String())
}

func friendlyError(err error) string {
	switch {
	case errors.Is(err, mutes.ErrHierarchy),
		errors.Is(err, mutes.ErrRoleHierarchy),
		errors.Is(err, mutes.ErrAdministrator),
		errors.Is(err, mutes.ErrPermissions),
		errors.Is(err, mutes.ErrAlreadyMuted),
		errors.Is(err, mutes.ErrAlreadyUnmuted),
		errors.Is(err, mutes.ErrRoleMissing),
		errors.Is(err, mutes.ErrTargetGone):
		return capitalize(err.Error()) + "."
	default:
		return "Something went wrong talking to Discord. Please try again."
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
