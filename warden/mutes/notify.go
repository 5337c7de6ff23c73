package mutes

import (
	"context"
	"log/slog"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/ellavondegurechaff/warden/warden/utils"
)

// DM titles per mute type.
const (
	TitleServerMute    = "Server mute"
	TitleServerUnmute  = "Server unmute"
	TitleChannelMute   = "Channel mute"
	TitleChannelUnmute = "Channel unmute"
	TitleVoiceMute     = "Voice mute"
	TitleVoiceUnmute   = "Voice unmute"
)

const defaultReason = "No reason provided."

const embedColor = 0xe74c3c

// Notification describes one DM to an affected user.
type Notification struct {
	GuildID   snowflake.ID
	GuildName string
	UserID    snowflake.ID
	Moderator string // moderator username; empty when unattributed
	Title     string
	Reason    string
	Until     *time.Time
}

// Notifier builds and delivers mute DMs. Delivery is best-effort: guilds opt
// in per settings, and send failures (closed DMs) are swallowed.
type Notifier struct {
	settings Settings
	msgr     Messenger
}

func NewNotifier(settings Settings, msgr Messenger) *Notifier {
	return &Notifier{settings: settings, msgr: msgr}
}

// Send delivers the notification if the guild has DM notifications enabled.
// It never returns an error; failures must not block enforcement.
func (n *Notifier) Send(ctx context.Context, note Notification) {
	enabled, err := n.settings.DMNotifications(ctx, note.GuildID)
	if err != nil || !enabled {
		return
	}
	showMod, err := n.settings.ShowModerator(ctx, note.GuildID)
	if err != nil {
		showMod = false
	}

	reason := note.Reason
	if reason == "" {
		reason = defaultReason
	}

	builder := discord.NewEmbedBuilder().
		SetTitle(note.Title).
		SetDescription(reason).
		SetColor(embedColor).
		SetTimestamp(time.Now())

	if note.Until != nil {
		builder.AddField("Until", note.Until.UTC().Format("2006-01-02 15:04:05 UTC"), true)
		builder.AddField("Duration", utils.HumanizeDuration(time.Until(*note.Until)), true)
	}
	builder.AddField("Guild", note.GuildName, false)
	if showMod {
		moderator := note.Moderator
		if moderator == "" {
			moderator = "Unknown"
		}
		builder.AddField("Moderator", moderator, false)
	}

	if err := n.msgr.DMUser(ctx, note.UserID, builder.Build()); err != nil {
		slog.Debug("Failed to DM mute notification",
			slog.String("type", "sys"),
			slog.String("guild_id", note.GuildID.String()),
			slog.String("user_id", note.UserID.String()),
			slog.Any("error", err))
	}
}
