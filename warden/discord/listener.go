package discord

import (
	"context"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/ellavondegurechaff/warden/warden/mutes"
)

// handlerTimeout bounds the work done per gateway event.
const handlerTimeout = 30 * time.Second

// ReconcilerListeners wires gateway events into the engine's reconciler:
// member updates for manual mute-role changes, channel updates for manual
// overwrite changes and member joins for mute restoration.
func ReconcilerListeners(rec *mutes.Reconciler) []bot.EventListener {
	return []bot.EventListener{
		bot.NewListenerFunc(func(e *events.GuildMemberUpdate) {
			ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
			defer cancel()
			rec.MemberRolesChanged(ctx, e.GuildID, e.Member.User.ID, e.OldMember.RoleIDs, e.Member.RoleIDs)
		}),
		bot.NewListenerFunc(func(e *events.GuildChannelUpdate) {
			ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
			defer cancel()
			rec.ChannelOverwritesChanged(ctx, e.GuildID, e.ChannelID,
				memberOverwrites(e.OldChannel), memberOverwrites(e.Channel))
		}),
		bot.NewListenerFunc(func(e *events.GuildMemberJoin) {
			ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
			defer cancel()
			rec.MemberJoined(ctx, e.GuildID, e.Member.User.ID)
		}),
	}
}

// memberOverwrites extracts the per-member overwrites of a channel keyed by
// user ID.
func memberOverwrites(ch discord.GuildChannel) map[snowflake.ID]mutes.Overwrite {
	if ch == nil {
		return nil
	}
	out := map[snowflake.ID]mutes.Overwrite{}
	for _, ow := range ch.PermissionOverwrites() {
		if o, ok := ow.(discord.MemberPermissionOverwrite); ok {
			out[o.UserID] = mutes.Overwrite{Allow: o.Allow, Deny: o.Deny}
		}
	}
	return out
}
