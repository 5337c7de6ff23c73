package mutes

import (
	"context"
	"log/slog"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
)

// Audit reasons for state changed outside the engine.
const (
	reasonManualRoleRemoved      = "Manually removed mute role"
	reasonManualRoleApplied      = "Manually applied mute role"
	reasonManualOverwriteRemoved = "Manually removed channel overwrites"
	// RejoinMuteReason is used when the mute role is restored on rejoin.
	RejoinMuteReason = "Previously muted in this server."
)

// Reconciler folds out-of-band state changes back into the registry. The
// gateway listener feeds it member updates, channel updates and member
// joins; manual changes become registry updates plus a synthesized
// moderation case, so engine state and guild state cannot drift apart.
type Reconciler struct {
	svc *Service
}

func NewReconciler(svc *Service) *Reconciler {
	return &Reconciler{svc: svc}
}

// MemberRolesChanged handles a member-update event. A mute role removed by
// hand unmutes the member in the registry; a mute role applied by hand is
// tracked as an indefinite mute. Changes the engine made itself are
// invisible here because mutes are staged before the role call goes out and
// dropped before the unassignment goes out.
func (r *Reconciler) MemberRolesChanged(ctx context.Context, guildID, userID snowflake.ID, oldRoles, newRoles []snowflake.ID) {
	roleID, ok := r.svc.registry.MuteRole(guildID)
	if !ok {
		return
	}
	had := containsID(oldRoles, roleID)
	has := containsID(newRoles, roleID)
	if had == has {
		return
	}

	switch {
	case had && !has:
		if _, tracked := r.svc.registry.GuildMute(guildID, userID); !tracked {
			return
		}
		r.svc.registry.RemoveGuildMute(ctx, guildID, userID)
		r.audit(ctx, ModLogEntry{
			GuildID:   guildID,
			Kind:      CaseServerUnmute,
			UserID:    userID,
			Reason:    reasonManualRoleRemoved,
			CreatedAt: time.Now(),
		})
		r.notify(ctx, guildID, userID, TitleServerUnmute, reasonManualRoleRemoved, nil)

	case has && !had:
		if _, tracked := r.svc.registry.GuildMute(guildID, userID); tracked {
			return
		}
		rec := GuildMuteRecord{
			GuildID: guildID,
			UserID:  userID,
			Reason:  reasonManualRoleApplied,
		}
		if err := r.svc.registry.PutGuildMute(ctx, rec); err != nil {
			slog.Error("Failed to track manual mute",
				slog.String("type", "sys"),
				slog.String("guild_id", guildID.String()),
				slog.String("user_id", userID.String()),
				slog.Any("error", err))
		}
		r.audit(ctx, ModLogEntry{
			GuildID:   guildID,
			Kind:      CaseServerMute,
			UserID:    userID,
			Reason:    reasonManualRoleApplied,
			CreatedAt: time.Now(),
		})
		r.notify(ctx, guildID, userID, TitleServerMute, reasonManualRoleApplied, nil)
	}
}

// ChannelOverwritesChanged handles a channel-update event. Every mute
// tracked in the channel whose overwrite no longer carries the mute denies
// was lifted by hand and is dropped from the registry. While the scheduler
// runs a batched unmute for the guild this blocks, so the engine's own
// overwrite changes are not re-audited.
func (r *Reconciler) ChannelOverwritesChanged(ctx context.Context, guildID, channelID snowflake.ID, before, after map[snowflake.ID]Overwrite) {
	if err := r.svc.latches.Wait(ctx, guildID); err != nil {
		return
	}
	kind, title := CaseChannelUnmute, TitleChannelUnmute
	if ch, err := r.svc.dir.Channel(ctx, channelID); err == nil && ch.Voice {
		kind, title = CaseVoiceUnmute, TitleVoiceUnmute
	}
	for _, rec := range r.svc.registry.ChannelMutes(channelID) {
		cur, hasCur := after[rec.UserID]
		if hasCur && cur.Deny.Has(discord.PermissionSendMessages) && cur.Deny.Has(discord.PermissionSpeak) {
			continue
		}
		prev, hasPrev := before[rec.UserID]
		if !hasPrev || !prev.Deny.Has(discord.PermissionSendMessages) || !prev.Deny.Has(discord.PermissionSpeak) {
			// The overwrite was not changed by this event; the record was
			// already dropped by the engine's own unmute.
			continue
		}

		r.svc.registry.RemoveChannelMute(ctx, channelID, rec.UserID)
		r.audit(ctx, ModLogEntry{
			GuildID:   guildID,
			Kind:      kind,
			UserID:    rec.UserID,
			Reason:    reasonManualOverwriteRemoved,
			ChannelID: channelID,
			CreatedAt: time.Now(),
		})
		r.notify(ctx, guildID, rec.UserID, title, reasonManualOverwriteRemoved, nil)
	}
}

// MemberJoined restores the mute role when a member with a tracked server
// mute rejoins. A mute that expired while the member was gone is dropped
// instead.
func (r *Reconciler) MemberJoined(ctx context.Context, guildID, userID snowflake.ID) {
	rec, ok := r.svc.registry.GuildMute(guildID, userID)
	if !ok {
		return
	}
	if rec.Until != nil && rec.Until.Before(time.Now()) {
		r.svc.registry.RemoveGuildMute(ctx, guildID, userID)
		return
	}
	if err := r.svc.reapplyGuildMute(ctx, guildID, userID); err != nil {
		slog.Warn("Failed to restore mute on rejoin",
			slog.String("type", "sys"),
			slog.String("guild_id", guildID.String()),
			slog.String("user_id", userID.String()),
			slog.Any("error", err))
	}
}

func (r *Reconciler) audit(ctx context.Context, entry ModLogEntry) {
	r.svc.record(ctx, entry)
}

func (r *Reconciler) notify(ctx context.Context, guildID, userID snowflake.ID, title, reason string, until *time.Time) {
	guildName := ""
	if guild, err := r.svc.dir.Guild(ctx, guildID); err == nil {
		guildName = guild.Name
	}
	r.svc.notifier.Send(ctx, Notification{
		GuildID:   guildID,
		GuildName: guildName,
		UserID:    userID,
		Title:     title,
		Reason:    reason,
		Until:     until,
	})
}

func containsID(ids []snowflake.ID, id snowflake.ID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
