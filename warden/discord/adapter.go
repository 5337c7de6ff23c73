// Package discord backs the engine's gateway interfaces with disgo.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/ellavondegurechaff/warden/warden/mutes"
)

// Adapter implements mutes.Directory, mutes.RoleAssigner,
// mutes.OverwriteEditor, mutes.VoiceMover and mutes.Messenger on top of a
// disgo client.
type Adapter struct {
	client bot.Client
}

func NewAdapter(client bot.Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) Guild(ctx context.Context, guildID snowflake.ID) (mutes.Guild, error) {
	guild, err := a.client.Rest().GetGuild(guildID, false, rest.WithCtx(ctx))
	if err != nil {
		return mutes.Guild{}, fmt.Errorf("failed to fetch guild %s: %w", guildID, err)
	}
	return mutes.Guild{
		ID:      guild.ID,
		Name:    guild.Name,
		OwnerID: guild.OwnerID,
	}, nil
}

func (a *Adapter) Member(ctx context.Context, guildID, userID snowflake.ID) (mutes.Member, error) {
	member, err := a.client.Rest().GetMember(guildID, userID, rest.WithCtx(ctx))
	if err != nil {
		if isNotFound(err) {
			return mutes.Member{}, fmt.Errorf("%w: user %s", mutes.ErrTargetGone, userID)
		}
		return mutes.Member{}, fmt.Errorf("failed to fetch member %s: %w", userID, err)
	}
	guild, err := a.client.Rest().GetGuild(guildID, false, rest.WithCtx(ctx))
	if err != nil {
		return mutes.Member{}, fmt.Errorf("failed to fetch guild %s: %w", guildID, err)
	}
	roles, err := a.client.Rest().GetRoles(guildID, rest.WithCtx(ctx))
	if err != nil {
		return mutes.Member{}, fmt.Errorf("failed to fetch roles for guild %s: %w", guildID, err)
	}
	return buildMember(guildID, guild.OwnerID, *member, roles), nil
}

func (a *Adapter) BotMember(ctx context.Context, guildID snowflake.ID) (mutes.Member, error) {
	return a.Member(ctx, guildID, a.client.ApplicationID())
}

func (a *Adapter) Role(ctx context.Context, guildID, roleID snowflake.ID) (mutes.Role, error) {
	roles, err := a.client.Rest().GetRoles(guildID, rest.WithCtx(ctx))
	if err != nil {
		return mutes.Role{}, fmt.Errorf("failed to fetch roles for guild %s: %w", guildID, err)
	}
	for _, role := range roles {
		if role.ID == roleID {
			return mutes.Role{ID: role.ID, Name: role.Name, Position: role.Position}, nil
		}
	}
	return mutes.Role{}, fmt.Errorf("role %s not found in guild %s", roleID, guildID)
}

func (a *Adapter) Channels(ctx context.Context, guildID snowflake.ID) ([]mutes.Channel, error) {
	channels, err := a.client.Rest().GetGuildChannels(guildID, rest.WithCtx(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch channels for guild %s: %w", guildID, err)
	}
	out := make([]mutes.Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.Type() == discord.ChannelTypeGuildCategory {
			continue
		}
		out = append(out, mutes.Channel{
			ID:      ch.ID(),
			GuildID: guildID,
			Name:    ch.Name(),
			Voice:   isVoice(ch.Type()),
		})
	}
	return out, nil
}

func (a *Adapter) Channel(ctx context.Context, channelID snowflake.ID) (mutes.Channel, error) {
	ch, err := a.client.Rest().GetChannel(channelID, rest.WithCtx(ctx))
	if err != nil {
		return mutes.Channel{}, fmt.Errorf("failed to fetch channel %s: %w", channelID, err)
	}
	gc, ok := ch.(discord.GuildChannel)
	if !ok {
		return mutes.Channel{}, fmt.Errorf("channel %s is not a guild channel", channelID)
	}
	return mutes.Channel{
		ID:      gc.ID(),
		GuildID: gc.GuildID(),
		Name:    gc.Name(),
		Voice:   isVoice(gc.Type()),
	}, nil
}

// BotChannelPermissions computes the bot's effective permissions in a
// channel: guild-wide role permissions with the channel's overwrites
// applied, everyone first, then roles, then the member overwrite.
func (a *Adapter) BotChannelPermissions(ctx context.Context, channelID snowflake.ID) (discord.Permissions, error) {
	ch, err := a.client.Rest().GetChannel(channelID, rest.WithCtx(ctx))
	if err != nil {
		return 0, fmt.Errorf("failed to fetch channel %s: %w", channelID, err)
	}
	gc, ok := ch.(discord.GuildChannel)
	if !ok {
		return 0, fmt.Errorf("channel %s is not a guild channel", channelID)
	}

	bot, err := a.BotMember(ctx, gc.GuildID())
	if err != nil {
		return 0, err
	}
	if bot.Permissions.Has(discord.PermissionAdministrator) {
		return discord.PermissionsAll, nil
	}

	perms := bot.Permissions
	var everyoneOw, memberOw *mutes.Overwrite
	var roleAllow, roleDeny discord.Permissions
	for _, ow := range gc.PermissionOverwrites() {
		switch o := ow.(type) {
		case discord.RolePermissionOverwrite:
			if o.RoleID == gc.GuildID() {
				everyoneOw = &mutes.Overwrite{Allow: o.Allow, Deny: o.Deny}
			} else if bot.HasRole(o.RoleID) {
				roleAllow |= o.Allow
				roleDeny |= o.Deny
			}
		case discord.MemberPermissionOverwrite:
			if o.UserID == bot.UserID {
				memberOw = &mutes.Overwrite{Allow: o.Allow, Deny: o.Deny}
			}
		}
	}
	if everyoneOw != nil {
		perms = perms&^everyoneOw.Deny | everyoneOw.Allow
	}
	perms = perms&^roleDeny | roleAllow
	if memberOw != nil {
		perms = perms&^memberOw.Deny | memberOw.Allow
	}
	return perms, nil
}

func (a *Adapter) AddRole(ctx context.Context, guildID, userID, roleID snowflake.ID, reason string) error {
	if err := a.client.Rest().AddMemberRole(guildID, userID, roleID, rest.WithCtx(ctx), rest.WithReason(reason)); err != nil {
		return fmt.Errorf("failed to add role %s to %s: %w", roleID, userID, err)
	}
	return nil
}

func (a *Adapter) RemoveRole(ctx context.Context, guildID, userID, roleID snowflake.ID, reason string) error {
	if err := a.client.Rest().RemoveMemberRole(guildID, userID, roleID, rest.WithCtx(ctx), rest.WithReason(reason)); err != nil {
		return fmt.Errorf("failed to remove role %s from %s: %w", roleID, userID, err)
	}
	return nil
}

func (a *Adapter) Overwrite(ctx context.Context, channelID, userID snowflake.ID) (mutes.Overwrite, bool, error) {
	ch, err := a.client.Rest().GetChannel(channelID, rest.WithCtx(ctx))
	if err != nil {
		return mutes.Overwrite{}, false, fmt.Errorf("failed to fetch channel %s: %w", channelID, err)
	}
	gc, ok := ch.(discord.GuildChannel)
	if !ok {
		return mutes.Overwrite{}, false, fmt.Errorf("channel %s is not a guild channel", channelID)
	}
	for _, ow := range gc.PermissionOverwrites() {
		if o, ok := ow.(discord.MemberPermissionOverwrite); ok && o.UserID == userID {
			return mutes.Overwrite{Allow: o.Allow, Deny: o.Deny}, true, nil
		}
	}
	return mutes.Overwrite{}, false, nil
}

func (a *Adapter) SetOverwrite(ctx context.Context, channelID, userID snowflake.ID, ow mutes.Overwrite, reason string) error {
	allow, deny := ow.Allow, ow.Deny
	update := discord.MemberPermissionOverwriteUpdate{Allow: &allow, Deny: &deny}
	if err := a.client.Rest().UpdatePermissionOverwrite(channelID, userID, update, rest.WithCtx(ctx), rest.WithReason(reason)); err != nil {
		return fmt.Errorf("failed to update overwrite in %s: %w", channelID, err)
	}
	return nil
}

func (a *Adapter) ClearOverwrite(ctx context.Context, channelID, userID snowflake.ID, reason string) error {
	if err := a.client.Rest().DeletePermissionOverwrite(channelID, userID, rest.WithCtx(ctx), rest.WithReason(reason)); err != nil {
		return fmt.Errorf("failed to delete overwrite in %s: %w", channelID, err)
	}
	return nil
}

func (a *Adapter) SetRoleOverwrite(ctx context.Context, channelID, roleID snowflake.ID, ow mutes.Overwrite, reason string) error {
	allow, deny := ow.Allow, ow.Deny
	update := discord.RolePermissionOverwriteUpdate{Allow: &allow, Deny: &deny}
	if err := a.client.Rest().UpdatePermissionOverwrite(channelID, roleID, update, rest.WithCtx(ctx), rest.WithReason(reason)); err != nil {
		return fmt.Errorf("failed to update role overwrite in %s: %w", channelID, err)
	}
	return nil
}

func (a *Adapter) VoiceChannel(guildID, userID snowflake.ID) (snowflake.ID, bool) {
	state, ok := a.client.Caches().VoiceState(guildID, userID)
	if !ok || state.ChannelID == nil {
		return 0, false
	}
	return *state.ChannelID, true
}

// Reconnect moves the member to the channel they are already in, which
// forces the gateway to re-evaluate their voice permissions.
func (a *Adapter) Reconnect(ctx context.Context, guildID, userID snowflake.ID) error {
	channelID, ok := a.VoiceChannel(guildID, userID)
	if !ok {
		return nil
	}
	_, err := a.client.Rest().UpdateMember(guildID, userID, discord.MemberUpdate{ChannelID: &channelID}, rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to bounce voice connection of %s: %w", userID, err)
	}
	return nil
}

func (a *Adapter) DMUser(ctx context.Context, userID snowflake.ID, embed discord.Embed) error {
	dmChannel, err := a.client.Rest().CreateDMChannel(userID, rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to open DM channel to %s: %w", userID, err)
	}
	_, err = a.client.Rest().CreateMessage(dmChannel.ID(), discord.MessageCreate{
		Embeds: []discord.Embed{embed},
	}, rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to DM %s: %w", userID, err)
	}
	return nil
}

func (a *Adapter) SendToChannel(ctx context.Context, channelID snowflake.ID, content string) error {
	_, err := a.client.Rest().CreateMessage(channelID, discord.MessageCreate{
		Content: content,
	}, rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to send to channel %s: %w", channelID, err)
	}
	return nil
}

// buildMember flattens a disgo member into the engine's view: the highest
// role position and the OR of the member's role permissions, with owner and
// administrator promoted to all permissions.
func buildMember(guildID, ownerID snowflake.ID, member discord.Member, roles []discord.Role) mutes.Member {
	byID := make(map[snowflake.ID]discord.Role, len(roles))
	for _, role := range roles {
		byID[role.ID] = role
	}

	var perms discord.Permissions
	var topRole int
	// The everyone role shares the guild's ID and applies to every member.
	if everyone, ok := byID[guildID]; ok {
		perms = everyone.Permissions
	}
	for _, roleID := range member.RoleIDs {
		role, ok := byID[roleID]
		if !ok {
			continue
		}
		perms |= role.Permissions
		if role.Position > topRole {
			topRole = role.Position
		}
	}
	if member.User.ID == ownerID || perms.Has(discord.PermissionAdministrator) {
		perms = discord.PermissionsAll
	}

	return mutes.Member{
		GuildID:     guildID,
		UserID:      member.User.ID,
		Username:    member.User.Username,
		RoleIDs:     member.RoleIDs,
		TopRole:     topRole,
		Permissions: perms,
	}
}

func isVoice(t discord.ChannelType) bool {
	return t == discord.ChannelTypeGuildVoice || t == discord.ChannelTypeGuildStageVoice
}

func isNotFound(err error) bool {
	var restErr rest.Error
	return errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}
