package mutes

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
)

// RoleMuteEnforcer applies and removes guild-wide mutes through the single
// configured mute role.
type RoleMuteEnforcer struct {
	registry *Registry
	roles    RoleAssigner
}

func NewRoleMuteEnforcer(registry *Registry, roles RoleAssigner) *RoleMuteEnforcer {
	return &RoleMuteEnforcer{registry: registry, roles: roles}
}

// Apply assigns the mute role to target and records the mute. The record is
// staged before the role-assignment call goes out so that the member-update
// event the call produces finds it; on failure the staged record is rolled
// back.
func (e *RoleMuteEnforcer) Apply(ctx context.Context, guild Guild, role Role, actor, target, bot Member, until *time.Time, reason string) error {
	if actor.UserID != guild.OwnerID && role.Position >= actor.TopRole {
		return ErrRoleHierarchy
	}
	if !bot.Permissions.Has(discord.PermissionManageRoles) || role.Position >= bot.TopRole {
		return ErrPermissions
	}

	rec := GuildMuteRecord{
		GuildID:  guild.ID,
		UserID:   target.UserID,
		AuthorID: actor.UserID,
		Until:    until,
		Reason:   reason,
	}
	e.registry.StageGuildMute(rec)
	if err := e.roles.AddRole(ctx, guild.ID, target.UserID, role.ID, reason); err != nil {
		e.registry.DiscardGuildMute(guild.ID, target.UserID)
		return fmt.Errorf("%w: %v", ErrPermissions, err)
	}
	if err := e.registry.CommitGuildMute(ctx, rec); err != nil {
		return err
	}
	return nil
}

// Remove unassigns the mute role. The record is dropped before the call
// goes out so that the member-update event the call produces is not read as
// a manual unmute; on failure the record is restaged.
func (e *RoleMuteEnforcer) Remove(ctx context.Context, guild Guild, role Role, target, bot Member, reason string) error {
	if !bot.Permissions.Has(discord.PermissionManageRoles) || role.Position >= bot.TopRole {
		return ErrPermissions
	}
	rec, tracked := e.registry.GuildMute(guild.ID, target.UserID)
	e.registry.DiscardGuildMute(guild.ID, target.UserID)
	if err := e.roles.RemoveRole(ctx, guild.ID, target.UserID, role.ID, reason); err != nil {
		if tracked {
			e.registry.StageGuildMute(rec)
		}
		return fmt.Errorf("%w: %v", ErrPermissions, err)
	}
	e.registry.RemoveGuildMute(ctx, guild.ID, target.UserID)
	return nil
}
