package mutes

import (
	"context"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
)

// The engine talks to the platform exclusively through the narrow interfaces
// below. The disgo-backed implementations live in the warden/discord package;
// the tests substitute in-memory fakes.

// Guild is the slice of guild state the engine needs.
type Guild struct {
	ID      snowflake.ID
	Name    string
	OwnerID snowflake.ID
}

// Member is the slice of member state the engine needs. TopRole is the
// position of the member's highest role; Permissions are the member's
// guild-wide permissions.
type Member struct {
	GuildID     snowflake.ID
	UserID      snowflake.ID
	Username    string
	RoleIDs     []snowflake.ID
	TopRole     int
	Permissions discord.Permissions
}

func (m Member) HasRole(roleID snowflake.ID) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

type Role struct {
	ID       snowflake.ID
	Name     string
	Position int
}

type Channel struct {
	ID      snowflake.ID
	GuildID snowflake.ID
	Name    string
	Voice   bool
}

// Directory resolves guild state. Implementations should return
// ErrTargetGone (possibly wrapped) from Member when the user is no longer in
// the guild.
type Directory interface {
	Guild(ctx context.Context, guildID snowflake.ID) (Guild, error)
	Member(ctx context.Context, guildID, userID snowflake.ID) (Member, error)
	BotMember(ctx context.Context, guildID snowflake.ID) (Member, error)
	Role(ctx context.Context, guildID, roleID snowflake.ID) (Role, error)
	Channels(ctx context.Context, guildID snowflake.ID) ([]Channel, error)
	Channel(ctx context.Context, channelID snowflake.ID) (Channel, error)
	BotChannelPermissions(ctx context.Context, channelID snowflake.ID) (discord.Permissions, error)
}

// RoleAssigner assigns and unassigns the mute role.
type RoleAssigner interface {
	AddRole(ctx context.Context, guildID, userID, roleID snowflake.ID, reason string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID snowflake.ID, reason string) error
}

// OverwriteEditor reads and writes per-member channel permission overwrites.
type OverwriteEditor interface {
	// Overwrite returns the channel's member overwrite for userID, if any.
	Overwrite(ctx context.Context, channelID, userID snowflake.ID) (Overwrite, bool, error)
	SetOverwrite(ctx context.Context, channelID, userID snowflake.ID, ow Overwrite, reason string) error
	ClearOverwrite(ctx context.Context, channelID, userID snowflake.ID, reason string) error
	// SetRoleOverwrite writes a role-scoped overwrite, used when
	// provisioning the mute role across a guild's channels.
	SetRoleOverwrite(ctx context.Context, channelID, roleID snowflake.ID, ow Overwrite, reason string) error
}

// VoiceMover reports live voice connections and can bounce one so that
// changed permissions bind immediately.
type VoiceMover interface {
	VoiceChannel(guildID, userID snowflake.ID) (snowflake.ID, bool)
	Reconnect(ctx context.Context, guildID, userID snowflake.ID) error
}

// Messenger delivers user DMs and notification-channel messages.
type Messenger interface {
	DMUser(ctx context.Context, userID snowflake.ID, embed discord.Embed) error
	SendToChannel(ctx context.Context, channelID snowflake.ID, content string) error
}

// ModLogEntry is one moderation-history case. ModeratorID and ChannelID are
// zero when not applicable; Kind is one of the smute/sunmute/cmute/cunmute/
// vmute/vunmute case kinds.
type ModLogEntry struct {
	GuildID     snowflake.ID
	Kind        string
	UserID      snowflake.ID
	ModeratorID snowflake.ID
	Reason      string
	Until       *time.Time
	ChannelID   snowflake.ID
	CreatedAt   time.Time
}

// ModLog records moderation cases, including ones synthesized for state
// changes made outside the engine.
type ModLog interface {
	Record(ctx context.Context, entry ModLogEntry) error
}

// Case kinds, matching the moderation-history convention: s = server,
// c = channel, v = voice.
const (
	CaseServerMute    = "smute"
	CaseServerUnmute  = "sunmute"
	CaseChannelMute   = "cmute"
	CaseChannelUnmute = "cunmute"
	CaseVoiceMute     = "vmute"
	CaseVoiceUnmute   = "vunmute"
)

// Store is the durable mirror behind the in-memory registry.
type Store interface {
	AllGuildMutes(ctx context.Context) ([]GuildMuteRecord, error)
	AllChannelMutes(ctx context.Context) ([]ChannelMuteRecord, error)
	UpsertGuildMute(ctx context.Context, rec GuildMuteRecord) error
	DeleteGuildMute(ctx context.Context, guildID, userID snowflake.ID) error
	UpsertChannelMute(ctx context.Context, rec ChannelMuteRecord) error
	DeleteChannelMute(ctx context.Context, channelID, userID snowflake.ID) error
}

// Settings exposes the per-guild preferences the engine consults. A zero
// snowflake means "not configured".
type Settings interface {
	NotificationChannel(ctx context.Context, guildID snowflake.ID) (snowflake.ID, error)
	ModLogChannel(ctx context.Context, guildID snowflake.ID) (snowflake.ID, error)
	DMNotifications(ctx context.Context, guildID snowflake.ID) (bool, error)
	ShowModerator(ctx context.Context, guildID snowflake.ID) (bool, error)
}
