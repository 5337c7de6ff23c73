package mutes

import (
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
)

// MuteDenied is the set of permissions withheld from a muted user. A user is
// considered muted in a channel only while all of these are denied.
const MuteDenied = discord.PermissionSendMessages | discord.PermissionAddReactions | discord.PermissionSpeak

// GuildMuteRecord tracks a user muted across an entire guild via the
// configured mute role.
type GuildMuteRecord struct {
	GuildID  snowflake.ID
	UserID   snowflake.ID
	AuthorID snowflake.ID
	Until    *time.Time
	Reason   string
}

// ChannelMuteRecord tracks a user muted in a single channel via a permission
// overwrite. Snapshot holds the mute-managed overwrite bits the user had
// before the mute so an unmute can restore them exactly.
type ChannelMuteRecord struct {
	GuildID   snowflake.ID
	ChannelID snowflake.ID
	UserID    snowflake.ID
	AuthorID  snowflake.ID
	Until     *time.Time
	Reason    string
	Snapshot  Overwrite
}

// Overwrite is a channel permission overwrite as a pair of allow/deny
// bitfields. The zero value means "no explicit overwrite".
type Overwrite struct {
	Allow discord.Permissions
	Deny  discord.Permissions
}

func (o Overwrite) IsZero() bool {
	return o.Allow == 0 && o.Deny == 0
}

// Snapshot returns only the mute-managed bits of o. A bit set in Allow means
// the flag was explicitly allowed before the mute, a bit set in Deny means it
// was already explicitly denied, neither means it was unset.
func (o Overwrite) Snapshot() Overwrite {
	return Overwrite{Allow: o.Allow & MuteDenied, Deny: o.Deny & MuteDenied}
}

// ChannelFailure reports a single channel that could not be muted or unmuted
// during a guild-wide fan-out.
type ChannelFailure struct {
	ChannelID snowflake.ID
	Err       error
}

// Result is the outcome of a mute or unmute operation. For guild-wide
// overwrite mutes Success is true when at least one channel succeeded;
// ChannelFailures then lists the channels that did not.
type Result struct {
	Success         bool
	Reason          string
	ChannelFailures []ChannelFailure
}

func failure(err error) Result {
	return Result{Success: false, Reason: err.Error()}
}
