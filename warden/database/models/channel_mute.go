package models

import (
	"time"

	"github.com/uptrace/bun"
)

// ChannelMute is one active per-channel mute. SnapshotAllow and SnapshotDeny
// hold the member's pre-mute overwrite bits so an unmute can restore them
// exactly.
type ChannelMute struct {
	bun.BaseModel `bun:"table:channel_mutes,alias:cm"`

	ChannelID     string     `bun:"channel_id,pk"`
	UserID        string     `bun:"user_id,pk"`
	GuildID       string     `bun:"guild_id,notnull"`
	AuthorID      string     `bun:"author_id,notnull"`
	Until         *time.Time `bun:"until"`
	Reason        string     `bun:"reason"`
	SnapshotAllow int64      `bun:"snapshot_allow,notnull,default:0"`
	SnapshotDeny  int64      `bun:"snapshot_deny,notnull,default:0"`
}
