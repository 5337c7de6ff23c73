package models

import (
	"time"

	"github.com/uptrace/bun"
)

// GuildMute is one active server-wide mute. Discord IDs are stored as
// strings to survive int64 precision loss in tooling.
type GuildMute struct {
	bun.BaseModel `bun:"table:guild_mutes,alias:gm"`

	GuildID  string     `bun:"guild_id,pk"`
	UserID   string     `bun:"user_id,pk"`
	AuthorID string     `bun:"author_id,notnull"`
	Until    *time.Time `bun:"until"`
	Reason   string     `bun:"reason"`
}
