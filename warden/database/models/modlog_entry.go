package models

import (
	"time"

	"github.com/uptrace/bun"
)

// ModLogEntry is one recorded moderation case.
type ModLogEntry struct {
	bun.BaseModel `bun:"table:modlog_entries,alias:ml"`

	ID          int64      `bun:"id,pk,autoincrement"`
	GuildID     string     `bun:"guild_id,notnull"`
	Kind        string     `bun:"kind,notnull"`
	UserID      string     `bun:"user_id,notnull"`
	ModeratorID string     `bun:"moderator_id"`
	Reason      string     `bun:"reason"`
	Until       *time.Time `bun:"until"`
	ChannelID   string     `bun:"channel_id"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
}
