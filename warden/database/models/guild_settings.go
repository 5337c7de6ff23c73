package models

import (
	"github.com/uptrace/bun"
)

// GuildSettings carries the per-guild mute preferences. Zero-value string
// IDs mean "not configured".
type GuildSettings struct {
	bun.BaseModel `bun:"table:guild_settings,alias:gs"`

	GuildID               string `bun:"guild_id,pk"`
	MuteRoleID            string `bun:"mute_role_id"`
	NotificationChannelID string `bun:"notification_channel_id"`
	ModLogChannelID       string `bun:"modlog_channel_id"`
	DMNotifications       bool   `bun:"dm_notifications,notnull,default:true"`
	ShowModerator         bool   `bun:"show_moderator,notnull,default:false"`
	DefaultMuteSeconds    int64  `bun:"default_mute_seconds,notnull,default:0"`
}
