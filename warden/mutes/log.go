package mutes

import (
	"log/slog"

	"github.com/disgoorg/snowflake/v2"
)

func logModLogFailure(entry ModLogEntry, err error) {
	slog.Error("Failed to record moderation case",
		slog.String("type", "sys"),
		slog.String("kind", entry.Kind),
		slog.String("guild_id", entry.GuildID.String()),
		slog.String("user_id", entry.UserID.String()),
		slog.Any("error", err))
}

func logNotification(guildID snowflake.ID, msg string) {
	slog.Warn("No notification channel reachable",
		slog.String("type", "sys"),
		slog.String("guild_id", guildID.String()),
		slog.String("message", msg))
}
