package logger

import (
	"log/slog"
	"time"
)

// slowCommand is the duration past which a completed command is logged as a
// warning instead of plain info.
const slowCommand = 2 * time.Second

// LogCommand logs a finished command invocation with its outcome.
func LogCommand(name, userID string, duration time.Duration, err error) {
	attrs := []any{
		slog.String("type", "cmd"),
		slog.String("name", name),
		slog.String("user_id", userID),
		slog.Duration("took", duration),
	}

	switch {
	case err != nil:
		slog.Error("Command failed", append(attrs,
			slog.Any("error", err),
			slog.String("status", "failed"))...)
	case duration > slowCommand:
		slog.Warn("Command executed slowly", append(attrs,
			slog.String("status", "slow"))...)
	default:
		slog.Info("Command completed", append(attrs,
			slog.String("status", "success"))...)
	}
}

// LogSystem logs system events.
func LogSystem(msg string, attrs ...any) {
	baseAttrs := []any{slog.String("type", "sys")}
	slog.Info(msg, append(baseAttrs, attrs...)...)
}

// LogError logs error events.
func LogError(msg string, err error, attrs ...any) {
	baseAttrs := []any{
		slog.String("type", "sys"),
		slog.Any("error", err),
	}
	slog.Error(msg, append(baseAttrs, attrs...)...)
}
