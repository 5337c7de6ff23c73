package repositories

import (
	"context"
	"fmt"

	"github.com/disgoorg/snowflake/v2"
	"github.com/ellavondegurechaff/warden/warden/database/models"
	"github.com/ellavondegurechaff/warden/warden/mutes"
	"github.com/uptrace/bun"
)

// ModLogRepository persists moderation cases.
type ModLogRepository interface {
	Record(ctx context.Context, entry mutes.ModLogEntry) error
	ForUser(ctx context.Context, guildID, userID snowflake.ID, limit int) ([]models.ModLogEntry, error)
}

type modLogRepository struct {
	db *bun.DB
}

func NewModLogRepository(db *bun.DB) ModLogRepository {
	return &modLogRepository{db: db}
}

func (r *modLogRepository) Record(ctx context.Context, entry mutes.ModLogEntry) error {
	row := models.ModLogEntry{
		GuildID:     entry.GuildID.String(),
		Kind:        entry.Kind,
		UserID:      entry.UserID.String(),
		ModeratorID: idOrEmpty(entry.ModeratorID),
		Reason:      entry.Reason,
		Until:       entry.Until,
		ChannelID:   idOrEmpty(entry.ChannelID),
		CreatedAt:   entry.CreatedAt,
	}
	if _, err := r.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("failed to record case: %w", err)
	}
	return nil
}

func (r *modLogRepository) ForUser(ctx context.Context, guildID, userID snowflake.ID, limit int) ([]models.ModLogEntry, error) {
	if limit <= 0 {
		limit = 25
	}
	var rows []models.ModLogEntry
	err := r.db.NewSelect().
		Model(&rows).
		Where("guild_id = ?", guildID.String()).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load cases: %w", err)
	}
	return rows, nil
}
