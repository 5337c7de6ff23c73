package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/ellavondegurechaff/warden/warden/database/models"
	lru "github.com/hashicorp/golang-lru"
	"github.com/uptrace/bun"
)

const settingsCacheSize = 1024

// GuildSettingsRepository stores the per-guild mute preferences. Reads go
// through an LRU cache since the engine consults settings on every
// enforcement and notification.
type GuildSettingsRepository interface {
	Get(ctx context.Context, guildID snowflake.ID) (models.GuildSettings, error)
	SetMuteRole(ctx context.Context, guildID, roleID snowflake.ID) error
	SetNotificationChannel(ctx context.Context, guildID, channelID snowflake.ID) error
	SetModLogChannel(ctx context.Context, guildID, channelID snowflake.ID) error
	SetDMNotifications(ctx context.Context, guildID snowflake.ID, enabled bool) error
	SetShowModerator(ctx context.Context, guildID snowflake.ID, show bool) error
	SetDefaultMuteDuration(ctx context.Context, guildID snowflake.ID, d time.Duration) error
	DefaultMuteDuration(ctx context.Context, guildID snowflake.ID) (time.Duration, error)
	AllMuteRoles(ctx context.Context) (map[snowflake.ID]snowflake.ID, error)

	// The engine's settings view.
	NotificationChannel(ctx context.Context, guildID snowflake.ID) (snowflake.ID, error)
	ModLogChannel(ctx context.Context, guildID snowflake.ID) (snowflake.ID, error)
	DMNotifications(ctx context.Context, guildID snowflake.ID) (bool, error)
	ShowModerator(ctx context.Context, guildID snowflake.ID) (bool, error)
}

type guildSettingsRepository struct {
	db    *bun.DB
	cache *lru.Cache
}

func NewGuildSettingsRepository(db *bun.DB) GuildSettingsRepository {
	cache, _ := lru.New(settingsCacheSize)
	return &guildSettingsRepository{db: db, cache: cache}
}

func (r *guildSettingsRepository) Get(ctx context.Context, guildID snowflake.ID) (models.GuildSettings, error) {
	if cached, ok := r.cache.Get(guildID); ok {
		return cached.(models.GuildSettings), nil
	}

	var row models.GuildSettings
	err := r.db.NewSelect().
		Model(&row).
		Where("guild_id = ?", guildID.String()).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		row = defaultSettings(guildID)
	} else if err != nil {
		return models.GuildSettings{}, fmt.Errorf("failed to load guild settings: %w", err)
	}

	r.cache.Add(guildID, row)
	return row, nil
}

func defaultSettings(guildID snowflake.ID) models.GuildSettings {
	return models.GuildSettings{
		GuildID:         guildID.String(),
		DMNotifications: true,
	}
}

func (r *guildSettingsRepository) update(ctx context.Context, guildID snowflake.ID, mutate func(*models.GuildSettings)) error {
	row, err := r.Get(ctx, guildID)
	if err != nil {
		return err
	}
	mutate(&row)

	_, err = r.db.NewInsert().
		Model(&row).
		On("CONFLICT (guild_id) DO UPDATE").
		Set("mute_role_id = EXCLUDED.mute_role_id").
		Set("notification_channel_id = EXCLUDED.notification_channel_id").
		Set("modlog_channel_id = EXCLUDED.modlog_channel_id").
		Set("dm_notifications = EXCLUDED.dm_notifications").
		Set("show_moderator = EXCLUDED.show_moderator").
		Set("default_mute_seconds = EXCLUDED.default_mute_seconds").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save guild settings: %w", err)
	}

	r.cache.Add(guildID, row)
	return nil
}

func (r *guildSettingsRepository) SetMuteRole(ctx context.Context, guildID, roleID snowflake.ID) error {
	return r.update(ctx, guildID, func(s *models.GuildSettings) {
		s.MuteRoleID = idOrEmpty(roleID)
	})
}

func (r *guildSettingsRepository) SetNotificationChannel(ctx context.Context, guildID, channelID snowflake.ID) error {
	return r.update(ctx, guildID, func(s *models.GuildSettings) {
		s.NotificationChannelID = idOrEmpty(channelID)
	})
}

func (r *guildSettingsRepository) SetModLogChannel(ctx context.Context, guildID, channelID snowflake.ID) error {
	return r.update(ctx, guildID, func(s *models.GuildSettings) {
		s.ModLogChannelID = idOrEmpty(channelID)
	})
}

func (r *guildSettingsRepository) SetDMNotifications(ctx context.Context, guildID snowflake.ID, enabled bool) error {
	return r.update(ctx, guildID, func(s *models.GuildSettings) {
		s.DMNotifications = enabled
	})
}

func (r *guildSettingsRepository) SetShowModerator(ctx context.Context, guildID snowflake.ID, show bool) error {
	return r.update(ctx, guildID, func(s *models.GuildSettings) {
		s.ShowModerator = show
	})
}

func (r *guildSettingsRepository) SetDefaultMuteDuration(ctx context.Context, guildID snowflake.ID, d time.Duration) error {
	return r.update(ctx, guildID, func(s *models.GuildSettings) {
		s.DefaultMuteSeconds = int64(d / time.Second)
	})
}

func (r *guildSettingsRepository) DefaultMuteDuration(ctx context.Context, guildID snowflake.ID) (time.Duration, error) {
	row, err := r.Get(ctx, guildID)
	if err != nil {
		return 0, err
	}
	return time.Duration(row.DefaultMuteSeconds) * time.Second, nil
}

// AllMuteRoles loads every configured mute role, used to seed the registry
// at startup.
func (r *guildSettingsRepository) AllMuteRoles(ctx context.Context) (map[snowflake.ID]snowflake.ID, error) {
	var rows []models.GuildSettings
	err := r.db.NewSelect().
		Model(&rows).
		Where("mute_role_id <> ''").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load mute roles: %w", err)
	}

	roles := make(map[snowflake.ID]snowflake.ID, len(rows))
	for _, row := range rows {
		guildID, err := snowflake.Parse(row.GuildID)
		if err != nil {
			continue
		}
		roleID, err := snowflake.Parse(row.MuteRoleID)
		if err != nil {
			continue
		}
		roles[guildID] = roleID
	}
	return roles, nil
}

func (r *guildSettingsRepository) NotificationChannel(ctx context.Context, guildID snowflake.ID) (snowflake.ID, error) {
	row, err := r.Get(ctx, guildID)
	if err != nil {
		return 0, err
	}
	if row.NotificationChannelID == "" {
		return 0, nil
	}
	return snowflake.Parse(row.NotificationChannelID)
}

func (r *guildSettingsRepository) ModLogChannel(ctx context.Context, guildID snowflake.ID) (snowflake.ID, error) {
	row, err := r.Get(ctx, guildID)
	if err != nil {
		return 0, err
	}
	if row.ModLogChannelID == "" {
		return 0, nil
	}
	return snowflake.Parse(row.ModLogChannelID)
}

func (r *guildSettingsRepository) DMNotifications(ctx context.Context, guildID snowflake.ID) (bool, error) {
	row, err := r.Get(ctx, guildID)
	if err != nil {
		return false, err
	}
	return row.DMNotifications, nil
}

func (r *guildSettingsRepository) ShowModerator(ctx context.Context, guildID snowflake.ID) (bool, error) {
	row, err := r.Get(ctx, guildID)
	if err != nil {
		return false, err
	}
	return row.ShowModerator, nil
}

func idOrEmpty(id snowflake.ID) string {
	if id == 0 {
		return ""
	}
	return id.String()
}
