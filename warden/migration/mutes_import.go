// Package migration imports mute state from the legacy bot's MongoDB into
// Postgres. It is run once per guild migration and is safe to re-run: rows
// are upserted, never duplicated.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ellavondegurechaff/warden/warden/database/models"
	"github.com/uptrace/bun"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const defaultBatchSize = 500

// Legacy document shapes, matching the previous bot's Mongo layout.

type legacyServerMute struct {
	GuildID  string     `bson:"guild_id"`
	UserID   string     `bson:"user_id"`
	AuthorID string     `bson:"author_id"`
	Until    *time.Time `bson:"until"`
	Reason   string     `bson:"reason"`
}

type legacyChannelMute struct {
	GuildID   string     `bson:"guild_id"`
	ChannelID string     `bson:"channel_id"`
	UserID    string     `bson:"user_id"`
	AuthorID  string     `bson:"author_id"`
	Until     *time.Time `bson:"until"`
	Reason    string     `bson:"reason"`
	OldAllow  int64      `bson:"old_allow"`
	OldDeny   int64      `bson:"old_deny"`
}

type legacyMuteConfig struct {
	GuildID             string `bson:"guild_id"`
	MuteRoleID          string `bson:"mute_role_id"`
	NotificationChannel string `bson:"notification_channel_id"`
	DMNotifications     *bool  `bson:"dm_notifications"`
	ShowModerator       bool   `bson:"show_moderator"`
	DefaultTimeSeconds  int64  `bson:"default_time"`
}

// MuteImporter copies mute state from the legacy Mongo database into
// Postgres.
type MuteImporter struct {
	pgDB      *bun.DB
	mongoDB   *mongo.Database
	batchSize int
}

func NewMuteImporter(pgDB *bun.DB) *MuteImporter {
	return &MuteImporter{
		pgDB:      pgDB,
		batchSize: defaultBatchSize,
	}
}

// UseMongo points the importer at the legacy database.
func (m *MuteImporter) UseMongo(client *mongo.Client, dbName string) {
	m.mongoDB = client.Database(dbName)
}

func (m *MuteImporter) SetBatchSize(size int) {
	if size > 0 {
		m.batchSize = size
	}
}

// ImportAll runs the full import: settings first so replayed mutes resolve
// their mute role, then server and channel mutes.
func (m *MuteImporter) ImportAll(ctx context.Context) error {
	if m.mongoDB == nil {
		return fmt.Errorf("mongoDB not configured; call UseMongo first")
	}
	start := time.Now()
	if err := m.ImportSettings(ctx); err != nil {
		return err
	}
	if err := m.ImportServerMutes(ctx); err != nil {
		return err
	}
	if err := m.ImportChannelMutes(ctx); err != nil {
		return err
	}
	slog.Info("Legacy mute import finished",
		slog.String("type", "db"),
		slog.Duration("took", time.Since(start)))
	return nil
}

func (m *MuteImporter) ImportSettings(ctx context.Context) error {
	if m.mongoDB == nil {
		return nil
	}
	cur, err := m.mongoDB.Collection("muteconfig").Find(ctx, bson.D{})
	if err != nil {
		slog.Warn("muteconfig collection not found; skipping", slog.String("type", "db"))
		return nil
	}
	defer cur.Close(ctx)

	var count int
	for cur.Next(ctx) {
		var doc legacyMuteConfig
		if err := cur.Decode(&doc); err != nil {
			continue
		}
		row := models.GuildSettings{
			GuildID:               doc.GuildID,
			MuteRoleID:            doc.MuteRoleID,
			NotificationChannelID: doc.NotificationChannel,
			DMNotifications:       doc.DMNotifications == nil || *doc.DMNotifications,
			ShowModerator:         doc.ShowModerator,
			DefaultMuteSeconds:    doc.DefaultTimeSeconds,
		}
		if _, err := m.pgDB.NewInsert().
			Model(&row).
			On("CONFLICT (guild_id) DO UPDATE").
			Set("mute_role_id = EXCLUDED.mute_role_id").
			Set("notification_channel_id = EXCLUDED.notification_channel_id").
			Set("dm_notifications = EXCLUDED.dm_notifications").
			Set("show_moderator = EXCLUDED.show_moderator").
			Set("default_mute_seconds = EXCLUDED.default_mute_seconds").
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to import settings for guild %s: %w", doc.GuildID, err)
		}
		count++
	}
	if err := cur.Err(); err != nil {
		return err
	}
	slog.Info("Imported guild settings", slog.String("type", "db"), slog.Int("count", count))
	return nil
}

func (m *MuteImporter) ImportServerMutes(ctx context.Context) error {
	if m.mongoDB == nil {
		return nil
	}
	cur, err := m.mongoDB.Collection("servermutes").Find(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("failed to query servermutes: %w", err)
	}
	defer cur.Close(ctx)

	var batch []models.GuildMute
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := m.pgDB.NewInsert().
			Model(&batch).
			On("CONFLICT (guild_id, user_id) DO UPDATE").
			Set("author_id = EXCLUDED.author_id").
			Set("until = EXCLUDED.until").
			Set("reason = EXCLUDED.reason").
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert guild mutes: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for cur.Next(ctx) {
		var doc legacyServerMute
		if err := cur.Decode(&doc); err != nil {
			continue
		}
		batch = append(batch, models.GuildMute{
			GuildID:  doc.GuildID,
			UserID:   doc.UserID,
			AuthorID: doc.AuthorID,
			Until:    doc.Until,
			Reason:   doc.Reason,
		})
		if len(batch) >= m.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := cur.Err(); err != nil {
		return err
	}
	return flush()
}

func (m *MuteImporter) ImportChannelMutes(ctx context.Context) error {
	if m.mongoDB == nil {
		return nil
	}
	cur, err := m.mongoDB.Collection("channelmutes").Find(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("failed to query channelmutes: %w", err)
	}
	defer cur.Close(ctx)

	var batch []models.ChannelMute
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := m.pgDB.NewInsert().
			Model(&batch).
			On("CONFLICT (channel_id, user_id) DO UPDATE").
			Set("author_id = EXCLUDED.author_id").
			Set("until = EXCLUDED.until").
			Set("reason = EXCLUDED.reason").
			Set("snapshot_allow = EXCLUDED.snapshot_allow").
			Set("snapshot_deny = EXCLUDED.snapshot_deny").
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert channel mutes: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for cur.Next(ctx) {
		var doc legacyChannelMute
		if err := cur.Decode(&doc); err != nil {
			continue
		}
		batch = append(batch, models.ChannelMute{
			ChannelID:     doc.ChannelID,
			UserID:        doc.UserID,
			GuildID:       doc.GuildID,
			AuthorID:      doc.AuthorID,
			Until:         doc.Until,
			Reason:        doc.Reason,
			SnapshotAllow: doc.OldAllow,
			SnapshotDeny:  doc.OldDeny,
		})
		if len(batch) >= m.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := cur.Err(); err != nil {
		return err
	}
	return flush()
}
