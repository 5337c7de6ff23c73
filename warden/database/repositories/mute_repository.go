package repositories

import (
	"context"
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/ellavondegurechaff/warden/warden/database/models"
	"github.com/ellavondegurechaff/warden/warden/mutes"
	"github.com/uptrace/bun"
)

// MuteRepository is the durable mirror behind the in-memory mute registry.
type MuteRepository interface {
	mutes.Store
}

type muteRepository struct {
	db *bun.DB
}

func NewMuteRepository(db *bun.DB) MuteRepository {
	return &muteRepository{db: db}
}

func (r *muteRepository) AllGuildMutes(ctx context.Context) ([]mutes.GuildMuteRecord, error) {
	var rows []models.GuildMute
	if err := r.db.NewSelect().Model(&rows).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to load guild mutes: %w", err)
	}

	recs := make([]mutes.GuildMuteRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := guildMuteFromModel(row)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (r *muteRepository) AllChannelMutes(ctx context.Context) ([]mutes.ChannelMuteRecord, error) {
	var rows []models.ChannelMute
	if err := r.db.NewSelect().Model(&rows).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to load channel mutes: %w", err)
	}

	recs := make([]mutes.ChannelMuteRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := channelMuteFromModel(row)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (r *muteRepository) UpsertGuildMute(ctx context.Context, rec mutes.GuildMuteRecord) error {
	row := models.GuildMute{
		GuildID:  rec.GuildID.String(),
		UserID:   rec.UserID.String(),
		AuthorID: rec.AuthorID.String(),
		Until:    rec.Until,
		Reason:   rec.Reason,
	}
	_, err := r.db.NewInsert().
		Model(&row).
		On("CONFLICT (guild_id, user_id) DO UPDATE").
		Set("author_id = EXCLUDED.author_id").
		Set("until = EXCLUDED.until").
		Set("reason = EXCLUDED.reason").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert guild mute: %w", err)
	}
	return nil
}

func (r *muteRepository) DeleteGuildMute(ctx context.Context, guildID, userID snowflake.ID) error {
	_, err := r.db.NewDelete().
		Model((*models.GuildMute)(nil)).
		Where("guild_id = ?", guildID.String()).
		Where("user_id = ?", userID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete guild mute: %w", err)
	}
	return nil
}

func (r *muteRepository) UpsertChannelMute(ctx context.Context, rec mutes.ChannelMuteRecord) error {
	row := models.ChannelMute{
		ChannelID:     rec.ChannelID.String(),
		UserID:        rec.UserID.String(),
		GuildID:       rec.GuildID.String(),
		AuthorID:      rec.AuthorID.String(),
		Until:         rec.Until,
		Reason:        rec.Reason,
		SnapshotAllow: int64(rec.Snapshot.Allow),
		SnapshotDeny:  int64(rec.Snapshot.Deny),
	}
	_, err := r.db.NewInsert().
		Model(&row).
		On("CONFLICT (channel_id, user_id) DO UPDATE").
		Set("author_id = EXCLUDED.author_id").
		Set("until = EXCLUDED.until").
		Set("reason = EXCLUDED.reason").
		Set("snapshot_allow = EXCLUDED.snapshot_allow").
		Set("snapshot_deny = EXCLUDED.snapshot_deny").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert channel mute: %w", err)
	}
	return nil
}

func (r *muteRepository) DeleteChannelMute(ctx context.Context, channelID, userID snowflake.ID) error {
	_, err := r.db.NewDelete().
		Model((*models.ChannelMute)(nil)).
		Where("channel_id = ?", channelID.String()).
		Where("user_id = ?", userID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete channel mute: %w", err)
	}
	return nil
}

func guildMuteFromModel(row models.GuildMute) (mutes.GuildMuteRecord, error) {
	guildID, err := snowflake.Parse(row.GuildID)
	if err != nil {
		return mutes.GuildMuteRecord{}, fmt.Errorf("bad guild id %q: %w", row.GuildID, err)
	}
	userID, err := snowflake.Parse(row.UserID)
	if err != nil {
		return mutes.GuildMuteRecord{}, fmt.Errorf("bad user id %q: %w", row.UserID, err)
	}
	authorID, _ := snowflake.Parse(row.AuthorID)
	return mutes.GuildMuteRecord{
		GuildID:  guildID,
		UserID:   userID,
		AuthorID: authorID,
		Until:    row.Until,
		Reason:   row.Reason,
	}, nil
}

func channelMuteFromModel(row models.ChannelMute) (mutes.ChannelMuteRecord, error) {
	channelID, err := snowflake.Parse(row.ChannelID)
	if err != nil {
		return mutes.ChannelMuteRecord{}, fmt.Errorf("bad channel id %q: %w", row.ChannelID, err)
	}
	userID, err := snowflake.Parse(row.UserID)
	if err != nil {
		return mutes.ChannelMuteRecord{}, fmt.Errorf("bad user id %q: %w", row.UserID, err)
	}
	guildID, err := snowflake.Parse(row.GuildID)
	if err != nil {
		return mutes.ChannelMuteRecord{}, fmt.Errorf("bad guild id %q: %w", row.GuildID, err)
	}
	authorID, _ := snowflake.Parse(row.AuthorID)
	return mutes.ChannelMuteRecord{
		GuildID:   guildID,
		ChannelID: channelID,
		UserID:    userID,
		AuthorID:  authorID,
		Until:     row.Until,
		Reason:    row.Reason,
		Snapshot: mutes.Overwrite{
			Allow: discord.Permissions(row.SnapshotAllow),
			Deny:  discord.Permissions(row.SnapshotDeny),
		},
	}, nil
}
