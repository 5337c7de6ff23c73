package mutes

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/disgoorg/snowflake/v2"
)

// Registry is the process-wide authoritative cache of active mutes, mirrored
// to a durable Store. Mutating operations stage records in memory before the
// external platform call is issued and commit them to the mirror only once
// the call succeeded, so a concurrent reconciliation event always observes
// the in-flight record.
type Registry struct {
	mu        sync.RWMutex
	store     Store
	server    map[snowflake.ID]map[snowflake.ID]GuildMuteRecord  // guild -> user
	channel   map[snowflake.ID]map[snowflake.ID]ChannelMuteRecord // channel -> user
	muteRoles map[snowflake.ID]snowflake.ID                       // guild -> mute role
}

func NewRegistry(store Store) *Registry {
	return &Registry{
		store:     store,
		server:    make(map[snowflake.ID]map[snowflake.ID]GuildMuteRecord),
		channel:   make(map[snowflake.ID]map[snowflake.ID]ChannelMuteRecord),
		muteRoles: make(map[snowflake.ID]snowflake.ID),
	}
}

// Load populates the registry from the durable mirror. muteRoles carries the
// configured mute role per guild; entries with a zero role are skipped.
func (r *Registry) Load(ctx context.Context, muteRoles map[snowflake.ID]snowflake.ID) error {
	guildMutes, err := r.store.AllGuildMutes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load server mutes: %w", err)
	}
	channelMutes, err := r.store.AllChannelMutes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load channel mutes: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range guildMutes {
		r.stageGuildLocked(rec)
	}
	for _, rec := range channelMutes {
		r.stageChannelLocked(rec)
	}
	for guildID, roleID := range muteRoles {
		if roleID != 0 {
			r.muteRoles[guildID] = roleID
		}
	}

	slog.Info("Mute registry loaded",
		slog.String("type", "sys"),
		slog.Int("server_mutes", len(guildMutes)),
		slog.Int("channel_mutes", len(channelMutes)),
		slog.Int("mute_roles", len(r.muteRoles)))
	return nil
}

// MuteRole returns the configured mute role for a guild, if any.
func (r *Registry) MuteRole(guildID snowflake.ID) (snowflake.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roleID, ok := r.muteRoles[guildID]
	return roleID, ok
}

// SetMuteRole updates the cached mute role for a guild. A zero roleID clears
// it. Durable storage of the role is the settings repository's concern.
func (r *Registry) SetMuteRole(guildID, roleID snowflake.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if roleID == 0 {
		delete(r.muteRoles, guildID)
		return
	}
	r.muteRoles[guildID] = roleID
}

func (r *Registry) GuildMute(guildID, userID snowflake.ID) (GuildMuteRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.server[guildID][userID]
	return rec, ok
}

func (r *Registry) ChannelMute(channelID, userID snowflake.ID) (ChannelMuteRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.channel[channelID][userID]
	return rec, ok
}

// GuildMutes returns the server mutes of one guild.
func (r *Registry) GuildMutes(guildID snowflake.ID) []GuildMuteRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	recs := make([]GuildMuteRecord, 0, len(r.server[guildID]))
	for _, rec := range r.server[guildID] {
		recs = append(recs, rec)
	}
	return recs
}

// ChannelMutes returns the mutes tracked in one channel.
func (r *Registry) ChannelMutes(channelID snowflake.ID) []ChannelMuteRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	recs := make([]ChannelMuteRecord, 0, len(r.channel[channelID]))
	for _, rec := range r.channel[channelID] {
		recs = append(recs, rec)
	}
	return recs
}

// ChannelMutesInGuild returns every channel mute belonging to one guild.
func (r *Registry) ChannelMutesInGuild(guildID snowflake.ID) []ChannelMuteRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var recs []ChannelMuteRecord
	for _, users := range r.channel {
		for _, rec := range users {
			if rec.GuildID == guildID {
				recs = append(recs, rec)
			}
		}
	}
	return recs
}

// SnapshotGuildMutes returns a copy of every tracked server mute.
func (r *Registry) SnapshotGuildMutes() []GuildMuteRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var recs []GuildMuteRecord
	for _, users := range r.server {
		for _, rec := range users {
			recs = append(recs, rec)
		}
	}
	return recs
}

// SnapshotChannelMutes returns a copy of every tracked channel mute.
func (r *Registry) SnapshotChannelMutes() []ChannelMuteRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var recs []ChannelMuteRecord
	for _, users := range r.channel {
		for _, rec := range users {
			recs = append(recs, rec)
		}
	}
	return recs
}

// StageGuildMute inserts a record into the in-memory cache only. Callers
// stage before issuing the platform call so the reconciliation listener sees
// the record when the resulting gateway event arrives.
func (r *Registry) StageGuildMute(rec GuildMuteRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stageGuildLocked(rec)
}

func (r *Registry) stageGuildLocked(rec GuildMuteRecord) {
	users, ok := r.server[rec.GuildID]
	if !ok {
		users = make(map[snowflake.ID]GuildMuteRecord)
		r.server[rec.GuildID] = users
	}
	users[rec.UserID] = rec
}

// DiscardGuildMute rolls a staged record back out of the cache without
// touching the mirror.
func (r *Registry) DiscardGuildMute(guildID, userID snowflake.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.server[guildID], userID)
}

// CommitGuildMute writes a staged record through to the durable mirror.
func (r *Registry) CommitGuildMute(ctx context.Context, rec GuildMuteRecord) error {
	if err := r.store.UpsertGuildMute(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist server mute: %w", err)
	}
	return nil
}

// PutGuildMute stages and commits in one step, for records that do not guard
// an in-flight platform call (reconciliation, legacy import).
func (r *Registry) PutGuildMute(ctx context.Context, rec GuildMuteRecord) error {
	r.StageGuildMute(rec)
	return r.CommitGuildMute(ctx, rec)
}

// RemoveGuildMute deletes a record from the cache and the mirror. Mirror
// failures are logged but do not resurrect the cache entry; the registry
// stays truthful to the external state.
func (r *Registry) RemoveGuildMute(ctx context.Context, guildID, userID snowflake.ID) {
	r.DiscardGuildMute(guildID, userID)
	if err := r.store.DeleteGuildMute(ctx, guildID, userID); err != nil {
		slog.Error("Failed to delete persisted server mute",
			slog.String("type", "db"),
			slog.String("guild_id", guildID.String()),
			slog.String("user_id", userID.String()),
			slog.Any("error", err))
	}
}

func (r *Registry) StageChannelMute(rec ChannelMuteRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stageChannelLocked(rec)
}

func (r *Registry) stageChannelLocked(rec ChannelMuteRecord) {
	users, ok := r.channel[rec.ChannelID]
	if !ok {
		users = make(map[snowflake.ID]ChannelMuteRecord)
		r.channel[rec.ChannelID] = users
	}
	users[rec.UserID] = rec
}

func (r *Registry) DiscardChannelMute(channelID, userID snowflake.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channel[channelID], userID)
}

func (r *Registry) CommitChannelMute(ctx context.Context, rec ChannelMuteRecord) error {
	if err := r.store.UpsertChannelMute(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist channel mute: %w", err)
	}
	return nil
}

func (r *Registry) PutChannelMute(ctx context.Context, rec ChannelMuteRecord) error {
	r.StageChannelMute(rec)
	return r.CommitChannelMute(ctx, rec)
}

func (r *Registry) RemoveChannelMute(ctx context.Context, channelID, userID snowflake.ID) {
	r.DiscardChannelMute(channelID, userID)
	if err := r.store.DeleteChannelMute(ctx, channelID, userID); err != nil {
		slog.Error("Failed to delete persisted channel mute",
			slog.String("type", "db"),
			slog.String("channel_id", channelID.String()),
			slog.String("user_id", userID.String()),
			slog.Any("error", err))
	}
}
