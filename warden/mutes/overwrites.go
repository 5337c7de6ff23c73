package mutes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/disgoorg/disgo/discord"
	"golang.org/x/sync/errgroup"
)

// VoiceNote is attached to a successful voice-channel mute when the bot could
// not bounce the member's live connection; the overwrite only binds when the
// member next joins.
const VoiceNote = "the mute takes effect when the user rejoins the voice channel"

// ChannelOverwriteEnforcer applies and removes mutes through per-channel
// permission overwrites. It is used for single-channel mutes, and for
// guild-wide mutes when no mute role is configured.
type ChannelOverwriteEnforcer struct {
	registry *Registry
	dir      Directory
	editor   OverwriteEditor
	voice    VoiceMover
	workers  int
}

func NewChannelOverwriteEnforcer(registry *Registry, dir Directory, editor OverwriteEditor, voice VoiceMover, workers int) *ChannelOverwriteEnforcer {
	if workers <= 0 {
		workers = 4
	}
	return &ChannelOverwriteEnforcer{
		registry: registry,
		dir:      dir,
		editor:   editor,
		voice:    voice,
		workers:  workers,
	}
}

// ApplyOne mutes target in a single channel: it snapshots the member's
// current overwrite, merges in the mute denies, records the mute and issues
// the overwrite call. The returned note is informational and non-fatal.
func (e *ChannelOverwriteEnforcer) ApplyOne(ctx context.Context, guild Guild, ch Channel, actor, target Member, until *time.Time, reason string) (string, error) {
	if _, ok := e.registry.ChannelMute(ch.ID, target.UserID); ok {
		return "", ErrAlreadyMuted
	}
	botPerms, err := e.dir.BotChannelPermissions(ctx, ch.ID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExternalAPI, err)
	}
	if !botPerms.Has(discord.PermissionManageRoles) {
		return "", ErrPermissions
	}

	current, _, err := e.editor.Overwrite(ctx, ch.ID, target.UserID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExternalAPI, err)
	}

	rec := ChannelMuteRecord{
		GuildID:   guild.ID,
		ChannelID: ch.ID,
		UserID:    target.UserID,
		AuthorID:  actor.UserID,
		Until:     until,
		Reason:    reason,
		Snapshot:  current.Snapshot(),
	}
	e.registry.StageChannelMute(rec)

	muted := Overwrite{
		Allow: current.Allow &^ MuteDenied,
		Deny:  current.Deny | MuteDenied,
	}
	if err := e.editor.SetOverwrite(ctx, ch.ID, target.UserID, muted, reason); err != nil {
		e.registry.DiscardChannelMute(ch.ID, target.UserID)
		return "", fmt.Errorf("%w: %v", ErrExternalAPI, err)
	}
	if err := e.registry.CommitChannelMute(ctx, rec); err != nil {
		return "", err
	}

	return e.bounceVoice(ctx, guild, ch, target, botPerms), nil
}

// bounceVoice forces a reconnect cycle when the target is live in the muted
// voice channel, so the overwrite binds immediately instead of on next join.
func (e *ChannelOverwriteEnforcer) bounceVoice(ctx context.Context, guild Guild, ch Channel, target Member, botPerms discord.Permissions) string {
	if !ch.Voice {
		return ""
	}
	liveChannel, connected := e.voice.VoiceChannel(guild.ID, target.UserID)
	if !connected || liveChannel != ch.ID {
		return ""
	}
	if !botPerms.Has(discord.PermissionMoveMembers) {
		return VoiceNote
	}
	if err := e.voice.Reconnect(ctx, guild.ID, target.UserID); err != nil {
		slog.Warn("Failed to bounce voice connection after mute",
			slog.String("type", "sys"),
			slog.String("guild_id", guild.ID.String()),
			slog.String("channel_id", ch.ID.String()),
			slog.String("user_id", target.UserID.String()),
			slog.Any("error", err))
		return VoiceNote
	}
	return ""
}

// RemoveOne lifts a single channel mute, restoring exactly the overwrite bits
// captured at mute time. When the restored overwrite is empty the overwrite
// entry is deleted outright. The registry record is dropped before the
// overwrite call goes out so the resulting channel-update event is not read
// as a manual unmute; on a failed call the record is restaged.
func (e *ChannelOverwriteEnforcer) RemoveOne(ctx context.Context, guild Guild, ch Channel, target Member, reason string) error {
	rec, ok := e.registry.ChannelMute(ch.ID, target.UserID)
	if !ok {
		return ErrAlreadyUnmuted
	}
	botPerms, err := e.dir.BotChannelPermissions(ctx, ch.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalAPI, err)
	}
	if !botPerms.Has(discord.PermissionManageRoles) {
		return ErrPermissions
	}

	current, _, err := e.editor.Overwrite(ctx, ch.ID, target.UserID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalAPI, err)
	}
	restored := Overwrite{
		Allow: (current.Allow &^ MuteDenied) | rec.Snapshot.Allow,
		Deny:  (current.Deny &^ MuteDenied) | rec.Snapshot.Deny,
	}

	e.registry.DiscardChannelMute(ch.ID, target.UserID)

	if restored.IsZero() {
		err = e.editor.ClearOverwrite(ctx, ch.ID, target.UserID, reason)
	} else {
		err = e.editor.SetOverwrite(ctx, ch.ID, target.UserID, restored, reason)
	}
	if err != nil {
		e.registry.StageChannelMute(rec)
		return fmt.Errorf("%w: %v", ErrExternalAPI, err)
	}
	e.registry.RemoveChannelMute(ctx, ch.ID, target.UserID)

	e.bounceVoice(ctx, guild, ch, target, botPerms)
	return nil
}

// ApplyAll fans ApplyOne out across every channel of the guild with a
// bounded worker pool. Per-channel failures are aggregated; the operation
// succeeds as long as at least one channel was muted.
func (e *ChannelOverwriteEnforcer) ApplyAll(ctx context.Context, guild Guild, actor, target Member, until *time.Time, reason string) (Result, error) {
	channels, err := e.dir.Channels(ctx, guild.ID)
	if err != nil {
		return failure(err), fmt.Errorf("%w: %v", ErrExternalAPI, err)
	}
	return e.fanOut(ctx, channels, func(ctx context.Context, ch Channel) error {
		_, err := e.ApplyOne(ctx, guild, ch, actor, target, until, reason)
		return err
	})
}

// RemoveAll is the unmute counterpart of ApplyAll. Channels without a
// tracked mute are skipped rather than reported as failures.
func (e *ChannelOverwriteEnforcer) RemoveAll(ctx context.Context, guild Guild, target Member, reason string) (Result, error) {
	channels, err := e.dir.Channels(ctx, guild.ID)
	if err != nil {
		return failure(err), fmt.Errorf("%w: %v", ErrExternalAPI, err)
	}
	return e.fanOut(ctx, channels, func(ctx context.Context, ch Channel) error {
		if _, ok := e.registry.ChannelMute(ch.ID, target.UserID); !ok {
			return errSkipChannel
		}
		return e.RemoveOne(ctx, guild, ch, target, reason)
	})
}

// errSkipChannel marks a channel the fan-out should neither count as a
// success nor report as a failure.
var errSkipChannel = errors.New("channel not tracked")

func (e *ChannelOverwriteEnforcer) fanOut(ctx context.Context, channels []Channel, op func(context.Context, Channel) error) (Result, error) {
	var (
		mu        sync.Mutex
		failures  []ChannelFailure
		succeeded int
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, ch := range channels {
		g.Go(func() error {
			err := op(ctx, ch)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, errSkipChannel):
			case err != nil:
				failures = append(failures, ChannelFailure{ChannelID: ch.ID, Err: err})
			default:
				succeeded++
			}
			// Failures are aggregated, never aborting the fan-out.
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(failures, func(i, j int) bool { return failures[i].ChannelID < failures[j].ChannelID })
	res := Result{
		Success:         succeeded > 0,
		ChannelFailures: failures,
	}
	if !res.Success && len(failures) > 0 {
		res.Reason = failures[0].Err.Error()
	}
	return res, nil
}
