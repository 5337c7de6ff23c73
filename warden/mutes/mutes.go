// Package mutes implements temporal access restrictions for guild members:
// a moderator revokes a user's ability to communicate, server-wide or in
// single channels, optionally for a bounded duration after which the
// restriction is lifted automatically.
//
// Guild-wide mutes use the configured mute role when one exists and fall
// back to per-channel permission overwrites otherwise. Active mutes live in
// the Registry, mirrored to durable storage, and are watched by a Scheduler
// (automatic expiry) and a Reconciler (state changed behind the engine's
// back).
package mutes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
)

// Config carries the engine tunables.
type Config struct {
	// PollInterval is the expiry scan period.
	PollInterval time.Duration
	// Lookahead is how far ahead of a tick a record may expire and still be
	// scheduled on that tick.
	Lookahead time.Duration
	// FanOutWorkers bounds concurrent per-channel platform calls.
	FanOutWorkers int
	// AppOwners are bot-level owners that bypass guild hierarchy.
	AppOwners []snowflake.ID
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.Lookahead <= 0 {
		c.Lookahead = time.Minute
	}
	if c.FanOutWorkers <= 0 {
		c.FanOutWorkers = 4
	}
	return c
}

// Service is the mute engine's public surface, consumed by the command layer
// and the gateway listener.
type Service struct {
	cfg      Config
	registry *Registry
	dir      Directory
	settings Settings
	modlog   ModLog
	msgr     Messenger
	guard    *HierarchyGuard
	roleEnf  *RoleMuteEnforcer
	chanEnf  *ChannelOverwriteEnforcer
	notifier *Notifier
	latches  *guildLatches
}

func NewService(cfg Config, registry *Registry, dir Directory, roles RoleAssigner, editor OverwriteEditor, voice VoiceMover, msgr Messenger, settings Settings, modlog ModLog) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:      cfg,
		registry: registry,
		dir:      dir,
		settings: settings,
		modlog:   modlog,
		msgr:     msgr,
		guard:    NewHierarchyGuard(cfg.AppOwners),
		roleEnf:  NewRoleMuteEnforcer(registry, roles),
		chanEnf:  NewChannelOverwriteEnforcer(registry, dir, editor, voice, cfg.FanOutWorkers),
		notifier: NewNotifier(settings, msgr),
		latches:  newGuildLatches(),
	}
}

// Registry exposes the mute registry for read access (listing commands).
func (s *Service) Registry() *Registry {
	return s.registry
}

// SetMuteRole updates the cached mute role for a guild; persisting the
// setting is the caller's concern.
func (s *Service) SetMuteRole(guildID, roleID snowflake.ID) {
	s.registry.SetMuteRole(guildID, roleID)
}

// MuteStrategy is one of the two ways a guild-wide mute is enforced: the
// single mute role, or overwrites fanned out across every channel.
type MuteStrategy interface {
	Mute(ctx context.Context, guild Guild, actor, target, bot Member, until *time.Time, reason string) (Result, error)
	Unmute(ctx context.Context, guild Guild, actor, target, bot Member, reason string) (Result, error)
}

type roleStrategy struct {
	svc  *Service
	role Role
}

func (st roleStrategy) Mute(ctx context.Context, guild Guild, actor, target, bot Member, until *time.Time, reason string) (Result, error) {
	if _, ok := st.svc.registry.GuildMute(guild.ID, target.UserID); ok {
		return failure(ErrAlreadyMuted), ErrAlreadyMuted
	}
	if err := st.svc.roleEnf.Apply(ctx, guild, st.role, actor, target, bot, until, reason); err != nil {
		return failure(err), err
	}
	return Result{Success: true}, nil
}

func (st roleStrategy) Unmute(ctx context.Context, guild Guild, actor, target, bot Member, reason string) (Result, error) {
	if _, ok := st.svc.registry.GuildMute(guild.ID, target.UserID); !ok {
		return failure(ErrAlreadyUnmuted), ErrAlreadyUnmuted
	}
	if err := st.svc.roleEnf.Remove(ctx, guild, st.role, target, bot, reason); err != nil {
		return failure(err), err
	}
	return Result{Success: true}, nil
}

type overwriteStrategy struct {
	svc *Service
}

func (st overwriteStrategy) Mute(ctx context.Context, guild Guild, actor, target, bot Member, until *time.Time, reason string) (Result, error) {
	res, err := st.svc.chanEnf.ApplyAll(ctx, guild, actor, target, until, reason)
	if err != nil {
		return res, err
	}
	if !res.Success {
		if allFailuresAre(res, ErrAlreadyMuted) {
			return failure(ErrAlreadyMuted), ErrAlreadyMuted
		}
		return res, fmt.Errorf("%w: no channel could be muted", ErrPermissions)
	}
	return res, nil
}

func (st overwriteStrategy) Unmute(ctx context.Context, guild Guild, actor, target, bot Member, reason string) (Result, error) {
	if len(trackedChannelMutes(st.svc.registry, guild.ID, target.UserID)) == 0 {
		return failure(ErrAlreadyUnmuted), ErrAlreadyUnmuted
	}
	res, err := st.svc.chanEnf.RemoveAll(ctx, guild, target, reason)
	if err != nil {
		return res, err
	}
	if !res.Success {
		return res, fmt.Errorf("%w: no channel could be unmuted", ErrPermissions)
	}
	return res, nil
}

func allFailuresAre(res Result, target error) bool {
	for _, f := range res.ChannelFailures {
		if !errors.Is(f.Err, target) {
			return false
		}
	}
	return len(res.ChannelFailures) > 0
}

func trackedChannelMutes(reg *Registry, guildID, userID snowflake.ID) []ChannelMuteRecord {
	var recs []ChannelMuteRecord
	for _, rec := range reg.ChannelMutesInGuild(guildID) {
		if rec.UserID == userID {
			recs = append(recs, rec)
		}
	}
	return recs
}

// strategyFor picks the enforcement strategy for a guild: the mute role when
// one is configured and still exists, channel overwrites otherwise. A
// configured role that no longer resolves is an error rather than a silent
// fallback.
func (s *Service) strategyFor(ctx context.Context, guild Guild) (MuteStrategy, error) {
	roleID, ok := s.registry.MuteRole(guild.ID)
	if !ok {
		return overwriteStrategy{svc: s}, nil
	}
	role, err := s.dir.Role(ctx, guild.ID, roleID)
	if err != nil {
		return nil, ErrRoleMissing
	}
	return roleStrategy{svc: s, role: role}, nil
}

type subjects struct {
	guild  Guild
	actor  Member
	target Member
	bot    Member
}

// resolve gathers the subjects of an operation and runs the gate checks
// common to every mutating operation. Nothing external is touched when a
// check fails.
func (s *Service) resolve(ctx context.Context, guildID, userID, authorID snowflake.ID) (subjects, error) {
	guild, err := s.dir.Guild(ctx, guildID)
	if err != nil {
		return subjects{}, fmt.Errorf("%w: %v", ErrExternalAPI, err)
	}
	target, err := s.dir.Member(ctx, guildID, userID)
	if err != nil {
		return subjects{}, err
	}
	actor, err := s.dir.Member(ctx, guildID, authorID)
	if err != nil {
		return subjects{}, err
	}
	bot, err := s.dir.BotMember(ctx, guildID)
	if err != nil {
		return subjects{}, fmt.Errorf("%w: %v", ErrExternalAPI, err)
	}
	if target.Permissions.Has(discord.PermissionAdministrator) {
		return subjects{}, ErrAdministrator
	}
	if !s.guard.Allowed(guild, actor, target) {
		return subjects{}, ErrHierarchy
	}
	return subjects{guild: guild, actor: actor, target: target, bot: bot}, nil
}

// MuteUser mutes a user across the whole guild, via the mute role when one
// is configured or channel overwrites otherwise.
func (s *Service) MuteUser(ctx context.Context, guildID, userID, authorID snowflake.ID, until *time.Time, reason string) (Result, error) {
	sub, err := s.resolve(ctx, guildID, userID, authorID)
	if err != nil {
		return failure(err), err
	}
	strategy, err := s.strategyFor(ctx, sub.guild)
	if err != nil {
		return failure(err), err
	}
	res, err := strategy.Mute(ctx, sub.guild, sub.actor, sub.target, sub.bot, until, reason)
	if err != nil {
		return res, err
	}

	s.record(ctx, ModLogEntry{
		GuildID:     guildID,
		Kind:        CaseServerMute,
		UserID:      userID,
		ModeratorID: authorID,
		Reason:      reason,
		Until:       until,
		CreatedAt:   time.Now(),
	})
	s.notifier.Send(ctx, Notification{
		GuildID:   guildID,
		GuildName: sub.guild.Name,
		UserID:    userID,
		Moderator: sub.actor.Username,
		Title:     TitleServerMute,
		Reason:    reason,
		Until:     until,
	})
	return res, nil
}

// UnmuteUser lifts a guild-wide mute.
func (s *Service) UnmuteUser(ctx context.Context, guildID, userID, authorID snowflake.ID, reason string) (Result, error) {
	sub, err := s.resolve(ctx, guildID, userID, authorID)
	if err != nil {
		return failure(err), err
	}
	strategy, err := s.strategyFor(ctx, sub.guild)
	if err != nil {
		return failure(err), err
	}
	res, err := strategy.Unmute(ctx, sub.guild, sub.actor, sub.target, sub.bot, reason)
	if err != nil {
		return res, err
	}

	s.record(ctx, ModLogEntry{
		GuildID:     guildID,
		Kind:        CaseServerUnmute,
		UserID:      userID,
		ModeratorID: authorID,
		Reason:      reason,
		CreatedAt:   time.Now(),
	})
	s.notifier.Send(ctx, Notification{
		GuildID:   guildID,
		GuildName: sub.guild.Name,
		UserID:    userID,
		Moderator: sub.actor.Username,
		Title:     TitleServerUnmute,
		Reason:    reason,
	})
	return res, nil
}

// ChannelMuteUser mutes a user in one channel via a permission overwrite.
func (s *Service) ChannelMuteUser(ctx context.Context, guildID, channelID, userID, authorID snowflake.ID, until *time.Time, reason string) (Result, error) {
	sub, err := s.resolve(ctx, guildID, userID, authorID)
	if err != nil {
		return failure(err), err
	}
	ch, err := s.dir.Channel(ctx, channelID)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrExternalAPI, err)
		return failure(err), err
	}

	note, err := s.chanEnf.ApplyOne(ctx, sub.guild, ch, sub.actor, sub.target, until, reason)
	if err != nil {
		return failure(err), err
	}

	kind, title := CaseChannelMute, TitleChannelMute
	if ch.Voice {
		kind, title = CaseVoiceMute, TitleVoiceMute
	}
	s.record(ctx, ModLogEntry{
		GuildID:     guildID,
		Kind:        kind,
		UserID:      userID,
		ModeratorID: authorID,
		Reason:      reason,
		Until:       until,
		ChannelID:   channelID,
		CreatedAt:   time.Now(),
	})
	s.notifier.Send(ctx, Notification{
		GuildID:   guildID,
		GuildName: sub.guild.Name,
		UserID:    userID,
		Moderator: sub.actor.Username,
		Title:     title,
		Reason:    reason,
		Until:     until,
	})
	return Result{Success: true, Reason: note}, nil
}

// ChannelUnmuteUser lifts a single-channel mute, restoring the overwrite
// state captured when the mute was applied.
func (s *Service) ChannelUnmuteUser(ctx context.Context, guildID, channelID, userID, authorID snowflake.ID, reason string) (Result, error) {
	sub, err := s.resolve(ctx, guildID, userID, authorID)
	if err != nil {
		return failure(err), err
	}
	ch, err := s.dir.Channel(ctx, channelID)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrExternalAPI, err)
		return failure(err), err
	}

	if err := s.chanEnf.RemoveOne(ctx, sub.guild, ch, sub.target, reason); err != nil {
		return failure(err), err
	}

	kind, title := CaseChannelUnmute, TitleChannelUnmute
	if ch.Voice {
		kind, title = CaseVoiceUnmute, TitleVoiceUnmute
	}
	s.record(ctx, ModLogEntry{
		GuildID:     guildID,
		Kind:        kind,
		UserID:      userID,
		ModeratorID: authorID,
		Reason:      reason,
		ChannelID:   channelID,
		CreatedAt:   time.Now(),
	})
	s.notifier.Send(ctx, Notification{
		GuildID:   guildID,
		GuildName: sub.guild.Name,
		UserID:    userID,
		Moderator: sub.actor.Username,
		Title:     title,
		Reason:    reason,
	})
	return Result{Success: true}, nil
}

// SetupMuteRole writes the standard mute-role deny overwrite to every
// channel of the guild, returning the channels the bot could not edit.
func (s *Service) SetupMuteRole(ctx context.Context, guildID, roleID snowflake.ID) ([]Channel, error) {
	channels, err := s.dir.Channels(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExternalAPI, err)
	}
	var skipped []Channel
	for _, ch := range channels {
		botPerms, err := s.dir.BotChannelPermissions(ctx, ch.ID)
		if err != nil || !botPerms.Has(discord.PermissionManageRoles) {
			skipped = append(skipped, ch)
			continue
		}
		ow := Overwrite{Deny: MuteDenied}
		if err := s.chanEnf.editor.SetRoleOverwrite(ctx, ch.ID, roleID, ow, "Mute role setup"); err != nil {
			skipped = append(skipped, ch)
		}
	}
	return skipped, nil
}

// reapplyGuildMute restores the mute role for a still-tracked member, used
// when a muted member rejoins the guild.
func (s *Service) reapplyGuildMute(ctx context.Context, guildID, userID snowflake.ID) error {
	rec, ok := s.registry.GuildMute(guildID, userID)
	if !ok {
		return nil
	}
	roleID, ok := s.registry.MuteRole(guildID)
	if !ok {
		return nil
	}
	guild, err := s.dir.Guild(ctx, guildID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalAPI, err)
	}
	role, err := s.dir.Role(ctx, guildID, roleID)
	if err != nil {
		return ErrRoleMissing
	}
	target, err := s.dir.Member(ctx, guildID, userID)
	if err != nil {
		return err
	}
	bot, err := s.dir.BotMember(ctx, guildID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalAPI, err)
	}
	return s.roleEnf.Apply(ctx, guild, role, bot, target, bot, rec.Until, "Previously muted in this server.")
}

func (s *Service) record(ctx context.Context, entry ModLogEntry) {
	if err := s.modlog.Record(ctx, entry); err != nil {
		// Moderation history is best-effort; enforcement already happened.
		logModLogFailure(entry, err)
	}
	s.announceCase(ctx, entry)
}

// announceCase posts the case to the guild's modlog channel, if one is
// configured. Best-effort like the rest of the history surface.
func (s *Service) announceCase(ctx context.Context, entry ModLogEntry) {
	channelID, err := s.settings.ModLogChannel(ctx, entry.GuildID)
	if err != nil || channelID == 0 {
		return
	}

	line := fmt.Sprintf("**%s** <@%d>", entry.Kind, entry.UserID)
	if entry.ModeratorID != 0 {
		line += fmt.Sprintf(" by <@%d>", entry.ModeratorID)
	}
	if entry.ChannelID != 0 {
		line += fmt.Sprintf(" in <#%d>", entry.ChannelID)
	}
	if entry.Until != nil {
		line += fmt.Sprintf(" until <t:%d:F>", entry.Until.Unix())
	}
	if entry.Reason != "" {
		line += " — " + entry.Reason
	}
	if err := s.msgr.SendToChannel(ctx, channelID, line); err != nil {
		logNotification(entry.GuildID, line)
	}
}

// notifyFailure routes a failed automatic unmute to the guild's notification
// channel; with none configured it is logged only.
func (s *Service) notifyFailure(ctx context.Context, guildID snowflake.ID, msg string) {
	channelID, err := s.settings.NotificationChannel(ctx, guildID)
	if err != nil || channelID == 0 {
		logNotification(guildID, msg)
		return
	}
	if err := s.msgr.SendToChannel(ctx, channelID, msg); err != nil {
		logNotification(guildID, msg)
	}
}
