package mutes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"golang.org/x/sync/errgroup"
)

// AutoUnmuteReason is the audit reason attached to expiry-driven unmutes.
const AutoUnmuteReason = "Automatic unmute"

// Scheduler drives automatic expiry. It polls the registry on a fixed
// interval, picks up every timed mute due within the lookahead window and
// spawns a keyed task per expiry that sleeps out the remaining time before
// unmuting. Tasks are keyed so that a record seen on consecutive ticks is
// scheduled once.
type Scheduler struct {
	svc    *Service
	tasks  *taskSet
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(svc *Service) *Scheduler {
	return &Scheduler{
		svc:   svc,
		tasks: newTaskSet(),
		done:  make(chan struct{}),
	}
}

// Start launches the polling loop. The first scan happens immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.svc.cfg.PollInterval)
	defer ticker.Stop()

	s.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

// Shutdown stops the polling loop and waits for in-flight unmute tasks,
// bounded by ctx.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	finished := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		slog.Warn("Shutdown abandoning unmute tasks",
			slog.String("type", "sys"),
			slog.Int("pending", s.tasks.Len()))
		return ctx.Err()
	}
}

func (s *Scheduler) scan(ctx context.Context) {
	horizon := time.Now().Add(s.svc.cfg.Lookahead)

	for _, rec := range s.svc.registry.SnapshotGuildMutes() {
		if rec.Until == nil || rec.Until.After(horizon) {
			continue
		}
		rec := rec
		s.tasks.Spawn(ctx, taskKey{kind: taskServerUnmute, guildID: rec.GuildID, userID: rec.UserID}, func(ctx context.Context) {
			s.autoUnmute(ctx, rec)
		})
	}

	// Channel mutes of the same member in the same guild that expire in the
	// same window are lifted as one batch with a single aggregated audit.
	type memberKey struct {
		guildID snowflake.ID
		userID  snowflake.ID
	}
	due := map[memberKey][]ChannelMuteRecord{}
	for _, rec := range s.svc.registry.SnapshotChannelMutes() {
		if rec.Until == nil || rec.Until.After(horizon) {
			continue
		}
		k := memberKey{guildID: rec.GuildID, userID: rec.UserID}
		due[k] = append(due[k], rec)
	}
	for k, recs := range due {
		if len(recs) == 1 {
			rec := recs[0]
			s.tasks.Spawn(ctx, taskKey{kind: taskChannelUnmute, guildID: rec.GuildID, channelID: rec.ChannelID, userID: rec.UserID}, func(ctx context.Context) {
				s.autoChannelUnmute(ctx, rec)
			})
			continue
		}
		recs := recs
		s.tasks.Spawn(ctx, taskKey{kind: taskGuildChannelUnmutes, guildID: k.guildID, userID: k.userID}, func(ctx context.Context) {
			s.autoChannelUnmuteBatch(ctx, k.guildID, k.userID, recs)
		})
	}
}

// autoUnmute lifts an expired guild-wide mute once its deadline passes.
func (s *Scheduler) autoUnmute(ctx context.Context, rec GuildMuteRecord) {
	if rec.Until != nil && !sleepUntil(ctx, *rec.Until) {
		return
	}
	// The mute may have been lifted manually, or replaced with a longer one,
	// while this task slept.
	cur, ok := s.svc.registry.GuildMute(rec.GuildID, rec.UserID)
	if !ok || !sameDeadline(cur.Until, rec.Until) {
		return
	}

	guild, err := s.svc.dir.Guild(ctx, rec.GuildID)
	if err != nil {
		s.reportFailure(ctx, rec.GuildID, rec.UserID, 0, err)
		return
	}
	target, err := s.svc.dir.Member(ctx, rec.GuildID, rec.UserID)
	if err != nil {
		if errors.Is(err, ErrTargetGone) {
			s.svc.registry.RemoveGuildMute(ctx, rec.GuildID, rec.UserID)
			return
		}
		s.reportFailure(ctx, rec.GuildID, rec.UserID, 0, err)
		return
	}
	bot, err := s.svc.dir.BotMember(ctx, rec.GuildID)
	if err != nil {
		s.reportFailure(ctx, rec.GuildID, rec.UserID, 0, err)
		return
	}

	strategy, err := s.svc.strategyFor(ctx, guild)
	if err == nil {
		_, err = strategy.Unmute(ctx, guild, bot, target, bot, AutoUnmuteReason)
	}
	if err != nil {
		if errors.Is(err, ErrAlreadyUnmuted) {
			// Nothing left to lift, typically because the mute role was
			// cleared after the mute was created. Purge the record so scan
			// does not respawn a no-op task for it every tick.
			s.svc.registry.RemoveGuildMute(ctx, rec.GuildID, rec.UserID)
			return
		}
		// Fail open. A record the engine cannot act on would otherwise be
		// retried every tick forever.
		s.svc.registry.RemoveGuildMute(ctx, rec.GuildID, rec.UserID)
		s.reportFailure(ctx, rec.GuildID, rec.UserID, 0, err)
		return
	}

	s.svc.record(ctx, ModLogEntry{
		GuildID:   rec.GuildID,
		Kind:      CaseServerUnmute,
		UserID:    rec.UserID,
		Reason:    AutoUnmuteReason,
		CreatedAt: time.Now(),
	})
	s.svc.notifier.Send(ctx, Notification{
		GuildID:   rec.GuildID,
		GuildName: guild.Name,
		UserID:    rec.UserID,
		Title:     TitleServerUnmute,
		Reason:    AutoUnmuteReason,
	})
}

// autoChannelUnmute lifts one expired channel mute.
func (s *Scheduler) autoChannelUnmute(ctx context.Context, rec ChannelMuteRecord) {
	guild, ch, voice, err := s.liftChannelMute(ctx, rec)
	if err != nil {
		if errors.Is(err, ErrAlreadyUnmuted) || errors.Is(err, ErrTargetGone) {
			return
		}
		s.svc.registry.RemoveChannelMute(ctx, rec.ChannelID, rec.UserID)
		s.reportFailure(ctx, rec.GuildID, rec.UserID, rec.ChannelID, err)
		return
	}

	kind, title := CaseChannelUnmute, TitleChannelUnmute
	if voice {
		kind, title = CaseVoiceUnmute, TitleVoiceUnmute
	}
	s.svc.record(ctx, ModLogEntry{
		GuildID:   rec.GuildID,
		Kind:      kind,
		UserID:    rec.UserID,
		Reason:    AutoUnmuteReason,
		ChannelID: ch.ID,
		CreatedAt: time.Now(),
	})
	s.svc.notifier.Send(ctx, Notification{
		GuildID:   rec.GuildID,
		GuildName: guild.Name,
		UserID:    rec.UserID,
		Title:     title,
		Reason:    AutoUnmuteReason,
	})
}

// liftChannelMute sleeps out the record's deadline, re-checks it and removes
// the overwrite. It reports whether the channel is a voice channel.
func (s *Scheduler) liftChannelMute(ctx context.Context, rec ChannelMuteRecord) (Guild, Channel, bool, error) {
	if rec.Until != nil && !sleepUntil(ctx, *rec.Until) {
		return Guild{}, Channel{}, false, ctx.Err()
	}
	cur, ok := s.svc.registry.ChannelMute(rec.ChannelID, rec.UserID)
	if !ok || !sameDeadline(cur.Until, rec.Until) {
		return Guild{}, Channel{}, false, ErrAlreadyUnmuted
	}

	guild, err := s.svc.dir.Guild(ctx, rec.GuildID)
	if err != nil {
		return Guild{}, Channel{}, false, err
	}
	ch, err := s.svc.dir.Channel(ctx, rec.ChannelID)
	if err != nil {
		return Guild{}, Channel{}, false, err
	}
	target, err := s.svc.dir.Member(ctx, rec.GuildID, rec.UserID)
	if err != nil {
		if errors.Is(err, ErrTargetGone) {
			s.svc.registry.RemoveChannelMute(ctx, rec.ChannelID, rec.UserID)
		}
		return Guild{}, Channel{}, false, err
	}

	if err := s.svc.chanEnf.RemoveOne(ctx, guild, ch, target, AutoUnmuteReason); err != nil {
		return Guild{}, Channel{}, false, err
	}
	return guild, ch, ch.Voice, nil
}

// autoChannelUnmuteBatch lifts several channel mutes of one member as a
// unit. Deadlines are slept out before the guild latch is taken, so the
// latch pauses overwrite reconciliation only for the removal burst itself;
// a single aggregated case is recorded listing only the channels that
// actually changed.
func (s *Scheduler) autoChannelUnmuteBatch(ctx context.Context, guildID, userID snowflake.ID, recs []ChannelMuteRecord) {
	var latest time.Time
	for _, rec := range recs {
		if rec.Until != nil && rec.Until.After(latest) {
			latest = *rec.Until
		}
	}
	if !latest.IsZero() && !sleepUntil(ctx, latest) {
		return
	}

	release := s.svc.latches.Hold(guildID)
	defer release()

	var (
		mu       sync.Mutex
		unmuted  []Channel
		failures []ChannelFailure
		guild    Guild
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.svc.cfg.FanOutWorkers)
	for _, rec := range recs {
		g.Go(func() error {
			gd, ch, _, err := s.liftChannelMute(gctx, rec)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				guild = gd
				unmuted = append(unmuted, ch)
			case errors.Is(err, ErrAlreadyUnmuted), errors.Is(err, ErrTargetGone):
			default:
				s.svc.registry.RemoveChannelMute(gctx, rec.ChannelID, rec.UserID)
				failures = append(failures, ChannelFailure{ChannelID: rec.ChannelID, Err: err})
			}
			// Failures are aggregated, never aborting the batch.
			return nil
		})
	}
	_ = g.Wait()

	for _, f := range failures {
		s.reportFailure(ctx, guildID, userID, f.ChannelID, f.Err)
	}
	if len(unmuted) == 0 {
		return
	}

	sort.Slice(unmuted, func(i, j int) bool { return unmuted[i].ID < unmuted[j].ID })
	names := make([]string, len(unmuted))
	for i, ch := range unmuted {
		names[i] = ch.Name
	}
	s.svc.record(ctx, ModLogEntry{
		GuildID:   guildID,
		Kind:      CaseChannelUnmute,
		UserID:    userID,
		Reason:    fmt.Sprintf("%s in channels %s", AutoUnmuteReason, strings.Join(names, ", ")),
		CreatedAt: time.Now(),
	})
	s.svc.notifier.Send(ctx, Notification{
		GuildID:   guildID,
		GuildName: guild.Name,
		UserID:    userID,
		Title:     TitleChannelUnmute,
		Reason:    AutoUnmuteReason,
	})
}

func (s *Scheduler) reportFailure(ctx context.Context, guildID, userID, channelID snowflake.ID, err error) {
	slog.Error("Automatic unmute failed",
		slog.String("type", "sys"),
		slog.String("guild_id", guildID.String()),
		slog.String("user_id", userID.String()),
		slog.String("channel_id", channelID.String()),
		slog.Any("error", err))

	where := "this server"
	if channelID != 0 {
		where = fmt.Sprintf("<#%d>", channelID)
	}
	msg := fmt.Sprintf("I am unable to unmute <@%d> in %s for the following reason: %s", userID, where, err)
	s.svc.notifyFailure(ctx, guildID, msg)
}

func sameDeadline(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
