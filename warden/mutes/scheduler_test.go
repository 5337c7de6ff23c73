package mutes

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

func pastTime() *time.Time {
	t := time.Now().Add(-time.Second)
	return &t
}

// runScan triggers one expiry scan and waits for the spawned tasks.
func runScan(t *testing.T, sched *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sched.scan(ctx)
	sched.tasks.Wait()
}

func TestSchedulerAutoUnmuteRole(t *testing.T) {
	env := newTestEnv().withMuteRole()
	env.settings.dm = true
	rec := GuildMuteRecord{GuildID: testGuildID, UserID: testTargetID, AuthorID: testActorID, Until: pastTime(), Reason: "spam"}
	if err := env.registry.PutGuildMute(context.Background(), rec); err != nil {
		t.Fatalf("PutGuildMute() error = %v", err)
	}

	runScan(t, NewScheduler(env.svc))

	if _, ok := env.registry.GuildMute(testGuildID, testTargetID); ok {
		t.Error("expired mute still tracked")
	}
	if env.roles.removeCount() != 1 {
		t.Errorf("RemoveRole called %d times, want 1", env.roles.removeCount())
	}
	cases := env.modlog.byKind(CaseServerUnmute)
	if len(cases) != 1 {
		t.Fatalf("sunmute cases = %d, want 1", len(cases))
	}
	if cases[0].Reason != AutoUnmuteReason {
		t.Errorf("case reason = %q, want %q", cases[0].Reason, AutoUnmuteReason)
	}
	if cases[0].ModeratorID != 0 {
		t.Error("automatic unmute must be unattributed")
	}
	if env.msgr.dmCount() != 1 {
		t.Errorf("DMs sent = %d, want 1", env.msgr.dmCount())
	}
}

func TestSchedulerSkipsUnexpiredAndIndefinite(t *testing.T) {
	env := newTestEnv().withMuteRole()
	ctx := context.Background()
	if err := env.registry.PutGuildMute(ctx, GuildMuteRecord{GuildID: testGuildID, UserID: testTargetID, Until: futureTime(time.Hour)}); err != nil {
		t.Fatalf("PutGuildMute() error = %v", err)
	}
	if err := env.registry.PutGuildMute(ctx, GuildMuteRecord{GuildID: testGuildID, UserID: 42}); err != nil {
		t.Fatalf("PutGuildMute() error = %v", err)
	}

	runScan(t, NewScheduler(env.svc))

	if env.roles.removeCount() != 0 {
		t.Errorf("RemoveRole called %d times, want 0", env.roles.removeCount())
	}
	if got := len(env.registry.GuildMutes(testGuildID)); got != 2 {
		t.Errorf("tracked mutes = %d, want 2", got)
	}
}

func TestSchedulerReschedulesOnce(t *testing.T) {
	env := newTestEnv().withMuteRole()
	if err := env.registry.PutGuildMute(context.Background(), GuildMuteRecord{GuildID: testGuildID, UserID: testTargetID, Until: pastTime()}); err != nil {
		t.Fatalf("PutGuildMute() error = %v", err)
	}

	sched := NewScheduler(env.svc)
	ctx := context.Background()
	// Consecutive ticks seeing the same record must spawn one task.
	sched.scan(ctx)
	sched.scan(ctx)
	sched.tasks.Wait()

	if env.roles.removeCount() != 1 {
		t.Errorf("RemoveRole called %d times, want 1", env.roles.removeCount())
	}
}

func TestSchedulerMemberGonePurgesSilently(t *testing.T) {
	env := newTestEnv().withMuteRole()
	env.settings.dm = true
	env.settings.notifChannel = 500
	delete(env.dir.members, testTargetID)
	if err := env.registry.PutGuildMute(context.Background(), GuildMuteRecord{GuildID: testGuildID, UserID: testTargetID, Until: pastTime()}); err != nil {
		t.Fatalf("PutGuildMute() error = %v", err)
	}

	runScan(t, NewScheduler(env.svc))

	if _, ok := env.registry.GuildMute(testGuildID, testTargetID); ok {
		t.Error("mute of a departed member must be purged")
	}
	if env.modlog.count() != 0 {
		t.Error("no case expected for a departed member")
	}
	if got := env.msgr.sentTo(500); len(got) != 0 {
		t.Errorf("no failure report expected, got %v", got)
	}
}

func TestSchedulerFailureDropsRecordAndReports(t *testing.T) {
	env := newTestEnv().withMuteRole()
	env.settings.notifChannel = 500
	env.roles.removeErr = strErr("403")
	if err := env.registry.PutGuildMute(context.Background(), GuildMuteRecord{GuildID: testGuildID, UserID: testTargetID, Until: pastTime()}); err != nil {
		t.Fatalf("PutGuildMute() error = %v", err)
	}

	runScan(t, NewScheduler(env.svc))

	if _, ok := env.registry.GuildMute(testGuildID, testTargetID); ok {
		t.Error("unenforceable record must be dropped, not retried forever")
	}
	reports := env.msgr.sentTo(500)
	if len(reports) != 1 {
		t.Fatalf("failure reports = %d, want 1", len(reports))
	}
	if !strings.Contains(reports[0], "unable to unmute") {
		t.Errorf("report = %q, want an unable-to-unmute message", reports[0])
	}
	if env.modlog.count() != 0 {
		t.Error("a failed unmute must not record a case")
	}
}

func TestSchedulerChannelUnmuteBatch(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	names := map[snowflake.ID]string{200: "alpha", 201: "bravo", 202: "charlie"}
	for id, name := range names {
		env.dir.channels = append(env.dir.channels, Channel{ID: id, GuildID: testGuildID, Name: name})
		env.editor.overwrites[storeKey{id, testTargetID}] = Overwrite{Deny: MuteDenied}
		rec := ChannelMuteRecord{GuildID: testGuildID, ChannelID: id, UserID: testTargetID, Until: pastTime()}
		if err := env.registry.PutChannelMute(ctx, rec); err != nil {
			t.Fatalf("PutChannelMute() error = %v", err)
		}
	}

	runScan(t, NewScheduler(env.svc))

	if got := len(trackedChannelMutes(env.registry, testGuildID, testTargetID)); got != 0 {
		t.Errorf("tracked mutes = %d, want 0", got)
	}
	cases := env.modlog.byKind(CaseChannelUnmute)
	if len(cases) != 1 {
		t.Fatalf("cunmute cases = %d, want exactly one aggregated case", len(cases))
	}
	reason := cases[0].Reason
	if !strings.HasPrefix(reason, AutoUnmuteReason+" in channels ") {
		t.Fatalf("reason = %q, want aggregated channel list", reason)
	}
	for _, name := range names {
		if !strings.Contains(reason, name) {
			t.Errorf("reason %q missing channel %q", reason, name)
		}
	}
}

// gaugeEditor wraps fakeEditor and records the peak number of concurrent
// mutating overwrite calls.
type gaugeEditor struct {
	*fakeEditor
	gaugeMu sync.Mutex
	active  int
	peak    int
}

func (e *gaugeEditor) enter() {
	e.gaugeMu.Lock()
	e.active++
	if e.active > e.peak {
		e.peak = e.active
	}
	e.gaugeMu.Unlock()
	time.Sleep(5 * time.Millisecond)
}

func (e *gaugeEditor) exit() {
	e.gaugeMu.Lock()
	e.active--
	e.gaugeMu.Unlock()
}

func (e *gaugeEditor) peakConcurrent() int {
	e.gaugeMu.Lock()
	defer e.gaugeMu.Unlock()
	return e.peak
}

func (e *gaugeEditor) SetOverwrite(ctx context.Context, channelID, userID snowflake.ID, ow Overwrite, reason string) error {
	e.enter()
	defer e.exit()
	return e.fakeEditor.SetOverwrite(ctx, channelID, userID, ow, reason)
}

func (e *gaugeEditor) ClearOverwrite(ctx context.Context, channelID, userID snowflake.ID, reason string) error {
	e.enter()
	defer e.exit()
	return e.fakeEditor.ClearOverwrite(ctx, channelID, userID, reason)
}

func TestSchedulerBatchBoundsConcurrency(t *testing.T) {
	store := newFakeStore()
	registry := NewRegistry(store)
	dir := newFakeDirectory()
	editor := &gaugeEditor{fakeEditor: newFakeEditor()}
	svc := NewService(Config{
		PollInterval:  10 * time.Millisecond,
		Lookahead:     50 * time.Millisecond,
		FanOutWorkers: 2,
	}, registry, dir, &fakeRoles{}, editor, newFakeVoice(), newFakeMessenger(), &fakeSettings{}, &fakeModLog{})

	ctx := context.Background()
	for i := 0; i < 16; i++ {
		id := snowflake.ID(200 + i)
		dir.channels = append(dir.channels, Channel{ID: id, GuildID: testGuildID, Name: fmt.Sprintf("chan-%d", id)})
		editor.overwrites[storeKey{id, testTargetID}] = Overwrite{Deny: MuteDenied}
		if err := registry.PutChannelMute(ctx, ChannelMuteRecord{GuildID: testGuildID, ChannelID: id, UserID: testTargetID, Until: pastTime()}); err != nil {
			t.Fatalf("PutChannelMute() error = %v", err)
		}
	}

	runScan(t, NewScheduler(svc))

	if got := editor.peakConcurrent(); got > 2 {
		t.Errorf("peak concurrent overwrite calls = %d, want at most 2", got)
	}
	if got := len(trackedChannelMutes(registry, testGuildID, testTargetID)); got != 0 {
		t.Errorf("tracked mutes = %d, want 0", got)
	}
}

func TestSchedulerPurgesRoleMuteAfterRoleCleared(t *testing.T) {
	// A timed mute created under a mute role that has since been cleared.
	// With no role and no channel records there is nothing to lift; the
	// record must still be purged so scans stop rescheduling it.
	env := newTestEnv()
	if err := env.registry.PutGuildMute(context.Background(), GuildMuteRecord{GuildID: testGuildID, UserID: testTargetID, Until: pastTime()}); err != nil {
		t.Fatalf("PutGuildMute() error = %v", err)
	}

	sched := NewScheduler(env.svc)
	runScan(t, sched)

	if _, ok := env.registry.GuildMute(testGuildID, testTargetID); ok {
		t.Error("expired mute with nothing to lift must be purged")
	}
	if env.store.hasGuildMute(testGuildID, testTargetID) {
		t.Error("purge must reach the store")
	}
	if env.modlog.count() != 0 {
		t.Error("no case expected when nothing was lifted")
	}
}

func TestSchedulerBatchLatchFreeDuringDeadlineWait(t *testing.T) {
	env := newTestEnv().withChannels(200, 201)
	ctx := context.Background()
	until := futureTime(150 * time.Millisecond)
	for _, id := range []snowflake.ID{200, 201} {
		env.editor.overwrites[storeKey{id, testTargetID}] = Overwrite{Deny: MuteDenied}
		if err := env.registry.PutChannelMute(ctx, ChannelMuteRecord{GuildID: testGuildID, ChannelID: id, UserID: testTargetID, Until: until}); err != nil {
			t.Fatalf("PutChannelMute() error = %v", err)
		}
	}

	sched := NewScheduler(env.svc)
	done := make(chan struct{})
	go func() {
		sched.autoChannelUnmuteBatch(ctx, testGuildID, testTargetID, env.registry.SnapshotChannelMutes())
		close(done)
	}()

	// While the batch waits for the deadlines the guild latch must stay
	// free so overwrite reconciliation is not starved.
	time.Sleep(20 * time.Millisecond)
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := env.svc.latches.Wait(waitCtx, testGuildID); err != nil {
		t.Errorf("latch held during the deadline wait: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("batch did not finish")
	}
	if got := len(trackedChannelMutes(env.registry, testGuildID, testTargetID)); got != 0 {
		t.Errorf("tracked mutes = %d, want 0", got)
	}
}

func TestSchedulerSingleChannelUnmuteVoiceCase(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.dir.channels = append(env.dir.channels, Channel{ID: 300, GuildID: testGuildID, Name: "voice", Voice: true})
	env.editor.overwrites[storeKey{300, testTargetID}] = Overwrite{Deny: MuteDenied}
	if err := env.registry.PutChannelMute(ctx, ChannelMuteRecord{GuildID: testGuildID, ChannelID: 300, UserID: testTargetID, Until: pastTime()}); err != nil {
		t.Fatalf("PutChannelMute() error = %v", err)
	}

	runScan(t, NewScheduler(env.svc))

	if _, ok := env.registry.ChannelMute(300, testTargetID); ok {
		t.Error("expired channel mute still tracked")
	}
	if got := env.modlog.byKind(CaseVoiceUnmute); len(got) != 1 {
		t.Errorf("vunmute cases = %d, want 1", len(got))
	}
}

func TestSchedulerSkipsManuallyReplacedDeadline(t *testing.T) {
	env := newTestEnv().withMuteRole()
	ctx := context.Background()
	if err := env.registry.PutGuildMute(ctx, GuildMuteRecord{GuildID: testGuildID, UserID: testTargetID, Until: pastTime()}); err != nil {
		t.Fatalf("PutGuildMute() error = %v", err)
	}

	sched := NewScheduler(env.svc)
	snapshot := env.registry.SnapshotGuildMutes()[0]
	// The mute is extended while the task is in flight.
	if err := env.registry.PutGuildMute(ctx, GuildMuteRecord{GuildID: testGuildID, UserID: testTargetID, Until: futureTime(time.Hour)}); err != nil {
		t.Fatalf("PutGuildMute() error = %v", err)
	}
	sched.autoUnmute(ctx, snapshot)

	if env.roles.removeCount() != 0 {
		t.Error("a replaced deadline must not be unmuted")
	}
	if _, ok := env.registry.GuildMute(testGuildID, testTargetID); !ok {
		t.Error("extended mute must stay tracked")
	}
}

func TestSchedulerShutdown(t *testing.T) {
	env := newTestEnv()
	sched := NewScheduler(env.svc)
	sched.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sched.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestTaskSetLen(t *testing.T) {
	ts := newTaskSet()
	release := make(chan struct{})
	ts.Spawn(context.Background(), taskKey{guildID: testGuildID, userID: testTargetID}, func(context.Context) {
		<-release
	})
	if got := ts.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
	close(release)
	ts.Wait()
	if got := ts.Len(); got != 0 {
		t.Errorf("Len() after Wait() = %d, want 0", got)
	}
}

type strErr string

func (e strErr) Error() string { return string(e) }
