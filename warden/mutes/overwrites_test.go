package mutes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
)

func newOverwriteEnforcer(t *testing.T, channels ...snowflake.ID) (*ChannelOverwriteEnforcer, *Registry, *fakeDirectory, *fakeEditor, *fakeVoice) {
	t.Helper()
	reg := NewRegistry(newFakeStore())
	dir := newFakeDirectory()
	for _, id := range channels {
		dir.channels = append(dir.channels, Channel{ID: id, GuildID: testGuildID, Name: "general"})
	}
	editor := newFakeEditor()
	voice := newFakeVoice()
	return NewChannelOverwriteEnforcer(reg, dir, editor, voice, 4), reg, dir, editor, voice
}

func TestApplyOneMergesMuteDenies(t *testing.T) {
	enf, reg, _, editor, _ := newOverwriteEnforcer(t, 200)
	ch := Channel{ID: 200, GuildID: testGuildID, Name: "general"}
	editor.overwrites[storeKey{200, testTargetID}] = Overwrite{
		Allow: discord.PermissionSendMessages | discord.PermissionAttachFiles,
		Deny:  discord.PermissionManageMessages,
	}

	note, err := enf.ApplyOne(context.Background(), testGuild(), ch, testActor(), testTarget(), futureTime(time.Hour), "spam")
	if err != nil {
		t.Fatalf("ApplyOne() error = %v", err)
	}
	if note != "" {
		t.Errorf("note = %q, want empty for a text channel", note)
	}

	got, ok := editor.current(200, testTargetID)
	if !ok {
		t.Fatal("overwrite missing after mute")
	}
	if got.Allow.Has(discord.PermissionSendMessages) {
		t.Error("mute must strip SendMessages from Allow")
	}
	if !got.Allow.Has(discord.PermissionAttachFiles) {
		t.Error("mute must preserve unrelated Allow bits")
	}
	if !got.Deny.Has(discord.PermissionSendMessages) || !got.Deny.Has(discord.PermissionAddReactions) || !got.Deny.Has(discord.PermissionSpeak) {
		t.Errorf("Deny = %v, want all mute bits set", got.Deny)
	}
	if !got.Deny.Has(discord.PermissionManageMessages) {
		t.Error("mute must preserve unrelated Deny bits")
	}

	rec, ok := reg.ChannelMute(200, testTargetID)
	if !ok {
		t.Fatal("channel mute not tracked")
	}
	wantSnap := Overwrite{Allow: discord.PermissionSendMessages}
	if rec.Snapshot != wantSnap {
		t.Errorf("Snapshot = %+v, want %+v", rec.Snapshot, wantSnap)
	}
}

func TestApplyOneAlreadyMuted(t *testing.T) {
	enf, reg, _, _, _ := newOverwriteEnforcer(t, 200)
	reg.StageChannelMute(ChannelMuteRecord{GuildID: testGuildID, ChannelID: 200, UserID: testTargetID})
	ch := Channel{ID: 200, GuildID: testGuildID}

	_, err := enf.ApplyOne(context.Background(), testGuild(), ch, testActor(), testTarget(), nil, "")
	if !errors.Is(err, ErrAlreadyMuted) {
		t.Errorf("ApplyOne() error = %v, want %v", err, ErrAlreadyMuted)
	}
}

func TestApplyOneBotLacksChannelPermission(t *testing.T) {
	enf, reg, dir, editor, _ := newOverwriteEnforcer(t, 200)
	dir.botPerms[200] = discord.PermissionSendMessages
	ch := Channel{ID: 200, GuildID: testGuildID}

	_, err := enf.ApplyOne(context.Background(), testGuild(), ch, testActor(), testTarget(), nil, "")
	if !errors.Is(err, ErrPermissions) {
		t.Fatalf("ApplyOne() error = %v, want %v", err, ErrPermissions)
	}
	if editor.setCalls != 0 {
		t.Error("no overwrite call expected without channel permission")
	}
	if _, ok := reg.ChannelMute(200, testTargetID); ok {
		t.Error("no record expected without channel permission")
	}
}

func TestApplyOneDiscardsOnFailedCall(t *testing.T) {
	enf, reg, _, editor, _ := newOverwriteEnforcer(t, 200)
	editor.setErr[200] = errors.New("500")
	ch := Channel{ID: 200, GuildID: testGuildID}

	_, err := enf.ApplyOne(context.Background(), testGuild(), ch, testActor(), testTarget(), nil, "")
	if !errors.Is(err, ErrExternalAPI) {
		t.Fatalf("ApplyOne() error = %v, want %v", err, ErrExternalAPI)
	}
	if _, ok := reg.ChannelMute(200, testTargetID); ok {
		t.Error("staged record must be discarded after a failed call")
	}
}

func TestApplyOneVoiceBounce(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		inChannel  snowflake.ID
		botPerms   discord.Permissions
		wantNote   string
		wantBounce int
	}{
		{
			name:       "connected member bounced",
			connected:  true,
			inChannel:  300,
			botPerms:   discord.PermissionManageRoles | discord.PermissionMoveMembers,
			wantBounce: 1,
		},
		{
			name:      "not connected",
			connected: false,
			botPerms:  discord.PermissionManageRoles | discord.PermissionMoveMembers,
		},
		{
			name:      "connected elsewhere",
			connected: true,
			inChannel: 999,
			botPerms:  discord.PermissionManageRoles | discord.PermissionMoveMembers,
		},
		{
			name:      "bot cannot move members",
			connected: true,
			inChannel: 300,
			botPerms:  discord.PermissionManageRoles,
			wantNote:  VoiceNote,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enf, _, dir, _, voice := newOverwriteEnforcer(t)
			ch := Channel{ID: 300, GuildID: testGuildID, Name: "voice", Voice: true}
			dir.channels = append(dir.channels, ch)
			dir.botPerms[300] = tt.botPerms
			if tt.connected {
				voice.channels[testTargetID] = tt.inChannel
			}

			note, err := enf.ApplyOne(context.Background(), testGuild(), ch, testActor(), testTarget(), nil, "")
			if err != nil {
				t.Fatalf("ApplyOne() error = %v", err)
			}
			if note != tt.wantNote {
				t.Errorf("note = %q, want %q", note, tt.wantNote)
			}
			if voice.reconnects != tt.wantBounce {
				t.Errorf("reconnects = %d, want %d", voice.reconnects, tt.wantBounce)
			}
		})
	}
}

func TestRemoveOneRestoresSnapshot(t *testing.T) {
	tests := []struct {
		name      string
		snapshot  Overwrite
		extra     Overwrite // pre-mute bits outside the mute set
		wantClear bool
		wantAllow discord.Permissions
		wantDeny  discord.Permissions
	}{
		{
			name:      "clean overwrite deleted",
			snapshot:  Overwrite{},
			wantClear: true,
		},
		{
			name:      "explicit allow restored",
			snapshot:  Overwrite{Allow: discord.PermissionSendMessages},
			wantAllow: discord.PermissionSendMessages,
		},
		{
			name:      "prior deny kept denied",
			snapshot:  Overwrite{Deny: discord.PermissionSpeak},
			wantDeny:  discord.PermissionSpeak,
		},
		{
			name:      "unrelated bits survive",
			snapshot:  Overwrite{},
			extra:     Overwrite{Allow: discord.PermissionAttachFiles},
			wantAllow: discord.PermissionAttachFiles,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enf, reg, _, editor, _ := newOverwriteEnforcer(t, 200)
			ch := Channel{ID: 200, GuildID: testGuildID}
			reg.StageChannelMute(ChannelMuteRecord{
				GuildID:   testGuildID,
				ChannelID: 200,
				UserID:    testTargetID,
				Snapshot:  tt.snapshot,
			})
			editor.overwrites[storeKey{200, testTargetID}] = Overwrite{
				Allow: tt.extra.Allow,
				Deny:  tt.extra.Deny | MuteDenied,
			}

			if err := enf.RemoveOne(context.Background(), testGuild(), ch, testTarget(), "done"); err != nil {
				t.Fatalf("RemoveOne() error = %v", err)
			}
			if _, ok := reg.ChannelMute(200, testTargetID); ok {
				t.Error("record must be gone after unmute")
			}

			got, exists := editor.current(200, testTargetID)
			if tt.wantClear {
				if exists {
					t.Errorf("overwrite = %+v, want deleted", got)
				}
				return
			}
			if !exists {
				t.Fatal("overwrite missing after restore")
			}
			if got.Allow != tt.wantAllow || got.Deny != tt.wantDeny {
				t.Errorf("restored = %+v, want Allow=%v Deny=%v", got, tt.wantAllow, tt.wantDeny)
			}
		})
	}
}

func TestRemoveOneUntracked(t *testing.T) {
	enf, _, _, _, _ := newOverwriteEnforcer(t, 200)
	ch := Channel{ID: 200, GuildID: testGuildID}

	err := enf.RemoveOne(context.Background(), testGuild(), ch, testTarget(), "")
	if !errors.Is(err, ErrAlreadyUnmuted) {
		t.Errorf("RemoveOne() error = %v, want %v", err, ErrAlreadyUnmuted)
	}
}

func TestRemoveOneRestagesOnFailedCall(t *testing.T) {
	enf, reg, _, editor, _ := newOverwriteEnforcer(t, 200)
	ch := Channel{ID: 200, GuildID: testGuildID}
	rec := ChannelMuteRecord{
		GuildID:   testGuildID,
		ChannelID: 200,
		UserID:    testTargetID,
		Snapshot:  Overwrite{Allow: discord.PermissionSendMessages},
	}
	reg.StageChannelMute(rec)
	editor.overwrites[storeKey{200, testTargetID}] = Overwrite{Deny: MuteDenied}
	editor.setErr[200] = errors.New("500")

	err := enf.RemoveOne(context.Background(), testGuild(), ch, testTarget(), "")
	if !errors.Is(err, ErrExternalAPI) {
		t.Fatalf("RemoveOne() error = %v, want %v", err, ErrExternalAPI)
	}
	got, ok := reg.ChannelMute(200, testTargetID)
	if !ok {
		t.Fatal("record must be restaged after a failed call")
	}
	if got.Snapshot != rec.Snapshot {
		t.Errorf("restaged snapshot = %+v, want %+v", got.Snapshot, rec.Snapshot)
	}
}

func TestApplyAllAggregatesFailures(t *testing.T) {
	channels := make([]snowflake.ID, 10)
	for i := range channels {
		channels[i] = snowflake.ID(200 + i)
	}
	enf, reg, dir, editor, _ := newOverwriteEnforcer(t, channels...)
	dir.botPerms[205] = discord.PermissionSendMessages // one channel the bot cannot edit

	res, err := enf.ApplyAll(context.Background(), testGuild(), testActor(), testTarget(), futureTime(time.Hour), "spam")
	if err != nil {
		t.Fatalf("ApplyAll() error = %v", err)
	}
	if !res.Success {
		t.Fatal("expected success with nine mutable channels")
	}
	if len(res.ChannelFailures) != 1 {
		t.Fatalf("ChannelFailures = %d, want 1", len(res.ChannelFailures))
	}
	if res.ChannelFailures[0].ChannelID != 205 {
		t.Errorf("failed channel = %v, want 205", res.ChannelFailures[0].ChannelID)
	}
	if !errors.Is(res.ChannelFailures[0].Err, ErrPermissions) {
		t.Errorf("failure error = %v, want %v", res.ChannelFailures[0].Err, ErrPermissions)
	}
	if got := len(trackedChannelMutes(reg, testGuildID, testTargetID)); got != 9 {
		t.Errorf("tracked mutes = %d, want 9", got)
	}
	if editor.setCalls != 9 {
		t.Errorf("overwrite calls = %d, want 9", editor.setCalls)
	}
}

func TestRemoveAllSkipsUntrackedChannels(t *testing.T) {
	enf, reg, _, editor, _ := newOverwriteEnforcer(t, 200, 201, 202)
	for _, id := range []snowflake.ID{200, 201} {
		reg.StageChannelMute(ChannelMuteRecord{GuildID: testGuildID, ChannelID: id, UserID: testTargetID})
		editor.overwrites[storeKey{id, testTargetID}] = Overwrite{Deny: MuteDenied}
	}

	res, err := enf.RemoveAll(context.Background(), testGuild(), testTarget(), "done")
	if err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
	if !res.Success {
		t.Fatal("expected success")
	}
	if len(res.ChannelFailures) != 0 {
		t.Errorf("untracked channel must not count as a failure, got %v", res.ChannelFailures)
	}
	if got := len(trackedChannelMutes(reg, testGuildID, testTargetID)); got != 0 {
		t.Errorf("tracked mutes = %d, want 0", got)
	}
}
