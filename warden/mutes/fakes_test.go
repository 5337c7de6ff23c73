package mutes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
)

// Shared test subjects.
var (
	testGuildID  = snowflake.ID(100)
	testOwnerID  = snowflake.ID(1)
	testActorID  = snowflake.ID(2)
	testTargetID = snowflake.ID(3)
	testBotID    = snowflake.ID(4)
	testRoleID   = snowflake.ID(50)
)

func testGuild() Guild {
	return Guild{ID: testGuildID, Name: "testguild", OwnerID: testOwnerID}
}

func testActor() Member {
	return Member{GuildID: testGuildID, UserID: testActorID, Username: "mod", TopRole: 10, Permissions: discord.PermissionModerateMembers}
}

func testTarget() Member {
	return Member{GuildID: testGuildID, UserID: testTargetID, Username: "troublemaker", TopRole: 5}
}

func testBot() Member {
	return Member{GuildID: testGuildID, UserID: testBotID, Username: "warden", TopRole: 20, Permissions: discord.PermissionManageRoles}
}

type storeKey struct {
	a, b snowflake.ID
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu          sync.Mutex
	guildMutes  map[storeKey]GuildMuteRecord
	chanMutes   map[storeKey]ChannelMuteRecord
	upsertErr   error
	deleteCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		guildMutes: make(map[storeKey]GuildMuteRecord),
		chanMutes:  make(map[storeKey]ChannelMuteRecord),
	}
}

func (s *fakeStore) AllGuildMutes(context.Context) ([]GuildMuteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []GuildMuteRecord
	for _, rec := range s.guildMutes {
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *fakeStore) AllChannelMutes(context.Context) ([]ChannelMuteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []ChannelMuteRecord
	for _, rec := range s.chanMutes {
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *fakeStore) UpsertGuildMute(_ context.Context, rec GuildMuteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.guildMutes[storeKey{rec.GuildID, rec.UserID}] = rec
	return nil
}

func (s *fakeStore) DeleteGuildMute(_ context.Context, guildID, userID snowflake.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	delete(s.guildMutes, storeKey{guildID, userID})
	return nil
}

func (s *fakeStore) UpsertChannelMute(_ context.Context, rec ChannelMuteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.chanMutes[storeKey{rec.ChannelID, rec.UserID}] = rec
	return nil
}

func (s *fakeStore) DeleteChannelMute(_ context.Context, channelID, userID snowflake.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	delete(s.chanMutes, storeKey{channelID, userID})
	return nil
}

func (s *fakeStore) hasGuildMute(guildID, userID snowflake.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.guildMutes[storeKey{guildID, userID}]
	return ok
}

func (s *fakeStore) hasChannelMute(channelID, userID snowflake.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chanMutes[storeKey{channelID, userID}]
	return ok
}

// fakeDirectory serves guild state from memory.
type fakeDirectory struct {
	mu        sync.Mutex
	guild     Guild
	members   map[snowflake.ID]Member
	roles     map[snowflake.ID]Role
	channels  []Channel
	botPerms  map[snowflake.ID]discord.Permissions // per channel, default full
	memberErr map[snowflake.ID]error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		guild: testGuild(),
		members: map[snowflake.ID]Member{
			testActorID:  testActor(),
			testTargetID: testTarget(),
			testBotID:    testBot(),
		},
		roles: map[snowflake.ID]Role{
			testRoleID: {ID: testRoleID, Name: "Muted", Position: 8},
		},
		botPerms:  make(map[snowflake.ID]discord.Permissions),
		memberErr: make(map[snowflake.ID]error),
	}
}

func (d *fakeDirectory) Guild(context.Context, snowflake.ID) (Guild, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.guild, nil
}

func (d *fakeDirectory) Member(_ context.Context, _, userID snowflake.ID) (Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.memberErr[userID]; err != nil {
		return Member{}, err
	}
	m, ok := d.members[userID]
	if !ok {
		return Member{}, fmt.Errorf("%w: user %s", ErrTargetGone, userID)
	}
	return m, nil
}

func (d *fakeDirectory) BotMember(ctx context.Context, guildID snowflake.ID) (Member, error) {
	return d.Member(ctx, guildID, testBotID)
}

func (d *fakeDirectory) Role(_ context.Context, _, roleID snowflake.ID) (Role, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	role, ok := d.roles[roleID]
	if !ok {
		return Role{}, fmt.Errorf("role %s not found", roleID)
	}
	return role, nil
}

func (d *fakeDirectory) Channels(context.Context, snowflake.ID) ([]Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Channel(nil), d.channels...), nil
}

func (d *fakeDirectory) Channel(_ context.Context, channelID snowflake.ID) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.channels {
		if ch.ID == channelID {
			return ch, nil
		}
	}
	return Channel{}, fmt.Errorf("channel %s not found", channelID)
}

func (d *fakeDirectory) BotChannelPermissions(_ context.Context, channelID snowflake.ID) (discord.Permissions, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if perms, ok := d.botPerms[channelID]; ok {
		return perms, nil
	}
	return discord.PermissionManageRoles | discord.PermissionMoveMembers, nil
}

type roleCall struct {
	guildID, userID, roleID snowflake.ID
	reason                  string
}

// fakeRoles records role assignments.
type fakeRoles struct {
	mu        sync.Mutex
	added     []roleCall
	removed   []roleCall
	addErr    error
	removeErr error
}

func (r *fakeRoles) AddRole(_ context.Context, guildID, userID, roleID snowflake.ID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addErr != nil {
		return r.addErr
	}
	r.added = append(r.added, roleCall{guildID, userID, roleID, reason})
	return nil
}

func (r *fakeRoles) RemoveRole(_ context.Context, guildID, userID, roleID snowflake.ID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removeErr != nil {
		return r.removeErr
	}
	r.removed = append(r.removed, roleCall{guildID, userID, roleID, reason})
	return nil
}

func (r *fakeRoles) addCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.added)
}

func (r *fakeRoles) removeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.removed)
}

// fakeEditor holds live member overwrites per channel.
type fakeEditor struct {
	mu         sync.Mutex
	overwrites map[storeKey]Overwrite
	setErr     map[snowflake.ID]error // per channel
	setCalls   int
	clearCalls int
	roleOws    map[storeKey]Overwrite
}

func newFakeEditor() *fakeEditor {
	return &fakeEditor{
		overwrites: make(map[storeKey]Overwrite),
		setErr:     make(map[snowflake.ID]error),
		roleOws:    make(map[storeKey]Overwrite),
	}
}

func (e *fakeEditor) Overwrite(_ context.Context, channelID, userID snowflake.ID) (Overwrite, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ow, ok := e.overwrites[storeKey{channelID, userID}]
	return ow, ok, nil
}

func (e *fakeEditor) SetOverwrite(_ context.Context, channelID, userID snowflake.ID, ow Overwrite, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.setErr[channelID]; err != nil {
		return err
	}
	e.setCalls++
	e.overwrites[storeKey{channelID, userID}] = ow
	return nil
}

func (e *fakeEditor) ClearOverwrite(_ context.Context, channelID, userID snowflake.ID, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearCalls++
	delete(e.overwrites, storeKey{channelID, userID})
	return nil
}

func (e *fakeEditor) SetRoleOverwrite(_ context.Context, channelID, roleID snowflake.ID, ow Overwrite, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.setErr[channelID]; err != nil {
		return err
	}
	e.roleOws[storeKey{channelID, roleID}] = ow
	return nil
}

func (e *fakeEditor) current(channelID, userID snowflake.ID) (Overwrite, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ow, ok := e.overwrites[storeKey{channelID, userID}]
	return ow, ok
}

// fakeVoice reports canned voice state.
type fakeVoice struct {
	mu         sync.Mutex
	channels   map[snowflake.ID]snowflake.ID // user -> channel
	reconnects int
}

func newFakeVoice() *fakeVoice {
	return &fakeVoice{channels: make(map[snowflake.ID]snowflake.ID)}
}

func (v *fakeVoice) VoiceChannel(_, userID snowflake.ID) (snowflake.ID, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	ch, ok := v.channels[userID]
	return ch, ok
}

func (v *fakeVoice) Reconnect(_ context.Context, _, _ snowflake.ID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reconnects++
	return nil
}

// fakeMessenger records deliveries.
type fakeMessenger struct {
	mu       sync.Mutex
	dms      []discord.Embed
	messages map[snowflake.ID][]string
	dmErr    error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{messages: make(map[snowflake.ID][]string)}
}

func (m *fakeMessenger) DMUser(_ context.Context, _ snowflake.ID, embed discord.Embed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dmErr != nil {
		return m.dmErr
	}
	m.dms = append(m.dms, embed)
	return nil
}

func (m *fakeMessenger) SendToChannel(_ context.Context, channelID snowflake.ID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[channelID] = append(m.messages[channelID], content)
	return nil
}

func (m *fakeMessenger) dmCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dms)
}

func (m *fakeMessenger) sentTo(channelID snowflake.ID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages[channelID]...)
}

// fakeSettings returns fixed per-guild preferences.
type fakeSettings struct {
	notifChannel  snowflake.ID
	modlogChannel snowflake.ID
	dm            bool
	showMod       bool
}

func (s *fakeSettings) NotificationChannel(context.Context, snowflake.ID) (snowflake.ID, error) {
	return s.notifChannel, nil
}

func (s *fakeSettings) ModLogChannel(context.Context, snowflake.ID) (snowflake.ID, error) {
	return s.modlogChannel, nil
}

func (s *fakeSettings) DMNotifications(context.Context, snowflake.ID) (bool, error) {
	return s.dm, nil
}

func (s *fakeSettings) ShowModerator(context.Context, snowflake.ID) (bool, error) {
	return s.showMod, nil
}

// fakeModLog records cases.
type fakeModLog struct {
	mu      sync.Mutex
	entries []ModLogEntry
}

func (l *fakeModLog) Record(_ context.Context, entry ModLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *fakeModLog) byKind(kind string) []ModLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ModLogEntry
	for _, e := range l.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (l *fakeModLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// testEnv bundles a Service wired to fakes.
type testEnv struct {
	svc      *Service
	registry *Registry
	store    *fakeStore
	dir      *fakeDirectory
	roles    *fakeRoles
	editor   *fakeEditor
	voice    *fakeVoice
	msgr     *fakeMessenger
	settings *fakeSettings
	modlog   *fakeModLog
}

func newTestEnv() *testEnv {
	store := newFakeStore()
	registry := NewRegistry(store)
	dir := newFakeDirectory()
	roles := &fakeRoles{}
	editor := newFakeEditor()
	voice := newFakeVoice()
	msgr := newFakeMessenger()
	settings := &fakeSettings{}
	modlog := &fakeModLog{}

	svc := NewService(Config{
		PollInterval:  10 * time.Millisecond,
		Lookahead:     50 * time.Millisecond,
		FanOutWorkers: 4,
	}, registry, dir, roles, editor, voice, msgr, settings, modlog)

	return &testEnv{
		svc:      svc,
		registry: registry,
		store:    store,
		dir:      dir,
		roles:    roles,
		editor:   editor,
		voice:    voice,
		msgr:     msgr,
		settings: settings,
		modlog:   modlog,
	}
}

// withMuteRole configures the test guild to use the role enforcement path.
func (env *testEnv) withMuteRole() *testEnv {
	env.registry.SetMuteRole(testGuildID, testRoleID)
	return env
}

// withChannels seeds text channels with the given IDs.
func (env *testEnv) withChannels(ids ...snowflake.ID) *testEnv {
	for _, id := range ids {
		env.dir.channels = append(env.dir.channels, Channel{ID: id, GuildID: testGuildID, Name: fmt.Sprintf("chan-%d", id)})
	}
	return env
}

func futureTime(d time.Duration) *time.Time {
	t := time.Now().Add(d)
	return &t
}
