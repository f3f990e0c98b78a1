package moderation

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"

	"github.com/allthingslinux/tux/pkg/audit"
	"github.com/allthingslinux/tux/pkg/cache"
	"github.com/allthingslinux/tux/pkg/permission"
	"github.com/allthingslinux/tux/pkg/storage"
)

type sentEmbed struct {
	ChannelID string
	MessageID string
	Embed     *discordgo.MessageEmbed
}

// fakeAdapter is an in-memory Discord. It tracks call order, mutates member
// role sets, and marks banned users as gone so a second ban sees NotFound.
type fakeAdapter struct {
	mu    sync.Mutex
	botID string

	members      map[string]*MemberInfo // key guild/user
	roles        map[string][]RoleInfo  // per guild
	textChannels map[string]bool
	banned       map[string]bool

	dmErr   error
	dmDelay time.Duration
	banErr  error

	calls      []string
	sent       []sentEmbed
	nextMsgSeq int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		botID:        "bot",
		members:      make(map[string]*MemberInfo),
		roles:        make(map[string][]RoleInfo),
		textChannels: make(map[string]bool),
		banned:       make(map[string]bool),
	}
}

func key(guildID, userID string) string { return guildID + "/" + userID }

func (f *fakeAdapter) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeAdapter) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAdapter) BotUserID() string { return f.botID }

func (f *fakeAdapter) SendDM(ctx context.Context, userID, content string) error {
	if f.dmDelay > 0 {
		select {
		case <-time.After(f.dmDelay):
		case <-ctx.Done():
			return &APIError{Kind: KindTimedOut, Message: ctx.Err().Error()}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("dm:" + userID)
	return f.dmErr
}

func (f *fakeAdapter) Ban(ctx context.Context, guildID, userID string, purgeDays int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ban:" + userID)
	if f.banErr != nil {
		return f.banErr
	}
	k := key(guildID, userID)
	if f.banned[k] {
		return &APIError{Kind: KindNotFound, Status: 404, Message: "Unknown User"}
	}
	f.banned[k] = true
	delete(f.members, k)
	return nil
}

func (f *fakeAdapter) Unban(ctx context.Context, guildID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("unban:" + userID)
	k := key(guildID, userID)
	if !f.banned[k] {
		return &APIError{Kind: KindNotFound, Status: 404, Message: "Unknown Ban"}
	}
	delete(f.banned, k)
	return nil
}

func (f *fakeAdapter) Kick(ctx context.Context, guildID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("kick:" + userID)
	k := key(guildID, userID)
	if _, ok := f.members[k]; !ok {
		return &APIError{Kind: KindNotFound, Status: 404, Message: "Unknown Member"}
	}
	delete(f.members, k)
	return nil
}

func (f *fakeAdapter) Timeout(ctx context.Context, guildID, userID string, until time.Time, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("timeout:" + userID)
	return nil
}

func (f *fakeAdapter) RemoveTimeout(ctx context.Context, guildID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("untimeout:" + userID)
	return nil
}

func (f *fakeAdapter) AddRoles(ctx context.Context, guildID, userID string, roleIDs []string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("add_roles:%s:%v:%s", userID, roleIDs, reason))
	m, ok := f.members[key(guildID, userID)]
	if !ok {
		return &APIError{Kind: KindNotFound, Status: 404, Message: "Unknown Member"}
	}
	for _, id := range roleIDs {
		if !contains(m.RoleIDs, id) {
			m.RoleIDs = append(m.RoleIDs, id)
		}
	}
	return nil
}

func (f *fakeAdapter) RemoveRoles(ctx context.Context, guildID, userID string, roleIDs []string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("remove_roles:%s:%v", userID, roleIDs))
	m, ok := f.members[key(guildID, userID)]
	if !ok {
		return &APIError{Kind: KindNotFound, Status: 404, Message: "Unknown Member"}
	}
	kept := m.RoleIDs[:0]
	for _, id := range m.RoleIDs {
		if !contains(roleIDs, id) {
			kept = append(kept, id)
		}
	}
	m.RoleIDs = kept
	return nil
}

func (f *fakeAdapter) SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMsgSeq++
	id := fmt.Sprintf("msg-%d", f.nextMsgSeq)
	f.sent = append(f.sent, sentEmbed{ChannelID: channelID, MessageID: id, Embed: embed})
	f.record("send_embed:" + channelID)
	return id, nil
}

func (f *fakeAdapter) FetchMessage(ctx context.Context, channelID, messageID string) (*discordgo.Message, error) {
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (f *fakeAdapter) EditEmbed(ctx context.Context, channelID, messageID string, embed *discordgo.MessageEmbed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("edit_embed:" + messageID)
	return nil
}

func (f *fakeAdapter) Member(ctx context.Context, guildID, userID string) (*MemberInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[key(guildID, userID)]
	if !ok {
		return nil, &APIError{Kind: KindNotFound, Status: 404, Message: "Unknown Member"}
	}
	cp := &MemberInfo{UserID: m.UserID, RoleIDs: append([]string(nil), m.RoleIDs...)}
	return cp, nil
}

func (f *fakeAdapter) GuildRoles(ctx context.Context, guildID string) ([]RoleInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RoleInfo(nil), f.roles[guildID]...), nil
}

func (f *fakeAdapter) IsTextChannel(ctx context.Context, channelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.textChannels[channelID], nil
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

const modPerms = discordgo.PermissionBanMembers | discordgo.PermissionKickMembers |
	discordgo.PermissionModerateMembers | discordgo.PermissionManageRoles

// seedGuild sets up guild 111 with a privileged bot, moderator 222 and
// target 333 whose roles 10 and 11 are manageable while 12 sits above the
// bot.
func (f *fakeAdapter) seedGuild(guildID string) {
	f.roles[guildID] = []RoleInfo{
		{ID: guildID, Name: "@everyone", Position: 0},
		{ID: "10", Name: "helpers", Position: 2},
		{ID: "11", Name: "events", Position: 3},
		{ID: "12", Name: "staff", Position: 20},
		{ID: "jail-role", Name: "jailed", Position: 1},
		{ID: "managed-role", Name: "some-bot", Position: 1, Managed: true},
		{ID: "mod-role", Name: "mods", Position: 5},
		{ID: "bot-role", Name: "tux", Position: 10, Permissions: modPerms},
	}
	f.members[key(guildID, f.botID)] = &MemberInfo{UserID: f.botID, RoleIDs: []string{"bot-role"}}
	f.members[key(guildID, "222")] = &MemberInfo{UserID: "222", RoleIDs: []string{"mod-role"}}
	f.members[key(guildID, "333")] = &MemberInfo{UserID: "333", RoleIDs: []string{"10", "11"}}
}

type testEnv struct {
	store   *storage.Store
	engine  *permission.Engine
	adapter *fakeAdapter
	locks   *LockManager
	runner  *Runner
	monitor *audit.Monitor
	coord   *Coordinator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s, err := storage.Open(filepath.Join(t.TempDir(), "tux.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	mg, err := s.NewMigrator()
	require.NoError(t, err)
	require.NoError(t, mg.Up())

	mem := cache.NewMemoryBackend(256)
	t.Cleanup(func() { mem.Close() })

	monitor := audit.NewMonitor(0)
	adapter := newFakeAdapter()
	adapter.seedGuild("111")
	locks := NewLockManager(monitor)
	runner := NewRunner(nil, monitor)
	runner.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	engine := permission.NewEngine(s, mem)
	coord := NewCoordinator(s, engine, adapter, locks, runner, monitor, nil)

	return &testEnv{
		store: s, engine: engine, adapter: adapter,
		locks: locks, runner: runner, monitor: monitor, coord: coord,
	}
}

func banRequest(reason string) Request {
	return Request{
		GuildID:          "111",
		ModeratorID:      "222",
		ModeratorRoleIDs: []string{"mod-role"},
		TargetID:         "333",
		CaseType:         storage.CaseBan,
		Reason:           reason,
	}
}

// withBanAction attaches the standard ban action against env's adapter.
func (e *testEnv) withBanAction(req Request) Request {
	req.Actions = []Action{{
		Description: "ban",
		Run: func(ctx context.Context) error {
			return e.adapter.Ban(ctx, req.GuildID, req.TargetID, 0, req.Reason)
		},
	}}
	return req
}
