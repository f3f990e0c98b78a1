package moderation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/allthingslinux/tux/pkg/storage"
)

func TestBanSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.UpsertGuildConfig(ctx, &storage.GuildConfig{
		GuildID: "111", ModLogChannelID: "900",
	}))
	env.adapter.textChannels["900"] = true

	resp := env.coord.Execute(ctx, env.withBanAction(banRequest("spam")))
	require.Nil(t, resp.Err)
	require.NotNil(t, resp.Case)
	require.EqualValues(t, 1, resp.Case.Number)
	require.Equal(t, storage.CaseBan, resp.Case.Type)
	require.True(t, resp.Case.Status)
	require.True(t, resp.DMSent)
	require.NotEmpty(t, resp.Case.ModLogMessageID)

	// Removal actions DM before the ban lands.
	calls := env.adapter.callLog()
	dmIdx, banIdx := -1, -1
	for i, c := range calls {
		switch c {
		case "dm:333":
			dmIdx = i
		case "ban:333":
			banIdx = i
		}
	}
	require.GreaterOrEqual(t, dmIdx, 0)
	require.Greater(t, banIdx, dmIdx, "DM must precede the ban")

	events := env.monitor.RecentEvents(1)
	require.Len(t, events, 1)
	ev := events[0]
	require.True(t, ev.Success)
	require.True(t, ev.DMSent)
	require.True(t, ev.CaseCreated)
	require.EqualValues(t, 1, ev.CaseNumber)
	require.Equal(t, string(ClassBanKick), ev.OperationType)
}

func TestBanWithDMBlocked(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.dmErr = &APIError{Kind: KindForbidden, Status: 403, Message: "Cannot send messages to this user"}

	resp := env.coord.Execute(context.Background(), env.withBanAction(banRequest("spam")))
	require.Nil(t, resp.Err)
	require.False(t, resp.DMSent)
	require.True(t, resp.Case.Status)

	ev := env.monitor.RecentEvents(1)[0]
	require.True(t, ev.Success)
	require.False(t, ev.DMSent)
}

func TestBanWithDatabaseOutage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Warm the permission caches so phase 2 survives the outage.
	_, err := env.engine.Check(ctx, "111", "222", []string{"mod-role"}, "ban")
	require.NoError(t, err)

	require.NoError(t, env.store.Close())

	resp := env.coord.Execute(ctx, env.withBanAction(banRequest("spam")))
	require.Nil(t, resp.Err, "the Discord action succeeded, the response must too")
	require.NotNil(t, resp.Embed)
	require.Contains(t, env.adapter.callLog(), "ban:333")

	ev := env.monitor.RecentEvents(1)[0]
	require.True(t, ev.Success)
	require.False(t, ev.CaseCreated)
	require.NotEmpty(t, ev.ErrorMessage)
}

func TestConcurrentBansOnSameTargetSerialize(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	resps := make([]*Response, 2)
	for i, reason := range []string{"a", "b"} {
		wg.Add(1)
		go func(i int, reason string) {
			defer wg.Done()
			resps[i] = env.coord.Execute(ctx, env.withBanAction(banRequest(reason)))
		}(i, reason)
	}
	wg.Wait()

	var okCount, voidCount int
	for _, r := range resps {
		require.NotNil(t, r.Case, "both attempts persist a case")
		if r.Err == nil {
			okCount++
		} else {
			voidCount++
			require.Equal(t, FailureTargetState, r.Err.Kind)
		}
	}
	require.Equal(t, 1, okCount)
	require.Equal(t, 1, voidCount)

	cases, err := env.store.GetCasesByUser(ctx, "111", "333")
	require.NoError(t, err)
	require.Len(t, cases, 2)

	seen := map[int64]bool{}
	var voided *storage.Case
	for _, c := range cases {
		seen[c.Number] = true
		if !c.Status {
			voided = c
		}
	}
	require.True(t, seen[1] && seen[2], "case numbers stay contiguous")
	require.NotNil(t, voided)
	require.Contains(t, voided.Reason, "target not found")
}

func TestAuditEventEmittedOnCancellation(t *testing.T) {
	env := newTestEnv(t)

	// Occupy the target's lock so the request parks in phase 4.
	held, err := env.locks.Acquire(context.Background(), "111", "333")
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *Response, 1)
	go func() {
		done <- env.coord.Execute(ctx, env.withBanAction(banRequest("spam")))
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	resp := <-done
	require.NotNil(t, resp.Err)
	require.Equal(t, FailureCancelled, resp.Err.Kind)

	events := env.monitor.RecentEvents(10)
	require.Len(t, events, 1, "exactly one audit event per attempt")
	require.Equal(t, "cancelled", events[0].ErrorMessage)
	require.False(t, events[0].Success)
}

func TestDMGracefulDegradation(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.dmDelay = 200 * time.Millisecond

	profiles := DefaultProfiles()
	p := profiles[ClassBanKick]
	p.DMBudget = 5 * time.Millisecond
	profiles[ClassBanKick] = p
	env.coord.profiles = profiles

	resp := env.coord.Execute(context.Background(), env.withBanAction(banRequest("spam")))
	require.Nil(t, resp.Err, "the action must complete even when the DM times out")
	require.False(t, resp.DMSent)

	ev := env.monitor.RecentEvents(1)[0]
	require.True(t, ev.Success)
	require.False(t, ev.DMSent)
}

func TestAuthorizationDenied(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.UpsertRank(ctx, &storage.PermissionRank{GuildID: "111", Rank: 5, Name: "Administrator", Enabled: true})
	require.NoError(t, err)
	_, err = env.engine.SetCommandPermission(ctx, "111", "ban", 5, "")
	require.NoError(t, err)

	resp := env.coord.Execute(ctx, env.withBanAction(banRequest("spam")))
	require.NotNil(t, resp.Err)
	require.Equal(t, FailureAuthorization, resp.Err.Kind)
	require.NotContains(t, env.adapter.callLog(), "ban:333")

	ev := env.monitor.RecentEvents(1)[0]
	require.Equal(t, "Authorization failed", ev.ErrorMessage)
}

func TestBotMissingPermissionShortCircuits(t *testing.T) {
	env := newTestEnv(t)

	// Strip the bot's permissions.
	roles := env.adapter.roles["111"]
	for i := range roles {
		if roles[i].ID == "bot-role" {
			roles[i].Permissions = 0
		}
	}

	resp := env.coord.Execute(context.Background(), env.withBanAction(banRequest("spam")))
	require.NotNil(t, resp.Err)
	require.Equal(t, FailureBotCapability, resp.Err.Kind)
	require.Contains(t, resp.Err.UserMessage, "Ban Members")
	require.NotContains(t, env.adapter.callLog(), "ban:333")
}

func TestBotBelowTargetShortCircuits(t *testing.T) {
	env := newTestEnv(t)

	// Give the target a role above the bot.
	env.adapter.members[key("111", "333")].RoleIDs = []string{"12"}

	resp := env.coord.Execute(context.Background(), env.withBanAction(banRequest("spam")))
	require.NotNil(t, resp.Err)
	require.Equal(t, FailureBotCapability, resp.Err.Kind)
	require.NotContains(t, env.adapter.callLog(), "ban:333")
}

func TestActionForbiddenPersistsVoidedCase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.adapter.banErr = &APIError{Kind: KindForbidden, Status: 403, Message: "Missing Permissions"}

	resp := env.coord.Execute(ctx, env.withBanAction(banRequest("spam")))
	require.NotNil(t, resp.Err)
	require.Equal(t, FailureBotCapability, resp.Err.Kind)

	c, err := env.store.GetCaseByNumber(ctx, "111", 1)
	require.NoError(t, err)
	require.False(t, c.Status)
	require.True(t, strings.HasPrefix(c.Reason, "[Discord action failed: missing permissions]"), c.Reason)

	ev := env.monitor.RecentEvents(1)[0]
	require.False(t, ev.Success)
	require.True(t, ev.CaseCreated)
	require.EqualValues(t, 1, ev.CaseNumber)
}

func TestTempbanExpirySweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	expired := time.Now().UTC().Add(-time.Minute)
	resp := env.coord.Execute(ctx, env.withBanAction(Request{
		GuildID: "111", ModeratorID: "222", ModeratorRoleIDs: []string{"mod-role"},
		TargetID: "333", CaseType: storage.CaseTempBan, Reason: "raid",
		ExpiresAt: &expired,
	}))
	require.Nil(t, resp.Err)

	sweeper := NewExpirySweeper(env.store, env.coord, env.adapter)
	require.NoError(t, sweeper.Sweep(ctx))

	require.Contains(t, env.adapter.callLog(), "unban:333")
	latest, err := env.store.GetLatestCaseByUser(ctx, "111", "333")
	require.NoError(t, err)
	require.Equal(t, storage.CaseUnban, latest.Type)
	require.True(t, latest.Status)

	// The lifted tempban is resolved; a second sweep finds nothing.
	require.NoError(t, sweeper.Sweep(ctx))
	cases, err := env.store.GetCasesByUser(ctx, "111", "333")
	require.NoError(t, err)
	require.Len(t, cases, 2)
}
