package moderation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/allthingslinux/tux/pkg/storage"
)

func newJailEnv(t *testing.T) (*testEnv, *JailService) {
	t.Helper()
	env := newTestEnv(t)
	require.NoError(t, env.store.UpsertGuildConfig(context.Background(), &storage.GuildConfig{
		GuildID: "111", JailRoleID: "jail-role",
	}))
	return env, NewJailService(env.coord, env.store, env.adapter, env.runner)
}

func targetRoles(t *testing.T, env *testEnv) []string {
	t.Helper()
	m, err := env.adapter.Member(context.Background(), "111", "333")
	require.NoError(t, err)
	return m.RoleIDs
}

func TestJailSnapshotsManageableRolesOnly(t *testing.T) {
	env, jail := newJailEnv(t)
	ctx := context.Background()

	// Turn role 12 into an integration-owned role below the bot. Anything
	// above the bot would already fail the hierarchy check, so managed is
	// the non-manageable shape a jailable member can actually carry.
	for i, r := range env.adapter.roles["111"] {
		if r.ID == "12" {
			env.adapter.roles["111"][i].Position = 4
			env.adapter.roles["111"][i].Managed = true
		}
	}
	env.adapter.members[key("111", "333")].RoleIDs = []string{"10", "11", "12", "managed-role"}

	resp := jail.Jail(ctx, "111", "222", []string{"mod-role"}, "333", "flood", false)
	require.Nil(t, resp.Err)
	require.Equal(t, storage.CaseJail, resp.Case.Type)
	require.Equal(t, []string{"10", "11"}, resp.Case.UserRoles)

	roles := targetRoles(t, env)
	require.Contains(t, roles, "jail-role")
	require.NotContains(t, roles, "10")
	require.NotContains(t, roles, "11")
	require.Contains(t, roles, "12", "integration roles stay put")
	require.Contains(t, roles, "managed-role", "managed roles stay put")
}

func TestJailThenUnjailRoundTrip(t *testing.T) {
	env, jail := newJailEnv(t)
	ctx := context.Background()

	resp := jail.Jail(ctx, "111", "222", []string{"mod-role"}, "333", "flood", true)
	require.Nil(t, resp.Err)
	require.Equal(t, []string{"10", "11"}, resp.Case.UserRoles)

	resp = jail.Unjail(ctx, "111", "222", []string{"mod-role"}, "333", "appealed", true)
	require.Nil(t, resp.Err)
	require.Equal(t, storage.CaseUnjail, resp.Case.Type)

	roles := targetRoles(t, env)
	require.ElementsMatch(t, []string{"10", "11"}, roles)
}

func TestUnjailSkipsDeletedRoles(t *testing.T) {
	env, jail := newJailEnv(t)
	ctx := context.Background()

	resp := jail.Jail(ctx, "111", "222", []string{"mod-role"}, "333", "flood", true)
	require.Nil(t, resp.Err)

	// Role 11 disappears from the guild while the target is jailed.
	kept := env.adapter.roles["111"][:0]
	for _, r := range env.adapter.roles["111"] {
		if r.ID != "11" {
			kept = append(kept, r)
		}
	}
	env.adapter.roles["111"] = kept

	resp = jail.Unjail(ctx, "111", "222", []string{"mod-role"}, "333", "appealed", true)
	require.Nil(t, resp.Err)
	require.ElementsMatch(t, []string{"10"}, targetRoles(t, env))
}

func TestUnjailRequiresLatestJailCase(t *testing.T) {
	_, jail := newJailEnv(t)
	ctx := context.Background()

	resp := jail.Unjail(ctx, "111", "222", []string{"mod-role"}, "333", "oops", true)
	require.NotNil(t, resp.Err)
	require.Equal(t, FailureTargetState, resp.Err.Kind)
}

func TestRejoinWhileJailedReappliesRole(t *testing.T) {
	env, jail := newJailEnv(t)
	ctx := context.Background()

	resp := jail.Jail(ctx, "111", "222", []string{"mod-role"}, "333", "flood", true)
	require.Nil(t, resp.Err)
	casesBefore, err := env.store.GetCasesByUser(ctx, "111", "333")
	require.NoError(t, err)

	// Leave and rejoin with a clean role set.
	env.adapter.members[key("111", "333")] = &MemberInfo{UserID: "333"}
	require.NoError(t, jail.HandleMemberJoin(ctx, "111", "333"))

	require.Contains(t, targetRoles(t, env), "jail-role")
	expected := fmt.Sprintf("add_roles:333:[jail-role]:%s", RejoinReason)
	require.Contains(t, env.adapter.callLog(), expected, "the rejoin reason is attached")

	casesAfter, err := env.store.GetCasesByUser(ctx, "111", "333")
	require.NoError(t, err)
	require.Len(t, casesAfter, len(casesBefore), "rejoin creates no new case")
}

func TestRejoinAfterUnjailAppliesNothing(t *testing.T) {
	env, jail := newJailEnv(t)
	ctx := context.Background()

	resp := jail.Jail(ctx, "111", "222", []string{"mod-role"}, "333", "flood", true)
	require.Nil(t, resp.Err)
	resp = jail.Unjail(ctx, "111", "222", []string{"mod-role"}, "333", "done", true)
	require.Nil(t, resp.Err)

	env.adapter.members[key("111", "333")] = &MemberInfo{UserID: "333"}
	require.NoError(t, jail.HandleMemberJoin(ctx, "111", "333"))
	require.NotContains(t, targetRoles(t, env), "jail-role")
}

func TestRejoinUsesStatusCache(t *testing.T) {
	env, jail := newJailEnv(t)
	ctx := context.Background()

	resp := jail.Jail(ctx, "111", "222", []string{"mod-role"}, "333", "flood", true)
	require.Nil(t, resp.Err)
	resp = jail.Unjail(ctx, "111", "222", []string{"mod-role"}, "333", "done", true)
	require.Nil(t, resp.Err)

	// The cached not-jailed status short-circuits before any store access,
	// so the join handler survives a store outage.
	require.NoError(t, env.store.Close())
	env.adapter.members[key("111", "333")] = &MemberInfo{UserID: "333"}
	require.NoError(t, jail.HandleMemberJoin(ctx, "111", "333"))
}
