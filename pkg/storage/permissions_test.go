package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRankUpsertAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertRank(ctx, &PermissionRank{GuildID: "111", Rank: 3, Name: "Moderator", Enabled: true})
	require.NoError(t, err)
	_, err = s.UpsertRank(ctx, &PermissionRank{GuildID: "111", Rank: 5, Name: "Administrator", Enabled: true})
	require.NoError(t, err)

	// Upsert on the same (guild, rank) updates in place.
	_, err = s.UpsertRank(ctx, &PermissionRank{GuildID: "111", Rank: 3, Name: "Mod", Color: 0xff0000, Enabled: true})
	require.NoError(t, err)

	ranks, err := s.ListRanks(ctx, "111")
	require.NoError(t, err)
	require.Len(t, ranks, 2)
	require.Equal(t, "Mod", ranks[0].Name)
	require.Equal(t, 0xff0000, ranks[0].Color)
	require.Equal(t, 5, ranks[1].Rank)

	_, err = s.UpsertRank(ctx, &PermissionRank{GuildID: "111", Rank: 101, Name: "bad"})
	require.Error(t, err)
}

func TestAssignmentsFollowRanksAndCascade(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertRank(ctx, &PermissionRank{GuildID: "111", Rank: 3, Name: "Moderator", Enabled: true})
	require.NoError(t, err)
	_, err = s.UpsertRank(ctx, &PermissionRank{GuildID: "111", Rank: 5, Name: "Administrator", Enabled: true})
	require.NoError(t, err)

	_, err = s.AssignRole(ctx, "111", 3, "role-a")
	require.NoError(t, err)
	_, err = s.AssignRole(ctx, "111", 5, "role-b")
	require.NoError(t, err)

	// Re-assigning a role moves it to the new rank instead of duplicating.
	_, err = s.AssignRole(ctx, "111", 5, "role-a")
	require.NoError(t, err)

	assignments, err := s.ListAssignments(ctx, "111")
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	for _, a := range assignments {
		require.Equal(t, 5, a.Rank)
	}

	// Deleting the rank cascades to its assignments.
	require.NoError(t, s.DeleteRank(ctx, "111", 5))
	assignments, err = s.ListAssignments(ctx, "111")
	require.NoError(t, err)
	require.Empty(t, assignments)

	_, err = s.AssignRole(ctx, "111", 42, "role-a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCommandPermissionCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.SetCommandPermission(ctx, &PermissionCommand{GuildID: "111", CommandName: "ban", RequiredRank: 3})
	require.NoError(t, err)
	_, err = s.SetCommandPermission(ctx, &PermissionCommand{GuildID: "111", CommandName: "config ranks init", RequiredRank: 7})
	require.NoError(t, err)

	got, err := s.GetCommandPermission(ctx, "111", "ban")
	require.NoError(t, err)
	require.Equal(t, 3, got.RequiredRank)

	_, err = s.GetCommandPermission(ctx, "111", "kick")
	require.ErrorIs(t, err, ErrNotFound)

	// Update in place.
	_, err = s.SetCommandPermission(ctx, &PermissionCommand{GuildID: "111", CommandName: "ban", RequiredRank: 4})
	require.NoError(t, err)
	got, err = s.GetCommandPermission(ctx, "111", "ban")
	require.NoError(t, err)
	require.Equal(t, 4, got.RequiredRank)

	all, err := s.ListCommandPermissions(ctx, "111")
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, s.RemoveCommandPermission(ctx, "111", "ban"))
	require.ErrorIs(t, s.RemoveCommandPermission(ctx, "111", "ban"), ErrNotFound)
}
