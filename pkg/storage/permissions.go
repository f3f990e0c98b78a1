package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertRank creates or updates the rank row for (guild, rank).
func (s *Store) UpsertRank(ctx context.Context, r *PermissionRank) (*PermissionRank, error) {
	if r.Rank < 0 || r.Rank > 100 {
		return nil, fmt.Errorf("storage: rank %d out of range [0,100]", r.Rank)
	}
	out := *r
	if out.ID == "" {
		out.ID = newID()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO permission_ranks (id, guild_id, rank, name, description, color, enabled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (guild_id, rank) DO UPDATE SET
		     name = excluded.name,
		     description = excluded.description,
		     color = excluded.color,
		     enabled = excluded.enabled
		 RETURNING id`,
		out.ID, out.GuildID, out.Rank, out.Name, nullable(out.Description), out.Color, out.Enabled,
	).Scan(&out.ID)
	if err != nil {
		return nil, fmt.Errorf("storage: upsert rank %d in %s: %w", r.Rank, r.GuildID, err)
	}
	return &out, nil
}

// ListRanks returns the guild's ranks ordered ascending.
func (s *Store) ListRanks(ctx context.Context, guildID string) ([]*PermissionRank, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, guild_id, rank, name, description, color, enabled
		 FROM permission_ranks WHERE guild_id = $1 ORDER BY rank ASC`,
		guildID)
	if err != nil {
		return nil, fmt.Errorf("storage: list ranks: %w", err)
	}
	defer rows.Close()

	var ranks []*PermissionRank
	for rows.Next() {
		var (
			r    PermissionRank
			desc sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.GuildID, &r.Rank, &r.Name, &desc, &r.Color, &r.Enabled); err != nil {
			return nil, fmt.Errorf("storage: list ranks: %w", err)
		}
		r.Description = desc.String
		ranks = append(ranks, &r)
	}
	return ranks, rows.Err()
}

// DeleteRank removes a rank; assignments cascade.
func (s *Store) DeleteRank(ctx context.Context, guildID string, rank int) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM permission_ranks WHERE guild_id = $1 AND rank = $2`,
		guildID, rank)
	if err != nil {
		return fmt.Errorf("storage: delete rank %d in %s: %w", rank, guildID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignRole binds a role to a rank. A role holds at most one rank per
// guild; re-assigning moves it.
func (s *Store) AssignRole(ctx context.Context, guildID string, rank int, roleID string) (*PermissionAssignment, error) {
	var rankID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM permission_ranks WHERE guild_id = $1 AND rank = $2`,
		guildID, rank,
	).Scan(&rankID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: resolve rank %d in %s: %w", rank, guildID, err)
	}

	a := &PermissionAssignment{ID: newID(), GuildID: guildID, RankID: rankID, RoleID: roleID, Rank: rank}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO permission_assignments (id, guild_id, rank_id, role_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (guild_id, role_id) DO UPDATE SET rank_id = excluded.rank_id`,
		a.ID, a.GuildID, a.RankID, a.RoleID)
	if err != nil {
		return nil, fmt.Errorf("storage: assign role %s to rank %d: %w", roleID, rank, err)
	}
	return a, nil
}

// UnassignRole removes a role's rank binding.
func (s *Store) UnassignRole(ctx context.Context, guildID, roleID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM permission_assignments WHERE guild_id = $1 AND role_id = $2`,
		guildID, roleID)
	if err != nil {
		return fmt.Errorf("storage: unassign role %s: %w", roleID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAssignments returns every role assignment in the guild joined with
// its rank integer.
func (s *Store) ListAssignments(ctx context.Context, guildID string) ([]*PermissionAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.guild_id, a.rank_id, a.role_id, r.rank
		 FROM permission_assignments a
		 JOIN permission_ranks r ON r.id = a.rank_id
		 WHERE a.guild_id = $1
		 ORDER BY r.rank DESC`,
		guildID)
	if err != nil {
		return nil, fmt.Errorf("storage: list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*PermissionAssignment
	for rows.Next() {
		var a PermissionAssignment
		if err := rows.Scan(&a.ID, &a.GuildID, &a.RankID, &a.RoleID, &a.Rank); err != nil {
			return nil, fmt.Errorf("storage: list assignments: %w", err)
		}
		assignments = append(assignments, &a)
	}
	return assignments, rows.Err()
}

// SetCommandPermission creates or updates the required rank for a command
// name in a guild.
func (s *Store) SetCommandPermission(ctx context.Context, c *PermissionCommand) (*PermissionCommand, error) {
	if c.RequiredRank < 0 || c.RequiredRank > 100 {
		return nil, fmt.Errorf("storage: required rank %d out of range [0,100]", c.RequiredRank)
	}
	out := *c
	if out.ID == "" {
		out.ID = newID()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO permission_commands (id, guild_id, command_name, required_rank, description)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (guild_id, command_name) DO UPDATE SET
		     required_rank = excluded.required_rank,
		     description = excluded.description
		 RETURNING id`,
		out.ID, out.GuildID, out.CommandName, out.RequiredRank, nullable(out.Description),
	).Scan(&out.ID)
	if err != nil {
		return nil, fmt.Errorf("storage: set command permission %q: %w", c.CommandName, err)
	}
	return &out, nil
}

// GetCommandPermission returns the exact command row, or ErrNotFound.
func (s *Store) GetCommandPermission(ctx context.Context, guildID, commandName string) (*PermissionCommand, error) {
	var (
		c    PermissionCommand
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, guild_id, command_name, required_rank, description
		 FROM permission_commands WHERE guild_id = $1 AND command_name = $2`,
		guildID, commandName,
	).Scan(&c.ID, &c.GuildID, &c.CommandName, &c.RequiredRank, &desc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get command permission %q: %w", commandName, err)
	}
	c.Description = desc.String
	return &c, nil
}

// RemoveCommandPermission deletes the command row.
func (s *Store) RemoveCommandPermission(ctx context.Context, guildID, commandName string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM permission_commands WHERE guild_id = $1 AND command_name = $2`,
		guildID, commandName)
	if err != nil {
		return fmt.Errorf("storage: remove command permission %q: %w", commandName, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCommandPermissions returns every configured command in the guild.
func (s *Store) ListCommandPermissions(ctx context.Context, guildID string) ([]*PermissionCommand, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, guild_id, command_name, required_rank, description
		 FROM permission_commands WHERE guild_id = $1 ORDER BY command_name ASC`,
		guildID)
	if err != nil {
		return nil, fmt.Errorf("storage: list command permissions: %w", err)
	}
	defer rows.Close()

	var cmds []*PermissionCommand
	for rows.Next() {
		var (
			c    PermissionCommand
			desc sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.GuildID, &c.CommandName, &c.RequiredRank, &desc); err != nil {
			return nil, fmt.Errorf("storage: list command permissions: %w", err)
		}
		c.Description = desc.String
		cmds = append(cmds, &c)
	}
	return cmds, rows.Err()
}
