package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// EnsureGuild creates the guild row if it is missing. Lazily called on the
// first case in a guild; existing rows are left untouched.
func (s *Store) EnsureGuild(ctx context.Context, guildID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guilds (id, joined_at, case_count)
		 VALUES ($1, $2, 0)
		 ON CONFLICT (id) DO NOTHING`,
		guildID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: ensure guild %s: %w", guildID, err)
	}
	return nil
}

// GetGuild returns the guild row.
func (s *Store) GetGuild(ctx context.Context, guildID string) (*Guild, error) {
	var g Guild
	err := s.db.QueryRowContext(ctx,
		`SELECT id, joined_at, case_count FROM guilds WHERE id = $1`,
		guildID,
	).Scan(&g.ID, &g.JoinedAt, &g.CaseCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get guild %s: %w", guildID, err)
	}
	return &g, nil
}

// GetGuildConfig returns the guild configuration, or ErrNotFound when the
// guild has never been configured.
func (s *Store) GetGuildConfig(ctx context.Context, guildID string) (*GuildConfig, error) {
	var (
		cfg GuildConfig
		cols [14]sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT guild_id, mod_log_channel_id, audit_log_channel_id, join_log_channel_id,
		        private_log_channel_id, report_log_channel_id, dev_log_channel_id,
		        jail_channel_id, general_channel_id, starboard_channel_id,
		        jail_role_id, quarantine_role_id, base_staff_role_id,
		        base_member_role_id, prefix
		 FROM guild_configs WHERE guild_id = $1`,
		guildID,
	).Scan(&cfg.GuildID, &cols[0], &cols[1], &cols[2], &cols[3], &cols[4], &cols[5],
		&cols[6], &cols[7], &cols[8], &cols[9], &cols[10], &cols[11], &cols[12], &cols[13])
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get guild config %s: %w", guildID, err)
	}
	cfg.ModLogChannelID = cols[0].String
	cfg.AuditLogChannel = cols[1].String
	cfg.JoinLogChannel = cols[2].String
	cfg.PrivateLogChan = cols[3].String
	cfg.ReportLogChannel = cols[4].String
	cfg.DevLogChannel = cols[5].String
	cfg.JailChannelID = cols[6].String
	cfg.GeneralChannelID = cols[7].String
	cfg.StarboardChannel = cols[8].String
	cfg.JailRoleID = cols[9].String
	cfg.QuarantineRoleID = cols[10].String
	cfg.BaseStaffRoleID = cols[11].String
	cfg.BaseMemberRoleID = cols[12].String
	cfg.Prefix = cols[13].String
	return &cfg, nil
}

// UpsertGuildConfig writes the full configuration row for a guild, creating
// the guild row first if needed. Empty strings are stored as NULL.
func (s *Store) UpsertGuildConfig(ctx context.Context, cfg *GuildConfig) error {
	if err := s.EnsureGuild(ctx, cfg.GuildID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guild_configs (
		     guild_id, mod_log_channel_id, audit_log_channel_id, join_log_channel_id,
		     private_log_channel_id, report_log_channel_id, dev_log_channel_id,
		     jail_channel_id, general_channel_id, starboard_channel_id,
		     jail_role_id, quarantine_role_id, base_staff_role_id,
		     base_member_role_id, prefix)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (guild_id) DO UPDATE SET
		     mod_log_channel_id = excluded.mod_log_channel_id,
		     audit_log_channel_id = excluded.audit_log_channel_id,
		     join_log_channel_id = excluded.join_log_channel_id,
		     private_log_channel_id = excluded.private_log_channel_id,
		     report_log_channel_id = excluded.report_log_channel_id,
		     dev_log_channel_id = excluded.dev_log_channel_id,
		     jail_channel_id = excluded.jail_channel_id,
		     general_channel_id = excluded.general_channel_id,
		     starboard_channel_id = excluded.starboard_channel_id,
		     jail_role_id = excluded.jail_role_id,
		     quarantine_role_id = excluded.quarantine_role_id,
		     base_staff_role_id = excluded.base_staff_role_id,
		     base_member_role_id = excluded.base_member_role_id,
		     prefix = excluded.prefix`,
		cfg.GuildID,
		nullable(cfg.ModLogChannelID), nullable(cfg.AuditLogChannel), nullable(cfg.JoinLogChannel),
		nullable(cfg.PrivateLogChan), nullable(cfg.ReportLogChannel), nullable(cfg.DevLogChannel),
		nullable(cfg.JailChannelID), nullable(cfg.GeneralChannelID), nullable(cfg.StarboardChannel),
		nullable(cfg.JailRoleID), nullable(cfg.QuarantineRoleID), nullable(cfg.BaseStaffRoleID),
		nullable(cfg.BaseMemberRoleID), nullable(cfg.Prefix),
	)
	if err != nil {
		return fmt.Errorf("storage: upsert guild config %s: %w", cfg.GuildID, err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
