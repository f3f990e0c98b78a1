package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// CreateCaseParams carries the inputs for CreateCase.
type CreateCaseParams struct {
	GuildID     string
	UserID      string
	ModeratorID string
	Type        CaseType
	Reason      string
	Status      bool
	ExpiresAt   *time.Time
	// UserRoles is set for JAIL cases only; it is the snapshot restored on
	// UNJAIL.
	UserRoles []string
}

// maxReasonLen bounds the stored reason; Discord audit-log reasons cap at
// 512 characters and annotations must still fit.
const maxReasonLen = 900

// truncateReason caps the reason at maxReasonLen bytes without splitting a
// multi-byte rune.
func truncateReason(reason string) string {
	if len(reason) <= maxReasonLen {
		return reason
	}
	cut := maxReasonLen
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

// CreateCase allocates the next case number for the guild and inserts the
// case in the same transaction. The counter increment uses an UPDATE …
// RETURNING on the guild row, so concurrent calls in one guild serialize on
// the row lock and the sequence stays contiguous. CreateCase is not
// idempotent; callers hold the per-user moderation lock to avoid duplicates.
func (s *Store) CreateCase(ctx context.Context, p CreateCaseParams) (*Case, error) {
	if !p.Type.Valid() {
		return nil, fmt.Errorf("storage: invalid case type %q", p.Type)
	}
	reason := truncateReason(p.Reason)

	roles := p.UserRoles
	if roles == nil {
		roles = []string{}
	}
	rolesJSON, err := json.Marshal(roles)
	if err != nil {
		return nil, fmt.Errorf("storage: encode user roles: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: begin create case: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO guilds (id, joined_at, case_count)
		 VALUES ($1, $2, 0)
		 ON CONFLICT (id) DO NOTHING`,
		p.GuildID, time.Now().UTC(),
	); err != nil {
		return nil, fmt.Errorf("storage: ensure guild in case tx: %w", err)
	}

	var number int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE guilds SET case_count = case_count + 1 WHERE id = $1 RETURNING case_count`,
		p.GuildID,
	).Scan(&number); err != nil {
		return nil, fmt.Errorf("storage: allocate case number: %w", err)
	}

	c := &Case{
		ID:          newID(),
		GuildID:     p.GuildID,
		Number:      number,
		Type:        p.Type,
		UserID:      p.UserID,
		ModeratorID: p.ModeratorID,
		Reason:      reason,
		Status:      p.Status,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   p.ExpiresAt,
		UserRoles:   roles,
	}

	var expires any
	if c.ExpiresAt != nil {
		expires = c.ExpiresAt.UTC()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cases (id, guild_id, case_number, case_type, user_id, moderator_id,
		                    reason, status, created_at, expires_at, user_roles)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.GuildID, c.Number, string(c.Type), c.UserID, c.ModeratorID,
		c.Reason, c.Status, c.CreatedAt, expires, string(rolesJSON),
	); err != nil {
		return nil, fmt.Errorf("storage: insert case: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("storage: commit case: %w", err)
	}
	return c, nil
}

const caseColumns = `id, guild_id, case_number, case_type, user_id, moderator_id,
	reason, status, created_at, expires_at, user_roles, mod_log_message_id, audit_log_message_id`

func scanCase(row interface{ Scan(...any) error }) (*Case, error) {
	var (
		c         Case
		caseType  string
		expires   sql.NullTime
		rolesJSON string
		modMsg    sql.NullString
		auditMsg  sql.NullString
	)
	err := row.Scan(&c.ID, &c.GuildID, &c.Number, &caseType, &c.UserID, &c.ModeratorID,
		&c.Reason, &c.Status, &c.CreatedAt, &expires, &rolesJSON, &modMsg, &auditMsg)
	if err != nil {
		return nil, err
	}
	c.Type = CaseType(caseType)
	if expires.Valid {
		t := expires.Time.UTC()
		c.ExpiresAt = &t
	}
	if err := json.Unmarshal([]byte(rolesJSON), &c.UserRoles); err != nil {
		return nil, fmt.Errorf("storage: decode user roles: %w", err)
	}
	c.ModLogMessageID = modMsg.String
	c.AuditLogMessageID = auditMsg.String
	return &c, nil
}

// GetCaseByID returns a case by surrogate id.
func (s *Store) GetCaseByID(ctx context.Context, id string) (*Case, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE id = $1`, id)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get case %s: %w", id, err)
	}
	return c, nil
}

// GetCaseByNumber returns the case with the given per-guild number.
func (s *Store) GetCaseByNumber(ctx context.Context, guildID string, number int64) (*Case, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE guild_id = $1 AND case_number = $2`,
		guildID, number)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get case %s#%d: %w", guildID, number, err)
	}
	return c, nil
}

// GetCasesByUser returns all cases for a user in a guild, newest first.
func (s *Store) GetCasesByUser(ctx context.Context, guildID, userID string) ([]*Case, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+caseColumns+` FROM cases
		 WHERE guild_id = $1 AND user_id = $2
		 ORDER BY case_number DESC`,
		guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("storage: cases by user: %w", err)
	}
	defer rows.Close()

	var cases []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: cases by user: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// GetLatestCaseByUser returns the newest case for (guild, user), or
// ErrNotFound. Jail rejoin logic reads the role snapshot through this.
func (s *Store) GetLatestCaseByUser(ctx context.Context, guildID, userID string) (*Case, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM cases
		 WHERE guild_id = $1 AND user_id = $2
		 ORDER BY case_number DESC LIMIT 1`,
		guildID, userID)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: latest case for %s/%s: %w", guildID, userID, err)
	}
	return c, nil
}

// GetLatestCaseOfTypes returns the newest case for (guild, user) whose type
// is in the given set, or ErrNotFound.
func (s *Store) GetLatestCaseOfTypes(ctx context.Context, guildID, userID string, types ...CaseType) (*Case, error) {
	if len(types) == 0 {
		return s.GetLatestCaseByUser(ctx, guildID, userID)
	}
	placeholders := make([]string, len(types))
	args := []any{guildID, userID}
	for i, t := range types {
		placeholders[i] = fmt.Sprintf("$%d", i+3)
		args = append(args, string(t))
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM cases
		 WHERE guild_id = $1 AND user_id = $2 AND case_type IN (`+strings.Join(placeholders, ", ")+`)
		 ORDER BY case_number DESC LIMIT 1`,
		args...)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: latest typed case for %s/%s: %w", guildID, userID, err)
	}
	return c, nil
}

// UpdateCaseParams is a partial update: nil fields are left unchanged.
type UpdateCaseParams struct {
	Reason *string
	Status *bool
}

// UpdateCaseByNumber applies a partial update to a case.
func (s *Store) UpdateCaseByNumber(ctx context.Context, guildID string, number int64, p UpdateCaseParams) error {
	sets := make([]string, 0, 2)
	args := make([]any, 0, 4)
	idx := 1
	if p.Reason != nil {
		reason := truncateReason(*p.Reason)
		sets = append(sets, fmt.Sprintf("reason = $%d", idx))
		args = append(args, reason)
		idx++
	}
	if p.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", idx))
		args = append(args, *p.Status)
		idx++
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, guildID, number)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE cases SET %s WHERE guild_id = $%d AND case_number = $%d`,
			strings.Join(sets, ", "), idx, idx+1),
		args...)
	if err != nil {
		return fmt.Errorf("storage: update case %s#%d: %w", guildID, number, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateModLogMessageID records the mod-log message id for a case. The
// write is idempotent.
func (s *Store) UpdateModLogMessageID(ctx context.Context, caseID, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cases SET mod_log_message_id = $1 WHERE id = $2`,
		nullable(messageID), caseID)
	if err != nil {
		return fmt.Errorf("storage: set mod log message for case %s: %w", caseID, err)
	}
	return nil
}

// UpdateAuditLogMessageID records the audit-log message id for a case.
func (s *Store) UpdateAuditLogMessageID(ctx context.Context, caseID, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cases SET audit_log_message_id = $1 WHERE id = $2`,
		nullable(messageID), caseID)
	if err != nil {
		return fmt.Errorf("storage: set audit log message for case %s: %w", caseID, err)
	}
	return nil
}

// ExpiredTempBans returns active TEMPBAN cases whose expiry has passed.
// The sweeper turns each into an UNBAN.
func (s *Store) ExpiredTempBans(ctx context.Context, now time.Time, limit int) ([]*Case, error) {
	if limit <= 0 {
		limit = 50
	}
	// A tempban with a newer UNBAN for the same user is already resolved.
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+caseColumns+` FROM cases
		 WHERE case_type = $1 AND status = $2 AND expires_at IS NOT NULL AND expires_at <= $3
		   AND NOT EXISTS (
		       SELECT 1 FROM cases u
		       WHERE u.guild_id = cases.guild_id AND u.user_id = cases.user_id
		         AND u.case_type = $4 AND u.case_number > cases.case_number)
		 ORDER BY expires_at ASC LIMIT $5`,
		string(CaseTempBan), true, now.UTC(), string(CaseUnban), limit)
	if err != nil {
		return nil, fmt.Errorf("storage: expired tempbans: %w", err)
	}
	defer rows.Close()

	var cases []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: expired tempbans: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}
