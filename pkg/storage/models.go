package storage

import "time"

// CaseType enumerates the moderation actions a case can record.
type CaseType string

const (
	CaseBan          CaseType = "BAN"
	CaseTempBan      CaseType = "TEMPBAN"
	CaseUnban        CaseType = "UNBAN"
	CaseKick         CaseType = "KICK"
	CaseTimeout      CaseType = "TIMEOUT"
	CaseUntimeout    CaseType = "UNTIMEOUT"
	CaseWarn         CaseType = "WARN"
	CaseJail         CaseType = "JAIL"
	CaseUnjail       CaseType = "UNJAIL"
	CasePollBan      CaseType = "POLLBAN"
	CasePollUnban    CaseType = "POLLUNBAN"
	CaseSnippetBan   CaseType = "SNIPPETBAN"
	CaseSnippetUnban CaseType = "SNIPPETUNBAN"
)

// Valid reports whether t is a known case type.
func (t CaseType) Valid() bool {
	switch t {
	case CaseBan, CaseTempBan, CaseUnban, CaseKick, CaseTimeout, CaseUntimeout,
		CaseWarn, CaseJail, CaseUnjail, CasePollBan, CasePollUnban,
		CaseSnippetBan, CaseSnippetUnban:
		return true
	}
	return false
}

// Guild is the per-guild row carrying the monotonic case counter.
type Guild struct {
	ID        string
	JoinedAt  time.Time
	CaseCount int64
}

// GuildConfig holds the optional channel and role wiring for a guild.
// Empty string means the feature is disabled.
type GuildConfig struct {
	GuildID          string
	ModLogChannelID  string
	AuditLogChannel  string
	JoinLogChannel   string
	PrivateLogChan   string
	ReportLogChannel string
	DevLogChannel    string
	JailChannelID    string
	GeneralChannelID string
	StarboardChannel string
	JailRoleID       string
	QuarantineRoleID string
	BaseStaffRoleID  string
	BaseMemberRoleID string
	Prefix           string
}

// Case is one persisted moderation action.
type Case struct {
	ID                string
	GuildID           string
	Number            int64
	Type              CaseType
	UserID            string
	ModeratorID       string
	Reason            string
	// Status false marks a voided case: the Discord action did not complete
	// and Reason carries the failure annotation.
	Status            bool
	CreatedAt         time.Time
	ExpiresAt         *time.Time
	// UserRoles is the role snapshot captured at jail time, empty otherwise.
	UserRoles         []string
	ModLogMessageID   string
	AuditLogMessageID string
}

// PermissionRank maps an integer rank in [0,100] to a named tier.
type PermissionRank struct {
	ID          string
	GuildID     string
	Rank        int
	Name        string
	Description string
	Color       int
	Enabled     bool
}

// PermissionAssignment binds a guild role to a rank. A role holds at most
// one rank per guild.
type PermissionAssignment struct {
	ID      string
	GuildID string
	RankID  string
	RoleID  string
	Rank    int // joined from permission_ranks on read
}

// PermissionCommand sets the required rank for a (possibly dotted) command.
type PermissionCommand struct {
	ID           string
	GuildID      string
	CommandName  string
	RequiredRank int
	Description  string
}
