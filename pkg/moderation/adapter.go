package moderation

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
)

// MemberInfo is the slice of a guild member the pipeline needs.
type MemberInfo struct {
	UserID  string
	RoleIDs []string
}

// RoleInfo is the slice of a guild role the pipeline needs.
type RoleInfo struct {
	ID          string
	Name        string
	Position    int
	Permissions int64
	Managed     bool
}

// Adapter is the gateway/REST surface the coordinator drives. Every method
// resolves its failures into *APIError so the pipeline can match on kinds
// without knowing the underlying client.
type Adapter interface {
	BotUserID() string

	SendDM(ctx context.Context, userID, content string) error
	Ban(ctx context.Context, guildID, userID string, purgeDays int, reason string) error
	Unban(ctx context.Context, guildID, userID, reason string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	Timeout(ctx context.Context, guildID, userID string, until time.Time, reason string) error
	RemoveTimeout(ctx context.Context, guildID, userID, reason string) error
	AddRoles(ctx context.Context, guildID, userID string, roleIDs []string, reason string) error
	RemoveRoles(ctx context.Context, guildID, userID string, roleIDs []string, reason string) error

	SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) (messageID string, err error)
	FetchMessage(ctx context.Context, channelID, messageID string) (*discordgo.Message, error)
	EditEmbed(ctx context.Context, channelID, messageID string, embed *discordgo.MessageEmbed) error

	Member(ctx context.Context, guildID, userID string) (*MemberInfo, error)
	GuildRoles(ctx context.Context, guildID string) ([]RoleInfo, error)
	IsTextChannel(ctx context.Context, channelID string) (bool, error)
}

// guildView bundles the role table lookups phase 3 and the jail logic share.
type guildView struct {
	roles map[string]RoleInfo
}

func newGuildView(roles []RoleInfo) *guildView {
	m := make(map[string]RoleInfo, len(roles))
	for _, r := range roles {
		m[r.ID] = r
	}
	return &guildView{roles: m}
}

// topPosition returns the highest role position held by the member.
func (v *guildView) topPosition(m *MemberInfo) int {
	top := 0
	for _, id := range m.RoleIDs {
		if r, ok := v.roles[id]; ok && r.Position > top {
			top = r.Position
		}
	}
	return top
}

// permissions ORs the member's role permissions plus @everyone. An
// administrator bit grants everything.
func (v *guildView) permissions(guildID string, m *MemberInfo) int64 {
	perms := int64(0)
	if everyone, ok := v.roles[guildID]; ok {
		perms |= everyone.Permissions
	}
	for _, id := range m.RoleIDs {
		if r, ok := v.roles[id]; ok {
			perms |= r.Permissions
		}
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		perms |= discordgo.PermissionAll
	}
	return perms
}
