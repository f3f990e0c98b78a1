package moderation

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

// DiscordAdapter drives a live discordgo session. All failures come back as
// *APIError; nothing discordgo-specific escapes.
type DiscordAdapter struct {
	session *discordgo.Session
}

var _ Adapter = (*DiscordAdapter)(nil)

// NewDiscordAdapter wraps an opened session.
func NewDiscordAdapter(s *discordgo.Session) *DiscordAdapter {
	return &DiscordAdapter{session: s}
}

func (a *DiscordAdapter) BotUserID() string {
	if a.session.State != nil && a.session.State.User != nil {
		return a.session.State.User.ID
	}
	return ""
}

// classify maps discordgo and transport errors onto the APIError sum type.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		return &APIError{
			Kind:       KindRateLimited,
			Status:     http.StatusTooManyRequests,
			RetryAfter: rl.RetryAfter,
			Message:    rl.Message,
		}
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		status := 0
		if rest.Response != nil {
			status = rest.Response.StatusCode
		}
		msg := err.Error()
		if rest.Message != nil {
			msg = rest.Message.Message
		}
		switch status {
		case http.StatusForbidden:
			return &APIError{Kind: KindForbidden, Status: status, Message: msg}
		case http.StatusNotFound:
			return &APIError{Kind: KindNotFound, Status: status, Message: msg}
		case http.StatusTooManyRequests:
			return &APIError{Kind: KindRateLimited, Status: status, Message: msg}
		default:
			return &APIError{Kind: KindHTTP, Status: status, Message: msg}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &APIError{Kind: KindTimedOut, Message: err.Error()}
	}
	if errors.Is(err, context.Canceled) {
		return &APIError{Kind: KindCancelled, Message: err.Error()}
	}
	// Connection resets and other transport failures are transient the same
	// way a timeout is.
	var nerr net.Error
	if errors.As(err, &nerr) {
		return &APIError{Kind: KindTimedOut, Message: err.Error()}
	}
	return &APIError{Kind: KindUnknown, Message: err.Error()}
}

func (a *DiscordAdapter) SendDM(ctx context.Context, userID, content string) error {
	ch, err := a.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return classify(err)
	}
	_, err = a.session.ChannelMessageSend(ch.ID, content, discordgo.WithContext(ctx))
	return classify(err)
}

func (a *DiscordAdapter) Ban(ctx context.Context, guildID, userID string, purgeDays int, reason string) error {
	return classify(a.session.GuildBanCreateWithReason(guildID, userID, reason, purgeDays, discordgo.WithContext(ctx)))
}

func (a *DiscordAdapter) Unban(ctx context.Context, guildID, userID, reason string) error {
	return classify(a.session.GuildBanDelete(guildID, userID,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

func (a *DiscordAdapter) Kick(ctx context.Context, guildID, userID, reason string) error {
	return classify(a.session.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx)))
}

func (a *DiscordAdapter) Timeout(ctx context.Context, guildID, userID string, until time.Time, reason string) error {
	return classify(a.session.GuildMemberTimeout(guildID, userID, &until,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

func (a *DiscordAdapter) RemoveTimeout(ctx context.Context, guildID, userID, reason string) error {
	return classify(a.session.GuildMemberTimeout(guildID, userID, nil,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

func (a *DiscordAdapter) AddRoles(ctx context.Context, guildID, userID string, roleIDs []string, reason string) error {
	for _, roleID := range roleIDs {
		err := a.session.GuildMemberRoleAdd(guildID, userID, roleID,
			discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

func (a *DiscordAdapter) RemoveRoles(ctx context.Context, guildID, userID string, roleIDs []string, reason string) error {
	for _, roleID := range roleIDs {
		err := a.session.GuildMemberRoleRemove(guildID, userID, roleID,
			discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

func (a *DiscordAdapter) SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) (string, error) {
	msg, err := a.session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		return "", classify(err)
	}
	return msg.ID, nil
}

func (a *DiscordAdapter) FetchMessage(ctx context.Context, channelID, messageID string) (*discordgo.Message, error) {
	msg, err := a.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(err)
	}
	return msg, nil
}

func (a *DiscordAdapter) EditEmbed(ctx context.Context, channelID, messageID string, embed *discordgo.MessageEmbed) error {
	_, err := a.session.ChannelMessageEditEmbed(channelID, messageID, embed, discordgo.WithContext(ctx))
	return classify(err)
}

func (a *DiscordAdapter) Member(ctx context.Context, guildID, userID string) (*MemberInfo, error) {
	m, err := a.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(err)
	}
	return &MemberInfo{UserID: userID, RoleIDs: m.Roles}, nil
}

func (a *DiscordAdapter) GuildRoles(ctx context.Context, guildID string) ([]RoleInfo, error) {
	roles, err := a.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(err)
	}
	out := make([]RoleInfo, 0, len(roles))
	for _, r := range roles {
		out = append(out, RoleInfo{
			ID:          r.ID,
			Name:        r.Name,
			Position:    r.Position,
			Permissions: r.Permissions,
			Managed:     r.Managed,
		})
	}
	return out, nil
}

func (a *DiscordAdapter) IsTextChannel(ctx context.Context, channelID string) (bool, error) {
	ch, err := a.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return false, classify(err)
	}
	switch ch.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return true, nil
	default:
		return false, nil
	}
}
