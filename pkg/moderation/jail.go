package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/allthingslinux/tux/pkg/log"
	"github.com/allthingslinux/tux/pkg/storage"
)

// RejoinReason is the audit-log reason used when the jail role is re-applied
// to a member who left while jailed and came back.
const RejoinReason = "Re-jail on rejoin (was jailed before leaving)"

const (
	jailCacheSize = 2048
	jailCacheTTL  = 10 * time.Minute
)

// JailService owns the jail, unjail and rejoin flows. Jail snapshots the
// target's manageable roles into the case row so unjail can restore them. A
// small TTL cache fronts the latest-case lookup on member joins.
type JailService struct {
	coord   *Coordinator
	store   *storage.Store
	adapter Adapter
	runner  *Runner
	status  *expirable.LRU[string, bool] // key guild/user, value jailed
	logger  *slog.Logger
}

// NewJailService wires the jail flows onto an existing coordinator.
func NewJailService(coord *Coordinator, store *storage.Store, adapter Adapter, runner *Runner) *JailService {
	return &JailService{
		coord:   coord,
		store:   store,
		adapter: adapter,
		runner:  runner,
		status:  expirable.NewLRU[string, bool](jailCacheSize, nil, jailCacheTTL),
		logger:  log.Component("jail"),
	}
}

func jailKey(guildID, userID string) string { return guildID + "/" + userID }

// manageableRoles filters the member's roles down to the ones the bot may
// take away: present in the guild, below the bot's top role, not @everyone,
// not the jail role, and not managed (bot, integration and premium
// subscriber roles are all managed).
func manageableRoles(view *guildView, guildID string, memberRoles []string, botTop int, jailRoleID string) []string {
	out := make([]string, 0, len(memberRoles))
	for _, id := range memberRoles {
		r, ok := view.roles[id]
		if !ok || id == guildID || id == jailRoleID || r.Managed || r.Position >= botTop {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Jail removes the target's manageable roles, assigns the jail role and
// records a JAIL case carrying the removed role ids.
func (j *JailService) Jail(ctx context.Context, guildID, moderatorID string, moderatorRoles []string, targetID, reason string, silent bool) *Response {
	cfg, err := j.store.GetGuildConfig(ctx, guildID)
	if err != nil || cfg.JailRoleID == "" {
		msg := "No jail role is configured for this server."
		return &Response{Embed: errorEmbed(msg), Err: newActionError(FailureInvariant, "validation", msg, err)}
	}

	roles, err := j.adapter.GuildRoles(ctx, guildID)
	if err != nil {
		msg := "Could not inspect server roles, try again later."
		return &Response{Embed: errorEmbed(msg), Err: newActionError(FailureInfrastructure, "preparation", msg, err)}
	}
	view := newGuildView(roles)

	bot, err := j.adapter.Member(ctx, guildID, j.adapter.BotUserID())
	if err != nil {
		msg := "Could not inspect the bot member, try again later."
		return &Response{Embed: errorEmbed(msg), Err: newActionError(FailureInfrastructure, "preparation", msg, err)}
	}
	target, err := j.adapter.Member(ctx, guildID, targetID)
	if err != nil {
		msg := "The target is not in the server."
		return &Response{Embed: errorEmbed(msg), Err: newActionError(FailureTargetState, "preparation", msg, err)}
	}

	snapshot := manageableRoles(view, guildID, target.RoleIDs, view.topPosition(bot), cfg.JailRoleID)

	resp := j.coord.Execute(ctx, Request{
		GuildID:          guildID,
		ModeratorID:      moderatorID,
		ModeratorRoleIDs: moderatorRoles,
		TargetID:         targetID,
		CaseType:         storage.CaseJail,
		Reason:           reason,
		Silent:           silent,
		DMAction:         "jailed",
		UserRoles:        snapshot,
		Actions: []Action{
			{Description: "assign the jail role to", Run: func(ctx context.Context) error {
				return j.adapter.AddRoles(ctx, guildID, targetID, []string{cfg.JailRoleID}, reason)
			}},
			{Description: "remove the roles of", Run: func(ctx context.Context) error {
				return j.adapter.RemoveRoles(ctx, guildID, targetID, snapshot, reason)
			}},
		},
	})
	if resp.Err == nil {
		j.status.Add(jailKey(guildID, targetID), true)
	}
	return resp
}

// Unjail restores the role snapshot from the latest JAIL case and removes
// the jail role. Roles deleted from the guild since the jail are skipped.
func (j *JailService) Unjail(ctx context.Context, guildID, moderatorID string, moderatorRoles []string, targetID, reason string, silent bool) *Response {
	cfg, err := j.store.GetGuildConfig(ctx, guildID)
	if err != nil || cfg.JailRoleID == "" {
		msg := "No jail role is configured for this server."
		return &Response{Embed: errorEmbed(msg), Err: newActionError(FailureInvariant, "validation", msg, err)}
	}

	latest, err := j.store.GetLatestCaseByUser(ctx, guildID, targetID)
	if err != nil || latest.Type != storage.CaseJail {
		msg := "That user is not jailed."
		return &Response{Embed: errorEmbed(msg), Err: newActionError(FailureTargetState, "validation", msg, err)}
	}

	roles, err := j.adapter.GuildRoles(ctx, guildID)
	if err != nil {
		msg := "Could not inspect server roles, try again later."
		return &Response{Embed: errorEmbed(msg), Err: newActionError(FailureInfrastructure, "preparation", msg, err)}
	}
	view := newGuildView(roles)
	restore := make([]string, 0, len(latest.UserRoles))
	for _, id := range latest.UserRoles {
		if _, ok := view.roles[id]; ok {
			restore = append(restore, id)
		}
	}

	resp := j.coord.Execute(ctx, Request{
		GuildID:          guildID,
		ModeratorID:      moderatorID,
		ModeratorRoleIDs: moderatorRoles,
		TargetID:         targetID,
		CaseType:         storage.CaseUnjail,
		Reason:           reason,
		Silent:           silent,
		DMAction:         "unjailed",
		Actions: []Action{
			{Description: "remove the jail role from", Run: func(ctx context.Context) error {
				return j.adapter.RemoveRoles(ctx, guildID, targetID, []string{cfg.JailRoleID}, reason)
			}},
			{Description: "restore the roles of", Run: func(ctx context.Context) error {
				return j.adapter.AddRoles(ctx, guildID, targetID, restore, reason)
			}},
		},
	})
	if resp.Err == nil {
		j.status.Add(jailKey(guildID, targetID), false)
	}
	return resp
}

// HandleMemberJoin re-applies the jail role when a jailed member rejoins. No
// new case is created; the existing JAIL case still stands.
func (j *JailService) HandleMemberJoin(ctx context.Context, guildID, userID string) error {
	key := jailKey(guildID, userID)

	jailed, cached := j.status.Get(key)
	if !cached {
		latest, err := j.store.GetLatestCaseByUser(ctx, guildID, userID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			jailed = false
		case err != nil:
			return fmt.Errorf("jail status lookup: %w", err)
		default:
			jailed = latest.Type == storage.CaseJail
		}
		j.status.Add(key, jailed)
	}
	if !jailed {
		return nil
	}

	cfg, err := j.store.GetGuildConfig(ctx, guildID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if cfg.JailRoleID == "" {
		return nil
	}
	err = j.runner.Do(ctx, ClassAPIOther, func(ctx context.Context) error {
		return j.adapter.AddRoles(ctx, guildID, userID, []string{cfg.JailRoleID}, RejoinReason)
	})
	if err != nil {
		return fmt.Errorf("re-jail on rejoin: %w", err)
	}
	j.logger.Info("re-applied jail role on rejoin", "guild_id", guildID, "user_id", userID)
	return nil
}
