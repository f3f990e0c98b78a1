package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/allthingslinux/tux/pkg/audit"
	"github.com/allthingslinux/tux/pkg/log"
	"github.com/allthingslinux/tux/pkg/permission"
	"github.com/allthingslinux/tux/pkg/storage"
)

// Action is one Discord call the pipeline executes on behalf of a case.
type Action struct {
	Description string
	Run         func(ctx context.Context) error
}

// Request describes one moderation attempt.
type Request struct {
	GuildID          string
	ModeratorID      string
	ModeratorRoleIDs []string
	TargetID         string
	CaseType         storage.CaseType
	Reason           string
	Silent           bool
	DMAction         string // verb used in the DM, defaults to the case type lowercased
	CommandName      string // permission lookup name, defaults to the case type lowercased
	Actions          []Action
	Duration         time.Duration
	ExpiresAt        *time.Time
	UserRoles        []string // role snapshot persisted with the case (jail)

	// SystemInitiated marks actions the bot issues on its own, such as the
	// unban when a tempban expires. They skip the moderator rank check.
	SystemInitiated bool
}

// Response is what the command layer renders back to the moderator.
type Response struct {
	Case   *storage.Case
	Embed  *discordgo.MessageEmbed
	DMSent bool
	Err    *ActionError // nil when the action went through
}

// Coordinator runs the moderation pipeline: validation, authorization, bot
// capability, per-user locking with the pre-action DM, the Discord actions
// under retry, the post-action DM, then persistence and the audit surface.
type Coordinator struct {
	store    *storage.Store
	engine   *permission.Engine
	adapter  Adapter
	locks    *LockManager
	runner   *Runner
	monitor  *audit.Monitor
	profiles map[OperationClass]DeadlineProfile
	logger   *slog.Logger
}

// NewCoordinator wires the pipeline. profiles may be nil for defaults.
func NewCoordinator(
	store *storage.Store,
	engine *permission.Engine,
	adapter Adapter,
	locks *LockManager,
	runner *Runner,
	monitor *audit.Monitor,
	profiles map[OperationClass]DeadlineProfile,
) *Coordinator {
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	return &Coordinator{
		store:    store,
		engine:   engine,
		adapter:  adapter,
		locks:    locks,
		runner:   runner,
		monitor:  monitor,
		profiles: profiles,
		logger:   log.Component("moderation"),
	}
}

// requiredPermission is the Discord permission bit the bot itself needs for
// a case type. Zero means no guild permission is required (warn and the
// bookkeeping-only case types).
func requiredPermission(t storage.CaseType) (int64, string) {
	switch t {
	case storage.CaseBan, storage.CaseTempBan, storage.CaseUnban:
		return discordgo.PermissionBanMembers, "Ban Members"
	case storage.CaseKick:
		return discordgo.PermissionKickMembers, "Kick Members"
	case storage.CaseTimeout, storage.CaseUntimeout:
		return discordgo.PermissionModerateMembers, "Timeout Members"
	case storage.CaseJail, storage.CaseUnjail:
		return discordgo.PermissionManageRoles, "Manage Roles"
	default:
		return 0, ""
	}
}

// Execute runs the seven-phase pipeline. Exactly one audit event is emitted
// per call that passes validation, including on cancellation.
func (c *Coordinator) Execute(ctx context.Context, req Request) *Response {
	// Phase 1: validation and defaulting.
	if req.GuildID == "" {
		return &Response{Err: newActionError(FailureInvariant, "validation", "This action can only be used in a server.", nil)}
	}
	if req.TargetID == "" || !req.CaseType.Valid() {
		return &Response{Err: newActionError(FailureInvariant, "validation", "Invalid moderation request.", nil)}
	}
	if req.DMAction == "" {
		req.DMAction = strings.ToLower(string(req.CaseType))
	}
	if req.CommandName == "" {
		req.CommandName = strings.ToLower(string(req.CaseType))
	}

	class := ClassForCaseType(req.CaseType)
	profile := profileFor(c.profiles, class)
	start := time.Now()

	ev := audit.Event{
		Timestamp:     start.UTC(),
		OperationType: string(class),
		GuildID:       req.GuildID,
		UserID:        req.TargetID,
		ModeratorID:   req.ModeratorID,
		CaseType:      string(req.CaseType),
	}
	defer func() {
		ev.ResponseTime = time.Since(start)
		c.monitor.Record(ev)
	}()

	fail := func(kind FailureKind, phase, userMsg string, err error) *Response {
		ev.Success = false
		if err != nil {
			ev.ErrorMessage = err.Error()
		} else {
			ev.ErrorMessage = userMsg
		}
		c.logger.Warn("moderation action failed",
			"guild_id", req.GuildID, "user_id", req.TargetID,
			"case_type", string(req.CaseType), "phase", phase, "kind", kind.String(),
			"error", ev.ErrorMessage)
		return &Response{
			Embed: errorEmbed(userMsg),
			Err:   newActionError(kind, phase, userMsg, err),
		}
	}

	// Phase 2: moderator authorization.
	if !req.SystemInitiated {
		if resp := c.authorize(ctx, &req, &ev, fail); resp != nil {
			return resp
		}
	}
	// Phase 3: bot capability.
	if resp := c.checkBotCapability(ctx, &req, fail); resp != nil {
		return resp
	}

	// Phase 4: per-user lock, then the pre-action DM for removal actions.
	handle, err := c.locks.Acquire(ctx, req.GuildID, req.TargetID)
	if err != nil {
		resp := fail(FailureCancelled, "preparation", "The action was cancelled.", err)
		ev.ErrorMessage = "cancelled"
		return resp
	}
	defer handle.Release()

	removal := IsRemovalAction(req.CaseType)
	dmSent := false
	if removal && !req.Silent {
		dmSent = c.attemptDM(ctx, profile, &req)
	}

	// Phase 5: the Discord actions under retry and the class breaker.
	for _, action := range req.Actions {
		if resp := c.runAction(ctx, profile, class, &req, action, &ev, dmSent); resp != nil {
			return resp
		}
	}

	// Phase 6: post-action DM for everything that keeps the target around.
	if !removal && !req.Silent {
		dmSent = c.attemptDM(ctx, profile, &req)
	}
	ev.DMSent = dmSent

	// Phase 7: persistence and the audit surface. The Discord side already
	// happened, so a store failure must not turn the response into an error.
	kase, persistErr := c.persistCase(ctx, profile, &req, true, req.Reason)
	note := ""
	if persistErr != nil {
		c.logger.Error("case persistence failed after successful action",
			"guild_id", req.GuildID, "user_id", req.TargetID,
			"case_type", string(req.CaseType), "error", persistErr)
		ev.ErrorMessage = fmt.Sprintf("infrastructure: %v", persistErr)
		note = "Persistence failed. Record this action manually."
		kase = &storage.Case{
			GuildID: req.GuildID, UserID: req.TargetID, ModeratorID: req.ModeratorID,
			Type: req.CaseType, Reason: req.Reason, Status: true, CreatedAt: time.Now().UTC(),
		}
	} else {
		ev.CaseCreated = true
		ev.CaseNumber = kase.Number
		c.sendModLog(ctx, profile, kase)
	}

	ev.Success = true
	return &Response{
		Case:   kase,
		Embed:  responseEmbed(kase, req.Duration, note),
		DMSent: dmSent,
	}
}

// authorize runs the moderator rank check. Returns a response only on
// failure. NotConfigured means the guild has not set up rank gating for this
// command, which is not a denial.
func (c *Coordinator) authorize(ctx context.Context, req *Request, ev *audit.Event, fail func(FailureKind, string, string, error) *Response) *Response {
	decision, err := c.engine.Check(ctx, req.GuildID, req.ModeratorID, req.ModeratorRoleIDs, req.CommandName)
	if err != nil {
		return fail(FailureInfrastructure, "authorization", "Permission lookup failed, try again later.", err)
	}
	if decision.Outcome == permission.Denied {
		msg := fmt.Sprintf("You need rank %d to use `%s` (you have rank %d).",
			decision.RequiredRank, decision.CommandName, decision.UserRank)
		resp := fail(FailureAuthorization, "authorization", msg, nil)
		ev.ErrorMessage = "Authorization failed"
		return resp
	}
	return nil
}

// checkBotCapability verifies the bot holds the required permission bit and
// outranks the target. Returns a response only on failure.
func (c *Coordinator) checkBotCapability(ctx context.Context, req *Request, fail func(FailureKind, string, string, error) *Response) *Response {
	bit, bitName := requiredPermission(req.CaseType)
	if bit == 0 {
		return nil
	}

	roles, err := c.adapter.GuildRoles(ctx, req.GuildID)
	if err != nil {
		return fail(FailureInfrastructure, "bot_capability", "Could not inspect server roles, try again later.", err)
	}
	view := newGuildView(roles)

	bot, err := c.adapter.Member(ctx, req.GuildID, c.adapter.BotUserID())
	if err != nil {
		return fail(FailureInfrastructure, "bot_capability", "Could not inspect the bot member, try again later.", err)
	}
	if view.permissions(req.GuildID, bot)&bit == 0 {
		msg := fmt.Sprintf("I am missing the **%s** permission.", bitName)
		return fail(FailureBotCapability, "bot_capability", msg, nil)
	}

	target, err := c.adapter.Member(ctx, req.GuildID, req.TargetID)
	if err != nil {
		var ae *APIError
		if errors.As(err, &ae) && ae.Kind == KindNotFound {
			// Target is not a member (ban by id, unban). Hierarchy does not
			// apply.
			return nil
		}
		return fail(FailureInfrastructure, "bot_capability", "Could not inspect the target member, try again later.", err)
	}
	if view.topPosition(bot) <= view.topPosition(target) {
		return fail(FailureBotCapability, "bot_capability",
			"My highest role must be above the target's highest role.", nil)
	}
	return nil
}

// attemptDM sends the notification under the DM budget. Failures and
// timeouts degrade to dm_sent=false; the action continues either way.
func (c *Coordinator) attemptDM(ctx context.Context, profile DeadlineProfile, req *Request) bool {
	dmCtx, cancel := withBudget(ctx, profile.DMBudget)
	defer cancel()

	content := fmt.Sprintf("You have been issued a **%s** in a server. Reason: %s",
		req.DMAction, nonEmpty(req.Reason, "No reason provided"))
	err := c.runner.Do(dmCtx, ClassMessages, func(ctx context.Context) error {
		return c.adapter.SendDM(ctx, req.TargetID, content)
	})
	if err != nil {
		c.logger.Debug("dm not delivered",
			"guild_id", req.GuildID, "user_id", req.TargetID, "error", err)
		return false
	}
	return true
}

// runAction executes one Discord action and, on hard failure, persists the
// voided case and builds the failure response. Returns nil on success.
func (c *Coordinator) runAction(ctx context.Context, profile DeadlineProfile, class OperationClass, req *Request, action Action, ev *audit.Event, dmSent bool) *Response {
	opCtx, cancel := withBudget(ctx, profile.totalBudget())
	defer cancel()

	err := c.runner.Do(opCtx, class, func(ctx context.Context) error {
		callCtx, cancel := withBudget(ctx, profile.APIBudget)
		defer cancel()
		return action.Run(callCtx)
	})
	if err == nil {
		return nil
	}

	ev.Success = false
	ev.DMSent = dmSent

	if errors.Is(err, ErrCircuitOpen) {
		ev.ErrorMessage = err.Error()
		return &Response{
			Embed: errorEmbed("Discord is having trouble right now, try again shortly."),
			Err:   newActionError(FailureCircuitOpen, "action", "Discord is having trouble right now, try again shortly.", err),
		}
	}

	ae, _ := asAPIError(err)
	if ae == nil {
		ae = &APIError{Kind: KindUnknown, Message: err.Error()}
	}

	var kind FailureKind
	var annotation, userMsg string
	switch {
	case ae.Kind == KindCancelled:
		ev.ErrorMessage = "cancelled"
		return &Response{
			Embed: errorEmbed("The action was cancelled."),
			Err:   newActionError(FailureCancelled, "action", "The action was cancelled.", err),
		}
	case ae.Kind == KindForbidden:
		kind = FailureBotCapability
		annotation = "[Discord action failed: missing permissions]"
		userMsg = fmt.Sprintf("I was not allowed to %s the target.", action.Description)
	case ae.Kind == KindNotFound:
		kind = FailureTargetState
		annotation = "[Discord action failed: target not found]"
		userMsg = "The target is not in the server (they may have left or already been actioned)."
	case errors.Is(err, ErrRetryExhausted):
		kind = FailureTransient
		annotation = "[Discord action failed: retries exhausted]"
		userMsg = "Discord kept failing, the action did not go through. Try again."
	default:
		kind = FailureTransient
		annotation = fmt.Sprintf("[Discord action failed: status %d]", ae.Status)
		userMsg = "Discord rejected the action. Try again."
	}
	ev.ErrorMessage = ae.Error()

	// Voided case: the attempt stays visible in the audit trail with its own
	// number and status=false.
	reason := strings.TrimSpace(annotation + " " + req.Reason)
	kase, perr := c.persistCase(ctx, profile, req, false, reason)
	if perr != nil {
		c.logger.Error("voided case persistence failed",
			"guild_id", req.GuildID, "user_id", req.TargetID, "error", perr)
	} else {
		ev.CaseCreated = true
		ev.CaseNumber = kase.Number
	}

	return &Response{
		Case:  kase,
		Embed: errorEmbed(userMsg),
		Err:   newActionError(kind, "action", userMsg, err),
	}
}

// persistCase writes the case row under the database budget with the
// database retry policy.
func (c *Coordinator) persistCase(ctx context.Context, profile DeadlineProfile, req *Request, status bool, reason string) (*storage.Case, error) {
	dbCtx, cancel := withBudget(ctx, profile.DatabaseBudget)
	defer cancel()

	var kase *storage.Case
	err := c.runner.Do(dbCtx, ClassDatabase, func(ctx context.Context) error {
		var err error
		kase, err = c.store.CreateCase(ctx, storage.CreateCaseParams{
			GuildID:     req.GuildID,
			UserID:      req.TargetID,
			ModeratorID: req.ModeratorID,
			Type:        req.CaseType,
			Reason:      reason,
			Status:      status,
			ExpiresAt:   req.ExpiresAt,
			UserRoles:   req.UserRoles,
		})
		return err
	})
	return kase, err
}

// sendModLog posts the case embed to the configured mod-log channel and
// stores the message id for later in-place edits. Best effort.
func (c *Coordinator) sendModLog(ctx context.Context, profile DeadlineProfile, kase *storage.Case) {
	cfg, err := c.store.GetGuildConfig(ctx, kase.GuildID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("guild config lookup failed", "guild_id", kase.GuildID, "error", err)
		}
		return
	}
	if cfg.ModLogChannelID == "" {
		return
	}
	if ok, err := c.adapter.IsTextChannel(ctx, cfg.ModLogChannelID); err != nil || !ok {
		c.logger.Warn("mod-log channel unusable",
			"guild_id", kase.GuildID, "channel_id", cfg.ModLogChannelID, "error", err)
		return
	}

	var messageID string
	err = c.runner.Do(ctx, ClassMessages, func(ctx context.Context) error {
		callCtx, cancel := withBudget(ctx, profile.APIBudget)
		defer cancel()
		var err error
		messageID, err = c.adapter.SendEmbed(callCtx, cfg.ModLogChannelID, modLogEmbed(kase))
		return err
	})
	if err != nil {
		c.logger.Warn("mod-log send failed",
			"guild_id", kase.GuildID, "case_number", kase.Number, "error", err)
		return
	}
	if err := c.store.UpdateModLogMessageID(ctx, kase.ID, messageID); err != nil {
		c.logger.Warn("mod-log message id update failed",
			"guild_id", kase.GuildID, "case_number", kase.Number, "error", err)
		return
	}
	kase.ModLogMessageID = messageID
}

// EditModLog refreshes the mod-log embed after a case is amended.
func (c *Coordinator) EditModLog(ctx context.Context, kase *storage.Case) error {
	if kase.ModLogMessageID == "" {
		return nil
	}
	cfg, err := c.store.GetGuildConfig(ctx, kase.GuildID)
	if err != nil || cfg.ModLogChannelID == "" {
		return err
	}
	return c.runner.Do(ctx, ClassMessages, func(ctx context.Context) error {
		return c.adapter.EditEmbed(ctx, cfg.ModLogChannelID, kase.ModLogMessageID, modLogEmbed(kase))
	})
}
