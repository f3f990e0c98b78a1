package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/allthingslinux/tux/pkg/audit"
	"github.com/allthingslinux/tux/pkg/moderation"
	"github.com/allthingslinux/tux/pkg/storage"
)

const maxTimeoutDuration = 28 * 24 * time.Hour

// ModerationCommands builds the slash commands that drive the moderation
// pipeline.
type ModerationCommands struct {
	store   *storage.Store
	coord   *moderation.Coordinator
	jail    *moderation.JailService
	adapter moderation.Adapter
	monitor *audit.Monitor
}

func NewModerationCommands(
	store *storage.Store,
	coord *moderation.Coordinator,
	jail *moderation.JailService,
	adapter moderation.Adapter,
	monitor *audit.Monitor,
) *ModerationCommands {
	return &ModerationCommands{store: store, coord: coord, jail: jail, adapter: adapter, monitor: monitor}
}

func userOption(desc string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: desc, Required: true,
	}
}

func reasonOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason for the action",
	}
}

func silentOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type: discordgo.ApplicationCommandOptionBoolean, Name: "silent", Description: "Skip the DM to the target",
	}
}

func durationOption(desc string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type: discordgo.ApplicationCommandOptionString, Name: "duration", Description: desc, Required: required,
	}
}

// baseRequest fills the request fields every moderation command shares.
func baseRequest(ctx *Context, e *Extractor, caseType storage.CaseType) moderation.Request {
	return moderation.Request{
		GuildID:          ctx.GuildID,
		ModeratorID:      ctx.InvokerID(),
		ModeratorRoleIDs: ctx.InvokerRoles(),
		TargetID:         e.UserID("user"),
		CaseType:         caseType,
		Reason:           e.String("reason"),
		Silent:           e.Bool("silent"),
	}
}

// Build returns every moderation command.
func (m *ModerationCommands) Build() []Command {
	return []Command{
		m.ban(), m.tempban(), m.unban(), m.kick(),
		m.timeout(), m.untimeout(), m.warn(),
		m.jailCmd(), m.unjailCmd(),
		m.flagCommand("pollban", "Exclude a user from creating polls", storage.CasePollBan),
		m.flagCommand("pollunban", "Allow a user to create polls again", storage.CasePollUnban),
		m.flagCommand("snippetban", "Exclude a user from creating snippets", storage.CaseSnippetBan),
		m.flagCommand("snippetunban", "Allow a user to create snippets again", storage.CaseSnippetUnban),
		m.caseCmd(), m.health(),
	}
}

func (m *ModerationCommands) ban() Command {
	return &funcCommand{
		def: &discordgo.ApplicationCommand{
			Name: "ban", Description: "Ban a user from the server",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("User to ban"), reasonOption(),
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "purge_days",
					Description: "Days of messages to delete (0-7)"},
				silentOption(),
			},
		},
		run: func(ctx *Context) (*discordgo.MessageEmbed, error) {
			e := NewExtractor(ctx.Interaction.ApplicationCommandData().Options)
			req := baseRequest(ctx, e, storage.CaseBan)
			purge := int(e.Int("purge_days"))
			if purge < 0 || purge > 7 {
				return nil, fmt.Errorf("purge_days must be between 0 and 7")
			}
			req.Actions = []moderation.Action{{
				Description: "ban",
				Run: func(c context.Context) error {
					return m.adapter.Ban(c, req.GuildID, req.TargetID, purge, req.Reason)
				},
			}}
			return m.coord.Execute(ctx.Ctx, req).Embed, nil
		},
	}
}

func (m *ModerationCommands) tempban() Command {
	return &funcCommand{
		def: &discordgo.ApplicationCommand{
			Name: "tempban", Description: "Ban a user temporarily",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("User to ban"), durationOption("How long the ban lasts, e.g. 7d", true),
				reasonOption(), silentOption(),
			},
		},
		run: func(ctx *Context) (*discordgo.MessageEmbed, error) {
			e := NewExtractor(ctx.Interaction.ApplicationCommandData().Options)
			dur, err := e.Duration("duration")
			if err != nil {
				return nil, err
			}
			expires := time.Now().UTC().Add(dur)
			req := baseRequest(ctx, e, storage.CaseTempBan)
			req.Duration = dur
			req.ExpiresAt = &expires
			req.Actions = []moderation.Action{{
				Description: "ban",
				Run: func(c context.Context) error {
					return m.adapter.Ban(c, req.GuildID, req.TargetID, 0, req.Reason)
				},
			}}
			return m.coord.Execute(ctx.Ctx, req).Embed, nil
		},
	}
}

func (m *ModerationCommands) unban() Command {
	return &funcCommand{
		def: &discordgo.ApplicationCommand{
			Name: "unban", Description: "Lift a ban",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("User to unban"), reasonOption(),
			},
		},
		run: func(ctx *Context) (*discordgo.MessageEmbed, error) {
			e := NewExtractor(ctx.Interaction.ApplicationCommandData().Options)
			req := baseRequest(ctx, e, storage.CaseUnban)
			req.Silent = true // the target cannot be DMed while banned
			req.Actions = []moderation.Action{{
				Description: "unban",
				Run: func(c context.Context) error {
					return m.adapter.Unban(c, req.GuildID, req.TargetID, req.Reason)
				},
			}}
			return m.coord.Execute(ctx.Ctx, req).Embed, nil
		},
	}
}

func (m *ModerationCommands) kick() Command {
	return &funcCommand{
		def: &discordgo.ApplicationCommand{
			Name: "kick", Description: "Kick a user from the server",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("User to kick"), reasonOption(), silentOption(),
			},
		},
		run: func(ctx *Context) (*discordgo.MessageEmbed, error) {
			e := NewExtractor(ctx.Interaction.ApplicationCommandData().Options)
			req := baseRequest(ctx, e, storage.CaseKick)
			req.Actions = []moderation.Action{{
				Description: "kick",
				Run: func(c context.Context) error {
					return m.adapter.Kick(c, req.GuildID, req.TargetID, req.Reason)
				},
			}}
			return m.coord.Execute(ctx.Ctx, req).Embed, nil
		},
	}
}

func (m *ModerationCommands) timeout() Command {
	return &funcCommand{
		def: &discordgo.ApplicationCommand{
			Name: "timeout", Description: "Time a user out",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("User to time out"), durationOption("How long, e.g. 30m (max 28d)", true),
				reasonOption(), silentOption(),
			},
		},
		run: func(ctx *Context) (*discordgo.MessageEmbed, error) {
			e := NewExtractor(ctx.Interaction.ApplicationCommandData().Options)
			dur, err := e.Duration("duration")
			if err != nil {
				return nil, err
			}
			if dur > maxTimeoutDuration {
				return nil, fmt.Errorf("timeouts cannot exceed 28 days")
			}
			until := time.Now().UTC().Add(dur)
			req := baseRequest(ctx, e, storage.CaseTimeout)
			req.Duration = dur
			req.ExpiresAt = &until
			req.Actions = []moderation.Action{{
				Description: "time out",
				Run: func(c context.Context) error {
					return m.adapter.Timeout(c, req.GuildID, req.TargetID, until, req.Reason)
				},
			}}
			return m.coord.Execute(ctx.Ctx, req).Embed, nil
		},
	}
}

func (m *ModerationCommands) untimeout() Command {
	return &funcCommand{
		def: &discordgo.ApplicationCommand{
			Name: "untimeout", Description: "Lift a timeout",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("User to release"), reasonOption(), silentOption(),
			},
		},
		run: func(ctx *Context) (*discordgo.MessageEmbed, error) {
			e := NewExtractor(ctx.Interaction.ApplicationCommandData().Options)
			req := baseRequest(ctx, e, storage.CaseUntimeout)
			req.Actions = []moderation.Action{{
				Description: "release",
				Run: func(c context.Context) error {
					return m.adapter.RemoveTimeout(c, req.GuildID, req.TargetID, req.Reason)
				},
			}}
			return m.coord.Execute(ctx.Ctx, req).Embed, nil
		},
	}
}

func (m *ModerationCommands) warn() Command {
	return &funcCommand{
		def: &discordgo.ApplicationCommand{
			Name: "warn", Description: "Warn a user",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("User to warn"), reasonOption(), silentOption(),
			},
		},
		run: func(ctx *Context) (*discordgo.MessageEmbed, error) {
			e := NewExtractor(ctx.Interaction.ApplicationCommandData().Options)
			// A warn has no Discord action; the pipeline still DMs the
			// target and records the case.
			req := baseRequest(ctx, e, storage.CaseWarn)
			return m.coord.Execute(ctx.Ctx, req).Embed, nil
		},
	}
}

// flagCommand covers the bookkeeping-only case types: no Discord action,
// just a case row and the DM.
func (m *ModerationCommands) flagCommand(name, desc string, caseType storage.CaseType) Command {
	return &funcCommand{
		def: &discordgo.ApplicationCommand{
			Name: name, Description: desc,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("Target user"), reasonOption(), silentOption(),
			},
		},
		run: func(ctx *Context) (*discordgo.MessageEmbed, error) {
			e := NewExtractor(ctx.Interaction.ApplicationCommandData().Options)
			return m.coord.Execute(ctx.Ctx, baseRequest(ctx, e, caseType)).Embed, nil
		},
	}
}

func (m *ModerationCommands) jailCmd() Command {
	return &funcCommand{
		def: &discordgo.ApplicationCommand{
			Name: "jail", Description: "Jail a user, removing their roles",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("User to jail"), reasonOption(), silentOption(),
			},
		},
		run: func(ctx *Context) (*discordgo.MessageEmbed, error) {
			e := NewExtractor(ctx.Interaction.ApplicationCommandData().Options)
			resp := m.jail.Jail(ctx.Ctx, ctx.GuildID, ctx.InvokerID(), ctx.InvokerRoles(),
				e.UserID("user"), e.String("reason"), e.Bool("silent"))
			return resp.Embed, nil
		},
	}
}

func (m *ModerationCommands) unjailCmd() Command {
	return &funcCommand{
		def: &discordgo.ApplicationCommand{
			Name: "unjail", Description: "Release a user from jail and restore their roles",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("User to release"), reasonOption(), silentOption(),
			},
		},
		run: func(ctx *Context) (*discordgo.MessageEmbed, error) {
			e := NewExtractor(ctx.Interaction.ApplicationCommandData().Options)
			resp := m.jail.Unjail(ctx.Ctx, ctx.GuildID, ctx.InvokerID(), ctx.InvokerRoles(),
				e.UserID("user"), e.String("reason"), e.Bool("silent"))
			return resp.Embed, nil
		},
	}
}

func (m *ModerationCommands) caseCmd() Command {
	return &funcCommand{
		def: &discordgo.ApplicationCommand{
			Name: "case", Description: "Inspect or amend moderation cases",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "view",
					Description: "Show one case",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "number",
							Description: "Case number", Required: true},
					},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "edit",
					Description: "Amend a case's reason or status",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "number",
							Description: "Case number", Required: true},
						{Type: discordgo.ApplicationCommandOptionString, Name: "reason",
							Description: "New reason"},
						{Type: discordgo.ApplicationCommandOptionBoolean, Name: "active",
							Description: "New status"},
					},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "list",
					Description: "List a user's cases",
					Options: []*discordgo.ApplicationCommandOption{
						userOption("User whose cases to list"),
					},
				},
			},
		},
		run: m.handleCase,
	}
}

func (m *ModerationCommands) handleCase(ctx *Context) (*discordgo.MessageEmbed, error) {
	data := ctx.Interaction.ApplicationCommandData()
	sub := data.Options[0]
	e := NewExtractor(sub.Options)

	switch sub.Name {
	case "view":
		kase, err := m.store.GetCaseByNumber(ctx.Ctx, ctx.GuildID, e.Int("number"))
		if err != nil {
			return nil, fmt.Errorf("case #%d not found", e.Int("number"))
		}
		return caseDetailEmbed(kase), nil

	case "edit":
		params := storage.UpdateCaseParams{}
		if reason := e.String("reason"); reason != "" {
			params.Reason = &reason
		}
		if opt, ok := e.opts["active"]; ok {
			status := opt.BoolValue()
			params.Status = &status
		}
		if params.Reason == nil && params.Status == nil {
			return nil, fmt.Errorf("nothing to change")
		}
		number := e.Int("number")
		if err := m.store.UpdateCaseByNumber(ctx.Ctx, ctx.GuildID, number, params); err != nil {
			return nil, fmt.Errorf("case #%d not found", number)
		}
		kase, err := m.store.GetCaseByNumber(ctx.Ctx, ctx.GuildID, number)
		if err != nil {
			return nil, err
		}
		if err := m.coord.EditModLog(ctx.Ctx, kase); err != nil {
			// The row is updated; a stale mod-log embed is not worth failing
			// the command over.
			return caseDetailEmbed(kase), nil
		}
		return caseDetailEmbed(kase), nil

	case "list":
		userID := e.UserID("user")
		cases, err := m.store.GetCasesByUser(ctx.Ctx, ctx.GuildID, userID)
		if err != nil {
			return nil, err
		}
		return caseListEmbed(userID, cases), nil
	}
	return nil, fmt.Errorf("unknown subcommand %q", sub.Name)
}

func (m *ModerationCommands) health() Command {
	return &funcCommand{
		def: &discordgo.ApplicationCommand{
			Name: "health", Description: "Show moderation system health",
		},
		run: func(ctx *Context) (*discordgo.MessageEmbed, error) {
			return healthEmbed(m.monitor.SystemHealth()), nil
		},
	}
}

func caseDetailEmbed(c *storage.Case) *discordgo.MessageEmbed {
	status := "Active"
	if !c.Status {
		status = "Inactive"
	}
	e := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Case #%d — %s", c.Number, c.Type),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Target", Value: fmt.Sprintf("<@%s>", c.UserID), Inline: true},
			{Name: "Moderator", Value: fmt.Sprintf("<@%s>", c.ModeratorID), Inline: true},
			{Name: "Status", Value: status, Inline: true},
			{Name: "Reason", Value: c.Reason},
		},
		Timestamp: c.CreatedAt.Format(time.RFC3339),
	}
	if c.ExpiresAt != nil {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name: "Expires", Value: fmt.Sprintf("<t:%d:R>", c.ExpiresAt.Unix()), Inline: true,
		})
	}
	return e
}

func caseListEmbed(userID string, cases []*storage.Case) *discordgo.MessageEmbed {
	desc := fmt.Sprintf("Cases for <@%s>", userID)
	fields := make([]*discordgo.MessageEmbedField, 0, len(cases))
	for _, c := range cases {
		if len(fields) == 25 { // embed field cap
			break
		}
		status := ""
		if !c.Status {
			status = " (inactive)"
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("#%d %s%s", c.Number, c.Type, status),
			Value: nonEmptyString(c.Reason, "No reason provided"),
		})
	}
	if len(cases) == 0 {
		desc += ": none"
	}
	return &discordgo.MessageEmbed{Description: desc, Fields: fields}
}

func healthEmbed(h audit.Health) *discordgo.MessageEmbed {
	fields := make([]*discordgo.MessageEmbedField, 0, len(h.Classes)+1)
	for class, ch := range h.Classes {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: class,
			Value: fmt.Sprintf("%d total, %.0f%% ok, p95 %s",
				ch.Total, ch.SuccessRate*100, ch.P95),
		})
	}
	fields = append(fields, &discordgo.MessageEmbedField{
		Name:  "locks and breakers",
		Value: fmt.Sprintf("%d contentions, %d classes tripped", h.LockContention, len(h.BreakerTrips)),
	})
	return &discordgo.MessageEmbed{Title: "System health", Fields: fields}
}

func nonEmptyString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
