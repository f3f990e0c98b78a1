package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/allthingslinux/tux/pkg/log"
	"github.com/allthingslinux/tux/pkg/permission"
)

const handlerTimeout = 60 * time.Second

// Router registers the slash commands with Discord and dispatches
// interactions to their handlers. Restricted command names are gated to the
// bot owner here, before any permission lookup runs.
type Router struct {
	session  *discordgo.Session
	engine   *permission.Engine
	ownerID  string
	logger   *slog.Logger
	commands map[string]Command
	order    []string
}

func NewRouter(session *discordgo.Session, engine *permission.Engine, ownerID string) *Router {
	return &Router{
		session:  session,
		engine:   engine,
		ownerID:  ownerID,
		logger:   log.Component("commands"),
		commands: make(map[string]Command),
	}
}

// Register adds commands to the router. Call before Sync.
func (r *Router) Register(cmds ...Command) {
	for _, c := range cmds {
		name := c.Definition().Name
		if _, dup := r.commands[name]; !dup {
			r.order = append(r.order, name)
		}
		r.commands[name] = c
	}
}

// Sync bulk-overwrites the application commands. An empty guildID registers
// globally; a test guild id makes them appear instantly.
func (r *Router) Sync(guildID string) error {
	defs := make([]*discordgo.ApplicationCommand, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.commands[name].Definition())
	}
	appID := r.session.State.User.ID
	if _, err := r.session.ApplicationCommandBulkOverwrite(appID, guildID, defs); err != nil {
		return fmt.Errorf("commands: sync: %w", err)
	}
	r.logger.Info("slash commands synced", "count", len(defs), "guild_id", guildID)
	return nil
}

// Attach subscribes the router to interaction events.
func (r *Router) Attach() {
	r.session.AddHandler(r.handleInteraction)
}

// dottedName builds the permission lookup name, e.g. "config ranks set".
func dottedName(data discordgo.ApplicationCommandInteractionData) string {
	parts := []string{data.Name}
	opts := data.Options
	for len(opts) == 1 {
		o := opts[0]
		if o.Type != discordgo.ApplicationCommandOptionSubCommand &&
			o.Type != discordgo.ApplicationCommandOptionSubCommandGroup {
			break
		}
		parts = append(parts, o.Name)
		opts = o.Options
	}
	return strings.Join(parts, " ")
}

func (r *Router) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	cmd, ok := r.commands[data.Name]
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	cc := &Context{
		Ctx:         ctx,
		Session:     s,
		Interaction: i,
		GuildID:     i.GuildID,
		Invoker:     i.Member,
	}
	full := dottedName(data)

	// Restricted names never reach guild configuration; only the bot owner
	// may invoke them.
	if permission.IsRestricted(data.Name) && cc.InvokerID() != r.ownerID {
		r.respondEphemeral(i, "This command is restricted to the bot owner.")
		return
	}

	if cc.GuildID != "" {
		decision, err := r.engine.Check(ctx, cc.GuildID, cc.InvokerID(), cc.InvokerRoles(), full)
		if err != nil {
			r.logger.Error("permission check failed", "command", full, "error", err)
			r.respondEphemeral(i, "Permission lookup failed, try again later.")
			return
		}
		if decision.Outcome == permission.Denied {
			r.respondEphemeral(i, fmt.Sprintf(
				"You need rank %d to use `%s` (you have rank %d).",
				decision.RequiredRank, decision.CommandName, decision.UserRank))
			return
		}
	}

	// Moderation handlers can outlive the 3 second interaction window, so
	// acknowledge first and edit the response when done.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		r.logger.Error("interaction ack failed", "command", full, "error", err)
		return
	}

	embed, err := cmd.Handle(cc)
	if err != nil {
		r.logger.Warn("command failed", "command", full, "guild_id", cc.GuildID, "error", err)
		embed = &discordgo.MessageEmbed{Description: err.Error(), Color: 0x992d22}
	}
	if embed == nil {
		return
	}
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Embeds: &[]*discordgo.MessageEmbed{embed},
	}); err != nil {
		r.logger.Warn("interaction edit failed", "command", full, "error", err)
	}
}

func (r *Router) respondEphemeral(i *discordgo.InteractionCreate, msg string) {
	err := r.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		r.logger.Warn("ephemeral respond failed", "error", err)
	}
}
