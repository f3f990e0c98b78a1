package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/allthingslinux/tux/pkg/discord/logging"
	"github.com/allthingslinux/tux/pkg/permission"
	"github.com/allthingslinux/tux/pkg/storage"
)

// ConfigCommands builds the /config command group covering the rank ladder,
// role assignments, per-command ranks and the guild's channels and roles.
type ConfigCommands struct {
	store  *storage.Store
	engine *permission.Engine
}

func NewConfigCommands(store *storage.Store, engine *permission.Engine) *ConfigCommands {
	return &ConfigCommands{store: store, engine: engine}
}

func (c *ConfigCommands) Build() []Command {
	return []Command{c.configCmd()}
}

func (c *ConfigCommands) configCmd() Command {
	rankArg := &discordgo.ApplicationCommandOption{
		Type: discordgo.ApplicationCommandOptionInteger, Name: "rank",
		Description: "Rank between 0 and 100", Required: true,
	}
	return &funcCommand{
		def: &discordgo.ApplicationCommand{
			Name: "config", Description: "Configure moderation for this server",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionSubCommandGroup, Name: "ranks",
					Description: "Manage the rank ladder",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "init",
							Description: "Seed the default rank ladder"},
						{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set",
							Description: "Create or rename a rank",
							Options: []*discordgo.ApplicationCommandOption{
								rankArg,
								{Type: discordgo.ApplicationCommandOptionString, Name: "name",
									Description: "Rank name", Required: true},
							}},
						{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "delete",
							Description: "Delete a rank and its role assignments",
							Options:     []*discordgo.ApplicationCommandOption{rankArg}},
						{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "list",
							Description: "Show the rank ladder"},
					},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommandGroup, Name: "role",
					Description: "Bind guild roles to ranks",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "assign",
							Description: "Give a role a rank",
							Options: []*discordgo.ApplicationCommandOption{
								{Type: discordgo.ApplicationCommandOptionRole, Name: "role",
									Description: "Role to bind", Required: true},
								rankArg,
							}},
						{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "unassign",
							Description: "Remove a role's rank",
							Options: []*discordgo.ApplicationCommandOption{
								{Type: discordgo.ApplicationCommandOptionRole, Name: "role",
									Description: "Role to unbind", Required: true},
							}},
					},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommandGroup, Name: "command",
					Description: "Set per-command required ranks",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set",
							Description: "Require a rank for a command",
							Options: []*discordgo.ApplicationCommandOption{
								{Type: discordgo.ApplicationCommandOptionString, Name: "name",
									Description: "Command name, dotted for subcommands", Required: true},
								rankArg,
							}},
						{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "remove",
							Description: "Drop a command's rank requirement",
							Options: []*discordgo.ApplicationCommandOption{
								{Type: discordgo.ApplicationCommandOptionString, Name: "name",
									Description: "Command name", Required: true},
							}},
						{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "list",
							Description: "Show configured command ranks"},
					},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "modlog",
					Description: "Set the moderation log channel",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel",
							Description: "Channel receiving case embeds", Required: true},
					},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "jailrole",
					Description: "Set the jail role",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionRole, Name: "role",
							Description: "Role applied to jailed users", Required: true},
					},
				},
			},
		},
		run: c.handle,
	}
}

func (c *ConfigCommands) handle(ctx *Context) (*discordgo.MessageEmbed, error) {
	data := ctx.Interaction.ApplicationCommandData()
	top := data.Options[0]

	switch top.Name {
	case "ranks":
		return c.handleRanks(ctx, top.Options[0])
	case "role":
		return c.handleRole(ctx, top.Options[0])
	case "command":
		return c.handleCommand(ctx, top.Options[0])
	case "modlog":
		return c.handleModLog(ctx, NewExtractor(top.Options))
	case "jailrole":
		return c.handleJailRole(ctx, NewExtractor(top.Options))
	}
	return nil, fmt.Errorf("unknown subcommand %q", top.Name)
}

func checkRank(rank int64) error {
	if rank < 0 || rank > 100 {
		return fmt.Errorf("rank must be between 0 and 100")
	}
	return nil
}

func (c *ConfigCommands) handleRanks(ctx *Context, sub *discordgo.ApplicationCommandInteractionDataOption) (*discordgo.MessageEmbed, error) {
	e := NewExtractor(sub.Options)
	switch sub.Name {
	case "init":
		if err := c.engine.InitializeGuild(ctx.Ctx, ctx.GuildID); err != nil {
			return nil, err
		}
		return confirmEmbed("Default rank ladder seeded."), nil

	case "set":
		rank := e.Int("rank")
		if err := checkRank(rank); err != nil {
			return nil, err
		}
		name, err := e.StringRequired("name")
		if err != nil {
			return nil, err
		}
		r, err := c.engine.UpsertRank(ctx.Ctx, &storage.PermissionRank{
			GuildID: ctx.GuildID, Rank: int(rank), Name: name, Enabled: true,
		})
		if err != nil {
			return nil, err
		}
		return confirmEmbed(fmt.Sprintf("Rank %d is now **%s**.", r.Rank, r.Name)), nil

	case "delete":
		rank := e.Int("rank")
		if err := checkRank(rank); err != nil {
			return nil, err
		}
		if err := c.engine.DeleteRank(ctx.Ctx, ctx.GuildID, int(rank)); err != nil {
			return nil, err
		}
		return confirmEmbed(fmt.Sprintf("Rank %d deleted.", rank)), nil

	case "list":
		ranks, err := c.engine.Ranks(ctx.Ctx, ctx.GuildID)
		if err != nil {
			return nil, err
		}
		if len(ranks) == 0 {
			return confirmEmbed("No ranks configured. Run `/config ranks init` to seed the defaults."), nil
		}
		var b strings.Builder
		for _, r := range ranks {
			fmt.Fprintf(&b, "`%3d` %s\n", r.Rank, r.Name)
		}
		return &discordgo.MessageEmbed{Title: "Rank ladder", Description: b.String()}, nil
	}
	return nil, fmt.Errorf("unknown subcommand %q", sub.Name)
}

func (c *ConfigCommands) handleRole(ctx *Context, sub *discordgo.ApplicationCommandInteractionDataOption) (*discordgo.MessageEmbed, error) {
	e := NewExtractor(sub.Options)
	roleID := e.RoleID("role")
	switch sub.Name {
	case "assign":
		rank := e.Int("rank")
		if err := checkRank(rank); err != nil {
			return nil, err
		}
		if _, err := c.engine.AssignRole(ctx.Ctx, ctx.GuildID, int(rank), roleID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("rank %d does not exist, create it first", rank)
			}
			return nil, err
		}
		return confirmEmbed(fmt.Sprintf("<@&%s> now grants rank %d.", roleID, rank)), nil

	case "unassign":
		if err := c.engine.UnassignRole(ctx.Ctx, ctx.GuildID, roleID); err != nil {
			return nil, err
		}
		return confirmEmbed(fmt.Sprintf("<@&%s> no longer grants a rank.", roleID)), nil
	}
	return nil, fmt.Errorf("unknown subcommand %q", sub.Name)
}

func (c *ConfigCommands) handleCommand(ctx *Context, sub *discordgo.ApplicationCommandInteractionDataOption) (*discordgo.MessageEmbed, error) {
	e := NewExtractor(sub.Options)
	switch sub.Name {
	case "set":
		name, err := e.StringRequired("name")
		if err != nil {
			return nil, err
		}
		rank := e.Int("rank")
		if err := checkRank(rank); err != nil {
			return nil, err
		}
		if _, err := c.engine.SetCommandPermission(ctx.Ctx, ctx.GuildID, name, int(rank), ""); err != nil {
			if errors.Is(err, permission.ErrRestrictedCommand) {
				return nil, fmt.Errorf("`%s` is restricted and cannot be configured", name)
			}
			return nil, err
		}
		return confirmEmbed(fmt.Sprintf("`%s` now requires rank %d.", name, rank)), nil

	case "remove":
		name, err := e.StringRequired("name")
		if err != nil {
			return nil, err
		}
		if err := c.engine.RemoveCommandPermission(ctx.Ctx, ctx.GuildID, name); err != nil {
			return nil, err
		}
		return confirmEmbed(fmt.Sprintf("`%s` no longer has a rank requirement.", name)), nil

	case "list":
		cmds, err := c.store.ListCommandPermissions(ctx.Ctx, ctx.GuildID)
		if err != nil {
			return nil, err
		}
		if len(cmds) == 0 {
			return confirmEmbed("No command ranks configured."), nil
		}
		var b strings.Builder
		for _, cmd := range cmds {
			fmt.Fprintf(&b, "`%s` requires rank %d\n", cmd.CommandName, cmd.RequiredRank)
		}
		return &discordgo.MessageEmbed{Title: "Command ranks", Description: b.String()}, nil
	}
	return nil, fmt.Errorf("unknown subcommand %q", sub.Name)
}

func (c *ConfigCommands) handleModLog(ctx *Context, e *Extractor) (*discordgo.MessageEmbed, error) {
	channelID := e.ChannelID("channel")
	if err := logging.ValidateModLogChannel(ctx.Session, ctx.GuildID, channelID); err != nil {
		return nil, fmt.Errorf("cannot use <#%s>: %w", channelID, err)
	}
	cfg, err := c.guildConfig(ctx)
	if err != nil {
		return nil, err
	}
	cfg.ModLogChannelID = channelID
	if err := c.store.UpsertGuildConfig(ctx.Ctx, cfg); err != nil {
		return nil, err
	}
	return confirmEmbed(fmt.Sprintf("Moderation log channel set to <#%s>.", channelID)), nil
}

func (c *ConfigCommands) handleJailRole(ctx *Context, e *Extractor) (*discordgo.MessageEmbed, error) {
	roleID := e.RoleID("role")
	cfg, err := c.guildConfig(ctx)
	if err != nil {
		return nil, err
	}
	cfg.JailRoleID = roleID
	if err := c.store.UpsertGuildConfig(ctx.Ctx, cfg); err != nil {
		return nil, err
	}
	return confirmEmbed(fmt.Sprintf("Jail role set to <@&%s>.", roleID)), nil
}

// guildConfig loads the existing config so a single-field change does not
// wipe the rest of the row.
func (c *ConfigCommands) guildConfig(ctx *Context) (*storage.GuildConfig, error) {
	cfg, err := c.store.GetGuildConfig(ctx.Ctx, ctx.GuildID)
	if errors.Is(err, storage.ErrNotFound) {
		return &storage.GuildConfig{GuildID: ctx.GuildID}, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func confirmEmbed(msg string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Description: msg, Color: 0x2ecc71}
}
