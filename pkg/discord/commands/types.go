// Package commands is the slash-command surface of the moderation core.
package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Command is one top-level slash command.
type Command interface {
	Definition() *discordgo.ApplicationCommand
	Handle(ctx *Context) (*discordgo.MessageEmbed, error)
}

// funcCommand pairs a definition with its handler.
type funcCommand struct {
	def *discordgo.ApplicationCommand
	run func(ctx *Context) (*discordgo.MessageEmbed, error)
}

func (c *funcCommand) Definition() *discordgo.ApplicationCommand { return c.def }
func (c *funcCommand) Handle(ctx *Context) (*discordgo.MessageEmbed, error) {
	return c.run(ctx)
}

// Context carries one interaction through its handler.
type Context struct {
	Ctx         context.Context
	Session     *discordgo.Session
	Interaction *discordgo.InteractionCreate
	GuildID     string
	Invoker     *discordgo.Member
}

func (c *Context) InvokerID() string {
	if c.Invoker != nil && c.Invoker.User != nil {
		return c.Invoker.User.ID
	}
	return ""
}

func (c *Context) InvokerRoles() []string {
	if c.Invoker == nil {
		return nil
	}
	return c.Invoker.Roles
}

// Extractor pulls typed values out of interaction options.
type Extractor struct {
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption
}

func NewExtractor(opts []*discordgo.ApplicationCommandInteractionDataOption) *Extractor {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return &Extractor{opts: m}
}

func (e *Extractor) String(name string) string {
	if o, ok := e.opts[name]; ok {
		return o.StringValue()
	}
	return ""
}

func (e *Extractor) StringRequired(name string) (string, error) {
	v := strings.TrimSpace(e.String(name))
	if v == "" {
		return "", fmt.Errorf("option %q is required", name)
	}
	return v, nil
}

func (e *Extractor) Int(name string) int64 {
	if o, ok := e.opts[name]; ok {
		return o.IntValue()
	}
	return 0
}

func (e *Extractor) Bool(name string) bool {
	if o, ok := e.opts[name]; ok {
		return o.BoolValue()
	}
	return false
}

// UserID resolves a user option to its snowflake.
func (e *Extractor) UserID(name string) string {
	o, ok := e.opts[name]
	if !ok {
		return ""
	}
	if u := o.UserValue(nil); u != nil {
		return u.ID
	}
	return ""
}

// RoleID resolves a role option to its snowflake.
func (e *Extractor) RoleID(name string) string {
	o, ok := e.opts[name]
	if !ok {
		return ""
	}
	if r := o.RoleValue(nil, ""); r != nil {
		return r.ID
	}
	return ""
}

// ChannelID resolves a channel option to its snowflake.
func (e *Extractor) ChannelID(name string) string {
	o, ok := e.opts[name]
	if !ok {
		return ""
	}
	if c := o.ChannelValue(nil); c != nil {
		return c.ID
	}
	return ""
}

// Duration parses a duration option. On top of the standard units it
// accepts d and w suffixes, so "7d" and "2w" work.
func (e *Extractor) Duration(name string) (time.Duration, error) {
	raw := strings.TrimSpace(e.String(name))
	if raw == "" {
		return 0, fmt.Errorf("option %q is required", name)
	}
	return ParseDuration(raw)
}

// ParseDuration extends time.ParseDuration with day and week suffixes.
func ParseDuration(raw string) (time.Duration, error) {
	lower := strings.ToLower(strings.TrimSpace(raw))
	for suffix, unit := range map[string]time.Duration{"d": 24 * time.Hour, "w": 7 * 24 * time.Hour} {
		if strings.HasSuffix(lower, suffix) {
			n, err := strconv.ParseFloat(strings.TrimSuffix(lower, suffix), 64)
			if err != nil {
				break
			}
			if n <= 0 {
				return 0, fmt.Errorf("duration %q must be positive", raw)
			}
			return time.Duration(n * float64(unit)), nil
		}
	}
	d, err := time.ParseDuration(lower)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", raw)
	}
	return d, nil
}
