// Package logging validates the channels a guild points its moderation
// output at.
package logging

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/allthingslinux/tux/pkg/log"
	"github.com/allthingslinux/tux/pkg/storage"
)

const requiredChannelPerms = int64(discordgo.PermissionViewChannel |
	discordgo.PermissionSendMessages |
	discordgo.PermissionEmbedLinks)

// ValidateModLogChannel checks that the configured mod-log channel exists in
// the guild, is a text channel, and that the bot can post embeds to it.
func ValidateModLogChannel(session *discordgo.Session, guildID, channelID string) error {
	if channelID == "" {
		return fmt.Errorf("no channel configured")
	}

	var ch *discordgo.Channel
	if session.State != nil {
		if cached, _ := session.State.Channel(channelID); cached != nil {
			ch = cached
		}
	}
	if ch == nil {
		c, err := session.Channel(channelID)
		if err != nil {
			return fmt.Errorf("channel lookup failed: %w", err)
		}
		ch = c
	}

	if ch.GuildID != "" && ch.GuildID != guildID {
		return fmt.Errorf("channel belongs to another guild")
	}
	if ch.Type != discordgo.ChannelTypeGuildText && ch.Type != discordgo.ChannelTypeGuildNews {
		return fmt.Errorf("channel is not a guild text channel")
	}

	botID := ""
	if session.State != nil && session.State.User != nil {
		botID = session.State.User.ID
	}
	if botID == "" {
		return fmt.Errorf("bot identity not available")
	}
	perms, err := session.UserChannelPermissions(botID, channelID)
	if err != nil {
		return fmt.Errorf("permission check failed: %w", err)
	}
	if perms&requiredChannelPerms != requiredChannelPerms {
		return fmt.Errorf("missing permissions (need view, send messages, embed links)")
	}
	return nil
}

// AuditGuildConfig logs a warning for each misconfigured channel or role in
// the guild's config. Run at startup and after config changes.
func AuditGuildConfig(session *discordgo.Session, cfg *storage.GuildConfig) {
	logger := log.Component("logging")

	if cfg.ModLogChannelID != "" {
		if err := ValidateModLogChannel(session, cfg.GuildID, cfg.ModLogChannelID); err != nil {
			logger.Warn("mod-log channel misconfigured",
				"guild_id", cfg.GuildID, "channel_id", cfg.ModLogChannelID, "error", err)
		}
	}
	if cfg.JailRoleID != "" {
		if session.State != nil {
			if r, _ := session.State.Role(cfg.GuildID, cfg.JailRoleID); r == nil {
				logger.Warn("jail role not found in guild",
					"guild_id", cfg.GuildID, "role_id", cfg.JailRoleID)
			}
		}
	}
}
