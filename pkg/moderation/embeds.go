package moderation

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/allthingslinux/tux/pkg/storage"
)

// Embed colors per outcome.
const (
	colorAction  = 0xe74c3c // red, punitive actions
	colorRestore = 0x2ecc71 // green, restorative actions
	colorError   = 0x992d22
)

func caseColor(t storage.CaseType) int {
	switch t {
	case storage.CaseUnban, storage.CaseUntimeout, storage.CaseUnjail,
		storage.CasePollUnban, storage.CaseSnippetUnban:
		return colorRestore
	default:
		return colorAction
	}
}

// modLogEmbed builds the mod-log channel embed for a persisted case. Its
// message id is stored so the embed can be edited in place later.
func modLogEmbed(c *storage.Case) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Case #%d — %s", c.Number, c.Type),
		Color: caseColor(c.Type),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Target", Value: fmt.Sprintf("<@%s> (`%s`)", c.UserID, c.UserID), Inline: true},
			{Name: "Moderator", Value: fmt.Sprintf("<@%s> (`%s`)", c.ModeratorID, c.ModeratorID), Inline: true},
			{Name: "Reason", Value: nonEmpty(c.Reason, "No reason provided"), Inline: false},
		},
		Timestamp: c.CreatedAt.Format(time.RFC3339),
	}
	if c.ExpiresAt != nil {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name: "Expires", Value: fmt.Sprintf("<t:%d:R>", c.ExpiresAt.Unix()), Inline: true,
		})
	}
	if !c.Status {
		e.Footer = &discordgo.MessageEmbedFooter{Text: "Voided"}
	}
	return e
}

// responseEmbed is the moderator-facing confirmation.
func responseEmbed(c *storage.Case, duration time.Duration, note string) *discordgo.MessageEmbed {
	desc := fmt.Sprintf("**%s** issued for <@%s>", c.Type, c.UserID)
	if c.Number > 0 {
		desc = fmt.Sprintf("Case `#%d`: %s", c.Number, desc)
	}
	e := &discordgo.MessageEmbed{
		Description: desc,
		Color:       caseColor(c.Type),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Reason", Value: nonEmpty(c.Reason, "No reason provided")},
		},
	}
	if duration > 0 {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name: "Duration", Value: duration.String(), Inline: true,
		})
	}
	if note != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: note}
	}
	return e
}

// errorEmbed is the moderator-facing failure notice.
func errorEmbed(message string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Description: message,
		Color:       colorError,
	}
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
