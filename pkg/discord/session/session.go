// Package session creates the gateway connection with the intents the
// moderation core needs.
package session

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/allthingslinux/tux/pkg/log"
)

// New creates an unopened session. Member and moderation intents are
// required for role snapshots, rejoin handling and timeout events.
func New(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, fmt.Errorf("session: bot token is empty")
	}

	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}

	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentGuildModeration |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	s.StateEnabled = true
	return s, nil
}

// Connect opens the gateway and logs the identity once ready.
func Connect(s *discordgo.Session) error {
	logger := log.Component("session")

	var remove func()
	remove = s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		logger.Info("gateway ready",
			"user", r.User.Username, "user_id", r.User.ID, "guilds", len(r.Guilds))
		remove()
	})

	if err := s.Open(); err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}
	return nil
}
