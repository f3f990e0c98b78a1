package session

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresToken(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestNewSetsModerationIntents(t *testing.T) {
	s, err := New("token")
	require.NoError(t, err)

	for _, intent := range []discordgo.Intent{
		discordgo.IntentsGuilds,
		discordgo.IntentsGuildMembers,
		discordgo.IntentGuildModeration,
		discordgo.IntentsGuildMessages,
		discordgo.IntentMessageContent,
	} {
		require.NotZero(t, s.Identify.Intents&intent, "intent %d missing", intent)
	}
	require.True(t, s.StateEnabled)
}
