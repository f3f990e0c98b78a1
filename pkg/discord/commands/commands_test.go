package commands

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"30m", 30 * time.Minute},
		{"1h30m", 90 * time.Minute},
		{"1d", 24 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"2w", 14 * 24 * time.Hour},
		{"1.5d", 36 * time.Hour},
		{" 45s ", 45 * time.Second},
	}
	for _, tc := range cases {
		got, err := ParseDuration(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", "abc", "-5m", "0s", "-1d", "d"} {
		_, err := ParseDuration(bad)
		require.Error(t, err, bad)
	}
}

func TestDottedName(t *testing.T) {
	plain := discordgo.ApplicationCommandInteractionData{Name: "ban"}
	require.Equal(t, "ban", dottedName(plain))

	nested := discordgo.ApplicationCommandInteractionData{
		Name: "config",
		Options: []*discordgo.ApplicationCommandInteractionDataOption{{
			Name: "ranks",
			Type: discordgo.ApplicationCommandOptionSubCommandGroup,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{{
				Name: "set",
				Type: discordgo.ApplicationCommandOptionSubCommand,
			}},
		}},
	}
	require.Equal(t, "config ranks set", dottedName(nested))

	// Plain value options never extend the name.
	withArgs := discordgo.ApplicationCommandInteractionData{
		Name: "ban",
		Options: []*discordgo.ApplicationCommandInteractionDataOption{{
			Name: "user",
			Type: discordgo.ApplicationCommandOptionUser,
		}},
	}
	require.Equal(t, "ban", dottedName(withArgs))
}

func TestCommandDefinitionsAreUnique(t *testing.T) {
	mod := NewModerationCommands(nil, nil, nil, nil, nil).Build()
	cfg := NewConfigCommands(nil, nil).Build()

	seen := map[string]bool{}
	for _, c := range append(mod, cfg...) {
		def := c.Definition()
		require.NotEmpty(t, def.Name)
		require.NotEmpty(t, def.Description, def.Name)
		require.False(t, seen[def.Name], "duplicate command %s", def.Name)
		seen[def.Name] = true
	}

	for _, name := range []string{
		"ban", "tempban", "unban", "kick", "timeout", "untimeout", "warn",
		"jail", "unjail", "pollban", "pollunban", "snippetban", "snippetunban",
		"case", "health", "config",
	} {
		require.True(t, seen[name], "missing command %s", name)
	}
}

func TestExtractorMissingOptionsAreZero(t *testing.T) {
	e := NewExtractor(nil)
	require.Equal(t, "", e.String("reason"))
	require.Equal(t, int64(0), e.Int("purge_days"))
	require.False(t, e.Bool("silent"))
	require.Equal(t, "", e.UserID("user"))

	_, err := e.StringRequired("name")
	require.Error(t, err)
	_, err = e.Duration("duration")
	require.Error(t, err)
}
