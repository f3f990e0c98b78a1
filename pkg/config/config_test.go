package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsToDev(t *testing.T) {
	t.Setenv("TUX_ENV", "")
	t.Setenv("DEV_BOT_TOKEN", "token-dev")
	t.Setenv("DEV_DATABASE_URL", "sqlite:///tmp/tux.db")
	t.Setenv("TUX_LOG_DIR", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.IsDev())
	require.Equal(t, "token-dev", cfg.BotToken)
	require.Equal(t, "sqlite:///tmp/tux.db", cfg.DatabaseURL)
	require.Equal(t, "logs", cfg.LogDir)
}

func TestLoadProdUsesProdPrefix(t *testing.T) {
	t.Setenv("TUX_ENV", "prod")
	t.Setenv("PROD_BOT_TOKEN", "token-prod")
	t.Setenv("PROD_DATABASE_URL", "postgres://db/tux")
	t.Setenv("DEV_BOT_TOKEN", "token-dev")
	t.Setenv("DEV_DATABASE_URL", "sqlite:///tmp/tux.db")
	t.Setenv("VALKEY_URL", "redis://localhost:6379/0")
	t.Setenv("TUX_OWNER_ID", "42")

	cfg, err := Load()
	require.NoError(t, err)
	require.False(t, cfg.IsDev())
	require.Equal(t, "token-prod", cfg.BotToken)
	require.Equal(t, "postgres://db/tux", cfg.DatabaseURL)
	require.Equal(t, "redis://localhost:6379/0", cfg.ValkeyURL)
	require.Equal(t, "42", cfg.OwnerID)
}

func TestLoadRejectsUnknownEnv(t *testing.T) {
	t.Setenv("TUX_ENV", "staging")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("TUX_ENV", "dev")
	t.Setenv("DEV_BOT_TOKEN", "")
	_, err := Load()
	require.Error(t, err)
}
