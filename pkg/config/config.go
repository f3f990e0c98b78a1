// Package config loads the bot configuration from the environment.
//
// TUX_ENV selects the environment ("dev" or "prod"); the database URL and
// gateway token are then read from the DEV_- or PROD_-prefixed variables.
// A .env file, if present, fills in missing variables without overriding
// anything already set.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment names accepted in TUX_ENV.
const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

// Config is the resolved runtime configuration.
type Config struct {
	Env         string
	BotToken    string
	DatabaseURL string
	ValkeyURL   string
	MetricsAddr string
	LogDir      string
	OwnerID     string
}

// IsDev reports whether the dev environment is selected.
func (c *Config) IsDev() bool { return c.Env == EnvDev }

// Load resolves configuration from the process environment, consulting a
// .env file in the working directory for any variables not already set.
func Load() (*Config, error) {
	// godotenv.Load never overrides variables that are already exported.
	_ = godotenv.Load()

	env := strings.ToLower(strings.TrimSpace(os.Getenv("TUX_ENV")))
	if env == "" {
		env = EnvDev
	}
	if env != EnvDev && env != EnvProd {
		return nil, fmt.Errorf("config: TUX_ENV must be %q or %q, got %q", EnvDev, EnvProd, env)
	}

	prefix := "DEV_"
	if env == EnvProd {
		prefix = "PROD_"
	}

	token := os.Getenv(prefix + "BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("config: %sBOT_TOKEN is not set", prefix)
	}

	dbURL := os.Getenv(prefix + "DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config: %sDATABASE_URL is not set", prefix)
	}

	cfg := &Config{
		Env:         env,
		BotToken:    token,
		DatabaseURL: dbURL,
		ValkeyURL:   os.Getenv("VALKEY_URL"),
		MetricsAddr: os.Getenv("TUX_METRICS_ADDR"),
		LogDir:      os.Getenv("TUX_LOG_DIR"),
		OwnerID:     os.Getenv("TUX_OWNER_ID"),
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "logs"
	}
	return cfg, nil
}
