package copilot

import (
	"errors"
	"fmt"
	"time"

	"github.com/rittyon/rittyonbot/pkg/rittyon/channels/discord"
	"github.com/rittyon/rittyonbot/pkg/rittyon/persona"
	"github.com/rittyon/rittyonbot/pkg/rittyon/scheduler"
)

// Config holds all bot configuration.
type Config struct {
	// Name is the bot's display name used in logs.
	Name string `yaml:"name"`

	// Discord configures the Discord shell.
	Discord discord.Config `yaml:"discord"`

	// API configures the generative-AI provider.
	API APIConfig `yaml:"api"`

	// Session configures conversation sessions.
	Session SessionConfig `yaml:"session"`

	// Personas overrides the built-in personality catalog when non-empty.
	Personas []persona.Mode `yaml:"personas"`

	// Scheduler configures the daily notification.
	Scheduler scheduler.Config `yaml:"scheduler"`

	// Health configures the HTTP health endpoint.
	Health HealthConfig `yaml:"health"`

	// Logging configures logging.
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig configures the provider endpoint.
type APIConfig struct {
	// Provider is the backend name. Only "gemini" is supported.
	Provider string `yaml:"provider"`

	// APIKey is the provider key. Prefer GEMINI_API_KEY or the keyring.
	APIKey string `yaml:"api_key"`

	// Model is the model used for every chat.
	Model string `yaml:"model"`

	// TimeoutSeconds bounds each provider call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// SessionConfig configures per-user sessions.
type SessionConfig struct {
	// MaxHistory is how many recent prompts each session keeps.
	MaxHistory int `yaml:"max_history"`
}

// HealthConfig configures the health endpoint.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// DefaultConfig returns the default bot configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "rittyon",
		Discord: discord.DefaultConfig(),
		API: APIConfig{
			Provider:       "gemini",
			Model:          DefaultModel,
			TimeoutSeconds: int(DefaultCallTimeout / time.Second),
		},
		Session: SessionConfig{
			MaxHistory: DefaultMaxHistory,
		},
		Scheduler: scheduler.DefaultConfig(),
		Health: HealthConfig{
			Enabled: true,
			Address: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Catalog builds the personality catalog: the configured personas, or the
// built-in set when none are configured.
func (c *Config) Catalog() (*persona.Catalog, error) {
	if len(c.Personas) == 0 {
		return persona.Builtin(), nil
	}
	return persona.New(c.Personas...)
}

// CallTimeout returns the per-call provider timeout.
func (c *Config) CallTimeout() time.Duration {
	if c.API.TimeoutSeconds <= 0 {
		return DefaultCallTimeout
	}
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if c.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required (set DISCORD_TOKEN or use the keyring)"))
	}
	if c.API.APIKey == "" {
		errs = append(errs, errors.New("api.api_key is required (set GEMINI_API_KEY or use the keyring)"))
	}
	if c.API.Provider != "" && c.API.Provider != "gemini" {
		errs = append(errs, fmt.Errorf("api.provider %q is not supported", c.API.Provider))
	}
	if c.API.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("api.timeout_seconds must be positive"))
	}
	if c.Session.MaxHistory < 1 {
		errs = append(errs, errors.New("session.max_history must be at least 1"))
	}
	if err := c.Scheduler.Validate(); err != nil {
		errs = append(errs, err)
	}
	catalog, err := c.Catalog()
	if err != nil {
		errs = append(errs, fmt.Errorf("personas: %w", err))
	} else if _, err := catalog.ContextFor(catalog.Default()); err != nil {
		errs = append(errs, fmt.Errorf("personas: default mode: %w", err))
	}
	if c.Health.Enabled && c.Health.Address == "" {
		errs = append(errs, errors.New("health.address is required when health is enabled"))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Discord.Token = redact(c.Discord.Token)
	out.API.APIKey = redact(c.API.APIKey)
	out.Discord.AdminUsers = append([]string(nil), c.Discord.AdminUsers...)
	out.Personas = append([]persona.Mode(nil), c.Personas...)
	return &out
}

func redact(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return "****"
	default:
		return secret[:4] + "****"
	}
}
