// Package copilot – loader.go loads configuration from YAML with credentials
// taken from environment variables, .env files, or the OS keyring.
package copilot

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches environment variable patterns in config values:
//   - ${VAR_NAME}          - simple variable
//   - ${VAR_NAME:-default} - default value if not set
//   - ${VAR_NAME:?error}   - error message if not set
//   - $VAR_NAME            - bare variable
//
// Groups: 1=braced name, 2=modifier, 3=modifier value, 4=bare name.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// Environment variables consulted for secrets.
const (
	EnvDiscordToken = "DISCORD_TOKEN"
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvGoogleAPIKey = "GOOGLE_API_KEY"
)

// LoadConfigFromFile reads and parses a YAML configuration file.
// Loads .env files first and expands environment variables.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	ResolveSecrets(cfg, nil)
	checkFilePermissions(path)
	return cfg, nil
}

// LoadDefaultConfig returns defaults with secrets from env and keyring, for
// running without a config file.
func LoadDefaultConfig() *Config {
	loadEnvFiles()
	cfg := DefaultConfig()
	ResolveSecrets(cfg, nil)
	return cfg
}

// ParseConfig parses YAML bytes over DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("mapping config: %w", err)
	}

	// A health section without "enabled" keeps the endpoint on.
	if healthMap, ok := raw["health"].(map[string]any); ok {
		if _, set := healthMap["enabled"]; !set {
			cfg.Health.Enabled = true
		}
	}
	return cfg, nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"rittyon.yaml",
		"rittyon.yml",
		"configs/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ResolveSecrets fills empty or placeholder secrets from the environment,
// then from the OS keyring.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	if unresolved(cfg.Discord.Token) {
		cfg.Discord.Token = firstNonEmpty(os.Getenv(EnvDiscordToken), GetKeyring(KeyringDiscordToken))
		if cfg.Discord.Token != "" {
			logger.Debug("discord token resolved from environment or keyring")
		}
	}
	if unresolved(cfg.API.APIKey) {
		cfg.API.APIKey = firstNonEmpty(os.Getenv(EnvGeminiAPIKey), os.Getenv(EnvGoogleAPIKey), GetKeyring(KeyringAPIKey))
		if cfg.API.APIKey != "" {
			logger.Debug("API key resolved from environment or keyring")
		}
	}
}

// IsEnvReference checks if a string is an environment variable reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "$")
}

// ---------- Internal ----------

func unresolved(v string) bool { return v == "" || IsEnvReference(v) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// loadEnvFiles loads .env files. Existing variables are never overwritten.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces variable references with their values. Unset
// ${VAR} and $VAR keep the placeholder; ${VAR:?msg} fails.
func expandEnvVars(input string) (string, error) {
	var firstErr error
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		name, modifier, value, bare := sub[1], sub[2], sub[3], sub[4]

		if bare != "" {
			if v, ok := os.LookupEnv(bare); ok {
				return v
			}
			return match
		}

		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		switch modifier {
		case "-":
			return value
		case "?":
			if value == "" {
				value = "required environment variable not set"
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("config error: %s - %s", name, value)
			}
		}
		return match
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// checkFilePermissions warns if config file is group or world readable.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
