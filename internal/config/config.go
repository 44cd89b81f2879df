// Package config loads the TOML configuration file and applies
// environment overrides for credentials.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/tinybackspace/tiny-backspace/internal/domain"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Sandbox       SandboxConfig       `toml:"sandbox"`
	GitHub        GitHubConfig        `toml:"github"`
	Agent         AgentConfig         `toml:"agent"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	MaxConcurrentRuns int    `toml:"max_concurrent_runs"`
	DatabasePath      string `toml:"database_path"`
	WorkingRoot       string `toml:"working_root"`
}

// SandboxConfig holds sandbox service settings
type SandboxConfig struct {
	APIURL        string `toml:"api_url"`
	APIKey        string `toml:"api_key"`
	NamePrefix    string `toml:"name_prefix"`
	CPU           int    `toml:"cpu"`
	MemoryGB      int    `toml:"memory_gb"`
	ReapSchedule  string `toml:"reap_schedule"`
	ReapMaxAgeMin int    `toml:"reap_max_age_minutes"`
}

// GitHubConfig holds credentials for cloning and publishing
type GitHubConfig struct {
	Token    string `toml:"token"`
	Username string `toml:"username"`
}

// AgentConfig holds coding agent settings
type AgentConfig struct {
	Type           string   `toml:"type"`
	MarkersFile    string   `toml:"markers_file"`
	SetupCommands  []string `toml:"setup_commands"`
	PollSeconds    int      `toml:"poll_seconds"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	GraceSeconds   int      `toml:"grace_seconds"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds HTTP API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			MaxConcurrentRuns: 3,
			DatabasePath:      filepath.Join(home, ".tiny-backspace", "runs.db"),
			WorkingRoot:       "/workspace",
		},
		Sandbox: SandboxConfig{
			APIURL:        "https://app.daytona.io/api",
			NamePrefix:    "tb-",
			CPU:           2,
			MemoryGB:      4,
			ReapSchedule:  "*/30 * * * *",
			ReapMaxAgeMin: 60,
		},
		Agent: AgentConfig{
			Type:           "claude-code",
			PollSeconds:    2,
			TimeoutSeconds: 300,
			GraceSeconds:   2,
		},
		Web: WebConfig{
			Port: 8000,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
// when the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, &domain.PipelineError{
			Kind:    domain.ErrConfiguration,
			Message: "invalid config file",
			Detail:  err.Error(),
		}
	}

	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.Agent.MarkersFile = ExpandPath(cfg.Agent.MarkersFile)

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv lets environment variables override file values so
// credentials can stay out of the config file entirely.
func applyEnv(cfg *Config) {
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.GitHub.Token = v
	}
	if v := os.Getenv("GITHUB_USERNAME"); v != "" {
		cfg.GitHub.Username = v
	}
	if v := os.Getenv("DAYTONA_API_KEY"); v != "" {
		cfg.Sandbox.APIKey = v
	}
	if v := os.Getenv("DAYTONA_API_URL"); v != "" {
		cfg.Sandbox.APIURL = v
	}
}

// Validate checks that the settings a pipeline run needs are present.
func (c *Config) Validate() error {
	if c.GitHub.Token == "" {
		return domain.Errf(domain.ErrConfiguration, "github token is not configured")
	}
	if c.Sandbox.APIKey == "" {
		return domain.Errf(domain.ErrConfiguration, "sandbox api key is not configured")
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "tiny-backspace", "config.toml")
}
