package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tinybackspace/tiny-backspace/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.General.MaxConcurrentRuns != 3 {
		t.Errorf("MaxConcurrentRuns = %d, want 3", cfg.General.MaxConcurrentRuns)
	}
	if cfg.Web.Port != 8000 {
		t.Errorf("Web.Port = %d, want 8000", cfg.Web.Port)
	}
	if cfg.Agent.TimeoutSeconds != 300 {
		t.Errorf("Agent.TimeoutSeconds = %d, want 300", cfg.Agent.TimeoutSeconds)
	}
	if cfg.Sandbox.NamePrefix != "tb-" {
		t.Errorf("Sandbox.NamePrefix = %q, want tb-", cfg.Sandbox.NamePrefix)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
[general]
max_concurrent_runs = 5
working_root = "/srv/work"

[sandbox]
cpu = 4

[web]
port = 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.MaxConcurrentRuns != 5 {
		t.Errorf("MaxConcurrentRuns = %d, want 5", cfg.General.MaxConcurrentRuns)
	}
	if cfg.General.WorkingRoot != "/srv/work" {
		t.Errorf("WorkingRoot = %q, want /srv/work", cfg.General.WorkingRoot)
	}
	if cfg.Sandbox.CPU != 4 {
		t.Errorf("Sandbox.CPU = %d, want 4", cfg.Sandbox.CPU)
	}
	if cfg.Web.Port != 9000 {
		t.Errorf("Web.Port = %d, want 9000", cfg.Web.Port)
	}
	// Unset sections keep their defaults.
	if cfg.Agent.PollSeconds != 2 {
		t.Errorf("Agent.PollSeconds = %d, want 2", cfg.Agent.PollSeconds)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.General.MaxConcurrentRuns != 3 {
		t.Errorf("MaxConcurrentRuns = %d, want default 3", cfg.General.MaxConcurrentRuns)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(configPath, []byte("[general\nbroken"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load should fail on invalid TOML")
	}
	if domain.KindOf(err) != domain.ErrConfiguration {
		t.Errorf("kind = %s, want ConfigurationError", domain.KindOf(err))
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_env")
	t.Setenv("GITHUB_USERNAME", "env-user")
	t.Setenv("DAYTONA_API_KEY", "dtn_env")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GitHub.Token != "ghp_env" {
		t.Errorf("GitHub.Token = %q, want ghp_env", cfg.GitHub.Token)
	}
	if cfg.GitHub.Username != "env-user" {
		t.Errorf("GitHub.Username = %q", cfg.GitHub.Username)
	}
	if cfg.Sandbox.APIKey != "dtn_env" {
		t.Errorf("Sandbox.APIKey = %q", cfg.Sandbox.APIKey)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("Validate should fail without credentials")
	}

	cfg.GitHub.Token = "ghp_x"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate should fail without sandbox api key")
	} else if domain.KindOf(err) != domain.ErrConfiguration {
		t.Errorf("kind = %s, want ConfigurationError", domain.KindOf(err))
	}

	cfg.Sandbox.APIKey = "dtn_x"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate with credentials: %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
