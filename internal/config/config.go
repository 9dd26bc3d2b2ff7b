package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// EnvDBPath overrides the store location when set
const EnvDBPath = "LEVELUP_DB_PATH"

// Config holds all application configuration
type Config struct {
	General  GeneralConfig  `toml:"general"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
}

// GeneralConfig holds paths and logging settings
type GeneralConfig struct {
	DBPath      string `toml:"db_path"`
	WorktreeDir string `toml:"worktree_dir"`
	LogLevel    string `toml:"log_level"`
}

// PipelineConfig holds engine settings
type PipelineConfig struct {
	Model                   string `toml:"model"`
	ClaudeExecutable        string `toml:"claude_executable"`
	MaxAgentRetries         int    `toml:"max_agent_retries"`
	MaxRevisionCycles       int    `toml:"max_revision_cycles"`
	MaxSecurityReworkCycles int    `toml:"max_security_rework_cycles"`
	CheckpointPollMS        int    `toml:"checkpoint_poll_interval_ms"`
	AgentTimeoutMinutes     int    `toml:"agent_timeout_minutes"`
	RequireCheckpoints      bool   `toml:"require_checkpoints"`
	CreateGitBranch         bool   `toml:"create_git_branch"`
	BranchPattern           string `toml:"branch_pattern"`
}

// ServerConfig holds web API settings
type ServerConfig struct {
	Addr          string `toml:"addr"`
	SweepSchedule string `toml:"sweep_schedule"`
}

// NotifyConfig holds notification settings
type NotifyConfig struct {
	SlackWebhookURL string `toml:"slack_webhook_url"`
	Desktop         bool   `toml:"desktop"`
}

// CheckpointPollInterval returns the poll interval as a duration
func (p PipelineConfig) CheckpointPollInterval() time.Duration {
	if p.CheckpointPollMS <= 0 {
		return time.Second
	}
	return time.Duration(p.CheckpointPollMS) * time.Millisecond
}

// AgentTimeout returns the per-agent-call timeout as a duration
func (p PipelineConfig) AgentTimeout() time.Duration {
	if p.AgentTimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(p.AgentTimeoutMinutes) * time.Minute
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DBPath:      filepath.Join(home, ".levelup", "state.db"),
			WorktreeDir: filepath.Join(home, ".levelup", "worktrees"),
			LogLevel:    "info",
		},
		Pipeline: PipelineConfig{
			Model:                   "claude-sonnet-4-5",
			ClaudeExecutable:        "claude",
			MaxAgentRetries:         2,
			MaxRevisionCycles:       3,
			MaxSecurityReworkCycles: 1,
			CheckpointPollMS:        1000,
			AgentTimeoutMinutes:     30,
			RequireCheckpoints:      true,
			CreateGitBranch:         true,
			BranchPattern:           "levelup/{run_id}",
		},
		Server: ServerConfig{
			Addr:          ":8777",
			SweepSchedule: "* * * * *",
		},
		Notify: NotifyConfig{
			Desktop: false,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults.
// A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.General.DBPath = ExpandPath(cfg.General.DBPath)
	cfg.General.WorktreeDir = ExpandPath(cfg.General.WorktreeDir)

	return cfg, nil
}

// ResolveDBPath applies the flag > environment > config precedence for the
// store location. flagValue is the --db-path flag, empty when unset.
func (c *Config) ResolveDBPath(flagValue string) string {
	if flagValue != "" {
		return ExpandPath(flagValue)
	}
	if env := os.Getenv(EnvDBPath); env != "" {
		return ExpandPath(env)
	}
	return c.General.DBPath
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
	return filepath.Join(home, ".config", "levelup", "config.toml")
}
