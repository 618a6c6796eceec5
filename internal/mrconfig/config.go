// Package mrconfig loads mrctl's runtime configuration: the on-disk roots
// for checkpoints, the DLQ, and worktree sessions, plus defaults applied
// when a workflow omits them. Pattern grounded on the teacher's
// internal/config/config.go: viper.BindEnv per key with an MR_-prefixed
// environment variable, Load() returning a fully-defaulted Config.
package mrconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is mrctl's resolved runtime configuration.
type Config struct {
	// WorkDir is the parent repository mrctl operates against.
	WorkDir string

	// CheckpointRoot is where internal/checkpoint.Store persists Job State.
	CheckpointRoot string
	// DLQRoot is where internal/dlq.Queue persists dead-lettered items.
	DLQRoot string
	// SessionsRoot is where internal/worktree.Manager creates agent worktrees.
	SessionsRoot string

	// DefaultMaxParallel is used when a workflow's map phase omits max_parallel.
	DefaultMaxParallel int
	// DefaultTimeoutSeconds is used when a workflow's map phase omits timeout_per_agent.
	DefaultTimeoutSeconds int

	// GitToken is handed to the worktree Manager, which redacts it from git
	// error output; it is not sent to any remote.
	GitToken string
	// GitUsername pairs with GitToken for basic-auth style remotes.
	GitUsername string

	// EventLogPath is the sink file events.Logger appends JSON lines to.
	EventLogPath string
}

func bindEnvVars() {
	viper.BindEnv("work_dir", "MR_WORK_DIR")
	viper.BindEnv("checkpoint_root", "MR_CHECKPOINT_ROOT")
	viper.BindEnv("dlq_root", "MR_DLQ_ROOT")
	viper.BindEnv("sessions_root", "MR_SESSIONS_ROOT")
	viper.BindEnv("default_max_parallel", "MR_DEFAULT_MAX_PARALLEL")
	viper.BindEnv("default_timeout_seconds", "MR_DEFAULT_TIMEOUT_SECONDS")
	viper.BindEnv("git_token", "MR_GIT_TOKEN", "GITHUB_TOKEN")
	viper.BindEnv("git_username", "MR_GIT_USERNAME")
	viper.BindEnv("event_log_path", "MR_EVENT_LOG_PATH")
}

// Load resolves Config from environment variables (via viper.BindEnv),
// falling back to the teacher's own getEnvOrDefault idiom for anything
// viper hasn't bound, rooted at cwd for relative state directories.
func Load() (*Config, error) {
	bindEnvVars()

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("mrconfig: resolve working directory: %w", err)
	}

	cfg := &Config{
		WorkDir:               getEnvOrDefault("MR_WORK_DIR", cwd),
		CheckpointRoot:         getEnvOrDefault("MR_CHECKPOINT_ROOT", filepath.Join(cwd, ".mrforge", "checkpoints")),
		DLQRoot:                getEnvOrDefault("MR_DLQ_ROOT", filepath.Join(cwd, ".mrforge", "dlq")),
		SessionsRoot:           getEnvOrDefault("MR_SESSIONS_ROOT", filepath.Join(cwd, ".mrforge", "sessions")),
		DefaultMaxParallel:     getEnvIntOrDefault("MR_DEFAULT_MAX_PARALLEL", 4),
		DefaultTimeoutSeconds:  getEnvIntOrDefault("MR_DEFAULT_TIMEOUT_SECONDS", 600),
		GitToken:               os.Getenv("MR_GIT_TOKEN"),
		GitUsername:            getEnvOrDefault("MR_GIT_USERNAME", ""),
		EventLogPath:           getEnvOrDefault("MR_EVENT_LOG_PATH", filepath.Join(cwd, ".mrforge", "events.log")),
	}

	if viper.IsSet("work_dir") {
		cfg.WorkDir = viper.GetString("work_dir")
	}
	if viper.IsSet("checkpoint_root") {
		cfg.CheckpointRoot = viper.GetString("checkpoint_root")
	}
	if viper.IsSet("dlq_root") {
		cfg.DLQRoot = viper.GetString("dlq_root")
	}
	if viper.IsSet("sessions_root") {
		cfg.SessionsRoot = viper.GetString("sessions_root")
	}
	if viper.IsSet("default_max_parallel") {
		cfg.DefaultMaxParallel = viper.GetInt("default_max_parallel")
	}
	if viper.IsSet("default_timeout_seconds") {
		cfg.DefaultTimeoutSeconds = viper.GetInt("default_timeout_seconds")
	}
	if viper.IsSet("git_token") {
		cfg.GitToken = viper.GetString("git_token")
	}
	if viper.IsSet("git_username") {
		cfg.GitUsername = viper.GetString("git_username")
	}
	if viper.IsSet("event_log_path") {
		cfg.EventLogPath = viper.GetString("event_log_path")
	}

	return cfg, nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}
