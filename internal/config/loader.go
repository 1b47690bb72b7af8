package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "HEPHAESTUS",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance,
// allowing CLI flag bindings to participate in precedence.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "HEPHAESTUS",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest): CLI flags, HEPHAESTUS_* environment
// variables, project config (.hephaestus.yaml), user config
// (~/.config/hephaestus/config.yaml), defaults.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".hephaestus")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "hephaestus"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// The phases folder env var predates the config file and keeps its
	// unprefixed spelling.
	if folder := os.Getenv("HEPHAESTUS_PHASES_FOLDER"); folder != "" {
		cfg.Agents.PhasesFolder = folder
	}

	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("server.addr", ":8700")
	l.v.SetDefault("server.enable_cors", true)

	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("orchestrator.max_concurrent_agents", 5)
	l.v.SetDefault("orchestrator.queue_sweep_interval", "60s")
	l.v.SetDefault("orchestrator.health_check_interval", "30s")
	l.v.SetDefault("orchestrator.health_failure_limit", 3)
	l.v.SetDefault("orchestrator.metrics_interval", "120s")
	l.v.SetDefault("orchestrator.memory_top_k", 5)

	l.v.SetDefault("tmux.session_prefix", "hephaestus")

	l.v.SetDefault("worktree.base_path", ".hephaestus/worktrees")
	l.v.SetDefault("worktree.branch_prefix", "agent")
	l.v.SetDefault("worktree.main_repo_path", ".")
	l.v.SetDefault("worktree.base_branch", "main")
	l.v.SetDefault("worktree.conflict_resolution_strategy", "newest_file_wins")
	l.v.SetDefault("worktree.merge_lock_timeout", "300s")

	l.v.SetDefault("agents.default_cli_tool", "claude")
	l.v.SetDefault("agents.cli_model", "")
	l.v.SetDefault("agents.glm_api_token_env", "GLM_API_TOKEN")

	l.v.SetDefault("dedup.enabled", true)
	l.v.SetDefault("dedup.threshold", 0.88)
	l.v.SetDefault("dedup.cross_phase", false)

	l.v.SetDefault("vector.path", ".hephaestus/vectors")
	l.v.SetDefault("vector.collection_prefix", "hephaestus")

	l.v.SetDefault("llm.base_url", "")
	l.v.SetDefault("llm.api_key_env", "OPENAI_API_KEY")
	l.v.SetDefault("llm.model", "gpt-4o-mini")
	l.v.SetDefault("llm.embedding_model", "text-embedding-3-small")

	l.v.SetDefault("board.default_human_review", false)
	l.v.SetDefault("board.default_approval_timeout", 1800)

	l.v.SetDefault("state.path", ".hephaestus/state.db")
}
