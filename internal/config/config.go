// Package config defines the orchestrator configuration and its loader.
package config

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Tmux         TmuxConfig         `mapstructure:"tmux"`
	Worktree     WorktreeConfig     `mapstructure:"worktree"`
	Agents       AgentsConfig       `mapstructure:"agents"`
	Dedup        DedupConfig        `mapstructure:"dedup"`
	Vector       VectorConfig       `mapstructure:"vector"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Board        BoardDefaults      `mapstructure:"board"`
	State        StateConfig        `mapstructure:"state"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr       string `mapstructure:"addr"`
	EnableCORS bool   `mapstructure:"enable_cors"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// OrchestratorConfig configures admission control and background loops.
type OrchestratorConfig struct {
	MaxConcurrentAgents int    `mapstructure:"max_concurrent_agents"`
	QueueSweepInterval  string `mapstructure:"queue_sweep_interval"`
	HealthCheckInterval string `mapstructure:"health_check_interval"`
	HealthFailureLimit  int    `mapstructure:"health_failure_limit"`
	MetricsInterval     string `mapstructure:"metrics_interval"`
	MemoryTopK          int    `mapstructure:"memory_top_k"`
}

// TmuxConfig configures terminal-multiplexer sessions.
type TmuxConfig struct {
	SessionPrefix string `mapstructure:"session_prefix"`
}

// WorktreeConfig configures the git isolation layout.
type WorktreeConfig struct {
	BasePath                   string `mapstructure:"base_path"`
	BranchPrefix               string `mapstructure:"branch_prefix"`
	MainRepoPath               string `mapstructure:"main_repo_path"`
	BaseBranch                 string `mapstructure:"base_branch"`
	ConflictResolutionStrategy string `mapstructure:"conflict_resolution_strategy"`
	MergeLockTimeout           string `mapstructure:"merge_lock_timeout"`
}

// AgentsConfig configures CLI agent launch defaults, overridable per phase.
type AgentsConfig struct {
	DefaultCLITool string `mapstructure:"default_cli_tool"`
	CLIModel       string `mapstructure:"cli_model"`
	GLMAPITokenEnv string `mapstructure:"glm_api_token_env"`
	PhasesFolder   string `mapstructure:"phases_folder"`
}

// DedupConfig configures near-duplicate task detection.
type DedupConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Threshold  float64 `mapstructure:"threshold"`
	CrossPhase bool    `mapstructure:"cross_phase"`
}

// VectorConfig configures the embedded similarity index.
type VectorConfig struct {
	Path             string `mapstructure:"path"`
	CollectionPrefix string `mapstructure:"collection_prefix"`
}

// LLMConfig configures the language-model provider.
type LLMConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKeyEnv      string `mapstructure:"api_key_env"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
}

// BoardDefaults configures ticket boards created without explicit config.
type BoardDefaults struct {
	DefaultHumanReview     bool `mapstructure:"default_human_review"`
	DefaultApprovalTimeout int  `mapstructure:"default_approval_timeout"`
}

// StateConfig configures relational persistence.
type StateConfig struct {
	Path string `mapstructure:"path"`
}
