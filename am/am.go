package am

// Config represents the missionctl configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Pulse    PulseConfig    `mapstructure:"pulse"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Review   ReviewConfig   `mapstructure:"review"`
	Engines  EnginesConfig  `mapstructure:"engines"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port             *int     `mapstructure:"port"`          // nil = DefaultServerPort, 0 is invalid
	RunnerSecret     string   `mapstructure:"runner_secret"` // shared secret for run-once, run-batch and sweep
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	RunOncePerMinute int      `mapstructure:"run_once_per_minute"` // 0 = unlimited
}

// Server port constants
const (
	DefaultServerPort = 8787
)

// PulseConfig configures the job execution workers
type PulseConfig struct {
	Workers              int `mapstructure:"workers"`                // concurrent workers in `pulse start` (0 = none)
	PollIntervalMS       int `mapstructure:"poll_interval_ms"`       // idle wait between claim attempts
	EngineTimeoutSeconds int `mapstructure:"engine_timeout_seconds"` // supervisor timeout per engine run (0 = none)
}

// DispatchConfig configures the auto-dispatch sweep
type DispatchConfig struct {
	IntervalSeconds      int `mapstructure:"interval_seconds"` // 0 = only after job completion and on demand
	StallTimeoutMinutes  int `mapstructure:"stall_timeout_minutes"`
	MaxRetries           int `mapstructure:"max_retries"`
	RetryBatch           int `mapstructure:"retry_batch"`
	ResearchStaleMinutes int `mapstructure:"research_stale_minutes"`
	ResearchBatch        int `mapstructure:"research_batch"`
	PauseThreshold       int `mapstructure:"pause_threshold"`
}

// ReviewConfig configures the quality scorer
type ReviewConfig struct {
	PassThreshold int `mapstructure:"pass_threshold"` // total (5..50) needed to pass
	RollingWindow int `mapstructure:"rolling_window"` // reviewed jobs in an agent's quality average
}

// EnginesConfig configures the engine runners
type EnginesConfig struct {
	Shell          ShellConfig      `mapstructure:"shell"`
	OpenRouter     OpenRouterConfig `mapstructure:"openrouter"`
	Anthropic      AnthropicConfig  `mapstructure:"anthropic"`
	Local          LocalConfig      `mapstructure:"local"`
	CallsPerMinute int              `mapstructure:"calls_per_minute"` // per LLM engine, 0 = unlimited
	OutputRoot     string           `mapstructure:"output_root"`      // used when a job has no output_dir
}

// ShellConfig configures the subprocess engine
type ShellConfig struct {
	Interpreter string `mapstructure:"interpreter"` // e.g. "bash -c"; empty runs the split script directly
}

// OpenRouterConfig configures OpenRouter.ai API access
type OpenRouterConfig struct {
	APIKey      string   `mapstructure:"api_key"`
	Model       string   `mapstructure:"model"`       // e.g. "openai/gpt-4o-mini"
	Temperature *float64 `mapstructure:"temperature"` // nil = 0.2
	MaxTokens   *int     `mapstructure:"max_tokens"`  // nil = 1000
}

// AnthropicConfig configures direct Anthropic API access
type AnthropicConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// LocalConfig configures an OpenAI-compatible local server (Ollama, LocalAI)
type LocalConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
