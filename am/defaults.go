package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "mctl.db")

	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.runner_secret", "")
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})
	v.SetDefault("server.run_once_per_minute", 60)

	v.SetDefault("pulse.workers", 1)
	v.SetDefault("pulse.poll_interval_ms", 2000)
	v.SetDefault("pulse.engine_timeout_seconds", 1800)

	v.SetDefault("dispatch.interval_seconds", 60)
	v.SetDefault("dispatch.stall_timeout_minutes", 10)
	v.SetDefault("dispatch.max_retries", 3)
	v.SetDefault("dispatch.retry_batch", 5)
	v.SetDefault("dispatch.research_stale_minutes", 30)
	v.SetDefault("dispatch.research_batch", 3)
	v.SetDefault("dispatch.pause_threshold", 3)

	v.SetDefault("review.pass_threshold", 35)
	v.SetDefault("review.rolling_window", 20)

	v.SetDefault("engines.shell.interpreter", "")
	v.SetDefault("engines.openrouter.model", "openai/gpt-4o-mini")
	v.SetDefault("engines.openrouter.temperature", 0.2)
	v.SetDefault("engines.openrouter.max_tokens", 1000)
	v.SetDefault("engines.anthropic.model", "claude-3-5-haiku-latest")
	v.SetDefault("engines.anthropic.max_tokens", 1024)
	v.SetDefault("engines.local.base_url", "http://localhost:11434")
	v.SetDefault("engines.local.model", "llama3.2:3b")
	v.SetDefault("engines.local.timeout_seconds", 600)
	v.SetDefault("engines.calls_per_minute", 30)
	v.SetDefault("engines.output_root", "output")
}

// BindSensitiveEnvVars binds secrets to their conventional environment names
// in addition to the MCTL_ prefixed ones.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "MCTL_DATABASE_PATH")
	v.BindEnv("server.runner_secret", "MCTL_SERVER_RUNNER_SECRET", "MCTL_RUNNER_SECRET")
	v.BindEnv("engines.openrouter.api_key", "MCTL_ENGINES_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	v.BindEnv("engines.anthropic.api_key", "MCTL_ENGINES_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	v.BindEnv("engines.local.base_url", "MCTL_ENGINES_LOCAL_BASE_URL")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "mctl.db"
	}
	return c.Database.Path
}

// GetServerPort returns server.port, or DefaultServerPort when unset
func (c *Config) GetServerPort() int {
	if c.Server.Port == nil {
		return DefaultServerPort
	}
	return *c.Server.Port
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{
			"http://localhost",
			"https://localhost",
			"http://127.0.0.1",
			"https://127.0.0.1",
		}
	}
	return c.Server.AllowedOrigins
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Pulse: {Workers: %d}, Dispatch: {Interval: %ds, MaxRetries: %d}}",
		c.Database.Path, c.Pulse.Workers, c.Dispatch.IntervalSeconds, c.Dispatch.MaxRetries)
}
