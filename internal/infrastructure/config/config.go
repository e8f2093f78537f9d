package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/salmalm/salmalm/pkg/errors"
)

// Config is the full runtime configuration. Layering (low → high):
// defaults → $SALMALM_HOME/config.json → SALMALM_* environment variables.
type Config struct {
	Home       string `mapstructure:"home"`
	Port       int    `mapstructure:"port"`
	Host       string `mapstructure:"host"`
	VaultPW    string `mapstructure:"vault_pw"`
	TrustProxy bool   `mapstructure:"trust_proxy"`

	TempChat   float64       `mapstructure:"temp_chat"`
	TempTool   float64       `mapstructure:"temp_tool"`
	LLMTimeout time.Duration `mapstructure:"llm_timeout"`

	AllowShell    bool `mapstructure:"allow_shell"`
	AllowHomeRead bool `mapstructure:"allow_home_read"`

	LLM      LLMConfig      `mapstructure:"llm"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Node     NodeConfig     `mapstructure:"node"`
}

// LLMConfig tunes the gateway.
type LLMConfig struct {
	CostCapUSD     float64           `mapstructure:"cost_cap_usd"`
	FallbackOrder  []string          `mapstructure:"fallback_order"`
	FallbackModels map[string]string `mapstructure:"fallback_models"` // provider → model id
	DefaultModel   string            `mapstructure:"default_model"`
	MaxTokens      int               `mapstructure:"max_tokens"`
	CacheEnabled   bool              `mapstructure:"cache_enabled"`
	StreamEnabled  bool              `mapstructure:"stream_enabled"`
	OllamaURL      string            `mapstructure:"ollama_url"`
}

// QueueConfig holds the per-session lane defaults; a /queue command can
// override them per session at runtime.
type QueueConfig struct {
	Mode           string        `mapstructure:"mode"` // collect, followup, steer, steer-backlog, interrupt
	Debounce       time.Duration `mapstructure:"debounce"`
	Cap            int           `mapstructure:"cap"`
	Drop           string        `mapstructure:"drop"` // old, new, summarize
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	MaxSubagent    int           `mapstructure:"max_subagent"`
}

// AgentConfig bounds one agent turn.
type AgentConfig struct {
	MaxIterations  int           `mapstructure:"max_iterations"`
	TurnTimeout    time.Duration `mapstructure:"turn_timeout"`
	TurnBudgetUSD  float64       `mapstructure:"turn_budget_usd"`
	ToolTimeout    time.Duration `mapstructure:"tool_timeout"`
	ToolParallel   int           `mapstructure:"tool_parallel"`
	MaxToolOutput  int           `mapstructure:"max_tool_output"`
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`  // empty = <home>/salmalm.db for sqlite
}

// LogConfig mirrors logger.Config.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// TelegramConfig configures the optional Telegram channel.
type TelegramConfig struct {
	Token    string  `mapstructure:"token"`
	AllowIDs []int64 `mapstructure:"allow_ids"`
}

// AuthConfig configures the HTTP auth layer.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"` // generated if empty
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	APIKeys       []string      `mapstructure:"api_keys"`
	AllowRegister bool          `mapstructure:"allow_register"`
}

// NodeConfig configures the remote tool-executor protocol.
type NodeConfig struct {
	Listen  string `mapstructure:"listen"`  // gateway-side grpc bind, empty = off
	Gateway string `mapstructure:"gateway"` // node-side target
	Name    string `mapstructure:"name"`
}

// Load builds the configuration and validates it. A broken home directory or
// unparsable config file is fatal.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SALMALM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	home := v.GetString("home")
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, apperrors.NewConfigError("cannot resolve home directory", err)
		}
		home = filepath.Join(userHome, ".salmalm")
		v.Set("home", home)
	}

	cfgPath := filepath.Join(home, "config.json")
	if _, err := os.Stat(cfgPath); err == nil {
		v.SetConfigFile(cfgPath)
		v.SetConfigType("json")
		if err := v.MergeInConfig(); err != nil {
			return nil, apperrors.NewConfigError("unparsable config file: "+cfgPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.NewConfigError("invalid configuration", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return apperrors.NewConfigError(fmt.Sprintf("port %d out of range", c.Port), nil)
	}
	switch c.Database.Type {
	case "sqlite", "postgres":
	default:
		return apperrors.NewConfigError("database.type must be sqlite or postgres", nil)
	}
	switch c.Queue.Mode {
	case "collect", "followup", "steer", "steer-backlog", "interrupt":
	default:
		return apperrors.NewConfigError("queue.mode invalid: "+c.Queue.Mode, nil)
	}
	switch c.Queue.Drop {
	case "old", "new", "summarize":
	default:
		return apperrors.NewConfigError("queue.drop invalid: "+c.Queue.Drop, nil)
	}
	if c.LLM.CostCapUSD < 0 {
		return apperrors.NewConfigError("llm.cost_cap_usd must be >= 0", nil)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 18789)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("trust_proxy", false)

	v.SetDefault("temp_chat", 0.7)
	v.SetDefault("temp_tool", 0.2)
	v.SetDefault("llm_timeout", "180s")
	v.SetDefault("allow_shell", false)
	v.SetDefault("allow_home_read", false)

	v.SetDefault("llm.cost_cap_usd", 10.0)
	v.SetDefault("llm.fallback_order", []string{"anthropic", "xai", "google"})
	v.SetDefault("llm.fallback_models", map[string]string{
		"anthropic": "claude-sonnet-4-20250514",
		"xai":       "grok-3",
		"google":    "gemini-2.5-pro",
	})
	v.SetDefault("llm.max_tokens", 8192)
	v.SetDefault("llm.cache_enabled", true)
	v.SetDefault("llm.stream_enabled", true)
	v.SetDefault("llm.ollama_url", "http://localhost:11434")

	v.SetDefault("queue.mode", "collect")
	v.SetDefault("queue.debounce", "500ms")
	v.SetDefault("queue.cap", 20)
	v.SetDefault("queue.drop", "old")
	v.SetDefault("queue.max_concurrent", 4)
	v.SetDefault("queue.max_subagent", 8)

	v.SetDefault("agent.max_iterations", 10)
	v.SetDefault("agent.turn_timeout", "180s")
	v.SetDefault("agent.turn_budget_usd", 1.0)
	v.SetDefault("agent.tool_timeout", "60s")
	v.SetDefault("agent.tool_parallel", 4)
	v.SetDefault("agent.max_tool_output", 30000)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("auth.token_ttl", "720h")
	v.SetDefault("auth.allow_register", true)
}

// DatabaseDSN resolves the effective DSN, defaulting sqlite into the home dir.
func (c *Config) DatabaseDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return filepath.Join(c.Home, "salmalm.db")
}
