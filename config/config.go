package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Chart   ChartConfig   `mapstructure:"chart"`
	Memory  MemoryConfig  `mapstructure:"memory"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport    string `mapstructure:"transport"`
	HTTPPort     int    `mapstructure:"http_port"`
	MaxDatasetMB int    `mapstructure:"max_dataset_mb"`
}

// SandboxConfig holds execution engine configuration
type SandboxConfig struct {
	ResultBinding string `mapstructure:"result_binding"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	MaxSteps      uint64 `mapstructure:"max_steps"`
	MaxStdoutKB   int    `mapstructure:"max_stdout_kb"`
}

// ChartConfig holds settings for the plotting handle
type ChartConfig struct {
	WidthInch  float64 `mapstructure:"width_inch"`
	HeightInch float64 `mapstructure:"height_inch"`
	MaxFigures int     `mapstructure:"max_figures"`
}

// MemoryConfig holds the per-dataset memory store configuration
type MemoryConfig struct {
	Backend        string      `mapstructure:"backend"`
	Dir            string      `mapstructure:"dir"`
	SQLitePath     string      `mapstructure:"sqlite_path"`
	MaxTurns       int         `mapstructure:"max_turns"`
	CodePreviewLen int         `mapstructure:"code_preview_len"`
	Redis          RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds connection settings for the redis memory backend
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// LLMConfig holds settings for the code-generation collaborator.
// An empty APIKey disables the ask_dataset tool.
type LLMConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	Temperature    float64 `mapstructure:"temperature"`
	HistoryTurns   int     `mapstructure:"history_turns"`
	EnableCritic   bool    `mapstructure:"enable_critic"`
	CriticMaxChars int     `mapstructure:"critic_max_chars"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// MetricsConfig holds the prometheus listener configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("EDABOX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	viper.SetDefault("server.transport", "stdio")
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.max_dataset_mb", 50)
	viper.SetDefault("sandbox.result_binding", "RESULT_TEXT")
	viper.SetDefault("sandbox.timeout_sec", 10)
	viper.SetDefault("sandbox.max_steps", 0)
	viper.SetDefault("sandbox.max_stdout_kb", 256)
	viper.SetDefault("chart.width_inch", 6.0)
	viper.SetDefault("chart.height_inch", 4.0)
	viper.SetDefault("chart.max_figures", 16)
	viper.SetDefault("memory.backend", "file")
	viper.SetDefault("memory.dir", ".cache")
	viper.SetDefault("memory.sqlite_path", ".cache/memory.db")
	viper.SetDefault("memory.max_turns", 50)
	viper.SetDefault("memory.code_preview_len", 2000)
	viper.SetDefault("memory.redis.addr", "localhost:6379")
	viper.SetDefault("memory.redis.db", 0)
	viper.SetDefault("memory.redis.key_prefix", "edabox:")
	viper.SetDefault("llm.base_url", "https://api.openai.com/v1/")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.0)
	viper.SetDefault("llm.history_turns", 5)
	viper.SetDefault("llm.enable_critic", false)
	viper.SetDefault("llm.critic_max_chars", 1200)
	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.port", 9090)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
//
//nolint:gocyclo // flat list of independent checks
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.MaxDatasetMB <= 0 {
		return fmt.Errorf("server.max_dataset_mb must be positive, got: %d", c.Server.MaxDatasetMB)
	}

	if c.Sandbox.ResultBinding == "" {
		return fmt.Errorf("sandbox.result_binding must not be empty")
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}

	if c.Sandbox.MaxStdoutKB <= 0 {
		return fmt.Errorf("sandbox.max_stdout_kb must be positive, got: %d", c.Sandbox.MaxStdoutKB)
	}

	if c.Chart.WidthInch <= 0 || c.Chart.HeightInch <= 0 {
		return fmt.Errorf("chart dimensions must be positive, got: %gx%g", c.Chart.WidthInch, c.Chart.HeightInch)
	}

	if c.Chart.MaxFigures <= 0 {
		return fmt.Errorf("chart.max_figures must be positive, got: %d", c.Chart.MaxFigures)
	}

	supportedBackends := map[string]bool{
		"memory": true,
		"file":   true,
		"redis":  true,
		"sqlite": true,
	}
	if !supportedBackends[c.Memory.Backend] {
		return fmt.Errorf("unsupported memory.backend: %s", c.Memory.Backend)
	}

	if c.Memory.MaxTurns <= 0 {
		return fmt.Errorf("memory.max_turns must be positive, got: %d", c.Memory.MaxTurns)
	}

	if c.Memory.CodePreviewLen < 0 {
		return fmt.Errorf("memory.code_preview_len must not be negative, got: %d", c.Memory.CodePreviewLen)
	}

	if c.LLM.HistoryTurns < 0 {
		return fmt.Errorf("llm.history_turns must not be negative, got: %d", c.LLM.HistoryTurns)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
		"dpanic": true, "panic": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		return fmt.Errorf("metrics.port must be positive when metrics are enabled, got: %d", c.Metrics.Port)
	}

	return nil
}

// GetTimeout returns the execution deadline as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}

// LLMEnabled reports whether the code-generation collaborator is configured
func (c *Config) LLMEnabled() bool {
	return c.LLM.APIKey != ""
}
