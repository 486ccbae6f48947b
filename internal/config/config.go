// Package config loads configuration from config.yaml and the environment.
// YAML describes topology (paths, addresses, windows); secrets come only
// from environment variables, processed after the file so env wins.
package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"churnpilot/internal/logger"
)

// Config holds all assistant configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	Memory  MemoryConfig  `yaml:"memory"`
	Agent   AgentConfig   `yaml:"agent"`
	Session SessionConfig `yaml:"session"`
	Log     logger.Config `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr" envconfig:"SERVER_ADDR"`
}

// DataConfig locates the read-only customer data set.
type DataConfig struct {
	Dir string `yaml:"dir" envconfig:"DATA_DIR"`
}

// MemoryConfig holds conversation memory settings.
type MemoryConfig struct {
	DBPath string `yaml:"db_path" envconfig:"MEMORY_DB_PATH"`
}

// AgentConfig configures the decision agent and evaluator.
type AgentConfig struct {
	Provider      string  `yaml:"provider" envconfig:"AGENT_PROVIDER"` // openai, ollama, ark, deepseek
	Model         string  `yaml:"model" envconfig:"AGENT_MODEL"`
	BaseURL       string  `yaml:"base_url" envconfig:"AGENT_BASE_URL"`
	APIKey        string  `yaml:"-" envconfig:"OPENAI_API_KEY"`
	MaxTokens     int     `yaml:"max_tokens" envconfig:"AGENT_MAX_TOKENS"`
	Temperature   float64 `yaml:"temperature" envconfig:"AGENT_TEMPERATURE"`
	MaxSteps      int     `yaml:"max_steps" envconfig:"AGENT_MAX_STEPS"`
	MaxRetries    int     `yaml:"max_retries" envconfig:"AGENT_MAX_RETRIES"`
	HistoryWindow int     `yaml:"history_window" envconfig:"AGENT_HISTORY_WINDOW"`
}

// SessionConfig controls the runtime session registry.
type SessionConfig struct {
	Backend    string `yaml:"backend" envconfig:"SESSION_BACKEND"` // memory or redis
	TTLSeconds int    `yaml:"ttl_seconds" envconfig:"SESSION_TTL_SECONDS"`
	RedisURL   string `yaml:"-" envconfig:"REDIS_URL"`
}

// Load reads the YAML file (if present) and applies environment overrides.
func Load(path string) (*Config, error) {
	var config Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("error parsing YAML: %w", err)
		}
	}

	if err := envconfig.Process("", &config); err != nil {
		return nil, fmt.Errorf("error processing environment configuration: %w", err)
	}

	config.applyDefaults()

	if config.Agent.MaxRetries < 0 {
		return nil, fmt.Errorf("agent.max_retries cannot be negative")
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Data.Dir == "" {
		c.Data.Dir = "data"
	}
	if c.Memory.DBPath == "" {
		c.Memory.DBPath = "chat_memory.db"
	}
	if c.Agent.Provider == "" {
		c.Agent.Provider = "openai"
	}
	if c.Agent.Model == "" {
		c.Agent.Model = "gpt-4o-mini"
	}
	if c.Agent.MaxTokens == 0 {
		c.Agent.MaxTokens = 1500
	}
	if c.Agent.Temperature == 0 {
		c.Agent.Temperature = 0.3
	}
	if c.Agent.MaxSteps == 0 {
		c.Agent.MaxSteps = 10
	}
	if c.Agent.MaxRetries == 0 {
		c.Agent.MaxRetries = 2
	}
	if c.Agent.HistoryWindow == 0 {
		c.Agent.HistoryWindow = 5
	}
	if c.Session.Backend == "" {
		c.Session.Backend = "memory"
	}
	if c.Session.TTLSeconds == 0 {
		c.Session.TTLSeconds = 2400
	}
}
