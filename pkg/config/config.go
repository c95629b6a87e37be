package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rahul/novaflow/internal/governance"
)

type Config struct {
	App       AppConfig                 `json:"app" yaml:"app"`
	Gateways  map[string]GatewayConfig  `json:"gateways" yaml:"gateways"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Memory    MemoryConfig              `json:"memory" yaml:"memory"`
	Engine    EngineConfig              `json:"engine" yaml:"engine"`
	History   HistoryConfig             `json:"history" yaml:"history"`
	Policy    PolicyConfig              `json:"policy" yaml:"policy"`
	Metrics   MetricsConfig             `json:"metrics" yaml:"metrics"`
}

type AppConfig struct {
	Name       string `json:"name" yaml:"name"`
	Workspace  string `json:"workspace" yaml:"workspace"`
	PromptsDir string `json:"prompts_dir" yaml:"prompts_dir"`
}

type GatewayConfig struct {
	Token   string `json:"token" yaml:"token"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

type ProviderConfig struct {
	APIKey         string `json:"api_key" yaml:"api_key"`
	Model          string `json:"model" yaml:"model"`
	BaseURL        string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	EmbeddingModel string `json:"embedding_model,omitempty" yaml:"embedding_model,omitempty"`
	Enabled        bool   `json:"enabled" yaml:"enabled"`
}

type MemoryConfig struct {
	Type string `json:"type" yaml:"type"`
	Path string `json:"path" yaml:"path"`
	// VectorPath is the chromem persistence directory; empty keeps vectors
	// in memory only.
	VectorPath string `json:"vector_path" yaml:"vector_path"`
}

type EngineConfig struct {
	Workers               int     `json:"workers" yaml:"workers"`
	StepTimeoutSeconds    int     `json:"step_timeout_seconds" yaml:"step_timeout_seconds"`
	ReplanTimeoutSeconds  int     `json:"replan_timeout_seconds" yaml:"replan_timeout_seconds"`
	ConfirmTimeoutSeconds int     `json:"confirm_timeout_seconds" yaml:"confirm_timeout_seconds"`
	MaxPlanSteps          int     `json:"max_plan_steps" yaml:"max_plan_steps"`
	StrategyThreshold     float64 `json:"strategy_threshold" yaml:"strategy_threshold"`
	RecallLimit           int     `json:"recall_limit" yaml:"recall_limit"`
	SchedulerPollSeconds  int     `json:"scheduler_poll_seconds" yaml:"scheduler_poll_seconds"`
}

type HistoryConfig struct {
	MaxTurns      int `json:"max_turns" yaml:"max_turns"`
	RecentKeep    int `json:"recent_keep" yaml:"recent_keep"`
	ImportantKeep int `json:"important_keep" yaml:"important_keep"`
}

type PolicyConfig struct {
	// Tiers overrides capability classifications: read, write_reversible
	// or write_irreversible.
	Tiers        map[string]string `json:"tiers" yaml:"tiers"`
	DenyTools    []string          `json:"deny_tools" yaml:"deny_tools"`
	DenyPatterns []string          `json:"deny_patterns" yaml:"deny_patterns"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// Load reads a JSON or YAML config file, chosen by extension. Tokens and API
// keys written as ${VAR} are read from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	cfg.expandSecrets()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig is Load for callers that cannot run without a config.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

func (c *Config) expandSecrets() {
	for name, g := range c.Gateways {
		g.Token = fromEnv(g.Token)
		c.Gateways[name] = g
	}
	for name, p := range c.Providers {
		p.APIKey = fromEnv(p.APIKey)
		c.Providers[name] = p
	}
}

func fromEnv(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "novaflow"
	}
	if c.App.Workspace == "" {
		c.App.Workspace = "./workspace"
	}
	if c.App.PromptsDir == "" {
		c.App.PromptsDir = "./prompts"
	}
	if c.Memory.Type == "" {
		c.Memory.Type = "sqlite"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = "novaflow.db"
	}
	e := &c.Engine
	setInt(&e.Workers, 4)
	setInt(&e.StepTimeoutSeconds, 60)
	setInt(&e.ReplanTimeoutSeconds, 20)
	setInt(&e.ConfirmTimeoutSeconds, 120)
	setInt(&e.MaxPlanSteps, 7)
	setInt(&e.RecallLimit, 3)
	setInt(&e.SchedulerPollSeconds, 30)
	if e.StrategyThreshold == 0 {
		e.StrategyThreshold = 0.75
	}
	setInt(&c.History.MaxTurns, 20)
	setInt(&c.History.RecentKeep, 10)
	setInt(&c.History.ImportantKeep, 5)
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9464"
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func (c *Config) validate() error {
	var problems []string
	e := c.Engine
	if e.Workers < 0 || e.StepTimeoutSeconds < 0 || e.ReplanTimeoutSeconds < 0 || e.ConfirmTimeoutSeconds < 0 {
		problems = append(problems, "engine workers and timeouts must be positive")
	}
	if e.MaxPlanSteps < 0 || e.RecallLimit < 0 || e.SchedulerPollSeconds < 0 {
		problems = append(problems, "engine limits must be positive")
	}
	if e.StrategyThreshold < 0 || e.StrategyThreshold > 1 {
		problems = append(problems, fmt.Sprintf("engine.strategy_threshold %v outside [0, 1]", e.StrategyThreshold))
	}
	h := c.History
	if h.MaxTurns < 0 || h.RecentKeep < 0 || h.ImportantKeep < 0 {
		problems = append(problems, "history limits must be positive")
	}
	for name, tier := range c.Policy.Tiers {
		if _, err := governance.ParseTier(tier); err != nil {
			problems = append(problems, fmt.Sprintf("policy.tiers.%s: %v", name, err))
		}
	}
	for _, p := range c.Policy.DenyPatterns {
		if _, err := regexp.Compile(p); err != nil {
			problems = append(problems, fmt.Sprintf("policy.deny_patterns %q: %v", p, err))
		}
	}
	for name, g := range c.Gateways {
		if g.Enabled && g.Token == "" {
			problems = append(problems, fmt.Sprintf("gateways.%s is enabled without a token", name))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (e EngineConfig) StepTimeout() time.Duration {
	return time.Duration(e.StepTimeoutSeconds) * time.Second
}

func (e EngineConfig) ReplanTimeout() time.Duration {
	return time.Duration(e.ReplanTimeoutSeconds) * time.Second
}

func (e EngineConfig) ConfirmTimeout() time.Duration {
	return time.Duration(e.ConfirmTimeoutSeconds) * time.Second
}

func (e EngineConfig) SchedulerPoll() time.Duration {
	return time.Duration(e.SchedulerPollSeconds) * time.Second
}

// GetDefaultProvider returns the first enabled provider in name order.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	var best string
	for name, p := range c.Providers {
		if p.Enabled && (best == "" || name < best) {
			best = name
		}
	}
	if best == "" {
		return "", ProviderConfig{}
	}
	return best, c.Providers[best]
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	return c.gateway("telegram")
}

// GetDiscordConfig returns discord config if enabled
func (c *Config) GetDiscordConfig() (GatewayConfig, bool) {
	return c.gateway("discord")
}

func (c *Config) gateway(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled && g.Token != "" {
		return g, true
	}
	return GatewayConfig{}, false
}
