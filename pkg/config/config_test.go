package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_JSONDefaults(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"gateways": {"telegram": {"token": "abc", "enabled": true}},
		"providers": {"openai": {"api_key": "k", "model": "gpt-4o-mini", "enabled": true}}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.Workers != 4 || cfg.Engine.StepTimeout() != time.Minute || cfg.Engine.StrategyThreshold != 0.75 {
		t.Errorf("engine defaults = %+v", cfg.Engine)
	}
	if cfg.History.MaxTurns != 20 || cfg.History.RecentKeep != 10 || cfg.History.ImportantKeep != 5 {
		t.Errorf("history defaults = %+v", cfg.History)
	}
	if tg, ok := cfg.GetTelegramConfig(); !ok || tg.Token != "abc" {
		t.Errorf("telegram = %+v, %v", tg, ok)
	}
	if _, ok := cfg.GetDiscordConfig(); ok {
		t.Error("discord enabled without config")
	}
	if name, p := cfg.GetDefaultProvider(); name != "openai" || p.Model != "gpt-4o-mini" {
		t.Errorf("provider = %s %+v", name, p)
	}
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("NOVAFLOW_TEST_KEY", "secret")
	path := writeFile(t, "config.yaml", `
app:
  workspace: /tmp/ws
providers:
  openrouter:
    api_key: "${NOVAFLOW_TEST_KEY}"
    model: some/model
    enabled: true
engine:
  workers: 8
  replan_timeout_seconds: 5
policy:
  tiers:
    calendar: WRITE-IRREVERSIBLE
  deny_tools: [shell]
  deny_patterns: ['rm\s+-rf']
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.Workspace != "/tmp/ws" || cfg.Engine.Workers != 8 || cfg.Engine.ReplanTimeout() != 5*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if _, p := cfg.GetDefaultProvider(); p.APIKey != "secret" {
		t.Errorf("api key = %q, want expanded env", p.APIKey)
	}
	if cfg.Policy.Tiers["calendar"] != "WRITE-IRREVERSIBLE" || len(cfg.Policy.DenyTools) != 1 {
		t.Errorf("policy = %+v", cfg.Policy)
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"gateways": {"discord": {"enabled": true}},
		"engine": {"strategy_threshold": 1.5},
		"policy": {"tiers": {"shell": "dangerous"}, "deny_patterns": ["("]}
	}`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load accepted an invalid config")
	}
	for _, want := range []string{"strategy_threshold", "policy.tiers.shell", "deny_patterns", "gateways.discord"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Load of a missing file succeeded")
	}
}
