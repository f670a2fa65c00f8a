package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadAppliesDefaultsWhenOrchestratorConfigAbsent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "llm_config.json", `{
		"deepseek_v3": {"model_name": "deepseek-chat", "token": "tok", "base_url": "https://example.com"}
	}`)

	l := &Loader{SearchPaths: []string{dir}}
	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Orchestrator.MaxSteps != 50 {
		t.Fatalf("expected default MaxSteps=50, got %d", cfg.Orchestrator.MaxSteps)
	}
	if cfg.Orchestrator.TimeLimit != 300*time.Second {
		t.Fatalf("expected default TimeLimit=300s, got %s", cfg.Orchestrator.TimeLimit)
	}

	model, err := cfg.Model("deepseek_v3")
	if err != nil {
		t.Fatalf("Model: %v", err)
	}
	if model.Token != "tok" {
		t.Fatalf("expected token 'tok', got %q", model.Token)
	}
}

func TestLoadOverridesTokenFromEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "llm_config.json", `{
		"deepseek_v3": {"model_name": "deepseek-chat", "token": "file-token", "base_url": "https://example.com"},
		"qwen_max": {"model_name": "qwen-max", "token": "file-token-2", "base_url": "https://example.com"}
	}`)

	t.Setenv(EnvTokenOverride, "env-token")

	l := &Loader{SearchPaths: []string{dir}}
	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	for name, m := range cfg.Models {
		if m.Token != "env-token" {
			t.Fatalf("model %q: expected env override 'env-token', got %q", name, m.Token)
		}
	}
}

func TestLoadParsesOrchestratorConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "llm_config.json", `{"deepseek_v3": {"model_name": "m", "token": "t", "base_url": "u"}}`)
	writeFile(t, dir, "orchestrator_config.json", `{
		"max_steps": 10,
		"time_limit": "30s",
		"step_timeout": "5s",
		"max_attempts": 2
	}`)

	l := &Loader{SearchPaths: []string{dir}}
	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Orchestrator.MaxSteps != 10 {
		t.Fatalf("expected MaxSteps=10, got %d", cfg.Orchestrator.MaxSteps)
	}
	if cfg.Orchestrator.TimeLimit != 30*time.Second {
		t.Fatalf("expected TimeLimit=30s, got %s", cfg.Orchestrator.TimeLimit)
	}
	if cfg.Orchestrator.StepTimeout != 5*time.Second {
		t.Fatalf("expected StepTimeout=5s, got %s", cfg.Orchestrator.StepTimeout)
	}
	if cfg.Orchestrator.MaxConsecutiveFailures != 2 {
		t.Fatalf("expected MaxConsecutiveFailures=2, got %d", cfg.Orchestrator.MaxConsecutiveFailures)
	}
}

func TestLoadSearchesPathsInOrder(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeFile(t, second, "llm_config.json", `{"deepseek_v3": {"model_name": "m", "token": "t", "base_url": "u"}}`)

	l := &Loader{SearchPaths: []string{first, second}}
	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := cfg.Model("deepseek_v3"); err != nil {
		t.Fatalf("expected model found via second search path: %v", err)
	}
}

func TestModelErrorsOnUnknownName(t *testing.T) {
	cfg := &Config{Models: LLMConfigFile{}}
	if _, err := cfg.Model("nonexistent"); err == nil {
		t.Fatalf("expected error for unknown model name")
	}
}
