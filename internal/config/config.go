// Package config replaces teacher's internal/llm/config.go package-level
// config singleton and init()-panic loading with an explicit Loader: callers
// decide when and where to load, and the result is passed around as a value
// instead of read from a global. Grounded on teacher's llm_config.json file
// format (per-model model_name/token/base_url/reasoning_effort entries) plus
// a sibling orchestrator_config.json for the step/time budgets that
// internal/orchestrator.Config exposes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/threefoldo/texttosql-go/internal/orchestrator"
)

// LLMModelConfig is one named model's connection details, same shape as
// teacher's ModelConfig.
type LLMModelConfig struct {
	ModelName       string `json:"model_name"`
	Token           string `json:"token"`
	BaseURL         string `json:"base_url"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
}

// LLMConfigFile is the llm_config.json document: an open set of named
// models rather than teacher's fixed struct fields, so any model name can be
// added without a code change.
type LLMConfigFile map[string]LLMModelConfig

// orchestratorConfigFile is orchestrator_config.json's on-disk shape. Zero
// values mean "use the default" — see loadOrchestratorConfig.
type orchestratorConfigFile struct {
	MaxSteps               int    `json:"max_steps"`
	TimeLimit              string `json:"time_limit"`
	StepTimeout            string `json:"step_timeout"`
	MaxConsecutiveFailures int    `json:"max_attempts"`
}

// Config is everything the CLI needs to build an agent.Context and an
// orchestrator.Orchestrator.
type Config struct {
	Models       LLMConfigFile
	Orchestrator orchestrator.Config
}

// EnvTokenOverride is the one environment variable spec.md §6 allows to
// override the configured LLM token, without touching llm_config.json.
const EnvTokenOverride = "TEXTTOSQL_LLM_TOKEN"

// Loader locates and parses llm_config.json / orchestrator_config.json.
// Unlike teacher's package-level init(), nothing is loaded until Load is
// called explicitly.
type Loader struct {
	// SearchPaths are directories tried in order for both config files,
	// mirroring teacher's "llm_config.json", "../llm_config.json",
	// "../../llm_config.json" fallback chain.
	SearchPaths []string
}

// NewLoader returns a Loader with teacher's three-level search path.
func NewLoader() *Loader {
	return &Loader{SearchPaths: []string{".", "..", "../.."}}
}

// Load reads llm_config.json (required) and orchestrator_config.json
// (optional; defaults apply if absent), applying the EnvTokenOverride to
// every model entry if set.
func (l *Loader) Load() (*Config, error) {
	models, err := l.loadLLMConfig()
	if err != nil {
		return nil, err
	}

	if override := os.Getenv(EnvTokenOverride); override != "" {
		for name, m := range models {
			m.Token = override
			models[name] = m
		}
	}

	orchCfg, err := l.loadOrchestratorConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Models: models, Orchestrator: orchCfg}, nil
}

func (l *Loader) loadLLMConfig() (LLMConfigFile, error) {
	data, err := l.readFirst("llm_config.json")
	if err != nil {
		return nil, fmt.Errorf("config: llm_config.json not found in %v: %w", l.SearchPaths, err)
	}
	var models LLMConfigFile
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("config: parsing llm_config.json: %w", err)
	}
	return models, nil
}

func (l *Loader) loadOrchestratorConfig() (orchestrator.Config, error) {
	cfg := orchestrator.DefaultConfig()

	data, err := l.readFirst("orchestrator_config.json")
	if err != nil {
		// Optional file: absence just means defaults.
		return cfg, nil
	}

	var file orchestratorConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("config: parsing orchestrator_config.json: %w", err)
	}

	if file.MaxSteps > 0 {
		cfg.MaxSteps = file.MaxSteps
	}
	if file.MaxConsecutiveFailures > 0 {
		cfg.MaxConsecutiveFailures = file.MaxConsecutiveFailures
	}
	if file.TimeLimit != "" {
		d, err := time.ParseDuration(file.TimeLimit)
		if err != nil {
			return cfg, fmt.Errorf("config: orchestrator_config.json time_limit: %w", err)
		}
		cfg.TimeLimit = d
	}
	if file.StepTimeout != "" {
		d, err := time.ParseDuration(file.StepTimeout)
		if err != nil {
			return cfg, fmt.Errorf("config: orchestrator_config.json step_timeout: %w", err)
		}
		cfg.StepTimeout = d
	}

	return cfg, nil
}

func (l *Loader) readFirst(filename string) ([]byte, error) {
	var lastErr error
	for _, dir := range l.SearchPaths {
		path := dir + "/" + filename
		data, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
			continue
		}
		return data, nil
	}
	return nil, lastErr
}

// Model looks up a named model, returning an error naming what's missing
// rather than a nil/zero-value config silently reaching openai.New.
func (c *Config) Model(name string) (LLMModelConfig, error) {
	m, ok := c.Models[name]
	if !ok {
		return LLMModelConfig{}, fmt.Errorf("config: no model named %q in llm_config.json", name)
	}
	return m, nil
}
