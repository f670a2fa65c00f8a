// Package llm wraps langchaingo's openai client construction. Teacher's
// internal/llm/config.go bundled this together with a package-level config
// singleton (init()-time panic if llm_config.json was missing); that loading
// concern now lives in internal/config, and this package only builds the
// llms.Model value once a config.LLMModelConfig is in hand.
package llm

import (
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/threefoldo/texttosql-go/internal/config"
)

// CreateLLM builds a langchaingo llms.Model from a resolved model config.
func CreateLLM(model config.LLMModelConfig) (llms.Model, error) {
	return openai.New(
		openai.WithModel(model.ModelName),
		openai.WithToken(model.Token),
		openai.WithBaseURL(model.BaseURL),
	)
}

// CreateLLMByName loads the named model out of cfg and builds it, the
// common case for cmd/texttosql's --model flag.
func CreateLLMByName(cfg *config.Config, name string) (llms.Model, error) {
	model, err := cfg.Model(name)
	if err != nil {
		return nil, err
	}
	return CreateLLM(model)
}
