package agent

import (
	"context"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// ReActStep is one collected iteration of SQLGeneratorAgent's tool-calling
// loop: the action taken and the observation it produced. Adapted from
// internal/inference/react_handler.go's CollectedStep, trimmed to the
// fields the generation history actually needs.
type ReActStep struct {
	Step        int       `json:"step"`
	Action      string    `json:"action"`
	ActionInput string    `json:"actionInput"`
	Observation string    `json:"observation"`
	Timestamp   time.Time `json:"timestamp"`
}

// reactStepCollector is a langchaingo callbacks.Handler that records every
// action/observation pair from a ZeroShotReactDescription executor run;
// SQLGeneratorAgent keeps the collected steps in its LastSteps field.
// Grounded on PrettyReActHandler, stripped of its console-printing and
// streaming-notifier concerns since nothing here is interactive.
type reactStepCollector struct {
	mu    sync.Mutex
	steps []ReActStep
}

func newReActStepCollector() *reactStepCollector {
	return &reactStepCollector{}
}

func (h *reactStepCollector) Steps() []ReActStep {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ReActStep(nil), h.steps...)
}

func (h *reactStepCollector) HandleText(context.Context, string)                                {}
func (h *reactStepCollector) HandleLLMStart(context.Context, []string)                           {}
func (h *reactStepCollector) HandleLLMGenerateContentStart(context.Context, []llms.MessageContent) {}
func (h *reactStepCollector) HandleLLMGenerateContentEnd(context.Context, *llms.ContentResponse)  {}
func (h *reactStepCollector) HandleLLMError(context.Context, error)                              {}
func (h *reactStepCollector) HandleChainStart(context.Context, map[string]any)                   {}
func (h *reactStepCollector) HandleChainEnd(context.Context, map[string]any)                     {}
func (h *reactStepCollector) HandleChainError(context.Context, error)                            {}
func (h *reactStepCollector) HandleToolStart(context.Context, string)                            {}

func (h *reactStepCollector) HandleToolEnd(_ context.Context, output string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.steps); n > 0 {
		h.steps[n-1].Observation = output
	}
}

func (h *reactStepCollector) HandleToolError(_ context.Context, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.steps); n > 0 {
		h.steps[n-1].Observation = "Error: " + err.Error()
	}
}

func (h *reactStepCollector) HandleAgentAction(_ context.Context, action schema.AgentAction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.steps = append(h.steps, ReActStep{
		Step:        len(h.steps) + 1,
		Action:      action.Tool,
		ActionInput: action.ToolInput,
		Timestamp:   time.Now(),
	})
}

func (h *reactStepCollector) HandleAgentFinish(context.Context, schema.AgentFinish)           {}
func (h *reactStepCollector) HandleRetrieverStart(context.Context, string)                    {}
func (h *reactStepCollector) HandleRetrieverEnd(context.Context, string, []schema.Document)   {}
func (h *reactStepCollector) HandleStreamingFunc(context.Context, []byte)                     {}
