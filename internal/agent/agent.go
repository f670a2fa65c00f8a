// Package agent implements the four specialist agents and two pattern
// agents named in spec, plus the tool set SQLGeneratorAgent exposes to the
// model. Every agent is a value holding configuration and prompt strings —
// no inheritance tree — matching the Agent interface below instead of
// the source's common agent base class.
package agent

import (
	"context"
	"errors"
	"fmt"
)

// ErrMalformedOutput is returned by ParseAndWrite when the model's raw
// output does not conform to the agent's expected grammar. ParseAndWrite
// writes nothing in that case; the caller (orchestrator) counts the failure
// and re-dispatches the same agent — no heuristic recovery is attempted here.
var ErrMalformedOutput = errors.New("agent: malformed output")

// Agent is the uniform interface every specialist and pattern agent
// implements: build a system prompt, gather the prompt inputs from shared
// memory, invoke the model, and parse+write the result back to memory.
type Agent interface {
	// Name identifies the agent for logging, history, and error wrapping.
	Name() string

	// SystemPrompt is the agent's fixed instructions to the model.
	SystemPrompt() string

	// ReaderContext gathers prompt inputs from ac's managers for ac.NodeID
	// and renders them into the user message the model will see.
	ReaderContext(ctx context.Context, ac *Context) (string, error)

	// Invoke calls the model with the system prompt and user message and
	// returns its raw text output.
	Invoke(ctx context.Context, ac *Context, userMessage string) (string, error)

	// ParseAndWrite parses rawOutput against the agent's grammar and, on
	// success, writes the result to ac's managers for ac.NodeID. On parse
	// failure it returns an error wrapping ErrMalformedOutput and writes
	// nothing.
	ParseAndWrite(ctx context.Context, ac *Context, rawOutput string) error
}

// Run drives one full agent cycle: gather context, invoke the model, parse
// and write. It is the single call site the orchestrator uses for every
// agent, so every agent is exercised identically regardless of its
// internal shape.
func Run(ctx context.Context, ac *Context, a Agent) error {
	userMessage, err := a.ReaderContext(ctx, ac)
	if err != nil {
		return fmt.Errorf("%s: reader context: %w", a.Name(), err)
	}

	raw, err := a.Invoke(ctx, ac, userMessage)
	if err != nil {
		return fmt.Errorf("%s: invoke: %w", a.Name(), err)
	}

	if err := a.ParseAndWrite(ctx, ac, raw); err != nil {
		return fmt.Errorf("%s: %w", a.Name(), err)
	}
	return nil
}
