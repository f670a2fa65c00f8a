// Package orchestrator drives the deterministic, LLM-free scheduling loop:
// ask statuschecker.Checker what should happen next, run that one agent,
// repeat. Grounded on
// original_source/workflow_v2/src/text_to_sql_tree_orchestrator.py's
// process_query loop (max_steps=50/time_limit=300 defaults, step-by-step
// status-check-then-dispatch shape), replacing its AutoGen
// coordinator-agent-picks-a-tool design with the plain Go loop spec.md §2
// requires ("the orchestrator never picks an agent itself").
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/threefoldo/texttosql-go/internal/agent"
	"github.com/threefoldo/texttosql-go/internal/statuschecker"
)

// Config bounds one task's run: step count, wall-clock time, per-agent
// timeout, and the consecutive-parse-failure cap before giving up on a
// node. Defaults match the teacher's original max_steps=50/time_limit=300.
type Config struct {
	MaxSteps               int
	TimeLimit              time.Duration
	StepTimeout            time.Duration
	MaxConsecutiveFailures int
}

// DefaultConfig returns spec.md §4.13/§5's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxSteps:               50,
		TimeLimit:              300 * time.Second,
		StepTimeout:            60 * time.Second,
		MaxConsecutiveFailures: 3,
	}
}

// Summary reports how a Run ended, for CLI/batch reporting.
type Summary struct {
	Steps       int
	Completed   bool
	FinalReport string
}

// Orchestrator drives one task's agent.Context through the checker-nominate,
// agent-run cycle until TERMINATE or a budget is exhausted.
type Orchestrator struct {
	Config  Config
	Checker *statuschecker.Checker

	// agentFactory maps a checker nomination to the agent.Agent value to
	// run. Defaults to newAgentFor; overridable so orchestrator control flow
	// (budgets, failure counting, termination) can be tested against fake
	// agents without going through a real LLM/tool loop.
	agentFactory func(statuschecker.NextAgent) (agent.Agent, error)
}

// New creates an Orchestrator bound to checker with the given budgets.
func New(checker *statuschecker.Checker, cfg Config) *Orchestrator {
	return &Orchestrator{Config: cfg, Checker: checker, agentFactory: newAgentFor}
}

type failureKey struct {
	nodeID string
	agent  string
}

// Run drives ac's task from wherever it stands — an empty tree, or one
// already mid-flight — until the checker reports TERMINATE or a budget is
// exhausted. Every agent dispatched is whatever the checker nominates;
// Run itself makes no agent-selection decisions.
func (o *Orchestrator) Run(ctx context.Context, ac *agent.Context) (*Summary, error) {
	deadline := time.Now().Add(o.Config.TimeLimit)
	failures := map[failureKey]int{}
	summary := &Summary{}

	for {
		if summary.Steps >= o.Config.MaxSteps {
			return summary, fmt.Errorf("%w: reached %d steps", ErrBudgetExhausted, o.Config.MaxSteps)
		}
		if time.Now().After(deadline) {
			return summary, fmt.Errorf("%w: reached time limit %s", ErrBudgetExhausted, o.Config.TimeLimit)
		}

		result, err := o.Checker.Run()
		if err != nil {
			return summary, err
		}

		var target agent.Agent
		var nodeID string

		switch {
		case result.NoTreeYet:
			target = &agent.QueryAnalyzerAgent{}
		case result.Terminate || result.Next == statuschecker.AgentNone:
			summary.Completed = true
			summary.FinalReport = result.Report
			return summary, nil
		default:
			nodeID, err = ac.Tree.GetCurrentNodeID()
			if err != nil {
				return summary, err
			}
			target, err = o.agentFactory(result.Next)
			if err != nil {
				return summary, err
			}
		}

		stepAC := ac
		if nodeID != "" {
			stepAC = ac.WithNode(nodeID)
		}

		stepCtx, cancel := context.WithTimeout(ctx, o.Config.StepTimeout)
		runErr := agent.Run(stepCtx, stepAC, target)
		cancel()
		summary.Steps++

		key := failureKey{nodeID: nodeID, agent: target.Name()}
		if runErr != nil {
			if errors.Is(runErr, agent.ErrMalformedOutput) {
				failures[key]++
				if failures[key] >= o.Config.MaxConsecutiveFailures {
					return summary, fmt.Errorf("%w: %s on node %q failed %d consecutive times: %v",
						ErrAgentOutputMalformed, target.Name(), nodeID, failures[key], runErr)
				}
				continue
			}
			if errors.Is(runErr, context.DeadlineExceeded) {
				// The step's own context timed out, not the agent's output being
				// bad. Don't count it as a parse failure against the node; let
				// the checker re-examine the tree and re-dispatch next step.
				continue
			}
			return summary, runErr
		}
		failures[key] = 0
	}
}

// newAgentFor is the production checker-nomination -> agent.Agent mapping.
func newAgentFor(next statuschecker.NextAgent) (agent.Agent, error) {
	switch next {
	case statuschecker.AgentQueryAnalyzer:
		return &agent.QueryAnalyzerAgent{}, nil
	case statuschecker.AgentSchemaLinker:
		return &agent.SchemaLinkerAgent{}, nil
	case statuschecker.AgentSQLGenerator:
		return &agent.SQLGeneratorAgent{}, nil
	case statuschecker.AgentSQLEvaluator:
		return &agent.SQLEvaluatorAgent{}, nil
	default:
		return nil, fmt.Errorf("orchestrator: no agent mapped for nomination %q", next)
	}
}
