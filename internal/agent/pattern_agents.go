package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/threefoldo/texttosql-go/internal/pattern"
)

// patternAgentTypes lists the rule buckets both pattern agents may write
// to, in the fixed order their XML output sections appear.
var patternAgentTypes = []pattern.AgentType{
	pattern.AgentQueryAnalyzer,
	pattern.AgentSchemaLinker,
	pattern.AgentSQLGenerator,
}

// SuccessPatternAgent distills a DO rule for each specialist agent whose
// work contributed to a node evaluated excellent/good with
// answers_intent=yes. Invoked by SQLEvaluatorAgent right after it writes a
// good outcome. Grounded on
// original_source/workflow_v2/tests/test_failure_pattern_agent.py's shape,
// mirrored for the success case, and on pattern.Manager.UpdateRulesFromSuccess.
type SuccessPatternAgent struct{}

func (a *SuccessPatternAgent) Name() string { return "SuccessPatternAgent" }

func (a *SuccessPatternAgent) SystemPrompt() string {
	return `You study a SQL generation that succeeded and distill ONE reusable DO rule
per agent stage that contributed to it, so future runs repeat the good
decision. Skip a stage if nothing about it was notable.

Output in exactly this format:

<analysis>
  <query_analyzer do_rule="optional — a reusable decomposition/intent insight"/>
  <schema_linker do_rule="optional — a reusable table/column/join choice"/>
  <sql_generator do_rule="optional — a reusable SQL construction technique"/>
</analysis>`
}

func (a *SuccessPatternAgent) ReaderContext(ctx context.Context, ac *Context) (string, error) {
	return buildPatternReaderContext(ac, "excellent/good")
}

func (a *SuccessPatternAgent) Invoke(ctx context.Context, ac *Context, userMessage string) (string, error) {
	return ac.LLM.Call(ctx, a.SystemPrompt()+"\n\n"+userMessage)
}

func (a *SuccessPatternAgent) ParseAndWrite(ctx context.Context, ac *Context, rawOutput string) error {
	analysis := parsePatternAnalysis(rawOutput, "do_rule")
	return ac.Patterns.UpdateRulesFromSuccess(analysis)
}

// FailurePatternAgent distills a DON'T rule per agent stage responsible for
// a node evaluated poor/failed (or answers_intent != yes). Invoked by
// SQLEvaluatorAgent right after it writes a bad outcome.
type FailurePatternAgent struct{}

func (a *FailurePatternAgent) Name() string { return "FailurePatternAgent" }

func (a *FailurePatternAgent) SystemPrompt() string {
	return `You study a SQL generation that failed or gave a poor/partial result and
distill ONE reusable DON'T rule per agent stage responsible, so future runs
avoid the same mistake. Skip a stage that wasn't at fault.

Output in exactly this format:

<analysis>
  <query_analyzer dont_rule="optional — a decomposition/intent mistake to avoid"/>
  <schema_linker dont_rule="optional — a wrong table/column/join choice to avoid"/>
  <sql_generator dont_rule="optional — a SQL construction mistake to avoid"/>
</analysis>`
}

func (a *FailurePatternAgent) ReaderContext(ctx context.Context, ac *Context) (string, error) {
	return buildPatternReaderContext(ac, "poor/failed")
}

func (a *FailurePatternAgent) Invoke(ctx context.Context, ac *Context, userMessage string) (string, error) {
	return ac.LLM.Call(ctx, a.SystemPrompt()+"\n\n"+userMessage)
}

func (a *FailurePatternAgent) ParseAndWrite(ctx context.Context, ac *Context, rawOutput string) error {
	analysis := parsePatternAnalysis(rawOutput, "dont_rule")
	return ac.Patterns.UpdateRulesFromFailure(analysis)
}

// buildPatternReaderContext renders the node's full generation/evaluation
// trail — both pattern agents need the same inputs, just different
// judgments drawn from them.
func buildPatternReaderContext(ac *Context, outcomeLabel string) (string, error) {
	node, ok, err := ac.Tree.GetNode(ac.NodeID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("pattern agent: node %q not found", ac.NodeID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Outcome bucket: %s\n", outcomeLabel)
	fmt.Fprintf(&b, "Intent: %s\n", node.Intent)
	if node.Evidence != "" {
		fmt.Fprintf(&b, "Evidence: %s\n", node.Evidence)
	}
	if node.SchemaLinking != nil {
		fmt.Fprintf(&b, "\nSchema linking chosen: tables=%s\n", strings.Join(node.SchemaLinking.Tables, ", "))
		for _, c := range node.SchemaLinking.Columns {
			fmt.Fprintf(&b, "  column: %s.%s (%s)\n", c.Table, c.Column, c.Usage)
		}
	}
	if node.Generation != nil {
		fmt.Fprintf(&b, "\nGenerated SQL: %s\n", node.Generation.SQL)
		if node.Generation.Explanation != "" {
			fmt.Fprintf(&b, "Generator's explanation: %s\n", node.Generation.Explanation)
		}
	}
	if node.Evaluation != nil {
		fmt.Fprintf(&b, "\nEvaluation: answers_intent=%s, result_quality=%s\n", node.Evaluation.AnswersIntent, node.Evaluation.ResultQuality)
		if len(node.Evaluation.Issues) > 0 {
			fmt.Fprintf(&b, "Issues: %s\n", strings.Join(node.Evaluation.Issues, "; "))
		}
		if len(node.Evaluation.Suggestions) > 0 {
			fmt.Fprintf(&b, "Suggestions: %s\n", strings.Join(node.Evaluation.Suggestions, "; "))
		}
	}
	if node.Decomposition != nil {
		fmt.Fprintf(&b, "\nCombination strategy: %s\n", node.Decomposition.JoinStrategy)
	}
	return b.String(), nil
}

// parsePatternAnalysis extracts each <agentType field="rule"/> self-closing
// tag into an Analysis keyed by pattern.AgentType, under a "field_N" key
// (N is the tag's occurrence index for that agent, 1-based) so
// pattern.Manager's prefix-matching applyRulesFromAnalysis — which looks
// for keys starting with "do_rule_"/"dont_rule_" — picks it up.
func parsePatternAnalysis(rawOutput, field string) pattern.Analysis {
	rules := make(map[pattern.AgentType]map[string]string, len(patternAgentTypes))
	for _, agentType := range patternAgentTypes {
		attrs := extractSelfClosingAttrs(rawOutput, string(agentType))
		n := 0
		for _, a := range attrs {
			if rule := strings.TrimSpace(a[field]); rule != "" {
				n++
				if rules[agentType] == nil {
					rules[agentType] = map[string]string{}
				}
				rules[agentType][fmt.Sprintf("%s_%d", field, n)] = rule
			}
		}
	}
	return pattern.Analysis{AgentRules: rules}
}
