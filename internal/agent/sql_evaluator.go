package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/threefoldo/texttosql-go/internal/querytree"
)

// SQLEvaluatorAgent executes a node's generated SQL (or reuses a result
// already captured during generation) and judges whether it answers the
// node's intent. Grounded on
// original_source/workflow_v2/src/prompts/sql_evaluator_prompts.py's
// quality rubric (excellent/good/poor/failed, NULLs not inherently a
// quality hit) and original_source/workflow_v2/src/sql_executor_agent.py
// for the execute-then-evaluate flow.
type SQLEvaluatorAgent struct{}

func (a *SQLEvaluatorAgent) Name() string { return "SQLEvaluatorAgent" }

func (a *SQLEvaluatorAgent) SystemPrompt() string {
	return `You are a SQL result evaluator for text-to-SQL conversion. You are given a
question's intent, the SQL that was generated, and its actual execution
result (or an execution error). Judge whether the result answers the
intent.

Quality rubric:
- excellent: correct columns, correct values, simplest SQL that works
- good: correct logic and intent, minor formatting or over-engineering
- poor: wrong column structure, wrong logic, or doesn't fulfill the intent
- failed: the SQL did not execute

NULL values in result columns are often the correct answer (missing data is
real data) — do not downgrade quality solely because of NULLs unless the
query explicitly asked to exclude them or a NULL appears somewhere
structurally wrong (e.g. inside a COUNT).

Output in exactly this format:

<evaluation>
  <answers_intent>yes|no|partially</answers_intent>
  <result_quality>excellent|good|poor|failed</result_quality>
  <summary>Brief description of what the result shows</summary>
  <issues>
    <issue>description of a problem found</issue>
  </issues>
  <suggestions>
    <suggestion>actionable improvement</suggestion>
  </suggestions>
  <confidence_score>0.0-1.0</confidence_score>
</evaluation>`
}

func (a *SQLEvaluatorAgent) ReaderContext(ctx context.Context, ac *Context) (string, error) {
	node, ok, err := ac.Tree.GetNode(ac.NodeID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("sql evaluator: node %q not found", ac.NodeID)
	}
	if node.Generation == nil || node.Generation.SQL == "" {
		return "", fmt.Errorf("sql evaluator: node %q has no generated SQL", ac.NodeID)
	}

	result, execErr := a.executeIfNeeded(ctx, ac, node)

	var b strings.Builder
	fmt.Fprintf(&b, "Intent: %s\n", node.Intent)
	if node.Evidence != "" {
		fmt.Fprintf(&b, "Evidence: %s\n", node.Evidence)
	}
	fmt.Fprintf(&b, "SQL: %s\n", node.Generation.SQL)
	if node.Generation.QueryType != "" {
		fmt.Fprintf(&b, "Query type: %s\n", node.Generation.QueryType)
	}
	if node.Generation.Explanation != "" {
		fmt.Fprintf(&b, "Generator's explanation: %s\n", node.Generation.Explanation)
	}
	if execErr != "" {
		fmt.Fprintf(&b, "Execution error: %s\n", execErr)
	} else if result != nil {
		fmt.Fprintf(&b, "Execution result: %d rows, columns %s\n", result.RowCount, strings.Join(result.Columns, ", "))
		fmt.Fprintf(&b, "Sample rows: %v\n", result.Data)
	}

	if node.GenerationAttempts > 1 {
		fmt.Fprintf(&b, "This is generation attempt %d for this node.\n", node.GenerationAttempts)
	}
	return b.String(), nil
}

// executeIfNeeded reuses a result already present on the node's generation
// section (captured by a generator tool call) without checking which SQL
// produced it, and writes nothing in that case. Otherwise it runs the node's
// SQL and writes the result onto the node's evaluation section.
func (a *SQLEvaluatorAgent) executeIfNeeded(ctx context.Context, ac *Context, node *querytree.QueryNode) (*querytree.ExecutionResult, string) {
	if node.Generation.ExecutionResult != nil {
		return node.Generation.ExecutionResult, ""
	}

	qr, err := ac.DB.ExecuteQuery(ctx, node.Generation.SQL)
	if err != nil {
		_ = ac.Tree.UpdateNodeResult(node.NodeID, &querytree.ExecutionResult{Error: err.Error()}, false)
		_ = ac.History.RecordExecute(node, err.Error())
		return nil, err.Error()
	}
	if qr.Error != "" {
		_ = ac.Tree.UpdateNodeResult(node.NodeID, &querytree.ExecutionResult{Error: qr.Error}, false)
		_ = ac.History.RecordExecute(node, qr.Error)
		return nil, qr.Error
	}

	result := &querytree.ExecutionResult{Data: qr.Rows, RowCount: qr.RowCount, Columns: qr.Columns}
	result.CapRows()
	_ = ac.Tree.UpdateNodeResult(node.NodeID, result, true)
	_ = ac.History.RecordExecute(node, "")
	return result, ""
}

func (a *SQLEvaluatorAgent) Invoke(ctx context.Context, ac *Context, userMessage string) (string, error) {
	return ac.LLM.Call(ctx, a.SystemPrompt()+"\n\n"+userMessage)
}

func (a *SQLEvaluatorAgent) ParseAndWrite(ctx context.Context, ac *Context, rawOutput string) error {
	answersIntent, err := requireTag(rawOutput, "answers_intent")
	if err != nil {
		return err
	}
	quality, err := requireTag(rawOutput, "result_quality")
	if err != nil {
		return err
	}
	issuesBlock, _ := extractTag(rawOutput, "issues")
	suggestionsBlock, _ := extractTag(rawOutput, "suggestions")
	confidenceStr, _ := extractTag(rawOutput, "confidence_score")

	node, ok, err := ac.Tree.GetNode(ac.NodeID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("sql evaluator: node %q not found", ac.NodeID)
	}

	eval := node.Evaluation
	if eval == nil {
		eval = &querytree.Evaluation{}
	}
	eval.AnswersIntent = querytree.AnswersIntent(answersIntent)
	eval.ResultQuality = querytree.ResultQuality(quality)
	eval.Issues = extractBlocks(issuesBlock, "issue")
	eval.Suggestions = extractBlocks(suggestionsBlock, "suggestion")
	eval.ConfidenceScore = parseFloat(confidenceStr)

	if err := ac.Tree.UpdateNode(ac.NodeID, querytree.NodePatch{Evaluation: eval}); err != nil {
		return err
	}

	return a.triggerLearning(ctx, ac, node, eval)
}

// triggerLearning invokes the matching pattern agent once evaluation is
// written, per the excellent/good -> success, everything else -> failure
// split.
func (a *SQLEvaluatorAgent) triggerLearning(ctx context.Context, ac *Context, node *querytree.QueryNode, eval *querytree.Evaluation) error {
	goodOutcome := eval.AnswersIntent == querytree.AnswersYes &&
		(eval.ResultQuality == querytree.QualityExcellent || eval.ResultQuality == querytree.QualityGood)

	if goodOutcome {
		return Run(ctx, ac, &SuccessPatternAgent{})
	}
	return Run(ctx, ac, &FailurePatternAgent{})
}
