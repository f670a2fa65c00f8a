package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tmc/langchaingo/agents"
	"github.com/tmc/langchaingo/tools"

	"github.com/threefoldo/texttosql-go/internal/pattern"
	"github.com/threefoldo/texttosql-go/internal/querytree"
)

// defaultMaxIterations bounds the tool-calling loop, matching the teacher's
// WorkerAgent/CoordinatorAgent executors.
const defaultMaxIterations = 15

// SQLGeneratorAgent is the one specialist agent that refines its answer
// iteratively with tools rather than in a single model call: it can list
// tables, check columns, and execute candidate SQL before settling on a
// final answer. Grounded on
// original_source/workflow_v2/src/sql_generator_agent.py for the prompt
// shape and on the teacher's WorkerAgent/CoordinatorAgent for the
// agents.Executor wiring.
type SQLGeneratorAgent struct {
	MaxIterations int
	LastSteps     []ReActStep
}

func (a *SQLGeneratorAgent) Name() string { return "SQLGeneratorAgent" }

func (a *SQLGeneratorAgent) SystemPrompt() string {
	return `You are a SQL generator for text-to-SQL conversion. Given a question, its
schema linking (exact tables/columns/joins), and evidence, produce correct
SQL for the target database.

You have tools to verify your assumptions before committing to an answer:
- list_all_tables: list every table in the schema
- check_table_columns: confirm a table's exact columns
- check_column_exists: confirm a specific table.column exists
- execute_sql: run a candidate query against the real database and see
  actual rows — use this to catch mistakes before finalizing

Use tools when you are unsure; do not guess at table or column names. When
you are confident in your SQL, respond with your final answer in exactly
this format:

<generation>
  <sql>SELECT ...</sql>
  <query_type>single|join|aggregate|subquery|union</query_type>
  <confidence>high|medium|low</confidence>
  <explanation>Why this SQL answers the intent</explanation>
</generation>

Use backticks around identifiers that need quoting. If combining children's
SQL for a parent node, follow the given join_strategy exactly.`
}

func (a *SQLGeneratorAgent) ReaderContext(ctx context.Context, ac *Context) (string, error) {
	node, ok, err := ac.Tree.GetNode(ac.NodeID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("sql generator: node %q not found", ac.NodeID)
	}
	if node.SchemaLinking == nil {
		return "", fmt.Errorf("sql generator: node %q has no schema_linking yet", ac.NodeID)
	}

	rules, err := ac.Patterns.FormatRulesForPrompt(pattern.AgentSQLGenerator)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Intent: %s\n", node.Intent)
	if node.Evidence != "" {
		fmt.Fprintf(&b, "Evidence: %s\n", node.Evidence)
	}
	fmt.Fprintf(&b, "\nSchema linking:\n  Tables: %s\n", strings.Join(node.SchemaLinking.Tables, ", "))
	for _, c := range node.SchemaLinking.Columns {
		fmt.Fprintf(&b, "  Column: %s.%s (%s)\n", c.Table, c.Column, c.Usage)
	}
	for _, j := range node.SchemaLinking.Joins {
		fmt.Fprintf(&b, "  Join: %s -> %s ON %s (%s)\n", j.FromTable, j.ToTable, j.On, j.JoinType)
	}

	if node.Generation != nil && node.Generation.SQL != "" {
		fmt.Fprintf(&b, "\nPrevious attempt (attempt %d):\n%s\n", node.GenerationAttempts, node.Generation.SQL)
	}
	if node.Evaluation != nil {
		if len(node.Evaluation.Issues) > 0 {
			fmt.Fprintf(&b, "Issues from last evaluation: %s\n", strings.Join(node.Evaluation.Issues, "; "))
		}
		if len(node.Evaluation.Suggestions) > 0 {
			fmt.Fprintf(&b, "Suggestions from last evaluation: %s\n", strings.Join(node.Evaluation.Suggestions, "; "))
		}
	}

	if len(node.ChildIDs) > 0 && a.allChildrenGenerated(ac, node) {
		fmt.Fprintf(&b, "\nThis node combines the following completed children:\n")
		for _, childID := range node.ChildIDs {
			child, ok, err := ac.Tree.GetNode(childID)
			if err != nil || !ok || child.Generation == nil {
				continue
			}
			fmt.Fprintf(&b, "  [%s] %s -> %s\n", childID, child.Intent, child.Generation.SQL)
		}
		if node.Decomposition != nil {
			fmt.Fprintf(&b, "join_strategy: %s\n", node.Decomposition.JoinStrategy)
		}
	}

	if rules != "" {
		b.WriteString(rules)
	}
	return b.String(), nil
}

func (a *SQLGeneratorAgent) allChildrenGenerated(ac *Context, node *querytree.QueryNode) bool {
	for _, childID := range node.ChildIDs {
		child, ok, err := ac.Tree.GetNode(childID)
		if err != nil || !ok || child.Generation == nil || child.Generation.SQL == "" {
			return false
		}
	}
	return true
}

func (a *SQLGeneratorAgent) Invoke(ctx context.Context, ac *Context, userMessage string) (string, error) {
	toolSet := []tools.Tool{
		&ListAllTablesTool{Schema: ac.Schema},
		&CheckTableColumnsTool{Schema: ac.Schema},
		&CheckColumnExistsTool{Schema: ac.Schema},
		&ExecuteSQLTool{Tree: ac.Tree, DB: ac.DB},
	}

	maxIter := a.MaxIterations
	if maxIter == 0 {
		maxIter = defaultMaxIterations
	}

	collector := newReActStepCollector()
	executor, err := agents.Initialize(
		ac.LLM,
		toolSet,
		agents.ZeroShotReactDescription,
		agents.WithMaxIterations(maxIter),
		agents.WithCallbacksHandler(collector),
	)
	if err != nil {
		return "", err
	}

	prompt := a.SystemPrompt() + "\n\n" + userMessage
	logPromptTokens(prompt)

	result, err := executor.Call(ctx, map[string]any{"input": prompt})
	if err != nil {
		return "", err
	}
	a.LastSteps = collector.Steps()

	output, _ := result["output"].(string)
	logResponseTokens(output)
	return output, nil
}

func (a *SQLGeneratorAgent) ParseAndWrite(ctx context.Context, ac *Context, rawOutput string) error {
	sql, err := requireTag(rawOutput, "sql")
	if err != nil {
		return err
	}
	queryType, _ := extractTag(rawOutput, "query_type")
	confidence, _ := extractTag(rawOutput, "confidence")
	explanation, _ := extractTag(rawOutput, "explanation")

	if err := ac.Tree.UpdateNodeSQL(ac.NodeID, sql); err != nil {
		return err
	}

	// Preserve any execution_result a tool call captured mid-loop; only the
	// text fields below come from this final answer.
	node, ok, err := ac.Tree.GetNode(ac.NodeID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("sql generator: node %q vanished after write", ac.NodeID)
	}
	gen := node.Generation
	gen.QueryType = queryType
	gen.Confidence = querytree.Confidence(confidence)
	gen.Explanation = explanation

	if err := ac.Tree.UpdateNode(ac.NodeID, querytree.NodePatch{Generation: gen}); err != nil {
		return err
	}
	return ac.History.RecordGenerateSQL(node)
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// tokenEncoder lazily loads the cl100k_base encoding used by the
// generator agent for rough token accounting, matching
// internal/inference/pipeline.go's choice for GPT-3.5/GPT-4/DeepSeek
// models. A nil encoder (offline/unsupported) just disables counting.
func tokenEncoder() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	return enc
}

func countTokens(text string) int {
	e := tokenEncoder()
	if e == nil {
		return 0
	}
	return len(e.Encode(text, nil, nil))
}

func logPromptTokens(prompt string) {
	if n := countTokens(prompt); n > 0 {
		fmt.Printf("[SQLGeneratorAgent] prompt tokens: %s\n", strconv.Itoa(n))
	}
}

func logResponseTokens(response string) {
	if n := countTokens(response); n > 0 {
		fmt.Printf("[SQLGeneratorAgent] response tokens: %s\n", strconv.Itoa(n))
	}
}
