package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/threefoldo/texttosql-go/internal/pattern"
	"github.com/threefoldo/texttosql-go/internal/querytree"
)

// SchemaLinkerAgent resolves a node's intent to exact table/column names
// and join edges. Grounded on
// original_source/workflow_v2/src/schema_linker_agent.py and
// schema_linker_prompts.py for the candidate/confidence/tie-break shape
// described in spec.md §4.9.
type SchemaLinkerAgent struct{}

func (a *SchemaLinkerAgent) Name() string { return "SchemaLinkerAgent" }

func (a *SchemaLinkerAgent) SystemPrompt() string {
	return `You are a schema linker for text-to-SQL conversion. Given a question, its
evidence, and a database schema, identify the EXACT (case-sensitive) tables
and columns needed to answer it.

Rules:
- Every table/column you name must exist in the given schema exactly as spelled.
- Prefer a single-table solution; only introduce a join when the required
  columns genuinely span tables.
- Default join type is INNER unless the question implies otherwise.
- When multiple candidates are plausible, pick the one with the best schema
  match (exact sample-value match, then single-table preference) and report
  your confidence.

Output in exactly this format:

<schema_linking>
  <tables>
    <table name="exact_table_name"/>
  </tables>
  <columns>
    <column table="exact_table_name" name="exact_column_name" usage="select|filter|join|group|order|aggregate"/>
  </columns>
  <joins>
    <join from="table_a" to="table_b" on="table_a.col = table_b.col" type="INNER"/>
  </joins>
  <confidence>high|medium|low</confidence>
  <trace>Which query terms mapped to which columns, and why</trace>
</schema_linking>

Omit <joins> for single-table solutions.`
}

func (a *SchemaLinkerAgent) ReaderContext(ctx context.Context, ac *Context) (string, error) {
	node, ok, err := ac.Tree.GetNode(ac.NodeID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("schema linker: node %q not found", ac.NodeID)
	}

	summary, err := ac.Schema.GetSchemaSummary()
	if err != nil {
		return "", err
	}
	rules, err := ac.Patterns.FormatRulesForPrompt(pattern.AgentSchemaLinker)
	if err != nil {
		return "", err
	}

	var siblingIntents []string
	if node.ParentID != "" {
		siblings, err := ac.Tree.GetSiblings(ac.NodeID)
		if err == nil {
			for _, s := range siblings {
				siblingIntents = append(siblingIntents, s.Intent)
			}
		}
	}

	recentOps, err := ac.History.GetAllOperations()
	if err != nil {
		return "", err
	}
	if n := len(recentOps); n > 5 {
		recentOps = recentOps[n-5:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Intent: %s\n", node.Intent)
	if node.Evidence != "" {
		fmt.Fprintf(&b, "Evidence: %s\n", node.Evidence)
	}
	if len(siblingIntents) > 0 {
		fmt.Fprintf(&b, "Sibling sub-questions (avoid contradictory choices): %s\n", strings.Join(siblingIntents, "; "))
	}
	if len(recentOps) > 0 {
		b.WriteString("Recent operations:\n")
		for _, op := range recentOps {
			fmt.Fprintf(&b, "  [%s] %s on node %s\n", op.Timestamp.Format("15:04:05"), op.Operation, op.NodeID)
		}
	}
	fmt.Fprintf(&b, "\nSchema:\n%s\n", summary)
	if rules != "" {
		b.WriteString(rules)
	}
	return b.String(), nil
}

func (a *SchemaLinkerAgent) Invoke(ctx context.Context, ac *Context, userMessage string) (string, error) {
	return ac.LLM.Call(ctx, a.SystemPrompt()+"\n\n"+userMessage)
}

func (a *SchemaLinkerAgent) ParseAndWrite(ctx context.Context, ac *Context, rawOutput string) error {
	tables := extractSelfClosingAttrs(rawOutput, "table")
	tableNames := make([]string, 0, len(tables))
	for _, t := range tables {
		if name := t["name"]; name != "" {
			tableNames = append(tableNames, name)
		}
	}
	if len(tableNames) == 0 {
		return fmt.Errorf("%w: no <table> entries", ErrMalformedOutput)
	}

	columnAttrs := extractSelfClosingAttrs(rawOutput, "column")
	columns := make([]querytree.ColumnRef, 0, len(columnAttrs))
	for _, c := range columnAttrs {
		columns = append(columns, querytree.ColumnRef{
			Table:  c["table"],
			Column: c["name"],
			Usage:  querytree.ColumnUsage(c["usage"]),
		})
	}

	joinAttrs := extractSelfClosingAttrs(rawOutput, "join")
	joins := make([]querytree.JoinEdge, 0, len(joinAttrs))
	for _, j := range joinAttrs {
		joinType := j["type"]
		if joinType == "" {
			joinType = "INNER"
		}
		joins = append(joins, querytree.JoinEdge{
			FromTable: j["from"],
			ToTable:   j["to"],
			On:        j["on"],
			JoinType:  joinType,
		})
	}

	trace, _ := extractTag(rawOutput, "trace")

	linking := &querytree.SchemaLinking{
		Tables:         tableNames,
		Columns:        columns,
		Joins:          joins,
		DiscoveryTrace: trace,
	}

	// Schema linking has no dedicated history.OperationType of its own —
	// it is captured implicitly in the next generate_sql/execute snapshot,
	// which includes the node's current SchemaLinking section.
	if err := ac.Tree.UpdateNode(ac.NodeID, querytree.NodePatch{SchemaLinking: linking}); err != nil {
		return err
	}

	// A relink invalidates whatever SQL was generated against the old table/
	// column choices. Without this, statuschecker would keep re-evaluating
	// (or re-classifying as bad_sql) the same stale query instead of routing
	// back through SQLGeneratorAgent with the corrected links.
	return ac.Tree.ClearAfterRelink(ac.NodeID)
}
