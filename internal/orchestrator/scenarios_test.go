package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/threefoldo/texttosql-go/internal/adapter"
	"github.com/threefoldo/texttosql-go/internal/agent"
	"github.com/threefoldo/texttosql-go/internal/kvmemory"
	"github.com/threefoldo/texttosql-go/internal/pattern"
	"github.com/threefoldo/texttosql-go/internal/querytree"
	"github.com/threefoldo/texttosql-go/internal/statuschecker"
)

// This file drives the orchestrator through named end-to-end scenarios with
// scripted stand-ins for the specialist agents and the database, rather than
// a real LLM and a real connection. Each scripted agent still goes through
// agent.Run and the real querytree/statuschecker machinery — only the model
// call and the SQL engine are faked.

// scriptedDB answers ExecuteQuery with whatever execute says, so each
// scenario can script exactly the rows or error a candidate query produces.
type scriptedDB struct {
	execute func(ctx context.Context, sql string) (*adapter.QueryResult, error)
}

func (d *scriptedDB) Connect(ctx context.Context) error { return nil }
func (d *scriptedDB) Close() error                      { return nil }
func (d *scriptedDB) GetDatabaseType() string           { return "SQLite" }
func (d *scriptedDB) GetDatabaseVersion(ctx context.Context) (string, error) { return "3", nil }
func (d *scriptedDB) DryRunSQL(ctx context.Context, sql string) error        { return nil }
func (d *scriptedDB) ExecuteQuery(ctx context.Context, sql string) (*adapter.QueryResult, error) {
	return d.execute(ctx, sql)
}

// scriptedSchemaLinker writes a fixed SchemaLinking section per node id,
// standing in for SchemaLinkerAgent's model-driven table/column discovery.
type scriptedSchemaLinker struct {
	linking map[string]*querytree.SchemaLinking
}

func (a *scriptedSchemaLinker) Name() string        { return "SchemaLinkerAgent" }
func (a *scriptedSchemaLinker) SystemPrompt() string { return "" }
func (a *scriptedSchemaLinker) ReaderContext(context.Context, *agent.Context) (string, error) {
	return "", nil
}
func (a *scriptedSchemaLinker) Invoke(context.Context, *agent.Context, string) (string, error) {
	return "", nil
}
func (a *scriptedSchemaLinker) ParseAndWrite(ctx context.Context, ac *agent.Context, _ string) error {
	linking, ok := a.linking[ac.NodeID]
	if !ok {
		linking = &querytree.SchemaLinking{}
	}
	if err := ac.Tree.UpdateNode(ac.NodeID, querytree.NodePatch{SchemaLinking: linking}); err != nil {
		return err
	}
	// Mirrors SchemaLinkerAgent.ParseAndWrite: a relink invalidates whatever
	// was generated/evaluated against the prior links.
	return ac.Tree.ClearAfterRelink(ac.NodeID)
}

// scriptedGenerator derives a candidate SQL string for the current node,
// standing in for SQLGeneratorAgent's ReAct-driven generation. sqlFor can
// inspect accumulated state (learned rules, prior attempts) to vary its
// answer across retries, the way a real generation would.
type scriptedGenerator struct {
	sqlFor func(ac *agent.Context) string
}

func (a *scriptedGenerator) Name() string        { return "SQLGeneratorAgent" }
func (a *scriptedGenerator) SystemPrompt() string { return "" }
func (a *scriptedGenerator) ReaderContext(context.Context, *agent.Context) (string, error) {
	return "", nil
}
func (a *scriptedGenerator) Invoke(context.Context, *agent.Context, string) (string, error) {
	return "", nil
}
func (a *scriptedGenerator) ParseAndWrite(ctx context.Context, ac *agent.Context, _ string) error {
	return ac.Tree.UpdateNodeSQL(ac.NodeID, a.sqlFor(ac))
}

// scriptedEvaluator runs the node's candidate SQL against db and assigns
// quality via judge, standing in for SQLEvaluatorAgent's own execute-then-
// judge step. onPoorOrFailed, when set, runs for any quality below good —
// the scenario's stand-in for FailurePatternAgent distilling a DON'T rule.
type scriptedEvaluator struct {
	judge         func(result *querytree.ExecutionResult) (querytree.ResultQuality, querytree.AnswersIntent, []string)
	onPoorOrFailed func(ac *agent.Context) error
}

func (a *scriptedEvaluator) Name() string        { return "SQLEvaluatorAgent" }
func (a *scriptedEvaluator) SystemPrompt() string { return "" }
func (a *scriptedEvaluator) ReaderContext(context.Context, *agent.Context) (string, error) {
	return "", nil
}
func (a *scriptedEvaluator) Invoke(context.Context, *agent.Context, string) (string, error) {
	return "", nil
}
func (a *scriptedEvaluator) ParseAndWrite(ctx context.Context, ac *agent.Context, _ string) error {
	node, ok, err := ac.Tree.GetNode(ac.NodeID)
	if err != nil {
		return err
	}
	if !ok || node.Generation == nil {
		return errors.New("scriptedEvaluator: node has no generation to evaluate")
	}

	var execResult querytree.ExecutionResult
	qr, dbErr := ac.DB.ExecuteQuery(ctx, node.Generation.SQL)
	switch {
	case dbErr != nil:
		execResult.Error = dbErr.Error()
	case qr.Error != "":
		execResult.Error = qr.Error
	default:
		execResult.Data = qr.Rows
		execResult.RowCount = qr.RowCount
		execResult.Columns = qr.Columns
	}
	execResult.CapRows()

	quality, answers, issues := a.judge(&execResult)
	patch := querytree.NodePatch{Evaluation: &querytree.Evaluation{
		ExecutionResult: &execResult,
		AnswersIntent:   answers,
		ResultQuality:   quality,
		Issues:          issues,
	}}
	if err := ac.Tree.UpdateNode(ac.NodeID, patch); err != nil {
		return err
	}

	if quality != querytree.QualityExcellent && quality != querytree.QualityGood && a.onPoorOrFailed != nil {
		return a.onPoorOrFailed(ac)
	}
	return nil
}

func newScenarioOrchestrator(cfg Config, db adapter.DBAdapter) (*Orchestrator, *agent.Context) {
	store := kvmemory.New()
	ac := agent.NewContext(store, noopLLM{}, db)
	tree := querytree.New(store)
	checker := statuschecker.New(tree)
	return New(checker, cfg), ac
}

func oneRowResult(columns []string, row map[string]any) *adapter.QueryResult {
	return &adapter.QueryResult{Columns: columns, Rows: []map[string]any{row}, RowCount: 1}
}

// S1: a single-node count query needs no decomposition and no retries.
func TestScenarioSimpleCount(t *testing.T) {
	db := &scriptedDB{execute: func(ctx context.Context, sql string) (*adapter.QueryResult, error) {
		if !strings.Contains(sql, "COUNT(*)") || !strings.Contains(sql, "Alameda") {
			t.Fatalf("unexpected SQL for the count scenario: %s", sql)
		}
		return oneRowResult([]string{"count"}, map[string]any{"count": 5}), nil
	}}
	o, ac := newScenarioOrchestrator(DefaultConfig(), db)

	rootID, err := ac.Tree.Initialize("How many schools are in Alameda County?", "")
	if err != nil {
		t.Fatalf("tree init: %v", err)
	}

	o.agentFactory = func(next statuschecker.NextAgent) (agent.Agent, error) {
		switch next {
		case statuschecker.AgentSchemaLinker:
			return &scriptedSchemaLinker{linking: map[string]*querytree.SchemaLinking{
				rootID: {Tables: []string{"schools"}},
			}}, nil
		case statuschecker.AgentSQLGenerator:
			return &scriptedGenerator{sqlFor: func(*agent.Context) string {
				return "SELECT COUNT(*) FROM schools WHERE County = 'Alameda'"
			}}, nil
		case statuschecker.AgentSQLEvaluator:
			return &scriptedEvaluator{judge: func(r *querytree.ExecutionResult) (querytree.ResultQuality, querytree.AnswersIntent, []string) {
				return querytree.QualityExcellent, querytree.AnswersYes, nil
			}}, nil
		default:
			t.Fatalf("unexpected nomination %q", next)
			return nil, nil
		}
	}

	summary, err := o.Run(context.Background(), ac)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Completed {
		t.Fatalf("expected the tree to complete, got %#v", summary)
	}

	root, _, err := ac.Tree.GetNode(rootID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if root.Generation == nil || root.Generation.SQL == "" {
		t.Fatalf("expected root to carry a generated SQL answer")
	}
	if root.Evaluation == nil || root.Evaluation.ResultQuality != querytree.QualityExcellent {
		t.Fatalf("expected excellent quality, got %+v", root.Evaluation)
	}
}

// S2: an aggregation over a join still resolves as a single node.
func TestScenarioAggregationWithJoin(t *testing.T) {
	db := &scriptedDB{execute: func(ctx context.Context, sql string) (*adapter.QueryResult, error) {
		if !strings.Contains(sql, "JOIN") || !strings.Contains(sql, "MAX(") {
			t.Fatalf("expected a joined MAX() query, got: %s", sql)
		}
		return oneRowResult([]string{"School"}, map[string]any{"School": "Best Elementary"}), nil
	}}
	o, ac := newScenarioOrchestrator(DefaultConfig(), db)

	rootID, err := ac.Tree.Initialize("Which school has the highest free meal eligibility rate?", "")
	if err != nil {
		t.Fatalf("tree init: %v", err)
	}

	o.agentFactory = func(next statuschecker.NextAgent) (agent.Agent, error) {
		switch next {
		case statuschecker.AgentSchemaLinker:
			return &scriptedSchemaLinker{linking: map[string]*querytree.SchemaLinking{
				rootID: {
					Tables: []string{"schools", "frpm"},
					Joins: []querytree.JoinEdge{
						{FromTable: "schools", ToTable: "frpm", On: "schools.CDSCode = frpm.CDSCode", JoinType: "INNER"},
					},
				},
			}}, nil
		case statuschecker.AgentSQLGenerator:
			return &scriptedGenerator{sqlFor: func(*agent.Context) string {
				return "SELECT schools.School FROM schools JOIN frpm ON schools.CDSCode = frpm.CDSCode " +
					"ORDER BY MAX(frpm.\"Free Meal Count\" * 1.0 / frpm.\"Enrollment\") DESC LIMIT 1"
			}}, nil
		case statuschecker.AgentSQLEvaluator:
			return &scriptedEvaluator{judge: func(r *querytree.ExecutionResult) (querytree.ResultQuality, querytree.AnswersIntent, []string) {
				if r.RowCount != 1 {
					return querytree.QualityPoor, querytree.AnswersPartially, []string{"expected exactly one row"}
				}
				return querytree.QualityGood, querytree.AnswersYes, nil
			}}, nil
		default:
			t.Fatalf("unexpected nomination %q", next)
			return nil, nil
		}
	}

	summary, err := o.Run(context.Background(), ac)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Completed {
		t.Fatalf("expected completion, got %#v", summary)
	}
	root, _, _ := ac.Tree.GetNode(rootID)
	if root.Evaluation.ResultQuality != querytree.QualityGood {
		t.Fatalf("expected good quality, got %s", root.Evaluation.ResultQuality)
	}
}

// S3: a query too complex for one node decomposes into two children that
// must both complete before the root combines their results.
func TestScenarioDecomposition(t *testing.T) {
	const child1 = "child_avg_salary"
	const child2 = "child_employee_count"

	db := &scriptedDB{execute: func(ctx context.Context, sql string) (*adapter.QueryResult, error) {
		switch {
		case strings.Contains(sql, "AVG(salary)"):
			return oneRowResult([]string{"department_id", "avg_salary"}, map[string]any{"department_id": 1, "avg_salary": 95000}), nil
		case strings.Contains(sql, "COUNT(*)") && strings.Contains(sql, "employees"):
			return oneRowResult([]string{"department_id", "employee_count"}, map[string]any{"department_id": 1, "employee_count": 12}), nil
		case strings.Contains(sql, "ORDER BY") && strings.Contains(sql, "LIMIT 5"):
			return &adapter.QueryResult{
				Columns: []string{"department_name", "avg_salary", "employee_count"},
				Rows: []map[string]any{
					{"department_name": "Engineering", "avg_salary": 120000, "employee_count": 40},
					{"department_name": "Sales", "avg_salary": 95000, "employee_count": 12},
				},
				RowCount: 2,
			}, nil
		default:
			t.Fatalf("unscripted SQL in decomposition scenario: %s", sql)
			return nil, nil
		}
	}}
	o, ac := newScenarioOrchestrator(DefaultConfig(), db)

	rootID, err := ac.Tree.Initialize("Top 5 departments by average salary, with their headcount", "")
	if err != nil {
		t.Fatalf("tree init: %v", err)
	}
	if err := ac.Tree.AddNode(&querytree.QueryNode{NodeID: child1, Intent: "average salary per department"}, rootID); err != nil {
		t.Fatalf("add child1: %v", err)
	}
	if err := ac.Tree.AddNode(&querytree.QueryNode{NodeID: child2, Intent: "employee count per department"}, rootID); err != nil {
		t.Fatalf("add child2: %v", err)
	}
	if err := ac.Tree.UpdateNode(rootID, querytree.NodePatch{
		Decomposition: &querytree.Decomposition{JoinStrategy: querytree.StrategyJoin},
	}); err != nil {
		t.Fatalf("seed decomposition: %v", err)
	}

	schemaByNode := map[string]*querytree.SchemaLinking{
		child1: {Tables: []string{"employees"}},
		child2: {Tables: []string{"employees"}},
		rootID: {Tables: []string{"employees", "departments"}},
	}
	sqlByNode := map[string]string{
		child1: "SELECT department_id, AVG(salary) AS avg_salary FROM employees GROUP BY department_id",
		child2: "SELECT department_id, COUNT(*) AS employee_count FROM employees GROUP BY department_id",
		rootID: "SELECT d.department_name, a.avg_salary, c.employee_count FROM (SELECT department_id, AVG(salary) AS avg_salary FROM employees GROUP BY department_id) a " +
			"JOIN (SELECT department_id, COUNT(*) AS employee_count FROM employees GROUP BY department_id) c ON a.department_id = c.department_id " +
			"JOIN departments d ON d.department_id = a.department_id ORDER BY a.avg_salary DESC LIMIT 5",
	}

	o.agentFactory = func(next statuschecker.NextAgent) (agent.Agent, error) {
		switch next {
		case statuschecker.AgentSchemaLinker:
			return &scriptedSchemaLinker{linking: schemaByNode}, nil
		case statuschecker.AgentSQLGenerator:
			return &scriptedGenerator{sqlFor: func(ac *agent.Context) string { return sqlByNode[ac.NodeID] }}, nil
		case statuschecker.AgentSQLEvaluator:
			return &scriptedEvaluator{judge: func(r *querytree.ExecutionResult) (querytree.ResultQuality, querytree.AnswersIntent, []string) {
				return querytree.QualityExcellent, querytree.AnswersYes, nil
			}}, nil
		default:
			t.Fatalf("unexpected nomination %q", next)
			return nil, nil
		}
	}

	summary, err := o.Run(context.Background(), ac)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Completed {
		t.Fatalf("expected completion, got %#v", summary)
	}

	for _, id := range []string{child1, child2, rootID} {
		node, ok, err := ac.Tree.GetNode(id)
		if err != nil || !ok {
			t.Fatalf("GetNode(%s): ok=%v err=%v", id, ok, err)
		}
		if node.Evaluation == nil || node.Evaluation.ResultQuality != querytree.QualityExcellent {
			t.Fatalf("expected node %s to complete excellently, got %+v", id, node.Evaluation)
		}
	}
	root, _, _ := ac.Tree.GetNode(rootID)
	if root.Evaluation.ExecutionResult.RowCount > 5 {
		t.Fatalf("expected at most 5 rows combined, got %d", root.Evaluation.ExecutionResult.RowCount)
	}
}

// S4: a first generation referencing a nonexistent column fails, a DON'T
// rule gets recorded, and the second generation succeeds using the rule.
func TestScenarioFailureThenLearning(t *testing.T) {
	db := &scriptedDB{execute: func(ctx context.Context, sql string) (*adapter.QueryResult, error) {
		if strings.Contains(sql, "CountyName") {
			return &adapter.QueryResult{Error: "no such column: CountyName"}, nil
		}
		return oneRowResult([]string{"count"}, map[string]any{"count": 5}), nil
	}}
	o, ac := newScenarioOrchestrator(DefaultConfig(), db)

	rootID, err := ac.Tree.Initialize("How many schools are in Alameda County?", "")
	if err != nil {
		t.Fatalf("tree init: %v", err)
	}

	o.agentFactory = func(next statuschecker.NextAgent) (agent.Agent, error) {
		switch next {
		case statuschecker.AgentSchemaLinker:
			return &scriptedSchemaLinker{linking: map[string]*querytree.SchemaLinking{
				rootID: {Tables: []string{"schools"}},
			}}, nil
		case statuschecker.AgentSQLGenerator:
			return &scriptedGenerator{sqlFor: func(ac *agent.Context) string {
				rules, err := ac.Patterns.GetRulesForAgent(pattern.AgentSQLGenerator)
				if err != nil {
					t.Fatalf("GetRulesForAgent: %v", err)
				}
				if len(rules.DontRules) == 0 {
					return "SELECT COUNT(*) FROM schools WHERE CountyName = 'Alameda'"
				}
				return "SELECT COUNT(*) FROM schools WHERE County = 'Alameda'"
			}}, nil
		case statuschecker.AgentSQLEvaluator:
			return &scriptedEvaluator{
				judge: func(r *querytree.ExecutionResult) (querytree.ResultQuality, querytree.AnswersIntent, []string) {
					if r.Error != "" {
						return querytree.QualityFailed, querytree.AnswersNo, []string{r.Error}
					}
					return querytree.QualityGood, querytree.AnswersYes, nil
				},
				onPoorOrFailed: func(ac *agent.Context) error {
					return ac.Patterns.AddDontRule(pattern.AgentSQLGenerator, "schools has no CountyName column; filter on County instead")
				},
			}, nil
		default:
			t.Fatalf("unexpected nomination %q", next)
			return nil, nil
		}
	}

	summary, err := o.Run(context.Background(), ac)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Completed {
		t.Fatalf("expected eventual completion, got %#v", summary)
	}

	root, _, _ := ac.Tree.GetNode(rootID)
	if root.GenerationAttempts != 2 {
		t.Fatalf("expected exactly 2 generation attempts (fail then learn), got %d", root.GenerationAttempts)
	}
	if root.Evaluation.ResultQuality != querytree.QualityGood {
		t.Fatalf("expected the corrected attempt to succeed, got %s", root.Evaluation.ResultQuality)
	}
	rules, err := ac.Patterns.GetRulesForAgent(pattern.AgentSQLGenerator)
	if err != nil {
		t.Fatalf("GetRulesForAgent: %v", err)
	}
	if len(rules.DontRules) != 1 {
		t.Fatalf("expected exactly one learned DON'T rule, got %v", rules.DontRules)
	}
}

// S5: an unsolvable query never reaches good/excellent quality, so the
// orchestrator exits on the step budget with whatever SQL it last tried.
func TestScenarioBudgetExhaustion(t *testing.T) {
	db := &scriptedDB{execute: func(ctx context.Context, sql string) (*adapter.QueryResult, error) {
		return oneRowResult([]string{"n"}, map[string]any{"n": 0}), nil
	}}
	cfg := DefaultConfig()
	cfg.MaxSteps = 5
	o, ac := newScenarioOrchestrator(cfg, db)

	rootID, err := ac.Tree.Initialize("An unanswerable question about data that isn't in this database", "")
	if err != nil {
		t.Fatalf("tree init: %v", err)
	}

	attempt := 0
	o.agentFactory = func(next statuschecker.NextAgent) (agent.Agent, error) {
		switch next {
		case statuschecker.AgentSchemaLinker:
			return &scriptedSchemaLinker{linking: map[string]*querytree.SchemaLinking{
				rootID: {Tables: []string{"schools"}},
			}}, nil
		case statuschecker.AgentSQLGenerator:
			return &scriptedGenerator{sqlFor: func(*agent.Context) string {
				attempt++
				return fmt.Sprintf("SELECT guess_%d FROM schools", attempt)
			}}, nil
		case statuschecker.AgentSQLEvaluator:
			return &scriptedEvaluator{judge: func(r *querytree.ExecutionResult) (querytree.ResultQuality, querytree.AnswersIntent, []string) {
				return querytree.QualityPoor, querytree.AnswersNo, []string{"result does not answer the question"}
			}}, nil
		default:
			t.Fatalf("unexpected nomination %q", next)
			return nil, nil
		}
	}

	summary, err := o.Run(context.Background(), ac)
	if err == nil || !strings.Contains(err.Error(), "steps") {
		t.Fatalf("expected a step-budget exhaustion error, got %v", err)
	}
	if summary.Steps != cfg.MaxSteps {
		t.Fatalf("expected %d steps recorded, got %d", cfg.MaxSteps, summary.Steps)
	}

	root, _, _ := ac.Tree.GetNode(rootID)
	if root.Generation == nil || root.Generation.SQL == "" {
		t.Fatalf("expected the last attempted SQL to still be on the node")
	}
	if root.GenerationAttempts >= 3 {
		t.Fatalf("expected the step budget to cut the run off before the 3-attempt node cap, got %d attempts", root.GenerationAttempts)
	}
	if root.Evaluation == nil {
		t.Fatalf("expected at least one evaluation to have run")
	}
	if root.Evaluation.ResultQuality != querytree.QualityPoor {
		t.Fatalf("expected poor quality on the last evaluated attempt, got %s", root.Evaluation.ResultQuality)
	}
}

// S6: a query that correctly returns zero rows is not a failure.
func TestScenarioEmptyResultIsNotFailure(t *testing.T) {
	db := &scriptedDB{execute: func(ctx context.Context, sql string) (*adapter.QueryResult, error) {
		if !strings.Contains(sql, "NonExistentCounty") {
			t.Fatalf("unexpected SQL: %s", sql)
		}
		return &adapter.QueryResult{Columns: []string{"School"}, Rows: nil, RowCount: 0}, nil
	}}
	o, ac := newScenarioOrchestrator(DefaultConfig(), db)

	rootID, err := ac.Tree.Initialize("List schools in NonExistentCounty", "")
	if err != nil {
		t.Fatalf("tree init: %v", err)
	}

	o.agentFactory = func(next statuschecker.NextAgent) (agent.Agent, error) {
		switch next {
		case statuschecker.AgentSchemaLinker:
			return &scriptedSchemaLinker{linking: map[string]*querytree.SchemaLinking{
				rootID: {Tables: []string{"schools"}},
			}}, nil
		case statuschecker.AgentSQLGenerator:
			return &scriptedGenerator{sqlFor: func(*agent.Context) string {
				return "SELECT School FROM schools WHERE County = 'NonExistentCounty'"
			}}, nil
		case statuschecker.AgentSQLEvaluator:
			return &scriptedEvaluator{judge: func(r *querytree.ExecutionResult) (querytree.ResultQuality, querytree.AnswersIntent, []string) {
				if r.Error != "" {
					return querytree.QualityFailed, querytree.AnswersNo, []string{r.Error}
				}
				// Zero rows with no execution error is a structurally
				// correct, complete answer, not a poor one.
				return querytree.QualityGood, querytree.AnswersYes, nil
			}}, nil
		default:
			t.Fatalf("unexpected nomination %q", next)
			return nil, nil
		}
	}

	summary, err := o.Run(context.Background(), ac)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Completed {
		t.Fatalf("expected a zero-row result to still terminate the run, got %#v", summary)
	}
	root, _, _ := ac.Tree.GetNode(rootID)
	if root.Evaluation.ResultQuality != querytree.QualityGood {
		t.Fatalf("expected zero rows to be judged good, got %s", root.Evaluation.ResultQuality)
	}
	if root.Evaluation.ExecutionResult.RowCount != 0 {
		t.Fatalf("expected zero rows recorded, got %d", root.Evaluation.ExecutionResult.RowCount)
	}
}
