package statuschecker

import (
	"strings"
	"testing"

	"github.com/threefoldo/texttosql-go/internal/kvmemory"
	"github.com/threefoldo/texttosql-go/internal/querytree"
)

func TestRunNoTreeYet(t *testing.T) {
	tree := querytree.New(kvmemory.New())
	c := New(tree)

	result, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.NoTreeYet {
		t.Fatalf("Result = %+v; want NoTreeYet", result)
	}
	if result.Report != "STATUS: No query tree found" {
		t.Fatalf("Report = %q", result.Report)
	}
}

func TestRunSetsCurrentToRootWhenUnset(t *testing.T) {
	tree := querytree.New(kvmemory.New())
	rootID, _ := tree.Initialize("how many schools?", "")
	c := New(tree)

	result, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(result.Report, "CURRENT_NODE: "+rootID) {
		t.Fatalf("Report = %q; want CURRENT_NODE %s", result.Report, rootID)
	}
	if result.Next != AgentSchemaLinker {
		t.Fatalf("Next = %q; want SchemaLinkerAgent (root has no schema_linking yet)", result.Next)
	}
}

func TestSingleNodeExcellentTerminates(t *testing.T) {
	tree := querytree.New(kvmemory.New())
	rootID, _ := tree.Initialize("how many schools in Alameda?", "")
	tree.UpdateNode(rootID, querytree.NodePatch{SchemaLinking: &querytree.SchemaLinking{Tables: []string{"schools"}}})
	tree.UpdateNodeSQL(rootID, "SELECT COUNT(*) FROM schools WHERE County = 'Alameda'")
	tree.UpdateNodeResult(rootID, &querytree.ExecutionResult{RowCount: 1}, true)
	tree.UpdateNode(rootID, querytree.NodePatch{Evaluation: &querytree.Evaluation{
		ResultQuality: querytree.QualityExcellent,
		AnswersIntent: querytree.AnswersYes,
	}})

	c := New(tree)
	result, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Terminate {
		t.Fatalf("Result.Terminate = false; want true. Report:\n%s", result.Report)
	}
	if !strings.Contains(result.Report, "NEXT: TERMINATE") {
		t.Fatalf("Report missing NEXT: TERMINATE:\n%s", result.Report)
	}
}

func TestNeedsSQLRoutesToGeneratorOnceSchemaLinked(t *testing.T) {
	tree := querytree.New(kvmemory.New())
	rootID, _ := tree.Initialize("root", "")
	tree.UpdateNode(rootID, querytree.NodePatch{SchemaLinking: &querytree.SchemaLinking{Tables: []string{"schools"}}})

	c := New(tree)
	result, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Next != AgentSQLGenerator {
		t.Fatalf("Next = %q; want SQLGeneratorAgent", result.Next)
	}
}

func TestNeedsEvalRoutesToEvaluator(t *testing.T) {
	tree := querytree.New(kvmemory.New())
	rootID, _ := tree.Initialize("root", "")
	tree.UpdateNode(rootID, querytree.NodePatch{SchemaLinking: &querytree.SchemaLinking{Tables: []string{"schools"}}})
	tree.UpdateNodeSQL(rootID, "SELECT COUNT(*) FROM schools")

	c := New(tree)
	result, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Next != AgentSQLEvaluator {
		t.Fatalf("Next = %q; want SQLEvaluatorAgent", result.Next)
	}
}

func TestBadSQLWithSyntaxErrorRoutesToGenerator(t *testing.T) {
	tree := querytree.New(kvmemory.New())
	rootID, _ := tree.Initialize("root", "")
	tree.UpdateNode(rootID, querytree.NodePatch{SchemaLinking: &querytree.SchemaLinking{Tables: []string{"schools"}}})
	tree.UpdateNodeSQL(rootID, "SELCT COUNT(*) FROM schools")
	tree.UpdateNodeResult(rootID, &querytree.ExecutionResult{Error: "syntax error near \"SELCT\""}, false)
	tree.UpdateNode(rootID, querytree.NodePatch{Evaluation: &querytree.Evaluation{
		ExecutionResult: &querytree.ExecutionResult{Error: "syntax error near \"SELCT\""},
		ResultQuality:   querytree.QualityFailed,
	}})

	c := New(tree)
	result, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Next != AgentSQLGenerator {
		t.Fatalf("Next = %q; want SQLGeneratorAgent", result.Next)
	}
	if !strings.Contains(result.Report, "Issues detected") && !strings.Contains(result.Report, "bad_sql") {
		t.Fatalf("Report for bad_sql node missing expected markers:\n%s", result.Report)
	}
}

func TestBadSQLWithSchemaShapedErrorRoutesToSchemaLinker(t *testing.T) {
	tree := querytree.New(kvmemory.New())
	rootID, _ := tree.Initialize("root", "")
	tree.UpdateNode(rootID, querytree.NodePatch{SchemaLinking: &querytree.SchemaLinking{Tables: []string{"schools"}}})
	tree.UpdateNodeSQL(rootID, "SELECT Funding FROM schools")
	tree.UpdateNodeResult(rootID, &querytree.ExecutionResult{Error: "no such column: Funding"}, false)
	tree.UpdateNode(rootID, querytree.NodePatch{Evaluation: &querytree.Evaluation{
		ExecutionResult: &querytree.ExecutionResult{Error: "no such column: Funding"},
		ResultQuality:   querytree.QualityFailed,
	}})

	c := New(tree)
	result, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Next != AgentSchemaLinker {
		t.Fatalf("Next = %q; want SchemaLinkerAgent for a schema-shaped error", result.Next)
	}
}

func TestMaxAttemptsForcesCompletion(t *testing.T) {
	tree := querytree.New(kvmemory.New())
	rootID, _ := tree.Initialize("root", "")
	tree.UpdateNode(rootID, querytree.NodePatch{SchemaLinking: &querytree.SchemaLinking{Tables: []string{"schools"}}})
	for i := 0; i < 3; i++ {
		tree.UpdateNodeSQL(rootID, "SELECT 1")
	}
	tree.UpdateNodeResult(rootID, &querytree.ExecutionResult{Error: "still wrong"}, false)
	tree.UpdateNode(rootID, querytree.NodePatch{Evaluation: &querytree.Evaluation{ResultQuality: querytree.QualityFailed}})

	c := New(tree)
	result, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Terminate {
		t.Fatalf("expected termination once generation_attempts==3 forces completion. Report:\n%s", result.Report)
	}
}

func TestParentWaitsForChildrenThenRoutesToGenerator(t *testing.T) {
	tree := querytree.New(kvmemory.New())
	rootID, _ := tree.Initialize("root decomposed query", "")
	tree.AddNode(&querytree.QueryNode{NodeID: "child-a"}, rootID)
	tree.AddNode(&querytree.QueryNode{NodeID: "child-b"}, rootID)

	// Children not finished yet: root should not be ready for SQL generation.
	c := New(tree)
	result, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Next == AgentSQLGenerator {
		t.Fatalf("root nominated for generation before children finished. Report:\n%s", result.Report)
	}

	// Finish both children.
	for _, id := range []string{"child-a", "child-b"} {
		tree.UpdateNode(id, querytree.NodePatch{SchemaLinking: &querytree.SchemaLinking{Tables: []string{"schools"}}})
		tree.UpdateNodeSQL(id, "SELECT 1")
		tree.UpdateNodeResult(id, &querytree.ExecutionResult{RowCount: 1}, true)
		tree.UpdateNode(id, querytree.NodePatch{Evaluation: &querytree.Evaluation{ResultQuality: querytree.QualityExcellent}})
	}
	tree.UpdateNode(rootID, querytree.NodePatch{SchemaLinking: &querytree.SchemaLinking{Tables: []string{"schools"}}})

	result, err = c.Run()
	if err != nil {
		t.Fatalf("Run (after children finish): %v", err)
	}
	if result.Next != AgentSQLGenerator {
		t.Fatalf("Next after children finished = %q; want SQLGeneratorAgent. Report:\n%s", result.Next, result.Report)
	}
	if result.Report == "" || !strings.Contains(result.Report, "CURRENT_NODE: "+rootID) {
		t.Fatalf("expected navigation to land back on root once children finished:\n%s", result.Report)
	}
}

func TestNavigatesToFirstUnfinishedChild(t *testing.T) {
	tree := querytree.New(kvmemory.New())
	rootID, _ := tree.Initialize("root", "")
	tree.AddNode(&querytree.QueryNode{NodeID: "child-a"}, rootID)
	tree.AddNode(&querytree.QueryNode{NodeID: "child-b"}, rootID)

	c := New(tree)
	result, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(result.Report, "CURRENT_NODE: child-a") {
		t.Fatalf("expected descent into first unfinished child, got:\n%s", result.Report)
	}
}

func TestAdvancesToNextSiblingWhenFirstChildComplete(t *testing.T) {
	tree := querytree.New(kvmemory.New())
	rootID, _ := tree.Initialize("root", "")
	tree.AddNode(&querytree.QueryNode{NodeID: "child-a"}, rootID)
	tree.AddNode(&querytree.QueryNode{NodeID: "child-b"}, rootID)

	tree.UpdateNode("child-a", querytree.NodePatch{SchemaLinking: &querytree.SchemaLinking{Tables: []string{"schools"}}})
	tree.UpdateNodeSQL("child-a", "SELECT 1")
	tree.UpdateNodeResult("child-a", &querytree.ExecutionResult{RowCount: 1}, true)
	tree.UpdateNode("child-a", querytree.NodePatch{Evaluation: &querytree.Evaluation{ResultQuality: querytree.QualityExcellent}})
	tree.SetCurrentNodeID("child-a")

	c := New(tree)
	result, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(result.Report, "CURRENT_NODE: child-b") {
		t.Fatalf("expected advance to sibling child-b once child-a complete, got:\n%s", result.Report)
	}
}

func TestIdempotentRerunWithoutMutation(t *testing.T) {
	tree := querytree.New(kvmemory.New())
	rootID, _ := tree.Initialize("root", "")
	tree.UpdateNode(rootID, querytree.NodePatch{SchemaLinking: &querytree.SchemaLinking{Tables: []string{"schools"}}})

	c := New(tree)
	first, err := c.Run()
	if err != nil {
		t.Fatalf("Run (1st): %v", err)
	}
	second, err := c.Run()
	if err != nil {
		t.Fatalf("Run (2nd): %v", err)
	}
	if first.Report != second.Report {
		t.Fatalf("two consecutive Run() calls produced different reports:\n1: %s\n2: %s", first.Report, second.Report)
	}
	current, err := tree.GetCurrentNodeID()
	if err != nil {
		t.Fatalf("GetCurrentNodeID: %v", err)
	}
	if current != rootID {
		t.Fatalf("CurrentNodeID = %q; want unchanged root %q", current, rootID)
	}
}

func TestClassifyBadSQLSchemaShapedErrors(t *testing.T) {
	cases := []string{
		"no such table: student",
		"no such column: Funding",
		"Unknown column 'x' in 'field list'",
		"ambiguous column name: id",
	}
	for _, errText := range cases {
		if got := ClassifyBadSQL(errText); got != AgentSchemaLinker {
			t.Errorf("ClassifyBadSQL(%q) = %q; want SchemaLinkerAgent", errText, got)
		}
	}
}

func TestClassifyBadSQLSyntaxErrors(t *testing.T) {
	cases := []string{
		"syntax error at or near \"SELCT\"",
		"near \"FORM\": syntax error",
		"unrecognized token: \"@\"",
	}
	for _, errText := range cases {
		if got := ClassifyBadSQL(errText); got != AgentSQLGenerator {
			t.Errorf("ClassifyBadSQL(%q) = %q; want SQLGeneratorAgent", errText, got)
		}
	}
}
