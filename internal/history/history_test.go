package history

import (
	"testing"

	"github.com/threefoldo/texttosql-go/internal/kvmemory"
	"github.com/threefoldo/texttosql-go/internal/querytree"
)

func sampleNode() *querytree.QueryNode {
	return &querytree.QueryNode{
		NodeID: "root",
		Intent: "how many schools?",
		Status: querytree.StatusSQLGenerated,
		Generation: &querytree.Generation{
			SQL:        "SELECT COUNT(*) FROM schools",
			Confidence: querytree.ConfidenceHigh,
		},
	}
}

func TestRecordCreateAndGenerateSQL(t *testing.T) {
	m := New(kvmemory.New())
	node := sampleNode()

	if err := m.RecordCreate(node); err != nil {
		t.Fatalf("RecordCreate: %v", err)
	}
	if err := m.RecordGenerateSQL(node); err != nil {
		t.Fatalf("RecordGenerateSQL: %v", err)
	}

	ops, err := m.GetAllOperations()
	if err != nil {
		t.Fatalf("GetAllOperations: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("GetAllOperations() = %d entries; want 2", len(ops))
	}
	if ops[0].Operation != OpCreate || ops[1].Operation != OpGenerateSQL {
		t.Fatalf("operations = %v, %v; want create, generate_sql", ops[0].Operation, ops[1].Operation)
	}
}

func TestGetNodeOperationsFiltersByNode(t *testing.T) {
	m := New(kvmemory.New())
	a := sampleNode()
	a.NodeID = "a"
	b := sampleNode()
	b.NodeID = "b"

	m.RecordCreate(a)
	m.RecordCreate(b)
	m.RecordGenerateSQL(a)

	ops, err := m.GetNodeOperations("a")
	if err != nil {
		t.Fatalf("GetNodeOperations: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("GetNodeOperations(a) = %d entries; want 2", len(ops))
	}
	for _, op := range ops {
		if op.NodeID != "a" {
			t.Fatalf("GetNodeOperations(a) returned entry for node %q", op.NodeID)
		}
	}
}

func TestRecordExecuteCapturesError(t *testing.T) {
	m := New(kvmemory.New())
	node := sampleNode()
	m.RecordCreate(node)

	if err := m.RecordExecute(node, "no such column: Funding"); err != nil {
		t.Fatalf("RecordExecute: %v", err)
	}

	failed, err := m.GetFailedExecutions()
	if err != nil {
		t.Fatalf("GetFailedExecutions: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("GetFailedExecutions() = %d; want 1", len(failed))
	}

	succeeded, err := m.GetSuccessfulExecutions()
	if err != nil {
		t.Fatalf("GetSuccessfulExecutions: %v", err)
	}
	if len(succeeded) != 0 {
		t.Fatalf("GetSuccessfulExecutions() = %d; want 0", len(succeeded))
	}
}

func TestGenerationSnapshotCapsExecutionRows(t *testing.T) {
	m := New(kvmemory.New())
	node := sampleNode()
	rows := make([]map[string]any, 10)
	for i := range rows {
		rows[i] = map[string]any{"n": i}
	}
	node.Generation.ExecutionResult = &querytree.ExecutionResult{Data: rows, RowCount: 10}

	if err := m.RecordGenerateSQL(node); err != nil {
		t.Fatalf("RecordGenerateSQL: %v", err)
	}

	ops, _ := m.GetAllOperations()
	got := ops[0].Snapshot.Generation.Execution
	if got == nil {
		t.Fatal("snapshot execution result is nil")
	}
	if len(got.Data) != 5 {
		t.Fatalf("snapshot capped rows = %d; want 5", len(got.Data))
	}
	if got.RowCount != 10 {
		t.Fatalf("snapshot RowCount = %d; want 10 (true count preserved)", got.RowCount)
	}
}

func TestGetNodeSQLEvolution(t *testing.T) {
	m := New(kvmemory.New())
	node := sampleNode()
	m.RecordGenerateSQL(node)
	node.Generation.SQL = "SELECT COUNT(*) FROM schools WHERE County = 'Alameda'"
	m.RecordGenerateSQL(node)

	evolution, err := m.GetNodeSQLEvolution("root")
	if err != nil {
		t.Fatalf("GetNodeSQLEvolution: %v", err)
	}
	if len(evolution) != 2 {
		t.Fatalf("GetNodeSQLEvolution = %d entries; want 2", len(evolution))
	}
	if evolution[0].Attempt != 1 || evolution[1].Attempt != 2 {
		t.Fatalf("attempt numbers = %d, %d; want 1, 2", evolution[0].Attempt, evolution[1].Attempt)
	}
	if evolution[1].SQL != "SELECT COUNT(*) FROM schools WHERE County = 'Alameda'" {
		t.Fatalf("evolution[1].SQL = %q; want final SQL", evolution[1].SQL)
	}
}

func TestGetNodeLifecycleCountsRevisions(t *testing.T) {
	m := New(kvmemory.New())
	node := sampleNode()
	m.RecordCreate(node)
	m.RecordGenerateSQL(node)
	m.RecordExecute(node, "error")
	m.RecordRevise(node, "bad column")
	m.RecordGenerateSQL(node)
	m.RecordExecute(node, "")

	lc, err := m.GetNodeLifecycle("root")
	if err != nil {
		t.Fatalf("GetNodeLifecycle: %v", err)
	}
	if lc.Created == nil || lc.SQLGenerated == nil || lc.Executed == nil {
		t.Fatalf("lifecycle timestamps missing: %+v", lc)
	}
	if lc.RevisedCount != 1 {
		t.Fatalf("RevisedCount = %d; want 1", lc.RevisedCount)
	}
	if lc.TotalOperations != 6 {
		t.Fatalf("TotalOperations = %d; want 6", lc.TotalOperations)
	}
}

func TestGetHistorySummarySuccessRate(t *testing.T) {
	m := New(kvmemory.New())
	a := sampleNode()
	a.NodeID = "a"
	b := sampleNode()
	b.NodeID = "b"

	m.RecordCreate(a)
	m.RecordExecute(a, "")
	m.RecordCreate(b)
	m.RecordExecute(b, "syntax error")

	summary, err := m.GetHistorySummary()
	if err != nil {
		t.Fatalf("GetHistorySummary: %v", err)
	}
	if summary.TotalOperations != 4 {
		t.Fatalf("TotalOperations = %d; want 4", summary.TotalOperations)
	}
	if summary.UniqueNodes != 2 {
		t.Fatalf("UniqueNodes = %d; want 2", summary.UniqueNodes)
	}
	if summary.TotalExecutions != 2 || summary.SuccessfulExecs != 1 || summary.FailedExecs != 1 {
		t.Fatalf("execution stats = %+v; want 2 total, 1 success, 1 failed", summary)
	}
	if summary.SuccessRate != 0.5 {
		t.Fatalf("SuccessRate = %v; want 0.5", summary.SuccessRate)
	}
}

func TestGetDeletedNodes(t *testing.T) {
	m := New(kvmemory.New())
	node := sampleNode()
	m.RecordCreate(node)
	m.RecordDelete(node, "superseded by revision")

	deleted, err := m.GetDeletedNodes()
	if err != nil {
		t.Fatalf("GetDeletedNodes: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "root" {
		t.Fatalf("GetDeletedNodes() = %v; want [root]", deleted)
	}
}

func TestEmptyHistoryQueriesReturnEmpty(t *testing.T) {
	m := New(kvmemory.New())
	ops, err := m.GetAllOperations()
	if err != nil {
		t.Fatalf("GetAllOperations: %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("GetAllOperations() on empty history = %v; want empty", ops)
	}
	summary, err := m.GetHistorySummary()
	if err != nil {
		t.Fatalf("GetHistorySummary: %v", err)
	}
	if summary.TotalOperations != 0 || summary.SuccessRate != 0 {
		t.Fatalf("summary on empty history = %+v; want zero values", summary)
	}
}
