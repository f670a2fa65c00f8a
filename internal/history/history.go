// Package history owns the append-only "nodeHistory" log: one entry per
// node lifecycle operation, each carrying a compact snapshot rather than
// the node's full prose. It is queried for SQL evolution, execution
// history, lifecycle summaries, and post-mortems; the query tree itself
// remains the runtime source of truth.
package history

import (
	"time"

	"github.com/threefoldo/texttosql-go/internal/kvmemory"
	"github.com/threefoldo/texttosql-go/internal/querytree"
)

const storeKey = "nodeHistory"

// OperationType is the kind of node lifecycle event recorded.
type OperationType string

const (
	OpCreate      OperationType = "create"
	OpGenerateSQL OperationType = "generate_sql"
	OpExecute     OperationType = "execute"
	OpRevise      OperationType = "revise"
	OpDelete      OperationType = "delete"
)

// maxSnapshotRows bounds execution-result rows kept in a snapshot.
const maxSnapshotRows = 5

// GenerationSnapshot is the compact slice of a Generation section kept in
// history: SQL and core metadata, never the explanation.
type GenerationSnapshot struct {
	SQL        string                     `json:"sql,omitempty"`
	QueryType  string                     `json:"queryType,omitempty"`
	Confidence querytree.Confidence       `json:"confidence,omitempty"`
	Execution  *querytree.ExecutionResult `json:"executionResult,omitempty"`
}

// EvaluationSnapshot is the compact slice of an Evaluation section kept in
// history.
type EvaluationSnapshot struct {
	Execution     *querytree.ExecutionResult `json:"executionResult,omitempty"`
	AnswersIntent querytree.AnswersIntent    `json:"answersIntent,omitempty"`
	ResultQuality querytree.ResultQuality    `json:"resultQuality,omitempty"`
}

// Snapshot is the essential information extracted from a QueryNode at the
// moment of an operation — no full prose explanations.
type Snapshot struct {
	NodeID        string                   `json:"nodeId"`
	Status        querytree.Status         `json:"status"`
	Intent        string                   `json:"intent"`
	ParentID      string                   `json:"parentId,omitempty"`
	ChildIDs      []string                 `json:"childIds,omitempty"`
	Evidence      string                   `json:"evidence,omitempty"`
	SchemaLinking *querytree.SchemaLinking `json:"schemaLinking,omitempty"`
	Generation    *GenerationSnapshot      `json:"generation,omitempty"`
	Evaluation    *EvaluationSnapshot      `json:"evaluation,omitempty"`
	Decomposition *querytree.Decomposition `json:"decomposition,omitempty"`
}

// Operation is one append-only log entry.
type Operation struct {
	Timestamp time.Time         `json:"timestamp"`
	NodeID    string            `json:"nodeId"`
	Operation OperationType     `json:"operation"`
	Snapshot  Snapshot          `json:"snapshot"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Manager is the NodeHistoryManager.
type Manager struct {
	store *kvmemory.Store
	now   func() time.Time
}

// New creates a Manager bound to store.
func New(store *kvmemory.Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// Initialize writes an empty history log.
func (m *Manager) Initialize() error {
	return m.store.SetJSON(storeKey, []Operation{})
}

func snapshot(node *querytree.QueryNode) Snapshot {
	s := Snapshot{
		NodeID:        node.NodeID,
		Status:        node.Status,
		Intent:        node.Intent,
		ParentID:      node.ParentID,
		ChildIDs:      append([]string(nil), node.ChildIDs...),
		Evidence:      node.Evidence,
		SchemaLinking: node.SchemaLinking,
		Decomposition: node.Decomposition,
	}
	if node.Generation != nil {
		exec := node.Generation.ExecutionResult
		if exec != nil {
			capped := *exec
			capped.CapRows()
			exec = &capped
		}
		s.Generation = &GenerationSnapshot{
			SQL:        node.Generation.SQL,
			QueryType:  node.Generation.QueryType,
			Confidence: node.Generation.Confidence,
			Execution:  exec,
		}
	}
	if node.Evaluation != nil {
		exec := node.Evaluation.ExecutionResult
		if exec != nil {
			capped := *exec
			capped.CapRows()
			exec = &capped
		}
		s.Evaluation = &EvaluationSnapshot{
			Execution:     exec,
			AnswersIntent: node.Evaluation.AnswersIntent,
			ResultQuality: node.Evaluation.ResultQuality,
		}
	}
	return s
}

func (m *Manager) record(node *querytree.QueryNode, opType OperationType, extra map[string]string) error {
	history, err := m.readAll()
	if err != nil {
		return err
	}
	history = append(history, Operation{
		Timestamp: m.now(),
		NodeID:    node.NodeID,
		Operation: opType,
		Snapshot:  snapshot(node),
		Extra:     extra,
	})
	return m.store.SetJSON(storeKey, history)
}

// RecordCreate logs node creation.
func (m *Manager) RecordCreate(node *querytree.QueryNode) error {
	return m.record(node, OpCreate, nil)
}

// RecordGenerateSQL logs a SQL generation write.
func (m *Manager) RecordGenerateSQL(node *querytree.QueryNode) error {
	return m.record(node, OpGenerateSQL, nil)
}

// RecordExecute logs an execution, with an optional error string.
func (m *Manager) RecordExecute(node *querytree.QueryNode, execErr string) error {
	var extra map[string]string
	if execErr != "" {
		extra = map[string]string{"error": execErr}
	}
	return m.record(node, OpExecute, extra)
}

// RecordRevise logs a revision, with an optional reason.
func (m *Manager) RecordRevise(node *querytree.QueryNode, reason string) error {
	var extra map[string]string
	if reason != "" {
		extra = map[string]string{"reason": reason}
	}
	return m.record(node, OpRevise, extra)
}

// RecordDelete logs a deletion, with an optional reason.
func (m *Manager) RecordDelete(node *querytree.QueryNode, reason string) error {
	var extra map[string]string
	if reason != "" {
		extra = map[string]string{"reason": reason}
	}
	return m.record(node, OpDelete, extra)
}

// GetAllOperations returns every recorded operation, in timestamp order.
func (m *Manager) GetAllOperations() ([]Operation, error) {
	return m.readAll()
}

// GetNodeOperations returns operations for a single node, in timestamp
// order.
func (m *Manager) GetNodeOperations(nodeID string) ([]Operation, error) {
	all, err := m.readAll()
	if err != nil {
		return nil, err
	}
	var out []Operation
	for _, op := range all {
		if op.NodeID == nodeID {
			out = append(out, op)
		}
	}
	return out, nil
}

// GetOperationsByType returns every operation of the given type.
func (m *Manager) GetOperationsByType(opType OperationType) ([]Operation, error) {
	all, err := m.readAll()
	if err != nil {
		return nil, err
	}
	var out []Operation
	for _, op := range all {
		if op.Operation == opType {
			out = append(out, op)
		}
	}
	return out, nil
}

// SQLEvolutionEntry is one generation in a node's SQL evolution.
type SQLEvolutionEntry struct {
	Attempt    int
	Timestamp  time.Time
	SQL        string
	Confidence querytree.Confidence
}

// GetNodeSQLEvolution returns every SQL generation for nodeID in order,
// numbered by attempt.
func (m *Manager) GetNodeSQLEvolution(nodeID string) ([]SQLEvolutionEntry, error) {
	ops, err := m.GetNodeOperations(nodeID)
	if err != nil {
		return nil, err
	}
	var out []SQLEvolutionEntry
	attempt := 1
	for _, op := range ops {
		if op.Operation != OpGenerateSQL || op.Snapshot.Generation == nil {
			continue
		}
		out = append(out, SQLEvolutionEntry{
			Attempt:    attempt,
			Timestamp:  op.Timestamp,
			SQL:        op.Snapshot.Generation.SQL,
			Confidence: op.Snapshot.Generation.Confidence,
		})
		attempt++
	}
	return out, nil
}

// ExecutionEntry is one execution attempt in a node's execution history.
type ExecutionEntry struct {
	Timestamp time.Time
	Result    *querytree.ExecutionResult
	Error     string
	Success   bool
}

// GetNodeExecutionHistory returns every execution for nodeID in order.
func (m *Manager) GetNodeExecutionHistory(nodeID string) ([]ExecutionEntry, error) {
	ops, err := m.GetNodeOperations(nodeID)
	if err != nil {
		return nil, err
	}
	var out []ExecutionEntry
	for _, op := range ops {
		if op.Operation != OpExecute {
			continue
		}
		errText := op.Extra["error"]
		var result *querytree.ExecutionResult
		if op.Snapshot.Generation != nil && op.Snapshot.Generation.Execution != nil {
			result = op.Snapshot.Generation.Execution
		} else if op.Snapshot.Evaluation != nil && op.Snapshot.Evaluation.Execution != nil {
			result = op.Snapshot.Evaluation.Execution
		}
		out = append(out, ExecutionEntry{
			Timestamp: op.Timestamp,
			Result:    result,
			Error:     errText,
			Success:   errText == "",
		})
	}
	return out, nil
}

// Lifecycle summarizes a single node's operation timeline.
type Lifecycle struct {
	NodeID          string
	Created         *time.Time
	SQLGenerated    *time.Time
	Executed        *time.Time
	RevisedCount    int
	Deleted         *time.Time
	TotalOperations int
}

// GetNodeLifecycle summarizes nodeID's operation timeline.
func (m *Manager) GetNodeLifecycle(nodeID string) (*Lifecycle, error) {
	ops, err := m.GetNodeOperations(nodeID)
	if err != nil {
		return nil, err
	}
	lc := &Lifecycle{NodeID: nodeID, TotalOperations: len(ops)}
	for i := range ops {
		op := ops[i]
		ts := op.Timestamp
		switch op.Operation {
		case OpCreate:
			lc.Created = &ts
		case OpGenerateSQL:
			lc.SQLGenerated = &ts
		case OpExecute:
			lc.Executed = &ts
		case OpRevise:
			lc.RevisedCount++
		case OpDelete:
			lc.Deleted = &ts
		}
	}
	return lc, nil
}

// Summary is an aggregate over the whole history log.
type Summary struct {
	TotalOperations    int
	UniqueNodes        int
	OperationCounts    map[OperationType]int
	TotalExecutions    int
	SuccessfulExecs    int
	FailedExecs        int
	SuccessRate        float64
	SQLGenerationCount int
	DeletedNodeCount   int
}

// GetHistorySummary aggregates counts and success rate across the whole
// history log.
func (m *Manager) GetHistorySummary() (*Summary, error) {
	all, err := m.readAll()
	if err != nil {
		return nil, err
	}
	s := &Summary{OperationCounts: map[OperationType]int{}}
	unique := map[string]bool{}
	for _, op := range all {
		s.TotalOperations++
		s.OperationCounts[op.Operation]++
		unique[op.NodeID] = true
		switch op.Operation {
		case OpExecute:
			if op.Extra["error"] != "" {
				s.FailedExecs++
			} else {
				s.SuccessfulExecs++
			}
		case OpGenerateSQL:
			s.SQLGenerationCount++
		}
	}
	s.UniqueNodes = len(unique)
	s.TotalExecutions = s.SuccessfulExecs + s.FailedExecs
	if s.TotalExecutions > 0 {
		s.SuccessRate = float64(s.SuccessfulExecs) / float64(s.TotalExecutions)
	}
	s.DeletedNodeCount = s.OperationCounts[OpDelete]
	return s, nil
}

// GetDeletedNodes returns the ids of every node deleted during the task.
func (m *Manager) GetDeletedNodes() ([]string, error) {
	ops, err := m.GetOperationsByType(OpDelete)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.NodeID)
	}
	return out, nil
}

// GetFailedExecutions returns every execution operation that recorded an
// error.
func (m *Manager) GetFailedExecutions() ([]Operation, error) {
	ops, err := m.GetOperationsByType(OpExecute)
	if err != nil {
		return nil, err
	}
	var out []Operation
	for _, op := range ops {
		if op.Extra["error"] != "" {
			out = append(out, op)
		}
	}
	return out, nil
}

// GetSuccessfulExecutions returns every execution operation without an
// error.
func (m *Manager) GetSuccessfulExecutions() ([]Operation, error) {
	ops, err := m.GetOperationsByType(OpExecute)
	if err != nil {
		return nil, err
	}
	var out []Operation
	for _, op := range ops {
		if op.Extra["error"] == "" {
			out = append(out, op)
		}
	}
	return out, nil
}

func (m *Manager) readAll() ([]Operation, error) {
	var ops []Operation
	ok, err := m.store.GetJSON(storeKey, &ops)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return ops, nil
}
