// Package querytree owns the "queryTree" key: the root id, current-node
// pointer, and the map of QueryNode records that make up one task's
// decomposition of a natural-language query into sub-questions.
package querytree

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/threefoldo/texttosql-go/internal/kvmemory"
)

const storeKey = "queryTree"

// RootNodeID is the fixed id the manager mints for the root node of every
// tree. Non-root node ids are caller-supplied opaque strings
// (QueryAnalyzerAgent uses "<parent>_sub<n>"); the manager never mints those.
const RootNodeID = "root"

// Status is a QueryNode's lifecycle state.
type Status string

const (
	StatusCreated         Status = "created"
	StatusSQLGenerated    Status = "sql_generated"
	StatusExecutedSuccess Status = "executed_success"
	StatusExecutedFailed  Status = "executed_failed"
	StatusRevised         Status = "revised"
)

// ColumnUsage tags how a schema-linked column is used by a node's SQL.
type ColumnUsage string

const (
	UsageSelect    ColumnUsage = "select"
	UsageFilter    ColumnUsage = "filter"
	UsageJoin      ColumnUsage = "join"
	UsageGroup     ColumnUsage = "group"
	UsageOrder     ColumnUsage = "order"
	UsageAggregate ColumnUsage = "aggregate"
)

// Confidence is a coarse three-level confidence label used across sections.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// AnswersIntent classifies whether an executed query answered its node's
// intent.
type AnswersIntent string

const (
	AnswersYes       AnswersIntent = "yes"
	AnswersNo        AnswersIntent = "no"
	AnswersPartially AnswersIntent = "partially"
)

// ResultQuality is the evaluator's quality label for a node's execution.
type ResultQuality string

const (
	QualityExcellent ResultQuality = "excellent"
	QualityGood      ResultQuality = "good"
	QualityPoor      ResultQuality = "poor"
	QualityFailed    ResultQuality = "failed"
)

// CombiningStrategy is how a decomposed parent combines its children's SQL.
type CombiningStrategy string

const (
	StrategyUnion     CombiningStrategy = "union"
	StrategyJoin      CombiningStrategy = "join"
	StrategyAggregate CombiningStrategy = "aggregate"
	StrategyFilter    CombiningStrategy = "filter"
	StrategyCustom    CombiningStrategy = "custom"
)

// ColumnRef is one selected/used column within a schema-linking candidate.
type ColumnRef struct {
	Table string      `json:"table"`
	Column string     `json:"column"`
	Usage ColumnUsage `json:"usage"`
}

// JoinEdge is one join emitted by SchemaLinkerAgent.
type JoinEdge struct {
	FromTable string `json:"fromTable"`
	ToTable   string `json:"toTable"`
	On        string `json:"on"`
	JoinType  string `json:"joinType"` // defaults to "INNER"
}

// SchemaLinking is the section written by SchemaLinkerAgent.
type SchemaLinking struct {
	Tables         []string        `json:"tables"`
	Columns        []ColumnRef     `json:"columns"`
	Joins          []JoinEdge      `json:"joins,omitempty"`
	DiscoveryTrace string          `json:"discoveryTrace,omitempty"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// ExecutionResult is the outcome of running SQL against the real database,
// whether captured via a tentative tool call during generation or the
// evaluator's authoritative run.
type ExecutionResult struct {
	Data     []map[string]any `json:"data,omitempty"`
	RowCount int              `json:"rowCount"`
	Columns  []string         `json:"columns,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// maxStoredRows bounds execution-result data captured for storage.
const maxStoredRows = 5

// CapRows truncates r's Data to maxStoredRows, leaving RowCount at the true
// row count. Used by SQLGeneratorAgent/SQLEvaluatorAgent before writing an
// ExecutionResult into a node.
func (r *ExecutionResult) CapRows() {
	if len(r.Data) > maxStoredRows {
		r.Data = r.Data[:maxStoredRows]
	}
}

// Generation is the section written by SQLGeneratorAgent.
type Generation struct {
	SQL             string           `json:"sql"`
	QueryType       string           `json:"queryType,omitempty"`
	Confidence      Confidence       `json:"confidence,omitempty"`
	ExecutionResult *ExecutionResult `json:"executionResult,omitempty"`
	Explanation     string           `json:"explanation,omitempty"`
	Raw             json.RawMessage  `json:"raw,omitempty"`
}

// Evaluation is the section written by SQLEvaluatorAgent.
type Evaluation struct {
	ExecutionResult  *ExecutionResult `json:"executionResult,omitempty"`
	AnswersIntent    AnswersIntent    `json:"answersIntent,omitempty"`
	ResultQuality    ResultQuality    `json:"resultQuality,omitempty"`
	Issues           []string         `json:"issues,omitempty"`
	Suggestions      []string         `json:"suggestions,omitempty"`
	ConfidenceScore  float64          `json:"confidenceScore,omitempty"`
	Raw              json.RawMessage  `json:"raw,omitempty"`
}

// Decomposition is the section written by QueryAnalyzerAgent when a query
// is split into child sub-questions.
type Decomposition struct {
	JoinStrategy CombiningStrategy `json:"joinStrategy"`
	Raw          json.RawMessage   `json:"raw,omitempty"`
}

// QueryNode is the central record: one sub-question in the tree.
type QueryNode struct {
	NodeID             string         `json:"nodeId"`
	Intent             string         `json:"intent"`
	Evidence           string         `json:"evidence,omitempty"`
	ParentID           string         `json:"parentId,omitempty"`
	ChildIDs           []string       `json:"childIds,omitempty"`
	Status             Status         `json:"status"`
	SchemaLinking      *SchemaLinking `json:"schemaLinking,omitempty"`
	Generation         *Generation    `json:"generation,omitempty"`
	Evaluation         *Evaluation    `json:"evaluation,omitempty"`
	Decomposition      *Decomposition `json:"decomposition,omitempty"`
	GenerationAttempts int            `json:"generationAttempts"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// IsRoot reports whether n has no parent.
func (n *QueryNode) IsRoot() bool { return n.ParentID == "" }

// Tree is the record stored under storeKey.
type Tree struct {
	RootID        string                `json:"rootId"`
	CurrentNodeID string                `json:"currentNodeId,omitempty"`
	Nodes         map[string]*QueryNode `json:"nodes"`
}

// Manager is the QueryTreeManager.
type Manager struct {
	store *kvmemory.Store
	now   func() time.Time
}

// New creates a Manager bound to store.
func New(store *kvmemory.Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// Initialize creates a fresh tree with a single root node carrying
// rootIntent/evidence, and returns the root's id.
func (m *Manager) Initialize(rootIntent, evidence string) (string, error) {
	now := m.now()
	root := &QueryNode{
		NodeID:    RootNodeID,
		Intent:    rootIntent,
		Evidence:  evidence,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tree := &Tree{
		RootID:        RootNodeID,
		CurrentNodeID: RootNodeID,
		Nodes:         map[string]*QueryNode{RootNodeID: root},
	}
	return RootNodeID, m.write(tree)
}

// AddNode inserts node as a child of parentId. node.NodeID must be unique
// in the tree and is supplied by the caller (the manager only mints the
// root's id).
func (m *Manager) AddNode(node *QueryNode, parentID string) error {
	tree, err := m.read()
	if err != nil {
		return err
	}
	if tree == nil {
		return fmt.Errorf("querytree: AddNode: tree not initialized")
	}
	if _, exists := tree.Nodes[node.NodeID]; exists {
		return fmt.Errorf("querytree: AddNode: node %q already exists", node.NodeID)
	}
	parent, ok := tree.Nodes[parentID]
	if !ok {
		return fmt.Errorf("querytree: AddNode: parent %q not found", parentID)
	}
	now := m.now()
	node.ParentID = parentID
	if node.Status == "" {
		node.Status = StatusCreated
	}
	node.CreatedAt = now
	node.UpdatedAt = now
	tree.Nodes[node.NodeID] = node
	parent.ChildIDs = append(parent.ChildIDs, node.NodeID)
	parent.UpdatedAt = now
	return m.write(tree)
}

// GetNode returns the node with id, or ok=false if absent.
func (m *Manager) GetNode(id string) (*QueryNode, bool, error) {
	tree, err := m.read()
	if err != nil {
		return nil, false, err
	}
	if tree == nil {
		return nil, false, nil
	}
	n, ok := tree.Nodes[id]
	return n, ok, nil
}

// NodePatch carries the optional fields UpdateNode may change. Only
// non-nil fields are applied; each section is owned by exactly one agent
// type, so callers are expected to set at most the section(s) that agent
// writes.
type NodePatch struct {
	Intent        *string
	Evidence      *string
	Status        *Status
	SchemaLinking *SchemaLinking
	Generation    *Generation
	Evaluation    *Evaluation
	Decomposition *Decomposition
}

// UpdateNode applies patch to the node with id.
func (m *Manager) UpdateNode(id string, patch NodePatch) error {
	tree, err := m.read()
	if err != nil {
		return err
	}
	if tree == nil {
		return fmt.Errorf("querytree: UpdateNode: tree not initialized")
	}
	n, ok := tree.Nodes[id]
	if !ok {
		return fmt.Errorf("querytree: UpdateNode: node %q not found", id)
	}
	if patch.Intent != nil {
		n.Intent = *patch.Intent
	}
	if patch.Evidence != nil {
		n.Evidence = *patch.Evidence
	}
	if patch.Status != nil {
		n.Status = *patch.Status
	}
	if patch.SchemaLinking != nil {
		n.SchemaLinking = patch.SchemaLinking
	}
	if patch.Generation != nil {
		n.Generation = patch.Generation
	}
	if patch.Evaluation != nil {
		n.Evaluation = patch.Evaluation
	}
	if patch.Decomposition != nil {
		n.Decomposition = patch.Decomposition
	}
	n.UpdatedAt = m.now()
	return m.write(tree)
}

// UpdateNodeSQL writes sql into the node's generation section, increments
// generationAttempts, and transitions status to sql_generated — the
// status update happens together with the section write that justifies
// it, per the section-ownership invariant. It also clears any evaluation
// from a prior attempt: that judgment was of the old candidate, and the
// new one has not been evaluated yet.
func (m *Manager) UpdateNodeSQL(id, sql string) error {
	tree, err := m.read()
	if err != nil {
		return err
	}
	if tree == nil {
		return fmt.Errorf("querytree: UpdateNodeSQL: tree not initialized")
	}
	n, ok := tree.Nodes[id]
	if !ok {
		return fmt.Errorf("querytree: UpdateNodeSQL: node %q not found", id)
	}
	if n.Generation == nil {
		n.Generation = &Generation{}
	}
	n.Generation.SQL = sql
	n.Generation.ExecutionResult = nil
	n.Evaluation = nil
	n.GenerationAttempts++
	n.Status = StatusSQLGenerated
	n.UpdatedAt = m.now()
	return m.write(tree)
}

// ClearAfterRelink drops a node's prior SQL, execution result, and
// evaluation. Called after a schema relink: the new table/column choices
// invalidate whatever SQL was generated against the old ones, so the node
// must go back to needs_sql and regenerate rather than keep re-evaluating
// (or re-failing the same bad_sql classification against) a stale query.
func (m *Manager) ClearAfterRelink(id string) error {
	tree, err := m.read()
	if err != nil {
		return err
	}
	if tree == nil {
		return fmt.Errorf("querytree: ClearAfterRelink: tree not initialized")
	}
	n, ok := tree.Nodes[id]
	if !ok {
		return fmt.Errorf("querytree: ClearAfterRelink: node %q not found", id)
	}
	n.Generation = nil
	n.Evaluation = nil
	n.UpdatedAt = m.now()
	return m.write(tree)
}

// UpdateNodeResult writes executionResult into the node's evaluation
// section and transitions status to executed_success or executed_failed.
func (m *Manager) UpdateNodeResult(id string, executionResult *ExecutionResult, success bool) error {
	tree, err := m.read()
	if err != nil {
		return err
	}
	if tree == nil {
		return fmt.Errorf("querytree: UpdateNodeResult: tree not initialized")
	}
	n, ok := tree.Nodes[id]
	if !ok {
		return fmt.Errorf("querytree: UpdateNodeResult: node %q not found", id)
	}
	if n.Evaluation == nil {
		n.Evaluation = &Evaluation{}
	}
	n.Evaluation.ExecutionResult = executionResult
	if success {
		n.Status = StatusExecutedSuccess
	} else {
		n.Status = StatusExecutedFailed
	}
	n.UpdatedAt = m.now()
	return m.write(tree)
}

// DeleteNode removes id and its entire subtree (deletion is explicit
// revision, rare, and always cascades — a parent may not outlive its
// children's memory). currentNodeId is reset to the root if it pointed
// into the deleted subtree.
func (m *Manager) DeleteNode(id string) error {
	tree, err := m.read()
	if err != nil {
		return err
	}
	if tree == nil {
		return fmt.Errorf("querytree: DeleteNode: tree not initialized")
	}
	n, ok := tree.Nodes[id]
	if !ok {
		return fmt.Errorf("querytree: DeleteNode: node %q not found", id)
	}
	if id == tree.RootID {
		return fmt.Errorf("querytree: DeleteNode: cannot delete root %q", id)
	}

	toDelete := map[string]bool{}
	var collect func(string)
	collect = func(nodeID string) {
		toDelete[nodeID] = true
		for _, childID := range tree.Nodes[nodeID].ChildIDs {
			collect(childID)
		}
	}
	collect(id)

	if parent, ok := tree.Nodes[n.ParentID]; ok {
		kept := parent.ChildIDs[:0]
		for _, childID := range parent.ChildIDs {
			if childID != id {
				kept = append(kept, childID)
			}
		}
		parent.ChildIDs = kept
		parent.UpdatedAt = m.now()
	}
	for nodeID := range toDelete {
		delete(tree.Nodes, nodeID)
	}
	if toDelete[tree.CurrentNodeID] {
		tree.CurrentNodeID = tree.RootID
	}
	return m.write(tree)
}

// GetChildren returns id's direct children.
func (m *Manager) GetChildren(id string) ([]*QueryNode, error) {
	tree, err := m.read()
	if err != nil || tree == nil {
		return nil, err
	}
	n, ok := tree.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("querytree: GetChildren: node %q not found", id)
	}
	out := make([]*QueryNode, 0, len(n.ChildIDs))
	for _, childID := range n.ChildIDs {
		out = append(out, tree.Nodes[childID])
	}
	return out, nil
}

// GetParent returns id's parent, or nil if id is the root.
func (m *Manager) GetParent(id string) (*QueryNode, error) {
	tree, err := m.read()
	if err != nil || tree == nil {
		return nil, err
	}
	n, ok := tree.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("querytree: GetParent: node %q not found", id)
	}
	if n.ParentID == "" {
		return nil, nil
	}
	return tree.Nodes[n.ParentID], nil
}

// GetSiblings returns id's siblings (same parent, excluding id itself). The
// root has no siblings.
func (m *Manager) GetSiblings(id string) ([]*QueryNode, error) {
	tree, err := m.read()
	if err != nil || tree == nil {
		return nil, err
	}
	n, ok := tree.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("querytree: GetSiblings: node %q not found", id)
	}
	if n.ParentID == "" {
		return nil, nil
	}
	parent := tree.Nodes[n.ParentID]
	out := make([]*QueryNode, 0, len(parent.ChildIDs))
	for _, siblingID := range parent.ChildIDs {
		if siblingID != id {
			out = append(out, tree.Nodes[siblingID])
		}
	}
	return out, nil
}

// GetAncestors returns id's ancestors, nearest first, ending at the root.
func (m *Manager) GetAncestors(id string) ([]*QueryNode, error) {
	tree, err := m.read()
	if err != nil || tree == nil {
		return nil, err
	}
	n, ok := tree.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("querytree: GetAncestors: node %q not found", id)
	}
	var out []*QueryNode
	for n.ParentID != "" {
		parent, ok := tree.Nodes[n.ParentID]
		if !ok {
			break
		}
		out = append(out, parent)
		n = parent
	}
	return out, nil
}

// GetLeaves returns every node with no children, sorted by node id.
func (m *Manager) GetLeaves() ([]*QueryNode, error) {
	tree, err := m.read()
	if err != nil || tree == nil {
		return nil, err
	}
	var out []*QueryNode
	for _, n := range tree.Nodes {
		if len(n.ChildIDs) == 0 {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

// GetCurrentNodeID returns the tree's current-node pointer, or "" if unset.
func (m *Manager) GetCurrentNodeID() (string, error) {
	tree, err := m.read()
	if err != nil || tree == nil {
		return "", err
	}
	return tree.CurrentNodeID, nil
}

// SetCurrentNodeID moves the current-node pointer. It refuses to point at a
// node absent from the tree.
func (m *Manager) SetCurrentNodeID(id string) error {
	tree, err := m.read()
	if err != nil {
		return err
	}
	if tree == nil {
		return fmt.Errorf("querytree: SetCurrentNodeID: tree not initialized")
	}
	if _, ok := tree.Nodes[id]; !ok {
		return fmt.Errorf("querytree: SetCurrentNodeID: node %q not found", id)
	}
	tree.CurrentNodeID = id
	return m.write(tree)
}

// GetRootID returns the tree's root id.
func (m *Manager) GetRootID() (string, error) {
	tree, err := m.read()
	if err != nil || tree == nil {
		return "", err
	}
	return tree.RootID, nil
}

// TreeStats summarizes a tree for the orchestrator and CLI reporting.
type TreeStats struct {
	TotalNodes            int
	ByStatus              map[Status]int
	MaxGenerationAttempts int
}

// GetTreeStats returns aggregate counts over the current tree.
func (m *Manager) GetTreeStats() (*TreeStats, error) {
	tree, err := m.read()
	if err != nil {
		return nil, err
	}
	stats := &TreeStats{ByStatus: map[Status]int{}}
	if tree == nil {
		return stats, nil
	}
	stats.TotalNodes = len(tree.Nodes)
	for _, n := range tree.Nodes {
		stats.ByStatus[n.Status]++
		if n.GenerationAttempts > stats.MaxGenerationAttempts {
			stats.MaxGenerationAttempts = n.GenerationAttempts
		}
	}
	return stats, nil
}

// GetTree returns the full tree, or nil if uninitialized. Exposed for
// TaskStatusChecker, which needs a whole-tree view the rest of this API
// does not provide piecemeal.
func (m *Manager) GetTree() (*Tree, error) {
	return m.read()
}

func (m *Manager) read() (*Tree, error) {
	var tree Tree
	ok, err := m.store.GetJSON(storeKey, &tree)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &tree, nil
}

func (m *Manager) write(tree *Tree) error {
	return m.store.SetJSON(storeKey, *tree)
}
