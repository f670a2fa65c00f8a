// Package statuschecker implements the deterministic, no-LLM tree
// inspector: it classifies every node, advances the current-node pointer,
// and emits a human-readable report whose last line names the next agent
// to invoke (or TERMINATE). It performs no mutation other than moving
// currentNodeId.
package statuschecker

import (
	"fmt"
	"strings"

	"github.com/threefoldo/texttosql-go/internal/querytree"
)

// NodeStatus is this package's classification of one node, distinct from
// querytree.Status (the node's own lifecycle field) — it reflects what the
// checker thinks should happen next, not what has already happened.
type NodeStatus string

const (
	NodeComplete  NodeStatus = "complete"
	NodeBadSQL    NodeStatus = "bad_sql"
	NodeNeedsEval NodeStatus = "needs_eval"
	NodeNeedsSQL  NodeStatus = "needs_sql"
)

// maxGenerationAttempts is the per-node cap; reaching it forces completion
// regardless of quality.
const maxGenerationAttempts = 3

// NextAgent names the agent the orchestrator should invoke next.
type NextAgent string

const (
	AgentQueryAnalyzer NextAgent = "QueryAnalyzerAgent"
	AgentSchemaLinker  NextAgent = "SchemaLinkerAgent"
	AgentSQLGenerator  NextAgent = "SQLGeneratorAgent"
	AgentSQLEvaluator  NextAgent = "SQLEvaluatorAgent"
	AgentNone          NextAgent = ""
)

// analysis is the per-node scratch record built by the first two passes.
type analysis struct {
	status             NodeStatus
	hasSchemaLinking   bool
	hasSQL             bool
	hasExecution       bool
	quality            querytree.ResultQuality
	executionError     string
	intent             string
	children           []string
	parent             string
	attemptCount       int
	maxAttemptsReached bool
}

// Checker is the TaskStatusChecker.
type Checker struct {
	tree *querytree.Manager
}

// New creates a Checker bound to tree.
func New(tree *querytree.Manager) *Checker {
	return &Checker{tree: tree}
}

// Result is the outcome of one Run: the full report string plus the
// parsed "NEXT" line, so callers don't have to re-parse the report.
type Result struct {
	Report     string
	Next       NextAgent
	Terminate  bool
	NoTreeYet  bool
}

// Run walks the tree, classifies every node, advances currentNodeId, and
// returns a status report.
func (c *Checker) Run() (*Result, error) {
	tree, err := c.tree.GetTree()
	if err != nil {
		return nil, err
	}
	if tree == nil || len(tree.Nodes) == 0 {
		return &Result{Report: "STATUS: No query tree found", NoTreeYet: true}, nil
	}
	if tree.RootID == "" {
		return &Result{Report: "STATUS: No root node in tree", NoTreeYet: true}, nil
	}

	statuses := analyzeAllNodes(tree)
	currentID, err := c.navigateTree(tree, statuses)
	if err != nil {
		return nil, err
	}

	report, next, terminate := generateReport(tree, statuses, currentID)
	return &Result{Report: report, Next: next, Terminate: terminate}, nil
}

func analyzeAllNodes(tree *querytree.Tree) map[string]*analysis {
	statuses := make(map[string]*analysis, len(tree.Nodes))

	for id, n := range tree.Nodes {
		hasSchemaLinking := n.SchemaLinking != nil
		hasSQL := n.Generation != nil && n.Generation.SQL != ""
		hasExecution := (n.Generation != nil && n.Generation.ExecutionResult != nil) ||
			(n.Evaluation != nil && n.Evaluation.ExecutionResult != nil)

		quality := querytree.ResultQuality("none")
		if n.Evaluation != nil && n.Evaluation.ResultQuality != "" {
			quality = n.Evaluation.ResultQuality
		}

		var executionError string
		if n.Evaluation != nil && n.Evaluation.ExecutionResult != nil {
			executionError = n.Evaluation.ExecutionResult.Error
		} else if n.Generation != nil && n.Generation.ExecutionResult != nil {
			executionError = n.Generation.ExecutionResult.Error
		}

		attemptCount := n.GenerationAttempts
		maxReached := attemptCount >= maxGenerationAttempts

		var status NodeStatus
		switch {
		case quality == querytree.QualityExcellent || quality == querytree.QualityGood:
			status = NodeComplete
		case maxReached:
			status = NodeComplete
		case hasExecution && quality != querytree.QualityExcellent && quality != querytree.QualityGood:
			status = NodeBadSQL
		case hasSQL && !hasExecution:
			status = NodeNeedsEval
		default:
			status = NodeNeedsSQL
		}

		statuses[id] = &analysis{
			status:             status,
			hasSchemaLinking:   hasSchemaLinking,
			hasSQL:             hasSQL,
			hasExecution:       hasExecution,
			quality:            quality,
			executionError:     executionError,
			intent:             n.Intent,
			children:           append([]string(nil), n.ChildIDs...),
			parent:             n.ParentID,
			attemptCount:       attemptCount,
			maxAttemptsReached: maxReached,
		}
	}

	// Second pass: a parent whose children are all finished (complete or at
	// max attempts) and that has no combining SQL yet is re-classified as
	// needs_sql — it generates its combining SQL only after children settle.
	// A parent that already has its SQL keeps its first-pass status so it is
	// evaluated. It is never marked complete directly here;
	// SQLGeneratorAgent/SQLEvaluatorAgent still have to run.
	for id, s := range statuses {
		if len(s.children) == 0 {
			continue
		}
		allFinished := true
		for _, childID := range s.children {
			child, ok := statuses[childID]
			if !ok || (child.status != NodeComplete && !child.maxAttemptsReached) {
				allFinished = false
				break
			}
		}
		if allFinished && !s.hasSQL && (s.status == NodeNeedsSQL || s.status == NodeNeedsEval || s.status == NodeBadSQL) {
			statuses[id].status = NodeNeedsSQL
		}
	}

	return statuses
}

func (c *Checker) navigateTree(tree *querytree.Tree, statuses map[string]*analysis) (string, error) {
	currentID := tree.CurrentNodeID

	if currentID == "" {
		if err := c.tree.SetCurrentNodeID(tree.RootID); err != nil {
			return "", err
		}
		return tree.RootID, nil
	}

	if _, ok := statuses[currentID]; !ok {
		if err := c.tree.SetCurrentNodeID(tree.RootID); err != nil {
			return "", err
		}
		return tree.RootID, nil
	}

	current := statuses[currentID]

	for _, childID := range current.children {
		child, ok := statuses[childID]
		if ok && (child.status == NodeNeedsSQL || child.status == NodeNeedsEval || child.status == NodeBadSQL) {
			if err := c.tree.SetCurrentNodeID(childID); err != nil {
				return "", err
			}
			return childID, nil
		}
	}

	if current.status == NodeComplete {
		allChildrenComplete := true
		for _, childID := range current.children {
			if statuses[childID] == nil || statuses[childID].status != NodeComplete {
				allChildrenComplete = false
				break
			}
		}
		if allChildrenComplete {
			next := findNextNode(statuses, currentID)
			if next != "" && next != currentID {
				if err := c.tree.SetCurrentNodeID(next); err != nil {
					return "", err
				}
				return next, nil
			}
		}
	}

	return currentID, nil
}

func findNextNode(statuses map[string]*analysis, currentID string) string {
	current := statuses[currentID]
	parentID := current.parent
	if parentID == "" {
		return currentID
	}
	parent := statuses[parentID]

	idx := -1
	for i, childID := range parent.children {
		if childID == currentID {
			idx = i
			break
		}
	}
	for i := idx + 1; i < len(parent.children); i++ {
		siblingID := parent.children[i]
		sibling, ok := statuses[siblingID]
		if !ok || sibling.status != NodeComplete {
			return siblingID
		}
	}
	return findNextNode(statuses, parentID)
}

// nextAgentFor derives the "NEXT: Call <agent>" nomination for a node's
// checker-status. needs_sql defers to SchemaLinkerAgent when schema linking
// has not run yet. bad_sql routes on the shape of the execution error itself
// via ClassifyBadSQL — schema-shaped errors (wrong table/column) go back to
// SchemaLinkerAgent, syntax-shaped errors go to SQLGeneratorAgent — falling
// back to SchemaLinkerAgent first if linking has never run at all, since
// there is nothing yet for a regenerated query to be linked against.
func nextAgentFor(s *analysis) NextAgent {
	switch s.status {
	case NodeNeedsSQL:
		if !s.hasSchemaLinking {
			return AgentSchemaLinker
		}
		return AgentSQLGenerator
	case NodeNeedsEval:
		return AgentSQLEvaluator
	case NodeBadSQL:
		if !s.hasSchemaLinking {
			return AgentSchemaLinker
		}
		return ClassifyBadSQL(s.executionError)
	default:
		return AgentNone
	}
}

func generateReport(tree *querytree.Tree, statuses map[string]*analysis, currentID string) (string, NextAgent, bool) {
	total := len(statuses)
	complete := 0
	counts := map[NodeStatus]int{NodeComplete: 0, NodeNeedsSQL: 0, NodeNeedsEval: 0, NodeBadSQL: 0}
	for _, s := range statuses {
		counts[s.status]++
		if s.status == NodeComplete {
			complete++
		}
	}

	var lines []string
	lines = append(lines,
		fmt.Sprintf("TREE OVERVIEW: %d/%d nodes complete", complete, total),
		fmt.Sprintf("PENDING: %d need SQL, %d need eval, %d bad SQL", counts[NodeNeedsSQL], counts[NodeNeedsEval], counts[NodeBadSQL]),
		fmt.Sprintf("CURRENT_NODE: %s", currentID),
	)

	current, ok := statuses[currentID]
	node := tree.Nodes[currentID]
	var next NextAgent = AgentNone

	if ok && node != nil {
		lines = append(lines,
			fmt.Sprintf("CURRENT_STATUS: %s", current.status),
			fmt.Sprintf("CURRENT_INTENT: %s", current.intent),
			"CURRENT_NODE_CONTENT:",
		)

		maxMarker := ""
		if current.maxAttemptsReached {
			maxMarker = " (MAX REACHED)"
		}
		lines = append(lines, fmt.Sprintf("  - Attempts: %d/%d%s", current.attemptCount, maxGenerationAttempts, maxMarker))

		schemaInfo := "none"
		if current.hasSchemaLinking && node.SchemaLinking != nil {
			schemaInfo = fmt.Sprintf("tables: %s", strings.Join(node.SchemaLinking.Tables, ", "))
		}
		lines = append(lines, fmt.Sprintf("  - Schema linked: %v (%s)", current.hasSchemaLinking, schemaInfo))

		lines = append(lines, fmt.Sprintf("  - SQL generated: %v", current.hasSQL))
		if current.hasSQL && node.Generation != nil {
			sql := strings.ReplaceAll(strings.TrimSpace(node.Generation.SQL), "\n", " ")
			lines = append(lines, fmt.Sprintf("    SQL: %s", sql))
		}

		execInfo := "none"
		if current.hasExecution {
			var exec *querytree.ExecutionResult
			if node.Generation != nil && node.Generation.ExecutionResult != nil {
				exec = node.Generation.ExecutionResult
			} else if node.Evaluation != nil && node.Evaluation.ExecutionResult != nil {
				exec = node.Evaluation.ExecutionResult
			}
			if exec != nil {
				if exec.Error == "" {
					execInfo = fmt.Sprintf("%d rows, success", exec.RowCount)
				} else {
					execInfo = fmt.Sprintf("%d rows, error - %s", exec.RowCount, exec.Error)
				}
			}
		}
		lines = append(lines, fmt.Sprintf("  - Execution: %v (%s), Quality: %s", current.hasExecution, execInfo, current.quality))

		if current.status == NodeBadSQL && node.Evaluation != nil {
			if len(node.Evaluation.Issues) > 0 || len(node.Evaluation.Suggestions) > 0 {
				lines = append(lines, "  - Issues detected:")
				for _, issue := range node.Evaluation.Issues {
					lines = append(lines, fmt.Sprintf("    * %s", issue))
				}
				if len(node.Evaluation.Suggestions) > 0 {
					lines = append(lines, "  - Suggestions:")
					for _, suggestion := range node.Evaluation.Suggestions {
						lines = append(lines, fmt.Sprintf("    * %s", suggestion))
					}
				}
			}
		}

		next = nextAgentFor(current)
	}

	terminate := complete == total
	if terminate {
		lines = append(lines, "OVERALL_STATUS: All nodes complete")
		lines = append(lines, "NEXT: TERMINATE")
	} else {
		lines = append(lines, "OVERALL_STATUS: Processing in progress")
		lines = append(lines, fmt.Sprintf("NEXT: Call %s", next))
	}

	return strings.Join(lines, "\n"), next, terminate
}
