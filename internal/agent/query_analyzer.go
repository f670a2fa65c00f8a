package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/threefoldo/texttosql-go/internal/querytree"
)

// QueryAnalyzerAgent analyzes the task's original query and creates the
// root QueryNode, decomposing it into child sub-questions when the query
// needs multi-step reasoning. Grounded on
// original_source/workflow_v2/src/query_analyzer_agent.py, with the
// sub-query node-id generation replaced by an agent-local counter
// (ids "<parent>_sub<n>") since
// this Go tree never mints timestamp-based ids outside the manager.
type QueryAnalyzerAgent struct{}

func (a *QueryAnalyzerAgent) Name() string { return "QueryAnalyzerAgent" }

func (a *QueryAnalyzerAgent) SystemPrompt() string {
	return `You are a query analyzer for text-to-SQL conversion. Your job is to:

1. Analyze the user's query to understand their intent
2. Identify which tables and columns are needed
3. Determine query complexity:
   - simple: single table or a straightforward join
   - complex: multiple aggregations, nested queries, or complex conditions that
     benefit from being split into independent sub-questions

4. For complex queries, decompose them into simpler sub-queries that can be
   executed independently and then combined.

Output your analysis in exactly this format:

<analysis>
  <intent>Clear restatement of what the user wants</intent>
  <complexity>simple|complex</complexity>
  <tables>
    <table name="table_name" purpose="why this table is needed"/>
  </tables>
  <decomposition>
    <subquery id="1">
      <intent>What this subquery answers</intent>
      <tables>table1, table2</tables>
    </subquery>
    <combination>
      <strategy>union|join|aggregate|filter|custom</strategy>
    </combination>
  </decomposition>
</analysis>

Omit <decomposition> entirely for simple queries.`
}

func (a *QueryAnalyzerAgent) ReaderContext(ctx context.Context, ac *Context) (string, error) {
	task, err := ac.Task.Get()
	if err != nil {
		return "", err
	}
	if task == nil {
		return "", fmt.Errorf("query analyzer: no task context")
	}
	summary, err := ac.Schema.GetSchemaSummary()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n", task.OriginalQuery)
	if task.Evidence != "" {
		fmt.Fprintf(&b, "Evidence: %s\n", task.Evidence)
	}
	fmt.Fprintf(&b, "\nSchema:\n%s\n", summary)
	return b.String(), nil
}

func (a *QueryAnalyzerAgent) Invoke(ctx context.Context, ac *Context, userMessage string) (string, error) {
	return ac.LLM.Call(ctx, a.SystemPrompt()+"\n\n"+userMessage)
}

func (a *QueryAnalyzerAgent) ParseAndWrite(ctx context.Context, ac *Context, rawOutput string) error {
	intent, err := requireTag(rawOutput, "intent")
	if err != nil {
		return err
	}
	complexity, _ := extractTag(rawOutput, "complexity")

	task, err := ac.Task.Get()
	if err != nil {
		return err
	}
	evidence := ""
	if task != nil {
		evidence = task.Evidence
	}

	rootID, err := ac.Tree.Initialize(intent, evidence)
	if err != nil {
		return err
	}
	if err := ac.History.RecordCreate(mustGetNode(ac, rootID)); err != nil {
		return err
	}

	decompBlock, hasDecomp := extractTag(rawOutput, "decomposition")
	if strings.EqualFold(complexity, "complex") && hasDecomp {
		if err := a.createSubqueryNodes(ac, rootID, decompBlock); err != nil {
			return err
		}
	}

	return nil
}

func (a *QueryAnalyzerAgent) createSubqueryNodes(ac *Context, parentID, decompBlock string) error {
	subqueryBlocks := extractBlocks(decompBlock, "subquery")
	seq := 1
	for _, sq := range subqueryBlocks {
		intent, err := requireTag(sq, "intent")
		if err != nil {
			return err
		}
		nodeID := fmt.Sprintf("%s_sub%d", parentID, seq)
		seq++

		node := &querytree.QueryNode{
			NodeID:   nodeID,
			Intent:   intent,
			ParentID: parentID,
			Status:   querytree.StatusCreated,
		}
		if err := ac.Tree.AddNode(node, parentID); err != nil {
			return err
		}
		if err := ac.History.RecordCreate(node); err != nil {
			return err
		}
	}

	strategy, _ := extractTag(decompBlock, "combination")
	strategyName, _ := extractTag(strategy, "strategy")
	if strategyName == "" {
		strategyName = string(querytree.StrategyCustom)
	}
	return ac.Tree.UpdateNode(parentID, querytree.NodePatch{
		Decomposition: &querytree.Decomposition{JoinStrategy: parseCombiningStrategy(strategyName)},
	})
}

func parseCombiningStrategy(s string) querytree.CombiningStrategy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(querytree.StrategyUnion):
		return querytree.StrategyUnion
	case string(querytree.StrategyJoin):
		return querytree.StrategyJoin
	case string(querytree.StrategyAggregate):
		return querytree.StrategyAggregate
	case string(querytree.StrategyFilter):
		return querytree.StrategyFilter
	default:
		return querytree.StrategyCustom
	}
}

// mustGetNode fetches a just-created node for history recording; absent
// only on a programming error (the manager just returned this id), in which
// case a placeholder node carrying only the id is recorded rather than
// panicking.
func mustGetNode(ac *Context, nodeID string) *querytree.QueryNode {
	node, ok, err := ac.Tree.GetNode(nodeID)
	if err != nil || !ok {
		return &querytree.QueryNode{NodeID: nodeID}
	}
	return node
}
