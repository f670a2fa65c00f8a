package agent

import (
	"github.com/tmc/langchaingo/llms"

	"github.com/threefoldo/texttosql-go/internal/adapter"
	"github.com/threefoldo/texttosql-go/internal/dbschema"
	"github.com/threefoldo/texttosql-go/internal/history"
	"github.com/threefoldo/texttosql-go/internal/kvmemory"
	"github.com/threefoldo/texttosql-go/internal/pattern"
	"github.com/threefoldo/texttosql-go/internal/querytree"
	"github.com/threefoldo/texttosql-go/internal/taskcontext"
)

// Context is the task-scoped object threaded through every agent call,
// replacing the source's per-process singletons (logger, model client) with
// an explicit bundle of managers plus the external services (LLM, DB).
type Context struct {
	Store    *kvmemory.Store
	Task     *taskcontext.Manager
	Schema   *dbschema.Manager
	Tree     *querytree.Manager
	History  *history.Manager
	Patterns *pattern.Manager

	LLM llms.Model
	DB  adapter.DBAdapter

	// NodeID is the query tree node the current agent invocation targets —
	// normally the status checker's currentNodeId, but pattern agents also
	// receive it to scope learned rules to the node's database.
	NodeID string
}

// NewContext wires the manager facades over a shared store plus the
// external services every specialist agent needs.
func NewContext(store *kvmemory.Store, llm llms.Model, db adapter.DBAdapter) *Context {
	task := taskcontext.New(store)
	return &Context{
		Store:    store,
		Task:     task,
		Schema:   dbschema.New(store),
		Tree:     querytree.New(store),
		History:  history.New(store),
		Patterns: pattern.New(store, task),
		LLM:      llm,
		DB:       db,
	}
}

// WithNode returns a shallow copy of ac scoped to a different node id —
// agents never mutate the Context they're given.
func (ac *Context) WithNode(nodeID string) *Context {
	cp := *ac
	cp.NodeID = nodeID
	return &cp
}
