package statuschecker

import "strings"

// schemaShapedKeywords are substrings of a SQL execution error that point at
// a schema-linking problem (wrong table/column chosen) rather than a syntax
// mistake.
var schemaShapedKeywords = []string{
	"no such table",
	"no such column",
	"unknown column",
	"unknown table",
	"ambiguous column",
	"does not exist",
}

// syntaxKeywords are substrings of a SQL execution error that point at a
// malformed query rather than a wrong schema choice.
var syntaxKeywords = []string{
	"syntax error",
	"near \"",
	"unrecognized token",
	"parse error",
}

// ClassifyBadSQL distinguishes a failed query's error text into a routing
// choice for nextAgentFor's bad_sql case: schema-shaped errors point at
// SchemaLinkerAgent, syntax errors point at SQLGeneratorAgent. Safe from the
// relink-loops-forever trap because SchemaLinkerAgent clears the node's
// stale generation/evaluation on every relink (querytree.Manager.
// ClearAfterRelink), so a relinked node always comes back through here as
// needs_sql rather than bad_sql against the same error text.
func ClassifyBadSQL(errText string) NextAgent {
	lower := strings.ToLower(errText)
	for _, kw := range schemaShapedKeywords {
		if strings.Contains(lower, kw) {
			return AgentSchemaLinker
		}
	}
	for _, kw := range syntaxKeywords {
		if strings.Contains(lower, kw) {
			return AgentSQLGenerator
		}
	}
	// Unrecognized error shape: default to regeneration, the cheaper retry.
	return AgentSQLGenerator
}
