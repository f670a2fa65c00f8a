package orchestrator

import "errors"

// Sentinel errors realizing the error taxonomy of spec.md §7. Orchestrator
// callers (CLI, batch runner) switch on errors.Is against these rather than
// string-matching messages.
var (
	// ErrInputInvalid names a query or database name that fails basic
	// validation. No code in this module returns it; cmd/texttosql reports
	// invalid input through its own exit codes.
	ErrInputInvalid = errors.New("orchestrator: invalid input")

	// ErrSchemaNotFound names a configured database with no schema loaded
	// into dbschema.Manager. No code in this module returns it.
	ErrSchemaNotFound = errors.New("orchestrator: schema not found")

	// ErrAgentOutputMalformed is returned once an agent fails its output
	// grammar on the same node three times in a row (spec.md §7's
	// three-consecutive-parse-failures rule). The wrapped message names the
	// agent and node.
	ErrAgentOutputMalformed = errors.New("orchestrator: agent output malformed")

	// ErrBudgetExhausted is returned when the step or time budget runs out
	// before the tree reaches TERMINATE.
	ErrBudgetExhausted = errors.New("orchestrator: budget exhausted")
)
