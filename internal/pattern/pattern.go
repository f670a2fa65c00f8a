// Package pattern owns the "rules_<db>_<agent>" keys: DO and DON'T rule
// lists per (database, agent type), updated by the pattern agents and read
// by the specialist agents via format-for-prompt. Database scoping is
// resolved dynamically from the task context at call time, not fixed at
// construction.
package pattern

import (
	"fmt"
	"strings"
	"time"

	"github.com/threefoldo/texttosql-go/internal/kvmemory"
	"github.com/threefoldo/texttosql-go/internal/taskcontext"
)

// maxRulesPerList bounds each of do_rules/dont_rules; oldest evicted first.
const maxRulesPerList = 15

// promptRuleCount is how many of the most recent rules of each kind are
// included when formatting for a prompt.
const promptRuleCount = 10

// AgentType names a specialist agent whose rules are tracked separately.
type AgentType string

const (
	AgentSchemaLinker AgentType = "schema_linker"
	AgentSQLGenerator AgentType = "sql_generator"
	AgentQueryAnalyzer AgentType = "query_analyzer"
)

// allAgentTypes enumerates the agents whose rules GetAllDatabaseRules walks.
var allAgentTypes = []AgentType{AgentSchemaLinker, AgentSQLGenerator, AgentQueryAnalyzer}

// RuleSet is the record stored at key rules_<db>_<agent>.
type RuleSet struct {
	DoRules     []string   `json:"doRules"`
	DontRules   []string   `json:"dontRules"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
}

// Manager is the PatternRepositoryManager.
type Manager struct {
	store   *kvmemory.Store
	tasks   *taskcontext.Manager
	now     func() time.Time
}

// New creates a Manager bound to store, resolving the current database
// name from tasks at call time.
func New(store *kvmemory.Store, tasks *taskcontext.Manager) *Manager {
	return &Manager{store: store, tasks: tasks, now: time.Now}
}

func ruleKey(dbName string, agent AgentType) string {
	return fmt.Sprintf("rules_%s_%s", dbName, agent)
}

func (m *Manager) databaseName() string {
	tc, err := m.tasks.Get()
	if err != nil || tc == nil || tc.DatabaseName == "" {
		return "unknown"
	}
	return tc.DatabaseName
}

// GetRulesForAgent returns the current rule set for agent, defaulting to
// an empty set if none has been recorded yet.
func (m *Manager) GetRulesForAgent(agent AgentType) (RuleSet, error) {
	return m.getRules(m.databaseName(), agent)
}

func (m *Manager) getRules(dbName string, agent AgentType) (RuleSet, error) {
	var rs RuleSet
	ok, err := m.store.GetJSON(ruleKey(dbName, agent), &rs)
	if err != nil {
		return RuleSet{}, err
	}
	if !ok {
		return RuleSet{}, nil
	}
	return rs, nil
}

func (m *Manager) storeRules(dbName string, agent AgentType, rs RuleSet) error {
	return m.store.SetJSON(ruleKey(dbName, agent), rs)
}

// AddDoRule appends rule to agent's DO list, deduping and FIFO-evicting
// above maxRulesPerList.
func (m *Manager) AddDoRule(agent AgentType, rule string) error {
	return m.addRule(agent, rule, true)
}

// AddDontRule appends rule to agent's DON'T list, deduping and
// FIFO-evicting above maxRulesPerList.
func (m *Manager) AddDontRule(agent AgentType, rule string) error {
	return m.addRule(agent, rule, false)
}

func (m *Manager) addRule(agent AgentType, rule string, isDo bool) error {
	dbName := m.databaseName()
	rs, err := m.getRules(dbName, agent)
	if err != nil {
		return err
	}
	list := &rs.DoRules
	if !isDo {
		list = &rs.DontRules
	}
	for _, existing := range *list {
		if existing == rule {
			return nil // duplicate, ignored
		}
	}
	*list = append(*list, rule)
	if len(*list) > maxRulesPerList {
		*list = (*list)[len(*list)-maxRulesPerList:]
	}
	now := m.now()
	rs.LastUpdated = &now
	return m.storeRules(dbName, agent, rs)
}

// FormatRulesForPrompt renders agent's rules as a human-readable block
// with DO:/DON'T: sections, trimmed to the most recent promptRuleCount of
// each. Returns "" if both lists are empty.
func (m *Manager) FormatRulesForPrompt(agent AgentType) (string, error) {
	rs, err := m.GetRulesForAgent(agent)
	if err != nil {
		return "", err
	}
	if len(rs.DoRules) == 0 && len(rs.DontRules) == 0 {
		return "", nil
	}

	dbName := m.databaseName()
	var b strings.Builder
	fmt.Fprintf(&b, "\n=== LEARNED RULES FOR %s DATABASE ===", strings.ToUpper(dbName))
	if len(rs.DoRules) > 0 {
		b.WriteString("\n✅ DO:")
		for _, rule := range lastN(rs.DoRules, promptRuleCount) {
			fmt.Fprintf(&b, "\n- %s", rule)
		}
	}
	if len(rs.DontRules) > 0 {
		b.WriteString("\n❌ DON'T:")
		for _, rule := range lastN(rs.DontRules, promptRuleCount) {
			fmt.Fprintf(&b, "\n- %s", rule)
		}
	}
	b.WriteString("\n")
	return b.String(), nil
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

// Analysis is the pattern agent's structured extraction, keyed by agent
// type, whose rule_* fields feed update_rules_from_success/failure.
type Analysis struct {
	AgentRules map[AgentType]map[string]string `json:"agentRules"`
}

// UpdateRulesFromSuccess reads analysis.AgentRules and adds a DO rule for
// every non-empty value whose key starts with "do_rule_".
func (m *Manager) UpdateRulesFromSuccess(analysis Analysis) error {
	return m.applyRulesFromAnalysis(analysis, "do_rule_", m.AddDoRule)
}

// UpdateRulesFromFailure reads analysis.AgentRules and adds a DONT rule for
// every non-empty value whose key starts with "dont_rule_".
func (m *Manager) UpdateRulesFromFailure(analysis Analysis) error {
	return m.applyRulesFromAnalysis(analysis, "dont_rule_", m.AddDontRule)
}

func (m *Manager) applyRulesFromAnalysis(analysis Analysis, prefix string, add func(AgentType, string) error) error {
	for agent, fields := range analysis.AgentRules {
		for key, rule := range fields {
			if rule == "" || !strings.HasPrefix(key, prefix) {
				continue
			}
			if err := add(agent, rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetAllDatabaseRules returns the rule sets for every known agent type
// against the current database.
func (m *Manager) GetAllDatabaseRules() (map[AgentType]RuleSet, error) {
	out := make(map[AgentType]RuleSet, len(allAgentTypes))
	for _, agent := range allAgentTypes {
		rs, err := m.GetRulesForAgent(agent)
		if err != nil {
			return nil, err
		}
		out[agent] = rs
	}
	return out, nil
}

// ClearRules resets agent's rule set for the current database to empty.
func (m *Manager) ClearRules(agent AgentType) error {
	return m.storeRules(m.databaseName(), agent, RuleSet{})
}
