package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/threefoldo/texttosql-go/internal/adapter"
	"github.com/threefoldo/texttosql-go/internal/dbschema"
	"github.com/threefoldo/texttosql-go/internal/querytree"
)

// ListAllTablesTool backs SQLGeneratorAgent's list_all_tables tool.
// Grounded on SQLGeneratorTools.list_all_tables.
type ListAllTablesTool struct {
	Schema *dbschema.Manager
}

func (t *ListAllTablesTool) Name() string { return "list_all_tables" }

func (t *ListAllTablesTool) Description() string {
	return "List all available tables in the database schema. No input required."
}

func (t *ListAllTablesTool) Call(ctx context.Context, _ string) (string, error) {
	tables, err := t.Schema.GetAllTables()
	if err != nil {
		return "", err
	}
	if len(tables) == 0 {
		return `{"tables":[],"count":0,"error":"no schema information available"}`, nil
	}

	type tableEntry struct {
		Name        string `json:"name"`
		ColumnCount int    `json:"column_count"`
	}
	entries := make([]tableEntry, 0, len(tables))
	for _, tbl := range tables {
		entries = append(entries, tableEntry{Name: tbl.Name, ColumnCount: len(tbl.Columns)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	out, err := json.Marshal(map[string]any{"tables": entries, "count": len(entries)})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// CheckTableColumnsTool backs check_table_columns(table).
// Grounded on SQLGeneratorTools.check_table_columns, including the
// similar-tables suggestion on miss.
type CheckTableColumnsTool struct {
	Schema *dbschema.Manager
}

func (t *CheckTableColumnsTool) Name() string { return "check_table_columns" }

func (t *CheckTableColumnsTool) Description() string {
	return "Check if a table exists and get its column information. Input: the table name."
}

func (t *CheckTableColumnsTool) Call(ctx context.Context, input string) (string, error) {
	tableName := strings.TrimSpace(input)
	table, ok, err := t.Schema.GetTable(tableName)
	if err != nil {
		return "", err
	}
	if !ok {
		all, _ := t.Schema.GetAllTables()
		similar := similarTableNames(tableName, all)
		out, _ := json.Marshal(map[string]any{
			"exists":         false,
			"error":          fmt.Sprintf("table %q not found in schema", tableName),
			"similar_tables": similar,
		})
		return string(out), nil
	}

	type colEntry struct {
		Name      string `json:"name"`
		Type      string `json:"type"`
		IsPrimary bool   `json:"is_primary"`
		IsForeign bool   `json:"is_foreign"`
		Nullable  bool   `json:"nullable"`
	}
	var cols []colEntry
	var pks, fks []string
	for name, info := range table.Columns {
		cols = append(cols, colEntry{Name: name, Type: info.DataType, IsPrimary: info.IsPrimaryKey, IsForeign: info.IsForeignKey, Nullable: info.Nullable})
		if info.IsPrimaryKey {
			pks = append(pks, name)
		}
		if info.IsForeignKey {
			fks = append(fks, name)
		}
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
	sort.Strings(pks)
	sort.Strings(fks)

	out, err := json.Marshal(map[string]any{
		"exists":        true,
		"exact_name":    table.Name,
		"columns":       cols,
		"column_count":  len(cols),
		"primary_keys":  pks,
		"foreign_keys":  fks,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// CheckColumnExistsTool backs check_column_exists(table, column).
// Grounded on SQLGeneratorTools.check_column_exists. Input is
// "table|column" — the same "key|value" separator convention the teacher
// uses for SetRichContextTool.
type CheckColumnExistsTool struct {
	Schema *dbschema.Manager
}

func (t *CheckColumnExistsTool) Name() string { return "check_column_exists" }

func (t *CheckColumnExistsTool) Description() string {
	return `Check if a specific column exists in a table. Input format: "table|column".`
}

func (t *CheckColumnExistsTool) Call(ctx context.Context, input string) (string, error) {
	parts := strings.SplitN(input, "|", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid input, expected: table|column")
	}
	tableName := strings.TrimSpace(parts[0])
	columnName := strings.TrimSpace(parts[1])

	table, ok, err := t.Schema.GetTable(tableName)
	if err != nil {
		return "", err
	}
	if !ok {
		out, _ := json.Marshal(map[string]any{
			"table_exists": false,
			"exists":       false,
			"error":        fmt.Sprintf("table %q not found", tableName),
		})
		return string(out), nil
	}

	for name, info := range table.Columns {
		if strings.EqualFold(name, columnName) {
			out, _ := json.Marshal(map[string]any{
				"table_exists":      true,
				"exists":            true,
				"exact_table_name":  table.Name,
				"exact_column_name": name,
				"type":              info.DataType,
			})
			return string(out), nil
		}
	}

	var available []string
	for name := range table.Columns {
		available = append(available, name)
	}
	sort.Strings(available)
	out, _ := json.Marshal(map[string]any{
		"table_exists":       true,
		"exists":             false,
		"exact_table_name":   table.Name,
		"error":              fmt.Sprintf("column %q not found in table %q", columnName, table.Name),
		"available_columns": available,
	})
	return string(out), nil
}

// similarTableNames mirrors SQLGeneratorTools._calculate_similarity's
// cheap character-overlap heuristic, capped to the top 5 matches.
func similarTableNames(target string, all []dbschema.TableSchema) []string {
	lower := strings.ToLower(target)
	var matches []string
	for _, tbl := range all {
		nameLower := strings.ToLower(tbl.Name)
		if strings.Contains(nameLower, lower) || strings.Contains(lower, nameLower) {
			matches = append(matches, tbl.Name)
		}
	}
	sort.Strings(matches)
	if len(matches) > 5 {
		matches = matches[:5]
	}
	return matches
}

// ExecuteSQLTool backs execute_sql(sql); it is the only tool with a side
// effect on the query tree: a successful run saves a row-capped execution
// result onto the current node's generation section, mirroring
// SQLGeneratorTools.execute_sql's "save to shared memory" behavior. It
// leaves generation.sql/query_type/confidence and generationAttempts
// untouched — those belong to SQLGeneratorAgent.ParseAndWrite once the
// model settles on a final answer, not to every tentative tool call made
// while refining it.
type ExecuteSQLTool struct {
	Tree *querytree.Manager
	DB   adapter.DBAdapter
}

func (t *ExecuteSQLTool) Name() string { return "execute_sql" }

func (t *ExecuteSQLTool) Description() string {
	return "Execute a SQL query against the target database and return actual results for verification and iterative improvement. Input: the SQL query string."
}

func (t *ExecuteSQLTool) Call(ctx context.Context, input string) (string, error) {
	sql := strings.TrimSpace(input)
	if !isReadOnlyQuery(sql) {
		out, _ := json.Marshal(map[string]any{
			"status": "error",
			"error":  "execute_sql only accepts read-only SELECT/WITH/EXPLAIN queries",
		})
		return string(out), nil
	}

	result, err := t.DB.ExecuteQuery(ctx, sql)
	if err != nil {
		out, _ := json.Marshal(map[string]any{"status": "error", "error": err.Error(), "row_count": 0})
		return string(out), nil
	}
	if result.Error != "" {
		out, _ := json.Marshal(map[string]any{"status": "error", "error": result.Error, "row_count": 0})
		return string(out), nil
	}

	execResult := &querytree.ExecutionResult{
		Data:     result.Rows,
		RowCount: result.RowCount,
		Columns:  result.Columns,
	}
	// Cap before storage, not just for the returned observation — node state
	// must never hold more than the five-row preview.
	execResult.CapRows()

	nodeID := t.currentNodeID()
	if nodeID != "" {
		gen := &querytree.Generation{ExecutionResult: execResult}
		if existing, ok, _ := t.Tree.GetNode(nodeID); ok && existing.Generation != nil {
			gen.SQL = existing.Generation.SQL
			gen.QueryType = existing.Generation.QueryType
			gen.Confidence = existing.Generation.Confidence
			gen.Explanation = existing.Generation.Explanation
		}
		_ = t.Tree.UpdateNode(nodeID, querytree.NodePatch{Generation: gen})
	}

	out, err := json.Marshal(map[string]any{
		"status":    "success",
		"columns":   execResult.Columns,
		"data":      execResult.Data,
		"row_count": execResult.RowCount,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (t *ExecuteSQLTool) currentNodeID() string {
	id, err := t.Tree.GetCurrentNodeID()
	if err != nil {
		return ""
	}
	return id
}

// isReadOnlyQuery rejects an obviously mutating query before it is even
// handed to the database driver. adapter.DBAdapter enforces the same rule
// again in runQuery — this check exists so the tool's own error message
// reaches the model as an observation it can react to, instead of a bare
// driver-level failure.
func isReadOnlyQuery(sql string) bool {
	return adapter.IsReadOnlyQuery(sql)
}
