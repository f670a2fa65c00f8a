// Package datasets implements dbschema.SchemaReader against BIRD/Spider
// dataset layouts, so cmd/texttosql can point at a benchmark directory
// instead of a live database. Grounded on teacher's
// internal/context/schema_parser.go (CREATE TABLE regex parser for each
// database's schema.sql) and cmd/analyze_results/spider_loader.go (dataset
// result-file conventions this package mirrors for dataset input).
package datasets

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// parsedTable is schema_parser.go's ParsedTable, adapted to feed
// dbschema.TableSchema instead of the teacher's mermaid/export pipeline.
type parsedTable struct {
	Name        string
	Columns     map[string]string // column name -> SQL type, insertion order lost (map)
	ColumnOrder []string
	PrimaryKeys []string
	ForeignKeys []parsedForeignKey
}

type parsedForeignKey struct {
	ColumnName       string
	ReferencedTable  string
	ReferencedColumn string
}

var (
	createTableRegex = regexp.MustCompile(`(?i)CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?["'` + "`" + `]?(\w+)["'` + "`" + `]?\s*\(((?:[^()]|\([^)]*\))*)\)`)
	lineCommentRegex = regexp.MustCompile(`--[^\n]*`)
	blockCommentRegex = regexp.MustCompile(`/\*[\s\S]*?\*/`)
	parenGroupRegex  = regexp.MustCompile(`\((.*?)\)`)
	foreignKeyColRegex = regexp.MustCompile(`(?i)foreign\s+key\s*\(\s*["'` + "`" + `]?(\w+)["'` + "`" + `]?\s*\)`)
	referencesRegex  = regexp.MustCompile(`(?i)references\s+["'` + "`" + `]?(\w+)["'` + "`" + `]?\s*\(\s*["'` + "`" + `]?(\w+)["'` + "`" + `]?\s*\)`)
)

// parseSchemaSQL parses a BIRD/Spider per-database schema.sql file into one
// parsedTable per CREATE TABLE statement.
func parseSchemaSQL(path string) (map[string]*parsedTable, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("datasets: reading %s: %w", path, err)
	}

	sql := lineCommentRegex.ReplaceAllString(string(content), "")
	sql = blockCommentRegex.ReplaceAllString(sql, "")

	tables := make(map[string]*parsedTable)
	for _, match := range createTableRegex.FindAllStringSubmatch(sql, -1) {
		if len(match) < 3 {
			continue
		}
		name := match[1]
		table := &parsedTable{
			Name:    name,
			Columns: make(map[string]string),
		}
		parseTableBody(table, match[2])
		tables[strings.ToLower(name)] = table
	}
	return tables, nil
}

func parseTableBody(table *parsedTable, body string) {
	for _, item := range splitTableItems(body) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		lower := strings.ToLower(item)
		switch {
		case strings.HasPrefix(lower, "primary key"):
			parsePrimaryKey(table, item)
		case strings.HasPrefix(lower, "foreign key"):
			parseForeignKey(table, item)
		default:
			parseColumnDefinition(table, item)
		}
	}
}

func splitTableItems(body string) []string {
	var items []string
	var current strings.Builder
	depth := 0
	for _, ch := range body {
		switch ch {
		case '(':
			depth++
			current.WriteRune(ch)
		case ')':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				items = append(items, current.String())
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}
	if current.Len() > 0 {
		items = append(items, current.String())
	}
	return items
}

func parseColumnDefinition(table *parsedTable, def string) {
	def = strings.Trim(def, "\"'`")
	parts := strings.Fields(def)
	if len(parts) < 2 {
		return
	}
	name := strings.Trim(parts[0], "\"'`")
	lower := strings.ToLower(def)

	if strings.Contains(lower, "primary key") {
		table.PrimaryKeys = append(table.PrimaryKeys, name)
	}
	if strings.Contains(lower, "references") {
		parseInlineForeignKey(table, name, def)
	}
	if _, exists := table.Columns[name]; !exists {
		table.ColumnOrder = append(table.ColumnOrder, name)
	}
	table.Columns[name] = strings.ToUpper(parts[1])
}

func parsePrimaryKey(table *parsedTable, constraint string) {
	matches := parenGroupRegex.FindStringSubmatch(constraint)
	if len(matches) < 2 {
		return
	}
	for _, col := range strings.Split(matches[1], ",") {
		col = strings.Trim(strings.TrimSpace(col), "\"'`")
		if col != "" {
			table.PrimaryKeys = append(table.PrimaryKeys, col)
		}
	}
}

func parseForeignKey(table *parsedTable, constraint string) {
	colMatch := foreignKeyColRegex.FindStringSubmatch(constraint)
	if len(colMatch) < 2 {
		return
	}
	refMatch := referencesRegex.FindStringSubmatch(constraint)
	if len(refMatch) < 3 {
		return
	}
	table.ForeignKeys = append(table.ForeignKeys, parsedForeignKey{
		ColumnName:       colMatch[1],
		ReferencedTable:  strings.ToLower(refMatch[1]),
		ReferencedColumn: refMatch[2],
	})
}

func parseInlineForeignKey(table *parsedTable, columnName, def string) {
	refMatch := referencesRegex.FindStringSubmatch(def)
	if len(refMatch) < 3 {
		return
	}
	table.ForeignKeys = append(table.ForeignKeys, parsedForeignKey{
		ColumnName:       columnName,
		ReferencedTable:  strings.ToLower(refMatch[1]),
		ReferencedColumn: refMatch[2],
	})
}
