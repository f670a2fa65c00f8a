// Package dbschema owns the "databaseSchema" key: tables, columns, sample
// rows, and foreign-key edges for the database a task is working against.
// The manager is authoritative for that key — no other component writes it.
package dbschema

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/threefoldo/texttosql-go/internal/kvmemory"
)

const storeKey = "databaseSchema"

// ColumnRef points at a column in another table, used for foreign keys.
type ColumnRef struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// ColumnInfo describes one column of a TableSchema.
type ColumnInfo struct {
	DataType      string      `json:"dataType"`
	Nullable      bool        `json:"nullable"`
	IsPrimaryKey  bool        `json:"isPrimaryKey"`
	IsForeignKey  bool        `json:"isForeignKey"`
	References    *ColumnRef  `json:"references,omitempty"`
	TypicalValues []string    `json:"typicalValues,omitempty"`
}

// TableSchema describes one table.
type TableSchema struct {
	Name       string                `json:"name"`
	Columns    map[string]ColumnInfo `json:"columns"`
	SampleData []map[string]any     `json:"sampleData,omitempty"`
	Metadata   map[string]string     `json:"metadata,omitempty"`
}

// Metadata is the top-level, non-table metadata of a DatabaseSchema.
type Metadata struct {
	DataPath    string `json:"dataPath,omitempty"`
	DatasetName string `json:"datasetName,omitempty"`
}

// DatabaseSchema is the record stored under storeKey.
type DatabaseSchema struct {
	Tables   map[string]TableSchema `json:"tables"`
	Metadata Metadata                `json:"metadata"`
}

// Description is what an external SchemaReader yields for one database:
// enough to populate a DatabaseSchema via ingestion.
type Description struct {
	Tables   []TableSchema
	Metadata Metadata
}

// SchemaReader is the external collaborator that ingests a schema for a
// given database id (e.g. from BIRD/Spider dataset files). Implementations
// live outside internal/ core packages, e.g. internal/datasets.
type SchemaReader interface {
	ReadSchema(ctx context.Context, dbID string) (*Description, error)
}

// Relationship is one foreign-key edge discovered by FindRelationships.
type Relationship struct {
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
}

// Manager is the DatabaseSchemaManager.
type Manager struct {
	store *kvmemory.Store
}

// New creates a Manager bound to store.
func New(store *kvmemory.Store) *Manager {
	return &Manager{store: store}
}

// Initialize writes an empty schema if none exists yet.
func (m *Manager) Initialize() error {
	existing, err := m.read()
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return m.write(&DatabaseSchema{Tables: map[string]TableSchema{}})
}

// Ingest loads tables and metadata from reader for dbID and stores them
// verbatim as nested JSON under storeKey.
func (m *Manager) Ingest(ctx context.Context, reader SchemaReader, dbID string) error {
	desc, err := reader.ReadSchema(ctx, dbID)
	if err != nil {
		return fmt.Errorf("dbschema: ingest %s: %w", dbID, err)
	}
	schema := &DatabaseSchema{
		Tables:   make(map[string]TableSchema, len(desc.Tables)),
		Metadata: desc.Metadata,
	}
	for _, t := range desc.Tables {
		schema.Tables[t.Name] = t
	}
	return m.write(schema)
}

// AddTable adds or replaces a single table.
func (m *Manager) AddTable(table TableSchema) error {
	schema, err := m.readOrEmpty()
	if err != nil {
		return err
	}
	schema.Tables[table.Name] = table
	return m.write(schema)
}

// GetTable returns the named table, or ok=false if absent.
func (m *Manager) GetTable(name string) (*TableSchema, bool, error) {
	schema, err := m.readOrEmpty()
	if err != nil {
		return nil, false, err
	}
	t, ok := schema.Tables[name]
	if !ok {
		return nil, false, nil
	}
	return &t, true, nil
}

// GetAllTables returns every table, sorted by name for stable output.
func (m *Manager) GetAllTables() ([]TableSchema, error) {
	schema, err := m.readOrEmpty()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(schema.Tables))
	for name := range schema.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]TableSchema, 0, len(names))
	for _, name := range names {
		out = append(out, schema.Tables[name])
	}
	return out, nil
}

// GetColumns returns the columns of table, sorted by name.
func (m *Manager) GetColumns(table string) ([]string, error) {
	t, ok, err := m.GetTable(table)
	if err != nil || !ok {
		return nil, err
	}
	names := make([]string, 0, len(t.Columns))
	for name := range t.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// GetPrimaryKeys returns the primary-key columns of table, sorted by name.
func (m *Manager) GetPrimaryKeys(table string) ([]string, error) {
	t, ok, err := m.GetTable(table)
	if err != nil || !ok {
		return nil, err
	}
	var pks []string
	for name, col := range t.Columns {
		if col.IsPrimaryKey {
			pks = append(pks, name)
		}
	}
	sort.Strings(pks)
	return pks, nil
}

// GetForeignKeys returns the foreign-key columns of table, sorted by name.
func (m *Manager) GetForeignKeys(table string) ([]string, error) {
	t, ok, err := m.GetTable(table)
	if err != nil || !ok {
		return nil, err
	}
	var fks []string
	for name, col := range t.Columns {
		if col.IsForeignKey {
			fks = append(fks, name)
		}
	}
	sort.Strings(fks)
	return fks, nil
}

// FindRelationships returns the foreign-key edges directly connecting
// fromTable and toTable, in either direction. Lookups that cross tables
// linearly scan all columns; acceptable for schemas of up to a few hundred
// tables.
func (m *Manager) FindRelationships(fromTable, toTable string) ([]Relationship, error) {
	schema, err := m.readOrEmpty()
	if err != nil {
		return nil, err
	}
	var rels []Relationship
	if t, ok := schema.Tables[fromTable]; ok {
		for colName, col := range t.Columns {
			if col.IsForeignKey && col.References != nil && col.References.Table == toTable {
				rels = append(rels, Relationship{
					FromTable: fromTable, FromColumn: colName,
					ToTable: toTable, ToColumn: col.References.Column,
				})
			}
		}
	}
	if t, ok := schema.Tables[toTable]; ok {
		for colName, col := range t.Columns {
			if col.IsForeignKey && col.References != nil && col.References.Table == fromTable {
				rels = append(rels, Relationship{
					FromTable: toTable, FromColumn: colName,
					ToTable: fromTable, ToColumn: col.References.Column,
				})
			}
		}
	}
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].FromTable != rels[j].FromTable {
			return rels[i].FromTable < rels[j].FromTable
		}
		return rels[i].FromColumn < rels[j].FromColumn
	})
	return rels, nil
}

// SearchColumnsByType returns "table.column" references for every column
// whose DataType matches dataType case-insensitively, sorted.
func (m *Manager) SearchColumnsByType(dataType string) ([]string, error) {
	schema, err := m.readOrEmpty()
	if err != nil {
		return nil, err
	}
	want := strings.ToUpper(dataType)
	var matches []string
	for tableName, t := range schema.Tables {
		for colName, col := range t.Columns {
			if strings.ToUpper(col.DataType) == want {
				matches = append(matches, tableName+"."+colName)
			}
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// GetSchemaSummary renders a short human-readable overview: table count and
// per-table column counts, in table-name order.
func (m *Manager) GetSchemaSummary() (string, error) {
	tables, err := m.GetAllTables()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d tables\n", len(tables))
	for _, t := range tables {
		fmt.Fprintf(&b, "- %s (%d columns)\n", t.Name, len(t.Columns))
	}
	return b.String(), nil
}

func (m *Manager) read() (*DatabaseSchema, error) {
	var schema DatabaseSchema
	ok, err := m.store.GetJSON(storeKey, &schema)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &schema, nil
}

func (m *Manager) readOrEmpty() (*DatabaseSchema, error) {
	schema, err := m.read()
	if err != nil {
		return nil, err
	}
	if schema == nil {
		schema = &DatabaseSchema{Tables: map[string]TableSchema{}}
	}
	if schema.Tables == nil {
		schema.Tables = map[string]TableSchema{}
	}
	return schema, nil
}

func (m *Manager) write(schema *DatabaseSchema) error {
	return m.store.SetJSON(storeKey, *schema)
}
