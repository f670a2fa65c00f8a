package datasets

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/threefoldo/texttosql-go/internal/dbschema"
)

// BIRDSchemaReader implements dbschema.SchemaReader against a BIRD/Spider
// style dataset directory: DataDir/<dbID>/schema.sql plus an optional
// DataDir/<dbID>/database_description/<table>.csv per table holding
// column-level natural-language hints. Grounded on teacher's
// cmd/analyze_results/spider_loader.go dataset-path conventions and
// internal/context/schema_parser.go's CREATE TABLE parsing, generalized
// from mermaid/export output into dbschema.Description values.
type BIRDSchemaReader struct {
	DataDir     string
	DatasetName string
}

// NewBIRDSchemaReader creates a reader rooted at dataDir.
func NewBIRDSchemaReader(dataDir, datasetName string) *BIRDSchemaReader {
	return &BIRDSchemaReader{DataDir: dataDir, DatasetName: datasetName}
}

// ReadSchema parses dbID's schema.sql and, if present, its per-table
// description CSVs, and returns a dbschema.Description ready for Ingest.
func (r *BIRDSchemaReader) ReadSchema(ctx context.Context, dbID string) (*dbschema.Description, error) {
	dbDir := filepath.Join(r.DataDir, dbID)
	schemaPath := filepath.Join(dbDir, "schema.sql")

	parsed, err := parseSchemaSQL(schemaPath)
	if err != nil {
		return nil, err
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("datasets: no CREATE TABLE statements found in %s", schemaPath)
	}

	descDir := filepath.Join(dbDir, "database_description")
	tables := make([]dbschema.TableSchema, 0, len(parsed))

	for _, t := range parsed {
		hints, _ := loadColumnHints(filepath.Join(descDir, t.Name+".csv"))

		columns := make(map[string]dbschema.ColumnInfo, len(t.Columns))
		pk := toSet(t.PrimaryKeys)
		fkByColumn := make(map[string]parsedForeignKey, len(t.ForeignKeys))
		for _, fk := range t.ForeignKeys {
			fkByColumn[fk.ColumnName] = fk
		}

		for name, sqlType := range t.Columns {
			info := dbschema.ColumnInfo{
				DataType:     sqlType,
				Nullable:     !pk[name],
				IsPrimaryKey: pk[name],
			}
			if fk, ok := fkByColumn[name]; ok {
				info.IsForeignKey = true
				info.References = &dbschema.ColumnRef{Table: fk.ReferencedTable, Column: fk.ReferencedColumn}
			}
			if hint, ok := hints[strings.ToLower(name)]; ok && hint != "" {
				info.TypicalValues = []string{hint}
			}
			columns[name] = info
		}

		tables = append(tables, dbschema.TableSchema{
			Name:    t.Name,
			Columns: columns,
			Metadata: map[string]string{
				"sourceDb": dbID,
			},
		})
	}

	return &dbschema.Description{
		Tables: tables,
		Metadata: dbschema.Metadata{
			DataPath:    r.DataDir,
			DatasetName: r.DatasetName,
		},
	}, nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

// loadColumnHints reads a BIRD database_description/<table>.csv file and
// returns column name (lowercased) -> the "value_description" column's
// text, when both are present. Missing files are not an error — most BIRD
// tables have no description CSV.
func loadColumnHints(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil || len(rows) == 0 {
		return nil, err
	}

	header := rows[0]
	nameIdx, descIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "original_column_name":
			nameIdx = i
		case "column_name":
			if nameIdx == -1 {
				nameIdx = i
			}
		case "value_description":
			descIdx = i
		}
	}
	if nameIdx == -1 || descIdx == -1 {
		return map[string]string{}, nil
	}

	hints := make(map[string]string)
	for _, row := range rows[1:] {
		if nameIdx >= len(row) || descIdx >= len(row) {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(row[nameIdx]))
		desc := strings.TrimSpace(row[descIdx])
		if name != "" && desc != "" {
			hints[name] = desc
		}
	}
	return hints, nil
}
