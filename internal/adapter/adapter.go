package adapter

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// DatabaseType database type enum
type DatabaseType string

const (
	MySQL      DatabaseType = "mysql"
	PostgreSQL DatabaseType = "postgresql"
	SQLite     DatabaseType = "sqlite"
)

// DBAdapter database adapter interface
// Lightweight: only handles connection and SQL execution
type DBAdapter interface {
	// Connect connects to database
	Connect(ctx context.Context) error

	// Close closes connection
	Close() error

	// ExecuteQuery executes query
	// Returns unified QueryResult with columns, rows, execution time
	ExecuteQuery(ctx context.Context, query string) (*QueryResult, error)

	// GetDatabaseType gets database type
	// Returns: "MySQL", "PostgreSQL", "SQLite" etc.
	GetDatabaseType() string

	// GetDatabaseVersion gets database version (optional)
	GetDatabaseVersion(ctx context.Context) (string, error)

	// DryRunSQL validates SQL syntax (dry run)
	DryRunSQL(ctx context.Context, sql string) error
}

// QueryResult query result (unified structure)
type QueryResult struct {
	Columns       []string                 // Column name
	Rows          []map[string]interface{} // Data rows (unified map format)
	RowCount      int                      // Row count
	ExecutionTime int64                    // Execution time (ms)
	Error         string                   // Error message (if any)
}

// DBConfig database connection config (generic)
type DBConfig struct {
	Type     string // Database type: "mysql", "postgresql", "sqlite"
	Host     string // Host address
	Port     int    // Port
	Database string // Database name
	User     string // Username
	Password string // Password

	// SQLite specific
	FilePath string // SQLite file path

	// Connection pool config (optional)
	MaxOpenConns int // Max open connections
	MaxIdleConns int // Max idle connections
}

// NewAdapter factory: creates adapter based on config
func NewAdapter(config *DBConfig) (DBAdapter, error) {
	switch config.Type {
	case "mysql":
		return NewMySQLAdapter(&MySQLConfig{
			Host:     config.Host,
			Port:     config.Port,
			Database: config.Database,
			User:     config.User,
			Password: config.Password,
		}), nil
	case "postgresql":
		return NewPostgreSQLAdapter(&PostgreSQLConfig{
			Host:     config.Host,
			Port:     config.Port,
			Database: config.Database,
			User:     config.User,
			Password: config.Password,
		}), nil
	case "sqlite":
		return NewSQLiteAdapter(&SQLiteConfig{
			FilePath: config.FilePath,
		}), nil
	default:
		return nil, &UnsupportedDatabaseError{Type: config.Type}
	}
}

// UnsupportedDatabaseError unsupported database type error
type UnsupportedDatabaseError struct {
	Type string
}

func (e *UnsupportedDatabaseError) Error() string {
	return "unsupported database type: " + e.Type
}

// NotReadOnlyError reports a query this system refuses to run against the
// database under test.
type NotReadOnlyError struct {
	SQL string
}

func (e *NotReadOnlyError) Error() string {
	return "adapter: only read-only SELECT/WITH/EXPLAIN queries are permitted, got: " + e.SQL
}

// IsReadOnlyQuery reports whether sql begins with a statement this system
// is allowed to run against the database under test: SELECT, a CTE-prefixed
// WITH, or an EXPLAIN used for a dry run. Every dialect adapter below checks
// this once, centrally, in runQuery — so neither a model's final committed
// SQL (SQLGeneratorAgent.ParseAndWrite) nor a tool's tentative execution
// (agent.ExecuteSQLTool) can reach this database through a mutating
// statement, regardless of which caller forgot its own guard.
func IsReadOnlyQuery(sql string) bool {
	trimmed := strings.TrimSpace(sql)
	trimmed = strings.TrimPrefix(trimmed, "(")
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "EXPLAIN":
		return true
	default:
		return false
	}
}

// runQuery executes query against db and materializes every row into the
// unified QueryResult shape. Shared by MySQLAdapter, PostgreSQLAdapter, and
// SQLiteAdapter's ExecuteQuery — the three dialects differ only in their
// sql.Open driver name and DSN, never in how database/sql rows get read.
func runQuery(ctx context.Context, db *sql.DB, query string) (*QueryResult, error) {
	start := time.Now()

	if !IsReadOnlyQuery(query) {
		err := &NotReadOnlyError{SQL: query}
		return &QueryResult{
			Error:         err.Error(),
			ExecutionTime: time.Since(start).Milliseconds(),
		}, err
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return &QueryResult{
			Error:         err.Error(),
			ExecutionTime: time.Since(start).Milliseconds(),
		}, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			val := values[i]
			if b, ok := val.([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = val
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &QueryResult{
		Columns:       columns,
		Rows:          result,
		RowCount:      len(result),
		ExecutionTime: time.Since(start).Milliseconds(),
	}, nil
}

// versionString runs a single-row, single-column version query and returns
// its value, the shared tail of every dialect's GetDatabaseVersion.
func versionString(ctx context.Context, db *sql.DB, query, column string) (string, error) {
	result, err := runQuery(ctx, db, query)
	if err != nil {
		return "", err
	}
	if result.Error != "" {
		return "", errors.New(result.Error)
	}
	if len(result.Rows) > 0 {
		if version, ok := result.Rows[0][column].(string); ok {
			return version, nil
		}
	}
	return "unknown", nil
}
