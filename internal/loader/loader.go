// Package loader appends normalized report tables to the destination store.
// Every call is append-only and runs in its own transaction: a cell either
// lands completely or not at all.
package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/ignite/report-etl/internal/report"
)

// Dialect selects the bulk insert strategy.
type Dialect string

const (
	Postgres  Dialect = "postgres"
	Snowflake Dialect = "snowflake"
)

const defaultBatchSize = 500

// ErrEmptyTable is returned when Append is handed a table with no rows.
// The database is not touched.
var ErrEmptyTable = errors.New("table has no rows")

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// LoadError wraps a failed append with the destination it targeted.
type LoadError struct {
	Table string
	Rows  int
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("append %d rows to %s: %v", e.Rows, e.Table, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loader writes CleanTables into one relational database.
type Loader struct {
	db        *sql.DB
	dialect   Dialect
	batchSize int
}

// New creates a Loader over an open database handle.
func New(db *sql.DB, dialect Dialect, batchSize int) *Loader {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Loader{db: db, dialect: dialect, batchSize: batchSize}
}

// Append inserts every row of table into dest, which is "table" or
// "schema.table". Existing rows are never touched. It returns the number of
// rows written.
func (l *Loader) Append(ctx context.Context, table *report.CleanTable, dest string) (int64, error) {
	if table.Empty() {
		return 0, ErrEmptyTable
	}
	schema, name, err := splitDest(dest)
	if err != nil {
		return 0, &LoadError{Table: dest, Rows: table.Len(), Err: err}
	}

	start := time.Now()
	var n int64
	switch l.dialect {
	case Postgres:
		n, err = l.copyIn(ctx, schema, name, table)
	case Snowflake:
		n, err = l.insertBatches(ctx, schema, name, table)
	default:
		err = fmt.Errorf("unsupported dialect %q", l.dialect)
	}
	if err != nil {
		return 0, &LoadError{Table: dest, Rows: table.Len(), Err: err}
	}

	log.Printf("[loader] appended %d rows to %s in %v", n, dest, time.Since(start).Round(time.Millisecond))
	return n, nil
}

func splitDest(dest string) (schema, name string, err error) {
	parts := strings.Split(strings.TrimSpace(dest), ".")
	switch len(parts) {
	case 1:
		name = parts[0]
	case 2:
		schema, name = parts[0], parts[1]
	default:
		return "", "", fmt.Errorf("invalid destination %q", dest)
	}
	if !identPattern.MatchString(name) || (schema != "" && !identPattern.MatchString(schema)) {
		return "", "", fmt.Errorf("invalid destination %q", dest)
	}
	return schema, name, nil
}

// rowArgs converts one row to driver arguments. Empty cells become NULL.
func rowArgs(row []string) []interface{} {
	args := make([]interface{}, len(row))
	for i, v := range row {
		if v == "" {
			args[i] = nil
			continue
		}
		args[i] = v
	}
	return args
}
