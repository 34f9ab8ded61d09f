package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/ignite/report-etl/internal/report"
)

// insertBatches writes the table as multi-row INSERT statements of at most
// batchSize rows, all inside one transaction.
func (l *Loader) insertBatches(ctx context.Context, schema, name string, table *report.CleanTable) (int64, error) {
	txn, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer txn.Rollback()

	target := name
	if schema != "" {
		target = schema + "." + name
	}
	cols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = snowflakeIdent(c)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", target, strings.Join(cols, ", "))
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"

	var written int64
	for start := 0; start < len(table.Rows); start += l.batchSize {
		end := start + l.batchSize
		if end > len(table.Rows) {
			end = len(table.Rows)
		}
		batch := table.Rows[start:end]

		tuples := make([]string, len(batch))
		args := make([]interface{}, 0, len(batch)*len(cols))
		for i, row := range batch {
			tuples[i] = tuple
			args = append(args, rowArgs(row)...)
		}
		if _, err := txn.ExecContext(ctx, prefix+strings.Join(tuples, ", "), args...); err != nil {
			return 0, fmt.Errorf("insert rows %d-%d: %w", start+1, end, err)
		}
		written += int64(len(batch))
	}

	if err := txn.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return written, nil
}

// snowflakeIdent leaves plain names unquoted so Snowflake resolves them
// case-insensitively against the upper-cased names of a normally created
// table. Other names, such as headers with spaces, are quoted verbatim.
func snowflakeIdent(s string) string {
	if identPattern.MatchString(s) {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
