package loader

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/report-etl/internal/report"
)

// copyIn streams the table through COPY FROM STDIN inside one transaction.
func (l *Loader) copyIn(ctx context.Context, schema, name string, table *report.CleanTable) (int64, error) {
	txn, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer txn.Rollback()

	query := pq.CopyIn(name, table.Columns...)
	if schema != "" {
		query = pq.CopyInSchema(schema, name, table.Columns...)
	}
	stmt, err := txn.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare COPY: %w", err)
	}
	defer stmt.Close()

	for i, row := range table.Rows {
		if _, err := stmt.ExecContext(ctx, rowArgs(row)...); err != nil {
			return 0, fmt.Errorf("copy row %d: %w", i+1, err)
		}
	}

	// Flush the COPY
	if _, err := stmt.ExecContext(ctx); err != nil {
		return 0, fmt.Errorf("failed to flush COPY: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("failed to close COPY: %w", err)
	}
	if err := txn.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return int64(table.Len()), nil
}
