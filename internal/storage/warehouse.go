// Package storage holds the pgx repositories: the opendata warehouse the
// sync engine loads, the operator configuration tables and the produced
// story records.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lcalmbach/open-data-insights-sub000/pkg/database"
)

// WarehouseRepository implements contracts.Warehouse against the opendata
// schema where synchronized dataset tables live.
type WarehouseRepository struct {
	db *database.DB
}

// NewWarehouseRepository creates a warehouse repository.
func NewWarehouseRepository(db *database.DB) *WarehouseRepository {
	return &WarehouseRepository{db: db}
}

// RunQuery executes a parameterized SELECT and returns rows as column-name
// keyed maps, so template-driven queries need no static scan targets.
func (r *WarehouseRepository) RunQuery(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// RunAction executes a statement without a result set.
func (r *WarehouseRepository) RunAction(ctx context.Context, sql string, args ...any) error {
	_, err := r.db.Pool.Exec(ctx, sql, args...)
	return err
}

// TableExists checks for a table in the warehouse schema.
func (r *WarehouseRepository) TableExists(ctx context.Context, table string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)
	`
	var exists bool
	err := r.db.Pool.QueryRow(ctx, query, r.db.Schema, table).Scan(&exists)
	return exists, err
}

// Append bulk-inserts rows into a warehouse table. The target table is
// created from the column list when it does not exist yet, every column
// typed after its first non-nil value.
func (r *WarehouseRepository) Append(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	exists, err := r.TableExists(ctx, table)
	if err != nil {
		return 0, err
	}
	if !exists {
		if err := r.createTable(ctx, table, columns, rows); err != nil {
			return 0, fmt.Errorf("create table %s: %w", table, err)
		}
	}

	copied, err := r.db.Pool.CopyFrom(ctx,
		pgx.Identifier{r.db.Schema, table},
		columns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, err
	}
	return copied, nil
}

// LastTimestamp returns the most recent value of a timestamp column,
// ok=false when the table has no rows.
func (r *WarehouseRepository) LastTimestamp(ctx context.Context, table, column string) (time.Time, bool, error) {
	query := fmt.Sprintf("SELECT max(%s) FROM %s",
		pgx.Identifier{column}.Sanitize(),
		pgx.Identifier{r.db.Schema, table}.Sanitize())

	var ts *time.Time
	if err := r.db.Pool.QueryRow(ctx, query).Scan(&ts); err != nil {
		return time.Time{}, false, err
	}
	if ts == nil {
		return time.Time{}, false, nil
	}
	return *ts, true, nil
}

// Identifiers lists the distinct values of the record identifier column as
// text.
func (r *WarehouseRepository) Identifiers(ctx context.Context, table, column string) ([]string, error) {
	query := fmt.Sprintf("SELECT DISTINCT %s::text FROM %s",
		pgx.Identifier{column}.Sanitize(),
		pgx.Identifier{r.db.Schema, table}.Sanitize())

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id *string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if id != nil {
			ids = append(ids, *id)
		}
	}
	return ids, rows.Err()
}

func (r *WarehouseRepository) createTable(ctx context.Context, table string, columns []string, rows [][]any) error {
	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = pgx.Identifier{col}.Sanitize() + " " + columnType(i, rows)
	}

	query := fmt.Sprintf("CREATE TABLE %s (", pgx.Identifier{r.db.Schema, table}.Sanitize())
	for i, def := range defs {
		if i > 0 {
			query += ", "
		}
		query += def
	}
	query += ")"

	_, err := r.db.Pool.Exec(ctx, query)
	return err
}

// columnType picks a Postgres type from the first non-nil cell of a column.
func columnType(idx int, rows [][]any) string {
	for _, row := range rows {
		if idx >= len(row) || row[idx] == nil {
			continue
		}
		switch row[idx].(type) {
		case int, int32, int64:
			return "bigint"
		case float64, float32:
			return "double precision"
		case bool:
			return "boolean"
		case time.Time:
			return "timestamp"
		default:
			return "text"
		}
	}
	return "text"
}
