package extraction

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PostgresSource points at a live PostgreSQL instance restored from a
// backup, typically one published over iSCSI and started on a lab host
type PostgresSource struct {
	DSN      string `json:"dsn"`
	Schema   string `json:"schema,omitempty"` // defaults to public
	MaxRows  int    `json:"max_rows,omitempty"`
	MaxTable int    `json:"max_tables,omitempty"`
}

// ExtractPostgres samples tables from a running PostgreSQL database
func ExtractPostgres(ctx context.Context, src PostgresSource) ([]TableSample, error) {
	schema := src.Schema
	if schema == "" {
		schema = "public"
	}
	maxRows := src.MaxRows
	if maxRows <= 0 {
		maxRows = 1000
	}

	conn, err := pgx.Connect(ctx, src.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE' ORDER BY table_name`, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if src.MaxTable > 0 && len(names) > src.MaxTable {
		names = names[:src.MaxTable]
	}

	var tables []TableSample
	for _, name := range names {
		table, err := samplePostgresTable(ctx, conn, schema, name, maxRows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, *table)
	}
	return tables, nil
}

func samplePostgresTable(ctx context.Context, conn *pgx.Conn, schema, name string, maxRows int) (*TableSample, error) {
	table := &TableSample{Name: name}

	cols, err := conn.Query(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`, schema, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema of %s: %w", name, err)
	}
	for cols.Next() {
		var colName, colType string
		if err := cols.Scan(&colName, &colType); err != nil {
			cols.Close()
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		table.Columns = append(table.Columns, colName)
		table.Types = append(table.Types, colType)
	}
	cols.Close()
	if err := cols.Err(); err != nil {
		return nil, err
	}

	ident := pgx.Identifier{schema, name}.Sanitize()

	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM `+ident).Scan(&table.RowCount); err != nil {
		return nil, fmt.Errorf("failed to count rows of %s: %w", name, err)
	}

	rows, err := conn.Query(ctx, fmt.Sprintf(`SELECT * FROM %s LIMIT %d`, ident, maxRows))
	if err != nil {
		return nil, fmt.Errorf("failed to sample %s: %w", name, err)
	}
	defer rows.Close()

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row of %s: %w", name, err)
		}
		row := make(map[string]any, len(values))
		for i, col := range table.Columns {
			if i < len(values) {
				row[col] = values[i]
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, rows.Err()
}
