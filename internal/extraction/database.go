package extraction

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"
)

// TableSample is a sampled table from an extracted database
type TableSample struct {
	Name     string           `json:"table_name"`
	Columns  []string         `json:"columns"`
	Types    []string         `json:"column_types,omitempty"`
	RowCount int              `json:"row_count"`
	Rows     []map[string]any `json:"sample_rows,omitempty"`
}

// ExtractSQLite opens a SQLite file read-only and samples up to maxRows
// rows from every user table
func ExtractSQLite(ctx context.Context, path string, maxRows int) ([]TableSample, error) {
	if maxRows <= 0 {
		maxRows = 1000
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&immutable=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite file: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("not a readable sqlite database: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
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

	var tables []TableSample
	for _, name := range names {
		table, err := sampleSQLiteTable(ctx, db, name, maxRows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, *table)
	}
	return tables, nil
}

func sampleSQLiteTable(ctx context.Context, db *sql.DB, name string, maxRows int) (*TableSample, error) {
	table := &TableSample{Name: name}

	// Table names come from sqlite_master, but quote them anyway
	quoted := `"` + strings.ReplaceAll(name, `"`, `""`) + `"`

	cols, err := db.QueryContext(ctx, `PRAGMA table_info(`+quoted+`)`)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema of %s: %w", name, err)
	}
	for cols.Next() {
		var cid int
		var colName, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := cols.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
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

	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+quoted).Scan(&table.RowCount); err != nil {
		return nil, fmt.Errorf("failed to count rows of %s: %w", name, err)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s LIMIT %d`, quoted, maxRows))
	if err != nil {
		return nil, fmt.Errorf("failed to sample %s: %w", name, err)
	}
	defer rows.Close()

	for rows.Next() {
		values := make([]any, len(table.Columns))
		pointers := make([]any, len(values))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan row of %s: %w", name, err)
		}

		row := make(map[string]any, len(values))
		for i, col := range table.Columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, rows.Err()
}

var (
	createTableRe = regexp.MustCompile("(?i)^\\s*CREATE\\s+TABLE\\s+(?:IF\\s+NOT\\s+EXISTS\\s+)?[`\"\\[]?([\\w.]+)[`\"\\]]?\\s*\\(")
	insertRe      = regexp.MustCompile("(?i)^\\s*INSERT\\s+INTO\\s+[`\"\\[]?([\\w.]+)[`\"\\]]?")
	columnDefRe   = regexp.MustCompile("^\\s*[`\"\\[]?(\\w+)[`\"\\]]?\\s+(\\w+)")
)

// ParseSQLDump scans a SQL dump for CREATE TABLE schemas and counts INSERT
// statements per table. Row values are not replayed; the dump is inventory,
// not a database to execute.
func ParseSQLDump(path string, maxSize int64) ([]TableSample, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat dump: %w", err)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, fmt.Errorf("dump exceeds size limit (%d bytes)", info.Size())
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dump: %w", err)
	}
	defer f.Close()

	byName := make(map[string]*TableSample)
	var order []string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var current *TableSample
	inCreate := false

	for scanner.Scan() {
		line := scanner.Text()

		if m := createTableRe.FindStringSubmatch(line); m != nil {
			name := m[1]
			current = &TableSample{Name: name}
			byName[name] = current
			order = append(order, name)
			inCreate = !strings.Contains(line, ");")
			continue
		}

		if inCreate && current != nil {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, ")") {
				inCreate = false
				current = nil
				continue
			}
			upper := strings.ToUpper(trimmed)
			if strings.HasPrefix(upper, "PRIMARY KEY") || strings.HasPrefix(upper, "FOREIGN KEY") ||
				strings.HasPrefix(upper, "UNIQUE") || strings.HasPrefix(upper, "CONSTRAINT") ||
				strings.HasPrefix(upper, "KEY ") || strings.HasPrefix(upper, "INDEX ") {
				continue
			}
			if m := columnDefRe.FindStringSubmatch(trimmed); m != nil {
				current.Columns = append(current.Columns, m[1])
				current.Types = append(current.Types, strings.ToUpper(m[2]))
			}
			continue
		}

		if m := insertRe.FindStringSubmatch(line); m != nil {
			name := m[1]
			table, ok := byName[name]
			if !ok {
				table = &TableSample{Name: name}
				byName[name] = table
				order = append(order, name)
			}
			// Multi-row inserts count every value tuple
			table.RowCount += strings.Count(line, "),(") + 1
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dump: %w", err)
	}

	tables := make([]TableSample, 0, len(order))
	for _, name := range order {
		tables = append(tables, *byName[name])
	}
	return tables, nil
}
