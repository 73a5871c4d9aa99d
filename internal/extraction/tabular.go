package extraction

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Table is tabular data read from a delimited file
type Table struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// ReadTable loads a CSV or TSV file. The first row is the header. maxRows
// caps the data rows read; 0 means unlimited.
func ReadTable(path string, maxRows int) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		reader.Comma = '\t'
	}
	reader.FieldsPerRecord = -1 // ragged rows are common in exported data
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse table: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("table is empty")
	}

	headers := records[0]
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	rows := records[1:]
	if maxRows > 0 && len(rows) > maxRows {
		rows = rows[:maxRows]
	}

	// Pad ragged rows to the header width
	for i, row := range rows {
		if len(row) < len(headers) {
			padded := make([]string, len(headers))
			copy(padded, row)
			rows[i] = padded
		} else if len(row) > len(headers) {
			rows[i] = row[:len(headers)]
		}
	}

	return &Table{Headers: headers, Rows: rows}, nil
}

// TableFromSample converts sampled database rows into a Table so ML
// processing treats all tabular sources alike
func TableFromSample(sample *TableSample) *Table {
	table := &Table{Headers: sample.Columns}
	for _, row := range sample.Rows {
		out := make([]string, len(sample.Columns))
		for i, col := range sample.Columns {
			if v, ok := row[col]; ok && v != nil {
				out[i] = fmt.Sprint(v)
			}
		}
		table.Rows = append(table.Rows, out)
	}
	return table
}
