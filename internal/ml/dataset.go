package ml

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mritsurgeon/veeam-ml/internal/extraction"
)

// Column is one named series of a dataset
type Column struct {
	Name    string
	Numeric bool
	Floats  []float64 // valid where Missing is false, numeric columns only
	Labels  []string  // raw strings, categorical columns only
	Missing []bool
}

// Dataset is tabular data prepared for ML processing
type Dataset struct {
	Columns []Column
	NumRows int
}

// FromTable builds a Dataset from extracted tabular data. A column is
// numeric when every present value parses as a float.
func FromTable(table *extraction.Table) (*Dataset, error) {
	if table == nil || len(table.Headers) == 0 {
		return nil, fmt.Errorf("table has no columns")
	}
	if len(table.Rows) == 0 {
		return nil, fmt.Errorf("table has no rows")
	}

	ds := &Dataset{NumRows: len(table.Rows)}
	for colIdx, name := range table.Headers {
		col := Column{
			Name:    name,
			Numeric: true,
			Floats:  make([]float64, len(table.Rows)),
			Labels:  make([]string, len(table.Rows)),
			Missing: make([]bool, len(table.Rows)),
		}

		present := 0
		for rowIdx, row := range table.Rows {
			var raw string
			if colIdx < len(row) {
				raw = strings.TrimSpace(row[colIdx])
			}
			col.Labels[rowIdx] = raw
			if raw == "" {
				col.Missing[rowIdx] = true
				continue
			}
			present++
			if col.Numeric {
				v, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					col.Numeric = false
				} else {
					col.Floats[rowIdx] = v
				}
			}
		}
		if present == 0 {
			col.Numeric = false
		}

		ds.Columns = append(ds.Columns, col)
	}
	return ds, nil
}

// Column returns the named column, or nil
func (d *Dataset) Column(name string) *Column {
	for i := range d.Columns {
		if d.Columns[i].Name == name {
			return &d.Columns[i]
		}
	}
	return nil
}

// NumericColumns returns the numeric columns, excluding name
func (d *Dataset) NumericColumns(exclude string) []*Column {
	var out []*Column
	for i := range d.Columns {
		if d.Columns[i].Numeric && d.Columns[i].Name != exclude {
			out = append(out, &d.Columns[i])
		}
	}
	return out
}

// distinct returns the distinct present values of a categorical column,
// in first-seen order
func (c *Column) distinct() []string {
	seen := make(map[string]bool)
	var out []string
	for i, label := range c.Labels {
		if c.Missing[i] || seen[label] {
			continue
		}
		seen[label] = true
		out = append(out, label)
	}
	return out
}
