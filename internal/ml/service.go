package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mritsurgeon/veeam-ml/internal/extraction"
	"github.com/mritsurgeon/veeam-ml/internal/models"
)

// Params are the task parameters supplied with an ML job
type Params struct {
	TargetColumn  string  `json:"target_column,omitempty"`
	TestFraction  float64 `json:"test_fraction,omitempty"`
	NClusters     int     `json:"n_clusters,omitempty"`
	Contamination float64 `json:"contamination,omitempty"`
	NComponents   int     `json:"n_components,omitempty"`
	MaxRows       int     `json:"max_rows,omitempty"`
}

// ParseParams decodes the JSON parameter blob of a job. Empty input yields
// zero-value params, every task has defaults.
func ParseParams(raw string) (Params, error) {
	var p Params
	if raw == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("invalid parameters: %w", err)
	}
	return p, nil
}

// Run executes one ML task over tabular data and returns the result
// payload. The context bounds total runtime.
func Run(ctx context.Context, algorithm string, table *extraction.Table, p Params) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if p.MaxRows > 0 && len(table.Rows) > p.MaxRows {
		trimmed := *table
		trimmed.Rows = table.Rows[:p.MaxRows]
		table = &trimmed
	}

	ds, err := FromTable(table)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var result map[string]any

	switch algorithm {
	case models.TaskClassification:
		if p.TargetColumn == "" {
			return nil, fmt.Errorf("classification requires target_column")
		}
		result, err = Classify(ds, p.TargetColumn, p.TestFraction)
	case models.TaskRegression:
		if p.TargetColumn == "" {
			return nil, fmt.Errorf("regression requires target_column")
		}
		result, err = Regress(ds, p.TargetColumn, p.TestFraction)
	case models.TaskClustering:
		result, err = Cluster(ds, p.NClusters)
	case models.TaskAnomalyDetection:
		result, err = DetectAnomalies(ds, p.Contamination)
	case models.TaskFeatureExtraction:
		result, err = ExtractFeatures(ds, p.TargetColumn, p.NComponents)
	default:
		return nil, fmt.Errorf("unknown algorithm %q", algorithm)
	}
	if err != nil {
		return nil, err
	}

	result["duration_ms"] = time.Since(start).Milliseconds()
	result["input_rows"] = ds.NumRows
	return result, nil
}
