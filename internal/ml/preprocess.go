package ml

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// maxOneHotCardinality is the cutoff between one-hot and label encoding
const maxOneHotCardinality = 10

// Features is a preprocessed feature matrix
type Features struct {
	X     *mat.Dense // rows x features, standardized
	Names []string   // feature names, aligned with matrix columns

	// Raw holds the unstandardized values for reporting cluster centers
	// and anomaly details in original units
	Raw *mat.Dense

	means  []float64
	stddev []float64
}

// BuildFeatures turns the dataset into a standardized matrix. Numeric
// columns are median-filled; categorical columns are one-hot encoded up to
// maxOneHotCardinality distinct values and label encoded beyond that.
// The target column is excluded.
func BuildFeatures(ds *Dataset, target string) (*Features, error) {
	type rawFeature struct {
		name   string
		values []float64
	}
	var feats []rawFeature

	for i := range ds.Columns {
		col := &ds.Columns[i]
		if col.Name == target {
			continue
		}

		if col.Numeric {
			feats = append(feats, rawFeature{name: col.Name, values: medianFill(col)})
			continue
		}

		values := col.distinct()
		if len(values) == 0 {
			continue
		}
		if len(values) <= maxOneHotCardinality {
			for _, value := range values {
				encoded := make([]float64, ds.NumRows)
				for row := range encoded {
					if !col.Missing[row] && col.Labels[row] == value {
						encoded[row] = 1
					}
				}
				feats = append(feats, rawFeature{name: col.Name + "=" + value, values: encoded})
			}
		} else {
			index := make(map[string]float64, len(values))
			for rank, value := range values {
				index[value] = float64(rank)
			}
			encoded := make([]float64, ds.NumRows)
			for row := range encoded {
				if col.Missing[row] {
					encoded[row] = -1 // missing category sentinel
				} else {
					encoded[row] = index[col.Labels[row]]
				}
			}
			feats = append(feats, rawFeature{name: col.Name, values: encoded})
		}
	}

	if len(feats) == 0 {
		return nil, fmt.Errorf("no usable feature columns")
	}

	f := &Features{
		X:      mat.NewDense(ds.NumRows, len(feats), nil),
		Raw:    mat.NewDense(ds.NumRows, len(feats), nil),
		means:  make([]float64, len(feats)),
		stddev: make([]float64, len(feats)),
	}
	for j, feat := range feats {
		f.Names = append(f.Names, feat.name)
		mean, std := stat.MeanStdDev(feat.values, nil)
		if std == 0 || std != std { // constant column or NaN
			std = 1
		}
		f.means[j] = mean
		f.stddev[j] = std
		for i, v := range feat.values {
			f.Raw.Set(i, j, v)
			f.X.Set(i, j, (v-mean)/std)
		}
	}
	return f, nil
}

// Destandardize maps a standardized feature vector back to original units
func (f *Features) Destandardize(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = v*f.stddev[j] + f.means[j]
	}
	return out
}

// medianFill replaces missing values with the column median
func medianFill(col *Column) []float64 {
	var present []float64
	for i, v := range col.Floats {
		if !col.Missing[i] {
			present = append(present, v)
		}
	}
	median := 0.0
	if len(present) > 0 {
		sort.Float64s(present)
		median = quantileSorted(present, 0.5)
	}

	out := make([]float64, len(col.Floats))
	for i, v := range col.Floats {
		if col.Missing[i] {
			out[i] = median
		} else {
			out[i] = v
		}
	}
	return out
}

// quantileSorted reads the q-quantile from an ascending slice
func quantileSorted(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	return stat.Quantile(q, stat.Empirical, sorted, nil)
}

// targetLabels fills missing target values with "unknown", the same rule
// applied to categorical features
func targetLabels(col *Column) []string {
	out := make([]string, len(col.Labels))
	for i, label := range col.Labels {
		if col.Missing[i] {
			out[i] = "unknown"
		} else {
			out[i] = label
		}
	}
	return out
}
