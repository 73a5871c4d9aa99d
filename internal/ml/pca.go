package ml

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ExtractFeatures runs PCA over the standardized feature matrix and, when
// target names a column, ranks features by their F-score against it
func ExtractFeatures(ds *Dataset, target string, nComponents int) (map[string]any, error) {
	f, err := BuildFeatures(ds, target)
	if err != nil {
		return nil, err
	}
	rows, cols := f.X.Dims()
	if rows < 2 {
		return nil, fmt.Errorf("need at least 2 rows, have %d", rows)
	}

	if nComponents <= 0 || nComponents > cols {
		nComponents = cols
		if nComponents > 5 {
			nComponents = 5
		}
	}

	var svd mat.SVD
	if !svd.Factorize(f.X, mat.SVDThin) {
		return nil, fmt.Errorf("svd did not converge")
	}
	singular := svd.Values(nil)

	totalVar := 0.0
	for _, s := range singular {
		totalVar += s * s
	}

	var v mat.Dense
	svd.VTo(&v)

	var components []map[string]any
	for c := 0; c < nComponents && c < len(singular); c++ {
		ratio := 0.0
		if totalVar > 0 {
			ratio = singular[c] * singular[c] / totalVar
		}

		loadings := map[string]float64{}
		for j, name := range f.Names {
			loadings[name] = round4(v.At(j, c))
		}
		components = append(components, map[string]any{
			"component":                c + 1,
			"explained_variance_ratio": round4(ratio),
			"loadings":                 loadings,
		})
	}

	result := map[string]any{
		"task":       "feature_extraction",
		"algorithm":  "pca",
		"rows":       rows,
		"features":   len(f.Names),
		"components": components,
	}

	if target != "" {
		if targetCol := ds.Column(target); targetCol != nil {
			result["f_scores"] = fScores(f, targetCol)
		}
	}
	return result, nil
}

// fScores ranks features by a one-way ANOVA F statistic against the target
// classes, the select-k-best criterion
func fScores(f *Features, targetCol *Column) []map[string]any {
	labels := targetLabels(targetCol)
	rows, cols := f.X.Dims()

	groups := map[string][]int{}
	for i, label := range labels {
		groups[label] = append(groups[label], i)
	}
	k := len(groups)
	if k < 2 || rows <= k {
		return nil
	}

	type ranked struct {
		name  string
		score float64
	}
	var all []ranked

	for j := 0; j < cols; j++ {
		column := make([]float64, rows)
		for i := 0; i < rows; i++ {
			column[i] = f.X.At(i, j)
		}
		grand := stat.Mean(column, nil)

		ssBetween, ssWithin := 0.0, 0.0
		for _, idx := range groups {
			group := make([]float64, len(idx))
			for g, i := range idx {
				group[g] = column[i]
			}
			mean := stat.Mean(group, nil)
			ssBetween += float64(len(idx)) * (mean - grand) * (mean - grand)
			for _, v := range group {
				ssWithin += (v - mean) * (v - mean)
			}
		}

		score := 0.0
		if ssWithin > 0 {
			score = (ssBetween / float64(k-1)) / (ssWithin / float64(rows-k))
		} else if ssBetween > 0 {
			score = math.Inf(1)
		}
		all = append(all, ranked{f.Names[j], score})
	}

	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })

	var out []map[string]any
	for _, r := range all {
		score := r.score
		if math.IsInf(score, 1) {
			score = math.MaxFloat32
		}
		out = append(out, map[string]any{"feature": r.name, "f_score": round4(score)})
	}
	return out
}
