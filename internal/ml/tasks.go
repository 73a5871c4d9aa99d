package ml

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// trainTestSplit deterministically assigns every k-th row to the test set.
// A fixed pattern keeps job results reproducible across runs.
func trainTestSplit(n int, testFraction float64) (train, test []int) {
	if testFraction <= 0 || testFraction >= 1 {
		testFraction = 0.2
	}
	every := int(math.Round(1 / testFraction))
	if every < 2 {
		every = 2
	}
	for i := 0; i < n; i++ {
		if (i+1)%every == 0 {
			test = append(test, i)
		} else {
			train = append(train, i)
		}
	}
	if len(test) == 0 && n > 1 {
		test = append(test, n-1)
		train = train[:len(train)-1]
	}
	return train, test
}

// Classify trains a nearest-centroid classifier on the target column and
// reports holdout accuracy, per-class metrics and feature importance
func Classify(ds *Dataset, target string, testFraction float64) (map[string]any, error) {
	targetCol := ds.Column(target)
	if targetCol == nil {
		return nil, fmt.Errorf("target column %q not found", target)
	}

	f, err := BuildFeatures(ds, target)
	if err != nil {
		return nil, err
	}
	labels := targetLabels(targetCol)

	classes := map[string]bool{}
	for _, l := range labels {
		classes[l] = true
	}
	if len(classes) < 2 {
		return nil, fmt.Errorf("target column %q has a single class", target)
	}

	trainIdx, testIdx := trainTestSplit(ds.NumRows, testFraction)
	_, cols := f.X.Dims()

	// Class centroids from the training split
	centroids := map[string][]float64{}
	counts := map[string]int{}
	for _, i := range trainIdx {
		label := labels[i]
		if centroids[label] == nil {
			centroids[label] = make([]float64, cols)
		}
		counts[label]++
		for j := 0; j < cols; j++ {
			centroids[label][j] += f.X.At(i, j)
		}
	}
	for label, sum := range centroids {
		for j := range sum {
			sum[j] /= float64(counts[label])
		}
	}

	predict := func(row int) string {
		best, bestDist := "", math.Inf(1)
		for label, centroid := range centroids {
			dist := 0.0
			for j := 0; j < cols; j++ {
				d := f.X.At(row, j) - centroid[j]
				dist += d * d
			}
			if dist < bestDist {
				best, bestDist = label, dist
			}
		}
		return best
	}

	correct := 0
	perClass := map[string]map[string]int{}
	for _, i := range testIdx {
		actual := labels[i]
		predicted := predict(i)
		if perClass[actual] == nil {
			perClass[actual] = map[string]int{}
		}
		perClass[actual]["support"]++
		if predicted == actual {
			correct++
			perClass[actual]["correct"]++
		}
	}

	report := map[string]any{}
	for label, stats := range perClass {
		recall := 0.0
		if stats["support"] > 0 {
			recall = float64(stats["correct"]) / float64(stats["support"])
		}
		report[label] = map[string]any{
			"support": stats["support"],
			"recall":  round4(recall),
		}
	}

	return map[string]any{
		"task":               "classification",
		"algorithm":          "nearest_centroid",
		"classes":            len(classes),
		"train_samples":      len(trainIdx),
		"test_samples":       len(testIdx),
		"accuracy":           round4(float64(correct) / float64(len(testIdx))),
		"class_report":       report,
		"feature_importance": centroidSpread(f, centroids),
	}, nil
}

// centroidSpread ranks features by how far class centroids sit apart on
// them, a proxy for importance
func centroidSpread(f *Features, centroids map[string][]float64) []map[string]any {
	spreads := make([]float64, len(f.Names))
	for j := range f.Names {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, centroid := range centroids {
			lo = math.Min(lo, centroid[j])
			hi = math.Max(hi, centroid[j])
		}
		spreads[j] = hi - lo
	}

	total := 0.0
	for _, s := range spreads {
		total += s
	}

	type ranked struct {
		name  string
		score float64
	}
	var all []ranked
	for j, name := range f.Names {
		score := 0.0
		if total > 0 {
			score = spreads[j] / total
		}
		all = append(all, ranked{name, score})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })

	var out []map[string]any
	for _, r := range all {
		out = append(out, map[string]any{"feature": r.name, "importance": round4(r.score)})
	}
	return out
}

// Regress fits ordinary least squares on a numeric target and reports
// holdout error metrics and coefficients
func Regress(ds *Dataset, target string, testFraction float64) (map[string]any, error) {
	targetCol := ds.Column(target)
	if targetCol == nil {
		return nil, fmt.Errorf("target column %q not found", target)
	}
	if !targetCol.Numeric {
		return nil, fmt.Errorf("target column %q is not numeric", target)
	}

	f, err := BuildFeatures(ds, target)
	if err != nil {
		return nil, err
	}
	y := medianFill(targetCol)

	trainIdx, testIdx := trainTestSplit(ds.NumRows, testFraction)
	_, cols := f.X.Dims()

	if len(trainIdx) <= cols {
		return nil, fmt.Errorf("not enough rows (%d) for %d features", len(trainIdx), cols)
	}

	// Design matrix with intercept
	design := mat.NewDense(len(trainIdx), cols+1, nil)
	response := mat.NewVecDense(len(trainIdx), nil)
	for r, i := range trainIdx {
		design.Set(r, 0, 1)
		for j := 0; j < cols; j++ {
			design.Set(r, j+1, f.X.At(i, j))
		}
		response.SetVec(r, y[i])
	}

	var qr mat.QR
	qr.Factorize(design)
	coef := mat.NewVecDense(cols+1, nil)
	if err := qr.SolveVecTo(coef, false, response); err != nil {
		return nil, fmt.Errorf("failed to solve least squares: %w", err)
	}

	predict := func(i int) float64 {
		sum := coef.AtVec(0)
		for j := 0; j < cols; j++ {
			sum += coef.AtVec(j+1) * f.X.At(i, j)
		}
		return sum
	}

	var sse, sst, meanY float64
	for _, i := range testIdx {
		meanY += y[i]
	}
	meanY /= float64(len(testIdx))
	for _, i := range testIdx {
		d := y[i] - predict(i)
		sse += d * d
		t := y[i] - meanY
		sst += t * t
	}
	mse := sse / float64(len(testIdx))
	r2 := 0.0
	if sst > 0 {
		r2 = 1 - sse/sst
	}

	coefficients := map[string]float64{"intercept": round4(coef.AtVec(0))}
	for j, name := range f.Names {
		coefficients[name] = round4(coef.AtVec(j + 1))
	}

	return map[string]any{
		"task":          "regression",
		"algorithm":     "ordinary_least_squares",
		"train_samples": len(trainIdx),
		"test_samples":  len(testIdx),
		"mse":           round4(mse),
		"rmse":          round4(math.Sqrt(mse)),
		"r2":            round4(r2),
		"coefficients":  coefficients,
	}, nil
}

// DetectAnomalies scores rows by their largest robust z-score and flags
// the top contamination fraction
func DetectAnomalies(ds *Dataset, contamination float64) (map[string]any, error) {
	if contamination <= 0 || contamination >= 0.5 {
		contamination = 0.1
	}

	f, err := BuildFeatures(ds, "")
	if err != nil {
		return nil, err
	}
	rows, cols := f.X.Dims()

	// Robust z-score per feature: (x - median) / (1.4826 * MAD)
	scores := make([]float64, rows)
	for j := 0; j < cols; j++ {
		column := make([]float64, rows)
		for i := 0; i < rows; i++ {
			column[i] = f.X.At(i, j)
		}
		sorted := append([]float64(nil), column...)
		sort.Float64s(sorted)
		median := quantileSorted(sorted, 0.5)

		deviations := make([]float64, rows)
		for i, v := range column {
			deviations[i] = math.Abs(v - median)
		}
		sort.Float64s(deviations)
		mad := quantileSorted(deviations, 0.5)
		scale := 1.4826 * mad
		if scale == 0 {
			continue
		}

		for i, v := range column {
			z := math.Abs(v-median) / scale
			if z > scores[i] {
				scores[i] = z
			}
		}
	}

	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	threshold := quantileSorted(sorted, 1-contamination)

	var anomalies []map[string]any
	for i, score := range scores {
		if score >= threshold && score > 0 {
			anomalies = append(anomalies, map[string]any{"row": i, "score": round4(score)})
		}
	}
	sort.Slice(anomalies, func(i, j int) bool {
		return anomalies[i]["score"].(float64) > anomalies[j]["score"].(float64)
	})
	if len(anomalies) > 100 {
		anomalies = anomalies[:100]
	}

	return map[string]any{
		"task":          "anomaly_detection",
		"algorithm":     "robust_zscore",
		"rows":          rows,
		"contamination": contamination,
		"threshold":     round4(threshold),
		"anomaly_count": len(anomalies),
		"anomalies":     anomalies,
	}, nil
}

func round4(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*10000) / 10000
}
