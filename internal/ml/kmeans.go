package ml

import (
	"fmt"
	"math"
	"math/rand"
)

const (
	kmeansMaxIterations = 100
	kmeansSeed          = 42 // fixed seed keeps job results reproducible
)

// Cluster runs k-means over the feature matrix. nClusters <= 0 picks k via
// the elbow method. Results include silhouette score and per-cluster
// centers in original units.
func Cluster(ds *Dataset, nClusters int) (map[string]any, error) {
	f, err := BuildFeatures(ds, "")
	if err != nil {
		return nil, err
	}
	rows, _ := f.X.Dims()
	if rows < 3 {
		return nil, fmt.Errorf("need at least 3 rows to cluster, have %d", rows)
	}

	autoK := nClusters <= 0
	var elbow []map[string]any
	if autoK {
		nClusters, elbow = pickK(f, rows)
	}
	if nClusters >= rows {
		nClusters = rows - 1
	}

	assignment, centers, inertia := kmeans(f, nClusters)

	sizes := make([]int, nClusters)
	for _, c := range assignment {
		sizes[c]++
	}

	var clusters []map[string]any
	for c := 0; c < nClusters; c++ {
		center := map[string]float64{}
		original := f.Destandardize(centers[c])
		for j, name := range f.Names {
			center[name] = round4(original[j])
		}
		clusters = append(clusters, map[string]any{
			"cluster": c,
			"size":    sizes[c],
			"center":  center,
		})
	}

	result := map[string]any{
		"task":             "clustering",
		"algorithm":        "kmeans",
		"rows":             rows,
		"n_clusters":       nClusters,
		"auto_k":           autoK,
		"inertia":          round4(inertia),
		"silhouette_score": round4(silhouette(f, assignment, nClusters)),
		"clusters":         clusters,
		"assignments":      assignment,
	}
	if elbow != nil {
		result["elbow_curve"] = elbow
	}
	return result, nil
}

// pickK evaluates k=2..8 and picks the elbow by the largest drop-off in
// inertia improvement
func pickK(f *Features, rows int) (int, []map[string]any) {
	maxK := 8
	if rows-1 < maxK {
		maxK = rows - 1
	}
	if maxK < 2 {
		return 2, nil
	}

	inertias := make([]float64, 0, maxK-1)
	var curve []map[string]any
	for k := 2; k <= maxK; k++ {
		_, _, inertia := kmeans(f, k)
		inertias = append(inertias, inertia)
		curve = append(curve, map[string]any{"k": k, "inertia": round4(inertia)})
	}

	bestK := 2
	bestDrop := math.Inf(-1)
	for i := 1; i < len(inertias)-1; i++ {
		// Second difference: improvement gained at k minus at k+1
		drop := (inertias[i-1] - inertias[i]) - (inertias[i] - inertias[i+1])
		if drop > bestDrop {
			bestDrop = drop
			bestK = i + 2
		}
	}
	return bestK, curve
}

// kmeans clusters with k-means++ seeding and Lloyd iterations
func kmeans(f *Features, k int) (assignment []int, centers [][]float64, inertia float64) {
	rows, cols := f.X.Dims()
	rng := rand.New(rand.NewSource(kmeansSeed))

	row := func(i int) []float64 {
		out := make([]float64, cols)
		for j := 0; j < cols; j++ {
			out[j] = f.X.At(i, j)
		}
		return out
	}
	dist2 := func(a, b []float64) float64 {
		sum := 0.0
		for j := range a {
			d := a[j] - b[j]
			sum += d * d
		}
		return sum
	}

	// k-means++ seeding
	centers = make([][]float64, 0, k)
	centers = append(centers, row(rng.Intn(rows)))
	minDist := make([]float64, rows)
	for len(centers) < k {
		total := 0.0
		for i := 0; i < rows; i++ {
			minDist[i] = math.Inf(1)
			for _, c := range centers {
				if d := dist2(row(i), c); d < minDist[i] {
					minDist[i] = d
				}
			}
			total += minDist[i]
		}
		if total == 0 {
			centers = append(centers, row(rng.Intn(rows)))
			continue
		}
		target := rng.Float64() * total
		acc := 0.0
		picked := rows - 1
		for i := 0; i < rows; i++ {
			acc += minDist[i]
			if acc >= target {
				picked = i
				break
			}
		}
		centers = append(centers, row(picked))
	}

	assignment = make([]int, rows)
	for iter := 0; iter < kmeansMaxIterations; iter++ {
		changed := false
		for i := 0; i < rows; i++ {
			best, bestDist := 0, math.Inf(1)
			r := row(i)
			for c, center := range centers {
				if d := dist2(r, center); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignment[i] != best {
				assignment[i] = best
				changed = true
			}
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, cols)
		}
		for i := 0; i < rows; i++ {
			c := assignment[i]
			counts[c]++
			for j := 0; j < cols; j++ {
				sums[c][j] += f.X.At(i, j)
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// Re-seed an empty cluster
				centers[c] = row(rng.Intn(rows))
				continue
			}
			for j := 0; j < cols; j++ {
				centers[c][j] = sums[c][j] / float64(counts[c])
			}
		}

		if !changed && iter > 0 {
			break
		}
	}

	inertia = 0
	for i := 0; i < rows; i++ {
		inertia += dist2(row(i), centers[assignment[i]])
	}
	return assignment, centers, inertia
}

// silhouette computes the mean silhouette coefficient. O(n^2), fine for
// the sampled row counts extraction produces.
func silhouette(f *Features, assignment []int, k int) float64 {
	rows, cols := f.X.Dims()
	if k < 2 || rows < 3 {
		return 0
	}

	dist := func(a, b int) float64 {
		sum := 0.0
		for j := 0; j < cols; j++ {
			d := f.X.At(a, j) - f.X.At(b, j)
			sum += d * d
		}
		return math.Sqrt(sum)
	}

	counts := make([]int, k)
	for _, c := range assignment {
		counts[c]++
	}

	total := 0.0
	scored := 0
	for i := 0; i < rows; i++ {
		own := assignment[i]
		if counts[own] < 2 {
			continue
		}

		sums := make([]float64, k)
		for other := 0; other < rows; other++ {
			if other == i {
				continue
			}
			sums[assignment[other]] += dist(i, other)
		}

		a := sums[own] / float64(counts[own]-1)
		b := math.Inf(1)
		for c := 0; c < k; c++ {
			if c == own || counts[c] == 0 {
				continue
			}
			if mean := sums[c] / float64(counts[c]); mean < b {
				b = mean
			}
		}
		if math.IsInf(b, 1) {
			continue
		}

		denom := math.Max(a, b)
		if denom > 0 {
			total += (b - a) / denom
			scored++
		}
	}
	if scored == 0 {
		return 0
	}
	return total / float64(scored)
}
