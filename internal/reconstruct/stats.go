package reconstruct

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"beaconrig/domain/metrics"
)

// GapSummary describes a set of latency gaps in seconds
type GapSummary struct {
	Mean float64
	P50  float64
	P95  float64
	Max  float64
	N    int
}

// SummarizeGaps computes mean, median, 95th percentile and max. The second
// return is false for an empty input.
func SummarizeGaps(gaps []float64) (GapSummary, bool) {
	if len(gaps) == 0 {
		return GapSummary{}, false
	}
	mean, err := stats.Mean(gaps)
	if err != nil {
		return GapSummary{}, false
	}
	p50, _ := stats.Median(gaps)
	max, _ := stats.Max(gaps)
	// nearest-rank keeps p95 an observed gap
	p95, err := stats.PercentileNearestRank(gaps, 95)
	if err != nil {
		p95 = max
	}
	return GapSummary{Mean: mean, P50: p50, P95: p95, Max: max, N: len(gaps)}, true
}

// MADOutliers returns the indices of values above median + k·MAD. Fewer than
// three values or a zero MAD flag nothing.
func MADOutliers(values []float64, k float64) []int {
	if k <= 0 || len(values) < 3 {
		return nil
	}
	med, err := stats.Median(values)
	if err != nil {
		return nil
	}
	mad, err := stats.MedianAbsoluteDeviation(values)
	if err != nil || mad == 0 {
		return nil
	}
	var out []int
	for i, v := range values {
		if v > med+k*mad {
			out = append(out, i)
		}
	}
	return out
}

// Describe aggregates one metric across repeats. Undefined values are
// dropped, which reduces N; nothing is imputed.
func Describe(values []*float64) metrics.MetricStat {
	var xs []float64
	for _, v := range values {
		if v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0) {
			xs = append(xs, *v)
		}
	}
	ms := metrics.MetricStat{N: len(xs), LowConfidence: len(xs) < 2}
	if len(xs) == 0 {
		return ms
	}
	mean := stat.Mean(xs, nil)
	ms.Mean = metrics.Float(mean)
	if len(xs) < 2 {
		return ms
	}
	std := stat.StdDev(xs, nil)
	ms.Std = metrics.Float(std)
	ms.CI95 = metrics.Float(tHalfWidth(std, len(xs)))
	return ms
}

// tHalfWidth is the 95% Student-t confidence half-width of a mean
func tHalfWidth(std float64, n int) float64 {
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 1)}
	return t.Quantile(0.975) * std / math.Sqrt(float64(n))
}

// Median returns the median of xs, false when empty
func Median(xs []float64) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	m, err := stats.Median(xs)
	return m, err == nil
}
