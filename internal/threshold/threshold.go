// Package threshold resolves histogram threshold bounds for data quality issues.
package threshold

import "github.com/raphaelgruber/dataquality/internal/models"

// PlotDefaults resolves the slider bounds for cfg over the observed field
// range [minV, maxV].
//
// Saved absolute bounds that lie within the observed range are returned
// verbatim. Otherwise Min/Max are interpreted according to DetectMethod:
// fractions of the range for percentage, absolute values for threshold.
// Saved bounds that fall outside the range are treated as absolute values.
func PlotDefaults(cfg models.ThresholdConfig, minV, maxV float64) (lower, upper float64) {
	if s := cfg.Saved; s != nil {
		if s.Min >= minV && s.Min < maxV && s.Max > minV && s.Max <= maxV {
			return s.Min, s.Max
		}
		return absolute(s.Min, s.Max, minV, maxV)
	}

	switch cfg.DetectMethod {
	case models.MethodThreshold:
		return absolute(cfg.Min, cfg.Max, minV, maxV)
	default:
		return percentage(cfg.Min, cfg.Max, minV, maxV)
	}
}

func percentage(minFrac, maxFrac, minV, maxV float64) (float64, float64) {
	span := maxV - minV

	lower := minV + minFrac*span
	if lower > maxV {
		lower = minV
	}

	upper := minV + maxFrac*span
	if upper < minV {
		upper = maxV
	}

	if upper < lower {
		return minV, minV
	}
	return lower, upper
}

// absolute collapses bounds lying entirely outside [minV, maxV] to a single
// point so callers see an empty selection.
func absolute(lower, upper, minV, maxV float64) (float64, float64) {
	if upper < minV {
		return upper, upper
	}
	if lower > maxV {
		return lower, lower
	}
	return lower, upper
}

// Range returns the part of [minV, maxV] lying outside the standard bounds
// [lo, hi]. A range fully inside the bounds is returned unchanged. When both
// ends are out, the side further from its bound wins, the upper side on ties.
func Range(minV, maxV, lo, hi float64) (float64, float64) {
	minIn := lo <= minV && minV <= hi
	maxIn := lo <= maxV && maxV <= hi

	switch {
	case minIn && maxIn:
		return minV, maxV
	case minV < lo && maxV <= hi:
		return minV, lo
	case maxV > hi && minV >= lo:
		return hi, maxV
	case minV < lo && maxV > hi:
		if lo-minV > maxV-hi {
			return minV, lo
		}
		return hi, maxV
	}
	return lo, hi
}

// SplitHistogram separates histogram counts into bins inside and outside
// [lower, upper]. A bin belongs to the side its midpoint falls on.
func SplitHistogram(counts []int, edges []float64, lower, upper float64) (in, out []int) {
	n := len(counts)
	if len(edges)-1 < n {
		n = max(len(edges)-1, 0)
	}

	in = make([]int, n)
	out = make([]int, n)
	for i := range n {
		mid := (edges[i] + edges[i+1]) / 2
		if lower <= mid && mid <= upper {
			in[i] = counts[i]
		} else {
			out[i] = counts[i]
		}
	}
	return in, out
}
