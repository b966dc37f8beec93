package scoring

import "math"

// wilsonLowerBound returns the lower endpoint of the Wilson score interval
// for proportion p over sample size n at confidence z, clamped to [0,1].
// Penalizes low-sample items relative to the raw proportion.
func wilsonLowerBound(p float64, n float64, z float64) float64 {
	if n <= 0 {
		return 0
	}
	p = clamp01(p)

	z2 := z * z
	denom := 1 + z2/n
	center := p + z2/(2*n)
	margin := z * math.Sqrt((p*(1-p)+z2/(4*n))/n)

	return clamp01((center - margin) / denom)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
