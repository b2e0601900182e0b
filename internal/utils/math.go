package utils

import "math"

// Round rounds a float64 value to 2 decimal places
// Used throughout the agent for metrics to avoid unnecessary precision
func Round(val float64) float64 {
	return math.Round(val*100) / 100
}

// Mean returns the arithmetic mean of values.
// An empty slice yields 0. NaN and infinite inputs are skipped.
func Mean(values []float64) float64 {
	var sum float64
	var n int
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
