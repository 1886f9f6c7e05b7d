package formulas

import (
	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// Slope fits an ordinary least-squares line over the series (x = 0..n-1)
// and returns its slope. Returns nil when the series is too short to fit.
func Slope(values []float64) *float64 {
	if len(values) < 2 {
		return nil
	}

	xs := make([]float64, len(values))
	for i := range xs {
		xs[i] = float64(i)
	}

	_, slope := stat.LinearRegression(xs, values, nil, false)
	if isNaN(slope) {
		return nil
	}
	return &slope
}

// PctChange returns the fractional change from a to b, or 0 when a is 0.
func PctChange(a, b float64) float64 {
	if a == 0 {
		return 0
	}
	return (b - a) / a
}
