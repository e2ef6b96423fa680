package util

import "math"

// Clip bounds v to [lo, hi].
func Clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clip01 bounds v to the unit interval.
func Clip01(v float64) float64 { return Clip(v, 0, 1) }

// EMA returns the exponentially smoothed update of prev toward x with rate lambda.
func EMA(prev, x, lambda float64) float64 {
	return (1-lambda)*prev + lambda*x
}

// Finite reports whether v is a usable float (not NaN, not Inf).
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
