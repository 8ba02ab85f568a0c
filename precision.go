package mtbd

import "gonum.org/v1/gonum/floats/scalar"

//precisionThreshold is the tolerance used for all comparisons of event
//times against interval and rho-sampling boundaries. Logically identical
//times can differ by rounding, so exact equality is never used.
const precisionThreshold = 1e-10

func equalWithPrecision(a, b float64) bool {
	return scalar.EqualWithinAbs(a, b, precisionThreshold)
}

func lessThanWithPrecision(a, b float64) bool {
	return a < b && !equalWithPrecision(a, b)
}

func greaterThanWithPrecision(a, b float64) bool {
	return a > b && !equalWithPrecision(a, b)
}
