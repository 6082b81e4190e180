package businessflow

import "math"

// AmountSource declares the unit an inbound amount was written in
type AmountSource int

const (
	// AmountSourceUnknown lets LooksLikeMinorUnits decide
	AmountSourceUnknown AmountSource = iota
	AmountSourceMajor
	AmountSourceMinor
)

// DefaultMinorUnitThreshold is the smallest integral value treated as minor units when the unit is unknown
const DefaultMinorUnitThreshold = 10000

// LooksLikeMinorUnits is the single heuristic for spotting a value that is already in cents:
// integral and at or above threshold. A whole-real price such as 150.00 is deliberately below it.
func LooksLikeMinorUnits(value, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultMinorUnitThreshold
	}
	return value >= threshold && value == math.Trunc(value)
}

// NormalizeAmount converts an inbound value to major units
func NormalizeAmount(value float64, source AmountSource, threshold float64) float64 {
	switch source {
	case AmountSourceMinor:
		// a fractional amount was already converted upstream
		if value != math.Trunc(value) {
			return roundCents(value)
		}
		return roundCents(value / 100)
	case AmountSourceMajor:
		return roundCents(value)
	}
	return EnsureMajorUnits(value, threshold)
}

// EnsureMajorUnits re-checks a stored major-unit value before it leaves the process.
// Values with a fractional part, or below the threshold, pass through unchanged.
func EnsureMajorUnits(value, threshold float64) float64 {
	if LooksLikeMinorUnits(value, threshold) {
		return roundCents(value / 100)
	}
	return roundCents(value)
}

// ToMinorUnits rounds a major-unit value to the nearest cent
func ToMinorUnits(major float64) int64 {
	return int64(math.Round(major * 100))
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
