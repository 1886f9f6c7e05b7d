package formulas

import (
	"github.com/markcheno/go-talib"
)

// CalculateSMA calculates the Simple Moving Average.
//
// Returns the current SMA value or nil if insufficient data.
func CalculateSMA(closes []float64, length int) *float64 {
	if length <= 0 || len(closes) < length {
		return nil
	}

	sma := talib.Sma(closes, length)
	if len(sma) > 0 && !isNaN(sma[len(sma)-1]) {
		result := sma[len(sma)-1]
		return &result
	}

	return nil
}

// CalculateEMA calculates the Exponential Moving Average.
//
// EMA Formula:
//
//	EMA_today = (Price_today × multiplier) + (EMA_yesterday × (1 - multiplier))
//	where multiplier = 2 / (period + 1)
//
// Falls back to a simple mean when fewer than `length` closes are
// available, so short histories still produce a usable smoothing level.
func CalculateEMA(closes []float64, length int) *float64 {
	if len(closes) == 0 || length <= 0 {
		return nil
	}

	// If not enough data for proper EMA, fallback to SMA
	if len(closes) < length {
		sma := Mean(closes)
		return &sma
	}

	ema := talib.Ema(closes, length)
	if len(ema) > 0 && !isNaN(ema[len(ema)-1]) {
		result := ema[len(ema)-1]
		return &result
	}

	// Fallback to SMA of last 'length' prices
	sma := Mean(closes[len(closes)-length:])
	return &sma
}

// CalculateSMASeries returns the full SMA series (leading values are NaN
// until the window fills). Used where the caller needs slope context, not
// just the latest level.
func CalculateSMASeries(closes []float64, length int) []float64 {
	if length <= 0 || len(closes) < length {
		return nil
	}
	return talib.Sma(closes, length)
}

// CalculateDistanceFromMA calculates the fractional distance of the latest
// close from the given moving-average level. Positive means price is above.
func CalculateDistanceFromMA(closes []float64, ma float64) *float64 {
	if len(closes) == 0 || ma == 0 {
		return nil
	}

	distance := (closes[len(closes)-1] - ma) / ma
	return &distance
}

// isNaN checks if a float64 is NaN
func isNaN(f float64) bool {
	return f != f
}
