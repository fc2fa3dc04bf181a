package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// CalculateSMA calculates the Simple Moving Average of the last length closes.
// Returns nil if there is not enough data.
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

// RollingVolatility returns the annualized volatility of the last window daily returns.
// talib's StdDev is the population deviation; it is rescaled to the sample deviation
// so it lines up with AnnualizedVolatility.
func RollingVolatility(dailyReturns []float64, window int) *float64 {
	if window < 2 || len(dailyReturns) < window {
		return nil
	}

	sd := talib.StdDev(dailyReturns, window, 1.0)
	if len(sd) == 0 || isNaN(sd[len(sd)-1]) {
		return nil
	}

	sample := sd[len(sd)-1] * math.Sqrt(float64(window)/float64(window-1))
	annualized := sample * math.Sqrt(TradingDaysPerYear)
	return &annualized
}
