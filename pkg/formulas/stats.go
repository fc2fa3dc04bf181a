// Package formulas holds the numeric building blocks shared by the market-data
// and simulation modules.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear is the annualisation factor for daily series
const TradingDaysPerYear = 252

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample (n-1) standard deviation of a slice of float64 values.
// Returns 0 for fewer than two observations.
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// AnnualizedVolatility calculates annualized volatility from daily returns
// Formula: Std Dev of Daily Returns x sqrt(252 trading days)
func AnnualizedVolatility(dailyReturns []float64) float64 {
	if len(dailyReturns) < 2 {
		return 0
	}
	return StdDev(dailyReturns) * math.Sqrt(TradingDaysPerYear)
}

// CalculateReturns converts prices to simple percentage returns.
// Returns[i] = Price[i+1]/Price[i] - 1, so the result is one element shorter than prices.
// A zero previous price yields ±Inf or NaN; callers are expected to pass filled, positive prices.
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		returns[i-1] = prices[i]/prices[i-1] - 1
	}

	return returns
}

// CumulativeReturn returns last/first - 1 for a price series
func CumulativeReturn(prices []float64) float64 {
	if len(prices) < 2 || prices[0] == 0 {
		return 0
	}
	return prices[len(prices)-1]/prices[0] - 1
}

// Correlation calculates the Pearson correlation coefficient between two datasets
func Correlation(x, y []float64) float64 {
	if len(x) == 0 || len(y) == 0 || len(x) != len(y) {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

func isNaN(v float64) bool {
	return math.IsNaN(v)
}
