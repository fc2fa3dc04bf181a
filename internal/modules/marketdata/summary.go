package marketdata

import (
	"math"

	"github.com/aristath/alphapulse/pkg/formulas"
)

// AssetSummary is the per-ticker headline of the market data view.
type AssetSummary struct {
	Ticker               string   `json:"ticker"`
	FirstDate            string   `json:"first_date"`
	LastDate             string   `json:"last_date"`
	LastPrice            float64  `json:"last_price"`
	PeriodReturn         float64  `json:"period_return"`
	MeanDailyReturn      float64  `json:"mean_daily_return"`
	AnnualizedVolatility float64  `json:"annualized_volatility"`
	SMA20                *float64 `json:"sma_20,omitempty"`
	SMA50                *float64 `json:"sma_50,omitempty"`
	Volatility20D        *float64 `json:"volatility_20d,omitempty"`
}

// Summarize builds one summary per ticker from a forward-filled price table
// and its return table. Leading gaps in the price table are skipped.
func Summarize(pt *PriceTable, rt *ReturnTable) []AssetSummary {
	summaries := make([]AssetSummary, 0, len(pt.Tickers))

	for _, ticker := range pt.Tickers {
		prices, dates := observed(pt.Prices[ticker], pt.Dates)
		returns := rt.Returns[ticker]

		s := AssetSummary{
			Ticker:               ticker,
			PeriodReturn:         formulas.CumulativeReturn(prices),
			MeanDailyReturn:      formulas.Mean(returns),
			AnnualizedVolatility: formulas.AnnualizedVolatility(returns),
			SMA20:                formulas.CalculateSMA(prices, 20),
			SMA50:                formulas.CalculateSMA(prices, 50),
			Volatility20D:        formulas.RollingVolatility(returns, 20),
		}
		if len(prices) > 0 {
			s.FirstDate = dates[0]
			s.LastDate = dates[len(dates)-1]
			s.LastPrice = prices[len(prices)-1]
		}

		summaries = append(summaries, s)
	}

	return summaries
}

// observed drops NaN prices together with their dates.
func observed(prices []float64, dates []string) ([]float64, []string) {
	outP := make([]float64, 0, len(prices))
	outD := make([]string, 0, len(prices))
	for i, p := range prices {
		if math.IsNaN(p) {
			continue
		}
		outP = append(outP, p)
		outD = append(outD, dates[i])
	}
	return outP, outD
}
