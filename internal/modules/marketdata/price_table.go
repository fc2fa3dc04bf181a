// Package marketdata turns downloaded price history into aligned price and
// return tables, and caches the downloads in SQLite.
package marketdata

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/alphapulse/pkg/formulas"
)

// PriceTable holds one adjusted close series per ticker over a shared,
// ascending trading-day index. Missing observations are NaN.
type PriceTable struct {
	Dates   []string             `json:"dates"`
	Tickers []string             `json:"tickers"`
	Prices  map[string][]float64 `json:"prices"`
}

// ReturnTable holds daily simple returns over a shared index. Dates[i] is the
// day the return was realised.
type ReturnTable struct {
	Dates   []string             `json:"dates"`
	Tickers []string             `json:"tickers"`
	Returns map[string][]float64 `json:"returns"`
}

// FillStats reports what ForwardFill changed.
type FillStats struct {
	Missing      int `json:"missing"`
	Filled       int `json:"filled"`
	StillMissing int `json:"still_missing"`
}

// BuildPriceTable aligns per-ticker prices to the union of their dates.
// Days a ticker did not trade are NaN.
func BuildPriceTable(tickers []string, prices map[string][]DailyPrice) *PriceTable {
	byTicker := make(map[string]map[string]float64, len(tickers))
	dateSet := make(map[string]bool)

	for _, ticker := range tickers {
		byTicker[ticker] = make(map[string]float64, len(prices[ticker]))
		for _, p := range prices[ticker] {
			byTicker[ticker][p.Date] = p.AdjClose
			dateSet[p.Date] = true
		}
	}

	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	table := &PriceTable{
		Dates:   dates,
		Tickers: append([]string(nil), tickers...),
		Prices:  make(map[string][]float64, len(tickers)),
	}
	for _, ticker := range tickers {
		series := make([]float64, len(dates))
		for i, d := range dates {
			if v, ok := byTicker[ticker][d]; ok {
				series[i] = v
			} else {
				series[i] = math.NaN()
			}
		}
		table.Prices[ticker] = series
	}

	return table
}

// Len returns the number of trading days.
func (t *PriceTable) Len() int {
	return len(t.Dates)
}

// ForwardFill returns a copy where each missing price carries the last
// observed price forward. Leading gaps stay NaN.
func (t *PriceTable) ForwardFill() (*PriceTable, FillStats) {
	out := &PriceTable{
		Dates:   append([]string(nil), t.Dates...),
		Tickers: append([]string(nil), t.Tickers...),
		Prices:  make(map[string][]float64, len(t.Tickers)),
	}

	var stats FillStats
	for _, ticker := range t.Tickers {
		filled := make([]float64, len(t.Prices[ticker]))
		copy(filled, t.Prices[ticker])

		last, hasLast := 0.0, false
		for i, v := range filled {
			if math.IsNaN(v) {
				stats.Missing++
				if hasLast {
					filled[i] = last
					stats.Filled++
				}
				continue
			}
			last, hasLast = v, true
		}
		out.Prices[ticker] = filled
	}
	stats.StillMissing = stats.Missing - stats.Filled

	return out, stats
}

// Returns derives daily simple returns, price[t]/price[t-1] - 1. The first
// day has no return. Days where any ticker still lacks a return (leading
// gaps) are dropped, so every remaining row is complete.
func (t *PriceTable) Returns() *ReturnTable {
	raw := make(map[string][]float64, len(t.Tickers))
	for _, ticker := range t.Tickers {
		raw[ticker] = formulas.CalculateReturns(t.Prices[ticker])
	}

	keep := make([]int, 0, len(t.Dates))
	for i := 1; i < len(t.Dates); i++ {
		complete := true
		for _, ticker := range t.Tickers {
			r := raw[ticker][i-1]
			if math.IsNaN(r) || math.IsInf(r, 0) {
				complete = false
				break
			}
		}
		if complete {
			keep = append(keep, i)
		}
	}

	rt := &ReturnTable{
		Dates:   make([]string, len(keep)),
		Tickers: append([]string(nil), t.Tickers...),
		Returns: make(map[string][]float64, len(t.Tickers)),
	}
	for j, i := range keep {
		rt.Dates[j] = t.Dates[i]
	}
	for _, ticker := range t.Tickers {
		series := make([]float64, len(keep))
		for j, i := range keep {
			series[j] = raw[ticker][i-1]
		}
		rt.Returns[ticker] = series
	}

	return rt
}

// Tail returns the last n days (all of them if n <= 0 or n >= Len).
func (t *PriceTable) Tail(n int) *PriceTable {
	from := tailStart(len(t.Dates), n)
	out := &PriceTable{
		Dates:   append([]string(nil), t.Dates[from:]...),
		Tickers: append([]string(nil), t.Tickers...),
		Prices:  make(map[string][]float64, len(t.Tickers)),
	}
	for _, ticker := range t.Tickers {
		out.Prices[ticker] = append([]float64(nil), t.Prices[ticker][from:]...)
	}
	return out
}

// Len returns the number of return observations.
func (r *ReturnTable) Len() int {
	return len(r.Dates)
}

// Series returns the return series of one ticker.
func (r *ReturnTable) Series(ticker string) ([]float64, error) {
	series, ok := r.Returns[ticker]
	if !ok {
		return nil, fmt.Errorf("no returns for ticker %s", ticker)
	}
	return series, nil
}

// Tail returns the last n observations (all of them if n <= 0 or n >= Len).
func (r *ReturnTable) Tail(n int) *ReturnTable {
	from := tailStart(len(r.Dates), n)
	out := &ReturnTable{
		Dates:   append([]string(nil), r.Dates[from:]...),
		Tickers: append([]string(nil), r.Tickers...),
		Returns: make(map[string][]float64, len(r.Tickers)),
	}
	for _, ticker := range r.Tickers {
		out.Returns[ticker] = append([]float64(nil), r.Returns[ticker][from:]...)
	}
	return out
}

func tailStart(length, n int) int {
	if n <= 0 || n >= length {
		return 0
	}
	return length - n
}
