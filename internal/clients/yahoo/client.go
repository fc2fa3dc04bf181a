// Package yahoo downloads daily price history from Yahoo Finance.
package yahoo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/ticker"
)

// ErrNoData is returned when Yahoo answers but has no bars for the range,
// typically a delisted or misspelled ticker.
var ErrNoData = errors.New("no price data returned")

// HistoricalPrice is one adjusted daily close.
type HistoricalPrice struct {
	Date     time.Time `json:"date"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adj_close"`
}

// barFetcher downloads daily bars for one symbol and period.
type barFetcher func(symbol, period string) ([]models.Bar, error)

// Client fetches historical prices using the go-yfinance library
type Client struct {
	log        zerolog.Logger
	fetch      barFetcher
	maxRetries int
	baseWait   time.Duration
	now        func() time.Time
}

// NewClient creates a new Yahoo Finance client
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		log:        log.With().Str("client", "yahoo").Logger(),
		fetch:      fetchBars,
		maxRetries: 3,
		baseWait:   time.Second,
		now:        time.Now,
	}
}

func fetchBars(symbol, period string) ([]models.Bar, error) {
	t, err := ticker.New(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()

	bars, err := t.History(models.HistoryParams{
		Period:     period,
		Interval:   "1d",
		AutoAdjust: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get historical prices: %w", err)
	}
	return bars, nil
}

// GetHistoricalPrices returns adjusted daily closes with start <= date < end,
// sorted by date. Failed downloads are retried with exponential backoff.
func (c *Client) GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time) ([]HistoricalPrice, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is empty")
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("start %s is not before end %s", start.Format(time.DateOnly), end.Format(time.DateOnly))
	}

	period := periodFor(start, c.now())

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			waitTime := c.baseWait * time.Duration(1<<uint(attempt-1))
			c.log.Warn().
				Err(lastErr).
				Str("symbol", symbol).
				Int("attempt", attempt+1).
				Dur("wait", waitTime).
				Msg("Retrying price download")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(waitTime):
			}
		}

		bars, err := c.fetch(symbol, period)
		if err != nil {
			lastErr = err
			continue
		}

		prices := filterBars(bars, start, end)
		if len(prices) == 0 {
			return nil, fmt.Errorf("%w for %s between %s and %s", ErrNoData, symbol,
				start.Format(time.DateOnly), end.Format(time.DateOnly))
		}

		c.log.Debug().
			Str("symbol", symbol).
			Str("period", period).
			Int("count", len(prices)).
			Msg("Downloaded price history")

		return prices, nil
	}

	return nil, fmt.Errorf("failed to download %s after %d attempts: %w", symbol, c.maxRetries, lastErr)
}

// filterBars keeps bars inside [start, end) with a usable close, sorted by date.
// AdjClose falls back to Close when Yahoo omits it.
func filterBars(bars []models.Bar, start, end time.Time) []HistoricalPrice {
	prices := make([]HistoricalPrice, 0, len(bars))
	for _, bar := range bars {
		day := truncateDay(bar.Date)
		if day.Before(truncateDay(start)) || !day.Before(truncateDay(end)) {
			continue
		}
		if bar.Close <= 0 {
			continue
		}

		adj := bar.AdjClose
		if adj <= 0 {
			adj = bar.Close
		}
		prices = append(prices, HistoricalPrice{Date: day, Close: bar.Close, AdjClose: adj})
	}

	sort.Slice(prices, func(i, j int) bool { return prices[i].Date.Before(prices[j].Date) })
	return prices
}

// periodFor picks the shortest Yahoo period that reaches back to start.
func periodFor(start, now time.Time) string {
	switch age := now.Sub(start); {
	case age <= 365*24*time.Hour:
		return "1y"
	case age <= 2*365*24*time.Hour:
		return "2y"
	case age <= 5*365*24*time.Hour:
		return "5y"
	case age <= 10*365*24*time.Hour:
		return "10y"
	default:
		return "max"
	}
}

// truncateDay maps a bar timestamp to its UTC calendar day.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
