package marketdata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/alphapulse/internal/clients/yahoo"
)

// fakeSource serves generated weekday prices and counts downloads per ticker.
type fakeSource struct {
	mu     sync.Mutex
	calls  map[string]int
	failed map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{calls: map[string]int{}, failed: map[string]error{}}
}

func (f *fakeSource) GetHistoricalPrices(_ context.Context, symbol string, start, end time.Time) ([]yahoo.HistoricalPrice, error) {
	f.mu.Lock()
	f.calls[symbol]++
	err := f.failed[symbol]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}

	var prices []yahoo.HistoricalPrice
	price := 100.0
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		price *= 1.001
		prices = append(prices, yahoo.HistoricalPrice{Date: d, Close: price, AdjClose: price})
	}
	return prices, nil
}

func (f *fakeSource) callCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func newTestProvider(t *testing.T, source PriceSource, withCache bool) *CachedProvider {
	var cache *HistoryDB
	if withCache {
		cache = NewHistoryDB(setupHistoryTestDB(t), testLogger())
	}
	p := NewCachedProvider(source, cache, 24*time.Hour, testLogger())
	p.now = func() time.Time { return date("2024-03-01").Add(12 * time.Hour) }
	return p
}

func TestNormalizeTickers(t *testing.T) {
	assert.Equal(t, []string{"AAPL", "MSFT"}, NormalizeTickers([]string{" aapl", "MSFT", "", "AAPL "}))
	assert.Empty(t, NormalizeTickers(nil))
}

func TestGetPriceTable_WithoutCache(t *testing.T) {
	source := newFakeSource()
	p := newTestProvider(t, source, false)

	table, err := p.GetPriceTable(context.Background(), []string{"aapl", "KO"}, date("2024-01-01"), date("2024-01-08"))
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "KO"}, table.Tickers)
	assert.Equal(t, []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"}, table.Dates)
	assert.InDelta(t, 100.1, table.Prices["AAPL"][0], 1e-9)
}

func TestGetPriceTable_ServesHistoricalRangeFromCache(t *testing.T) {
	source := newFakeSource()
	p := newTestProvider(t, source, true)
	ctx := context.Background()

	first, err := p.GetPriceTable(ctx, []string{"AAPL"}, date("2024-01-01"), date("2024-02-01"))
	require.NoError(t, err)

	// Well past the TTL, a closed historical range is still served from cache
	p.now = func() time.Time { return date("2024-06-01") }
	second, err := p.GetPriceTable(ctx, []string{"AAPL"}, date("2024-01-08"), date("2024-01-15"))
	require.NoError(t, err)

	assert.Equal(t, 1, source.callCount("AAPL"))
	assert.Equal(t, first.Prices["AAPL"][5:10], second.Prices["AAPL"])
}

func TestGetPriceTable_RefetchesOpenRangeAfterTTL(t *testing.T) {
	source := newFakeSource()
	p := newTestProvider(t, source, true)
	ctx := context.Background()

	_, err := p.GetPriceTable(ctx, []string{"MSFT"}, date("2024-02-01"), date("2024-03-02"))
	require.NoError(t, err)

	_, err = p.GetPriceTable(ctx, []string{"MSFT"}, date("2024-02-01"), date("2024-03-02"))
	require.NoError(t, err)
	assert.Equal(t, 1, source.callCount("MSFT"), "within TTL")

	p.now = func() time.Time { return date("2024-03-03") }
	_, err = p.GetPriceTable(ctx, []string{"MSFT"}, date("2024-02-01"), date("2024-03-02"))
	require.NoError(t, err)
	assert.Equal(t, 2, source.callCount("MSFT"), "after TTL")
}

func TestGetPriceTable_DownloadsWhenRangeNotCovered(t *testing.T) {
	source := newFakeSource()
	p := newTestProvider(t, source, true)
	ctx := context.Background()

	_, err := p.GetPriceTable(ctx, []string{"JPM"}, date("2024-01-15"), date("2024-02-01"))
	require.NoError(t, err)
	_, err = p.GetPriceTable(ctx, []string{"JPM"}, date("2024-01-01"), date("2024-02-01"))
	require.NoError(t, err)
	assert.Equal(t, 2, source.callCount("JPM"))

	state, err := p.cache.GetSyncState("JPM")
	require.NoError(t, err)
	assert.Equal(t, date("2024-01-01"), state.FirstDate)
}

func TestGetPriceTable_UpstreamFailure(t *testing.T) {
	source := newFakeSource()
	source.failed["DEAD"] = errors.New("404 not found")
	p := newTestProvider(t, source, true)

	table, err := p.GetPriceTable(context.Background(), []string{"AAPL", "DEAD"}, date("2024-01-01"), date("2024-02-01"))
	assert.Nil(t, table)
	require.ErrorIs(t, err, ErrUpstreamData)

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "DEAD", upstream.Ticker)
	assert.Contains(t, err.Error(), "404 not found")
}

func TestGetPriceTable_EmptyRangeIsUpstreamFailure(t *testing.T) {
	p := newTestProvider(t, newFakeSource(), false)

	// A weekend has no trading days
	_, err := p.GetPriceTable(context.Background(), []string{"KO"}, date("2024-01-06"), date("2024-01-08"))
	assert.ErrorIs(t, err, ErrUpstreamData)
}

func TestGetPriceTable_ValidatesRequest(t *testing.T) {
	p := newTestProvider(t, newFakeSource(), false)

	_, err := p.GetPriceTable(context.Background(), nil, date("2024-01-01"), date("2024-02-01"))
	assert.Error(t, err)

	_, err = p.GetPriceTable(context.Background(), []string{"KO"}, date("2024-02-01"), date("2024-01-01"))
	assert.Error(t, err)
}

func TestRefresh(t *testing.T) {
	source := newFakeSource()
	p := newTestProvider(t, source, true)
	ctx := context.Background()

	_, err := p.GetPriceTable(ctx, []string{"AAPL", "KO"}, date("2024-01-01"), date("2024-02-01"))
	require.NoError(t, err)

	source.failed["KO"] = errors.New("rate limited")
	refreshed, err := p.Refresh(ctx)
	assert.Equal(t, 1, refreshed)
	assert.ErrorIs(t, err, ErrUpstreamData)
	assert.Equal(t, 2, source.callCount("AAPL"))

	state, err := p.cache.GetSyncState("AAPL")
	require.NoError(t, err)
	assert.Equal(t, date("2024-03-02"), state.LastDate)
}

func TestRefresh_WithoutCache(t *testing.T) {
	p := newTestProvider(t, newFakeSource(), false)
	refreshed, err := p.Refresh(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, refreshed)
}
