package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/alphapulse/internal/clients/yahoo"
)

// ErrUpstreamData means prices could not be obtained from the data source:
// network failure, or an empty, delisted or unknown ticker.
var ErrUpstreamData = errors.New("upstream data unavailable")

// UpstreamHint is shown to users when a download fails.
const UpstreamHint = "Check the ticker symbols (some may be delisted) and your internet connection."

// UpstreamError names the ticker whose download failed.
type UpstreamError struct {
	Ticker string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream data unavailable for %s: %v", e.Ticker, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrUpstreamData) hold.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamData
}

// PriceSource downloads adjusted daily closes with start <= date < end.
type PriceSource interface {
	GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time) ([]yahoo.HistoricalPrice, error)
}

// Provider builds aligned price tables.
type Provider interface {
	GetPriceTable(ctx context.Context, tickers []string, start, end time.Time) (*PriceTable, error)
}

// CachedProvider serves prices from the SQLite cache and downloads what is
// missing or stale.
type CachedProvider struct {
	source      PriceSource
	cache       *HistoryDB // nil disables caching
	ttl         time.Duration
	concurrency int
	now         func() time.Time
	log         zerolog.Logger
}

// NewCachedProvider creates a provider. A range that extends past the last
// sync is downloaded again once ttl has elapsed.
func NewCachedProvider(source PriceSource, cache *HistoryDB, ttl time.Duration, log zerolog.Logger) *CachedProvider {
	return &CachedProvider{
		source:      source,
		cache:       cache,
		ttl:         ttl,
		concurrency: 4,
		now:         time.Now,
		log:         log.With().Str("component", "price_provider").Logger(),
	}
}

// NormalizeTickers upper-cases, trims and de-duplicates tickers, keeping order.
func NormalizeTickers(tickers []string) []string {
	seen := make(map[string]bool, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// GetPriceTable loads every ticker concurrently and aligns them. The first
// failing ticker aborts the load with an *UpstreamError.
func (p *CachedProvider) GetPriceTable(ctx context.Context, tickers []string, start, end time.Time) (*PriceTable, error) {
	tickers = NormalizeTickers(tickers)
	if len(tickers) == 0 {
		return nil, fmt.Errorf("no tickers requested")
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("start %s is not before end %s", start.Format(dateLayout), end.Format(dateLayout))
	}

	results := make([][]DailyPrice, len(tickers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, ticker := range tickers {
		g.Go(func() error {
			prices, err := p.loadTicker(gctx, ticker, start, end)
			if err != nil {
				return &UpstreamError{Ticker: ticker, Err: err}
			}
			results[i] = prices
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byTicker := make(map[string][]DailyPrice, len(tickers))
	for i, ticker := range tickers {
		byTicker[ticker] = results[i]
	}
	return BuildPriceTable(tickers, byTicker), nil
}

func (p *CachedProvider) loadTicker(ctx context.Context, ticker string, start, end time.Time) ([]DailyPrice, error) {
	var state *SyncState
	if p.cache != nil {
		var err error
		state, err = p.cache.GetSyncState(ticker)
		if err != nil {
			p.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to read price cache state")
			state = nil
		}
		if state != nil && p.fresh(state, start, end) {
			prices, err := p.cache.GetDailyPrices(ticker, start, end)
			if err == nil && len(prices) > 0 {
				p.log.Debug().Str("ticker", ticker).Int("count", len(prices)).Msg("Price cache hit")
				return prices, nil
			}
			if err != nil {
				p.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to read cached prices")
			}
		}
	}

	// Download the union with the cached range so the covered range stays contiguous.
	from, to := start, end
	if state != nil {
		if state.FirstDate.Before(from) {
			from = state.FirstDate
		}
		if state.LastDate.After(to) {
			to = state.LastDate
		}
	}

	prices, err := p.download(ctx, ticker, from, to)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		if err := p.cache.SyncPrices(ticker, prices, from, to, p.now()); err != nil {
			p.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to cache prices")
		}
	}

	inRange := sliceRange(prices, start, end)
	if len(inRange) == 0 {
		return nil, fmt.Errorf("no prices between %s and %s", start.Format(dateLayout), end.Format(dateLayout))
	}
	return inRange, nil
}

// fresh reports whether the cache can answer [start, end) without a download.
func (p *CachedProvider) fresh(s *SyncState, start, end time.Time) bool {
	if !s.Covers(start, end) {
		return false
	}
	if !end.After(s.LastSynced) {
		return true
	}
	return p.now().Sub(s.LastSynced) < p.ttl
}

func (p *CachedProvider) download(ctx context.Context, ticker string, start, end time.Time) ([]DailyPrice, error) {
	bars, err := p.source.GetHistoricalPrices(ctx, ticker, start, end)
	if err != nil {
		return nil, err
	}

	prices := make([]DailyPrice, 0, len(bars))
	for _, b := range bars {
		prices = append(prices, DailyPrice{
			Date:     b.Date.UTC().Format(dateLayout),
			Close:    b.Close,
			AdjClose: b.AdjClose,
		})
	}
	return prices, nil
}

// Refresh downloads every cached ticker again from its first cached day up
// to today. It returns how many tickers were refreshed; failures are joined.
func (p *CachedProvider) Refresh(ctx context.Context) (int, error) {
	if p.cache == nil {
		return 0, nil
	}

	tickers, err := p.cache.ListTickers()
	if err != nil {
		return 0, err
	}

	now := p.now()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)

	var errs []error
	refreshed := 0
	for _, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			return refreshed, err
		}

		state, err := p.cache.GetSyncState(ticker)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ticker, err))
			continue
		}
		if state == nil {
			continue
		}

		prices, err := p.download(ctx, ticker, state.FirstDate, end)
		if err != nil {
			errs = append(errs, &UpstreamError{Ticker: ticker, Err: err})
			continue
		}
		if err := p.cache.SyncPrices(ticker, prices, state.FirstDate, end, now); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ticker, err))
			continue
		}
		refreshed++
	}

	p.log.Info().
		Int("tickers", len(tickers)).
		Int("refreshed", refreshed).
		Msg("Refreshed price cache")

	return refreshed, errors.Join(errs...)
}

// sliceRange keeps prices with start <= date < end.
func sliceRange(prices []DailyPrice, start, end time.Time) []DailyPrice {
	from, to := start.Format(dateLayout), end.Format(dateLayout)
	out := make([]DailyPrice, 0, len(prices))
	for _, p := range prices {
		if p.Date >= from && p.Date < to {
			out = append(out, p)
		}
	}
	return out
}
