// Package analysis runs the dashboard's end-to-end risk analysis: load
// prices, derive returns, simulate and summarise.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/alphapulse/internal/modules/marketdata"
	"github.com/aristath/alphapulse/internal/modules/montecarlo"
)

// Report is the result of one analysis. It omits the ensemble itself, which
// stays in the registry.
type Report struct {
	ID                 string                        `json:"id"`
	CreatedAt          time.Time                     `json:"created_at"`
	Request            Resolved                      `json:"request"`
	Observations       int                           `json:"observations"`
	Statistics         []montecarlo.AssetStatistics  `json:"statistics"`
	ZeroVarianceAssets []string                      `json:"zero_variance_assets,omitempty"`
	Risk               montecarlo.RiskMetrics        `json:"risk"`
	Display            Display                       `json:"display"`
	Correlation        *marketdata.CorrelationMatrix `json:"correlation,omitempty"`
	Summaries          []marketdata.AssetSummary     `json:"summaries"`
	Fill               marketdata.FillStats          `json:"fill"`
	Timings            Timings                       `json:"timings"`
}

// Timings records how long each phase took, in milliseconds.
type Timings struct {
	FetchMs    int64 `json:"fetch_ms"`
	SimulateMs int64 `json:"simulate_ms"`
	TotalMs    int64 `json:"total_ms"`
}

// MarketView is the market data tab: filled prices, returns and summaries.
type MarketView struct {
	Prices    *marketdata.PriceTable    `json:"prices"`
	Returns   *marketdata.ReturnTable   `json:"returns"`
	Summaries []marketdata.AssetSummary `json:"summaries"`
	Fill      marketdata.FillStats      `json:"fill"`
}

// Service orchestrates analyses
type Service struct {
	provider  marketdata.Provider
	simulator *montecarlo.Simulator
	registry  *Registry
	defaults  Defaults
	now       func() time.Time
	log       zerolog.Logger
}

// NewService creates a new analysis service
func NewService(provider marketdata.Provider, simulator *montecarlo.Simulator, registry *Registry, defaults Defaults, log zerolog.Logger) *Service {
	return &Service{
		provider:  provider,
		simulator: simulator,
		registry:  registry,
		defaults:  defaults,
		now:       time.Now,
		log:       log.With().Str("service", "analysis").Logger(),
	}
}

// Defaults returns the settings applied to blank request fields.
func (s *Service) Defaults() Defaults {
	return s.defaults
}

// Resolve validates a request against the service defaults.
func (s *Service) Resolve(req Request) (Resolved, error) {
	return Resolve(req, s.defaults, s.now())
}

// Run executes a full analysis and stores it in the registry. Prices are
// loaded before anything is simulated; a load failure wraps
// marketdata.ErrUpstreamData and no simulation starts.
func (s *Service) Run(ctx context.Context, req Request, progress montecarlo.ProgressFunc) (*Report, error) {
	started := s.now()

	resolved, err := s.Resolve(req)
	if err != nil {
		return nil, err
	}

	view, err := s.load(ctx, resolved.Tickers, resolved.Start, resolved.End)
	if err != nil {
		return nil, err
	}
	fetched := s.now()

	series := make([]montecarlo.AssetReturns, 0, len(resolved.Tickers))
	for _, ticker := range resolved.Tickers {
		returns, err := view.Returns.Series(ticker)
		if err != nil {
			return nil, err
		}
		series = append(series, montecarlo.AssetReturns{Asset: ticker, Returns: returns})
	}

	stats, err := montecarlo.ComputeStatistics(series)
	if err != nil {
		return nil, fmt.Errorf("failed to compute return statistics: %w", err)
	}
	if flat := stats.ZeroVarianceAssets(); len(flat) > 0 {
		s.log.Warn().Strs("tickers", flat).Msg("Assets with zero return variance are simulated without noise")
	}

	ensemble, err := s.simulator.Run(ctx, stats, resolved.SimulationConfig(s.defaults, progress))
	if err != nil {
		return nil, err
	}
	simulated := s.now()

	metrics, err := montecarlo.Summarize(ensemble.EndingValues(), resolved.InitialInvestment)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize ensemble: %w", err)
	}

	corr, err := marketdata.Correlate(view.Returns)
	if err != nil {
		s.log.Warn().Err(err).Msg("Skipping correlation matrix")
		corr = nil
	}

	report := &Report{
		ID:                 uuid.New().String(),
		CreatedAt:          started.UTC(),
		Request:            resolved,
		Observations:       view.Returns.Len(),
		Statistics:         stats.Assets(),
		ZeroVarianceAssets: stats.ZeroVarianceAssets(),
		Risk:               metrics,
		Display:            NewDisplay(metrics, resolved.HorizonDays),
		Correlation:        corr,
		Summaries:          view.Summaries,
		Fill:               view.Fill,
		Timings: Timings{
			FetchMs:    fetched.Sub(started).Milliseconds(),
			SimulateMs: simulated.Sub(fetched).Milliseconds(),
			TotalMs:    s.now().Sub(started).Milliseconds(),
		},
	}

	s.registry.Add(&Run{Report: report, Ensemble: ensemble})

	s.log.Info().
		Str("id", report.ID).
		Strs("tickers", resolved.Tickers).
		Int("runs", resolved.Runs).
		Float64("var", metrics.ValueAtRisk).
		Str("scenario", string(metrics.Scenario)).
		Int64("total_ms", report.Timings.TotalMs).
		Msg("Analysis completed")

	return report, nil
}

// Get returns a stored analysis run.
func (s *Service) Get(id string) (*Run, bool) {
	return s.registry.Get(id)
}

// List returns the stored reports, newest first.
func (s *Service) List() []*Report {
	return s.registry.List()
}

// MarketData loads the market data view for a request's tickers and dates.
func (s *Service) MarketData(ctx context.Context, req Request) (*MarketView, error) {
	resolved, err := s.Resolve(req)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, resolved.Tickers, resolved.Start, resolved.End)
}

// Correlation computes the return correlation matrix for a request's tickers and dates.
func (s *Service) Correlation(ctx context.Context, req Request) (*marketdata.CorrelationMatrix, error) {
	view, err := s.MarketData(ctx, req)
	if err != nil {
		return nil, err
	}
	corr, err := marketdata.Correlate(view.Returns)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", montecarlo.ErrInsufficientHistory, err)
	}
	return corr, nil
}

func (s *Service) load(ctx context.Context, tickers []string, start, end time.Time) (*MarketView, error) {
	table, err := s.provider.GetPriceTable(ctx, tickers, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load prices: %w", err)
	}

	filled, fill := table.ForwardFill()
	if fill.Missing > 0 {
		s.log.Debug().
			Int("missing", fill.Missing).
			Int("filled", fill.Filled).
			Int("still_missing", fill.StillMissing).
			Msg("Forward-filled price gaps")
	}

	returns := filled.Returns()
	return &MarketView{
		Prices:    filled,
		Returns:   returns,
		Summaries: marketdata.Summarize(filled, returns),
		Fill:      fill,
	}, nil
}
