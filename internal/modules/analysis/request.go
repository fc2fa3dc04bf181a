package analysis

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aristath/alphapulse/internal/modules/marketdata"
	"github.com/aristath/alphapulse/internal/modules/montecarlo"
)

const dateLayout = "2006-01-02"

// Upper bounds on a single request.
const (
	MaxTickers = 50
	MaxRuns    = 100000
	MaxHorizon = 2520 // 10 years of trading days

	// MaxCells bounds runs x horizon, the size of one stored ensemble (80 MB).
	MaxCells = 10_000_000
)

// Request is what a client asks for. Zero values take the service defaults.
type Request struct {
	Tickers           []string `json:"tickers"`
	Start             string   `json:"start,omitempty"` // YYYY-MM-DD
	End               string   `json:"end,omitempty"`   // YYYY-MM-DD, exclusive
	HorizonDays       int      `json:"horizon_days,omitempty"`
	Runs              int      `json:"runs,omitempty"`
	InitialInvestment float64  `json:"initial_investment,omitempty"`
	Seed              *uint64  `json:"seed,omitempty"`
}

// Defaults fill the blanks of a Request.
type Defaults struct {
	Tickers           []string
	Start             string
	Horizon           int
	Runs              int
	InitialInvestment float64
	Seed              uint64
	Workers           int
	Timeout           time.Duration
}

// DefaultDefaults are the reference dashboard settings.
func DefaultDefaults() Defaults {
	return Defaults{
		Tickers:           []string{"AAPL", "MSFT", "NVDA", "JPM", "V", "AMZN", "KO", "PFE", "XOM", "TSLA"},
		Start:             "2020-01-01",
		Horizon:           montecarlo.DefaultHorizon,
		Runs:              montecarlo.DefaultRuns,
		InitialInvestment: montecarlo.DefaultInitialInvestment,
		Seed:              montecarlo.DefaultSeed,
	}
}

// Resolved is a validated request with every default applied.
type Resolved struct {
	Tickers           []string  `json:"tickers"`
	Start             time.Time `json:"-"`
	End               time.Time `json:"-"`
	StartDate         string    `json:"start"`
	EndDate           string    `json:"end"`
	HorizonDays       int       `json:"horizon_days"`
	Runs              int       `json:"runs"`
	InitialInvestment float64   `json:"initial_investment"`
	Seed              uint64    `json:"seed"`
}

// SimulationConfig converts the request into a simulator configuration.
func (r Resolved) SimulationConfig(d Defaults, progress montecarlo.ProgressFunc) montecarlo.Config {
	return montecarlo.Config{
		Horizon:           r.HorizonDays,
		Runs:              r.Runs,
		InitialInvestment: r.InitialInvestment,
		Seed:              r.Seed,
		Workers:           d.Workers,
		Timeout:           d.Timeout,
		Progress:          progress,
	}
}

// Resolve applies defaults and validates. Every rejection wraps
// montecarlo.ErrInvalidConfiguration.
func Resolve(req Request, d Defaults, now time.Time) (Resolved, error) {
	tickers := req.Tickers
	if len(tickers) == 0 {
		tickers = d.Tickers
	}
	tickers = marketdata.NormalizeTickers(tickers)
	if len(tickers) == 0 {
		return Resolved{}, &montecarlo.ConfigError{Field: "tickers", Reason: "must name at least one ticker"}
	}
	if len(tickers) > MaxTickers {
		return Resolved{}, &montecarlo.ConfigError{Field: "tickers", Reason: fmt.Sprintf("must not exceed %d", MaxTickers)}
	}

	startStr := strings.TrimSpace(req.Start)
	if startStr == "" {
		startStr = d.Start
	}
	start, err := time.Parse(dateLayout, startStr)
	if err != nil {
		return Resolved{}, &montecarlo.ConfigError{Field: "start", Reason: fmt.Sprintf("must be YYYY-MM-DD, got %q", startStr)}
	}

	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if s := strings.TrimSpace(req.End); s != "" {
		end, err = time.Parse(dateLayout, s)
		if err != nil {
			return Resolved{}, &montecarlo.ConfigError{Field: "end", Reason: fmt.Sprintf("must be YYYY-MM-DD, got %q", s)}
		}
	}
	if !start.Before(end) {
		return Resolved{}, &montecarlo.ConfigError{Field: "start", Reason: "must be before end"}
	}

	r := Resolved{
		Tickers:           tickers,
		Start:             start,
		End:               end,
		StartDate:         start.Format(dateLayout),
		EndDate:           end.Format(dateLayout),
		HorizonDays:       orDefault(req.HorizonDays, d.Horizon),
		Runs:              orDefault(req.Runs, d.Runs),
		InitialInvestment: req.InitialInvestment,
		Seed:              d.Seed,
	}
	if r.InitialInvestment == 0 {
		r.InitialInvestment = d.InitialInvestment
	}
	if req.Seed != nil {
		r.Seed = *req.Seed
	}

	switch {
	case r.HorizonDays > MaxHorizon:
		return Resolved{}, &montecarlo.ConfigError{Field: "horizon", Reason: fmt.Sprintf("must not exceed %d", MaxHorizon)}
	case r.Runs > MaxRuns:
		return Resolved{}, &montecarlo.ConfigError{Field: "runs", Reason: fmt.Sprintf("must not exceed %d", MaxRuns)}
	case r.Runs > 0 && r.HorizonDays > 0 && r.Runs*r.HorizonDays > MaxCells:
		return Resolved{}, &montecarlo.ConfigError{
			Field:  "runs",
			Reason: fmt.Sprintf("times horizon_days must not exceed %d, got %d", MaxCells, r.Runs*r.HorizonDays),
		}
	case math.IsNaN(r.InitialInvestment):
		return Resolved{}, &montecarlo.ConfigError{Field: "initial_investment", Reason: "must be a number"}
	}

	if err := r.SimulationConfig(d, nil).Validate(); err != nil {
		return Resolved{}, err
	}

	return r, nil
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
