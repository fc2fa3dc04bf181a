package montecarlo

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"
)

// Defaults for a one-year, ten-thousand-path simulation.
const (
	DefaultHorizon           = 252 // 1 year of trading days
	DefaultRuns              = 10000
	DefaultInitialInvestment = 10000.0
)

// DefaultSeed makes repeated analyses reproducible unless a seed is supplied.
const DefaultSeed uint64 = 42

// Config controls one simulation invocation.
type Config struct {
	Horizon           int     // trading days per path
	Runs              int     // independent paths
	InitialInvestment float64 // V0, value before day 0
	Seed              uint64  // root of every per-run random stream

	Workers  int           // goroutines; <= 0 means GOMAXPROCS
	Timeout  time.Duration // wall-clock budget for the whole run; 0 disables it
	Progress ProgressFunc  // optional
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		Horizon:           DefaultHorizon,
		Runs:              DefaultRuns,
		InitialInvestment: DefaultInitialInvestment,
		Seed:              DefaultSeed,
	}
}

// Validate rejects configurations the simulator cannot run.
func (c Config) Validate() error {
	if c.Horizon <= 0 {
		return &ConfigError{Field: "horizon", Reason: fmt.Sprintf("must be positive, got %d", c.Horizon)}
	}
	if c.Runs <= 0 {
		return &ConfigError{Field: "runs", Reason: fmt.Sprintf("must be positive, got %d", c.Runs)}
	}
	if math.IsNaN(c.InitialInvestment) || math.IsInf(c.InitialInvestment, 0) || c.InitialInvestment <= 0 {
		return &ConfigError{Field: "initial_investment", Reason: fmt.Sprintf("must be positive and finite, got %v", c.InitialInvestment)}
	}
	if c.Timeout < 0 {
		return &ConfigError{Field: "timeout", Reason: "must not be negative"}
	}
	return nil
}

func (c Config) workerCount() int {
	workers := c.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > c.Runs {
		workers = c.Runs
	}
	return workers
}

// Simulator generates equal-weight portfolio paths from per-asset return statistics.
type Simulator struct {
	log zerolog.Logger
}

// NewSimulator creates a new simulator
func NewSimulator(log zerolog.Logger) *Simulator {
	return &Simulator{
		log: log.With().Str("component", "monte_carlo").Logger(),
	}
}

// Run produces a Horizon x Runs ensemble.
//
// Every run draws its own Horizon x N matrix of independent normal returns
// (day-major, asset-minor), averages each day across assets and compounds
// InitialInvestment along the result. Run r samples from a random stream
// derived from (Seed, r) only, so the output is identical for any worker count.
//
// Nothing is sampled if the configuration is invalid or ctx is already done.
// If ctx is cancelled or the timeout expires mid-way, the partial ensemble is
// discarded and the context error is returned.
func (s *Simulator) Run(ctx context.Context, stats *ReturnStatistics, cfg Config) (*Ensemble, error) {
	if stats == nil || stats.Len() == 0 {
		return nil, &ConfigError{Field: "assets", Reason: "must contain at least one asset"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("simulation not started: %w", err)
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	workers := cfg.workerCount()
	start := time.Now()

	s.log.Debug().
		Int("assets", stats.Len()).
		Int("horizon", cfg.Horizon).
		Int("runs", cfg.Runs).
		Int("workers", workers).
		Uint64("seed", cfg.Seed).
		Msg("Starting simulation")

	ensemble := newEnsemble(cfg.Horizon, cfg.Runs, cfg.InitialInvestment)
	progress := newProgressTracker(cfg.Runs, cfg.Progress)
	template := stats.normals()

	var next atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			normals := make([]distuv.Normal, len(template))
			copy(normals, template)
			draws := make([]float64, len(normals))

			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				run := int(next.Add(1) - 1)
				if run >= cfg.Runs {
					return nil
				}

				src := runSource(cfg.Seed, run)
				for i := range normals {
					normals[i].Src = src
				}
				simulatePath(normals, draws, cfg.InitialInvestment, ensemble, run)
				progress.advance()
			}
		})
	}

	if err := g.Wait(); err != nil {
		s.log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("Simulation aborted")
		return nil, fmt.Errorf("simulation aborted: %w", err)
	}

	s.log.Debug().
		Dur("elapsed", time.Since(start)).
		Msg("Simulation completed")

	return ensemble, nil
}

// simulatePath fills column run of the ensemble.
func simulatePath(normals []distuv.Normal, draws []float64, initial float64, e *Ensemble, run int) {
	value := initial
	for t := 0; t < e.horizon; t++ {
		drawDay(normals, draws)
		value *= 1 + portfolioReturn(draws)
		e.set(t, run, value)
	}
}

// drawDay samples one return per asset.
func drawDay(normals []distuv.Normal, dst []float64) {
	for i := range normals {
		dst[i] = normals[i].Rand()
	}
}

// portfolioReturn is the equal-weight mean of one day's asset returns.
func portfolioReturn(draws []float64) float64 {
	sum := 0.0
	for _, r := range draws {
		sum += r
	}
	return sum / float64(len(draws))
}

// runSource derives the random stream of one run from the invocation seed.
func runSource(seed uint64, run int) rand.Source {
	return rand.NewPCG(seed, splitmix64(uint64(run)))
}

// splitmix64 spreads consecutive run indices over the seed space.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
