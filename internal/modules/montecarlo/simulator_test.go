package montecarlo

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func testStatistics(t *testing.T) *ReturnStatistics {
	t.Helper()
	stats, err := NewReturnStatistics([]AssetStatistics{
		{Asset: "AAPL", Mean: 0.0011, StdDev: 0.021},
		{Asset: "KO", Mean: 0.0003, StdDev: 0.011},
		{Asset: "TSLA", Mean: 0.0025, StdDev: 0.041},
	})
	require.NoError(t, err)
	return stats
}

func smallConfig() Config {
	return Config{
		Horizon:           30,
		Runs:              200,
		InitialInvestment: 10000,
		Seed:              42,
		Workers:           4,
	}
}

func TestRun_Shape(t *testing.T) {
	sim := NewSimulator(testLogger())
	cfg := smallConfig()

	ens, err := sim.Run(context.Background(), testStatistics(t), cfg)
	require.NoError(t, err)

	assert.Equal(t, cfg.Horizon, ens.Horizon())
	assert.Equal(t, cfg.Runs, ens.Runs())
	rows, cols := ens.Matrix().Dims()
	assert.Equal(t, cfg.Horizon, rows)
	assert.Equal(t, cfg.Runs, cols)

	for day := 0; day < rows; day++ {
		for run := 0; run < cols; run++ {
			v := ens.At(day, run)
			require.False(t, math.IsNaN(v) || math.IsInf(v, 0), "value at (%d,%d) not finite", day, run)
			require.Greater(t, v, 0.0)
		}
	}
}

func TestRun_IsDeterministicForSeed(t *testing.T) {
	sim := NewSimulator(testLogger())
	stats := testStatistics(t)

	a, err := sim.Run(context.Background(), stats, smallConfig())
	require.NoError(t, err)
	b, err := sim.Run(context.Background(), stats, smallConfig())
	require.NoError(t, err)

	assert.True(t, mat.Equal(a.Matrix(), b.Matrix()))
}

func TestRun_IndependentOfWorkerCount(t *testing.T) {
	sim := NewSimulator(testLogger())
	stats := testStatistics(t)

	serial := smallConfig()
	serial.Workers = 1
	parallel := smallConfig()
	parallel.Workers = 8

	a, err := sim.Run(context.Background(), stats, serial)
	require.NoError(t, err)
	b, err := sim.Run(context.Background(), stats, parallel)
	require.NoError(t, err)

	assert.True(t, mat.Equal(a.Matrix(), b.Matrix()))
}

func TestRun_DifferentSeedsDiffer(t *testing.T) {
	sim := NewSimulator(testLogger())
	stats := testStatistics(t)

	cfg := smallConfig()
	a, err := sim.Run(context.Background(), stats, cfg)
	require.NoError(t, err)

	cfg.Seed = 7
	b, err := sim.Run(context.Background(), stats, cfg)
	require.NoError(t, err)

	assert.False(t, mat.Equal(a.Matrix(), b.Matrix()))
}

func TestRun_CompoundingMatchesDraws(t *testing.T) {
	sim := NewSimulator(testLogger())
	stats := testStatistics(t)
	cfg := smallConfig()

	ens, err := sim.Run(context.Background(), stats, cfg)
	require.NoError(t, err)

	for _, run := range []int{0, 1, 57, cfg.Runs - 1} {
		normals := stats.normals()
		src := runSource(cfg.Seed, run)
		for i := range normals {
			normals[i].Src = src
		}
		draws := make([]float64, stats.Len())

		prev := cfg.InitialInvestment
		for day := 0; day < cfg.Horizon; day++ {
			drawDay(normals, draws)
			sum := 0.0
			for _, r := range draws {
				sum += r
			}
			expected := prev * (1 + sum/float64(len(draws)))

			require.Equal(t, expected, ens.At(day, run), "run %d day %d", run, day)
			prev = ens.At(day, run)
		}
	}
}

func TestRun_DegenerateSingleAsset(t *testing.T) {
	stats, err := ComputeStatistics([]AssetReturns{{Asset: "CASH", Returns: []float64{0, 0}}})
	require.NoError(t, err)
	require.Equal(t, 0.0, stats.Asset(0).StdDev)

	ens, err := NewSimulator(testLogger()).Run(context.Background(), stats, Config{
		Horizon:           5,
		Runs:              1,
		InitialInvestment: 10000,
		Seed:              DefaultSeed,
	})
	require.NoError(t, err)

	for day := 0; day < 5; day++ {
		assert.Equal(t, 10000.0, ens.At(day, 0))
	}

	metrics, err := Summarize(ens.EndingValues(), 10000)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, metrics.PercentileValue)
	assert.Equal(t, 0.0, metrics.ValueAtRisk)
	assert.Equal(t, ScenarioGain, metrics.Scenario)
}

func TestRun_ScalesLinearlyWithInitialInvestment(t *testing.T) {
	sim := NewSimulator(testLogger())
	stats := testStatistics(t)

	base := smallConfig()
	doubled := smallConfig()
	doubled.InitialInvestment = 2 * base.InitialInvestment

	a, err := sim.Run(context.Background(), stats, base)
	require.NoError(t, err)
	b, err := sim.Run(context.Background(), stats, doubled)
	require.NoError(t, err)

	for day := 0; day < base.Horizon; day++ {
		for run := 0; run < base.Runs; run++ {
			require.Equal(t, 2*a.At(day, run), b.At(day, run))
		}
	}

	ma, err := Summarize(a.EndingValues(), base.InitialInvestment)
	require.NoError(t, err)
	mb, err := Summarize(b.EndingValues(), doubled.InitialInvestment)
	require.NoError(t, err)
	assert.Equal(t, 2*ma.ValueAtRisk, mb.ValueAtRisk)
	assert.Equal(t, ma.Scenario, mb.Scenario)
}

func TestRun_MeanEndingValueMatchesDrift(t *testing.T) {
	stats, err := NewReturnStatistics([]AssetStatistics{{Asset: "SPY", Mean: 0.001, StdDev: 0.02}})
	require.NoError(t, err)

	cfg := Config{Horizon: 252, Runs: 2000, InitialInvestment: 10000, Seed: 1}
	ens, err := NewSimulator(testLogger()).Run(context.Background(), stats, cfg)
	require.NoError(t, err)

	metrics, err := Summarize(ens.EndingValues(), cfg.InitialInvestment)
	require.NoError(t, err)

	// E[V_H] = V0 * (1 + mu)^H for independent daily returns
	expected := cfg.InitialInvestment * math.Pow(1.001, 252)
	assert.InEpsilon(t, expected, metrics.MeanEndingValue, 0.05)
}

func TestRun_RejectsInvalidConfiguration(t *testing.T) {
	sim := NewSimulator(testLogger())
	stats := testStatistics(t)

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "zero horizon", mutate: func(c *Config) { c.Horizon = 0 }, field: "horizon"},
		{name: "negative horizon", mutate: func(c *Config) { c.Horizon = -5 }, field: "horizon"},
		{name: "zero runs", mutate: func(c *Config) { c.Runs = 0 }, field: "runs"},
		{name: "zero investment", mutate: func(c *Config) { c.InitialInvestment = 0 }, field: "initial_investment"},
		{name: "negative investment", mutate: func(c *Config) { c.InitialInvestment = -100 }, field: "initial_investment"},
		{name: "infinite investment", mutate: func(c *Config) { c.InitialInvestment = math.Inf(1) }, field: "initial_investment"},
		{name: "NaN investment", mutate: func(c *Config) { c.InitialInvestment = math.NaN() }, field: "initial_investment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig()
			tt.mutate(&cfg)
			called := false
			cfg.Progress = func(int, int) { called = true }

			ens, err := sim.Run(context.Background(), stats, cfg)
			assert.Nil(t, ens)
			require.ErrorIs(t, err, ErrInvalidConfiguration)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.False(t, called)
		})
	}
}

func TestRun_RejectsMissingStatistics(t *testing.T) {
	_, err := NewSimulator(testLogger()).Run(context.Background(), nil, smallConfig())
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestRun_DoesNotStartWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := smallConfig()
	called := false
	cfg.Progress = func(int, int) { called = true }

	ens, err := NewSimulator(testLogger()).Run(ctx, testStatistics(t), cfg)
	assert.Nil(t, ens)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestRun_CancelMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := smallConfig()
	cfg.Runs = 10000
	cfg.Workers = 1
	cfg.Progress = func(completed, total int) {
		if completed >= 100 {
			cancel()
		}
	}

	ens, err := NewSimulator(testLogger()).Run(ctx, testStatistics(t), cfg)
	assert.Nil(t, ens)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_ProgressIsMonotonicAndCompletes(t *testing.T) {
	cfg := smallConfig()
	cfg.Runs = 1000
	cfg.Workers = 4

	var mu sync.Mutex
	var seen []int
	cfg.Progress = func(completed, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 1000, total)
		seen = append(seen, completed)
	}

	_, err := NewSimulator(testLogger()).Run(context.Background(), testStatistics(t), cfg)
	require.NoError(t, err)

	require.NotEmpty(t, seen)
	assert.LessOrEqual(t, len(seen), 100)
	assert.Equal(t, 1000, seen[len(seen)-1])
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
}

func TestRun_ProgressDoesNotChangeResults(t *testing.T) {
	sim := NewSimulator(testLogger())
	stats := testStatistics(t)

	plain, err := sim.Run(context.Background(), stats, smallConfig())
	require.NoError(t, err)

	withProgress := smallConfig()
	withProgress.Progress = func(int, int) {}
	observed, err := sim.Run(context.Background(), stats, withProgress)
	require.NoError(t, err)

	assert.True(t, mat.Equal(plain.Matrix(), observed.Matrix()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 252, cfg.Horizon)
	assert.Equal(t, 10000, cfg.Runs)
	assert.Equal(t, 10000.0, cfg.InitialInvestment)
	assert.Equal(t, uint64(42), cfg.Seed)
	assert.NoError(t, cfg.Validate())
}

func TestProgressTracker_SmallRunCount(t *testing.T) {
	var calls []int
	p := newProgressTracker(3, func(completed, total int) { calls = append(calls, completed) })
	p.advance()
	p.advance()
	p.advance()
	assert.Equal(t, []int{1, 2, 3}, calls)
}
