package montecarlo

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/alphapulse/pkg/formulas"
)

// Ensemble is the H x R table of simulated portfolio values: row t is trading
// day t of the horizon, column r is simulation run r.
type Ensemble struct {
	horizon int
	runs    int
	initial float64
	values  *mat.Dense
	raw     blas64.General
}

// Band is one percentile envelope across the horizon.
type Band struct {
	Percentile float64   `json:"percentile" msgpack:"percentile"`
	Values     []float64 `json:"values" msgpack:"values"`
}

// SamplePath is a single simulated path picked for display.
type SamplePath struct {
	Run    int       `json:"run" msgpack:"run"`
	Values []float64 `json:"values" msgpack:"values"`
}

func newEnsemble(horizon, runs int, initial float64) *Ensemble {
	values := mat.NewDense(horizon, runs, make([]float64, horizon*runs))
	return &Ensemble{
		horizon: horizon,
		runs:    runs,
		initial: initial,
		values:  values,
		raw:     values.RawMatrix(),
	}
}

// set writes one cell. Each run's column is owned by exactly one worker.
func (e *Ensemble) set(t, run int, v float64) {
	e.raw.Data[t*e.raw.Stride+run] = v
}

// Horizon returns the number of simulated trading days (rows).
func (e *Ensemble) Horizon() int {
	return e.horizon
}

// Runs returns the number of simulation runs (columns).
func (e *Ensemble) Runs() int {
	return e.runs
}

// InitialInvestment returns the value every path started from.
func (e *Ensemble) InitialInvestment() float64 {
	return e.initial
}

// At returns the value of run r at the end of trading day t.
func (e *Ensemble) At(t, r int) float64 {
	return e.values.At(t, r)
}

// Path returns a copy of run r's values over the horizon.
func (e *Ensemble) Path(r int) []float64 {
	return mat.Col(nil, r, e.values)
}

// EndingValues returns a copy of the last row: the ending value of every run.
func (e *Ensemble) EndingValues() []float64 {
	return mat.Row(nil, e.horizon-1, e.values)
}

// Matrix exposes the ensemble as a read-only gonum matrix.
func (e *Ensemble) Matrix() mat.Matrix {
	return e.values
}

// PercentileBands computes, for every day, the requested percentiles (0..100)
// across runs.
func (e *Ensemble) PercentileBands(percentiles ...float64) ([]Band, error) {
	for _, p := range percentiles {
		if math.IsNaN(p) || p < 0 || p > 100 {
			return nil, fmt.Errorf("percentile %v out of range [0, 100]", p)
		}
	}

	bands := make([]Band, len(percentiles))
	for i, p := range percentiles {
		bands[i] = Band{Percentile: p, Values: make([]float64, e.horizon)}
	}

	row := make([]float64, e.runs)
	for t := 0; t < e.horizon; t++ {
		mat.Row(row, t, e.values)
		sort.Float64s(row)
		for i, p := range percentiles {
			bands[i].Values[t] = formulas.PercentileSorted(row, p)
		}
	}

	return bands, nil
}

// SamplePaths returns up to k runs spread evenly over the ensemble, always
// starting at run 0. k <= 0 or k >= Runs returns every run.
func (e *Ensemble) SamplePaths(k int) []SamplePath {
	if k <= 0 || k > e.runs {
		k = e.runs
	}

	paths := make([]SamplePath, k)
	for i := 0; i < k; i++ {
		run := i * e.runs / k
		paths[i] = SamplePath{Run: run, Values: e.Path(run)}
	}
	return paths
}
