// Package montecarlo implements the Monte Carlo portfolio simulation and
// Value-at-Risk engine.
//
// The pipeline has three stages:
//   - ComputeStatistics turns aligned daily return series into per-asset
//     mean and sample standard deviation.
//   - Simulator.Run draws independent normal daily returns per asset and day,
//     averages them into an equal-weight portfolio return and compounds the
//     initial investment along each path.
//   - Summarize reduces the ending values of the ensemble to the percentile,
//     VaR and its loss/gain classification.
//
// Assets are simulated independently; no correlation structure is applied.
package montecarlo

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// MinObservations is the minimum number of daily returns per asset.
const MinObservations = 2

// AssetReturns is the daily simple-return series of one asset.
type AssetReturns struct {
	Asset   string
	Returns []float64
}

// AssetStatistics holds the simulation parameters of one asset.
type AssetStatistics struct {
	Asset        string  `json:"asset"`
	Mean         float64 `json:"mean"`
	StdDev       float64 `json:"std_dev"`
	Observations int     `json:"observations"`
}

// ReturnStatistics is the immutable set of per-asset parameters, in input order.
type ReturnStatistics struct {
	assets []AssetStatistics
}

// ComputeStatistics computes the arithmetic mean and the sample (n-1) standard
// deviation of every series.
//
// All series must have the same length (one shared trading-day index) and at
// least MinObservations finite values. A zero standard deviation is kept as is;
// see ZeroVarianceAssets.
func ComputeStatistics(series []AssetReturns) (*ReturnStatistics, error) {
	if len(series) == 0 {
		return nil, &ConfigError{Field: "assets", Reason: "must contain at least one asset"}
	}

	expected := len(series[0].Returns)
	assets := make([]AssetStatistics, 0, len(series))

	for _, s := range series {
		if len(s.Returns) < MinObservations {
			return nil, &InsufficientHistoryError{Asset: s.Asset, Observations: len(s.Returns)}
		}
		if len(s.Returns) != expected {
			return nil, fmt.Errorf("%w: %s has %d observations, %s has %d",
				ErrMisalignedHistory, s.Asset, len(s.Returns), series[0].Asset, expected)
		}
		for i, r := range s.Returns {
			if math.IsNaN(r) || math.IsInf(r, 0) {
				return nil, fmt.Errorf("%w: %s at index %d", ErrNonFiniteReturn, s.Asset, i)
			}
		}

		mean, std := stat.MeanStdDev(s.Returns, nil)
		assets = append(assets, AssetStatistics{
			Asset:        s.Asset,
			Mean:         mean,
			StdDev:       std,
			Observations: len(s.Returns),
		})
	}

	return &ReturnStatistics{assets: assets}, nil
}

// NewReturnStatistics builds statistics from known parameters, for callers that
// already hold mean and standard deviation per asset.
func NewReturnStatistics(assets []AssetStatistics) (*ReturnStatistics, error) {
	if len(assets) == 0 {
		return nil, &ConfigError{Field: "assets", Reason: "must contain at least one asset"}
	}

	out := make([]AssetStatistics, len(assets))
	for i, a := range assets {
		if math.IsNaN(a.Mean) || math.IsInf(a.Mean, 0) {
			return nil, fmt.Errorf("%w: mean of %s", ErrNonFiniteReturn, a.Asset)
		}
		if math.IsNaN(a.StdDev) || math.IsInf(a.StdDev, 0) || a.StdDev < 0 {
			return nil, &ConfigError{Field: "std_dev", Reason: fmt.Sprintf("of %s must be finite and non-negative", a.Asset)}
		}
		out[i] = a
	}

	return &ReturnStatistics{assets: out}, nil
}

// Len returns the number of assets.
func (s *ReturnStatistics) Len() int {
	return len(s.assets)
}

// Asset returns the parameters of the i-th asset.
func (s *ReturnStatistics) Asset(i int) AssetStatistics {
	return s.assets[i]
}

// Assets returns a copy of all per-asset parameters.
func (s *ReturnStatistics) Assets() []AssetStatistics {
	out := make([]AssetStatistics, len(s.assets))
	copy(out, s.assets)
	return out
}

// ZeroVarianceAssets lists assets whose returns never varied. They are
// simulated as a deterministic drift at their mean.
func (s *ReturnStatistics) ZeroVarianceAssets() []string {
	var out []string
	for _, a := range s.assets {
		if a.StdDev == 0 {
			out = append(out, a.Asset)
		}
	}
	return out
}

// normals returns one unseeded sampler per asset.
func (s *ReturnStatistics) normals() []distuv.Normal {
	out := make([]distuv.Normal, len(s.assets))
	for i, a := range s.assets {
		out[i] = distuv.Normal{Mu: a.Mean, Sigma: a.StdDev}
	}
	return out
}
