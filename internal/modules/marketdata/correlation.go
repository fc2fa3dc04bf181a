package marketdata

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// CorrelationMatrix is the Pearson correlation of daily returns between tickers.
type CorrelationMatrix struct {
	Tickers      []string    `json:"tickers"`
	Values       [][]float64 `json:"values"`
	Observations int         `json:"observations"`
}

// Correlate computes the correlation matrix of a return table. A ticker whose
// returns never vary has no defined correlation; it is reported as 0 against
// every other ticker and 1 against itself.
func Correlate(rt *ReturnTable) (*CorrelationMatrix, error) {
	n := len(rt.Tickers)
	if n == 0 {
		return nil, fmt.Errorf("no tickers to correlate")
	}
	if rt.Len() < 2 {
		return nil, fmt.Errorf("need at least 2 return observations to correlate, got %d", rt.Len())
	}

	data := mat.NewDense(rt.Len(), n, nil)
	for j, ticker := range rt.Tickers {
		data.SetCol(j, rt.Returns[ticker])
	}

	corr := mat.NewSymDense(n, nil)
	stat.CorrelationMatrix(corr, data, nil)

	values := make([][]float64, n)
	for i := 0; i < n; i++ {
		values[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			v := corr.At(i, j)
			switch {
			case i == j:
				v = 1
			case math.IsNaN(v):
				v = 0
			}
			values[i][j] = v
		}
	}

	return &CorrelationMatrix{
		Tickers:      append([]string(nil), rt.Tickers...),
		Values:       values,
		Observations: rt.Len(),
	}, nil
}

// At returns the correlation between two tickers.
func (c *CorrelationMatrix) At(a, b string) (float64, bool) {
	i, j := -1, -1
	for k, t := range c.Tickers {
		if t == a {
			i = k
		}
		if t == b {
			j = k
		}
	}
	if i < 0 || j < 0 {
		return 0, false
	}
	return c.Values[i][j], true
}
