package montecarlo

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/alphapulse/pkg/formulas"
)

// DefaultConfidence is the VaR confidence level (5th percentile tail).
const DefaultConfidence = 0.95

// Scenario classifies the tail outcome of a simulation.
type Scenario string

const (
	// ScenarioLoss means the tail percentile ends below the initial investment.
	ScenarioLoss Scenario = "loss"
	// ScenarioGain means even the tail percentile ends at or above the initial investment.
	ScenarioGain Scenario = "gain"
)

// RiskMetrics is the scalar summary of an ensemble's ending values.
type RiskMetrics struct {
	Confidence        float64  `json:"confidence"`
	InitialInvestment float64  `json:"initial_investment"`
	PercentileValue   float64  `json:"percentile_value"` // ending value at the (1-confidence) percentile
	ValueAtRisk       float64  `json:"value_at_risk"`    // InitialInvestment - PercentileValue
	Scenario          Scenario `json:"scenario"`

	ExpectedShortfall float64 `json:"expected_shortfall"` // InitialInvestment - mean of the tail
	MeanEndingValue   float64 `json:"mean_ending_value"`
	MedianEndingValue float64 `json:"median_ending_value"`
	ProbabilityOfLoss float64 `json:"probability_of_loss"`
	Runs              int     `json:"runs"`
}

// IsLoss reports whether the tail outcome loses money.
func (m RiskMetrics) IsLoss() bool {
	return m.Scenario == ScenarioLoss
}

// TailGain is the profit of the tail outcome in a gain scenario, |VaR|.
func (m RiskMetrics) TailGain() float64 {
	return math.Abs(m.ValueAtRisk)
}

// Summarize computes 95% VaR from the ending values of an ensemble.
func Summarize(endingValues []float64, initialInvestment float64) (RiskMetrics, error) {
	return SummarizeAt(endingValues, initialInvestment, DefaultConfidence)
}

// SummarizeAt computes VaR at the given confidence level, in (0, 1).
//
// The tail percentile uses linear interpolation between order statistics,
// rank = (1-confidence) * (n-1). VaR > 0 is a loss scenario; VaR <= 0 means
// the tail outcome still gains |VaR|.
func SummarizeAt(endingValues []float64, initialInvestment, confidence float64) (RiskMetrics, error) {
	if len(endingValues) == 0 {
		return RiskMetrics{}, &ConfigError{Field: "ending_values", Reason: "must not be empty"}
	}
	if math.IsNaN(initialInvestment) || math.IsInf(initialInvestment, 0) || initialInvestment <= 0 {
		return RiskMetrics{}, &ConfigError{Field: "initial_investment", Reason: fmt.Sprintf("must be positive and finite, got %v", initialInvestment)}
	}
	if !(confidence > 0 && confidence < 1) {
		return RiskMetrics{}, &ConfigError{Field: "confidence", Reason: fmt.Sprintf("must be in (0, 1), got %v", confidence)}
	}

	sorted := make([]float64, len(endingValues))
	copy(sorted, endingValues)
	sort.Float64s(sorted)

	tailPct := tailPercentile(confidence)
	percentileValue := formulas.PercentileSorted(sorted, tailPct)
	valueAtRisk := initialInvestment - percentileValue

	scenario := ScenarioGain
	if valueAtRisk > 0 {
		scenario = ScenarioLoss
	}

	tailSum, tailCount, losses := 0.0, 0, 0
	for _, v := range sorted {
		if v <= percentileValue {
			tailSum += v
			tailCount++
		}
		if v < initialInvestment {
			losses++
		}
	}

	return RiskMetrics{
		Confidence:        confidence,
		InitialInvestment: initialInvestment,
		PercentileValue:   percentileValue,
		ValueAtRisk:       valueAtRisk,
		Scenario:          scenario,
		ExpectedShortfall: initialInvestment - tailSum/float64(tailCount),
		MeanEndingValue:   formulas.Mean(sorted),
		MedianEndingValue: formulas.PercentileSorted(sorted, 50),
		ProbabilityOfLoss: float64(losses) / float64(len(sorted)),
		Runs:              len(sorted),
	}, nil
}

// tailPercentile converts a confidence level to a percentile on the 0..100
// scale, rounded so that 0.95 maps to exactly 5.
func tailPercentile(confidence float64) float64 {
	return math.Round((1-confidence)*100*1e9) / 1e9
}
