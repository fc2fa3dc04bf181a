package analysis

import (
	"fmt"
	"math"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/aristath/alphapulse/internal/modules/montecarlo"
)

// Currency of every amount the dashboard shows.
const Currency = money.USD

// CorrelationInsight explains how to read the correlation heatmap.
const CorrelationInsight = "Dark red means stocks move together (high risk). Blue means stocks balance each other out (good diversification)."

// Display holds the formatted strings of the risk panel.
type Display struct {
	InitialInvestment string `json:"initial_investment"`
	WorstCase         string `json:"worst_case"`    // tail percentile ending value
	ValueAtRisk       string `json:"value_at_risk"` // signed: "-$x" loss, "+$x" gain
	ExpectedEnding    string `json:"expected_ending"`
	Message           string `json:"message"`
	Severity          string `json:"severity"` // "warning" or "success"
	PathsTitle        string `json:"paths_title"`
}

// FormatMoney renders an amount as "$1,234.56", rounded to cents.
func FormatMoney(amount float64) string {
	cur := money.GetCurrency(Currency)
	minor := decimal.NewFromFloat(amount).Shift(int32(cur.Fraction)).Round(0)
	return money.New(minor.IntPart(), Currency).Display()
}

// NewDisplay formats risk metrics for presentation.
func NewDisplay(m montecarlo.RiskMetrics, horizonDays int) Display {
	tailPct := math.Round((1 - m.Confidence) * 100)
	confPct := math.Round(m.Confidence * 100)

	d := Display{
		InitialInvestment: FormatMoney(m.InitialInvestment),
		WorstCase:         FormatMoney(m.PercentileValue),
		ExpectedEnding:    FormatMoney(m.MeanEndingValue),
		PathsTitle:        fmt.Sprintf("%d Possible Futures (%s Horizon)", m.Runs, horizonLabel(horizonDays)),
	}

	if m.IsLoss() {
		d.ValueAtRisk = "-" + FormatMoney(m.ValueAtRisk)
		d.Severity = "warning"
		d.Message = fmt.Sprintf("With %.0f%% confidence, your maximum expected loss is %s.",
			confPct, FormatMoney(m.ValueAtRisk))
	} else {
		d.ValueAtRisk = "+" + FormatMoney(m.TailGain())
		d.Severity = "success"
		d.Message = fmt.Sprintf("Even in the worst %.0f%% of scenarios, this portfolio is projected to grow by %s.",
			tailPct, FormatMoney(m.TailGain()))
	}

	return d
}

func horizonLabel(days int) string {
	if days == montecarlo.DefaultHorizon {
		return "1 Year"
	}
	return fmt.Sprintf("%d Trading Days", days)
}
