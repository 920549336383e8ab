package signal

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Method selects how raw momentum is adjusted for risk before ranking.
type Method string

const (
	MethodNone      Method = "none"
	MethodSharpe    Method = "sharpe"
	MethodSortino   Method = "sortino"
	MethodVolScaled Method = "vol_scaled"
)

// ParseMethod validates a method name. The empty string maps to none.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case "":
		return MethodNone, nil
	case MethodNone, MethodSharpe, MethodSortino, MethodVolScaled:
		return m, nil
	}
	return "", fmt.Errorf("unknown risk adjustment method %q", s)
}

// TradingDaysPerYear annualizes daily statistics.
const TradingDaysPerYear = 252

// ScoreConfig holds the ranking thresholds.
type ScoreConfig struct {
	// MinCoverage is the fraction of observed prices a lookback window
	// needs for the symbol to be ranked.
	MinCoverage float64 `yaml:"min_coverage" json:"min_coverage"`
	// TargetAnnualVol is the volatility vol_scaled scores normalize to.
	TargetAnnualVol float64 `yaml:"target_annual_vol" json:"target_annual_vol"`
}

// DefaultScoreConfig returns 80% coverage and a 15% volatility target.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{MinCoverage: 0.8, TargetAnnualVol: 0.15}
}

// Status reports whether a score may be ranked.
type Status int

const (
	StatusOK Status = iota
	// StatusIneligible marks a window with too few observations.
	StatusIneligible
	// StatusDegenerate marks a window whose risk denominator is zero.
	StatusDegenerate
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusIneligible:
		return "ineligible"
	case StatusDegenerate:
		return "degenerate"
	}
	return "unknown"
}

// Score is a ranking value together with its eligibility.
type Score struct {
	Value  float64
	Raw    float64
	Status Status
}

// MomentumScore scores the lookback-day window ending at index end of
// prices. observed, when non-nil, flags which prices are real observations
// rather than carried-forward fills; a window needs MinCoverage of its
// lookback days observed. Raw momentum is the compounded return over the
// lookback most recent daily returns.
func MomentumScore(prices []float64, observed []bool, end, lookback int, m Method, cfg ScoreConfig) Score {
	if lookback < 1 || end < lookback || end >= len(prices) {
		return Score{Status: StatusIneligible}
	}
	start := end - lookback

	seen := 0
	for i := start + 1; i <= end; i++ {
		if observed == nil || observed[i] {
			seen++
		}
	}
	if float64(seen)+1e-9 < cfg.MinCoverage*float64(lookback) {
		return Score{Status: StatusIneligible}
	}

	returns := make([]float64, 0, lookback)
	growth := 1.0
	for i := start + 1; i <= end; i++ {
		prev, cur := prices[i-1], prices[i]
		if math.IsNaN(prev) || math.IsNaN(cur) || prev <= 0 {
			return Score{Status: StatusIneligible}
		}
		r := cur/prev - 1
		returns = append(returns, r)
		growth *= 1 + r
	}
	raw := growth - 1

	if m == MethodNone || m == "" {
		return Score{Value: raw, Raw: raw}
	}

	vol := sampleStd(returns)
	if !(vol > 0) {
		return Score{Raw: raw, Status: StatusDegenerate}
	}

	switch m {
	case MethodSharpe:
		return Score{Value: raw / vol, Raw: raw}
	case MethodSortino:
		var downside []float64
		for _, r := range returns {
			if r < 0 {
				downside = append(downside, r)
			}
		}
		dv := sampleStd(downside)
		if !(dv > 0) {
			dv = vol
		}
		return Score{Value: raw / dv, Raw: raw}
	case MethodVolScaled:
		annual := vol * math.Sqrt(TradingDaysPerYear)
		return Score{Value: raw * cfg.TargetAnnualVol / annual, Raw: raw}
	}
	return Score{Raw: raw, Status: StatusIneligible}
}

// sampleStd is the n-1 standard deviation, NaN below two values.
func sampleStd(x []float64) float64 {
	if len(x) < 2 {
		return math.NaN()
	}
	return stat.StdDev(x, nil)
}
