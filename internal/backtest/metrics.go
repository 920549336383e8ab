package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"folio/internal/domain"
)

// TradingDaysPerYear annualizes daily equity statistics.
const TradingDaysPerYear = 252

// Performance is the set of equity-curve statistics shared by every run
// kind.
type Performance struct {
	InitialCapital float64 `json:"initial_capital"`
	FinalEquity    float64 `json:"final_equity"`
	TotalProfit    float64 `json:"total_profit"`
	TotalReturnPct float64 `json:"total_return_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	VolatilityPct  float64 `json:"volatility_pct"`
}

// Measure derives Performance from an equity curve. An empty curve yields
// a flat result at initialCapital.
func Measure(initialCapital float64, curve []domain.EquityPoint) Performance {
	p := Performance{InitialCapital: initialCapital, FinalEquity: initialCapital}
	if len(curve) == 0 {
		return p
	}
	p.FinalEquity = curve[len(curve)-1].Equity
	p.TotalProfit = p.FinalEquity - initialCapital
	if initialCapital > 0 {
		p.TotalReturnPct = p.TotalProfit / initialCapital * 100
	}
	equity := Equities(curve)
	rets := Returns(equity)
	p.SharpeRatio = SharpeRatio(rets)
	p.MaxDrawdownPct = MaxDrawdownPct(equity)
	if len(rets) >= 2 {
		p.VolatilityPct = stat.StdDev(rets, nil) * math.Sqrt(TradingDaysPerYear) * 100
	}
	return p
}

// Equities extracts the equity column of a curve.
func Equities(curve []domain.EquityPoint) []float64 {
	out := make([]float64, len(curve))
	for i, pt := range curve {
		out[i] = pt.Equity
	}
	return out
}

// Returns converts a value series into simple period returns, skipping
// periods that start from a non-positive value.
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] <= 0 {
			continue
		}
		out = append(out, values[i]/values[i-1]-1)
	}
	return out
}

// SharpeRatio is mean/stdev of daily returns annualized by sqrt(252). It is
// zero when the returns have no dispersion.
func SharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, sd := stat.MeanStdDev(returns, nil)
	if !(sd > 0) {
		return 0
	}
	return mean / sd * math.Sqrt(TradingDaysPerYear)
}

// MaxDrawdownPct is the worst decline from a running peak, as a
// non-positive percentage.
func MaxDrawdownPct(equity []float64) float64 {
	var peak, worst float64
	for i, e := range equity {
		if i == 0 || e > peak {
			peak = e
		}
		if peak > 0 {
			if dd := (e - peak) / peak; dd < worst {
				worst = dd
			}
		}
	}
	return worst * 100
}
