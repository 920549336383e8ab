package optimize

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"folio/internal/domain"
	"folio/internal/rotation"
	"folio/internal/signal"
)

// RobustnessConfig configures the full-grid sensitivity analysis.
type RobustnessConfig struct {
	Grid Grid `yaml:"grid" json:"grid"`
	// AdjustedMethod is compared against raw momentum at every point.
	AdjustedMethod signal.Method `yaml:"adjusted_method" json:"adjusted_method"`
}

// DefaultRobustnessConfig returns the 80-point grid compared against
// sharpe-adjusted ranking.
func DefaultRobustnessConfig() RobustnessConfig {
	return RobustnessConfig{
		Grid: Grid{
			TopN:          []int{3, 5, 7, 10},
			RebalanceDays: []int{5, 10, 20, 30, 40},
			LookbackDays:  []int{10, 20, 30, 40},
		},
		AdjustedMethod: signal.MethodSharpe,
	}
}

// Validate checks the grid and method.
func (c RobustnessConfig) Validate() error {
	if err := c.Grid.Validate(); err != nil {
		return err
	}
	m, err := signal.ParseMethod(string(c.AdjustedMethod))
	if err != nil {
		return fmt.Errorf("%w: %v", rotation.ErrInvalidParams, err)
	}
	if m == signal.MethodNone {
		return fmt.Errorf("%w: adjusted method must differ from none", rotation.ErrInvalidParams)
	}
	return nil
}

// PointResult holds both modes' outcome at one grid point.
type PointResult struct {
	TopN          int             `json:"top_n"`
	RebalanceDays int             `json:"rebalance_days"`
	LookbackDays  int             `json:"lookback_days"`
	RawReturnPct  float64         `json:"raw_return_pct"`
	RawSharpe     float64         `json:"raw_sharpe"`
	RawFailure    *domain.Failure `json:"raw_failure,omitempty"`
	AdjReturnPct  float64         `json:"adj_return_pct"`
	AdjSharpe     float64         `json:"adj_sharpe"`
	AdjFailure    *domain.Failure `json:"adj_failure,omitempty"`
}

// ModeStats summarizes one ranking mode across the completed grid points.
type ModeStats struct {
	Method        signal.Method    `json:"method"`
	Points        int              `json:"points"`
	Best          *rotation.Params `json:"best_params,omitempty"`
	BestSharpe    float64          `json:"best_sharpe"`
	BestReturnPct float64          `json:"best_return_pct"`
	MeanReturnPct float64          `json:"mean_return_pct"`
	StdReturnPct  float64          `json:"std_return_pct"`
	MeanSharpe    float64          `json:"mean_sharpe"`
	StdSharpe     float64          `json:"std_sharpe"`
	PositivePct   float64          `json:"positive_pct"`
}

// SensitivityRow is the mean Sharpe of each mode over the grid points that
// share one parameter value.
type SensitivityRow struct {
	Value     int     `json:"value"`
	RawSharpe float64 `json:"raw_sharpe"`
	AdjSharpe float64 `json:"adj_sharpe"`
	Count     int     `json:"count"`
}

// Sensitivity groups rows by parameter dimension.
type Sensitivity struct {
	TopN          []SensitivityRow `json:"top_n"`
	RebalanceDays []SensitivityRow `json:"rebalance_days"`
	LookbackDays  []SensitivityRow `json:"lookback_days"`
}

// RobustnessResult is the outcome of a robustness test.
type RobustnessResult struct {
	Config      RobustnessConfig `json:"config"`
	Pool        []string         `json:"pool"`
	Points      []PointResult    `json:"param_results"`
	Raw         ModeStats        `json:"raw"`
	Adjusted    ModeStats        `json:"adjusted"`
	VolBenefit  float64          `json:"vol_adjustment_benefit"`
	Sensitivity Sensitivity      `json:"sensitivity"`
	Failure     *domain.Failure  `json:"failure,omitempty"`
}

// Robustness aligns series and runs the full grid.
func (o *Optimizer) Robustness(ctx context.Context, series []domain.Series, cfg RobustnessConfig) (*RobustnessResult, error) {
	panel, dropped, err := o.bt.Align(series)
	if err != nil {
		return nil, fmt.Errorf("align pool: %w", err)
	}
	if len(dropped) > 0 {
		o.logger.Info("symbols dropped for insufficient history", "symbols", dropped)
	}
	return o.RobustnessPanel(ctx, panel, cfg)
}

// RobustnessPanel runs every grid point with raw and adjusted ranking over
// the whole panel. Failed points are listed but left out of the
// aggregates.
func (o *Optimizer) RobustnessPanel(ctx context.Context, panel *rotation.Panel, cfg RobustnessConfig) (*RobustnessResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	defer o.metrics.SearchStarted()()

	raw := cfg.Grid.Points(signal.MethodNone)
	adj := cfg.Grid.Points(cfg.AdjustedMethod)
	jobs := make([]job, 0, 2*len(raw))
	for i := range raw {
		jobs = append(jobs, job{panel: panel, params: raw[i]}, job{panel: panel, params: adj[i]})
	}
	o.logger.Info("robustness started", "grid_points", len(raw), "runs", len(jobs), "method", cfg.AdjustedMethod)

	results, err := o.runAll(ctx, "robustness", jobs, newTracker(len(jobs)))
	if err != nil {
		return nil, err
	}

	res := &RobustnessResult{Config: cfg, Pool: panel.Symbols, Points: make([]PointResult, len(raw))}
	for i, p := range raw {
		r, a := results[2*i], results[2*i+1]
		pt := PointResult{
			TopN:          p.TopN,
			RebalanceDays: p.RebalanceDays,
			LookbackDays:  p.LookbackDays,
			RawFailure:    r.Failure,
			AdjFailure:    a.Failure,
		}
		if r.OK() {
			pt.RawReturnPct, pt.RawSharpe = r.Summary.TotalReturnPct, r.Summary.SharpeRatio
		}
		if a.OK() {
			pt.AdjReturnPct, pt.AdjSharpe = a.Summary.TotalReturnPct, a.Summary.SharpeRatio
		}
		res.Points[i] = pt
	}

	res.Raw = modeStats(res.Points, signal.MethodNone, false)
	res.Adjusted = modeStats(res.Points, cfg.AdjustedMethod, true)
	if res.Raw.Points == 0 && res.Adjusted.Points == 0 {
		res.Failure = firstFailure(res.Points)
		o.logger.Warn("no robustness grid point completed", "reason", res.Failure.Kind)
		return res, nil
	}
	if res.Raw.Points > 0 && res.Adjusted.Points > 0 {
		res.VolBenefit = res.Adjusted.MeanSharpe - res.Raw.MeanSharpe
	}
	res.Sensitivity = Sensitivity{
		TopN:          sensitivity(res.Points, cfg.Grid.TopN, func(p PointResult) int { return p.TopN }),
		RebalanceDays: sensitivity(res.Points, cfg.Grid.RebalanceDays, func(p PointResult) int { return p.RebalanceDays }),
		LookbackDays:  sensitivity(res.Points, cfg.Grid.LookbackDays, func(p PointResult) int { return p.LookbackDays }),
	}

	o.logger.Info("robustness complete",
		"raw_points", res.Raw.Points,
		"adjusted_points", res.Adjusted.Points,
		"raw_mean_sharpe", res.Raw.MeanSharpe,
		"adjusted_mean_sharpe", res.Adjusted.MeanSharpe,
		"vol_benefit", res.VolBenefit,
	)
	return res, nil
}

func modeStats(points []PointResult, m signal.Method, adjusted bool) ModeStats {
	ms := ModeStats{Method: m}
	var returns, sharpes []float64
	positive := 0
	for _, pt := range points {
		ret, sh, fail := pt.RawReturnPct, pt.RawSharpe, pt.RawFailure
		if adjusted {
			ret, sh, fail = pt.AdjReturnPct, pt.AdjSharpe, pt.AdjFailure
		}
		if fail != nil {
			continue
		}
		if ms.Best == nil || sh > ms.BestSharpe {
			ms.Best = &rotation.Params{TopN: pt.TopN, RebalanceDays: pt.RebalanceDays, LookbackDays: pt.LookbackDays, Method: m}
			ms.BestSharpe, ms.BestReturnPct = sh, ret
		}
		returns = append(returns, ret)
		sharpes = append(sharpes, sh)
		if ret > 0 {
			positive++
		}
	}
	ms.Points = len(returns)
	if ms.Points == 0 {
		return ms
	}
	ms.MeanReturnPct, ms.StdReturnPct = meanStd(returns)
	ms.MeanSharpe, ms.StdSharpe = meanStd(sharpes)
	ms.PositivePct = float64(positive) / float64(ms.Points) * 100
	return ms
}

func sensitivity(points []PointResult, values []int, key func(PointResult) int) []SensitivityRow {
	rows := make([]SensitivityRow, 0, len(values))
	for _, v := range values {
		row := SensitivityRow{Value: v}
		var rawN, adjN int
		for _, pt := range points {
			if key(pt) != v {
				continue
			}
			row.Count++
			if pt.RawFailure == nil {
				row.RawSharpe += pt.RawSharpe
				rawN++
			}
			if pt.AdjFailure == nil {
				row.AdjSharpe += pt.AdjSharpe
				adjN++
			}
		}
		if rawN > 0 {
			row.RawSharpe /= float64(rawN)
		}
		if adjN > 0 {
			row.AdjSharpe /= float64(adjN)
		}
		rows = append(rows, row)
	}
	return rows
}

func meanStd(x []float64) (float64, float64) {
	if len(x) < 2 {
		return stat.Mean(x, nil), 0
	}
	return stat.MeanStdDev(x, nil)
}

func firstFailure(points []PointResult) *domain.Failure {
	for _, pt := range points {
		if pt.RawFailure != nil {
			return pt.RawFailure
		}
		if pt.AdjFailure != nil {
			return pt.AdjFailure
		}
	}
	return &domain.Failure{Kind: domain.FailureInsufficientHistory, Message: "empty grid"}
}
