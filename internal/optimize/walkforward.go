package optimize

import (
	"context"
	"fmt"
	"time"

	"folio/internal/domain"
	"folio/internal/rotation"
	"folio/internal/signal"
)

// DefaultDaysPerMonth converts calendar months to trading days.
const DefaultDaysPerMonth = 21

// WalkForwardConfig configures rolling train/test evaluation.
type WalkForwardConfig struct {
	TrainMonths  int           `yaml:"train_months" json:"train_months"`
	TestMonths   int           `yaml:"test_months" json:"test_months"`
	DaysPerMonth int           `yaml:"days_per_month" json:"days_per_month"`
	Grid         Grid          `yaml:"grid" json:"grid"`
	Method       signal.Method `yaml:"risk_adjustment" json:"risk_adjustment"`
	// Fallback is used for a window in which no grid point completes on
	// the train slice. Its method is replaced by Method.
	Fallback rotation.Params `yaml:"fallback" json:"fallback"`
}

// DefaultWalkForwardConfig returns 6-month train and 3-month test windows
// over a 27-point grid with sharpe-adjusted ranking.
func DefaultWalkForwardConfig() WalkForwardConfig {
	return WalkForwardConfig{
		TrainMonths:  6,
		TestMonths:   3,
		DaysPerMonth: DefaultDaysPerMonth,
		Grid: Grid{
			TopN:          []int{3, 5, 7},
			RebalanceDays: []int{10, 20, 30},
			LookbackDays:  []int{10, 20, 30},
		},
		Method:   signal.MethodSharpe,
		Fallback: rotation.Params{TopN: 5, RebalanceDays: 20, LookbackDays: 20},
	}
}

// Validate checks window lengths, grid and fallback.
func (c WalkForwardConfig) Validate() error {
	if c.TrainMonths < 1 || c.TestMonths < 1 {
		return fmt.Errorf("%w: train/test months must be positive (%d/%d)", rotation.ErrInvalidParams, c.TrainMonths, c.TestMonths)
	}
	if c.DaysPerMonth < 1 {
		return fmt.Errorf("%w: days per month must be positive, got %d", rotation.ErrInvalidParams, c.DaysPerMonth)
	}
	if err := c.Grid.Validate(); err != nil {
		return err
	}
	if _, err := signal.ParseMethod(string(c.Method)); err != nil {
		return fmt.Errorf("%w: %v", rotation.ErrInvalidParams, err)
	}
	fb := c.Fallback
	fb.Method = c.Method
	return fb.Validate()
}

// TrainDays returns the train slice length in trading days.
func (c WalkForwardConfig) TrainDays() int { return c.TrainMonths * c.DaysPerMonth }

// TestDays returns the test slice length in trading days.
func (c WalkForwardConfig) TestDays() int { return c.TestMonths * c.DaysPerMonth }

// Period is an inclusive date range.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (p Period) String() string {
	return p.Start.Format(domain.DateLayout) + " ~ " + p.End.Format(domain.DateLayout)
}

// Window is one train/test split expressed as panel row offsets.
type Window struct {
	TrainStart int
	TestStart  int
	TestEnd    int // exclusive
}

// PlanWindows lays out back-to-back test windows over n rows, advancing by
// the test length while a full train+test span fits.
func PlanWindows(n, trainDays, testDays int) []Window {
	var out []Window
	for start := 0; start+trainDays+testDays <= n; start += testDays {
		out = append(out, Window{
			TrainStart: start,
			TestStart:  start + trainDays,
			TestEnd:    start + trainDays + testDays,
		})
	}
	return out
}

// WindowResult is the outcome of one walk-forward window.
type WindowResult struct {
	Index              int             `json:"index"`
	Train              Period          `json:"train_period"`
	Test               Period          `json:"test_period"`
	Params             rotation.Params `json:"params"`
	Fallback           bool            `json:"fallback"`
	TrainSharpe        float64         `json:"train_sharpe"`
	TestReturnPct      float64         `json:"test_return_pct"`
	TestSharpe         float64         `json:"test_sharpe"`
	TestMaxDrawdownPct float64         `json:"test_max_drawdown_pct"`
	TestTrades         int             `json:"test_trades"`
	TestFailure        *domain.Failure `json:"test_failure,omitempty"`
}

// WalkForwardSummary aggregates the out-of-sample windows.
type WalkForwardSummary struct {
	Windows               int     `json:"total_windows"`
	AvgTestReturnPct      float64 `json:"avg_test_return_pct"`
	AvgTestSharpe         float64 `json:"avg_test_sharpe"`
	AvgTestMaxDrawdownPct float64 `json:"avg_test_max_drawdown_pct"`
	PositiveWindows       int     `json:"positive_windows"`
	ConsistencyPct        float64 `json:"consistency_pct"`
	FallbackWindows       int     `json:"fallback_windows"`
}

// WalkForwardResult is the outcome of a walk-forward evaluation. The equity
// curve and trades concatenate the test slices; each slice starts from the
// initial capital.
type WalkForwardResult struct {
	Config      WalkForwardConfig    `json:"config"`
	Pool        []string             `json:"pool"`
	Windows     []WindowResult       `json:"window_results"`
	Summary     WalkForwardSummary   `json:"summary"`
	EquityCurve []domain.EquityPoint `json:"equity_curve"`
	Trades      []domain.Trade       `json:"trades"`
	Failure     *domain.Failure      `json:"failure,omitempty"`
}

// WalkForward aligns series and evaluates cfg over the resulting panel.
func (o *Optimizer) WalkForward(ctx context.Context, series []domain.Series, cfg WalkForwardConfig) (*WalkForwardResult, error) {
	panel, dropped, err := o.bt.Align(series)
	if err != nil {
		return nil, fmt.Errorf("align pool: %w", err)
	}
	if len(dropped) > 0 {
		o.logger.Info("symbols dropped for insufficient history", "symbols", dropped)
	}
	return o.WalkForwardPanel(ctx, panel, cfg)
}

// WalkForwardPanel grid-searches each train slice by Sharpe and replays the
// winner on the following test slice.
func (o *Optimizer) WalkForwardPanel(ctx context.Context, panel *rotation.Panel, cfg WalkForwardConfig) (*WalkForwardResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	defer o.metrics.SearchStarted()()

	res := &WalkForwardResult{Config: cfg, Pool: panel.Symbols}
	train, test := cfg.TrainDays(), cfg.TestDays()
	windows := PlanWindows(panel.Len(), train, test)
	if len(windows) == 0 {
		res.Failure = &domain.Failure{
			Kind:    domain.FailureInsufficientHistory,
			Message: fmt.Sprintf("%d trading days, one window needs %d", panel.Len(), train+test),
		}
		return res, nil
	}

	points := cfg.Grid.Points(cfg.Method)
	o.logger.Info("walk-forward started",
		"windows", len(windows),
		"grid_points", len(points),
		"train_days", train,
		"test_days", test,
		"method", cfg.Method,
	)

	jobs := make([]job, 0, len(windows)*len(points))
	for _, w := range windows {
		slice := panel.Slice(w.TrainStart, w.TestStart)
		for _, p := range points {
			jobs = append(jobs, job{panel: slice, params: p})
		}
	}
	// One tracker spans the train searches and the test replays.
	tr := newTracker(len(jobs) + len(windows))
	trainResults, err := o.runAll(ctx, "walk_forward_train", jobs, tr)
	if err != nil {
		return nil, err
	}

	res.Windows = make([]WindowResult, len(windows))
	testJobs := make([]job, len(windows))
	for wi, w := range windows {
		wr := WindowResult{
			Index: wi,
			Train: Period{Start: panel.Dates[w.TrainStart], End: panel.Dates[w.TestStart-1]},
			Test:  Period{Start: panel.Dates[w.TestStart], End: panel.Dates[w.TestEnd-1]},
		}
		found := false
		for pi, p := range points {
			r := trainResults[wi*len(points)+pi]
			if !r.OK() {
				continue
			}
			if !found || r.Summary.SharpeRatio > wr.TrainSharpe {
				wr.Params, wr.TrainSharpe, found = p, r.Summary.SharpeRatio, true
			}
		}
		if !found {
			wr.Params = cfg.Fallback
			wr.Params.Method = cfg.Method
			wr.Fallback = true
			o.logger.Warn("no grid point completed on train slice, using fallback",
				"window", wi, "train", wr.Train.String(), "params", wr.Params.String())
		}
		res.Windows[wi] = wr
		testJobs[wi] = job{panel: panel.Slice(w.TestStart, w.TestEnd), params: wr.Params}
	}

	testResults, err := o.runAll(ctx, "walk_forward_test", testJobs, tr)
	if err != nil {
		return nil, err
	}

	sum := &res.Summary
	sum.Windows = len(windows)
	for wi, r := range testResults {
		wr := &res.Windows[wi]
		wr.TestFailure = r.Failure
		if r.OK() {
			wr.TestReturnPct = r.Summary.TotalReturnPct
			wr.TestSharpe = r.Summary.SharpeRatio
			wr.TestMaxDrawdownPct = r.Summary.MaxDrawdownPct
			wr.TestTrades = r.Summary.TotalTrades
			res.EquityCurve = append(res.EquityCurve, r.EquityCurve...)
			res.Trades = append(res.Trades, r.Trades...)
		}
		sum.AvgTestReturnPct += wr.TestReturnPct
		sum.AvgTestSharpe += wr.TestSharpe
		sum.AvgTestMaxDrawdownPct += wr.TestMaxDrawdownPct
		if wr.TestReturnPct > 0 {
			sum.PositiveWindows++
		}
		if wr.Fallback {
			sum.FallbackWindows++
		}
		o.logger.Debug("walk-forward window",
			"window", wi,
			"test", wr.Test.String(),
			"params", wr.Params.String(),
			"train_sharpe", wr.TrainSharpe,
			"test_return_pct", wr.TestReturnPct,
		)
	}
	n := float64(sum.Windows)
	sum.AvgTestReturnPct /= n
	sum.AvgTestSharpe /= n
	sum.AvgTestMaxDrawdownPct /= n
	sum.ConsistencyPct = float64(sum.PositiveWindows) / n * 100

	o.logger.Info("walk-forward complete",
		"windows", sum.Windows,
		"avg_test_return_pct", sum.AvgTestReturnPct,
		"consistency_pct", sum.ConsistencyPct,
	)
	return res, nil
}
