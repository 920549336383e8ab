// Package rotation implements the momentum rotation backtester: a pool of
// symbols is periodically ranked by (optionally risk-adjusted) momentum and
// the portfolio is rebalanced toward equal weights across the top N.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"folio/internal/backtest"
	"folio/internal/domain"
	"folio/internal/signal"
)

// ErrInvalidParams is returned for parameter sets no run can satisfy.
var ErrInvalidParams = errors.New("invalid rotation parameters")

// Params is one point of the rotation parameter space.
type Params struct {
	TopN          int           `yaml:"top_n" json:"top_n"`
	RebalanceDays int           `yaml:"rebalance_days" json:"rebalance_days"`
	LookbackDays  int           `yaml:"lookback_days" json:"lookback_days"`
	Method        signal.Method `yaml:"risk_adjustment" json:"risk_adjustment"`
}

// DefaultParams returns top 5, rebalanced every 20 days on 20-day raw
// momentum.
func DefaultParams() Params {
	return Params{TopN: 5, RebalanceDays: 20, LookbackDays: 20, Method: signal.MethodNone}
}

// Validate rejects non-positive sizes and unknown methods.
func (p Params) Validate() error {
	if p.TopN < 1 {
		return fmt.Errorf("%w: top_n must be at least 1, got %d", ErrInvalidParams, p.TopN)
	}
	if p.RebalanceDays < 1 {
		return fmt.Errorf("%w: rebalance_days must be at least 1, got %d", ErrInvalidParams, p.RebalanceDays)
	}
	if p.LookbackDays < 1 {
		return fmt.Errorf("%w: lookback_days must be at least 1, got %d", ErrInvalidParams, p.LookbackDays)
	}
	if _, err := signal.ParseMethod(string(p.Method)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

func (p Params) String() string {
	m := p.Method
	if m == "" {
		m = signal.MethodNone
	}
	return fmt.Sprintf("top%d/rb%d/lb%d/%s", p.TopN, p.RebalanceDays, p.LookbackDays, m)
}

// Config holds the settings shared by every rotation run.
type Config struct {
	InitialCapital float64   `yaml:"initial_capital" json:"initial_capital"`
	Alignment      Alignment `yaml:"alignment" json:"alignment"`
	// PoolCoverage is the fraction of all pool dates a symbol must be
	// observed on to join the pool.
	PoolCoverage float64            `yaml:"pool_coverage" json:"pool_coverage"`
	Score        signal.ScoreConfig `yaml:"score" json:"score"`
}

// DefaultConfig returns 100,000 of capital, inner-join alignment and 80%
// coverage thresholds.
func DefaultConfig() Config {
	return Config{
		InitialCapital: 100000,
		Alignment:      AlignInnerJoin,
		PoolCoverage:   0.8,
		Score:          signal.DefaultScoreConfig(),
	}
}

// Validate checks capital, alignment and thresholds.
func (c Config) Validate() error {
	if !(c.InitialCapital > 0) {
		return fmt.Errorf("%w: initial capital must be positive, got %v", ErrInvalidParams, c.InitialCapital)
	}
	switch c.Alignment {
	case AlignInnerJoin, AlignForwardFill:
	default:
		return fmt.Errorf("%w: unknown alignment %q", ErrInvalidParams, c.Alignment)
	}
	if c.PoolCoverage < 0 || c.PoolCoverage >= 1 {
		return fmt.Errorf("%w: pool coverage %v outside [0,1)", ErrInvalidParams, c.PoolCoverage)
	}
	if c.Score.MinCoverage < 0 || c.Score.MinCoverage > 1 {
		return fmt.Errorf("%w: score coverage %v outside [0,1]", ErrInvalidParams, c.Score.MinCoverage)
	}
	if !(c.Score.TargetAnnualVol > 0) {
		return fmt.Errorf("%w: target annual vol must be positive", ErrInvalidParams)
	}
	return nil
}

// Summary is the rotation run summary.
type Summary struct {
	backtest.Performance
	TotalTrades        int                       `json:"total_trades"`
	RebalanceCount     int                       `json:"rebalance_count"`
	PoolSize           int                       `json:"stock_pool_size"`
	BenchmarkReturnPct float64                   `json:"benchmark_return_pct"`
	DataNotes          int                       `json:"data_notes"`
	FinalHoldings      map[string]domain.Holding `json:"final_holdings,omitempty"`
}

// Result is the outcome of one rotation run. A non-nil Failure means the
// run could not start; metrics are zero and every list is empty.
type Result struct {
	Params      Params                   `json:"params"`
	Alignment   Alignment                `json:"alignment"`
	Start       time.Time                `json:"start"`
	End         time.Time                `json:"end"`
	Pool        []string                 `json:"pool"`
	Dropped     []string                 `json:"dropped,omitempty"`
	Summary     Summary                  `json:"summary"`
	EquityCurve []domain.EquityPoint     `json:"equity_curve"`
	Trades      []domain.Trade           `json:"trades"`
	Rebalances  []domain.RebalanceRecord `json:"rebalance_records"`
	Notes       []domain.Note            `json:"notes,omitempty"`
	Failure     *domain.Failure          `json:"failure,omitempty"`
}

// OK reports whether the run completed.
func (r *Result) OK() bool { return r.Failure == nil }

// Backtester runs momentum rotation over a pool of series.
type Backtester struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Backtester. A nil logger discards output.
func New(cfg Config, logger *slog.Logger) (*Backtester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backtester{cfg: cfg, logger: logger.With("component", "rotation")}, nil
}

// Config returns the settings the Backtester was built with.
func (bt *Backtester) Config() Config { return bt.cfg }

// Align builds the panel for series under the configured policy.
func (bt *Backtester) Align(series []domain.Series) (*Panel, []string, error) {
	return Align(series, bt.cfg.Alignment, bt.cfg.PoolCoverage)
}

// Run aligns series and simulates p over the whole panel.
func (bt *Backtester) Run(ctx context.Context, series []domain.Series, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	panel, dropped, err := bt.Align(series)
	if err != nil {
		return nil, fmt.Errorf("align pool: %w", err)
	}
	if len(dropped) > 0 {
		bt.logger.Info("symbols dropped for insufficient history", "count", len(dropped), "symbols", dropped)
	}
	res, err := bt.RunPanel(ctx, panel, p)
	if err != nil {
		return nil, err
	}
	res.Dropped = dropped
	return res, nil
}

// RunPanel simulates p over an already aligned panel. Grid searches call it
// concurrently on shared panels; it never writes to panel.
func (bt *Backtester) RunPanel(ctx context.Context, panel *Panel, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Method == "" {
		p.Method = signal.MethodNone
	}

	res := &Result{
		Params:    p,
		Alignment: bt.cfg.Alignment,
		Pool:      panel.Symbols,
	}
	if n := panel.Len(); n > 0 {
		res.Start, res.End = panel.Dates[0], panel.Dates[n-1]
	}
	res.Summary.InitialCapital = bt.cfg.InitialCapital
	res.Summary.PoolSize = len(panel.Symbols)

	if len(panel.Symbols) < p.TopN {
		res.Failure = &domain.Failure{
			Kind:    domain.FailureInsufficientPool,
			Message: fmt.Sprintf("%d eligible symbols, need at least %d", len(panel.Symbols), p.TopN),
		}
		return res, nil
	}
	if panel.Len() <= p.LookbackDays {
		res.Failure = &domain.Failure{
			Kind:    domain.FailureInsufficientHistory,
			Message: fmt.Sprintf("%d aligned trading days, need more than %d", panel.Len(), p.LookbackDays),
		}
		return res, nil
	}

	s := newSim(bt.cfg, p, panel)
	s.run()

	res.EquityCurve = s.curve
	res.Trades = s.led.Trades()
	res.Rebalances = s.rebalances
	res.Notes = s.notes
	res.Summary.Performance = backtest.Measure(bt.cfg.InitialCapital, s.curve)
	res.Summary.TotalTrades = len(res.Trades)
	res.Summary.RebalanceCount = len(s.rebalances)
	res.Summary.BenchmarkReturnPct = benchmark(panel)
	res.Summary.DataNotes = len(s.notes)
	res.Summary.FinalHoldings = s.curve[len(s.curve)-1].Holdings

	bt.logger.Debug("rotation complete",
		"params", p.String(),
		"days", panel.Len(),
		"rebalances", res.Summary.RebalanceCount,
		"trades", res.Summary.TotalTrades,
		"return_pct", res.Summary.TotalReturnPct,
		"notes", res.Summary.DataNotes,
	)
	return res, nil
}

// benchmark is the equal-weighted buy-and-hold return of the pool between
// each symbol's first and last observed close.
func benchmark(panel *Panel) float64 {
	var sum float64
	var n int
	for s := range panel.Symbols {
		first, last := -1, -1
		for i, ok := range panel.Observed[s] {
			if !ok {
				continue
			}
			if first < 0 {
				first = i
			}
			last = i
		}
		if first < 0 {
			continue
		}
		sum += panel.Prices[s][last]/panel.Prices[s][first] - 1
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n) * 100
}
