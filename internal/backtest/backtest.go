// Package backtest runs single-asset signal strategies through a Ledger
// using a FLAT/LONG state machine and summarizes the result.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"folio/internal/domain"
	"folio/internal/ledger"
	"folio/internal/strategy"
)

// ErrInvalidParams is returned for configurations no run can satisfy.
var ErrInvalidParams = errors.New("invalid backtest parameters")

// Execution selects the price a signal trades at.
type Execution string

const (
	// ExecSameClose trades at the close of the bar that produced the
	// signal.
	ExecSameClose Execution = "same_close"
	// ExecNextOpen trades at the open of the following bar.
	ExecNextOpen Execution = "next_open"
)

// Config holds the single-asset run settings.
type Config struct {
	InitialCapital float64   `yaml:"initial_capital" json:"initial_capital"`
	Execution      Execution `yaml:"execution" json:"execution"`
	// MinHistory is the fewest bars a run accepts; the strategy warm-up
	// may raise it.
	MinHistory int `yaml:"min_history" json:"min_history"`
}

// DefaultConfig returns 100,000 of capital traded at the same close.
func DefaultConfig() Config {
	return Config{InitialCapital: 100000, Execution: ExecSameClose}
}

// Validate checks capital and execution mode.
func (c Config) Validate() error {
	if !(c.InitialCapital > 0) {
		return fmt.Errorf("%w: initial capital must be positive, got %v", ErrInvalidParams, c.InitialCapital)
	}
	switch c.Execution {
	case ExecSameClose, ExecNextOpen, "":
	default:
		return fmt.Errorf("%w: unknown execution %q", ErrInvalidParams, c.Execution)
	}
	if c.MinHistory < 0 {
		return fmt.Errorf("%w: negative min history %d", ErrInvalidParams, c.MinHistory)
	}
	return nil
}

// Summary is the single-asset run summary.
type Summary struct {
	Performance
	TotalTrades         int     `json:"total_trades"`
	WinningTrades       int     `json:"winning_trades"`
	LosingTrades        int     `json:"losing_trades"`
	WinRatePct          float64 `json:"win_rate_pct"`
	AvgProfit           float64 `json:"avg_profit"`
	AvgProfitPct        float64 `json:"avg_profit_pct"`
	MaxProfit           float64 `json:"max_profit"`
	MaxLoss             float64 `json:"max_loss"`
	BuyAndHoldReturnPct float64 `json:"buy_and_hold_return_pct"`
	DataNotes           int     `json:"data_notes"`
}

// Result is the outcome of one single-asset run. A non-nil Failure means
// the run did not start and every metric is zero.
type Result struct {
	Symbol       string               `json:"symbol"`
	Strategy     string               `json:"strategy"`
	Execution    Execution            `json:"execution"`
	Summary      Summary              `json:"summary"`
	EquityCurve  []domain.EquityPoint `json:"equity_curve"`
	Trades       []domain.Trade       `json:"trades"`
	ClosedTrades []domain.ClosedTrade `json:"closed_trades"`
	Notes        []domain.Note        `json:"notes,omitempty"`
	Failure      *domain.Failure      `json:"failure,omitempty"`
}

// OK reports whether the run completed.
func (r *Result) OK() bool { return r.Failure == nil }

// Backtester replays a symbol's history through a strategy.
type Backtester struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Backtester. A nil logger discards output.
func New(cfg Config, logger *slog.Logger) (*Backtester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Execution == "" {
		cfg.Execution = ExecSameClose
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backtester{cfg: cfg, logger: logger.With("component", "backtest")}, nil
}

// Config returns the settings the Backtester was built with.
func (bt *Backtester) Config() Config { return bt.cfg }

// Run executes strat over s. The error return is reserved for invalid input
// and cancellation; short histories come back as a Failure.
func (bt *Backtester) Run(ctx context.Context, s domain.Series, strat strategy.Strategy) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	res := &Result{Symbol: s.Symbol, Strategy: strat.Name(), Execution: bt.cfg.Execution}
	need := max(bt.cfg.MinHistory, strat.Warmup()+1, 2)
	if s.Len() < need {
		res.Failure = &domain.Failure{
			Kind:    domain.FailureInsufficientHistory,
			Message: fmt.Sprintf("%s has %d bars, %s needs %d", s.Symbol, s.Len(), strat.Name(), need),
		}
		res.Summary.Performance = Performance{InitialCapital: bt.cfg.InitialCapital}
		bt.logger.Info("backtest skipped", "symbol", s.Symbol, "strategy", strat.Name(), "reason", res.Failure.Kind)
		return res, nil
	}

	sigs := strat.Signals(s.Bars)
	if len(sigs) != s.Len() {
		return nil, fmt.Errorf("strategy %s returned %d signals for %d bars", strat.Name(), len(sigs), s.Len())
	}

	led := ledger.New(bt.cfg.InitialCapital)
	var (
		long    bool
		entry   domain.Trade
		closed  []domain.ClosedTrade
		pending = domain.SignalHold
		notes   []domain.Note
	)

	note := func(kind domain.NoteKind, date time.Time, format string, args ...any) {
		notes = append(notes, domain.Note{Kind: kind, Date: date, Symbol: s.Symbol, Detail: fmt.Sprintf(format, args...)})
	}

	act := func(sig domain.Signal, date time.Time, price float64) {
		switch {
		case !long && sig == domain.SignalLong:
			n := led.Affordable(price)
			if n < 1 {
				note(domain.NoteAffordabilityShortfall, date,
					"cash %.2f cannot buy one share at %.2f", led.Cash(), price)
				return
			}
			t, _, ok := led.BuyUpTo(date, s.Symbol, n, price, strat.Name()+" entry")
			if ok {
				entry, long = t, true
			}
		case long && sig == domain.SignalExit:
			t, ok := led.SellAll(date, s.Symbol, price, strat.Name()+" exit")
			if !ok {
				return
			}
			closed = append(closed, roundTrip(entry, t.Date, t.Price, false))
			long = false
		}
	}

	curve := make([]domain.EquityPoint, 0, s.Len())
	for i, bar := range s.Bars {
		if bt.cfg.Execution == ExecNextOpen {
			price := bar.Open
			if !(price > 0) {
				price = bar.Close
				if (!long && pending == domain.SignalLong) || (long && pending == domain.SignalExit) {
					note(domain.NoteMissingPrice, bar.Date, "no open price, filled at close %.2f", price)
				}
			}
			act(pending, bar.Date, price)
			pending = sigs[i]
		} else {
			act(sigs[i], bar.Date, bar.Close)
		}
		px := bar.Close
		curve = append(curve, led.Snapshot(bar.Date, func(string, time.Time) (float64, bool) {
			return px, true
		}))
	}

	last := s.Bars[s.Len()-1]
	if long {
		closed = append(closed, roundTrip(entry, last.Date, last.Close, true))
	}

	res.EquityCurve = curve
	res.Trades = led.Trades()
	res.ClosedTrades = closed
	res.Notes = notes
	res.Summary = summarize(bt.cfg.InitialCapital, curve, closed, s)
	res.Summary.DataNotes = len(notes)

	bt.logger.Debug("backtest complete",
		"symbol", s.Symbol,
		"strategy", strat.Name(),
		"trades", res.Summary.TotalTrades,
		"return_pct", res.Summary.TotalReturnPct,
	)
	return res, nil
}

func roundTrip(entry domain.Trade, exitDate time.Time, exitPrice float64, open bool) domain.ClosedTrade {
	profit := (exitPrice - entry.Price) * float64(entry.Shares)
	return domain.ClosedTrade{
		EntryDate:  entry.Date,
		EntryPrice: entry.Price,
		ExitDate:   exitDate,
		ExitPrice:  exitPrice,
		Shares:     entry.Shares,
		Profit:     profit,
		ProfitPct:  (exitPrice - entry.Price) / entry.Price * 100,
		Open:       open,
	}
}

func summarize(capital float64, curve []domain.EquityPoint, trades []domain.ClosedTrade, s domain.Series) Summary {
	sum := Summary{Performance: Measure(capital, curve), TotalTrades: len(trades)}

	var closedCount int
	var profitSum, pctSum float64
	for i, t := range trades {
		if i == 0 || t.Profit > sum.MaxProfit {
			sum.MaxProfit = t.Profit
		}
		if i == 0 || t.Profit < sum.MaxLoss {
			sum.MaxLoss = t.Profit
		}
		if t.Open {
			continue
		}
		closedCount++
		profitSum += t.Profit
		pctSum += t.ProfitPct
		if t.Profit > 0 {
			sum.WinningTrades++
		} else {
			sum.LosingTrades++
		}
	}
	if closedCount > 0 {
		sum.WinRatePct = float64(sum.WinningTrades) / float64(closedCount) * 100
		sum.AvgProfit = profitSum / float64(closedCount)
		sum.AvgProfitPct = pctSum / float64(closedCount)
	}

	first, last := s.Bars[0].Close, s.Bars[s.Len()-1].Close
	sum.BuyAndHoldReturnPct = (last/first - 1) * 100
	return sum
}
