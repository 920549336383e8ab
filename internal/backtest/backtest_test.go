package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/internal/domain"
	"folio/internal/signal"
	"folio/internal/strategy"
	"folio/internal/strategy/builtins"
)

// scripted emits a fixed signal stream.
type scripted struct {
	sigs []domain.Signal
}

func (s scripted) Name() string                         { return "scripted" }
func (s scripted) Warmup() int                          { return 0 }
func (s scripted) Signals([]domain.Bar) []domain.Signal { return s.sigs }

func series(closes ...float64) domain.Series {
	start := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	s := domain.Series{Symbol: "TEST"}
	for i, c := range closes {
		s.Bars = append(s.Bars, domain.Bar{
			Symbol: "TEST",
			Date:   start.AddDate(0, 0, i),
			Open:   c - 0.5,
			Close:  c,
		})
	}
	return s
}

func newBT(t *testing.T, cfg Config) *Backtester {
	t.Helper()
	bt, err := New(cfg, nil)
	require.NoError(t, err)
	return bt
}

func TestBuyAndHoldExact(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialCapital = 100000
	bt := newBT(t, cfg)
	s := series(37.13, 38.2, 36.9, 41.77)

	res, err := bt.Run(context.Background(), s, builtins.BuyAndHold{})
	require.NoError(t, err)
	require.True(t, res.OK())

	entry, exit := 37.13, 41.77
	n := math.Floor(cfg.InitialCapital / entry)
	leftover := cfg.InitialCapital - n*entry
	want := n*exit + leftover

	assert.Equal(t, want, res.Summary.FinalEquity)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, int64(n), res.Trades[0].Shares)
	require.Len(t, res.ClosedTrades, 1)
	assert.True(t, res.ClosedTrades[0].Open)
	assert.Equal(t, 1, res.Summary.TotalTrades)
	assert.Zero(t, res.Summary.WinRatePct, "open trades do not count toward win rate")
	assert.InDelta(t, (exit/entry-1)*100, res.Summary.BuyAndHoldReturnPct, 1e-9)
}

func TestRoundTrips(t *testing.T) {
	bt := newBT(t, Config{InitialCapital: 1000})
	s := series(10, 12, 11, 9, 10, 8, 8)
	strat := scripted{sigs: []domain.Signal{
		domain.SignalLong, // buy 100 @10
		domain.SignalLong, // repeated: no-op
		domain.SignalExit, // sell 100 @11
		domain.SignalExit, // flat: no-op
		domain.SignalLong, // buy 110 @10
		domain.SignalExit, // sell 110 @8
		domain.SignalHold,
	}}

	res, err := bt.Run(context.Background(), s, strat)
	require.NoError(t, err)

	require.Len(t, res.Trades, 4)
	require.Len(t, res.ClosedTrades, 2)
	assert.InDelta(t, 100, res.ClosedTrades[0].Profit, 1e-9)
	assert.InDelta(t, 10, res.ClosedTrades[0].ProfitPct, 1e-9)
	assert.InDelta(t, -220, res.ClosedTrades[1].Profit, 1e-9)

	sum := res.Summary
	assert.Equal(t, 2, sum.TotalTrades)
	assert.Equal(t, 1, sum.WinningTrades)
	assert.Equal(t, 1, sum.LosingTrades)
	assert.InDelta(t, 50, sum.WinRatePct, 1e-9)
	assert.InDelta(t, 880, sum.FinalEquity, 1e-9)
	assert.InDelta(t, -12, sum.TotalReturnPct, 1e-9)
	assert.InDelta(t, 100, sum.MaxProfit, 1e-9)
	assert.InDelta(t, -220, sum.MaxLoss, 1e-9)
	assert.Less(t, sum.MaxDrawdownPct, 0.0)
}

func TestEquityCurveInvariants(t *testing.T) {
	bt := newBT(t, DefaultConfig())
	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = 50 + 10*math.Sin(float64(i)/6)
	}
	s := series(closes...)
	reg := builtins.NewRegistry(signal.DefaultParams())

	for _, name := range reg.List() {
		strat, _ := reg.Get(name)
		res, err := bt.Run(context.Background(), s, strat)
		require.NoError(t, err, name)
		require.Len(t, res.EquityCurve, s.Len(), name)
		for i, pt := range res.EquityCurve {
			assert.GreaterOrEqual(t, pt.Cash, 0.0, "%s day %d cash", name, i)
			marked := pt.Cash
			for _, h := range pt.Holdings {
				assert.GreaterOrEqual(t, h.Shares, int64(0))
				marked += float64(h.Shares) * s.Bars[i].Close
			}
			assert.InDelta(t, marked, pt.Equity, 1e-6, "%s day %d conservation", name, i)
		}
	}
}

func TestInsufficientHistory(t *testing.T) {
	bt := newBT(t, Config{InitialCapital: 1000, MinHistory: 60})
	res, err := bt.Run(context.Background(), series(1, 2, 3), builtins.BuyAndHold{})
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, domain.FailureInsufficientHistory, res.Failure.Kind)
	assert.Empty(t, res.Trades)
	assert.Zero(t, res.Summary.TotalReturnPct)
}

func TestNextOpenExecution(t *testing.T) {
	bt := newBT(t, Config{InitialCapital: 1000, Execution: ExecNextOpen})
	s := series(10, 20, 30, 40)
	strat := scripted{sigs: []domain.Signal{domain.SignalLong, domain.SignalHold, domain.SignalExit, domain.SignalHold}}

	res, err := bt.Run(context.Background(), s, strat)
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, s.Bars[1].Date, res.Trades[0].Date)
	assert.InDelta(t, 19.5, res.Trades[0].Price, 1e-9)
	assert.Equal(t, s.Bars[3].Date, res.Trades[1].Date)
	assert.InDelta(t, 39.5, res.Trades[1].Price, 1e-9)
}

func TestNextOpenMissingOpenNote(t *testing.T) {
	bt := newBT(t, Config{InitialCapital: 1000, Execution: ExecNextOpen})
	s := series(10, 20, 30, 40)
	s.Bars[1].Open = 0
	s.Bars[3].Open = 0
	strat := scripted{sigs: []domain.Signal{domain.SignalLong, domain.SignalHold, domain.SignalHold, domain.SignalHold}}

	res, err := bt.Run(context.Background(), s, strat)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.InDelta(t, 20, res.Trades[0].Price, 1e-9, "filled at the close")

	require.Len(t, res.Notes, 1, "a missing open with nothing to execute is not noted")
	assert.Equal(t, domain.NoteMissingPrice, res.Notes[0].Kind)
	assert.Equal(t, s.Bars[1].Date, res.Notes[0].Date)
	assert.Equal(t, "TEST", res.Notes[0].Symbol)
	assert.Equal(t, 1, res.Summary.DataNotes)
}

func TestUnaffordableEntryNote(t *testing.T) {
	bt := newBT(t, Config{InitialCapital: 5, Execution: ExecSameClose})
	s := series(10, 11, 12)
	strat := scripted{sigs: []domain.Signal{domain.SignalLong, domain.SignalHold, domain.SignalHold}}

	res, err := bt.Run(context.Background(), s, strat)
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	require.Len(t, res.Notes, 1)
	assert.Equal(t, domain.NoteAffordabilityShortfall, res.Notes[0].Kind)
	assert.Equal(t, 1, res.Summary.DataNotes)
	assert.InDelta(t, 5, res.Summary.FinalEquity, 1e-9)
}

func TestRunRejectsUnorderedSeries(t *testing.T) {
	bt := newBT(t, DefaultConfig())
	s := series(1, 2)
	s.Bars[1].Date = s.Bars[0].Date
	_, err := bt.Run(context.Background(), s, builtins.BuyAndHold{})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{InitialCapital: 0}, nil)
	assert.ErrorIs(t, err, ErrInvalidParams)
	_, err = New(Config{InitialCapital: 1, Execution: "tomorrow"}, nil)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestCompare(t *testing.T) {
	bt := newBT(t, DefaultConfig())
	closes := make([]float64, 90)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	reg := strategy.NewRegistry()
	reg.MustRegister(builtins.BuyAndHold{})
	reg.MustRegister(builtins.NewSMACross(5, 20))
	reg.MustRegister(builtins.NewBollinger(signal.BollingerParams{Window: 200, K: 2}))

	rows, err := bt.Compare(context.Background(), series(closes...), reg)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"buy_and_hold", "ma", "bollinger"}, []string{rows[0].Strategy, rows[1].Strategy, rows[2].Strategy})
	require.NotNil(t, rows[2].Failure, "200-day window cannot run on 90 bars")

	best, ok := Best(rows)
	require.True(t, ok)
	assert.Equal(t, "buy_and_hold", best.Strategy)
}

func TestMetrics(t *testing.T) {
	assert.InDelta(t, -50, MaxDrawdownPct([]float64{100, 120, 60, 130}), 1e-9)
	assert.Zero(t, MaxDrawdownPct([]float64{1, 2, 3}))
	assert.Zero(t, SharpeRatio([]float64{0.01, 0.01, 0.01}))
	assert.Zero(t, SharpeRatio(nil))

	rets := Returns([]float64{100, 110, 99})
	require.Len(t, rets, 2)
	assert.InDelta(t, 0.1, rets[0], 1e-12)
	assert.InDelta(t, -0.1, rets[1], 1e-12)

	p := Measure(100, nil)
	assert.Equal(t, 100.0, p.FinalEquity)
}
