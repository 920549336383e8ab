package rotation

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/internal/domain"
	"folio/internal/signal"
)

var start = time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)

// geometric builds a series compounding at rate per day.
func geometric(sym string, days int, first, rate float64) domain.Series {
	s := domain.Series{Symbol: sym}
	px := first
	for i := 0; i < days; i++ {
		s.Bars = append(s.Bars, domain.Bar{Symbol: sym, Date: start.AddDate(0, 0, i), Close: px})
		px *= 1 + rate
	}
	return s
}

// wavy builds a deterministic noisy series.
func wavy(sym string, days int, first, drift, amp, freq float64) domain.Series {
	s := domain.Series{Symbol: sym}
	for i := 0; i < days; i++ {
		px := first*(1+drift*float64(i)) + amp*math.Sin(freq*float64(i))
		s.Bars = append(s.Bars, domain.Bar{Symbol: sym, Date: start.AddDate(0, 0, i), Close: px})
	}
	return s
}

func newBT(t *testing.T, cfg Config) *Backtester {
	t.Helper()
	bt, err := New(cfg, nil)
	require.NoError(t, err)
	return bt
}

func pool(days int) []domain.Series {
	return []domain.Series{
		wavy("AAA", days, 50, 0.004, 2, 0.3),
		wavy("BBB", days, 80, 0.002, 5, 0.17),
		wavy("CCC", days, 20, -0.001, 1, 0.5),
		wavy("DDD", days, 120, 0.001, 8, 0.11),
		wavy("EEE", days, 35, 0.003, 3, 0.23),
		wavy("FFF", days, 64, 0.0, 4, 0.41),
	}
}

func TestTopTwoScenario(t *testing.T) {
	bt := newBT(t, DefaultConfig())
	series := []domain.Series{
		geometric("A", 30, 10, 0.03),
		geometric("B", 30, 25, 0.02),
		geometric("C", 30, 40, 0.0),
		geometric("D", 30, 15, -0.01),
	}
	p := Params{TopN: 2, LookbackDays: 5, RebalanceDays: 5, Method: signal.MethodNone}

	res, err := bt.Run(context.Background(), series, p)
	require.NoError(t, err)
	require.True(t, res.OK())
	require.NotEmpty(t, res.Rebalances)

	first := res.Rebalances[0]
	assert.Equal(t, start.AddDate(0, 0, 5), first.Date)
	assert.Equal(t, []string{"A", "B"}, first.Selected)
	assert.Greater(t, first.Scores["A"], first.Scores["B"])

	day := res.EquityCurve[5]
	half := res.Summary.InitialCapital / 2
	for _, sym := range []string{"A", "B"} {
		h, ok := day.Holdings[sym]
		require.True(t, ok, sym)
		assert.LessOrEqual(t, h.Value, half)
		assert.Greater(t, h.Value, half-h.Price, "%s should hold all but the rounding residue", sym)
	}
	assert.Len(t, day.Holdings, 2)
	assert.InDelta(t, res.Summary.InitialCapital, day.Equity, 1e-6)
}

func TestInsufficientPool(t *testing.T) {
	bt := newBT(t, DefaultConfig())
	series := []domain.Series{geometric("A", 40, 10, 0.01), geometric("B", 40, 10, 0.02)}

	res, err := bt.Run(context.Background(), series, Params{TopN: 5, LookbackDays: 5, RebalanceDays: 5})
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, domain.FailureInsufficientPool, res.Failure.Kind)
	assert.Empty(t, res.Trades)
	assert.Empty(t, res.EquityCurve)
	assert.Zero(t, res.Summary.TotalReturnPct)
}

func TestInsufficientHistory(t *testing.T) {
	bt := newBT(t, DefaultConfig())
	res, err := bt.Run(context.Background(), pool(10), Params{TopN: 2, LookbackDays: 10, RebalanceDays: 5})
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, domain.FailureInsufficientHistory, res.Failure.Kind)
}

func TestFlatMarket(t *testing.T) {
	series := []domain.Series{
		geometric("A", 80, 10, 0),
		geometric("B", 80, 33, 0),
		geometric("C", 80, 71, 0),
	}
	for _, m := range []signal.Method{signal.MethodNone, signal.MethodSharpe, signal.MethodSortino, signal.MethodVolScaled} {
		bt := newBT(t, DefaultConfig())
		res, err := bt.Run(context.Background(), series, Params{TopN: 2, LookbackDays: 10, RebalanceDays: 7, Method: m})
		require.NoError(t, err, m)
		require.True(t, res.OK(), m)

		for _, pt := range res.EquityCurve {
			assert.InDelta(t, res.Summary.InitialCapital, pt.Equity, 1e-6, "%s equity on %s", m, pt.Date)
		}
		assert.InDelta(t, 0, res.Summary.TotalReturnPct, 1e-9, m)
		for _, tr := range res.Trades {
			assert.Equal(t, domain.ActionBuy, tr.Action, "%s: only the initial buys", m)
			assert.Equal(t, start.AddDate(0, 0, 10), tr.Date)
		}
	}
}

func TestFlatMarketSharpeStaysInCash(t *testing.T) {
	bt := newBT(t, DefaultConfig())
	series := []domain.Series{geometric("A", 40, 10, 0), geometric("B", 40, 20, 0)}
	res, err := bt.Run(context.Background(), series, Params{TopN: 1, LookbackDays: 5, RebalanceDays: 5, Method: signal.MethodSharpe})
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Zero(t, res.Summary.RebalanceCount)
	var degenerate int
	for _, n := range res.Notes {
		if n.Kind == domain.NoteDegenerateRanking {
			degenerate++
		}
	}
	assert.Positive(t, degenerate)
}

func TestConservationAndNonNegativity(t *testing.T) {
	for _, m := range []signal.Method{signal.MethodNone, signal.MethodSharpe, signal.MethodSortino, signal.MethodVolScaled} {
		bt := newBT(t, Config{InitialCapital: 25000, Alignment: AlignInnerJoin, PoolCoverage: 0.8, Score: signal.DefaultScoreConfig()})
		series := pool(200)
		res, err := bt.Run(context.Background(), series, Params{TopN: 3, LookbackDays: 15, RebalanceDays: 10, Method: m})
		require.NoError(t, err)
		require.True(t, res.OK())
		require.Len(t, res.EquityCurve, 200)

		for i, pt := range res.EquityCurve {
			require.GreaterOrEqual(t, pt.Cash, 0.0)
			sum := pt.Cash
			for sym, h := range pt.Holdings {
				require.GreaterOrEqual(t, h.Shares, int64(0))
				var px float64
				for _, s := range series {
					if s.Symbol == sym {
						px = s.Bars[i].Close
					}
				}
				sum += float64(h.Shares) * px
			}
			assert.InDelta(t, sum, pt.Equity, 1e-6, "%s day %d", m, i)
		}
		assert.Greater(t, res.Summary.RebalanceCount, 1)
	}
}

func TestRebalanceSchedule(t *testing.T) {
	bt := newBT(t, DefaultConfig())
	res, err := bt.Run(context.Background(), pool(60), Params{TopN: 2, LookbackDays: 12, RebalanceDays: 10})
	require.NoError(t, err)

	var got []int
	for _, r := range res.Rebalances {
		got = append(got, int(r.Date.Sub(start).Hours()/24))
	}
	assert.Equal(t, []int{12, 20, 30, 40, 50}, got)

	for i := 0; i < 12; i++ {
		assert.Equal(t, res.Summary.InitialCapital, res.EquityCurve[i].Equity, "warm-up day %d", i)
		assert.Empty(t, res.EquityCurve[i].Holdings)
	}
}

func TestDeterminism(t *testing.T) {
	p := Params{TopN: 3, LookbackDays: 20, RebalanceDays: 5, Method: signal.MethodSortino}
	encode := func() []byte {
		bt := newBT(t, DefaultConfig())
		res, err := bt.Run(context.Background(), pool(150), p)
		require.NoError(t, err)
		data, err := json.Marshal(struct {
			Trades []domain.Trade
			Curve  []domain.EquityPoint
		}{res.Trades, res.EquityCurve})
		require.NoError(t, err)
		return data
	}
	assert.True(t, bytes.Equal(encode(), encode()))
}

func TestIdempotentRebalance(t *testing.T) {
	panel, _, err := Align(pool(80), AlignInnerJoin, 0.8)
	require.NoError(t, err)
	s := newSim(DefaultConfig(), Params{TopN: 3, LookbackDays: 10, RebalanceDays: 10, Method: signal.MethodNone}, panel)

	s.rebalance(10)
	trades := len(s.led.Trades())
	cash := s.led.Cash()
	require.Positive(t, trades)

	s.rebalance(10)
	assert.Len(t, s.led.Trades(), trades, "same selection at same prices must not trade")
	assert.Equal(t, cash, s.led.Cash())
}

func TestTiesBrokenBySymbol(t *testing.T) {
	bt := newBT(t, DefaultConfig())
	series := []domain.Series{
		geometric("ZED", 20, 10, 0.01),
		geometric("ALF", 20, 10, 0.01),
		geometric("MID", 20, 10, 0.01),
	}
	res, err := bt.Run(context.Background(), series, Params{TopN: 2, LookbackDays: 5, RebalanceDays: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"ALF", "MID"}, res.Rebalances[0].Selected)
}

func TestBenchmarkEqualWeight(t *testing.T) {
	bt := newBT(t, DefaultConfig())
	series := []domain.Series{
		{Symbol: "A", Bars: []domain.Bar{{Date: start, Close: 10}, {Date: start.AddDate(0, 0, 1), Close: 11}, {Date: start.AddDate(0, 0, 2), Close: 12}}},
		{Symbol: "B", Bars: []domain.Bar{{Date: start, Close: 100}, {Date: start.AddDate(0, 0, 1), Close: 100}, {Date: start.AddDate(0, 0, 2), Close: 100}}},
	}
	res, err := bt.Run(context.Background(), series, Params{TopN: 1, LookbackDays: 1, RebalanceDays: 1})
	require.NoError(t, err)
	assert.InDelta(t, 10, res.Summary.BenchmarkReturnPct, 1e-9)
}

func TestAlignInnerJoin(t *testing.T) {
	a := geometric("A", 10, 10, 0.01)
	b := geometric("B", 10, 10, 0.01)
	b.Bars = append(b.Bars[:4], b.Bars[5:]...) // B misses day 4
	c := geometric("C", 3, 10, 0.01)           // too short for the pool

	panel, dropped, err := Align([]domain.Series{b, c, a}, AlignInnerJoin, 0.8)
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, dropped)
	assert.Equal(t, []string{"A", "B"}, panel.Symbols)
	assert.Equal(t, 9, panel.Len())
	for _, d := range panel.Dates {
		assert.False(t, d.Equal(start.AddDate(0, 0, 4)))
	}
}

func TestAlignForwardFill(t *testing.T) {
	a := geometric("A", 10, 10, 0.01)
	b := geometric("B", 10, 20, 0.01)
	b.Bars = append(b.Bars[:4], b.Bars[5:]...)

	panel, _, err := Align([]domain.Series{a, b}, AlignForwardFill, 0.8)
	require.NoError(t, err)
	require.Equal(t, 10, panel.Len())
	bi := 1
	assert.False(t, panel.Observed[bi][4])
	assert.Equal(t, panel.Prices[bi][3], panel.Prices[bi][4])
	_, ok := panel.Price(bi, 4)
	assert.False(t, ok, "filled prices are not tradable")
}

func TestForwardFillMissingMarkNote(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Alignment = AlignForwardFill
	bt := newBT(t, cfg)

	a := geometric("A", 30, 10, 0.02)
	b := geometric("B", 30, 10, -0.01)
	a.Bars = append(a.Bars[:7], a.Bars[8:]...) // A missing on day 7 while held

	res, err := bt.Run(context.Background(), []domain.Series{a, b}, Params{TopN: 1, LookbackDays: 5, RebalanceDays: 10})
	require.NoError(t, err)
	require.True(t, res.OK())

	pt := res.EquityCurve[7]
	assert.Equal(t, []string{"A"}, pt.Unmarked)
	assert.InDelta(t, pt.Cash, pt.Equity, 1e-9)

	var found bool
	for _, n := range res.Notes {
		if n.Kind == domain.NoteMissingPrice && n.Symbol == "A" {
			found = true
		}
	}
	assert.True(t, found)
	assert.Equal(t, len(res.Notes), res.Summary.DataNotes)
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())
	assert.ErrorIs(t, Params{TopN: 0, RebalanceDays: 1, LookbackDays: 1}.Validate(), ErrInvalidParams)
	assert.ErrorIs(t, Params{TopN: 1, RebalanceDays: 1, LookbackDays: 1, Method: "kelly"}.Validate(), ErrInvalidParams)
	assert.Equal(t, "top5/rb20/lb20/none", DefaultParams().String())
}

func TestRunPanelDoesNotMutatePanel(t *testing.T) {
	bt := newBT(t, DefaultConfig())
	panel, _, err := bt.Align(pool(90))
	require.NoError(t, err)
	before, _ := json.Marshal(panel.Prices)

	_, err = bt.RunPanel(context.Background(), panel.Slice(10, 80), Params{TopN: 2, LookbackDays: 10, RebalanceDays: 5})
	require.NoError(t, err)
	after, _ := json.Marshal(panel.Prices)
	assert.Equal(t, before, after)
}

func TestTrimRejectedIsNoted(t *testing.T) {
	bt := newBT(t, DefaultConfig())
	panel, _, err := bt.Align(pool(30))
	require.NoError(t, err)
	s := newSim(DefaultConfig(), Params{TopN: 2, LookbackDays: 10, RebalanceDays: 5}, panel)

	_, _, ok := s.led.BuyUpTo(panel.Dates[0], "AAA", 10, 50, "setup")
	require.True(t, ok)

	s.trim(1, "AAA", 4, 51)
	assert.Equal(t, int64(6), s.led.Shares("AAA"))
	assert.Empty(t, s.notes)

	cash := s.led.Cash()
	s.trim(2, "AAA", 7, 52)
	assert.Equal(t, int64(6), s.led.Shares("AAA"), "oversized trim leaves the position alone")
	assert.InDelta(t, cash, s.led.Cash(), 1e-9)
	require.Len(t, s.notes, 1)
	assert.Equal(t, domain.NoteRejectedTrade, s.notes[0].Kind)
	assert.Equal(t, "AAA", s.notes[0].Symbol)
	assert.Equal(t, panel.Dates[2], s.notes[0].Date)
	assert.Contains(t, s.notes[0].Detail, "insufficient")
	assert.Len(t, s.led.Trades(), 2)
}

func TestRunPanelCancelled(t *testing.T) {
	bt := newBT(t, DefaultConfig())
	panel, _, err := bt.Align(pool(40))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = bt.RunPanel(ctx, panel, DefaultParams())
	assert.ErrorIs(t, err, context.Canceled)
}
