package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/internal/domain"
)

var d0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func prices(m map[string]float64) PriceLookup {
	return func(sym string, _ time.Time) (float64, bool) {
		p, ok := m[sym]
		return p, ok
	}
}

func TestApplyBuySell(t *testing.T) {
	l := New(1000)

	require.NoError(t, l.Apply(domain.Trade{Date: d0, Symbol: "A", Action: domain.ActionBuy, Shares: 10, Price: 33}))
	assert.InDelta(t, 670, l.Cash(), 1e-9)
	assert.Equal(t, int64(10), l.Shares("A"))

	require.NoError(t, l.Apply(domain.Trade{Date: d0, Symbol: "A", Action: domain.ActionSell, Shares: 4, Price: 40}))
	assert.InDelta(t, 830, l.Cash(), 1e-9)
	assert.Equal(t, int64(6), l.Shares("A"))

	require.NoError(t, l.Apply(domain.Trade{Date: d0, Symbol: "A", Action: domain.ActionSell, Shares: 6, Price: 40}))
	assert.Empty(t, l.Symbols(), "zero-share position should be removed")

	trades := l.Trades()
	require.Len(t, trades, 3)
	assert.InDelta(t, 330, trades[0].Value, 1e-9)
}

func TestApplyRejectsOverdraw(t *testing.T) {
	l := New(100)

	err := l.Apply(domain.Trade{Symbol: "A", Action: domain.ActionBuy, Shares: 11, Price: 10})
	require.ErrorIs(t, err, ErrInsufficientCash)
	assert.InDelta(t, 100, l.Cash(), 1e-9)
	assert.Empty(t, l.Trades())

	err = l.Apply(domain.Trade{Symbol: "A", Action: domain.ActionSell, Shares: 1, Price: 10})
	require.ErrorIs(t, err, ErrInsufficientShares)

	err = l.Apply(domain.Trade{Symbol: "A", Action: domain.ActionBuy, Shares: 0, Price: 10})
	require.Error(t, err)
}

func TestAffordable(t *testing.T) {
	l := New(1000)
	assert.Equal(t, int64(30), l.Affordable(33))
	assert.Equal(t, int64(0), l.Affordable(1001))
	assert.Equal(t, int64(0), l.Affordable(0))

	// 0.1*3 > 0.3 in float64; the guard must step down.
	l = New(0.3)
	n := l.Affordable(0.1)
	assert.LessOrEqual(t, float64(n)*0.1, 0.3)
}

func TestBuyUpToRecordsShortfall(t *testing.T) {
	l := New(250)

	tr, short, ok := l.BuyUpTo(d0, "B", 5, 60, "rebalance")
	require.True(t, ok)
	assert.Equal(t, int64(4), tr.Shares)
	assert.Equal(t, int64(1), short)
	assert.InDelta(t, 10, l.Cash(), 1e-9)

	_, short, ok = l.BuyUpTo(d0, "B", 2, 60, "rebalance")
	assert.False(t, ok)
	assert.Equal(t, int64(2), short)
	assert.GreaterOrEqual(t, l.Cash(), 0.0)
}

func TestSellAll(t *testing.T) {
	l := New(100)
	_, ok := l.SellAll(d0, "A", 10, "exit")
	assert.False(t, ok)

	_, _, _ = l.BuyUpTo(d0, "A", 10, 10, "entry")
	tr, ok := l.SellAll(d0, "A", 12, "exit")
	require.True(t, ok)
	assert.Equal(t, int64(10), tr.Shares)
	assert.InDelta(t, 120, l.Cash(), 1e-9)
}

func TestSnapshotConservation(t *testing.T) {
	l := New(1000)
	_, _, _ = l.BuyUpTo(d0, "A", 3, 100, "")
	_, _, _ = l.BuyUpTo(d0, "B", 7, 50, "")

	p := l.Snapshot(d0, prices(map[string]float64{"A": 110, "B": 40}))
	sum := p.Cash
	for _, h := range p.Holdings {
		sum += float64(h.Shares) * h.Price
	}
	assert.InDelta(t, sum, p.Equity, 1e-9)
	assert.InDelta(t, 350+330+280, p.Equity, 1e-9)
	assert.Empty(t, p.Unmarked)
}

func TestSnapshotMissingPrice(t *testing.T) {
	l := New(1000)
	_, _, _ = l.BuyUpTo(d0, "A", 3, 100, "")
	_, _, _ = l.BuyUpTo(d0, "B", 2, 100, "")

	p := l.Snapshot(d0, prices(map[string]float64{"A": 100}))
	assert.Equal(t, []string{"B"}, p.Unmarked)
	assert.InDelta(t, 500+300, p.Equity, 1e-9)
	_, marked := p.Holdings["B"]
	assert.False(t, marked)
}
