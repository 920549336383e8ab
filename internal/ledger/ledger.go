// Package ledger tracks cash and integer share holdings for one backtest
// run and derives mark-to-market equity snapshots.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"folio/internal/domain"
)

var (
	// ErrInsufficientCash is returned by Apply when a BUY costs more than
	// the available cash.
	ErrInsufficientCash = errors.New("insufficient cash")

	// ErrInsufficientShares is returned by Apply when a SELL exceeds the
	// held share count.
	ErrInsufficientShares = errors.New("insufficient shares")
)

// PriceLookup returns the close of symbol on date. The second return value
// is false when the symbol has no bar on that exact date.
type PriceLookup func(symbol string, date time.Time) (float64, bool)

// Ledger is the mutable cash/holdings state of a single run. It is not
// safe for concurrent use; every run owns its own Ledger.
type Ledger struct {
	cash     float64
	holdings map[string]int64
	trades   []domain.Trade
}

// New creates a Ledger holding only initialCapital in cash.
func New(initialCapital float64) *Ledger {
	return &Ledger{
		cash:     initialCapital,
		holdings: make(map[string]int64),
	}
}

// Cash returns the uninvested cash balance.
func (l *Ledger) Cash() float64 { return l.cash }

// Shares returns the share count held for symbol (0 if absent).
func (l *Ledger) Shares(symbol string) int64 { return l.holdings[symbol] }

// Symbols returns the held symbols in sorted order.
func (l *Ledger) Symbols() []string {
	out := make([]string, 0, len(l.holdings))
	for sym := range l.holdings {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Holdings returns a copy of the symbol→shares map.
func (l *Ledger) Holdings() map[string]int64 {
	out := make(map[string]int64, len(l.holdings))
	for sym, n := range l.holdings {
		out[sym] = n
	}
	return out
}

// Trades returns the append-only trade log.
func (l *Ledger) Trades() []domain.Trade { return l.trades }

// Affordable returns the largest whole number of shares that cash can pay
// for at price.
func (l *Ledger) Affordable(price float64) int64 {
	if price <= 0 || l.cash <= 0 {
		return 0
	}
	n := int64(math.Floor(l.cash / price))
	// Division can round up by one ulp; never let cost exceed cash.
	for n > 0 && float64(n)*price > l.cash {
		n--
	}
	return n
}

// Apply validates and books a trade. A BUY must be fully covered by cash
// and a SELL by held shares; the ledger is left untouched on error.
func (l *Ledger) Apply(t domain.Trade) error {
	if t.Shares <= 0 {
		return fmt.Errorf("apply %s %s: non-positive share count %d", t.Action, t.Symbol, t.Shares)
	}
	if t.Price <= 0 {
		return fmt.Errorf("apply %s %s: non-positive price %v", t.Action, t.Symbol, t.Price)
	}
	t.Value = float64(t.Shares) * t.Price

	switch t.Action {
	case domain.ActionBuy:
		if t.Value > l.cash {
			return fmt.Errorf("apply BUY %d %s @ %.4f: %w", t.Shares, t.Symbol, t.Price, ErrInsufficientCash)
		}
		l.cash -= t.Value
		l.holdings[t.Symbol] += t.Shares
	case domain.ActionSell:
		held := l.holdings[t.Symbol]
		if t.Shares > held {
			return fmt.Errorf("apply SELL %d %s (held %d): %w", t.Shares, t.Symbol, held, ErrInsufficientShares)
		}
		l.cash += t.Value
		if held == t.Shares {
			delete(l.holdings, t.Symbol)
		} else {
			l.holdings[t.Symbol] = held - t.Shares
		}
	default:
		return fmt.Errorf("apply: unknown action %q", t.Action)
	}

	l.trades = append(l.trades, t)
	return nil
}

// BuyUpTo buys min(want, Affordable(price)) shares. It returns the booked
// trade (ok=false when nothing was affordable) and the unfilled share count.
func (l *Ledger) BuyUpTo(date time.Time, symbol string, want int64, price float64, reason string) (domain.Trade, int64, bool) {
	n := min(want, l.Affordable(price))
	if n <= 0 {
		return domain.Trade{}, want, false
	}
	t := domain.Trade{Date: date, Symbol: symbol, Action: domain.ActionBuy, Shares: n, Price: price, Reason: reason}
	if err := l.Apply(t); err != nil {
		return domain.Trade{}, want, false
	}
	return l.trades[len(l.trades)-1], want - n, true
}

// SellAll liquidates the full position in symbol at price. ok is false when
// nothing is held.
func (l *Ledger) SellAll(date time.Time, symbol string, price float64, reason string) (domain.Trade, bool) {
	n := l.holdings[symbol]
	if n <= 0 {
		return domain.Trade{}, false
	}
	t := domain.Trade{Date: date, Symbol: symbol, Action: domain.ActionSell, Shares: n, Price: price, Reason: reason}
	if err := l.Apply(t); err != nil {
		return domain.Trade{}, false
	}
	return l.trades[len(l.trades)-1], true
}

// Snapshot marks every holding at its close on date. Holdings without a
// price on date are left out of Equity and listed in Unmarked.
func (l *Ledger) Snapshot(date time.Time, lookup PriceLookup) domain.EquityPoint {
	p := domain.EquityPoint{Date: date, Cash: l.cash, Equity: l.cash}
	if len(l.holdings) == 0 {
		return p
	}
	p.Holdings = make(map[string]domain.Holding, len(l.holdings))
	for _, sym := range l.Symbols() {
		n := l.holdings[sym]
		price, ok := lookup(sym, date)
		if !ok {
			p.Unmarked = append(p.Unmarked, sym)
			continue
		}
		v := float64(n) * price
		p.Holdings[sym] = domain.Holding{Shares: n, Price: price, Value: v}
		p.Equity += v
	}
	return p
}

// Value returns cash plus the mark of every holding priced by lookup, and
// the symbols that could not be priced.
func (l *Ledger) Value(date time.Time, lookup PriceLookup) (float64, []string) {
	p := l.Snapshot(date, lookup)
	return p.Equity, p.Unmarked
}
