// Package domain defines the core value types shared by the backtesting
// engine: price bars, trades, equity points and data-quality notes.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the canonical calendar-date format used in logs, JSON and
// period labels.
const DateLayout = "2006-01-02"

// Market identifies the exchange group a symbol belongs to.
type Market string

const (
	MarketUS Market = "us"
	MarketTW Market = "tw"
	MarketCN Market = "cn"
)

// Bar is one daily OHLCV price point for a symbol.
type Bar struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Series is an ordered-by-date sequence of bars for a single symbol. The
// engine treats a Series as a borrowed, read-only view for one run.
type Series struct {
	Symbol string
	Bars   []Bar
}

// Len returns the number of bars in the series.
func (s Series) Len() int { return len(s.Bars) }

// Closes returns the close prices in date order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Validate checks that dates are strictly increasing and prices positive.
func (s Series) Validate() error {
	for i, b := range s.Bars {
		if b.Close <= 0 {
			return fmt.Errorf("%s: non-positive close %v on %s", s.Symbol, b.Close, b.Date.Format(DateLayout))
		}
		if i > 0 && !b.Date.After(s.Bars[i-1].Date) {
			return fmt.Errorf("%s: dates not strictly increasing at %s", s.Symbol, b.Date.Format(DateLayout))
		}
	}
	return nil
}

// Signal is a per-day discrete trade instruction for a single-asset strategy.
type Signal int8

const (
	SignalExit Signal = -1
	SignalHold Signal = 0
	SignalLong Signal = 1
)

// Action is the side of a ledger trade.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Trade is an immutable ledger mutation.
type Trade struct {
	Date   time.Time `json:"date"`
	Symbol string    `json:"symbol"`
	Action Action    `json:"action"`
	Shares int64     `json:"shares"`
	Price  float64   `json:"price"`
	Value  float64   `json:"value"`
	Reason string    `json:"reason"`
}

// Holding is one marked position inside an equity snapshot.
type Holding struct {
	Shares int64   `json:"shares"`
	Price  float64 `json:"price"`
	Value  float64 `json:"value"`
}

// EquityPoint is the portfolio state at the close of one simulated day.
type EquityPoint struct {
	Date     time.Time          `json:"date"`
	Equity   float64            `json:"equity"`
	Cash     float64            `json:"cash"`
	Holdings map[string]Holding `json:"holdings,omitempty"`
	// Unmarked lists held symbols without a price on Date; they are
	// excluded from Equity.
	Unmarked []string `json:"unmarked,omitempty"`
}

// ClosedTrade is one single-asset round trip. Open is set for a position
// still held when the run ends; its exit fields carry the unrealized mark.
type ClosedTrade struct {
	EntryDate  time.Time `json:"entry_date"`
	EntryPrice float64   `json:"entry_price"`
	ExitDate   time.Time `json:"-"`
	ExitPrice  float64   `json:"exit_price"`
	Shares     int64     `json:"shares"`
	Profit     float64   `json:"profit"`
	ProfitPct  float64   `json:"profit_pct"`
	Open       bool      `json:"open"`
}

// MarshalJSON renders ExitDate as "open" for positions still held.
func (c ClosedTrade) MarshalJSON() ([]byte, error) {
	type alias ClosedTrade
	exit := c.ExitDate.Format(DateLayout)
	if c.Open {
		exit = "open"
	}
	return json.Marshal(struct {
		alias
		ExitDate string `json:"exit_date"`
	}{alias(c), exit})
}

// UnmarshalJSON parses exit_date as a calendar date; "open" marks a
// position still held and leaves ExitDate zero.
func (c *ClosedTrade) UnmarshalJSON(data []byte) error {
	type alias ClosedTrade
	var raw struct {
		alias
		ExitDate string `json:"exit_date"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = ClosedTrade(raw.alias)
	switch raw.ExitDate {
	case "":
	case "open":
		c.Open = true
	default:
		t, err := time.Parse(DateLayout, raw.ExitDate)
		if err != nil {
			return fmt.Errorf("closed trade exit_date: %w", err)
		}
		c.ExitDate = t
	}
	return nil
}

// RebalanceRecord captures one rotation rebalance.
type RebalanceRecord struct {
	Date       time.Time          `json:"date"`
	Selected   []string           `json:"selected"`
	Scores     map[string]float64 `json:"scores"`
	TotalValue float64            `json:"total_value"`
}

// NoteKind classifies a recoverable data-quality condition.
type NoteKind string

const (
	NoteMissingPrice           NoteKind = "missing_price"
	NoteDegenerateRanking      NoteKind = "degenerate_ranking"
	NoteAffordabilityShortfall NoteKind = "affordability_shortfall"
	NoteShortSelection         NoteKind = "short_selection"
	// NoteRejectedTrade records a trade the ledger refused; the run
	// continues without it.
	NoteRejectedTrade NoteKind = "rejected_trade"
)

// Note is a data-quality condition resolved by policy during a run.
type Note struct {
	Kind   NoteKind  `json:"kind"`
	Date   time.Time `json:"date"`
	Symbol string    `json:"symbol,omitempty"`
	Detail string    `json:"detail"`
}

// FailureKind classifies a run that could not start.
type FailureKind string

const (
	FailureInsufficientPool    FailureKind = "insufficient_pool"
	FailureInsufficientHistory FailureKind = "insufficient_history"
)

// Failure describes why a run produced no trades. A nil *Failure on a
// result means the run completed.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Message
}
