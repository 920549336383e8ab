package builtins

import (
	"folio/internal/domain"
	"folio/internal/signal"
	"folio/internal/strategy"
)

var (
	_ strategy.Strategy = BuyAndHold{}
	_ strategy.Strategy = (*Combined)(nil)
)

// BuyAndHold enters on the first bar and never exits.
type BuyAndHold struct{}

func (BuyAndHold) Name() string { return "buy_and_hold" }
func (BuyAndHold) Warmup() int  { return 0 }

func (BuyAndHold) Signals(bars []domain.Bar) []domain.Signal {
	return signal.BuyAndHold(strategy.Closes(bars))
}

// Combined trades the weighted indicator score: long at BUY or better,
// exit at SELL or worse.
type Combined struct {
	p signal.Params
}

// NewCombined creates a strategy over the weighted combination of the four
// indicator families.
func NewCombined(p signal.Params) *Combined { return &Combined{p: p} }

func (s *Combined) Name() string { return "combined" }
func (s *Combined) Warmup() int {
	return min(s.p.MA.Long-1, s.p.RSI.Period, s.p.MACD.Slow-1, s.p.Bollinger.Window-1)
}

func (s *Combined) Signals(bars []domain.Bar) []domain.Signal {
	scores := signal.Combined(strategy.Closes(bars), s.p)
	out := make([]domain.Signal, len(scores))
	for i, v := range scores {
		switch signal.LevelFor(v) {
		case signal.LevelBuy, signal.LevelStrongBuy:
			out[i] = domain.SignalLong
		case signal.LevelSell, signal.LevelStrongSell:
			out[i] = domain.SignalExit
		}
	}
	return out
}

// Register adds every built-in strategy configured with p to r.
func Register(r *strategy.Registry, p signal.Params) {
	r.MustRegister(BuyAndHold{})
	r.MustRegister(NewSMACross(p.MA.Short, p.MA.Long))
	r.MustRegister(NewRSI(p.RSI))
	r.MustRegister(NewMACD(p.MACD))
	r.MustRegister(NewBollinger(p.Bollinger))
	r.MustRegister(NewCombined(p))
}

// NewRegistry returns a registry holding every built-in strategy.
func NewRegistry(p signal.Params) *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r, p)
	return r
}
