package builtins

import (
	"folio/internal/domain"
	"folio/internal/signal"
	"folio/internal/strategy"
)

var (
	_ strategy.Strategy = (*RSI)(nil)
	_ strategy.Strategy = (*MACD)(nil)
	_ strategy.Strategy = (*Bollinger)(nil)
)

// RSI buys oversold readings and exits overbought ones.
type RSI struct {
	p signal.RSIParams
}

// NewRSI creates an RSI threshold strategy.
func NewRSI(p signal.RSIParams) *RSI { return &RSI{p: p} }

func (s *RSI) Name() string { return "rsi" }
func (s *RSI) Warmup() int  { return s.p.Period }

func (s *RSI) Signals(bars []domain.Bar) []domain.Signal {
	return signal.RSIThreshold(strategy.Closes(bars), s.p)
}

// MACD is long while the MACD line is above its signal line.
type MACD struct {
	p signal.MACDParams
}

// NewMACD creates a MACD crossover strategy.
func NewMACD(p signal.MACDParams) *MACD { return &MACD{p: p} }

func (s *MACD) Name() string { return "macd" }
func (s *MACD) Warmup() int  { return s.p.Slow - 1 }

func (s *MACD) Signals(bars []domain.Bar) []domain.Signal {
	return signal.MACDCross(strategy.Closes(bars), s.p)
}

// Bollinger buys closes below the lower band and exits above the upper band.
type Bollinger struct {
	p signal.BollingerParams
}

// NewBollinger creates a band breakout strategy.
func NewBollinger(p signal.BollingerParams) *Bollinger { return &Bollinger{p: p} }

func (s *Bollinger) Name() string { return "bollinger" }
func (s *Bollinger) Warmup() int  { return s.p.Window - 1 }

func (s *Bollinger) Signals(bars []domain.Bar) []domain.Signal {
	return signal.BollingerBreakout(strategy.Closes(bars), s.p)
}
