// Package builtins provides the single-asset strategies that ship with
// folio: buy-and-hold, MA crossover, RSI, MACD, Bollinger and the weighted
// combination of the four indicator families.
package builtins

import (
	"folio/internal/domain"
	"folio/internal/signal"
	"folio/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross is long while the short-period SMA is above the long-period SMA
// and exits while it is below.
type SMACross struct {
	shortPeriod int
	longPeriod  int
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods.
func NewSMACross(short, long int) *SMACross {
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
	}
}

// Name returns "ma".
func (s *SMACross) Name() string {
	return "ma"
}

// Warmup is the long window less one.
func (s *SMACross) Warmup() int {
	return s.longPeriod - 1
}

// Signals compares the two averages on every bar.
func (s *SMACross) Signals(bars []domain.Bar) []domain.Signal {
	return signal.MACross(strategy.Closes(bars), signal.MAParams{Short: s.shortPeriod, Long: s.longPeriod})
}
