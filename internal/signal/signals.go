package signal

import (
	"fmt"
	"math"

	"folio/internal/domain"
)

// MAParams configures the moving-average crossover.
type MAParams struct {
	Short int `yaml:"short" json:"short"`
	Long  int `yaml:"long" json:"long"`
}

// RSIParams configures the RSI threshold signal.
type RSIParams struct {
	Period     int     `yaml:"period" json:"period"`
	Oversold   float64 `yaml:"oversold" json:"oversold"`
	Overbought float64 `yaml:"overbought" json:"overbought"`
}

// MACDParams configures the MACD crossover.
type MACDParams struct {
	Fast   int `yaml:"fast" json:"fast"`
	Slow   int `yaml:"slow" json:"slow"`
	Signal int `yaml:"signal" json:"signal"`
}

// BollingerParams configures the band breakout.
type BollingerParams struct {
	Window int     `yaml:"window" json:"window"`
	K      float64 `yaml:"k" json:"k"`
}

// Params groups the parameters of every single-asset signal family.
type Params struct {
	MA        MAParams        `yaml:"ma" json:"ma"`
	RSI       RSIParams       `yaml:"rsi" json:"rsi"`
	MACD      MACDParams      `yaml:"macd" json:"macd"`
	Bollinger BollingerParams `yaml:"bollinger" json:"bollinger"`
}

// DefaultParams returns MA 5/20, RSI 14 (30/70), MACD 12/26/9 and
// Bollinger 20/2.
func DefaultParams() Params {
	return Params{
		MA:        MAParams{Short: 5, Long: 20},
		RSI:       RSIParams{Period: 14, Oversold: 30, Overbought: 70},
		MACD:      MACDParams{Fast: 12, Slow: 26, Signal: 9},
		Bollinger: BollingerParams{Window: 20, K: 2},
	}
}

// Validate rejects non-positive windows and inverted thresholds.
func (p Params) Validate() error {
	switch {
	case p.MA.Short < 1 || p.MA.Long < 1:
		return fmt.Errorf("ma windows must be positive (short=%d, long=%d)", p.MA.Short, p.MA.Long)
	case p.MA.Short >= p.MA.Long:
		return fmt.Errorf("ma short window %d must be below long window %d", p.MA.Short, p.MA.Long)
	case p.RSI.Period < 1:
		return fmt.Errorf("rsi period must be positive, got %d", p.RSI.Period)
	case p.RSI.Oversold >= p.RSI.Overbought:
		return fmt.Errorf("rsi oversold %v must be below overbought %v", p.RSI.Oversold, p.RSI.Overbought)
	case p.MACD.Fast < 1 || p.MACD.Slow <= p.MACD.Fast || p.MACD.Signal < 1:
		return fmt.Errorf("invalid macd spans %d/%d/%d", p.MACD.Fast, p.MACD.Slow, p.MACD.Signal)
	case p.Bollinger.Window < 2 || p.Bollinger.K <= 0:
		return fmt.Errorf("invalid bollinger window %d / k %v", p.Bollinger.Window, p.Bollinger.K)
	}
	return nil
}

// BuyAndHold emits +1 on the first day and hold afterwards.
func BuyAndHold(closes []float64) []domain.Signal {
	out := make([]domain.Signal, len(closes))
	if len(out) > 0 {
		out[0] = domain.SignalLong
	}
	return out
}

// MACross is long while the short SMA is above the long SMA and exits while
// it is below.
func MACross(closes []float64, p MAParams) []domain.Signal {
	short := SMA(closes, p.Short)
	long := SMA(closes, p.Long)
	out := make([]domain.Signal, len(closes))
	for i := range closes {
		out[i] = compare(short[i], long[i])
	}
	return out
}

// RSIThreshold is long when RSI is oversold and exits when overbought.
func RSIThreshold(closes []float64, p RSIParams) []domain.Signal {
	rsi := RSI(closes, p.Period)
	out := make([]domain.Signal, len(closes))
	for i, v := range rsi {
		switch {
		case math.IsNaN(v):
		case v < p.Oversold:
			out[i] = domain.SignalLong
		case v > p.Overbought:
			out[i] = domain.SignalExit
		}
	}
	return out
}

// MACDCross is long when the MACD line is above its signal line and exits
// otherwise. The first slow-span days are hold.
func MACDCross(closes []float64, p MACDParams) []domain.Signal {
	m := MACD(closes, p.Fast, p.Slow, p.Signal)
	out := make([]domain.Signal, len(closes))
	for i := p.Slow - 1; i < len(closes); i++ {
		if i < 0 {
			continue
		}
		if m.MACD[i] > m.Signal[i] {
			out[i] = domain.SignalLong
		} else {
			out[i] = domain.SignalExit
		}
	}
	return out
}

// BollingerBreakout is long below the lower band and exits above the upper
// band.
func BollingerBreakout(closes []float64, p BollingerParams) []domain.Signal {
	b := Bollinger(closes, p.Window, p.K)
	out := make([]domain.Signal, len(closes))
	for i, c := range closes {
		switch {
		case math.IsNaN(b.Lower[i]):
		case c < b.Lower[i]:
			out[i] = domain.SignalLong
		case c > b.Upper[i]:
			out[i] = domain.SignalExit
		}
	}
	return out
}

func compare(a, b float64) domain.Signal {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		return domain.SignalHold
	case a > b:
		return domain.SignalLong
	case a < b:
		return domain.SignalExit
	}
	return domain.SignalHold
}
