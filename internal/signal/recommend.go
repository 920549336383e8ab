package signal

import (
	"errors"
	"fmt"
	"math"
	"time"

	"folio/internal/domain"
)

// ErrInsufficientHistory is returned by Recommend when the series is too
// short for every indicator to be defined on its last bar.
var ErrInsufficientHistory = errors.New("insufficient history")

// Level is a discrete recommendation derived from the combined signal.
type Level string

const (
	LevelStrongBuy  Level = "STRONG_BUY"
	LevelBuy        Level = "BUY"
	LevelHold       Level = "HOLD"
	LevelSell       Level = "SELL"
	LevelStrongSell Level = "STRONG_SELL"
)

// Weights of each signal family in the combined score.
const (
	WeightMA        = 0.3
	WeightRSI       = 0.2
	WeightMACD      = 0.3
	WeightBollinger = 0.2
)

// Snapshot holds the latest indicator readings. Absent readings are nil.
type Snapshot struct {
	Price       float64  `json:"price"`
	MAShort     *float64 `json:"ma_short"`
	MALong      *float64 `json:"ma_long"`
	RSI         *float64 `json:"rsi"`
	MACD        *float64 `json:"macd"`
	MACDSignal  *float64 `json:"macd_signal"`
	BandUpper   *float64 `json:"band_upper"`
	BandLower   *float64 `json:"band_lower"`
	BandPercent *float64 `json:"band_percent"`
}

// Recommendation is the latest-day view of one symbol.
type Recommendation struct {
	Symbol     string                   `json:"symbol"`
	Date       time.Time                `json:"date"`
	Level      Level                    `json:"level"`
	Combined   float64                  `json:"combined"`
	Confidence float64                  `json:"confidence"`
	Signals    map[string]domain.Signal `json:"signals"`
	Indicators Snapshot                 `json:"indicators"`
	Reasons    []string                 `json:"reasons"`
}

// Combined returns the weighted sum of the four signal families per day.
func Combined(closes []float64, p Params) []float64 {
	ma := MACross(closes, p.MA)
	rsi := RSIThreshold(closes, p.RSI)
	macd := MACDCross(closes, p.MACD)
	bb := BollingerBreakout(closes, p.Bollinger)
	out := make([]float64, len(closes))
	for i := range closes {
		out[i] = WeightMA*float64(ma[i]) + WeightRSI*float64(rsi[i]) +
			WeightMACD*float64(macd[i]) + WeightBollinger*float64(bb[i])
	}
	return out
}

// LevelFor maps a combined score onto a recommendation level.
func LevelFor(combined float64) Level {
	switch {
	case combined >= 0.4:
		return LevelStrongBuy
	case combined >= 0.15:
		return LevelBuy
	case combined <= -0.4:
		return LevelStrongSell
	case combined <= -0.15:
		return LevelSell
	}
	return LevelHold
}

// MinHistory returns the number of bars Recommend needs for every
// indicator to be defined on the last day.
func (p Params) MinHistory() int {
	return max(p.MA.Long, p.RSI.Period+1, p.MACD.Slow, p.Bollinger.Window)
}

// Recommend evaluates every signal family on the last bar of s.
func Recommend(s domain.Series, p Params) (Recommendation, error) {
	if err := p.Validate(); err != nil {
		return Recommendation{}, err
	}
	n := s.Len()
	if n < p.MinHistory() {
		return Recommendation{}, fmt.Errorf("%w: %s has %d bars, need %d", ErrInsufficientHistory, s.Symbol, n, p.MinHistory())
	}
	closes := s.Closes()
	last := n - 1

	sigs := map[string]domain.Signal{
		"MA":   MACross(closes, p.MA)[last],
		"RSI":  RSIThreshold(closes, p.RSI)[last],
		"MACD": MACDCross(closes, p.MACD)[last],
		"BB":   BollingerBreakout(closes, p.Bollinger)[last],
	}
	combined := WeightMA*float64(sigs["MA"]) + WeightRSI*float64(sigs["RSI"]) +
		WeightMACD*float64(sigs["MACD"]) + WeightBollinger*float64(sigs["BB"])

	m := MACD(closes, p.MACD.Fast, p.MACD.Slow, p.MACD.Signal)
	bands := Bollinger(closes, p.Bollinger.Window, p.Bollinger.K)
	snap := Snapshot{
		Price:      closes[last],
		MAShort:    ptr(SMA(closes, p.MA.Short)[last]),
		MALong:     ptr(SMA(closes, p.MA.Long)[last]),
		RSI:        ptr(RSI(closes, p.RSI.Period)[last]),
		MACD:       ptr(m.MACD[last]),
		MACDSignal: ptr(m.Signal[last]),
		BandUpper:  ptr(bands.Upper[last]),
		BandLower:  ptr(bands.Lower[last]),
	}
	if snap.BandUpper != nil && *snap.BandUpper > *snap.BandLower {
		snap.BandPercent = ptr((closes[last] - *snap.BandLower) / (*snap.BandUpper - *snap.BandLower))
	}

	return Recommendation{
		Symbol:     s.Symbol,
		Date:       s.Bars[last].Date,
		Level:      LevelFor(combined),
		Combined:   combined,
		Confidence: math.Abs(combined) * 100,
		Signals:    sigs,
		Indicators: snap,
		Reasons:    reasons(sigs, snap, p),
	}, nil
}

func reasons(sigs map[string]domain.Signal, snap Snapshot, p Params) []string {
	var out []string
	switch sigs["MA"] {
	case domain.SignalLong:
		out = append(out, fmt.Sprintf("MA%d above MA%d, trend up", p.MA.Short, p.MA.Long))
	case domain.SignalExit:
		out = append(out, fmt.Sprintf("MA%d below MA%d, trend down", p.MA.Short, p.MA.Long))
	}
	if snap.RSI != nil {
		if *snap.RSI < p.RSI.Oversold {
			out = append(out, fmt.Sprintf("RSI=%.1f, oversold", *snap.RSI))
		} else if *snap.RSI > p.RSI.Overbought {
			out = append(out, fmt.Sprintf("RSI=%.1f, overbought", *snap.RSI))
		}
	}
	switch sigs["MACD"] {
	case domain.SignalLong:
		out = append(out, "MACD above signal line, momentum strengthening")
	case domain.SignalExit:
		out = append(out, "MACD below signal line, momentum weakening")
	}
	if snap.BandPercent != nil {
		if *snap.BandPercent < 0.2 {
			out = append(out, "price near lower band")
		} else if *snap.BandPercent > 0.8 {
			out = append(out, "price near upper band")
		}
	}
	return out
}

func ptr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
