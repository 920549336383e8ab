// Package signal implements the technical indicators, single-asset trade
// signals and momentum ranking scores used by the backtesters. Every
// function is pure: it reads a price slice and returns a new slice of the
// same length, with NaN marking warm-up positions.
package signal

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// SMA returns the simple moving average of values over window. Positions
// before the first full window are NaN.
func SMA(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window <= 0 {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// EMA returns the exponential moving average with smoothing 2/(span+1),
// seeded with the first value (no bias adjustment).
func EMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RollingStd returns the sample standard deviation over window.
func RollingStd(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window < 2 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		out[i] = stat.StdDev(values[i-window+1:i+1], nil)
	}
	return out
}

// RSI returns the relative strength index over period using simple rolling
// means of gains and losses. A window with no losses reads 100; a window
// with neither gains nor losses is NaN.
func RSI(closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if period <= 0 || n <= period {
		return out
	}
	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}
	avgGain := SMA(gains[1:], period)
	avgLoss := SMA(losses[1:], period)
	for i := period; i < n; i++ {
		g, l := avgGain[i-1], avgLoss[i-1]
		switch {
		case l == 0 && g == 0:
			out[i] = math.NaN()
		case l == 0:
			out[i] = 100
		default:
			out[i] = 100 - 100/(1+g/l)
		}
	}
	return out
}

// MACDLines holds the MACD line, its signal line and the histogram.
type MACDLines struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes fast EMA minus slow EMA and its signal-span EMA.
func MACD(closes []float64, fast, slow, signal int) MACDLines {
	f := EMA(closes, fast)
	s := EMA(closes, slow)
	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = f[i] - s[i]
	}
	sig := EMA(line, signal)
	hist := make([]float64, len(closes))
	for i := range closes {
		hist[i] = line[i] - sig[i]
	}
	return MACDLines{MACD: line, Signal: sig, Histogram: hist}
}

// Bands holds Bollinger middle, upper and lower bands.
type Bands struct {
	Middle []float64
	Upper  []float64
	Lower  []float64
}

// Bollinger returns the window-day SMA plus and minus k sample standard
// deviations.
func Bollinger(closes []float64, window int, k float64) Bands {
	mid := SMA(closes, window)
	sd := RollingStd(closes, window)
	b := Bands{Middle: mid, Upper: nanSlice(len(closes)), Lower: nanSlice(len(closes))}
	for i := range closes {
		if math.IsNaN(mid[i]) || math.IsNaN(sd[i]) {
			continue
		}
		b.Upper[i] = mid[i] + k*sd[i]
		b.Lower[i] = mid[i] - k*sd[i]
	}
	return b
}

// DailyReturns returns simple close-to-close returns; element 0 is NaN.
func DailyReturns(closes []float64) []float64 {
	out := nanSlice(len(closes))
	for i := 1; i < len(closes); i++ {
		out[i] = closes[i]/closes[i-1] - 1
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
