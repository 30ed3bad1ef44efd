package market

import "time"

// Candle is a single OHLCV price bar. Sequences of candles are expected in
// ascending time order.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Range is the bar's high-low span.
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// Closes returns the close prices of candles in order.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Last returns the most recent n candles (or all of them when n exceeds the
// length).
func Last(candles []Candle, n int) []Candle {
	if n <= 0 {
		return nil
	}
	if n >= len(candles) {
		return candles
	}
	return candles[len(candles)-n:]
}
