package indicators

import (
	"math"

	"github.com/rustyeddy/riskengine/market"
)

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(current, previous market.Candle) float64 {
	highLow := current.High - current.Low
	highClose := math.Abs(current.High - previous.Close)
	lowClose := math.Abs(current.Low - previous.Close)

	return math.Max(highLow, math.Max(highClose, lowClose))
}

// ATR is the simple average of the last period true ranges. With fewer than
// period+1 candles it falls back to RangeEstimate over the most recent ten.
func ATR(candles []market.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return RangeEstimate(candles, 10)
	}

	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += TrueRange(candles[i], candles[i-1])
	}
	return sum / float64(period)
}

// RangeEstimate is (max high - min low) / count over the most recent n
// candles. It returns 0 for an empty slice.
func RangeEstimate(candles []market.Candle, n int) float64 {
	recent := market.Last(candles, n)
	if len(recent) == 0 {
		return 0
	}
	hi, lo := recent[0].High, recent[0].Low
	for _, c := range recent[1:] {
		hi = math.Max(hi, c.High)
		lo = math.Min(lo, c.Low)
	}
	return (hi - lo) / float64(len(recent))
}
