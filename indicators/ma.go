package indicators

import (
	"fmt"

	"github.com/rustyeddy/riskengine/market"
)

// MA calculates the simple moving average of the last period closes.
func MA(candles []market.Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(candles) < period {
		return 0, fmt.Errorf("not enough candles: need %d, got %d", period, len(candles))
	}

	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return sum / float64(period), nil
}

// MAUpTo is MA over min(period, len(candles)) closes. It returns 0 for an
// empty slice.
func MAUpTo(candles []market.Candle, period int) float64 {
	if period > len(candles) {
		period = len(candles)
	}
	if period <= 0 {
		return 0
	}
	v, _ := MA(candles, period)
	return v
}

// PercentChange is the percent move of the close over the last period bars.
func PercentChange(candles []market.Candle, period int) float64 {
	if period <= 0 || len(candles) < 2 {
		return 0
	}
	from := len(candles) - 1 - period
	if from < 0 {
		from = 0
	}
	base := candles[from].Close
	if base == 0 {
		return 0
	}
	return (candles[len(candles)-1].Close - base) / base * 100
}
