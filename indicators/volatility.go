package indicators

import (
	"math"

	"github.com/rustyeddy/riskengine/market"
)

// ReturnsStdDev is the population standard deviation of simple returns
// between consecutive closes. Bars following a zero close are skipped.
func ReturnsStdDev(candles []market.Candle) float64 {
	if len(candles) < 2 {
		return 0
	}

	rets := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev == 0 {
			continue
		}
		rets = append(rets, (candles[i].Close-prev)/prev)
	}
	if len(rets) == 0 {
		return 0
	}

	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))

	var varsum float64
	for _, r := range rets {
		d := r - mean
		varsum += d * d
	}
	return math.Sqrt(varsum / float64(len(rets)))
}
