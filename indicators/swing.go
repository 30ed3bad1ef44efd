package indicators

import "github.com/rustyeddy/riskengine/market"

// SwingHighs returns the highs of bars whose high strictly exceeds every
// other high within lookback bars on either side. Fewer than 2*lookback+1
// candles yield no swings.
func SwingHighs(candles []market.Candle, lookback int) []float64 {
	return swings(candles, lookback, func(c market.Candle) float64 { return c.High }, func(a, b float64) bool { return a > b })
}

// SwingLows is the mirror of SwingHighs using lows and "strictly below".
func SwingLows(candles []market.Candle, lookback int) []float64 {
	return swings(candles, lookback, func(c market.Candle) float64 { return c.Low }, func(a, b float64) bool { return a < b })
}

func swings(candles []market.Candle, lookback int, value func(market.Candle) float64, beats func(a, b float64) bool) []float64 {
	if lookback <= 0 || len(candles) < 2*lookback+1 {
		return nil
	}

	var out []float64
	for i := lookback; i < len(candles)-lookback; i++ {
		v := value(candles[i])
		swing := true
		for j := i - lookback; j <= i+lookback; j++ {
			if j == i {
				continue
			}
			if !beats(v, value(candles[j])) {
				swing = false
				break
			}
		}
		if swing {
			out = append(out, v)
		}
	}
	return out
}
