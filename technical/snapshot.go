// Package technical derives volatility, trend and support/resistance facts
// from a price history. Snapshots are values: they are recomputed on every
// evaluation and never mutated.
package technical

import (
	"math"

	"github.com/rustyeddy/riskengine/indicators"
	"github.com/rustyeddy/riskengine/market"
)

type Trend string

const (
	Bullish Trend = "BULLISH"
	Bearish Trend = "BEARISH"
	Neutral Trend = "NEUTRAL"
)

type VolatilityRank string

const (
	LowVolatility    VolatilityRank = "LOW"
	MediumVolatility VolatilityRank = "MEDIUM"
	HighVolatility   VolatilityRank = "HIGH"
)

type Structure string

const (
	Uptrend   Structure = "UPTREND"
	Downtrend Structure = "DOWNTREND"
	Sideways  Structure = "SIDEWAYS"
)

const (
	// MinBars is the history length below which Compute returns the
	// fallback snapshot.
	MinBars = 20

	atrPeriod         = 14
	swingLookback     = 5
	levelWindow       = 50
	levelLookback     = 3
	levelTolerance    = 0.002
	structureWindow   = 10
	structureLookback = 2
	momentumPeriod    = 10
	fallbackBand      = 0.005
	neutralStrength   = 5
)

// Snapshot is the technical context for a single evaluation.
type Snapshot struct {
	Price      float64
	ATR        float64
	Volatility float64

	SwingHighs []float64
	SwingLows  []float64

	Support            float64
	Resistance         float64
	SupportStrength    int
	ResistanceStrength int
	LevelStrength      int

	Trend         Trend
	TrendStrength int

	Momentum       float64
	VolatilityRank VolatilityRank
	Structure      Structure

	NearestSupport    float64
	NearestResistance float64
	Pivot             float64

	// Fallback is set when the history was too short for a full analysis.
	Fallback bool
}

// Compute analyses bars (ascending time). It never fails: histories shorter
// than MinBars produce a conservative fallback snapshot.
func Compute(bars []market.Candle) Snapshot {
	if len(bars) < MinBars {
		return fallback(bars)
	}

	price := bars[len(bars)-1].Close
	s := Snapshot{
		Price:      price,
		ATR:        indicators.ATR(bars, atrPeriod),
		Volatility: indicators.ReturnsStdDev(bars),
		SwingHighs: indicators.SwingHighs(bars, swingLookback),
		SwingLows:  indicators.SwingLows(bars, swingLookback),
	}

	supportResistance(&s, bars)
	trend(&s, bars)
	priceAction(&s, bars)
	keyLevels(&s)
	return s
}

func fallback(bars []market.Candle) Snapshot {
	s := Snapshot{
		Trend:              Neutral,
		TrendStrength:      neutralStrength,
		VolatilityRank:     MediumVolatility,
		Structure:          Sideways,
		SupportStrength:    1,
		ResistanceStrength: 1,
		LevelStrength:      1,
		Fallback:           true,
	}
	if len(bars) == 0 {
		return s
	}

	price := bars[len(bars)-1].Close
	s.Price = price
	s.ATR = indicators.RangeEstimate(bars, 10)
	s.Volatility = indicators.ReturnsStdDev(bars)
	s.Support = price * (1 - fallbackBand)
	s.Resistance = price * (1 + fallbackBand)
	s.NearestSupport = s.Support
	s.NearestResistance = s.Resistance
	s.Pivot = price
	return s
}

func supportResistance(s *Snapshot, bars []market.Candle) {
	recent := market.Last(bars, levelWindow)

	res, ok := indicators.Strongest(indicators.ClusterLevels(indicators.SwingHighs(recent, levelLookback), levelTolerance))
	if !ok {
		res = indicators.Level{Price: maxHigh(recent), Touches: 1}
	}
	sup, ok := indicators.Strongest(indicators.ClusterLevels(indicators.SwingLows(recent, levelLookback), levelTolerance))
	if !ok {
		sup = indicators.Level{Price: minLow(recent), Touches: 1}
	}

	s.Resistance = res.Price
	s.ResistanceStrength = max(res.Touches, 1)
	s.Support = sup.Price
	s.SupportStrength = max(sup.Touches, 1)
	s.LevelStrength = max(s.SupportStrength, s.ResistanceStrength)
}

func trend(s *Snapshot, bars []market.Candle) {
	s.Trend = Neutral
	s.TrendStrength = neutralStrength

	sma20 := indicators.MAUpTo(bars, 20)
	sma50 := indicators.MAUpTo(bars, 50)
	if sma20 == 0 {
		return
	}

	switch {
	case s.Price > sma20 && sma20 > sma50:
		s.Trend = Bullish
		s.TrendStrength = trendStrength((s.Price - sma20) / sma20)
	case s.Price < sma20 && sma20 < sma50:
		s.Trend = Bearish
		s.TrendStrength = trendStrength((sma20 - s.Price) / sma20)
	}
}

func trendStrength(pct float64) int {
	return min(10, 6+int(math.Floor(pct*100)))
}

func priceAction(s *Snapshot, bars []market.Candle) {
	s.Momentum = indicators.PercentChange(bars, momentumPeriod)

	s.VolatilityRank = MediumVolatility
	if avg := indicators.MAUpTo(bars, 20); avg > 0 {
		atrPct := s.ATR / avg * 100
		switch {
		case atrPct < 1:
			s.VolatilityRank = LowVolatility
		case atrPct < 3:
			s.VolatilityRank = MediumVolatility
		default:
			s.VolatilityRank = HighVolatility
		}
	}

	last := market.Last(bars, structureWindow)
	hi := maxOf(indicators.SwingHighs(last, structureLookback), maxHigh(last))
	lo := minOf(indicators.SwingLows(last, structureLookback), minLow(last))
	mid := (hi + lo) / 2

	switch {
	case s.Price > mid && s.Momentum > 0:
		s.Structure = Uptrend
	case s.Price < mid && s.Momentum < 0:
		s.Structure = Downtrend
	default:
		s.Structure = Sideways
	}
}

func keyLevels(s *Snapshot) {
	s.NearestSupport = nearestBelow(s.SwingLows, s.Price)
	if s.NearestSupport == 0 {
		if s.Support < s.Price {
			s.NearestSupport = s.Support
		} else {
			s.NearestSupport = s.Price * (1 - fallbackBand)
		}
	}

	s.NearestResistance = nearestAbove(s.SwingHighs, s.Price)
	if s.NearestResistance == 0 {
		if s.Resistance > s.Price {
			s.NearestResistance = s.Resistance
		} else {
			s.NearestResistance = s.Price * (1 + fallbackBand)
		}
	}

	s.Pivot = (s.NearestSupport + s.NearestResistance) / 2
}

// nearestBelow returns the largest level strictly below price, or 0.
func nearestBelow(levels []float64, price float64) float64 {
	best := 0.0
	for _, l := range levels {
		if l < price && l > best {
			best = l
		}
	}
	return best
}

// nearestAbove returns the smallest level strictly above price, or 0.
func nearestAbove(levels []float64, price float64) float64 {
	best := 0.0
	for _, l := range levels {
		if l > price && (best == 0 || l < best) {
			best = l
		}
	}
	return best
}

func maxHigh(bars []market.Candle) float64 {
	hi := math.Inf(-1)
	for _, b := range bars {
		hi = math.Max(hi, b.High)
	}
	return hi
}

func minLow(bars []market.Candle) float64 {
	lo := math.Inf(1)
	for _, b := range bars {
		lo = math.Min(lo, b.Low)
	}
	return lo
}

func maxOf(vals []float64, def float64) float64 {
	if len(vals) == 0 {
		return def
	}
	out := vals[0]
	for _, v := range vals[1:] {
		out = math.Max(out, v)
	}
	return out
}

func minOf(vals []float64, def float64) float64 {
	if len(vals) == 0 {
		return def
	}
	out := vals[0]
	for _, v := range vals[1:] {
		out = math.Min(out, v)
	}
	return out
}
