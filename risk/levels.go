package risk

import (
	"fmt"

	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/technical"
)

const (
	// DefaultRewardRatio is the reward multiple ProtectiveLevels targets.
	DefaultRewardRatio = 2.0

	stopATRMultiple    = 1.5
	maxStopATRMultiple = 3.0
	levelBufferATR     = 0.25
)

// Levels are the entry and protective prices of a trade.
type Levels struct {
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	RiskReward float64
	Confidence float64
}

// NewLevels fills in the risk/reward ratio.
func NewLevels(entry, stop, takeProfit float64) Levels {
	return Levels{
		Entry:      entry,
		StopLoss:   stop,
		TakeProfit: takeProfit,
		RiskReward: RR(entry, stop, takeProfit),
	}
}

// Valid checks stop < entry < take profit for buys and the mirror for sells.
func (l Levels) Valid(side market.Side) error {
	switch side {
	case market.Buy:
		if !(l.StopLoss < l.Entry && l.Entry < l.TakeProfit) {
			return fmt.Errorf("buy levels must satisfy stop %.5f < entry %.5f < take profit %.5f", l.StopLoss, l.Entry, l.TakeProfit)
		}
	case market.Sell:
		if !(l.TakeProfit < l.Entry && l.Entry < l.StopLoss) {
			return fmt.Errorf("sell levels must satisfy take profit %.5f < entry %.5f < stop %.5f", l.TakeProfit, l.Entry, l.StopLoss)
		}
	default:
		return fmt.Errorf("unknown side %q", side)
	}
	return nil
}

// ProtectiveLevels places a stop 1.5 ATR from entry, pushed behind the
// nearest support (buys) or resistance (sells) when that level lies within
// 3 ATR, and a take profit at DefaultRewardRatio times the stop distance.
// Confidence rises when the trade agrees with the snapshot trend.
func ProtectiveLevels(side market.Side, entry float64, s technical.Snapshot) Levels {
	atr := s.ATR
	if atr <= 0 {
		atr = entry * 0.01
	}

	dist := stopATRMultiple * atr
	switch side {
	case market.Buy:
		if s.NearestSupport > 0 && s.NearestSupport < entry {
			if d := entry - s.NearestSupport + levelBufferATR*atr; d > dist && d <= maxStopATRMultiple*atr {
				dist = d
			}
		}
	case market.Sell:
		if s.NearestResistance > entry {
			if d := s.NearestResistance - entry + levelBufferATR*atr; d > dist && d <= maxStopATRMultiple*atr {
				dist = d
			}
		}
	}

	sign := side.Sign()
	l := NewLevels(entry, entry-sign*dist, entry+sign*dist*DefaultRewardRatio)

	l.Confidence = 0.5
	switch {
	case s.Trend == technical.Bullish && side == market.Buy, s.Trend == technical.Bearish && side == market.Sell:
		l.Confidence += 0.2
	case s.Trend == technical.Bullish && side == market.Sell, s.Trend == technical.Bearish && side == market.Buy:
		l.Confidence -= 0.2
	}
	l.Confidence = clamp(l.Confidence, 0, 1)
	return l
}
