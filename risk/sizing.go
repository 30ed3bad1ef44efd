package risk

import (
	"fmt"
	"math"

	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/technical"
)

const (
	// MaxRiskPercent caps the per-trade risk budget (percent of balance).
	MaxRiskPercent = 2.0
	// MaxNotionalFraction caps position notional as a fraction of balance.
	MaxNotionalFraction = 0.05
	// MinNotional is the smallest position worth opening, in account currency.
	MinNotional = 10.0
	// DefaultMaxPositionSize applies when the bot has no configured maximum.
	DefaultMaxPositionSize = 1000.0

	FallbackSize       = 0.01
	FallbackConfidence = 0.3
)

// Params describes a proposed trade for sizing. RiskPercent is in percent
// (2 means 2%).
type Params struct {
	Symbol          string
	Side            market.Side
	Balance         float64
	RiskPercent     float64
	EntryPrice      float64 // 0 means use CurrentPrice
	CurrentPrice    float64
	StopLoss        float64
	TakeProfit      float64
	MaxPositionSize float64 // 0 means DefaultMaxPositionSize
	Snapshot        *technical.Snapshot

	// Inputs used by the professional variant only.
	SignalConfidence     float64 // [0,1]
	PortfolioRiskPercent float64 // risk already committed across open positions
	DrawdownPercent      float64
	CorrelatedPositions  int
}

// Result is a bounded position size.
type Result struct {
	Size             float64
	Notional         float64
	PercentOfAccount float64
	RiskAmount       float64 // risk budget in account currency
	RiskAtStop       float64 // loss if the stop is hit at Size
	Confidence       float64
	Fallback         bool
	Warnings         []string
	Factors          *Factors
}

// Sizer is implemented by Baseline and Professional.
type Sizer func(Params) Result

func (p Params) entry() float64 {
	if p.EntryPrice > 0 {
		return p.EntryPrice
	}
	return p.CurrentPrice
}

func (p Params) check() (entry, stopDistance float64, err error) {
	entry = p.entry()
	switch {
	case !finite(p.Balance, entry, p.StopLoss, p.RiskPercent):
		return 0, 0, fmt.Errorf("non-finite input")
	case p.Balance <= 0:
		return 0, 0, fmt.Errorf("balance must be positive")
	case entry <= 0:
		return 0, 0, fmt.Errorf("entry price missing")
	case p.StopLoss <= 0:
		return 0, 0, fmt.Errorf("stop loss missing")
	case p.RiskPercent <= 0:
		return 0, 0, fmt.Errorf("risk percent must be positive")
	}
	stopDistance = abs(p.StopLoss - entry)
	if stopDistance == 0 {
		return 0, 0, fmt.Errorf("zero stop distance")
	}
	return entry, stopDistance, nil
}

// Baseline sizes a trade from a risk budget of at most 2% of balance, then
// applies the 5% notional cap, the bot maximum and the $10 floor in that
// order. It never fails; bad input yields a fallback result.
func Baseline(p Params) Result {
	entry, dist, err := p.check()
	if err != nil {
		return fallback(p, err)
	}

	riskPct := math.Min(p.RiskPercent, MaxRiskPercent)
	r := bounded(p, entry, dist, riskPct)
	r.Confidence = baselineConfidence(p, entry)
	return finish(p, r)
}

// bounded computes the risk-based size and applies the shared clamps.
func bounded(p Params, entry, dist, riskPct float64) Result {
	r := Result{RiskAmount: p.Balance * riskPct / 100}
	size := r.RiskAmount / dist

	capSize := p.Balance * MaxNotionalFraction / entry
	if size > capSize {
		size = capSize
		r.Warnings = append(r.Warnings, "size reduced to 5% of account notional cap")
	}

	maxSize := p.MaxPositionSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPositionSize
	}
	if size > maxSize {
		size = maxSize
		r.Warnings = append(r.Warnings, fmt.Sprintf("size reduced to bot maximum %.4f", maxSize))
	}

	if minSize := MinNotional / entry; size < minSize {
		size = math.Min(minSize, capSize)
		r.Warnings = append(r.Warnings, "size raised to minimum viable notional")
	}

	r.Size = size
	return r
}

func finish(p Params, r Result) Result {
	entry := p.entry()
	r.Notional = r.Size * entry
	r.PercentOfAccount = r.Notional / p.Balance * 100
	r.RiskAtStop = r.Size * abs(entry-p.StopLoss)

	if !finite(r.Size, r.Notional, r.PercentOfAccount, r.Confidence) || r.Size <= 0 {
		return fallback(p, fmt.Errorf("computed size is not usable"))
	}
	return r
}

func baselineConfidence(p Params, entry float64) float64 {
	c := 0.7
	if p.Snapshot != nil {
		switch {
		case p.Snapshot.TrendStrength >= 7:
			c += 0.1
		case p.Snapshot.TrendStrength <= 3:
			c -= 0.1
		}
	}
	if rr := RR(entry, p.StopLoss, p.TakeProfit); rr > 0 {
		switch {
		case rr >= 2:
			c += 0.1
		case rr < 1:
			c -= 0.2
		}
	}
	return clamp(c, 0.3, 1.0)
}

// fallback is the ultra conservative answer for inputs that cannot be
// sized.
func fallback(p Params, cause error) Result {
	r := Result{
		Size:       FallbackSize,
		Confidence: FallbackConfidence,
		Fallback:   true,
		Warnings: []string{
			fmt.Sprintf("position sizing failed (%v); using minimal conservative size", cause),
		},
	}

	entry := p.entry()
	if entry > 0 && p.Balance > 0 && finite(entry, p.Balance) {
		r.Size = math.Min(FallbackSize, p.Balance*MaxNotionalFraction/entry)
		r.Notional = r.Size * entry
		r.PercentOfAccount = r.Notional / p.Balance * 100
	}
	return r
}

// PipSize returns the price increment for a pip location (-4 is 0.0001).
func PipSize(loc int) float64 {
	return math.Pow(10, float64(loc))
}
