package risk

import (
	"math"

	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/technical"
)

// MaxPortfolioRiskPercent is the committed portfolio risk at which the
// portfolio factor bottoms out.
const MaxPortfolioRiskPercent = 6.0

// Factors are the independently clamped multipliers the professional
// variant applies to the base risk percent.
type Factors struct {
	SignalQuality   float64 // 0.3 - 1.2
	PortfolioRisk   float64 // 0.2 - 1.0
	MarketCondition float64 // 0.6 - 1.1
	Drawdown        float64 // 0.3 - 1.0
	Correlation     float64 // 0.5 - 1.0
}

func (f Factors) Product() float64 {
	return f.SignalQuality * f.PortfolioRisk * f.MarketCondition * f.Drawdown * f.Correlation
}

func (f Factors) Mean() float64 {
	return (f.SignalQuality + f.PortfolioRisk + f.MarketCondition + f.Drawdown + f.Correlation) / 5
}

// unitCaps are absolute per-instrument position limits keyed by normalized
// symbol.
var unitCaps = map[string]float64{
	"BTCUSD":   0.5,
	"ETHUSD":   5,
	"SOLUSD":   50,
	"XRPUSD":   5000,
	"EURUSD":   100000,
	"GBPUSD":   100000,
	"AUDUSD":   100000,
	"USDJPY":   100000,
	"USDCAD":   100000,
	"USDCHF":   100000,
	"GOLD":     10,
	"SILVER":   500,
	"OILCRUDE": 100,
	"US500":    10,
	"US100":    5,
	"DE40":     5,
	"UK100":    10,
}

// DefaultUnitCap applies to instruments missing from the cap table.
const DefaultUnitCap = 1.0

// UnitCap returns the absolute unit limit for symbol.
func UnitCap(symbol string) float64 {
	if c, ok := unitCaps[market.NormalizeSymbol(symbol)]; ok {
		return c
	}
	return DefaultUnitCap
}

// Professional scales the base risk percent by five quality factors before
// applying the baseline clamps and the per-instrument unit cap.
func Professional(p Params) Result {
	entry, dist, err := p.check()
	if err != nil {
		return fallback(p, err)
	}

	f := factors(p, entry)
	riskPct := math.Min(math.Min(p.RiskPercent, MaxRiskPercent)*f.Product(), MaxRiskPercent)

	r := bounded(p, entry, dist, riskPct)
	if limit := UnitCap(p.Symbol); r.Size > limit {
		// the notional floor outranks the unit cap
		floor := math.Min(MinNotional/entry, p.Balance*MaxNotionalFraction/entry)
		if limit >= floor {
			r.Size = limit
			r.Warnings = append(r.Warnings, "size reduced to instrument unit cap")
		} else {
			r.Size = math.Max(floor, math.Min(r.Size, limit))
			r.Warnings = append(r.Warnings, "instrument unit cap is below the minimum viable notional; size held at the floor")
		}
	}

	r.Factors = &f
	r.Confidence = clamp(f.Mean()*p.SignalConfidence, 0.1, 1.0)
	return finish(p, r)
}

func factors(p Params, entry float64) Factors {
	return Factors{
		SignalQuality:   signalQuality(p, entry),
		PortfolioRisk:   clamp(1-p.PortfolioRiskPercent/MaxPortfolioRiskPercent, 0.2, 1.0),
		MarketCondition: marketCondition(p.Snapshot),
		Drawdown:        clamp(1-p.DrawdownPercent/25, 0.3, 1.0),
		Correlation:     clamp(1-0.1*float64(p.CorrelatedPositions), 0.5, 1.0),
	}
}

func signalQuality(p Params, entry float64) float64 {
	q := 0.5 + clamp(p.SignalConfidence, 0, 1)*0.5

	if rr := RR(entry, p.StopLoss, p.TakeProfit); rr > 0 {
		switch {
		case rr >= 3:
			q += 0.15
		case rr >= 2:
			q += 0.1
		case rr < 1.5:
			q -= 0.2
		}
	}
	if p.Snapshot != nil {
		switch {
		case p.Snapshot.TrendStrength >= 8:
			q += 0.1
		case p.Snapshot.TrendStrength <= 3:
			q -= 0.1
		}
	}
	return clamp(q, 0.3, 1.2)
}

func marketCondition(s *technical.Snapshot) float64 {
	if s == nil {
		return 1.0
	}
	m := 1.0
	if s.VolatilityRank == technical.HighVolatility {
		m = 0.7
		if s.Structure == technical.Sideways {
			m -= 0.1
		}
	}
	if s.Trend != technical.Neutral && s.TrendStrength >= 7 {
		m += 0.1
	}
	return clamp(m, 0.6, 1.1)
}
