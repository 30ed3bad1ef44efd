package risk

import (
	"fmt"

	"github.com/rustyeddy/riskengine/market"
)

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation

	PlannedRisk    float64
	PlannedRiskPct float64
	PlannedRR      float64
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Review checks a sized trade against policy before it is submitted.
func Review(p Policy, side market.Side, lv Levels, r Result, acct AccountSnapshot) Decision {
	d := Decision{Allowed: true}

	if err := lv.Valid(side); err != nil {
		d.add("BAD_LEVELS", err.Error())
		return d
	}
	if r.Size <= 0 {
		d.add("NO_UNITS", "size must be positive")
		return d
	}
	if r.Fallback {
		d.add("FALLBACK_SIZE", "sizing fell back to the conservative default")
	}

	equity := acct.Equity
	if equity <= 0 {
		equity = acct.Balance
	}

	d.PlannedRisk = PlannedRisk(r.Size, lv.Entry, lv.StopLoss, 1)
	d.PlannedRiskPct = RiskPct(d.PlannedRisk, equity)
	d.PlannedRR = RR(lv.Entry, lv.StopLoss, lv.TakeProfit)

	if d.PlannedRiskPct > p.MaxRiskPct {
		d.add("RISK_TOO_HIGH",
			fmt.Sprintf("planned risk %.2f%% exceeds max %.2f%%", 100*d.PlannedRiskPct, 100*p.MaxRiskPct))
	}
	if equity > 0 && r.Notional/equity > p.MaxNotionalPct+1e-9 {
		d.add("NOTIONAL_TOO_HIGH",
			fmt.Sprintf("notional %.2f%% exceeds max %.2f%%", 100*r.Notional/equity, 100*p.MaxNotionalPct))
	}
	if d.PlannedRR < p.MinRR {
		d.add("RR_TOO_LOW", fmt.Sprintf("RR %.2f below minimum %.2f", d.PlannedRR, p.MinRR))
	}
	if p.MaxOpenTrades > 0 && acct.OpenTrades >= p.MaxOpenTrades {
		d.add("TOO_MANY_OPEN_TRADES",
			fmt.Sprintf("open trades %d >= max %d", acct.OpenTrades, p.MaxOpenTrades))
	}
	if dayLimit := -p.MaxDailyLossPct * equity; p.MaxDailyLossPct > 0 && acct.DayRealized <= dayLimit {
		d.add("DAILY_LOSS_LIMIT", fmt.Sprintf("day realized %.2f <= limit %.2f", acct.DayRealized, dayLimit))
	}

	return d
}
