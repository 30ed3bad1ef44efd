package risk

import "math"

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// PlannedRisk is the account-currency loss if the stop is hit.
func PlannedRisk(units, entry, stop, quoteToAccountRate float64) float64 {
	return units * abs(entry-stop) * quoteToAccountRate
}

// RR is reward distance over risk distance. It is 0 when either level is
// missing or the stop distance is zero.
func RR(entry, stop, takeProfit float64) float64 {
	if stop == 0 || takeProfit == 0 {
		return 0
	}
	risk := abs(entry - stop)
	reward := abs(takeProfit - entry)
	if risk == 0 {
		return 0
	}
	return reward / risk
}

func RiskPct(plannedRisk, equity float64) float64 {
	if equity <= 0 {
		return math.Inf(1)
	}
	return plannedRisk / equity
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
