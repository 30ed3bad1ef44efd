package risk

// Policy holds the pre-trade limits Review enforces. Percent fields are
// fractions (0.02 means 2%).
type Policy struct {
	MaxRiskPct      float64
	MaxNotionalPct  float64
	MinRR           float64
	MaxOpenTrades   int
	MaxDailyLossPct float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRiskPct:      MaxRiskPercent / 100,
		MaxNotionalPct:  MaxNotionalFraction,
		MinRR:           1.5,
		MaxOpenTrades:   10,
		MaxDailyLossPct: 0.03,
	}
}

type AccountSnapshot struct {
	Balance     float64
	Equity      float64
	OpenTrades  int
	DayRealized float64 // realized P/L for the day in account currency
}
