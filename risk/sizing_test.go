package risk

import (
	"math"
	"math/rand"
	"testing"

	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/technical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		loc  int
		want float64
	}{
		{"zero", 0, 1},
		{"negative2", -2, 0.01},
		{"positive1", 1, 10},
		{"negative4", -4, 0.0001},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, PipSize(tt.loc), 1e-12)
		})
	}
}

func TestBaselineCapsAtFivePercentNotional(t *testing.T) {
	t.Parallel()

	r := Baseline(Params{
		Side:        market.Buy,
		Balance:     10000,
		RiskPercent: 2,
		EntryPrice:  100,
		StopLoss:    99,
	})

	require.False(t, r.Fallback)
	assert.InDelta(t, 200.0, r.RiskAmount, 1e-9)
	assert.InDelta(t, 5.0, r.Size, 1e-9)
	assert.InDelta(t, 500.0, r.Notional, 1e-9)
	assert.InDelta(t, 5.0, r.PercentOfAccount, 1e-9)
	assert.InDelta(t, 5.0, r.RiskAtStop, 1e-9)
}

func TestBaselineClampsRiskPercent(t *testing.T) {
	t.Parallel()

	r := Baseline(Params{Balance: 10000, RiskPercent: 10, EntryPrice: 100, StopLoss: 50})
	assert.InDelta(t, 200.0, r.RiskAmount, 1e-9)
	// 200 / 50 = 4 units, $400 notional, under the cap.
	assert.InDelta(t, 4.0, r.Size, 1e-9)
}

func TestBaselineUsesCurrentPriceWhenEntryMissing(t *testing.T) {
	t.Parallel()

	r := Baseline(Params{Balance: 10000, RiskPercent: 1, CurrentPrice: 100, StopLoss: 50})
	require.False(t, r.Fallback)
	assert.InDelta(t, 2.0, r.Size, 1e-9)
}

func TestBaselineBotMaximum(t *testing.T) {
	t.Parallel()

	r := Baseline(Params{Balance: 1e6, RiskPercent: 2, EntryPrice: 1, StopLoss: 0.99, MaxPositionSize: 1000})
	assert.InDelta(t, 1000.0, r.Size, 1e-9)

	r = Baseline(Params{Balance: 1e7, RiskPercent: 2, EntryPrice: 1, StopLoss: 0.99})
	assert.InDelta(t, DefaultMaxPositionSize, r.Size, 1e-9)
}

func TestBaselineMinimumNotionalFloor(t *testing.T) {
	t.Parallel()

	r := Baseline(Params{Balance: 10000, RiskPercent: 0.01, EntryPrice: 100, StopLoss: 50})
	assert.InDelta(t, 0.1, r.Size, 1e-9)
	assert.InDelta(t, 10.0, r.Notional, 1e-9)
}

func TestBaselineCapBeatsFloor(t *testing.T) {
	t.Parallel()

	// 5% of $100 is $5, below the $10 floor: the cap wins.
	r := Baseline(Params{Balance: 100, RiskPercent: 2, EntryPrice: 100, StopLoss: 90})
	assert.InDelta(t, 5.0, r.Notional, 1e-9)
}

func TestBaselineFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    Params
	}{
		{"zero stop distance", Params{Balance: 10000, RiskPercent: 1, EntryPrice: 100, StopLoss: 100}},
		{"missing stop", Params{Balance: 10000, RiskPercent: 1, EntryPrice: 100}},
		{"missing prices", Params{Balance: 10000, RiskPercent: 1, StopLoss: 90}},
		{"no balance", Params{RiskPercent: 1, EntryPrice: 100, StopLoss: 90}},
		{"nan", Params{Balance: math.NaN(), RiskPercent: 1, EntryPrice: 100, StopLoss: 90}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			for _, size := range []Sizer{Baseline, Professional} {
				r := size(tt.p)
				assert.True(t, r.Fallback)
				assert.Equal(t, FallbackConfidence, r.Confidence)
				assert.LessOrEqual(t, r.Size, FallbackSize)
				require.NotEmpty(t, r.Warnings)
				assert.Contains(t, r.Warnings[0], "position sizing failed")
			}
		})
	}
}

func TestBaselineConfidence(t *testing.T) {
	t.Parallel()

	strong := &technical.Snapshot{TrendStrength: 8}
	weak := &technical.Snapshot{TrendStrength: 2}

	r := Baseline(Params{Balance: 10000, RiskPercent: 1, EntryPrice: 100, StopLoss: 95, TakeProfit: 115, Snapshot: strong})
	assert.InDelta(t, 0.9, r.Confidence, 1e-9)

	r = Baseline(Params{Balance: 10000, RiskPercent: 1, EntryPrice: 100, StopLoss: 95, TakeProfit: 102, Snapshot: weak})
	assert.InDelta(t, 0.4, r.Confidence, 1e-9)

	r = Baseline(Params{Balance: 10000, RiskPercent: 1, EntryPrice: 100, StopLoss: 95})
	assert.InDelta(t, 0.7, r.Confidence, 1e-9)
}

func TestSizingInvariants(t *testing.T) {
	t.Parallel()

	trending := &technical.Snapshot{Trend: technical.Bullish, TrendStrength: 9, VolatilityRank: technical.LowVolatility}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		balance := 50 + rng.Float64()*1e6
		entry := 0.01 + rng.Float64()*60000
		stop := entry * (1 - (0.0001 + rng.Float64()*0.5))
		p := Params{
			Symbol:           "XYZ",
			Balance:          balance,
			RiskPercent:      0.1 + rng.Float64()*5,
			EntryPrice:       entry,
			StopLoss:         stop,
			TakeProfit:       entry + (entry-stop)*2,
			MaxPositionSize:  rng.Float64() * 5000,
			SignalConfidence: rng.Float64(),
		}
		if i%2 == 0 {
			p.Snapshot = trending
		}

		capNotional := MaxNotionalFraction * balance
		for _, size := range []Sizer{Baseline, Professional} {
			r := size(p)
			require.False(t, r.Fallback, "case %d", i)
			assert.LessOrEqual(t, r.Notional, capNotional+1e-6, "case %d", i)
			assert.LessOrEqual(t, r.RiskAmount, balance*MaxRiskPercent/100+1e-6, "case %d", i)
			if capNotional >= MinNotional {
				assert.GreaterOrEqual(t, r.Notional, MinNotional-1e-6, "case %d", i)
			}
		}
	}
}

func TestProfessionalFactorsScaleRisk(t *testing.T) {
	t.Parallel()

	r := Professional(Params{
		Symbol:           "BTCUSD",
		Balance:          100000,
		RiskPercent:      2,
		EntryPrice:       50000,
		StopLoss:         49000,
		TakeProfit:       53000,
		SignalConfidence: 1,
	})

	require.NotNil(t, r.Factors)
	assert.InDelta(t, 1.15, r.Factors.SignalQuality, 1e-9)
	assert.InDelta(t, 1.15, r.Factors.Product(), 1e-9)
	// 2% scaled to 2.3% is held at the 2% ceiling.
	assert.InDelta(t, 2000.0, r.RiskAmount, 1e-9)
	// 2 units by risk, capped at $5000 notional.
	assert.InDelta(t, 0.1, r.Size, 1e-9)
	assert.Equal(t, 1.0, r.Confidence)
}

func TestProfessionalUnitCap(t *testing.T) {
	t.Parallel()

	r := Professional(Params{
		Symbol:           "XYZ",
		Balance:          1e6,
		RiskPercent:      2,
		EntryPrice:       10,
		StopLoss:         9,
		SignalConfidence: 0.5,
	})
	assert.InDelta(t, DefaultUnitCap, r.Size, 1e-9)
	assert.Equal(t, 100000.0, UnitCap("eur_usd"))
}

func TestProfessionalUnitCapKeepsFloor(t *testing.T) {
	t.Parallel()

	// one unit at $5 is under the $10 floor while the 5% cap is $500
	r := Professional(Params{
		Symbol:      "XYZ",
		Balance:     10000,
		RiskPercent: 2,
		EntryPrice:  5,
		StopLoss:    4.5,
	})
	require.False(t, r.Fallback)
	assert.InDelta(t, 2.0, r.Size, 1e-9)
	assert.InDelta(t, MinNotional, r.Notional, 1e-9)
	assert.Contains(t, r.Warnings[len(r.Warnings)-1], "held at the floor")

	// when the 5% cap is itself under $10 the cap wins
	r = Professional(Params{
		Symbol:      "XYZ",
		Balance:     100,
		RiskPercent: 2,
		EntryPrice:  5,
		StopLoss:    4.5,
	})
	assert.InDelta(t, 1.0, r.Size, 1e-9)
	assert.InDelta(t, 5.0, r.Notional, 1e-9)
}

func TestProfessionalFactorClamps(t *testing.T) {
	t.Parallel()

	snap := &technical.Snapshot{
		TrendStrength:  2,
		Trend:          technical.Neutral,
		VolatilityRank: technical.HighVolatility,
		Structure:      technical.Sideways,
	}
	f := factors(Params{
		EntryPrice:           100,
		StopLoss:             90,
		TakeProfit:           105,
		Snapshot:             snap,
		PortfolioRiskPercent: 10,
		DrawdownPercent:      50,
		CorrelatedPositions:  10,
	}, 100)

	assert.InDelta(t, 0.3, f.SignalQuality, 1e-9)
	assert.InDelta(t, 0.2, f.PortfolioRisk, 1e-9)
	assert.InDelta(t, 0.6, f.MarketCondition, 1e-9)
	assert.InDelta(t, 0.3, f.Drawdown, 1e-9)
	assert.InDelta(t, 0.5, f.Correlation, 1e-9)

	trending := &technical.Snapshot{Trend: technical.Bullish, TrendStrength: 9, VolatilityRank: technical.LowVolatility}
	assert.InDelta(t, 1.1, marketCondition(trending), 1e-9)
	assert.InDelta(t, 1.0, marketCondition(nil), 1e-9)
}

func TestProfessionalConfidence(t *testing.T) {
	t.Parallel()

	r := Professional(Params{Symbol: "XYZ", Balance: 10000, RiskPercent: 1, EntryPrice: 10, StopLoss: 9, SignalConfidence: 0.5})
	require.NotNil(t, r.Factors)
	assert.InDelta(t, r.Factors.Mean()*0.5, r.Confidence, 1e-9)

	r = Professional(Params{Symbol: "XYZ", Balance: 10000, RiskPercent: 1, EntryPrice: 10, StopLoss: 9})
	assert.InDelta(t, 0.1, r.Confidence, 1e-9)
}
