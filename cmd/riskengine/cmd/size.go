package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/risk"
	"github.com/rustyeddy/riskengine/technical"
)

var sizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Size a trade and review it against the risk policy",
	Long: `Compute a bounded position size from the risk budget and stop distance,
then run the pre-trade review.

Without --stop, protective levels are derived from the bar history given
with --bars (ATR and support/resistance).

Examples:
  riskengine size --symbol BTCUSD --side buy --balance 10000 --risk 2 --entry 100 --stop 99 --tp 103
  riskengine size --symbol EURUSD --side sell --balance 25000 --bars eurusd.csv --method professional`,
	RunE: runSize,
}

var sizeOpts struct {
	symbol     string
	side       string
	balance    float64
	risk       float64
	entry      float64
	stop       float64
	tp         float64
	maxSize    float64
	method     string
	bars       string
	confidence float64
	dayPL      float64
	minRR      float64
}

func init() {
	rootCmd.AddCommand(sizeCmd)

	f := sizeCmd.Flags()
	f.StringVar(&sizeOpts.symbol, "symbol", "", "instrument symbol (required)")
	f.StringVar(&sizeOpts.side, "side", "buy", "buy or sell")
	f.Float64Var(&sizeOpts.balance, "balance", 10000, "account balance")
	f.Float64Var(&sizeOpts.risk, "risk", 1, "risk per trade in percent (capped at 2)")
	f.Float64Var(&sizeOpts.entry, "entry", 0, "entry price (defaults to the last close of --bars)")
	f.Float64Var(&sizeOpts.stop, "stop", 0, "stop loss price")
	f.Float64Var(&sizeOpts.tp, "tp", 0, "take profit price")
	f.Float64Var(&sizeOpts.maxSize, "max-size", 0, "bot maximum position size")
	f.StringVar(&sizeOpts.method, "method", "baseline", "baseline or professional")
	f.StringVar(&sizeOpts.bars, "bars", "", "bar CSV used for the technical snapshot")
	f.Float64Var(&sizeOpts.confidence, "signal-confidence", 0.7, "signal confidence in [0,1] (professional)")
	f.Float64Var(&sizeOpts.dayPL, "day-pl", 0, "realized P/L so far today")
	f.Float64Var(&sizeOpts.minRR, "min-rr", 0, "minimum reward/risk (0 uses the policy default)")
	sizeCmd.MarkFlagRequired("symbol")
}

func runSize(cmd *cobra.Command, args []string) error {
	side, err := market.ParseSide(sizeOpts.side)
	if err != nil {
		return err
	}

	var snap *technical.Snapshot
	if sizeOpts.bars != "" {
		bars, err := loadBars(sizeOpts.bars)
		if err != nil {
			return fmt.Errorf("load bars: %w", err)
		}
		s := technical.Compute(bars)
		snap = &s
	}

	entry := sizeOpts.entry
	if entry <= 0 && snap != nil {
		entry = snap.Price
	}
	if entry <= 0 {
		return fmt.Errorf("need --entry or --bars")
	}

	lv := risk.NewLevels(entry, sizeOpts.stop, sizeOpts.tp)
	if sizeOpts.stop <= 0 {
		if snap == nil {
			return fmt.Errorf("need --stop or --bars")
		}
		lv = risk.ProtectiveLevels(side, entry, *snap)
	}

	sizer := risk.Baseline
	if sizeOpts.method == "professional" {
		sizer = risk.Professional
	}
	res := sizer(risk.Params{
		Symbol:           market.NormalizeSymbol(sizeOpts.symbol),
		Side:             side,
		Balance:          sizeOpts.balance,
		RiskPercent:      sizeOpts.risk,
		EntryPrice:       lv.Entry,
		StopLoss:         lv.StopLoss,
		TakeProfit:       lv.TakeProfit,
		MaxPositionSize:  sizeOpts.maxSize,
		Snapshot:         snap,
		SignalConfidence: sizeOpts.confidence,
	})

	pol := risk.DefaultPolicy()
	if sizeOpts.minRR > 0 {
		pol.MinRR = sizeOpts.minRR
	}
	dec := risk.Review(pol, side, lv, res, risk.AccountSnapshot{
		Balance:     sizeOpts.balance,
		Equity:      sizeOpts.balance,
		DayRealized: sizeOpts.dayPL,
	})

	printSizing(cmd.OutOrStdout(), side, lv, res, dec)
	if !dec.Allowed {
		return fmt.Errorf("trade rejected by review (%d violations)", len(dec.Violations))
	}
	return nil
}

func printSizing(w io.Writer, side market.Side, lv risk.Levels, r risk.Result, d risk.Decision) {
	fmt.Fprintf(w, "%s entry %.5f  stop %.5f  target %.5f  R/R %.2f\n",
		side, lv.Entry, lv.StopLoss, lv.TakeProfit, lv.RiskReward)
	fmt.Fprintf(w, "  Size:        %.6f\n", r.Size)
	fmt.Fprintf(w, "  Notional:    %.2f (%.2f%% of account)\n", r.Notional, r.PercentOfAccount)
	fmt.Fprintf(w, "  Risk budget: %.2f, at stop %.2f\n", r.RiskAmount, r.RiskAtStop)
	fmt.Fprintf(w, "  Confidence:  %.2f\n", r.Confidence)
	if f := r.Factors; f != nil {
		fmt.Fprintf(w, "  Factors:     signal %.2f  portfolio %.2f  market %.2f  drawdown %.2f  correlation %.2f\n",
			f.SignalQuality, f.PortfolioRisk, f.MarketCondition, f.Drawdown, f.Correlation)
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "  ! %s\n", warn)
	}

	if d.Allowed {
		fmt.Fprintf(w, "Review: allowed (risk %.2f%%)\n", d.PlannedRiskPct*100)
		return
	}
	fmt.Fprintln(w, "Review: rejected")
	for _, v := range d.Violations {
		fmt.Fprintf(w, "  %s: %s\n", v.Code, v.Msg)
	}
}
