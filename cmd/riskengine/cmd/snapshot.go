package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/technical"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Compute a technical snapshot from a bar CSV",
	Long: `Read time,open,high,low,close[,volume] rows and print the technical
snapshot: ATR, volatility, trend, support/resistance and key levels.

Example:
  riskengine snapshot --bars btcusd-1h.csv`,
	RunE: runSnapshot,
}

var snapshotBars string

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().StringVarP(&snapshotBars, "bars", "b", "", "bar CSV file (required)")
	snapshotCmd.MarkFlagRequired("bars")
}

func loadBars(path string) ([]market.Candle, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return market.ReadCandlesCSV(fh)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	bars, err := loadBars(snapshotBars)
	if err != nil {
		return fmt.Errorf("load bars: %w", err)
	}
	printSnapshot(cmd.OutOrStdout(), len(bars), technical.Compute(bars))
	return nil
}

func printSnapshot(w io.Writer, n int, s technical.Snapshot) {
	fmt.Fprintf(w, "Bars: %d", n)
	if s.Fallback {
		fmt.Fprintf(w, " (fewer than %d, fallback analysis)", technical.MinBars)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Price:       %.5f\n", s.Price)
	fmt.Fprintf(w, "  ATR:         %.5f\n", s.ATR)
	fmt.Fprintf(w, "  Volatility:  %.5f (%s)\n", s.Volatility, s.VolatilityRank)
	fmt.Fprintf(w, "  Trend:       %s (strength %d)\n", s.Trend, s.TrendStrength)
	fmt.Fprintf(w, "  Momentum:    %.2f%%\n", s.Momentum)
	fmt.Fprintf(w, "  Structure:   %s\n", s.Structure)
	fmt.Fprintf(w, "  Support:     %.5f (tests %d)\n", s.Support, s.SupportStrength)
	fmt.Fprintf(w, "  Resistance:  %.5f (tests %d)\n", s.Resistance, s.ResistanceStrength)
	fmt.Fprintf(w, "  Nearest:     %.5f / %.5f, pivot %.5f\n", s.NearestSupport, s.NearestResistance, s.Pivot)
	fmt.Fprintf(w, "  Swings:      %d highs, %d lows\n", len(s.SwingHighs), len(s.SwingLows))
}
