package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskengine/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "riskengine",
	Short: "Trade risk and order lifecycle engine",
	Long: `Riskengine sizes trades, validates them against broker limits and
manages bracket orders (entry, stop loss, take profit) through to completion.

It provides tools for:
  - Technical snapshots from price history
  - Risk-bounded position sizing with a pre-trade review
  - Broker limit validation with learned limits
  - A simulated end to end bracket lifecycle
  - A live reconciliation loop against Capital.com

Complete documentation is available at https://github.com/rustyeddy/riskengine`,
	SilenceUsage: true,
}

var (
	logLevel  string
	logFormat string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
}

func cliLogger() *slog.Logger {
	return logging.NewLogger(logLevel, logFormat)
}
