package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/limits"
	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/sim"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check an order against broker limits",
	Long: `Validate size, stop loss and take profit against the instrument's limits,
clamping correctable values. Limits are the asset class defaults unless
rejections are replayed with --learn.

Example:
  riskengine validate --symbol BTCUSD --side sell --size 1 --entry 100 --sl 110 \
      --learn "error.invalid.stoploss.maxvalue: 105"`,
	RunE: runValidate,
}

var validateOpts struct {
	symbol string
	side   string
	size   float64
	entry  float64
	sl     float64
	tp     float64
	learn  []string
}

func init() {
	rootCmd.AddCommand(validateCmd)

	f := validateCmd.Flags()
	f.StringVar(&validateOpts.symbol, "symbol", "", "instrument symbol (required)")
	f.StringVar(&validateOpts.side, "side", "buy", "buy or sell")
	f.Float64Var(&validateOpts.size, "size", 1, "order size")
	f.Float64Var(&validateOpts.entry, "entry", 0, "entry price (required)")
	f.Float64Var(&validateOpts.sl, "sl", 0, "stop loss price")
	f.Float64Var(&validateOpts.tp, "tp", 0, "take profit price")
	f.StringArrayVar(&validateOpts.learn, "learn", nil, "broker rejection message to learn limits from (repeatable)")
	validateCmd.MarkFlagRequired("symbol")
	validateCmd.MarkFlagRequired("entry")
}

func runValidate(cmd *cobra.Command, args []string) error {
	side, err := market.ParseSide(validateOpts.side)
	if err != nil {
		return err
	}
	symbol := market.NormalizeSymbol(validateOpts.symbol)

	eng := sim.NewEngine(broker.Account{Balance: 1})
	if err := eng.UpdatePrice(market.Tick{Instrument: symbol, Bid: validateOpts.entry, Ask: validateOpts.entry, Time: time.Now()}); err != nil {
		return err
	}
	v := limits.NewValidator(eng, limits.WithLogger(cliLogger()))

	for _, msg := range validateOpts.learn {
		if !v.LearnFromRejection(symbol, errors.New(msg)) {
			return fmt.Errorf("not a limit rejection: %q", msg)
		}
	}

	res := v.Validate(cmd.Context(), limits.Order{
		Instrument: symbol,
		Side:       side,
		Size:       validateOpts.size,
		EntryPrice: validateOpts.entry,
		StopLoss:   validateOpts.sl,
		TakeProfit: validateOpts.tp,
	})
	printValidation(cmd.OutOrStdout(), res)
	if !res.IsValid {
		return fmt.Errorf("order is not valid for %s", symbol)
	}
	return nil
}

func printValidation(w io.Writer, r limits.Result) {
	l := r.Limits
	fmt.Fprintf(w, "Limits for %s (%s):\n", l.Instrument, l.Source)
	fmt.Fprintf(w, "  Size:        %g - %g\n", l.MinSize, l.MaxSize)
	fmt.Fprintf(w, "  Stop dist:   %g - %g\n", l.MinStopDistance, l.MaxStopDistance)
	fmt.Fprintf(w, "  Target dist: %g - %g\n", l.MinTakeProfitDistance, l.MaxTakeProfitDistance)
	if !l.StopLoss.IsZero() {
		fmt.Fprintf(w, "  Stop level:  %g - %g (learned)\n", l.StopLoss.Min, l.StopLoss.Max)
	}
	if !l.TakeProfit.IsZero() {
		fmt.Fprintf(w, "  Target lvl:  %g - %g (learned)\n", l.TakeProfit.Min, l.TakeProfit.Max)
	}

	o := r.Order
	fmt.Fprintf(w, "Order: %s %g @ %g  sl %g  tp %g\n", o.Side, o.Size, o.EntryPrice, o.StopLoss, o.TakeProfit)
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "  ~ %s\n", warn)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  x %s\n", e)
	}
	if r.IsValid {
		fmt.Fprintln(w, "Valid")
	}
}
