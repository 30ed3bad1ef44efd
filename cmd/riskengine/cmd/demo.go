package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskengine/bracket"
	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/journal"
	"github.com/rustyeddy/riskengine/limits"
	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/orders"
	"github.com/rustyeddy/riskengine/risk"
	"github.com/rustyeddy/riskengine/sim"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a simulated bracket lifecycle",
	Long: `Walk a bracket order through its whole life against the simulated broker.

Shows the workflow of:
  1. Sizing a trade from the risk budget and stop distance
  2. Validating it against the broker's dealing rules
  3. Placing a limit entry and filling it as the price drops
  4. Attaching the stop loss and take profit
  5. Completing on the take profit and cancelling the stop
  6. Learning a limit from a rejected stop and retrying

Orders and brackets are journaled to SQLite and CSV in --dir.`,
	RunE: runDemo,
}

var demoDir string

const demoSymbol = "BTCUSD"

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().StringVar(&demoDir, "dir", "", "journal directory (default: a new temp dir)")
}

type demo struct {
	out    io.Writer
	eng    *sim.Engine
	mon    *orders.Monitor
	mgr    *bracket.Manager
	val    *limits.Validator
	events <-chan bracket.Event
}

func runDemo(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	out := cmd.OutOrStdout()
	log := cliLogger()

	dir := demoDir
	if dir == "" {
		d, err := os.MkdirTemp("", "riskengine-demo-")
		if err != nil {
			return err
		}
		dir = d
	}
	db, err := journal.NewSQLite(filepath.Join(dir, "demo.db"))
	if err != nil {
		return err
	}
	cj, err := journal.NewCSV(filepath.Join(dir, "orders.csv"), filepath.Join(dir, "brackets.csv"))
	if err != nil {
		db.Close()
		return err
	}
	j := journal.Tee(db, cj)
	defer j.Close()

	eng := sim.NewEngine(broker.Account{ID: "DEMO-001", Currency: "USD", Balance: 10_000})
	eng.SetRules(broker.Rules{
		Instrument:        demoSymbol,
		MinSize:           0.001,
		MaxSize:           50,
		MinStopDistance:   0.5,
		MaxStopDistance:   30,
		MinProfitDistance: 0.5,
		MaxProfitDistance: 30,
		DecimalPlaces:     2,
	})
	b := broker.NewGuard(eng, broker.WithLogger(log))

	d := &demo{out: out, eng: eng}
	d.mon = orders.NewMonitor(b, orders.WithRecorder(j), orders.WithLogger(log))
	d.val = limits.NewValidator(b, limits.WithLogger(log))
	d.mgr = bracket.NewManager(d.mon,
		bracket.WithQuotes(b),
		bracket.WithLearner(d.val),
		bracket.WithRecorder(j),
		bracket.WithLogger(log),
	)
	defer d.mon.Close()
	defer d.mgr.Close()

	events, unsub := d.mgr.Subscribe()
	defer unsub()
	d.events = events
	go d.mgr.Run(ctx)

	fmt.Fprintln(out, "=== Bracket Lifecycle Demo ===")
	fmt.Fprintln(out)
	if err := d.price(ctx, 99.5, 100.5); err != nil {
		return err
	}

	if err := d.limitEntry(ctx); err != nil {
		return err
	}
	if err := d.learnAndRetry(ctx); err != nil {
		return err
	}

	acct, _ := b.GetAccount(ctx)
	s := d.mgr.Stats()
	fmt.Fprintln(out, "\nFinal Results:")
	fmt.Fprintf(out, "  Balance: $%.2f  Equity: $%.2f\n", acct.Balance, acct.Equity)
	fmt.Fprintf(out, "  Brackets: %d (%v)\n", s.Total, s.ByStatus)
	fmt.Fprintf(out, "\nJournal written to %s\n", dir)
	return nil
}

func (d *demo) price(ctx context.Context, bid, ask float64) error {
	fmt.Fprintf(d.out, "Price  bid %.2f  ask %.2f\n", bid, ask)
	if err := d.eng.UpdatePrice(market.Tick{Instrument: demoSymbol, Bid: bid, Ask: ask, Time: time.Now()}); err != nil {
		return err
	}
	d.mon.Poll(ctx)
	return nil
}

// wait prints bracket events until one of type t arrives for bracketID.
func (d *demo) wait(bracketID string, t bracket.EventType) (bracket.Bracket, error) {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-d.events:
			b := ev.Bracket
			fmt.Fprintf(d.out, "  [%s] %s %s", ev.Type, b.ID, b.Status)
			if b.Reason != "" {
				fmt.Fprintf(d.out, " (%s)", b.Reason)
			}
			fmt.Fprintln(d.out)
			if b.ID == bracketID && ev.Type == t {
				return b, nil
			}
		case <-timeout:
			return bracket.Bracket{}, fmt.Errorf("bracket %s: no %s event", bracketID, t)
		}
	}
}

func (d *demo) limitEntry(ctx context.Context) error {
	fmt.Fprintln(d.out, "\n--- Limit entry: buy the dip ---")

	lv := risk.NewLevels(98, 95, 110)
	size := risk.Baseline(risk.Params{
		Symbol:      demoSymbol,
		Side:        market.Buy,
		Balance:     10_000,
		RiskPercent: 1,
		EntryPrice:  lv.Entry,
		StopLoss:    lv.StopLoss,
		TakeProfit:  lv.TakeProfit,
	})
	printSizing(d.out, market.Buy, lv, size, risk.Review(risk.DefaultPolicy(), market.Buy, lv, size,
		risk.AccountSnapshot{Balance: 10_000, Equity: 10_000}))

	res := d.val.Validate(ctx, limits.Order{
		Instrument: demoSymbol, Side: market.Buy, Size: size.Size,
		EntryPrice: lv.Entry, StopLoss: lv.StopLoss, TakeProfit: lv.TakeProfit,
	})
	printValidation(d.out, res)
	if !res.IsValid {
		return fmt.Errorf("demo order failed validation")
	}

	id, err := d.mgr.Create(ctx, bracket.Config{
		BotID:      "demo",
		Symbol:     demoSymbol,
		Side:       market.Buy,
		EntryKind:  broker.Limit,
		Size:       res.Order.Size,
		EntryPrice: res.Order.EntryPrice,
		StopLoss:   res.Order.StopLoss,
		TakeProfit: res.Order.TakeProfit,
	})
	if err != nil {
		return err
	}
	if _, err := d.wait(id, bracket.BracketCreated); err != nil {
		return err
	}

	if err := d.price(ctx, 97.6, 97.8); err != nil {
		return err
	}
	if _, err := d.wait(id, bracket.BracketEntryFilled); err != nil {
		return err
	}
	if err := d.price(ctx, 104.0, 104.2); err != nil {
		return err
	}
	if err := d.price(ctx, 110.2, 110.4); err != nil {
		return err
	}
	_, err = d.wait(id, bracket.BracketCompleted)
	return err
}

func (d *demo) learnAndRetry(ctx context.Context) error {
	fmt.Fprintln(d.out, "\n--- Market entry: stop rejected, limit learned, retried ---")

	cfg := bracket.Config{
		BotID:      "demo",
		Symbol:     demoSymbol,
		Side:       market.Sell,
		EntryKind:  broker.Market,
		Size:       1,
		StopLoss:   125,
		TakeProfit: 100,
	}
	d.eng.RejectNext("error.invalid.stoploss.maxvalue: 120")
	id, err := d.mgr.Create(ctx, cfg)
	if err == nil {
		return fmt.Errorf("expected the stop loss to be rejected")
	}
	fmt.Fprintf(d.out, "  create failed: %v\n", err)
	if _, err := d.wait(id, bracket.BracketFailed); err != nil {
		return err
	}

	// refresh the quote; the learned bound survives
	d.val.Invalidate(demoSymbol)
	res := d.val.Validate(ctx, limits.Order{
		Instrument: demoSymbol, Side: cfg.Side, Size: cfg.Size,
		StopLoss: cfg.StopLoss, TakeProfit: cfg.TakeProfit,
	})
	printValidation(d.out, res)
	if !res.IsValid {
		return fmt.Errorf("retry failed validation")
	}
	cfg.StopLoss = res.Order.StopLoss
	cfg.TakeProfit = res.Order.TakeProfit

	id, err = d.mgr.Create(ctx, cfg)
	if err != nil {
		return err
	}
	if _, err := d.wait(id, bracket.BracketEntryFilled); err != nil {
		return err
	}

	d.mgr.Cancel(ctx, id, "demo finished")
	_, err = d.wait(id, bracket.BracketCancelled)
	return err
}
