package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskengine/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the order and bracket journal",
	Long: `Query order and bracket records from the SQLite journal.

Subcommands:
  open     - List open orders and brackets
  bracket  - Show one bracket as an Org-mode entry
  today    - Brackets updated today
  day      - Brackets updated on a specific day

Examples:
  riskengine journal open
  riskengine journal bracket brk_01HZX9...
  riskengine journal day 2025-02-03`,
}

var journalOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "List open orders and brackets",
	Args:  cobra.NoArgs,
	RunE:  runJournalOpen,
}

var journalBracketCmd = &cobra.Command{
	Use:   "bracket <bracket-id>",
	Short: "Show a bracket",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalBracket,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List brackets updated today",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return journalDay(cmd, time.Now().In(time.Local).Format("2006-01-02"))
	},
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List brackets updated on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return journalDay(cmd, args[0])
	},
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalOpenCmd)
	journalCmd.AddCommand(journalBracketCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./riskengine.db", "path to SQLite journal DB")
}

func runJournalOpen(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	pending, err := j.OpenOrders()
	if err != nil {
		return fmt.Errorf("query orders: %w", err)
	}
	bs, err := j.OpenBrackets()
	if err != nil {
		return fmt.Errorf("query brackets: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Pending orders: %d\n", len(pending))
	for _, o := range pending {
		fmt.Fprintf(out, "  %s  %-8s %-4s %-5s %g @ %g  broker %s\n",
			o.ID, o.Symbol, o.Side, o.Kind, o.Size, o.Price, o.BrokerOrderID)
	}
	fmt.Fprintf(out, "Open brackets: %d\n", len(bs))
	for _, b := range bs {
		fmt.Fprintf(out, "  %s  %-8s %-4s %-12s sl %g tp %g\n",
			b.ID, b.Config.Symbol, b.Config.Side, b.Status, b.Config.StopLoss, b.Config.TakeProfit)
	}
	return nil
}

func runJournalBracket(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	b, err := j.GetBracket(args[0])
	if err != nil {
		return fmt.Errorf("get bracket: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatBracketOrg(b))
	return nil
}

func journalDay(cmd *cobra.Command, day string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	recs, err := j.ListBracketsUpdatedBetween(start, end)
	if err != nil {
		return fmt.Errorf("query brackets: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatBracketsOrg(recs))
	return nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start, end, nil
}
