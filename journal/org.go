package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/riskengine/bracket"
)

// FormatBracketOrg renders a bracket as an Org-mode block for a trading
// journal: facts in a PROPERTIES drawer, then empty Thesis/Execution/Review
// headings to fill in.
func FormatBracketOrg(br bracket.Bracket) string {
	c := br.Config
	heading := fmt.Sprintf("** Bracket: %s %s (%s) %s", c.Side, c.Symbol, shortID(br.ID), br.Status)

	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	b.WriteString(":PROPERTIES:\n")
	b.WriteString(fmt.Sprintf(":ID: %s\n", br.ID))
	b.WriteString(fmt.Sprintf(":BOT: %s\n", c.BotID))
	b.WriteString(fmt.Sprintf(":INSTRUMENT: %s\n", c.Symbol))
	b.WriteString(fmt.Sprintf(":SIDE: %s\n", c.Side))
	b.WriteString(fmt.Sprintf(":ENTRY_KIND: %s\n", c.EntryKind))
	b.WriteString(fmt.Sprintf(":SIZE: %g\n", c.Size))
	if c.EntryPrice > 0 {
		b.WriteString(fmt.Sprintf(":ENTRY_PRICE: %.5f\n", c.EntryPrice))
	}
	b.WriteString(fmt.Sprintf(":STOP_LOSS: %.5f\n", c.StopLoss))
	b.WriteString(fmt.Sprintf(":TAKE_PROFIT: %.5f\n", c.TakeProfit))
	if !br.FillTime.IsZero() {
		b.WriteString(fmt.Sprintf(":FILL_PRICE: %.5f\n", br.FillPrice))
		b.WriteString(fmt.Sprintf(":FILL_TIME: %s\n", br.FillTime.UTC().Format(time.RFC3339)))
	}
	b.WriteString(fmt.Sprintf(":STATUS: %s\n", br.Status))
	if br.Reason != "" {
		b.WriteString(fmt.Sprintf(":REASON: %s\n", br.Reason))
	}
	b.WriteString(fmt.Sprintf(":CREATED: %s\n", br.CreatedAt.UTC().Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf(":UPDATED: %s\n", br.UpdatedAt.UTC().Format(time.RFC3339)))
	b.WriteString(":END:\n")
	b.WriteString("\n")
	b.WriteString("*** Thesis\n- \n\n")
	b.WriteString("*** Execution\n- \n\n")
	b.WriteString("*** Review\n- \n")

	return b.String()
}

// FormatBracketsOrg renders multiple brackets separated by blank lines.
func FormatBracketsOrg(brackets []bracket.Bracket) string {
	var b strings.Builder
	for i, br := range brackets {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(FormatBracketOrg(br))
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
