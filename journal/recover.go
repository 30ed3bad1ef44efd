package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/riskengine/bracket"
	"github.com/rustyeddy/riskengine/orders"
)

// Recovery counts what Recover loaded and replayed.
type Recovery struct {
	Orders   int
	Brackets int
	Replayed int
}

// Recover loads the open orders and brackets into a fresh monitor and
// manager. A child order the journal saw finish while its bracket was still
// waiting on it has that event handed to the manager again, so a fill
// recorded just before a shutdown still advances its bracket.
func Recover(ctx context.Context, j *SQLite, mon *orders.Monitor, mgr *bracket.Manager) (Recovery, error) {
	var rec Recovery

	open, err := j.OpenOrders()
	if err != nil {
		return rec, fmt.Errorf("restore orders: %w", err)
	}
	bs, err := j.OpenBrackets()
	if err != nil {
		return rec, fmt.Errorf("restore brackets: %w", err)
	}
	rec.Orders = mon.Restore(open)
	rec.Brackets = mgr.Restore(bs)

	for _, b := range bs {
		for _, oid := range awaited(b) {
			o, err := j.GetOrder(oid)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return rec, fmt.Errorf("restore bracket %s: %w", b.ID, err)
			}
			if !o.Status.Terminal() {
				continue
			}

			before, _ := mgr.Get(b.ID)
			mgr.Handle(ctx, orders.Event{Type: orders.EventFor(o.Status), Order: o, Time: o.UpdatedAt})
			if after, _ := mgr.Get(b.ID); after.Status != before.Status {
				rec.Replayed++
				break
			}
		}
	}
	return rec, nil
}

// awaited lists the child orders whose outcome b is waiting on.
func awaited(b bracket.Bracket) []string {
	var ids []string
	switch b.Status {
	case bracket.Pending:
		ids = []string{b.EntryOrderID}
	case bracket.EntryFilled:
		ids = []string{b.StopLossOrderID, b.TakeProfitOrderID}
	}
	out := ids[:0]
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
