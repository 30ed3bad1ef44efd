package bracket

import "github.com/rustyeddy/riskengine/orders"

type ActionKind int

const (
	// PlaceProtection creates the stop loss and take profit orders.
	PlaceProtection ActionKind = iota + 1
	// CancelOrder cancels one child order, best effort.
	CancelOrder
)

type Action struct {
	Kind    ActionKind
	OrderID string
}

// Transition applies one order event to b and returns the new bracket and
// the side effects it calls for. It never mutates its input and has no
// effects of its own. Events that do not match a tracked child in the right
// state leave b unchanged.
func Transition(b Bracket, ev orders.Event) (Bracket, []Action) {
	if b.Status.Terminal() || ev.Order.ID == "" {
		return b, nil
	}
	id := ev.Order.ID

	switch ev.Type {
	case orders.OrderFilled:
		switch {
		case id == b.EntryOrderID && b.Status == Pending:
			b.Status = EntryFilled
			b.FillPrice = ev.Order.FillPrice
			b.FillTime = ev.Order.FillTime
			b.UpdatedAt = ev.Time
			return b, []Action{{Kind: PlaceProtection}}

		case id == b.StopLossOrderID && b.Status == EntryFilled:
			b.Status = Completed
			b.Reason = ReasonStopLoss
			b.UpdatedAt = ev.Time
			return b, cancelIfSet(b.TakeProfitOrderID)

		case id == b.TakeProfitOrderID && b.Status == EntryFilled:
			b.Status = Completed
			b.Reason = ReasonTakeProfit
			b.UpdatedAt = ev.Time
			return b, cancelIfSet(b.StopLossOrderID)
		}

	case orders.OrderCancelled:
		if id == b.EntryOrderID && b.Status == Pending {
			b.Status = Failed
			b.Reason = ReasonEntryCancelled
			b.UpdatedAt = ev.Time
			return b, nil
		}
	}
	return b, nil
}

func cancelIfSet(orderID string) []Action {
	if orderID == "" {
		return nil
	}
	return []Action{{Kind: CancelOrder, OrderID: orderID}}
}
