package bracket

import (
	"testing"
	"time"

	"github.com/rustyeddy/riskengine/orders"
	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	at := time.Date(2025, 2, 3, 12, 0, 0, 0, time.UTC)
	pending := Bracket{ID: "b", Status: Pending, EntryOrderID: "entry"}
	live := Bracket{ID: "b", Status: EntryFilled, EntryOrderID: "entry", StopLossOrderID: "sl", TakeProfitOrderID: "tp"}

	ev := func(typ orders.EventType, oid string, px float64) orders.Event {
		return orders.Event{Type: typ, Order: orders.Order{ID: oid, FillPrice: px, FillTime: at}, Time: at}
	}

	tests := []struct {
		name    string
		in      Bracket
		ev      orders.Event
		status  Status
		reason  string
		actions []Action
	}{
		{"entry fill", pending, ev(orders.OrderFilled, "entry", 98), EntryFilled, "", []Action{{Kind: PlaceProtection}}},
		{"entry cancelled", pending, ev(orders.OrderCancelled, "entry", 0), Failed, ReasonEntryCancelled, nil},
		{"entry expired is ignored", pending, ev(orders.OrderExpired, "entry", 0), Pending, "", nil},
		{"stop loss fill", live, ev(orders.OrderFilled, "sl", 95), Completed, ReasonStopLoss, []Action{{Kind: CancelOrder, OrderID: "tp"}}},
		{"take profit fill", live, ev(orders.OrderFilled, "tp", 110), Completed, ReasonTakeProfit, []Action{{Kind: CancelOrder, OrderID: "sl"}}},
		{"entry cancelled after fill", live, ev(orders.OrderCancelled, "entry", 0), EntryFilled, "", nil},
		{"protective cancel", live, ev(orders.OrderCancelled, "tp", 0), EntryFilled, "", nil},
		{"unrelated order", live, ev(orders.OrderFilled, "other", 1), EntryFilled, "", nil},
		{"second entry fill", live, ev(orders.OrderFilled, "entry", 99), EntryFilled, "", nil},
		{"terminal", Bracket{ID: "b", Status: Cancelled, EntryOrderID: "entry"}, ev(orders.OrderFilled, "entry", 98), Cancelled, "", nil},
		{"empty id never matches", Bracket{ID: "b", Status: Pending}, ev(orders.OrderFilled, "", 98), Pending, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			out, actions := Transition(in, tt.ev)
			assert.Equal(t, tt.in, in, "input mutated")
			assert.Equal(t, tt.status, out.Status)
			assert.Equal(t, tt.reason, out.Reason)
			assert.Equal(t, tt.actions, actions)
		})
	}
}

func TestTransitionRecordsEntryFill(t *testing.T) {
	at := time.Date(2025, 2, 3, 12, 0, 0, 0, time.UTC)
	b := Bracket{ID: "b", Status: Pending, EntryOrderID: "entry"}
	out, _ := Transition(b, orders.Event{
		Type:  orders.OrderFilled,
		Order: orders.Order{ID: "entry", FillPrice: 98.25, FillTime: at},
		Time:  at,
	})
	assert.Equal(t, 98.25, out.FillPrice)
	assert.Equal(t, at, out.FillTime)
	assert.Equal(t, at, out.UpdatedAt)
}

func TestStopLossFillWithoutTakeProfitId(t *testing.T) {
	b := Bracket{ID: "b", Status: EntryFilled, StopLossOrderID: "sl"}
	out, actions := Transition(b, orders.Event{Type: orders.OrderFilled, Order: orders.Order{ID: "sl"}})
	assert.Equal(t, Completed, out.Status)
	assert.Empty(t, actions)
}
