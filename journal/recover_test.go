package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskengine/bracket"
	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/internal/logging"
	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/orders"
	"github.com/rustyeddy/riskengine/sim"
)

// engine builds a monitor and manager journaling to j. The manager's Run
// loop is never started, so order events it has not seen are lost when the
// pair is closed, as in a crash.
func engine(t *testing.T, eng *sim.Engine, j *SQLite) (*orders.Monitor, *bracket.Manager) {
	t.Helper()
	log := logging.Discard()
	mon := orders.NewMonitor(eng, orders.WithRecorder(j), orders.WithLogger(log))
	mgr := bracket.NewManager(mon, bracket.WithQuotes(eng), bracket.WithRecorder(j), bracket.WithLogger(log))
	t.Cleanup(func() {
		mgr.Close()
		mon.Close()
	})
	return mon, mgr
}

func tick(t *testing.T, eng *sim.Engine, bid, ask float64) {
	t.Helper()
	require.NoError(t, eng.UpdatePrice(market.Tick{Instrument: "BTCUSD", Bid: bid, Ask: ask, Time: time.Now()}))
}

func TestRecoverReplaysJournaledFills(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	eng := sim.NewEngine(broker.Account{ID: "A1", Currency: "USD", Balance: 10000})
	tick(t, eng, 99.5, 100.5)

	mon, mgr := engine(t, eng, j)
	id, err := mgr.Create(ctx, bracket.Config{
		BotID:      "bot",
		Symbol:     "BTCUSD",
		Side:       market.Buy,
		EntryKind:  broker.Limit,
		Size:       1,
		EntryPrice: 98,
		StopLoss:   95,
		TakeProfit: 110,
	})
	require.NoError(t, err)

	// the entry fill is journaled but the manager never sees it
	tick(t, eng, 97.3, 97.5)
	require.Equal(t, 1, mon.Poll(ctx).Filled)

	b, err := j.GetBracket(id)
	require.NoError(t, err)
	require.Equal(t, bracket.Pending, b.Status)
	entry, err := j.GetOrder(b.EntryOrderID)
	require.NoError(t, err)
	require.Equal(t, orders.Filled, entry.Status)

	mon2, mgr2 := engine(t, eng, j)
	rec, err := Recover(ctx, j, mon2, mgr2)
	require.NoError(t, err)
	assert.Equal(t, Recovery{Orders: 0, Brackets: 1, Replayed: 1}, rec)

	got, ok := mgr2.Get(id)
	require.True(t, ok)
	assert.Equal(t, bracket.EntryFilled, got.Status)
	assert.Equal(t, 98.0, got.FillPrice)
	assert.NotEmpty(t, got.StopLossOrderID)
	assert.NotEmpty(t, got.TakeProfitOrderID)
	assert.Equal(t, 3, eng.Calls("create"))

	b, err = j.GetBracket(id)
	require.NoError(t, err)
	assert.Equal(t, bracket.EntryFilled, b.Status)

	// same again for the stop loss: journaled, never handled
	tick(t, eng, 94.5, 94.7)
	require.Equal(t, 1, mon2.Poll(ctx).Filled)

	mon3, mgr3 := engine(t, eng, j)
	rec, err = Recover(ctx, j, mon3, mgr3)
	require.NoError(t, err)
	assert.Equal(t, Recovery{Orders: 1, Brackets: 1, Replayed: 1}, rec)

	got, _ = mgr3.Get(id)
	assert.Equal(t, bracket.Completed, got.Status)
	assert.Equal(t, bracket.ReasonStopLoss, got.Reason)

	tp, err := j.GetOrder(got.TakeProfitOrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.Cancelled, tp.Status)
	bo, _ := eng.Order(tp.BrokerOrderID)
	assert.Equal(t, broker.StateCancelled, bo.State)

	// nothing left to recover
	mon4, mgr4 := engine(t, eng, j)
	rec, err = Recover(ctx, j, mon4, mgr4)
	require.NoError(t, err)
	assert.Equal(t, Recovery{}, rec)
}

func TestRecoverLeavesWaitingBracketsAlone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	o := testOrder("o1", orders.Pending)
	b := testBracket("b1", bracket.Pending)
	b.EntryOrderID = o.ID
	require.NoError(t, j.RecordOrder(o))
	require.NoError(t, j.RecordBracket(b))

	eng := sim.NewEngine(broker.Account{Balance: 10000})
	mon, mgr := engine(t, eng, j)
	rec, err := Recover(ctx, j, mon, mgr)
	require.NoError(t, err)
	assert.Equal(t, Recovery{Orders: 1, Brackets: 1}, rec)

	got, _ := mgr.Get("b1")
	assert.Equal(t, bracket.Pending, got.Status)
	assert.Equal(t, 0, eng.Calls("create"))
}
