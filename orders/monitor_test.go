package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/internal/logging"
	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memRecorder struct {
	mu   sync.Mutex
	recs []Order
}

func (r *memRecorder) RecordOrder(o Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, o)
	return nil
}

var start = time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)

func newMonitor(t *testing.T, cfg Config) (*Monitor, *sim.Engine, *clock, *memRecorder) {
	t.Helper()
	eng := sim.NewEngine(broker.Account{Balance: 10000})
	require.NoError(t, eng.UpdatePrice(market.Tick{Instrument: "BTCUSD", Bid: 99, Ask: 101, Time: start}))

	c := &clock{t: start}
	rec := &memRecorder{}
	m := NewMonitor(eng, WithConfig(cfg), WithClock(c.now), WithLogger(logging.Discard()), WithRecorder(rec))
	t.Cleanup(m.Close)
	return m, eng, c, rec
}

func limitBuy(bot string, price float64) Request {
	return Request{BotID: bot, Symbol: "BTCUSD", Side: market.Buy, Kind: broker.Limit, Size: 1, Price: price}
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func TestAddTracksOrder(t *testing.T) {
	m, eng, _, rec := newMonitor(t, DefaultConfig())
	events, stop := m.Subscribe()
	defer stop()

	o, err := m.Add(context.Background(), limitBuy("bot1", 95))
	require.NoError(t, err)
	assert.Equal(t, Pending, o.Status)
	assert.Equal(t, GTC, o.TimeInForce)
	assert.NotEmpty(t, o.BrokerOrderID)
	assert.Equal(t, start, o.CreatedAt)

	bo, ok := eng.Order(o.BrokerOrderID)
	require.True(t, ok)
	assert.Equal(t, broker.StateWorking, bo.State)

	ev := next(t, events)
	assert.Equal(t, OrderAdded, ev.Type)
	assert.Equal(t, o.ID, ev.Order.ID)

	got, ok := m.Get(o.ID)
	require.True(t, ok)
	assert.Equal(t, o, got)
	assert.Equal(t, 1, m.PendingCount("bot1"))
	assert.Equal(t, 0, m.PendingCount("bot2"))
	assert.Len(t, rec.recs, 1)
}

func TestAddValidates(t *testing.T) {
	m, eng, _, _ := newMonitor(t, DefaultConfig())

	bad := []Request{
		{Symbol: "BTCUSD", Side: market.Buy, Kind: broker.Market, Size: 1, Price: 100},
		{Symbol: "", Side: market.Buy, Kind: broker.Limit, Size: 1, Price: 100},
		{Symbol: "BTCUSD", Side: "UP", Kind: broker.Limit, Size: 1, Price: 100},
		{Symbol: "BTCUSD", Side: market.Buy, Kind: broker.Limit, Size: 0, Price: 100},
		{Symbol: "BTCUSD", Side: market.Buy, Kind: broker.Stop, Size: 1},
		{Symbol: "BTCUSD", Side: market.Buy, Kind: broker.Stop, Size: 1, Price: 100, TimeInForce: GTD},
	}
	for _, req := range bad {
		_, err := m.Add(context.Background(), req)
		assert.Error(t, err, "%+v", req)
	}
	assert.Equal(t, 0, eng.Calls("create"))
}

func TestAdmissionControl(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPendingPerBot = 2
	m, eng, _, _ := newMonitor(t, cfg)
	ctx := context.Background()

	_, err := m.Add(ctx, limitBuy("bot1", 90))
	require.NoError(t, err)
	_, err = m.Add(ctx, limitBuy("bot1", 91))
	require.NoError(t, err)

	_, err = m.Add(ctx, limitBuy("bot1", 92))
	assert.ErrorIs(t, err, ErrTooManyPending)
	assert.Equal(t, 2, eng.Calls("create"))

	_, err = m.Add(ctx, limitBuy("bot2", 92))
	assert.NoError(t, err)

	prot := limitBuy("bot1", 120)
	prot.Side = market.Sell
	prot.Protective = true
	_, err = m.Add(ctx, prot)
	assert.NoError(t, err)
	assert.Equal(t, 3, m.PendingCount("bot1"))
}

func TestAddRejectedStoresNothing(t *testing.T) {
	m, eng, _, _ := newMonitor(t, DefaultConfig())
	eng.RejectNext("error.invalid.size.minvalue: 5")

	_, err := m.Add(context.Background(), limitBuy("bot1", 95))
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrRejected)
	assert.Contains(t, err.Error(), "error.invalid.size.minvalue: 5")
	assert.Empty(t, m.BotOrders("bot1"))
	assert.Equal(t, 0, m.PendingCount(""))
}

func TestPollReconcilesFill(t *testing.T) {
	m, eng, _, _ := newMonitor(t, DefaultConfig())
	events, stop := m.Subscribe()
	defer stop()
	ctx := context.Background()

	o, err := m.Add(ctx, limitBuy("bot1", 95))
	require.NoError(t, err)
	assert.Equal(t, OrderAdded, next(t, events).Type)

	res := m.Poll(ctx)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 0, res.Filled)

	fillAt := start.Add(time.Minute)
	require.NoError(t, eng.UpdatePrice(market.Tick{Instrument: "BTCUSD", Bid: 94, Ask: 94.5, Time: fillAt}))

	res = m.Poll(ctx)
	assert.Equal(t, 1, res.Filled)

	ev := next(t, events)
	assert.Equal(t, OrderFilled, ev.Type)
	assert.Equal(t, o.ID, ev.Order.ID)
	assert.Equal(t, 95.0, ev.Order.FillPrice)
	assert.Equal(t, fillAt, ev.Order.FillTime)

	got, _ := m.Get(o.ID)
	assert.Equal(t, Filled, got.Status)

	// one way: a filled order cannot be cancelled or re-filled
	_, ok := m.transition(o.ID, Cancelled, "late", 0, time.Time{})
	assert.False(t, ok)
	assert.ErrorIs(t, m.Cancel(ctx, o.ID, "late"), ErrNotPending)
	assert.Equal(t, 0, m.Poll(ctx).Checked)
}

func TestPollBrokerSideCancel(t *testing.T) {
	m, eng, _, _ := newMonitor(t, DefaultConfig())
	ctx := context.Background()

	o, err := m.Add(ctx, limitBuy("bot1", 95))
	require.NoError(t, err)
	require.NoError(t, eng.CancelOrder(ctx, o.BrokerOrderID))

	res := m.Poll(ctx)
	assert.Equal(t, 1, res.Cancelled)
	got, _ := m.Get(o.ID)
	assert.Equal(t, Cancelled, got.Status)
	assert.Equal(t, "cancelled by client", got.Reason)
}

func TestPollExpiry(t *testing.T) {
	m, eng, c, _ := newMonitor(t, DefaultConfig())
	events, stop := m.Subscribe()
	defer stop()
	ctx := context.Background()

	gtd := limitBuy("bot1", 95)
	gtd.TimeInForce = GTD
	gtd.ExpireTime = start.Add(time.Hour)
	a, err := m.Add(ctx, gtd)
	require.NoError(t, err)

	day := limitBuy("bot1", 94)
	day.TimeInForce = DAY
	b, err := m.Add(ctx, day)
	require.NoError(t, err)

	gtc, err := m.Add(ctx, limitBuy("bot1", 93))
	require.NoError(t, err)
	require.Equal(t, GTC, gtc.TimeInForce)

	guard := limitBuy("bot1", 120)
	guard.Side = market.Sell
	guard.Protective = true
	prot, err := m.Add(ctx, guard)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		assert.Equal(t, OrderAdded, next(t, events).Type)
	}

	c.advance(2 * time.Hour)
	res := m.Poll(ctx)
	assert.Equal(t, 1, res.Expired)
	ev := next(t, events)
	assert.Equal(t, OrderExpired, ev.Type)
	assert.Equal(t, a.ID, ev.Order.ID)
	assert.Contains(t, ev.Order.Reason, "expired at")

	// the expired order was withdrawn from the broker too
	bo, _ := eng.Order(a.BrokerOrderID)
	assert.Equal(t, broker.StateCancelled, bo.State)

	// max age applies to DAY and GTC alike
	c.advance(23 * time.Hour)
	res = m.Poll(ctx)
	assert.Equal(t, 2, res.Expired)
	aged := map[string]bool{}
	for i := 0; i < 2; i++ {
		ev = next(t, events)
		assert.Equal(t, OrderExpired, ev.Type)
		assert.Contains(t, ev.Order.Reason, "max age")
		aged[ev.Order.ID] = true
	}
	assert.Equal(t, map[string]bool{b.ID: true, gtc.ID: true}, aged)

	got, _ := m.Get(gtc.ID)
	assert.Equal(t, Expired, got.Status)

	c.advance(48 * time.Hour)
	m.Poll(ctx)
	got, _ = m.Get(prot.ID)
	assert.Equal(t, Pending, got.Status)
	assert.True(t, got.Protective)
}

func TestCancel(t *testing.T) {
	m, eng, _, _ := newMonitor(t, DefaultConfig())
	events, stop := m.Subscribe()
	defer stop()
	ctx := context.Background()

	o, err := m.Add(ctx, limitBuy("bot1", 95))
	require.NoError(t, err)
	next(t, events)

	require.NoError(t, m.Cancel(ctx, o.ID, "user request"))
	ev := next(t, events)
	assert.Equal(t, OrderCancelled, ev.Type)
	assert.Equal(t, "user request", ev.Order.Reason)

	bo, _ := eng.Order(o.BrokerOrderID)
	assert.Equal(t, broker.StateCancelled, bo.State)

	assert.ErrorIs(t, m.Cancel(ctx, o.ID, ""), ErrNotPending)
	assert.ErrorIs(t, m.Cancel(ctx, "nope", ""), ErrNotFound)
	assert.Equal(t, 1, eng.Calls("cancel"))
}

func TestCancelBrokerFailureKeepsPending(t *testing.T) {
	m, eng, _, _ := newMonitor(t, DefaultConfig())
	ctx := context.Background()

	o, err := m.Add(ctx, limitBuy("bot1", 95))
	require.NoError(t, err)
	require.NoError(t, eng.Fill(o.BrokerOrderID, 95))

	err = m.Cancel(ctx, o.ID, "too late")
	assert.ErrorIs(t, err, broker.ErrRejected)
	got, _ := m.Get(o.ID)
	assert.Equal(t, Pending, got.Status)

	m.Poll(ctx)
	got, _ = m.Get(o.ID)
	assert.Equal(t, Filled, got.Status)
}

func TestEvictsOldTerminalOrders(t *testing.T) {
	m, _, c, _ := newMonitor(t, DefaultConfig())
	ctx := context.Background()

	o, err := m.Add(ctx, limitBuy("bot1", 95))
	require.NoError(t, err)
	require.NoError(t, m.Cancel(ctx, o.ID, ""))

	c.advance(time.Hour)
	assert.Equal(t, 0, m.Poll(ctx).Evicted)

	c.advance(24 * time.Hour)
	assert.Equal(t, 1, m.Poll(ctx).Evicted)
	_, ok := m.Get(o.ID)
	assert.False(t, ok)
}

func TestRestore(t *testing.T) {
	m, eng, _, _ := newMonitor(t, DefaultConfig())
	ctx := context.Background()

	ack, err := eng.CreateLimitOrder(ctx, broker.OrderRequest{Instrument: "BTCUSD", Side: market.Buy, Size: 1, Price: 95})
	require.NoError(t, err)

	saved := Order{
		ID: "ord_saved", BotID: "bot1", Symbol: "BTCUSD", Side: market.Buy, Kind: broker.Limit,
		Size: 1, Price: 95, Status: Pending, TimeInForce: GTC, BrokerOrderID: ack.BrokerOrderID,
		CreatedAt: start, UpdatedAt: start,
	}
	assert.Equal(t, 1, m.Restore([]Order{saved, saved}))
	assert.Equal(t, 1, m.PendingCount("bot1"))

	require.NoError(t, eng.Fill(ack.BrokerOrderID, 95))
	assert.Equal(t, 1, m.Poll(ctx).Filled)
}

func TestRunPollsUntilCancelled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	m, eng, _, _ := newMonitor(t, cfg)

	o, err := m.Add(context.Background(), limitBuy("bot1", 95))
	require.NoError(t, err)
	require.NoError(t, eng.Fill(o.BrokerOrderID, 95))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, _ := m.Get(o.ID)
		return got.Status == Filled
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
