package orders

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/internal/bus"
	"github.com/rustyeddy/riskengine/internal/logging"
	"github.com/rustyeddy/riskengine/internal/metrics"
	"github.com/rustyeddy/riskengine/pkg/id"
)

type Config struct {
	PollInterval     time.Duration
	MaxAge           time.Duration
	MaxPendingPerBot int
}

func DefaultConfig() Config {
	return Config{
		PollInterval:     5 * time.Second,
		MaxAge:           24 * time.Hour,
		MaxPendingPerBot: 10,
	}
}

// Monitor owns the pending order table. All state changes happen under its
// lock and are one way: nothing leaves a terminal status. Broker calls are
// made without holding the lock.
type Monitor struct {
	b   broker.Broker
	cfg Config
	log *slog.Logger
	rec Recorder
	now func() time.Time

	mu       sync.Mutex
	orders   map[string]*Order
	inflight map[string]int // admission slots held by submissions in progress
	events   *bus.Bus[Event]
}

type Option func(*Monitor)

func WithConfig(c Config) Option {
	return func(m *Monitor) {
		d := DefaultConfig()
		if c.PollInterval <= 0 {
			c.PollInterval = d.PollInterval
		}
		if c.MaxAge <= 0 {
			c.MaxAge = d.MaxAge
		}
		if c.MaxPendingPerBot <= 0 {
			c.MaxPendingPerBot = d.MaxPendingPerBot
		}
		m.cfg = c
	}
}

func WithLogger(l *slog.Logger) Option { return func(m *Monitor) { m.log = l } }

func WithRecorder(r Recorder) Option { return func(m *Monitor) { m.rec = r } }

func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

func NewMonitor(b broker.Broker, opts ...Option) *Monitor {
	m := &Monitor{
		b:        b,
		cfg:      DefaultConfig(),
		now:      time.Now,
		orders:   make(map[string]*Order),
		inflight: make(map[string]int),
		events:   bus.New[Event](),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = logging.OrDefault(m.log)
	return m
}

func (m *Monitor) Config() Config { return m.cfg }

// Subscribe returns every event published from now on, in order.
func (m *Monitor) Subscribe() (<-chan Event, func()) {
	return m.events.Subscribe()
}

// Close ends all subscriptions.
func (m *Monitor) Close() { m.events.Close() }

// Add submits a working order to the broker and starts tracking it. A bot
// at its pending limit is refused with ErrTooManyPending before anything is
// sent. A broker rejection is returned and nothing is stored.
func (m *Monitor) Add(ctx context.Context, req Request) (Order, error) {
	if err := req.validate(); err != nil {
		return Order{}, fmt.Errorf("add order: %w", err)
	}
	if req.TimeInForce == "" {
		req.TimeInForce = GTC
	}

	m.mu.Lock()
	if !req.Protective {
		if n := m.pendingLocked(req.BotID) + m.inflight[req.BotID]; n >= m.cfg.MaxPendingPerBot {
			m.mu.Unlock()
			return Order{}, fmt.Errorf("bot %q has %d pending orders (max %d): %w",
				req.BotID, n, m.cfg.MaxPendingPerBot, ErrTooManyPending)
		}
	}
	m.inflight[req.BotID]++
	m.mu.Unlock()

	breq := broker.OrderRequest{
		Instrument:  req.Symbol,
		Side:        req.Side,
		Size:        req.Size,
		Price:       req.Price,
		StopLevel:   req.StopLevel,
		ProfitLevel: req.ProfitLevel,
	}
	if req.TimeInForce == GTD {
		breq.GoodTillDate = req.ExpireTime
	}
	ack, err := broker.Create(ctx, m.b, req.Kind, breq)
	if err == nil && !ack.Accepted() {
		err = &broker.RejectionError{Op: "create_" + string(req.Kind), Code: ack.Reason, Message: string(ack.DealStatus)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight[req.BotID]--
	if m.inflight[req.BotID] <= 0 {
		delete(m.inflight, req.BotID)
	}
	if err != nil {
		m.log.Warn("order submission failed", "bot", req.BotID, "symbol", req.Symbol, "kind", req.Kind, "err", err)
		return Order{}, fmt.Errorf("submit %s order: %w", req.Kind, err)
	}

	now := m.now()
	o := &Order{
		ID:            id.WithPrefix("ord"),
		BotID:         req.BotID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Kind:          req.Kind,
		Size:          req.Size,
		Price:         req.Price,
		StopLevel:     req.StopLevel,
		ProfitLevel:   req.ProfitLevel,
		Status:        Pending,
		TimeInForce:   req.TimeInForce,
		ExpireTime:    req.ExpireTime,
		Protective:    req.Protective,
		BrokerOrderID: ack.BrokerOrderID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.orders[o.ID] = o
	m.changedLocked(o)

	m.log.Info("order added", "order", o.ID, "bot", o.BotID, "symbol", o.Symbol,
		"side", o.Side, "kind", o.Kind, "size", o.Size, "price", o.Price, "broker_id", o.BrokerOrderID)
	return *o, nil
}

// changedLocked records, publishes and counts a state change. Publishing
// under the lock keeps events in transition order.
func (m *Monitor) changedLocked(o *Order) {
	if m.rec != nil {
		if err := m.rec.RecordOrder(*o); err != nil {
			m.log.Error("record order failed", "order", o.ID, "err", err)
		}
	}
	m.events.Publish(Event{Type: EventFor(o.Status), Order: *o, Time: o.UpdatedAt})
	metrics.OrderTransitions.WithLabelValues(string(o.Status)).Inc()
	metrics.PendingOrders.Set(float64(m.pendingLocked("")))
}

func (m *Monitor) pendingLocked(botID string) int {
	n := 0
	for _, o := range m.orders {
		if o.Status == Pending && (botID == "" || o.BotID == botID) {
			n++
		}
	}
	return n
}

// transition moves a PENDING order to a terminal status. It reports false
// when the order is gone or already terminal.
func (m *Monitor) transition(orderID string, to Status, reason string, fillPrice float64, fillTime time.Time) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok || o.Status != Pending {
		return Order{}, false
	}
	o.Status = to
	o.Reason = reason
	o.UpdatedAt = m.now()
	if to == Filled {
		o.FillPrice = fillPrice
		o.FillTime = fillTime
		if o.FillTime.IsZero() {
			o.FillTime = o.UpdatedAt
		}
	}
	m.changedLocked(o)

	m.log.Info("order transition", "order", o.ID, "status", to, "bot", o.BotID,
		"symbol", o.Symbol, "reason", reason, "fill_price", o.FillPrice)
	return *o, true
}

// Cancel cancels a pending order at the broker and marks it CANCELLED. When
// the broker refuses, the order stays PENDING for the next poll to resolve.
func (m *Monitor) Cancel(ctx context.Context, orderID, reason string) error {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", orderID, ErrNotFound)
	}
	if o.Status != Pending {
		st := o.Status
		m.mu.Unlock()
		return fmt.Errorf("cancel %s (%s): %w", orderID, st, ErrNotPending)
	}
	brokerID := o.BrokerOrderID
	m.mu.Unlock()

	if brokerID != "" {
		if err := m.b.CancelOrder(ctx, brokerID); err != nil {
			return fmt.Errorf("cancel %s at broker: %w", orderID, err)
		}
	}
	if reason == "" {
		reason = "cancelled"
	}
	if _, ok := m.transition(orderID, Cancelled, reason, 0, time.Time{}); !ok {
		return fmt.Errorf("cancel %s: %w", orderID, ErrNotPending)
	}
	return nil
}

// PollResult counts what one poll pass did.
type PollResult struct {
	Checked   int
	Filled    int
	Cancelled int
	Expired   int
	Evicted   int
}

// Poll runs one pass over PENDING orders: expiry first, then broker
// reconciliation, then eviction of old terminal orders.
func (m *Monitor) Poll(ctx context.Context) PollResult {
	var res PollResult
	now := m.now()

	m.mu.Lock()
	pending := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		if o.Status == Pending {
			pending = append(pending, *o)
		}
	}
	m.mu.Unlock()
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })

	for _, o := range pending {
		if ctx.Err() != nil {
			return res
		}
		res.Checked++

		if reason, ok := m.expired(o, now); ok {
			if _, ok := m.transition(o.ID, Expired, reason, 0, time.Time{}); ok {
				res.Expired++
				m.cancelAtBroker(ctx, o)
			}
			continue
		}
		if o.BrokerOrderID == "" {
			continue
		}

		st, err := m.b.OrderStatus(ctx, o.BrokerOrderID)
		if err != nil {
			m.log.Warn("order status query failed", "order", o.ID, "broker_id", o.BrokerOrderID, "err", err)
			continue
		}
		switch st.State {
		case broker.StateFilled:
			if _, ok := m.transition(o.ID, Filled, "filled", st.FillPrice, st.FillTime); ok {
				res.Filled++
			}
		case broker.StateCancelled, broker.StateRejected:
			reason := st.Reason
			if reason == "" {
				reason = "cancelled by broker"
			}
			if _, ok := m.transition(o.ID, Cancelled, reason, 0, time.Time{}); ok {
				res.Cancelled++
			}
		}
	}

	res.Evicted = m.evict(now)
	return res
}

func (m *Monitor) expired(o Order, now time.Time) (string, bool) {
	if !o.ExpireTime.IsZero() && now.After(o.ExpireTime) {
		return fmt.Sprintf("expired at %s", o.ExpireTime.Format(time.RFC3339)), true
	}
	if !o.Protective && now.Sub(o.CreatedAt) > m.cfg.MaxAge {
		return fmt.Sprintf("older than max age %s", m.cfg.MaxAge), true
	}
	return "", false
}

func (m *Monitor) cancelAtBroker(ctx context.Context, o Order) {
	if o.BrokerOrderID == "" {
		return
	}
	if err := m.b.CancelOrder(ctx, o.BrokerOrderID); err != nil {
		m.log.Warn("broker cancel of expired order failed", "order", o.ID, "broker_id", o.BrokerOrderID, "err", err)
	}
}

// evict drops terminal orders that have been terminal longer than MaxAge.
func (m *Monitor) evict(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, o := range m.orders {
		if o.Status.Terminal() && now.Sub(o.UpdatedAt) > m.cfg.MaxAge {
			delete(m.orders, k)
			n++
		}
	}
	if n > 0 {
		m.log.Debug("evicted terminal orders", "count", n)
	}
	return n
}

// Run polls every PollInterval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.cfg.PollInterval)
	defer t.Stop()

	m.log.Info("order monitor started", "interval", m.cfg.PollInterval, "max_age", m.cfg.MaxAge)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			m.Poll(ctx)
		}
	}
}

func (m *Monitor) Get(orderID string) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// BotOrders returns the bot's orders, oldest first.
func (m *Monitor) BotOrders(botID string) []Order {
	m.mu.Lock()
	var out []Order
	for _, o := range m.orders {
		if o.BotID == botID {
			out = append(out, *o)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// PendingCount counts PENDING orders for botID, or for all bots when botID
// is empty.
func (m *Monitor) PendingCount(botID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingLocked(botID)
}

// Restore loads previously persisted orders without publishing events.
// Orders already tracked are left alone.
func (m *Monitor) Restore(orders []Order) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, o := range orders {
		if _, ok := m.orders[o.ID]; ok || o.ID == "" {
			continue
		}
		o := o
		m.orders[o.ID] = &o
		n++
	}
	metrics.PendingOrders.Set(float64(m.pendingLocked("")))
	return n
}
