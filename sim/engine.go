// Package sim is an in-memory broker. Working orders fill when UpdatePrice
// crosses their level; fills net into one position per instrument.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/pkg/id"
)

type Order struct {
	ID          string
	Instrument  string
	Side        market.Side
	Kind        broker.OrderKind
	Size        float64
	Price       float64
	StopLevel   float64
	ProfitLevel float64

	State     broker.OrderState
	FillPrice float64
	FillTime  time.Time
	Reason    string

	// Group links protective orders attached to one market or entry fill;
	// the first to fill cancels the rest.
	Group string
	seq   int
}

// FillListener is notified after the engine fills a working order.
type FillListener interface {
	OnFill(orderID string, price float64)
}

type Engine struct {
	mu        sync.Mutex
	acct      broker.Account
	ticks     *market.TickStore
	orders    map[string]*Order
	positions map[string]*Position
	rules     map[string]broker.Rules
	rejects   []string
	calls     map[string]int
	latency   time.Duration
	seq       int
	listener  FillListener
}

var _ broker.Broker = (*Engine)(nil)

func NewEngine(acct broker.Account) *Engine {
	if acct.Equity == 0 {
		acct.Equity = acct.Balance
	}
	return &Engine{
		acct:      acct,
		ticks:     market.NewTickStore(),
		orders:    make(map[string]*Order),
		positions: make(map[string]*Position),
		rules:     make(map[string]broker.Rules),
		calls:     make(map[string]int),
	}
}

func (e *Engine) Ticks() *market.TickStore { return e.ticks }

// SetRules installs dealing rules for r.Instrument. Instruments without
// rules answer InstrumentRules with broker.ErrNotFound.
func (e *Engine) SetRules(r broker.Rules) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[r.Instrument] = r
}

// RejectNext makes the next len(reasons) order submissions come back
// REJECTED with the given reasons, in order.
func (e *Engine) RejectNext(reasons ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejects = append(e.rejects, reasons...)
}

// SetLatency delays every call by d, or until the caller's context ends.
func (e *Engine) SetLatency(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latency = d
}

// SetFillListener sets an optional listener called after fills, outside
// the engine lock.
func (e *Engine) SetFillListener(l FillListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

// Calls returns how many times op was invoked ("create", "cancel",
// "status", "rules", "quote", "account").
func (e *Engine) Calls(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

func (e *Engine) Order(id string) (Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

func (e *Engine) Position(instrument string) Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.positions[instrument]; ok {
		return *p
	}
	return Position{Instrument: instrument}
}

// enter counts the call and applies the configured latency.
func (e *Engine) enter(ctx context.Context, op string) error {
	e.mu.Lock()
	e.calls[op]++
	d := e.latency
	e.mu.Unlock()

	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) popRejectLocked() (string, bool) {
	if len(e.rejects) == 0 {
		return "", false
	}
	r := e.rejects[0]
	e.rejects = e.rejects[1:]
	return r, true
}

func (e *Engine) checkLocked(req broker.OrderRequest, kind broker.OrderKind) string {
	if !req.Side.Valid() {
		return "error.invalid.direction"
	}
	if req.Size <= 0 {
		return "error.invalid.size"
	}
	if kind != broker.Market && req.Price <= 0 {
		return "error.invalid.level"
	}
	if r, ok := e.rules[req.Instrument]; ok {
		if r.MinSize > 0 && req.Size < r.MinSize {
			return fmt.Sprintf("error.invalid.size.minvalue: %g", r.MinSize)
		}
		if r.MaxSize > 0 && req.Size > r.MaxSize {
			return fmt.Sprintf("error.invalid.size.maxvalue: %g", r.MaxSize)
		}
	}
	return ""
}

func (e *Engine) newOrderLocked(req broker.OrderRequest, kind broker.OrderKind) *Order {
	e.seq++
	o := &Order{
		ID:          id.WithPrefix("sim"),
		Instrument:  req.Instrument,
		Side:        req.Side,
		Kind:        kind,
		Size:        req.Size,
		Price:       req.Price,
		StopLevel:   req.StopLevel,
		ProfitLevel: req.ProfitLevel,
		State:       broker.StateWorking,
		seq:         e.seq,
	}
	e.orders[o.ID] = o
	return o
}

func (e *Engine) CreateMarketOrder(ctx context.Context, req broker.OrderRequest) (broker.Ack, error) {
	if err := e.enter(ctx, "create"); err != nil {
		return broker.Ack{}, err
	}

	e.mu.Lock()
	if r, ok := e.popRejectLocked(); ok {
		e.mu.Unlock()
		return broker.Ack{DealStatus: broker.Rejected, Reason: r}, nil
	}
	if r := e.checkLocked(req, broker.Market); r != "" {
		e.mu.Unlock()
		return broker.Ack{DealStatus: broker.Rejected, Reason: r}, nil
	}
	t, err := e.ticks.Get(req.Instrument)
	if err != nil {
		e.mu.Unlock()
		return broker.Ack{}, fmt.Errorf("market order %s: %w", req.Instrument, err)
	}

	o := e.newOrderLocked(req, broker.Market)
	e.fillLocked(o, t.Price(req.Side), t.Time)
	listener := e.listener
	e.mu.Unlock()

	if listener != nil {
		listener.OnFill(o.ID, o.FillPrice)
	}
	return broker.Ack{BrokerOrderID: o.ID, DealStatus: broker.Accepted}, nil
}

func (e *Engine) createWorking(ctx context.Context, kind broker.OrderKind, req broker.OrderRequest) (broker.Ack, error) {
	if err := e.enter(ctx, "create"); err != nil {
		return broker.Ack{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.popRejectLocked(); ok {
		return broker.Ack{DealStatus: broker.Rejected, Reason: r}, nil
	}
	if r := e.checkLocked(req, kind); r != "" {
		return broker.Ack{DealStatus: broker.Rejected, Reason: r}, nil
	}
	o := e.newOrderLocked(req, kind)
	return broker.Ack{BrokerOrderID: o.ID, DealStatus: broker.Accepted}, nil
}

func (e *Engine) CreateLimitOrder(ctx context.Context, req broker.OrderRequest) (broker.Ack, error) {
	return e.createWorking(ctx, broker.Limit, req)
}

func (e *Engine) CreateStopOrder(ctx context.Context, req broker.OrderRequest) (broker.Ack, error) {
	return e.createWorking(ctx, broker.Stop, req)
}

func (e *Engine) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if err := e.enter(ctx, "cancel"); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[brokerOrderID]
	if !ok {
		return fmt.Errorf("cancel %s: %w", brokerOrderID, broker.ErrNotFound)
	}
	if o.State != broker.StateWorking {
		return &broker.RejectionError{Op: "cancel", Code: "error.order.not-working", Message: string(o.State)}
	}
	o.State = broker.StateCancelled
	o.Reason = "cancelled by client"
	return nil
}

func (e *Engine) OrderStatus(ctx context.Context, brokerOrderID string) (broker.OrderStatus, error) {
	if err := e.enter(ctx, "status"); err != nil {
		return broker.OrderStatus{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[brokerOrderID]
	if !ok {
		return broker.OrderStatus{}, fmt.Errorf("order status %s: %w", brokerOrderID, broker.ErrNotFound)
	}
	return broker.OrderStatus{
		BrokerOrderID: o.ID,
		State:         o.State,
		FillPrice:     o.FillPrice,
		FillTime:      o.FillTime,
		Reason:        o.Reason,
	}, nil
}

func (e *Engine) InstrumentRules(ctx context.Context, instrument string) (broker.Rules, error) {
	if err := e.enter(ctx, "rules"); err != nil {
		return broker.Rules{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rules[instrument]
	if !ok {
		return broker.Rules{}, fmt.Errorf("instrument rules %s: %w", instrument, broker.ErrNotFound)
	}
	return r, nil
}

func (e *Engine) LatestQuote(ctx context.Context, instrument string) (market.Tick, error) {
	if err := e.enter(ctx, "quote"); err != nil {
		return market.Tick{}, err
	}
	return e.ticks.Get(instrument)
}

func (e *Engine) GetAccount(ctx context.Context) (broker.Account, error) {
	if err := e.enter(ctx, "account"); err != nil {
		return broker.Account{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.revalueLocked()
	return e.acct, nil
}

// UpdatePrice records t and fills every working order it triggers, oldest
// first.
func (e *Engine) UpdatePrice(t market.Tick) error {
	if t.Instrument == "" {
		return fmt.Errorf("update price: missing instrument")
	}

	e.mu.Lock()
	e.ticks.Set(t)

	var working []*Order
	for _, o := range e.orders {
		if o.State == broker.StateWorking && o.Instrument == t.Instrument {
			working = append(working, o)
		}
	}
	sort.Slice(working, func(i, j int) bool { return working[i].seq < working[j].seq })

	var filled []*Order
	for _, o := range working {
		// an earlier fill in this pass may have cancelled o
		if o.State != broker.StateWorking {
			continue
		}
		if px, ok := triggered(o, t); ok {
			e.fillLocked(o, px, t.Time)
			filled = append(filled, o)
		}
	}
	e.revalueLocked()
	listener := e.listener
	e.mu.Unlock()

	if listener != nil {
		for _, o := range filled {
			listener.OnFill(o.ID, o.FillPrice)
		}
	}
	return nil
}

// Fill executes a working order at price regardless of the market.
func (e *Engine) Fill(orderID string, price float64) error {
	e.mu.Lock()
	o, ok := e.orders[orderID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("fill %s: %w", orderID, broker.ErrNotFound)
	}
	if o.State != broker.StateWorking {
		e.mu.Unlock()
		return fmt.Errorf("fill %s: order is %s", orderID, o.State)
	}
	now := time.Now().UTC()
	if t, err := e.ticks.Get(o.Instrument); err == nil && !t.Time.IsZero() {
		now = t.Time
	}
	e.fillLocked(o, price, now)
	listener := e.listener
	e.mu.Unlock()

	if listener != nil {
		listener.OnFill(o.ID, price)
	}
	return nil
}

func (e *Engine) fillLocked(o *Order, price float64, at time.Time) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	o.State = broker.StateFilled
	o.FillPrice = price
	o.FillTime = at

	pos, ok := e.positions[o.Instrument]
	if !ok {
		pos = &Position{Instrument: o.Instrument}
		e.positions[o.Instrument] = pos
	}
	e.acct.Balance += pos.apply(o.Side.Sign()*o.Size, price)

	if o.Group != "" {
		for _, sib := range e.orders {
			if sib.Group == o.Group && sib != o && sib.State == broker.StateWorking {
				sib.State = broker.StateCancelled
				sib.Reason = "one-cancels-other"
			}
		}
	}

	if o.StopLevel == 0 && o.ProfitLevel == 0 {
		return
	}
	group := o.ID
	exit := broker.OrderRequest{Instrument: o.Instrument, Side: o.Side.Opposite(), Size: o.Size}
	if o.StopLevel > 0 {
		exit.Price = o.StopLevel
		e.newOrderLocked(exit, broker.Stop).Group = group
	}
	if o.ProfitLevel > 0 {
		exit.Price = o.ProfitLevel
		e.newOrderLocked(exit, broker.Limit).Group = group
	}
}

func (e *Engine) revalueLocked() {
	equity := e.acct.Balance
	for instr, p := range e.positions {
		if p.Size == 0 {
			continue
		}
		t, err := e.ticks.Get(instr)
		if err != nil {
			continue
		}
		equity += p.UnrealizedPL(t.Mid())
	}
	e.acct.Equity = equity
}
