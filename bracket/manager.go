package bracket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/internal/bus"
	"github.com/rustyeddy/riskengine/internal/logging"
	"github.com/rustyeddy/riskengine/internal/metrics"
	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/orders"
	"github.com/rustyeddy/riskengine/pkg/id"
)

var ErrNotFound = errors.New("bracket not found")

// Quoter supplies the current price for market entries placed without an
// entry price. broker.Broker satisfies it.
type Quoter interface {
	LatestQuote(ctx context.Context, instrument string) (market.Tick, error)
}

type entry struct {
	mu sync.Mutex
	b  Bracket
}

// Manager owns the bracket table. Each bracket has its own mutex which is
// held for the whole of a transition, including the broker calls it makes,
// so a protective fill is never applied before the entry fill that created
// it has finished.
type Manager struct {
	mon     *orders.Monitor
	quotes  Quoter
	learner RejectionLearner
	rec     Recorder
	log     *slog.Logger
	now     func() time.Time

	sub   <-chan orders.Event
	unsub func()

	mu       sync.Mutex // guards the fields below; taken after an entry mutex, never before
	brackets map[string]*entry
	byOrder  map[string]string // child order id -> bracket id
	inflight int               // creates and protection placements in progress
	parked   []orders.Event
	events   *bus.Bus[Event]
}

type Option func(*Manager)

func WithQuotes(q Quoter) Option { return func(m *Manager) { m.quotes = q } }

func WithLearner(l RejectionLearner) Option { return func(m *Manager) { m.learner = l } }

func WithRecorder(r Recorder) Option { return func(m *Manager) { m.rec = r } }

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.log = l } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager subscribes to mon right away so no order event published after
// it returns is missed. Events are applied by Run.
func NewManager(mon *orders.Monitor, opts ...Option) *Manager {
	if mon == nil {
		panic("bracket: nil order monitor")
	}
	m := &Manager{
		mon:      mon,
		now:      time.Now,
		brackets: make(map[string]*entry),
		byOrder:  make(map[string]string),
		events:   bus.New[Event](),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = logging.OrDefault(m.log)
	m.sub, m.unsub = mon.Subscribe()
	return m
}

func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.events.Subscribe()
}

// Close stops consuming monitor events and ends all subscriptions.
func (m *Manager) Close() {
	m.unsub()
	m.events.Close()
}

// Run applies monitor events until ctx is done or the monitor closes.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-m.sub:
			if !ok {
				return nil
			}
			m.Handle(ctx, ev)
		}
	}
}

// Create validates cfg and places the bracket. A LIMIT or STOP entry goes to
// the order monitor and the bracket waits in PENDING. A MARKET entry is
// taken as already filled by the caller: both protective orders are placed
// before Create returns and the bracket is ENTRY_FILLED.
//
// A *ValidationError is returned before any broker call. When a submission
// fails, orders already placed are cancelled best effort, the bracket is
// kept as FAILED and its id is returned along with the error.
func (m *Manager) Create(ctx context.Context, cfg Config) (string, error) {
	if cfg.TimeInForce == "" {
		cfg.TimeInForce = orders.GTC
	}
	cfg.Symbol = market.NormalizeSymbol(cfg.Symbol)

	ref := cfg.EntryPrice
	if cfg.EntryKind == broker.Market && ref <= 0 && m.quotes != nil {
		if t, err := m.quotes.LatestQuote(ctx, cfg.Symbol); err == nil {
			ref = t.Mid()
		} else {
			m.log.Warn("no quote for market entry", "symbol", cfg.Symbol, "err", err)
		}
	}
	if err := cfg.Validate(ref); err != nil {
		return "", err
	}

	now := m.now()
	e := &entry{b: Bracket{
		ID:        id.WithPrefix("brk"),
		Config:    cfg,
		Status:    Pending,
		CreatedAt: now,
		UpdatedAt: now,
	}}

	e.mu.Lock()
	m.mu.Lock()
	m.brackets[e.b.ID] = e
	m.inflight++
	m.mu.Unlock()

	err := m.place(ctx, e, ref)

	m.mu.Lock()
	m.inflight--
	m.mu.Unlock()
	bid := e.b.ID
	e.mu.Unlock()

	m.replay(ctx)
	return bid, err
}

// place submits the entry, or the protection for a market entry. Called
// with e.mu held.
func (m *Manager) place(ctx context.Context, e *entry, ref float64) error {
	cfg := e.b.Config

	if cfg.EntryKind == broker.Market {
		m.changed(e.b, BracketCreated)
		e.b.Status = EntryFilled
		e.b.FillPrice = ref
		e.b.FillTime = m.now()
		e.b.UpdatedAt = e.b.FillTime
		if err := m.protect(ctx, e); err != nil {
			m.fail(ctx, e, err)
			return fmt.Errorf("create bracket %s: %w", e.b.ID, err)
		}
		m.changed(e.b, BracketEntryFilled)
		return nil
	}

	o, err := m.mon.Add(ctx, orders.Request{
		BotID:       cfg.BotID,
		Symbol:      cfg.Symbol,
		Side:        cfg.Side,
		Kind:        cfg.EntryKind,
		Size:        cfg.Size,
		Price:       cfg.EntryPrice,
		TimeInForce: cfg.TimeInForce,
		ExpireTime:  cfg.ExpireTime,
	})
	if err != nil {
		m.changed(e.b, BracketCreated)
		m.fail(ctx, e, err)
		return fmt.Errorf("create bracket %s: %w", e.b.ID, err)
	}
	e.b.EntryOrderID = o.ID
	m.link(o.ID, e.b.ID)
	m.changed(e.b, BracketCreated)
	return nil
}

// protect places the stop loss then the take profit on the opposite side.
// Each id is linked as soon as its order exists. Called with e.mu held.
func (m *Manager) protect(ctx context.Context, e *entry) error {
	cfg := e.b.Config
	req := orders.Request{
		BotID:       cfg.BotID,
		Symbol:      cfg.Symbol,
		Side:        cfg.Side.Opposite(),
		Size:        cfg.Size,
		TimeInForce: orders.GTC,
		Protective:  true,
	}

	sl := req
	sl.Kind = broker.Stop
	sl.Price = cfg.StopLoss
	o, err := m.mon.Add(ctx, sl)
	if err != nil {
		return fmt.Errorf("stop loss: %w", err)
	}
	e.b.StopLossOrderID = o.ID
	m.link(o.ID, e.b.ID)

	tp := req
	tp.Kind = broker.Limit
	tp.Price = cfg.TakeProfit
	o, err = m.mon.Add(ctx, tp)
	if err != nil {
		return fmt.Errorf("take profit: %w", err)
	}
	e.b.TakeProfitOrderID = o.ID
	m.link(o.ID, e.b.ID)
	return nil
}

// fail cancels whatever children exist and marks the bracket FAILED.
// Called with e.mu held.
func (m *Manager) fail(ctx context.Context, e *entry, err error) {
	m.cancelChildren(ctx, e.b, "bracket failed")
	e.b.Status = Failed
	e.b.Reason = "broker rejection: " + broker.Reason(err)
	e.b.UpdatedAt = m.now()

	if m.learner != nil && errors.Is(err, broker.ErrRejected) {
		if m.learner.LearnFromRejection(e.b.Config.Symbol, err) {
			m.log.Info("learned limits from rejection", "bracket", e.b.ID, "symbol", e.b.Config.Symbol)
		}
	}
	m.log.Error("bracket failed", "bracket", e.b.ID, "bot", e.b.Config.BotID,
		"symbol", e.b.Config.Symbol, "err", err)
	m.changed(e.b, BracketFailed)
}

// Handle applies one order event. Events for child ids not linked yet are
// parked while a create or protection placement is in flight and replayed
// once it finishes. Events for orders that belong to no bracket are
// ignored.
func (m *Manager) Handle(ctx context.Context, ev orders.Event) {
	m.mu.Lock()
	bid, ok := m.byOrder[ev.Order.ID]
	if !ok {
		if m.inflight > 0 {
			m.parked = append(m.parked, ev)
		}
		m.mu.Unlock()
		return
	}
	e := m.brackets[bid]
	m.mu.Unlock()
	if e == nil {
		return
	}

	e.mu.Lock()
	m.apply(ctx, e, ev)
	e.mu.Unlock()

	m.replay(ctx)
}

// apply runs Transition and carries out its actions. Called with e.mu held.
func (m *Manager) apply(ctx context.Context, e *entry, ev orders.Event) {
	next, actions := Transition(e.b, ev)
	if next.Status == e.b.Status {
		return
	}
	e.b = next

	switch next.Status {
	case EntryFilled:
		m.log.Info("bracket entry filled", "bracket", next.ID, "fill_price", next.FillPrice)
	case Completed:
		m.log.Info("bracket completed", "bracket", next.ID, "reason", next.Reason)
	case Failed:
		m.log.Warn("bracket failed", "bracket", next.ID, "reason", next.Reason)
	}

	for _, a := range actions {
		switch a.Kind {
		case PlaceProtection:
			m.mu.Lock()
			m.inflight++
			m.mu.Unlock()
			err := m.protect(ctx, e)
			m.mu.Lock()
			m.inflight--
			m.mu.Unlock()
			if err != nil {
				m.fail(ctx, e, err)
				return
			}
		case CancelOrder:
			m.cancelChild(ctx, e.b.ID, a.OrderID, e.b.Reason)
		}
	}

	m.changed(e.b, eventOf(e.b.Status))
}

func eventOf(s Status) EventType {
	switch s {
	case EntryFilled:
		return BracketEntryFilled
	case Completed:
		return BracketCompleted
	case Cancelled:
		return BracketCancelled
	case Failed:
		return BracketFailed
	default:
		return BracketCreated
	}
}

func (m *Manager) link(orderID, bracketID string) {
	m.mu.Lock()
	m.byOrder[orderID] = bracketID
	m.mu.Unlock()
}

// replay handles parked events whose order has since been linked. Once
// nothing is in flight the rest can never match and are dropped.
func (m *Manager) replay(ctx context.Context) {
	m.mu.Lock()
	var ready, keep []orders.Event
	for _, ev := range m.parked {
		if _, ok := m.byOrder[ev.Order.ID]; ok {
			ready = append(ready, ev)
		} else if m.inflight > 0 {
			keep = append(keep, ev)
		}
	}
	m.parked = keep
	m.mu.Unlock()

	for _, ev := range ready {
		m.Handle(ctx, ev)
	}
}

// Cancel cancels every tracked child in parallel, best effort, and marks
// the bracket CANCELLED. It reports false for unknown or terminal brackets,
// in which case no broker call is made.
func (m *Manager) Cancel(ctx context.Context, bracketID, reason string) bool {
	m.mu.Lock()
	e := m.brackets[bracketID]
	m.mu.Unlock()
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.b.Status.Terminal() {
		return false
	}
	if reason == "" {
		reason = ReasonUserCancelled
	}

	m.cancelChildren(ctx, e.b, reason)
	e.b.Status = Cancelled
	e.b.Reason = reason
	e.b.UpdatedAt = m.now()
	m.log.Info("bracket cancelled", "bracket", e.b.ID, "reason", reason)
	m.changed(e.b, BracketCancelled)
	return true
}

func (m *Manager) cancelChildren(ctx context.Context, b Bracket, reason string) {
	var wg sync.WaitGroup
	for _, oid := range []string{b.EntryOrderID, b.StopLossOrderID, b.TakeProfitOrderID} {
		if oid == "" {
			continue
		}
		wg.Add(1)
		go func(oid string) {
			defer wg.Done()
			m.cancelChild(ctx, b.ID, oid, reason)
		}(oid)
	}
	wg.Wait()
}

func (m *Manager) cancelChild(ctx context.Context, bracketID, orderID, reason string) {
	if o, ok := m.mon.Get(orderID); ok && o.Status.Terminal() {
		return
	}
	if err := m.mon.Cancel(ctx, orderID, reason); err != nil {
		m.log.Warn("cancel child order failed", "bracket", bracketID, "order", orderID, "err", err)
	}
}

// changed records, publishes and counts a bracket state change.
func (m *Manager) changed(b Bracket, t EventType) {
	if m.rec != nil {
		if err := m.rec.RecordBracket(b); err != nil {
			m.log.Error("record bracket failed", "bracket", b.ID, "err", err)
		}
	}
	m.events.Publish(Event{Type: t, Bracket: b, Time: b.UpdatedAt})
	metrics.BracketTransitions.WithLabelValues(string(b.Status)).Inc()
}

func (m *Manager) Get(bracketID string) (Bracket, bool) {
	m.mu.Lock()
	e := m.brackets[bracketID]
	m.mu.Unlock()
	if e == nil {
		return Bracket{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.b, true
}

// all snapshots every bracket. It may block behind a transition in
// progress.
func (m *Manager) all() []Bracket {
	m.mu.Lock()
	es := make([]*entry, 0, len(m.brackets))
	for _, e := range m.brackets {
		es = append(es, e)
	}
	m.mu.Unlock()

	out := make([]Bracket, 0, len(es))
	for _, e := range es {
		e.mu.Lock()
		out = append(out, e.b)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// BotBrackets returns the bot's brackets, oldest first.
func (m *Manager) BotBrackets(botID string) []Bracket {
	var out []Bracket
	for _, b := range m.all() {
		if b.Config.BotID == botID {
			out = append(out, b)
		}
	}
	return out
}

type Stats struct {
	Total    int
	Active   int
	ByStatus map[Status]int
	BySymbol map[string]int
	ByBot    map[string]int
}

func (m *Manager) Stats() Stats {
	s := Stats{
		ByStatus: make(map[Status]int),
		BySymbol: make(map[string]int),
		ByBot:    make(map[string]int),
	}
	for _, b := range m.all() {
		s.Total++
		if !b.Status.Terminal() {
			s.Active++
		}
		s.ByStatus[b.Status]++
		s.BySymbol[b.Config.Symbol]++
		s.ByBot[b.Config.BotID]++
	}
	return s
}

// Evict drops terminal brackets last updated more than olderThan ago,
// along with their child links.
func (m *Manager) Evict(olderThan time.Duration) int {
	now := m.now()
	n := 0
	for _, b := range m.all() {
		if !b.Status.Terminal() || now.Sub(b.UpdatedAt) <= olderThan {
			continue
		}
		m.mu.Lock()
		delete(m.brackets, b.ID)
		for _, oid := range []string{b.EntryOrderID, b.StopLossOrderID, b.TakeProfitOrderID} {
			if m.byOrder[oid] == b.ID {
				delete(m.byOrder, oid)
			}
		}
		m.mu.Unlock()
		n++
	}
	if n > 0 {
		m.log.Debug("evicted terminal brackets", "count", n)
	}
	return n
}

// Restore loads previously persisted brackets without publishing events
// and links their child orders. Brackets already tracked are left alone.
func (m *Manager) Restore(brackets []Bracket) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, b := range brackets {
		if _, ok := m.brackets[b.ID]; ok || b.ID == "" {
			continue
		}
		m.brackets[b.ID] = &entry{b: b}
		for _, oid := range []string{b.EntryOrderID, b.StopLossOrderID, b.TakeProfitOrderID} {
			if oid != "" {
				m.byOrder[oid] = b.ID
			}
		}
		n++
	}
	return n
}
