package market

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoPrice is returned by TickStore.Get for an instrument with no quote.
var ErrNoPrice = errors.New("price not found")

type TickSource interface {
	GetTick(ctx context.Context, instrument string) (Tick, error)
}

// Tick is a top-of-book quote.
type Tick struct {
	Instrument string
	Time       time.Time
	Bid        float64
	Ask        float64
}

func (t Tick) Mid() float64 {
	if t.Bid == 0 && t.Ask == 0 {
		return 0
	}
	if t.Bid == 0 {
		return t.Ask
	}
	if t.Ask == 0 {
		return t.Bid
	}
	return (t.Bid + t.Ask) / 2
}

func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

// Price returns the side of the book an order on side would execute
// against: the ask for buys, the bid for sells.
func (t Tick) Price(side Side) float64 {
	if side == Sell {
		return t.Bid
	}
	return t.Ask
}

type TickStore struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

func NewTickStore() *TickStore {
	return &TickStore{ticks: make(map[string]Tick)}
}

func (ts *TickStore) Set(t Tick) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.ticks[t.Instrument] = t
}

func (ts *TickStore) Get(instr string) (Tick, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.ticks[instr]
	if !ok {
		return Tick{}, ErrNoPrice
	}
	return t, nil
}

// Fresh returns the stored tick only when it is younger than maxAge at now.
func (ts *TickStore) Fresh(instr string, maxAge time.Duration, now time.Time) (Tick, bool) {
	t, err := ts.Get(instr)
	if err != nil {
		return Tick{}, false
	}
	if t.Time.IsZero() || now.Sub(t.Time) > maxAge {
		return Tick{}, false
	}
	return t, true
}
