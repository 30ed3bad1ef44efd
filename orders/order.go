// Package orders tracks individually submitted working orders, polls the
// broker for their outcome and publishes lifecycle events.
package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/market"
)

var (
	ErrTooManyPending = errors.New("too many pending orders")
	ErrNotFound       = errors.New("order not found")
	ErrNotPending     = errors.New("order is not pending")
)

type Status string

const (
	Pending   Status = "PENDING"
	Filled    Status = "FILLED"
	Cancelled Status = "CANCELLED"
	Expired   Status = "EXPIRED"
)

func (s Status) Terminal() bool { return s != Pending }

type TimeInForce string

const (
	GTC TimeInForce = "GTC" // good till cancelled
	DAY TimeInForce = "DAY"
	GTD TimeInForce = "GTD" // good till ExpireTime
)

type Order struct {
	ID          string
	BotID       string
	Symbol      string
	Side        market.Side
	Kind        broker.OrderKind
	Size        float64
	Price       float64
	StopLevel   float64
	ProfitLevel float64

	Status      Status
	TimeInForce TimeInForce
	ExpireTime  time.Time
	Protective  bool

	FillPrice     float64
	FillTime      time.Time
	BrokerOrderID string
	Reason        string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Request describes a working order to submit.
type Request struct {
	BotID       string
	Symbol      string
	Side        market.Side
	Kind        broker.OrderKind
	Size        float64
	Price       float64
	StopLevel   float64
	ProfitLevel float64
	TimeInForce TimeInForce
	ExpireTime  time.Time

	// Protective orders guard an open position. They bypass the per bot
	// pending limit and never age out.
	Protective bool
}

func (r Request) validate() error {
	switch {
	case r.Symbol == "":
		return fmt.Errorf("symbol is required")
	case !r.Side.Valid():
		return fmt.Errorf("invalid side %q", r.Side)
	case r.Kind != broker.Limit && r.Kind != broker.Stop:
		return fmt.Errorf("order kind must be LIMIT or STOP, got %q", r.Kind)
	case !(r.Size > 0):
		return fmt.Errorf("size must be positive")
	case !(r.Price > 0):
		return fmt.Errorf("price must be positive")
	case r.TimeInForce == GTD && r.ExpireTime.IsZero():
		return fmt.Errorf("GTD order needs an expire time")
	}
	return nil
}

type EventType string

const (
	OrderAdded     EventType = "order_added"
	OrderFilled    EventType = "order_filled"
	OrderCancelled EventType = "order_cancelled"
	OrderExpired   EventType = "order_expired"
)

// Event is published for every order state change, carrying a copy of the
// order after the change.
type Event struct {
	Type  EventType
	Order Order
	Time  time.Time
}

// EventFor is the event type published when an order enters s.
func EventFor(s Status) EventType {
	switch s {
	case Filled:
		return OrderFilled
	case Cancelled:
		return OrderCancelled
	case Expired:
		return OrderExpired
	default:
		return OrderAdded
	}
}

// Recorder persists order state changes.
type Recorder interface {
	RecordOrder(Order) error
}
