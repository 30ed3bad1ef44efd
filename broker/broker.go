package broker

import (
	"context"
	"time"

	"github.com/rustyeddy/riskengine/market"
)

// Broker is the narrow order placement contract the engine consumes.
type Broker interface {
	CreateMarketOrder(ctx context.Context, req OrderRequest) (Ack, error)
	CreateLimitOrder(ctx context.Context, req OrderRequest) (Ack, error)
	CreateStopOrder(ctx context.Context, req OrderRequest) (Ack, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	OrderStatus(ctx context.Context, brokerOrderID string) (OrderStatus, error)
	InstrumentRules(ctx context.Context, instrument string) (Rules, error)
	LatestQuote(ctx context.Context, instrument string) (market.Tick, error)
	GetAccount(ctx context.Context) (Account, error)
}

type OrderKind string

const (
	Market OrderKind = "MARKET"
	Limit  OrderKind = "LIMIT"
	Stop   OrderKind = "STOP"
)

// Create dispatches req to the create call for kind.
func Create(ctx context.Context, b Broker, kind OrderKind, req OrderRequest) (Ack, error) {
	switch kind {
	case Limit:
		return b.CreateLimitOrder(ctx, req)
	case Stop:
		return b.CreateStopOrder(ctx, req)
	default:
		return b.CreateMarketOrder(ctx, req)
	}
}

type Account struct {
	ID        string
	Currency  string
	Balance   float64
	Equity    float64
	Available float64
}

type OrderRequest struct {
	Instrument string
	Side       market.Side
	Size       float64
	// Price is the working level for LIMIT and STOP orders.
	Price float64

	// Optional protective levels attached to the position on fill. Zero
	// means none.
	StopLevel   float64
	ProfitLevel float64

	GoodTillDate time.Time
	Reference    string
}

type DealStatus string

const (
	Accepted DealStatus = "ACCEPTED"
	Rejected DealStatus = "REJECTED"
)

// Ack is the broker's answer to an order submission.
type Ack struct {
	BrokerOrderID string
	DealStatus    DealStatus
	Reason        string
}

func (a Ack) Accepted() bool { return a.DealStatus == Accepted }

type OrderState string

const (
	StateWorking   OrderState = "WORKING"
	StateFilled    OrderState = "FILLED"
	StateCancelled OrderState = "CANCELLED"
	StateRejected  OrderState = "REJECTED"
)

type OrderStatus struct {
	BrokerOrderID string
	State         OrderState
	FillPrice     float64
	FillTime      time.Time
	Reason        string
}

// Rules are an instrument's dealing rules with every distance expressed in
// price units. Zero means the broker did not report the rule.
type Rules struct {
	Instrument        string
	MinSize           float64
	MaxSize           float64
	MinStopDistance   float64
	MaxStopDistance   float64
	MinProfitDistance float64
	MaxProfitDistance float64
	DecimalPlaces     int
	PipValue          float64
}
