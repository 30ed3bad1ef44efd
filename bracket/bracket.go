// Package bracket links an entry order with a stop loss and a take profit
// and drives the trio through its lifecycle from monitor events.
package bracket

import (
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/orders"
)

type Status string

const (
	Pending     Status = "PENDING"
	EntryFilled Status = "ENTRY_FILLED"
	Completed   Status = "COMPLETED"
	Cancelled   Status = "CANCELLED"
	Failed      Status = "FAILED"
)

func (s Status) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

const (
	ReasonStopLoss       = "Stop loss triggered"
	ReasonTakeProfit     = "Take profit triggered"
	ReasonEntryCancelled = "Entry order cancelled"
	ReasonUserCancelled  = "Cancelled by user"
)

type Config struct {
	BotID      string
	Symbol     string
	Side       market.Side
	EntryKind  broker.OrderKind
	Size       float64
	EntryPrice float64 // required for LIMIT and STOP entries
	StopLoss   float64
	TakeProfit float64

	TimeInForce orders.TimeInForce // entry order only; protection is always GTC
	ExpireTime  time.Time
}

type Bracket struct {
	ID                string
	Config            Config
	EntryOrderID      string
	StopLossOrderID   string
	TakeProfitOrderID string
	Status            Status
	FillPrice         float64
	FillTime          time.Time
	Reason            string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ValidationError reports a malformed bracket config. Nothing is sent to the
// broker when Create returns one.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid bracket %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the config. ref is the price the protective levels are
// ordered around: the entry price, or the current price for a market entry
// without one. With ref unknown only stop against take profit is checked.
func (c Config) Validate(ref float64) error {
	switch {
	case c.Symbol == "":
		return invalid("symbol", "is required")
	case !c.Side.Valid():
		return invalid("side", "must be BUY or SELL, got %q", c.Side)
	case math.IsNaN(c.Size) || math.IsInf(c.Size, 0) || c.Size <= 0:
		return invalid("size", "must be positive, got %g", c.Size)
	}

	switch c.EntryKind {
	case broker.Market:
	case broker.Limit, broker.Stop:
		if !(c.EntryPrice > 0) {
			return invalid("entry_price", "is required for a %s entry", c.EntryKind)
		}
	default:
		return invalid("entry_kind", "must be MARKET, LIMIT or STOP, got %q", c.EntryKind)
	}

	if !(c.StopLoss > 0) {
		return invalid("stop_loss", "is required")
	}
	if !(c.TakeProfit > 0) {
		return invalid("take_profit", "is required")
	}

	if ref > 0 {
		if c.Side == market.Buy && !(c.StopLoss < ref && ref < c.TakeProfit) {
			return invalid("levels", "buy needs stop loss %g < entry %g < take profit %g", c.StopLoss, ref, c.TakeProfit)
		}
		if c.Side == market.Sell && !(c.TakeProfit < ref && ref < c.StopLoss) {
			return invalid("levels", "sell needs take profit %g < entry %g < stop loss %g", c.TakeProfit, ref, c.StopLoss)
		}
		return nil
	}

	if c.Side == market.Buy && c.StopLoss >= c.TakeProfit {
		return invalid("levels", "buy stop loss %g must be below take profit %g", c.StopLoss, c.TakeProfit)
	}
	if c.Side == market.Sell && c.StopLoss <= c.TakeProfit {
		return invalid("levels", "sell stop loss %g must be above take profit %g", c.StopLoss, c.TakeProfit)
	}
	return nil
}

type EventType string

const (
	BracketCreated     EventType = "bracket_created"
	BracketEntryFilled EventType = "bracket_entry_filled"
	BracketCompleted   EventType = "bracket_completed"
	BracketCancelled   EventType = "bracket_cancelled"
	BracketFailed      EventType = "bracket_failed"
)

type Event struct {
	Type    EventType
	Bracket Bracket
	Time    time.Time
}

// Recorder persists bracket state changes.
type Recorder interface {
	RecordBracket(Bracket) error
}

// RejectionLearner is told about broker rejections so it can learn limits
// from them.
type RejectionLearner interface {
	LearnFromRejection(instrument string, err error) bool
}
