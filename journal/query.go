package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/riskengine/bracket"
	"github.com/rustyeddy/riskengine/orders"
)

var ErrNotFound = errors.New("journal record not found")

const orderColumns = `id, bot_id, symbol, side, kind, size, price, stop_level, profit_level, status,
	time_in_force, expire_time, protective, fill_price, fill_time, broker_order_id, reason, created_at, updated_at`

const bracketColumns = `id, bot_id, symbol, side, entry_kind, size, entry_price, stop_loss, take_profit,
	time_in_force, expire_time, entry_order_id, stop_loss_order_id, take_profit_order_id,
	status, fill_price, fill_time, reason, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (orders.Order, error) {
	var o orders.Order
	err := s.Scan(
		&o.ID, &o.BotID, &o.Symbol, &o.Side, &o.Kind, &o.Size, &o.Price,
		&o.StopLevel, &o.ProfitLevel, &o.Status, &o.TimeInForce, &o.ExpireTime,
		&o.Protective, &o.FillPrice, &o.FillTime, &o.BrokerOrderID, &o.Reason, &o.CreatedAt, &o.UpdatedAt,
	)
	o.ExpireTime = o.ExpireTime.UTC()
	o.FillTime = o.FillTime.UTC()
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, err
}

func scanBracket(s scanner) (bracket.Bracket, error) {
	var b bracket.Bracket
	c := &b.Config
	err := s.Scan(
		&b.ID, &c.BotID, &c.Symbol, &c.Side, &c.EntryKind, &c.Size, &c.EntryPrice,
		&c.StopLoss, &c.TakeProfit, &c.TimeInForce, &c.ExpireTime,
		&b.EntryOrderID, &b.StopLossOrderID, &b.TakeProfitOrderID,
		&b.Status, &b.FillPrice, &b.FillTime, &b.Reason, &b.CreatedAt, &b.UpdatedAt,
	)
	c.ExpireTime = c.ExpireTime.UTC()
	b.FillTime = b.FillTime.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, err
}

// GetOrder returns a single order by ID.
func (j *SQLite) GetOrder(id string) (orders.Order, error) {
	o, err := scanOrder(j.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return orders.Order{}, fmt.Errorf("order %q: %w", id, ErrNotFound)
		}
		return orders.Order{}, err
	}
	return o, nil
}

// GetBracket returns a single bracket by ID.
func (j *SQLite) GetBracket(id string) (bracket.Bracket, error) {
	b, err := scanBracket(j.db.QueryRow(`SELECT `+bracketColumns+` FROM brackets WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return bracket.Bracket{}, fmt.Errorf("bracket %q: %w", id, ErrNotFound)
		}
		return bracket.Bracket{}, err
	}
	return b, nil
}

// OpenOrders returns the orders still PENDING, oldest first.
func (j *SQLite) OpenOrders() ([]orders.Order, error) {
	rows, err := j.db.Query(`SELECT `+orderColumns+` FROM orders
		WHERE status = ?
		ORDER BY created_at ASC`, string(orders.Pending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenBrackets returns brackets that are PENDING or ENTRY_FILLED, oldest
// first.
func (j *SQLite) OpenBrackets() ([]bracket.Bracket, error) {
	rows, err := j.db.Query(`SELECT `+bracketColumns+` FROM brackets
		WHERE status IN (?, ?)
		ORDER BY created_at ASC`, string(bracket.Pending), string(bracket.EntryFilled))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bracket.Bracket
	for rows.Next() {
		b, err := scanBracket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListBracketsUpdatedBetween returns brackets whose last change is within
// [start, end).
func (j *SQLite) ListBracketsUpdatedBetween(start, end time.Time) ([]bracket.Bracket, error) {
	rows, err := j.db.Query(`SELECT `+bracketColumns+` FROM brackets
		WHERE updated_at >= ? AND updated_at < ?
		ORDER BY updated_at ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bracket.Bracket
	for rows.Next() {
		b, err := scanBracket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
