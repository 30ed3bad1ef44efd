package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/riskengine/bracket"
	"github.com/rustyeddy/riskengine/orders"
)

// SQLite keeps the latest state of every order and bracket, one row each.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema %s: %w", path, err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordOrder(o orders.Order) error {
	_, err := j.db.Exec(`
		INSERT INTO orders
		(id, bot_id, symbol, side, kind, size, price, stop_level, profit_level, status,
		 time_in_force, expire_time, protective, fill_price, fill_time, broker_order_id, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			fill_price = excluded.fill_price,
			fill_time = excluded.fill_time,
			broker_order_id = excluded.broker_order_id,
			reason = excluded.reason,
			updated_at = excluded.updated_at`,
		o.ID, o.BotID, o.Symbol, string(o.Side), string(o.Kind), o.Size, o.Price,
		o.StopLevel, o.ProfitLevel, string(o.Status), string(o.TimeInForce), o.ExpireTime.UTC(),
		o.Protective, o.FillPrice, o.FillTime.UTC(), o.BrokerOrderID, o.Reason, o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record order %s: %w", o.ID, err)
	}
	return nil
}

func (j *SQLite) RecordBracket(b bracket.Bracket) error {
	c := b.Config
	_, err := j.db.Exec(`
		INSERT INTO brackets
		(id, bot_id, symbol, side, entry_kind, size, entry_price, stop_loss, take_profit,
		 time_in_force, expire_time, entry_order_id, stop_loss_order_id, take_profit_order_id,
		 status, fill_price, fill_time, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entry_order_id = excluded.entry_order_id,
			stop_loss_order_id = excluded.stop_loss_order_id,
			take_profit_order_id = excluded.take_profit_order_id,
			status = excluded.status,
			fill_price = excluded.fill_price,
			fill_time = excluded.fill_time,
			reason = excluded.reason,
			updated_at = excluded.updated_at`,
		b.ID, c.BotID, c.Symbol, string(c.Side), string(c.EntryKind), c.Size, c.EntryPrice,
		c.StopLoss, c.TakeProfit, string(c.TimeInForce), c.ExpireTime.UTC(),
		b.EntryOrderID, b.StopLossOrderID, b.TakeProfitOrderID,
		string(b.Status), b.FillPrice, b.FillTime.UTC(), b.Reason, b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record bracket %s: %w", b.ID, err)
	}
	return nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
