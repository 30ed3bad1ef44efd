package journal

const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	bot_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	kind TEXT NOT NULL,
	size REAL NOT NULL,
	price REAL NOT NULL,
	stop_level REAL NOT NULL,
	profit_level REAL NOT NULL,
	status TEXT NOT NULL,
	time_in_force TEXT NOT NULL,
	expire_time DATETIME NOT NULL,
	protective BOOLEAN NOT NULL DEFAULT 0,
	fill_price REAL NOT NULL,
	fill_time DATETIME NOT NULL,
	broker_order_id TEXT NOT NULL,
	reason TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS brackets (
	id TEXT PRIMARY KEY,
	bot_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	entry_kind TEXT NOT NULL,
	size REAL NOT NULL,
	entry_price REAL NOT NULL,
	stop_loss REAL NOT NULL,
	take_profit REAL NOT NULL,
	time_in_force TEXT NOT NULL,
	expire_time DATETIME NOT NULL,
	entry_order_id TEXT NOT NULL,
	stop_loss_order_id TEXT NOT NULL,
	take_profit_order_id TEXT NOT NULL,
	status TEXT NOT NULL,
	fill_price REAL NOT NULL,
	fill_time DATETIME NOT NULL,
	reason TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_brackets_status ON brackets(status);
`
