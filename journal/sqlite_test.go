package journal

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskengine/bracket"
	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/orders"
)

var created = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	j, err := NewSQLite(path)
	require.NoError(t, err)

	return j, path
}

func testOrder(id string, st orders.Status) orders.Order {
	return orders.Order{
		ID:            id,
		BotID:         "bot",
		Symbol:        "EURUSD",
		Side:          market.Buy,
		Kind:          broker.Limit,
		Size:          1000,
		Price:         1.0845,
		Status:        st,
		TimeInForce:   orders.GTD,
		ExpireTime:    created.Add(time.Hour),
		BrokerOrderID: "deal-" + id,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func testBracket(id string, st bracket.Status) bracket.Bracket {
	return bracket.Bracket{
		ID: id,
		Config: bracket.Config{
			BotID:       "bot",
			Symbol:      "BTCUSD",
			Side:        market.Sell,
			EntryKind:   broker.Stop,
			Size:        0.5,
			EntryPrice:  100,
			StopLoss:    105,
			TakeProfit:  90,
			TimeInForce: orders.GTC,
		},
		EntryOrderID: "ord-" + id,
		Status:       st,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	assert.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('orders','brackets')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		assert.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	assert.NoError(t, rows.Err())

	assert.True(t, found["orders"])
	assert.True(t, found["brackets"])
}

func TestSQLiteReopenKeepsRows(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.RecordOrder(testOrder("o1", orders.Pending)))
	require.NoError(t, j.Close())

	j, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	got, err := j.GetOrder("o1")
	require.NoError(t, err)
	assert.Equal(t, testOrder("o1", orders.Pending), got)
}

func TestSQLiteOrderUpsert(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	o := testOrder("o1", orders.Pending)
	require.NoError(t, j.RecordOrder(o))

	o.Status = orders.Filled
	o.FillPrice = 1.0844
	o.FillTime = created.Add(time.Minute)
	o.Reason = "filled"
	o.UpdatedAt = created.Add(time.Minute)
	require.NoError(t, j.RecordOrder(o))

	got, err := j.GetOrder("o1")
	require.NoError(t, err)
	assert.Equal(t, o, got)

	var n int
	require.NoError(t, j.db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSQLiteKeepsProtectiveFlag(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	o := testOrder("sl", orders.Pending)
	o.Side = market.Sell
	o.Kind = broker.Stop
	o.TimeInForce = orders.GTC
	o.ExpireTime = time.Time{}
	o.Protective = true
	require.NoError(t, j.RecordOrder(o))

	open, err := j.OpenOrders()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].Protective)
	assert.Equal(t, o, open[0])
}

func TestSQLiteGetMissing(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	_, err := j.GetOrder("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = j.GetBracket("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteOpenOrders(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	late := testOrder("o2", orders.Pending)
	late.CreatedAt = created.Add(time.Minute)
	require.NoError(t, j.RecordOrder(late))
	require.NoError(t, j.RecordOrder(testOrder("o1", orders.Pending)))
	require.NoError(t, j.RecordOrder(testOrder("o3", orders.Cancelled)))
	require.NoError(t, j.RecordOrder(testOrder("o4", orders.Expired)))

	open, err := j.OpenOrders()
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "o1", open[0].ID)
	assert.Equal(t, "o2", open[1].ID)
}

func TestSQLiteBrackets(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	b := testBracket("b1", bracket.Pending)
	require.NoError(t, j.RecordBracket(b))
	require.NoError(t, j.RecordBracket(testBracket("b2", bracket.Completed)))
	require.NoError(t, j.RecordBracket(testBracket("b3", bracket.Failed)))

	b.Status = bracket.EntryFilled
	b.FillPrice = 99.8
	b.FillTime = created.Add(time.Minute)
	b.StopLossOrderID = "ord-sl"
	b.TakeProfitOrderID = "ord-tp"
	b.UpdatedAt = created.Add(time.Minute)
	require.NoError(t, j.RecordBracket(b))

	got, err := j.GetBracket("b1")
	require.NoError(t, err)
	assert.Equal(t, b, got)

	open, err := j.OpenBrackets()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, b, open[0])
}

func TestSQLiteBracketsUpdatedBetween(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	for i, id := range []string{"b1", "b2", "b3"} {
		b := testBracket(id, bracket.Completed)
		b.UpdatedAt = created.Add(time.Duration(i) * 12 * time.Hour)
		require.NoError(t, j.RecordBracket(b))
	}

	got, err := j.ListBracketsUpdatedBetween(created, created.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b1", got[0].ID)
	assert.Equal(t, "b2", got[1].ID)
}
