package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/riskengine/bracket"
	"github.com/rustyeddy/riskengine/orders"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	rows, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVJournalHeaders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ordersPath := filepath.Join(dir, "orders.csv")
	bracketsPath := filepath.Join(dir, "brackets.csv")

	j, err := NewCSV(ordersPath, bracketsPath)
	require.NoError(t, err)
	assert.NoError(t, j.Close())

	assert.Equal(t, [][]string{orderHeader}, readCSV(t, ordersPath))
	assert.Equal(t, [][]string{bracketHeader}, readCSV(t, bracketsPath))
}

func TestCSVJournalRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ordersPath := filepath.Join(dir, "orders.csv")
	bracketsPath := filepath.Join(dir, "brackets.csv")

	j, err := NewCSV(ordersPath, bracketsPath)
	require.NoError(t, err)

	o := testOrder("o1", orders.Filled)
	o.FillPrice = 1.0844
	o.Reason = "filled"
	require.NoError(t, j.RecordOrder(o))
	require.NoError(t, j.RecordBracket(testBracket("b1", bracket.Pending)))
	require.NoError(t, j.Close())

	rows := readCSV(t, ordersPath)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{
		created.Format(time.RFC3339), "o1", "bot", "EURUSD", "BUY", "LIMIT",
		"1000.000000", "1.084500", "FILLED", "1.084400", "deal-o1", "filled",
	}, rows[1])

	rows = readCSV(t, bracketsPath)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{
		created.Format(time.RFC3339), "b1", "bot", "BTCUSD", "SELL", "STOP",
		"0.500000", "100.000000", "105.000000", "90.000000", "PENDING", "0.000000", "",
	}, rows[1])
}

func TestCSVJournalAppends(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ordersPath := filepath.Join(dir, "orders.csv")
	bracketsPath := filepath.Join(dir, "brackets.csv")

	for _, st := range []orders.Status{orders.Pending, orders.Cancelled} {
		j, err := NewCSV(ordersPath, bracketsPath)
		require.NoError(t, err)
		require.NoError(t, j.RecordOrder(testOrder("o1", st)))
		require.NoError(t, j.Close())
	}

	rows := readCSV(t, ordersPath)
	require.Len(t, rows, 3)
	assert.Equal(t, orderHeader, rows[0])
	assert.Equal(t, "PENDING", rows[1][8])
	assert.Equal(t, "CANCELLED", rows[2][8])
}

type failing struct{ Journal }

func (failing) RecordOrder(orders.Order) error { return os.ErrClosed }

func TestTee(t *testing.T) {
	t.Parallel()

	a, _ := newTestSQLite(t)
	b, _ := newTestSQLite(t)
	tj := Tee(a, b)

	require.NoError(t, tj.RecordOrder(testOrder("o1", orders.Pending)))
	require.NoError(t, tj.RecordBracket(testBracket("b1", bracket.Pending)))
	for _, j := range []*SQLite{a, b} {
		_, err := j.GetOrder("o1")
		assert.NoError(t, err)
		_, err = j.GetBracket("b1")
		assert.NoError(t, err)
	}

	err := Tee(a, failing{b}).RecordOrder(testOrder("o2", orders.Pending))
	assert.ErrorIs(t, err, os.ErrClosed)
	_, err = a.GetOrder("o2")
	assert.NoError(t, err, "a write still lands when a sibling fails")

	assert.NoError(t, tj.Close())
}
