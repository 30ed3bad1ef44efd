package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rustyeddy/riskengine/bracket"
	"github.com/rustyeddy/riskengine/orders"
)

var (
	orderHeader = []string{"time", "id", "bot_id", "symbol", "side", "kind", "size", "price",
		"status", "fill_price", "broker_order_id", "reason"}
	bracketHeader = []string{"time", "id", "bot_id", "symbol", "side", "entry_kind", "size",
		"entry_price", "stop_loss", "take_profit", "status", "fill_price", "reason"}
)

// CSV appends one row per state change. Files are opened for append and
// get a header only when empty.
type CSV struct {
	mu       sync.Mutex
	orders   *csv.Writer
	brackets *csv.Writer
	of, bf   *os.File
}

func NewCSV(ordersPath, bracketsPath string) (*CSV, error) {
	of, ow, err := openAppend(ordersPath, orderHeader)
	if err != nil {
		return nil, err
	}
	bf, bw, err := openAppend(bracketsPath, bracketHeader)
	if err != nil {
		of.Close()
		return nil, err
	}
	return &CSV{orders: ow, brackets: bw, of: of, bf: bf}, nil
}

func openAppend(path string, header []string) (*os.File, *csv.Writer, error) {
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	st, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, nil, err
	}

	w := csv.NewWriter(fh)
	if st.Size() == 0 {
		w.Write(header)
		w.Flush()
		if err := w.Error(); err != nil {
			fh.Close()
			return nil, nil, fmt.Errorf("write header %s: %w", path, err)
		}
	}
	return fh, w, nil
}

func (j *CSV) RecordOrder(o orders.Order) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.orders.Write([]string{
		o.UpdatedAt.UTC().Format(time.RFC3339),
		o.ID,
		o.BotID,
		o.Symbol,
		string(o.Side),
		string(o.Kind),
		f(o.Size),
		f(o.Price),
		string(o.Status),
		f(o.FillPrice),
		o.BrokerOrderID,
		o.Reason,
	})
	j.orders.Flush()
	return j.orders.Error()
}

func (j *CSV) RecordBracket(b bracket.Bracket) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	c := b.Config
	j.brackets.Write([]string{
		b.UpdatedAt.UTC().Format(time.RFC3339),
		b.ID,
		c.BotID,
		c.Symbol,
		string(c.Side),
		string(c.EntryKind),
		f(c.Size),
		f(c.EntryPrice),
		f(c.StopLoss),
		f(c.TakeProfit),
		string(b.Status),
		f(b.FillPrice),
		b.Reason,
	})
	j.brackets.Flush()
	return j.brackets.Error()
}

func (j *CSV) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.orders.Flush()
	if err := j.orders.Error(); err != nil {
		return err
	}
	j.brackets.Flush()
	if err := j.brackets.Error(); err != nil {
		return err
	}

	if err := j.of.Close(); err != nil {
		return err
	}
	if err := j.bf.Close(); err != nil {
		return err
	}
	return nil
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
