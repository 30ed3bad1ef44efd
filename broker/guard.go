package broker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rustyeddy/riskengine/internal/logging"
	"github.com/rustyeddy/riskengine/internal/metrics"
	"github.com/rustyeddy/riskengine/market"
)

const DefaultCallTimeout = 10 * time.Second

// Guard wraps a Broker so that every call is bounded by a timeout, every
// non-accepted ack becomes a *RejectionError, and every outcome is counted.
type Guard struct {
	next    Broker
	timeout time.Duration
	log     *slog.Logger
}

type GuardOption func(*Guard)

func WithTimeout(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) { g.log = l }
}

func NewGuard(next Broker, opts ...GuardOption) *Guard {
	g := &Guard{next: next, timeout: DefaultCallTimeout}
	for _, o := range opts {
		o(g)
	}
	g.log = logging.OrDefault(g.log)
	return g
}

var _ Broker = (*Guard)(nil)

// call runs fn with a deadline and returns when either fn finishes or the
// deadline passes, whichever comes first.
func call[T any](g *Guard, ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		v, err := fn(cctx)
		done <- result{v, err}
	}()

	var (
		v   T
		err error
	)
	select {
	case r := <-done:
		v, err = r.v, r.err
	case <-cctx.Done():
		err = cctx.Err()
	}
	metrics.BrokerLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = &TimeoutError{Op: op, After: g.timeout}
	}

	outcome := "ok"
	var to *TimeoutError
	switch {
	case err == nil:
	case errors.As(err, &to):
		outcome = "timeout"
		g.log.Warn("broker call timed out", "op", op, "after", g.timeout)
	case errors.Is(err, ErrRejected):
		outcome = "rejected"
		g.log.Warn("broker rejected call", "op", op, "err", err)
	default:
		outcome = "error"
		g.log.Error("broker call failed", "op", op, "err", err)
	}
	metrics.BrokerCalls.WithLabelValues(op, outcome).Inc()
	return v, err
}

func (g *Guard) create(ctx context.Context, op string, req OrderRequest, fn func(context.Context, OrderRequest) (Ack, error)) (Ack, error) {
	return call(g, ctx, op, func(ctx context.Context) (Ack, error) {
		ack, err := fn(ctx, req)
		if err != nil {
			return ack, err
		}
		if !ack.Accepted() {
			return ack, &RejectionError{Op: op, Code: ack.Reason, Message: string(ack.DealStatus)}
		}
		return ack, nil
	})
}

func (g *Guard) CreateMarketOrder(ctx context.Context, req OrderRequest) (Ack, error) {
	return g.create(ctx, "create_market", req, g.next.CreateMarketOrder)
}

func (g *Guard) CreateLimitOrder(ctx context.Context, req OrderRequest) (Ack, error) {
	return g.create(ctx, "create_limit", req, g.next.CreateLimitOrder)
}

func (g *Guard) CreateStopOrder(ctx context.Context, req OrderRequest) (Ack, error) {
	return g.create(ctx, "create_stop", req, g.next.CreateStopOrder)
}

func (g *Guard) CancelOrder(ctx context.Context, brokerOrderID string) error {
	_, err := call(g, ctx, "cancel", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.next.CancelOrder(ctx, brokerOrderID)
	})
	return err
}

func (g *Guard) OrderStatus(ctx context.Context, brokerOrderID string) (OrderStatus, error) {
	return call(g, ctx, "order_status", func(ctx context.Context) (OrderStatus, error) {
		return g.next.OrderStatus(ctx, brokerOrderID)
	})
}

func (g *Guard) InstrumentRules(ctx context.Context, instrument string) (Rules, error) {
	return call(g, ctx, "instrument_rules", func(ctx context.Context) (Rules, error) {
		return g.next.InstrumentRules(ctx, instrument)
	})
}

func (g *Guard) LatestQuote(ctx context.Context, instrument string) (market.Tick, error) {
	return call(g, ctx, "latest_quote", func(ctx context.Context) (market.Tick, error) {
		return g.next.LatestQuote(ctx, instrument)
	})
}

func (g *Guard) GetAccount(ctx context.Context) (Account, error) {
	return call(g, ctx, "account", g.next.GetAccount)
}
