package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rustyeddy/riskengine/internal/logging"
	"github.com/rustyeddy/riskengine/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBroker answers every call from its fields. A non-zero delay makes
// calls block until the delay passes, ignoring ctx.
type stubBroker struct {
	ack    Ack
	err    error
	delay  time.Duration
	status OrderStatus
	calls  int
}

func (s *stubBroker) wait() {
	s.calls++
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
}

func (s *stubBroker) CreateMarketOrder(ctx context.Context, req OrderRequest) (Ack, error) {
	s.wait()
	return s.ack, s.err
}

func (s *stubBroker) CreateLimitOrder(ctx context.Context, req OrderRequest) (Ack, error) {
	return s.CreateMarketOrder(ctx, req)
}

func (s *stubBroker) CreateStopOrder(ctx context.Context, req OrderRequest) (Ack, error) {
	return s.CreateMarketOrder(ctx, req)
}

func (s *stubBroker) CancelOrder(ctx context.Context, id string) error {
	s.wait()
	return s.err
}

func (s *stubBroker) OrderStatus(ctx context.Context, id string) (OrderStatus, error) {
	s.wait()
	return s.status, s.err
}

func (s *stubBroker) InstrumentRules(ctx context.Context, instrument string) (Rules, error) {
	s.wait()
	return Rules{Instrument: instrument}, s.err
}

func (s *stubBroker) LatestQuote(ctx context.Context, instrument string) (market.Tick, error) {
	s.wait()
	return market.Tick{Instrument: instrument, Bid: 1, Ask: 2}, s.err
}

func (s *stubBroker) GetAccount(ctx context.Context) (Account, error) {
	s.wait()
	return Account{Balance: 100}, s.err
}

func TestGuardAccepted(t *testing.T) {
	t.Parallel()

	stub := &stubBroker{ack: Ack{BrokerOrderID: "d1", DealStatus: Accepted}}
	g := NewGuard(stub, WithLogger(logging.Discard()))

	ack, err := g.CreateLimitOrder(context.Background(), OrderRequest{Instrument: "BTCUSD"})
	require.NoError(t, err)
	assert.Equal(t, "d1", ack.BrokerOrderID)
	assert.Equal(t, 1, stub.calls)
}

func TestGuardRejectedAck(t *testing.T) {
	t.Parallel()

	stub := &stubBroker{ack: Ack{DealStatus: Rejected, Reason: "error.invalid.stoploss.maxvalue: 105"}}
	g := NewGuard(stub, WithLogger(logging.Discard()))

	_, err := g.CreateStopOrder(context.Background(), OrderRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)

	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "create_stop", rej.Op)
	assert.Equal(t, "error.invalid.stoploss.maxvalue: 105", Reason(err))
}

func TestGuardTimeoutIsRejection(t *testing.T) {
	t.Parallel()

	stub := &stubBroker{delay: 200 * time.Millisecond, ack: Ack{DealStatus: Accepted}}
	g := NewGuard(stub, WithTimeout(20*time.Millisecond), WithLogger(logging.Discard()))

	start := time.Now()
	_, err := g.CreateMarketOrder(context.Background(), OrderRequest{})
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	var to *TimeoutError
	require.ErrorAs(t, err, &to)
	assert.Equal(t, "timeout", Reason(err))
}

func TestGuardParentCancelIsNotTimeout(t *testing.T) {
	t.Parallel()

	stub := &stubBroker{delay: 200 * time.Millisecond}
	g := NewGuard(stub, WithLogger(logging.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.CancelOrder(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrRejected)
}

func TestGuardPassesPlainErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	g := NewGuard(&stubBroker{err: boom}, WithLogger(logging.Discard()))

	_, err := g.OrderStatus(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrRejected)
	assert.Equal(t, "boom", Reason(err))

	_, err = g.GetAccount(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRejectionErrorWrapped(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("place stop: %w", &RejectionError{Op: "create_stop", Message: "market closed"})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, "market closed", Reason(err))
	assert.Contains(t, err.Error(), "create_stop rejected: market closed")
}

func TestCreateDispatch(t *testing.T) {
	t.Parallel()

	stub := &stubBroker{ack: Ack{BrokerOrderID: "x", DealStatus: Accepted}}
	for _, k := range []OrderKind{Market, Limit, Stop} {
		ack, err := Create(context.Background(), stub, k, OrderRequest{})
		require.NoError(t, err)
		assert.Equal(t, "x", ack.BrokerOrderID)
	}
	assert.Equal(t, 3, stub.calls)
}
