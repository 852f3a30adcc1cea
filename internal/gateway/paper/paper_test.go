package paper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finagent/internal/gateway/exchange"
)

func TestPaperBuySellRoundTrip(t *testing.T) {
	b := New(0)
	ctx := context.Background()

	acct, err := b.Account(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(DefaultStartingCash), acct.Cash)

	ack, err := b.PlaceOrder(ctx, exchange.OrderRequest{Symbol: "AAPL", Side: exchange.SideBuy, Quantity: 10, LimitPrice: 50})
	require.NoError(t, err)
	assert.NotEmpty(t, ack.OrderRef)
	assert.EqualValues(t, 10, ack.FilledQty)

	acct, _ = b.Account(ctx)
	assert.InDelta(t, 9500, acct.Cash, 1e-9)
	assert.InDelta(t, 10000, acct.Equity, 1e-9, "equity includes the new position at fill price")

	positions, err := b.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].Symbol)
	assert.EqualValues(t, 10, positions[0].Quantity)
	assert.InDelta(t, 50, positions[0].AvgPrice, 1e-9)

	_, err = b.PlaceOrder(ctx, exchange.OrderRequest{Symbol: "AAPL", Side: exchange.SideSell, Quantity: 10, LimitPrice: 55})
	require.NoError(t, err)

	acct, _ = b.Account(ctx)
	assert.InDelta(t, 10050, acct.Cash, 1e-9)
	positions, _ = b.Positions(ctx)
	assert.Empty(t, positions)
}

func TestPaperRejectsOverdraft(t *testing.T) {
	b := New(100)
	_, err := b.PlaceOrder(context.Background(), exchange.OrderRequest{Symbol: "AAPL", Side: exchange.SideBuy, Quantity: 10, LimitPrice: 50})
	require.Error(t, err)
	assert.True(t, errors.Is(err, exchange.ErrBrokerRejected))
}

func TestPaperRejectsShortSell(t *testing.T) {
	b := New(1000)
	_, err := b.PlaceOrder(context.Background(), exchange.OrderRequest{Symbol: "AAPL", Side: exchange.SideSell, Quantity: 1, LimitPrice: 50})
	assert.True(t, errors.Is(err, exchange.ErrBrokerRejected))
}

func TestPaperCancelRejectsFilledAndUnknownOrders(t *testing.T) {
	b := New(1000)
	ctx := context.Background()

	ack, err := b.PlaceOrder(ctx, exchange.OrderRequest{Symbol: "AAPL", Side: exchange.SideBuy, Quantity: 1, LimitPrice: 50})
	require.NoError(t, err)

	err = b.CancelOrder(ctx, ack.OrderRef)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exchange.ErrBrokerRejected))
	assert.Contains(t, err.Error(), "already filled")

	err = b.CancelOrder(ctx, "paper-nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, exchange.ErrBrokerRejected))
}

func TestPaperAveragesEntryPrice(t *testing.T) {
	b := New(10000)
	ctx := context.Background()

	_, err := b.PlaceOrder(ctx, exchange.OrderRequest{Symbol: "AAPL", Side: exchange.SideBuy, Quantity: 10, LimitPrice: 40})
	require.NoError(t, err)
	_, err = b.PlaceOrder(ctx, exchange.OrderRequest{Symbol: "AAPL", Side: exchange.SideBuy, Quantity: 10, LimitPrice: 60})
	require.NoError(t, err)

	positions, _ := b.Positions(ctx)
	require.Len(t, positions, 1)
	assert.InDelta(t, 50, positions[0].AvgPrice, 1e-9)

	b.MarkPrice("AAPL", 70)
	acct, _ := b.Account(ctx)
	assert.InDelta(t, 9000+20*70, acct.Equity, 1e-9)
}

func TestPaperRejectsBadRequests(t *testing.T) {
	b := New(1000)
	_, err := b.PlaceOrder(context.Background(), exchange.OrderRequest{Symbol: "AAPL", Side: exchange.SideBuy, Quantity: 0, LimitPrice: 50})
	assert.True(t, errors.Is(err, exchange.ErrBrokerRejected))

	_, err = b.PlaceOrder(context.Background(), exchange.OrderRequest{Symbol: "AAPL", Side: "hold", Quantity: 1, LimitPrice: 50})
	assert.True(t, errors.Is(err, exchange.ErrBrokerRejected))
}
