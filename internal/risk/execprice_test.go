package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradefleet/internal/exchange"
)

func TestDeriveExecutionPriceLadder(t *testing.T) {
	tests := []struct {
		name    string
		order   *exchange.Order
		want    float64
		wantErr bool
	}{
		{
			name: "per-fill quote totals win",
			order: &exchange.Order{
				Fills: []exchange.Fill{
					{Price: 100, Qty: 1, QuoteQty: 100},
					{Price: 102, Qty: 1, QuoteQty: 102},
				},
			},
			want: 101,
		},
		{
			name: "price times qty when quote totals missing",
			order: &exchange.Order{
				Fills: []exchange.Fill{
					{Price: 100, Qty: 1},
					{Price: 102, Qty: 3},
				},
			},
			want: 101.5,
		},
		{
			name: "cumulative quote over executed qty",
			order: &exchange.Order{
				ExecutedQty:        2,
				CumulativeQuoteQty: 202,
			},
			want: 101,
		},
		{
			name:  "order price as the last resort",
			order: &exchange.Order{Price: 101},
			want:  101,
		},
		{
			name:    "nothing derivable",
			order:   &exchange.Order{OrderID: 42, Status: exchange.StatusFilled},
			wantErr: true,
		},
		{
			name:    "nil order",
			order:   nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeriveExecutionPrice(tt.order)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoExecutionPrice)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

// stubStatusClient overrides only OrderStatus; the embedded nil Client
// panics if anything else is called, which is exactly what we want here.
type stubStatusClient struct {
	exchange.Client
	order *exchange.Order
	err   error
	calls int
}

func (s *stubStatusClient) OrderStatus(ctx context.Context, symbol string, orderID int64, mode exchange.TradingMode) (*exchange.Order, error) {
	s.calls++
	return s.order, s.err
}

func TestResolveExecutionPriceNoRefetchWhenDerivable(t *testing.T) {
	client := &stubStatusClient{}
	order := &exchange.Order{
		OrderID:            7,
		Symbol:             "BTCUSDT",
		ExecutedQty:        1,
		CumulativeQuoteQty: 30000,
	}

	price, err := ResolveExecutionPrice(context.Background(), client, order, exchange.ModeSpot)
	require.NoError(t, err)
	assert.Equal(t, 30000.0, price)
	assert.Zero(t, client.calls)
}

func TestResolveExecutionPriceRefetchOnce(t *testing.T) {
	client := &stubStatusClient{
		order: &exchange.Order{
			OrderID:            42,
			Symbol:             "BTCUSDT",
			ExecutedQty:        0.001,
			CumulativeQuoteQty: 30,
		},
	}
	empty := &exchange.Order{OrderID: 42, Symbol: "BTCUSDT", Status: exchange.StatusFilled}

	price, err := ResolveExecutionPrice(context.Background(), client, empty, exchange.ModeSpot)
	require.NoError(t, err)
	assert.InDelta(t, 30000.0, price, 1e-9)
	assert.Equal(t, 1, client.calls)
}

func TestResolveExecutionPriceFatalWhenRefreshEmpty(t *testing.T) {
	// The venue keeps answering with a filled order carrying no price data:
	// the trade must be rejected outright, never priced from the ticker.
	empty := &exchange.Order{OrderID: 42, Symbol: "BTCUSDT", Status: exchange.StatusFilled}
	client := &stubStatusClient{order: empty}

	_, err := ResolveExecutionPrice(context.Background(), client, empty, exchange.ModeSpot)
	assert.ErrorIs(t, err, ErrNoExecutionPrice)
	assert.Equal(t, 1, client.calls, "exactly one refresh attempt")
}

func TestResolveExecutionPriceFatalWhenRefreshFails(t *testing.T) {
	empty := &exchange.Order{OrderID: 42, Symbol: "BTCUSDT"}
	client := &stubStatusClient{err: assert.AnError}

	_, err := ResolveExecutionPrice(context.Background(), client, empty, exchange.ModeSpot)
	assert.ErrorIs(t, err, ErrNoExecutionPrice)
}

func TestQuoteValue(t *testing.T) {
	withQuote := &exchange.Order{CumulativeQuoteQty: 50}
	assert.Equal(t, 50.0, QuoteValue(withQuote, 30000, 0.002))

	// Without a venue-reported quote total, fall back to price * qty.
	assert.InDelta(t, 60.0, QuoteValue(&exchange.Order{}, 30000, 0.002), 1e-9)
	assert.InDelta(t, 60.0, QuoteValue(nil, 30000, 0.002), 1e-9)
}
