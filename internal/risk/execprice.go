package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/ajitpratap0/tradefleet/internal/exchange"
)

// ErrNoExecutionPrice marks an order whose execution price could not be
// derived from any of its fields. Trades must never be priced from the
// ticker; a trade without a derivable execution price is rejected.
var ErrNoExecutionPrice = errors.New("execution price not derivable from order")

// DeriveExecutionPrice extracts the volume-weighted execution price from an
// order response, trying in turn: per-fill quote totals, per-fill
// price-times-quantity, the order's cumulative quote over executed
// quantity, and finally the order's own price field.
func DeriveExecutionPrice(order *exchange.Order) (float64, error) {
	if order == nil {
		return 0, ErrNoExecutionPrice
	}

	var qty, quote, weighted float64
	for _, f := range order.Fills {
		qty += f.Qty
		quote += f.QuoteQty
		weighted += f.Price * f.Qty
	}
	if qty > 0 && quote > 0 {
		return quote / qty, nil
	}
	if qty > 0 && weighted > 0 {
		return weighted / qty, nil
	}
	if order.ExecutedQty > 0 && order.CumulativeQuoteQty > 0 {
		return order.CumulativeQuoteQty / order.ExecutedQty, nil
	}
	if order.Price > 0 {
		return order.Price, nil
	}
	return 0, ErrNoExecutionPrice
}

// ResolveExecutionPrice derives the execution price from an order,
// re-fetching the order once from the venue when the original response
// carries no usable price data (spot market orders occasionally come back
// before fill data is attached). Errors always wrap ErrNoExecutionPrice so
// callers can detect the fatal-trade case with errors.Is.
func ResolveExecutionPrice(ctx context.Context, client exchange.Client, order *exchange.Order, mode exchange.TradingMode) (float64, error) {
	price, err := DeriveExecutionPrice(order)
	if err == nil {
		return price, nil
	}
	if order == nil {
		return 0, ErrNoExecutionPrice
	}

	refreshed, ferr := client.OrderStatus(ctx, order.Symbol, order.OrderID, mode)
	if ferr != nil {
		return 0, fmt.Errorf("order %d: %w (status refresh failed: %v)", order.OrderID, ErrNoExecutionPrice, ferr)
	}
	price, err = DeriveExecutionPrice(refreshed)
	if err != nil {
		return 0, fmt.Errorf("order %d: %w", order.OrderID, ErrNoExecutionPrice)
	}
	return price, nil
}
