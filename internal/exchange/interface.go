package exchange

import "context"

// Client is the venue-facing gateway contract. Implementations must honor
// ctx cancellation on every call and return classified *Error values on
// failure so callers can decide retriability without string matching.
type Client interface {
	// Price returns the latest traded price for symbol.
	Price(ctx context.Context, symbol string) (float64, error)

	// Klines fetches up to limit most recent candles for symbol at interval.
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	// Balance returns the free balance of asset in the account selected
	// by mode.
	Balance(ctx context.Context, asset string, mode TradingMode) (float64, error)

	// SymbolFilters returns the trading rules for symbol. Results are
	// cached by implementations; rules change rarely.
	SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error)

	// IsTradable reports whether symbol is currently open for trading.
	// When it is not, reason explains why and may suggest alternatives.
	IsTradable(ctx context.Context, symbol string) (bool, string, error)

	// PlaceOrder submits a market order and returns the venue's response,
	// including fills when the venue reports them.
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)

	// OrderStatus re-fetches an order, enriching it with per-fill data
	// where the venue exposes it on lookup.
	OrderStatus(ctx context.Context, symbol string, orderID int64, mode TradingMode) (*Order, error)

	// CancelOrder attempts to cancel an open order. Canceling an already
	// filled order returns a filter-kind error.
	CancelOrder(ctx context.Context, symbol string, orderID int64, mode TradingMode) error
}
