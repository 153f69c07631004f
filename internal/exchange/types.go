package exchange

import (
	"fmt"
	"time"
)

// TradingMode selects which Binance account the gateway trades against.
type TradingMode string

const (
	ModeSpot    TradingMode = "SPOT"
	ModeMargin  TradingMode = "MARGIN"
	ModeFutures TradingMode = "FUTURES"
)

// Valid reports whether the mode is one of the supported trading modes.
func (m TradingMode) Valid() bool {
	switch m {
	case ModeSpot, ModeMargin, ModeFutures:
		return true
	}
	return false
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus mirrors the exchange order lifecycle states the platform
// cares about.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// supportedIntervals are the kline intervals Binance serves. Bot timeframes
// are validated against this set before a bot starts.
var supportedIntervals = map[string]struct{}{
	"1m": {}, "3m": {}, "5m": {}, "15m": {}, "30m": {},
	"1h": {}, "2h": {}, "4h": {}, "6h": {}, "8h": {}, "12h": {},
	"1d": {}, "3d": {}, "1w": {}, "1M": {},
}

// IsValidInterval reports whether the timeframe is a supported kline interval.
func IsValidInterval(interval string) bool {
	_, ok := supportedIntervals[interval]
	return ok
}

// SupportedIntervals returns the supported kline intervals in display order.
func SupportedIntervals() []string {
	return []string{"1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h", "1d", "3d", "1w", "1M"}
}

// Candle is one OHLCV kline. Ts is the kline open time in UTC milliseconds,
// which is also the identity used for deduplication in candle windows.
type Candle struct {
	Ts     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Time returns the candle open time as a time.Time in UTC.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.Ts).UTC()
}

// SymbolFilters carries the exchange trading rules for one symbol.
// Asset names come from exchange metadata, never from parsing the symbol
// string.
type SymbolFilters struct {
	Symbol      string  `json:"symbol"`
	BaseAsset   string  `json:"base_asset"`
	QuoteAsset  string  `json:"quote_asset"`
	Status      string  `json:"status"`
	MinQty      float64 `json:"min_qty"`
	MaxQty      float64 `json:"max_qty"`
	StepSize    float64 `json:"step_size"`
	MinNotional float64 `json:"min_notional"`
}

// Tradable reports whether the symbol is currently open for trading.
func (f SymbolFilters) Tradable() bool {
	return f.Status == "TRADING"
}

// Fill is one execution that contributed to an order. QuoteQty is zero when
// the venue does not report per-fill quote amounts (spot market fills).
type Fill struct {
	Price           float64 `json:"price"`
	Qty             float64 `json:"qty"`
	QuoteQty        float64 `json:"quote_qty"`
	Commission      float64 `json:"commission"`
	CommissionAsset string  `json:"commission_asset"`
}

// Order is the gateway's venue-neutral view of an exchange order.
type Order struct {
	OrderID            int64       `json:"order_id"`
	Symbol             string      `json:"symbol"`
	Side               OrderSide   `json:"side"`
	Status             OrderStatus `json:"status"`
	Price              float64     `json:"price"`
	ExecutedQty        float64     `json:"executed_qty"`
	CumulativeQuoteQty float64     `json:"cumulative_quote_qty"`
	Fills              []Fill      `json:"fills,omitempty"`
	TransactTime       time.Time   `json:"transact_time"`
}

// Filled reports whether the order executed any quantity.
func (o *Order) Filled() bool {
	return o != nil && o.ExecutedQty > 0
}

// OrderRequest describes a market order to place. Quantity is in base asset
// units and must already satisfy the symbol's lot and notional filters.
type OrderRequest struct {
	Symbol   string
	Side     OrderSide
	Quantity float64
	Mode     TradingMode
}

// Validate checks the request fields before it reaches the venue.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("order request missing symbol")
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("invalid order side %q", r.Side)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("order quantity must be positive, got %f", r.Quantity)
	}
	if !r.Mode.Valid() {
		return fmt.Errorf("invalid trading mode %q", r.Mode)
	}
	return nil
}
