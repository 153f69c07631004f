package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/tradefleet/internal/config"
	"github.com/ajitpratap0/tradefleet/internal/metrics"
)

// Binance implements Client against the Binance REST API. Spot and margin
// share the spot client; futures orders go through the USD-M futures client.
// Every venue call passes through a shared rate limiter, a circuit breaker
// and a per-operation timeout.
type Binance struct {
	spot    *binance.Client
	futures *futures.Client

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig

	requestTimeout time.Duration
	klinesTimeout  time.Duration
	testnet        bool

	mu      sync.RWMutex
	filters map[string]SymbolFilters

	logger zerolog.Logger
}

var _ Client = (*Binance)(nil)

// NewBinance builds the gateway from exchange configuration. Testnet mode
// routes both the spot and futures clients to the Binance test endpoints.
func NewBinance(cfg *config.ExchangeConfig, logger zerolog.Logger) *Binance {
	binance.UseTestnet = cfg.Testnet
	futures.UseTestnet = cfg.Testnet

	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 20
	}

	return &Binance{
		spot:           binance.NewClient(cfg.APIKey, cfg.SecretKey),
		futures:        futures.NewClient(cfg.APIKey, cfg.SecretKey),
		limiter:        rate.NewLimiter(rate.Limit(rps), burst),
		breaker:        newBreaker("binance"),
		retry:          DefaultRetryConfig(),
		requestTimeout: cfg.RequestTimeout(),
		klinesTimeout:  cfg.KlinesRequestTimeout(),
		testnet:        cfg.Testnet,
		filters:        make(map[string]SymbolFilters),
		logger:         logger.With().Str("component", "exchange").Logger(),
	}
}

// Testnet reports whether the gateway talks to the Binance test endpoints.
func (b *Binance) Testnet() bool {
	return b.testnet
}

// call runs fn through the rate limiter, circuit breaker and per-operation
// timeout, recording metrics and classifying any failure.
func (b *Binance) call(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return wrapErr(op, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn(callCtx)
	})
	metrics.ExchangeLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		err = wrapErr(op, err)
		metrics.ExchangeRequests.WithLabelValues(op, string(KindOf(err))).Inc()
		return err
	}
	metrics.ExchangeRequests.WithLabelValues(op, "ok").Inc()
	return nil
}

// Price returns the latest traded price for symbol.
func (b *Binance) Price(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := b.call(ctx, "price", b.requestTimeout, func(ctx context.Context) error {
		prices, err := b.spot.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return err
		}
		if len(prices) == 0 {
			return fmt.Errorf("no price returned for %s", symbol)
		}
		p, err := strconv.ParseFloat(prices[0].Price, 64)
		if err != nil {
			return fmt.Errorf("failed to parse price %q: %w", prices[0].Price, err)
		}
		price = p
		return nil
	})
	if err != nil {
		return 0, err
	}
	return price, nil
}

// Klines fetches up to limit most recent candles for symbol at interval.
func (b *Binance) Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	if !IsValidInterval(interval) {
		return nil, &Error{Kind: KindFilter, Op: "klines", Err: fmt.Errorf("unsupported interval %q", interval)}
	}

	var candles []Candle
	err := b.call(ctx, "klines", b.klinesTimeout, func(ctx context.Context) error {
		raw, err := b.spot.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit).
			Do(ctx)
		if err != nil {
			return err
		}
		candles = make([]Candle, 0, len(raw))
		for _, k := range raw {
			c, err := convertKline(k)
			if err != nil {
				return err
			}
			candles = append(candles, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return candles, nil
}

func convertKline(k *binance.Kline) (Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("failed to parse kline open %q: %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("failed to parse kline high %q: %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("failed to parse kline low %q: %w", k.Low, err)
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("failed to parse kline close %q: %w", k.Close, err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("failed to parse kline volume %q: %w", k.Volume, err)
	}
	return Candle{
		Ts:     k.OpenTime,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: volume,
	}, nil
}

// Balance returns the free balance of asset in the account selected by mode.
// Unknown assets report zero rather than an error.
func (b *Binance) Balance(ctx context.Context, asset string, mode TradingMode) (float64, error) {
	var free float64
	err := b.call(ctx, "balance", b.requestTimeout, func(ctx context.Context) error {
		switch mode {
		case ModeMargin:
			acct, err := b.spot.NewGetMarginAccountService().Do(ctx)
			if err != nil {
				return err
			}
			for _, ua := range acct.UserAssets {
				if ua.Asset == asset {
					f, err := strconv.ParseFloat(ua.Free, 64)
					if err != nil {
						return fmt.Errorf("failed to parse margin balance %q: %w", ua.Free, err)
					}
					free = f
					return nil
				}
			}
			return nil

		case ModeFutures:
			balances, err := b.futures.NewGetBalanceService().Do(ctx)
			if err != nil {
				return err
			}
			for _, fb := range balances {
				if fb.Asset == asset {
					f, err := strconv.ParseFloat(fb.AvailableBalance, 64)
					if err != nil {
						return fmt.Errorf("failed to parse futures balance %q: %w", fb.AvailableBalance, err)
					}
					free = f
					return nil
				}
			}
			return nil

		default:
			acct, err := b.spot.NewGetAccountService().Do(ctx)
			if err != nil {
				return err
			}
			for _, bal := range acct.Balances {
				if bal.Asset == asset {
					f, err := strconv.ParseFloat(bal.Free, 64)
					if err != nil {
						return fmt.Errorf("failed to parse balance %q: %w", bal.Free, err)
					}
					free = f
					return nil
				}
			}
			return nil
		}
	})
	if err != nil {
		return 0, err
	}
	return free, nil
}

// SymbolFilters returns the trading rules for symbol, cached after the
// first fetch. Exchange rules change rarely enough that the platform
// restart cadence is an acceptable refresh.
func (b *Binance) SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error) {
	b.mu.RLock()
	if f, ok := b.filters[symbol]; ok {
		b.mu.RUnlock()
		return f, nil
	}
	b.mu.RUnlock()

	var filters SymbolFilters
	err := b.call(ctx, "exchange_info", b.requestTimeout, func(ctx context.Context) error {
		info, err := b.spot.NewExchangeInfoService().Symbols(symbol).Do(ctx)
		if err != nil {
			return err
		}
		for i := range info.Symbols {
			if info.Symbols[i].Symbol == symbol {
				filters = parseSymbolInfo(&info.Symbols[i])
				return nil
			}
		}
		return &Error{Kind: KindSymbol, Op: "exchange_info", Err: fmt.Errorf("symbol %s not listed", symbol)}
	})
	if err != nil {
		return SymbolFilters{}, err
	}

	b.mu.Lock()
	b.filters[symbol] = filters
	b.mu.Unlock()
	return filters, nil
}

func parseSymbolInfo(s *binance.Symbol) SymbolFilters {
	f := SymbolFilters{
		Symbol:     s.Symbol,
		Status:     s.Status,
		BaseAsset:  s.BaseAsset,
		QuoteAsset: s.QuoteAsset,
	}
	for _, raw := range s.Filters {
		switch raw["filterType"] {
		case "LOT_SIZE":
			f.MinQty = parseFilterFloat(raw, "minQty")
			f.MaxQty = parseFilterFloat(raw, "maxQty")
			f.StepSize = parseFilterFloat(raw, "stepSize")
		case "NOTIONAL":
			f.MinNotional = parseFilterFloat(raw, "minNotional")
		case "MIN_NOTIONAL":
			// Older symbols still carry the legacy filter name.
			if f.MinNotional == 0 {
				f.MinNotional = parseFilterFloat(raw, "minNotional")
			}
		}
	}
	return f
}

func parseFilterFloat(raw map[string]interface{}, key string) float64 {
	s, ok := raw[key].(string)
	if !ok {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// IsTradable reports whether symbol is open for trading. The reason for a
// negative answer includes a listed alternative when one is cheap to find.
func (b *Binance) IsTradable(ctx context.Context, symbol string) (bool, string, error) {
	f, err := b.SymbolFilters(ctx, symbol)
	if err != nil {
		if KindOf(err) == KindSymbol {
			return false, b.symbolSuggestion(ctx, symbol), nil
		}
		return false, "", err
	}
	if !f.Tradable() {
		return false, fmt.Sprintf("symbol %s status is %s", symbol, f.Status), nil
	}
	return true, "", nil
}

// symbolSuggestion proposes a listed alternative for an unknown symbol.
// USD-quoted guesses map to the USDT pair, which covers the common typo.
func (b *Binance) symbolSuggestion(ctx context.Context, symbol string) string {
	reason := fmt.Sprintf("symbol %s is not listed", symbol)

	var candidate string
	switch {
	case strings.HasSuffix(symbol, "USDT"):
		// Already the canonical quote; nothing cheap to suggest.
	case strings.HasSuffix(symbol, "USD"):
		candidate = symbol + "T"
	default:
		candidate = symbol + "USDT"
	}
	if candidate != "" {
		if cf, err := b.SymbolFilters(ctx, candidate); err == nil && cf.Tradable() {
			return fmt.Sprintf("%s; did you mean %s", reason, candidate)
		}
	}
	return reason
}

// PlaceOrder submits a market order, retrying transient venue failures.
func (b *Binance) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := req.Validate(); err != nil {
		return nil, &Error{Kind: KindFilter, Op: "place_order", Err: err}
	}

	qty := fmt.Sprintf("%.8f", req.Quantity)
	var order *Order

	err := WithRetry(ctx, b.retry, func() error {
		return b.call(ctx, "place_order", b.requestTimeout, func(ctx context.Context) error {
			switch req.Mode {
			case ModeFutures:
				res, err := b.futures.NewCreateOrderService().
					Symbol(req.Symbol).
					Side(futures.SideType(req.Side)).
					Type(futures.OrderTypeMarket).
					Quantity(qty).
					Do(ctx)
				if err != nil {
					return err
				}
				order, err = convertFuturesCreateOrder(res)
				return err

			case ModeMargin:
				res, err := b.spot.NewCreateMarginOrderService().
					Symbol(req.Symbol).
					Side(binance.SideType(req.Side)).
					Type(binance.OrderTypeMarket).
					Quantity(qty).
					Do(ctx)
				if err != nil {
					return err
				}
				order, err = convertCreateOrder(res)
				return err

			default:
				res, err := b.spot.NewCreateOrderService().
					Symbol(req.Symbol).
					Side(binance.SideType(req.Side)).
					Type(binance.OrderTypeMarket).
					Quantity(qty).
					Do(ctx)
				if err != nil {
					return err
				}
				order, err = convertCreateOrder(res)
				return err
			}
		})
	})
	if err != nil {
		return nil, err
	}

	b.logger.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("mode", string(req.Mode)).
		Float64("quantity", req.Quantity).
		Int64("order_id", order.OrderID).
		Str("status", string(order.Status)).
		Msg("Order placed")
	return order, nil
}

// OrderStatus re-fetches an order from the venue.
func (b *Binance) OrderStatus(ctx context.Context, symbol string, orderID int64, mode TradingMode) (*Order, error) {
	var order *Order
	err := WithRetry(ctx, b.retry, func() error {
		return b.call(ctx, "order_status", b.requestTimeout, func(ctx context.Context) error {
			switch mode {
			case ModeFutures:
				res, err := b.futures.NewGetOrderService().
					Symbol(symbol).
					OrderID(orderID).
					Do(ctx)
				if err != nil {
					return err
				}
				order, err = convertFuturesOrder(res)
				return err

			case ModeMargin:
				res, err := b.spot.NewGetMarginOrderService().
					Symbol(symbol).
					OrderID(orderID).
					Do(ctx)
				if err != nil {
					return err
				}
				order, err = convertSpotOrder(res)
				return err

			default:
				res, err := b.spot.NewGetOrderService().
					Symbol(symbol).
					OrderID(orderID).
					Do(ctx)
				if err != nil {
					return err
				}
				order, err = convertSpotOrder(res)
				return err
			}
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CancelOrder attempts to cancel an open order.
func (b *Binance) CancelOrder(ctx context.Context, symbol string, orderID int64, mode TradingMode) error {
	err := WithRetry(ctx, b.retry, func() error {
		return b.call(ctx, "cancel_order", b.requestTimeout, func(ctx context.Context) error {
			switch mode {
			case ModeFutures:
				_, err := b.futures.NewCancelOrderService().
					Symbol(symbol).
					OrderID(orderID).
					Do(ctx)
				return err

			case ModeMargin:
				_, err := b.spot.NewCancelMarginOrderService().
					Symbol(symbol).
					OrderID(orderID).
					Do(ctx)
				return err

			default:
				_, err := b.spot.NewCancelOrderService().
					Symbol(symbol).
					OrderID(orderID).
					Do(ctx)
				return err
			}
		})
	})
	if err != nil {
		return err
	}

	b.logger.Info().
		Str("symbol", symbol).
		Int64("order_id", orderID).
		Msg("Order cancelled")
	return nil
}

func convertCreateOrder(res *binance.CreateOrderResponse) (*Order, error) {
	executedQty, err := strconv.ParseFloat(res.ExecutedQuantity, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse executed quantity: %w", err)
	}
	cumQuote, err := strconv.ParseFloat(res.CummulativeQuoteQuantity, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cumulative quote quantity: %w", err)
	}
	price, err := strconv.ParseFloat(res.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse order price: %w", err)
	}

	fills := make([]Fill, 0, len(res.Fills))
	for _, fl := range res.Fills {
		p, err := strconv.ParseFloat(fl.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse fill price: %w", err)
		}
		q, err := strconv.ParseFloat(fl.Quantity, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse fill quantity: %w", err)
		}
		commission, err := strconv.ParseFloat(fl.Commission, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse fill commission: %w", err)
		}
		fills = append(fills, Fill{
			Price:           p,
			Qty:             q,
			Commission:      commission,
			CommissionAsset: fl.CommissionAsset,
		})
	}

	return &Order{
		OrderID:            res.OrderID,
		Symbol:             res.Symbol,
		Side:               OrderSide(res.Side),
		Status:             OrderStatus(res.Status),
		Price:              price,
		ExecutedQty:        executedQty,
		CumulativeQuoteQty: cumQuote,
		Fills:              fills,
		TransactTime:       time.UnixMilli(res.TransactTime).UTC(),
	}, nil
}

func convertSpotOrder(res *binance.Order) (*Order, error) {
	executedQty, err := strconv.ParseFloat(res.ExecutedQuantity, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse executed quantity: %w", err)
	}
	cumQuote, err := strconv.ParseFloat(res.CummulativeQuoteQuantity, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cumulative quote quantity: %w", err)
	}
	price, err := strconv.ParseFloat(res.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse order price: %w", err)
	}
	return &Order{
		OrderID:            res.OrderID,
		Symbol:             res.Symbol,
		Side:               OrderSide(res.Side),
		Status:             OrderStatus(res.Status),
		Price:              price,
		ExecutedQty:        executedQty,
		CumulativeQuoteQty: cumQuote,
		TransactTime:       time.UnixMilli(res.Time).UTC(),
	}, nil
}

func convertFuturesCreateOrder(res *futures.CreateOrderResponse) (*Order, error) {
	executedQty, err := strconv.ParseFloat(res.ExecutedQuantity, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse executed quantity: %w", err)
	}
	cumQuote, err := strconv.ParseFloat(res.CumQuote, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cumulative quote: %w", err)
	}
	price, err := strconv.ParseFloat(res.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse order price: %w", err)
	}
	return &Order{
		OrderID:            res.OrderID,
		Symbol:             res.Symbol,
		Side:               OrderSide(res.Side),
		Status:             OrderStatus(res.Status),
		Price:              price,
		ExecutedQty:        executedQty,
		CumulativeQuoteQty: cumQuote,
		TransactTime:       time.UnixMilli(res.UpdateTime).UTC(),
	}, nil
}

func convertFuturesOrder(res *futures.Order) (*Order, error) {
	executedQty, err := strconv.ParseFloat(res.ExecutedQuantity, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse executed quantity: %w", err)
	}
	cumQuote, err := strconv.ParseFloat(res.CumQuote, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cumulative quote: %w", err)
	}
	price, err := strconv.ParseFloat(res.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse order price: %w", err)
	}
	return &Order{
		OrderID:            res.OrderID,
		Symbol:             res.Symbol,
		Side:               OrderSide(res.Side),
		Status:             OrderStatus(res.Status),
		Price:              price,
		ExecutedQty:        executedQty,
		CumulativeQuoteQty: cumQuote,
		TransactTime:       time.UnixMilli(res.UpdateTime).UTC(),
	}, nil
}
