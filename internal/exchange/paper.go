package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Paper is an in-memory Client used for paper trading and tests. Market
// reads fall through to an optional real client when local data is absent;
// orders always fill locally at the current price against simulated
// balances.
type Paper struct {
	market Client // optional read-through source, nil for offline use

	mu          sync.RWMutex
	prices      map[string]float64
	klines      map[string][]Candle
	filters     map[string]SymbolFilters
	balances    map[string]float64
	orders      map[int64]*Order
	nextOrderID int64

	feeRate float64

	// test hooks
	failNext    map[string]error
	stubOrders  []*Order
	cancelCalls int
}

var _ Client = (*Paper)(nil)

// NewPaper creates a paper client seeded with the given free balances.
// market may be nil; with a real client attached, prices, klines and
// symbol filters read through to the venue while orders stay simulated.
func NewPaper(market Client, balances map[string]float64) *Paper {
	bal := make(map[string]float64, len(balances))
	for asset, free := range balances {
		bal[asset] = free
	}
	return &Paper{
		market:   market,
		prices:   make(map[string]float64),
		klines:   make(map[string][]Candle),
		filters:  make(map[string]SymbolFilters),
		balances: bal,
		orders:   make(map[int64]*Order),
		feeRate:  0.001,
		failNext: make(map[string]error),
	}
}

// SetPrice seeds the local price for symbol.
func (p *Paper) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// SetKlines seeds local candles for symbol at interval.
func (p *Paper) SetKlines(symbol, interval string, candles []Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.klines[symbol+"/"+interval] = candles
}

// SetFilters seeds the trading rules for symbol.
func (p *Paper) SetFilters(f SymbolFilters) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filters[f.Symbol] = f
}

// SetBalance sets the free balance of asset.
func (p *Paper) SetBalance(asset string, free float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[asset] = free
}

// SetFeeRate overrides the simulated taker fee.
func (p *Paper) SetFeeRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.feeRate = rate
}

// FailNext makes the next call to op return err instead of executing.
// Op names match the Client method in snake case: price, klines, balance,
// symbol_filters, place_order, order_status, cancel_order.
func (p *Paper) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext[op] = err
}

// StubNextOrder makes the next PlaceOrder return exactly o without touching
// balances. OrderStatus then serves the same stub by ID.
func (p *Paper) StubNextOrder(o *Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stubOrders = append(p.stubOrders, o)
}

// CancelCalls returns how many cancel attempts the client has seen.
func (p *Paper) CancelCalls() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cancelCalls
}

func (p *Paper) takeFailure(op string) error {
	if err, ok := p.failNext[op]; ok {
		delete(p.failNext, op)
		return err
	}
	return nil
}

// Price returns the seeded price, or reads through to the market client.
func (p *Paper) Price(ctx context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	if err := p.takeFailure("price"); err != nil {
		p.mu.Unlock()
		return 0, err
	}
	price, ok := p.prices[symbol]
	p.mu.Unlock()

	if ok {
		return price, nil
	}
	if p.market != nil {
		return p.market.Price(ctx, symbol)
	}
	return 0, &Error{Kind: KindSymbol, Op: "price", Err: fmt.Errorf("no price for %s", symbol)}
}

// Klines returns seeded candles, or reads through to the market client.
func (p *Paper) Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	if !IsValidInterval(interval) {
		return nil, &Error{Kind: KindFilter, Op: "klines", Err: fmt.Errorf("unsupported interval %q", interval)}
	}

	p.mu.Lock()
	if err := p.takeFailure("klines"); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	candles, ok := p.klines[symbol+"/"+interval]
	p.mu.Unlock()

	if !ok {
		if p.market != nil {
			return p.market.Klines(ctx, symbol, interval, limit)
		}
		return nil, &Error{Kind: KindSymbol, Op: "klines", Err: fmt.Errorf("no klines for %s %s", symbol, interval)}
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]Candle, len(candles))
	copy(out, candles)
	return out, nil
}

// Balance returns the simulated free balance. Mode is ignored; the paper
// account is a single pool.
func (p *Paper) Balance(ctx context.Context, asset string, mode TradingMode) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("balance"); err != nil {
		return 0, err
	}
	return p.balances[asset], nil
}

// SymbolFilters returns seeded rules, reads through to the market client,
// or falls back to permissive defaults.
func (p *Paper) SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error) {
	p.mu.Lock()
	if err := p.takeFailure("symbol_filters"); err != nil {
		p.mu.Unlock()
		return SymbolFilters{}, err
	}
	f, ok := p.filters[symbol]
	p.mu.Unlock()

	if ok {
		return f, nil
	}
	if p.market != nil {
		return p.market.SymbolFilters(ctx, symbol)
	}
	return SymbolFilters{Symbol: symbol, Status: "TRADING"}, nil
}

// IsTradable reports tradability from the seeded filters.
func (p *Paper) IsTradable(ctx context.Context, symbol string) (bool, string, error) {
	f, err := p.SymbolFilters(ctx, symbol)
	if err != nil {
		if KindOf(err) == KindSymbol {
			return false, fmt.Sprintf("symbol %s is not listed", symbol), nil
		}
		return false, "", err
	}
	if !f.Tradable() {
		return false, fmt.Sprintf("symbol %s status is %s", symbol, f.Status), nil
	}
	return true, "", nil
}

// PlaceOrder fills a market order at the current price and adjusts the
// simulated balances. Buy fees come out of the received base asset, sell
// fees out of the received quote, mirroring venue behavior.
func (p *Paper) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := req.Validate(); err != nil {
		return nil, &Error{Kind: KindFilter, Op: "place_order", Err: err}
	}

	p.mu.Lock()
	if err := p.takeFailure("place_order"); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if len(p.stubOrders) > 0 {
		stub := p.stubOrders[0]
		p.stubOrders = p.stubOrders[1:]
		if stub.OrderID == 0 {
			p.nextOrderID++
			stub.OrderID = p.nextOrderID
		}
		p.orders[stub.OrderID] = stub
		p.mu.Unlock()
		return stub, nil
	}
	price, havePrice := p.prices[req.Symbol]
	filters := p.filters[req.Symbol]
	p.mu.Unlock()

	if !havePrice {
		if p.market == nil {
			return nil, &Error{Kind: KindSymbol, Op: "place_order", Err: fmt.Errorf("no price for %s", req.Symbol)}
		}
		fetched, err := p.market.Price(ctx, req.Symbol)
		if err != nil {
			return nil, err
		}
		price = fetched
	}

	baseAsset := filters.BaseAsset
	quoteAsset := filters.QuoteAsset
	quoteAmount := req.Quantity * price

	p.mu.Lock()
	defer p.mu.Unlock()

	var commission float64
	var commissionAsset string
	switch req.Side {
	case SideBuy:
		if quoteAsset != "" && p.balances[quoteAsset] < quoteAmount {
			return nil, &Error{Kind: KindFilter, Op: "place_order", Err: fmt.Errorf("insufficient %s balance", quoteAsset)}
		}
		commission = req.Quantity * p.feeRate
		commissionAsset = baseAsset
		if quoteAsset != "" {
			p.balances[quoteAsset] -= quoteAmount
		}
		if baseAsset != "" {
			p.balances[baseAsset] += req.Quantity - commission
		}
	case SideSell:
		if baseAsset != "" && p.balances[baseAsset] < req.Quantity {
			return nil, &Error{Kind: KindFilter, Op: "place_order", Err: fmt.Errorf("insufficient %s balance", baseAsset)}
		}
		commission = quoteAmount * p.feeRate
		commissionAsset = quoteAsset
		if baseAsset != "" {
			p.balances[baseAsset] -= req.Quantity
		}
		if quoteAsset != "" {
			p.balances[quoteAsset] += quoteAmount - commission
		}
	}

	p.nextOrderID++
	order := &Order{
		OrderID:            p.nextOrderID,
		Symbol:             req.Symbol,
		Side:               req.Side,
		Status:             StatusFilled,
		ExecutedQty:        req.Quantity,
		CumulativeQuoteQty: quoteAmount,
		Fills: []Fill{{
			Price:           price,
			Qty:             req.Quantity,
			Commission:      commission,
			CommissionAsset: commissionAsset,
		}},
		TransactTime: time.Now().UTC(),
	}
	p.orders[order.OrderID] = order
	return order, nil
}

// OrderStatus returns a previously placed order.
func (p *Paper) OrderStatus(ctx context.Context, symbol string, orderID int64, mode TradingMode) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("order_status"); err != nil {
		return nil, err
	}
	order, ok := p.orders[orderID]
	if !ok {
		return nil, &Error{Kind: KindFilter, Op: "order_status", Err: fmt.Errorf("order %d does not exist", orderID)}
	}
	cp := *order
	return &cp, nil
}

// CancelOrder records the attempt. Paper market orders fill instantly, so
// cancellation always reports the order as already closed.
func (p *Paper) CancelOrder(ctx context.Context, symbol string, orderID int64, mode TradingMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelCalls++
	if err := p.takeFailure("cancel_order"); err != nil {
		return err
	}
	if _, ok := p.orders[orderID]; !ok {
		return &Error{Kind: KindFilter, Op: "cancel_order", Err: fmt.Errorf("order %d does not exist", orderID)}
	}
	return &Error{Kind: KindFilter, Op: "cancel_order", Err: fmt.Errorf("order %d already filled", orderID)}
}
