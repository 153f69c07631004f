package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/ajitpratap0/tradefleet/internal/candles"
	"github.com/ajitpratap0/tradefleet/internal/events"
	"github.com/ajitpratap0/tradefleet/internal/exchange"
	"github.com/ajitpratap0/tradefleet/internal/memory"
	"github.com/ajitpratap0/tradefleet/internal/metrics"
	"github.com/ajitpratap0/tradefleet/internal/risk"
)

// manualConfidence is what the open guard sees for operator-initiated buys:
// operator intent outranks the signal confidence gate, while the budget
// guard and the symbol filters still apply.
const manualConfidence = 1.0

// closeDust absorbs float noise when deciding whether a close flattened the
// whole position.
const closeDust = 1e-9

// openRequest carries everything executeOpen needs to enter a position.
type openRequest struct {
	side       exchange.OrderSide
	price      float64 // decision price
	ts         time.Time
	confidence float64
	indicators map[string]float64
	strategy   string
	budget     float64 // 0 means the full remaining budget
}

// closeRequest carries everything executeClose needs to exit a position.
type closeRequest struct {
	price      float64 // decision price
	ts         time.Time
	exitReason risk.ExitReason
	strategy   string
	confidence float64
	indicators map[string]float64
	quantity   float64 // 0 means the full position; partials are long-only
}

// ManualTrade places an operator order through the same pipeline the loop
// uses. A BUY opens or adds to a long (or buys back a short); a SELL closes
// a long, partially when quantity or amountQuote covers less than the
// position, and outside spot may enter a short at flat. At most one of
// quantity and amountQuote may be set; both zero means the full position
// for closes and the full remaining budget for entries. Guard blocks come
// back as errors so the caller can report why nothing happened.
func (b *Bot) ManualTrade(ctx context.Context, side exchange.OrderSide, quantity, amountQuote float64) (*risk.Trade, error) {
	if side != exchange.SideBuy && side != exchange.SideSell {
		return nil, fmt.Errorf("invalid order side %q", side)
	}
	if quantity < 0 || amountQuote < 0 {
		return nil, fmt.Errorf("manual trade amounts must not be negative")
	}
	if quantity > 0 && amountQuote > 0 {
		return nil, fmt.Errorf("specify either quantity or amount_quote, not both")
	}
	if !b.Running() {
		return nil, fmt.Errorf("bot %s is not running", b.cfg.BotID)
	}

	b.tradeMu.Lock()
	defer b.tradeMu.Unlock()

	price, err := b.deps.Prices.Price(ctx, b.cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price: %w", err)
	}
	now := time.Now().UTC()

	closing := (side == exchange.SideSell && b.position.Side == risk.SideLong) ||
		(side == exchange.SideBuy && b.position.Side == risk.SideShort)

	if closing {
		decision := b.deps.Guards.EvaluateClose(b.position, price)
		if decision.Blocked() {
			if decision.Guard != "" {
				metrics.GuardBlocks.WithLabelValues(decision.Guard).Inc()
			}
			return nil, fmt.Errorf("manual close blocked by %s guard: %s", decision.Guard, decision.Reason)
		}
		req := closeRequest{
			price:      price,
			ts:         now,
			exitReason: risk.ExitManual,
			strategy:   "manual",
			quantity:   quantity,
		}
		if amountQuote > 0 && price > 0 {
			req.quantity = amountQuote / price
		}
		return b.executeClose(ctx, req)
	}

	if side == exchange.SideSell {
		if b.cfg.TradingMode == exchange.ModeSpot {
			return nil, fmt.Errorf("no open position to sell")
		}
		if b.position.Open() {
			return nil, fmt.Errorf("short already open")
		}
	}

	decision := b.deps.Guards.EvaluateOpen(manualConfidence, b.currentNetSpent(), b.cfg.Amount)
	if decision.Blocked() {
		metrics.GuardBlocks.WithLabelValues(decision.Guard).Inc()
		return nil, fmt.Errorf("manual open blocked by %s guard: %s", decision.Guard, decision.Reason)
	}

	budget := 0.0
	switch {
	case amountQuote > 0:
		budget = amountQuote
	case quantity > 0:
		budget = quantity * price
	}
	return b.executeOpen(ctx, openRequest{
		side:     side,
		price:    price,
		ts:       now,
		strategy: "manual",
		budget:   budget,
	})
}

// executeOpen sizes an entry against the remaining budget and the symbol
// filters, places the market order, derives its execution price and records
// the trade. Callers hold tradeMu and have already cleared the open guards.
func (b *Bot) executeOpen(ctx context.Context, req openRequest) (*risk.Trade, error) {
	budget := risk.RemainingBudget(b.cfg.Amount, b.currentNetSpent())
	if req.budget > 0 && req.budget < budget {
		budget = req.budget
	}

	var (
		qty      float64
		feasible bool
		err      error
	)
	if req.side == exchange.SideBuy {
		qty, feasible, err = exchange.OptimalBuyQuantity(ctx, b.deps.Client, b.cfg.Symbol, budget, req.price, b.cfg.TradingMode)
		if err != nil {
			return nil, fmt.Errorf("failed to size buy order: %w", err)
		}
	} else {
		qty, feasible = shortQuantity(b.filters, budget, req.price)
	}
	if !feasible {
		reason := "filters"
		if req.side == exchange.SideBuy {
			reason = b.buyRejectionReason(ctx, budget)
		}
		metrics.TradeRejections.WithLabelValues(reason).Inc()
		b.deps.Bus.Log(b.cfg.BotID, b.cfg.Symbol,
			fmt.Sprintf("%s not placed: no feasible quantity for %.2f %s (%s)", req.side, budget, b.filters.QuoteAsset, reason))
		return nil, fmt.Errorf("no feasible %s quantity for %.2f %s (%s)", req.side, budget, b.filters.QuoteAsset, reason)
	}

	order, err := b.deps.Client.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:   b.cfg.Symbol,
		Side:     req.side,
		Quantity: qty,
		Mode:     b.cfg.TradingMode,
	})
	if err != nil {
		return nil, b.placementFailure(err, req.side)
	}

	execPrice, err := risk.ResolveExecutionPrice(ctx, b.deps.Client, order, b.cfg.TradingMode)
	if err != nil {
		return nil, b.abortUnpriced(ctx, order, err)
	}

	executed := executedQuantity(order, qty)
	if req.side == exchange.SideBuy {
		// Buy fees charged in the base asset shrink what the account
		// receives; the position must hold what it can actually sell.
		executed -= baseCommission(order, b.filters.BaseAsset)
	}
	quoteQty := risk.QuoteValue(order, execPrice, executed)
	execTS := executionTime(order)

	// Position first, persistence second: the books must never claim a
	// position the venue does not hold.
	b.stateMu.Lock()
	wasOpen := b.position.Open()
	switch {
	case req.side == exchange.SideBuy && b.position.Side == risk.SideLong:
		b.position.AddLong(executed, execPrice)
	case req.side == exchange.SideBuy:
		b.position.OpenLong(executed, execPrice, execTS)
	default:
		b.position.OpenShort(executed, execPrice, execTS)
	}
	if req.side == exchange.SideBuy {
		b.netSpent += quoteQty
	} else {
		b.netSpent = risk.NetSpent(b.netSpent, quoteQty)
	}
	if !wasOpen {
		b.entryTradeID = order.OrderID
	}
	b.stateMu.Unlock()
	if !wasOpen {
		metrics.OpenPositions.Inc()
	}

	trade := &risk.Trade{
		TradeID:        order.OrderID,
		BotID:          b.cfg.BotID,
		Symbol:         b.cfg.Symbol,
		Side:           req.side,
		Quantity:       executed,
		ExecutionPrice: execPrice,
		QuoteQty:       quoteQty,
		Strategy:       req.strategy,
		TradingMode:    b.cfg.TradingMode,
		DecisionPrice:  req.price,
		DecisionTS:     req.ts,
		ExecutionTS:    execTS,
		Confidence:     req.confidence,
		Indicators:     req.indicators,
	}
	trade.StampSlippage()
	b.recordTrade(ctx, trade)

	if !wasOpen {
		if err := b.deps.Tracker.StartPositionTracking(ctx, b.cfg.BotID, b.cfg.Symbol, b.cfg.Timeframe, order.OrderID); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to start position tracking")
		}
	}

	b.logger.Info().
		Int64("trade_id", trade.TradeID).
		Str("side", string(req.side)).
		Float64("qty", executed).
		Float64("execution_price", execPrice).
		Float64("quote_qty", quoteQty).
		Msg("Position entered")
	return trade, nil
}

// executeClose exits the position (or part of a long), derives the realized
// result from the execution price and records the closing trade. Callers
// hold tradeMu and have already cleared the close guards.
func (b *Bot) executeClose(ctx context.Context, req closeRequest) (*risk.Trade, error) {
	if !b.position.Open() {
		return nil, fmt.Errorf("no open position to close")
	}
	side := exchange.SideSell
	if b.position.Side == risk.SideShort {
		side = exchange.SideBuy
	}

	qty, err := b.closeQuantity(ctx, req.quantity, req.price)
	if err != nil {
		return nil, err
	}
	if qty <= 0 {
		metrics.TradeRejections.WithLabelValues("filters").Inc()
		b.deps.Bus.Log(b.cfg.BotID, b.cfg.Symbol, "close not placed: position below sellable filters")
		return nil, fmt.Errorf("position of %.8f not sellable under filters", b.position.Size)
	}

	order, err := b.deps.Client.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:   b.cfg.Symbol,
		Side:     side,
		Quantity: qty,
		Mode:     b.cfg.TradingMode,
	})
	if err != nil {
		return nil, b.placementFailure(err, side)
	}

	execPrice, err := risk.ResolveExecutionPrice(ctx, b.deps.Client, order, b.cfg.TradingMode)
	if err != nil {
		return nil, b.abortUnpriced(ctx, order, err)
	}

	executed := executedQuantity(order, qty)
	quoteQty := risk.QuoteValue(order, execPrice, executed)
	execTS := executionTime(order)

	// Realized result against the entry, priced from the derived execution
	// price, never the ticker.
	entry := b.position.EntryPrice
	pnlPct := b.position.PnLPct(execPrice)
	pnlAbs := (execPrice - entry) * executed
	if b.position.Side == risk.SideShort {
		pnlAbs = (entry - execPrice) * executed
	}
	full := executed+closeDust >= b.position.Size

	var entryTradeID int64
	b.stateMu.Lock()
	if full {
		entryTradeID = b.entryTradeID
		b.entryTradeID = 0
		b.position.Close()
	} else {
		b.position.ReduceLong(executed)
	}
	if side == exchange.SideSell {
		b.netSpent = risk.NetSpent(b.netSpent, quoteQty)
	} else {
		b.netSpent += quoteQty
	}
	b.stateMu.Unlock()
	if full {
		metrics.OpenPositions.Dec()
	}

	exit := risk.RederiveExitReason(req.exitReason, pnlPct, b.deps.Guards.Limits())

	trade := &risk.Trade{
		TradeID:        order.OrderID,
		BotID:          b.cfg.BotID,
		Symbol:         b.cfg.Symbol,
		Side:           side,
		Quantity:       executed,
		ExecutionPrice: execPrice,
		QuoteQty:       quoteQty,
		Strategy:       req.strategy,
		TradingMode:    b.cfg.TradingMode,
		ExitReason:     exit,
		DecisionPrice:  req.price,
		DecisionTS:     req.ts,
		ExecutionTS:    execTS,
		Confidence:     req.confidence,
		Indicators:     req.indicators,

		PnLAbs:             pnlAbs,
		PnLPct:             pnlPct,
		PnLAfterFeesPct:    b.deps.Guards.AfterFeesPct(pnlPct),
		PositionEntryPrice: entry,
	}
	trade.StampSlippage()
	b.recordTrade(ctx, trade)

	if full {
		b.finishTracking(ctx, entryTradeID, trade)
	}

	b.logger.Info().
		Int64("trade_id", trade.TradeID).
		Str("exit_reason", string(exit)).
		Float64("pnl_pct", pnlPct).
		Float64("pnl_abs", pnlAbs).
		Float64("execution_price", execPrice).
		Bool("full", full).
		Msg("Position closed")
	return trade, nil
}

// closeQuantity sizes the closing order. Longs sell what the venue can
// actually deliver: the free base balance floored to the lot grid, capped
// at the position size and at requested for partial sells. Shorts always
// buy back the full size.
func (b *Bot) closeQuantity(ctx context.Context, requested, price float64) (float64, error) {
	if b.position.Side == risk.SideShort {
		return exchange.AdjustToLot(b.filters, b.position.Size), nil
	}

	qty := b.position.Size
	if requested > 0 && requested < qty {
		qty = requested
	}
	free, err := b.deps.Client.Balance(ctx, b.filters.BaseAsset, b.cfg.TradingMode)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch %s balance: %w", b.filters.BaseAsset, err)
	}
	if free < qty {
		qty = free
	}
	sellable, ok := exchange.SellableQuantity(b.filters, qty, price)
	if !ok {
		return 0, nil
	}
	return sellable, nil
}

// shortQuantity sizes a short entry from the quote budget. Margin and
// futures shorts sell borrowed base, so only the lot and notional filters
// constrain the quantity, with the budget as the hard cap.
func shortQuantity(f exchange.SymbolFilters, budget, price float64) (float64, bool) {
	if price <= 0 || budget <= 0 {
		return 0, false
	}
	qty := exchange.AdjustToLot(f, budget/price)
	if qty <= 0 {
		return 0, false
	}
	qty, ok := exchange.AdjustToNotional(f, qty, price)
	if !ok || qty*price > budget*(1+1e-9) {
		return 0, false
	}
	return qty, true
}

// buyRejectionReason distinguishes a quote balance shortfall from filter
// infeasibility after sizing found no viable quantity.
func (b *Bot) buyRejectionReason(ctx context.Context, budget float64) string {
	free, err := b.deps.Client.Balance(ctx, b.filters.QuoteAsset, b.cfg.TradingMode)
	if err == nil && free < budget {
		return "balance"
	}
	return "filters"
}

// placementFailure classifies a PlaceOrder error: transient and rate
// failures surface for retry, anything else is a venue rejection counted
// and published here.
func (b *Bot) placementFailure(err error, side exchange.OrderSide) error {
	if retriable(err) {
		return fmt.Errorf("failed to place %s order: %w", side, err)
	}
	metrics.TradeRejections.WithLabelValues("filters").Inc()
	b.deps.Bus.Log(b.cfg.BotID, b.cfg.Symbol, fmt.Sprintf("%s order rejected by venue: %v", side, err))
	return fmt.Errorf("%s order rejected: %w", side, err)
}

// abortUnpriced rejects an order whose execution price could not be
// derived. The price is never invented from the ticker: the order is
// cancelled best-effort and the position stays exactly as it was.
func (b *Bot) abortUnpriced(ctx context.Context, order *exchange.Order, cause error) error {
	metrics.TradeRejections.WithLabelValues("execution_price").Inc()
	if err := b.deps.Client.CancelOrder(ctx, b.cfg.Symbol, order.OrderID, b.cfg.TradingMode); err != nil {
		b.logger.Warn().Err(err).Int64("order_id", order.OrderID).Msg("Cancel after unpriced order failed")
	}
	b.deps.Bus.Log(b.cfg.BotID, b.cfg.Symbol,
		fmt.Sprintf("order %d rejected: execution price not derivable", order.OrderID))
	b.logger.Error().Int64("order_id", order.OrderID).Msg("Execution price not derivable, trade rejected")
	return fmt.Errorf("order %d aborted: %w", order.OrderID, cause)
}

// recordTrade persists the trade and fans out the execution event. A failed
// write flags the bot for balance reconciliation instead of unwinding the
// live position: the venue, not the database, is the source of truth.
func (b *Bot) recordTrade(ctx context.Context, trade *risk.Trade) {
	if err := b.deps.Trades.Insert(ctx, trade); err != nil {
		b.flagReconcile()
		b.logger.Error().Err(err).Int64("trade_id", trade.TradeID).Msg("Failed to persist trade")
	}

	exit := "none"
	if trade.ExitReason != "" {
		exit = string(trade.ExitReason)
	}
	metrics.TradesExecuted.WithLabelValues(string(trade.Side), exit).Inc()

	b.deps.Bus.Publish(events.Event{
		Kind:    events.KindTradeExecuted,
		BotID:   b.cfg.BotID,
		Symbol:  b.cfg.Symbol,
		Message: tradeMessage(trade),
		Payload: tradePayload(trade),
	})
}

// finishTracking closes the during-trade window, opens the post-trade
// follow-up and hands the round trip to the learner. All best-effort: a
// tracking failure never unwinds a completed close.
func (b *Bot) finishTracking(ctx context.Context, entryTradeID int64, trade *risk.Trade) {
	var ws memory.WindowSet
	if entryTradeID != 0 {
		w, err := b.deps.Tracker.GetTradeCandles(ctx, entryTradeID, candles.PhaseDuringTrade)
		if err != nil {
			b.logger.Warn().Err(err).Msg("Failed to load during-trade window")
		} else {
			ws.During = w
		}
	}
	if pres, err := b.deps.Tracker.GetCandles(ctx, b.cfg.BotID, candles.PhasePreTrade, b.cfg.Symbol, b.cfg.Timeframe); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to load pre-trade window")
	} else if len(pres) > 0 {
		ws.Pre = pres[0]
	}

	if err := b.deps.Tracker.StopPositionTracking(ctx, b.cfg.BotID, trade.TradeID); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to stop position tracking")
	}
	if err := b.deps.Tracker.StartPostTrade(ctx, b.cfg.BotID, b.cfg.Symbol, b.cfg.Timeframe, trade.TradeID, trade.ExecutionTS); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to start post-trade tracking")
	}

	if _, err := b.deps.Learner.RecordTradeOutcome(ctx, trade, ws); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to record trade outcome")
	}
}

// executedQuantity returns the base quantity the venue reported executed,
// falling back to the requested quantity when the response omits it.
func executedQuantity(order *exchange.Order, requested float64) float64 {
	if order.ExecutedQty > 0 {
		return order.ExecutedQty
	}
	var qty float64
	for _, f := range order.Fills {
		qty += f.Qty
	}
	if qty > 0 {
		return qty
	}
	return requested
}

// baseCommission sums the fill commissions charged in the base asset.
func baseCommission(order *exchange.Order, baseAsset string) float64 {
	if baseAsset == "" {
		return 0
	}
	var fee float64
	for _, f := range order.Fills {
		if f.CommissionAsset == baseAsset {
			fee += f.Commission
		}
	}
	return fee
}

// executionTime returns the venue's transact time, or now when absent.
func executionTime(order *exchange.Order) time.Time {
	if !order.TransactTime.IsZero() {
		return order.TransactTime.UTC()
	}
	return time.Now().UTC()
}

func tradeMessage(t *risk.Trade) string {
	if t.Closing() {
		return fmt.Sprintf("%s %s %.8f @ %.8f (%s, pnl %.2f%%)",
			t.Side, t.Symbol, t.Quantity, t.ExecutionPrice, t.ExitReason, t.PnLPct)
	}
	return fmt.Sprintf("%s %s %.8f @ %.8f", t.Side, t.Symbol, t.Quantity, t.ExecutionPrice)
}

func tradePayload(t *risk.Trade) map[string]interface{} {
	p := map[string]interface{}{
		"trade_id":        t.TradeID,
		"side":            string(t.Side),
		"quantity":        t.Quantity,
		"execution_price": t.ExecutionPrice,
		"quote_qty":       t.QuoteQty,
		"strategy":        t.Strategy,
		"slippage_pct":    t.SlippagePct,
		"delay_seconds":   t.DelaySeconds,
	}
	if t.Closing() {
		p["exit_reason"] = string(t.ExitReason)
		p["pnl_abs"] = t.PnLAbs
		p["pnl_pct"] = t.PnLPct
	}
	return p
}
