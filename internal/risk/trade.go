package risk

import (
	"time"

	"github.com/ajitpratap0/tradefleet/internal/exchange"
)

// ExitReason labels why a closing trade left its position.
type ExitReason string

const (
	ExitSignal     ExitReason = "SIGNAL"
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitManual     ExitReason = "MANUAL"
)

// Trade is the immutable record of one executed order. TradeID is the
// exchange order id, so every trade is traceable on the venue. Slippage and
// delay compare the strategy's decision point against the actual execution.
type Trade struct {
	TradeID        int64                `json:"trade_id"`
	BotID          string               `json:"bot_id"`
	Symbol         string               `json:"symbol"`
	Side           exchange.OrderSide   `json:"side"`
	Quantity       float64              `json:"quantity"`
	ExecutionPrice float64              `json:"execution_price"`
	QuoteQty       float64              `json:"quote_qty"`
	Strategy       string               `json:"strategy"`
	TradingMode    exchange.TradingMode `json:"trading_mode"`
	ExitReason     ExitReason           `json:"exit_reason,omitempty"`

	DecisionPrice float64   `json:"decision_price"`
	DecisionTS    time.Time `json:"decision_ts"`
	ExecutionTS   time.Time `json:"execution_ts"`
	SlippageAbs   float64   `json:"slippage_abs"`
	SlippagePct   float64   `json:"slippage_pct"`
	DelaySeconds  float64   `json:"delay_seconds"`

	Confidence float64            `json:"confidence"`
	Indicators map[string]float64 `json:"indicators,omitempty"`

	// Closing trades carry the realized result against the position entry.
	PnLAbs             float64 `json:"pnl_abs,omitempty"`
	PnLPct             float64 `json:"pnl_pct,omitempty"`
	PnLAfterFeesPct    float64 `json:"pnl_after_fees_pct,omitempty"`
	PositionEntryPrice float64 `json:"position_entry_price,omitempty"`
}

// Closing reports whether the trade closed a position.
func (t *Trade) Closing() bool {
	return t.ExitReason != ""
}

// StampSlippage fills the slippage and delay fields from the recorded
// decision point. Call after ExecutionPrice and ExecutionTS are final.
func (t *Trade) StampSlippage() {
	if t.DecisionPrice > 0 {
		t.SlippageAbs = t.ExecutionPrice - t.DecisionPrice
		t.SlippagePct = t.SlippageAbs / t.DecisionPrice * 100
	}
	if !t.DecisionTS.IsZero() && !t.ExecutionTS.IsZero() {
		t.DelaySeconds = t.ExecutionTS.Sub(t.DecisionTS).Seconds()
	}
}

// QuoteValue returns the quote amount moved by an order: the order's own
// quote total when the venue reported one, otherwise execution price times
// quantity.
func QuoteValue(order *exchange.Order, executionPrice, quantity float64) float64 {
	if order != nil && order.CumulativeQuoteQty > 0 {
		return order.CumulativeQuoteQty
	}
	return executionPrice * quantity
}

// RederiveExitReason maps the realized pnl back onto the exit reason when
// the close was signal-initiated: a close that realized a stop-loss-sized
// loss is a STOP_LOSS, one that cleared the take-profit floor is a
// TAKE_PROFIT. MANUAL closes keep their label.
func RederiveExitReason(original ExitReason, pnlPct float64, limits Limits) ExitReason {
	if original != ExitSignal {
		return original
	}
	switch {
	case pnlPct <= limits.StopLossPct:
		return ExitStopLoss
	case pnlPct >= limits.TakeProfitMinPct:
		return ExitTakeProfit
	default:
		return ExitSignal
	}
}

// NetSpent is the quote budget a bot has committed: buys minus sells,
// clamped at zero so a profitable round trip restores the full configured
// amount instead of inflating it.
func NetSpent(buyQuote, sellQuote float64) float64 {
	n := buyQuote - sellQuote
	if n < 0 {
		return 0
	}
	return n
}

// RemainingBudget returns how much quote currency the bot may still commit
// under its configured amount.
func RemainingBudget(configAmount, netSpent float64) float64 {
	rem := configAmount - netSpent
	if rem < 0 {
		return 0
	}
	return rem
}
