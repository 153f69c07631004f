package risk

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/tradefleet/internal/metrics"
)

// Limits are the guard thresholds. Values come from config; DefaultLimits
// carries the platform defaults.
type Limits struct {
	StopLossPct           float64
	TakeProfitMinPct      float64
	TrailingDrawdownPct   float64
	MinHolding            time.Duration
	SignalMinConfidence   float64
	TakerFee              float64
	MinProfitAfterFeesPct float64
}

// DefaultLimits returns the stock guard thresholds.
func DefaultLimits() Limits {
	return Limits{
		StopLossPct:           -2.0,
		TakeProfitMinPct:      2.0,
		TrailingDrawdownPct:   3.0,
		MinHolding:            15 * time.Minute,
		SignalMinConfidence:   0.6,
		TakerFee:              0.001,
		MinProfitAfterFeesPct: 0.3,
	}
}

// GuardAction is the verdict of a guard evaluation.
type GuardAction string

const (
	// ActionAllow permits the evaluated order to proceed.
	ActionAllow GuardAction = "ALLOW"
	// ActionBlock keeps the position as it is. Blocks are informational,
	// never errors.
	ActionBlock GuardAction = "BLOCK"
	// ActionForce demands an immediate close regardless of the other guards.
	ActionForce GuardAction = "FORCE"
)

// GuardDecision is the value returned by every guard evaluation. Guards
// decide, they never fail: a decision is always returned, and the bot acts
// on it without error handling.
type GuardDecision struct {
	Action GuardAction
	// Guard names the deciding guard using the metrics label constants.
	// Empty when no specific guard fired (plain allows, flat positions).
	Guard  string
	Reason string
	// ExitReason is set when the decision itself determines how the close
	// is labeled (forced stop-loss, trailing take-profit).
	ExitReason ExitReason
}

// Blocked reports whether the decision keeps the position unchanged.
func (d GuardDecision) Blocked() bool { return d.Action == ActionBlock }

// Forced reports whether the decision demands a close.
func (d GuardDecision) Forced() bool { return d.Action == ActionForce }

// Engine evaluates open and close guards against positions. It is
// stateless apart from its thresholds and safe for concurrent use.
type Engine struct {
	limits Limits

	// now is replaceable in tests.
	now func() time.Time
}

// NewEngine returns a guard engine with the given thresholds.
func NewEngine(limits Limits) *Engine {
	return &Engine{limits: limits, now: time.Now}
}

// Limits returns the engine's thresholds.
func (e *Engine) Limits() Limits { return e.limits }

// EvaluateClose runs the ordered close guards for a requested close — an
// opposing strategy signal or a manual instruction — against an open
// position at the current price.
//
// Order matters: stop-loss is checked first and forces the close past every
// later guard; min-hold, min-profit and loss-prevention each block in turn.
func (e *Engine) EvaluateClose(pos *Position, currentPrice float64) GuardDecision {
	if !pos.Open() {
		return GuardDecision{Action: ActionBlock, Reason: "no open position"}
	}
	pnl := pos.PnLPct(currentPrice)

	if pnl <= e.limits.StopLossPct {
		return GuardDecision{
			Action:     ActionForce,
			Guard:      metrics.GuardStopLoss,
			Reason:     fmt.Sprintf("pnl %.2f%% breached stop loss %.2f%%", pnl, e.limits.StopLossPct),
			ExitReason: ExitStopLoss,
		}
	}
	if held := pos.HeldFor(e.now()); held < e.limits.MinHolding {
		return GuardDecision{
			Action: ActionBlock,
			Guard:  metrics.GuardMinHold,
			Reason: fmt.Sprintf("held %s of required %s", held.Round(time.Second), e.limits.MinHolding),
		}
	}
	if pnl < e.limits.TakeProfitMinPct {
		return GuardDecision{
			Action: ActionBlock,
			Guard:  metrics.GuardMinProfit,
			Reason: fmt.Sprintf("pnl %.2f%% below minimum profit %.2f%%", pnl, e.limits.TakeProfitMinPct),
		}
	}
	if pos.Side == SideLong && currentPrice < pos.EntryPrice {
		return GuardDecision{
			Action: ActionBlock,
			Guard:  metrics.GuardLossPrevention,
			Reason: fmt.Sprintf("price %.8f below entry %.8f", currentPrice, pos.EntryPrice),
		}
	}
	return GuardDecision{Action: ActionAllow}
}

// EvaluateTick decides whether the engine itself demands a close at the
// current price, independent of any strategy signal: a stop-loss breach
// forces out, and for longs a deep enough drawdown from the high-water mark
// arms the trailing take-profit once min-hold and the profit floor are met.
func (e *Engine) EvaluateTick(pos *Position, currentPrice float64) GuardDecision {
	if !pos.Open() {
		return GuardDecision{Action: ActionBlock, Reason: "no open position"}
	}
	pnl := pos.PnLPct(currentPrice)

	if pnl <= e.limits.StopLossPct {
		return GuardDecision{
			Action:     ActionForce,
			Guard:      metrics.GuardStopLoss,
			Reason:     fmt.Sprintf("pnl %.2f%% breached stop loss %.2f%%", pnl, e.limits.StopLossPct),
			ExitReason: ExitStopLoss,
		}
	}
	if pos.Side != SideLong {
		return GuardDecision{Action: ActionBlock, Reason: "trailing take-profit tracks longs only"}
	}

	stop := pos.TrailingStop(e.limits.TrailingDrawdownPct)
	if currentPrice > stop {
		return GuardDecision{
			Action: ActionBlock,
			Reason: fmt.Sprintf("price %.8f above trailing stop %.8f", currentPrice, stop),
		}
	}
	if held := pos.HeldFor(e.now()); held < e.limits.MinHolding {
		return GuardDecision{
			Action: ActionBlock,
			Guard:  metrics.GuardMinHold,
			Reason: fmt.Sprintf("trailing armed but held %s of required %s", held.Round(time.Second), e.limits.MinHolding),
		}
	}
	if pnl < e.limits.TakeProfitMinPct {
		return GuardDecision{
			Action: ActionBlock,
			Guard:  metrics.GuardMinProfit,
			Reason: fmt.Sprintf("trailing armed but pnl %.2f%% below minimum profit %.2f%%", pnl, e.limits.TakeProfitMinPct),
		}
	}
	if pnl <= 0 {
		// Only reachable when config lowers the profit floor to zero.
		return GuardDecision{
			Action: ActionBlock,
			Guard:  metrics.GuardLossPrevention,
			Reason: fmt.Sprintf("trailing armed but pnl %.2f%% not positive", pnl),
		}
	}
	return GuardDecision{
		Action:     ActionAllow,
		Guard:      metrics.GuardTrailing,
		Reason:     fmt.Sprintf("price %.8f fell to trailing stop %.8f with pnl %.2f%%", currentPrice, stop, pnl),
		ExitReason: ExitTakeProfit,
	}
}

// ConfirmTrailing re-checks a trailing close against a freshly read price
// just before the sell order is placed. The close aborts when the profit
// has evaporated between the tick evaluation and execution.
func (e *Engine) ConfirmTrailing(pos *Position, reReadPrice float64) GuardDecision {
	pnl := pos.PnLPct(reReadPrice)
	if pnl <= 0 {
		return GuardDecision{
			Action: ActionBlock,
			Guard:  metrics.GuardTrailing,
			Reason: fmt.Sprintf("re-read pnl %.2f%% no longer positive, aborting trailing close", pnl),
		}
	}
	return GuardDecision{
		Action:     ActionAllow,
		Guard:      metrics.GuardTrailing,
		Reason:     fmt.Sprintf("re-read pnl %.2f%% confirmed", pnl),
		ExitReason: ExitTakeProfit,
	}
}

// EvaluateOpen gates a new entry on signal confidence and the bot's net
// spent budget. Tradability and filter checks live with the exchange
// gateway; the bot runs those separately.
func (e *Engine) EvaluateOpen(confidence, netSpent, configAmount float64) GuardDecision {
	if confidence < e.limits.SignalMinConfidence {
		return GuardDecision{
			Action: ActionBlock,
			Guard:  metrics.GuardConfidence,
			Reason: fmt.Sprintf("confidence %.2f below threshold %.2f", confidence, e.limits.SignalMinConfidence),
		}
	}
	if netSpent >= configAmount {
		return GuardDecision{
			Action: ActionBlock,
			Guard:  metrics.GuardBudget,
			Reason: fmt.Sprintf("net spent %.2f exhausts configured amount %.2f", netSpent, configAmount),
		}
	}
	return GuardDecision{Action: ActionAllow}
}

// AfterFeesPct discounts a raw pnl percentage by the taker fee on both
// legs of the round trip.
func (e *Engine) AfterFeesPct(pnlPct float64) float64 {
	return pnlPct - 2*e.limits.TakerFee*100
}

// ProfitableAfterFees reports whether a move of pnlPct clears the fee
// overhead plus the configured minimum.
func (e *Engine) ProfitableAfterFees(pnlPct float64) bool {
	return e.AfterFeesPct(pnlPct) >= e.limits.MinProfitAfterFeesPct
}
