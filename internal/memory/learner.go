package memory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradefleet/internal/candles"
	"github.com/ajitpratap0/tradefleet/internal/risk"
)

// WindowSet bundles the candle windows captured around one trade. Fields
// are nil when the tracker has nothing for that phase.
type WindowSet struct {
	Pre    *candles.Window
	During *candles.Window
	Post   *candles.Window
}

// Learner turns closed trades into memory the agents can recall: a graded
// lesson in the target agent's log plus a collective trade_completed
// summary. The target is normally the decision agent.
type Learner struct {
	store  *Store
	agent  string
	logger zerolog.Logger
}

// NewLearner creates a learner writing lessons to the given agent's memory.
func NewLearner(store *Store, agent string, logger zerolog.Logger) *Learner {
	return &Learner{store: store, agent: agent, logger: logger}
}

// RecordTradeOutcome grades a closed trade, records the lesson with the
// captured candle windows attached, and emits the collective summary. The
// outcome is returned even when persistence fails so callers can still act
// on it.
func (l *Learner) RecordTradeOutcome(ctx context.Context, trade *risk.Trade, windows WindowSet) (Outcome, error) {
	outcome := ClassifyOutcome(trade.PnLAbs, trade.PnLPct)
	lesson := lessonFor(trade, outcome)

	metadata := map[string]any{
		"trade_id":    trade.TradeID,
		"bot_id":      trade.BotID,
		"symbol":      trade.Symbol,
		"strategy":    trade.Strategy,
		"side":        string(trade.Side),
		"exit_reason": string(trade.ExitReason),
		"outcome":     string(outcome),
		"pnl_abs":     trade.PnLAbs,
		"pnl_pct":     trade.PnLPct,
	}
	if ws := windowSummaries(windows); len(ws) > 0 {
		metadata["windows"] = ws
	}

	if _, err := l.store.Record(ctx, l.agent, TypeTradeOutcome, lesson, metadata); err != nil {
		return outcome, err
	}

	summary := fmt.Sprintf("bot %s closed %s %s: %s, pnl %.2f%% (%.2f quote), exit %s",
		trade.BotID, trade.Strategy, trade.Symbol, outcome, trade.PnLPct, trade.PnLAbs, trade.ExitReason)
	if _, err := l.store.RecordCollective(ctx, TypeTradeCompleted, summary, metadata); err != nil {
		return outcome, err
	}

	l.logger.Info().
		Str("bot_id", trade.BotID).
		Int64("trade_id", trade.TradeID).
		Str("outcome", string(outcome)).
		Float64("pnl_pct", trade.PnLPct).
		Msg("trade outcome recorded")
	return outcome, nil
}

// lessonFor renders the human-readable takeaway an agent reads back later.
func lessonFor(t *risk.Trade, outcome Outcome) string {
	head := fmt.Sprintf("%s %s via %s exited with %s at %.2f%% (%.2f quote).",
		t.Symbol, t.Side, t.Strategy, t.ExitReason, t.PnLPct, t.PnLAbs)

	switch outcome {
	case OutcomeHighSuccess:
		return head + " The position cleared the take-profit floor. Setups like this one are worth repeating."
	case OutcomeSuccess:
		return head + " Solid absolute gain. The entry conditions and exit timing worked together."
	case OutcomeNeutralPositive:
		return head + " Small gain, barely worth the round trip. Consider waiting for stronger signals."
	case OutcomeNeutral:
		return head + " Flat result. The signal carried no edge at this time."
	case OutcomeNeutralNegative:
		return head + " Small loss within acceptable noise. No change needed, but watch for repetition."
	case OutcomeLowProfit:
		return head + " Gain under 1% rarely covers fees. Entries this weak should be skipped."
	case OutcomeFailure:
		return head + " Meaningful loss. Review the entry conditions and the market phase at entry."
	default:
		return head
	}
}

func windowSummaries(ws WindowSet) map[string]any {
	out := make(map[string]any, 3)
	add := func(name string, w *candles.Window) {
		if w == nil {
			return
		}
		out[name] = map[string]any{
			"count":     w.Count,
			"timeframe": w.Timeframe,
			"start_ts":  w.StartTs,
			"end_ts":    w.EndTs,
		}
	}
	add(string(candles.PhasePreTrade), ws.Pre)
	add(string(candles.PhaseDuringTrade), ws.During)
	add(string(candles.PhasePostTrade), ws.Post)
	if len(out) == 0 {
		return nil
	}
	return out
}
