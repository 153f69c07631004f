package bot

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/tradefleet/internal/market"
	"github.com/ajitpratap0/tradefleet/internal/memory"
	"github.com/ajitpratap0/tradefleet/internal/strategy"
)

// contextTimeframes are the intervals the startup analysis scans, shortest
// first.
var contextTimeframes = []string{"5m", "15m", "1h", "4h", "1d"}

// analysisKindContext labels archived historical context digests.
const analysisKindContext = "historical_context"

// historicalContext runs the bot's strategy and the phase analyzer across
// the standard timeframes once at startup and records the digest: into the
// decision agent's memory, and into the analyses archive when a sink is
// wired. Failures are logged; the bot trades the same without the context.
func (b *Bot) historicalContext(ctx context.Context) {
	signals := make(map[strategy.Signal]int)
	phases := make(map[market.Phase]int)
	frames := make(map[string]any, len(contextTimeframes))

	for _, tf := range contextTimeframes {
		series, err := b.deps.Client.Klines(ctx, b.cfg.Symbol, tf, b.opts.KlineLimit)
		if err != nil {
			b.logger.Warn().Err(err).Str("timeframe", tf).Msg("Historical context fetch failed")
			continue
		}
		res := b.strat.Evaluate(series)
		ph := market.AnalyzePhase(series)
		signals[res.Signal]++
		phases[ph.Phase]++
		frames[tf] = map[string]any{
			"signal":           string(res.Signal),
			"confidence":       res.Confidence,
			"phase":            string(ph.Phase),
			"phase_confidence": ph.Confidence,
		}
	}
	if len(frames) == 0 {
		b.logger.Warn().Msg("Historical context skipped: no timeframe could be analyzed")
		return
	}

	summary := fmt.Sprintf("%s %s across %d timeframes: %d buy / %d sell / %d hold; %d bullish / %d bearish / %d sideways",
		b.cfg.Symbol, b.cfg.Strategy, len(frames),
		signals[strategy.SignalBuy], signals[strategy.SignalSell], signals[strategy.SignalHold],
		phases[market.PhaseBullish], phases[market.PhaseBearish], phases[market.PhaseSideways])

	payload := map[string]any{
		"bot_id":   b.cfg.BotID,
		"symbol":   b.cfg.Symbol,
		"strategy": b.cfg.Strategy,
		"frames":   frames,
	}

	if _, err := b.deps.Memory.Record(ctx, b.opts.MemoryAgent, memory.TypeHistoricalContext, summary, payload); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to record historical context")
	}
	if b.deps.Analyses != nil {
		if err := b.deps.Analyses.Record(ctx, b.cfg.Symbol, analysisKindContext, summary, payload); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to archive historical context")
		}
	}
	b.logger.Info().Str("summary", summary).Msg("Historical context recorded")
}
