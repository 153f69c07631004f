package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/ajitpratap0/tradefleet/internal/exchange"
	"github.com/ajitpratap0/tradefleet/internal/market"
	"github.com/ajitpratap0/tradefleet/internal/metrics"
	"github.com/ajitpratap0/tradefleet/internal/risk"
	"github.com/ajitpratap0/tradefleet/internal/strategy"
)

// decisionPoint captures the market state a trade decision was made
// against, for slippage and delay accounting.
type decisionPoint struct {
	price  float64
	ts     time.Time
	signal strategy.Result
}

// run is the bot loop: one tick, then sleep. A failed tick shortens the
// sleep to the retry period; cancellation exits at the next suspension
// point.
func (b *Bot) run(ctx context.Context) {
	defer close(b.done)
	b.logger.Info().Dur("tick", b.opts.Tick).Msg("Bot loop running")

	for {
		delay := b.opts.Tick
		if err := b.tick(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.BotTicks.WithLabelValues("error").Inc()
			b.noteError(err)
			b.logger.Error().Err(err).Msg("Tick failed")
			delay = b.opts.ErrorRetry
		} else {
			metrics.BotTicks.WithLabelValues("ok").Inc()
			b.noteError(nil)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tick runs one evaluation end to end: reconcile if flagged, fetch candles,
// snapshot the market for the tracker, evaluate phase and strategy, let the
// guards force or arm a close, advance the candle windows, then act on the
// signal.
func (b *Bot) tick(ctx context.Context) error {
	b.stateMu.Lock()
	b.tickCount++
	b.lastTick = time.Now().UTC()
	b.stateMu.Unlock()

	if b.needsReconcile() {
		b.tradeMu.Lock()
		err := b.snapshotPosition(ctx)
		b.tradeMu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to reconcile position from balances: %w", err)
		}
		b.clearReconcile()
	}

	series, err := b.deps.Client.Klines(ctx, b.cfg.Symbol, b.cfg.Timeframe, b.opts.KlineLimit)
	if err != nil {
		return fmt.Errorf("failed to fetch klines: %w", err)
	}

	if err := b.deps.Tracker.TrackPreTrade(ctx, b.cfg.BotID, b.cfg.Symbol, b.cfg.Timeframe); err != nil {
		b.logger.Warn().Err(err).Msg("Pre-trade snapshot failed")
	}

	phase := market.AnalyzePhase(series)
	signal := b.strat.Evaluate(series)

	price, err := b.deps.Prices.Price(ctx, b.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch price: %w", err)
	}
	dp := decisionPoint{price: price, ts: time.Now().UTC(), signal: signal}

	b.tradeMu.Lock()
	defer b.tradeMu.Unlock()

	b.stateMu.Lock()
	b.lastPhase = phase
	b.lastSignal = signal
	b.position.MarkPrice(price)
	open := b.position.Open()
	b.stateMu.Unlock()

	b.logger.Debug().
		Str("signal", string(signal.Signal)).
		Float64("confidence", signal.Confidence).
		Str("phase", string(phase.Phase)).
		Float64("price", price).
		Bool("position_open", open).
		Msg("Tick evaluated")

	if open {
		if err := b.closeOnGuards(ctx, dp); err != nil {
			return err
		}
	}

	b.updateWindows(ctx)

	if signal.Valid() && signal.Signal != strategy.SignalHold {
		if err := b.actOnSignal(ctx, dp); err != nil {
			return err
		}
	}
	return nil
}

// closeOnGuards asks the risk engine whether the current price alone
// demands an exit. A stop-loss breach forces out immediately; a trailing
// take-profit arms a close that must survive a fresh price read before the
// order goes out. Callers hold tradeMu.
func (b *Bot) closeOnGuards(ctx context.Context, dp decisionPoint) error {
	decision := b.deps.Guards.EvaluateTick(b.position, dp.price)
	switch {
	case decision.Forced():
		b.logger.Warn().
			Str("guard", decision.Guard).
			Str("reason", decision.Reason).
			Msg("Guard forced close")
		_, err := b.executeClose(ctx, closeRequest{
			price:      dp.price,
			ts:         dp.ts,
			exitReason: decision.ExitReason,
			strategy:   b.cfg.Strategy,
		})
		return b.contain(err, "forced close failed")

	case decision.Action == risk.ActionAllow:
		// Trailing armed: the profit must still be there on a fresh read.
		fresh, err := b.deps.Client.Price(ctx, b.cfg.Symbol)
		if err != nil {
			return fmt.Errorf("failed to re-read price for trailing close: %w", err)
		}
		confirm := b.deps.Guards.ConfirmTrailing(b.position, fresh)
		if confirm.Blocked() {
			metrics.GuardBlocks.WithLabelValues(confirm.Guard).Inc()
			b.logger.Info().Str("reason", confirm.Reason).Msg("Trailing close aborted")
			return nil
		}
		b.logger.Info().Str("reason", confirm.Reason).Msg("Trailing close confirmed")
		_, err = b.executeClose(ctx, closeRequest{
			price:      fresh,
			ts:         time.Now().UTC(),
			exitReason: confirm.ExitReason,
			strategy:   b.cfg.Strategy,
		})
		return b.contain(err, "trailing close failed")

	case decision.Guard != "":
		metrics.GuardBlocks.WithLabelValues(decision.Guard).Inc()
		b.logger.Debug().
			Str("guard", decision.Guard).
			Str("reason", decision.Reason).
			Msg("Tick close blocked")
	}
	return nil
}

// actOnSignal walks the position state machine for an actionable signal.
// An opposing signal closes through the ordered guards; BUY at flat opens a
// long, SELL at flat opens a short outside spot. Callers hold tradeMu.
func (b *Bot) actOnSignal(ctx context.Context, dp decisionPoint) error {
	switch dp.signal.Signal {
	case strategy.SignalBuy:
		if b.position.Side == risk.SideShort {
			return b.closeOnSignal(ctx, dp)
		}
		if b.position.Open() {
			b.logger.Debug().Msg("BUY signal with long already open")
			return nil
		}
		return b.openOnSignal(ctx, dp, exchange.SideBuy)

	case strategy.SignalSell:
		if b.position.Side == risk.SideLong {
			return b.closeOnSignal(ctx, dp)
		}
		if b.position.Open() {
			b.logger.Debug().Msg("SELL signal with short already open")
			return nil
		}
		if b.cfg.TradingMode == exchange.ModeSpot {
			b.logger.Debug().Msg("SELL signal with no position in spot mode")
			return nil
		}
		return b.openOnSignal(ctx, dp, exchange.SideSell)
	}
	return nil
}

// openOnSignal gates a signal entry on the open guards and executes it.
func (b *Bot) openOnSignal(ctx context.Context, dp decisionPoint, side exchange.OrderSide) error {
	decision := b.deps.Guards.EvaluateOpen(dp.signal.Confidence, b.currentNetSpent(), b.cfg.Amount)
	if decision.Blocked() {
		metrics.GuardBlocks.WithLabelValues(decision.Guard).Inc()
		b.logger.Info().
			Str("guard", decision.Guard).
			Str("reason", decision.Reason).
			Msg("Open blocked")
		return nil
	}
	_, err := b.executeOpen(ctx, openRequest{
		side:       side,
		price:      dp.price,
		ts:         dp.ts,
		confidence: dp.signal.Confidence,
		indicators: dp.signal.Indicators,
		strategy:   b.cfg.Strategy,
	})
	return b.contain(err, "open failed")
}

// closeOnSignal runs the ordered close guards for an opposing signal and
// executes the close when they allow it.
func (b *Bot) closeOnSignal(ctx context.Context, dp decisionPoint) error {
	decision := b.deps.Guards.EvaluateClose(b.position, dp.price)
	if decision.Blocked() {
		if decision.Guard != "" {
			metrics.GuardBlocks.WithLabelValues(decision.Guard).Inc()
		}
		b.logger.Info().
			Str("guard", decision.Guard).
			Str("reason", decision.Reason).
			Msg("Signal close blocked")
		return nil
	}

	exit := risk.ExitSignal
	if decision.Forced() {
		exit = decision.ExitReason
	}
	_, err := b.executeClose(ctx, closeRequest{
		price:      dp.price,
		ts:         dp.ts,
		exitReason: exit,
		strategy:   b.cfg.Strategy,
		confidence: dp.signal.Confidence,
		indicators: dp.signal.Indicators,
	})
	return b.contain(err, "signal close failed")
}

// updateWindows advances the open during-trade window and every post-trade
// window still filling. Tracking never fails a tick.
func (b *Bot) updateWindows(ctx context.Context) {
	if err := b.deps.Tracker.UpdatePositionTracking(ctx, b.cfg.BotID); err != nil {
		b.logger.Warn().Err(err).Msg("During-trade tracking failed")
	}

	ids, err := b.deps.Tracker.ActivePostTrades(ctx, b.cfg.BotID)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Failed to list post-trade windows")
		return
	}
	for _, tradeID := range ids {
		if _, err := b.deps.Tracker.UpdatePostTrade(ctx, tradeID); err != nil {
			b.logger.Warn().Err(err).Int64("trade_id", tradeID).Msg("Post-trade tracking failed")
		}
	}
}

// contain downgrades permanent trade failures to a log line so the loop
// keeps its cadence. Transient venue failures bubble up and trigger the
// error retry; everything else was already counted and published where it
// was detected.
func (b *Bot) contain(err error, what string) error {
	if err == nil {
		return nil
	}
	if retriable(err) {
		return fmt.Errorf("%s: %w", what, err)
	}
	b.logger.Warn().Err(err).Msg("Trade not executed")
	return nil
}

// retriable reports whether a venue failure is worth retrying next tick.
// Rate limits count: the order never reached the book.
func retriable(err error) bool {
	switch exchange.KindOf(err) {
	case exchange.KindTransient, exchange.KindRate:
		return true
	}
	return false
}
