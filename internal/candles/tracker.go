package candles

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradefleet/internal/exchange"
)

const (
	// PreTradeTarget is how many candles a pre-trade snapshot fetches.
	PreTradeTarget = 200
	// PostTradeTarget is where a post-trade window stops growing.
	PostTradeTarget = 200
	// minPreTradeCandles rejects snapshots too thin to learn from.
	minPreTradeCandles = 10
)

// Tracker captures candle windows around trades: a market snapshot before
// each decision, a growing series while a position is open, and a follow-up
// series after each close. Windows feed the learning store; trading never
// depends on them, so callers treat tracker failures as non-fatal.
type Tracker struct {
	client exchange.Client
	store  WindowStore
	logger zerolog.Logger

	now func() time.Time
}

// NewTracker creates a tracker over the given exchange client and store.
func NewTracker(client exchange.Client, store WindowStore, logger zerolog.Logger) *Tracker {
	return &Tracker{
		client: client,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// TrackPreTrade snapshots the latest market candles for the bot's symbol
// and timeframe, replacing any previous snapshot for the same key. Fetches
// shorter than minPreTradeCandles are rejected.
func (t *Tracker) TrackPreTrade(ctx context.Context, botID, symbol, timeframe string) error {
	candles, err := t.client.Klines(ctx, symbol, timeframe, PreTradeTarget)
	if err != nil {
		return fmt.Errorf("failed to fetch pre-trade klines for %s %s: %w", symbol, timeframe, err)
	}
	if len(candles) < minPreTradeCandles {
		return fmt.Errorf("pre-trade snapshot for %s %s too thin: %d candles, need at least %d",
			symbol, timeframe, len(candles), minPreTradeCandles)
	}

	w := &Window{
		BotID:     botID,
		Symbol:    symbol,
		Timeframe: timeframe,
		Phase:     PhasePreTrade,
		UpdatedTs: t.now().UnixMilli(),
	}
	w.setCandles(candles)
	w.StartTs = w.Candles[0].Ts
	w.EndTs = w.Candles[len(w.Candles)-1].Ts

	if err := t.store.UpsertPreTrade(ctx, w); err != nil {
		return fmt.Errorf("failed to persist pre-trade window: %w", err)
	}
	t.logger.Debug().
		Str("bot_id", botID).
		Str("symbol", symbol).
		Str("timeframe", timeframe).
		Int("count", w.Count).
		Msg("pre-trade window updated")
	return nil
}

// StartPositionTracking opens a during-trade window keyed to the buy that
// opened the position. A bot holds at most one open window; starting a
// second is refused.
func (t *Tracker) StartPositionTracking(ctx context.Context, botID, symbol, timeframe string, buyTradeID int64) error {
	existing, err := t.store.FindOpenDuring(ctx, botID)
	if err != nil {
		return fmt.Errorf("failed to check for open during-trade window: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("bot %s already tracks an open position (buy trade %d)", botID, existing.BuyTradeID)
	}

	now := t.now().UnixMilli()
	w := &Window{
		BotID:          botID,
		Symbol:         symbol,
		Timeframe:      timeframe,
		Phase:          PhaseDuringTrade,
		BuyTradeID:     buyTradeID,
		PositionStatus: StatusOpen,
		StartTs:        now,
		UpdatedTs:      now,
	}
	if err := t.store.InsertWindow(ctx, w); err != nil {
		return fmt.Errorf("failed to open during-trade window: %w", err)
	}
	t.logger.Info().
		Str("bot_id", botID).
		Str("symbol", symbol).
		Int64("buy_trade_id", buyTradeID).
		Msg("position tracking started")
	return nil
}

// UpdatePositionTracking appends candles newer than the window start to the
// bot's open during-trade window. A bot with nothing tracked is a no-op.
func (t *Tracker) UpdatePositionTracking(ctx context.Context, botID string) error {
	w, err := t.store.FindOpenDuring(ctx, botID)
	if err != nil {
		return fmt.Errorf("failed to load during-trade window: %w", err)
	}
	if w == nil {
		return nil
	}

	candles, err := t.client.Klines(ctx, w.Symbol, w.Timeframe, PreTradeTarget)
	if err != nil {
		return fmt.Errorf("failed to fetch klines for during-trade window: %w", err)
	}
	if w.appendAfter(candles, w.StartTs, 0) == 0 {
		return nil
	}
	w.UpdatedTs = t.now().UnixMilli()
	if err := t.store.UpdateCandles(ctx, w); err != nil {
		return fmt.Errorf("failed to persist during-trade window: %w", err)
	}
	return nil
}

// StopPositionTracking closes the bot's open during-trade window, stamping
// the sell that flattened the position. The flip happens exactly once;
// calling with no open window is an error.
func (t *Tracker) StopPositionTracking(ctx context.Context, botID string, sellTradeID int64) error {
	flipped, err := t.store.CloseDuring(ctx, botID, sellTradeID, t.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to close during-trade window: %w", err)
	}
	if !flipped {
		return fmt.Errorf("bot %s has no open during-trade window to close", botID)
	}
	t.logger.Info().
		Str("bot_id", botID).
		Int64("sell_trade_id", sellTradeID).
		Msg("position tracking stopped")
	return nil
}

// StartPostTrade opens an empty post-trade window for a closed trade. Only
// candles strictly after the trade's execution time accumulate, stopping at
// PostTradeTarget.
func (t *Tracker) StartPostTrade(ctx context.Context, botID, symbol, timeframe string, tradeID int64, executionTs time.Time) error {
	existing, err := t.store.FindByTrade(ctx, tradeID, PhasePostTrade)
	if err != nil {
		return fmt.Errorf("failed to check for post-trade window: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("trade %d already has a post-trade window", tradeID)
	}

	w := &Window{
		BotID:     botID,
		Symbol:    symbol,
		Timeframe: timeframe,
		Phase:     PhasePostTrade,
		TradeID:   tradeID,
		StartTs:   executionTs.UTC().UnixMilli(),
		UpdatedTs: t.now().UnixMilli(),
	}
	if err := t.store.InsertWindow(ctx, w); err != nil {
		return fmt.Errorf("failed to open post-trade window: %w", err)
	}
	t.logger.Info().
		Str("bot_id", botID).
		Int64("trade_id", tradeID).
		Msg("post-trade tracking started")
	return nil
}

// UpdatePostTrade appends fresh candles to a trade's post-trade window and
// reports whether the window has reached its target and needs no further
// updates.
func (t *Tracker) UpdatePostTrade(ctx context.Context, tradeID int64) (bool, error) {
	w, err := t.store.FindByTrade(ctx, tradeID, PhasePostTrade)
	if err != nil {
		return false, fmt.Errorf("failed to load post-trade window: %w", err)
	}
	if w == nil {
		return false, fmt.Errorf("trade %d has no post-trade window", tradeID)
	}
	if w.Count >= PostTradeTarget {
		return true, nil
	}

	candles, err := t.client.Klines(ctx, w.Symbol, w.Timeframe, PostTradeTarget)
	if err != nil {
		return false, fmt.Errorf("failed to fetch klines for post-trade window: %w", err)
	}
	if w.appendAfter(candles, w.StartTs, PostTradeTarget) > 0 {
		w.UpdatedTs = t.now().UnixMilli()
		if w.Count >= PostTradeTarget {
			w.EndTs = w.lastTs()
		}
		if err := t.store.UpdateCandles(ctx, w); err != nil {
			return false, fmt.Errorf("failed to persist post-trade window: %w", err)
		}
	}
	return w.Count >= PostTradeTarget, nil
}

// GetCandles returns the bot's windows in a phase, optionally narrowed by
// symbol and timeframe.
func (t *Tracker) GetCandles(ctx context.Context, botID string, phase Phase, symbol, timeframe string) ([]*Window, error) {
	if !phase.Valid() {
		return nil, fmt.Errorf("unknown candle phase %q", phase)
	}
	return t.store.FindByBot(ctx, botID, phase, symbol, timeframe)
}

// GetTradeCandles returns the window attached to a trade in the given phase.
func (t *Tracker) GetTradeCandles(ctx context.Context, tradeID int64, phase Phase) (*Window, error) {
	if !phase.Valid() {
		return nil, fmt.Errorf("unknown candle phase %q", phase)
	}
	return t.store.FindByTrade(ctx, tradeID, phase)
}

// ActivePostTrades lists trade IDs whose post-trade windows are still
// filling, so a restarted bot can resume them.
func (t *Tracker) ActivePostTrades(ctx context.Context, botID string) ([]int64, error) {
	windows, err := t.store.FindPostTradeBelow(ctx, botID, PostTradeTarget)
	if err != nil {
		return nil, fmt.Errorf("failed to list active post-trade windows: %w", err)
	}
	ids := make([]int64, 0, len(windows))
	for _, w := range windows {
		ids = append(ids, w.TradeID)
	}
	return ids, nil
}

// Cleanup deletes windows not updated in the last N days and returns how
// many were removed.
func (t *Tracker) Cleanup(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("cleanup horizon must be positive, got %d days", days)
	}
	cutoff := t.now().AddDate(0, 0, -days).UnixMilli()
	deleted, err := t.store.DeleteWindowsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up candle windows: %w", err)
	}
	if deleted > 0 {
		t.logger.Info().Int64("deleted", deleted).Int("days", days).Msg("candle windows cleaned up")
	}
	return deleted, nil
}
