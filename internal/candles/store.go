package candles

import "context"

// WindowStore persists candle windows. The Postgres implementation lives in
// internal/store; tests use an in-memory fake. Lookups that match nothing
// return (nil, nil), not an error.
type WindowStore interface {
	// UpsertPreTrade writes w as the single pre_trade window for its
	// (bot, symbol, timeframe) key, replacing any previous snapshot.
	UpsertPreTrade(ctx context.Context, w *Window) error

	// InsertWindow appends a new during_trade or post_trade window.
	InsertWindow(ctx context.Context, w *Window) error

	// FindPreTrade returns the pre_trade window for the key, if any.
	FindPreTrade(ctx context.Context, botID, symbol, timeframe string) (*Window, error)

	// FindOpenDuring returns the bot's open during_trade window, if any.
	// At most one exists per bot.
	FindOpenDuring(ctx context.Context, botID string) (*Window, error)

	// FindByTrade returns the window for a trade in the given phase:
	// during_trade windows match on buy_trade_id, post_trade on trade_id.
	FindByTrade(ctx context.Context, tradeID int64, phase Phase) (*Window, error)

	// UpdateCandles persists w's candle series, count and updated_ts.
	UpdateCandles(ctx context.Context, w *Window) error

	// CloseDuring flips the bot's open during_trade window to closed,
	// stamping sell_trade_id and end_ts. Returns false when the bot has no
	// open window; the flip happens at most once.
	CloseDuring(ctx context.Context, botID string, sellTradeID, endTs int64) (bool, error)

	// FindByBot returns the bot's windows in phase, optionally narrowed by
	// symbol and timeframe (empty string matches all).
	FindByBot(ctx context.Context, botID string, phase Phase, symbol, timeframe string) ([]*Window, error)

	// FindPostTradeBelow returns the bot's post_trade windows still short
	// of count candles, oldest first.
	FindPostTradeBelow(ctx context.Context, botID string, count int) ([]*Window, error)

	// DeleteWindowsBefore removes windows whose updated_ts is older than
	// cutoffTs (milliseconds) and reports how many went away.
	DeleteWindowsBefore(ctx context.Context, cutoffTs int64) (int64, error)
}
