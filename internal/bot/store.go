package bot

import (
	"context"
	"time"

	"github.com/ajitpratap0/tradefleet/internal/risk"
)

// Store persists bot configurations. The Postgres implementation is
// *store.BotConfigs; tests substitute an in-memory fake.
type Store interface {
	// Save writes the full config document, replacing any previous version.
	Save(ctx context.Context, cfg *Config) error

	// MarkStopped stamps stopped_at on a previously saved config.
	MarkStopped(ctx context.Context, botID string, at time.Time) error

	// Find returns the config for botID, or (nil, nil) when none exists.
	Find(ctx context.Context, botID string) (*Config, error)
}

// TradeLog persists executed trades and answers budget queries.
// *store.Trades satisfies it.
type TradeLog interface {
	// Insert appends one executed trade.
	Insert(ctx context.Context, trade *risk.Trade) error

	// NetSpent returns the bot's committed quote budget: buys minus sells,
	// clamped at zero.
	NetSpent(ctx context.Context, botID string) (float64, error)
}

// AnalysisSink archives market analyses for later retrieval through the API
// and agent tools. *store.Analyses satisfies it; a nil sink disables
// archiving.
type AnalysisSink interface {
	Record(ctx context.Context, symbol, kind, summary string, payload map[string]any) error
}
