package memory

import (
	"context"
	"time"
)

// Entry is one record in an agent's append-only memory log.
type Entry struct {
	ID       int64          `json:"id,omitempty"`
	Agent    string         `json:"agent"`
	Type     string         `json:"type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Ts       time.Time      `json:"ts"`
}

// CollectiveEntry is a record in the shared memory log visible to every
// agent.
type CollectiveEntry struct {
	ID       int64          `json:"id,omitempty"`
	Type     string         `json:"type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Ts       time.Time      `json:"ts"`
}

// Entry types written by the platform itself. Agents may record additional
// ad-hoc types through the record_memory tool.
const (
	TypeTradeOutcome      = "trade_outcome"
	TypeTradeCompleted    = "trade_completed"
	TypeHistoricalContext = "historical_context"
	TypeNews              = "news"
)

// Backend persists memory entries. The Postgres implementation lives in
// internal/store; tests substitute an in-memory fake.
type Backend interface {
	InsertMemory(ctx context.Context, e *Entry) error
	FindMemory(ctx context.Context, agent, entryType string, since time.Time, limit int) ([]*Entry, error)
	InsertCollective(ctx context.Context, e *CollectiveEntry) error
	FindCollective(ctx context.Context, entryType string, since time.Time, limit int) ([]*CollectiveEntry, error)
}

// Outcome grades a closed trade for learning.
type Outcome string

const (
	OutcomeHighSuccess     Outcome = "high_success"
	OutcomeSuccess         Outcome = "success"
	OutcomeNeutralPositive Outcome = "neutral_positive"
	OutcomeNeutral         Outcome = "neutral"
	OutcomeNeutralNegative Outcome = "neutral_negative"
	OutcomeLowProfit       Outcome = "low_profit"
	OutcomeFailure         Outcome = "failure"
)

// minProfitLossThreshold is the absolute-PnL band in quote units that
// separates meaningful wins and losses from noise trades.
const minProfitLossThreshold = 1.0

// ClassifyOutcome grades a closed trade. Percentage extremes come first:
// clearing the take-profit floor is a high success regardless of absolute
// size, and a sub-1% gain is graded low_profit because it rarely covers
// fees. Everything else is judged on absolute PnL around the threshold.
func ClassifyOutcome(pnlAbs, pnlPct float64) Outcome {
	switch {
	case pnlPct >= 2.0:
		return OutcomeHighSuccess
	case pnlPct > 0 && pnlPct < 1.0:
		return OutcomeLowProfit
	case pnlAbs >= minProfitLossThreshold:
		return OutcomeSuccess
	case pnlAbs > 0:
		return OutcomeNeutralPositive
	case pnlAbs == 0:
		return OutcomeNeutral
	case pnlAbs > -minProfitLossThreshold:
		return OutcomeNeutralNegative
	default:
		return OutcomeFailure
	}
}

// Positive reports whether the outcome should reinforce the behavior that
// produced it.
func (o Outcome) Positive() bool {
	switch o {
	case OutcomeHighSuccess, OutcomeSuccess, OutcomeNeutralPositive:
		return true
	}
	return false
}
