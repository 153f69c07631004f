package bot

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/tradefleet/internal/exchange"
	"github.com/ajitpratap0/tradefleet/internal/strategy"
)

// StartedByUser and StartedByDecisionAgent label who launched a bot.
const (
	StartedByUser          = "USER"
	StartedByDecisionAgent = "DECISION_AGENT"
)

// Config is one bot's trading configuration. It is created when the bot
// starts and stays immutable afterwards except for the stop stamp.
type Config struct {
	BotID       string               `json:"bot_id"`
	Strategy    string               `json:"strategy"`
	Symbol      string               `json:"symbol"`
	Amount      float64              `json:"amount"`
	Timeframe   string               `json:"timeframe"`
	TradingMode exchange.TradingMode `json:"trading_mode"`
	StartedAt   time.Time            `json:"started_at"`
	StartedBy   string               `json:"started_by,omitempty"`
	Autonomous  bool                 `json:"autonomous,omitempty"`
	StoppedAt   *time.Time           `json:"stopped_at,omitempty"`
}

// Validate checks the fields a bot cannot start without.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("bot config missing symbol")
	}
	if _, err := strategy.ForName(c.Strategy); err != nil {
		return err
	}
	if c.Amount <= 0 {
		return fmt.Errorf("bot amount must be positive, got %f", c.Amount)
	}
	if !exchange.IsValidInterval(c.Timeframe) {
		return fmt.Errorf("unsupported timeframe %q (valid: %v)", c.Timeframe, exchange.SupportedIntervals())
	}
	if !c.TradingMode.Valid() {
		return fmt.Errorf("invalid trading mode %q", c.TradingMode)
	}
	return nil
}

// Running reports whether the config describes a bot that has not stopped.
func (c *Config) Running() bool {
	return c.StoppedAt == nil
}
