package strategy

import (
	"fmt"

	"github.com/ajitpratap0/tradefleet/internal/exchange"
)

// Signal is a strategy's trade recommendation.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// Result is one strategy evaluation. Indicators is nil when the strategy
// could not evaluate at all (insufficient data or NaN indicator output);
// a genuine HOLD vote carries its indicator values.
type Result struct {
	Signal     Signal             `json:"signal"`
	Confidence float64            `json:"confidence"`
	Reason     string             `json:"reason"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Valid reports whether the strategy actually evaluated the series.
func (r Result) Valid() bool {
	return r.Indicators != nil
}

// Strategy evaluates a candle series into a trade signal. Implementations
// are pure: no I/O, no retained state, and they never panic on short or
// degenerate input.
type Strategy interface {
	Name() string
	Evaluate(candles []exchange.Candle) Result
}

// ForName returns a strategy with default parameters.
func ForName(name string) (Strategy, error) {
	switch name {
	case "sma_crossover":
		return NewSMACrossover(), nil
	case "rsi":
		return NewRSIStrategy(), nil
	case "macd":
		return NewMACDStrategy(), nil
	case "bollinger":
		return NewBollingerStrategy(), nil
	case "combined":
		return NewCombined(), nil
	}
	return nil, fmt.Errorf("unknown strategy %q", name)
}

// Names lists the registered strategy names.
func Names() []string {
	return []string{"sma_crossover", "rsi", "macd", "bollinger", "combined"}
}

func hold(reason string) Result {
	return Result{Signal: SignalHold, Confidence: 0, Reason: reason}
}

func insufficientData() Result {
	return hold("insufficient data")
}
