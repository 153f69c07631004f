package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradefleet/internal/exchange"
)

// candlesFromCloses builds a 1m candle series with the given close prices.
func candlesFromCloses(closes []float64) []exchange.Candle {
	candles := make([]exchange.Candle, len(closes))
	for i, c := range closes {
		candles[i] = exchange.Candle{
			Ts:     1700000000000 + int64(i)*60_000,
			Open:   c,
			High:   c + 0.5,
			Low:    c - 0.5,
			Close:  c,
			Volume: 100,
		}
	}
	return candles
}

// repeatCloses returns n copies of v.
func repeatCloses(v float64, n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = v
	}
	return closes
}

func TestForName(t *testing.T) {
	for _, name := range Names() {
		s, err := ForName(name)
		require.NoError(t, err, "registered name %q must resolve", name)
		assert.Equal(t, name, s.Name())
	}

	_, err := ForName("momentum_breakout")
	assert.Error(t, err, "unknown strategy name must error")
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"sma_crossover", "rsi", "macd", "bollinger", "combined"}, Names())
}

func TestResultValid(t *testing.T) {
	assert.False(t, Result{Signal: SignalHold}.Valid(), "nil indicators mean the strategy did not evaluate")
	assert.False(t, hold("insufficient data").Valid())
	assert.True(t, Result{Signal: SignalHold, Indicators: map[string]float64{}}.Valid(),
		"a genuine HOLD vote carries indicators")
}

// TestStrategies_DegenerateInput verifies every strategy degrades to a
// zero-confidence HOLD on short, empty or broken series instead of
// panicking or propagating NaN.
func TestStrategies_DegenerateInput(t *testing.T) {
	nanCloses := make([]float64, 60)
	for i := range nanCloses {
		nanCloses[i] = math.NaN()
	}

	inputs := []struct {
		name    string
		candles []exchange.Candle
	}{
		{"nil series", nil},
		{"empty series", []exchange.Candle{}},
		{"single candle", candlesFromCloses([]float64{100})},
		{"all NaN closes", candlesFromCloses(nanCloses)},
		{"all zero closes", candlesFromCloses(repeatCloses(0, 60))},
	}

	for _, name := range Names() {
		s, err := ForName(name)
		require.NoError(t, err)

		for _, in := range inputs {
			t.Run(name+"/"+in.name, func(t *testing.T) {
				res := s.Evaluate(in.candles)
				assert.Equal(t, SignalHold, res.Signal)
				assert.Zero(t, res.Confidence)
				assert.False(t, math.IsNaN(res.Confidence))
			})
		}
	}
}
