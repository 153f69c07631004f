package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMACrossover_BuySignal(t *testing.T) {
	// Fifty flat closes then a sharp rally. The last fast window averages
	// 103 while the slow window averages 101.2, so the fast SMA crosses
	// above the slow one on the final candle.
	closes := append(repeatCloses(100, 50), 160)

	res := NewSMACrossover().Evaluate(candlesFromCloses(closes))

	require.Equal(t, SignalBuy, res.Signal)
	assert.Equal(t, 0.9, res.Confidence, "wide separation caps confidence at 0.9")
	assert.Equal(t, "SMA(20) crossed above SMA(50)", res.Reason)
	require.True(t, res.Valid())
	assert.InDelta(t, 103.0, res.Indicators["fast_sma"], 1e-6)
	assert.InDelta(t, 101.2, res.Indicators["slow_sma"], 1e-6)
	assert.InDelta(t, 160.0, res.Indicators["price"], 1e-9)
}

func TestSMACrossover_SellSignal(t *testing.T) {
	closes := append(repeatCloses(100, 50), 40)

	res := NewSMACrossover().Evaluate(candlesFromCloses(closes))

	require.Equal(t, SignalSell, res.Signal)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, "SMA(20) crossed below SMA(50)", res.Reason)
	require.True(t, res.Valid())
	assert.InDelta(t, 97.0, res.Indicators["fast_sma"], 1e-6)
	assert.InDelta(t, 98.8, res.Indicators["slow_sma"], 1e-6)
}

func TestSMACrossover_ConfidenceScalesWithSeparation(t *testing.T) {
	// A tiny uptick crosses the averages by a hair, so confidence stays
	// near the 0.6 floor instead of hitting the cap.
	closes := append(repeatCloses(100, 50), 100.2)

	res := NewSMACrossover().Evaluate(candlesFromCloses(closes))

	require.Equal(t, SignalBuy, res.Signal)
	assert.InDelta(t, 0.606, res.Confidence, 0.001)
}

func TestSMACrossover_NoCrossover(t *testing.T) {
	res := NewSMACrossover().Evaluate(candlesFromCloses(repeatCloses(100, 51)))

	assert.Equal(t, SignalHold, res.Signal)
	assert.Zero(t, res.Confidence)
	assert.Equal(t, "no crossover", res.Reason)
	assert.True(t, res.Valid(), "a flat series still evaluates")
}

func TestSMACrossover_InsufficientData(t *testing.T) {
	res := NewSMACrossover().Evaluate(candlesFromCloses(repeatCloses(100, 50)))

	assert.Equal(t, SignalHold, res.Signal)
	assert.Equal(t, "insufficient data", res.Reason)
	assert.False(t, res.Valid())
}

func TestSMACrossover_InvalidPeriods(t *testing.T) {
	s := &SMACrossover{FastPeriod: 50, SlowPeriod: 20}

	res := s.Evaluate(candlesFromCloses(repeatCloses(100, 60)))

	assert.Equal(t, SignalHold, res.Signal)
	assert.Contains(t, res.Reason, "invalid periods")
	assert.False(t, res.Valid())
}
