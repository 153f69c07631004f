package strategy

import (
	"fmt"

	"github.com/ajitpratap0/tradefleet/internal/exchange"
)

// MACDStrategy signals on the MACD line crossing its signal line.
type MACDStrategy struct {
	FastPeriod   int
	SlowPeriod   int
	SignalPeriod int
}

// NewMACDStrategy returns the MACD strategy with the 12/26/9 defaults.
func NewMACDStrategy() *MACDStrategy {
	return &MACDStrategy{FastPeriod: 12, SlowPeriod: 26, SignalPeriod: 9}
}

func (s *MACDStrategy) Name() string { return "macd" }

// Evaluate detects a histogram sign flip between the last two MACD values.
func (s *MACDStrategy) Evaluate(candles []exchange.Candle) Result {
	if s.FastPeriod < 1 || s.SlowPeriod <= s.FastPeriod || s.SignalPeriod < 1 {
		return hold(fmt.Sprintf("invalid periods fast=%d slow=%d signal=%d", s.FastPeriod, s.SlowPeriod, s.SignalPeriod))
	}
	if len(candles) < s.SlowPeriod+s.SignalPeriod {
		return insufficientData()
	}

	closes := closePrices(candles)
	macdValues, signalValues := computeMACD(closes, s.FastPeriod, s.SlowPeriod, s.SignalPeriod)
	if len(macdValues) < 2 || len(signalValues) < 2 {
		return insufficientData()
	}

	currMACD, prevMACD := macdValues[len(macdValues)-1], macdValues[len(macdValues)-2]
	currSignal, prevSignal := signalValues[len(signalValues)-1], signalValues[len(signalValues)-2]
	if anyNaN(currMACD, prevMACD, currSignal, prevSignal) {
		return hold("indicator produced NaN")
	}

	currHist := currMACD - currSignal
	prevHist := prevMACD - prevSignal
	indicators := map[string]float64{
		"macd":      currMACD,
		"signal":    currSignal,
		"histogram": currHist,
	}

	switch {
	case prevHist <= 0 && currHist > 0:
		return Result{
			Signal:     SignalBuy,
			Confidence: 0.75,
			Reason:     "MACD crossed above signal line",
			Indicators: indicators,
		}
	case prevHist >= 0 && currHist < 0:
		return Result{
			Signal:     SignalSell,
			Confidence: 0.75,
			Reason:     "MACD crossed below signal line",
			Indicators: indicators,
		}
	}

	return Result{Signal: SignalHold, Confidence: 0, Reason: "no MACD crossover", Indicators: indicators}
}
