package strategy

import (
	"fmt"
	"math"

	"github.com/ajitpratap0/tradefleet/internal/exchange"
)

// SMACrossover signals when the fast moving average crosses the slow one.
type SMACrossover struct {
	FastPeriod int
	SlowPeriod int
}

// NewSMACrossover returns the crossover strategy with the 20/50 defaults.
func NewSMACrossover() *SMACrossover {
	return &SMACrossover{FastPeriod: 20, SlowPeriod: 50}
}

func (s *SMACrossover) Name() string { return "sma_crossover" }

// Evaluate compares the last two fast/slow SMA pairs and signals on a
// cross. Confidence grows with the separation between the averages,
// capped at 0.9.
func (s *SMACrossover) Evaluate(candles []exchange.Candle) Result {
	if s.FastPeriod < 1 || s.SlowPeriod <= s.FastPeriod {
		return hold(fmt.Sprintf("invalid periods fast=%d slow=%d", s.FastPeriod, s.SlowPeriod))
	}
	if len(candles) < s.SlowPeriod+1 {
		return insufficientData()
	}

	closes := closePrices(candles)
	fastValues := computeSMA(closes, s.FastPeriod)
	slowValues := computeSMA(closes, s.SlowPeriod)
	if len(fastValues) < 2 || len(slowValues) < 2 {
		return insufficientData()
	}

	currFast, prevFast := fastValues[len(fastValues)-1], fastValues[len(fastValues)-2]
	currSlow, prevSlow := slowValues[len(slowValues)-1], slowValues[len(slowValues)-2]
	price := closes[len(closes)-1]

	if anyNaN(currFast, prevFast, currSlow, prevSlow, price) || price <= 0 {
		return hold("indicator produced NaN")
	}

	indicators := map[string]float64{
		"fast_sma": currFast,
		"slow_sma": currSlow,
		"price":    price,
	}
	confidence := math.Min(0.9, 0.6+math.Abs(currFast-currSlow)/price*100)

	switch {
	case prevFast <= prevSlow && currFast > currSlow:
		return Result{
			Signal:     SignalBuy,
			Confidence: confidence,
			Reason:     fmt.Sprintf("SMA(%d) crossed above SMA(%d)", s.FastPeriod, s.SlowPeriod),
			Indicators: indicators,
		}
	case prevFast >= prevSlow && currFast < currSlow:
		return Result{
			Signal:     SignalSell,
			Confidence: confidence,
			Reason:     fmt.Sprintf("SMA(%d) crossed below SMA(%d)", s.FastPeriod, s.SlowPeriod),
			Indicators: indicators,
		}
	}

	return Result{Signal: SignalHold, Confidence: 0, Reason: "no crossover", Indicators: indicators}
}
