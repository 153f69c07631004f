package strategy

import (
	"fmt"

	"github.com/ajitpratap0/tradefleet/internal/exchange"
)

// BollingerStrategy signals on band bounces and deep deviations beyond the bands.
type BollingerStrategy struct {
	Period     int
	StdDevMult float64
}

// NewBollingerStrategy returns the Bollinger strategy with the 20-period, 2-sigma defaults.
func NewBollingerStrategy() *BollingerStrategy {
	return &BollingerStrategy{Period: 20, StdDevMult: 2.0}
}

func (s *BollingerStrategy) Name() string { return "bollinger" }

// Evaluate checks deep deviations beyond the bands first, then bounces back
// inside them. A close more than 2% beyond a band scores higher than a bounce.
func (s *BollingerStrategy) Evaluate(candles []exchange.Candle) Result {
	if s.Period < 2 {
		return hold(fmt.Sprintf("invalid period %d", s.Period))
	}
	if len(candles) < s.Period+1 {
		return insufficientData()
	}

	closes := closePrices(candles)
	lower, middle, upper := computeBollinger(closes, s.Period)
	if len(lower) < 2 || len(upper) < 2 {
		return insufficientData()
	}

	currPrice, prevPrice := closes[len(closes)-1], closes[len(closes)-2]
	currLower, prevLower := lower[len(lower)-1], lower[len(lower)-2]
	currUpper, prevUpper := upper[len(upper)-1], upper[len(upper)-2]
	currMiddle := middle[len(middle)-1]
	if anyNaN(currPrice, prevPrice, currLower, prevLower, currUpper, prevUpper, currMiddle) {
		return hold("indicator produced NaN")
	}

	indicators := map[string]float64{
		"upper":  currUpper,
		"middle": currMiddle,
		"lower":  currLower,
		"price":  currPrice,
		"width":  currUpper - currLower,
	}

	switch {
	case currPrice < currLower*0.98:
		return Result{
			Signal:     SignalBuy,
			Confidence: 0.8,
			Reason:     "price more than 2% below lower band",
			Indicators: indicators,
		}
	case currPrice > currUpper*1.02:
		return Result{
			Signal:     SignalSell,
			Confidence: 0.8,
			Reason:     "price more than 2% above upper band",
			Indicators: indicators,
		}
	case prevPrice <= prevLower && currPrice > currLower:
		return Result{
			Signal:     SignalBuy,
			Confidence: 0.7,
			Reason:     "price bounced off lower band",
			Indicators: indicators,
		}
	case prevPrice >= prevUpper && currPrice < currUpper:
		return Result{
			Signal:     SignalSell,
			Confidence: 0.7,
			Reason:     "price rejected at upper band",
			Indicators: indicators,
		}
	}

	return Result{Signal: SignalHold, Confidence: 0, Reason: "price inside bands", Indicators: indicators}
}
