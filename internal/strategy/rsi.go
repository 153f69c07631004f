package strategy

import (
	"fmt"

	"github.com/ajitpratap0/tradefleet/internal/exchange"
)

// RSIStrategy signals when RSI leaves oversold or overbought territory.
type RSIStrategy struct {
	Period     int
	Oversold   float64
	Overbought float64
}

// NewRSIStrategy returns the RSI strategy with the 14/30/70 defaults.
func NewRSIStrategy() *RSIStrategy {
	return &RSIStrategy{Period: 14, Oversold: 30, Overbought: 70}
}

func (s *RSIStrategy) Name() string { return "rsi" }

// Evaluate signals BUY when RSI crosses up through the oversold level or
// sits in deep oversold territory, and SELL for the overbought mirror.
// Deep readings carry higher confidence than level crosses.
func (s *RSIStrategy) Evaluate(candles []exchange.Candle) Result {
	if s.Period < 2 {
		return hold(fmt.Sprintf("invalid period %d", s.Period))
	}
	if len(candles) < s.Period+2 {
		return insufficientData()
	}

	closes := closePrices(candles)
	values := computeRSI(closes, s.Period)
	if len(values) < 2 {
		return insufficientData()
	}

	curr, prev := values[len(values)-1], values[len(values)-2]
	if anyNaN(curr, prev) {
		return hold("indicator produced NaN")
	}

	indicators := map[string]float64{"rsi": curr}

	switch {
	case curr < 25:
		return Result{
			Signal:     SignalBuy,
			Confidence: 0.85,
			Reason:     fmt.Sprintf("RSI %.1f deeply oversold", curr),
			Indicators: indicators,
		}
	case prev <= s.Oversold && curr > s.Oversold:
		return Result{
			Signal:     SignalBuy,
			Confidence: 0.7,
			Reason:     fmt.Sprintf("RSI crossed up through %.0f", s.Oversold),
			Indicators: indicators,
		}
	case curr > 75:
		return Result{
			Signal:     SignalSell,
			Confidence: 0.85,
			Reason:     fmt.Sprintf("RSI %.1f deeply overbought", curr),
			Indicators: indicators,
		}
	case prev >= s.Overbought && curr < s.Overbought:
		return Result{
			Signal:     SignalSell,
			Confidence: 0.7,
			Reason:     fmt.Sprintf("RSI crossed down through %.0f", s.Overbought),
			Indicators: indicators,
		}
	}

	return Result{Signal: SignalHold, Confidence: 0, Reason: "RSI neutral", Indicators: indicators}
}
