package strategy

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/tradefleet/internal/exchange"
)

// Combined aggregates the RSI, MACD and Bollinger strategies by majority
// vote. It emits BUY or SELL only when at least two of the sub-strategies
// that produced a valid result agree, and degrades to HOLD as sub-strategies
// drop out on short or broken input.
type Combined struct {
	subs []Strategy
}

// NewCombined returns the combined strategy over its default sub-strategies.
func NewCombined() *Combined {
	return &Combined{subs: []Strategy{
		NewRSIStrategy(),
		NewMACDStrategy(),
		NewBollingerStrategy(),
	}}
}

func (s *Combined) Name() string { return "combined" }

// Evaluate runs every sub-strategy and tallies votes among the valid results.
// Confidence scales with how many of the valid sub-strategies agree.
func (s *Combined) Evaluate(candles []exchange.Candle) Result {
	indicators := make(map[string]float64)
	var valid, buys, sells int
	var buyers, sellers []string

	for _, sub := range s.subs {
		res := sub.Evaluate(candles)
		if !res.Valid() {
			continue
		}
		valid++
		for k, v := range res.Indicators {
			indicators[sub.Name()+"_"+k] = v
		}
		switch res.Signal {
		case SignalBuy:
			buys++
			buyers = append(buyers, sub.Name())
		case SignalSell:
			sells++
			sellers = append(sellers, sub.Name())
		}
	}

	if valid == 0 {
		return insufficientData()
	}

	switch {
	case buys >= 2 && buys > sells:
		return Result{
			Signal:     SignalBuy,
			Confidence: 0.6 + float64(buys)/float64(valid)*0.3,
			Reason:     fmt.Sprintf("%d of %d strategies agree on BUY (%s)", buys, valid, strings.Join(buyers, ", ")),
			Indicators: indicators,
		}
	case sells >= 2 && sells > buys:
		return Result{
			Signal:     SignalSell,
			Confidence: 0.6 + float64(sells)/float64(valid)*0.3,
			Reason:     fmt.Sprintf("%d of %d strategies agree on SELL (%s)", sells, valid, strings.Join(sellers, ", ")),
			Indicators: indicators,
		}
	}

	return Result{
		Signal:     SignalHold,
		Confidence: 0,
		Reason:     fmt.Sprintf("no majority among %d valid strategies", valid),
		Indicators: indicators,
	}
}
