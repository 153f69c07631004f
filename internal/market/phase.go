package market

import (
	"math"

	"github.com/ajitpratap0/tradefleet/internal/exchange"
)

// Phase is a coarse market regime classification.
type Phase string

const (
	PhaseBullish  Phase = "BULLISH"
	PhaseBearish  Phase = "BEARISH"
	PhaseSideways Phase = "SIDEWAYS"
)

const (
	phaseWindow     = 20
	phaseMinCandles = 10
	shortSMAPeriod  = 5

	strongChangePct   = 2.0
	sidewaysChangePct = 0.5
	lowVolatilityPct  = 1.0
	lowMomentumPct    = 0.5
	highVolatilityPct = 3.0

	minPhaseConfidence = 0.3
	maxPhaseConfidence = 0.95
)

// PhaseFeatures holds the derived inputs the classification rules consume.
// Percentages are in percent units, not fractions.
type PhaseFeatures struct {
	ChangePct   float64 `json:"change_pct"`
	ShortSMA    float64 `json:"short_sma"`
	LongSMA     float64 `json:"long_sma"`
	Volatility  float64 `json:"volatility_pct"`
	MomentumPct float64 `json:"momentum_pct"`
	HigherHighs int     `json:"higher_highs"`
	LowerLows   int     `json:"lower_lows"`
}

// PhaseResult is the analyzer output for one candle window.
type PhaseResult struct {
	Phase      Phase         `json:"phase"`
	Confidence float64       `json:"confidence"`
	Features   PhaseFeatures `json:"features"`
}

// AnalyzePhase classifies the most recent candles into a market phase.
// Only the last 20 candles are considered; fewer than 10 yields a
// low-confidence SIDEWAYS.
func AnalyzePhase(candles []exchange.Candle) PhaseResult {
	if len(candles) < phaseMinCandles {
		return PhaseResult{Phase: PhaseSideways, Confidence: minPhaseConfidence}
	}
	if len(candles) > phaseWindow {
		candles = candles[len(candles)-phaseWindow:]
	}

	f := deriveFeatures(candles)
	phase := classify(f)

	return PhaseResult{
		Phase:      phase,
		Confidence: phaseConfidence(phase, f),
		Features:   f,
	}
}

func deriveFeatures(candles []exchange.Candle) PhaseFeatures {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	var f PhaseFeatures
	if first := closes[0]; first > 0 {
		f.ChangePct = (closes[len(closes)-1] - first) / first * 100
	}

	f.ShortSMA = meanTail(closes, shortSMAPeriod)
	f.LongSMA = meanTail(closes, len(closes))

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] > 0 {
			returns = append(returns, (closes[i]-closes[i-1])/closes[i-1]*100)
		}
	}
	f.Volatility = stdDev(returns)

	if len(closes) >= 2*shortSMAPeriod {
		recent := meanTail(closes, shortSMAPeriod)
		earlier := meanTail(closes[:len(closes)-shortSMAPeriod], shortSMAPeriod)
		if earlier > 0 {
			f.MomentumPct = (recent - earlier) / earlier * 100
		}
	}

	for i := 1; i < len(candles); i++ {
		if candles[i].High > candles[i-1].High {
			f.HigherHighs++
		}
		if candles[i].Low < candles[i-1].Low {
			f.LowerLows++
		}
	}
	return f
}

// classify applies the phase rules in order; the first match wins.
func classify(f PhaseFeatures) Phase {
	switch {
	case f.ChangePct >= strongChangePct && f.HigherHighs > f.LowerLows && f.ShortSMA > f.LongSMA:
		return PhaseBullish
	case f.ChangePct <= -strongChangePct && f.LowerLows > f.HigherHighs && f.ShortSMA < f.LongSMA:
		return PhaseBearish
	case math.Abs(f.ChangePct) < sidewaysChangePct ||
		(f.Volatility < lowVolatilityPct && math.Abs(f.MomentumPct) < lowMomentumPct):
		return PhaseSideways
	case f.ChangePct > 0:
		return PhaseBullish
	default:
		return PhaseBearish
	}
}

// phaseConfidence blends trend magnitude, momentum, SMA alignment and the
// higher-high/lower-low share into [0.3, 0.95]. High volatility attenuates
// the blend for every phase.
func phaseConfidence(phase Phase, f PhaseFeatures) float64 {
	patterns := f.HigherHighs + f.LowerLows

	var blend float64
	if phase == PhaseSideways {
		balance := 0.5
		if patterns > 0 {
			balance = 1 - math.Abs(float64(f.HigherHighs-f.LowerLows))/float64(patterns)
		}
		blend = 0.35*(1-math.Min(1, math.Abs(f.ChangePct)/strongChangePct)) +
			0.25*(1-math.Min(1, f.Volatility/highVolatilityPct)) +
			0.2*(1-math.Min(1, math.Abs(f.MomentumPct)/strongChangePct)) +
			0.2*balance
	} else {
		aligned := 0.0
		if (phase == PhaseBullish && f.ShortSMA > f.LongSMA) ||
			(phase == PhaseBearish && f.ShortSMA < f.LongSMA) {
			aligned = 1.0
		}
		share := 0.5
		if patterns > 0 {
			if phase == PhaseBullish {
				share = float64(f.HigherHighs) / float64(patterns)
			} else {
				share = float64(f.LowerLows) / float64(patterns)
			}
		}
		blend = 0.35*math.Min(1, math.Abs(f.ChangePct)/5) +
			0.2*math.Min(1, math.Abs(f.MomentumPct)/3) +
			0.25*aligned +
			0.2*share
	}

	if f.Volatility > highVolatilityPct {
		blend *= 0.7
	}

	conf := minPhaseConfidence + (maxPhaseConfidence-minPhaseConfidence)*blend
	return math.Max(minPhaseConfidence, math.Min(maxPhaseConfidence, conf))
}

// meanTail averages the last n values.
func meanTail(values []float64, n int) float64 {
	if n <= 0 || len(values) < n {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}

// stdDev is the sample standard deviation.
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values) - 1)
	return math.Sqrt(variance)
}
