package strategy

import (
	"math"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"

	"github.com/ajitpratap0/tradefleet/internal/exchange"
)

// closePrices extracts the close series from candles.
func closePrices(candles []exchange.Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}

func anyNaN(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

func sliceToChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

func drain(ch <-chan float64) []float64 {
	var values []float64
	for v := range ch {
		values = append(values, v)
	}
	return values
}

// computeSMA returns the simple moving average series. The output is
// shorter than the input by the warm-up window.
func computeSMA(prices []float64, period int) []float64 {
	return drain(trend.NewSmaWithPeriod[float64](period).Compute(sliceToChan(prices)))
}

// computeRSI returns the relative strength index series.
func computeRSI(prices []float64, period int) []float64 {
	return drain(momentum.NewRsiWithPeriod[float64](period).Compute(sliceToChan(prices)))
}

// computeMACD returns the aligned MACD and signal line series.
func computeMACD(prices []float64, fast, slow, signal int) ([]float64, []float64) {
	macdChan, signalChan := trend.NewMacdWithPeriod[float64](fast, slow, signal).Compute(sliceToChan(prices))

	var macdValues, signalValues []float64
	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		macdValues = append(macdValues, m)
		signalValues = append(signalValues, s)
	}
	return macdValues, signalValues
}

// computeBollinger returns the aligned lower, middle and upper band series.
func computeBollinger(prices []float64, period int) ([]float64, []float64, []float64) {
	upperChan, middleChan, lowerChan := volatility.NewBollingerBandsWithPeriod[float64](period).Compute(sliceToChan(prices))

	var lowerValues, middleValues, upperValues []float64
	for {
		l, lok := <-lowerChan
		m, mok := <-middleChan
		u, uok := <-upperChan
		if !lok || !mok || !uok {
			break
		}
		lowerValues = append(lowerValues, l)
		middleValues = append(middleValues, m)
		upperValues = append(upperValues, u)
	}
	return lowerValues, middleValues, upperValues
}
