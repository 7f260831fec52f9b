package strategies

import (
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/cinar/indicator/v2/volume"
	"gonum.org/v1/gonum/stat"
)

// Indicator outputs are shorter than their inputs because of warm-up, so
// callers always read them from the tail.

func sma(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	return helper.ChanToSlice(trend.NewSmaWithPeriod[float64](period).Compute(helper.SliceToChan(values)))
}

func ema(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	return helper.ChanToSlice(trend.NewEmaWithPeriod[float64](period).Compute(helper.SliceToChan(values)))
}

func rsi(values []float64, period int) []float64 {
	if period <= 0 || len(values) <= period {
		return nil
	}
	return helper.ChanToSlice(momentum.NewRsiWithPeriod[float64](period).Compute(helper.SliceToChan(values)))
}

func atr(highs, lows, closes []float64) []float64 {
	if len(closes) < 15 {
		return nil
	}
	return helper.ChanToSlice(volatility.NewAtr[float64]().Compute(
		helper.SliceToChan(highs),
		helper.SliceToChan(lows),
		helper.SliceToChan(closes),
	))
}

func obv(closes, volumes []float64) []float64 {
	if len(closes) < 2 || len(closes) != len(volumes) {
		return nil
	}
	return helper.ChanToSlice(volume.NewObv[float64]().Compute(
		helper.SliceToChan(closes),
		helper.SliceToChan(volumes),
	))
}

// macd returns the MACD line and its signal line, tail aligned. It is built
// from EMAs so every channel is drained by a single reader.
func macd(values []float64, fast, slow, signal int) (line, signalLine []float64) {
	fastEma := ema(values, fast)
	slowEma := ema(values, slow)
	n := len(slowEma)
	if n == 0 || len(fastEma) < n {
		return nil, nil
	}
	line = make([]float64, n)
	offset := len(fastEma) - n
	for i := 0; i < n; i++ {
		line[i] = fastEma[offset+i] - slowEma[i]
	}
	signalLine = ema(line, signal)
	if len(signalLine) == 0 {
		return nil, nil
	}
	return line[len(line)-len(signalLine):], signalLine
}

// tailStdDev is the sample standard deviation of the last period values.
func tailStdDev(values []float64, period int) float64 {
	if len(values) < period || period < 2 {
		return 0
	}
	return stat.StdDev(values[len(values)-period:], nil)
}

// last returns the final value of a series, or fallback for an empty or
// non-finite tail.
func last(values []float64, fallback float64) float64 {
	if len(values) == 0 {
		return fallback
	}
	v := values[len(values)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

// prev returns the value before the final one.
func prev(values []float64, fallback float64) float64 {
	if len(values) < 2 {
		return fallback
	}
	return last(values[:len(values)-1], fallback)
}
