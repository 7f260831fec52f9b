package strategies

import (
	"fmt"
	"math"

	"github.com/irfndi/sentio-go/internal/models"
)

// BreakoutStrategy trades closes beyond a Donchian channel, confirmed by a
// volume surge and on-balance volume.
type BreakoutStrategy struct {
	Channel     int
	VolumeSurge float64
	StopATR     float64
	TargetATR   float64
}

func NewBreakoutStrategy() *BreakoutStrategy {
	return &BreakoutStrategy{
		Channel:     20,
		VolumeSurge: 1.5,
		StopATR:     2,
		TargetATR:   5,
	}
}

func (s *BreakoutStrategy) Name() string { return "breakout" }

func (s *BreakoutStrategy) MinCandles() int { return s.Channel + 15 }

func (s *BreakoutStrategy) Analyze(symbol string, candles []models.Candle) (*models.TradingSignal, error) {
	if err := checkCandles(s, candles); err != nil {
		return nil, err
	}
	n := len(candles)
	bar := candles[n-1]
	window := candles[n-1-s.Channel : n-1]

	high, low := math.Inf(-1), math.Inf(1)
	var volumeSum float64
	for _, c := range window {
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
		volumeSum += c.Volume
	}
	avgVolume := volumeSum / float64(len(window))
	volumeRatio := 1.0
	if avgVolume > 0 {
		volumeRatio = bar.Volume / avgVolume
	}

	closes := models.Closes(candles)
	atrValue := last(atr(models.Highs(candles), models.Lows(candles), closes), bar.Close*0.02)
	obvSeries := obv(closes, models.Volumes(candles))
	obvSlope := 0.0
	if len(obvSeries) > 5 {
		obvSlope = last(obvSeries, 0) - obvSeries[len(obvSeries)-6]
	}

	reasoning := fmt.Sprintf("close=%.4f channel=[%.4f, %.4f] volume_ratio=%.2f", bar.Close, low, high, volumeRatio)
	confidence := func(distance float64) float64 {
		c := 0.5
		if volumeRatio >= s.VolumeSurge {
			c += 0.15 + math.Min(0.1, (volumeRatio-s.VolumeSurge)*0.1)
		}
		if atrValue > 0 {
			c += math.Min(0.1, distance/atrValue*0.1)
		}
		return c
	}

	var sig *models.TradingSignal
	switch {
	case bar.Close > high:
		c := confidence(bar.Close - high)
		if obvSlope > 0 {
			c += 0.05
		}
		sig = newSignal(s.Name(), symbol, bar, models.SignalBuy, c, "upside breakout: "+reasoning)
		sig = withLevels(sig, bar.Close-s.StopATR*atrValue, bar.Close+s.TargetATR*atrValue)
	case bar.Close < low:
		c := confidence(low - bar.Close)
		if obvSlope < 0 {
			c += 0.05
		}
		sig = newSignal(s.Name(), symbol, bar, models.SignalSell, c, "downside breakout: "+reasoning)
		sig = withLevels(sig, bar.Close+s.StopATR*atrValue, bar.Close-s.TargetATR*atrValue)
	default:
		sig = holdSignal(s.Name(), symbol, bar, "inside channel: "+reasoning)
	}

	sig.Metadata["channel_high"] = high
	sig.Metadata["channel_low"] = low
	sig.Metadata["volume_ratio"] = volumeRatio
	sig.Metadata["obv_slope"] = obvSlope
	sig.Metadata["atr"] = atrValue
	return sig, nil
}
