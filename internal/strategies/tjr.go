package strategies

import (
	"fmt"
	"math"

	"github.com/irfndi/sentio-go/internal/models"
)

// TJRStrategy looks for a liquidity sweep of a recent swing level followed by
// a market structure shift back through the prior bar.
type TJRStrategy struct {
	Lookback  int
	SweepBars int
	// fraction of price added beyond the sweep extreme for the stop
	StopBuffer float64
	RiskReward float64
}

func NewTJRStrategy() *TJRStrategy {
	return &TJRStrategy{
		Lookback:   20,
		SweepBars:  3,
		StopBuffer: 0.001,
		RiskReward: 2.5,
	}
}

func (s *TJRStrategy) Name() string { return "tjr" }

func (s *TJRStrategy) MinCandles() int { return s.Lookback + s.SweepBars + 5 }

func (s *TJRStrategy) Analyze(symbol string, candles []models.Candle) (*models.TradingSignal, error) {
	if err := checkCandles(s, candles); err != nil {
		return nil, err
	}
	n := len(candles)
	bar := candles[n-1]
	prior := candles[n-2]
	recent := candles[n-s.SweepBars:]
	reference := candles[n-s.SweepBars-s.Lookback : n-s.SweepBars]

	swingHigh, swingLow := math.Inf(-1), math.Inf(1)
	for _, c := range reference {
		swingHigh = math.Max(swingHigh, c.High)
		swingLow = math.Min(swingLow, c.Low)
	}
	sweepLow, sweepHigh := math.Inf(1), math.Inf(-1)
	for _, c := range recent {
		sweepLow = math.Min(sweepLow, c.Low)
		sweepHigh = math.Max(sweepHigh, c.High)
	}
	mid := (swingHigh + swingLow) / 2

	bullishSweep := sweepLow < swingLow && bar.Close > swingLow
	bearishSweep := sweepHigh > swingHigh && bar.Close < swingHigh
	bullishShift := bar.Close > prior.High
	bearishShift := bar.Close < prior.Low

	reasoning := fmt.Sprintf("swing=[%.4f, %.4f] sweep=[%.4f, %.4f] close=%.4f", swingLow, swingHigh, sweepLow, sweepHigh, bar.Close)

	var sig *models.TradingSignal
	switch {
	case bullishSweep && bullishShift && !bearishSweep:
		stop := sweepLow * (1 - s.StopBuffer)
		take := math.Max(swingHigh, bar.Close+s.RiskReward*(bar.Close-stop))
		confidence := 0.65
		if bar.Close > mid {
			confidence += 0.1
		}
		sig = withLevels(newSignal(s.Name(), symbol, bar, models.SignalBuy, confidence, "sell-side liquidity swept, structure shifted up: "+reasoning), stop, take)
	case bearishSweep && bearishShift && !bullishSweep:
		stop := sweepHigh * (1 + s.StopBuffer)
		take := math.Min(swingLow, bar.Close-s.RiskReward*(stop-bar.Close))
		confidence := 0.65
		if bar.Close < mid {
			confidence += 0.1
		}
		sig = withLevels(newSignal(s.Name(), symbol, bar, models.SignalSell, confidence, "buy-side liquidity swept, structure shifted down: "+reasoning), stop, take)
	default:
		sig = holdSignal(s.Name(), symbol, bar, "no sweep and shift: "+reasoning)
	}

	sig.Metadata["swing_high"] = swingHigh
	sig.Metadata["swing_low"] = swingLow
	sig.Metadata["sweep_low"] = sweepLow
	sig.Metadata["sweep_high"] = sweepHigh
	return sig, nil
}
