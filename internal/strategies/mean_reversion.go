package strategies

import (
	"fmt"

	"github.com/irfndi/sentio-go/internal/models"
)

// MeanReversionStrategy fades moves outside Bollinger-style bands when RSI
// confirms the extreme.
type MeanReversionStrategy struct {
	Period     int
	Deviations float64
	RSIPeriod  int
	Oversold   float64
	Overbought float64
}

func NewMeanReversionStrategy() *MeanReversionStrategy {
	return &MeanReversionStrategy{
		Period:     20,
		Deviations: 2,
		RSIPeriod:  14,
		Oversold:   30,
		Overbought: 70,
	}
}

func (s *MeanReversionStrategy) Name() string { return "mean_reversion" }

func (s *MeanReversionStrategy) MinCandles() int { return s.Period + 10 }

func (s *MeanReversionStrategy) Analyze(symbol string, candles []models.Candle) (*models.TradingSignal, error) {
	if err := checkCandles(s, candles); err != nil {
		return nil, err
	}
	closes := models.Closes(candles)
	bar := candles[len(candles)-1]

	mid := last(sma(closes, s.Period), bar.Close)
	sigma := tailStdDev(closes, s.Period)
	upper := mid + s.Deviations*sigma
	lower := mid - s.Deviations*sigma
	rsiValue := last(rsi(closes, s.RSIPeriod), 50)

	percentB := 0.5
	if upper > lower {
		percentB = (bar.Close - lower) / (upper - lower)
	}
	reasoning := fmt.Sprintf("close=%.4f bands=[%.4f, %.4f] %%b=%.2f rsi=%.1f", bar.Close, lower, upper, percentB, rsiValue)

	var sig *models.TradingSignal
	switch {
	case sigma > 0 && bar.Close < lower:
		confidence := 0.6
		if rsiValue < s.Oversold {
			confidence = 0.75
		}
		// deeper stretch means a stronger snap back
		confidence += clampUnit(-percentB) * 0.2
		sig = newSignal(s.Name(), symbol, bar, models.SignalBuy, confidence, "price below lower band: "+reasoning)
		sig = withLevels(sig, bar.Close-sigma, mid)
	case sigma > 0 && bar.Close > upper:
		confidence := 0.6
		if rsiValue > s.Overbought {
			confidence = 0.75
		}
		confidence += clampUnit(percentB-1) * 0.2
		sig = newSignal(s.Name(), symbol, bar, models.SignalSell, confidence, "price above upper band: "+reasoning)
		sig = withLevels(sig, bar.Close+sigma, mid)
	default:
		sig = holdSignal(s.Name(), symbol, bar, "inside bands: "+reasoning)
	}

	sig.Metadata["sma"] = mid
	sig.Metadata["upper_band"] = upper
	sig.Metadata["lower_band"] = lower
	sig.Metadata["percent_b"] = percentB
	sig.Metadata["rsi"] = rsiValue
	return sig, nil
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
