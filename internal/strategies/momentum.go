package strategies

import (
	"fmt"
	"math"

	"github.com/irfndi/sentio-go/internal/models"
)

// MomentumStrategy follows trend strength using RSI, MACD and an EMA trend filter.
type MomentumStrategy struct {
	RSIPeriod   int
	FastPeriod  int
	SlowPeriod  int
	SignalLine  int
	TrendPeriod int
	Threshold   float64
	// ATR multiples for protective levels
	StopATR   float64
	TargetATR float64
}

// NewMomentumStrategy returns the strategy with its usual parameters.
func NewMomentumStrategy() *MomentumStrategy {
	return &MomentumStrategy{
		RSIPeriod:   14,
		FastPeriod:  12,
		SlowPeriod:  26,
		SignalLine:  9,
		TrendPeriod: 50,
		Threshold:   0.6,
		StopATR:     2,
		TargetATR:   5,
	}
}

func (s *MomentumStrategy) Name() string { return "momentum" }

func (s *MomentumStrategy) MinCandles() int { return s.TrendPeriod + 10 }

func (s *MomentumStrategy) Analyze(symbol string, candles []models.Candle) (*models.TradingSignal, error) {
	if err := checkCandles(s, candles); err != nil {
		return nil, err
	}
	closes := models.Closes(candles)
	bar := candles[len(candles)-1]

	rsiValue := last(rsi(closes, s.RSIPeriod), 50)
	line, signal := macd(closes, s.FastPeriod, s.SlowPeriod, s.SignalLine)
	macdValue := last(line, 0)
	histogram := macdValue - last(signal, 0)
	trendEma := last(ema(closes, s.TrendPeriod), bar.Close)
	atrValue := last(atr(models.Highs(candles), models.Lows(candles), closes), bar.Close*0.02)

	var bull, bear float64
	if bar.Close > trendEma {
		bull += 0.3
	} else if bar.Close < trendEma {
		bear += 0.3
	}
	if histogram > 0 {
		bull += 0.25
	} else if histogram < 0 {
		bear += 0.25
	}
	if macdValue > 0 {
		bull += 0.15
	} else if macdValue < 0 {
		bear += 0.15
	}
	switch {
	case rsiValue > 80:
		// overbought momentum is late
	case rsiValue > 55:
		bull += 0.1
	case rsiValue < 20:
	case rsiValue < 45:
		bear += 0.1
	}

	reasoning := fmt.Sprintf("rsi=%.1f macd=%.4f hist=%.4f ema%d=%.4f", rsiValue, macdValue, histogram, s.TrendPeriod, trendEma)

	var sig *models.TradingSignal
	switch {
	case bull >= s.Threshold && bull > bear:
		sig = newSignal(s.Name(), symbol, bar, models.SignalBuy, math.Min(0.95, bull+0.1), "bullish momentum: "+reasoning)
		sig = withLevels(sig, bar.Close-s.StopATR*atrValue, bar.Close+s.TargetATR*atrValue)
	case bear >= s.Threshold && bear > bull:
		sig = newSignal(s.Name(), symbol, bar, models.SignalSell, math.Min(0.95, bear+0.1), "bearish momentum: "+reasoning)
		sig = withLevels(sig, bar.Close+s.StopATR*atrValue, bar.Close-s.TargetATR*atrValue)
	default:
		sig = holdSignal(s.Name(), symbol, bar, "no momentum: "+reasoning)
	}

	sig.Metadata["rsi"] = rsiValue
	sig.Metadata["macd"] = macdValue
	sig.Metadata["macd_histogram"] = histogram
	sig.Metadata["trend_ema"] = trendEma
	sig.Metadata["atr"] = atrValue
	return sig, nil
}
