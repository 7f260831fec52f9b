package strategies

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/sentio-go/internal/models"
)

var start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func series(closes []float64) []models.Candle {
	candles := make([]models.Candle, len(closes))
	for i, c := range closes {
		candles[i] = models.Candle{
			Symbol:    "TEST",
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c * 1.005,
			Low:       c * 0.995,
			Close:     c,
			Volume:    1000,
		}
	}
	return candles
}

func flatRange(n int) []models.Candle {
	candles := make([]models.Candle, n)
	for i := range candles {
		candles[i] = models.Candle{
			Symbol:    "TEST",
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      100,
			High:      101,
			Low:       99,
			Close:     100,
			Volume:    1000,
		}
	}
	return candles
}

func accelerating(n int, up bool) []float64 {
	out := make([]float64, n)
	for i := range out {
		step := float64(i*i) * 0.02
		if up {
			out[i] = 100 + step
		} else {
			out[i] = 200 - step
		}
	}
	return out
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func assertLevels(t *testing.T, sig *models.TradingSignal) {
	t.Helper()
	require.NotNil(t, sig.StopLoss)
	require.NotNil(t, sig.TakeProfit)
	switch sig.SignalType {
	case models.SignalBuy:
		assert.Less(t, *sig.StopLoss, sig.Price)
		assert.Greater(t, *sig.TakeProfit, sig.Price)
	case models.SignalSell:
		assert.Greater(t, *sig.StopLoss, sig.Price)
		assert.Less(t, *sig.TakeProfit, sig.Price)
	}
}

func TestRegistry(t *testing.T) {
	r := Default()

	assert.Equal(t, []string{"breakout", "mean_reversion", "momentum", "tjr"}, r.Names())
	assert.Len(t, r.All(), 4)

	s, ok := r.Get(" Momentum ")
	require.True(t, ok)
	assert.Equal(t, "momentum", s.Name())

	all, err := r.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	picked, err := r.Select([]string{"tjr", "breakout"})
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "tjr", picked[0].Name())

	_, err = r.Select([]string{"astrology"})
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	assert.Equal(t, NewMomentumStrategy().MinCandles(), MaxMinCandles(all))
}

func TestStrategies_InsufficientCandles(t *testing.T) {
	for _, s := range Default().All() {
		t.Run(s.Name(), func(t *testing.T) {
			_, err := s.Analyze("TEST", flatRange(s.MinCandles()-1))
			assert.ErrorIs(t, err, ErrInsufficientCandles)
		})
	}
}

func TestStrategies_FlatMarketHolds(t *testing.T) {
	for _, s := range Default().All() {
		t.Run(s.Name(), func(t *testing.T) {
			sig, err := s.Analyze("TEST", flatRange(80))
			require.NoError(t, err)
			assert.Equal(t, models.SignalHold, sig.SignalType)
			assert.Equal(t, s.Name(), sig.StrategyName)
			assert.Equal(t, "TEST", sig.Symbol)
			assert.Nil(t, sig.StopLoss)
		})
	}
}

func TestMomentumStrategy(t *testing.T) {
	s := NewMomentumStrategy()

	t.Run("accelerating uptrend buys", func(t *testing.T) {
		sig, err := s.Analyze("TEST", series(accelerating(80, true)))
		require.NoError(t, err)
		assert.Equal(t, models.SignalBuy, sig.SignalType)
		assert.InDelta(t, 0.8, sig.Confidence, 1e-9)
		assertLevels(t, sig)
		assert.Greater(t, sig.Metadata["macd_histogram"].(float64), 0.0)
	})

	t.Run("accelerating downtrend sells", func(t *testing.T) {
		sig, err := s.Analyze("TEST", series(accelerating(80, false)))
		require.NoError(t, err)
		assert.Equal(t, models.SignalSell, sig.SignalType)
		assertLevels(t, sig)
	})

	t.Run("constant price holds", func(t *testing.T) {
		sig, err := s.Analyze("TEST", series(constant(80, 50)))
		require.NoError(t, err)
		assert.Equal(t, models.SignalHold, sig.SignalType)
	})
}

func TestMeanReversionStrategy(t *testing.T) {
	s := NewMeanReversionStrategy()
	base := func(lastClose float64) []models.Candle {
		closes := make([]float64, 40)
		for i := range closes {
			closes[i] = 100 + float64(i%2)
		}
		closes[len(closes)-1] = lastClose
		return series(closes)
	}

	buy, err := s.Analyze("TEST", base(90))
	require.NoError(t, err)
	assert.Equal(t, models.SignalBuy, buy.SignalType)
	assert.GreaterOrEqual(t, buy.Confidence, 0.6)
	assertLevels(t, buy)

	sell, err := s.Analyze("TEST", base(110))
	require.NoError(t, err)
	assert.Equal(t, models.SignalSell, sell.SignalType)
	assertLevels(t, sell)

	hold, err := s.Analyze("TEST", base(100.5))
	require.NoError(t, err)
	assert.Equal(t, models.SignalHold, hold.SignalType)
}

func TestBreakoutStrategy(t *testing.T) {
	s := NewBreakoutStrategy()

	up := flatRange(40)
	up[39] = models.Candle{Symbol: "TEST", Timestamp: up[39].Timestamp, Open: 100, High: 106, Low: 100, Close: 105, Volume: 3000}
	sig, err := s.Analyze("TEST", up)
	require.NoError(t, err)
	assert.Equal(t, models.SignalBuy, sig.SignalType)
	assert.Greater(t, sig.Confidence, 0.65)
	assert.InDelta(t, 3.0, sig.Metadata["volume_ratio"].(float64), 1e-9)
	assertLevels(t, sig)

	down := flatRange(40)
	down[39] = models.Candle{Symbol: "TEST", Timestamp: down[39].Timestamp, Open: 100, High: 100, Low: 94, Close: 95, Volume: 3000}
	sig, err = s.Analyze("TEST", down)
	require.NoError(t, err)
	assert.Equal(t, models.SignalSell, sig.SignalType)
	assertLevels(t, sig)

	quiet := flatRange(40)
	quiet[39].Close = 101.5
	quiet[39].High = 102
	sig, err = s.Analyze("TEST", quiet)
	require.NoError(t, err)
	assert.Equal(t, models.SignalBuy, sig.SignalType)
	assert.Less(t, sig.Confidence, 0.65, "breakout without volume stays low conviction")
}

func TestTJRStrategy(t *testing.T) {
	s := NewTJRStrategy()

	candles := flatRange(40)
	candles[38] = models.Candle{Symbol: "TEST", Timestamp: candles[38].Timestamp, Open: 99.5, High: 100, Low: 97, Close: 98, Volume: 2000}
	candles[39] = models.Candle{Symbol: "TEST", Timestamp: candles[39].Timestamp, Open: 98, High: 100.8, Low: 98, Close: 100.5, Volume: 1500}

	sig, err := s.Analyze("TEST", candles)
	require.NoError(t, err)
	assert.Equal(t, models.SignalBuy, sig.SignalType)
	assert.InDelta(t, 0.75, sig.Confidence, 1e-9)
	assertLevels(t, sig)
	assert.InDelta(t, 97*0.999, *sig.StopLoss, 1e-9)

	bear := flatRange(40)
	bear[38] = models.Candle{Symbol: "TEST", Timestamp: bear[38].Timestamp, Open: 100.5, High: 103, Low: 100, Close: 102, Volume: 2000}
	bear[39] = models.Candle{Symbol: "TEST", Timestamp: bear[39].Timestamp, Open: 102, High: 102, Low: 99.2, Close: 99.5, Volume: 1500}

	sig, err = s.Analyze("TEST", bear)
	require.NoError(t, err)
	assert.Equal(t, models.SignalSell, sig.SignalType)
	assertLevels(t, sig)
}
