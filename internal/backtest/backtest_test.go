package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/sentio-go/internal/logging"
	"github.com/irfndi/sentio-go/internal/models"
	"github.com/irfndi/sentio-go/internal/strategies"
)

// alwaysLong buys every bar with a 2% stop and a 2% target.
type alwaysLong struct{ name string }

func (s alwaysLong) Name() string    { return s.name }
func (s alwaysLong) MinCandles() int { return 5 }

func (s alwaysLong) Analyze(symbol string, candles []models.Candle) (*models.TradingSignal, error) {
	last := candles[len(candles)-1]
	stop, take := last.Close*0.98, last.Close*1.02
	return &models.TradingSignal{
		SignalType:   models.SignalBuy,
		Confidence:   0.8,
		StrategyName: s.name,
		Symbol:       symbol,
		Timestamp:    last.Timestamp,
		Price:        last.Close,
		StopLoss:     &stop,
		TakeProfit:   &take,
	}, nil
}

func trendCandles(n int, step float64) []models.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	for i := range out {
		c := 100 * math.Pow(step, float64(i))
		out[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c * 1.015,
			Low:       c * 0.995,
			Close:     c,
			Volume:    1000,
		}
	}
	return out
}

func newTestBacktester() *Backtester {
	return NewBacktester(strategies.NewRegistry(alwaysLong{"trend_a"}, alwaysLong{"trend_b"}), logging.NewDiscardLogger())
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Engine.Strategies = nil
	return cfg
}

func TestBacktester_RisingMarket(t *testing.T) {
	candles := trendCandles(40, 1.01)

	res, err := newTestBacktester().Run(context.Background(), "btc/usdt", candles, testConfig())
	require.NoError(t, err)

	assert.Equal(t, "BTC/USDT", res.Symbol)
	assert.Equal(t, 40, res.Bars)
	assert.Equal(t, candles[0].Timestamp, res.Start)
	assert.Equal(t, candles[39].Timestamp, res.End)
	assert.Len(t, res.EquityCurve, 36)
	assert.Greater(t, res.TotalTrades, 30)
	assert.Greater(t, res.TotalReturn, 0.0)
	assert.Greater(t, res.WinRate, 0.9)
	assert.Greater(t, res.FinalValue, res.StartingCapital)
	assert.Equal(t, 2*res.TotalTrades, res.Orders)

	lastTrade := res.Trades[len(res.Trades)-1]
	assert.Equal(t, exitEndOfData, lastTrade.Reason)
	assert.Equal(t, "take_profit", res.Trades[0].Reason)
}

func TestBacktester_FallingMarket(t *testing.T) {
	res, err := newTestBacktester().Run(context.Background(), "ETH/USDT", trendCandles(40, 0.99), testConfig())
	require.NoError(t, err)

	assert.NotEmpty(t, res.Trades)
	assert.Less(t, res.TotalReturn, 0.0)
	assert.Equal(t, 0.0, res.WinRate)
	assert.Greater(t, res.MaxDrawdown, 0.0)
	assert.Equal(t, "stop_loss", res.Trades[0].Reason)
}

func TestBacktester_Errors(t *testing.T) {
	bt := newTestBacktester()

	_, err := bt.Run(context.Background(), "BTC/USDT", trendCandles(5, 1.01), testConfig())
	assert.ErrorIs(t, err, ErrNotEnoughCandles)

	cfg := testConfig()
	cfg.Engine.Strategies = []string{"missing"}
	_, err = bt.Run(context.Background(), "BTC/USDT", trendCandles(40, 1.01), cfg)
	assert.ErrorIs(t, err, strategies.ErrUnknownStrategy)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = bt.Run(ctx, "BTC/USDT", trendCandles(40, 1.01), testConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMaxDrawdown(t *testing.T) {
	curve := []EquityPoint{{Value: 100}, {Value: 120}, {Value: 90}, {Value: 130}, {Value: 117}}
	assert.InDelta(t, 0.25, maxDrawdown(curve), 1e-9)
	assert.Equal(t, 0.0, maxDrawdown(nil))
}

func TestEquitySharpe(t *testing.T) {
	flat := []EquityPoint{{Value: 100}, {Value: 100}, {Value: 100}}
	assert.Equal(t, 0.0, equitySharpe(flat))

	rising := []EquityPoint{{Value: 100}, {Value: 101}, {Value: 103}, {Value: 104}}
	assert.Greater(t, equitySharpe(rising), 0.0)
}
