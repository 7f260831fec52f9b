package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/sentio-go/internal/cache"
	"github.com/irfndi/sentio-go/internal/config"
	"github.com/irfndi/sentio-go/internal/logging"
	"github.com/irfndi/sentio-go/internal/marketdata"
	"github.com/irfndi/sentio-go/internal/models"
	"github.com/irfndi/sentio-go/internal/notification"
	"github.com/irfndi/sentio-go/internal/strategies"
)

type stubStrategy struct {
	name       string
	signal     models.SignalType
	confidence float64
	stopLoss   float64
	takeProfit float64
}

func (s *stubStrategy) Name() string    { return s.name }
func (s *stubStrategy) MinCandles() int { return 5 }

func (s *stubStrategy) Analyze(symbol string, candles []models.Candle) (*models.TradingSignal, error) {
	last := candles[len(candles)-1]
	sig := &models.TradingSignal{
		SignalType:   s.signal,
		Confidence:   s.confidence,
		StrategyName: s.name,
		Symbol:       symbol,
		Timestamp:    last.Timestamp,
		Price:        last.Close,
	}
	if s.stopLoss > 0 {
		stop, take := s.stopLoss, s.takeProfit
		sig.StopLoss = &stop
		sig.TakeProfit = &take
	}
	return sig, nil
}

type memoryTradeStore struct {
	mu     sync.Mutex
	orders []models.Order
	trades []models.TradeRecord
}

func (s *memoryTradeStore) SaveOrder(_ context.Context, order models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, order)
	return nil
}

func (s *memoryTradeStore) SaveTrade(_ context.Context, trade models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trade)
	return nil
}

type channelNotifier chan notification.Alert

func (c channelNotifier) Notify(_ context.Context, alert notification.Alert) error {
	c <- alert
	return nil
}

func flatCandles(n int, price float64) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{
			Timestamp: riskEpoch.Add(time.Duration(i-n) * time.Hour),
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    1000,
		}
	}
	return out
}

type engineFixture struct {
	engine   *TradingEngine
	provider *marketdata.StaticProvider
	momentum *stubStrategy
	trend    *stubStrategy
	clock    *testClock
}

func newEngineFixture(t *testing.T, mutate func(cfg *config.EngineConfig)) *engineFixture {
	t.Helper()
	logger := logging.NewDiscardLogger()
	clock := &testClock{now: riskEpoch}

	momentum := &stubStrategy{name: "momentum", signal: models.SignalBuy, confidence: 0.8, stopLoss: 98, takeProfit: 106}
	trend := &stubStrategy{name: "breakout", signal: models.SignalBuy, confidence: 0.8, stopLoss: 98, takeProfit: 106}

	cfg := config.DefaultEngineConfig()
	cfg.Strategies = nil
	cfg.CandleLimit = 50
	if mutate != nil {
		mutate(&cfg)
	}

	risk := NewRiskManager(config.DefaultRiskConfig(), cfg.InitialCapital, logger)
	risk.SetClock(clock.Now)
	voting := NewStrategyVotingEngine(config.DefaultVotingConfig(), logger)

	provider := marketdata.NewStaticProvider()
	provider.SetCandles("AAPL", flatCandles(30, 100))

	engine, err := NewTradingEngine(cfg, provider, strategies.NewRegistry(momentum, trend), voting, risk, logger)
	require.NoError(t, err)
	engine.SetClock(clock.Now)

	return &engineFixture{engine: engine, provider: provider, momentum: momentum, trend: trend, clock: clock}
}

func buySignal(symbol string, price, stop, take float64) *models.TradingSignal {
	return &models.TradingSignal{
		SignalType:   models.SignalBuy,
		Confidence:   0.8,
		StrategyName: "momentum",
		Symbol:       symbol,
		Price:        price,
		StopLoss:     &stop,
		TakeProfit:   &take,
	}
}

func TestNewTradingEngine_UnknownStrategy(t *testing.T) {
	logger := logging.NewDiscardLogger()
	cfg := config.DefaultEngineConfig()
	cfg.Strategies = []string{"astrology"}

	_, err := NewTradingEngine(cfg, marketdata.NewStaticProvider(), strategies.Default(),
		NewStrategyVotingEngine(config.DefaultVotingConfig(), logger),
		NewRiskManager(config.DefaultRiskConfig(), 100000, logger), logger)
	assert.ErrorIs(t, err, strategies.ErrUnknownStrategy)
}

func TestPlaceOrder_RejectsOrdersAboveAvailableValue(t *testing.T) {
	f := newEngineFixture(t, func(cfg *config.EngineConfig) { cfg.InitialCapital = 10000 })

	order := f.engine.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "AAPL", Side: models.SignalBuy, Quantity: 200, Price: 100,
	})

	assert.Equal(t, models.OrderRejected, order.Status)
	assert.Empty(t, order.OrderID)
	assert.Contains(t, order.Reason, "exceeds available portfolio value")
	assert.Empty(t, f.engine.GetPositions())
	assert.Len(t, f.engine.GetOrders(), 1)
}

func TestPlaceOrder_PaperFillsImmediately(t *testing.T) {
	f := newEngineFixture(t, nil)
	store := &memoryTradeStore{}
	f.engine.SetTradeStore(store)

	order := f.engine.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "aapl", Side: models.SignalBuy, Quantity: 10, Price: 100,
	})

	assert.Equal(t, models.OrderFilled, order.Status)
	assert.NotEmpty(t, order.OrderID)
	assert.Equal(t, "AAPL", order.Symbol)
	assert.Equal(t, "1000", order.Value.String())
	assert.Equal(t, models.ModePaper, order.Mode)

	positions := f.engine.GetPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, models.DirectionLong, positions[0].Direction)
	assert.Contains(t, f.engine.Risk().GetPositions(), "AAPL")
	assert.InDelta(t, 99000, f.engine.GetPortfolioMetrics().Cash, 1e-9)
	assert.Len(t, store.orders, 1)
}

func TestPlaceOrder_LiveStaysPending(t *testing.T) {
	f := newEngineFixture(t, func(cfg *config.EngineConfig) { cfg.Mode = "live" })

	order := f.engine.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "AAPL", Side: models.SignalBuy, Quantity: 10, Price: 100,
	})

	assert.Equal(t, models.ModeLive, f.engine.Mode())
	assert.Equal(t, models.OrderPending, order.Status)
	assert.NotEmpty(t, order.OrderID)
	assert.Empty(t, f.engine.GetPositions())
}

func TestExecuteSignal_LivePendingHoldsSymbolAndSlot(t *testing.T) {
	f := newEngineFixture(t, func(cfg *config.EngineConfig) {
		cfg.Mode = "live"
		cfg.MaxConcurrentPositions = 1
	})
	ctx := context.Background()

	res, err := f.engine.ExecuteSignal(ctx, buySignal("AAPL", 100, 98, 106))
	require.NoError(t, err)
	require.Equal(t, models.OrderPending, res.Order.Status)

	for i := 0; i < 3; i++ {
		_, err = f.engine.ExecuteSignal(ctx, buySignal("AAPL", 100, 98, 106))
		assert.ErrorIs(t, err, ErrPositionExists)
	}
	_, err = f.engine.ExecuteSignal(ctx, buySignal("MSFT", 100, 98, 106))
	assert.ErrorIs(t, err, ErrMaxPositions)

	assert.Len(t, f.engine.GetOrders(), 1)
	require.Len(t, f.engine.GetPendingOrders(), 1)

	metrics := f.engine.GetPortfolioMetrics()
	assert.InDelta(t, 100000-8000, metrics.Cash, 1e-6)
	assert.InDelta(t, 100000, metrics.PortfolioValue, 1e-6)
	assert.InDelta(t, 8000, metrics.Exposure, 1e-6)
	assert.Equal(t, 1, metrics.PendingOrders)
}

func TestPlaceOrder_LiveRejectsSecondOrderForSymbol(t *testing.T) {
	f := newEngineFixture(t, func(cfg *config.EngineConfig) { cfg.Mode = "live" })
	ctx := context.Background()

	first := f.engine.PlaceOrder(ctx, OrderRequest{Symbol: "AAPL", Side: models.SignalBuy, Quantity: 10, Price: 100})
	require.Equal(t, models.OrderPending, first.Status)

	second := f.engine.PlaceOrder(ctx, OrderRequest{Symbol: "AAPL", Side: models.SignalBuy, Quantity: 10, Price: 100})
	assert.Equal(t, models.OrderRejected, second.Status)
	assert.Empty(t, second.OrderID)
	assert.InDelta(t, 99000, f.engine.GetPortfolioMetrics().Cash, 1e-9)
}

func TestFillPendingOrder(t *testing.T) {
	f := newEngineFixture(t, func(cfg *config.EngineConfig) { cfg.Mode = "live" })
	store := &memoryTradeStore{}
	f.engine.SetTradeStore(store)
	ctx := context.Background()

	stop := 95.0
	pending := f.engine.PlaceOrder(ctx, OrderRequest{Symbol: "AAPL", Side: models.SignalBuy, Quantity: 10, Price: 100, StopLoss: &stop})
	require.Equal(t, models.OrderPending, pending.Status)

	filled, err := f.engine.FillPendingOrder(ctx, "aapl", 101)
	require.NoError(t, err)
	assert.Equal(t, pending.OrderID, filled.OrderID)
	assert.Equal(t, models.OrderFilled, filled.Status)
	assert.Equal(t, "1010", filled.Value.String())

	positions := f.engine.GetPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, 101.0, positions[0].EntryPrice)
	assert.Equal(t, 95.0, positions[0].StopLoss)
	assert.Empty(t, f.engine.GetPendingOrders())
	assert.InDelta(t, 100000-1010, f.engine.GetPortfolioMetrics().Cash, 1e-9)

	orders := f.engine.GetOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderFilled, orders[0].Status)
	require.Len(t, store.orders, 2)
	assert.Equal(t, models.OrderFilled, store.orders[1].Status)

	_, err = f.engine.FillPendingOrder(ctx, "AAPL", 101)
	assert.ErrorIs(t, err, ErrNoPendingOrder)
}

func TestCancelPendingOrder_ReleasesCash(t *testing.T) {
	f := newEngineFixture(t, func(cfg *config.EngineConfig) {
		cfg.Mode = "live"
		cfg.MaxConcurrentPositions = 1
	})
	ctx := context.Background()

	_, err := f.engine.ExecuteSignal(ctx, buySignal("AAPL", 100, 98, 106))
	require.NoError(t, err)

	cancelled, err := f.engine.CancelPendingOrder(ctx, "AAPL", "broker rejected")
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, cancelled.Status)
	assert.Equal(t, "broker rejected", cancelled.Reason)
	assert.InDelta(t, 100000, f.engine.GetPortfolioMetrics().Cash, 1e-9)
	assert.Empty(t, f.engine.GetPositions())

	res, err := f.engine.ExecuteSignal(ctx, buySignal("AAPL", 100, 98, 106))
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, res.Order.Status)

	_, err = f.engine.CancelPendingOrder(ctx, "MSFT", "")
	assert.ErrorIs(t, err, ErrNoPendingOrder)
}

func TestPlaceOrder_InvalidRequest(t *testing.T) {
	f := newEngineFixture(t, nil)

	order := f.engine.PlaceOrder(context.Background(), OrderRequest{Symbol: "AAPL", Side: models.SignalHold, Quantity: 1, Price: 100})
	assert.Equal(t, models.OrderRejected, order.Status)
	assert.Empty(t, order.OrderID)
}

func TestExecuteSignal(t *testing.T) {
	f := newEngineFixture(t, func(cfg *config.EngineConfig) { cfg.MaxConcurrentPositions = 1 })
	ctx := context.Background()

	res, err := f.engine.ExecuteSignal(ctx, buySignal("AAPL", 100, 98, 106))
	require.NoError(t, err)
	require.NotNil(t, res.Order)
	assert.True(t, res.Risk.Approved)
	assert.Equal(t, models.OrderFilled, res.Order.Status)
	// 2% max loss allows 1000 units, the 10% cap 100, scaled by 0.8 confidence
	assert.InDelta(t, 80, res.Order.Quantity.InexactFloat64(), 1e-6)
	require.NotNil(t, res.Order.StopLoss)
	assert.Equal(t, 98.0, *res.Order.StopLoss)

	_, err = f.engine.ExecuteSignal(ctx, buySignal("AAPL", 100, 98, 106))
	assert.ErrorIs(t, err, ErrPositionExists)

	_, err = f.engine.ExecuteSignal(ctx, buySignal("MSFT", 100, 98, 106))
	assert.ErrorIs(t, err, ErrMaxPositions)
}

func TestExecuteSignal_InvalidSignals(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.ExecuteSignal(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidSignal)

	_, err = f.engine.ExecuteSignal(ctx, &models.TradingSignal{SignalType: models.SignalBuy, Symbol: "AAPL"})
	assert.ErrorIs(t, err, ErrInvalidSignal)

	_, err = f.engine.ExecuteSignal(ctx, &models.TradingSignal{SignalType: models.SignalHold, Symbol: "AAPL", Price: 100})
	assert.ErrorIs(t, err, ErrNotDirectional)

	_, err = f.engine.ExecuteSignal(ctx, &models.TradingSignal{SignalType: models.SignalClose, Symbol: "AAPL", Price: 100})
	assert.ErrorIs(t, err, ErrNoPosition)
}

func TestExecuteSignal_RejectedWhenBreakerTripped(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.engine.Risk().ClosePosition("TSLA", -6000)
	require.Equal(t, models.CircuitTripped, f.engine.Risk().CircuitBreakerState())

	res, err := f.engine.ExecuteSignal(context.Background(), buySignal("AAPL", 100, 98, 106))
	assert.ErrorIs(t, err, ErrRiskRejected)
	require.NotNil(t, res)
	assert.False(t, res.Risk.Approved)
	assert.Equal(t, models.RiskCritical, res.Risk.RiskLevel)
	assert.Nil(t, res.Order)
	assert.Empty(t, f.engine.GetOrders())
}

func TestExecuteSignal_CloseSignal(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()
	_, err := f.engine.ExecuteSignal(ctx, buySignal("AAPL", 100, 98, 106))
	require.NoError(t, err)

	res, err := f.engine.ExecuteSignal(ctx, &models.TradingSignal{SignalType: models.SignalClose, Symbol: "AAPL", Price: 101})
	require.NoError(t, err)
	require.NotNil(t, res.Trade)
	assert.Equal(t, ExitManual, res.Trade.Reason)
	assert.InDelta(t, 80, res.Trade.PnL, 1e-6)
}

func TestClosePosition(t *testing.T) {
	f := newEngineFixture(t, nil)
	store := &memoryTradeStore{}
	f.engine.SetTradeStore(store)
	ctx := context.Background()

	_, err := f.engine.ExecuteSignal(ctx, buySignal("AAPL", 100, 98, 106))
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	trade, err := f.engine.ClosePosition(ctx, "AAPL", 110, ExitTakeProfit)
	require.NoError(t, err)

	assert.InDelta(t, 800, trade.PnL, 1e-6)
	assert.Equal(t, riskEpoch.Add(2*time.Hour), trade.Timestamp)
	assert.Equal(t, []string{"momentum"}, trade.Strategies)
	assert.Empty(t, f.engine.GetPositions())

	metrics := f.engine.GetPortfolioMetrics()
	assert.InDelta(t, 100800, metrics.Cash, 1e-6)
	assert.InDelta(t, 100800, metrics.PortfolioValue, 1e-6)
	assert.InDelta(t, 800, metrics.RealizedPnL, 1e-6)
	assert.Equal(t, 1, metrics.TotalTrades)
	assert.Equal(t, 2, metrics.TotalOrders)
	assert.Equal(t, 1.0, metrics.WinRate)

	assert.Len(t, f.engine.Risk().GetTradeHistory(), 1)
	perf, ok := f.engine.Performance().Get("momentum")
	require.True(t, ok)
	assert.Equal(t, 1, perf.TotalTrades)

	require.Len(t, store.trades, 1)
	assert.Len(t, store.orders, 2)
	assert.Equal(t, models.SignalSell, store.orders[1].Side)

	_, err = f.engine.ClosePosition(ctx, "AAPL", 110, ExitManual)
	assert.ErrorIs(t, err, ErrNoPosition)
}

func TestClosePosition_Short(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	sig := buySignal("AAPL", 100, 102, 94)
	sig.SignalType = models.SignalSell
	_, err := f.engine.ExecuteSignal(ctx, sig)
	require.NoError(t, err)

	trade, err := f.engine.ClosePosition(ctx, "AAPL", 94, ExitTakeProfit)
	require.NoError(t, err)
	assert.Equal(t, models.DirectionShort, trade.Direction)
	assert.InDelta(t, 480, trade.PnL, 1e-6)
}

func TestMonitorPositions(t *testing.T) {
	tests := []struct {
		name       string
		side       models.SignalType
		bar        models.Candle
		wantReason string
		wantExit   float64
	}{
		{"long untouched", models.SignalBuy, models.Candle{High: 101, Low: 99, Close: 100}, "", 0},
		{"long stop", models.SignalBuy, models.Candle{High: 101, Low: 94, Close: 96}, ExitStopLoss, 95},
		{"long target", models.SignalBuy, models.Candle{High: 111, Low: 100, Close: 109}, ExitTakeProfit, 110},
		{"long both hit", models.SignalBuy, models.Candle{High: 111, Low: 94, Close: 100}, ExitStopLoss, 95},
		{"short stop", models.SignalSell, models.Candle{High: 106, Low: 100, Close: 104}, ExitStopLoss, 105},
		{"short target", models.SignalSell, models.Candle{High: 100, Low: 89, Close: 91}, ExitTakeProfit, 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t, nil)
			ctx := context.Background()

			stop, take := 95.0, 110.0
			if tt.side == models.SignalSell {
				stop, take = 105, 90
			}
			order := f.engine.PlaceOrder(ctx, OrderRequest{
				Symbol: "AAPL", Side: tt.side, Quantity: 10, Price: 100, StopLoss: &stop, TakeProfit: &take,
			})
			require.Equal(t, models.OrderFilled, order.Status)

			candles := flatCandles(30, 100)
			tt.bar.Timestamp = riskEpoch
			f.provider.SetCandles("AAPL", append(candles, tt.bar))

			closed := f.engine.MonitorPositions(ctx)
			if tt.wantReason == "" {
				assert.Empty(t, closed)
				assert.Len(t, f.engine.GetPositions(), 1)
				return
			}
			require.Len(t, closed, 1)
			assert.Equal(t, tt.wantReason, closed[0].Reason)
			assert.Equal(t, tt.wantExit, closed[0].ExitPrice)
			assert.Empty(t, f.engine.GetPositions())
		})
	}
}

// staleCacheProvider serves a frozen series from GetCandles and the live one
// from GetFreshCandles.
type staleCacheProvider struct {
	*marketdata.StaticProvider
	stale []models.Candle
}

func (p *staleCacheProvider) GetCandles(context.Context, string, string, int) ([]models.Candle, error) {
	return p.stale, nil
}

func (p *staleCacheProvider) GetFreshCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	return p.StaticProvider.GetCandles(ctx, symbol, timeframe, limit)
}

func TestMonitorPositions_ReadsPastCandleCache(t *testing.T) {
	logger := logging.NewDiscardLogger()
	cfg := config.DefaultEngineConfig()
	cfg.Strategies = nil

	live := marketdata.NewStaticProvider()
	provider := &staleCacheProvider{StaticProvider: live, stale: flatCandles(1, 100)}
	engine, err := NewTradingEngine(cfg, provider,
		strategies.NewRegistry(&stubStrategy{name: "momentum", signal: models.SignalHold, confidence: 0.5}),
		NewStrategyVotingEngine(config.DefaultVotingConfig(), logger),
		NewRiskManager(config.DefaultRiskConfig(), cfg.InitialCapital, logger), logger)
	require.NoError(t, err)

	ctx := context.Background()
	stop, take := 95.0, 110.0
	order := engine.PlaceOrder(ctx, OrderRequest{
		Symbol: "AAPL", Side: models.SignalBuy, Quantity: 10, Price: 100, StopLoss: &stop, TakeProfit: &take,
	})
	require.Equal(t, models.OrderFilled, order.Status)

	live.SetCandles("AAPL", []models.Candle{{Timestamp: riskEpoch, Open: 96, High: 97, Low: 94, Close: 94.5}})

	closed := engine.MonitorPositions(ctx)
	require.Len(t, closed, 1)
	assert.Equal(t, ExitStopLoss, closed[0].Reason)
	assert.Equal(t, 95.0, closed[0].ExitPrice)
}

func TestAnalyzeSymbol(t *testing.T) {
	f := newEngineFixture(t, nil)
	signals := cache.NewMemoryVotingResultCache()
	f.engine.SetSignalCache(signals)
	ctx := context.Background()

	analysis, err := f.engine.AnalyzeSymbol(ctx, " aapl ")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", analysis.Symbol)
	assert.Equal(t, 100.0, analysis.Price)
	assert.Equal(t, 30, analysis.Candles)
	assert.Len(t, analysis.Signals, 2)
	assert.Equal(t, models.SignalBuy, analysis.Result.FinalSignal)
	assert.InDelta(t, 0.94, analysis.Result.ConsensusStrength, 1e-9)
	assert.ElementsMatch(t, []string{"momentum", "breakout"}, analysis.Agreeing)
	require.NotNil(t, analysis.StopLoss)
	assert.Equal(t, 98.0, *analysis.StopLoss)

	assert.Len(t, f.engine.Risk().PriceHistory("AAPL"), 30)

	cached, err := f.engine.LatestSignal(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.SignalBuy, cached.FinalSignal)

	// a second pass with no new bars adds nothing to the price history
	_, err = f.engine.AnalyzeSymbol(ctx, "AAPL")
	require.NoError(t, err)
	assert.Len(t, f.engine.Risk().PriceHistory("AAPL"), 30)

	signal := analysis.TradeSignal()
	assert.Equal(t, "ensemble", signal.StrategyName)
	assert.ElementsMatch(t, []string{"momentum", "breakout"}, signalStrategies(signal))
}

func TestAnalyzeSymbol_NoData(t *testing.T) {
	f := newEngineFixture(t, nil)

	_, err := f.engine.AnalyzeSymbol(context.Background(), "MSFT")
	assert.ErrorIs(t, err, marketdata.ErrNoData)

	_, err = f.engine.AnalyzeSymbol(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidSignal)
}

func TestRunCycle_OpensHoldsAndReverses(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	report := f.engine.RunCycle(ctx, []string{"AAPL", "MSFT"})
	assert.Equal(t, 1, report.Analyzed)
	require.Len(t, report.Orders, 1)
	assert.Equal(t, models.OrderFilled, report.Orders[0].Status)
	assert.Contains(t, report.Skipped, "MSFT")
	require.Len(t, f.engine.GetPositions(), 1)
	assert.ElementsMatch(t, []string{"breakout", "momentum"}, f.engine.GetPositions()[0].Strategies)

	report = f.engine.RunCycle(ctx, []string{"AAPL"})
	assert.Empty(t, report.Orders)
	assert.Equal(t, "position already open", report.Skipped["AAPL"])

	f.momentum.signal = models.SignalSell
	f.trend.signal = models.SignalSell
	f.momentum.stopLoss, f.momentum.takeProfit = 102, 94
	f.trend.stopLoss, f.trend.takeProfit = 102, 94

	report = f.engine.RunCycle(ctx, []string{"AAPL"})
	require.Len(t, report.Closed, 1)
	assert.Equal(t, ExitSignalReversal, report.Closed[0].Reason)
	assert.Empty(t, f.engine.GetPositions())

	perf, ok := f.engine.Performance().Get("breakout")
	require.True(t, ok)
	assert.Equal(t, 1, perf.TotalTrades)
}

func TestRunCycle_HoldSkips(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.momentum.signal = models.SignalHold
	f.trend.signal = models.SignalHold

	report := f.engine.RunCycle(context.Background(), []string{"AAPL"})
	assert.Equal(t, "no directional consensus", report.Skipped["AAPL"])
	assert.Empty(t, report.Orders)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newEngineFixture(t, nil)

	assert.Error(t, f.engine.Run(context.Background(), nil, time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, f.engine.Run(ctx, []string{"AAPL"}, 10*time.Millisecond))
	assert.Len(t, f.engine.GetPositions(), 1)
}

func TestEngine_NotifiesBreakerTransition(t *testing.T) {
	f := newEngineFixture(t, nil)
	alerts := make(channelNotifier, 16)
	f.engine.SetNotifier(alerts)
	ctx := context.Background()

	order := f.engine.PlaceOrder(ctx, OrderRequest{Symbol: "AAPL", Side: models.SignalBuy, Quantity: 100, Price: 1000})
	require.Equal(t, models.OrderFilled, order.Status)

	_, err := f.engine.ClosePosition(ctx, "AAPL", 900, ExitStopLoss)
	require.NoError(t, err)
	assert.Equal(t, models.CircuitTripped, f.engine.Risk().CircuitBreakerState())

	seen := map[notification.AlertType]bool{}
	timeout := time.After(time.Second)
	for len(seen) < 3 {
		select {
		case a := <-alerts:
			seen[a.Type] = true
		case <-timeout:
			t.Fatalf("missing alerts, got %v", seen)
		}
	}
	assert.True(t, seen[notification.AlertOrderFilled])
	assert.True(t, seen[notification.AlertPositionClosed])
	assert.True(t, seen[notification.AlertCircuitBreaker])
}

func TestEngine_LoadHistory(t *testing.T) {
	f := newEngineFixture(t, nil)
	records := make([]models.TradeRecord, 0, 6)
	for i := 0; i < 6; i++ {
		records = append(records, models.TradeRecord{
			Symbol: "AAPL", PnL: 100, Timestamp: riskEpoch.Add(-time.Duration(i+2) * time.Hour),
			Strategies: []string{"momentum"},
		})
	}

	f.engine.LoadHistory(records)

	assert.Len(t, f.engine.GetTrades(), 6)
	assert.Len(t, f.engine.Risk().GetTradeHistory(), 6)
	assert.Contains(t, f.engine.Performance().Performances(), "momentum")
	assert.Equal(t, models.CircuitNormal, f.engine.Risk().CircuitBreakerState())
}

func TestEngine_LatestSignalWithoutCache(t *testing.T) {
	f := newEngineFixture(t, nil)
	_, err := f.engine.LatestSignal(context.Background(), "AAPL")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, cache.ErrCacheMiss))
}
