package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/sentio-go/internal/config"
	"github.com/irfndi/sentio-go/internal/marketdata"
	"github.com/irfndi/sentio-go/internal/models"
	"github.com/irfndi/sentio-go/internal/notification"
	"github.com/irfndi/sentio-go/internal/strategies"
	"github.com/irfndi/sentio-go/internal/telemetry"
)

var (
	ErrPositionExists   = errors.New("position already open for symbol")
	ErrMaxPositions     = errors.New("maximum concurrent positions reached")
	ErrNoPosition       = errors.New("no open position for symbol")
	ErrNoPendingOrder   = errors.New("no pending order for symbol")
	ErrRiskRejected     = errors.New("trade rejected by risk manager")
	ErrNotDirectional   = errors.New("signal is not directional")
	ErrInvalidSignal    = errors.New("invalid signal")
	ErrOrderNotAccepted = errors.New("order not accepted")
)

const (
	notifyTimeout = 10 * time.Second

	ExitStopLoss       = "stop_loss"
	ExitTakeProfit     = "take_profit"
	ExitSignalReversal = "signal_reversal"
	ExitManual         = "manual"
)

// TradeStore persists orders and closed trades
type TradeStore interface {
	SaveOrder(ctx context.Context, order models.Order) error
	SaveTrade(ctx context.Context, trade models.TradeRecord) error
}

// SignalCache keeps the latest voting result per symbol
type SignalCache interface {
	SetLatest(ctx context.Context, symbol string, result *models.VotingResult) error
	GetLatest(ctx context.Context, symbol string) (*models.VotingResult, error)
}

// OrderRequest is a request to open a position
type OrderRequest struct {
	Symbol     string
	Side       models.SignalType
	Quantity   float64
	Price      float64
	StopLoss   *float64
	TakeProfit *float64
	Sector     string
	Strategies []string
}

// Analysis is the outcome of running every strategy on one symbol
type Analysis struct {
	Symbol     string                  `json:"symbol"`
	Price      float64                 `json:"price"`
	Candles    int                     `json:"candles"`
	Signals    []*models.TradingSignal `json:"signals"`
	Result     *models.VotingResult    `json:"result"`
	Agreeing   []string                `json:"agreeing_strategies"`
	StopLoss   *float64                `json:"stop_loss,omitempty"`
	TakeProfit *float64                `json:"take_profit,omitempty"`
}

// TradeSignal folds the analysis into a single ensemble signal for execution.
func (a *Analysis) TradeSignal() *models.TradingSignal {
	return &models.TradingSignal{
		SignalType:   a.Result.FinalSignal,
		Confidence:   a.Result.Confidence,
		StrategyName: "ensemble",
		Symbol:       a.Symbol,
		Timestamp:    a.Result.Timestamp,
		Price:        a.Price,
		StopLoss:     a.StopLoss,
		TakeProfit:   a.TakeProfit,
		Reasoning:    fmt.Sprintf("consensus %.2f from %s", a.Result.ConsensusStrength, strings.Join(a.Agreeing, ", ")),
		Metadata:     map[string]interface{}{"strategies": a.Agreeing},
	}
}

// ExecutionResult pairs the risk verdict with the order it produced
type ExecutionResult struct {
	Order *models.Order           `json:"order,omitempty"`
	Risk  *models.RiskCheckResult `json:"risk,omitempty"`
	Trade *models.TradeRecord     `json:"trade,omitempty"`
}

// CycleReport summarizes one pass of the paper trading loop
type CycleReport struct {
	Analyzed int                  `json:"analyzed"`
	Orders   []models.Order       `json:"orders"`
	Closed   []models.TradeRecord `json:"closed"`
	Skipped  map[string]string    `json:"skipped"`
	Started  time.Time            `json:"started"`
	Duration time.Duration        `json:"duration"`
}

// pendingOrder is a LIVE order awaiting a fill. Its value stays reserved
// against cash until it is filled or cancelled.
type pendingOrder struct {
	order    models.Order
	request  OrderRequest
	reserved float64
}

// TradingEngine runs strategies, votes, checks risk and manages simulated
// positions. It holds at most one position per symbol.
type TradingEngine struct {
	config       config.EngineConfig
	mode         models.TradingMode
	provider     marketdata.Provider
	strategies   []strategies.Strategy
	candleLimit  int
	voting       *StrategyVotingEngine
	votingMethod VotingMethod
	risk         *RiskManager
	performance  *StrategyPerformanceTracker
	tracer       *telemetry.BusinessTracer
	logger       *logrus.Logger

	store    TradeStore
	signals  SignalCache
	notifier notification.Notifier
	now      func() time.Time

	mu          sync.Mutex
	cash        float64
	positions   map[string]models.Position
	pending     map[string]pendingOrder
	lastPrices  map[string]float64
	lastSeen    map[string]time.Time
	orders      []models.Order
	trades      []models.TradeRecord
	realizedPnL float64
}

// NewTradingEngine wires the engine. strategies are resolved from the
// configured names; an empty list runs every registered strategy.
func NewTradingEngine(
	cfg config.EngineConfig,
	provider marketdata.Provider,
	registry *strategies.Registry,
	voting *StrategyVotingEngine,
	risk *RiskManager,
	logger *logrus.Logger,
) (*TradingEngine, error) {
	if provider == nil {
		return nil, errors.New("market data provider is required")
	}
	selected, err := registry.Select(cfg.Strategies)
	if err != nil {
		return nil, fmt.Errorf("failed to select strategies: %w", err)
	}

	defaults := config.DefaultEngineConfig()
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = defaults.InitialCapital
	}
	if cfg.MaxConcurrentPositions <= 0 {
		cfg.MaxConcurrentPositions = defaults.MaxConcurrentPositions
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = defaults.Timeframe
	}
	limit := cfg.CandleLimit
	if need := strategies.MaxMinCandles(selected); limit < need {
		limit = need
	}

	sectors := make(map[string]string, len(cfg.Sectors))
	for sym, sector := range cfg.Sectors {
		sectors[strings.ToLower(sym)] = sector
	}
	cfg.Sectors = sectors

	mode := models.ModePaper
	if strings.EqualFold(cfg.Mode, string(models.ModeLive)) {
		mode = models.ModeLive
	}

	e := &TradingEngine{
		config:       cfg,
		mode:         mode,
		provider:     provider,
		strategies:   selected,
		candleLimit:  limit,
		voting:       voting,
		votingMethod: voting.Method(),
		risk:         risk,
		performance:  NewStrategyPerformanceTracker(0),
		tracer:       telemetry.NewBusinessTracer(),
		logger:       logger,
		now:          time.Now,
		cash:         cfg.InitialCapital,
		positions:    make(map[string]models.Position),
		pending:      make(map[string]pendingOrder),
		lastPrices:   make(map[string]float64),
		lastSeen:     make(map[string]time.Time),
	}
	risk.SetBreakerObserver(e.onBreakerTransition)

	if mode == models.ModeLive {
		logger.Warn("LIVE mode selected: orders are recorded as PENDING, no broker is connected")
	}
	return e, nil
}

// SetTradeStore enables order and trade persistence.
func (e *TradingEngine) SetTradeStore(store TradeStore) { e.store = store }

// SetSignalCache enables caching of the latest voting result per symbol.
func (e *TradingEngine) SetSignalCache(c SignalCache) { e.signals = c }

// SetNotifier enables operator alerts.
func (e *TradingEngine) SetNotifier(n notification.Notifier) { e.notifier = n }

// SetClock replaces the clock used for order and trade timestamps.
func (e *TradingEngine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

func (e *TradingEngine) Mode() models.TradingMode { return e.mode }

func (e *TradingEngine) Risk() *RiskManager { return e.risk }

func (e *TradingEngine) Voting() *StrategyVotingEngine { return e.voting }

func (e *TradingEngine) Performance() *StrategyPerformanceTracker { return e.performance }

// StrategyNames lists the strategies the engine runs.
func (e *TradingEngine) StrategyNames() []string {
	out := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		out[i] = s.Name()
	}
	return out
}

// LoadHistory seeds trade history, risk statistics and strategy performance
// from persisted trades.
func (e *TradingEngine) LoadHistory(records []models.TradeRecord) {
	e.mu.Lock()
	e.trades = append(e.trades, records...)
	e.mu.Unlock()

	e.risk.LoadTradeHistory(records)
	e.performance.Load(records)
	e.logger.WithField("trades", len(records)).Info("Trade history loaded")
}

// AnalyzeSymbol fetches candles, runs every strategy and votes. The result is
// written to the signal cache when one is configured.
func (e *TradingEngine) AnalyzeSymbol(ctx context.Context, symbol string) (*Analysis, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", ErrInvalidSignal)
	}

	candles, err := e.provider.GetCandles(ctx, symbol, e.config.Timeframe, e.candleLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candles for %s: %w", symbol, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w for %s", marketdata.ErrNoData, symbol)
	}

	ctx, span := e.tracer.TraceSymbolAnalysis(ctx, symbol, len(e.strategies))
	defer span.End()

	e.observePrices(symbol, candles)
	last := candles[len(candles)-1]

	signals := make([]*models.TradingSignal, 0, len(e.strategies))
	for _, s := range e.strategies {
		if len(candles) < s.MinCandles() {
			e.logger.WithFields(logrus.Fields{
				"symbol":   symbol,
				"strategy": s.Name(),
				"candles":  len(candles),
				"required": s.MinCandles(),
			}).Debug("Skipping strategy, not enough candles")
			continue
		}
		sig, err := s.Analyze(symbol, candles)
		if err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"symbol":   symbol,
				"strategy": s.Name(),
			}).Warn("Strategy analysis failed")
			continue
		}
		signals = append(signals, sig)
	}

	result := e.voting.Vote(signals, e.performance.Performances(), e.votingMethod, true)
	e.tracer.RecordVotingResult(ctx, span, telemetry.VotingMetrics{
		FinalSignal:       string(result.FinalSignal),
		Confidence:        result.Confidence,
		ConsensusStrength: result.ConsensusStrength,
		Participants:      len(result.ParticipatingStrategies),
	})

	analysis := &Analysis{
		Symbol:  symbol,
		Price:   last.Close,
		Candles: len(candles),
		Signals: signals,
		Result:  result,
	}
	analysis.Agreeing, analysis.StopLoss, analysis.TakeProfit = agreeingLevels(signals, result.FinalSignal, e.voting.config.MinSignalConfidence)

	if e.signals != nil {
		if err := e.signals.SetLatest(ctx, symbol, result); err != nil {
			e.logger.WithError(err).WithField("symbol", symbol).Warn("Failed to cache voting result")
		}
	}

	e.logger.WithFields(logrus.Fields{
		"symbol":       symbol,
		"price":        last.Close,
		"final_signal": result.FinalSignal,
		"confidence":   result.Confidence,
		"consensus":    result.ConsensusStrength,
		"signals":      len(signals),
	}).Info("Symbol analyzed")

	return analysis, nil
}

// LatestSignal returns the cached voting result for a symbol.
func (e *TradingEngine) LatestSignal(ctx context.Context, symbol string) (*models.VotingResult, error) {
	if e.signals == nil {
		return nil, errors.New("signal cache not configured")
	}
	return e.signals.GetLatest(ctx, strings.ToUpper(strings.TrimSpace(symbol)))
}

// observePrices feeds bars newer than the last seen one into the risk
// manager's price history.
func (e *TradingEngine) observePrices(symbol string, candles []models.Candle) {
	e.mu.Lock()
	seen := e.lastSeen[symbol]
	last := candles[len(candles)-1]
	e.lastSeen[symbol] = last.Timestamp
	e.lastPrices[symbol] = last.Close
	e.mu.Unlock()

	for _, c := range candles {
		if c.Timestamp.After(seen) {
			e.risk.UpdatePrice(symbol, c.Timestamp, c.Close)
		}
	}
}

// agreeingLevels collects the strategies that voted for the winning signal
// and averages their protective levels.
func agreeingLevels(signals []*models.TradingSignal, winner models.SignalType, minConfidence float64) ([]string, *float64, *float64) {
	names := []string{}
	if !winner.IsDirectional() {
		return names, nil, nil
	}
	var stopSum, takeSum float64
	var stops, takes int
	for _, s := range signals {
		if s.SignalType != winner || s.Confidence < minConfidence {
			continue
		}
		names = append(names, s.StrategyName)
		if s.StopLoss != nil {
			stopSum += *s.StopLoss
			stops++
		}
		if s.TakeProfit != nil {
			takeSum += *s.TakeProfit
			takes++
		}
	}
	var stop, take *float64
	if stops > 0 {
		v := stopSum / float64(stops)
		stop = &v
	}
	if takes > 0 {
		v := takeSum / float64(takes)
		take = &v
	}
	return names, stop, take
}

// ExecuteSignal sizes, risk-checks and places an order for a directional
// signal. A CLOSE signal closes the symbol's open position.
func (e *TradingEngine) ExecuteSignal(ctx context.Context, signal *models.TradingSignal) (*ExecutionResult, error) {
	if signal == nil {
		return nil, fmt.Errorf("%w: nil signal", ErrInvalidSignal)
	}
	symbol := strings.ToUpper(strings.TrimSpace(signal.Symbol))
	if symbol == "" || signal.Price <= 0 {
		return nil, fmt.Errorf("%w: symbol %q, price %.4f", ErrInvalidSignal, signal.Symbol, signal.Price)
	}

	if signal.SignalType == models.SignalClose {
		trade, err := e.ClosePosition(ctx, symbol, signal.Price, ExitManual)
		if err != nil {
			return nil, err
		}
		return &ExecutionResult{Trade: &trade}, nil
	}
	if !signal.SignalType.IsDirectional() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectional, signal.SignalType)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.positions[symbol]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionExists, symbol)
	}
	if p, ok := e.pending[symbol]; ok {
		return nil, fmt.Errorf("%w: %s has pending order %s", ErrPositionExists, symbol, p.order.OrderID)
	}
	if open := len(e.positions) + len(e.pending); open >= e.config.MaxConcurrentPositions {
		return nil, fmt.Errorf("%w: %d open or pending", ErrMaxPositions, open)
	}

	portfolioValue := e.portfolioValueLocked()
	stop := 0.0
	if signal.StopLoss != nil {
		stop = *signal.StopLoss
	}
	size := e.risk.CalculatePositionSize(signal.Price, stop, portfolioValue, signal.Confidence)
	if size <= 0 {
		return nil, fmt.Errorf("%w: position size is zero", ErrRiskRejected)
	}

	sector := e.SectorFor(symbol)
	check := e.risk.AssessTradeRisk(ctx, models.TradeProposal{
		Symbol:     symbol,
		Direction:  models.DirectionFor(signal.SignalType),
		Size:       size,
		Price:      signal.Price,
		StopLoss:   signal.StopLoss,
		TakeProfit: signal.TakeProfit,
		Sector:     sector,
	}, portfolioValue, e.exposureLocked())

	result := &ExecutionResult{Risk: check}
	if !check.Approved {
		e.logger.WithFields(logrus.Fields{
			"symbol":     symbol,
			"risk_level": check.RiskLevel.String(),
			"reasons":    check.Reasons,
		}).Warn("Trade rejected by risk manager")
		return result, fmt.Errorf("%w: %s", ErrRiskRejected, strings.Join(check.Reasons, "; "))
	}

	stopLoss := adjustedLevel(signal.StopLoss, check, "stop_loss")
	takeProfit := adjustedLevel(signal.TakeProfit, check, "take_profit")

	order := e.placeOrderLocked(ctx, OrderRequest{
		Symbol:     symbol,
		Side:       signal.SignalType,
		Quantity:   check.AdjustedSize(size),
		Price:      signal.Price,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Sector:     sector,
		Strategies: signalStrategies(signal),
	})
	result.Order = &order
	if order.Status == models.OrderRejected {
		return result, fmt.Errorf("%w: %s", ErrOrderNotAccepted, order.Reason)
	}
	return result, nil
}

func adjustedLevel(level *float64, check *models.RiskCheckResult, key string) *float64 {
	if level != nil {
		return level
	}
	if v, ok := check.Adjustments[key].(float64); ok {
		return &v
	}
	return nil
}

func signalStrategies(signal *models.TradingSignal) []string {
	if names, ok := signal.Metadata["strategies"].([]string); ok && len(names) > 0 {
		return names
	}
	if signal.StrategyName != "" {
		return []string{signal.StrategyName}
	}
	return nil
}

// PlaceOrder submits an order. PAPER orders fill immediately at the
// requested price; LIVE orders stay PENDING with their value held against
// cash until FillPendingOrder or CancelPendingOrder. Orders whose value
// exceeds the available cash, or for a symbol that already has a position
// or pending order, are REJECTED without an order id.
func (e *TradingEngine) PlaceOrder(ctx context.Context, req OrderRequest) models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.placeOrderLocked(ctx, req)
}

func (e *TradingEngine) placeOrderLocked(ctx context.Context, req OrderRequest) models.Order {
	ctx, span := e.tracer.TraceOrderPlacement(ctx, req.Symbol, string(req.Side), string(e.mode))
	defer span.End()

	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	quantity := decimal.NewFromFloat(req.Quantity).Round(8)
	price := decimal.NewFromFloat(req.Price)
	order := models.Order{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   quantity,
		Price:      price,
		Value:      quantity.Mul(price).Round(2),
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Mode:       e.mode,
		CreatedAt:  e.now(),
	}

	value := req.Quantity * req.Price
	switch {
	case !req.Side.IsDirectional() || req.Quantity <= 0 || req.Price <= 0:
		order.Status = models.OrderRejected
		order.Reason = fmt.Sprintf("invalid order: side %s, quantity %.8f, price %.4f", req.Side, req.Quantity, req.Price)
	case e.holdsLocked(req.Symbol):
		order.Status = models.OrderRejected
		order.Reason = fmt.Sprintf("%s already has an open position or pending order", req.Symbol)
	case value > e.cash:
		order.Status = models.OrderRejected
		order.Reason = fmt.Sprintf("order value %.2f exceeds available portfolio value %.2f", value, e.cash)
	case e.mode == models.ModeLive:
		order.OrderID = uuid.NewString()
		order.Status = models.OrderPending
		e.cash -= value
		e.pending[req.Symbol] = pendingOrder{order: order, request: req, reserved: value}
	default:
		order.OrderID = uuid.NewString()
		order.Status = models.OrderFilled
		e.openPositionLocked(req, value, order.CreatedAt)
	}

	e.orders = append(e.orders, order)

	var orderErr error
	if order.Status == models.OrderRejected {
		orderErr = errors.New(order.Reason)
	}
	e.tracer.RecordOrderResult(ctx, span, string(order.Status), orderErr)

	e.logger.WithFields(logrus.Fields{
		"order_id": order.OrderID,
		"symbol":   order.Symbol,
		"side":     order.Side,
		"quantity": order.Quantity.String(),
		"price":    order.Price.String(),
		"status":   order.Status,
		"mode":     order.Mode,
	}).Info("Order placed")

	if order.OrderID != "" {
		e.saveOrder(ctx, order)
	}
	e.notify(notification.OrderAlert(order, req.Strategies))
	return order
}

func (e *TradingEngine) holdsLocked(symbol string) bool {
	if _, ok := e.positions[symbol]; ok {
		return true
	}
	_, ok := e.pending[symbol]
	return ok
}

// FillPendingOrder opens the position for the symbol's pending LIVE order at
// fillPrice. A zero fillPrice fills at the order price.
func (e *TradingEngine) FillPendingOrder(ctx context.Context, symbol string, fillPrice float64) (models.Order, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if fillPrice < 0 {
		return models.Order{}, fmt.Errorf("%w: fill price %.4f", ErrInvalidSignal, fillPrice)
	}

	e.mu.Lock()
	p, ok := e.pending[symbol]
	if !ok {
		e.mu.Unlock()
		return models.Order{}, fmt.Errorf("%w: %s", ErrNoPendingOrder, symbol)
	}
	delete(e.pending, symbol)
	e.cash += p.reserved

	req := p.request
	if fillPrice > 0 {
		req.Price = fillPrice
	}
	order := p.order
	order.Status = models.OrderFilled
	order.Price = decimal.NewFromFloat(req.Price)
	order.Value = order.Quantity.Mul(order.Price).Round(2)
	e.openPositionLocked(req, req.Quantity*req.Price, e.now())
	e.replaceOrderLocked(order)
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"order_id": order.OrderID,
		"symbol":   symbol,
		"price":    order.Price.String(),
	}).Info("Pending order filled")

	e.saveOrder(ctx, order)
	e.notify(notification.OrderAlert(order, req.Strategies))
	return order, nil
}

// CancelPendingOrder cancels the symbol's pending LIVE order and releases its
// reserved cash.
func (e *TradingEngine) CancelPendingOrder(ctx context.Context, symbol, reason string) (models.Order, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	e.mu.Lock()
	p, ok := e.pending[symbol]
	if !ok {
		e.mu.Unlock()
		return models.Order{}, fmt.Errorf("%w: %s", ErrNoPendingOrder, symbol)
	}
	delete(e.pending, symbol)
	e.cash += p.reserved

	order := p.order
	order.Status = models.OrderCancelled
	order.Reason = reason
	e.replaceOrderLocked(order)
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"order_id": order.OrderID,
		"symbol":   symbol,
		"reason":   reason,
	}).Info("Pending order cancelled")

	e.saveOrder(ctx, order)
	return order, nil
}

// GetPendingOrders returns LIVE orders awaiting a fill, ordered by symbol.
func (e *TradingEngine) GetPendingOrders() []models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Order, 0, len(e.pending))
	for _, p := range e.pending {
		out = append(out, p.order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (e *TradingEngine) replaceOrderLocked(order models.Order) {
	for i := len(e.orders) - 1; i >= 0; i-- {
		if e.orders[i].OrderID == order.OrderID {
			e.orders[i] = order
			return
		}
	}
	e.orders = append(e.orders, order)
}

func (e *TradingEngine) openPositionLocked(req OrderRequest, value float64, at time.Time) {
	pos := models.Position{
		Symbol:     req.Symbol,
		EntryPrice: req.Price,
		Quantity:   req.Quantity,
		Value:      value,
		Direction:  models.DirectionFor(req.Side),
		EntryTime:  at,
		Sector:     req.Sector,
		Strategies: req.Strategies,
	}
	if req.StopLoss != nil {
		pos.StopLoss = *req.StopLoss
	}
	if req.TakeProfit != nil {
		pos.TakeProfit = *req.TakeProfit
	}
	e.cash -= value
	e.positions[req.Symbol] = pos
	e.lastPrices[req.Symbol] = req.Price
	e.risk.UpdatePosition(pos)
}

// ClosePosition realizes the symbol's position at exitPrice and feeds the
// result to the risk manager, the strategy performance tracker and the
// trade store.
func (e *TradingEngine) ClosePosition(ctx context.Context, symbol string, exitPrice float64, reason string) (models.TradeRecord, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if exitPrice <= 0 {
		return models.TradeRecord{}, fmt.Errorf("%w: exit price %.4f", ErrInvalidSignal, exitPrice)
	}

	e.mu.Lock()
	pos, ok := e.positions[symbol]
	if !ok {
		e.mu.Unlock()
		return models.TradeRecord{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}

	now := e.now()
	pnl := pos.UnrealizedPnL(exitPrice)
	trade := models.TradeRecord{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		PnL:        pnl,
		Timestamp:  now,
		Direction:  pos.Direction,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   pos.Quantity,
		Reason:     reason,
		Strategies: pos.Strategies,
	}

	side := models.SignalSell
	if pos.Direction == models.DirectionShort {
		side = models.SignalBuy
	}
	quantity := decimal.NewFromFloat(pos.Quantity).Round(8)
	price := decimal.NewFromFloat(exitPrice)
	closing := models.Order{
		OrderID:   uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Value:     quantity.Mul(price).Round(2),
		Status:    models.OrderFilled,
		Mode:      e.mode,
		Reason:    reason,
		CreatedAt: now,
	}

	delete(e.positions, symbol)
	e.cash += pos.Value + pnl
	e.realizedPnL += pnl
	e.lastPrices[symbol] = exitPrice
	e.orders = append(e.orders, closing)
	e.trades = append(e.trades, trade)
	e.mu.Unlock()

	e.risk.RecordTrade(trade)
	e.performance.Record(trade.Strategies, pnl)

	e.logger.WithFields(logrus.Fields{
		"symbol":      symbol,
		"direction":   pos.Direction,
		"entry_price": pos.EntryPrice,
		"exit_price":  exitPrice,
		"pnl":         pnl,
		"reason":      reason,
	}).Info("Position closed")

	e.saveOrder(ctx, closing)
	if e.store != nil {
		if err := e.store.SaveTrade(ctx, trade); err != nil {
			e.logger.WithError(err).WithField("symbol", symbol).Error("Failed to persist trade")
		}
	}
	e.notify(notification.TradeAlert(trade))
	return trade, nil
}

// MonitorPositions closes positions whose stop-loss or take-profit was
// touched by the latest bar, read past any candle cache. When a bar touches
// both, the stop wins.
func (e *TradingEngine) MonitorPositions(ctx context.Context) []models.TradeRecord {
	closed := []models.TradeRecord{}
	for _, pos := range e.GetPositions() {
		candles, err := marketdata.Latest(ctx, e.provider, pos.Symbol, e.config.Timeframe, 1)
		if err != nil || len(candles) == 0 {
			e.logger.WithError(err).WithField("symbol", pos.Symbol).Warn("Failed to fetch price for open position")
			continue
		}
		bar := candles[len(candles)-1]

		e.mu.Lock()
		e.lastPrices[pos.Symbol] = bar.Close
		e.mu.Unlock()

		exit, reason, hit := exitFor(pos, bar)
		if !hit {
			continue
		}
		trade, err := e.ClosePosition(ctx, pos.Symbol, exit, reason)
		if err != nil {
			e.logger.WithError(err).WithField("symbol", pos.Symbol).Warn("Failed to close position")
			continue
		}
		closed = append(closed, trade)
	}
	return closed
}

func exitFor(pos models.Position, bar models.Candle) (float64, string, bool) {
	low, high := bar.Low, bar.High
	if low <= 0 {
		low = bar.Close
	}
	if high <= 0 {
		high = bar.Close
	}
	if pos.Direction == models.DirectionShort {
		if pos.StopLoss > 0 && high >= pos.StopLoss {
			return pos.StopLoss, ExitStopLoss, true
		}
		if pos.TakeProfit > 0 && low <= pos.TakeProfit {
			return pos.TakeProfit, ExitTakeProfit, true
		}
		return 0, "", false
	}
	if pos.StopLoss > 0 && low <= pos.StopLoss {
		return pos.StopLoss, ExitStopLoss, true
	}
	if pos.TakeProfit > 0 && high >= pos.TakeProfit {
		return pos.TakeProfit, ExitTakeProfit, true
	}
	return 0, "", false
}

// RunCycle monitors open positions, then analyzes every symbol and acts on
// directional decisions. It also gives the risk manager a chance to start a
// new trading day.
func (e *TradingEngine) RunCycle(ctx context.Context, symbols []string) CycleReport {
	report := CycleReport{
		Orders:  []models.Order{},
		Skipped: map[string]string{},
		Started: e.now(),
	}

	e.mu.Lock()
	pv := e.portfolioValueLocked()
	e.mu.Unlock()
	e.risk.ResetDailyMetrics(pv)

	report.Closed = e.MonitorPositions(ctx)

	for _, symbol := range symbols {
		if ctx.Err() != nil {
			break
		}
		analysis, err := e.AnalyzeSymbol(ctx, symbol)
		if err != nil {
			report.Skipped[symbol] = err.Error()
			e.logger.WithError(err).WithField("symbol", symbol).Warn("Analysis failed")
			continue
		}
		report.Analyzed++

		final := analysis.Result.FinalSignal
		if pos, ok := e.position(analysis.Symbol); ok {
			if final == models.SignalClose || (final.IsDirectional() && models.DirectionFor(final) != pos.Direction) {
				if trade, err := e.ClosePosition(ctx, analysis.Symbol, analysis.Price, ExitSignalReversal); err == nil {
					report.Closed = append(report.Closed, trade)
				}
			} else {
				report.Skipped[analysis.Symbol] = "position already open"
			}
			continue
		}
		if !final.IsDirectional() {
			report.Skipped[analysis.Symbol] = "no directional consensus"
			continue
		}

		res, err := e.ExecuteSignal(ctx, analysis.TradeSignal())
		if res != nil && res.Order != nil {
			report.Orders = append(report.Orders, *res.Order)
		}
		if err != nil {
			report.Skipped[analysis.Symbol] = err.Error()
		}
	}

	report.Duration = e.now().Sub(report.Started)
	e.logger.WithFields(logrus.Fields{
		"analyzed": report.Analyzed,
		"orders":   len(report.Orders),
		"closed":   len(report.Closed),
		"skipped":  len(report.Skipped),
	}).Info("Trading cycle completed")
	return report
}

// Run repeats RunCycle every interval until ctx is cancelled.
func (e *TradingEngine) Run(ctx context.Context, symbols []string, interval time.Duration) error {
	if len(symbols) == 0 {
		return errors.New("no symbols to trade")
	}
	if interval <= 0 {
		interval = e.config.CycleDuration()
	}

	e.logger.WithFields(logrus.Fields{
		"symbols":  symbols,
		"interval": interval,
		"mode":     e.mode,
	}).Info("Trading engine started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.RunCycle(ctx, symbols)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Trading engine stopped")
			return nil
		case <-ticker.C:
			e.RunCycle(ctx, symbols)
		}
	}
}

// GetPortfolioMetrics summarizes cash, positions and trade statistics.
func (e *TradingEngine) GetPortfolioMetrics() models.PortfolioMetrics {
	e.mu.Lock()
	metrics := models.PortfolioMetrics{
		Cash:           e.cash,
		PortfolioValue: e.portfolioValueLocked(),
		Exposure:       e.exposureLocked(),
		RealizedPnL:    e.realizedPnL,
		OpenPositions:  len(e.positions),
		PendingOrders:  len(e.pending),
		TotalOrders:    len(e.orders),
		TotalTrades:    len(e.trades),
		Timestamp:      e.now(),
	}
	for sym, pos := range e.positions {
		metrics.UnrealizedPnL += pos.UnrealizedPnL(e.markLocked(sym))
	}
	e.mu.Unlock()

	metrics.WinRate = e.risk.GetWinRate()
	metrics.Expectancy = e.risk.GetExpectancy()
	metrics.SharpeRatio = e.risk.GetSharpeRatio()
	metrics.ValueAtRisk95 = e.risk.CalculateVaR(0.95)
	metrics.CircuitBreaker = e.risk.CircuitBreakerState()
	return metrics
}

// PortfolioValue is cash plus the marked value of open positions and the
// value held for pending orders.
func (e *TradingEngine) PortfolioValue() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.portfolioValueLocked()
}

func (e *TradingEngine) portfolioValueLocked() float64 {
	value := e.cash
	for sym, pos := range e.positions {
		value += pos.Value + pos.UnrealizedPnL(e.markLocked(sym))
	}
	for _, p := range e.pending {
		value += p.reserved
	}
	return value
}

func (e *TradingEngine) exposureLocked() float64 {
	exposure := 0.0
	for _, pos := range e.positions {
		exposure += math.Abs(pos.Value)
	}
	for _, p := range e.pending {
		exposure += p.reserved
	}
	return exposure
}

func (e *TradingEngine) markLocked(symbol string) float64 {
	if p, ok := e.lastPrices[symbol]; ok && p > 0 {
		return p
	}
	return e.positions[symbol].EntryPrice
}

// SectorFor returns the configured sector for a symbol, or "".
func (e *TradingEngine) SectorFor(symbol string) string {
	return e.config.Sectors[strings.ToLower(strings.TrimSpace(symbol))]
}

// LastPrice returns the most recent observed price for a symbol.
func (e *TradingEngine) LastPrice(symbol string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.lastPrices[strings.ToUpper(strings.TrimSpace(symbol))]
	return p, ok && p > 0
}

func (e *TradingEngine) position(symbol string) (models.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[symbol]
	return pos, ok
}

// GetPositions returns open positions ordered by symbol.
func (e *TradingEngine) GetPositions() []models.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// GetOrders returns the order history, oldest first.
func (e *TradingEngine) GetOrders() []models.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Order, len(e.orders))
	copy(out, e.orders)
	return out
}

// GetTrades returns the closed trade history, oldest first.
func (e *TradingEngine) GetTrades() []models.TradeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.TradeRecord, len(e.trades))
	copy(out, e.trades)
	return out
}

func (e *TradingEngine) saveOrder(ctx context.Context, order models.Order) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveOrder(ctx, order); err != nil {
		e.logger.WithError(err).WithField("order_id", order.OrderID).Error("Failed to persist order")
	}
}

// notify delivers alerts in the background so slow channels never hold
// engine or risk manager locks.
func (e *TradingEngine) notify(alert notification.Alert) {
	if e.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := e.notifier.Notify(ctx, alert); err != nil {
			e.logger.WithError(err).WithField("alert_type", string(alert.Type)).Warn("Failed to deliver alert")
		}
	}()
}

func (e *TradingEngine) onBreakerTransition(from, to models.CircuitBreakerState, lossFraction float64) {
	e.notify(notification.BreakerAlert(from, to, lossFraction, time.Now()))
}
