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
	"github.com/sirupsen/logrus"

	"github.com/irfndi/sentio-go/internal/config"
	"github.com/irfndi/sentio-go/internal/models"
	"github.com/irfndi/sentio-go/internal/telemetry"
)

// UnknownSector is assigned to positions and trades without a sector
const UnknownSector = "unknown"

const (
	volatilityNormalizer   = 0.05
	highAverageVolatility  = 0.03
	lowAverageVolatility   = 0.01
	minDynamicRR           = 1.5
	maxDynamicRR           = 3.5
	dailyResetInterval     = 24 * time.Hour
	sameSectorCorrelation  = 0.7
	crossSectorCorrelation = 0.3
)

var (
	// ErrInsufficientData is returned when a computation needs more history
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInvalidFeatures is returned for malformed correlation observations
	ErrInvalidFeatures = errors.New("invalid correlation features")
)

// timeframe windows used by the multi-timeframe volatility score
var volatilityWindows = []struct {
	span   time.Duration
	weight float64
}{
	{time.Hour, 0.2},
	{24 * time.Hour, 0.5},
	{7 * 24 * time.Hour, 0.3},
}

// RiskManager assesses proposed trades against portfolio limits and keeps
// the daily loss breaker, open positions, price history and closed trades.
type RiskManager struct {
	config config.RiskConfig
	logger *logrus.Logger
	tracer *telemetry.BusinessTracer
	now    func() time.Time

	mu              sync.Mutex
	positions       map[string]models.Position
	tradeHistory    []models.TradeRecord
	prices          *PriceHistory
	dailyPnL        float64
	dailyStartValue float64
	lastReset       time.Time
	breaker         *LossCircuitBreaker

	correlationModel    *RidgeModel
	correlationFeatures [][]float64
	correlationLabels   []float64
}

// NewRiskManager creates a risk manager whose trading day starts at
// portfolioValue.
func NewRiskManager(cfg config.RiskConfig, portfolioValue float64, logger *logrus.Logger) *RiskManager {
	if cfg.PriceHistorySize <= 0 {
		cfg.PriceHistorySize = 100
	}
	if cfg.MaxTradesPerHour <= 0 {
		cfg.MaxTradesPerHour = 10
	}
	if cfg.VolatilityWarningThreshold <= 0 {
		cfg.VolatilityWarningThreshold = 0.7
	}
	if cfg.MaxCorrelation <= 0 {
		cfg.MaxCorrelation = 0.8
	}

	rm := &RiskManager{
		config:          cfg,
		logger:          logger,
		tracer:          telemetry.NewBusinessTracer(),
		now:             time.Now,
		positions:       make(map[string]models.Position),
		prices:          NewPriceHistory(cfg.PriceHistorySize),
		dailyStartValue: portfolioValue,
		lastReset:       time.Now(),
		breaker:         NewLossCircuitBreaker(cfg.CircuitBreakerThreshold),
	}
	rm.breaker.observer = rm.logBreakerTransition
	return rm
}

// SetClock replaces the wall clock and restarts the trading day at the new
// time. Backtests use it to replay history.
func (rm *RiskManager) SetClock(now func() time.Time) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.now = now
	rm.lastReset = now()
}

// SetBreakerObserver registers a callback for breaker transitions. The
// callback runs with the risk manager locked and must not call back into it.
func (rm *RiskManager) SetBreakerObserver(observer BreakerObserver) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.breaker.observer = func(from, to models.CircuitBreakerState, loss float64) {
		rm.logBreakerTransition(from, to, loss)
		if observer != nil {
			observer(from, to, loss)
		}
	}
}

func (rm *RiskManager) logBreakerTransition(from, to models.CircuitBreakerState, loss float64) {
	entry := rm.logger.WithFields(logrus.Fields{
		"old_state":     from.String(),
		"new_state":     to.String(),
		"loss_fraction": loss,
		"threshold":     rm.config.CircuitBreakerThreshold,
	})
	if to == models.CircuitTripped {
		entry.Error("Daily loss circuit breaker tripped")
	} else {
		entry.Warn("Daily loss circuit breaker state changed")
	}
	rm.tracer.RecordCircuitBreakerTransition(context.Background(), from.String(), to.String())
}

// AssessTradeRisk runs the ordered risk checks for a proposed trade. Only a
// tripped breaker stops the sequence early; every other check adds reasons
// (which reject) or warnings (which do not).
func (rm *RiskManager) AssessTradeRisk(ctx context.Context, trade models.TradeProposal, portfolioValue, currentExposure float64) *models.RiskCheckResult {
	_, span := rm.tracer.TraceRiskAssessment(ctx, trade.Symbol)
	defer span.End()

	rm.mu.Lock()
	defer rm.mu.Unlock()

	result := &models.RiskCheckResult{
		Approved:    true,
		RiskLevel:   models.RiskLow,
		Reasons:     []string{},
		Adjustments: map[string]interface{}{},
		Warnings:    []string{},
		Timestamp:   rm.now(),
	}
	reject := func(level models.RiskLevel, format string, args ...interface{}) {
		result.Reasons = append(result.Reasons, fmt.Sprintf(format, args...))
		result.RiskLevel = result.RiskLevel.Escalate(level)
	}
	warn := func(level models.RiskLevel, format string, args ...interface{}) {
		result.Warnings = append(result.Warnings, fmt.Sprintf(format, args...))
		result.RiskLevel = result.RiskLevel.Escalate(level)
	}

	direction := trade.Direction
	if direction != models.DirectionShort {
		direction = models.DirectionLong
	}
	sector := normalizeSector(trade.Sector)
	size := trade.Size
	price := trade.Price

	var volRisk, corrRisk float64
	defer func() {
		result.Approved = len(result.Reasons) == 0
		rm.tracer.RecordRiskMetrics(ctx, span, telemetry.RiskMetrics{
			Approved:        result.Approved,
			RiskLevel:       result.RiskLevel.String(),
			Reasons:         len(result.Reasons),
			Warnings:        len(result.Warnings),
			VolatilityRisk:  volRisk,
			CorrelationRisk: corrRisk,
		})
		rm.logger.WithFields(logrus.Fields{
			"symbol":     trade.Symbol,
			"approved":   result.Approved,
			"risk_level": result.RiskLevel.String(),
			"reasons":    result.Reasons,
			"warnings":   len(result.Warnings),
		}).Debug("Trade risk assessed")
	}()

	if portfolioValue <= 0 || price <= 0 || size <= 0 {
		reject(models.RiskCritical, "invalid trade: size %.4f, price %.4f, portfolio value %.2f", size, price, portfolioValue)
		return result
	}

	// 1. circuit breaker
	if rm.breaker.State() == models.CircuitTripped {
		reject(models.RiskCritical, "circuit breaker tripped: daily loss limit reached")
		return result
	}

	// 2. daily drawdown
	if rm.dailyStartValue > 0 && rm.dailyPnL < 0 {
		drawdown := math.Abs(rm.dailyPnL) / rm.dailyStartValue
		if drawdown > rm.config.MaxDailyDrawdown {
			reject(models.RiskCritical, "daily drawdown %.2f%% exceeds limit %.2f%%", drawdown*100, rm.config.MaxDailyDrawdown*100)
		}
	}

	// 3. position size cap
	if size*price/portfolioValue > rm.config.MaxPositionSize {
		capped := rm.config.MaxPositionSize * portfolioValue / price
		result.Adjustments["original_size"] = size
		result.Adjustments["size"] = capped
		warn(models.RiskModerate, "position size reduced from %.4f to %.4f to respect %.0f%% cap", size, capped, rm.config.MaxPositionSize*100)
		size = capped
	}

	// 4. portfolio exposure
	newExposure := (currentExposure + size*price) / portfolioValue
	if newExposure > rm.config.MaxPortfolioRisk {
		reject(models.RiskHigh, "portfolio exposure %.2f%% would exceed limit %.2f%%", newExposure*100, rm.config.MaxPortfolioRisk*100)
	}

	// 5. volatility
	volRisk = rm.volatilityRiskLocked(trade.Symbol)
	result.Adjustments["volatility_risk"] = volRisk
	if volRisk > rm.config.VolatilityWarningThreshold {
		warn(models.RiskModerate, "high volatility risk %.2f", volRisk)
	}

	// 6. correlation
	corrRisk = rm.correlationRiskLocked(trade.Symbol, sector)
	result.Adjustments["correlation_risk"] = corrRisk
	if corrRisk > rm.config.MaxCorrelation {
		warn(models.RiskModerate, "high correlation %.2f with existing positions", corrRisk)
	}

	// 7. derive protective levels
	stopLoss, takeProfit := rm.protectiveLevels(price, direction, trade.StopLoss, trade.TakeProfit)
	if trade.StopLoss == nil {
		result.Adjustments["stop_loss"] = stopLoss
	}
	if trade.TakeProfit == nil {
		result.Adjustments["take_profit"] = takeProfit
	}

	// 8. risk reward
	rr := CalculateRiskRewardRatio(price, stopLoss, takeProfit, direction)
	minRR := rm.dynamicMinRiskRewardLocked()
	result.Adjustments["risk_reward_ratio"] = rr
	result.Adjustments["min_risk_reward_ratio"] = minRR
	if rr < minRR {
		warn(models.RiskModerate, "risk/reward %.2f below minimum %.2f", rr, minRR)
	}

	// 9. max loss per trade
	riskPerUnit := math.Abs(price - stopLoss)
	if riskPerUnit > 0 && riskPerUnit*size/portfolioValue > rm.config.MaxLossPerTrade {
		tightened := rm.config.MaxLossPerTrade * portfolioValue / riskPerUnit
		if _, ok := result.Adjustments["original_size"]; !ok {
			result.Adjustments["original_size"] = size
		}
		result.Adjustments["size"] = tightened
		warn(models.RiskModerate, "position size reduced to %.4f to cap loss at %.2f%% of portfolio", tightened, rm.config.MaxLossPerTrade*100)
		size = tightened
	}

	// 10. sector concentration
	if sector != UnknownSector {
		existing := 0.0
		for _, pos := range rm.positions {
			if pos.Sector == sector {
				existing += pos.Value
			}
		}
		concentration := (existing + size*price) / portfolioValue
		if concentration > rm.config.MaxSectorConcentration {
			reject(models.RiskHigh, "sector %s concentration %.2f%% exceeds limit %.2f%%", sector, concentration*100, rm.config.MaxSectorConcentration*100)
		}
	}

	// 11. overtrading
	if recent := rm.tradesSinceLocked(rm.now().Add(-time.Hour)); recent > rm.config.MaxTradesPerHour {
		warn(models.RiskModerate, "overtrading: %d trades closed in the last hour", recent)
	}

	return result
}

func (rm *RiskManager) protectiveLevels(price float64, direction models.Direction, stop, take *float64) (float64, float64) {
	var stopLoss, takeProfit float64
	if direction == models.DirectionShort {
		stopLoss = price * (1 + rm.config.StopLossPercent)
		takeProfit = price * (1 - rm.config.TakeProfitPercent)
	} else {
		stopLoss = price * (1 - rm.config.StopLossPercent)
		takeProfit = price * (1 + rm.config.TakeProfitPercent)
	}
	if stop != nil {
		stopLoss = *stop
	}
	if take != nil {
		takeProfit = *take
	}
	return stopLoss, takeProfit
}

// CalculatePositionSize returns a quantity that risks at most
// max_loss_per_trade of the portfolio between entry and stop, capped by
// max_position_size (or half-Kelly once enough trades exist) and scaled by
// confidence clamped to [0.25, 1].
func (rm *RiskManager) CalculatePositionSize(entry, stopLoss, portfolioValue, confidence float64) float64 {
	if entry <= 0 || portfolioValue <= 0 {
		return 0
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	confidence = math.Max(0.25, math.Min(1, confidence))

	riskPerUnit := math.Abs(entry - stopLoss)
	if riskPerUnit == 0 || stopLoss <= 0 {
		riskPerUnit = entry * rm.config.StopLossPercent
	}
	quantity := rm.config.MaxLossPerTrade * portfolioValue / riskPerUnit

	capFraction := rm.config.MaxPositionSize
	if kelly, ok := rm.kellyFractionLocked(); ok {
		capFraction = math.Min(capFraction, kelly)
	}
	maxQuantity := capFraction * portfolioValue / entry

	return math.Min(quantity, maxQuantity) * confidence
}

// kellyFractionLocked reports the half-Kelly fraction when Kelly sizing is
// enabled and at least 20 trades exist.
func (rm *RiskManager) kellyFractionLocked() (float64, bool) {
	if !rm.config.EnableKelly || len(rm.tradeHistory) < minTradesForKelly {
		return 0, false
	}
	winRate, avgWin, avgLoss := winLossStats(rm.pnlsLocked())
	if avgLoss == 0 {
		// no losing trades yet, Kelly is unbounded
		return rm.config.MaxPositionSize, true
	}
	return CalculateKellyCriterion(winRate, avgWin, avgLoss, rm.config.MaxPositionSize), true
}

// GetKellyFraction returns the half-Kelly fraction, or 0 when Kelly sizing
// is disabled or fewer than 20 trades exist.
func (rm *RiskManager) GetKellyFraction() float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	k, _ := rm.kellyFractionLocked()
	return k
}

// UpdatePosition records or replaces the open position for its symbol.
func (rm *RiskManager) UpdatePosition(position models.Position) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	position.Sector = normalizeSector(position.Sector)
	if position.Value == 0 {
		position.Value = position.EntryPrice * position.Quantity
	}
	if position.EntryTime.IsZero() {
		position.EntryTime = rm.now()
	}
	rm.positions[position.Symbol] = position
}

// ClosePosition drops the symbol's open position (if any), appends the
// realized PnL to the trade history and re-evaluates the loss breaker.
func (rm *RiskManager) ClosePosition(symbol string, pnl float64) models.TradeRecord {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	record := models.TradeRecord{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		PnL:       pnl,
		Timestamp: rm.now(),
	}
	if pos, ok := rm.positions[symbol]; ok {
		record.Direction = pos.Direction
		record.EntryPrice = pos.EntryPrice
		record.Quantity = pos.Quantity
		delete(rm.positions, symbol)
	}
	rm.recordTradeLocked(record)
	return record
}

// RecordTrade appends an already-built trade record, used when the caller
// owns richer trade details than ClosePosition builds.
func (rm *RiskManager) RecordTrade(record models.TradeRecord) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	delete(rm.positions, record.Symbol)
	if record.Timestamp.IsZero() {
		record.Timestamp = rm.now()
	}
	rm.recordTradeLocked(record)
}

func (rm *RiskManager) recordTradeLocked(record models.TradeRecord) {
	rm.tradeHistory = append(rm.tradeHistory, record)
	rm.dailyPnL += record.PnL
	loss := rm.breaker.Evaluate(rm.dailyPnL, rm.dailyStartValue)

	rm.logger.WithFields(logrus.Fields{
		"symbol":          record.Symbol,
		"pnl":             record.PnL,
		"daily_pnl":       rm.dailyPnL,
		"loss_fraction":   loss,
		"circuit_breaker": rm.breaker.State().String(),
	}).Info("Position closed")
}

// LoadTradeHistory seeds the trade history, e.g. from the trade store on
// startup. It does not touch daily PnL or the breaker.
func (rm *RiskManager) LoadTradeHistory(records []models.TradeRecord) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	sorted := make([]models.TradeRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	rm.tradeHistory = append(sorted, rm.tradeHistory...)
}

// ResetDailyMetrics starts a new trading day at portfolioValue when more
// than 24h have passed since the last reset, clearing a tripped breaker.
// It returns whether a reset happened. Nothing calls it automatically.
func (rm *RiskManager) ResetDailyMetrics(portfolioValue float64) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	now := rm.now()
	if now.Sub(rm.lastReset) <= dailyResetInterval {
		rm.logger.WithFields(logrus.Fields{
			"last_reset":      rm.lastReset,
			"circuit_breaker": rm.breaker.State().String(),
		}).Debug("Daily metrics reset skipped, less than 24h since last reset")
		return false
	}

	rm.dailyPnL = 0
	rm.dailyStartValue = portfolioValue
	rm.lastReset = now
	rm.breaker.Reset()

	rm.logger.WithField("daily_start_value", portfolioValue).Info("Daily risk metrics reset")
	return true
}

// UpdatePrice appends a price observation for volatility and correlation.
func (rm *RiskManager) UpdatePrice(symbol string, ts time.Time, price float64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.prices.Add(symbol, ts, price)
}

// PriceHistory returns the stored prices for symbol, oldest first.
func (rm *RiskManager) PriceHistory(symbol string) []PricePoint {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.prices.Points(symbol)
}

// CalculateVolatilityRisk returns the 0..1 volatility score for symbol.
func (rm *RiskManager) CalculateVolatilityRisk(symbol string) float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.volatilityRiskLocked(symbol)
}

func (rm *RiskManager) volatilityRiskLocked(symbol string) float64 {
	points := rm.prices.Points(symbol)
	if len(points) < 3 {
		return 0.5
	}

	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.Price
	}
	overall := returnsStdDev(simpleReturns(prices))

	if !rm.config.EnableMultiTimeframe {
		return clamp01(overall / volatilityNormalizer)
	}

	latest := points[len(points)-1].Timestamp
	combined := 0.0
	for _, w := range volatilityWindows {
		cutoff := latest.Add(-w.span)
		var window []float64
		for _, p := range points {
			if !p.Timestamp.Before(cutoff) {
				window = append(window, p.Price)
			}
		}
		returns := simpleReturns(window)
		if len(returns) < 2 {
			// a window without enough points degrades to one whole-history window
			return clamp01(overall / volatilityNormalizer)
		}
		combined += w.weight * returnsStdDev(returns)
	}
	return clamp01(combined / volatilityNormalizer)
}

// CalculateCorrelationRisk returns the 0..1 correlation of symbol with the
// open positions.
func (rm *RiskManager) CalculateCorrelationRisk(symbol, sector string) float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.correlationRiskLocked(symbol, normalizeSector(sector))
}

func (rm *RiskManager) correlationRiskLocked(symbol, sector string) float64 {
	if len(rm.positions) == 0 {
		return 0
	}

	if rm.correlationModel != nil && rm.correlationModel.Trained() {
		maxRisk := 0.0
		for _, pos := range rm.positions {
			if pos.Symbol == symbol {
				continue
			}
			pred, err := rm.correlationModel.Predict(rm.correlationFeaturesLocked(symbol, sector, pos.Symbol, pos.Sector))
			if err != nil {
				rm.logger.WithError(err).WithField("symbol", symbol).Warn("Correlation model prediction failed")
				return neutralCorrelation
			}
			maxRisk = math.Max(maxRisk, clamp01(pred))
		}
		return maxRisk
	}

	if rm.prices.Len(symbol) < minPointsForCorrelation {
		for _, pos := range rm.positions {
			if sector != UnknownSector && pos.Sector == sector {
				return sameSectorCorrelation
			}
		}
		return crossSectorCorrelation
	}

	returns := simpleReturns(rm.prices.Prices(symbol))
	maxRisk := 0.0
	for _, pos := range rm.positions {
		if pos.Symbol == symbol {
			continue
		}
		corr := neutralCorrelation
		if rm.prices.Len(pos.Symbol) >= minPointsForCorrelation {
			corr = absPearson(returns, simpleReturns(rm.prices.Prices(pos.Symbol)))
		}
		maxRisk = math.Max(maxRisk, corr)
	}
	return maxRisk
}

// CorrelationFeatures builds the model feature vector for a symbol pair.
// Volume correlation and market-cap ratio have no data source and are fixed.
func (rm *RiskManager) CorrelationFeatures(symbolA, sectorA, symbolB, sectorB string) []float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.correlationFeaturesLocked(symbolA, normalizeSector(sectorA), symbolB, normalizeSector(sectorB))
}

func (rm *RiskManager) correlationFeaturesLocked(symbolA, sectorA, symbolB, sectorB string) []float64 {
	sameSector := 0.0
	if sectorA != UnknownSector && sectorA == sectorB {
		sameSector = 1
	}
	volSimilarity := 1 - math.Abs(rm.volatilityRiskLocked(symbolA)-rm.volatilityRiskLocked(symbolB))

	priceCorr := neutralCorrelation
	if rm.prices.Len(symbolA) >= minPointsForCorrelation && rm.prices.Len(symbolB) >= minPointsForCorrelation {
		priceCorr = absPearson(simpleReturns(rm.prices.Prices(symbolA)), simpleReturns(rm.prices.Prices(symbolB)))
	}

	return []float64{sameSector, volSimilarity, priceCorr, 0.5, 1.0}
}

// AddCorrelationObservation stores one labelled training sample for the
// correlation model.
func (rm *RiskManager) AddCorrelationObservation(features []float64, realizedCorrelation float64) error {
	if len(features) != CorrelationFeatureCount {
		return fmt.Errorf("%w: got %d values, want %d", ErrInvalidFeatures, len(features), CorrelationFeatureCount)
	}
	for _, f := range features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidFeatures)
		}
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	sample := make([]float64, len(features))
	copy(sample, features)
	rm.correlationFeatures = append(rm.correlationFeatures, sample)
	rm.correlationLabels = append(rm.correlationLabels, clamp01(realizedCorrelation))
	return nil
}

// TrainCorrelationModel fits the Ridge correlation model once at least 30
// observations exist. Until it succeeds the heuristics stay in use.
func (rm *RiskManager) TrainCorrelationModel() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if len(rm.correlationFeatures) < minCorrelationTrainingSet {
		return fmt.Errorf("%w: %d correlation observations, need %d",
			ErrInsufficientData, len(rm.correlationFeatures), minCorrelationTrainingSet)
	}

	model := NewRidgeModel(ridgeAlpha)
	if err := model.Fit(rm.correlationFeatures, rm.correlationLabels); err != nil {
		rm.logger.WithError(err).Warn("Correlation model training failed")
		return err
	}
	rm.correlationModel = model

	rm.logger.WithFields(logrus.Fields{
		"samples":      len(rm.correlationFeatures),
		"coefficients": model.Coefficients(),
	}).Info("Correlation model trained")
	return nil
}

// dynamicMinRiskRewardLocked adapts the minimum risk/reward to recent
// performance and market volatility, clamped to [1.5, 3.5].
func (rm *RiskManager) dynamicMinRiskRewardLocked() float64 {
	rr := rm.config.MinRiskRewardRatio
	pnls := rm.pnlsLocked()

	if len(pnls) >= minTradesForKelly {
		winRate, _, _ := winLossStats(pnls)
		switch {
		case winRate > 0.65:
			rr *= 0.9
		case winRate < 0.45:
			rr *= 1.2
		}
	}

	if len(pnls) >= 10 {
		recent := 0.0
		for _, p := range pnls[len(pnls)-10:] {
			recent += p
		}
		if recent < 0 {
			rr *= 1.1
		}
	}

	var volSum float64
	var volCount int
	for _, symbol := range rm.prices.Symbols() {
		returns := simpleReturns(rm.prices.Prices(symbol))
		if len(returns) >= 2 {
			volSum += returnsStdDev(returns)
			volCount++
		}
	}
	if volCount > 0 {
		avg := volSum / float64(volCount)
		switch {
		case avg > highAverageVolatility:
			rr *= 1.15
		case avg < lowAverageVolatility:
			rr *= 0.95
		}
	}

	return math.Max(minDynamicRR, math.Min(maxDynamicRR, rr))
}

// GetDynamicMinRiskReward returns the current adaptive minimum risk/reward.
func (rm *RiskManager) GetDynamicMinRiskReward() float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.dynamicMinRiskRewardLocked()
}

// CalculateVaR returns value at risk over trade PnL at the given confidence
// (0.90, 0.95 or 0.99), or 0 with fewer than 30 trades.
func (rm *RiskManager) CalculateVaR(confidence float64) float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return valueAtRisk(rm.pnlsLocked(), confidence)
}

// GetWinRate is the share of closed trades with positive PnL.
func (rm *RiskManager) GetWinRate() float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	winRate, _, _ := winLossStats(rm.pnlsLocked())
	return winRate
}

// GetExpectancy is the expected PnL per trade.
func (rm *RiskManager) GetExpectancy() float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return expectancy(rm.pnlsLocked())
}

// GetSharpeRatio is the annualized Sharpe ratio of trade PnL.
func (rm *RiskManager) GetSharpeRatio() float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return sharpeRatio(rm.pnlsLocked())
}

func expectancy(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	var wins, losses int
	var winSum, lossSum float64
	for _, p := range pnls {
		if p > 0 {
			wins++
			winSum += p
		} else if p < 0 {
			losses++
			lossSum += -p
		}
	}
	n := float64(len(pnls))
	exp := 0.0
	if wins > 0 {
		exp += float64(wins) / n * (winSum / float64(wins))
	}
	if losses > 0 {
		exp -= float64(losses) / n * (lossSum / float64(losses))
	}
	return exp
}

// CircuitBreakerState returns the daily loss breaker state.
func (rm *RiskManager) CircuitBreakerState() models.CircuitBreakerState {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.breaker.State()
}

// GetPositions returns a copy of the open positions.
func (rm *RiskManager) GetPositions() map[string]models.Position {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	out := make(map[string]models.Position, len(rm.positions))
	for k, v := range rm.positions {
		out[k] = v
	}
	return out
}

// GetTradeHistory returns a copy of the closed trades, oldest first.
func (rm *RiskManager) GetTradeHistory() []models.TradeRecord {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	out := make([]models.TradeRecord, len(rm.tradeHistory))
	copy(out, rm.tradeHistory)
	return out
}

// GetRiskMetrics returns a snapshot of daily and historical risk figures.
func (rm *RiskManager) GetRiskMetrics() models.RiskMetrics {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	pnls := rm.pnlsLocked()
	winRate, _, _ := winLossStats(pnls)
	kelly, _ := rm.kellyFractionLocked()

	drawdown := 0.0
	if rm.dailyStartValue > 0 && rm.dailyPnL < 0 {
		drawdown = -rm.dailyPnL / rm.dailyStartValue
	}

	return models.RiskMetrics{
		DailyPnL:           rm.dailyPnL,
		DailyStartValue:    rm.dailyStartValue,
		DailyDrawdown:      drawdown,
		CircuitBreaker:     rm.breaker.State(),
		OpenPositions:      len(rm.positions),
		TotalTrades:        len(rm.tradeHistory),
		TradesLastHour:     rm.tradesSinceLocked(rm.now().Add(-time.Hour)),
		WinRate:            winRate,
		Expectancy:         expectancy(pnls),
		SharpeRatio:        sharpeRatio(pnls),
		ValueAtRisk95:      valueAtRisk(pnls, 0.95),
		KellyFraction:      kelly,
		MinRiskRewardRatio: rm.dynamicMinRiskRewardLocked(),
		LastReset:          rm.lastReset,
	}
}

func (rm *RiskManager) tradesSinceLocked(cutoff time.Time) int {
	count := 0
	for i := len(rm.tradeHistory) - 1; i >= 0; i-- {
		if rm.tradeHistory[i].Timestamp.Before(cutoff) {
			break
		}
		count++
	}
	return count
}

func (rm *RiskManager) pnlsLocked() []float64 {
	out := make([]float64, len(rm.tradeHistory))
	for i, t := range rm.tradeHistory {
		out[i] = t.PnL
	}
	return out
}

func normalizeSector(sector string) string {
	sector = strings.ToLower(strings.TrimSpace(sector))
	if sector == "" {
		return UnknownSector
	}
	return sector
}
