// Package backtest replays historical candles through the trading engine.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/irfndi/sentio-go/internal/config"
	"github.com/irfndi/sentio-go/internal/marketdata"
	"github.com/irfndi/sentio-go/internal/models"
	"github.com/irfndi/sentio-go/internal/services"
	"github.com/irfndi/sentio-go/internal/strategies"
)

// ErrNotEnoughCandles is returned when the series is shorter than the warmup
var ErrNotEnoughCandles = errors.New("not enough candles for backtest")

const exitEndOfData = "end_of_data"

// Config controls a single backtest run
type Config struct {
	InitialCapital float64
	Warmup         int // bars before the first decision, defaults to the largest strategy minimum
	Risk           config.RiskConfig
	Voting         config.VotingConfig
	Engine         config.EngineConfig
}

// DefaultConfig returns stock risk, voting and engine settings.
func DefaultConfig() Config {
	engine := config.DefaultEngineConfig()
	return Config{
		InitialCapital: engine.InitialCapital,
		Risk:           config.DefaultRiskConfig(),
		Voting:         config.DefaultVotingConfig(),
		Engine:         engine,
	}
}

// EquityPoint is the portfolio value after a bar
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Result summarizes a backtest
type Result struct {
	Symbol          string               `json:"symbol"`
	Bars            int                  `json:"bars"`
	Start           time.Time            `json:"start"`
	End             time.Time            `json:"end"`
	StartingCapital float64              `json:"starting_capital"`
	FinalValue      float64              `json:"final_value"`
	TotalReturn     float64              `json:"total_return"`
	TotalTrades     int                  `json:"total_trades"`
	WinRate         float64              `json:"win_rate"`
	MaxDrawdown     float64              `json:"max_drawdown"`
	SharpeRatio     float64              `json:"sharpe_ratio"`
	Orders          int                  `json:"orders"`
	Trades          []models.TradeRecord `json:"trades"`
	EquityCurve     []EquityPoint        `json:"equity_curve"`
}

// Backtester walks candles forward one bar at a time through a fresh
// paper-trading engine.
type Backtester struct {
	registry *strategies.Registry
	logger   *logrus.Logger
}

func NewBacktester(registry *strategies.Registry, logger *logrus.Logger) *Backtester {
	return &Backtester{registry: registry, logger: logger}
}

// Run replays candles for symbol. Positions still open after the last bar
// are closed at its close.
func (b *Backtester) Run(ctx context.Context, symbol string, candles []models.Candle, cfg Config) (*Result, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = config.DefaultEngineConfig().InitialCapital
	}
	selected, err := b.registry.Select(cfg.Engine.Strategies)
	if err != nil {
		return nil, fmt.Errorf("failed to select strategies: %w", err)
	}
	warmup := cfg.Warmup
	if warmup <= 0 {
		warmup = strategies.MaxMinCandles(selected)
	}
	if len(candles) < warmup+1 {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughCandles, len(candles), warmup+1)
	}

	bars := make([]models.Candle, len(candles))
	copy(bars, candles)
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	provider := marketdata.NewStaticProvider()
	provider.SetCandles(symbol, bars)

	current := bars[warmup-1].Timestamp
	clock := func() time.Time { return current }

	engineCfg := cfg.Engine
	engineCfg.Mode = string(models.ModePaper)
	engineCfg.InitialCapital = cfg.InitialCapital

	risk := services.NewRiskManager(cfg.Risk, cfg.InitialCapital, b.logger)
	risk.SetClock(clock)
	voting := services.NewStrategyVotingEngine(cfg.Voting, b.logger)
	voting.SetClock(clock)
	engine, err := services.NewTradingEngine(engineCfg, provider, b.registry, voting, risk, b.logger)
	if err != nil {
		return nil, err
	}
	engine.SetClock(clock)

	result := &Result{
		Symbol:          symbol,
		Bars:            len(bars),
		Start:           bars[0].Timestamp,
		End:             bars[len(bars)-1].Timestamp,
		StartingCapital: cfg.InitialCapital,
		EquityCurve:     make([]EquityPoint, 0, len(bars)-warmup+1),
	}

	for i := warmup; i <= len(bars); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current = bars[i-1].Timestamp
		provider.SetCursor(symbol, i)
		engine.RunCycle(ctx, []string{symbol})
		result.EquityCurve = append(result.EquityCurve, EquityPoint{Timestamp: current, Value: engine.PortfolioValue()})
	}

	last := bars[len(bars)-1]
	for _, pos := range engine.GetPositions() {
		if _, err := engine.ClosePosition(ctx, pos.Symbol, last.Close, exitEndOfData); err != nil {
			return nil, fmt.Errorf("failed to close %s at end of data: %w", pos.Symbol, err)
		}
	}

	result.Trades = engine.GetTrades()
	result.Orders = len(engine.GetOrders())
	result.TotalTrades = len(result.Trades)
	result.FinalValue = engine.PortfolioValue()
	result.TotalReturn = (result.FinalValue - cfg.InitialCapital) / cfg.InitialCapital
	result.WinRate = winRate(result.Trades)
	result.MaxDrawdown = maxDrawdown(result.EquityCurve)
	result.SharpeRatio = equitySharpe(result.EquityCurve)

	b.logger.WithFields(logrus.Fields{
		"symbol":       symbol,
		"bars":         result.Bars,
		"trades":       result.TotalTrades,
		"total_return": result.TotalReturn,
		"max_drawdown": result.MaxDrawdown,
		"win_rate":     result.WinRate,
	}).Info("Backtest completed")

	return result, nil
}

func winRate(trades []models.TradeRecord) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

// maxDrawdown is the largest peak-to-trough fall of the equity curve as a
// fraction of the peak.
func maxDrawdown(curve []EquityPoint) float64 {
	peak, worst := 0.0, 0.0
	for _, p := range curve {
		if p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			if dd := (peak - p.Value) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// equitySharpe is the per-bar Sharpe ratio of equity returns, unannualized
// because bar length depends on the timeframe.
func equitySharpe(curve []EquityPoint) float64 {
	if len(curve) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if prev := curve[i-1].Value; prev > 0 {
			returns = append(returns, (curve[i].Value-prev)/prev)
		}
	}
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std
}
