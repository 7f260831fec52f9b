// Package strategies holds the signal generators that feed the voting engine.
package strategies

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/irfndi/sentio-go/internal/models"
)

// ErrInsufficientCandles is returned when a strategy gets fewer bars than MinCandles
var ErrInsufficientCandles = errors.New("insufficient candles")

// ErrUnknownStrategy is returned when a registry lookup fails
var ErrUnknownStrategy = errors.New("unknown strategy")

// Strategy turns a candle series into a single trading signal
type Strategy interface {
	Name() string
	MinCandles() int
	Analyze(symbol string, candles []models.Candle) (*models.TradingSignal, error)
}

// Registry holds strategies by name
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates a registry holding the given strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// Default returns a registry with every built-in strategy.
func Default() *Registry {
	return NewRegistry(
		NewMomentumStrategy(),
		NewMeanReversionStrategy(),
		NewBreakoutStrategy(),
		NewTJRStrategy(),
	)
}

// Register adds or replaces a strategy.
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get looks up a strategy by name.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

// Names lists registered strategy names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// All returns every registered strategy in name order.
func (r *Registry) All() []Strategy {
	names := r.Names()
	out := make([]Strategy, len(names))
	for i, name := range names {
		out[i] = r.strategies[name]
	}
	return out
}

// Select resolves names to strategies. An empty list selects everything.
func (r *Registry) Select(names []string) ([]Strategy, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		s, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
		}
		out = append(out, s)
	}
	return out, nil
}

// MaxMinCandles is the largest MinCandles over the given strategies.
func MaxMinCandles(strategies []Strategy) int {
	n := 0
	for _, s := range strategies {
		if s.MinCandles() > n {
			n = s.MinCandles()
		}
	}
	return n
}

func checkCandles(s Strategy, candles []models.Candle) error {
	if len(candles) < s.MinCandles() {
		return fmt.Errorf("%w: %s needs %d, got %d", ErrInsufficientCandles, s.Name(), s.MinCandles(), len(candles))
	}
	return nil
}

func newSignal(strategy, symbol string, bar models.Candle, signalType models.SignalType, confidence float64, reasoning string) *models.TradingSignal {
	return &models.TradingSignal{
		SignalType:   signalType,
		Confidence:   math.Max(0, math.Min(1, confidence)),
		StrategyName: strategy,
		Symbol:       symbol,
		Timestamp:    bar.Timestamp,
		Price:        bar.Close,
		Reasoning:    reasoning,
		Metadata:     map[string]interface{}{},
	}
}

func holdSignal(strategy, symbol string, bar models.Candle, reasoning string) *models.TradingSignal {
	return newSignal(strategy, symbol, bar, models.SignalHold, 0.3, reasoning)
}

func withLevels(sig *models.TradingSignal, stopLoss, takeProfit float64) *models.TradingSignal {
	sig.StopLoss = &stopLoss
	sig.TakeProfit = &takeProfit
	return sig
}
