// Package marketdata supplies OHLCV candles to the trading engine.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/irfndi/sentio-go/internal/models"
)

// ErrNoData is returned when a provider has no candles for a symbol
var ErrNoData = errors.New("no market data")

// Provider returns the most recent candles for a symbol, oldest first.
type Provider interface {
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
}

// FreshProvider is a Provider that can bypass its cache. Stop checks read the
// latest bar through it so a cached bar never hides a touched level.
type FreshProvider interface {
	Provider
	GetFreshCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
}

// Latest fetches candles from p, skipping any cache when p supports it.
func Latest(ctx context.Context, p Provider, symbol, timeframe string, limit int) ([]models.Candle, error) {
	if fp, ok := p.(FreshProvider); ok {
		return fp.GetFreshCandles(ctx, symbol, timeframe, limit)
	}
	return p.GetCandles(ctx, symbol, timeframe, limit)
}

// StaticProvider serves candles held in memory. Backtests move its cursor
// forward so strategies only see bars up to the replay position.
type StaticProvider struct {
	mu      sync.RWMutex
	candles map[string][]models.Candle
	cursor  map[string]int
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		candles: make(map[string][]models.Candle),
		cursor:  make(map[string]int),
	}
}

// SetCandles replaces a symbol's series. The series is sorted by time and the
// cursor is moved to the end.
func (p *StaticProvider) SetCandles(symbol string, candles []models.Candle) {
	sorted := make([]models.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	p.mu.Lock()
	defer p.mu.Unlock()
	key := normalizeSymbol(symbol)
	p.candles[key] = sorted
	p.cursor[key] = len(sorted)
}

// SetCursor limits visible candles to the first n bars.
func (p *StaticProvider) SetCursor(symbol string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := normalizeSymbol(symbol)
	if n < 0 {
		n = 0
	}
	if n > len(p.candles[key]) {
		n = len(p.candles[key])
	}
	p.cursor[key] = n
}

// Symbols lists the symbols with data.
func (p *StaticProvider) Symbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.candles))
	for s := range p.candles {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (p *StaticProvider) GetCandles(_ context.Context, symbol, _ string, limit int) ([]models.Candle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	key := normalizeSymbol(symbol)
	visible := p.candles[key][:p.cursor[key]]
	if len(visible) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoData, symbol)
	}
	if limit > 0 && len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}
	out := make([]models.Candle, len(visible))
	copy(out, visible)
	return out, nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
