package services

import (
	"sort"
	"sync"

	"github.com/irfndi/sentio-go/internal/models"
)

const defaultMinTradesForPerformance = 5

// StrategyPerformanceTracker attributes closed trade PnL to the strategies
// that voted for the trade. It replaces a process-wide history registry and
// is owned by the trading engine.
type StrategyPerformanceTracker struct {
	minTrades int

	mu   sync.RWMutex
	pnls map[string][]float64
}

// NewStrategyPerformanceTracker reports a strategy once it has at least
// minTrades attributed trades.
func NewStrategyPerformanceTracker(minTrades int) *StrategyPerformanceTracker {
	if minTrades <= 0 {
		minTrades = defaultMinTradesForPerformance
	}
	return &StrategyPerformanceTracker{
		minTrades: minTrades,
		pnls:      make(map[string][]float64),
	}
}

// Record credits pnl to every listed strategy.
func (t *StrategyPerformanceTracker) Record(strategies []string, pnl float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, name := range strategies {
		t.pnls[name] = append(t.pnls[name], pnl)
	}
}

// Load rebuilds the tracker from persisted trade records.
func (t *StrategyPerformanceTracker) Load(records []models.TradeRecord) {
	for _, r := range records {
		t.Record(r.Strategies, r.PnL)
	}
}

// Get returns one strategy's performance regardless of trade count.
func (t *StrategyPerformanceTracker) Get(name string) (models.StrategyPerformance, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pnls, ok := t.pnls[name]
	if !ok {
		return models.StrategyPerformance{}, false
	}
	return summarize(name, pnls), true
}

// Performances returns strategies with enough trades to be trusted by the
// voting engine, keyed by strategy name.
func (t *StrategyPerformanceTracker) Performances() map[string]models.StrategyPerformance {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]models.StrategyPerformance, len(t.pnls))
	for name, pnls := range t.pnls {
		if len(pnls) < t.minTrades {
			continue
		}
		out[name] = summarize(name, pnls)
	}
	return out
}

// All returns every tracked strategy sorted by name.
func (t *StrategyPerformanceTracker) All() []models.StrategyPerformance {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.StrategyPerformance, 0, len(t.pnls))
	for name, pnls := range t.pnls {
		out = append(out, summarize(name, pnls))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyName < out[j].StrategyName })
	return out
}

func summarize(name string, pnls []float64) models.StrategyPerformance {
	winRate, _, _ := winLossStats(pnls)
	total := 0.0
	for _, p := range pnls {
		total += p
	}
	return models.StrategyPerformance{
		StrategyName: name,
		WinRate:      winRate,
		SharpeRatio:  sharpeRatio(pnls),
		TotalTrades:  len(pnls),
		TotalPnL:     total,
	}
}
