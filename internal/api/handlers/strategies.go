package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/sentio-go/internal/models"
	"github.com/irfndi/sentio-go/internal/notification"
	"github.com/irfndi/sentio-go/internal/services"
	"github.com/irfndi/sentio-go/internal/strategies"
)

const defaultStrategyWeight = 1.0

type StrategyInfo struct {
	Name        string                      `json:"name"`
	Label       string                      `json:"label"`
	MinCandles  int                         `json:"min_candles"`
	Active      bool                        `json:"active"`
	Weight      float64                     `json:"weight"`
	Performance *models.StrategyPerformance `json:"performance,omitempty"`
}

type StrategyHandler struct {
	registry *strategies.Registry
	engine   *services.TradingEngine
}

func NewStrategyHandler(registry *strategies.Registry, engine *services.TradingEngine) *StrategyHandler {
	return &StrategyHandler{registry: registry, engine: engine}
}

// List returns every registered strategy, marking the ones the engine runs.
func (h *StrategyHandler) List(c *gin.Context) {
	active := make(map[string]bool)
	for _, name := range h.engine.StrategyNames() {
		active[name] = true
	}
	weights := h.engine.Voting().GetStrategyWeights()

	out := make([]StrategyInfo, 0, len(h.registry.Names()))
	for _, s := range h.registry.All() {
		info := StrategyInfo{
			Name:       s.Name(),
			Label:      notification.StrategyLabel(s.Name()),
			MinCandles: s.MinCandles(),
			Active:     active[s.Name()],
			Weight:     defaultStrategyWeight,
		}
		if w, ok := weights[s.Name()]; ok {
			info.Weight = w
		}
		if perf, ok := h.engine.Performance().Get(s.Name()); ok {
			info.Performance = &perf
		}
		out = append(out, info)
	}

	c.JSON(http.StatusOK, gin.H{
		"strategies":    out,
		"voting_method": h.engine.Voting().Method(),
	})
}
