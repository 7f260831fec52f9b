package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/sentio-go/internal/middleware"
	"github.com/irfndi/sentio-go/internal/models"
	"github.com/irfndi/sentio-go/internal/services"
	"github.com/irfndi/sentio-go/internal/utils"
)

type RiskHandler struct {
	engine *services.TradingEngine
	logger *logrus.Logger
}

func NewRiskHandler(engine *services.TradingEngine, logger *logrus.Logger) *RiskHandler {
	return &RiskHandler{engine: engine, logger: logger}
}

// Assess runs a proposed trade through the risk manager against the
// engine's current portfolio without placing an order.
func (h *RiskHandler) Assess(c *gin.Context) {
	var proposal models.TradeProposal
	if err := c.ShouldBindJSON(&proposal); err != nil {
		respondError(c, utils.NewFieldError("body", err.Error()), nil)
		return
	}
	proposal.Symbol = strings.ToUpper(strings.TrimSpace(proposal.Symbol))
	if proposal.Size <= 0 || proposal.Price <= 0 {
		respondError(c, utils.NewFieldError("size", "size and price must be positive"), nil)
		return
	}
	switch proposal.Direction {
	case "":
		proposal.Direction = models.DirectionLong
	case models.DirectionLong, models.DirectionShort:
	default:
		respondError(c, utils.NewValidationErrorf("direction: must be %q or %q", models.DirectionLong, models.DirectionShort), nil)
		return
	}
	if proposal.Sector == "" {
		proposal.Sector = h.engine.SectorFor(proposal.Symbol)
	}

	metrics := h.engine.GetPortfolioMetrics()
	result := h.engine.Risk().AssessTradeRisk(c.Request.Context(), proposal, metrics.PortfolioValue, metrics.Exposure)
	c.JSON(http.StatusOK, result)
}

func (h *RiskHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Risk().GetRiskMetrics())
}

// ResetDaily starts a new trading day at the current portfolio value.
func (h *RiskHandler) ResetDaily(c *gin.Context) {
	value := h.engine.PortfolioValue()
	reset := h.engine.Risk().ResetDailyMetrics(value)

	h.logger.WithFields(logrus.Fields{
		"subject":         c.GetString(middleware.ContextSubject),
		"portfolio_value": value,
		"reset":           reset,
	}).Info("Daily risk metrics reset requested")

	c.JSON(http.StatusOK, gin.H{
		"reset":   reset,
		"metrics": h.engine.Risk().GetRiskMetrics(),
	})
}
