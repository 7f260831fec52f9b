package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/sentio-go/internal/middleware"
	"github.com/irfndi/sentio-go/internal/models"
	"github.com/irfndi/sentio-go/internal/services"
	"github.com/irfndi/sentio-go/internal/utils"
)

const defaultOrderLimit = 100

// ExecuteRequest submits a signal for execution. Without a price the symbol
// is analyzed first and the ensemble signal is executed.
type ExecuteRequest struct {
	Symbol     string   `json:"symbol"`
	Signal     string   `json:"signal"`
	Price      float64  `json:"price"`
	Confidence float64  `json:"confidence"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
	Strategy   string   `json:"strategy,omitempty"`
}

// CloseRequest closes a position. Price defaults to the last observed mark.
type CloseRequest struct {
	Price  float64 `json:"price"`
	Reason string  `json:"reason"`
}

type TradingHandler struct {
	engine *services.TradingEngine
	logger *logrus.Logger
}

func NewTradingHandler(engine *services.TradingEngine, logger *logrus.Logger) *TradingHandler {
	return &TradingHandler{engine: engine, logger: logger}
}

// Analyze runs every strategy on the symbol and returns the vote.
func (h *TradingHandler) Analyze(c *gin.Context) {
	symbol := c.Param("symbol")
	middleware.AddSpanAttribute(c, "trading.symbol", symbol)

	analysis, err := h.engine.AnalyzeSymbol(c.Request.Context(), symbol)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

func (h *TradingHandler) LatestSignal(c *gin.Context) {
	result, err := h.engine.LatestSignal(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *TradingHandler) Execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, utils.NewFieldError("body", err.Error()), nil)
		return
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		respondError(c, utils.NewFieldError("symbol", "is required"), nil)
		return
	}

	ctx := c.Request.Context()
	var signal *models.TradingSignal
	if req.Price <= 0 {
		analysis, err := h.engine.AnalyzeSymbol(ctx, req.Symbol)
		if err != nil {
			respondError(c, err, nil)
			return
		}
		signal = analysis.TradeSignal()
	} else {
		signalType := models.ParseSignalType(req.Signal)
		if req.Signal == "" || (signalType == models.SignalHold && !strings.EqualFold(req.Signal, string(models.SignalHold))) {
			respondError(c, utils.NewValidationErrorf("signal: unknown signal type %q", req.Signal), nil)
			return
		}
		if req.Confidence < 0 || req.Confidence > 1 {
			respondError(c, utils.NewFieldError("confidence", "must be between 0 and 1"), nil)
			return
		}
		strategy := req.Strategy
		if strategy == "" {
			strategy = "manual"
		}
		signal = &models.TradingSignal{
			SignalType:   signalType,
			Confidence:   req.Confidence,
			StrategyName: strategy,
			Symbol:       req.Symbol,
			Price:        req.Price,
			StopLoss:     req.StopLoss,
			TakeProfit:   req.TakeProfit,
			Reasoning:    "submitted via api by " + c.GetString(middleware.ContextSubject),
		}
	}

	result, err := h.engine.ExecuteSignal(ctx, signal)
	if err != nil {
		// The risk verdict explains a rejection.
		var details interface{}
		if result != nil {
			details = result
		}
		if errors.Is(err, services.ErrNotDirectional) {
			details = gin.H{"signal": signal.SignalType, "confidence": signal.Confidence}
		}
		respondError(c, err, details)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"symbol":  signal.Symbol,
		"signal":  signal.SignalType,
		"subject": c.GetString(middleware.ContextSubject),
	}).Info("Signal executed via API")
	c.JSON(http.StatusOK, result)
}

func (h *TradingHandler) ClosePosition(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))

	var req CloseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, utils.NewFieldError("body", err.Error()), nil)
			return
		}
	}
	if req.Price <= 0 {
		price, ok := h.engine.LastPrice(symbol)
		if !ok {
			respondError(c, utils.NewFieldError("price", "no mark price known for symbol, pass one explicitly"), nil)
			return
		}
		req.Price = price
	}
	if req.Reason == "" {
		req.Reason = services.ExitManual
	}

	trade, err := h.engine.ClosePosition(c.Request.Context(), symbol, req.Price, req.Reason)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, trade)
}

func (h *TradingHandler) Positions(c *gin.Context) {
	positions := h.engine.GetPositions()
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

// Orders returns the most recent orders, newest last.
func (h *TradingHandler) Orders(c *gin.Context) {
	limit := defaultOrderLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, utils.NewFieldError("limit", "must be a positive integer"), nil)
			return
		}
		limit = n
	}

	orders := h.engine.GetOrders()
	total := len(orders)
	if total > limit {
		orders = orders[total-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders), "total": total})
}

// FillRequest confirms a pending LIVE order
type FillRequest struct {
	Price float64 `json:"price"`
}

// PendingOrders lists LIVE orders awaiting a fill.
func (h *TradingHandler) PendingOrders(c *gin.Context) {
	orders := h.engine.GetPendingOrders()
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

// FillOrder opens the position for a pending order. Without a price the
// order fills at its requested price.
func (h *TradingHandler) FillOrder(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))

	var req FillRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, utils.NewFieldError("body", err.Error()), nil)
			return
		}
	}
	if req.Price < 0 {
		respondError(c, utils.NewFieldError("price", "must not be negative"), nil)
		return
	}

	order, err := h.engine.FillPendingOrder(c.Request.Context(), symbol, req.Price)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *TradingHandler) CancelOrder(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))

	var req CloseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, utils.NewFieldError("body", err.Error()), nil)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = services.ExitManual
	}

	order, err := h.engine.CancelPendingOrder(c.Request.Context(), symbol, req.Reason)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *TradingHandler) Portfolio(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"mode":    h.engine.Mode(),
		"metrics": h.engine.GetPortfolioMetrics(),
		"trades":  h.engine.GetTrades(),
	})
}
