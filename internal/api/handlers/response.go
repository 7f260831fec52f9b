// Package handlers implements the HTTP handlers of the trading API.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/sentio-go/internal/cache"
	"github.com/irfndi/sentio-go/internal/marketdata"
	"github.com/irfndi/sentio-go/internal/middleware"
	"github.com/irfndi/sentio-go/internal/resilience"
	"github.com/irfndi/sentio-go/internal/services"
	"github.com/irfndi/sentio-go/internal/utils"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case utils.IsValidationError(err),
		errors.Is(err, services.ErrInvalidSignal),
		errors.Is(err, services.ErrNotDirectional):
		return http.StatusBadRequest
	case errors.Is(err, marketdata.ErrNoData),
		errors.Is(err, services.ErrNoPosition),
		errors.Is(err, services.ErrNoPendingOrder),
		errors.Is(err, cache.ErrCacheMiss):
		return http.StatusNotFound
	case errors.Is(err, services.ErrPositionExists),
		errors.Is(err, services.ErrMaxPositions):
		return http.StatusConflict
	case errors.Is(err, services.ErrRiskRejected),
		errors.Is(err, services.ErrOrderNotAccepted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error, details interface{}) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		middleware.RecordError(c, err, "request failed")
		_ = c.Error(err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Details: details})
}
