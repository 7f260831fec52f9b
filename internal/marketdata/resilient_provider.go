package marketdata

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/sentio-go/internal/models"
	"github.com/irfndi/sentio-go/internal/resilience"
)

// ResilientProvider retries transient failures of the wrapped provider
// behind a circuit breaker.
type ResilientProvider struct {
	next    Provider
	breaker *resilience.Breaker
	policy  resilience.RetryPolicy
	logger  *logrus.Logger
}

func NewResilientProvider(next Provider, breaker *resilience.Breaker, policy resilience.RetryPolicy, logger *logrus.Logger) *ResilientProvider {
	return &ResilientProvider{next: next, breaker: breaker, policy: policy, logger: logger}
}

func (p *ResilientProvider) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	var candles []models.Candle
	err := resilience.Retry(ctx, p.logger, "market_data:"+symbol, p.policy, func(ctx context.Context) error {
		return p.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			candles, err = p.next.GetCandles(ctx, symbol, timeframe, limit)
			if err != nil && !retryable(err) {
				return resilience.Permanent(err)
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return candles, nil
}

// BreakerStats exposes the breaker for health reporting.
func (p *ResilientProvider) BreakerStats() resilience.BreakerStats {
	return p.breaker.Stats()
}

func retryable(err error) bool {
	if errors.Is(err, ErrNoData) || errors.Is(err, context.Canceled) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Temporary()
	}
	return true
}
