package marketdata

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/sentio-go/internal/cache"
	"github.com/irfndi/sentio-go/internal/models"
)

// CachedProvider reads through a candle cache. Cache failures are logged and
// fall through to the wrapped provider.
type CachedProvider struct {
	next   Provider
	cache  *cache.CandleCache
	logger *logrus.Logger
}

func NewCachedProvider(next Provider, candleCache *cache.CandleCache, logger *logrus.Logger) *CachedProvider {
	return &CachedProvider{next: next, cache: candleCache, logger: logger}
}

func (p *CachedProvider) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	candles, err := p.cache.Get(ctx, symbol, timeframe, limit)
	if err == nil {
		return candles, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		p.logger.WithError(err).WithField("symbol", symbol).Warn("Candle cache unavailable, fetching directly")
	}

	candles, err = p.next.GetCandles(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}
	if err := p.cache.Set(ctx, symbol, timeframe, limit, candles); err != nil {
		p.logger.WithError(err).WithField("symbol", symbol).Warn("Failed to cache candles")
	}
	return candles, nil
}

// GetFreshCandles fetches from the wrapped provider and refreshes the cache
// entry with the result.
func (p *CachedProvider) GetFreshCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	candles, err := p.next.GetCandles(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}
	if err := p.cache.Set(ctx, symbol, timeframe, limit, candles); err != nil {
		p.logger.WithError(err).WithField("symbol", symbol).Warn("Failed to cache candles")
	}
	return candles, nil
}
