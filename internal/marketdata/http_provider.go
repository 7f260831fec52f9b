package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/sentio-go/internal/config"
	"github.com/irfndi/sentio-go/internal/models"
)

// ohlcvBar is one bar as returned by the OHLCV service
type ohlcvBar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

type ohlcvResponse struct {
	Exchange  string     `json:"exchange"`
	Symbol    string     `json:"symbol"`
	Timeframe string     `json:"timeframe"`
	OHLCV     []ohlcvBar `json:"ohlcv"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HTTPProvider fetches candles from an OHLCV REST service at
// GET /api/ohlcv/{exchange}/{symbol}?timeframe=&limit=.
type HTTPProvider struct {
	client   *resty.Client
	exchange string
	logger   *logrus.Logger
}

// NewHTTPProvider creates a provider for the configured service.
func NewHTTPProvider(cfg config.MarketDataConfig, logger *logrus.Logger) *HTTPProvider {
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(cfg.ServiceURL, "/"))
	client.SetTimeout(cfg.TimeoutDuration())
	client.SetHeader("Accept", "application/json")
	client.SetHeader("User-Agent", "Sentio-Go/1.0")

	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "binance"
	}

	logger.WithFields(logrus.Fields{
		"service_url": cfg.ServiceURL,
		"exchange":    exchange,
	}).Info("Market data HTTP provider initialized")

	return &HTTPProvider{client: client, exchange: exchange, logger: logger}
}

func (p *HTTPProvider) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	req := p.client.R().
		SetContext(ctx).
		SetResult(&ohlcvResponse{}).
		SetError(&errorResponse{})
	if timeframe != "" {
		req.SetQueryParam("timeframe", timeframe)
	}
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}

	path := fmt.Sprintf("/api/ohlcv/%s/%s", url.PathEscape(p.exchange), url.PathEscape(formatSymbol(p.exchange, symbol)))
	resp, err := req.Get(path)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candles for %s: %w", symbol, err)
	}
	if resp.IsError() {
		msg := resp.String()
		if e, ok := resp.Error().(*errorResponse); ok && e.Error != "" {
			msg = e.Error
		}
		return nil, &StatusError{StatusCode: resp.StatusCode(), Message: msg}
	}

	body, ok := resp.Result().(*ohlcvResponse)
	if !ok || len(body.OHLCV) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoData, symbol)
	}

	candles := make([]models.Candle, len(body.OHLCV))
	for i, bar := range body.OHLCV {
		candles[i] = models.Candle{
			Symbol:    symbol,
			Timestamp: bar.Timestamp,
			Open:      bar.Open.InexactFloat64(),
			High:      bar.High.InexactFloat64(),
			Low:       bar.Low.InexactFloat64(),
			Close:     bar.Close.InexactFloat64(),
			Volume:    bar.Volume.InexactFloat64(),
		}
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Timestamp.Before(candles[j].Timestamp) })

	p.logger.WithFields(logrus.Fields{
		"symbol":    symbol,
		"timeframe": timeframe,
		"candles":   len(candles),
	}).Debug("Fetched candles")
	return candles, nil
}

// StatusError is a non-2xx reply from the OHLCV service
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("market data service error (%d): %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying could help.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// formatSymbol converts BASE/QUOTE symbols to the exchange's path format.
func formatSymbol(exchange, symbol string) string {
	switch strings.ToLower(exchange) {
	case "kraken", "okx":
		return symbol
	case "coinbase", "coinbasepro":
		return strings.ReplaceAll(symbol, "/", "-")
	default:
		return strings.ReplaceAll(symbol, "/", "")
	}
}
