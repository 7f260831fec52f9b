package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/sentio-go/internal/config"
	"github.com/irfndi/sentio-go/internal/logging"
	"github.com/irfndi/sentio-go/internal/marketdata"
	"github.com/irfndi/sentio-go/internal/middleware"
	"github.com/irfndi/sentio-go/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		LogLevel:    "error",
		Server:      config.ServerConfig{Port: 0},
		MarketData:  config.MarketDataConfig{Symbols: []string{"AAPL"}},
		Risk:        config.DefaultRiskConfig(),
		Voting:      config.DefaultVotingConfig(),
		Engine:      config.DefaultEngineConfig(),
	}
}

func TestNew_WiresEngineWithoutInfrastructure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	provider := marketdata.NewStaticProvider()

	a, err := New(context.Background(), testConfig(), WithProvider(provider), WithLogger(logging.NewDiscardLogger()))
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close(context.Background())) }()

	assert.Same(t, provider, a.Provider)
	assert.Equal(t, models.ModePaper, a.Engine.Mode())
	assert.ElementsMatch(t, []string{"momentum", "mean_reversion", "breakout", "tjr"}, a.Engine.StrategyNames())
	assert.Equal(t, []string{"AAPL"}, a.Symbols())

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"disabled"`)
}

func TestNew_EphemeralSecretSignsTokens(t *testing.T) {
	a, err := New(context.Background(), testConfig(),
		WithProvider(marketdata.NewStaticProvider()), WithLogger(logging.NewDiscardLogger()))
	require.NoError(t, err)

	token, err := a.Auth.GenerateToken("cli", middleware.RoleAdmin, time.Minute)
	require.NoError(t, err)
	claims, err := a.Auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, middleware.RoleAdmin, claims.Role)
}

func TestNew_UnknownStrategy(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.Strategies = []string{"astrology"}

	_, err := New(context.Background(), cfg,
		WithProvider(marketdata.NewStaticProvider()), WithLogger(logging.NewDiscardLogger()))
	assert.Error(t, err)
}

func TestServe_StopsOnCancel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := New(context.Background(), testConfig(),
		WithProvider(marketdata.NewStaticProvider()), WithLogger(logging.NewDiscardLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
