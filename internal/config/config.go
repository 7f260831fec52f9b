package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	MarketData  MarketDataConfig `mapstructure:"market_data"`
	Telegram    TelegramConfig   `mapstructure:"telegram"`
	Security    SecurityConfig   `mapstructure:"security"`
	Telemetry   TelemetryConfig  `mapstructure:"telemetry"`
	Risk        RiskConfig       `mapstructure:"risk"`
	Voting      VotingConfig     `mapstructure:"voting"`
	Engine      EngineConfig     `mapstructure:"engine"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MarketDataConfig points the HTTP candle provider at an OHLCV service
type MarketDataConfig struct {
	ServiceURL string   `mapstructure:"service_url"`
	Exchange   string   `mapstructure:"exchange"`
	Timeframe  string   `mapstructure:"timeframe"`
	Limit      int      `mapstructure:"limit"`
	Timeout    string   `mapstructure:"timeout"`
	MaxRetries int      `mapstructure:"max_retries"`
	CacheTTL   string   `mapstructure:"cache_ttl"`
	Symbols    []string `mapstructure:"symbols"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

type SecurityConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" json:"-" yaml:"-"`
	JWTExpiry string `mapstructure:"jwt_expiry"`
}

type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Exporter       string `mapstructure:"exporter"` // stdout or otlp
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
}

// RiskConfig holds the risk manager limits. Fractions are of portfolio value.
type RiskConfig struct {
	MaxPositionSize            float64 `mapstructure:"max_position_size"`
	MaxPortfolioRisk           float64 `mapstructure:"max_portfolio_risk"`
	MaxDailyDrawdown           float64 `mapstructure:"max_daily_drawdown"`
	StopLossPercent            float64 `mapstructure:"stop_loss_percent"`
	TakeProfitPercent          float64 `mapstructure:"take_profit_percent"`
	MinRiskRewardRatio         float64 `mapstructure:"min_risk_reward_ratio"`
	MaxLossPerTrade            float64 `mapstructure:"max_loss_per_trade"`
	MaxSectorConcentration     float64 `mapstructure:"max_sector_concentration"`
	MaxCorrelation             float64 `mapstructure:"max_correlation"`
	CircuitBreakerThreshold    float64 `mapstructure:"circuit_breaker_threshold"`
	EnableMultiTimeframe       bool    `mapstructure:"enable_multi_timeframe"`
	EnableKelly                bool    `mapstructure:"enable_kelly"`
	MaxTradesPerHour           int     `mapstructure:"max_trades_per_hour"`
	PriceHistorySize           int     `mapstructure:"price_history_size"`
	VolatilityWarningThreshold float64 `mapstructure:"volatility_warning_threshold"`
}

// VotingConfig holds the voting engine thresholds
type VotingConfig struct {
	MinStrategies       int                `mapstructure:"min_strategies"`
	MinSignalConfidence float64            `mapstructure:"min_signal_confidence"`
	ConsensusThreshold  float64            `mapstructure:"consensus_threshold"`
	MinConfidence       float64            `mapstructure:"min_confidence"`
	HoldConfidence      float64            `mapstructure:"hold_confidence"`
	WeightCacheTTL      string             `mapstructure:"weight_cache_ttl"`
	Method              string             `mapstructure:"method"`
	StrategyWeights     map[string]float64 `mapstructure:"strategy_weights"`
}

// EngineConfig holds the trading engine settings
type EngineConfig struct {
	Mode                   string            `mapstructure:"mode"`
	InitialCapital         float64           `mapstructure:"initial_capital"`
	MaxConcurrentPositions int               `mapstructure:"max_concurrent_positions"`
	CycleInterval          string            `mapstructure:"cycle_interval"`
	CandleLimit            int               `mapstructure:"candle_limit"`
	Timeframe              string            `mapstructure:"timeframe"`
	Strategies             []string          `mapstructure:"strategies"`
	Sectors                map[string]string `mapstructure:"sectors"`
}

// DefaultRiskConfig returns the stock risk limits.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxPositionSize:            0.10,
		MaxPortfolioRisk:           0.8,
		MaxDailyDrawdown:           0.03,
		StopLossPercent:            0.02,
		TakeProfitPercent:          0.06,
		MinRiskRewardRatio:         2.0,
		MaxLossPerTrade:            0.02,
		MaxSectorConcentration:     0.3,
		MaxCorrelation:             0.8,
		CircuitBreakerThreshold:    0.05,
		EnableMultiTimeframe:       true,
		EnableKelly:                true,
		MaxTradesPerHour:           10,
		PriceHistorySize:           100,
		VolatilityWarningThreshold: 0.7,
	}
}

// DefaultVotingConfig returns the stock voting thresholds.
func DefaultVotingConfig() VotingConfig {
	return VotingConfig{
		MinStrategies:       2,
		MinSignalConfidence: 0.5,
		ConsensusThreshold:  0.6,
		MinConfidence:       0.65,
		HoldConfidence:      0.4,
		WeightCacheTTL:      "5m",
		Method:              "weighted",
		StrategyWeights:     map[string]float64{},
	}
}

// DefaultEngineConfig returns the stock engine settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Mode:                   "PAPER",
		InitialCapital:         100000,
		MaxConcurrentPositions: 5,
		CycleInterval:          "1m",
		CandleLimit:            200,
		Timeframe:              "1h",
		Strategies:             []string{"momentum", "mean_reversion", "breakout", "tjr"},
		Sectors:                map[string]string{},
	}
}

// CacheTTLDuration parses CacheTTL, falling back to five minutes.
func (m MarketDataConfig) CacheTTLDuration() time.Duration {
	return parseDurationOr(m.CacheTTL, 5*time.Minute)
}

// TimeoutDuration parses Timeout, falling back to fifteen seconds.
func (m MarketDataConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(m.Timeout, 15*time.Second)
}

// WeightCacheDuration parses WeightCacheTTL, falling back to five minutes.
func (v VotingConfig) WeightCacheDuration() time.Duration {
	return parseDurationOr(v.WeightCacheTTL, 5*time.Minute)
}

// CycleDuration parses CycleInterval, falling back to one minute.
func (e EngineConfig) CycleDuration() time.Duration {
	return parseDurationOr(e.CycleInterval, time.Minute)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Load reads configuration from defaults, an optional config.yaml, a .env file
// and SENTIO_ prefixed environment variables, in increasing precedence.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("SENTIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("security.jwt_secret", "SENTIO_SECURITY_JWT_SECRET", "JWT_SECRET"); err != nil {
		return nil, fmt.Errorf("failed to bind JWT_SECRET environment variable: %w", err)
	}
	if err := v.BindEnv("database.database_url", "SENTIO_DATABASE_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind DATABASE_URL environment variable: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Environment = strings.ToLower(config.Environment)
	config.Engine.Mode = strings.ToUpper(config.Engine.Mode)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks cross-field constraints that defaults cannot guarantee.
func (c *Config) Validate() error {
	if c.Environment != "development" && c.Environment != "test" && c.Security.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is required in non-development environments")
	}

	if c.Security.JWTExpiry != "" {
		if _, err := time.ParseDuration(c.Security.JWTExpiry); err != nil {
			return fmt.Errorf("invalid JWT expiry duration: %w", err)
		}
	}

	if c.Engine.Mode != "PAPER" && c.Engine.Mode != "LIVE" {
		return fmt.Errorf("engine mode must be PAPER or LIVE, got %q", c.Engine.Mode)
	}

	if c.Engine.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive, got %v", c.Engine.InitialCapital)
	}

	if c.Risk.MaxPositionSize <= 0 || c.Risk.MaxPositionSize > 1 {
		return fmt.Errorf("max position size must be in (0, 1], got %v", c.Risk.MaxPositionSize)
	}

	if c.Risk.CircuitBreakerThreshold <= 0 {
		return fmt.Errorf("circuit breaker threshold must be positive, got %v", c.Risk.CircuitBreakerThreshold)
	}

	if c.Voting.MinStrategies < 1 {
		return fmt.Errorf("min strategies must be at least 1, got %d", c.Voting.MinStrategies)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	// Environment
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Database
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "sentio")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.database_url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "300s")
	v.SetDefault("database.conn_max_idle_time", "60s")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Market data
	v.SetDefault("market_data.service_url", "http://localhost:3001")
	v.SetDefault("market_data.exchange", "binance")
	v.SetDefault("market_data.timeframe", "1h")
	v.SetDefault("market_data.limit", 200)
	v.SetDefault("market_data.timeout", "15s")
	v.SetDefault("market_data.max_retries", 3)
	v.SetDefault("market_data.cache_ttl", "5m")
	v.SetDefault("market_data.symbols", []string{"BTC/USDT", "ETH/USDT"})

	// Telegram
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)

	// Security
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_expiry", "24h")

	// Telemetry
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.exporter", "stdout")
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "sentio")
	v.SetDefault("telemetry.service_version", "dev")

	// Risk
	risk := DefaultRiskConfig()
	v.SetDefault("risk.max_position_size", risk.MaxPositionSize)
	v.SetDefault("risk.max_portfolio_risk", risk.MaxPortfolioRisk)
	v.SetDefault("risk.max_daily_drawdown", risk.MaxDailyDrawdown)
	v.SetDefault("risk.stop_loss_percent", risk.StopLossPercent)
	v.SetDefault("risk.take_profit_percent", risk.TakeProfitPercent)
	v.SetDefault("risk.min_risk_reward_ratio", risk.MinRiskRewardRatio)
	v.SetDefault("risk.max_loss_per_trade", risk.MaxLossPerTrade)
	v.SetDefault("risk.max_sector_concentration", risk.MaxSectorConcentration)
	v.SetDefault("risk.max_correlation", risk.MaxCorrelation)
	v.SetDefault("risk.circuit_breaker_threshold", risk.CircuitBreakerThreshold)
	v.SetDefault("risk.enable_multi_timeframe", risk.EnableMultiTimeframe)
	v.SetDefault("risk.enable_kelly", risk.EnableKelly)
	v.SetDefault("risk.max_trades_per_hour", risk.MaxTradesPerHour)
	v.SetDefault("risk.price_history_size", risk.PriceHistorySize)
	v.SetDefault("risk.volatility_warning_threshold", risk.VolatilityWarningThreshold)

	// Voting
	voting := DefaultVotingConfig()
	v.SetDefault("voting.min_strategies", voting.MinStrategies)
	v.SetDefault("voting.min_signal_confidence", voting.MinSignalConfidence)
	v.SetDefault("voting.consensus_threshold", voting.ConsensusThreshold)
	v.SetDefault("voting.min_confidence", voting.MinConfidence)
	v.SetDefault("voting.hold_confidence", voting.HoldConfidence)
	v.SetDefault("voting.weight_cache_ttl", voting.WeightCacheTTL)
	v.SetDefault("voting.method", voting.Method)

	// Engine
	engine := DefaultEngineConfig()
	v.SetDefault("engine.mode", engine.Mode)
	v.SetDefault("engine.initial_capital", engine.InitialCapital)
	v.SetDefault("engine.max_concurrent_positions", engine.MaxConcurrentPositions)
	v.SetDefault("engine.cycle_interval", engine.CycleInterval)
	v.SetDefault("engine.candle_limit", engine.CandleLimit)
	v.SetDefault("engine.timeframe", engine.Timeframe)
	v.SetDefault("engine.strategies", engine.Strategies)
}
