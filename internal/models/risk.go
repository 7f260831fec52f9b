package models

import "time"

// RiskLevel grades the outcome of a risk assessment
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskModerate
	RiskHigh
	RiskCritical
)

func (l RiskLevel) String() string {
	switch l {
	case RiskLow:
		return "LOW"
	case RiskModerate:
		return "MODERATE"
	case RiskHigh:
		return "HIGH"
	case RiskCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the level by name in JSON payloads.
func (l RiskLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Escalate returns the more severe of the two levels.
func (l RiskLevel) Escalate(other RiskLevel) RiskLevel {
	if other > l {
		return other
	}
	return l
}

// CircuitBreakerState is the daily-loss guard state
type CircuitBreakerState int

const (
	CircuitNormal CircuitBreakerState = iota
	CircuitWarning
	CircuitTripped
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitNormal:
		return "NORMAL"
	case CircuitWarning:
		return "WARNING"
	case CircuitTripped:
		return "TRIPPED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s CircuitBreakerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Direction is the side of a position
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// DirectionFor maps a directional signal to a position side.
func DirectionFor(signal SignalType) Direction {
	if signal == SignalSell {
		return DirectionShort
	}
	return DirectionLong
}

// TradeProposal is a trade submitted for risk assessment
type TradeProposal struct {
	Symbol     string    `json:"symbol" binding:"required"`
	Direction  Direction `json:"direction"`
	Size       float64   `json:"size" binding:"required"`
	Price      float64   `json:"price" binding:"required"`
	StopLoss   *float64  `json:"stop_loss,omitempty"`
	TakeProfit *float64  `json:"take_profit,omitempty"`
	Sector     string    `json:"sector,omitempty"`
}

// RiskCheckResult is the verdict on a single trade
type RiskCheckResult struct {
	Approved    bool                   `json:"approved"`
	RiskLevel   RiskLevel              `json:"risk_level"`
	Reasons     []string               `json:"reasons"`
	Adjustments map[string]interface{} `json:"adjustments"`
	Warnings    []string               `json:"warnings"`
	Timestamp   time.Time              `json:"timestamp"`
}

// AdjustedSize returns the size after risk adjustments, or fallback if none.
func (r *RiskCheckResult) AdjustedSize(fallback float64) float64 {
	if r == nil || r.Adjustments == nil {
		return fallback
	}
	if v, ok := r.Adjustments["size"].(float64); ok {
		return v
	}
	return fallback
}

// RiskMetrics is a point-in-time summary of the risk manager state
type RiskMetrics struct {
	DailyPnL           float64             `json:"daily_pnl"`
	DailyStartValue    float64             `json:"daily_start_value"`
	DailyDrawdown      float64             `json:"daily_drawdown"`
	CircuitBreaker     CircuitBreakerState `json:"circuit_breaker_state"`
	OpenPositions      int                 `json:"open_positions"`
	TotalTrades        int                 `json:"total_trades"`
	TradesLastHour     int                 `json:"trades_last_hour"`
	WinRate            float64             `json:"win_rate"`
	Expectancy         float64             `json:"expectancy"`
	SharpeRatio        float64             `json:"sharpe_ratio"`
	ValueAtRisk95      float64             `json:"value_at_risk_95"`
	KellyFraction      float64             `json:"kelly_fraction"`
	MinRiskRewardRatio float64             `json:"min_risk_reward_ratio"`
	LastReset          time.Time           `json:"last_reset"`
}
