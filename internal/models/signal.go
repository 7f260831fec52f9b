package models

import (
	"strings"
	"time"
)

// SignalType is the recommendation carried by a trading signal
type SignalType string

const (
	SignalHold  SignalType = "HOLD"
	SignalBuy   SignalType = "BUY"
	SignalSell  SignalType = "SELL"
	SignalClose SignalType = "CLOSE"
)

// SignalTypes lists every signal type in tie-break order: on equal weighted
// scores the earlier entry wins, so ties resolve to HOLD.
var SignalTypes = []SignalType{SignalHold, SignalBuy, SignalSell, SignalClose}

// ParseSignalType converts a case-insensitive string to a SignalType.
// Unknown values map to HOLD.
func ParseSignalType(s string) SignalType {
	switch SignalType(strings.ToUpper(strings.TrimSpace(s))) {
	case SignalBuy:
		return SignalBuy
	case SignalSell:
		return SignalSell
	case SignalClose:
		return SignalClose
	default:
		return SignalHold
	}
}

// IsDirectional reports whether the signal opens a position.
func (s SignalType) IsDirectional() bool {
	return s == SignalBuy || s == SignalSell
}

// TradingSignal is one strategy's recommendation for a symbol
type TradingSignal struct {
	SignalType   SignalType             `json:"signal_type"`
	Confidence   float64                `json:"confidence"` // 0.0 to 1.0
	StrategyName string                 `json:"strategy_name"`
	Symbol       string                 `json:"symbol"`
	Timestamp    time.Time              `json:"timestamp"`
	Price        float64                `json:"price"`
	StopLoss     *float64               `json:"stop_loss,omitempty"`
	TakeProfit   *float64               `json:"take_profit,omitempty"`
	Reasoning    string                 `json:"reasoning"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// VotingResult is the aggregated decision of a voting cycle
type VotingResult struct {
	FinalSignal             SignalType             `json:"final_signal"`
	Confidence              float64                `json:"confidence"`
	ParticipatingStrategies []string               `json:"participating_strategies"`
	VoteBreakdown           map[SignalType]int     `json:"vote_breakdown"`
	WeightedScores          map[SignalType]float64 `json:"weighted_scores"`
	ConsensusStrength       float64                `json:"consensus_strength"`
	Uncertainty             float64                `json:"uncertainty"`
	TopStrategies           []string               `json:"top_strategies"`
	Diagnostics             map[string]interface{} `json:"diagnostics,omitempty"`
	Timestamp               time.Time              `json:"timestamp"`
}

// StrategyPerformance is the historical record used to weight a strategy's vote
type StrategyPerformance struct {
	StrategyName string  `json:"strategy_name"`
	WinRate      float64 `json:"win_rate"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	TotalTrades  int     `json:"total_trades"`
	TotalPnL     float64 `json:"total_pnl"`
}

// MarketRegime is external macro context for the meta-ensemble vote.
// Favored strategies gain weight and disfavored strategies lose it.
type MarketRegime struct {
	Name       string   `json:"name"`
	Favored    []string `json:"favored"`
	Disfavored []string `json:"disfavored"`
}
