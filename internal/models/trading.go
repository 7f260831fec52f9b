package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradingMode selects simulated or broker execution
type TradingMode string

const (
	ModePaper TradingMode = "PAPER"
	ModeLive  TradingMode = "LIVE"
)

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderFilled    OrderStatus = "FILLED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Position is an open position, at most one per symbol
type Position struct {
	Symbol     string    `json:"symbol" db:"symbol"`
	EntryPrice float64   `json:"entry_price" db:"entry_price"`
	Quantity   float64   `json:"quantity" db:"quantity"`
	Value      float64   `json:"value" db:"value"`
	Direction  Direction `json:"direction" db:"direction"`
	StopLoss   float64   `json:"stop_loss" db:"stop_loss"`
	TakeProfit float64   `json:"take_profit" db:"take_profit"`
	EntryTime  time.Time `json:"entry_time" db:"entry_time"`
	Sector     string    `json:"sector" db:"sector"`
	Strategies []string  `json:"strategies,omitempty"`
}

// UnrealizedPnL returns the position profit at the given mark price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	if p.Direction == DirectionShort {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}

// TradeRecord is an entry of the append-only closed-trade log
type TradeRecord struct {
	ID         string    `json:"id" db:"id"`
	Symbol     string    `json:"symbol" db:"symbol"`
	PnL        float64   `json:"pnl" db:"pnl"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
	Direction  Direction `json:"direction,omitempty" db:"direction"`
	EntryPrice float64   `json:"entry_price,omitempty" db:"entry_price"`
	ExitPrice  float64   `json:"exit_price,omitempty" db:"exit_price"`
	Quantity   float64   `json:"quantity,omitempty" db:"quantity"`
	Reason     string    `json:"reason,omitempty" db:"reason"`
	Strategies []string  `json:"strategies,omitempty"`
}

// Order is a request to the execution layer
type Order struct {
	OrderID    string          `json:"order_id,omitempty" db:"order_id"`
	Symbol     string          `json:"symbol" db:"symbol"`
	Side       SignalType      `json:"side" db:"side"`
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"`
	Price      decimal.Decimal `json:"price" db:"price"`
	Value      decimal.Decimal `json:"value" db:"value"`
	StopLoss   *float64        `json:"stop_loss,omitempty" db:"stop_loss"`
	TakeProfit *float64        `json:"take_profit,omitempty" db:"take_profit"`
	Status     OrderStatus     `json:"status" db:"status"`
	Mode       TradingMode     `json:"mode" db:"mode"`
	Reason     string          `json:"reason,omitempty" db:"reason"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// PortfolioMetrics summarizes the engine's portfolio
type PortfolioMetrics struct {
	Cash           float64             `json:"cash"`
	PortfolioValue float64             `json:"portfolio_value"`
	Exposure       float64             `json:"exposure"`
	UnrealizedPnL  float64             `json:"unrealized_pnl"`
	RealizedPnL    float64             `json:"realized_pnl"`
	OpenPositions  int                 `json:"open_positions"`
	PendingOrders  int                 `json:"pending_orders"`
	TotalOrders    int                 `json:"total_orders"`
	TotalTrades    int                 `json:"total_trades"`
	WinRate        float64             `json:"win_rate"`
	Expectancy     float64             `json:"expectancy"`
	SharpeRatio    float64             `json:"sharpe_ratio"`
	ValueAtRisk95  float64             `json:"value_at_risk_95"`
	CircuitBreaker CircuitBreakerState `json:"circuit_breaker_state"`
	Timestamp      time.Time           `json:"timestamp"`
}
