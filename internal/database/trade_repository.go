package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/irfndi/sentio-go/internal/models"
)

// ErrMissingID is returned when persisting a record without an id
var ErrMissingID = errors.New("record has no id")

// DatabasePool defines the interface for database pool operations.
// Both *pgxpool.Pool and pgxmock pools satisfy it.
type DatabasePool interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	order_id    TEXT PRIMARY KEY,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	quantity    NUMERIC NOT NULL,
	price       NUMERIC NOT NULL,
	value       NUMERIC NOT NULL,
	stop_loss   DOUBLE PRECISION,
	take_profit DOUBLE PRECISION,
	status      TEXT NOT NULL,
	mode        TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS trades (
	id          TEXT PRIMARY KEY,
	symbol      TEXT NOT NULL,
	direction   TEXT NOT NULL DEFAULT '',
	entry_price DOUBLE PRECISION NOT NULL DEFAULT 0,
	exit_price  DOUBLE PRECISION NOT NULL DEFAULT 0,
	quantity    DOUBLE PRECISION NOT NULL DEFAULT 0,
	pnl         DOUBLE PRECISION NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	strategies  TEXT[] NOT NULL DEFAULT '{}',
	closed_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades (closed_at);`

// TradeRepository persists orders and closed trades.
type TradeRepository struct {
	pool DatabasePool
}

func NewTradeRepository(pool DatabasePool) *TradeRepository {
	return &TradeRepository{pool: pool}
}

// EnsureSchema creates the orders and trades tables when missing.
func (r *TradeRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveOrder upserts an order by id so status changes overwrite it.
func (r *TradeRepository) SaveOrder(ctx context.Context, order models.Order) error {
	if order.OrderID == "" {
		return fmt.Errorf("save order for %s: %w", order.Symbol, ErrMissingID)
	}
	query := `
		INSERT INTO orders (order_id, symbol, side, quantity, price, value, stop_loss, take_profit, status, mode, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (order_id) DO UPDATE SET
			price = EXCLUDED.price,
			value = EXCLUDED.value,
			status = EXCLUDED.status,
			reason = EXCLUDED.reason`

	_, err := r.pool.Exec(ctx, query,
		order.OrderID, order.Symbol, string(order.Side),
		order.Quantity, order.Price, order.Value,
		order.StopLoss, order.TakeProfit,
		string(order.Status), string(order.Mode), order.Reason, order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save order %s: %w", order.OrderID, err)
	}
	return nil
}

// SaveTrade inserts a closed trade. Saving the same id twice is a no-op.
func (r *TradeRepository) SaveTrade(ctx context.Context, trade models.TradeRecord) error {
	if trade.ID == "" {
		return fmt.Errorf("save trade for %s: %w", trade.Symbol, ErrMissingID)
	}
	strategies := trade.Strategies
	if strategies == nil {
		strategies = []string{}
	}
	query := `
		INSERT INTO trades (id, symbol, direction, entry_price, exit_price, quantity, pnl, reason, strategies, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.pool.Exec(ctx, query,
		trade.ID, trade.Symbol, string(trade.Direction),
		trade.EntryPrice, trade.ExitPrice, trade.Quantity, trade.PnL,
		trade.Reason, strategies, trade.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save trade %s: %w", trade.ID, err)
	}
	return nil
}

// ListTrades returns trades closed at or after since, oldest first.
// A zero since lists everything; limit <= 0 means no limit.
func (r *TradeRepository) ListTrades(ctx context.Context, since time.Time, limit int) ([]models.TradeRecord, error) {
	query := `
		SELECT id, symbol, direction, entry_price, exit_price, quantity, pnl, reason, strategies, closed_at
		FROM trades
		WHERE closed_at >= $1
		ORDER BY closed_at ASC`
	args := []interface{}{since}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.TradeRecord
	for rows.Next() {
		var t models.TradeRecord
		var direction string
		if err := rows.Scan(&t.ID, &t.Symbol, &direction, &t.EntryPrice, &t.ExitPrice,
			&t.Quantity, &t.PnL, &t.Reason, &t.Strategies, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Direction = models.Direction(direction)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trades: %w", err)
	}
	return trades, nil
}

// LoadTradeHistory returns every stored trade for warming the risk manager.
func (r *TradeRepository) LoadTradeHistory(ctx context.Context) ([]models.TradeRecord, error) {
	return r.ListTrades(ctx, time.Time{}, 0)
}

// GetOrder fetches one order by id, returning pgx.ErrNoRows when absent.
func (r *TradeRepository) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	query := `
		SELECT order_id, symbol, side, quantity, price, value, stop_loss, take_profit, status, mode, reason, created_at
		FROM orders WHERE order_id = $1`

	var o models.Order
	var side, status, mode string
	var quantity, price, value decimal.Decimal
	err := r.pool.QueryRow(ctx, query, orderID).Scan(
		&o.OrderID, &o.Symbol, &side, &quantity, &price, &value,
		&o.StopLoss, &o.TakeProfit, &status, &mode, &o.Reason, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get order %s: %w", orderID, err)
	}
	o.Side = models.SignalType(side)
	o.Status = models.OrderStatus(status)
	o.Mode = models.TradingMode(mode)
	o.Quantity, o.Price, o.Value = quantity, price, value
	return &o, nil
}
