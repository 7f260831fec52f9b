package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/sentio-go/internal/config"
	"github.com/irfndi/sentio-go/internal/models"
)

func newMockRepo(t *testing.T) (*TradeRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewTradeRepository(mock), mock
}

func TestDSN(t *testing.T) {
	cfg := config.DatabaseConfig{Host: "db", Port: 5432, User: "sentio", Password: "pw", DBName: "sentio", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=sentio password=pw dbname=sentio sslmode=disable", DSN(cfg))

	cfg.DatabaseURL = "postgres://u:p@host/db"
	assert.Equal(t, "postgres://u:p@host/db", DSN(cfg))
}

func TestTradeRepository_EnsureSchema(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS orders").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradeRepository_SaveOrder(t *testing.T) {
	repo, mock := newMockRepo(t)
	stop := 98.0
	order := models.Order{
		OrderID:   "ord-1",
		Symbol:    "AAPL",
		Side:      models.SignalBuy,
		Quantity:  decimal.NewFromInt(10),
		Price:     decimal.NewFromInt(100),
		Value:     decimal.NewFromInt(1000),
		StopLoss:  &stop,
		Status:    models.OrderFilled,
		Mode:      models.ModePaper,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec("INSERT INTO orders").
		WithArgs("ord-1", "AAPL", "BUY", order.Quantity, order.Price, order.Value,
			&stop, (*float64)(nil), "FILLED", "PAPER", "", order.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.SaveOrder(context.Background(), order))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradeRepository_SaveOrderRequiresID(t *testing.T) {
	repo, mock := newMockRepo(t)

	err := repo.SaveOrder(context.Background(), models.Order{Symbol: "AAPL", Status: models.OrderRejected})
	assert.ErrorIs(t, err, ErrMissingID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradeRepository_SaveTrade(t *testing.T) {
	repo, mock := newMockRepo(t)
	closed := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	trade := models.TradeRecord{
		ID: "tr-1", Symbol: "AAPL", PnL: 100, Timestamp: closed,
		Direction: models.DirectionLong, EntryPrice: 100, ExitPrice: 110, Quantity: 10,
		Reason: "take_profit",
	}

	mock.ExpectExec("INSERT INTO trades").
		WithArgs("tr-1", "AAPL", "long", 100.0, 110.0, 10.0, 100.0, "take_profit", []string{}, closed).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.SaveTrade(context.Background(), trade))

	mock.ExpectExec("INSERT INTO trades").WillReturnError(errors.New("connection lost"))
	err := repo.SaveTrade(context.Background(), trade)
	assert.ErrorContains(t, err, "failed to save trade tr-1")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradeRepository_ListTrades(t *testing.T) {
	repo, mock := newMockRepo(t)
	ts := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)

	rows := mock.NewRows([]string{"id", "symbol", "direction", "entry_price", "exit_price", "quantity", "pnl", "reason", "strategies", "closed_at"}).
		AddRow("tr-1", "AAPL", "long", 100.0, 110.0, 10.0, 100.0, "take_profit", []string{"momentum"}, ts).
		AddRow("tr-2", "MSFT", "short", 300.0, 306.0, 5.0, -30.0, "stop_loss", []string{"tjr", "breakout"}, ts.Add(time.Hour))
	mock.ExpectQuery("SELECT id, symbol").WithArgs(time.Time{}).WillReturnRows(rows)

	trades, err := repo.LoadTradeHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, models.DirectionShort, trades[1].Direction)
	assert.Equal(t, -30.0, trades[1].PnL)
	assert.Equal(t, []string{"momentum"}, trades[0].Strategies)
	assert.Equal(t, ts, trades[0].Timestamp)

	mock.ExpectQuery("SELECT id, symbol").WithArgs(ts, 10).WillReturnError(errors.New("timeout"))
	_, err = repo.ListTrades(context.Background(), ts, 10)
	assert.ErrorContains(t, err, "failed to query trades")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradeRepository_GetOrderNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("FROM orders WHERE order_id").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
