package database

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/irfndi/sentio-go/internal/telemetry"
)

// DefaultSlowQueryThreshold is the duration above which queries are logged
const DefaultSlowQueryThreshold = 500 * time.Millisecond

// TracedPool wraps a DatabasePool with a span per statement and logs slow
// queries.
type TracedPool struct {
	pool      DatabasePool
	tracer    trace.Tracer
	logger    *logrus.Logger
	slowQuery time.Duration
}

func NewTracedPool(pool DatabasePool, logger *logrus.Logger) *TracedPool {
	return &TracedPool{
		pool:      pool,
		tracer:    otel.Tracer(telemetry.InstrumentationName),
		logger:    logger,
		slowQuery: DefaultSlowQueryThreshold,
	}
}

// SetSlowQueryThreshold changes the slow-query log threshold.
func (p *TracedPool) SetSlowQueryThreshold(d time.Duration) { p.slowQuery = d }

func (p *TracedPool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span := p.start(ctx, "query", sql)
	start := time.Now()
	rows, err := p.pool.Query(ctx, sql, args...)
	p.finish(span, "query", sql, start, -1, err)
	return rows, err
}

// QueryRow errors surface on Scan, so the span only records timing.
func (p *TracedPool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, span := p.start(ctx, "query_row", sql)
	start := time.Now()
	row := p.pool.QueryRow(ctx, sql, args...)
	p.finish(span, "query_row", sql, start, -1, nil)
	return row
}

func (p *TracedPool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span := p.start(ctx, "exec", sql)
	start := time.Now()
	tag, err := p.pool.Exec(ctx, sql, args...)
	p.finish(span, "exec", sql, start, tag.RowsAffected(), err)
	return tag, err
}

func (p *TracedPool) start(ctx context.Context, operation, sql string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", operation),
			attribute.String("db.statement", statementSummary(sql)),
		))
}

func (p *TracedPool) finish(span trace.Span, operation, sql string, start time.Time, rows int64, err error) {
	defer span.End()
	duration := time.Since(start)

	if rows >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", rows))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, operation+" failed")
		p.logger.WithFields(logrus.Fields{
			"operation": operation,
			"statement": statementSummary(sql),
			"duration":  duration,
			"error":     err.Error(),
		}).Error("Database statement failed")
		return
	}
	span.SetStatus(codes.Ok, "")

	if p.slowQuery > 0 && duration > p.slowQuery {
		p.logger.WithFields(logrus.Fields{
			"operation": operation,
			"statement": statementSummary(sql),
			"duration":  duration,
		}).Warn("Slow database statement")
	}
}

// statementSummary collapses whitespace and keeps the first 80 characters.
func statementSummary(sql string) string {
	s := strings.Join(strings.Fields(sql), " ")
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
