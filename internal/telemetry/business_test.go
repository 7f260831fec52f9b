package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(previous)
	})
	return exporter
}

func TestNewBusinessTracer(t *testing.T) {
	bt := NewBusinessTracer()
	require.NotNil(t, bt)
	require.NotNil(t, bt.tracer)
	require.NotNil(t, bt.votes)
}

func TestBusinessTracer_RiskAssessmentSpan(t *testing.T) {
	exporter := installRecorder(t)
	bt := NewBusinessTracer()
	ctx := context.Background()

	_, span := bt.TraceRiskAssessment(ctx, "AAPL")
	bt.RecordRiskMetrics(ctx, span, RiskMetrics{Approved: true, RiskLevel: "LOW", Warnings: 1})
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "risk_assessment", spans[0].Name)

	attrs := map[string]interface{}{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "AAPL", attrs["symbol"])
	assert.Equal(t, true, attrs["approved"])
	assert.Equal(t, "LOW", attrs["risk_level"])
}

func TestBusinessTracer_OrderFailureMarksSpan(t *testing.T) {
	exporter := installRecorder(t)
	bt := NewBusinessTracer()
	ctx := context.Background()

	_, span := bt.TraceOrderPlacement(ctx, "AAPL", "BUY", "PAPER")
	bt.RecordOrderResult(ctx, span, "REJECTED", errors.New("insufficient funds"))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "insufficient funds", spans[0].Status.Description)
}

func TestBusinessTracer_NoProviderIsSafe(t *testing.T) {
	bt := NewBusinessTracer()
	ctx := context.Background()

	assert.NotPanics(t, func() {
		_, span := bt.TraceSymbolAnalysis(ctx, "BTC/USDT", 4)
		bt.RecordVotingResult(ctx, span, VotingMetrics{FinalSignal: "BUY", Confidence: 0.8})
		span.End()

		_, span = bt.TraceNotification(ctx, "order_filled", "telegram")
		bt.RecordNotificationResult(ctx, span, "telegram", nil)
		span.End()

		bt.RecordCircuitBreakerTransition(ctx, "NORMAL", "WARNING")
	})
}
