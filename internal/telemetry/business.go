package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// BusinessTracer traces the trading pipeline and counts its outcomes.
// Spans and counters go to whatever global providers are installed, so a
// zero-config BusinessTracer is a cheap no-op.
type BusinessTracer struct {
	tracer          trace.Tracer
	votes           metric.Int64Counter
	riskAssessments metric.Int64Counter
	orders          metric.Int64Counter
	breakerChanges  metric.Int64Counter
	notifications   metric.Int64Counter
}

// NewBusinessTracer creates a tracer bound to the global otel providers.
func NewBusinessTracer() *BusinessTracer {
	meter := otel.Meter(InstrumentationName)
	bt := &BusinessTracer{tracer: otel.Tracer(InstrumentationName)}

	// counter creation only fails on invalid names, which are constant here
	bt.votes, _ = meter.Int64Counter("sentio.voting.results",
		metric.WithDescription("Voting results by final signal"))
	bt.riskAssessments, _ = meter.Int64Counter("sentio.risk.assessments",
		metric.WithDescription("Risk assessments by outcome"))
	bt.orders, _ = meter.Int64Counter("sentio.orders",
		metric.WithDescription("Orders by status"))
	bt.breakerChanges, _ = meter.Int64Counter("sentio.circuit_breaker.transitions",
		metric.WithDescription("Daily loss circuit breaker transitions"))
	bt.notifications, _ = meter.Int64Counter("sentio.notifications",
		metric.WithDescription("Notification deliveries by channel and result"))

	return bt
}

// TraceSymbolAnalysis starts a span covering strategy evaluation and voting.
func (bt *BusinessTracer) TraceSymbolAnalysis(ctx context.Context, symbol string, strategies int) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "symbol_analysis", trace.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.Int("strategies", strategies),
	))
}

// RecordVotingResult annotates the span and counts the decision.
func (bt *BusinessTracer) RecordVotingResult(ctx context.Context, span trace.Span, metrics VotingMetrics) {
	span.SetAttributes(
		attribute.String("final_signal", metrics.FinalSignal),
		attribute.Float64("confidence", metrics.Confidence),
		attribute.Float64("consensus_strength", metrics.ConsensusStrength),
		attribute.Int("participants", metrics.Participants),
	)
	bt.votes.Add(ctx, 1, metric.WithAttributes(attribute.String("final_signal", metrics.FinalSignal)))
}

// TraceRiskAssessment starts a span for a single trade assessment.
func (bt *BusinessTracer) TraceRiskAssessment(ctx context.Context, symbol string) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "risk_assessment", trace.WithAttributes(
		attribute.String("symbol", symbol),
	))
}

// RecordRiskMetrics annotates the span and counts the outcome.
func (bt *BusinessTracer) RecordRiskMetrics(ctx context.Context, span trace.Span, metrics RiskMetrics) {
	span.SetAttributes(
		attribute.Bool("approved", metrics.Approved),
		attribute.String("risk_level", metrics.RiskLevel),
		attribute.Int("reasons", metrics.Reasons),
		attribute.Int("warnings", metrics.Warnings),
		attribute.Float64("volatility_risk", metrics.VolatilityRisk),
		attribute.Float64("correlation_risk", metrics.CorrelationRisk),
	)
	bt.riskAssessments.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("approved", metrics.Approved),
		attribute.String("risk_level", metrics.RiskLevel),
	))
}

// TraceOrderPlacement starts a span for submitting an order.
func (bt *BusinessTracer) TraceOrderPlacement(ctx context.Context, symbol string, side string, mode string) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "order_placement", trace.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.String("side", side),
		attribute.String("mode", mode),
	))
}

// RecordOrderResult closes out the order span.
func (bt *BusinessTracer) RecordOrderResult(ctx context.Context, span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String("status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	bt.orders.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordCircuitBreakerTransition counts a daily loss breaker state change.
func (bt *BusinessTracer) RecordCircuitBreakerTransition(ctx context.Context, from string, to string) {
	bt.breakerChanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// TraceNotification starts a span for notification delivery.
func (bt *BusinessTracer) TraceNotification(ctx context.Context, notificationType string, channel string) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "notification", trace.WithAttributes(
		attribute.String("notification_type", notificationType),
		attribute.String("channel", channel),
	))
}

// RecordNotificationResult records the outcome of a notification attempt onto a span.
func (bt *BusinessTracer) RecordNotificationResult(ctx context.Context, span trace.Span, channel string, err error) {
	success := err == nil
	span.SetAttributes(attribute.Bool("success", success))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	bt.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.Bool("success", success),
	))
}

// VotingMetrics summarizes a voting result for telemetry
type VotingMetrics struct {
	FinalSignal       string
	Confidence        float64
	ConsensusStrength float64
	Participants      int
}

// RiskMetrics summarizes a risk assessment for telemetry
type RiskMetrics struct {
	Approved        bool
	RiskLevel       string
	Reasons         int
	Warnings        int
	VolatilityRisk  float64
	CorrelationRisk float64
}
