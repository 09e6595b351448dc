package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceManager wraps span creation with message-plane attribute helpers.
type TraceManager struct {
	tracer trace.Tracer
}

// NewTraceManager builds a trace manager on the global tracer provider.
func NewTraceManager(serviceName string) *TraceManager {
	return &TraceManager{tracer: otel.Tracer(serviceName)}
}

// StartSpan starts a span with the given attributes.
func (tm *TraceManager) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

// StartMessageSpan starts a span for processing one message.
func (tm *TraceManager) StartMessageSpan(ctx context.Context, operation, messageID, messageType string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, operation, trace.WithAttributes(
		attribute.String("agentx.message.id", messageID),
		attribute.String("agentx.message.type", messageType),
	))
}

// StartRouteSpan starts a span for routing a message to an agent.
func (tm *TraceManager) StartRouteSpan(ctx context.Context, messageID, agentID, pluginID string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "route_message", trace.WithAttributes(
		attribute.String("agentx.message.id", messageID),
		attribute.String("agentx.agent.id", agentID),
		attribute.String("agentx.plugin.id", pluginID),
	))
}

// StartRPCSpan starts a span for one JSON-RPC method dispatch.
func (tm *TraceManager) StartRPCSpan(ctx context.Context, method string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "rpc_"+method, trace.WithAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", method),
	))
}

// AddTaskAttributes stamps task identity onto a span.
func (tm *TraceManager) AddTaskAttributes(span trace.Span, taskID, kind, state string) {
	span.SetAttributes(
		attribute.String("agentx.task.id", taskID),
		attribute.String("agentx.task.kind", kind),
		attribute.String("agentx.task.state", state),
	)
}

// InjectTraceContext writes the current trace context into a header map.
func (tm *TraceManager) InjectTraceContext(ctx context.Context, headers map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
}

// ExtractTraceContext reads a trace context from a header map.
func (tm *TraceManager) ExtractTraceContext(ctx context.Context, headers map[string]string) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}

// RecordError marks the span failed with the error.
func (tm *TraceManager) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks the span OK.
func (tm *TraceManager) SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
