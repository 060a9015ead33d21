// Package tracing provides OpenTelemetry spans around upstream calls.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// TracerName is the name of the tracer used by this package.
	TracerName = "github.com/erboard/erboard"

	SpanNameFetch   = "erboard.upstream.fetch"
	SpanNameAttempt = "erboard.upstream.attempt"
)

// Attribute keys.
const (
	AttrOperation    = "erboard.operation"
	AttrKeyIndex     = "erboard.key_index"
	AttrAttempts     = "erboard.attempts"
	AttrFallbackUsed = "erboard.fallback_used"
	AttrResultCode   = "erboard.result_code"
	AttrHTTPStatus   = "http.response.status_code"
)

// Tracer wraps the OpenTelemetry tracer with convenience methods.
type Tracer struct {
	tracer  trace.Tracer
	enabled bool
}

// NewTracer creates a Tracer. When enabled is false all spans are noops.
func NewTracer(enabled bool) *Tracer {
	var tracer trace.Tracer
	if enabled {
		tracer = otel.Tracer(TracerName)
	} else {
		tracer = noop.NewTracerProvider().Tracer(TracerName)
	}
	return &Tracer{tracer: tracer, enabled: enabled}
}

// IsEnabled returns whether tracing is enabled.
func (t *Tracer) IsEnabled() bool {
	return t.enabled
}

// StartFetch starts the span covering one failover fetch.
func (t *Tracer) StartFetch(ctx context.Context, operation string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanNameFetch,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String(AttrOperation, operation)),
	)
}

// StartAttempt starts the span for a single credential attempt.
func (t *Tracer) StartAttempt(ctx context.Context, operation string, keyIndex int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanNameAttempt,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(AttrOperation, operation),
			attribute.Int(AttrKeyIndex, keyIndex),
		),
	)
}

// RecordFetchResult annotates a fetch span.
func (t *Tracer) RecordFetchResult(span trace.Span, keyIndex, attempts int, fallback bool) {
	span.SetAttributes(
		attribute.Int(AttrKeyIndex, keyIndex),
		attribute.Int(AttrAttempts, attempts),
		attribute.Bool(AttrFallbackUsed, fallback),
	)
}

// RecordHTTPStatus annotates an attempt span with the upstream status.
func (t *Tracer) RecordHTTPStatus(span trace.Span, status int) {
	span.SetAttributes(attribute.Int(AttrHTTPStatus, status))
}

// RecordResultCode annotates an attempt span with the upstream result code.
func (t *Tracer) RecordResultCode(span trace.Span, code string) {
	span.SetAttributes(attribute.String(AttrResultCode, code))
}

// RecordError marks span as failed.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
