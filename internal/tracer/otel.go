package tracer

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "go-agent-coordinator"

// OTelSink turns every record into a short span.
type OTelSink struct {
	tracer trace.Tracer
}

// NewOTelSink uses tp, or the global provider when tp is nil.
func NewOTelSink(tp trace.TracerProvider) *OTelSink {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &OTelSink{tracer: tp.Tracer(tracerName)}
}

func (s *OTelSink) Record(ctx context.Context, rec Record) {
	attrs := []attribute.KeyValue{
		attribute.String("record.id", rec.ID),
		attribute.String("record.source", rec.Source),
		attribute.String("correlation.id", rec.CorrelationID),
	}
	for k, v := range rec.Payload {
		attrs = append(attrs, attribute.String("payload."+k, fmt.Sprint(v)))
	}
	_, span := s.tracer.Start(ctx, string(rec.Kind),
		trace.WithTimestamp(rec.Time),
		trace.WithAttributes(attrs...),
	)
	if rec.Kind == KindAgentFailed || rec.Kind == KindAggregationTimeout {
		span.SetStatus(codes.Error, fmt.Sprint(rec.Payload["error"]))
	}
	span.End()
}

// NewStdoutProvider returns a provider that writes finished spans to w as
// JSON. Call Shutdown to flush.
func NewStdoutProvider(w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	), nil
}
