package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"
)

// StartForwardSpan starts a producer span for one bridged message.
// destination is omitted when empty.
func StartForwardSpan(ctx context.Context, tracer trace.Tracer, topic, protocol, destination string, size int) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("messaging.destination.name", topic),
		attribute.Int("messaging.message.body.size", size),
		attribute.String("databridge.protocol", protocol),
	}
	if destination != "" {
		attrs = append(attrs, attribute.String("databridge.destination", destination))
	}
	return tracer.Start(ctx, "forward "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attrs...))
}

// EndSpan sets the span status from err and ends it.
func EndSpan(span trace.Span, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// InjectGRPCMetadata writes the trace context of ctx into md.
func InjectGRPCMetadata(ctx context.Context, md metadata.MD) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		md.Set(k, v)
	}
}

// ExtractGRPCMetadata returns ctx carrying the remote span context found
// in md, if any.
func ExtractGRPCMetadata(ctx context.Context, md metadata.MD) context.Context {
	carrier := propagation.MapCarrier{}
	for k, vals := range md {
		if len(vals) > 0 {
			carrier[k] = vals[0]
		}
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
