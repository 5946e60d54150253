package observability

import (
	"context"
	"time"

	"github.com/markb/pgcall/internal/pgfunc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// StartCall opens a span for a catalog lookup or function invocation. The
// returned func ends the span and records call metrics; pass it the error
// the operation finished with.
func (t *Telemetry) StartCall(ctx context.Context, op, schema, name string) (context.Context, func(error)) {
	start := time.Now()
	if schema == "" {
		schema = pgfunc.DefaultSchema
	}
	attrs := []attribute.KeyValue{
		AttrDBSystem.String("postgresql"),
		AttrDBOperation.String(op),
		AttrFuncSchema.String(schema),
		AttrFuncName.String(name),
	}

	ctx, span := t.TracerProvider().Tracer("pgcall").Start(ctx, op+" "+schema+"."+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)

	return ctx, func(err error) {
		kind := "ok"
		if err != nil {
			kind = "error"
			if k := pgfunc.KindOf(err); k != 0 {
				kind = k.String()
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(AttrErrorKind.String(kind))
		span.End()

		if m := t.Metrics(); m != nil {
			set := metric.WithAttributes(
				AttrDBOperation.String(op),
				AttrFuncSchema.String(schema),
				AttrFuncName.String(name),
				AttrErrorKind.String(kind),
			)
			m.CallCount.Add(ctx, 1, set)
			m.CallDuration.Record(ctx, float64(time.Since(start).Milliseconds()), set)
		}
	}
}
