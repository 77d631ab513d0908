package fn

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/WessleyAI/catalog-vectors/pkg/fn"

// Stage transforms In to Out within a context.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// TracedStage runs stage inside a span called name. attrs are set on every
// span; a failed result marks the span as an error.
func TracedStage[In, Out any](name string, stage Stage[In, Out], attrs ...attribute.KeyValue) Stage[In, Out] {
	tracer := otel.Tracer(tracerName)
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
		defer span.End()
		res := stage(ctx, in)
		if err := res.Error(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return res
	}
}
