package fn

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/WessleyAI/forumlens/pkg/fn"

// Stage is one step of a pipeline.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// Then runs second on the output of first. A failed first stage is
// returned as is and second never runs.
func Then[A, B, C any](first Stage[A, B], second Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, a A) Result[C] {
		r := first(ctx, a)
		b, err := r.Unwrap()
		if r.IsErr() {
			return Err[C](err)
		}
		return second(ctx, b)
	}
}

// Pipeline runs same-typed stages in order and stops at the first failure.
func Pipeline[T any](stages ...Stage[T, T]) Stage[T, T] {
	return func(ctx context.Context, v T) Result[T] {
		r := Ok(v)
		for _, s := range stages {
			r = s(ctx, v)
			if r.IsErr() {
				return r
			}
			v, _ = r.Unwrap()
		}
		return r
	}
}

// TracedStage runs stage inside a span called name. A failure is recorded
// on the span.
func TracedStage[In, Out any](name string, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := otel.Tracer(tracerName).Start(ctx, name)
		defer span.End()
		r := stage(ctx, in)
		if _, err := r.Unwrap(); r.IsErr() && err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return r
	}
}
